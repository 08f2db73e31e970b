/*
 * Copyright 2026 The Kriya Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kriya-team/kriya/internal/validation"
	"github.com/kriya-team/kriya/pkg/ot"
)

// Action is the kind of an inbound message.
type Action string

const (
	// JoinDocument attaches the connection to a document.
	JoinDocument Action = "join-document"

	// SendOperation submits an edit of the document.
	SendOperation Action = "operation"

	// UpdateCursor shares the cursor position with the other members.
	UpdateCursor Action = "cursor-update"
)

// OperationType is the type of an edit as clients send it.
type OperationType string

// Below are the operation types accepted from clients.
const (
	InsertOperation  OperationType = "insert"
	DeleteOperation  OperationType = "delete"
	ReplaceOperation OperationType = "replace"
)

// Request is the envelope of an inbound message.
type Request struct {
	Action     Action            `json:"action"`
	DocumentID string            `json:"documentId" validate:"document_id"`
	Mode       Mode              `json:"mode,omitempty" validate:"omitempty,oneof=solo live"`
	Operation  *OperationRequest `json:"operation,omitempty"`
	Cursor     *Cursor           `json:"cursor,omitempty"`
}

// OperationRequest is an edit as clients send it. A replace carries both
// Length and Content.
type OperationRequest struct {
	Type     OperationType `json:"type" validate:"oneof=insert delete replace"`
	Position int           `json:"position"`
	Content  string        `json:"content,omitempty" validate:"required_if=Type insert"`
	Length   int           `json:"length,omitempty" validate:"required_if=Type delete"`
}

// Cursor is a caret position. Lines and columns start at 1.
type Cursor struct {
	Line   int `json:"line" validate:"min=1"`
	Column int `json:"column" validate:"min=1"`
}

// Changes reports whether the request edits the text at all. A replace
// without length and content does not.
func (o *OperationRequest) Changes() bool {
	return len(o.Operations("", time.Time{})) > 0
}

// Operations converts the request into engine operations. Replacements are
// decomposed into a deletion followed by an insertion.
func (o *OperationRequest) Operations(authorID string, issuedAt time.Time) []ot.Operation {
	var ops []ot.Operation
	switch o.Type {
	case InsertOperation:
		ops = []ot.Operation{ot.NewInsert(o.Position, o.Content)}
	case DeleteOperation:
		ops = []ot.Operation{ot.NewDelete(o.Position, abs(o.Length))}
	case ReplaceOperation:
		ops = ot.Decompose(o.Position, abs(o.Length), o.Content)
	}

	for i := range ops {
		ops[i].AuthorID = authorID
		ops[i].IssuedAt = issuedAt
	}
	return ops
}

// requiredFields lists the fields each action cannot do without. A nested
// field is written as "parent.child".
var requiredFields = map[Action][]string{
	JoinDocument:  {"documentId", "mode"},
	SendOperation: {"documentId", "operation", "operation.type"},
	UpdateCursor:  {"documentId", "cursor", "cursor.line", "cursor.column"},
}

// ParseRequest decodes, sanitizes and validates an inbound message. Oversized
// or undecodable messages and messages missing a required field fail with an
// internal status; invalid values fail with an invalid argument status.
func ParseRequest(payload []byte) (*Request, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%d bytes: %w", len(payload), ErrPayloadTooLarge)
	}

	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil || raw == nil {
		return nil, ErrInvalidJSON
	}
	sanitized := Sanitize(raw)

	action, ok := sanitized["action"].(string)
	if !ok {
		return nil, fmt.Errorf("action: %w", ErrMissingField)
	}
	fields, ok := requiredFields[Action(action)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", action, ErrUnknownAction)
	}
	for _, field := range fields {
		if !hasField(sanitized, field) {
			return nil, fmt.Errorf("%s: %w", field, ErrMissingField)
		}
	}

	bytes, err := json.Marshal(sanitized)
	if err != nil {
		return nil, fmt.Errorf("marshal sanitized request: %w", ErrInvalidJSON)
	}
	req := &Request{}
	if err := json.Unmarshal(bytes, req); err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), ErrInvalidRequest)
	}

	if err := validation.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("%s: %w", strings.TrimSpace(err.Error()), ErrInvalidRequest)
	}
	if req.Action == JoinDocument && req.Mode == "" {
		return nil, fmt.Errorf("mode must be one of solo or live: %w", ErrInvalidRequest)
	}
	if req.Action == SendOperation && (req.Operation == nil || !req.Operation.Changes()) {
		return nil, fmt.Errorf("operation changes nothing: %w", ErrInvalidRequest)
	}

	return req, nil
}

func hasField(m map[string]any, path string) bool {
	parent, child, nested := strings.Cut(path, ".")
	value, ok := m[parent]
	if !ok {
		return false
	}
	if !nested {
		return true
	}

	inner, ok := value.(map[string]any)
	if !ok {
		return false
	}
	_, ok = inner[child]
	return ok
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
