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

// Package ot provides the operational transformation of plain text edits.
// Operations are rebased against each other with Transform, applied to a
// text with Apply and squashed with Compose. Every function in this package
// is pure and never fails; malformed operations behave as no-ops.
package ot

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// Kind is the kind of an Operation.
type Kind string

// Below are the kinds of Operation.
const (
	Insert Kind = "insert"
	Delete Kind = "delete"
	Retain Kind = "retain"
)

// Operation is an atomic edit over a text buffer. Position and Length count
// code points, not bytes.
type Operation struct {
	Kind     Kind      `json:"type"`
	Position int       `json:"position"`
	Content  string    `json:"content,omitempty"`
	Length   int       `json:"length,omitempty"`
	AuthorID string    `json:"userId,omitempty"`
	IssuedAt time.Time `json:"-"`
}

// NewInsert creates an insertion of the given content at the given position.
func NewInsert(pos int, content string) Operation {
	return Operation{Kind: Insert, Position: pos, Content: content}
}

// NewDelete creates a deletion of length code points at the given position.
func NewDelete(pos, length int) Operation {
	return Operation{Kind: Delete, Position: pos, Length: length}
}

// Noop returns the zero-length retain.
func Noop() Operation {
	return Operation{Kind: Retain}
}

// IsNoop returns whether applying this operation leaves any text unchanged.
func (o Operation) IsNoop() bool {
	switch o.Kind {
	case Insert:
		return o.Content == ""
	case Delete:
		return o.Length == 0
	default:
		return true
	}
}

// ContentLen returns the number of code points inserted by this operation.
func (o Operation) ContentLen() int {
	if o.Kind != Insert {
		return 0
	}
	return utf8.RuneCountInString(o.Content)
}

// end returns the position right after the range this deletion covers.
func (o Operation) end() int {
	return o.Position + o.Length
}

// String returns a compact representation of this operation. Content is
// never included so it is safe to use in logs.
func (o Operation) String() string {
	switch o.Kind {
	case Insert:
		return fmt.Sprintf("insert(%d,+%d)", o.Position, o.ContentLen())
	case Delete:
		return fmt.Sprintf("delete(%d,-%d)", o.Position, o.Length)
	default:
		return "retain"
	}
}

// Decompose splits a replacement of length code points at pos with content
// into a deletion followed by an insertion. Empty halves are omitted.
func Decompose(pos, length int, content string) []Operation {
	var ops []Operation
	if length > 0 {
		ops = append(ops, NewDelete(pos, length))
	}
	if content != "" {
		ops = append(ops, NewInsert(pos, content))
	}
	return ops
}
