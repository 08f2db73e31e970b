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
	"time"

	"github.com/kriya-team/kriya/pkg/errors"
	"github.com/kriya-team/kriya/pkg/ot"
)

// EventType is the type of an outbound event.
type EventType string

// Below are the types of outbound events.
const (
	DocumentContentEvent    EventType = "document-content"
	UserJoinedEvent         EventType = "user-joined"
	UserLeftEvent           EventType = "user-left"
	OperationEvent          EventType = "operation"
	OperationConfirmedEvent EventType = "operation-confirmed"
	CursorUpdateEvent       EventType = "cursor-update"
	ErrorEvent              EventType = "error"
)

// Event is an outbound message. Fields are omitted when unused by the type
// so each type keeps its own wire shape.
type Event struct {
	Type             EventType     `json:"type"`
	Data             any           `json:"data,omitempty"`
	Operation        *ot.Operation `json:"operation,omitempty"`
	UserID           string        `json:"userId,omitempty"`
	Cursor           *Cursor       `json:"cursor,omitempty"`
	Timestamp        int64         `json:"timestamp,omitempty"`
	SourceConnection string        `json:"sourceConnection,omitempty"`
	StatusCode       int           `json:"statusCode,omitempty"`
	Error            string        `json:"error,omitempty"`
	Action           Action        `json:"action,omitempty"`
}

// DocumentContent is the data of a document-content event.
type DocumentContent struct {
	Content      string `json:"content"`
	Version      int64  `json:"version"`
	Language     string `json:"language"`
	LastModified int64  `json:"lastModified"`
}

// UserJoined is the data of a user-joined event.
type UserJoined struct {
	ConnectionID string `json:"connectionId"`
	Timestamp    int64  `json:"timestamp"`
}

// UserLeft is the data of a user-left event.
type UserLeft struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
}

// OperationConfirmed is the data of an operation-confirmed event.
type OperationConfirmed struct {
	Operation ot.Operation `json:"operation"`
	Timestamp int64        `json:"timestamp"`
}

// Millis returns t as milliseconds since the Unix epoch, or 0 for the zero
// time.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// NewDocumentContent creates the event that hands a document to a joiner.
func NewDocumentContent(content DocumentContent) Event {
	return Event{Type: DocumentContentEvent, Data: content}
}

// NewUserJoined creates the event announcing a new member.
func NewUserJoined(connectionID string, at time.Time) Event {
	return Event{
		Type: UserJoinedEvent,
		Data: UserJoined{ConnectionID: connectionID, Timestamp: Millis(at)},
	}
}

// NewUserLeft creates the event announcing a departed member.
func NewUserLeft(userID, connectionID string) Event {
	return Event{
		Type: UserLeftEvent,
		Data: UserLeft{UserID: userID, ConnectionID: connectionID},
	}
}

// NewOperation creates the event relaying an operation to the peers.
func NewOperation(op ot.Operation, source string, at time.Time) Event {
	return Event{
		Type:             OperationEvent,
		Operation:        &op,
		Timestamp:        Millis(at),
		SourceConnection: source,
	}
}

// NewOperationConfirmed creates the event acknowledging an operation to its
// sender.
func NewOperationConfirmed(op ot.Operation, at time.Time) Event {
	return Event{
		Type: OperationConfirmedEvent,
		Data: OperationConfirmed{Operation: op, Timestamp: Millis(at)},
	}
}

// NewCursorUpdate creates the event relaying a cursor to the peers.
func NewCursorUpdate(connectionID string, cursor Cursor, at time.Time) Event {
	return Event{
		Type:      CursorUpdateEvent,
		UserID:    connectionID,
		Cursor:    &cursor,
		Timestamp: Millis(at),
	}
}

// NewError creates the event reporting a failed request. Client errors keep
// their message, server errors are reported generically.
func NewError(err error) Event {
	info := errors.ErrorInfoOf(err)
	message := info.Message
	if !info.Status.IsClientError() {
		message = "Internal server error"
	}

	return Event{
		Type:       ErrorEvent,
		StatusCode: info.HTTPStatus,
		Error:      message,
	}
}

// NewRejection creates an error event for a request of the given action, so
// the client can tell which of its messages was refused.
func NewRejection(action Action, err error) Event {
	e := NewError(err)
	e.Action = action
	return e
}

// ActionOf returns the action named by a raw payload, or an empty action when
// the payload is not a JSON object with a string action.
func ActionOf(payload []byte) Action {
	var head struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return ""
	}
	if _, ok := requiredFields[Action(head.Action)]; !ok {
		return ""
	}
	return Action(head.Action)
}

// Bytes encodes the event as JSON.
func (e Event) Bytes() ([]byte, error) {
	return json.Marshal(e)
}
