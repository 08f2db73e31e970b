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

package database

import (
	"time"

	"github.com/kriya-team/kriya/api/types"
)

// SessionInfo is a structure representing information of the session of a
// connection.
type SessionInfo struct {
	// ConnectionID is the ID of the connection that owns this session.
	ConnectionID string `bson:"_id"`

	// UserID is the pre-validated identity of the user of the connection.
	UserID string `bson:"user_id"`

	// DocumentID is the ID of the document the connection joined. It is
	// empty until the connection joins a document.
	DocumentID string `bson:"document_id"`

	// Mode is the collaboration mode of the session.
	Mode types.Mode `bson:"mode"`

	// JoinedAt is the time when the connection joined the document.
	JoinedAt time.Time `bson:"joined_at"`

	// LastActivityAt is the time of the last upsert of this session.
	LastActivityAt time.Time `bson:"last_activity_at"`

	// ExpiresAt is the time after which the session may be swept.
	ExpiresAt time.Time `bson:"expires_at"`
}

// NewSessionInfo creates a new session. The user falls back to the
// connection when it is empty.
func NewSessionInfo(
	connectionID, userID, documentID string,
	mode types.Mode,
	now time.Time,
	window time.Duration,
) *SessionInfo {
	if userID == "" {
		userID = connectionID
	}

	return &SessionInfo{
		ConnectionID:   connectionID,
		UserID:         userID,
		DocumentID:     documentID,
		Mode:           mode,
		JoinedAt:       now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(window),
	}
}

// Refresh updates the session with a new join. JoinedAt only moves when the
// document changes.
func (i *SessionInfo) Refresh(
	userID, documentID string,
	mode types.Mode,
	now time.Time,
	window time.Duration,
) {
	if userID != "" {
		i.UserID = userID
	}
	if i.DocumentID != documentID {
		i.JoinedAt = now
	}

	i.DocumentID = documentID
	i.Mode = mode
	i.LastActivityAt = now
	i.ExpiresAt = now.Add(window)
}

// IsMemberOf returns whether the session is a live member of the given
// document at now.
func (i *SessionInfo) IsMemberOf(documentID string, now time.Time, window time.Duration) bool {
	return i.DocumentID == documentID && i.Mode.IsLive() && i.IsActive(now, window)
}

// IsActive returns whether the session had activity within the window.
func (i *SessionInfo) IsActive(now time.Time, window time.Duration) bool {
	return i.LastActivityAt.After(now.Add(-window))
}

// DeepCopy creates a deep copy of this SessionInfo.
func (i *SessionInfo) DeepCopy() *SessionInfo {
	if i == nil {
		return nil
	}

	clone := *i
	return &clone
}
