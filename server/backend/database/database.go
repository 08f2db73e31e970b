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

// Package database provides the storage interfaces of the Kriya backend: the
// registry of sessions and the store of documents.
package database

import (
	"context"
	gotime "time"

	"github.com/kriya-team/kriya/api/types"
	"github.com/kriya-team/kriya/pkg/errors"
	"github.com/kriya-team/kriya/pkg/ot"
)

const (
	// DefaultLivenessWindow is the time a session stays a member of its
	// document without any activity.
	DefaultLivenessWindow = 24 * gotime.Hour

	// DefaultLanguage is the language of documents created without one.
	DefaultLanguage = "javascript"

	// MaxInsertLength is the maximum number of characters an insertion may
	// add to a document. Longer contents are truncated.
	MaxInsertLength = 10000
)

var (
	// ErrSessionNotFound is returned when the session could not be found.
	ErrSessionNotFound = errors.NotFound("session not found").WithCode("ErrSessionNotFound")

	// ErrDocumentNotFound is returned when the document could not be found.
	ErrDocumentNotFound = errors.NotFound("document not found").WithCode("ErrDocumentNotFound")

	// ErrDocumentAlreadyExists is returned when the document already exists.
	ErrDocumentAlreadyExists = errors.AlreadyExists("document already exists").WithCode("ErrDocumentAlreadyExists")

	// ErrConflictOnUpdate is returned when another writer updated the document
	// between our read and our write.
	ErrConflictOnUpdate = errors.FailedPrecond("conflict on update").WithCode("ErrConflictOnUpdate")
)

// SessionRegistry tracks which connection is attached to which document.
type SessionRegistry interface {
	// UpsertSession creates or refreshes the session of the given connection.
	// An empty userID keeps the user of an existing session.
	UpsertSession(
		ctx context.Context,
		connectionID string,
		userID string,
		documentID string,
		mode types.Mode,
	) (*SessionInfo, error)

	// FindSession returns the session of the given connection.
	FindSession(ctx context.Context, connectionID string) (*SessionInfo, error)

	// FindMembersOf returns the live sessions of the given document that had
	// activity within the liveness window.
	FindMembersOf(ctx context.Context, documentID string) ([]*SessionInfo, error)

	// RemoveSession removes the session of the given connection. Removing an
	// unknown session is not an error.
	RemoveSession(ctx context.Context, connectionID string) error

	// RemoveExpiredSessions removes at most limit sessions that expired
	// before now and returns how many were removed.
	RemoveExpiredSessions(ctx context.Context, now gotime.Time, limit int) (int, error)
}

// DocumentStore persists the content of documents.
type DocumentStore interface {
	// FindDocInfo returns the document of the given id.
	FindDocInfo(ctx context.Context, id string) (*DocInfo, error)

	// CreateDocInfo creates a new document.
	CreateDocInfo(ctx context.Context, id, content, language string) (*DocInfo, error)

	// ApplyOperation applies the operation to the document and increases its
	// version. The write only succeeds if the version read is still current,
	// otherwise ErrConflictOnUpdate is returned. A missing document is
	// created empty first.
	ApplyOperation(ctx context.Context, id string, op ot.Operation) (*DocInfo, error)
}

// Database represents database which reads or saves Kriya data.
type Database interface {
	SessionRegistry
	DocumentStore

	// Close all resources of this database.
	Close() error
}
