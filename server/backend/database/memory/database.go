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

// Package memory implements the database interface using in-memory database.
package memory

import (
	"context"
	"fmt"
	gotime "time"

	"github.com/hashicorp/go-memdb"

	"github.com/kriya-team/kriya/api/types"
	"github.com/kriya-team/kriya/pkg/ot"
	"github.com/kriya-team/kriya/server/backend/database"
	"github.com/kriya-team/kriya/server/logging"
)

// Option configures the in-memory database.
type Option func(*DB)

// WithLivenessWindow sets the time a session stays a member of its document
// without any activity.
func WithLivenessWindow(window gotime.Duration) Option {
	return func(d *DB) {
		d.window = window
	}
}

// WithClock replaces the clock of the database.
func WithClock(now func() gotime.Time) Option {
	return func(d *DB) {
		d.now = now
	}
}

// WithoutDocumentIndex creates the sessions table without the index on the
// document, which forces lookups of members to scan the whole table.
func WithoutDocumentIndex() Option {
	return func(d *DB) {
		d.documentIndex = false
	}
}

// DB is an in-memory database for testing or temporarily.
type DB struct {
	db            *memdb.MemDB
	window        gotime.Duration
	now           func() gotime.Time
	documentIndex bool
}

// New returns a new in-memory database.
func New(opts ...Option) (*DB, error) {
	d := &DB{
		window:        database.DefaultLivenessWindow,
		now:           gotime.Now,
		documentIndex: true,
	}
	for _, opt := range opts {
		opt(d)
	}

	memDB, err := memdb.NewMemDB(newSchema(d.documentIndex))
	if err != nil {
		return nil, fmt.Errorf("new memdb: %w", err)
	}
	d.db = memDB

	return d, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return nil
}

// UpsertSession creates or refreshes the session of the given connection.
func (d *DB) UpsertSession(
	_ context.Context,
	connectionID string,
	userID string,
	documentID string,
	mode types.Mode,
) (*database.SessionInfo, error) {
	txn := d.db.Txn(true)
	defer txn.Abort()

	now := d.now()
	raw, err := txn.First(tblSessions, idxID, connectionID)
	if err != nil {
		return nil, fmt.Errorf("find session of %s: %w", connectionID, err)
	}

	var info *database.SessionInfo
	if raw == nil {
		info = database.NewSessionInfo(connectionID, userID, documentID, mode, now, d.window)
	} else {
		info = raw.(*database.SessionInfo).DeepCopy()
		info.Refresh(userID, documentID, mode, now, d.window)
	}

	if err := txn.Insert(tblSessions, info); err != nil {
		return nil, fmt.Errorf("upsert session of %s: %w", connectionID, err)
	}
	txn.Commit()

	return info.DeepCopy(), nil
}

// FindSession returns the session of the given connection.
func (d *DB) FindSession(_ context.Context, connectionID string) (*database.SessionInfo, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tblSessions, idxID, connectionID)
	if err != nil {
		return nil, fmt.Errorf("find session of %s: %w", connectionID, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%s: %w", connectionID, database.ErrSessionNotFound)
	}

	return raw.(*database.SessionInfo).DeepCopy(), nil
}

// FindMembersOf returns the live sessions of the given document that had
// activity within the liveness window.
func (d *DB) FindMembersOf(ctx context.Context, documentID string) ([]*database.SessionInfo, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(tblSessions, idxDocumentID, documentID)
	if err != nil {
		logging.From(ctx).Warnf("index %s unavailable, scanning sessions of %s: %v", idxDocumentID, documentID, err)

		iter, err = txn.Get(tblSessions, idxID)
		if err != nil {
			return nil, fmt.Errorf("scan sessions of %s: %w", documentID, err)
		}
	}

	now := d.now()
	var infos []*database.SessionInfo
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		info := raw.(*database.SessionInfo)
		if !info.IsMemberOf(documentID, now, d.window) {
			continue
		}
		infos = append(infos, info.DeepCopy())
	}

	return infos, nil
}

// RemoveSession removes the session of the given connection.
func (d *DB) RemoveSession(_ context.Context, connectionID string) error {
	txn := d.db.Txn(true)
	defer txn.Abort()

	if _, err := txn.DeleteAll(tblSessions, idxID, connectionID); err != nil {
		return fmt.Errorf("remove session of %s: %w", connectionID, err)
	}
	txn.Commit()

	return nil
}

// RemoveExpiredSessions removes at most limit sessions that expired before
// now.
func (d *DB) RemoveExpiredSessions(_ context.Context, now gotime.Time, limit int) (int, error) {
	txn := d.db.Txn(true)
	defer txn.Abort()

	iter, err := txn.Get(tblSessions, idxExpiresAt)
	if err != nil {
		return 0, fmt.Errorf("find expired sessions: %w", err)
	}

	var expired []*database.SessionInfo
	for raw := iter.Next(); raw != nil && len(expired) < limit; raw = iter.Next() {
		info := raw.(*database.SessionInfo)
		if !info.ExpiresAt.Before(now) {
			continue
		}
		expired = append(expired, info)
	}

	for _, info := range expired {
		if err := txn.Delete(tblSessions, info); err != nil {
			return 0, fmt.Errorf("remove expired session of %s: %w", info.ConnectionID, err)
		}
	}
	txn.Commit()

	return len(expired), nil
}

// FindDocInfo returns the document of the given id.
func (d *DB) FindDocInfo(_ context.Context, id string) (*database.DocInfo, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tblDocuments, idxID, id)
	if err != nil {
		return nil, fmt.Errorf("find document of %s: %w", id, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%s: %w", id, database.ErrDocumentNotFound)
	}

	return raw.(*database.DocInfo).DeepCopy(), nil
}

// CreateDocInfo creates a new document.
func (d *DB) CreateDocInfo(_ context.Context, id, content, language string) (*database.DocInfo, error) {
	txn := d.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tblDocuments, idxID, id)
	if err != nil {
		return nil, fmt.Errorf("find document of %s: %w", id, err)
	}
	if raw != nil {
		return nil, fmt.Errorf("%s: %w", id, database.ErrDocumentAlreadyExists)
	}

	info := database.NewDocInfo(id, content, language, d.now())
	if err := txn.Insert(tblDocuments, info); err != nil {
		return nil, fmt.Errorf("create document of %s: %w", id, err)
	}
	txn.Commit()

	return info.DeepCopy(), nil
}

// ApplyOperation applies the operation to the document. Write transactions
// of memdb are serialized, so the version read is always current.
func (d *DB) ApplyOperation(_ context.Context, id string, op ot.Operation) (*database.DocInfo, error) {
	txn := d.db.Txn(true)
	defer txn.Abort()

	now := d.now()
	raw, err := txn.First(tblDocuments, idxID, id)
	if err != nil {
		return nil, fmt.Errorf("find document of %s: %w", id, err)
	}

	var info *database.DocInfo
	if raw == nil {
		info = database.NewDocInfo(id, "", "", now)
	} else {
		info = raw.(*database.DocInfo).DeepCopy()
	}
	info.ApplyOperation(op, now)

	if err := txn.Insert(tblDocuments, info); err != nil {
		return nil, fmt.Errorf("update document of %s: %w", id, err)
	}
	txn.Commit()

	return info.DeepCopy(), nil
}
