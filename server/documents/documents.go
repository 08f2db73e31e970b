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

// Package documents serializes the writes of documents. Writers of the same
// process queue up on a per-document lock, and writers of other processes
// are detected by the conditional write of the database and retried.
package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kriya-team/kriya/pkg/ot"
	"github.com/kriya-team/kriya/server/backend/database"
	"github.com/kriya-team/kriya/server/backend/sync"
	"github.com/kriya-team/kriya/server/logging"
)

const (
	// DefaultMaxRetries is the number of times a conflicting write is retried.
	DefaultMaxRetries = 5

	// DefaultRetryInterval is the base wait between two attempts. The wait
	// grows linearly with the attempt.
	DefaultRetryInterval = 10 * time.Millisecond
)

// ErrTooManyConflicts is returned when a write kept conflicting with writers
// of other processes.
var ErrTooManyConflicts = fmt.Errorf("too many conflicts: %w", database.ErrConflictOnUpdate)

// Option configures a Store.
type Option func(*Store)

// WithMaxRetries sets the number of times a conflicting write is retried.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		s.maxRetries = n
	}
}

// WithRetryInterval sets the base wait between two attempts.
func WithRetryInterval(interval time.Duration) Option {
	return func(s *Store) {
		s.retryInterval = interval
	}
}

// WithLockerManager shares the given lockers instead of creating new ones.
func WithLockerManager(lockers *sync.LockerManager) Option {
	return func(s *Store) {
		s.lockers = lockers
	}
}

// Store applies operations to documents one writer at a time.
type Store struct {
	db            database.DocumentStore
	lockers       *sync.LockerManager
	maxRetries    int
	retryInterval time.Duration
}

// New creates a new Store over the given document store.
func New(db database.DocumentStore, opts ...Option) *Store {
	s := &Store{
		db:            db,
		maxRetries:    DefaultMaxRetries,
		retryInterval: DefaultRetryInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.lockers == nil {
		s.lockers = sync.New()
	}

	return s
}

// FindDocInfo returns the document of the given id.
func (s *Store) FindDocInfo(ctx context.Context, id string) (*database.DocInfo, error) {
	return s.db.FindDocInfo(ctx, id)
}

// CreateDocInfo creates a new document. An empty language falls back to the
// default language.
func (s *Store) CreateDocInfo(ctx context.Context, id, content, language string) (*database.DocInfo, error) {
	if language == "" {
		language = database.DefaultLanguage
	}
	return s.db.CreateDocInfo(ctx, id, content, language)
}

// ApplyOperation applies the operation to the document. Each successful call
// increases the version of the document by exactly one.
func (s *Store) ApplyOperation(ctx context.Context, id string, op ot.Operation) (*database.DocInfo, error) {
	locker := s.lockers.Locker(sync.DocumentKey(id))
	if err := locker.Lock(ctx); err != nil {
		return nil, fmt.Errorf("lock %s: %w", id, err)
	}
	defer func() {
		if err := locker.Unlock(); err != nil {
			logging.From(ctx).Error(err)
		}
	}()

	for attempt := 0; ; attempt++ {
		info, err := s.db.ApplyOperation(ctx, id, op)
		if err == nil {
			return info, nil
		}
		if !errors.Is(err, database.ErrConflictOnUpdate) {
			return nil, err
		}
		if attempt >= s.maxRetries {
			return nil, fmt.Errorf("apply %s to %s: %w", op, id, ErrTooManyConflicts)
		}

		logging.From(ctx).Debugf("conflict on %s, retry %d", id, attempt+1)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * s.retryInterval):
		}
	}
}

// ApplyOperations applies the operations in order under one lock acquisition
// per operation. It stops at the first failure and returns the last document
// written.
func (s *Store) ApplyOperations(
	ctx context.Context,
	id string,
	ops ...ot.Operation,
) (*database.DocInfo, error) {
	var info *database.DocInfo
	for _, op := range ops {
		applied, err := s.ApplyOperation(ctx, id, op)
		if err != nil {
			return info, err
		}
		info = applied
	}

	return info, nil
}
