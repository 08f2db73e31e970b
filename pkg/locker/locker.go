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

// Package locker provides named mutexes. A lock is created on first use and
// dropped once nobody holds or waits for it, so the set of locks follows the
// set of documents being edited.
package locker

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNoSuchLock is returned when unlocking a name that is not locked.
	ErrNoSuchLock = errors.New("no such lock")
)

type entry struct {
	// sem holds a token while the lock is held.
	sem chan struct{}

	// refs counts the holder and the waiters. It is guarded by Locker.mu.
	refs int
}

// Locker hands out mutexes by name.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// New creates a new Locker.
func New() *Locker {
	return &Locker{
		locks: make(map[string]*entry),
	}
}

func (l *Locker) ref(name string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.locks[name]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.locks[name] = e
	}
	e.refs++
	return e
}

func (l *Locker) unref(name string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.locks, name)
	}
}

// Lock blocks until the lock of the given name is acquired or ctx is done.
func (l *Locker) Lock(ctx context.Context, name string) error {
	e := l.ref(name)

	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.unref(name, e)
		return ctx.Err()
	}
}

// TryLock acquires the lock of the given name if it is free.
func (l *Locker) TryLock(name string) bool {
	e := l.ref(name)

	select {
	case e.sem <- struct{}{}:
		return true
	default:
		l.unref(name, e)
		return false
	}
}

// Unlock releases the lock of the given name.
func (l *Locker) Unlock(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.locks[name]
	if !ok {
		return ErrNoSuchLock
	}

	select {
	case <-e.sem:
	default:
		return ErrNoSuchLock
	}

	e.refs--
	if e.refs == 0 {
		delete(l.locks, name)
	}
	return nil
}

// Len returns the number of names that are held or waited for.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.locks)
}
