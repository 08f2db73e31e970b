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

// Package sync hands out the named locks of a backend. Document writes and
// housekeeping passes are serialized through it within one process.
package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/kriya-team/kriya/pkg/locker"
)

// ErrAlreadyLocked is returned by TryLock when another holder has the key.
var ErrAlreadyLocked = errors.New("already locked")

// Key names a lock. Keys of different namespaces never collide.
type Key string

// NewKey creates a key from a raw name.
func NewKey(name string) Key {
	return Key(name)
}

// DocumentKey returns the key guarding writes of the given document.
func DocumentKey(documentID string) Key {
	return Key(fmt.Sprintf("doc/%s", documentID))
}

// HousekeepingKey returns the key guarding the given housekeeping task.
func HousekeepingKey(task string) Key {
	return Key(fmt.Sprintf("housekeeping/%s", task))
}

func (k Key) String() string {
	return string(k)
}

// Locker is a lock bound to one key.
type Locker interface {
	// Lock blocks until the key is held or ctx is done.
	Lock(ctx context.Context) error

	// TryLock holds the key or returns ErrAlreadyLocked without blocking.
	TryLock() error

	// Unlock releases the key.
	Unlock() error
}

// LockerManager creates Lockers sharing one set of named locks.
type LockerManager struct {
	locks *locker.Locker
}

// New creates a new instance of LockerManager.
func New() *LockerManager {
	return &LockerManager{locks: locker.New()}
}

// Locker returns a Locker bound to the given key. It does not lock.
func (m *LockerManager) Locker(key Key) Locker {
	return keyLocker{name: key.String(), locks: m.locks}
}

// Len returns the number of keys held or waited for.
func (m *LockerManager) Len() int {
	return m.locks.Len()
}

type keyLocker struct {
	name  string
	locks *locker.Locker
}

func (l keyLocker) Lock(ctx context.Context) error {
	return l.locks.Lock(ctx, l.name)
}

func (l keyLocker) TryLock() error {
	if l.locks.TryLock(l.name) {
		return nil
	}
	return fmt.Errorf("%s: %w", l.name, ErrAlreadyLocked)
}

func (l keyLocker) Unlock() error {
	return l.locks.Unlock(l.name)
}
