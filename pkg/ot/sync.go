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

package ot

import (
	"sync"
)

// Sync tracks the local operations of a replica that the server has not
// acknowledged yet, and rebases remote operations over them. The server
// acknowledges operations of a connection in the order they were sent.
type Sync struct {
	mu      sync.Mutex
	pending []Operation
	version int
}

// NewSync creates a new instance of Sync.
func NewSync() *Sync {
	return &Sync{}
}

// Local records an operation applied locally and about to be sent.
func (s *Sync) Local(op Operation) Operation {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, op)
	s.version++
	return op
}

// Receive rebases the remote operation over every pending operation and
// returns the operation to apply to the local text. Pending operations are
// rebased over the remote one in place.
func (s *Sync) Receive(remote Operation) Operation {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, pending := range s.pending {
		s.pending[i], remote = Transform(pending, remote)
	}
	s.version++
	return remote
}

// Confirm drops the oldest pending operation. It returns false if there is
// nothing pending.
func (s *Sync) Confirm() (Operation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return Operation{}, false
	}

	op := s.pending[0]
	s.pending = s.pending[1:]
	return op, true
}

// Drop discards up to n of the oldest pending operations, the ones the server
// refused. It returns how many were discarded.
func (s *Sync) Drop(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n = min(max(n, 0), len(s.pending))
	s.pending = s.pending[n:]
	return n
}

// PendingOps returns a copy of the pending operations, oldest first.
func (s *Sync) PendingOps() []Operation {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Operation(nil), s.pending...)
}

// Pending returns the number of unacknowledged operations.
func (s *Sync) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}

// Version returns the number of operations applied to the replica.
func (s *Sync) Version() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.version
}
