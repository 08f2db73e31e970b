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

// Package cmap provides a sharded concurrent map.
package cmap

import (
	"fmt"
	"hash/fnv"
	"sync"
)

const numShards = 32

type shard[K comparable, V any] struct {
	sync.RWMutex
	items map[K]V
}

// Map is a concurrent map split into shards so that unrelated keys do not
// contend on the same lock.
type Map[K comparable, V any] struct {
	shards [numShards]shard[K, V]
}

// New creates a new Map.
func New[K comparable, V any]() *Map[K, V] {
	m := &Map[K, V]{}
	for i := range m.shards {
		m.shards[i].items = make(map[K]V)
	}
	return m
}

func (m *Map[K, V]) shardFor(key K) *shard[K, V] {
	hash := fnv.New32a()
	switch k := any(key).(type) {
	case string:
		_, _ = hash.Write([]byte(k))
	default:
		_, _ = hash.Write([]byte(fmt.Sprintf("%v", k)))
	}
	return &m.shards[hash.Sum32()%numShards]
}

// Set sets the value of the key.
func (m *Map[K, V]) Set(key K, value V) {
	s := m.shardFor(key)
	s.Lock()
	defer s.Unlock()

	s.items[key] = value
}

// GetOrCreate returns the value of the key, creating it with newFunc under the
// shard lock when it is absent. The second result reports whether the value
// was created.
func (m *Map[K, V]) GetOrCreate(key K, newFunc func() V) (V, bool) {
	s := m.shardFor(key)
	s.Lock()
	defer s.Unlock()

	if v, ok := s.items[key]; ok {
		return v, false
	}

	v := newFunc()
	s.items[key] = v
	return v, true
}

// Get returns the value of the key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	s := m.shardFor(key)
	s.RLock()
	defer s.RUnlock()

	v, ok := s.items[key]
	return v, ok
}

// Delete removes the key and returns the value it held.
func (m *Map[K, V]) Delete(key K) (V, bool) {
	s := m.shardFor(key)
	s.Lock()
	defer s.Unlock()

	v, ok := s.items[key]
	if ok {
		delete(s.items, key)
	}
	return v, ok
}

// DeleteIf removes the key only if cond holds for its current value.
func (m *Map[K, V]) DeleteIf(key K, cond func(V) bool) bool {
	s := m.shardFor(key)
	s.Lock()
	defer s.Unlock()

	v, ok := s.items[key]
	if !ok || !cond(v) {
		return false
	}

	delete(s.items, key)
	return true
}

// Len returns the number of keys.
func (m *Map[K, V]) Len() int {
	count := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.RLock()
		count += len(s.items)
		s.RUnlock()
	}
	return count
}

// Keys returns a snapshot of the keys.
func (m *Map[K, V]) Keys() []K {
	var keys []K
	for i := range m.shards {
		s := &m.shards[i]
		s.RLock()
		for k := range s.items {
			keys = append(keys, k)
		}
		s.RUnlock()
	}
	return keys
}

// Values returns a snapshot of the values.
func (m *Map[K, V]) Values() []V {
	var values []V
	for i := range m.shards {
		s := &m.shards[i]
		s.RLock()
		for _, v := range s.items {
			values = append(values, v)
		}
		s.RUnlock()
	}
	return values
}
