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

// Package background tracks the goroutines started by the backend so that
// closing the backend waits for them.
package background

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/kriya-team/kriya/server/logging"
	"github.com/kriya-team/kriya/server/profiling/prometheus"
)

type routineID int32

func (c *routineID) next() string {
	next := atomic.AddInt32((*int32)(c), 1)
	return "b" + strconv.Itoa(int(next))
}

// Background manages the goroutines of the backend. Every goroutine receives
// a context that is canceled when the backend closes.
type Background struct {
	ctx    context.Context
	cancel context.CancelFunc

	// mu blocks new goroutines while closing.
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	routineID routineID
	metrics   *prometheus.Metrics
}

// New creates a new background service. metrics may be nil.
func New(metrics *prometheus.Metrics) *Background {
	ctx, cancel := context.WithCancel(context.Background())
	return &Background{
		ctx:     ctx,
		cancel:  cancel,
		metrics: metrics,
	}
}

// AttachGoroutine runs f in a new goroutine tracked by this service. The
// context given to f carries a logger named after the routine.
func (b *Background) AttachGoroutine(f func(ctx context.Context), taskType string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		logging.DefaultLogger().Warnf("backend has closed; skipping %s", taskType)
		return
	}

	b.wg.Add(1)
	routineLogger := logging.New(b.routineID.next(), logging.NewField("task", taskType))
	if b.metrics != nil {
		b.metrics.AddBackgroundGoroutines(taskType)
	}
	go func() {
		defer func() {
			b.wg.Done()
			if b.metrics != nil {
				b.metrics.RemoveBackgroundGoroutines(taskType)
			}
		}()
		f(logging.With(b.ctx, routineLogger))
	}()
}

// Close cancels the context of every goroutine and waits for them to exit.
func (b *Background) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
}
