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

// Package limit provides event timing control components.
package limit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttler lets at most one callback run per window. A callback that arrives
// too early becomes the trailing callback and runs once the window allows it;
// a newer early callback replaces the older one, so the last event is never
// lost and stale ones are dropped.
type Throttler struct {
	lim *rate.Limiter

	mu       sync.Mutex
	trailing func()
	timer    *time.Timer
}

// New creates a Throttler that runs at most one callback per window.
func New(window time.Duration) *Throttler {
	return &Throttler{
		lim: rate.NewLimiter(rate.Every(window), 1),
	}
}

// Run runs the callback immediately if the window allows it and returns true.
// Otherwise it keeps the callback as the trailing one and returns false.
func (t *Throttler) Run(callback func()) bool {
	t.mu.Lock()
	if t.trailing == nil && t.lim.Allow() {
		t.mu.Unlock()
		callback()
		return true
	}

	scheduled := t.trailing != nil
	t.trailing = callback
	if !scheduled {
		t.timer = time.AfterFunc(t.lim.Reserve().Delay(), t.flush)
	}
	t.mu.Unlock()

	return false
}

func (t *Throttler) flush() {
	t.mu.Lock()
	callback := t.trailing
	t.trailing = nil
	t.timer = nil
	t.mu.Unlock()

	if callback != nil {
		callback()
	}
}

// Stop drops the trailing callback, if any.
func (t *Throttler) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.trailing = nil
}
