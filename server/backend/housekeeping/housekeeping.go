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

package housekeeping

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kriya-team/kriya/server/backend/database"
	"github.com/kriya-team/kriya/server/backend/sync"
	"github.com/kriya-team/kriya/server/logging"
)

const (
	removeExpiredSessionsTask = "removeExpiredSessions"
)

// Housekeeping is the housekeeping service. It periodically removes sessions
// whose liveness window has passed, for stores that do not expire records on
// their own.
type Housekeeping struct {
	sessions database.SessionRegistry
	lockers  *sync.LockerManager

	interval        time.Duration
	candidatesLimit int
	now             func() time.Time

	ctx        context.Context
	cancelFunc context.CancelFunc
	done       chan struct{}
}

// New creates a new housekeeping instance.
func New(
	conf *Config,
	sessions database.SessionRegistry,
	lockers *sync.LockerManager,
) (*Housekeeping, error) {
	interval, err := conf.ParseInterval()
	if err != nil {
		return nil, err
	}

	ctx, cancelFunc := context.WithCancel(context.Background())

	return &Housekeeping{
		sessions: sessions,
		lockers:  lockers,

		interval:        interval,
		candidatesLimit: conf.CandidatesLimit,
		now:             time.Now,

		ctx:        logging.With(ctx, logging.New("HSKP")),
		cancelFunc: cancelFunc,
		done:       make(chan struct{}),
	}, nil
}

// Start starts the housekeeping service.
func (h *Housekeeping) Start() error {
	go h.run()
	return nil
}

// Stop stops the housekeeping service and waits for the running pass.
func (h *Housekeeping) Stop() error {
	h.cancelFunc()
	<-h.done

	return nil
}

// run is the housekeeping loop.
func (h *Housekeeping) run() {
	defer close(h.done)

	for {
		if _, err := h.RemoveExpiredSessions(h.ctx); err != nil && h.ctx.Err() == nil {
			logging.From(h.ctx).Error(err)
		}

		select {
		case <-time.After(h.interval):
		case <-h.ctx.Done():
			return
		}
	}
}

// RemoveExpiredSessions removes the sessions that expired before now. A pass
// that finds another pass running is skipped and returns zero.
func (h *Housekeeping) RemoveExpiredSessions(ctx context.Context) (int, error) {
	start := time.Now()
	locker := h.lockers.Locker(sync.HousekeepingKey(removeExpiredSessionsTask))
	if err := locker.TryLock(); err != nil {
		if errors.Is(err, sync.ErrAlreadyLocked) {
			return 0, nil
		}
		return 0, err
	}
	defer func() {
		if err := locker.Unlock(); err != nil {
			logging.From(ctx).Error(err)
		}
	}()

	removed, err := h.sessions.RemoveExpiredSessions(ctx, h.now(), h.candidatesLimit)
	if err != nil {
		return removed, fmt.Errorf("remove expired sessions: %w", err)
	}

	if removed > 0 {
		logging.From(ctx).Infof(
			"HSKP: removed %d expired sessions, %s",
			removed,
			time.Since(start),
		)
	}

	return removed, nil
}
