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

// Package broadcast delivers one message to many connections. A slow or dead
// connection never holds back the others, and a connection reported as gone
// loses its session.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	pkgerrors "github.com/kriya-team/kriya/pkg/errors"
	"github.com/kriya-team/kriya/server/backend/database"
	"github.com/kriya-team/kriya/server/logging"
	"github.com/kriya-team/kriya/server/profiling/prometheus"
)

const (
	// DefaultTimeout is the time one delivery attempt may take.
	DefaultTimeout = 5 * time.Second

	// DefaultPageSize is the number of connections delivered to at once.
	DefaultPageSize = 50
)

var (
	// ErrConnectionGone is returned by a Sender when the connection does not
	// exist anymore.
	ErrConnectionGone = pkgerrors.NotFound("connection gone").WithCode("ErrConnectionGone")

	// ErrDeliveryTimeout is reported when a delivery attempt exceeds the timeout.
	ErrDeliveryTimeout = pkgerrors.Unavailable("delivery timed out").WithCode("ErrDeliveryTimeout")
)

// Sender sends a payload to a single connection.
type Sender interface {
	// Send sends the payload to the connection. An error wrapping
	// ErrConnectionGone means the connection will never be reachable again.
	Send(ctx context.Context, connectionID string, payload []byte) error
}

// SenderFunc adapts a function to a Sender.
type SenderFunc func(ctx context.Context, connectionID string, payload []byte) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, connectionID string, payload []byte) error {
	return f(ctx, connectionID, payload)
}

// Result counts the outcome of a broadcast. Gone connections are counted as
// failures too.
type Result struct {
	Success int
	Failure int
	Gone    int
}

// Total returns the number of connections attempted.
func (r Result) Total() int {
	return r.Success + r.Failure
}

// Config is the configuration of a Broadcaster.
type Config struct {
	// Timeout is the time one delivery attempt may take.
	Timeout time.Duration

	// PageSize is the number of connections delivered to at once.
	PageSize int

	// MaxConcurrency bounds the attempts in flight across every broadcast of
	// the process. Zero means unbounded.
	MaxConcurrency int64

	// Reclaim is called with the connections reported as gone once every
	// attempt of a broadcast is over. Nil removes their sessions.
	Reclaim ReclaimFunc
}

// ReclaimFunc releases what is held for connections that are gone.
type ReclaimFunc func(ctx context.Context, connectionIDs []string)

// Broadcaster delivers messages to connections through a Sender.
type Broadcaster struct {
	sender   Sender
	sessions database.SessionRegistry
	metrics  *prometheus.Metrics

	timeout  time.Duration
	pageSize int
	inflight *semaphore.Weighted
	reclaim  ReclaimFunc
}

// New creates a new Broadcaster. sessions and metrics may be nil.
func New(
	conf Config,
	sender Sender,
	sessions database.SessionRegistry,
	metrics *prometheus.Metrics,
) *Broadcaster {
	if conf.Timeout <= 0 {
		conf.Timeout = DefaultTimeout
	}
	if conf.PageSize <= 0 {
		conf.PageSize = DefaultPageSize
	}

	b := &Broadcaster{
		sender:   sender,
		sessions: sessions,
		metrics:  metrics,
		timeout:  conf.Timeout,
		pageSize: conf.PageSize,
		reclaim:  conf.Reclaim,
	}
	if b.reclaim == nil {
		b.reclaim = b.removeSessions
	}
	if conf.MaxConcurrency > 0 {
		b.inflight = semaphore.NewWeighted(conf.MaxConcurrency)
	}

	return b
}

type outcome int

const (
	delivered outcome = iota
	failed
	gone
)

// Broadcast delivers the payload to every given connection and waits until
// each attempt succeeded, failed or timed out. At most PageSize attempts are
// in flight at once and every connection is attempted exactly once.
func (b *Broadcaster) Broadcast(ctx context.Context, connectionIDs []string, payload []byte) Result {
	if len(connectionIDs) == 0 {
		return Result{}
	}

	start := time.Now()
	outcomes := make([]outcome, len(connectionIDs))

	g := errgroup.Group{}
	g.SetLimit(b.pageSize)
	for i, connID := range connectionIDs {
		g.Go(func() error {
			outcomes[i] = b.deliver(ctx, connID, payload)
			return nil
		})
	}
	_ = g.Wait()

	var result Result
	var goneIDs []string
	for i, o := range outcomes {
		switch o {
		case delivered:
			result.Success++
		case gone:
			result.Gone++
			result.Failure++
			goneIDs = append(goneIDs, connectionIDs[i])
		default:
			result.Failure++
		}
	}

	// Reclaiming may broadcast again, so it runs after every slot of this
	// broadcast is released.
	if len(goneIDs) > 0 {
		b.reclaim(context.WithoutCancel(ctx), goneIDs)
	}

	if b.metrics != nil {
		b.metrics.AddBroadcastDeliveries(prometheus.DeliverySuccess, result.Success)
		b.metrics.AddBroadcastDeliveries(prometheus.DeliveryFailure, result.Failure-result.Gone)
		b.metrics.AddBroadcastDeliveries(prometheus.DeliveryGone, result.Gone)
		b.metrics.ObserveBroadcastSeconds(time.Since(start).Seconds())
	}

	return result
}

// deliver makes a single attempt. The attempt is raced against the timeout;
// a Sender that ignores its context is abandoned, not interrupted.
func (b *Broadcaster) deliver(ctx context.Context, connectionID string, payload []byte) outcome {
	if b.inflight != nil {
		if err := b.inflight.Acquire(ctx, 1); err != nil {
			return failed
		}
		defer b.inflight.Release(1)
	}

	sendCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.sender.Send(sendCtx, connectionID, payload)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-sendCtx.Done():
		err = fmt.Errorf("send to %s: %w", connectionID, ErrDeliveryTimeout)
	}

	switch {
	case err == nil:
		return delivered
	case errors.Is(err, ErrConnectionGone):
		return gone
	default:
		logging.From(ctx).Debugf("send to %s: %v", connectionID, err)
		return failed
	}
}

// removeSessions removes the sessions of gone connections.
func (b *Broadcaster) removeSessions(ctx context.Context, connectionIDs []string) {
	if b.sessions == nil {
		return
	}

	for _, connectionID := range connectionIDs {
		if err := b.sessions.RemoveSession(ctx, connectionID); err != nil {
			logging.From(ctx).Warnf("remove gone connection %s: %v", connectionID, err)
			continue
		}
		logging.From(ctx).Infof("removed gone connection %s", connectionID)
	}
}
