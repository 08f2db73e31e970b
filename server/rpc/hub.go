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

package rpc

import (
	"context"
	"fmt"

	"github.com/kriya-team/kriya/pkg/cmap"
	pkgerrors "github.com/kriya-team/kriya/pkg/errors"
	"github.com/kriya-team/kriya/server/backend/broadcast"
	"github.com/kriya-team/kriya/server/logging"
)

// ErrSlowConnection is returned by TrySend when the send buffer of the
// connection is full. The connection is closed.
var ErrSlowConnection = pkgerrors.Unavailable("connection too slow").WithCode("ErrSlowConnection")

// Listener is told when a connection is attached to or detached from the
// hub of this process.
type Listener interface {
	Attached(ctx context.Context, connectionID string) error
	Detached(ctx context.Context, connectionID string) error
}

// Hub holds the connections of this process and delivers payloads to them.
// It is the broadcast.Sender of a single-node deployment.
type Hub struct {
	conns     *cmap.Map[string, *conn]
	listeners []Listener
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		conns: cmap.New[string, *conn](),
	}
}

// Listen registers the listener. It must be called before any connection
// is attached.
func (h *Hub) Listen(l Listener) {
	h.listeners = append(h.listeners, l)
}

// Has returns whether the connection is attached to this hub.
func (h *Hub) Has(connectionID string) bool {
	_, ok := h.conns.Get(connectionID)
	return ok
}

// Len returns the number of attached connections.
func (h *Hub) Len() int {
	return h.conns.Len()
}

// Send queues the payload on the connection. It returns an error wrapping
// broadcast.ErrConnectionGone if the connection is not attached or closing.
func (h *Hub) Send(ctx context.Context, connectionID string, payload []byte) error {
	c, ok := h.conns.Get(connectionID)
	if !ok {
		return fmt.Errorf("%s: %w", connectionID, broadcast.ErrConnectionGone)
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.closing:
		return fmt.Errorf("%s: %w", connectionID, broadcast.ErrConnectionGone)
	case <-ctx.Done():
		return fmt.Errorf("send to %s: %w", connectionID, ctx.Err())
	}
}

// TrySend queues the payload on the connection without waiting. A
// connection whose send buffer is full is closed, so its session is removed
// and its document members are told it left.
func (h *Hub) TrySend(connectionID string, payload []byte) error {
	c, ok := h.conns.Get(connectionID)
	if !ok {
		return fmt.Errorf("%s: %w", connectionID, broadcast.ErrConnectionGone)
	}

	select {
	case <-c.closing:
		return fmt.Errorf("%s: %w", connectionID, broadcast.ErrConnectionGone)
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		c.close()
		return fmt.Errorf("%s: %w", connectionID, ErrSlowConnection)
	}
}

func (h *Hub) attach(ctx context.Context, c *conn) {
	h.conns.Set(c.id, c)
	for _, l := range h.listeners {
		if err := l.Attached(ctx, c.id); err != nil {
			logging.From(ctx).Warnf("attach %s: %v", c.id, err)
		}
	}
}

func (h *Hub) detach(ctx context.Context, c *conn) {
	if !h.conns.DeleteIf(c.id, func(v *conn) bool { return v == c }) {
		return
	}
	for _, l := range h.listeners {
		if err := l.Detached(ctx, c.id); err != nil {
			logging.From(ctx).Warnf("detach %s: %v", c.id, err)
		}
	}
}

// closeAll closes every attached connection.
func (h *Hub) closeAll() {
	for _, c := range h.conns.Values() {
		c.close()
	}
}
