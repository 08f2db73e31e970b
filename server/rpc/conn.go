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
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/kriya-team/kriya/api/types"
	"github.com/kriya-team/kriya/pkg/errors"
	"github.com/kriya-team/kriya/server/logging"
)

// ErrTooManyMessages is returned when a connection sends faster than its rate.
var ErrTooManyMessages = errors.ResourceExhausted("too many messages").WithCode("ErrTooManyMessages")

// conn is the actor of one websocket connection. Messages read from the
// socket are handled one at a time in arrival order, and outbound payloads
// are written from the send queue by a single writer.
type conn struct {
	id     string
	userID string

	ws       *websocket.Conn
	send     chan []byte
	closing  chan struct{}
	once     sync.Once
	limiter  *rate.Limiter
	timeouts timeouts
}

func newConn(id, userID string, ws *websocket.Conn, conf *Config) *conn {
	c := &conn{
		id:       id,
		userID:   userID,
		ws:       ws,
		send:     make(chan []byte, conf.SendBufferSize),
		closing:  make(chan struct{}),
		timeouts: conf.timeouts(),
	}
	if conf.MessageRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(conf.MessageRate), conf.MessageBurst)
	}

	return c
}

// readPump reads messages until the socket fails or the connection closes.
func (c *conn) readPump(ctx context.Context, maxBytes int64, handle func(ctx context.Context, payload []byte)) {
	// Payloads somewhat over the limit reach the validation and are answered
	// with an error event. Far larger ones tear the connection down.
	c.ws.SetReadLimit(maxBytes * 4)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.timeouts.pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.timeouts.pongWait))
	})

	for {
		messageType, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.From(ctx).Warnf("read: %v", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.reject(ctx, ErrTooManyMessages)
			continue
		}
		handle(ctx, payload)
	}
}

// writePump writes queued payloads and pings until the connection closes.
func (c *conn) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.timeouts.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.timeouts.writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				logging.From(ctx).Warnf("write: %v", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.timeouts.writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.closing:
			_ = c.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.timeouts.writeWait),
			)
			return
		}
	}
}

// reject queues an error event without blocking the reader.
func (c *conn) reject(ctx context.Context, err error) {
	payload, encodeErr := types.NewError(err).Bytes()
	if encodeErr != nil {
		logging.From(ctx).Error(encodeErr)
		return
	}

	select {
	case c.send <- payload:
	default:
	}
}

// close stops both pumps. It is safe to call more than once.
func (c *conn) close() {
	c.once.Do(func() {
		close(c.closing)
	})
}
