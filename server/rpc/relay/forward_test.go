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

package relay

import (
	"context"
	"fmt"
	gosync "sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/kriya-team/kriya/server/logging"
	"github.com/kriya-team/kriya/server/rpc"
)

// fakeHub holds connections by name. Send to a stuck connection blocks until
// its context is done; TrySend to it fails at once.
type fakeHub struct {
	mu       gosync.Mutex
	stuck    map[string]bool
	received map[string][]string
}

func (h *fakeHub) Listen(rpc.Listener) {}

func (h *fakeHub) Has(string) bool { return true }

func (h *fakeHub) Send(ctx context.Context, connectionID string, payload []byte) error {
	if h.stuck[connectionID] {
		<-ctx.Done()
		return ctx.Err()
	}
	return h.TrySend(connectionID, payload)
}

func (h *fakeHub) TrySend(connectionID string, payload []byte) error {
	if h.stuck[connectionID] {
		return fmt.Errorf("%s: %w", connectionID, rpc.ErrSlowConnection)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.received[connectionID] = append(h.received[connectionID], string(payload))
	return nil
}

func (h *fakeHub) of(connectionID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.received[connectionID]
}

func TestForward(t *testing.T) {
	t.Run("stuck connection does not hold back others test", func(t *testing.T) {
		hub := &fakeHub{
			stuck:    map[string]bool{"stuck": true},
			received: map[string][]string{},
		}
		r := &Relay{
			prefix: DefaultChannelPrefix,
			hub:    hub,
			logger: logging.New("relay"),
			done:   make(chan struct{}),
		}

		msgs := make(chan *redis.Message, 4)
		go r.forward(msgs)

		start := time.Now()
		msgs <- &redis.Message{Channel: DefaultChannelPrefix + "stuck", Payload: "one"}
		msgs <- &redis.Message{Channel: DefaultChannelPrefix + "stuck", Payload: "two"}
		msgs <- &redis.Message{Channel: DefaultChannelPrefix + "fast", Payload: "three"}
		close(msgs)

		select {
		case <-r.done:
		case <-time.After(time.Second):
			assert.Fail(t, "forward is blocked by the stuck connection")
		}
		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, []string{"three"}, hub.of("fast"))
		assert.Empty(t, hub.of("stuck"))
	})
}
