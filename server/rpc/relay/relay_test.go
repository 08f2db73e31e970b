//go:build integration

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

package relay_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kriya-team/kriya/api/types"
	"github.com/kriya-team/kriya/server/backend"
	"github.com/kriya-team/kriya/server/backend/broadcast"
	"github.com/kriya-team/kriya/server/backend/database"
	"github.com/kriya-team/kriya/server/backend/database/memory"
	"github.com/kriya-team/kriya/server/backend/sync"
	"github.com/kriya-team/kriya/server/coordinator"
	"github.com/kriya-team/kriya/server/documents"
	"github.com/kriya-team/kriya/server/rpc"
	"github.com/kriya-team/kriya/server/rpc/relay"
	"github.com/kriya-team/kriya/test/helper"
)

// startNode starts a node serving websockets over the shared database.
func startNode(t *testing.T, db database.Database, prefix string) (*httptest.Server, *relay.Relay) {
	conf := &rpc.Config{
		Port:            11101,
		MaxRequestBytes: 10000,
		PongWait:        "60s",
		PingInterval:    "54s",
		WriteWait:       "10s",
		SendBufferSize:  16,
	}

	hub := rpc.NewHub()
	r, err := relay.Dial(&relay.Config{Addr: helper.RedisAddr, ChannelPrefix: prefix}, hub)
	require.NoError(t, err)

	lockers := sync.New()
	be := &backend.Backend{
		Config: &backend.Config{
			LivenessWindow:        "24h",
			BroadcastTimeout:      "1s",
			BroadcastPageSize:     50,
			PersistBreakerTimeout: "10s",
			CursorThrottleWindow:  "0s",
			MaxCursorLine:         10000,
			MaxCursorColumn:       1000,
		},
		Lockers:   lockers,
		Documents: documents.New(db, documents.WithLockerManager(lockers)),
		DB:        db,
	}

	server := rpc.NewServer(conf, hub, coordinator.New(be, r), nil, nil)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		ts.Close()
		server.Shutdown(false)
		assert.NoError(t, r.Close())
	})

	return ts, r
}

func dial(t *testing.T, ts *httptest.Server, userID string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + rpc.WebsocketPath + "?userId=" + userID
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func next(t *testing.T, ws *websocket.Conn, eventType types.EventType) map[string]any {
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, payload, err := ws.ReadMessage()
		require.NoError(t, err)

		event := map[string]any{}
		require.NoError(t, json.Unmarshal(payload, &event))
		if event["type"] == string(eventType) {
			return event
		}
	}
}

func TestRelay(t *testing.T) {
	prefix := "kriya-test:" + t.Name() + ":"

	t.Run("config validate test", func(t *testing.T) {
		assert.ErrorIs(t, (&relay.Config{}).Validate(), relay.ErrEmptyAddress)
		assert.NoError(t, (&relay.Config{Addr: helper.RedisAddr}).Validate())
	})

	t.Run("unknown connection is gone test", func(t *testing.T) {
		db, err := memory.New()
		require.NoError(t, err)

		_, r := startNode(t, db, prefix)
		err = r.Send(context.Background(), "nobody", []byte("x"))
		assert.ErrorIs(t, err, broadcast.ErrConnectionGone)
	})

	t.Run("events cross nodes test", func(t *testing.T) {
		db, err := memory.New()
		require.NoError(t, err)

		node1, _ := startNode(t, db, prefix)
		node2, _ := startNode(t, db, prefix)
		alice := dial(t, node1, "alice")
		bob := dial(t, node2, "bob")

		require.NoError(t, alice.WriteJSON(map[string]any{
			"action": "join-document", "documentId": "doc1", "mode": "live",
		}))
		next(t, alice, types.DocumentContentEvent)

		// subscriptions are asynchronous, so bob joins once alice is served.
		require.NoError(t, bob.WriteJSON(map[string]any{
			"action": "join-document", "documentId": "doc1", "mode": "live",
		}))
		next(t, bob, types.DocumentContentEvent)
		next(t, alice, types.UserJoinedEvent)

		require.NoError(t, bob.WriteJSON(map[string]any{
			"action":     "operation",
			"documentId": "doc1",
			"operation":  map[string]any{"type": "insert", "position": 0, "content": "hi"},
		}))
		op := next(t, alice, types.OperationEvent)["operation"].(map[string]any)
		assert.Equal(t, "hi", op["content"])
		next(t, bob, types.OperationConfirmedEvent)
	})
}
