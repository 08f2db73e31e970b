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

package coordinator_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kriya-team/kriya/api/types"
	pkgerrors "github.com/kriya-team/kriya/pkg/errors"
	"github.com/kriya-team/kriya/pkg/ot"
	"github.com/kriya-team/kriya/server/backend"
	"github.com/kriya-team/kriya/server/backend/broadcast"
	"github.com/kriya-team/kriya/server/backend/database"
	"github.com/kriya-team/kriya/server/backend/database/memory"
	besync "github.com/kriya-team/kriya/server/backend/sync"
	"github.com/kriya-team/kriya/server/coordinator"
	"github.com/kriya-team/kriya/server/documents"
)

// inbox records the events delivered to each connection.
type inbox struct {
	mu     sync.Mutex
	events map[string][]map[string]any
	gone   map[string]bool
}

func newInbox() *inbox {
	return &inbox{
		events: map[string][]map[string]any{},
		gone:   map[string]bool{},
	}
}

func (i *inbox) Send(_ context.Context, connectionID string, payload []byte) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.gone[connectionID] {
		return fmt.Errorf("%s: %w", connectionID, broadcast.ErrConnectionGone)
	}

	event := map[string]any{}
	if err := json.Unmarshal(payload, &event); err != nil {
		return err
	}
	i.events[connectionID] = append(i.events[connectionID], event)
	return nil
}

// of returns the events of the given type delivered to the connection.
func (i *inbox) of(connectionID string, eventType types.EventType) []map[string]any {
	i.mu.Lock()
	defer i.mu.Unlock()

	var result []map[string]any
	for _, event := range i.events[connectionID] {
		if event["type"] == string(eventType) {
			result = append(result, event)
		}
	}
	return result
}

func (i *inbox) count(connectionID string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.events[connectionID])
}

// failingStore fails every write of documents.
type failingStore struct {
	*memory.DB
}

func (s *failingStore) ApplyOperation(context.Context, string, ot.Operation) (*database.DocInfo, error) {
	return nil, pkgerrors.Unavailable("store is down")
}

func newConfig() *backend.Config {
	return &backend.Config{
		Hostname:              "test",
		LivenessWindow:        "24h",
		BroadcastTimeout:      "1s",
		BroadcastPageSize:     50,
		PersistMaxRetries:     3,
		PersistBreakerTimeout: "10s",
		CursorThrottleWindow:  "0s",
		MaxCursorLine:         10000,
		MaxCursorColumn:       1000,
	}
}

func newBackend(t *testing.T, conf *backend.Config, db database.Database) *backend.Backend {
	if db == nil {
		mem, err := memory.New()
		require.NoError(t, err)
		db = mem
	}

	lockers := besync.New()
	return &backend.Backend{
		Config:    conf,
		Lockers:   lockers,
		Documents: documents.New(db, documents.WithLockerManager(lockers)),
		DB:        db,
	}
}

func message(t *testing.T, body map[string]any) []byte {
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	return payload
}

func joinMessage(t *testing.T, documentID string, mode types.Mode) []byte {
	return message(t, map[string]any{"action": "join-document", "documentId": documentID, "mode": mode})
}

func insertMessage(t *testing.T, documentID string, pos int, content string) []byte {
	return message(t, map[string]any{
		"action":     "operation",
		"documentId": documentID,
		"operation":  map[string]any{"type": "insert", "position": pos, "content": content},
	})
}

func cursorMessage(t *testing.T, documentID string, line, column int) []byte {
	return message(t, map[string]any{
		"action":     "cursor-update",
		"documentId": documentID,
		"cursor":     map[string]any{"line": line, "column": column},
	})
}

func TestCoordinator(t *testing.T) {
	ctx := context.Background()

	t.Run("two clients edit one document test", func(t *testing.T) {
		be := newBackend(t, newConfig(), nil)
		box := newInbox()
		coord := coordinator.New(be, box)

		require.NoError(t, coord.Connect(ctx, "A", "alice"))
		require.NoError(t, coord.Connect(ctx, "B", "bob"))

		// A joins an empty document and receives an empty view.
		assert.NoError(t, coord.HandleMessage(ctx, "A", joinMessage(t, "doc1", types.ModeLive)))
		contents := box.of("A", types.DocumentContentEvent)
		require.Len(t, contents, 1)
		data := contents[0]["data"].(map[string]any)
		assert.Equal(t, "", data["content"])
		assert.Equal(t, float64(0), data["version"])

		// B joins and A is told.
		assert.NoError(t, coord.HandleMessage(ctx, "B", joinMessage(t, "doc1", types.ModeLive)))
		joined := box.of("A", types.UserJoinedEvent)
		require.Len(t, joined, 1)
		assert.Equal(t, "B", joined[0]["data"].(map[string]any)["connectionId"])
		assert.Empty(t, box.of("B", types.UserJoinedEvent))

		// B inserts, A receives the operation and B the confirmation.
		assert.NoError(t, coord.HandleMessage(ctx, "B", insertMessage(t, "doc1", 0, "hi")))
		relayed := box.of("A", types.OperationEvent)
		require.Len(t, relayed, 1)
		op := relayed[0]["operation"].(map[string]any)
		assert.Equal(t, "insert", op["type"])
		assert.Equal(t, float64(0), op["position"])
		assert.Equal(t, "hi", op["content"])
		assert.Equal(t, "bob", op["userId"])
		assert.Equal(t, "B", relayed[0]["sourceConnection"])
		assert.NotZero(t, relayed[0]["timestamp"])

		confirmed := box.of("B", types.OperationConfirmedEvent)
		require.Len(t, confirmed, 1)
		assert.Empty(t, box.of("B", types.OperationEvent))

		info, err := be.DB.FindDocInfo(ctx, "doc1")
		assert.NoError(t, err)
		assert.Equal(t, "hi", info.Content)
		assert.Equal(t, int64(1), info.Version)
	})

	t.Run("solo join and edit stay local test", func(t *testing.T) {
		be := newBackend(t, newConfig(), nil)
		box := newInbox()
		coord := coordinator.New(be, box)

		assert.NoError(t, coord.HandleMessage(ctx, "L", joinMessage(t, "doc1", types.ModeLive)))
		assert.NoError(t, coord.HandleMessage(ctx, "S", joinMessage(t, "doc1", types.ModeSolo)))

		contents := box.of("S", types.DocumentContentEvent)
		require.Len(t, contents, 1)
		assert.Equal(t, database.DefaultLanguage, contents[0]["data"].(map[string]any)["language"])
		assert.Empty(t, box.of("L", types.UserJoinedEvent))

		assert.NoError(t, coord.HandleMessage(ctx, "S", insertMessage(t, "doc1", 0, "solo")))
		assert.Len(t, box.of("S", types.OperationConfirmedEvent), 1)
		assert.Empty(t, box.of("L", types.OperationEvent))

		_, err := be.DB.FindDocInfo(ctx, "doc1")
		assert.ErrorIs(t, err, database.ErrDocumentNotFound)
	})

	t.Run("live joiner receives stored content test", func(t *testing.T) {
		be := newBackend(t, newConfig(), nil)
		box := newInbox()
		coord := coordinator.New(be, box)

		_, err := be.Documents.CreateDocInfo(ctx, "doc1", "package main", "go")
		require.NoError(t, err)

		assert.NoError(t, coord.HandleMessage(ctx, "A", joinMessage(t, "doc1", types.ModeLive)))
		data := box.of("A", types.DocumentContentEvent)[0]["data"].(map[string]any)
		assert.Equal(t, "package main", data["content"])
		assert.Equal(t, "go", data["language"])
		assert.NotZero(t, data["lastModified"])
	})

	t.Run("invalid message is rejected without side effects test", func(t *testing.T) {
		be := newBackend(t, newConfig(), nil)
		box := newInbox()
		coord := coordinator.New(be, box)

		err := coord.HandleMessage(ctx, "A", joinMessage(t, "bad id!", types.ModeLive))
		assert.ErrorIs(t, err, types.ErrInvalidRequest)
		assert.Equal(t, pkgerrors.ErrCodeInvalidArgument, pkgerrors.StatusOf(err))

		errs := box.of("A", types.ErrorEvent)
		require.Len(t, errs, 1)
		assert.Equal(t, float64(400), errs[0]["statusCode"])

		_, err = be.DB.FindSession(ctx, "A")
		assert.ErrorIs(t, err, database.ErrSessionNotFound)
	})

	t.Run("replace without length and content is rejected test", func(t *testing.T) {
		be := newBackend(t, newConfig(), nil)
		box := newInbox()
		coord := coordinator.New(be, box)

		assert.NoError(t, coord.HandleMessage(ctx, "A", joinMessage(t, "doc1", types.ModeLive)))
		err := coord.HandleMessage(ctx, "A", message(t, map[string]any{
			"action":     "operation",
			"documentId": "doc1",
			"operation":  map[string]any{"type": "replace", "position": 0},
		}))
		assert.ErrorIs(t, err, types.ErrInvalidRequest)

		errs := box.of("A", types.ErrorEvent)
		require.Len(t, errs, 1)
		assert.Equal(t, float64(400), errs[0]["statusCode"])
		assert.Equal(t, "operation", errs[0]["action"])
		assert.Empty(t, box.of("A", types.OperationConfirmedEvent))

		_, err = be.DB.FindDocInfo(ctx, "doc1")
		assert.ErrorIs(t, err, database.ErrDocumentNotFound)
	})

	t.Run("malformed message is fatal test", func(t *testing.T) {
		be := newBackend(t, newConfig(), nil)
		box := newInbox()
		coord := coordinator.New(be, box)

		err := coord.HandleMessage(ctx, "A", []byte("{not json"))
		assert.ErrorIs(t, err, types.ErrInvalidJSON)

		errs := box.of("A", types.ErrorEvent)
		require.Len(t, errs, 1)
		assert.Equal(t, float64(500), errs[0]["statusCode"])
		assert.Equal(t, "Internal server error", errs[0]["error"])
	})

	t.Run("persistence failure does not block broadcast test", func(t *testing.T) {
		mem, err := memory.New()
		require.NoError(t, err)
		be := newBackend(t, newConfig(), &failingStore{DB: mem})
		box := newInbox()
		coord := coordinator.New(be, box)

		assert.NoError(t, coord.HandleMessage(ctx, "A", joinMessage(t, "doc1", types.ModeLive)))
		assert.NoError(t, coord.HandleMessage(ctx, "B", joinMessage(t, "doc1", types.ModeLive)))

		assert.NoError(t, coord.HandleMessage(ctx, "B", insertMessage(t, "doc1", 0, "x")))
		assert.Len(t, box.of("A", types.OperationEvent), 1)
		assert.Len(t, box.of("B", types.OperationConfirmedEvent), 1)
		assert.Empty(t, box.of("B", types.ErrorEvent))
	})

	t.Run("open breaker still relays test", func(t *testing.T) {
		mem, err := memory.New()
		require.NoError(t, err)
		conf := newConfig()
		conf.PersistBreakerFailures = 1
		be := newBackend(t, conf, &failingStore{DB: mem})
		box := newInbox()
		coord := coordinator.New(be, box)

		assert.NoError(t, coord.HandleMessage(ctx, "A", joinMessage(t, "doc1", types.ModeLive)))
		assert.NoError(t, coord.HandleMessage(ctx, "B", joinMessage(t, "doc1", types.ModeLive)))
		for i := 0; i < 3; i++ {
			assert.NoError(t, coord.HandleMessage(ctx, "B", insertMessage(t, "doc1", i, "x")))
		}
		assert.Len(t, box.of("A", types.OperationEvent), 3)
	})

	t.Run("replace is relayed as delete and insert test", func(t *testing.T) {
		be := newBackend(t, newConfig(), nil)
		box := newInbox()
		coord := coordinator.New(be, box)

		_, err := be.Documents.CreateDocInfo(ctx, "doc1", "hello", "")
		require.NoError(t, err)
		assert.NoError(t, coord.HandleMessage(ctx, "A", joinMessage(t, "doc1", types.ModeLive)))
		assert.NoError(t, coord.HandleMessage(ctx, "B", joinMessage(t, "doc1", types.ModeLive)))

		assert.NoError(t, coord.HandleMessage(ctx, "B", message(t, map[string]any{
			"action":     "operation",
			"documentId": "doc1",
			"operation":  map[string]any{"type": "replace", "position": 0, "length": 5, "content": "world"},
		})))

		relayed := box.of("A", types.OperationEvent)
		require.Len(t, relayed, 2)
		assert.Equal(t, "delete", relayed[0]["operation"].(map[string]any)["type"])
		assert.Equal(t, "insert", relayed[1]["operation"].(map[string]any)["type"])
		assert.Len(t, box.of("B", types.OperationConfirmedEvent), 2)

		info, err := be.DB.FindDocInfo(ctx, "doc1")
		assert.NoError(t, err)
		assert.Equal(t, "world", info.Content)
		assert.Equal(t, int64(2), info.Version)
	})

	t.Run("cursor update test", func(t *testing.T) {
		be := newBackend(t, newConfig(), nil)
		box := newInbox()
		coord := coordinator.New(be, box)

		assert.NoError(t, coord.HandleMessage(ctx, "A", joinMessage(t, "doc1", types.ModeLive)))
		assert.NoError(t, coord.HandleMessage(ctx, "B", joinMessage(t, "doc1", types.ModeLive)))

		assert.NoError(t, coord.HandleMessage(ctx, "B", cursorMessage(t, "doc1", 3, 7)))
		cursors := box.of("A", types.CursorUpdateEvent)
		require.Len(t, cursors, 1)
		assert.Equal(t, "B", cursors[0]["userId"])
		assert.Equal(t, map[string]any{"line": float64(3), "column": float64(7)}, cursors[0]["cursor"])

		err := coord.HandleMessage(ctx, "B", cursorMessage(t, "doc1", 10001, 1))
		assert.ErrorIs(t, err, coordinator.ErrCursorOutOfBounds)
		err = coord.HandleMessage(ctx, "B", cursorMessage(t, "doc1", 1, 1001))
		assert.ErrorIs(t, err, coordinator.ErrCursorOutOfBounds)
		err = coord.HandleMessage(ctx, "B", cursorMessage(t, "doc1", 0, 1))
		assert.ErrorIs(t, err, types.ErrInvalidRequest)
		assert.Len(t, box.of("A", types.CursorUpdateEvent), 1)

		_, err = be.DB.FindDocInfo(ctx, "doc1")
		assert.ErrorIs(t, err, database.ErrDocumentNotFound)
	})

	t.Run("throttled cursor keeps the latest position test", func(t *testing.T) {
		conf := newConfig()
		conf.CursorThrottleWindow = "50ms"
		be := newBackend(t, conf, nil)
		box := newInbox()
		coord := coordinator.New(be, box)

		assert.NoError(t, coord.HandleMessage(ctx, "A", joinMessage(t, "doc1", types.ModeLive)))
		assert.NoError(t, coord.HandleMessage(ctx, "B", joinMessage(t, "doc1", types.ModeLive)))

		for col := 1; col <= 5; col++ {
			assert.NoError(t, coord.HandleMessage(ctx, "B", cursorMessage(t, "doc1", 1, col)))
		}

		assert.Eventually(t, func() bool {
			cursors := box.of("A", types.CursorUpdateEvent)
			if len(cursors) == 0 {
				return false
			}
			last := cursors[len(cursors)-1]["cursor"].(map[string]any)
			return last["column"] == float64(5)
		}, time.Second, 10*time.Millisecond)
		assert.Less(t, len(box.of("A", types.CursorUpdateEvent)), 5)
	})

	t.Run("disconnect notifies remaining members test", func(t *testing.T) {
		be := newBackend(t, newConfig(), nil)
		box := newInbox()
		coord := coordinator.New(be, box)

		require.NoError(t, coord.Connect(ctx, "B", "bob"))
		assert.NoError(t, coord.HandleMessage(ctx, "A", joinMessage(t, "doc1", types.ModeLive)))
		assert.NoError(t, coord.HandleMessage(ctx, "B", joinMessage(t, "doc1", types.ModeLive)))

		assert.NoError(t, coord.Disconnect(ctx, "B"))
		left := box.of("A", types.UserLeftEvent)
		require.Len(t, left, 1)
		assert.Equal(t, map[string]any{"userId": "bob", "connectionId": "B"}, left[0]["data"])

		_, err := be.DB.FindSession(ctx, "B")
		assert.ErrorIs(t, err, database.ErrSessionNotFound)

		// disconnecting twice is harmless.
		assert.NoError(t, coord.Disconnect(ctx, "B"))
		assert.Len(t, box.of("A", types.UserLeftEvent), 1)
	})

	t.Run("switching documents leaves the previous one test", func(t *testing.T) {
		be := newBackend(t, newConfig(), nil)
		box := newInbox()
		coord := coordinator.New(be, box)

		assert.NoError(t, coord.HandleMessage(ctx, "A", joinMessage(t, "doc1", types.ModeLive)))
		assert.NoError(t, coord.HandleMessage(ctx, "B", joinMessage(t, "doc1", types.ModeLive)))
		assert.NoError(t, coord.HandleMessage(ctx, "B", joinMessage(t, "doc2", types.ModeLive)))

		assert.Len(t, box.of("A", types.UserLeftEvent), 1)
		members, err := be.DB.FindMembersOf(ctx, "doc1")
		assert.NoError(t, err)
		assert.Len(t, members, 1)
	})

	t.Run("gone peer is reclaimed test", func(t *testing.T) {
		be := newBackend(t, newConfig(), nil)
		box := newInbox()
		coord := coordinator.New(be, box)

		for _, id := range []string{"A", "B", "C"} {
			assert.NoError(t, coord.HandleMessage(ctx, id, joinMessage(t, "doc1", types.ModeLive)))
		}
		box.mu.Lock()
		box.gone["C"] = true
		box.mu.Unlock()

		assert.NoError(t, coord.HandleMessage(ctx, "A", insertMessage(t, "doc1", 0, "x")))
		assert.Len(t, box.of("B", types.OperationEvent), 1)

		_, err := be.DB.FindSession(ctx, "C")
		assert.ErrorIs(t, err, database.ErrSessionNotFound)
	})

	t.Run("gone member leaves before its disconnect test", func(t *testing.T) {
		be := newBackend(t, newConfig(), nil)
		box := newInbox()
		coord := coordinator.New(be, box)

		require.NoError(t, coord.Connect(ctx, "A", "alice"))
		assert.NoError(t, coord.HandleMessage(ctx, "A", joinMessage(t, "doc1", types.ModeLive)))
		assert.NoError(t, coord.HandleMessage(ctx, "B", joinMessage(t, "doc1", types.ModeLive)))

		// A's socket dropped: the next delivery to A reports it gone before
		// the transport gets to disconnect it.
		box.mu.Lock()
		box.gone["A"] = true
		box.mu.Unlock()

		assert.NoError(t, coord.HandleMessage(ctx, "B", insertMessage(t, "doc1", 0, "x")))
		left := box.of("B", types.UserLeftEvent)
		require.Len(t, left, 1)
		assert.Equal(t, map[string]any{"userId": "alice", "connectionId": "A"}, left[0]["data"])
		assert.Len(t, box.of("B", types.OperationConfirmedEvent), 1)

		assert.NoError(t, coord.Disconnect(ctx, "A"))
		assert.Len(t, box.of("B", types.UserLeftEvent), 1)
		members, err := be.DB.FindMembersOf(ctx, "doc1")
		assert.NoError(t, err)
		assert.Len(t, members, 1)
	})

	t.Run("many peers are all reached test", func(t *testing.T) {
		be := newBackend(t, newConfig(), nil)
		box := newInbox()
		coord := coordinator.New(be, box)

		const peers = 120
		for i := 0; i < peers; i++ {
			id := fmt.Sprintf("P%d", i)
			assert.NoError(t, coord.HandleMessage(ctx, id, joinMessage(t, "doc1", types.ModeLive)))
		}
		assert.NoError(t, coord.HandleMessage(ctx, "P0", insertMessage(t, "doc1", 0, "x")))

		for i := 1; i < peers; i++ {
			assert.Len(t, box.of(fmt.Sprintf("P%d", i), types.OperationEvent), 1)
		}
	})

	t.Run("unreachable origin does not fail the message test", func(t *testing.T) {
		be := newBackend(t, newConfig(), nil)
		coord := coordinator.New(be, broadcast.SenderFunc(func(context.Context, string, []byte) error {
			return errors.New("network down")
		}))

		assert.NoError(t, coord.HandleMessage(ctx, "A", joinMessage(t, "doc1", types.ModeLive)))
		assert.NoError(t, coord.HandleMessage(ctx, "A", insertMessage(t, "doc1", 0, "x")))
	})
}
