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

// Package testcases contains testcases for database. It is used by database
// implementations to test their own implementations with the same testcases.
package testcases

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kriya-team/kriya/api/types"
	"github.com/kriya-team/kriya/pkg/ot"
	"github.com/kriya-team/kriya/server/backend/database"
)

// uniqueID returns an ID that does not collide across runs against a shared
// database.
func uniqueID(prefix string) string {
	return prefix + "-" + xid.New().String()
}

// RunSessionRegistryTest runs the testcases of the session registry.
func RunSessionRegistryTest(t *testing.T, db database.Database) {
	ctx := context.Background()

	t.Run("upsert and find session test", func(t *testing.T) {
		connID := uniqueID("conn")
		docID := uniqueID("doc")

		info, err := db.UpsertSession(ctx, connID, "u1", docID, types.ModeLive)
		assert.NoError(t, err)
		assert.Equal(t, connID, info.ConnectionID)
		assert.Equal(t, "u1", info.UserID)
		assert.True(t, info.ExpiresAt.After(info.LastActivityAt))

		found, err := db.FindSession(ctx, connID)
		assert.NoError(t, err)
		assert.Equal(t, docID, found.DocumentID)
		assert.Equal(t, types.ModeLive, found.Mode)
	})

	t.Run("upsert is idempotent test", func(t *testing.T) {
		connID := uniqueID("conn")
		docID := uniqueID("doc")

		first, err := db.UpsertSession(ctx, connID, "u1", docID, types.ModeLive)
		assert.NoError(t, err)
		second, err := db.UpsertSession(ctx, connID, "", docID, types.ModeLive)
		assert.NoError(t, err)

		assert.Equal(t, "u1", second.UserID)
		assert.True(t, first.JoinedAt.Equal(second.JoinedAt))
		assert.False(t, second.LastActivityAt.Before(first.LastActivityAt))

		members, err := db.FindMembersOf(ctx, docID)
		assert.NoError(t, err)
		assert.Len(t, members, 1)
	})

	t.Run("find unknown session test", func(t *testing.T) {
		_, err := db.FindSession(ctx, uniqueID("conn"))
		assert.ErrorIs(t, err, database.ErrSessionNotFound)
	})

	t.Run("members of document test", func(t *testing.T) {
		docID := uniqueID("doc")
		live1, live2, solo, other := uniqueID("c"), uniqueID("c"), uniqueID("c"), uniqueID("c")

		_, err := db.UpsertSession(ctx, live1, "u1", docID, types.ModeLive)
		require.NoError(t, err)
		_, err = db.UpsertSession(ctx, live2, "u2", docID, types.ModeLive)
		require.NoError(t, err)
		_, err = db.UpsertSession(ctx, solo, "u3", docID, types.ModeSolo)
		require.NoError(t, err)
		_, err = db.UpsertSession(ctx, other, "u4", uniqueID("doc"), types.ModeLive)
		require.NoError(t, err)

		members, err := db.FindMembersOf(ctx, docID)
		assert.NoError(t, err)

		var ids []string
		for _, m := range members {
			ids = append(ids, m.ConnectionID)
		}
		assert.ElementsMatch(t, []string{live1, live2}, ids)
	})

	t.Run("moving to another document test", func(t *testing.T) {
		connID := uniqueID("conn")
		docA, docB := uniqueID("doc"), uniqueID("doc")

		_, err := db.UpsertSession(ctx, connID, "u1", docA, types.ModeLive)
		require.NoError(t, err)
		_, err = db.UpsertSession(ctx, connID, "u1", docB, types.ModeLive)
		require.NoError(t, err)

		members, err := db.FindMembersOf(ctx, docA)
		assert.NoError(t, err)
		assert.Empty(t, members)

		members, err = db.FindMembersOf(ctx, docB)
		assert.NoError(t, err)
		assert.Len(t, members, 1)
	})

	t.Run("remove session test", func(t *testing.T) {
		connID := uniqueID("conn")
		docID := uniqueID("doc")

		_, err := db.UpsertSession(ctx, connID, "u1", docID, types.ModeLive)
		require.NoError(t, err)

		assert.NoError(t, db.RemoveSession(ctx, connID))
		_, err = db.FindSession(ctx, connID)
		assert.ErrorIs(t, err, database.ErrSessionNotFound)

		members, err := db.FindMembersOf(ctx, docID)
		assert.NoError(t, err)
		assert.Empty(t, members)

		assert.NoError(t, db.RemoveSession(ctx, connID))
	})

	t.Run("remove expired sessions test", func(t *testing.T) {
		connID := uniqueID("conn")
		info, err := db.UpsertSession(ctx, connID, "u1", uniqueID("doc"), types.ModeLive)
		require.NoError(t, err)

		_, err = db.RemoveExpiredSessions(ctx, info.ExpiresAt.Add(-time.Minute), 1000)
		assert.NoError(t, err)
		_, err = db.FindSession(ctx, connID)
		assert.NoError(t, err)

		for {
			removed, err := db.RemoveExpiredSessions(ctx, info.ExpiresAt.Add(time.Second), 100)
			require.NoError(t, err)
			if removed < 100 {
				break
			}
		}
		_, err = db.FindSession(ctx, connID)
		assert.ErrorIs(t, err, database.ErrSessionNotFound)
	})
}

// RunDocumentStoreTest runs the testcases of the document store.
func RunDocumentStoreTest(t *testing.T, db database.Database) {
	ctx := context.Background()

	t.Run("create and find document test", func(t *testing.T) {
		docID := uniqueID("doc")

		info, err := db.CreateDocInfo(ctx, docID, "hello", "")
		assert.NoError(t, err)
		assert.Equal(t, int64(0), info.Version)
		assert.Equal(t, database.DefaultLanguage, info.Language)

		found, err := db.FindDocInfo(ctx, docID)
		assert.NoError(t, err)
		assert.Equal(t, "hello", found.Content)
		assert.Equal(t, 5, found.Metadata.Characters)

		_, err = db.CreateDocInfo(ctx, docID, "again", "go")
		assert.ErrorIs(t, err, database.ErrDocumentAlreadyExists)
	})

	t.Run("find unknown document test", func(t *testing.T) {
		_, err := db.FindDocInfo(ctx, uniqueID("doc"))
		assert.ErrorIs(t, err, database.ErrDocumentNotFound)
	})

	t.Run("apply operation test", func(t *testing.T) {
		docID := uniqueID("doc")
		_, err := db.CreateDocInfo(ctx, docID, "hello", "go")
		require.NoError(t, err)

		info, err := db.ApplyOperation(ctx, docID, ot.NewInsert(5, " world"))
		assert.NoError(t, err)
		assert.Equal(t, "hello world", info.Content)
		assert.Equal(t, int64(1), info.Version)

		info, err = db.ApplyOperation(ctx, docID, ot.NewDelete(0, 6))
		assert.NoError(t, err)
		assert.Equal(t, "world", info.Content)
		assert.Equal(t, int64(2), info.Version)
		assert.Equal(t, "go", info.Language)

		found, err := db.FindDocInfo(ctx, docID)
		assert.NoError(t, err)
		assert.Equal(t, "world", found.Content)
		assert.Equal(t, int64(2), found.Version)
	})

	t.Run("apply operation to missing document test", func(t *testing.T) {
		docID := uniqueID("doc")

		info, err := db.ApplyOperation(ctx, docID, ot.NewInsert(3, "abc"))
		assert.NoError(t, err)
		assert.Equal(t, "abc", info.Content)
		assert.Equal(t, int64(1), info.Version)
		assert.Equal(t, database.DefaultLanguage, info.Language)
	})
}

// RunConcurrentApplyTest runs operations concurrently against the same
// document through apply, which retries conflicts, and checks that none of
// them is lost.
func RunConcurrentApplyTest(
	t *testing.T,
	db database.Database,
	apply func(ctx context.Context, id string, op ot.Operation) (*database.DocInfo, error),
) {
	ctx := context.Background()
	docID := uniqueID("doc")
	_, err := db.CreateDocInfo(ctx, docID, "", "")
	require.NoError(t, err)

	const writers = 20
	wg := sync.WaitGroup{}
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := apply(ctx, docID, ot.NewInsert(0, "x"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	info, err := db.FindDocInfo(ctx, docID)
	assert.NoError(t, err)
	assert.Equal(t, int64(writers), info.Version)
	assert.Equal(t, writers, info.Metadata.Characters)
}
