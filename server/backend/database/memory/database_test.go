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

package memory_test

import (
	"context"
	"testing"
	gotime "time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kriya-team/kriya/api/types"
	"github.com/kriya-team/kriya/server/backend/database/memory"
	"github.com/kriya-team/kriya/server/backend/database/testcases"
)

func TestDB(t *testing.T) {
	db, err := memory.New()
	assert.NoError(t, err)

	t.Run("RunSessionRegistry test", func(t *testing.T) {
		testcases.RunSessionRegistryTest(t, db)
	})

	t.Run("RunDocumentStore test", func(t *testing.T) {
		testcases.RunDocumentStoreTest(t, db)
	})

	t.Run("RunConcurrentApply test", func(t *testing.T) {
		testcases.RunConcurrentApplyTest(t, db, db.ApplyOperation)
	})
}

func TestDBWithoutDocumentIndex(t *testing.T) {
	db, err := memory.New(memory.WithoutDocumentIndex())
	assert.NoError(t, err)

	t.Run("RunSessionRegistry test", func(t *testing.T) {
		testcases.RunSessionRegistryTest(t, db)
	})
}

func TestLivenessWindow(t *testing.T) {
	ctx := context.Background()
	now := gotime.Now()
	clock := func() gotime.Time { return now }

	db, err := memory.New(memory.WithLivenessWindow(gotime.Hour), memory.WithClock(clock))
	require.NoError(t, err)

	t.Run("stale sessions are not members test", func(t *testing.T) {
		_, err := db.UpsertSession(ctx, "stale", "u1", "doc1", types.ModeLive)
		require.NoError(t, err)

		now = now.Add(30 * gotime.Minute)
		_, err = db.UpsertSession(ctx, "fresh", "u2", "doc1", types.ModeLive)
		require.NoError(t, err)

		members, err := db.FindMembersOf(ctx, "doc1")
		assert.NoError(t, err)
		assert.Len(t, members, 2)

		now = now.Add(45 * gotime.Minute)
		members, err = db.FindMembersOf(ctx, "doc1")
		assert.NoError(t, err)
		assert.Len(t, members, 1)
		assert.Equal(t, "fresh", members[0].ConnectionID)

		// the stale session is still found by its connection until it is swept.
		_, err = db.FindSession(ctx, "stale")
		assert.NoError(t, err)
	})
}
