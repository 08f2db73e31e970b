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

package mongo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/event"
)

func TestQueryMonitor(t *testing.T) {
	t.Run("conflict detection test", func(t *testing.T) {
		assert.False(t, isConflict(nil))
		assert.False(t, isConflict(errors.New("connection reset")))
		assert.False(t, isConflict(errors.New("E11000 duplicate key error collection: kriya.other")))
		assert.True(t, isConflict(errors.New("E11000 duplicate key error collection: kriya.documents")))
		assert.True(t, isConflict(errors.New("E11000 duplicate key error collection: kriya.sessions")))
	})

	t.Run("hooks do not panic test", func(t *testing.T) {
		monitor := NewQueryMonitor(time.Millisecond).CommandMonitor()
		ctx := context.Background()

		monitor.Started(ctx, &event.CommandStartedEvent{CommandName: "find"})
		monitor.Succeeded(ctx, &event.CommandSucceededEvent{
			CommandFinishedEvent: event.CommandFinishedEvent{CommandName: "find", Duration: time.Second},
		})
		monitor.Failed(ctx, &event.CommandFailedEvent{
			CommandFinishedEvent: event.CommandFinishedEvent{CommandName: "update"},
			Failure:              errors.New("E11000 duplicate key error collection: kriya.documents"),
		})
	})
}
