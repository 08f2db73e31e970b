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

package background_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kriya-team/kriya/server/backend/background"
)

func TestBackground(t *testing.T) {
	t.Run("close waits for attached goroutines test", func(t *testing.T) {
		bg := background.New(nil)
		var done int32

		started := make(chan struct{})
		bg.AttachGoroutine(func(ctx context.Context) {
			close(started)
			<-ctx.Done()
			atomic.StoreInt32(&done, 1)
		}, "test")

		<-started
		bg.Close()
		assert.Equal(t, int32(1), atomic.LoadInt32(&done))
	})

	t.Run("attach after close is skipped test", func(t *testing.T) {
		bg := background.New(nil)
		bg.Close()

		var ran int32
		bg.AttachGoroutine(func(ctx context.Context) {
			atomic.StoreInt32(&ran, 1)
		}, "test")
		bg.Close()
		assert.Equal(t, int32(0), atomic.LoadInt32(&ran))
	})
}
