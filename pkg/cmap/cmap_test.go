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

package cmap_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kriya-team/kriya/pkg/cmap"
)

func TestMap(t *testing.T) {
	t.Run("set get delete test", func(t *testing.T) {
		m := cmap.New[string, int]()

		m.Set("a", 1)
		v, ok := m.Get("a")
		assert.True(t, ok)
		assert.Equal(t, 1, v)

		_, ok = m.Get("b")
		assert.False(t, ok)

		v, ok = m.Delete("a")
		assert.True(t, ok)
		assert.Equal(t, 1, v)
		_, ok = m.Delete("a")
		assert.False(t, ok)
		assert.Equal(t, 0, m.Len())
	})

	t.Run("delete if test", func(t *testing.T) {
		m := cmap.New[string, int]()
		m.Set("a", 1)

		assert.False(t, m.DeleteIf("a", func(v int) bool { return v == 2 }))
		assert.True(t, m.DeleteIf("a", func(v int) bool { return v == 1 }))
		assert.False(t, m.DeleteIf("missing", func(int) bool { return true }))
	})

	t.Run("keys and values snapshot test", func(t *testing.T) {
		m := cmap.New[string, int]()
		for i := 0; i < 100; i++ {
			m.Set(fmt.Sprintf("k%d", i), i)
		}

		assert.Len(t, m.Keys(), 100)
		assert.Len(t, m.Values(), 100)
		assert.Equal(t, 100, m.Len())
	})

	t.Run("get or create runs newFunc once test", func(t *testing.T) {
		m := cmap.New[string, *int64]()
		var created int64

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				counter, _ := m.GetOrCreate("doc", func() *int64 {
					atomic.AddInt64(&created, 1)
					return new(int64)
				})
				atomic.AddInt64(counter, 1)
			}()
		}
		wg.Wait()

		counter, ok := m.Get("doc")
		assert.True(t, ok)
		assert.Equal(t, int64(1), atomic.LoadInt64(&created))
		assert.Equal(t, int64(50), atomic.LoadInt64(counter))
	})
}
