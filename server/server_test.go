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

package server_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kriya-team/kriya/api/types"
	"github.com/kriya-team/kriya/client"
	"github.com/kriya-team/kriya/test/helper"
)

func TestServer(t *testing.T) {
	ctx := context.Background()

	t.Run("serve and shutdown test", func(t *testing.T) {
		svr, err := helper.TestServer()
		require.NoError(t, err)

		a, err := client.Dial(ctx, helper.WebsocketURL(svr.RPCAddr()), client.WithUserID("alice"))
		require.NoError(t, err)
		b, err := client.Dial(ctx, helper.WebsocketURL(svr.RPCAddr()), client.WithUserID("bob"))
		require.NoError(t, err)

		_, err = a.Join(ctx, "doc1", types.ModeLive)
		require.NoError(t, err)
		_, err = b.Join(ctx, "doc1", types.ModeLive)
		require.NoError(t, err)

		require.NoError(t, a.Insert(0, "hello"))
		assert.Eventually(t, func() bool { return b.Text() == "hello" }, 3*time.Second, 10*time.Millisecond)

		resp, err := http.Get(fmt.Sprintf("http://%s/healthz", svr.RPCAddr()))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NoError(t, resp.Body.Close())

		assert.NoError(t, svr.Shutdown(true))
		<-a.Done()
		<-b.Done()
		<-svr.ShutdownCh()
		assert.NoError(t, svr.Shutdown(true))
	})

	t.Run("metrics are served test", func(t *testing.T) {
		conf := helper.TestConfig()
		svr, err := helper.TestServerWith(conf)
		require.NoError(t, err)
		defer func() { assert.NoError(t, svr.Shutdown(false)) }()

		c, err := client.Dial(ctx, helper.WebsocketURL(svr.RPCAddr()))
		require.NoError(t, err)
		_, err = c.Join(ctx, "doc1", types.ModeSolo)
		require.NoError(t, err)
		require.NoError(t, c.Close())

		url := fmt.Sprintf("http://localhost:%d/metrics", conf.Profiling.Port)
		assert.Eventually(t, func() bool {
			resp, err := http.Get(url)
			if err != nil {
				return false
			}
			defer func() { _ = resp.Body.Close() }()

			body, err := io.ReadAll(resp.Body)
			return err == nil &&
				strings.Contains(string(body), "kriya_server_version") &&
				strings.Contains(string(body), "kriya_coordinator_messages_handled_total")
		}, 3*time.Second, 50*time.Millisecond)
	})

	t.Run("expired sessions are removed test", func(t *testing.T) {
		svr, err := helper.TestServer()
		require.NoError(t, err)
		defer func() { assert.NoError(t, svr.Shutdown(false)) }()

		removed, err := svr.RemoveExpiredSessions(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 0, removed)
	})
}
