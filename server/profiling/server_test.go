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

package profiling_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kriya-team/kriya/server/profiling"
	"github.com/kriya-team/kriya/server/profiling/prometheus"
)

func TestServer(t *testing.T) {
	get := func(t *testing.T, h http.Handler, path string) (int, string) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		body, err := io.ReadAll(rec.Result().Body)
		require.NoError(t, err)
		return rec.Code, string(body)
	}

	t.Run("metrics test", func(t *testing.T) {
		metrics, err := prometheus.NewMetrics()
		require.NoError(t, err)

		s := profiling.NewServer(&profiling.Config{Port: 11102}, metrics)
		code, body := get(t, s.Handler(), "/metrics")
		assert.Equal(t, http.StatusOK, code)
		assert.Contains(t, body, "kriya_server_version")

		code, _ = get(t, s.Handler(), "/debug/pprof/")
		assert.Equal(t, http.StatusNotFound, code)
	})

	t.Run("pprof test", func(t *testing.T) {
		s := profiling.NewServer(&profiling.Config{Port: 11102, EnablePprof: true}, nil)
		code, _ := get(t, s.Handler(), "/debug/pprof/goroutine?debug=1")
		assert.Equal(t, http.StatusOK, code)

		code, _ = get(t, s.Handler(), "/metrics")
		assert.Equal(t, http.StatusNotFound, code)
	})
}
