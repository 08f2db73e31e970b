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

package httphealth_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kriya-team/kriya/server/rpc/httphealth"
)

func TestHandler(t *testing.T) {
	check := func(checker httphealth.Checker, method string) (*httptest.ResponseRecorder, httphealth.CheckResponse) {
		path, handler := httphealth.NewHandler(checker)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(method, path, nil))

		var resp httphealth.CheckResponse
		if method == http.MethodGet && rec.Code != http.StatusMethodNotAllowed {
			assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		}
		return rec, resp
	}

	t.Run("serving test", func(t *testing.T) {
		rec, resp := check(nil, http.MethodGet)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, httphealth.StatusServing, resp.Status)
	})

	t.Run("not serving test", func(t *testing.T) {
		rec, resp := check(func(context.Context) error { return errors.New("down") }, http.MethodGet)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, httphealth.StatusNotServing, resp.Status)
	})

	t.Run("method not allowed test", func(t *testing.T) {
		rec, _ := check(nil, http.MethodPost)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}
