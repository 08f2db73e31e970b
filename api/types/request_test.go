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

package types_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kriya-team/kriya/api/types"
	"github.com/kriya-team/kriya/pkg/errors"
	"github.com/kriya-team/kriya/pkg/ot"
)

func TestParseRequest(t *testing.T) {
	t.Run("join document test", func(t *testing.T) {
		req, err := types.ParseRequest([]byte(`{"action":"join-document","documentId":"doc-1","mode":"live"}`))
		assert.NoError(t, err)
		assert.Equal(t, types.JoinDocument, req.Action)
		assert.Equal(t, "doc-1", req.DocumentID)
		assert.Equal(t, types.ModeLive, req.Mode)
	})

	t.Run("operation test", func(t *testing.T) {
		req, err := types.ParseRequest([]byte(
			`{"action":"operation","documentId":"doc_1","operation":{"type":"insert","position":3.7,"content":"hi"}}`,
		))
		assert.NoError(t, err)
		assert.Equal(t, types.InsertOperation, req.Operation.Type)
		assert.Equal(t, 3, req.Operation.Position)
		assert.Equal(t, "hi", req.Operation.Content)
	})

	t.Run("cursor update test", func(t *testing.T) {
		req, err := types.ParseRequest([]byte(
			`{"action":"cursor-update","documentId":"d","cursor":{"line":10,"column":2}}`,
		))
		assert.NoError(t, err)
		assert.Equal(t, types.Cursor{Line: 10, Column: 2}, *req.Cursor)
	})

	t.Run("unknown keys are dropped test", func(t *testing.T) {
		req, err := types.ParseRequest([]byte(
			`{"action":"join-document","documentId":"d","mode":"solo","admin":true}`,
		))
		assert.NoError(t, err)
		assert.Equal(t, types.ModeSolo, req.Mode)
	})

	t.Run("fatal errors test", func(t *testing.T) {
		big := `{"action":"join-document","documentId":"` + strings.Repeat("a", types.MaxPayloadSize) + `"}`
		payloads := map[string]string{
			"too large":        big,
			"invalid json":      `{"action":`,
			"not an object":     `[1,2]`,
			"missing action":    `{"documentId":"d"}`,
			"missing document":  `{"action":"join-document","mode":"live"}`,
			"missing mode":      `{"action":"join-document","documentId":"d"}`,
			"missing type":      `{"action":"operation","documentId":"d","operation":{"position":1}}`,
			"missing column":    `{"action":"cursor-update","documentId":"d","cursor":{"line":1}}`,
			"operation as text": `{"action":"operation","documentId":"d","operation":"insert"}`,
		}
		for name, payload := range payloads {
			_, err := types.ParseRequest([]byte(payload))
			assert.True(t, errors.IsStatus(err, errors.ErrCodeInternal), name)
		}
	})

	t.Run("invalid arguments test", func(t *testing.T) {
		payloads := map[string]string{
			"unknown action":   `{"action":"delete-everything","documentId":"d"}`,
			"bad document id":  `{"action":"join-document","documentId":"a/b","mode":"live"}`,
			"long document id": `{"action":"join-document","documentId":"` + strings.Repeat("a", 51) + `","mode":"live"}`,
			"bad mode":         `{"action":"join-document","documentId":"d","mode":"shared"}`,
			"stripped mode":    `{"action":"join-document","documentId":"d","mode":"<>"}`,
			"bad operation":    `{"action":"operation","documentId":"d","operation":{"type":"move","position":1}}`,
			"empty insert":     `{"action":"operation","documentId":"d","operation":{"type":"insert","position":1}}`,
			"zero delete":      `{"action":"operation","documentId":"d","operation":{"type":"delete","position":1}}`,
			"empty replace":    `{"action":"operation","documentId":"d","operation":{"type":"replace","position":1}}`,
			"zero cursor":      `{"action":"cursor-update","documentId":"d","cursor":{"line":0,"column":1}}`,
		}
		for name, payload := range payloads {
			_, err := types.ParseRequest([]byte(payload))
			assert.True(t, errors.IsStatus(err, errors.ErrCodeInvalidArgument), name)
		}
	})
}

func TestOperationRequest(t *testing.T) {
	now := time.Now()

	t.Run("insert test", func(t *testing.T) {
		req := &types.OperationRequest{Type: types.InsertOperation, Position: 2, Content: "ab"}
		ops := req.Operations("u1", now)
		assert.Len(t, ops, 1)
		assert.Equal(t, ot.Insert, ops[0].Kind)
		assert.Equal(t, "u1", ops[0].AuthorID)
		assert.Equal(t, now, ops[0].IssuedAt)
	})

	t.Run("negative delete length test", func(t *testing.T) {
		req := &types.OperationRequest{Type: types.DeleteOperation, Position: 2, Length: -3}
		ops := req.Operations("u1", now)
		assert.Equal(t, 3, ops[0].Length)
	})

	t.Run("replace is decomposed test", func(t *testing.T) {
		req := &types.OperationRequest{Type: types.ReplaceOperation, Position: 1, Length: 2, Content: "XY"}
		ops := req.Operations("u1", now)
		assert.Len(t, ops, 2)
		assert.Equal(t, ot.Delete, ops[0].Kind)
		assert.Equal(t, ot.Insert, ops[1].Kind)
		assert.Equal(t, "aXYd", ot.ApplyAll("abcd", ops...))
	})

	t.Run("changes test", func(t *testing.T) {
		assert.False(t, (&types.OperationRequest{Type: types.ReplaceOperation, Position: 1}).Changes())
		assert.True(t, (&types.OperationRequest{Type: types.ReplaceOperation, Length: 1}).Changes())
		assert.True(t, (&types.OperationRequest{Type: types.ReplaceOperation, Content: "x"}).Changes())
	})
}
