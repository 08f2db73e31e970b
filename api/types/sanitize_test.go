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
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kriya-team/kriya/api/types"
)

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "scriptalert(1)/script", types.SanitizeString(`<script>alert(1)</script>`))
	assert.Equal(t, "ab", types.SanitizeString("a\x00\x1fb\u0085"))
	assert.Equal(t, "trimmed", types.SanitizeString("  trimmed \t"))
	assert.Equal(t, "한글", types.SanitizeString("한글"))

	long := strings.Repeat("가", types.MaxStringLength+10)
	assert.Equal(t, types.MaxStringLength, len([]rune(types.SanitizeString(long))))
}

func TestSanitizeNumber(t *testing.T) {
	assert.Equal(t, float64(3), types.SanitizeNumber(3.9))
	assert.Equal(t, float64(-3), types.SanitizeNumber(-3.9))
	assert.Equal(t, float64(types.MaxNumber), types.SanitizeNumber(1e12))
	assert.Equal(t, float64(-types.MaxNumber), types.SanitizeNumber(-1e12))
}

func TestSanitize(t *testing.T) {
	sanitized := types.Sanitize(map[string]any{
		"action":  "operation",
		"__proto": "x",
		"operation": map[string]any{
			"type":     "insert",
			"position": 2.5,
			"content":  "<b>",
			"extra":    1.0,
		},
		"cursor":   []any{1.0, 2.0},
		"mode":     nil,
		"length":   math.Inf(1),
		"position": true,
	})

	assert.Equal(t, map[string]any{
		"action": "operation",
		"operation": map[string]any{
			"type":     "insert",
			"position": float64(2),
			"content":  "b",
		},
		"position": true,
	}, sanitized)
}
