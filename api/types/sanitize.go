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

package types

import (
	"math"
	"strings"
	"unicode/utf8"
)

const (
	// MaxPayloadSize is the maximum size of an inbound message in bytes.
	MaxPayloadSize = 10000

	// MaxStringLength is the maximum length of a string field in characters.
	MaxStringLength = 1000

	// MaxNumber is the maximum absolute value of a numeric field.
	MaxNumber = 1000000
)

// allowedKeys are the keys kept at any depth of an inbound message.
var allowedKeys = map[string]bool{
	"action":     true,
	"documentId": true,
	"mode":       true,
	"operation":  true,
	"cursor":     true,
	"type":       true,
	"position":   true,
	"content":    true,
	"length":     true,
	"line":       true,
	"column":     true,
}

// SanitizeString strips markup-special and control characters, trims the
// result and truncates it to MaxStringLength characters.
func SanitizeString(s string) string {
	stripped := strings.Map(func(r rune) rune {
		switch {
		case r == '<', r == '>', r == '"', r == '\'', r == '&':
			return -1
		case r <= 0x1f, r >= 0x7f && r <= 0x9f:
			return -1
		}
		return r
	}, s)
	stripped = strings.TrimSpace(stripped)

	if utf8.RuneCountInString(stripped) <= MaxStringLength {
		return stripped
	}
	return string([]rune(stripped)[:MaxStringLength])
}

// SanitizeNumber truncates the number to an integer clamped to ±MaxNumber.
func SanitizeNumber(n float64) float64 {
	return math.Trunc(math.Max(-MaxNumber, math.Min(MaxNumber, n)))
}

// Sanitize returns a copy of the decoded message that keeps only allowed
// keys, sanitized strings, clamped numbers, booleans and nested objects.
// Arrays, nulls and non-finite numbers are dropped.
func Sanitize(m map[string]any) map[string]any {
	sanitized := make(map[string]any, len(m))
	for key, value := range m {
		if !allowedKeys[key] {
			continue
		}

		switch v := value.(type) {
		case string:
			sanitized[key] = SanitizeString(v)
		case float64:
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			sanitized[key] = SanitizeNumber(v)
		case bool:
			sanitized[key] = v
		case map[string]any:
			sanitized[key] = Sanitize(v)
		}
	}
	return sanitized
}
