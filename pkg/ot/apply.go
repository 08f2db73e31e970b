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

package ot

// Apply applies the given operation to the text and returns the result.
// Positions out of range are clamped to the text instead of being rejected.
func Apply(text string, op Operation) string {
	switch op.Kind {
	case Insert:
		if op.Content == "" {
			return text
		}

		runes := []rune(text)
		pos := clamp(op.Position, len(runes))
		return string(runes[:pos]) + op.Content + string(runes[pos:])
	case Delete:
		if op.Length == 0 {
			return text
		}

		runes := []rune(text)
		start := clamp(op.Position, len(runes))
		end := min(start+abs(op.Length), len(runes))
		return string(runes[:start]) + string(runes[end:])
	}

	return text
}

// ApplyAll applies the given operations in order.
func ApplyAll(text string, ops ...Operation) string {
	for _, op := range ops {
		text = Apply(text, op)
	}
	return text
}

func clamp(pos, size int) int {
	if pos < 0 {
		return 0
	}
	if pos > size {
		return size
	}
	return pos
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
