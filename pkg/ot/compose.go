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

// Compose squashes adjacent operations of the same kind and author into one.
// Insertions merge when the second starts where the first ends, deletions
// merge when both start at the same position.
func Compose(ops []Operation) []Operation {
	if len(ops) <= 1 {
		return ops
	}

	result := make([]Operation, 0, len(ops))
	current := ops[0]
	for _, next := range ops[1:] {
		if canMerge(current, next) {
			current = merge(current, next)
			continue
		}

		result = append(result, current)
		current = next
	}

	return append(result, current)
}

func canMerge(a, b Operation) bool {
	if a.Kind != b.Kind || a.AuthorID != b.AuthorID {
		return false
	}

	switch a.Kind {
	case Insert:
		return a.Position+a.ContentLen() == b.Position
	case Delete:
		return a.Position == b.Position
	default:
		return false
	}
}

func merge(a, b Operation) Operation {
	switch a.Kind {
	case Insert:
		a.Content += b.Content
	case Delete:
		a.Length += b.Length
	}
	return a
}
