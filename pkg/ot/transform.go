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

// Transform rebases two operations authored concurrently against the same
// text. It returns (a', b') where a' is a rebased over b and b' is b rebased
// over a, so that Apply(Apply(t, a), b') equals Apply(Apply(t, b), a') for
// non-overlapping edits.
//
// NOTE: Insertions at the same position favor the first argument. The order
// is not symmetric, so convergence across three or more sites is not
// guaranteed.
func Transform(a, b Operation) (Operation, Operation) {
	switch {
	case a.Kind == Insert && b.Kind == Insert:
		return transformInsertInsert(a, b)
	case a.Kind == Insert && b.Kind == Delete:
		return transformInsertDelete(a, b)
	case a.Kind == Delete && b.Kind == Insert:
		ins, del := transformInsertDelete(b, a)
		return del, ins
	case a.Kind == Delete && b.Kind == Delete:
		return transformDeleteDelete(a, b)
	}

	return a, b
}

func transformInsertInsert(a, b Operation) (Operation, Operation) {
	if a.Position <= b.Position {
		b.Position += a.ContentLen()
		return a, b
	}

	a.Position += b.ContentLen()
	return a, b
}

func transformInsertDelete(ins, del Operation) (Operation, Operation) {
	if ins.Position <= del.Position {
		del.Position += ins.ContentLen()
		return ins, del
	}

	if ins.Position >= del.end() {
		ins.Position -= del.Length
		return ins, del
	}

	// The insertion lands inside the deleted range: pin it to the start of
	// the range and let the deletion swallow it.
	ins.Position = del.Position
	del.Length += ins.ContentLen()
	return ins, del
}

func transformDeleteDelete(a, b Operation) (Operation, Operation) {
	if a.end() <= b.Position {
		b.Position -= a.Length
		return a, b
	}

	if b.end() <= a.Position {
		a.Position -= b.Length
		return a, b
	}

	start := min(a.Position, b.Position)
	end := max(a.end(), b.end())
	a.Position = start
	a.Length = end - start
	return a, Noop()
}
