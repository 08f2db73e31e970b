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

// Package types provides the types shared by the server, the transports and
// the client: the collaboration mode, the inbound request envelope and the
// outbound events.
package types

// Mode is the collaboration mode a connection joins a document with.
type Mode string

const (
	// ModeSolo means the connection edits alone. Nothing it does is fanned out.
	ModeSolo Mode = "solo"

	// ModeLive means the connection collaborates with the other live members
	// of the document.
	ModeLive Mode = "live"
)

// IsLive returns whether the mode is live.
func (m Mode) IsLive() bool {
	return m == ModeLive
}
