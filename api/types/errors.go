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
	"github.com/kriya-team/kriya/pkg/errors"
)

var (
	// ErrPayloadTooLarge is returned when a message exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.Internal("payload exceeds size limit").WithCode("ErrPayloadTooLarge")

	// ErrInvalidJSON is returned when a message is not a JSON object.
	ErrInvalidJSON = errors.Internal("invalid JSON format").WithCode("ErrInvalidJSON")

	// ErrMissingField is returned when a required field is absent.
	ErrMissingField = errors.Internal("missing required field").WithCode("ErrMissingField")

	// ErrUnknownAction is returned when the action is not supported.
	ErrUnknownAction = errors.InvalidArgument("unknown action").WithCode("ErrUnknownAction")

	// ErrInvalidRequest is returned when a field has an invalid value.
	ErrInvalidRequest = errors.InvalidArgument("invalid request").WithCode("ErrInvalidRequest")
)
