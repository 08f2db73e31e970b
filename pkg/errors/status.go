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

// Package errors provides errors that carry a status. The status tells the
// transport how to answer the originating connection and tells the caller
// whether the failure is the client's fault or a server-side degradation.
package errors

import (
	"fmt"
	"net/http"
)

// StatusCode represents the status of an error.
type StatusCode int

const (
	// ErrCodeInvalidArgument indicates that the message is malformed or out of
	// range. Nothing has been changed when it is returned.
	ErrCodeInvalidArgument StatusCode = 3

	// ErrCodeNotFound indicates that the document or the session does not exist.
	ErrCodeNotFound StatusCode = 5

	// ErrCodeAlreadyExists indicates that the document to create already exists.
	ErrCodeAlreadyExists StatusCode = 6

	// ErrCodeResourceExhausted indicates that the connection exceeded its rate.
	ErrCodeResourceExhausted StatusCode = 8

	// ErrCodeFailedPrecondition indicates that a conditional write lost against
	// a concurrent writer.
	ErrCodeFailedPrecondition StatusCode = 9

	// ErrCodeInternal indicates a failure the message cannot recover from.
	ErrCodeInternal StatusCode = 13

	// ErrCodeUnavailable indicates a transient failure of a store.
	ErrCodeUnavailable StatusCode = 14
)

// String returns the string representation of the status.
func (c StatusCode) String() string {
	switch c {
	case ErrCodeInvalidArgument:
		return "invalid_argument"
	case ErrCodeNotFound:
		return "not_found"
	case ErrCodeAlreadyExists:
		return "already_exists"
	case ErrCodeResourceExhausted:
		return "resource_exhausted"
	case ErrCodeFailedPrecondition:
		return "failed_precondition"
	case ErrCodeInternal:
		return "internal"
	case ErrCodeUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("code_%d", int(c))
	}
}

// HTTPStatus returns the HTTP status that answers a message failing with
// this status. Errors without a status are answered as internal errors.
func (c StatusCode) HTTPStatus() int {
	switch c {
	case ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeAlreadyExists, ErrCodeFailedPrecondition:
		return http.StatusConflict
	case ErrCodeResourceExhausted:
		return http.StatusTooManyRequests
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsClientError returns true if the status represents a client-side error.
func (c StatusCode) IsClientError() bool {
	switch c {
	case ErrCodeInvalidArgument, ErrCodeNotFound, ErrCodeAlreadyExists,
		ErrCodeResourceExhausted, ErrCodeFailedPrecondition:
		return true
	default:
		return false
	}
}

// IsServerError returns true if the status represents a server-side error.
func (c StatusCode) IsServerError() bool {
	switch c {
	case ErrCodeInternal, ErrCodeUnavailable:
		return true
	default:
		return false
	}
}
