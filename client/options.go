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

package client

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Option configures Options.
type Option func(*Options)

// Options configures how we set up the client.
type Options struct {
	// UserID is the user ID the gateway trusts for the connection.
	UserID string

	// Header is sent with the opening handshake.
	Header http.Header

	// HandshakeTimeout is the time the opening handshake may take.
	HandshakeTimeout time.Duration

	// EventBufferSize is the number of events kept for Events.
	EventBufferSize int

	// Logger is the Logger of the client.
	Logger *zap.Logger
}

// WithUserID configures the user ID of the client.
func WithUserID(userID string) Option {
	return func(o *Options) { o.UserID = userID }
}

// WithHeader configures the header of the opening handshake.
func WithHeader(header http.Header) Option {
	return func(o *Options) { o.Header = header }
}

// WithHandshakeTimeout configures the timeout of the opening handshake.
func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(o *Options) { o.HandshakeTimeout = timeout }
}

// WithEventBufferSize configures the number of buffered events.
func WithEventBufferSize(size int) Option {
	return func(o *Options) { o.EventBufferSize = size }
}

// WithLogger configures the Logger of the client.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}
