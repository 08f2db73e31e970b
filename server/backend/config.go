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

package backend

import (
	"fmt"
	"os"
	"time"
)

// Config is the configuration for creating a Backend instance.
type Config struct {
	// Hostname is the kriya server hostname. It is used by logs and metrics.
	Hostname string `yaml:"Hostname"`

	// LivenessWindow is the time a session stays a member of its document
	// without activity. Default is "24h".
	LivenessWindow string `yaml:"LivenessWindow"`

	// BroadcastTimeout is the time one delivery attempt may take. Default is "5s".
	BroadcastTimeout string `yaml:"BroadcastTimeout"`

	// BroadcastPageSize is the number of connections delivered to at once.
	BroadcastPageSize int `yaml:"BroadcastPageSize"`

	// BroadcastMaxConcurrency bounds the deliveries in flight across the
	// process. Zero means unbounded.
	BroadcastMaxConcurrency int64 `yaml:"BroadcastMaxConcurrency"`

	// PersistMaxRetries is the number of times a write that conflicts with
	// another process is retried.
	PersistMaxRetries int `yaml:"PersistMaxRetries"`

	// PersistBreakerFailures is the number of consecutive persistence
	// failures that opens the circuit breaker.
	PersistBreakerFailures uint32 `yaml:"PersistBreakerFailures"`

	// PersistBreakerTimeout is the time the circuit breaker stays open.
	PersistBreakerTimeout string `yaml:"PersistBreakerTimeout"`

	// CursorThrottleWindow is the minimum time between two cursor broadcasts
	// of a connection.
	CursorThrottleWindow string `yaml:"CursorThrottleWindow"`

	// MaxCursorLine is the largest line a cursor may point to.
	MaxCursorLine int `yaml:"MaxCursorLine"`

	// MaxCursorColumn is the largest column a cursor may point to.
	MaxCursorColumn int `yaml:"MaxCursorColumn"`
}

// Validate validates this config.
func (c *Config) Validate() error {
	durations := []struct {
		flag  string
		value string
	}{
		{"liveness-window", c.LivenessWindow},
		{"broadcast-timeout", c.BroadcastTimeout},
		{"persist-breaker-timeout", c.PersistBreakerTimeout},
		{"cursor-throttle-window", c.CursorThrottleWindow},
	}
	for _, d := range durations {
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf(`invalid argument "%s" for "--%s" flag: %w`, d.value, d.flag, err)
		}
	}

	if c.BroadcastPageSize <= 0 {
		return fmt.Errorf(`invalid argument "%d" for "--broadcast-page-size" flag`, c.BroadcastPageSize)
	}

	if c.MaxCursorLine <= 0 || c.MaxCursorColumn <= 0 {
		return fmt.Errorf("cursor bounds must be positive, given %d:%d", c.MaxCursorLine, c.MaxCursorColumn)
	}

	return nil
}

// ParseLivenessWindow returns the liveness window of sessions.
func (c *Config) ParseLivenessWindow() time.Duration {
	return mustParseDuration("liveness window", c.LivenessWindow)
}

// ParseBroadcastTimeout returns the timeout of one delivery attempt.
func (c *Config) ParseBroadcastTimeout() time.Duration {
	return mustParseDuration("broadcast timeout", c.BroadcastTimeout)
}

// ParsePersistBreakerTimeout returns the time the breaker stays open.
func (c *Config) ParsePersistBreakerTimeout() time.Duration {
	return mustParseDuration("persist breaker timeout", c.PersistBreakerTimeout)
}

// ParseCursorThrottleWindow returns the window of the cursor throttler.
func (c *Config) ParseCursorThrottleWindow() time.Duration {
	return mustParseDuration("cursor throttle window", c.CursorThrottleWindow)
}

func mustParseDuration(name, value string) time.Duration {
	result, err := time.ParseDuration(value)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse %s: %v\n", name, err)
		os.Exit(1)
	}

	return result
}
