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

// Package profiling serves the metrics of a node and, optionally, the pprof
// endpoints on a port separate from the websocket gateway.
package profiling

import (
	"errors"
	"fmt"
)

// ErrInvalidProfilingPort is returned when the port is not a TCP port.
var ErrInvalidProfilingPort = errors.New("invalid port number for profiling server")

// Config is the configuration of the profiling server.
type Config struct {
	// Port is the port of the profiling server.
	Port int `yaml:"Port"`

	// EnablePprof serves /debug/pprof alongside the metrics.
	EnablePprof bool `yaml:"EnablePprof"`
}

// Addr returns the listen address of the profiling server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates this config.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d: %w", c.Port, ErrInvalidProfilingPort)
	}
	return nil
}
