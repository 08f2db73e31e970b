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

package rpc

import (
	"errors"
	"fmt"
	"os"
	"time"
)

var (
	// ErrInvalidRPCPort occurs when the port in the config is invalid.
	ErrInvalidRPCPort = errors.New("invalid port number for RPC server")
	// ErrInvalidCertFile occurs when the certificate file is invalid.
	ErrInvalidCertFile = errors.New("invalid cert file for RPC server")
	// ErrInvalidKeyFile occurs when the key file is invalid.
	ErrInvalidKeyFile = errors.New("invalid key file for RPC server")
	// ErrInvalidPingInterval occurs when the ping interval is not shorter
	// than the pong wait.
	ErrInvalidPingInterval = errors.New("invalid ping interval for RPC server")
	// ErrInvalidMessageRate occurs when the message rate is invalid.
	ErrInvalidMessageRate = errors.New("invalid message rate for RPC server")
)

// Config is the configuration for creating a Server instance.
type Config struct {
	// Port is the port number for the RPC server.
	Port int `yaml:"Port"`

	// CertFile is the path to the certificate file.
	CertFile string `yaml:"CertFile"`

	// KeyFile is the path to the key file.
	KeyFile string `yaml:"KeyFile"`

	// MaxRequestBytes is the maximum size of an inbound message.
	MaxRequestBytes int64 `yaml:"MaxRequestBytes"`

	// PongWait is the time allowed to read the next pong from a connection.
	PongWait string `yaml:"PongWait"`

	// PingInterval is the period of pings. It must be shorter than PongWait.
	PingInterval string `yaml:"PingInterval"`

	// WriteWait is the time allowed to write a message to a connection.
	WriteWait string `yaml:"WriteWait"`

	// SendBufferSize is the number of outbound messages queued per connection.
	SendBufferSize int `yaml:"SendBufferSize"`

	// MessageRate is the number of inbound messages per second allowed per
	// connection. Zero disables the limit.
	MessageRate float64 `yaml:"MessageRate"`

	// MessageBurst is the number of inbound messages allowed at once.
	MessageBurst int `yaml:"MessageBurst"`

	// AllowedOrigins lists the origins allowed to open a connection. Empty
	// allows every origin.
	AllowedOrigins []string `yaml:"AllowedOrigins"`
}

// Validate validates the port number and the files for certification.
func (c *Config) Validate() error {
	if c.Port < 1 || 65535 < c.Port {
		return fmt.Errorf("must be between 1 and 65535, given %d: %w", c.Port, ErrInvalidRPCPort)
	}

	// when specific cert or key file are configured
	if c.CertFile != "" {
		if _, err := os.Stat(c.CertFile); err != nil {
			return fmt.Errorf("%s: %w", c.CertFile, ErrInvalidCertFile)
		}
	}

	if c.KeyFile != "" {
		if _, err := os.Stat(c.KeyFile); err != nil {
			return fmt.Errorf("%s: %w", c.KeyFile, ErrInvalidKeyFile)
		}
	}

	pongWait, err := time.ParseDuration(c.PongWait)
	if err != nil {
		return fmt.Errorf("pong wait %s: %w", c.PongWait, err)
	}
	pingInterval, err := time.ParseDuration(c.PingInterval)
	if err != nil {
		return fmt.Errorf("ping interval %s: %w", c.PingInterval, err)
	}
	if pingInterval <= 0 || pingInterval >= pongWait {
		return fmt.Errorf("%s with pong wait %s: %w", c.PingInterval, c.PongWait, ErrInvalidPingInterval)
	}
	if _, err := time.ParseDuration(c.WriteWait); err != nil {
		return fmt.Errorf("write wait %s: %w", c.WriteWait, err)
	}

	if c.MessageRate < 0 || (c.MessageRate > 0 && c.MessageBurst <= 0) {
		return fmt.Errorf("rate %f burst %d: %w", c.MessageRate, c.MessageBurst, ErrInvalidMessageRate)
	}

	return nil
}

type timeouts struct {
	pongWait     time.Duration
	pingInterval time.Duration
	writeWait    time.Duration
}

// timeouts parses the durations of the config. It must be called on a
// validated config.
func (c *Config) timeouts() timeouts {
	pongWait, _ := time.ParseDuration(c.PongWait)
	pingInterval, _ := time.ParseDuration(c.PingInterval)
	writeWait, _ := time.ParseDuration(c.WriteWait)

	return timeouts{
		pongWait:     pongWait,
		pingInterval: pingInterval,
		writeWait:    writeWait,
	}
}
