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

package relay

import (
	"errors"
	"fmt"
)

// ErrEmptyAddress occurs when the address of Redis is empty.
var ErrEmptyAddress = errors.New("address of Redis is empty")

// Config is the configuration for the relay between server nodes.
type Config struct {
	// Addr is the address of Redis, e.g. localhost:6379.
	Addr string `yaml:"Addr"`

	// Password is the password of Redis.
	Password string `yaml:"Password"`

	// DB is the database number of Redis.
	DB int `yaml:"DB"`

	// ChannelPrefix is the prefix of the channel of each connection.
	ChannelPrefix string `yaml:"ChannelPrefix"`
}

// Validate returns an error if the provided Config is invalidated.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return ErrEmptyAddress
	}
	if c.DB < 0 {
		return fmt.Errorf("invalid DB %d", c.DB)
	}

	return nil
}
