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

package server

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kriya-team/kriya/server/backend"
	"github.com/kriya-team/kriya/server/backend/database/dynamo"
	"github.com/kriya-team/kriya/server/backend/database/mongo"
	"github.com/kriya-team/kriya/server/backend/database/postgres"
	"github.com/kriya-team/kriya/server/backend/housekeeping"
	"github.com/kriya-team/kriya/server/profiling"
	"github.com/kriya-team/kriya/server/rpc"
	"github.com/kriya-team/kriya/server/rpc/relay"
)

// Below are the values of the default values of Kriya config.
const (
	DefaultRPCPort            = 11101
	DefaultRPCMaxRequestBytes = 10000
	DefaultRPCPongWait        = 60 * time.Second
	DefaultRPCPingInterval    = 54 * time.Second
	DefaultRPCWriteWait       = 10 * time.Second
	DefaultRPCSendBufferSize  = 256
	DefaultRPCMessageRate     = 50
	DefaultRPCMessageBurst    = 100

	DefaultProfilingPort = 11102

	DefaultHousekeepingInterval        = housekeeping.DefaultInterval
	DefaultHousekeepingCandidatesLimit = housekeeping.DefaultCandidatesLimit

	DefaultLivenessWindow         = 24 * time.Hour
	DefaultBroadcastTimeout       = 5 * time.Second
	DefaultBroadcastPageSize      = 50
	DefaultPersistMaxRetries      = 5
	DefaultPersistBreakerFailures = 5
	DefaultPersistBreakerTimeout  = 30 * time.Second
	DefaultCursorThrottleWindow   = 50 * time.Millisecond
	DefaultMaxCursorLine          = 10000
	DefaultMaxCursorColumn        = 1000

	DefaultMongoConnectionURI                = "mongodb://localhost:27017"
	DefaultMongoConnectionTimeout            = 5 * time.Second
	DefaultMongoPingTimeout                  = 5 * time.Second
	DefaultMongoKriyaDatabase                = "kriya-meta"
	DefaultMongoCacheSize                    = 1000
	DefaultMongoMonitoringSlowQueryThreshold = 100 * time.Millisecond

	DefaultDynamoConnectionsTable = "kriya-connections"
	DefaultDynamoDocumentsTable   = "kriya-documents"

	DefaultPostgresConnectionTimeout = 5 * time.Second

	DefaultHostname = ""
)

// Config is the configuration for creating a Kriya instance.
type Config struct {
	RPC          *rpc.Config          `yaml:"RPC"`
	Profiling    *profiling.Config    `yaml:"Profiling"`
	Housekeeping *housekeeping.Config `yaml:"Housekeeping"`
	Backend      *backend.Config      `yaml:"Backend"`
	Mongo        *mongo.Config        `yaml:"Mongo"`
	DynamoDB     *dynamo.Config       `yaml:"DynamoDB"`
	Postgres     *postgres.Config     `yaml:"Postgres"`
	Redis        *relay.Config        `yaml:"Redis"`
}

// NewConfig returns a Config struct that contains reasonable defaults
// for most of the configurations.
func NewConfig() *Config {
	return newConfig(DefaultRPCPort, DefaultProfilingPort)
}

// NewConfigFromFile returns a Config struct for the given conf file.
func NewConfigFromFile(path string) (*Config, error) {
	conf := &Config{}
	bytes, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err = yaml.Unmarshal(bytes, conf); err != nil {
		return nil, fmt.Errorf("unmarshal config file: %w", err)
	}

	conf.ensureDefaultValue()
	return conf, nil
}

// RPCAddr returns the RPC address.
func (c *Config) RPCAddr() string {
	return fmt.Sprintf("localhost:%d", c.RPC.Port)
}

// DatabaseConfig returns the config of the database the backend dials.
func (c *Config) DatabaseConfig() *backend.DatabaseConfig {
	return &backend.DatabaseConfig{
		Mongo:    c.Mongo,
		DynamoDB: c.DynamoDB,
		Postgres: c.Postgres,
	}
}

// Validate returns an error if the provided Config is invalidated.
func (c *Config) Validate() error {
	if err := c.RPC.Validate(); err != nil {
		return err
	}

	if err := c.Profiling.Validate(); err != nil {
		return err
	}

	if err := c.Housekeeping.Validate(); err != nil {
		return err
	}

	if err := c.Backend.Validate(); err != nil {
		return err
	}

	if c.Mongo != nil {
		if err := c.Mongo.Validate(); err != nil {
			return err
		}
	}

	if c.DynamoDB != nil {
		if err := c.DynamoDB.Validate(); err != nil {
			return err
		}
	}

	if c.Postgres != nil {
		if err := c.Postgres.Validate(); err != nil {
			return err
		}
	}

	if c.Redis != nil {
		if err := c.Redis.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// ensureDefaultValue sets the value of the option to which the default value
// should be applied when the user does not input it.
func (c *Config) ensureDefaultValue() {
	defaults := newConfig(DefaultRPCPort, DefaultProfilingPort)
	if c.RPC == nil {
		c.RPC = defaults.RPC
	}
	if c.Profiling == nil {
		c.Profiling = defaults.Profiling
	}
	if c.Housekeeping == nil {
		c.Housekeeping = defaults.Housekeeping
	}
	if c.Backend == nil {
		c.Backend = defaults.Backend
	}

	if c.RPC.Port == 0 {
		c.RPC.Port = DefaultRPCPort
	}
	if c.RPC.MaxRequestBytes == 0 {
		c.RPC.MaxRequestBytes = DefaultRPCMaxRequestBytes
	}
	if c.RPC.PongWait == "" {
		c.RPC.PongWait = DefaultRPCPongWait.String()
	}
	if c.RPC.PingInterval == "" {
		c.RPC.PingInterval = DefaultRPCPingInterval.String()
	}
	if c.RPC.WriteWait == "" {
		c.RPC.WriteWait = DefaultRPCWriteWait.String()
	}
	if c.RPC.SendBufferSize == 0 {
		c.RPC.SendBufferSize = DefaultRPCSendBufferSize
	}

	if c.Profiling.Port == 0 {
		c.Profiling.Port = DefaultProfilingPort
	}

	if c.Housekeeping.Interval == "" {
		c.Housekeeping.Interval = DefaultHousekeepingInterval.String()
	}
	if c.Housekeeping.CandidatesLimit == 0 {
		c.Housekeeping.CandidatesLimit = DefaultHousekeepingCandidatesLimit
	}

	if c.Backend.LivenessWindow == "" {
		c.Backend.LivenessWindow = DefaultLivenessWindow.String()
	}
	if c.Backend.BroadcastTimeout == "" {
		c.Backend.BroadcastTimeout = DefaultBroadcastTimeout.String()
	}
	if c.Backend.BroadcastPageSize == 0 {
		c.Backend.BroadcastPageSize = DefaultBroadcastPageSize
	}
	if c.Backend.PersistMaxRetries == 0 {
		c.Backend.PersistMaxRetries = DefaultPersistMaxRetries
	}
	if c.Backend.PersistBreakerTimeout == "" {
		c.Backend.PersistBreakerTimeout = DefaultPersistBreakerTimeout.String()
	}
	if c.Backend.CursorThrottleWindow == "" {
		c.Backend.CursorThrottleWindow = DefaultCursorThrottleWindow.String()
	}
	if c.Backend.MaxCursorLine == 0 {
		c.Backend.MaxCursorLine = DefaultMaxCursorLine
	}
	if c.Backend.MaxCursorColumn == 0 {
		c.Backend.MaxCursorColumn = DefaultMaxCursorColumn
	}

	if c.Mongo != nil {
		if c.Mongo.ConnectionURI == "" {
			c.Mongo.ConnectionURI = DefaultMongoConnectionURI
		}
		if c.Mongo.ConnectionTimeout == "" {
			c.Mongo.ConnectionTimeout = DefaultMongoConnectionTimeout.String()
		}
		if c.Mongo.KriyaDatabase == "" {
			c.Mongo.KriyaDatabase = DefaultMongoKriyaDatabase
		}
		if c.Mongo.PingTimeout == "" {
			c.Mongo.PingTimeout = DefaultMongoPingTimeout.String()
		}
		if c.Mongo.CacheSize == 0 {
			c.Mongo.CacheSize = DefaultMongoCacheSize
		}
		if c.Mongo.MonitoringEnabled && c.Mongo.MonitoringSlowQueryThreshold == "" {
			c.Mongo.MonitoringSlowQueryThreshold = DefaultMongoMonitoringSlowQueryThreshold.String()
		}
	}

	if c.DynamoDB != nil {
		if c.DynamoDB.ConnectionsTable == "" {
			c.DynamoDB.ConnectionsTable = DefaultDynamoConnectionsTable
		}
		if c.DynamoDB.DocumentsTable == "" {
			c.DynamoDB.DocumentsTable = DefaultDynamoDocumentsTable
		}
		if c.DynamoDB.DocumentIndex == "" {
			c.DynamoDB.DocumentIndex = dynamo.DefaultDocumentIndex
		}
	}

	if c.Postgres != nil && c.Postgres.ConnectionTimeout == "" {
		c.Postgres.ConnectionTimeout = DefaultPostgresConnectionTimeout.String()
	}

	if c.Redis != nil && c.Redis.ChannelPrefix == "" {
		c.Redis.ChannelPrefix = relay.DefaultChannelPrefix
	}
}

func newConfig(port int, profilingPort int) *Config {
	return &Config{
		RPC: &rpc.Config{
			Port:            port,
			MaxRequestBytes: DefaultRPCMaxRequestBytes,
			PongWait:        DefaultRPCPongWait.String(),
			PingInterval:    DefaultRPCPingInterval.String(),
			WriteWait:       DefaultRPCWriteWait.String(),
			SendBufferSize:  DefaultRPCSendBufferSize,
			MessageRate:     DefaultRPCMessageRate,
			MessageBurst:    DefaultRPCMessageBurst,
		},
		Profiling: &profiling.Config{
			Port: profilingPort,
		},
		Housekeeping: &housekeeping.Config{
			Interval:        DefaultHousekeepingInterval.String(),
			CandidatesLimit: DefaultHousekeepingCandidatesLimit,
		},
		Backend: &backend.Config{
			Hostname:               DefaultHostname,
			LivenessWindow:         DefaultLivenessWindow.String(),
			BroadcastTimeout:       DefaultBroadcastTimeout.String(),
			BroadcastPageSize:      DefaultBroadcastPageSize,
			PersistMaxRetries:      DefaultPersistMaxRetries,
			PersistBreakerFailures: DefaultPersistBreakerFailures,
			PersistBreakerTimeout:  DefaultPersistBreakerTimeout.String(),
			CursorThrottleWindow:   DefaultCursorThrottleWindow.String(),
			MaxCursorLine:          DefaultMaxCursorLine,
			MaxCursorColumn:        DefaultMaxCursorColumn,
		},
	}
}
