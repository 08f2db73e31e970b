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

package server_test

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kriya-team/kriya/server"
	"github.com/kriya-team/kriya/server/rpc"
)

func TestNewConfigFromFile(t *testing.T) {
	t.Run("fail read config file test", func(t *testing.T) {
		conf := server.NewConfig()
		assert.Equal(t, conf.RPCAddr(), "localhost:"+strconv.Itoa(server.DefaultRPCPort))
		_, err := server.NewConfigFromFile("nowhere.yml")
		assert.Error(t, err)
		assert.Equal(t, conf.RPC.Port, server.DefaultRPCPort)
		assert.Equal(t, conf.RPC.CertFile, "")
		assert.Equal(t, conf.RPC.KeyFile, "")
		assert.Equal(t, conf.Backend.BroadcastPageSize, server.DefaultBroadcastPageSize)
		assert.NoError(t, conf.Validate())
	})

	t.Run("read config file test", func(t *testing.T) {
		conf, err := server.NewConfigFromFile("config.sample.yml")
		assert.NoError(t, err)
		assert.NoError(t, conf.Validate())

		assert.Equal(t, conf.RPC.Port, server.DefaultRPCPort)
		assert.Equal(t, conf.RPC.MaxRequestBytes, int64(server.DefaultRPCMaxRequestBytes))

		connTimeout, err := time.ParseDuration(conf.Mongo.ConnectionTimeout)
		assert.NoError(t, err)
		assert.Equal(t, connTimeout, server.DefaultMongoConnectionTimeout)
		assert.Equal(t, conf.Mongo.ConnectionURI, server.DefaultMongoConnectionURI)
		assert.Equal(t, conf.Mongo.KriyaDatabase, server.DefaultMongoKriyaDatabase)

		window, err := time.ParseDuration(conf.Backend.LivenessWindow)
		assert.NoError(t, err)
		assert.Equal(t, window, server.DefaultLivenessWindow)
		assert.Equal(t, conf.Backend.PersistBreakerFailures, uint32(server.DefaultPersistBreakerFailures))

		assert.Nil(t, conf.DynamoDB)
		assert.Nil(t, conf.Postgres)
		assert.Nil(t, conf.Redis)
	})

	t.Run("fill defaults of a partial file test", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "partial.yml")
		require.NoError(t, os.WriteFile(path, []byte("Redis:\n  Addr: localhost:6379\nDynamoDB:\n  Region: us-east-1\n"), 0o600))

		conf, err := server.NewConfigFromFile(path)
		require.NoError(t, err)
		assert.NoError(t, conf.Validate())

		assert.Equal(t, server.DefaultRPCPort, conf.RPC.Port)
		assert.Equal(t, server.DefaultBroadcastTimeout.String(), conf.Backend.BroadcastTimeout)
		assert.Equal(t, server.DefaultDynamoConnectionsTable, conf.DynamoDB.ConnectionsTable)
		assert.Equal(t, "kriya:conn:", conf.Redis.ChannelPrefix)

		dbConf := conf.DatabaseConfig()
		assert.Nil(t, dbConf.Mongo)
		assert.Equal(t, conf.DynamoDB, dbConf.DynamoDB)
	})

	t.Run("invalid sub config test", func(t *testing.T) {
		conf := server.NewConfig()
		conf.RPC.Port = -1
		assert.ErrorIs(t, conf.Validate(), rpc.ErrInvalidRPCPort)

		conf = server.NewConfig()
		conf.Backend.BroadcastTimeout = "soon"
		assert.Error(t, conf.Validate())
	})
}
