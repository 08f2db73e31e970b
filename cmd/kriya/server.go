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

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kriya-team/kriya/server"
	"github.com/kriya-team/kriya/server/backend/database/dynamo"
	"github.com/kriya-team/kriya/server/backend/database/mongo"
	"github.com/kriya-team/kriya/server/backend/database/postgres"
	"github.com/kriya-team/kriya/server/logging"
	"github.com/kriya-team/kriya/server/rpc/relay"
)

var (
	gracefulTimeout = 10 * time.Second
)

var (
	flagConfPath  string
	flagLogLevel  string
	flagLogFormat string

	housekeepingInterval  = server.DefaultHousekeepingInterval
	livenessWindow        = server.DefaultLivenessWindow
	broadcastTimeout      = server.DefaultBroadcastTimeout
	persistBreakerTimeout = server.DefaultPersistBreakerTimeout
	cursorThrottleWindow  = server.DefaultCursorThrottleWindow

	mongoConnectionURI     string
	mongoConnectionTimeout = server.DefaultMongoConnectionTimeout
	mongoKriyaDatabase     = server.DefaultMongoKriyaDatabase
	mongoPingTimeout       = server.DefaultMongoPingTimeout
	mongoCacheSize         = server.DefaultMongoCacheSize

	dynamoRegion           string
	dynamoEndpoint         string
	dynamoConnectionsTable string
	dynamoDocumentsTable   = server.DefaultDynamoDocumentsTable
	dynamoCreateTables     bool

	postgresConnectionURI     string
	postgresConnectionTimeout = server.DefaultPostgresConnectionTimeout
	postgresMaxConns          int32

	redisAddr     string
	redisPassword string
	redisDB       int

	conf = server.NewConfig()
)

func newServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server [options]",
		Short: "Start Kriya server",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyFlags()

			// If config file is given, command-line arguments will be overwritten.
			if flagConfPath != "" {
				parsed, err := server.NewConfigFromFile(flagConfPath)
				if err != nil {
					return err
				}
				conf = parsed
			}

			if err := logging.SetLogLevel(flagLogLevel); err != nil {
				return err
			}
			if err := logging.SetLogFormat(flagLogFormat); err != nil {
				return err
			}

			k, err := server.New(conf)
			if err != nil {
				return err
			}

			if err := k.Start(); err != nil {
				return err
			}

			if code := handleSignal(k); code != 0 {
				return fmt.Errorf("exit code: %d", code)
			}

			return nil
		},
	}
}

// applyFlags copies the flags that are not bound to the config directly.
func applyFlags() {
	conf.Housekeeping.Interval = housekeepingInterval.String()
	conf.Backend.LivenessWindow = livenessWindow.String()
	conf.Backend.BroadcastTimeout = broadcastTimeout.String()
	conf.Backend.PersistBreakerTimeout = persistBreakerTimeout.String()
	conf.Backend.CursorThrottleWindow = cursorThrottleWindow.String()

	if mongoConnectionURI != "" {
		conf.Mongo = &mongo.Config{
			ConnectionURI:     mongoConnectionURI,
			ConnectionTimeout: mongoConnectionTimeout.String(),
			KriyaDatabase:     mongoKriyaDatabase,
			PingTimeout:       mongoPingTimeout.String(),
			CacheSize:         mongoCacheSize,
		}
	}

	if dynamoConnectionsTable != "" {
		conf.DynamoDB = &dynamo.Config{
			Region:           dynamoRegion,
			Endpoint:         dynamoEndpoint,
			ConnectionsTable: dynamoConnectionsTable,
			DocumentsTable:   dynamoDocumentsTable,
			DocumentIndex:    dynamo.DefaultDocumentIndex,
			CreateTables:     dynamoCreateTables,
		}
	}

	if postgresConnectionURI != "" {
		conf.Postgres = &postgres.Config{
			ConnectionURI:     postgresConnectionURI,
			ConnectionTimeout: postgresConnectionTimeout.String(),
			MaxConns:          postgresMaxConns,
		}
	}

	if redisAddr != "" {
		conf.Redis = &relay.Config{
			Addr:          redisAddr,
			Password:      redisPassword,
			DB:            redisDB,
			ChannelPrefix: relay.DefaultChannelPrefix,
		}
	}
}

func handleSignal(k *server.Kriya) int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	var sig os.Signal
	select {
	case s := <-sigCh:
		sig = s
	case <-k.ShutdownCh():
		// kriya is already shutdown
		return 0
	}

	graceful := false
	if sig == syscall.SIGINT || sig == syscall.SIGTERM {
		graceful = true
	}

	gracefulCh := make(chan struct{})
	go func() {
		if err := k.Shutdown(graceful); err != nil {
			return
		}
		close(gracefulCh)
	}()

	select {
	case <-sigCh:
		return 1
	case <-time.After(gracefulTimeout):
		return 1
	case <-gracefulCh:
		return 0
	}
}

func init() {
	cmd := newServerCmd()
	cmd.Flags().StringVarP(
		&flagConfPath,
		"config",
		"c",
		"",
		"Config path",
	)
	cmd.Flags().StringVarP(
		&flagLogLevel,
		"log-level",
		"l",
		"info",
		"Log level: debug, info, warn, error, panic, fatal",
	)
	cmd.Flags().StringVar(
		&flagLogFormat,
		"log-format",
		"console",
		"Log format: console, json",
	)
	cmd.Flags().IntVar(
		&conf.RPC.Port,
		"rpc-port",
		server.DefaultRPCPort,
		"RPC port",
	)
	cmd.Flags().StringVar(
		&conf.RPC.CertFile,
		"rpc-cert-file",
		"",
		"RPC certification file's path",
	)
	cmd.Flags().StringVar(
		&conf.RPC.KeyFile,
		"rpc-key-file",
		"",
		"RPC key file's path",
	)
	cmd.Flags().Int64Var(
		&conf.RPC.MaxRequestBytes,
		"rpc-max-request-bytes",
		server.DefaultRPCMaxRequestBytes,
		"Maximum inbound message size in bytes the server will accept.",
	)
	cmd.Flags().Float64Var(
		&conf.RPC.MessageRate,
		"rpc-message-rate",
		server.DefaultRPCMessageRate,
		"Inbound messages allowed per second on a connection. 0 disables the limit.",
	)
	cmd.Flags().IntVar(
		&conf.RPC.MessageBurst,
		"rpc-message-burst",
		server.DefaultRPCMessageBurst,
		"Inbound messages allowed at once on a connection.",
	)
	cmd.Flags().StringSliceVar(
		&conf.RPC.AllowedOrigins,
		"rpc-allowed-origins",
		nil,
		"Origins allowed to open a connection. Empty allows every origin.",
	)
	cmd.Flags().IntVar(
		&conf.Profiling.Port,
		"profiling-port",
		server.DefaultProfilingPort,
		"Profiling port",
	)
	cmd.Flags().BoolVar(
		&conf.Profiling.EnablePprof,
		"enable-pprof",
		false,
		"Enable runtime profiling data via HTTP server.",
	)
	cmd.Flags().DurationVar(
		&housekeepingInterval,
		"housekeeping-interval",
		server.DefaultHousekeepingInterval,
		"housekeeping interval between housekeeping runs",
	)
	cmd.Flags().IntVar(
		&conf.Housekeeping.CandidatesLimit,
		"housekeeping-candidates-limit",
		server.DefaultHousekeepingCandidatesLimit,
		"expired sessions removed by a single housekeeping run",
	)
	cmd.Flags().StringVar(
		&conf.Backend.Hostname,
		"hostname",
		server.DefaultHostname,
		"Kriya's hostname. Empty uses the hostname of the machine.",
	)
	cmd.Flags().DurationVar(
		&livenessWindow,
		"liveness-window",
		server.DefaultLivenessWindow,
		"Time a session stays a member of its document without activity.",
	)
	cmd.Flags().DurationVar(
		&broadcastTimeout,
		"broadcast-timeout",
		server.DefaultBroadcastTimeout,
		"Time one delivery attempt may take.",
	)
	cmd.Flags().IntVar(
		&conf.Backend.BroadcastPageSize,
		"broadcast-page-size",
		server.DefaultBroadcastPageSize,
		"Number of connections delivered to at once.",
	)
	cmd.Flags().Int64Var(
		&conf.Backend.BroadcastMaxConcurrency,
		"broadcast-max-concurrency",
		0,
		"Deliveries in flight across the process. 0 means unbounded.",
	)
	cmd.Flags().IntVar(
		&conf.Backend.PersistMaxRetries,
		"persist-max-retries",
		server.DefaultPersistMaxRetries,
		"Retries of a document write conflicting with another process.",
	)
	cmd.Flags().Uint32Var(
		&conf.Backend.PersistBreakerFailures,
		"persist-breaker-failures",
		server.DefaultPersistBreakerFailures,
		"Consecutive persistence failures that open the circuit breaker. 0 never opens it.",
	)
	cmd.Flags().DurationVar(
		&persistBreakerTimeout,
		"persist-breaker-timeout",
		server.DefaultPersistBreakerTimeout,
		"Time the persistence circuit breaker stays open.",
	)
	cmd.Flags().DurationVar(
		&cursorThrottleWindow,
		"cursor-throttle-window",
		server.DefaultCursorThrottleWindow,
		"Minimum time between two cursor broadcasts of a connection.",
	)
	cmd.Flags().StringVar(
		&mongoConnectionURI,
		"mongo-connection-uri",
		"",
		"MongoDB's connection URI",
	)
	cmd.Flags().DurationVar(
		&mongoConnectionTimeout,
		"mongo-connection-timeout",
		server.DefaultMongoConnectionTimeout,
		"Mongo DB's connection timeout",
	)
	cmd.Flags().StringVar(
		&mongoKriyaDatabase,
		"mongo-kriya-database",
		server.DefaultMongoKriyaDatabase,
		"Kriya's database name in MongoDB",
	)
	cmd.Flags().DurationVar(
		&mongoPingTimeout,
		"mongo-ping-timeout",
		server.DefaultMongoPingTimeout,
		"Mongo DB's ping timeout",
	)
	cmd.Flags().IntVar(
		&mongoCacheSize,
		"mongo-cache-size",
		server.DefaultMongoCacheSize,
		"Number of documents kept in the snapshot cache",
	)
	cmd.Flags().StringVar(
		&dynamoRegion,
		"dynamodb-region",
		"",
		"AWS region of the DynamoDB tables",
	)
	cmd.Flags().StringVar(
		&dynamoEndpoint,
		"dynamodb-endpoint",
		"",
		"DynamoDB endpoint override, e.g. a local DynamoDB",
	)
	cmd.Flags().StringVar(
		&dynamoConnectionsTable,
		"dynamodb-connections-table",
		"",
		"DynamoDB table of sessions. Setting it selects DynamoDB.",
	)
	cmd.Flags().StringVar(
		&dynamoDocumentsTable,
		"dynamodb-documents-table",
		server.DefaultDynamoDocumentsTable,
		"DynamoDB table of documents",
	)
	cmd.Flags().BoolVar(
		&dynamoCreateTables,
		"dynamodb-create-tables",
		false,
		"Create missing DynamoDB tables on start",
	)
	cmd.Flags().StringVar(
		&postgresConnectionURI,
		"postgres-connection-uri",
		"",
		"PostgreSQL's connection URI",
	)
	cmd.Flags().DurationVar(
		&postgresConnectionTimeout,
		"postgres-connection-timeout",
		server.DefaultPostgresConnectionTimeout,
		"PostgreSQL's connection timeout",
	)
	cmd.Flags().Int32Var(
		&postgresMaxConns,
		"postgres-max-conns",
		0,
		"Maximum connections of the PostgreSQL pool. 0 uses the driver default.",
	)
	cmd.Flags().StringVar(
		&redisAddr,
		"redis-addr",
		"",
		"Redis address relaying events between nodes. Empty runs a single node.",
	)
	cmd.Flags().StringVar(
		&redisPassword,
		"redis-password",
		"",
		"Redis password",
	)
	cmd.Flags().IntVar(
		&redisDB,
		"redis-db",
		0,
		"Redis database number",
	)

	rootCmd.AddCommand(cmd)
}
