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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kriya-team/kriya/server"
	"github.com/kriya-team/kriya/server/backend"
	"github.com/kriya-team/kriya/server/logging"
)

var flagOnce bool

func newHousekeepingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "housekeeping [options]",
		Short: "Start Kriya housekeeping routine",
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
			if err := conf.Housekeeping.Validate(); err != nil {
				return err
			}
			if err := conf.Backend.Validate(); err != nil {
				return err
			}

			be, err := backend.New(conf.Backend, conf.DatabaseConfig(), conf.Housekeeping, nil)
			if err != nil {
				return err
			}

			if flagOnce {
				removed, err := be.Housekeeping.RemoveExpiredSessions(context.Background())
				if shutdownErr := be.Shutdown(); shutdownErr != nil {
					logging.DefaultLogger().Warnf("shutdown: %v", shutdownErr)
				}
				if err != nil {
					return err
				}
				cmd.Printf("removed %d expired sessions\n", removed)
				return nil
			}

			if err := be.Start(); err != nil {
				return err
			}
			logging.DefaultLogger().Infof("housekeeping started: interval: %s", conf.Housekeeping.Interval)

			if code := handleHousekeepingSignal(be); code != 0 {
				return fmt.Errorf("exit code: %d", code)
			}

			return nil
		},
	}
}

func handleHousekeepingSignal(be *backend.Backend) int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	<-sigCh

	if err := be.Shutdown(); err != nil {
		logging.DefaultLogger().Errorf("shutdown: %v", err)
		return 1
	}

	return 0
}

func init() {
	cmd := newHousekeepingCmd()
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
	cmd.Flags().BoolVar(
		&flagOnce,
		"once",
		false,
		"Run a single pass and exit",
	)
	cmd.Flags().DurationVar(
		&housekeepingInterval,
		"housekeeping-interval",
		server.DefaultHousekeepingInterval,
		"housekeeping interval between housekeeping runs",
	)
	cmd.Flags().DurationVar(
		&livenessWindow,
		"liveness-window",
		server.DefaultLivenessWindow,
		"Time a session stays a member of its document without activity.",
	)
	cmd.Flags().StringVar(
		&mongoConnectionURI,
		"mongo-connection-uri",
		"",
		"MongoDB's connection URI",
	)
	cmd.Flags().StringVar(
		&dynamoConnectionsTable,
		"dynamodb-connections-table",
		"",
		"DynamoDB table of sessions. Setting it selects DynamoDB.",
	)
	cmd.Flags().StringVar(
		&postgresConnectionURI,
		"postgres-connection-uri",
		"",
		"PostgreSQL's connection URI",
	)

	rootCmd.AddCommand(cmd)
}
