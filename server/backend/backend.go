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

// Package backend provides the backend implementation of Kriya. This package
// is responsible for managing the database and other resources required to
// run Kriya.
package backend

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/kriya-team/kriya/server/backend/background"
	"github.com/kriya-team/kriya/server/backend/database"
	"github.com/kriya-team/kriya/server/backend/database/dynamo"
	memdb "github.com/kriya-team/kriya/server/backend/database/memory"
	"github.com/kriya-team/kriya/server/backend/database/mongo"
	"github.com/kriya-team/kriya/server/backend/database/postgres"
	"github.com/kriya-team/kriya/server/backend/housekeeping"
	"github.com/kriya-team/kriya/server/backend/sync"
	"github.com/kriya-team/kriya/server/documents"
	"github.com/kriya-team/kriya/server/logging"
	"github.com/kriya-team/kriya/server/profiling/prometheus"
)

// DatabaseConfig selects the store of sessions and documents. The first
// non-nil config wins in the order MongoDB, DynamoDB, Postgres. Without any,
// an in-memory database is used.
type DatabaseConfig struct {
	Mongo    *mongo.Config
	DynamoDB *dynamo.Config
	Postgres *postgres.Config
}

// Backend manages Kriya's backend such as the database, the lockers and the
// background routines.
type Backend struct {
	Config *Config

	// Lockers is used to lock/unlock resources.
	Lockers *sync.LockerManager
	// Documents serializes the writes of documents.
	Documents *documents.Store

	// Background is used to manage background tasks.
	Background *background.Background
	// Housekeeping removes expired sessions.
	Housekeeping *housekeeping.Housekeeping

	// Metrics is used to expose metrics.
	Metrics *prometheus.Metrics
	// DB is the database instance.
	DB database.Database
}

// New creates a new instance of Backend.
func New(
	conf *Config,
	dbConf *DatabaseConfig,
	housekeepingConf *housekeeping.Config,
	metrics *prometheus.Metrics,
) (*Backend, error) {
	// 01. Fill the hostname with the hostname of the current machine.
	if conf.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("os.Hostname: %w", err)
		}
		conf.Hostname = hostname
	}

	// 02. Create the lockers and the background task manager.
	lockers := sync.New()
	bg := background.New(metrics)

	// 03. Create the database instance.
	db, dbInfo, err := dialDatabase(dbConf, conf)
	if err != nil {
		return nil, err
	}

	// 04. Create the document store and the housekeeping instance.
	docs := documents.New(
		db,
		documents.WithMaxRetries(conf.PersistMaxRetries),
		documents.WithLockerManager(lockers),
	)
	housekeeper, err := housekeeping.New(housekeepingConf, db, lockers)
	if err != nil {
		return nil, err
	}

	logging.DefaultLogger().Infof("backend created: db: %s", dbInfo)

	return &Backend{
		Config: conf,

		Lockers:   lockers,
		Documents: docs,

		Background:   bg,
		Housekeeping: housekeeper,

		Metrics: metrics,
		DB:      db,
	}, nil
}

func dialDatabase(dbConf *DatabaseConfig, conf *Config) (database.Database, string, error) {
	window := conf.ParseLivenessWindow()
	if dbConf == nil {
		dbConf = &DatabaseConfig{}
	}

	switch {
	case dbConf.Mongo != nil:
		db, err := mongo.Dial(dbConf.Mongo, window)
		return db, dbConf.Mongo.ConnectionURI, err
	case dbConf.DynamoDB != nil:
		db, err := dynamo.Dial(context.Background(), dbConf.DynamoDB, window)
		return db, "dynamodb " + dbConf.DynamoDB.Region, err
	case dbConf.Postgres != nil:
		db, err := postgres.Dial(dbConf.Postgres, window)
		return db, "postgres", err
	default:
		db, err := memdb.New(memdb.WithLivenessWindow(window))
		return db, "memory", err
	}
}

// Start starts the background routines of the backend.
func (b *Backend) Start() error {
	if err := b.Housekeeping.Start(); err != nil {
		return err
	}

	logging.DefaultLogger().Infof("backend started")
	return nil
}

// Shutdown closes all resources of this instance.
func (b *Backend) Shutdown() error {
	var errs []error

	if err := b.Housekeeping.Stop(); err != nil {
		errs = append(errs, err)
	}

	b.Background.Close()

	if err := b.DB.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	logging.DefaultLogger().Infof("backend stopped")
	return nil
}
