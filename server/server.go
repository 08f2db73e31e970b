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

// Package server provides the Kriya server which is the main entry point of the
// Kriya system. The server is responsible for starting the websocket gateway
// and the profiling server.
package server

import (
	"context"
	"errors"
	gosync "sync"

	"github.com/kriya-team/kriya/server/backend"
	"github.com/kriya-team/kriya/server/backend/broadcast"
	"github.com/kriya-team/kriya/server/backend/database"
	"github.com/kriya-team/kriya/server/coordinator"
	"github.com/kriya-team/kriya/server/logging"
	"github.com/kriya-team/kriya/server/profiling"
	"github.com/kriya-team/kriya/server/profiling/prometheus"
	"github.com/kriya-team/kriya/server/rpc"
	"github.com/kriya-team/kriya/server/rpc/relay"
)

// healthSessionID is looked up by the health check. No session has it.
const healthSessionID = "_healthz"

// Kriya is a server of Kriya.
// The server receives operations from the clients, stores them in the
// database, and relays them to the other members of the document.
type Kriya struct {
	lock gosync.Mutex

	conf            *Config
	backend         *backend.Backend
	relay           *relay.Relay
	rpcServer       *rpc.Server
	profilingServer *profiling.Server

	shutdown   bool
	shutdownCh chan struct{}
}

// New creates a new instance of Kriya.
func New(conf *Config) (*Kriya, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	metrics, err := prometheus.NewMetrics()
	if err != nil {
		return nil, err
	}

	be, err := backend.New(
		conf.Backend,
		conf.DatabaseConfig(),
		conf.Housekeeping,
		metrics,
	)
	if err != nil {
		return nil, err
	}

	// Without Redis, the connections of this process are all there is.
	hub := rpc.NewHub()
	var sender broadcast.Sender = hub
	var rl *relay.Relay
	if conf.Redis != nil {
		if rl, err = relay.Dial(conf.Redis, hub); err != nil {
			return nil, errors.Join(err, be.Shutdown())
		}
		sender = rl
	}

	rpcServer := rpc.NewServer(
		conf.RPC,
		hub,
		coordinator.New(be, sender),
		metrics,
		healthChecker(be.DB),
	)

	var profilingServer *profiling.Server
	if conf.Profiling != nil {
		profilingServer = profiling.NewServer(conf.Profiling, metrics)
	}

	return &Kriya{
		conf:            conf,
		backend:         be,
		relay:           rl,
		rpcServer:       rpcServer,
		profilingServer: profilingServer,
		shutdownCh:      make(chan struct{}),
	}, nil
}

// healthChecker reports whether the database answers.
func healthChecker(db database.Database) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := db.FindSession(ctx, healthSessionID)
		if err != nil && !errors.Is(err, database.ErrSessionNotFound) {
			return err
		}
		return nil
	}
}

// Start starts the server by opening the rpc port.
func (r *Kriya) Start() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if err := r.backend.Start(); err != nil {
		return err
	}

	if r.profilingServer != nil {
		if err := r.profilingServer.Start(); err != nil {
			return err
		}
	}

	return r.rpcServer.Start()
}

// Shutdown shuts down this Kriya server.
func (r *Kriya) Shutdown(graceful bool) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.shutdown {
		return nil
	}

	r.rpcServer.Shutdown(graceful)
	if r.profilingServer != nil {
		r.profilingServer.Shutdown(graceful)
	}

	if r.relay != nil {
		if err := r.relay.Close(); err != nil {
			logging.DefaultLogger().Warnf("close relay: %v", err)
		}
	}

	if err := r.backend.Shutdown(); err != nil {
		return err
	}

	close(r.shutdownCh)
	r.shutdown = true
	return nil
}

// ShutdownCh returns the shutdown channel.
func (r *Kriya) ShutdownCh() <-chan struct{} {
	return r.shutdownCh
}

// RPCAddr returns the address of the RPC.
func (r *Kriya) RPCAddr() string {
	return r.conf.RPCAddr()
}

// RemoveExpiredSessions runs one housekeeping pass. It is used for testing.
func (r *Kriya) RemoveExpiredSessions(ctx context.Context) (int, error) {
	return r.backend.Housekeeping.RemoveExpiredSessions(ctx)
}
