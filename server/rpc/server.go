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

// Package rpc provides the websocket gateway of the kriya server. Each
// connection is served by a reader and a writer goroutine and its messages
// are handed to the coordinator.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kriya-team/kriya/api/types"
	"github.com/kriya-team/kriya/server/coordinator"
	"github.com/kriya-team/kriya/server/logging"
	"github.com/kriya-team/kriya/server/profiling/prometheus"
	"github.com/kriya-team/kriya/server/rpc/httphealth"
)

const (
	// WebsocketPath is the path connections are upgraded on.
	WebsocketPath = "/ws"

	// UserIDHeader carries the identity the authenticating proxy established.
	UserIDHeader = "X-User-ID"

	// UserIDParam carries the identity for clients that cannot set headers.
	UserIDParam = "userId"

	transportName = "websocket"
)

type connID int32

func (c *connID) next() string {
	next := atomic.AddInt32((*int32)(c), 1)
	return "c" + strconv.Itoa(int(next))
}

// Server is a normal server that processes the logic requested by the client.
type Server struct {
	conf        *Config
	hub         *Hub
	coordinator *coordinator.Coordinator
	metrics     *prometheus.Metrics

	upgrader   websocket.Upgrader
	serveMux   *http.ServeMux
	httpServer *http.Server

	connID connID

	// mu guards closing and the Add of wg, so that no connection is tracked
	// once Shutdown waits for them.
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// NewServer creates a new instance of Server.
func NewServer(
	conf *Config,
	hub *Hub,
	coord *coordinator.Coordinator,
	metrics *prometheus.Metrics,
	checker httphealth.Checker,
) *Server {
	s := &Server{
		conf:        conf,
		hub:         hub,
		coordinator: coord,
		metrics:     metrics,
		serveMux:    http.NewServeMux(),
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	s.serveMux.HandleFunc(WebsocketPath, s.serveWebsocket)
	s.serveMux.Handle(httphealth.NewHandler(checker))
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", conf.Port),
		Handler: s.serveMux,
	}

	return s
}

// Handler returns the handler of this server.
func (s *Server) Handler() http.Handler {
	return s.serveMux
}

// Start starts the server.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}

	go func() {
		logging.DefaultLogger().Infof("serving RPC on %d", s.conf.Port)

		var err error
		if s.conf.CertFile != "" && s.conf.KeyFile != "" {
			err = s.httpServer.ServeTLS(ln, s.conf.CertFile, s.conf.KeyFile)
		} else {
			err = s.httpServer.Serve(ln)
		}
		if !errors.Is(err, http.ErrServerClosed) {
			logging.DefaultLogger().Errorf("RPC server Serve: %v", err)
		}
	}()

	return nil
}

// Shutdown shuts down the server. A graceful shutdown closes every
// connection and waits for their sessions to be removed.
func (s *Server) Shutdown(graceful bool) {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	if graceful {
		if err := s.httpServer.Shutdown(context.Background()); err != nil {
			logging.DefaultLogger().Errorf("RPC server Shutdown: %v", err)
		}
		s.hub.closeAll()
		s.wg.Wait()
		return
	}

	if err := s.httpServer.Close(); err != nil {
		logging.DefaultLogger().Errorf("RPC server Close: %v", err)
	}
	s.hub.closeAll()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.conf.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.conf.AllowedOrigins, r.Header.Get("Origin"))
}

// serveWebsocket upgrades the request and serves the connection until it
// closes. The identity is trusted as handed over by the proxy.
func (s *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(UserIDHeader)
	if userID == "" {
		userID = r.URL.Query().Get(UserIDParam)
	}
	userID = types.SanitizeString(userID)

	if !s.track() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.DefaultLogger().Warnf("upgrade: %v", err)
		return
	}

	c := newConn(uuid.NewString(), userID, ws, s.conf)
	logger := logging.New(s.connID.next(), logging.NewField("connection_id", c.id))
	ctx := logging.With(context.Background(), logger)

	if err := s.coordinator.Connect(ctx, c.id, c.userID); err != nil {
		logger.Errorf("connect: %v", err)
		_ = ws.Close()
		return
	}

	s.hub.attach(ctx, c)
	if s.metrics != nil {
		s.metrics.AddConnections(transportName)
	}

	go c.writePump(ctx)
	c.readPump(ctx, s.conf.MaxRequestBytes, func(ctx context.Context, payload []byte) {
		if err := s.coordinator.HandleMessage(ctx, c.id, payload); err != nil {
			logger.Debugf("handle message: %v", err)
		}
	})

	// The session goes first so that deliveries racing the teardown never
	// find a live member without a connection.
	if err := s.coordinator.Disconnect(ctx, c.id); err != nil {
		logger.Warnf("disconnect: %v", err)
	}
	c.close()
	s.hub.detach(ctx, c)
	if s.metrics != nil {
		s.metrics.RemoveConnections(transportName)
	}
}

// track counts a new connection unless the server is shutting down.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return false
	}
	s.wg.Add(1)
	return true
}
