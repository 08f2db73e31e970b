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

package profiling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kriya-team/kriya/server/logging"
	"github.com/kriya-team/kriya/server/profiling/prometheus"
)

const (
	metricsPath = "/metrics"
	pprofPath   = "/debug/pprof/"
)

// runtimeProfiles are served through pprof.Handler.
var runtimeProfiles = []string{"heap", "goroutine", "allocs", "block", "mutex", "threadcreate"}

// Server serves the metrics registry and the pprof endpoints.
type Server struct {
	conf       *Config
	mux        *http.ServeMux
	httpServer *http.Server
	logger     logging.Logger
}

// NewServer creates an instance of Server. A nil metrics serves no /metrics.
func NewServer(conf *Config, metrics *prometheus.Metrics) *Server {
	mux := http.NewServeMux()

	if metrics != nil {
		mux.Handle(metricsPath, promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{
			ErrorLog: promLogger{logging.New("prom")},
		}))
	}

	if conf.EnablePprof {
		mux.HandleFunc(pprofPath, pprof.Index)
		mux.HandleFunc(pprofPath+"cmdline", pprof.Cmdline)
		mux.HandleFunc(pprofPath+"profile", pprof.Profile)
		mux.HandleFunc(pprofPath+"symbol", pprof.Symbol)
		mux.HandleFunc(pprofPath+"trace", pprof.Trace)
		for _, name := range runtimeProfiles {
			mux.Handle(pprofPath+name, pprof.Handler(name))
		}
	}

	return &Server{
		conf:       conf,
		mux:        mux,
		httpServer: &http.Server{Addr: conf.Addr(), Handler: mux},
		logger:     logging.New("prof"),
	}
}

// Handler returns the handler of this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens on the configured port and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen profiling %s: %w", s.httpServer.Addr, err)
	}

	go func() {
		s.logger.Infof("profiling server listening on %s", ln.Addr())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("serve profiling: %v", err)
		}
	}()
	return nil
}

// Shutdown stops the server. A graceful shutdown waits for in-flight
// scrapes.
func (s *Server) Shutdown(graceful bool) {
	var err error
	if graceful {
		err = s.httpServer.Shutdown(context.Background())
	} else {
		err = s.httpServer.Close()
	}
	if err != nil {
		s.logger.Errorf("shutdown profiling: %v", err)
	}
}

// promLogger adapts a Logger to the promhttp error log.
type promLogger struct {
	logger logging.Logger
}

func (l promLogger) Println(v ...interface{}) {
	l.logger.Error(v...)
}
