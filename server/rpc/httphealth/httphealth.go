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

// Package httphealth uses http GET to provide a health check for the server.
package httphealth

import (
	"context"
	"encoding/json"
	"net/http"
)

// Path is the path the health check is served on.
const Path = "/healthz"

// Below are the statuses of a health check.
const (
	StatusServing    = "SERVING"
	StatusNotServing = "NOT_SERVING"
)

// CheckResponse represents the response structure for health checks.
type CheckResponse struct {
	Status string `json:"status"`
}

// Checker reports whether the server can serve.
type Checker func(ctx context.Context) error

// NewHandler creates a new HTTP handler for health checks.
func NewHandler(checker Checker) (string, http.Handler) {
	check := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		code, status := http.StatusOK, StatusServing
		if checker != nil {
			if err := checker(r.Context()); err != nil {
				code, status = http.StatusServiceUnavailable, StatusNotServing
			}
		}

		resp, err := json.Marshal(CheckResponse{status})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if r.Method == http.MethodGet {
			_, _ = w.Write(resp)
		}
	})
	return Path, check
}
