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

package mongo

import (
	"context"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/event"
	"go.uber.org/zap"

	"github.com/kriya-team/kriya/server/logging"
)

// QueryMonitor logs the commands sent to MongoDB. Commands slower than the
// threshold are logged as warnings.
type QueryMonitor struct {
	logger    logging.Logger
	threshold time.Duration
}

// NewQueryMonitor creates a new instance of QueryMonitor. A zero threshold
// disables slow query warnings.
func NewQueryMonitor(threshold time.Duration) *QueryMonitor {
	return &QueryMonitor{
		logger:    logging.New("mongo"),
		threshold: threshold,
	}
}

// CommandMonitor returns the driver hooks of this monitor.
func (m *QueryMonitor) CommandMonitor() *event.CommandMonitor {
	return &event.CommandMonitor{
		Started: func(_ context.Context, evt *event.CommandStartedEvent) {
			if logging.Enabled(zap.DebugLevel) {
				m.logger.Debugf("mongo %d %s started on %s", evt.RequestID, evt.CommandName, evt.DatabaseName)
			}
		},
		Succeeded: func(_ context.Context, evt *event.CommandSucceededEvent) {
			if m.threshold > 0 && evt.Duration > m.threshold {
				m.logger.Warnf("mongo %d %s slow: %s", evt.RequestID, evt.CommandName, evt.Duration)
				return
			}
			m.logger.Debugf("mongo %d %s done: %s", evt.RequestID, evt.CommandName, evt.Duration)
		},
		Failed: func(_ context.Context, evt *event.CommandFailedEvent) {
			if isConflict(evt.Failure) {
				m.logger.Debugf("mongo %d %s conflict: %v", evt.RequestID, evt.CommandName, evt.Failure)
				return
			}
			m.logger.Warnf("mongo %d %s failed after %s: %v", evt.RequestID, evt.CommandName, evt.Duration, evt.Failure)
		},
	}
}

// isConflict reports whether the failure is a duplicate key on a document or
// session upsert. Those are raced by nodes and retried by the caller.
func isConflict(failure error) bool {
	if failure == nil {
		return false
	}

	msg := failure.Error()
	if !strings.Contains(msg, "E11000") {
		return false
	}
	return strings.Contains(msg, ColDocuments) || strings.Contains(msg, ColSessions)
}
