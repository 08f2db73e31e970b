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

// Package prometheus provides a Prometheus metrics exporter.
package prometheus

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kriya-team/kriya/internal/version"
)

const (
	namespace      = "kriya"
	actionLabel    = "action"
	statusLabel    = "status"
	resultLabel    = "result"
	transportLabel = "transport"
	taskTypeLabel  = "task_type"
)

// Below are the results of a delivery to one connection.
const (
	DeliverySuccess = "success"
	DeliveryFailure = "failure"
	DeliveryGone    = "gone"
)

// Metrics manages the metric information that Kriya is trying to measure.
type Metrics struct {
	registry *prometheus.Registry

	serverVersion *prometheus.GaugeVec

	messagesHandledTotal   *prometheus.CounterVec
	messageHandlingSeconds *prometheus.HistogramVec

	broadcastDeliveriesTotal *prometheus.CounterVec
	broadcastSeconds         prometheus.Histogram

	persistenceFailuresTotal prometheus.Counter

	connectionsTotal *prometheus.GaugeVec

	backgroundGoroutinesTotal *prometheus.GaugeVec
}

// NewMetrics creates a new instance of Metrics.
func NewMetrics() (*Metrics, error) {
	reg := prometheus.NewRegistry()

	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}

	metrics := &Metrics{
		registry: reg,
		serverVersion: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "version",
			Help:      "Which version is running. 1 for 'server_version' label with current version.",
		}, []string{"server_version"}),
		messagesHandledTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "messages_handled_total",
			Help:      "Total number of inbound messages handled, regardless of success or failure.",
		}, []string{actionLabel, statusLabel}),
		messageHandlingSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "message_handling_seconds",
			Help:      "The time taken to handle an inbound message.",
		}, []string{actionLabel}),
		broadcastDeliveriesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "deliveries_total",
			Help:      "Total number of deliveries to connections by result.",
		}, []string{resultLabel}),
		broadcastSeconds: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "seconds",
			Help:      "The time taken to deliver one message to every recipient.",
		}),
		persistenceFailuresTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "persistence_failures_total",
			Help:      "Total number of operations broadcast without being persisted.",
		}),
		connectionsTotal: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "connections_total",
			Help:      "The number of open connections.",
		}, []string{transportLabel}),
		backgroundGoroutinesTotal: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "background",
			Name:      "goroutines_total",
			Help:      "The total number of goroutines attached by the backend.",
		}, []string{taskTypeLabel}),
	}

	metrics.serverVersion.With(prometheus.Labels{
		"server_version": version.Version,
	}).Set(1)

	return metrics, nil
}

// AddMessageHandled adds the number of handled messages of the given action
// and status.
func (m *Metrics) AddMessageHandled(action, status string) {
	m.messagesHandledTotal.With(prometheus.Labels{
		actionLabel: action,
		statusLabel: status,
	}).Inc()
}

// ObserveMessageHandlingSeconds observes the time taken to handle a message.
func (m *Metrics) ObserveMessageHandlingSeconds(action string, seconds float64) {
	m.messageHandlingSeconds.With(prometheus.Labels{
		actionLabel: action,
	}).Observe(seconds)
}

// AddBroadcastDeliveries adds the number of deliveries with the given result.
func (m *Metrics) AddBroadcastDeliveries(result string, count int) {
	if count == 0 {
		return
	}

	m.broadcastDeliveriesTotal.With(prometheus.Labels{
		resultLabel: result,
	}).Add(float64(count))
}

// ObserveBroadcastSeconds observes the time taken by one broadcast.
func (m *Metrics) ObserveBroadcastSeconds(seconds float64) {
	m.broadcastSeconds.Observe(seconds)
}

// AddPersistenceFailure counts an operation that could not be persisted.
func (m *Metrics) AddPersistenceFailure() {
	m.persistenceFailuresTotal.Inc()
}

// AddConnections adds the number of open connections of the transport.
func (m *Metrics) AddConnections(transport string) {
	m.connectionsTotal.With(prometheus.Labels{
		transportLabel: transport,
	}).Inc()
}

// RemoveConnections removes the number of open connections of the transport.
func (m *Metrics) RemoveConnections(transport string) {
	m.connectionsTotal.With(prometheus.Labels{
		transportLabel: transport,
	}).Dec()
}

// AddBackgroundGoroutines adds the number of goroutines attached by a
// particular background task.
func (m *Metrics) AddBackgroundGoroutines(taskType string) {
	m.backgroundGoroutinesTotal.With(prometheus.Labels{
		taskTypeLabel: taskType,
	}).Inc()
}

// RemoveBackgroundGoroutines removes the number of goroutines attached by a
// particular background task.
func (m *Metrics) RemoveBackgroundGoroutines(taskType string) {
	m.backgroundGoroutinesTotal.With(prometheus.Labels{
		taskTypeLabel: taskType,
	}).Dec()
}

// Registry returns the registry of this metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
