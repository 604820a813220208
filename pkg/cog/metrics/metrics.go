// SPDX-FileCopyrightText: Copyright 2026 FlowMind Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes Prometheus instrumentation for tool dispatch
// and workflow execution.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowmind/flowmind/pkg/cog"
)

// Metrics holds the collectors. One instance per process, registered on
// a caller-supplied registry so tests can use isolated registries.
type Metrics struct {
	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	nodeRetries      *prometheus.CounterVec
	runsCompleted    *prometheus.CounterVec
	runsInFlight     prometheus.Gauge
}

// New creates and registers the collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowmind",
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool name, status, and error kind.",
		}, []string{"tool", "status", "error_kind"}),
		toolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowmind",
			Name:      "tool_call_duration_seconds",
			Help:      "Wall-clock duration of tool invocations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		nodeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowmind",
			Name:      "workflow_node_retries_total",
			Help:      "Workflow node retry attempts by error kind.",
		}, []string{"error_kind"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowmind",
			Name:      "workflow_runs_completed_total",
			Help:      "Workflow runs reaching a terminal status.",
		}, []string{"status"}),
		runsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowmind",
			Name:      "workflow_runs_in_flight",
			Help:      "Workflow runs currently executing.",
		}),
	}
	reg.MustRegister(m.toolCalls, m.toolCallDuration, m.nodeRetries, m.runsCompleted, m.runsInFlight)
	return m
}

// ObserveToolCall records one completed tool invocation.
func (m *Metrics) ObserveToolCall(tool string, status cog.CallStatus, kind cog.ErrorKind, duration time.Duration) {
	m.toolCalls.WithLabelValues(tool, string(status), string(kind)).Inc()
	m.toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// ObserveNodeRetry records one workflow node retry.
func (m *Metrics) ObserveNodeRetry(kind cog.ErrorKind) {
	m.nodeRetries.WithLabelValues(string(kind)).Inc()
}

// RunStarted marks a workflow run as in flight.
func (m *Metrics) RunStarted() {
	m.runsInFlight.Inc()
}

// RunCompleted records a workflow run reaching a terminal status.
func (m *Metrics) RunCompleted(status string) {
	m.runsInFlight.Dec()
	m.runsCompleted.WithLabelValues(status).Inc()
}
