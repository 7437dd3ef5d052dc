// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes the daemon's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors for the permission engine.
type Metrics struct {
	registry *prometheus.Registry

	EventsProcessed *prometheus.CounterVec
	EventFailures   *prometheus.CounterVec
	BackendWrites   *prometheus.CounterVec
	BackendErrors   *prometheus.CounterVec
	QueueDepth      prometheus.Gauge
	BatchSize       prometheus.Histogram
}

// New creates a Metrics instance backed by its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netperm",
			Name:      "events_processed_total",
			Help:      "Events folded into the permission state, by type.",
		}, []string{"type"}),
		EventFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netperm",
			Name:      "event_failures_total",
			Help:      "Events whose backend pushes reported an error, by type.",
		}, []string{"type"}),
		BackendWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netperm",
			Name:      "backend_writes_total",
			Help:      "Update batches pushed to enforcement backends.",
		}, []string{"backend", "op"}),
		BackendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netperm",
			Name:      "backend_errors_total",
			Help:      "Failed backend calls.",
		}, []string{"backend", "op"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "netperm",
			Name:      "event_queue_depth",
			Help:      "Events waiting in the serialized queue.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "netperm",
			Name:      "backend_batch_size",
			Help:      "Number of uids or app-ids per backend call.",
			Buckets:   []float64{1, 2, 5, 10, 50, 100, 500, 1000},
		}),
	}

	m.registry.MustRegister(
		m.EventsProcessed,
		m.EventFailures,
		m.BackendWrites,
		m.BackendErrors,
		m.QueueDepth,
		m.BatchSize,
	)
	return m
}

// Registry returns the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
