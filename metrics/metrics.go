// Package metrics provides Prometheus instrumentation for the workflow
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts workflow invocations by final status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flume",
			Subsystem: "workflow",
			Name:      "runs_total",
			Help:      "Total number of workflow invocations by final status",
		},
		[]string{"workflow", "status"}, // "succeeded", "failed"
	)

	// RunDuration tracks workflow invocation duration.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flume",
			Subsystem: "workflow",
			Name:      "run_duration_seconds",
			Help:      "Workflow invocation duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"workflow", "status"},
	)

	// NodeExecutionsTotal counts node executions by status.
	NodeExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flume",
			Subsystem: "workflow",
			Name:      "node_executions_total",
			Help:      "Total number of node executions by status",
		},
		[]string{"workflow", "node", "status"},
	)

	// EventsPublishedTotal counts publish events by topic.
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flume",
			Subsystem: "topic",
			Name:      "events_published_total",
			Help:      "Total number of events published by topic",
		},
		[]string{"workflow", "topic"},
	)

	// EventsConsumedTotal counts consume events by topic.
	EventsConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flume",
			Subsystem: "topic",
			Name:      "events_consumed_total",
			Help:      "Total number of events consumed by topic",
		},
		[]string{"workflow", "topic"},
	)
)
