// Package metrics exposes the Prometheus instrumentation for Ranking Hub.
// One Service instance is created at startup and shared by the
// orchestrator and the HTTP layer; tests create their own instance with
// a private registry so parallel tests never collide on metric names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Service holds all Ranking Hub metric collectors.
type Service struct {
	// CacheHits counts ranking cache hits by category.
	CacheHits *prometheus.CounterVec

	// CacheMisses counts ranking cache misses by category.
	CacheMisses *prometheus.CounterVec

	// UpstreamRequests counts Funifier API calls by operation and outcome.
	UpstreamRequests *prometheus.CounterVec

	// UpstreamRetries counts retry attempts by operation.
	UpstreamRetries *prometheus.CounterVec

	// RequestDuration observes orchestrator operation latency.
	RequestDuration *prometheus.HistogramVec

	// DashboardCompositions counts full dashboard builds by outcome.
	DashboardCompositions *prometheus.CounterVec

	// SnapshotsSaved counts persisted ranking snapshots.
	SnapshotsSaved prometheus.Counter

	// JobRuns counts background job executions by job name and outcome.
	JobRuns *prometheus.CounterVec
}

// NewService creates and registers all collectors. With no arguments it
// registers on the default registry; pass a private registry in tests.
func NewService(reg ...prometheus.Registerer) *Service {
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	if len(reg) > 0 && reg[0] != nil {
		registerer = reg[0]
	}
	factory := promauto.With(registerer)

	return &Service{
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rankinghub",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Ranking cache hits by category.",
		}, []string{"category"}),

		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rankinghub",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Ranking cache misses by category.",
		}, []string{"category"}),

		UpstreamRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rankinghub",
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Funifier API requests by operation and outcome.",
		}, []string{"operation", "outcome"}),

		UpstreamRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rankinghub",
			Subsystem: "upstream",
			Name:      "retries_total",
			Help:      "Funifier API retry attempts by operation.",
		}, []string{"operation"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rankinghub",
			Subsystem: "orchestrator",
			Name:      "request_duration_seconds",
			Help:      "Orchestrator operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		DashboardCompositions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rankinghub",
			Subsystem: "orchestrator",
			Name:      "dashboard_compositions_total",
			Help:      "Full dashboard builds by outcome.",
		}, []string{"outcome"}),

		SnapshotsSaved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rankinghub",
			Subsystem: "snapshots",
			Name:      "saved_total",
			Help:      "Ranking snapshots persisted.",
		}),

		JobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rankinghub",
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Background job executions by job and outcome.",
		}, []string{"job", "outcome"}),
	}
}
