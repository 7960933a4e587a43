// Package metrics holds the Prometheus collectors for platform requests and
// collection syncs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chessledger_upstream_requests_total",
			Help: "Requests sent to game platforms by upstream and outcome",
		},
		[]string{"upstream", "outcome"},
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chessledger_upstream_request_duration_seconds",
			Help:    "Latency of platform requests",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"upstream"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chessledger_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"upstream"},
	)

	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chessledger_sync_runs_total",
			Help: "Collection syncs by platform and result",
		},
		[]string{"platform", "result"},
	)

	SyncGamesSeen = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chessledger_sync_games_seen_total",
			Help: "Platform games returned by fetch windows",
		},
		[]string{"platform"},
	)

	SyncGamesInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chessledger_sync_games_inserted_total",
			Help: "Games newly persisted by syncs",
		},
		[]string{"platform"},
	)

	SyncWindowErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chessledger_sync_window_errors_total",
			Help: "Fetch windows that failed and were skipped",
		},
		[]string{"platform", "stage"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chessledger_sync_duration_seconds",
			Help:    "Wall time of one collection sync",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"platform"},
	)

	ArchiveCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chessledger_archive_cache_lookups_total",
			Help: "Closed-month archive cache lookups by result",
		},
		[]string{"result"},
	)
)
