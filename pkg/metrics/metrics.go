package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by provider (local|google|steam)
	// and result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questlog_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"provider", "result"},
	)

	// ActiveSessions tracks active sessions (not expired/revoked).
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "questlog_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "questlog_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// PlatformRequests counts outbound calls to storefront APIs by platform
	// (steam|gog|xbox|psn) and outcome (success|error).
	PlatformRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questlog_platform_requests_total",
			Help: "Total number of storefront API requests",
		},
		[]string{"platform", "result"},
	)

	// LibrarySyncDuration measures how long a full library refresh takes per platform.
	LibrarySyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "questlog_library_sync_duration_seconds",
			Help:    "Duration of library synchronisation per platform",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"platform"},
	)
)
