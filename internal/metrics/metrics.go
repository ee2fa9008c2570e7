// Package metrics provides Prometheus instrumentation for the kernel daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kernald_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kernald_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Registry/claim metrics.
var (
	ServicesClaimed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kernald_services_claimed",
		Help: "Number of currently claimed ports/services.",
	})

	LocksHeld = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kernald_locks_held",
		Help: "Number of currently held locks.",
	})

	AgentsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kernald_agents_active",
		Help: "Number of agents in the active liveness state.",
	})

	AgentsStale = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kernald_agents_stale",
		Help: "Number of agents in the stale liveness state.",
	})

	SessionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kernald_sessions_open",
		Help: "Number of currently open sessions.",
	})

	SalvageablePending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kernald_salvageable_pending",
		Help: "Number of salvage/resurrection entries pending.",
	})
)

// Messaging metrics.
var (
	SSEConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kernald_sse_connections_active",
		Help: "Number of active SSE subscriber connections.",
	})

	MessagesPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kernald_messages_published_total",
		Help: "Total number of messages published to channels.",
	})

	MessagesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kernald_messages_dropped_total",
		Help: "Total number of messages dropped due to a slow subscriber.",
	})
)

// Error metrics.
var (
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kernald_errors_total",
		Help: "Total number of errors surfaced to API callers, by kind.",
	}, []string{"kind"})
)

// Reaper metrics.
var (
	ReaperSweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kernald_reaper_sweeps_total",
		Help: "Total number of reaper sweep cycles completed.",
	})

	ReaperSweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kernald_reaper_sweep_duration_seconds",
		Help:    "Duration of a single reaper sweep cycle in seconds.",
		Buckets: prometheus.DefBuckets,
	})
)
