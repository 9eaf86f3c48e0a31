// Package metrics provides Prometheus metrics for CityPulse.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "citypulse"
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts status API requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of status API requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks status API request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status API request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks concurrent status API requests.
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of status API requests currently being processed",
		},
	)
)

// Push channel metrics
var (
	// StreamChannelUp reports whether the push channel is currently open.
	StreamChannelUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "channel_up",
			Help:      "1 when the push channel is open or receiving, 0 otherwise",
		},
	)

	// StreamFramesTotal counts inbound frames by outcome.
	StreamFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "frames_total",
			Help:      "Total frames received on the push channel",
		},
		[]string{"result"}, // update, unknown, malformed
	)

	// StreamReconnectsTotal counts redials after channel death.
	StreamReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Total push channel reconnect attempts",
		},
	)
)

// Polling metrics
var (
	// PollTicksTotal counts fallback poll cycles.
	PollTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "ticks_total",
			Help:      "Total fallback poll cycles",
		},
	)

	// PollFetchFailures counts failed fetches by fetcher.
	PollFetchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "fetch_failures_total",
			Help:      "Total failed poll fetches",
		},
		[]string{"fetcher"},
	)
)

// Session metrics
var (
	// SessionUpdatesTotal counts updates accepted into the view by source.
	SessionUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "updates_total",
			Help:      "Total updates applied to the view model",
		},
		[]string{"source"}, // push, poll
	)

	// SessionStaleDroppedTotal counts results discarded by the generation guard.
	SessionStaleDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "stale_dropped_total",
			Help:      "Total updates discarded as stale after a scope switch",
		},
	)

	// SessionScopeActivations counts scope activations.
	SessionScopeActivations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "scope_activations_total",
			Help:      "Total scope activations",
		},
	)
)

// Notification metrics
var (
	// NotificationsTotal counts notification outcomes.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Total notification dispatch outcomes",
		},
		[]string{"result"}, // sent, suppressed, rate_limited, error
	)
)

// History metrics
var (
	// HistoryAppendsTotal counts scenario history appends.
	HistoryAppendsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "appends_total",
			Help:      "Total scenario runs recorded in history",
		},
	)

	// HistoryDegraded reports whether history persistence has degraded to memory.
	HistoryDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "degraded",
			Help:      "1 when history persistence has failed and entries are memory-only",
		},
	)
)

// Info metric
var (
	// BuildInfo exposes build information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
