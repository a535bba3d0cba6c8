// SPDX-License-Identifier: MIT

// Package metrics exposes prometheus collectors for the streaming engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StreamEventsTotal counts normalized events by kind.
	StreamEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_stream_events_total",
		Help: "Total number of normalized stream events by kind",
	}, []string{"kind"})

	// SessionsActive tracks the number of live streaming sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "assistant_sessions_active",
		Help: "Number of currently active streaming sessions",
	})

	// SessionDuration tracks wall-clock session lifetime by outcome.
	SessionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "assistant_session_duration_seconds",
		Help:    "Session lifetime from start to terminal transition",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 45, 90},
	}, []string{"outcome"})

	// MalformedLinesTotal counts event lines skipped due to JSON parse failures.
	MalformedLinesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assistant_malformed_lines_total",
		Help: "Total number of event lines dropped because of malformed JSON",
	})

	// BackendRequestsTotal counts backend requests by path kind and result.
	BackendRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_backend_requests_total",
		Help: "Total number of backend requests by mode and result",
	}, []string{"mode", "result"})
)

// ObserveSessionDuration records a terminal session's lifetime.
func ObserveSessionDuration(outcome string, d time.Duration) {
	SessionDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// IncBackendRequest records one backend request outcome.
// mode is "stream" or "query"; success selects the result label.
func IncBackendRequest(mode string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	BackendRequestsTotal.WithLabelValues(mode, result).Inc()
}
