// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheOpsTotal counts response-cache operations by outcome.
	CacheOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_response_cache_ops_total",
		Help: "Total number of response cache operations by outcome",
	}, []string{"op"})

	// CacheSize tracks the current number of response-cache entries.
	CacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "assistant_response_cache_entries",
		Help: "Current number of response cache entries",
	})
)

// Cache operation labels.
const (
	CacheOpHit      = "hit"
	CacheOpMiss     = "miss"
	CacheOpSet      = "set"
	CacheOpEviction = "eviction"
)

// IncCacheOp records one cache operation.
func IncCacheOp(op string) {
	CacheOpsTotal.WithLabelValues(op).Inc()
}
