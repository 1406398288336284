// Package metrics exposes Prometheus collectors for bulk fetches. They are
// registered on the default registry, which fiberprometheus serves at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch outcomes
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// Fetch collectors
var (
	Fetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docgrid",
		Subsystem: "fetch",
		Name:      "total",
		Help:      "Bulk fetches by outcome.",
	}, []string{"outcome"})

	Pages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "docgrid",
		Subsystem: "fetch",
		Name:      "pages_total",
		Help:      "Page requests issued by bulk fetches.",
	})

	Hits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "docgrid",
		Subsystem: "fetch",
		Name:      "hits_total",
		Help:      "Hits accumulated by bulk fetches.",
	})

	EarlyStops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "docgrid",
		Subsystem: "fetch",
		Name:      "early_stops_total",
		Help:      "Pagination loops that ended before the requested hit count was reached.",
	})

	Duration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "docgrid",
		Subsystem: "fetch",
		Name:      "duration_seconds",
		Help:      "Wall time of complete bulk fetches.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
	})
)

// ObservePage records one executed page and the hits it returned
func ObservePage(hitCount int) {
	Pages.Inc()
	Hits.Add(float64(hitCount))
}

// ObserveEarlyStop records a pagination loop that ran out of hits
func ObserveEarlyStop() {
	EarlyStops.Inc()
}

// ObserveFetch records a finished fetch
func ObserveFetch(outcome string, elapsed time.Duration) {
	Fetches.WithLabelValues(outcome).Inc()
	Duration.Observe(elapsed.Seconds())
}
