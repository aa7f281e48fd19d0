package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)

	BoardMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "board_mutations_total",
			Help: "Committed board mutations by kind",
		},
		[]string{"kind"},
	)

	ClaimConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "claim_conflicts_total",
			Help: "Claim toggles rejected because another user holds the claim",
		},
	)

	StaleWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stale_writes_total",
			Help: "Version-guarded writes that lost to a concurrent writer",
		},
	)
)

func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func RecordMutation(kind string) {
	BoardMutations.WithLabelValues(kind).Inc()
}
