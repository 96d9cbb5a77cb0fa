// Package metrics exposes Prometheus collectors for the matching service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DiscoveryRunsTotal counts discovery runs by outcome.
	DiscoveryRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "estate",
			Subsystem: "matching",
			Name:      "discovery_runs_total",
			Help:      "Total number of match discovery runs by status",
		},
		[]string{"status"},
	)

	DiscoveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "estate",
			Subsystem: "matching",
			Name:      "discovery_duration_seconds",
			Help:      "Duration of match discovery runs in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	MatchesEmittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "estate",
			Subsystem: "matching",
			Name:      "matches_emitted_total",
			Help:      "Total number of matches kept after the threshold",
		},
	)

	MatchScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "estate",
			Subsystem: "matching",
			Name:      "match_score",
			Help:      "Distribution of emitted match scores",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		},
	)

	ScoreCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "estate",
			Subsystem: "matching",
			Name:      "score_cache_total",
			Help:      "Pair score cache lookups by result",
		},
		[]string{"result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "estate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "estate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route"},
	)
)

// ObserveDiscovery records one finished discovery run.
func ObserveDiscovery(started time.Time, scores []int, err error) {
	DiscoveryDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		DiscoveryRunsTotal.WithLabelValues("error").Inc()
		return
	}
	DiscoveryRunsTotal.WithLabelValues("ok").Inc()
	MatchesEmittedTotal.Add(float64(len(scores)))
	for _, s := range scores {
		MatchScore.Observe(float64(s))
	}
}

func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func Handler() http.Handler {
	return promhttp.Handler()
}
