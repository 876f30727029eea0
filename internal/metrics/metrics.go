// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event recorder
	EventsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gearrank_events_recorded_total",
			Help: "Total number of popularity events appended to the ledger",
		},
		[]string{"event_type"},
	)

	EventsDeduped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gearrank_events_deduped_total",
			Help: "Total number of view events dropped as same-day repeats",
		},
		[]string{"source"}, // "redis", "store"
	)

	// Rollup job
	RollupRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gearrank_rollup_runs_total",
			Help: "Total number of rollup runs by outcome",
		},
		[]string{"status"},
	)

	RollupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gearrank_rollup_duration_seconds",
			Help:    "Wall-clock duration of rollup runs",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
	)

	RollupLateArrivals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gearrank_rollup_late_arrivals_total",
			Help: "Total number of events found on already rolled-up days",
		},
	)

	RollupLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gearrank_rollup_last_success_timestamp_seconds",
			Help: "Unix time of the last successful rollup run",
		},
	)

	// Trending
	TrendingQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gearrank_trending_query_duration_seconds",
			Help:    "Duration of trending page computations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"timeframe"},
	)

	// HTTP
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gearrank_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status_code"},
	)
)

// RecordEvent counts an appended event.
func RecordEvent(eventType string) {
	EventsRecorded.WithLabelValues(eventType).Inc()
}

// RecordDedupe counts a deduplicated view by where it was caught.
func RecordDedupe(source string) {
	EventsDeduped.WithLabelValues(source).Inc()
}

// RecordRollup records the outcome of one rollup run.
func RecordRollup(duration time.Duration, lateArrivals int64, err error) {
	RollupDuration.Observe(duration.Seconds())
	if err != nil {
		RollupRuns.WithLabelValues("failure").Inc()
		return
	}
	RollupRuns.WithLabelValues("success").Inc()
	RollupLastSuccess.SetToCurrentTime()
	if lateArrivals > 0 {
		RollupLateArrivals.Add(float64(lateArrivals))
	}
}

func RecordTrendingQuery(timeframe string, duration time.Duration) {
	TrendingQueryDuration.WithLabelValues(timeframe).Observe(duration.Seconds())
}

func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}
