// Package metrics exposes Prometheus instruments for search runs.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ghsearch"

type Metrics struct {
	requestsTotal      *prometheus.CounterVec
	requestDuration    prometheus.Histogram
	retriesTotal       *prometheus.CounterVec
	rateLimitRemaining prometheus.Gauge
	waitSeconds        *prometheus.HistogramVec
	breakerOpenTotal   prometheus.Counter
	runsTotal          *prometheus.CounterVec
	runDuration        prometheus.Histogram
	feedEntries        prometheus.Gauge
	pagesFetched       prometheus.Gauge
}

// New registers every instrument on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Code search page requests by response status",
			},
			[]string{"status"}, // HTTP status code, or "transport"
		),
		requestDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Code search page request duration in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Retried page requests by error class",
			},
			[]string{"class"},
		),
		rateLimitRemaining: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ratelimit_remaining",
				Help:      "Requests remaining in the current rate limit window",
			},
		),
		waitSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "wait_seconds",
				Help:      "Time spent waiting before requests in seconds",
				Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"reason"}, // pacing|quota|backoff
		),
		breakerOpenTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_open_total",
				Help:      "Times the search API circuit breaker opened",
			},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Completed runs by final status",
			},
			[]string{"status"},
		),
		runDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Run duration in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		feedEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "feed_entries",
				Help:      "Entries in the most recently produced feed",
			},
		),
		pagesFetched: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pages_fetched",
				Help:      "Pages fetched by the most recent run",
			},
		),
	}
}

// RecordRequest records one page request. status is zero for transport failures.
func (m *Metrics) RecordRequest(status int, d time.Duration) {
	if m == nil {
		return
	}
	label := "transport"
	if status != 0 {
		label = strconv.Itoa(status)
	}
	m.requestsTotal.WithLabelValues(label).Inc()
	m.requestDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordRetry(class string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(class).Inc()
}

func (m *Metrics) SetRateLimitRemaining(remaining int) {
	if m == nil {
		return
	}
	m.rateLimitRemaining.Set(float64(remaining))
}

func (m *Metrics) RecordWait(reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.waitSeconds.WithLabelValues(reason).Observe(d.Seconds())
}

func (m *Metrics) RecordBreakerOpen() {
	if m == nil {
		return
	}
	m.breakerOpenTotal.Inc()
}

// RecordRun records a finished run with its entry and page counts.
func (m *Metrics) RecordRun(status string, d time.Duration, entries, pages int) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(d.Seconds())
	m.feedEntries.Set(float64(entries))
	m.pagesFetched.Set(float64(pages))
}
