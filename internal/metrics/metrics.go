// Package metrics exposes Prometheus collectors for the user-directory pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Entity stages counted by AddEntities.
const (
	StageCrawled     = "crawled"
	StageRejected    = "rejected"
	StageDuplicate   = "duplicate"
	StageFilteredOut = "filtered_out"
	StageCurated     = "curated"
)

var (
	upstreamRequestsTotal      *prometheus.CounterVec
	backoffWaitsTotal          *prometheus.CounterVec
	backoffWaitSeconds         *prometheus.HistogramVec
	entitiesTotal              *prometheus.CounterVec
	rateRemaining              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		upstreamRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "userdir_upstream_requests_total",
				Help: "Total upstream requests, labeled by endpoint and status code (0 for transport errors).",
			},
			[]string{"endpoint", "code"},
		)

		backoffWaitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "userdir_backoff_waits_total",
				Help: "Total suspensions caused by transient upstream responses, labeled by reason.",
			},
			[]string{"reason"},
		)

		backoffWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "userdir_backoff_wait_seconds",
				Help:    "Histogram of suspension durations, labeled by reason.",
				Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600},
			},
			[]string{"reason"},
		)

		entitiesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "userdir_entities_total",
				Help: "Total entities seen per pipeline stage.",
			},
			[]string{"stage"},
		)

		rateRemaining = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "userdir_rate_remaining",
				Help: "Remaining upstream call quota reported by the last response.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveUpstream counts one upstream response.
func ObserveUpstream(endpoint string, code int) {
	Init()
	upstreamRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}

// ObserveWait records a suspension caused by a transient response.
func ObserveWait(reason string, d time.Duration) {
	Init()
	backoffWaitsTotal.WithLabelValues(reason).Inc()
	backoffWaitSeconds.WithLabelValues(reason).Observe(d.Seconds())
}

// AddEntities adds n to the counter for stage.
func AddEntities(stage string, n int) {
	Init()
	if n <= 0 {
		return
	}
	entitiesTotal.WithLabelValues(stage).Add(float64(n))
}

// SetRateRemaining records the last known remaining quota. Negative values are ignored.
func SetRateRemaining(n int) {
	Init()
	if n < 0 {
		return
	}
	rateRemaining.Set(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
