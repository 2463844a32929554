// Package metrics provides Prometheus metrics for sandboxd: HTTP,
// pool, and environment-store collectors exposed on /metrics.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds all Prometheus metric collectors for the sandbox service.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	ExecutionsTotal     *prometheus.CounterVec
	ExecutionDuration   prometheus.Histogram
	ExecutionsInFlight  prometheus.Gauge
	PoolAvailable       prometheus.Gauge
	PoolSize            prometheus.Gauge
	PoolWaitDuration    prometheus.Histogram
	EnvironmentsStored  prometheus.Gauge
	EnvironmentsExpired prometheus.Counter
}

// Get returns the singleton Metrics instance.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{}

	m.HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sandboxd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by endpoint, method, and status code",
		},
		[]string{"endpoint", "method", "status"},
	)

	m.HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sandboxd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint", "method"},
	)

	m.ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sandboxd",
			Subsystem: "execution",
			Name:      "total",
			Help:      "Total number of /execute/ runs by terminal status",
		},
		[]string{"status"},
	)

	m.ExecutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sandboxd",
			Subsystem: "execution",
			Name:      "duration_seconds",
			Help:      "Total execution duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	m.ExecutionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sandboxd",
			Subsystem: "execution",
			Name:      "in_flight",
			Help:      "Number of /execute/ runs currently holding a pool slot",
		},
	)

	m.PoolAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sandboxd",
			Subsystem: "pool",
			Name:      "available_slots",
			Help:      "Number of sandbox slots currently idle in the pool",
		},
	)

	m.PoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sandboxd",
			Subsystem: "pool",
			Name:      "size",
			Help:      "Configured pool capacity",
		},
	)

	m.PoolWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sandboxd",
			Subsystem: "pool",
			Name:      "acquire_wait_seconds",
			Help:      "Time spent waiting to acquire a pool slot",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2, 5, 10},
		},
	)

	m.EnvironmentsStored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sandboxd",
			Subsystem: "envstore",
			Name:      "stored_total",
			Help:      "Approximate number of environments currently on disk",
		},
	)

	m.EnvironmentsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sandboxd",
			Subsystem: "envstore",
			Name:      "expired_total",
			Help:      "Total number of environments removed by the expiration job",
		},
	)

	return m
}

// RecordHTTPRequest records an HTTP request metric.
func (m *Metrics) RecordHTTPRequest(endpoint, method string, statusCode int, duration time.Duration) {
	status := statusCodeToLabel(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// RecordExecution records one completed /execute/ run.
func (m *Metrics) RecordExecution(status string, duration time.Duration) {
	m.ExecutionsTotal.WithLabelValues(status).Inc()
	m.ExecutionDuration.Observe(duration.Seconds())
}

// RecordPoolWait records time spent in Pool.Acquire.
func (m *Metrics) RecordPoolWait(duration time.Duration) {
	m.PoolWaitDuration.Observe(duration.Seconds())
}

// SetPoolGauges updates the pool availability/size gauges.
func (m *Metrics) SetPoolGauges(available, size int) {
	m.PoolAvailable.Set(float64(available))
	m.PoolSize.Set(float64(size))
}

func statusCodeToLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
