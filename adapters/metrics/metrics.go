// Package metrics provides Prometheus metrics collection for quotagate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for quotagate.
type Collector struct {
	// Quota decision metrics
	ChecksTotal    *prometheus.CounterVec // result: allowed, exhausted, degraded
	RecordsTotal   *prometheus.CounterVec // result: ok, failed
	ConsumesTotal  *prometheus.CounterVec // result: allowed, denied, failed
	DegradedChecks prometheus.Counter

	// Store metrics
	StoreErrors   prometheus.Counter
	StoreDuration *prometheus.HistogramVec // op: append, query

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec // path, status
	RequestDuration *prometheus.HistogramVec
}

// New creates a new metrics collector registered on the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector registered on a custom registry
// (used in tests to avoid duplicate registration).
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		ChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quotagate",
				Name:      "checks_total",
				Help:      "Total number of quota checks by result",
			},
			[]string{"result"},
		),
		RecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quotagate",
				Name:      "records_total",
				Help:      "Total number of usage record attempts by result",
			},
			[]string{"result"},
		),
		ConsumesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quotagate",
				Name:      "consumes_total",
				Help:      "Total number of check-and-record operations by result",
			},
			[]string{"result"},
		),
		DegradedChecks: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "quotagate",
				Name:      "degraded_checks_total",
				Help:      "Checks answered fail-open because the store was unreachable",
			},
		),
		StoreErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "quotagate",
				Name:      "store_errors_total",
				Help:      "Usage store call failures including timeouts",
			},
		),
		StoreDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "quotagate",
				Name:      "store_duration_seconds",
				Help:      "Usage store call duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"op"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "quotagate",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "quotagate",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"path", "status"},
		),
	}
}
