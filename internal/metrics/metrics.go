// Package metrics provides Prometheus metrics for the liveedit service
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for liveedit
type Metrics struct {
	// HTTP request metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// gRPC request metrics
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge

	// Block operation metrics
	MutationsTotal *prometheus.CounterVec
	SavesTotal     *prometheus.CounterVec
	DenialsTotal   prometheus.Counter

	// Content model metrics
	ModelReloadsTotal *prometheus.CounterVec

	// Server metrics
	ServerStartTime time.Time
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// uses the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	// HTTP request metrics
	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveedit_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "status"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "liveedit_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	m.HTTPRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "liveedit_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// gRPC request metrics
	m.GrpcRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveedit_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	m.GrpcRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "liveedit_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.GrpcRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "liveedit_grpc_requests_in_flight",
			Help: "Number of gRPC requests currently being processed",
		},
	)

	// Block operation metrics
	m.MutationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveedit_mutations_total",
			Help: "Total number of block mutations by operation and outcome",
		},
		[]string{"op", "status"},
	)

	m.SavesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveedit_saves_total",
			Help: "Total number of persisted edits by save strategy",
		},
		[]string{"strategy"},
	)

	m.DenialsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "liveedit_denials_total",
			Help: "Total number of refused edit attempts",
		},
	)

	m.ModelReloadsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liveedit_model_reloads_total",
			Help: "Total number of content model reloads",
		},
		[]string{"status"},
	)

	// Server metrics
	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "liveedit_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.ServerStartTime).Seconds() },
	)

	return m
}

// RecordHTTPRequest records an HTTP request with its status
func (m *Metrics) RecordHTTPRequest(route string, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordGrpcRequest records a gRPC request with its status
func (m *Metrics) RecordGrpcRequest(method string, status string, duration time.Duration) {
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordMutation records a block mutation attempt
func (m *Metrics) RecordMutation(op, status string) {
	m.MutationsTotal.WithLabelValues(op, status).Inc()
}

// RecordSave records a persisted edit
func (m *Metrics) RecordSave(strategy string) {
	m.SavesTotal.WithLabelValues(strategy).Inc()
}

// RecordDenial records a refused edit
func (m *Metrics) RecordDenial() {
	m.DenialsTotal.Inc()
}

// RecordModelReload records a content model reload
func (m *Metrics) RecordModelReload(status string) {
	m.ModelReloadsTotal.WithLabelValues(status).Inc()
}
