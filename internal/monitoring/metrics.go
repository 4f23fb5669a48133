// Package monitoring exposes Prometheus metrics for driver runs and the HTTP
// API.
package monitoring

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"wasmkey/internal/errs"
	"wasmkey/internal/runner"
)

const namespace = "wasmkey"

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RateLimited     prometheus.Counter

	// Driver metrics
	StepDuration *prometheus.HistogramVec
	StepFailures *prometheus.CounterVec
	RunsTotal    *prometheus.CounterVec
	RunsActive   prometheus.Gauge

	// Pipeline metrics
	Extractions        *prometheus.CounterVec
	ExtractionDuration prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics registers a fresh set of metrics on their own registry, so
// several instances can coexist in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		RateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_rate_limited_total",
				Help:      "Requests rejected by the rate limiter",
			},
		),

		StepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "driver_step_duration_seconds",
				Help:      "Duration of each driver step in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"step"},
		),
		StepFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "driver_step_failures_total",
				Help:      "Driver steps that failed, by step and error kind",
			},
			[]string{"step", "kind"},
		),
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "driver_runs_total",
				Help:      "Finished driver runs by final state",
			},
			[]string{"state"},
		),
		RunsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "driver_runs_active",
				Help:      "Driver runs in flight",
			},
		),

		Extractions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extractions_total",
				Help:      "Pipeline extractions by operation and status",
			},
			[]string{"operation", "status"},
		),
		ExtractionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "extraction_duration_seconds",
				Help:      "End-to-end extraction duration in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
	}
}

// Registry returns the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveTransition is a runner.Options.Observe callback.
func (m *Metrics) ObserveTransition(tr runner.Transition) {
	if tr.From == runner.Idle {
		m.RunsActive.Inc()
	}
	m.StepDuration.WithLabelValues(string(tr.Step)).Observe(tr.Elapsed.Seconds())

	switch tr.To {
	case runner.Failed:
		m.StepFailures.WithLabelValues(string(tr.Step), kindOf(tr.Err)).Inc()
		m.RunsTotal.WithLabelValues(runner.Failed.String()).Inc()
		m.RunsActive.Dec()
	case runner.TokenReady:
		m.RunsTotal.WithLabelValues(runner.TokenReady.String()).Inc()
		m.RunsActive.Dec()
	}
}

// RecordExtraction records one pipeline call.
func (m *Metrics) RecordExtraction(operation string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Extractions.WithLabelValues(operation, status).Inc()
	m.ExtractionDuration.Observe(duration.Seconds())
}

func kindOf(err error) string {
	var e *errs.Error
	if errors.As(err, &e) {
		return string(e.Kind)
	}
	return "other"
}
