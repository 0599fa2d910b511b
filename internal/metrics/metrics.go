// Package metrics exposes Prometheus instrumentation for the pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the application.
type Metrics struct {
	registry *prometheus.Registry

	// Pipeline metrics
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration prometheus.Histogram
	ExecutionsActive  prometheus.Gauge

	// Step metrics
	StepsTotal   *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec
	StepErrors   *prometheus.CounterVec

	// Model routing metrics
	ModelCallsTotal    *prometheus.CounterVec
	ModelCallDuration  *prometheus.HistogramVec
	ModelFallbacks     prometheus.Counter
	ModelTokensTotal   *prometheus.CounterVec
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec

	// Async queue metrics
	QueueDepth     prometheus.Gauge
	QueuedTotal    prometheus.Counter
	CompletedTotal *prometheus.CounterVec
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_executions_total",
				Help: "Total pipeline executions by outcome.",
			},
			[]string{"status"},
		),
		ExecutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pipeline_execution_duration_seconds",
				Help:    "Duration of pipeline executions.",
				Buckets: prometheus.DefBuckets,
			},
		),
		ExecutionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipeline_executions_active",
				Help: "Number of pipeline executions currently running.",
			},
		),

		StepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_steps_total",
				Help: "Total executed steps by tool and outcome.",
			},
			[]string{"tool", "status"},
		),
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_step_duration_seconds",
				Help:    "Duration of step executions by tool.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		StepErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_step_errors_total",
				Help: "Step failures by tool and error kind.",
			},
			[]string{"tool", "kind"},
		),

		ModelCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "model_calls_total",
				Help: "Model completion calls by model and outcome.",
			},
			[]string{"model", "status"},
		),
		ModelCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "model_call_duration_seconds",
				Help:    "Duration of model completion calls.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		),
		ModelFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "model_fallbacks_total",
				Help: "Times the router fell through to a lower-priority model.",
			},
		),
		ModelTokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "model_tokens_total",
				Help: "Token usage by model and direction.",
			},
			[]string{"model", "direction"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "model_breaker_state",
				Help: "Circuit breaker state per model (0=closed, 1=open, 2=half-open).",
			},
			[]string{"model"},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "model_breaker_transitions_total",
				Help: "Circuit breaker transitions by model and target state.",
			},
			[]string{"model", "to"},
		),

		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "execution_queue_depth",
				Help: "Pending executions in the async queue.",
			},
		),
		QueuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "execution_queue_submitted_total",
				Help: "Total executions submitted to the async queue.",
			},
		),
		CompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "execution_queue_completed_total",
				Help: "Async executions finished by outcome.",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.ExecutionsActive,
		m.StepsTotal,
		m.StepDuration,
		m.StepErrors,
		m.ModelCallsTotal,
		m.ModelCallDuration,
		m.ModelFallbacks,
		m.ModelTokensTotal,
		m.BreakerState,
		m.BreakerTransitions,
		m.QueueDepth,
		m.QueuedTotal,
		m.CompletedTotal,
	)

	return m
}

// Handler returns an HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
