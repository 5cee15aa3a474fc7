package http

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oddsforge/pickgate/internal/persistence"
)

// MetricsRegistry holds the engine's Prometheus metrics
type MetricsRegistry struct {
	registry *prometheus.Registry

	EvaluationsTotal   *prometheus.CounterVec
	EvaluationErrors   prometheus.Counter
	EvaluationDuration prometheus.Histogram
	GateFailures       *prometheus.CounterVec

	HardStopTrips  prometheus.Counter
	HardStopResets prometheus.Counter
	HardStopActive prometheus.Gauge
	BypassAttempts prometheus.Counter
}

// NewMetricsRegistry creates and registers all engine metrics
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		registry: prometheus.NewRegistry(),

		EvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pickgate_evaluations_total",
				Help: "Total predictions evaluated, by final status",
			},
			[]string{"status"},
		),
		EvaluationErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pickgate_evaluation_errors_total",
				Help: "Evaluations rejected with an error",
			},
		),
		EvaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pickgate_evaluation_duration_seconds",
				Help:    "Wall time of one full evaluation including persistence",
				Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
		),
		GateFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pickgate_gate_failures_total",
				Help: "Gate failures by gate name",
			},
			[]string{"gate"},
		),

		HardStopTrips: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pickgate_hard_stop_trips_total",
				Help: "Times the risk circuit breaker tripped",
			},
		),
		HardStopResets: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pickgate_hard_stop_resets_total",
				Help: "Authorized hard stop resets",
			},
		),
		HardStopActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pickgate_hard_stop_active",
				Help: "1 while the hard stop is active, else 0",
			},
		),
		BypassAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pickgate_hard_stop_bypass_attempts_total",
				Help: "Restore attempts rejected for weakening hard stop protection",
			},
		),
	}

	m.registry.MustRegister(
		m.EvaluationsTotal, m.EvaluationErrors, m.EvaluationDuration, m.GateFailures,
		m.HardStopTrips, m.HardStopResets, m.HardStopActive, m.BypassAttempts,
	)
	return m
}

// ObserveEvaluation records one completed evaluation
func (m *MetricsRegistry) ObserveEvaluation(d *persistence.Decision, elapsed time.Duration) {
	m.EvaluationsTotal.WithLabelValues(string(d.Status)).Inc()
	m.EvaluationDuration.Observe(elapsed.Seconds())
	for _, gr := range d.GateResults {
		if !gr.Passed && !gr.Skipped {
			m.GateFailures.WithLabelValues(string(gr.Gate)).Inc()
		}
	}
}

// SetHardStopActive updates the breaker gauge
func (m *MetricsRegistry) SetHardStopActive(active bool) {
	if active {
		m.HardStopActive.Set(1)
	} else {
		m.HardStopActive.Set(0)
	}
}

// Handler serves the scrape endpoint for this registry only
func (m *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for test assertions
func (m *MetricsRegistry) Gatherer() prometheus.Gatherer {
	return m.registry
}
