// Package metrics exposes pipeline counters on a private Prometheus
// registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	invocations    *prometheus.CounterVec
	attempts       *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	transitions    *prometheus.CounterVec
	truncations    *prometheus.CounterVec
	sessionsActive prometheus.Gauge
	collectorErrs  *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agriplan_model_invocations_total",
			Help: "Model invocations by stage/modality/status.",
		}, []string{"stage", "modality", "status"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agriplan_model_attempts_total",
			Help: "Model backend attempts, including retries, by stage.",
		}, []string{"stage"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agriplan_model_latency_seconds",
			Help:    "Model invocation latency in seconds by stage, retries included.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"stage"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agriplan_stage_transitions_total",
			Help: "Orchestrator state transitions.",
		}, []string{"from", "to"}),
		truncations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agriplan_prompt_truncations_total",
			Help: "Prompt fields truncated to the field budget, by stage.",
		}, []string{"stage"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agriplan_sessions_active",
			Help: "Sessions currently open.",
		}),
		collectorErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agriplan_collector_errors_total",
			Help: "Context collector failures by variant.",
		}, []string{"variant"}),
	}
	reg.MustRegister(
		m.invocations, m.attempts, m.latency, m.transitions,
		m.truncations, m.sessionsActive, m.collectorErrs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveInvocation(stage, modality, status string, attempts int, dur time.Duration) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(stage, modality, status).Inc()
	m.attempts.WithLabelValues(stage).Add(float64(attempts))
	m.latency.WithLabelValues(stage).Observe(dur.Seconds())
}

func (m *Metrics) IncTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) AddTruncations(stage string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.truncations.WithLabelValues(stage).Add(float64(n))
}

func (m *Metrics) SetSessionsActive(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

func (m *Metrics) IncCollectorError(variant string) {
	if m == nil {
		return
	}
	m.collectorErrs.WithLabelValues(variant).Inc()
}
