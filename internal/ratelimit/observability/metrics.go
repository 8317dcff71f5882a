// Package observability provides Prometheus metrics.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics records measurements on a private registry.
type PrometheusMetrics struct {
	registry      *prometheus.Registry
	decisions     *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	storeErrors   *prometheus.CounterVec
	ruleMutations *prometheus.CounterVec
	breakerState  prometheus.Gauge
}

// NewPrometheusMetrics registers every collector under the given namespace.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	if namespace == "" {
		namespace = "ratelimiter"
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(registry)
	return &PrometheusMetrics{
		registry: registry,
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Simulated request decisions by result and strategy",
			},
			[]string{"result", "strategy"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Operation latency in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_errors_total",
				Help:      "Key-value store failures by operation",
			},
			[]string{"operation"},
		),
		ruleMutations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_mutations_total",
				Help:      "Rule registry mutations by action",
			},
			[]string{"action"},
		),
		breakerState: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "store_circuit_breaker_state",
				Help:      "Store circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
		),
	}
}

// IncDecision increments a decision counter.
func (m *PrometheusMetrics) IncDecision(result string, strategy string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(result, strategy).Inc()
}

// ObserveLatency tracks latency measurements.
func (m *PrometheusMetrics) ObserveLatency(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(op).Observe(d.Seconds())
}

// IncStoreError increments store error counters.
func (m *PrometheusMetrics) IncStoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}

// IncRuleMutation increments rule mutation counters.
func (m *PrometheusMetrics) IncRuleMutation(action string) {
	if m == nil {
		return
	}
	m.ruleMutations.WithLabelValues(action).Inc()
}

// SetBreakerState publishes the store circuit breaker state.
func (m *PrometheusMetrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.breakerState.Set(float64(state))
}

// Registry exposes the underlying registry.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
