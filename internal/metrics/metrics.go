// Package metrics exposes Prometheus counters for deliveries, throttling and
// scheduled dispatch. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Metrics owns a private registry so tests can build as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	sendAttempts  *prometheus.CounterVec
	sendDuration  *prometheus.HistogramVec
	deliveries    *prometheus.CounterVec
	throttled     *prometheus.CounterVec
	dispatchFires *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		sendAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "send_attempts_total",
				Help:      "Telegram sendMessage attempts by result (ok/error/disabled).",
			},
			[]string{"result"},
		),
		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "send_duration_seconds",
				Help:      "Latency of a single sendMessage attempt.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"result"},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deliveries_total",
				Help:      "Orchestrated deliveries by message kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		throttled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "throttled_total",
				Help:      "Requests rejected by the rate limiter, by reason (banned/exceeded).",
			},
			[]string{"reason"},
		),
		dispatchFires: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_fires_total",
				Help:      "Scheduled dispatch guard invocations by result.",
			},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sendAttempts, m.sendDuration, m.deliveries, m.throttled, m.dispatchFires,
	)
	return m
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveSendAttempt records one sendMessage attempt.
func (m *Metrics) ObserveSendAttempt(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.sendAttempts.WithLabelValues(norm(result)).Inc()
	m.sendDuration.WithLabelValues(norm(result)).Observe(d.Seconds())
}

// IncDelivery records the final outcome of an orchestrated delivery.
func (m *Metrics) IncDelivery(kind, outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(norm(kind), norm(outcome)).Inc()
}

// IncThrottled records a rate-limit rejection.
func (m *Metrics) IncThrottled(reason string) {
	if m == nil {
		return
	}
	m.throttled.WithLabelValues(norm(reason)).Inc()
}

// IncDispatchFire records one guard invocation.
func (m *Metrics) IncDispatchFire(result string) {
	if m == nil {
		return
	}
	m.dispatchFires.WithLabelValues(norm(result)).Inc()
}
