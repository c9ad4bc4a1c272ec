// Package metrics exposes Prometheus instruments for chat polling.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xiaot623/carechat/internal/domain"
)

const namespace = "carechat"

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	backendCalls   *prometheus.CounterVec
	backendLatency *prometheus.HistogramVec
	backendRetries *prometheus.CounterVec
	polls          *prometheus.CounterVec
	pollAttempts   prometheus.Histogram
	pollsInFlight  prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		backendCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_calls_total",
			Help:      "Backend HTTP calls by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		backendLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_call_duration_seconds",
			Help:      "Backend HTTP call latency, including transport retries.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"endpoint"}),
		backendRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_retries_total",
			Help:      "Transport-level retries by endpoint.",
		}, []string{"endpoint"}),
		polls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Finished polling sequences by terminal state.",
		}, []string{"state"}),
		pollAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_status_checks",
			Help:      "Status checks issued per polling sequence.",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		}),
		pollsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "polls_in_flight",
			Help:      "Polling sequences currently running.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveBackendCall(endpoint string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case domain.IsProtocol(err):
		outcome = "protocol_error"
	case domain.IsTransport(err):
		outcome = "transport_error"
	case err != nil:
		outcome = "error"
	}
	m.backendCalls.WithLabelValues(endpoint, outcome).Inc()
	m.backendLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (m *Metrics) BackendRetry(endpoint string) {
	if m == nil {
		return
	}
	m.backendRetries.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) PollStarted() {
	if m == nil {
		return
	}
	m.pollsInFlight.Inc()
}

func (m *Metrics) PollFinished(state domain.PollState, statusChecks int) {
	if m == nil {
		return
	}
	m.pollsInFlight.Dec()
	m.polls.WithLabelValues(string(state)).Inc()
	m.pollAttempts.Observe(float64(statusChecks))
}
