// Package metrics exports kanbridge counters to Prometheus.
//
// All methods are safe on a nil *Metrics so components can run without
// instrumentation in tests.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kanbridge"

// Metrics owns a private registry and the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	gatewayRequests *prometheus.CounterVec
	gatewayLatency  *prometheus.HistogramVec
	pollCycles      prometheus.Counter
	fetchFailures   *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	tracked         *prometheus.CounterVec
	sendOutcomes    *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		gatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Gateway requests by HTTP method and outcome.",
		}, []string{"method", "outcome"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Gateway request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		pollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriptions",
			Name:      "poll_cycles_total",
			Help:      "Completed subscription poll cycles.",
		}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriptions",
			Name:      "fetch_failures_total",
			Help:      "Resource fetches that failed during a poll cycle, by resource kind.",
		}, []string{"kind"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriptions",
			Name:      "notifications_total",
			Help:      "resources/updated notifications sent, by resource kind.",
		}, []string{"kind"}),
		tracked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "messages_total",
			Help:      "Tracked messages by terminal status.",
		}, []string{"status"}),
		sendOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "send_outcomes_total",
			Help:      "send_message outcomes by final state.",
		}, []string{"state"}),
	}

	cs := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.gatewayRequests, m.gatewayLatency, m.pollCycles, m.fetchFailures,
		m.notifications, m.tracked, m.sendOutcomes,
	}
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

// Registry exposes the underlying registry, mainly for tests.
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
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one Gateway round trip.
func (m *Metrics) ObserveRequest(method string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.gatewayRequests.WithLabelValues(method, outcome).Inc()
	m.gatewayLatency.WithLabelValues(method).Observe(elapsed.Seconds())
}

// PollCycle counts a finished subscription poll cycle.
func (m *Metrics) PollCycle() {
	if m == nil {
		return
	}
	m.pollCycles.Inc()
}

// FetchFailed counts a resource fetch that was skipped for one tick.
func (m *Metrics) FetchFailed(kind string) {
	if m == nil {
		return
	}
	m.fetchFailures.WithLabelValues(kind).Inc()
}

// ResourceNotified counts a resources/updated notification.
func (m *Metrics) ResourceNotified(kind string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind).Inc()
}

// MessageTracked counts a tracked message reaching a terminal status.
func (m *Metrics) MessageTracked(status string) {
	if m == nil {
		return
	}
	m.tracked.WithLabelValues(status).Inc()
}

// SendOutcome counts a send_message result by its final state.
func (m *Metrics) SendOutcome(state string) {
	if m == nil {
		return
	}
	m.sendOutcomes.WithLabelValues(state).Inc()
}
