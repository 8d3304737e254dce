// Package metrics exposes gateway counters and gauges to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cmdgate"

// Metrics holds the gateway collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Decisions *prometheus.CounterVec
	Routes    *prometheus.CounterVec
	Calls     *prometheus.CounterVec
	Peers     prometheus.Gauge
	Pending   prometheus.Gauge
	Reloads   *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authz_decisions_total",
			Help:      "Authorization decisions by outcome and reason.",
		}, []string{"outcome", "reason"}),
		Routes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_requests_total",
			Help:      "Routed requests by namespace and outcome.",
		}, []string{"namespace", "outcome"}),
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_outbound_calls_total",
			Help:      "Outbound SendCommand attempts by outcome.",
		}, []string{"outcome"}),
		Peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transport_peers",
			Help:      "Connected peers.",
		}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transport_pending_calls",
			Help:      "Outbound calls awaiting a response.",
		}),
		Reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rules_reloads_total",
			Help:      "Level rules reload attempts by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		m.Decisions, m.Routes, m.Calls, m.Peers, m.Pending, m.Reloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Outcome labels.
const (
	OutcomeAllow   = "allow"
	OutcomeDeny    = "deny"
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// ObserveDecision counts one authorization decision.
func (m *Metrics) ObserveDecision(allowed bool, kind string) {
	if m == nil {
		return
	}
	outcome := OutcomeDeny
	if allowed {
		outcome = OutcomeAllow
	}
	m.Decisions.WithLabelValues(outcome, kind).Inc()
}

// ObserveRoute counts one routed request.
func (m *Metrics) ObserveRoute(namespace string, ok bool) {
	if m == nil {
		return
	}
	outcome := OutcomeError
	if ok {
		outcome = OutcomeSuccess
	}
	m.Routes.WithLabelValues(namespace, outcome).Inc()
}

// ObserveCall counts one outbound call attempt.
func (m *Metrics) ObserveCall(outcome string) {
	if m == nil {
		return
	}
	m.Calls.WithLabelValues(outcome).Inc()
}

// SetPeers records the connected peer count.
func (m *Metrics) SetPeers(n int) {
	if m == nil {
		return
	}
	m.Peers.Set(float64(n))
}

// SetPending records the pending call count.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.Pending.Set(float64(n))
}

// ObserveReload counts one rules reload.
func (m *Metrics) ObserveReload(ok bool) {
	if m == nil {
		return
	}
	outcome := OutcomeError
	if ok {
		outcome = OutcomeSuccess
	}
	m.Reloads.WithLabelValues(outcome).Inc()
}
