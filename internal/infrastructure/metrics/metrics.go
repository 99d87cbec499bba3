// Package metrics exposes prometheus collectors for the approval and
// compliance services.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements approval.Metrics and compliance.Metrics. A nil
// *Metrics records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	votes          *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	checks         *prometheus.CounterVec
	connectorCalls *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approval_votes_total",
			Help: "Accepted approval votes by decision.",
		}, []string{"decision"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approval_transitions_total",
			Help: "Approval status transitions by target status.",
		}, []string{"status"}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compliance_checks_total",
			Help: "Completed certificate compliance checks by overall status.",
		}, []string{"status"}),
		connectorCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "compliance_connector_call_seconds",
			Help:    "Duration of compliance connector calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"connector", "outcome"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.votes,
		m.transitions,
		m.checks,
		m.connectorCalls,
	)
	return m
}

func (m *Metrics) VoteCast(decision string) {
	if m == nil {
		return
	}
	m.votes.WithLabelValues(decision).Inc()
}

func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) CheckCompleted(status string) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(status).Inc()
}

func (m *Metrics) ConnectorCall(connector string, elapsed time.Duration, failed bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	m.connectorCalls.WithLabelValues(connector, outcome).Observe(elapsed.Seconds())
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
