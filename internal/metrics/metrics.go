// Package metrics exposes Prometheus instrumentation for change detection,
// up-to-date decisions and memoized executions.
//
// Metrics are registered on a caller-supplied registry so tests and embedders
// can isolate them. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "upcheck"

// Outcomes recorded by ObserveInvocation.
const (
	OutcomeCached   = "cached"
	OutcomeExecuted = "executed"
	OutcomeFailed   = "failed"
)

// Metrics holds every collector.
type Metrics struct {
	registry *prometheus.Registry

	// ChangesTotal counts reported changes. Labels: type (added, removed, modified).
	ChangesTotal *prometheus.CounterVec

	// DecisionsTotal counts up-to-date checks. Labels: outcome (up_to_date, out_of_date).
	DecisionsTotal *prometheus.CounterVec

	// InvocationsTotal counts memoized work. Labels: outcome (cached, executed, failed).
	InvocationsTotal *prometheus.CounterVec

	// ExecutionSeconds measures the duration of work that actually executed.
	ExecutionSeconds prometheus.Histogram
}

// New creates the collectors and registers them on reg. A nil reg gets a fresh
// private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ChangesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_total",
			Help:      "Changes reported between previous and current snapshots, by type.",
		}, []string{"type"}),
		DecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Up-to-date checks, by outcome.",
		}, []string{"outcome"}),
		InvocationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Memoized work invocations, by outcome.",
		}, []string{"outcome"}),
		ExecutionSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_seconds",
			Help:      "Duration of work that was executed rather than reused.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveChange counts one change of the named type.
func (m *Metrics) ObserveChange(changeType string) {
	if m == nil {
		return
	}
	m.ChangesTotal.WithLabelValues(changeType).Inc()
}

// ObserveDecision counts one up-to-date check.
func (m *Metrics) ObserveDecision(upToDate bool) {
	if m == nil {
		return
	}
	outcome := "out_of_date"
	if upToDate {
		outcome = "up_to_date"
	}
	m.DecisionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveInvocation counts one memoized invocation. d is recorded for executed
// and failed outcomes.
func (m *Metrics) ObserveInvocation(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.InvocationsTotal.WithLabelValues(outcome).Inc()
	if outcome != OutcomeCached {
		m.ExecutionSeconds.Observe(d.Seconds())
	}
}

// WriteTextfile writes every metric in the text exposition format, for the node
// exporter textfile collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
