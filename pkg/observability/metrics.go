// Package observability holds the Prometheus metrics the expansion
// pipeline records. Metrics are registered against an explicit registry so
// embedding hosts control exposure.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the expansion pipeline.
type Metrics struct {
	// CompilationsTotal counts compile phases by result (ok, failed,
	// skipped, unsupported).
	CompilationsTotal *prometheus.CounterVec

	// InvocationsTotal counts (expander, target) pair outcomes
	// (completed, faulted, resolution_failed, compile_degraded).
	InvocationsTotal *prometheus.CounterVec

	// DiagnosticsTotal counts emitted diagnostics by severity.
	DiagnosticsTotal *prometheus.CounterVec

	// ArtifactsTotal counts registered artifacts.
	ArtifactsTotal prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics. A nil registry
// leaves the metrics unregistered, which keeps them usable in tests.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		CompilationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spindle_compilations_total",
				Help: "Total number of expander module compile phases",
			},
			[]string{"result"},
		),
		InvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spindle_invocations_total",
				Help: "Total number of expander invocation outcomes",
			},
			[]string{"outcome"},
		),
		DiagnosticsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spindle_diagnostics_total",
				Help: "Total number of emitted diagnostics",
			},
			[]string{"severity"},
		),
		ArtifactsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "spindle_artifacts_total",
				Help: "Total number of registered artifacts",
			},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.CompilationsTotal,
			m.InvocationsTotal,
			m.DiagnosticsTotal,
			m.ArtifactsTotal,
		)
	}

	return m
}
