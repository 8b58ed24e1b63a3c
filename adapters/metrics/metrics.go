// Package metrics provides Prometheus metrics collection for the billing core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for the billing core.
type Collector struct {
	// Lifecycle metrics
	TransitionsTotal *prometheus.CounterVec
	TransitionErrors *prometheus.CounterVec

	// Read metrics
	EntitlementReads prometheus.Counter

	// Sweep metrics
	SweepRuns      prometheus.Counter
	SweepFinalized prometheus.Counter
	SweepErrors    prometheus.Counter

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
}

// New creates a new metrics collector with all metrics registered on the
// default registry.
func New() *Collector {
	return &Collector{
		TransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bakano_billing",
				Name:      "transitions_total",
				Help:      "Subscription lifecycle transitions applied",
			},
			[]string{"op", "plan"},
		),
		TransitionErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bakano_billing",
				Name:      "transition_errors_total",
				Help:      "Subscription lifecycle transitions rejected or failed",
			},
			[]string{"op", "reason"},
		),
		EntitlementReads: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "bakano_billing",
				Name:      "entitlement_reads_total",
				Help:      "Entitlement view reads served",
			},
		),
		SweepRuns: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "bakano_billing",
				Name:      "sweep_runs_total",
				Help:      "Period-end sweep executions",
			},
		),
		SweepFinalized: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "bakano_billing",
				Name:      "sweep_finalized_total",
				Help:      "Subscriptions finalized by the period-end sweep",
			},
		),
		SweepErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "bakano_billing",
				Name:      "sweep_errors_total",
				Help:      "Unexpected errors during the period-end sweep",
			},
		),
		ConfigReloads: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "bakano_billing",
				Name:      "config_reloads_total",
				Help:      "Successful configuration reloads",
			},
		),
		ConfigReloadErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "bakano_billing",
				Name:      "config_reload_errors_total",
				Help:      "Failed configuration reloads",
			},
		),
	}
}
