// Package metrics registers the orchestrator's Prometheus collectors. The
// embedding process decides how (or whether) to expose the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProvisionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_provision_total",
		Help: "Provisioning runs by host and outcome.",
	}, []string{"host", "outcome"})

	ProvisionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleet_provision_duration_seconds",
		Help:    "Wall time of complete provisioning runs.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	ControlTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_control_total",
		Help: "Control commands by action and outcome.",
	}, []string{"action", "outcome"})

	SchedulerExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_scheduler_exhausted_total",
		Help: "Times host selection found every host at capacity.",
	})
)

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
