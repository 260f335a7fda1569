// Package metrics exposes the Prometheus collectors of the settlement core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors so tests can use a private registry.
type Metrics struct {
	Transitions         *prometheus.CounterVec
	RailFailures        *prometheus.CounterVec
	SettlementConflicts prometheus.Counter
	SweepDuration       prometheus.Histogram
	SweepReleased       prometheus.Counter
	ReputationRecompute *prometheus.CounterVec
	NotificationsDrop   prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "transitions_total",
			Help:      "Transaction state transitions by kind.",
		}, []string{"kind", "to"}),
		RailFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "rail_failures_total",
			Help:      "Funds rail calls that failed, by operation.",
		}, []string{"op"}),
		SettlementConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "settlement_conflicts_total",
			Help:      "Settlement attempts that found another settlement in progress.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "escrow",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of dispute window sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
		SweepReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "sweep_released_total",
			Help:      "Transactions auto-released by the dispute window sweeper.",
		}),
		ReputationRecompute: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reputation",
			Name:      "recomputes_total",
			Help:      "Reputation cache recomputations by trigger.",
		}, []string{"trigger"}),
		NotificationsDrop: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "notifications",
			Name:      "dropped_total",
			Help:      "Notifications dropped because the queue was full.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Transitions,
			m.RailFailures,
			m.SettlementConflicts,
			m.SweepDuration,
			m.SweepReleased,
			m.ReputationRecompute,
			m.NotificationsDrop,
		)
	}
	return m
}
