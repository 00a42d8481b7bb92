// Package metrics exposes prometheus instruments for the vault server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the server's prometheus collectors.
type Metrics struct {
	// Operations counts vault operations by name and outcome.
	Operations *prometheus.CounterVec
	// Denials counts authorization denials by reason.
	Denials *prometheus.CounterVec
	// Conflicts counts storage serialization conflicts surfaced to callers.
	Conflicts prometheus.Counter
	// TerminatedTxns counts transactions rolled back by the idle sweeper.
	TerminatedTxns prometheus.Counter
	// RequestDuration observes HTTP request latency by route and status.
	RequestDuration *prometheus.HistogramVec
}

// New builds and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_operations_total",
			Help: "Vault operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		Denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_denials_total",
			Help: "Authorization denials by reason.",
		}, []string{"reason"}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vault_serialization_conflicts_total",
			Help: "Storage serialization conflicts surfaced as retryable.",
		}),
		TerminatedTxns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vault_terminated_transactions_total",
			Help: "Transactions rolled back by the idle sweeper.",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
	reg.MustRegister(m.Operations, m.Denials, m.Conflicts, m.TerminatedTxns, m.RequestDuration)
	return m
}
