package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Key fetch outcomes.
const (
	FetchOK       = "ok"
	FetchNotReady = "not_ready"
	FetchError    = "error"
	FetchCached   = "cached"
)

// RevealMetrics instruments the commit and reveal path.
type RevealMetrics struct {
	commitments   *prometheus.CounterVec
	registrations *prometheus.CounterVec
	keyFetches    *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec
	transitions   *prometheus.CounterVec
}

// NewRevealMetrics creates (or reuses) the collectors prefixed with pkg.
func NewRevealMetrics(pkg string) RevealMetrics {
	m := RevealMetrics{
		commitments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_commitments", pkg),
				Help: "How many commitments were created, partitioned by status.",
			},
			[]string{"status"},
		),
		registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_registrations", pkg),
				Help: "How many identity registrations were issued, partitioned by registry and status.",
			},
			[]string{"registry", "status"},
		),
		keyFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_key_fetches", pkg),
				Help: "How many release key lookups happened, partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		fetchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: fmt.Sprintf("%s_key_fetch_latencies", pkg),
				Help: "How long release key fetches take, partitioned by registry.",
			},
			[]string{"registry"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_state_transitions", pkg),
				Help: "Reveal controller state transitions, partitioned by source and target state.",
			},
			[]string{"from", "to"},
		),
	}
	m.commitments = registerOnce(m.commitments).(*prometheus.CounterVec)
	m.registrations = registerOnce(m.registrations).(*prometheus.CounterVec)
	m.keyFetches = registerOnce(m.keyFetches).(*prometheus.CounterVec)
	m.fetchLatency = registerOnce(m.fetchLatency).(*prometheus.HistogramVec)
	m.transitions = registerOnce(m.transitions).(*prometheus.CounterVec)
	return m
}

// Commitments returns the counter for commitments with the given status.
func (m *RevealMetrics) Commitments(status string) prometheus.Counter {
	return m.commitments.WithLabelValues(status)
}

// Registrations returns the counter for registrations against registry.
func (m *RevealMetrics) Registrations(registry, status string) prometheus.Counter {
	return m.registrations.WithLabelValues(registry, status)
}

// KeyFetches returns the counter for a key fetch outcome.
func (m *RevealMetrics) KeyFetches(outcome string) prometheus.Counter {
	return m.keyFetches.WithLabelValues(outcome)
}

// FetchTimer starts a latency timer for a key fetch against registry.
func (m *RevealMetrics) FetchTimer(registry string) *prometheus.Timer {
	return prometheus.NewTimer(m.fetchLatency.WithLabelValues(registry))
}

// Transitions returns the counter for a state transition.
func (m *RevealMetrics) Transitions(from, to string) prometheus.Counter {
	return m.transitions.WithLabelValues(from, to)
}
