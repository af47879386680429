package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ContentionMetrics counts optimistic-reservation attempts per engine.
type ContentionMetrics struct {
	attempts  *prometheus.CounterVec
	conflicts *prometheus.CounterVec
	outcomes  *prometheus.CounterVec
}

// NewContentionMetrics registers the contention metrics on the provided registerer.
func NewContentionMetrics(reg prometheus.Registerer) *ContentionMetrics {
	if reg == nil {
		return &ContentionMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "contention_attempts_total",
		Help:      "Transactional attempts made by the conflict-retry driver.",
	}, []string{"engine"})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "contention_conflicts_total",
		Help:      "Recognized unique-constraint conflicts that moved to the next candidate.",
	}, []string{"engine", "constraint"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "contention_outcomes_total",
		Help:      "Terminal outcomes of engine operations.",
	}, []string{"engine", "outcome"})
	reg.MustRegister(attempts, conflicts, outcomes)
	return &ContentionMetrics{
		attempts:  attempts,
		conflicts: conflicts,
		outcomes:  outcomes,
	}
}

func (c *ContentionMetrics) IncAttempt(engine string) {
	if c == nil || c.attempts == nil {
		return
	}
	c.attempts.WithLabelValues(normalizeLabel(engine)).Inc()
}

func (c *ContentionMetrics) IncConflict(engine, constraint string) {
	if c == nil || c.conflicts == nil {
		return
	}
	c.conflicts.WithLabelValues(normalizeLabel(engine), normalizeLabel(constraint)).Inc()
}

// IncOutcome records a terminal outcome such as "resolved", "lost_race" or "exhausted".
func (c *ContentionMetrics) IncOutcome(engine, outcome string) {
	if c == nil || c.outcomes == nil {
		return
	}
	c.outcomes.WithLabelValues(normalizeLabel(engine), normalizeLabel(outcome)).Inc()
}
