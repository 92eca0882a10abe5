package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the service's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Turns               *prometheus.CounterVec
	PlannerOutcomes     *prometheus.CounterVec
	ResponderTiers      *prometheus.CounterVec
	PersistenceFailures *prometheus.CounterVec
	ModelLatency        *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lotus",
			Name:      "turns_total",
			Help:      "Handled turns by channel and result.",
		}, []string{"channel", "result"}),
		PlannerOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lotus",
			Name:      "planner_outcomes_total",
			Help:      "Planner results by outcome kind.",
		}, []string{"outcome"}),
		ResponderTiers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lotus",
			Name:      "responder_tier_total",
			Help:      "Which responder tier produced the bot message.",
		}, []string{"tier"}),
		PersistenceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lotus",
			Name:      "persistence_failures_total",
			Help:      "Best-effort persistence calls that failed.",
		}, []string{"operation"}),
		ModelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lotus",
			Name:      "model_call_seconds",
			Help:      "Latency of language model calls by pipeline role.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"role", "result"}),
	}

	if reg != nil {
		reg.MustRegister(m.Turns, m.PlannerOutcomes, m.ResponderTiers, m.PersistenceFailures, m.ModelLatency)
	}
	return m
}

func (m *Metrics) ObserveTurn(channel, result string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) ObservePlanner(outcome string) {
	if m == nil {
		return
	}
	m.PlannerOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveResponderTier(tier string) {
	if m == nil {
		return
	}
	m.ResponderTiers.WithLabelValues(tier).Inc()
}

func (m *Metrics) ObservePersistenceFailure(operation string) {
	if m == nil {
		return
	}
	m.PersistenceFailures.WithLabelValues(operation).Inc()
}

func (m *Metrics) ObserveModelCall(role string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.ModelLatency.WithLabelValues(role, result).Observe(elapsed.Seconds())
}
