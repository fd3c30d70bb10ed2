package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors operators watch: every attempt outcome,
// every circuit transition, every conversation state transition.
type Metrics struct {
	registry *prometheus.Registry

	AttemptsTotal      *prometheus.CounterVec
	CircuitTransitions *prometheus.CounterVec
	StateTransitions   *prometheus.CounterVec
	EscalationsTotal   *prometheus.CounterVec
	ProcessDuration    prometheus.Histogram
	RetrievalCitations prometheus.Histogram
	AttemptCostUSD     *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaydesk_model_attempts_total",
			Help: "Generation attempts by provider, model and outcome.",
		}, []string{"provider", "model", "outcome"}),
		CircuitTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaydesk_circuit_transitions_total",
			Help: "Circuit breaker transitions by provider and new state.",
		}, []string{"provider", "state"}),
		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaydesk_conversation_transitions_total",
			Help: "Conversation state transitions.",
		}, []string{"from", "to"}),
		EscalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaydesk_escalations_total",
			Help: "Escalations by reason category.",
		}, []string{"reason"}),
		ProcessDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relaydesk_process_duration_seconds",
			Help:    "End-to-end message processing latency.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		RetrievalCitations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relaydesk_retrieval_citations",
			Help:    "Citations returned per retrieval.",
			Buckets: prometheus.LinearBuckets(0, 1, 8),
		}),
		AttemptCostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaydesk_attempt_cost_usd_total",
			Help: "Accumulated generation cost by provider and model.",
		}, []string{"provider", "model"}),
	}

	reg.MustRegister(
		m.AttemptsTotal,
		m.CircuitTransitions,
		m.StateTransitions,
		m.EscalationsTotal,
		m.ProcessDuration,
		m.RetrievalCitations,
		m.AttemptCostUSD,
	)
	return m
}

// Handler serves the scrape endpoint for this metrics set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
