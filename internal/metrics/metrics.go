// Package metrics exposes the runtime's ambient observability surface as
// Prometheus collectors: turn/tool-call counts, retry and compaction
// counters, and turn-latency histograms. Non-goals exclude a UI, not
// instrumentation (SPEC_FULL.md domain stack).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups every collector the agent loop and supervisor report to.
// Construct one per process with New and pass it down to the components
// that emit events; it is safe for concurrent use across Agent instances.
type Registry struct {
	reg *prometheus.Registry

	turnsTotal       *prometheus.CounterVec
	turnDuration     *prometheus.HistogramVec
	toolCallsTotal   *prometheus.CounterVec
	retriesTotal     *prometheus.CounterVec
	compactionsTotal *prometheus.CounterVec
	contextTokens    *prometheus.GaugeVec
}

// New constructs a Registry with every collector registered against a fresh
// prometheus.Registry (not the global DefaultRegisterer, so multiple Agent
// processes in one test binary don't collide).
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.turnsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentcore_turns_total",
		Help: "Agent loop turns completed, labeled by stop reason.",
	}, []string{"stop_reason"})

	r.turnDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentcore_turn_duration_seconds",
		Help:    "Wall-clock duration of one agent loop turn.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	r.toolCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentcore_tool_calls_total",
		Help: "Tool invocations, labeled by tool name and error outcome.",
	}, []string{"tool", "is_error"})

	r.retriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentcore_retries_total",
		Help: "Supervisor retry attempts, labeled by outcome.",
	}, []string{"outcome"})

	r.compactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agentcore_compactions_total",
		Help: "Supervisor compactions run, labeled by reason and outcome.",
	}, []string{"reason", "outcome"})

	r.contextTokens = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agentcore_context_tokens",
		Help: "Last estimated context token count per session.",
	}, []string{"session_id"})

	r.reg.MustRegister(r.turnsTotal, r.turnDuration, r.toolCallsTotal, r.retriesTotal, r.compactionsTotal, r.contextTokens)
	return r
}

// ObserveTurn records a completed agent loop turn.
func (r *Registry) ObserveTurn(stopReason, provider string, seconds float64) {
	r.turnsTotal.WithLabelValues(stopReason).Inc()
	r.turnDuration.WithLabelValues(provider).Observe(seconds)
}

// ObserveToolCall records one tool invocation's outcome.
func (r *Registry) ObserveToolCall(toolName string, isError bool) {
	r.toolCallsTotal.WithLabelValues(toolName, boolLabel(isError)).Inc()
}

// ObserveRetry records one supervisor retry attempt's outcome ("attempt",
// "success", or "exhausted").
func (r *Registry) ObserveRetry(outcome string) {
	r.retriesTotal.WithLabelValues(outcome).Inc()
}

// ObserveCompaction records one supervisor compaction run.
func (r *Registry) ObserveCompaction(reason, outcome string) {
	r.compactionsTotal.WithLabelValues(reason, outcome).Inc()
}

// SetContextTokens records the last estimated context size for a session.
func (r *Registry) SetContextTokens(sessionID string, tokens int) {
	r.contextTokens.WithLabelValues(sessionID).Set(float64(tokens))
}

// Handler returns the /metrics exposition endpoint for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
