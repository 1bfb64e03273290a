package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for the sub-agent engine:
//   - run lifecycle (started, finished by termination reason, turns per run)
//   - model request performance and token throughput
//   - tool execution patterns and latencies
//   - recovery-turn attempts and outcomes
//   - operator interrupts by kind
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.AgentRunStarted("researcher")
//	defer metrics.AgentRunFinished("researcher", "GOAL", turns, elapsed.Seconds())
type Metrics struct {
	// RunsStarted counts agent runs begun. Labels: agent.
	RunsStarted *prometheus.CounterVec

	// RunsFinished counts agent runs settled. Labels: agent, reason.
	RunsFinished *prometheus.CounterVec

	// RunDuration observes wall time per run in seconds. Labels: agent.
	RunDuration *prometheus.HistogramVec

	// TurnsPerRun observes how many turns a run took. Labels: agent.
	TurnsPerRun *prometheus.HistogramVec

	// LLMRequests counts model calls. Labels: provider, model, status.
	LLMRequests *prometheus.CounterVec

	// LLMRequestDuration observes model call latency in seconds.
	// Labels: provider, model.
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokens counts tokens consumed/produced.
	// Labels: provider, model, direction (input|output).
	LLMTokens *prometheus.CounterVec

	// ToolExecutions counts tool calls. Labels: tool, status.
	ToolExecutions *prometheus.CounterVec

	// ToolDuration observes tool execution latency in seconds. Labels: tool.
	ToolDuration *prometheus.HistogramVec

	// RecoveryAttempts counts grace-window recovery turns.
	// Labels: reason, outcome (success|failure).
	RecoveryAttempts *prometheus.CounterVec

	// Interrupts counts operator interrupts delivered. Labels: kind.
	Interrupts *prometheus.CounterVec

	// Errors counts errors by component and type.
	Errors *prometheus.CounterVec

	// ActiveAgents gauges currently running agent frames.
	ActiveAgents prometheus.Gauge

}

// NewMetrics registers and returns the engine's metric set on the default
// registry.
func NewMetrics() *Metrics {
	return NewMetricsFor(prometheus.DefaultRegisterer)
}

// NewMetricsFor registers the metric set on a specific registerer. Tests
// use this to avoid duplicate-registration panics on the default registry.
func NewMetricsFor(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "subagent_runs_started_total",
			Help: "Agent runs begun.",
		}, []string{"agent"}),

		RunsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "subagent_runs_finished_total",
			Help: "Agent runs settled, by termination reason.",
		}, []string{"agent", "reason"}),

		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "subagent_run_duration_seconds",
			Help:    "Wall time per agent run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"agent"}),

		TurnsPerRun: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "subagent_turns_per_run",
			Help:    "Turns taken per agent run.",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
		}, []string{"agent"}),

		LLMRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "subagent_llm_requests_total",
			Help: "Model completion requests.",
		}, []string{"provider", "model", "status"}),

		LLMRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "subagent_llm_request_duration_seconds",
			Help:    "Model completion latency.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider", "model"}),

		LLMTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "subagent_llm_tokens_total",
			Help: "Tokens by direction.",
		}, []string{"provider", "model", "direction"}),

		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "subagent_tool_executions_total",
			Help: "Tool calls dispatched, by outcome.",
		}, []string{"tool", "status"}),

		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "subagent_tool_duration_seconds",
			Help:    "Tool execution latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
		}, []string{"tool"}),

		RecoveryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "subagent_recovery_attempts_total",
			Help: "Grace-window recovery turns, by triggering reason and outcome.",
		}, []string{"reason", "outcome"}),

		Interrupts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "subagent_interrupts_total",
			Help: "Operator interrupts delivered, by kind.",
		}, []string{"kind"}),

		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "subagent_errors_total",
			Help: "Errors by component and type.",
		}, []string{"component", "type"}),

		ActiveAgents: factory.NewGauge(prometheus.GaugeOpts{
			Name: "subagent_active_agents",
			Help: "Agent frames currently executing.",
		}),

	}
}

// AgentRunStarted records the start of a run.
func (m *Metrics) AgentRunStarted(agent string) {
	if m == nil {
		return
	}
	m.RunsStarted.WithLabelValues(agent).Inc()
	m.ActiveAgents.Inc()
}

// AgentRunFinished records a settled run.
func (m *Metrics) AgentRunFinished(agent, reason string, turns int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RunsFinished.WithLabelValues(agent, reason).Inc()
	m.RunDuration.WithLabelValues(agent).Observe(durationSeconds)
	m.TurnsPerRun.WithLabelValues(agent).Observe(float64(turns))
	m.ActiveAgents.Dec()
}

// RecordLLMRequest records one model call with token usage.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.LLMRequests.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.LLMTokens.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokens.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records one tool call.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutions.WithLabelValues(toolName, status).Inc()
	m.ToolDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordRecoveryAttempt records one grace-window recovery turn.
func (m *Metrics) RecordRecoveryAttempt(reason string, success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.RecoveryAttempts.WithLabelValues(reason, outcome).Inc()
}

// RecordInterrupt records one operator interrupt.
func (m *Metrics) RecordInterrupt(kind string) {
	if m == nil {
		return
	}
	m.Interrupts.WithLabelValues(kind).Inc()
}

// RecordError records an error by component and type.
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(component, errorType).Inc()
}

