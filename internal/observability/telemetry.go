package observability

import (
	"context"
	"time"

	"github.com/haasonsaas/subagent/internal/agent"
)

// AgentTelemetry bridges the engine's telemetry records into metrics and
// structured logs. It satisfies agent.Telemetry.
type AgentTelemetry struct {
	metrics *Metrics
	logger  *Logger
}

// NewAgentTelemetry builds the bridge. Either argument may be nil; nil
// sinks are skipped.
func NewAgentTelemetry(metrics *Metrics, logger *Logger) *AgentTelemetry {
	return &AgentTelemetry{metrics: metrics, logger: logger}
}

var _ agent.Telemetry = (*AgentTelemetry)(nil)

// AgentStart records a run beginning.
func (t *AgentTelemetry) AgentStart(ctx context.Context, agentID, name string) {
	t.metrics.AgentRunStarted(name)
	if t.logger != nil {
		t.logger.Info(ctx, "agent run started", "agent_id", agentID, "agent", name)
	}
}

// AgentFinish records a settled run, including any recovery turn.
func (t *AgentTelemetry) AgentFinish(ctx context.Context, agentID, name string, elapsed time.Duration, turnCount int, reason agent.TerminationReason) {
	t.metrics.AgentRunFinished(name, string(reason), turnCount, elapsed.Seconds())
	if t.logger != nil {
		t.logger.Info(ctx, "agent run finished",
			"agent_id", agentID,
			"agent", name,
			"elapsed_ms", elapsed.Milliseconds(),
			"turns", turnCount,
			"reason", string(reason),
		)
	}
}

// RecoveryAttempt records one grace-window recovery turn.
func (t *AgentTelemetry) RecoveryAttempt(ctx context.Context, agentID string, reason agent.TerminationReason, elapsed time.Duration, success bool, turnCount int) {
	t.metrics.RecordRecoveryAttempt(string(reason), success)
	if t.logger != nil {
		t.logger.Info(ctx, "agent recovery attempt",
			"agent_id", agentID,
			"reason", string(reason),
			"elapsed_ms", elapsed.Milliseconds(),
			"success", success,
			"turns", turnCount,
		)
	}
}
