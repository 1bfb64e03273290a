package agent

import (
	"context"
	"time"
)

// Telemetry receives lifecycle records for agent runs. Implementations
// must be non-blocking; records are fire-and-forget.
type Telemetry interface {
	// AgentStart records that a run began.
	AgentStart(ctx context.Context, agentID, name string)

	// AgentFinish records a run's outcome once it has fully settled,
	// including any recovery turn.
	AgentFinish(ctx context.Context, agentID, name string, elapsed time.Duration, turnCount int, reason TerminationReason)

	// RecoveryAttempt records one grace-window recovery turn and whether
	// it produced a valid completion.
	RecoveryAttempt(ctx context.Context, agentID string, reason TerminationReason, elapsed time.Duration, success bool, turnCount int)
}

// NopTelemetry discards all records.
type NopTelemetry struct{}

func (NopTelemetry) AgentStart(context.Context, string, string) {}
func (NopTelemetry) AgentFinish(context.Context, string, string, time.Duration, int, TerminationReason) {
}
func (NopTelemetry) RecoveryAttempt(context.Context, string, TerminationReason, time.Duration, bool, int) {
}
