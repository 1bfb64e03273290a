package agent

import (
	"log/slog"
	"time"
)

// RuntimeOptions governs the mechanics of concurrent tool dispatch for one
// driver: parallelism, per-call timeout, retry behavior, and result
// guarding. Which tools are visible at all is ToolConfigSpec's job.
type RuntimeOptions struct {
	// ToolParallelism caps concurrent tool execution within a turn.
	ToolParallelism int

	// ToolTimeout applies a default timeout to each tool call.
	ToolTimeout time.Duration

	// ToolMaxAttempts controls retry attempts for retryable tool errors.
	ToolMaxAttempts int

	// ToolRetryBackoff waits between retry attempts.
	ToolRetryBackoff time.Duration

	// ToolResultGuard redacts tool results before they reach activity
	// sinks or the next user message.
	ToolResultGuard ToolResultGuard

	// Logger receives runtime diagnostics.
	Logger *slog.Logger
}

// DefaultRuntimeOptions returns the baseline runtime options.
func DefaultRuntimeOptions() RuntimeOptions {
	return RuntimeOptions{
		ToolParallelism:  4,
		ToolTimeout:      30 * time.Second,
		ToolMaxAttempts:  1,
		ToolRetryBackoff: 0,
		Logger:           slog.Default(),
	}
}

// executorConfig derives the dispatcher configuration from these options.
func (o RuntimeOptions) executorConfig() *ExecutorConfig {
	cfg := DefaultExecutorConfig()
	if o.ToolParallelism > 0 {
		cfg.MaxConcurrency = o.ToolParallelism
	}
	if o.ToolTimeout > 0 {
		cfg.DefaultTimeout = o.ToolTimeout
	}
	if o.ToolMaxAttempts > 0 {
		cfg.DefaultRetries = o.ToolMaxAttempts - 1
	}
	if o.ToolRetryBackoff > 0 {
		cfg.RetryBackoff = o.ToolRetryBackoff
	}
	return cfg
}

// WithRuntimeOptionsDriver applies dispatch options to a driver under
// construction.
func WithRuntimeOptionsDriver(opts RuntimeOptions) DriverOption {
	return func(d *Driver) {
		d.dispatch = NewExecutor(d.registry, opts.executorConfig())
	}
}
