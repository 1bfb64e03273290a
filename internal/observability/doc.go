// Package observability provides monitoring and debugging for the
// sub-agent engine through metrics, structured logging, and distributed
// tracing.
//
// # Overview
//
// The package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Distributed request tracing with OpenTelemetry
//
// # Metrics
//
// Metrics track the engine's moving parts:
//   - agent run lifecycle (started, finished by termination reason)
//   - turns per run and run wall time
//   - model request latency and token usage
//   - tool execution performance
//   - recovery-turn attempts and operator interrupts
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	metrics.AgentRunStarted("researcher")
//	// ... drive the run ...
//	metrics.AgentRunFinished("researcher", "GOAL", turns, elapsed.Seconds())
//
//	start := time.Now()
//	// ... make a model request ...
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4-20250514", "success",
//	    time.Since(start).Seconds(), inputTokens, outputTokens)
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic request ID correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//
//	ctx := observability.AddRunID(ctx, agentID)
//	logger.Info(ctx, "turn started", "turn", turn)
//
//	// Error logging with automatic redaction
//	logger.Error(ctx, "model request failed",
//	    "error", err,
//	    "api_key", apiKey, // automatically redacted
//	)
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:  "subagent-engine",
//	    Endpoint:     "localhost:4317", // OTLP collector
//	    SamplingRate: 0.1,
//	})
//	defer shutdown(context.Background())
//
//	ctx, llmSpan := tracer.TraceLLMRequest(ctx, "anthropic", "claude-sonnet-4-20250514")
//	defer llmSpan.End()
//
//	ctx, toolSpan := tracer.TraceToolExecution(ctx, "web_search")
//	defer toolSpan.End()
//
// # Telemetry bridge
//
// AgentTelemetry adapts this package to the engine's agent.Telemetry
// interface so drivers emit AgentStart/AgentFinish/RecoveryAttempt records
// straight into metrics and logs:
//
//	tel := observability.NewAgentTelemetry(metrics, logger)
//	driver, _ := agent.NewDriver(def, registry, provider, interrupts, sink,
//	    agent.WithTelemetry(tel))
package observability
