package agent

import (
	"context"
	"strings"

	"github.com/haasonsaas/subagent/internal/tools/policy"
)

type systemPromptKey struct{}
type chunksChanKey struct{}
type runtimeOptsKey struct{}
type elevatedKey struct{}
type modelKey struct{}
type agentIDKey struct{}
type depthKey struct{}

// WithRuntimeOptions stores per-request runtime option overrides in the context.
func WithRuntimeOptions(ctx context.Context, opts RuntimeOptions) context.Context {
	return context.WithValue(ctx, runtimeOptsKey{}, opts)
}

func runtimeOptionsFromContext(ctx context.Context) (RuntimeOptions, bool) {
	opts, ok := ctx.Value(runtimeOptsKey{}).(RuntimeOptions)
	return opts, ok
}

// ElevatedMode controls elevated execution semantics for a request.
type ElevatedMode string

const (
	ElevatedOff  ElevatedMode = "off"
	ElevatedAsk  ElevatedMode = "ask"
	ElevatedFull ElevatedMode = "full"
)

// MaxResponseTextSize is the maximum size of accumulated response text (1MB).
// This prevents memory exhaustion from malicious or buggy model responses.
const MaxResponseTextSize = 1 << 20 // 1MB

// MaxToolCallsPerIteration is the maximum number of tool calls allowed in a single iteration.
// This prevents DOS attacks where the model returns excessive tool calls.
const MaxToolCallsPerIteration = 100

// ParseElevatedMode normalizes a user-facing directive to an ElevatedMode.
func ParseElevatedMode(value string) (ElevatedMode, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "ask":
		return ElevatedAsk, true
	case "full":
		return ElevatedFull, true
	case "off":
		return ElevatedOff, true
	default:
		return ElevatedOff, false
	}
}

// WithElevated stores an elevated mode override in the context.
func WithElevated(ctx context.Context, mode ElevatedMode) context.Context {
	return context.WithValue(ctx, elevatedKey{}, mode)
}

// ElevatedFromContext retrieves the elevated mode from context (default: off).
func ElevatedFromContext(ctx context.Context) ElevatedMode {
	mode, ok := ctx.Value(elevatedKey{}).(ElevatedMode)
	if !ok {
		return ElevatedOff
	}
	return mode
}

// WithSystemPrompt stores a request-scoped system prompt override in the context.
func WithSystemPrompt(ctx context.Context, prompt string) context.Context {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ctx
	}
	return context.WithValue(ctx, systemPromptKey{}, prompt)
}

func systemPromptFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(systemPromptKey{}).(string)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// WithModel stores a request-scoped model override in the context.
func WithModel(ctx context.Context, model string) context.Context {
	model = strings.TrimSpace(model)
	if model == "" {
		return ctx
	}
	return context.WithValue(ctx, modelKey{}, model)
}

func modelFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(modelKey{}).(string)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

type toolPolicyKey struct{}
type toolResolverKey struct{}

// WithToolPolicy stores a tool policy override in the context.
func WithToolPolicy(ctx context.Context, resolver *policy.Resolver, toolPolicy *policy.Policy) context.Context {
	if resolver == nil || toolPolicy == nil {
		return ctx
	}
	ctx = context.WithValue(ctx, toolResolverKey{}, resolver)
	return context.WithValue(ctx, toolPolicyKey{}, toolPolicy)
}

func toolPolicyFromContext(ctx context.Context) (*policy.Resolver, *policy.Policy, bool) {
	resolver, ok := ctx.Value(toolResolverKey{}).(*policy.Resolver)
	if !ok || resolver == nil {
		return nil, nil, false
	}
	pol, ok := ctx.Value(toolPolicyKey{}).(*policy.Policy)
	if !ok || pol == nil {
		return nil, nil, false
	}
	return resolver, pol, true
}

type toolOutputSinkKey struct{}

// ToolOutputSink receives streamed partial output from a running tool so
// the driver can surface it as tool.stdout activity while the call is
// still in flight.
type ToolOutputSink func(callID, name, chunk string)

// WithToolOutputSink stores a streaming tool-output callback in context.
// Tools that produce incremental output (notably shell execution) look it
// up and feed chunks as they arrive; tools that don't simply ignore it.
func WithToolOutputSink(ctx context.Context, sink ToolOutputSink) context.Context {
	if sink == nil {
		return ctx
	}
	return context.WithValue(ctx, toolOutputSinkKey{}, sink)
}

// ToolOutputSinkFromContext retrieves the streaming tool-output callback,
// or nil when the caller didn't install one.
func ToolOutputSinkFromContext(ctx context.Context) ToolOutputSink {
	sink, _ := ctx.Value(toolOutputSinkKey{}).(ToolOutputSink)
	return sink
}

type boundToolOutputKey struct{}

// withBoundToolOutput narrows the driver-level ToolOutputSink to one tool
// call, so the tool itself only needs a func(chunk string) and never
// learns its own call-id. Installed by the Executor around each Execute.
func withBoundToolOutput(ctx context.Context, callID, name string) context.Context {
	sink := ToolOutputSinkFromContext(ctx)
	if sink == nil {
		return ctx
	}
	return context.WithValue(ctx, boundToolOutputKey{}, func(chunk string) {
		sink(callID, name, chunk)
	})
}

// ToolOutputWriterFromContext returns the per-call streaming writer, or
// nil when no activity sink is interested in partial output.
func ToolOutputWriterFromContext(ctx context.Context) func(chunk string) {
	w, _ := ctx.Value(boundToolOutputKey{}).(func(string))
	return w
}

// WithAgentID stores the running agent's own identifier in context so
// tools executing on its behalf (notably the subagent spawn tool) can
// read it back as the parent-id for anything they spawn.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey{}, agentID)
}

// AgentIDFromContext retrieves the running agent's identifier, or "" if
// none was set (e.g. a context not produced by the Invocation Boundary).
func AgentIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(agentIDKey{}).(string)
	return id
}

// WithNestingDepth stores the current delegation depth in context: 0 for a
// top-level agent, N for an agent spawned N levels deep.
func WithNestingDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}

// NestingDepthFromContext retrieves the current delegation depth, or 0 if
// unset.
func NestingDepthFromContext(ctx context.Context) int {
	depth, _ := ctx.Value(depthKey{}).(int)
	return depth
}
