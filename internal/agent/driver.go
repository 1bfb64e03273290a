package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/subagent/internal/tools/policy"
	"github.com/haasonsaas/subagent/pkg/models"
)

// TerminationReason is the small enum a Driver run settles into. GOAL is the
// only reason that indicates the agent actually accomplished its objective;
// every other value is a form of "stopped without finishing".
type TerminationReason string

const (
	ReasonGoal               TerminationReason = "GOAL"
	ReasonMaxTurns           TerminationReason = "MAX_TURNS"
	ReasonTimeout            TerminationReason = "TIMEOUT"
	ReasonNoCompleteTaskCall TerminationReason = "ERROR_NO_COMPLETE_TASK_CALL"
	ReasonAborted            TerminationReason = "ABORTED"
	ReasonError              TerminationReason = "ERROR"
)

// RunResult is what Driver.Run returns: the best available result text and
// why the run stopped.
type RunResult struct {
	Result            string
	TerminationReason TerminationReason
	TurnCount         int
}

// recoveryGrace is the fixed grace window granted to the single recovery
// turn after a recoverable limit is exhausted.
const recoveryGrace = 60 * time.Second

// errWallClockExpired signals that the run's master timer fired while a
// model stream was in flight. The timer's channel delivers exactly once,
// so the stream consumer must carry the fact back to the turn loop rather
// than swallow it.
var errWallClockExpired = errors.New("wall-clock budget expired")

// nonInteractiveAllowList is the fixed set of tools safe to run with no
// operator in the loop: directory listing, file read, content grep, glob,
// multi-file read, memory, shell, and web search. Every alias a tool in
// this codebase actually registers under is listed so the allow-list check
// doesn't reject a tool purely because of a naming variant.
var nonInteractiveAllowList = map[string]bool{
	"ls":            true,
	"read":          true,
	"read_many":     true,
	"grep":          true,
	"glob":          true,
	"exec":          true,
	"shell":         true,
	"bash":          true,
	"memory_search": true,
	"memory_get":    true,
	"websearch":     true,
	"web_search":    true,
	"webfetch":      true,
	"web_fetch":     true,
}

// IsNonInteractiveTool reports whether name is on the allow-list of tools a
// sub-agent may be configured with. complete_task is always allowed since
// it never reaches this check (it is injected separately).
func IsNonInteractiveTool(name string) bool {
	return nonInteractiveAllowList[name]
}

// EnvironmentContextFunc produces the "Environment Context" block appended
// to the system prompt: typically the working directory and a folder
// listing, possibly tailored to the model.
type EnvironmentContextFunc func(ctx context.Context, model string) string

// DriverOption customizes a Driver at construction.
type DriverOption func(*Driver)

// WithTelemetry installs a telemetry sink for run/recovery records.
func WithTelemetry(t Telemetry) DriverOption {
	return func(d *Driver) {
		if t != nil {
			d.telemetry = t
		}
	}
}

// WithCompression installs the optional chat-compression service invoked
// before each remote-adapter turn.
func WithCompression(c CompressionService) DriverOption {
	return func(d *Driver) { d.compression = c }
}

// WithEnvironmentContext installs the host's environment-context provider.
func WithEnvironmentContext(f EnvironmentContextFunc) DriverOption {
	return func(d *Driver) { d.envContext = f }
}

// WithResultGuard installs a redaction guard applied to every tool
// response before it reaches activity sinks or the next user message.
func WithResultGuard(guard ToolResultGuard) DriverOption {
	return func(d *Driver) { d.resultGuard = guard }
}

// Driver is the turn state machine: it assembles a user message, streams a
// model completion, dispatches the resulting tool calls, and loops until
// the model calls complete_task, a limit is exhausted, or the operator
// interrupts.
type Driver struct {
	def        *AgentDefinition
	registry   *ToolRegistry
	dispatch   *Executor
	provider   LLMProvider
	resolver   *policy.Resolver
	toolPolicy *policy.Policy
	summarizer *Summarizer

	interrupts  *InterruptManager
	events      *EventEmitter
	telemetry   Telemetry
	compression CompressionService
	envContext  EnvironmentContextFunc
	resultGuard ToolResultGuard

	// compressionInflated latches after a compression attempt reported
	// COMPRESSION_FAILED_INFLATED_TOKEN_COUNT so the next turn doesn't
	// retry and inflate again.
	compressionInflated bool
}

// NewDriver builds a Driver for one agent run. It resolves the definition's
// tool configuration against registry, rejects any tool not on the
// non-interactive allow-list or that requires interactive approval, and
// wires the concurrent tool dispatcher. The registry's completion tool is
// replaced with one whose schema reflects the definition's output spec.
func NewDriver(def *AgentDefinition, registry *ToolRegistry, provider LLMProvider, interrupts *InterruptManager, sink EventSink, opts ...DriverOption) (*Driver, error) {
	if err := def.Validate(); err != nil {
		return nil, NewDriverError(CategoryConfiguration, "", err)
	}
	if registry == nil {
		return nil, NewDriverError(CategoryConfiguration, "", fmt.Errorf("tool registry is required"))
	}
	if provider == nil {
		return nil, NewDriverError(CategoryConfiguration, "", ErrNoProvider)
	}
	if def.Tools.Approval != nil {
		return nil, NewDriverError(CategoryConfiguration, "",
			fmt.Errorf("agent %q: interactive approval policies are not permitted on non-interactive sub-agents", def.Name))
	}

	resolver := policy.NewResolver()
	toolPolicy := &policy.Policy{Profile: policy.ProfileFull, Allow: def.Tools.Allow, Deny: def.Tools.Deny}

	for _, tool := range registry.AsLLMTools() {
		name := tool.Name()
		if name == CompleteTaskToolName {
			continue
		}
		if !resolver.IsAllowed(toolPolicy, name) {
			continue // not visible to this agent at all; nothing to validate
		}
		if !IsNonInteractiveTool(name) {
			return nil, NewDriverError(CategoryConfiguration, "",
				fmt.Errorf("tool %q is not on the non-interactive allow-list", name))
		}
	}
	registry.SetCompletionTool(def)

	var summarizer *Summarizer
	if def.Run.Summarize {
		summarizer = NewSummarizer(DefaultSummarizerConfig(), provider, def.Model.Model)
	}

	if interrupts == nil {
		interrupts = NewInterruptManager()
	}

	d := &Driver{
		def:        def,
		registry:   registry,
		dispatch:   NewExecutor(registry, DefaultExecutorConfig()),
		provider:   provider,
		resolver:   resolver,
		toolPolicy: toolPolicy,
		summarizer: summarizer,
		interrupts: interrupts,
		events:     NewEventEmitter(NewAgentID("", def.Name), sink),
		telemetry:  NopTelemetry{},
	}
	d.events.SetAgentName(def.Name)
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// AgentID returns the identifier minted for this driver's run.
func (d *Driver) AgentID() string { return d.events.runID }

// Run drives the agent to completion. ctx's cancellation is treated as an
// external abort (no recovery turn is attempted); the run's own wall-clock
// budget (AgentDefinition.TimeBudget) is enforced independently and is
// eligible for a recovery turn when it expires. inputs must satisfy the
// definition's input spec.
func (d *Driver) Run(ctx context.Context, inputs map[string]string) (*RunResult, error) {
	if err := d.def.CheckInputs(inputs); err != nil {
		derr := NewDriverError(CategoryConfiguration, d.events.runID, err)
		return &RunResult{Result: derr.Error(), TerminationReason: ReasonError}, derr
	}

	depth := NestingDepthFromContext(ctx)
	if depth > d.def.MaxNestingDepth() {
		err := NewDriverError(CategoryConfiguration, d.events.runID,
			fmt.Errorf("agent %q: nesting depth %d exceeds its cap of %d", d.def.Name, depth, d.def.MaxNestingDepth()))
		return &RunResult{Result: err.Error(), TerminationReason: ReasonError, TurnCount: 0}, err
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	runCtx = WithAgentID(runCtx, d.events.runID)
	runCtx = WithNestingDepth(runCtx, depth+1)

	handle := d.interrupts.Push(d.events.runID, cancelRun)
	defer handle.Close()

	started := time.Now()
	d.events.RunStarted(runCtx)
	d.telemetry.AgentStart(runCtx, d.events.runID, d.def.Name)

	deadline := started.Add(d.def.TimeBudget())
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	promptCounter := newPromptCounter(d.events.runID)
	systemPrompt := d.assembleSystemPrompt(runCtx, inputs)

	userText := strings.TrimSpace(Interpolate(d.def.Prompt.Query, inputs))
	if userText == "" {
		userText = "Get Started!"
	}

	history := append([]CompletionMessage{}, d.def.Prompt.Seed...)
	turn := 0
	result, reason, externalAbort := d.turnLoop(runCtx, handle, timer, promptCounter, systemPrompt, userText, &history, &turn)

	finish := func(r TerminationReason) {
		d.telemetry.AgentFinish(runCtx, d.events.runID, d.def.Name, time.Since(started), turn, r)
	}

	if externalAbort {
		d.events.RunCancelled(runCtx)
		finish(ReasonAborted)
		return &RunResult{Result: result, TerminationReason: ReasonAborted, TurnCount: turn}, nil
	}

	if reason != ReasonGoal && reason != ReasonAborted {
		recStart := time.Now()
		recovered, recResult := d.recoveryTurn(ctx, systemPrompt, history, reason)
		d.telemetry.RecoveryAttempt(runCtx, d.events.runID, reason, time.Since(recStart), recovered, turn)
		if recovered {
			reason = ReasonGoal
			result = recResult
		} else if reason == ReasonTimeout {
			result = fmt.Sprintf("Agent timed out after %g minutes.", d.def.TimeBudget().Minutes())
		}
	}

	switch reason {
	case ReasonGoal:
		d.events.RunFinished(runCtx, nil)
	case ReasonTimeout:
		d.events.RunTimedOut(runCtx, d.def.TimeBudget())
	case ReasonAborted:
		d.events.RunCancelled(runCtx)
	default:
		d.events.RunError(runCtx, fmt.Errorf("run ended: %s", reason), false)
	}
	finish(reason)

	return &RunResult{Result: result, TerminationReason: reason, TurnCount: turn}, nil
}

// turnLoop implements READY_FOR_TURN / AWAITING_MODEL / PROCESSING_CALLS /
// AWAITING_SOFT_INTERRUPT_INPUT. It returns once a terminal
// (non-recoverable-inline) condition is reached; the caller decides whether
// to attempt a recovery turn.
func (d *Driver) turnLoop(
	ctx context.Context,
	handle *InterruptHandle,
	timer *time.Timer,
	promptCounter *promptCounter,
	systemPrompt string,
	nextUserText string,
	history *[]CompletionMessage,
	turn *int,
) (result string, reason TerminationReason, externalAbort bool) {
	for {
		if ctx.Err() != nil {
			return "context cancelled", ReasonAborted, true
		}
		select {
		case <-timer.C:
			return "Agent timed out after running out of wall-clock time.", ReasonTimeout, false
		default:
		}
		if *turn >= d.def.Run.MaxTurns {
			return "Agent exceeded its configured turn limit.", ReasonMaxTurns, false
		}
		*turn++
		d.events.SetTurn(*turn)
		d.events.IterStarted(ctx)

		if d.def.Model.Adapter == AdapterRemote && d.compression != nil {
			d.maybeCompress(ctx, history)
		}

		promptID := promptCounter.Next()
		if nextUserText != "" {
			*history = append(*history, CompletionMessage{Role: "user", Content: nextUserText})
		}

		req := &CompletionRequest{
			Model:     d.def.Model.Model,
			System:    systemPrompt,
			Messages:  d.wireMessages(*history),
			Tools:     d.toolsForRequest(),
			MaxTokens: d.def.Model.MaxTokens,
		}
		if d.def.Model.Thinking != "" && d.def.Model.Thinking != ThinkingOff {
			req.EnableThinking = true
			req.ThinkingBudgetTokens = GetThinkingBudget(d.def.Model.Thinking)
		}

		text, nativeCalls, interrupted, kind, operatorText, streamErr := d.consumeStream(ctx, handle, timer, req)
		if interrupted {
			if kind == InterruptHard {
				return "interrupted by operator", ReasonAborted, true
			}
			// Soft: drop this turn's partial work, continue with operator
			// text as the next user message. The partial assistant turn is
			// not appended to history since the model never finished it.
			if nextUserText != "" {
				*history = (*history)[:len(*history)-1]
			}
			*turn--
			text, ok := d.rendezvous(ctx, handle, timer, operatorText)
			if !ok {
				return "interrupted by operator with no follow-up", ReasonAborted, true
			}
			nextUserText = text
			continue
		}
		if streamErr != nil {
			if errors.Is(streamErr, errWallClockExpired) {
				return "Agent timed out after running out of wall-clock time.", ReasonTimeout, false
			}
			return fmt.Sprintf("model stream error: %v", streamErr), ReasonError, false
		}

		calls := nativeCalls
		if len(calls) == 0 && d.def.Model.Adapter == AdapterLocal {
			parsed, parseErr := ParseToolCalls(text)
			if parseErr == nil && len(parsed) > 0 {
				calls = ToToolCalls(promptID, parsed)
				text = StripCalls(text, parsed)
			} else if len(parsed) == 0 && parseErr == nil && d.def.Output != nil && strings.TrimSpace(text) != "" {
				// Fallback completion: nothing call-shaped was recoverable,
				// assume the model meant this text as its answer.
				calls = []models.ToolCall{{
					ID:    NewCallID(promptID, 0),
					Name:  CompleteTaskToolName,
					Input: SynthesizeCompletionArgs(d.def, text),
				}}
			}
		}

		if len(calls) == 0 {
			*history = append(*history, CompletionMessage{Role: "assistant", Content: text})
			return "model produced no tool calls", ReasonNoCompleteTaskCall, false
		}

		*history = append(*history, CompletionMessage{Role: "assistant", Content: text, ToolCalls: calls})

		outcome := d.processCalls(ctx, handle, calls)
		*history = append(*history, CompletionMessage{Role: "tool", ToolResults: outcome.responses})

		if outcome.interrupted {
			if outcome.interruptKind == InterruptHard {
				return "interrupted by operator", ReasonAborted, true
			}
			opText, ok := d.rendezvous(ctx, handle, timer, outcome.operatorText)
			if !ok {
				return "interrupted by operator with no follow-up", ReasonAborted, true
			}
			nextUserText = opText
			continue
		}

		if outcome.completed {
			result = outcome.result
			if d.def.Model.Adapter == AdapterLocal && d.def.Output == nil {
				if stripped := strings.TrimSpace(text); stripped != "" {
					result = stripped
				}
			}
			return result, ReasonGoal, false
		}

		// The tool-role message above IS the next conversational step; a
		// user text message is only added when every call failed, so the
		// model is nudged toward a different approach instead of replaying
		// the same errors.
		allFailed := true
		for _, r := range outcome.responses {
			if !r.IsError {
				allFailed = false
				break
			}
		}
		if allFailed {
			nextUserText = "Every tool call in the previous turn failed or was rejected. Try a different approach."
		} else {
			nextUserText = ""
		}
	}
}

// rendezvous resolves a soft interrupt into the operator's replacement
// text. In pre-emptive mode the text arrived with the interrupt itself; in
// rendezvous mode the driver parks until the host resolves the frame's
// one-shot input channel (or the run's clock or context expires). The
// empty second return means the operator supplied nothing and the run
// should abort.
func (d *Driver) rendezvous(ctx context.Context, handle *InterruptHandle, timer *time.Timer, preemptive string) (string, bool) {
	defer handle.ConsumeSoft()
	if preemptive != "" {
		return preemptive, true
	}
	d.events.AwaitingInput(ctx)
	select {
	case text, ok := <-handle.InputChan():
		if !ok || strings.TrimSpace(text) == "" {
			return "", false
		}
		d.events.UserMessage(ctx, text)
		return text, true
	case ix := <-handle.Chan():
		// A second interrupt while parked is always an abort.
		_ = ix
		return "", false
	case <-timer.C:
		return "", false
	case <-ctx.Done():
		return "", false
	}
}

// wireMessages clones history for the wire. On the local adapter path the
// configured reminder text is appended to the final user message of the
// outgoing copy only; history itself is never rewritten.
func (d *Driver) wireMessages(history []CompletionMessage) []CompletionMessage {
	out := append([]CompletionMessage{}, history...)
	if d.def.Model.Adapter != AdapterLocal || d.def.Prompt.Reminder == "" {
		return out
	}
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role == "user" {
			msg := out[i]
			msg.Content = strings.TrimRight(msg.Content, "\n") + "\n\n" + d.def.Prompt.Reminder
			out[i] = msg
			break
		}
	}
	return out
}

// maybeCompress asks the configured compression service to shrink the
// conversation. COMPRESSED swaps in the new history;
// COMPRESSION_FAILED_INFLATED_TOKEN_COUNT latches so the next turn doesn't
// retry.
func (d *Driver) maybeCompress(ctx context.Context, history *[]CompletionMessage) {
	if d.compressionInflated {
		return
	}
	newHistory, status, err := d.compression.Compress(ctx, *history, d.compressionInflated)
	if err != nil {
		return
	}
	switch status {
	case CompressionCompressed:
		if newHistory != nil {
			*history = newHistory
		}
	case CompressionFailedInflated:
		d.compressionInflated = true
	}
}

// consumeStream drains one model completion, honoring interrupt delivery
// and the wall-clock timer at every chunk boundary.
func (d *Driver) consumeStream(ctx context.Context, handle *InterruptHandle, timer *time.Timer, req *CompletionRequest) (text string, calls []models.ToolCall, interrupted bool, kind InterruptKind, operatorText string, err error) {
	chunks, startErr := d.provider.Complete(ctx, req)
	if startErr != nil {
		return "", nil, false, "", "", startErr
	}

	var b strings.Builder
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return b.String(), calls, false, "", "", nil
			}
			if chunk.Error != nil {
				return b.String(), calls, false, "", "", chunk.Error
			}
			if chunk.Thinking != "" {
				d.events.Thought(ctx, chunk.Thinking)
			}
			if chunk.Text != "" {
				b.WriteString(chunk.Text)
				d.events.ModelDelta(ctx, chunk.Text)
			}
			if chunk.ToolCall != nil {
				calls = append(calls, *chunk.ToolCall)
			}
			if chunk.Done {
				d.events.ModelCompleted(ctx, d.provider.Name(), req.Model, chunk.InputTokens, chunk.OutputTokens)
				return b.String(), calls, false, "", "", nil
			}
		case ix := <-handle.Chan():
			d.events.Interrupted(ctx, ix.Kind, ix.Input)
			return b.String(), calls, true, ix.Kind, ix.Input, nil
		case <-timer.C:
			return b.String(), calls, false, "", "", errWallClockExpired
		case <-ctx.Done():
			return b.String(), calls, true, InterruptHard, "", nil
		}
	}
}

// callOutcome is what one PROCESSING_CALLS pass produces.
type callOutcome struct {
	completed bool
	result    string
	responses []models.ToolResult

	interrupted   bool
	interruptKind InterruptKind
	operatorText  string
}

// processCalls handles one turn's tool invocations: complete_task is
// resolved synchronously and is idempotent within the turn; every other
// invocation is dispatched concurrently through the shared Executor and
// collected back in invocation order. An interrupt observed while tools
// are in flight cancels the batch; cancelled invocations report a
// cancellation error in their response slot.
func (d *Driver) processCalls(ctx context.Context, handle *InterruptHandle, calls []models.ToolCall) callOutcome {
	out := callOutcome{responses: make([]models.ToolResult, len(calls))}
	var dispatchIdx []int

	for i, call := range calls {
		if IsCompleteTaskCall(call.Name) {
			if out.completed {
				out.responses[i] = models.ToolResult{
					ToolCallID: call.ID,
					Content:    "Task already marked complete in this turn.",
					IsError:    true,
				}
				continue
			}
			result, err := ResolveCompletion(d.def, call.Input)
			if err != nil {
				out.responses[i] = models.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
				continue
			}
			out.completed = true
			out.result = result
			out.responses[i] = models.ToolResult{ToolCallID: call.ID, Content: result}
			continue
		}

		d.events.ToolStarted(ctx, call.ID, call.Name, call.Input)
		if !d.resolver.IsAllowed(d.toolPolicy, call.Name) {
			out.responses[i] = models.ToolResult{ToolCallID: call.ID, Content: "Unauthorized tool call", IsError: true}
			d.events.ToolFinished(ctx, call.ID, call.Name, false, []byte(`"Unauthorized tool call"`), 0)
			continue
		}
		dispatchIdx = append(dispatchIdx, i)
	}

	if len(dispatchIdx) == 0 {
		return out
	}

	dispatchCalls := make([]models.ToolCall, len(dispatchIdx))
	for j, idx := range dispatchIdx {
		dispatchCalls[j] = calls[idx]
	}

	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	defer cancelDispatch()
	dispatchCtx = WithToolOutputSink(dispatchCtx, func(callID, name, chunk string) {
		d.events.ToolStdout(ctx, callID, name, chunk)
	})

	type dispatchResult struct{ results []*ExecutionResult }
	done := make(chan dispatchResult, 1)
	go func() {
		done <- dispatchResult{results: d.dispatch.ExecuteAll(dispatchCtx, dispatchCalls)}
	}()

	var execResults []*ExecutionResult
	select {
	case r := <-done:
		execResults = r.results
	case ix := <-handle.Chan():
		d.events.Interrupted(ctx, ix.Kind, ix.Input)
		cancelDispatch()
		r := <-done // tools observe cancellation and return promptly
		execResults = r.results
		out.interrupted = true
		out.interruptKind = ix.Kind
		out.operatorText = ix.Input
	case <-ctx.Done():
		cancelDispatch()
		r := <-done
		execResults = r.results
		out.interrupted = true
		out.interruptKind = InterruptHard
	}

	for j, idx := range dispatchIdx {
		er := execResults[j]
		call := calls[idx]
		if er == nil {
			out.responses[idx] = models.ToolResult{ToolCallID: call.ID, Content: "cancelled", IsError: true}
			d.events.ToolFinished(ctx, call.ID, call.Name, false, []byte(`"cancelled"`), 0)
			continue
		}
		if er.Error != nil {
			out.responses[idx] = models.ToolResult{ToolCallID: call.ID, Content: er.Error.Error(), IsError: true}
			d.events.ToolFinished(ctx, call.ID, call.Name, false, []byte(er.Error.Error()), er.Duration)
			continue
		}
		content := er.Result.Content
		if d.summarizer != nil && d.def.Model.Adapter == AdapterLocal && !er.Result.IsError && d.summarizer.ShouldSummarize(content) {
			if summary, sumErr := d.summarizer.Summarize(ctx, d.def.Model.Adapter, call.Name, content); sumErr == nil {
				content = summary
			}
		}
		response := guardToolResult(d.resultGuard, call.Name,
			models.ToolResult{ToolCallID: call.ID, Content: content, IsError: er.Result.IsError}, d.resolver)
		out.responses[idx] = response
		d.events.ToolFinished(ctx, call.ID, call.Name, !er.Result.IsError, []byte(response.Content), er.Duration)
	}

	return out
}

// recoveryTurn grants the single additional turn after a recoverable
// reason (timeout, max-turns, protocol violation) is reached. It runs
// under its own grace window and is never attempted for ABORTED or an
// already-successful run.
func (d *Driver) recoveryTurn(ctx context.Context, systemPrompt string, history []CompletionMessage, reason TerminationReason) (bool, string) {
	graceCtx, cancel := context.WithTimeout(detach(ctx), recoveryGrace)
	defer cancel()

	req := &CompletionRequest{
		Model:    d.def.Model.Model,
		System:   systemPrompt,
		Messages: append(append([]CompletionMessage{}, history...), CompletionMessage{Role: "user", Content: RecoveryPrompt}),
		Tools:    d.registry.GetFunctionDeclarationsFiltered(d.resolver, d.toolPolicy),
	}

	chunks, err := d.provider.Complete(graceCtx, req)
	if err != nil {
		d.events.RunError(ctx, NewDriverError(CategoryRecoveryFailed, "", err), false)
		return false, ""
	}

	var b strings.Builder
	var calls []models.ToolCall
loop:
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				break loop
			}
			if chunk.Error != nil {
				break loop
			}
			if chunk.Text != "" {
				b.WriteString(chunk.Text)
			}
			if chunk.ToolCall != nil {
				calls = append(calls, *chunk.ToolCall)
			}
			if chunk.Done {
				break loop
			}
		case <-graceCtx.Done():
			break loop
		}
	}

	if len(calls) == 0 && d.def.Model.Adapter == AdapterLocal {
		if parsed, perr := ParseToolCalls(b.String()); perr == nil {
			calls = ToToolCalls(fmt.Sprintf("%s#recovery", d.events.runID), parsed)
		}
	}

	for _, call := range calls {
		if !IsCompleteTaskCall(call.Name) {
			continue
		}
		result, rerr := ResolveCompletion(d.def, call.Input)
		if rerr != nil {
			continue
		}
		return true, result
	}

	d.events.RunError(ctx, NewDriverError(CategoryRecoveryFailed, "", fmt.Errorf("recovery turn for %s did not call complete_task", reason)), false)
	return false, ""
}

// gemmaTool wraps a Tool so its advertised schema has description fields
// stripped, matching what small text-only models respond best to, without
// altering the underlying tool's execution behavior.
type gemmaTool struct {
	Tool
	schema json.RawMessage
}

func (t gemmaTool) Schema() json.RawMessage { return t.schema }

// toolsForRequest returns the tool list to advertise to the model,
// applying the local adapter's schema transform when configured.
func (d *Driver) toolsForRequest() []Tool {
	tools := d.registry.GetFunctionDeclarationsFiltered(d.resolver, d.toolPolicy)
	if d.def.Model.Adapter != AdapterLocal || d.def.Model.LocalToolSchemaStyle != "gemma" {
		return tools
	}
	out := make([]Tool, len(tools))
	for i, t := range tools {
		transformed, err := stripDescriptions(t.Schema())
		if err != nil {
			out[i] = t
			continue
		}
		out[i] = gemmaTool{Tool: t, schema: transformed}
	}
	return out
}

// assembleSystemPrompt builds the run's system prompt once: the
// definition's template interpolated against the inputs and the derived
// ${directive} token, the host's environment-context block, the fixed
// "Important Rules" block every agent gets regardless of model, and for
// the local adapter a textual tool declaration block so a text-only model
// that ignores the provider's structured Tools field still knows what it
// can call and in what shape.
func (d *Driver) assembleSystemPrompt(ctx context.Context, inputs map[string]string) string {
	values := make(map[string]string, len(inputs)+1)
	for k, v := range inputs {
		values[k] = v
	}
	if d.def.Prompt.Directive != "" {
		values["directive"] = d.def.Prompt.Directive
	}

	var b strings.Builder
	b.WriteString(Interpolate(d.def.Prompt.System, values))

	if d.envContext != nil {
		if env := strings.TrimSpace(d.envContext(ctx, d.def.Model.Model)); env != "" {
			b.WriteString("\n\nEnvironment Context:\n")
			b.WriteString(env)
			b.WriteString("\n")
		}
	}

	b.WriteString("\n\n")
	b.WriteString("Important Rules:\n")
	b.WriteString("- You are running non-interactively; there is no operator to ask for clarification.\n")
	b.WriteString("- Use absolute paths for every filesystem tool call.\n")
	b.WriteString("- You must end the run by calling complete_task; stopping without it is a protocol violation.\n")
	b.WriteString("- Never call complete_task in the same turn as any other tool.\n")

	if d.def.Model.Adapter == AdapterLocal {
		b.WriteString("\nAvailable tools (respond with a single JSON object {\"name\": ..., \"arguments\": {...}} to call one):\n")
		for _, t := range d.registry.GetFunctionDeclarationsFiltered(d.resolver, d.toolPolicy) {
			decl, err := ToGemmaToolSchema(t.Name(), t.Schema())
			if err != nil {
				continue
			}
			b.Write(decl)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// detach returns a context carrying ctx's values but none of its
// cancellation, so the recovery turn's own grace window isn't shortened by
// a parent wall-clock deadline that has already expired.
func detach(ctx context.Context) context.Context {
	return detachedContext{ctx}
}

type detachedContext struct {
	parent context.Context
}

func (detachedContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (detachedContext) Done() <-chan struct{}       { return nil }
func (detachedContext) Err() error                  { return nil }
func (d detachedContext) Value(key any) any         { return d.parent.Value(key) }
