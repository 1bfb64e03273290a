package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/subagent/pkg/models"
)

// scriptedTurn is one canned model response: optional text, optional tool
// calls, and an optional delay before the stream completes so tests can
// interleave interrupts.
type scriptedTurn struct {
	text  string
	calls []models.ToolCall
	delay time.Duration
}

// scriptedProvider replays a fixed sequence of turns and records every
// request it receives, so tests can assert on the exact conversation the
// driver assembled.
type scriptedProvider struct {
	mu       sync.Mutex
	turns    []scriptedTurn
	requests []*CompletionRequest
	i        int
}

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	var turn scriptedTurn
	if p.i < len(p.turns) {
		turn = p.turns[p.i]
		p.i++
	}
	p.mu.Unlock()

	ch := make(chan *CompletionChunk, len(turn.calls)+3)
	go func() {
		defer close(ch)
		if turn.delay > 0 {
			select {
			case <-time.After(turn.delay):
			case <-ctx.Done():
				return
			}
		}
		if turn.text != "" {
			ch <- &CompletionChunk{Text: turn.text}
		}
		for i := range turn.calls {
			call := turn.calls[i]
			ch <- &CompletionChunk{ToolCall: &call}
		}
		ch <- &CompletionChunk{Done: true, InputTokens: 10, OutputTokens: 5}
	}()
	return ch, nil
}

func (p *scriptedProvider) Name() string        { return "scripted" }
func (p *scriptedProvider) Models() []Model     { return nil }
func (p *scriptedProvider) SupportsTools() bool { return true }

func (p *scriptedProvider) request(i int) *CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.requests) {
		return nil
	}
	return p.requests[i]
}

func (p *scriptedProvider) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// recordingTelemetry captures telemetry records for assertions.
type recordingTelemetry struct {
	mu         sync.Mutex
	starts     int
	finishes   []TerminationReason
	recoveries []bool
}

func (r *recordingTelemetry) AgentStart(context.Context, string, string) {
	r.mu.Lock()
	r.starts++
	r.mu.Unlock()
}

func (r *recordingTelemetry) AgentFinish(_ context.Context, _, _ string, _ time.Duration, _ int, reason TerminationReason) {
	r.mu.Lock()
	r.finishes = append(r.finishes, reason)
	r.mu.Unlock()
}

func (r *recordingTelemetry) RecoveryAttempt(_ context.Context, _ string, _ TerminationReason, _ time.Duration, success bool, _ int) {
	r.mu.Lock()
	r.recoveries = append(r.recoveries, success)
	r.mu.Unlock()
}

func shellCall(id, command string) models.ToolCall {
	input, _ := json.Marshal(map[string]string{"command": command})
	return models.ToolCall{ID: id, Name: "shell", Input: input}
}

func completeCall(id string, args string) models.ToolCall {
	return models.ToolCall{ID: id, Name: CompleteTaskToolName, Input: json.RawMessage(args)}
}

func testRegistry(t *testing.T, tools ...Tool) *ToolRegistry {
	t.Helper()
	r := NewToolRegistry()
	for _, tool := range tools {
		r.Register(tool)
	}
	return r
}

func shellMock(execFunc func(ctx context.Context, params json.RawMessage) (*ToolResult, error)) *mockTool {
	if execFunc == nil {
		execFunc = func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: "hi"}, nil
		}
	}
	return &mockTool{name: "shell", execFunc: execFunc}
}

func TestDriverHappyPathNoOutputSpec(t *testing.T) {
	def := validDefinition()
	def.Tools.Allow = []string{"shell"}

	provider := &scriptedProvider{turns: []scriptedTurn{
		{calls: []models.ToolCall{shellCall("c1", "echo hi")}},
		{calls: []models.ToolCall{completeCall("c2", `{}`)}},
	}}
	tel := &recordingTelemetry{}

	events := make(chan models.AgentEvent, 128)
	d, err := NewDriver(def, testRegistry(t, shellMock(nil)), provider, nil, NewChanSink(events), WithTelemetry(tel))
	if err != nil {
		t.Fatalf("NewDriver = %v", err)
	}

	res, err := d.Run(context.Background(), map[string]string{"topic": "hello"})
	if err != nil {
		t.Fatalf("Run = %v", err)
	}
	if res.TerminationReason != ReasonGoal {
		t.Errorf("reason = %s, want GOAL", res.TerminationReason)
	}
	if res.Result != CompletedNoOutputResult {
		t.Errorf("result = %q", res.Result)
	}
	if res.TurnCount != 2 {
		t.Errorf("turn count = %d, want 2", res.TurnCount)
	}
	if len(tel.finishes) != 1 || tel.finishes[0] != ReasonGoal {
		t.Errorf("telemetry finishes = %v", tel.finishes)
	}

	close(events)
	var sawStart, sawEnd bool
	for e := range events {
		if !e.Subagent {
			t.Error("event missing subagent routing flag")
		}
		switch e.Type {
		case models.AgentEventToolStarted:
			sawStart = true
		case models.AgentEventToolFinished:
			sawEnd = true
		}
	}
	if !sawStart || !sawEnd {
		t.Errorf("tool lifecycle events missing: start=%v end=%v", sawStart, sawEnd)
	}
}

func TestDriverStructuredOutput(t *testing.T) {
	def := outputDefinition()
	provider := &scriptedProvider{turns: []scriptedTurn{
		{calls: []models.ToolCall{completeCall("c1", `{"Response":"done"}`)}},
	}}

	d, err := NewDriver(def, testRegistry(t), provider, nil, nil)
	if err != nil {
		t.Fatalf("NewDriver = %v", err)
	}
	res, err := d.Run(context.Background(), map[string]string{"topic": "x"})
	if err != nil {
		t.Fatalf("Run = %v", err)
	}
	if res.TerminationReason != ReasonGoal {
		t.Fatalf("reason = %s", res.TerminationReason)
	}
	want := "{\n  \"Response\": \"done\"\n}"
	if res.Result != want {
		t.Errorf("result = %q, want %q", res.Result, want)
	}
}

func TestDriverValidationFailureThenSuccess(t *testing.T) {
	def := outputDefinition()
	provider := &scriptedProvider{turns: []scriptedTurn{
		{calls: []models.ToolCall{completeCall("c1", `{"Response":7}`)}},
		{calls: []models.ToolCall{completeCall("c2", `{"Response":"ok"}`)}},
	}}

	d, err := NewDriver(def, testRegistry(t), provider, nil, nil)
	if err != nil {
		t.Fatalf("NewDriver = %v", err)
	}
	res, err := d.Run(context.Background(), map[string]string{"topic": "x"})
	if err != nil {
		t.Fatalf("Run = %v", err)
	}
	if res.TerminationReason != ReasonGoal || res.TurnCount != 2 {
		t.Fatalf("reason = %s, turns = %d", res.TerminationReason, res.TurnCount)
	}

	// The failed completion must have produced a validation-error tool
	// response in turn 2's conversation.
	req := provider.request(1)
	if req == nil {
		t.Fatal("no second request recorded")
	}
	var found bool
	for _, msg := range req.Messages {
		for _, tr := range msg.ToolResults {
			if tr.IsError && strings.Contains(tr.Content, "failed validation") {
				found = true
			}
		}
	}
	if !found {
		t.Error("validation error response not in turn 2 conversation")
	}
}

func TestDriverCompletionIdempotentWithinTurn(t *testing.T) {
	def := validDefinition()
	provider := &scriptedProvider{turns: []scriptedTurn{
		{calls: []models.ToolCall{
			completeCall("c1", `{}`),
			completeCall("c2", `{}`),
		}},
	}}

	events := make(chan models.AgentEvent, 64)
	d, err := NewDriver(def, testRegistry(t), provider, nil, NewChanSink(events))
	if err != nil {
		t.Fatalf("NewDriver = %v", err)
	}
	res, err := d.Run(context.Background(), map[string]string{"topic": "x"})
	if err != nil {
		t.Fatalf("Run = %v", err)
	}
	if res.TerminationReason != ReasonGoal {
		t.Errorf("duplicate completion revoked the goal: %s", res.TerminationReason)
	}
}

func TestDriverUnauthorizedToolNeverExecutes(t *testing.T) {
	def := validDefinition()
	def.Tools.Allow = []string{"shell"}

	executed := false
	read := &mockTool{name: "read", execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
		executed = true
		return &ToolResult{Content: "file contents"}, nil
	}}

	provider := &scriptedProvider{turns: []scriptedTurn{
		{calls: []models.ToolCall{{ID: "c1", Name: "read", Input: json.RawMessage(`{}`)}}},
		{calls: []models.ToolCall{completeCall("c2", `{}`)}},
	}}

	d, err := NewDriver(def, testRegistry(t, shellMock(nil), read), provider, nil, nil)
	if err != nil {
		t.Fatalf("NewDriver = %v", err)
	}
	if _, err := d.Run(context.Background(), map[string]string{"topic": "x"}); err != nil {
		t.Fatalf("Run = %v", err)
	}
	if executed {
		t.Error("unauthorized tool was executed")
	}

	req := provider.request(1)
	var sawUnauthorized bool
	for _, msg := range req.Messages {
		for _, tr := range msg.ToolResults {
			if tr.IsError && tr.Content == "Unauthorized tool call" {
				sawUnauthorized = true
			}
		}
	}
	if !sawUnauthorized {
		t.Error("unauthorized response missing from next conversation")
	}
}

func TestDriverResponseCountMatchesInvocations(t *testing.T) {
	def := validDefinition()
	def.Tools.Allow = []string{"shell"}

	provider := &scriptedProvider{turns: []scriptedTurn{
		{calls: []models.ToolCall{
			shellCall("c1", "echo one"),
			{ID: "c2", Name: "nonexistent", Input: json.RawMessage(`{}`)},
			shellCall("c3", "echo three"),
		}},
		{calls: []models.ToolCall{completeCall("c4", `{}`)}},
	}}

	d, err := NewDriver(def, testRegistry(t, shellMock(nil)), provider, nil, nil)
	if err != nil {
		t.Fatalf("NewDriver = %v", err)
	}
	if _, err := d.Run(context.Background(), map[string]string{"topic": "x"}); err != nil {
		t.Fatalf("Run = %v", err)
	}

	req := provider.request(1)
	var toolMsg *CompletionMessage
	for i := range req.Messages {
		if req.Messages[i].Role == "tool" {
			toolMsg = &req.Messages[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool-role message in turn 2 conversation")
	}
	if len(toolMsg.ToolResults) != 3 {
		t.Fatalf("got %d responses, want 3 (one per invocation)", len(toolMsg.ToolResults))
	}
	wantOrder := []string{"c1", "c2", "c3"}
	for i, tr := range toolMsg.ToolResults {
		if tr.ToolCallID != wantOrder[i] {
			t.Errorf("response %d is for %q, want %q", i, tr.ToolCallID, wantOrder[i])
		}
	}
}

func TestDriverSchemaAlwaysIncludesCompleteTaskOnce(t *testing.T) {
	def := validDefinition()
	def.Tools.Allow = []string{"shell"}

	provider := &scriptedProvider{turns: []scriptedTurn{
		{calls: []models.ToolCall{completeCall("c1", `{}`)}},
	}}
	d, err := NewDriver(def, testRegistry(t, shellMock(nil)), provider, nil, nil)
	if err != nil {
		t.Fatalf("NewDriver = %v", err)
	}
	if _, err := d.Run(context.Background(), map[string]string{"topic": "x"}); err != nil {
		t.Fatalf("Run = %v", err)
	}

	req := provider.request(0)
	count := 0
	for _, tool := range req.Tools {
		if tool.Name() == CompleteTaskToolName {
			count++
		}
	}
	if count != 1 {
		t.Errorf("complete_task appears %d times in the schema set, want exactly 1", count)
	}
}

func TestDriverMaxTurnsWithSuccessfulRecovery(t *testing.T) {
	def := validDefinition()
	def.Tools.Allow = []string{"shell"}
	def.Run.MaxTurns = 2

	provider := &scriptedProvider{turns: []scriptedTurn{
		{calls: []models.ToolCall{shellCall("c1", "echo 1")}},
		{calls: []models.ToolCall{shellCall("c2", "echo 2")}},
		{calls: []models.ToolCall{completeCall("c3", `{}`)}}, // recovery turn
	}}
	tel := &recordingTelemetry{}

	d, err := NewDriver(def, testRegistry(t, shellMock(nil)), provider, nil, nil, WithTelemetry(tel))
	if err != nil {
		t.Fatalf("NewDriver = %v", err)
	}
	res, err := d.Run(context.Background(), map[string]string{"topic": "x"})
	if err != nil {
		t.Fatalf("Run = %v", err)
	}
	if res.TerminationReason != ReasonGoal {
		t.Errorf("reason = %s, want GOAL after recovery", res.TerminationReason)
	}
	if provider.requestCount() != 3 {
		t.Errorf("model called %d times, want max_turns + 1 recovery = 3", provider.requestCount())
	}
	if len(tel.recoveries) != 1 || !tel.recoveries[0] {
		t.Errorf("recovery telemetry = %v, want one success", tel.recoveries)
	}

	// The recovery request must end with the synthesized limit message.
	rec := provider.request(2)
	last := rec.Messages[len(rec.Messages)-1]
	if last.Role != "user" || !strings.Contains(last.Content, "complete_task now") {
		t.Errorf("recovery prompt = %+v", last)
	}
}

func TestDriverNoCallsEntersRecoveryAndFails(t *testing.T) {
	def := validDefinition()
	provider := &scriptedProvider{turns: []scriptedTurn{
		{text: "I think the task is done."},
		{text: "still no call"}, // recovery turn also fails
	}}
	tel := &recordingTelemetry{}

	d, err := NewDriver(def, testRegistry(t), provider, nil, nil, WithTelemetry(tel))
	if err != nil {
		t.Fatalf("NewDriver = %v", err)
	}
	res, err := d.Run(context.Background(), map[string]string{"topic": "x"})
	if err != nil {
		t.Fatalf("Run = %v", err)
	}
	if res.TerminationReason != ReasonNoCompleteTaskCall {
		t.Errorf("reason = %s, want ERROR_NO_COMPLETE_TASK_CALL", res.TerminationReason)
	}
	if len(tel.recoveries) != 1 || tel.recoveries[0] {
		t.Errorf("recovery telemetry = %v, want one failure", tel.recoveries)
	}
}

func TestDriverLocalFallbackCompletion(t *testing.T) {
	def := outputDefinition()
	def.Model.Adapter = AdapterLocal
	def.Model.Provider = "ollama"

	provider := &scriptedProvider{turns: []scriptedTurn{
		{text: "the answer is 42"},
	}}
	d, err := NewDriver(def, testRegistry(t), provider, nil, nil)
	if err != nil {
		t.Fatalf("NewDriver = %v", err)
	}
	res, err := d.Run(context.Background(), map[string]string{"topic": "x"})
	if err != nil {
		t.Fatalf("Run = %v", err)
	}
	if res.TerminationReason != ReasonGoal {
		t.Fatalf("reason = %s, want GOAL via fallback completion", res.TerminationReason)
	}
	if !strings.Contains(res.Result, "the answer is 42") {
		t.Errorf("result = %q", res.Result)
	}
}

func TestDriverHardInterruptAborts(t *testing.T) {
	def := validDefinition()
	provider := &scriptedProvider{turns: []scriptedTurn{
		{delay: 5 * time.Second, calls: []models.ToolCall{completeCall("c1", `{}`)}},
	}}

	interrupts := NewInterruptManager()
	d, err := NewDriver(def, testRegistry(t), provider, interrupts, nil)
	if err != nil {
		t.Fatalf("NewDriver = %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		interrupts.Abort()
	}()

	res, err := d.Run(context.Background(), map[string]string{"topic": "x"})
	if err != nil {
		t.Fatalf("Run = %v", err)
	}
	if res.TerminationReason != ReasonAborted {
		t.Errorf("reason = %s, want ABORTED", res.TerminationReason)
	}
	if interrupts.Depth() != 0 {
		t.Errorf("interrupt stack depth = %d after run, want 0", interrupts.Depth())
	}
}

func TestDriverSoftInterruptDuringToolExecution(t *testing.T) {
	def := validDefinition()
	def.Tools.Allow = []string{"shell"}

	started := make(chan struct{})
	slowShell := shellMock(func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
		close(started)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Second):
			return &ToolResult{Content: "too late"}, nil
		}
	})

	provider := &scriptedProvider{turns: []scriptedTurn{
		{calls: []models.ToolCall{shellCall("c1", "sleep 10")}},
		{calls: []models.ToolCall{completeCall("c2", `{}`)}},
	}}

	interrupts := NewInterruptManager()
	d, err := NewDriver(def, testRegistry(t, slowShell), provider, interrupts, nil)
	if err != nil {
		t.Fatalf("NewDriver = %v", err)
	}

	go func() {
		<-started
		interrupts.Interrupt("focus on tests instead")
	}()

	res, err := d.Run(context.Background(), map[string]string{"topic": "x"})
	if err != nil {
		t.Fatalf("Run = %v", err)
	}
	if res.TerminationReason != ReasonGoal {
		t.Fatalf("reason = %s, want GOAL after redirected continuation", res.TerminationReason)
	}

	// Turn 2's conversation ends with the operator text as the sole new
	// user message, and the cancelled tool's response carries an error.
	req := provider.request(1)
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" || last.Content != "focus on tests instead" {
		t.Errorf("next user message = %+v", last)
	}
	var cancelledSeen bool
	for _, msg := range req.Messages {
		for _, tr := range msg.ToolResults {
			if tr.ToolCallID == "c1" && tr.IsError {
				cancelledSeen = true
			}
		}
	}
	if !cancelledSeen {
		t.Error("cancelled tool response missing from conversation")
	}
}

func TestDriverRejectsNonAllowListedTool(t *testing.T) {
	def := validDefinition()
	registry := testRegistry(t, &mockTool{name: "format_disk", execFunc: nil})

	_, err := NewDriver(def, registry, &scriptedProvider{}, nil, nil)
	if err == nil {
		t.Fatal("NewDriver accepted a tool off the allow-list")
	}
	if !strings.Contains(err.Error(), "allow-list") {
		t.Errorf("err = %v", err)
	}
}

func TestDriverRejectsApprovalPolicy(t *testing.T) {
	def := validDefinition()
	def.Tools.Approval = &ApprovalPolicy{RequireApproval: []string{"shell"}}

	_, err := NewDriver(def, testRegistry(t), &scriptedProvider{}, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "non-interactive") {
		t.Fatalf("err = %v, want interactive-approval rejection", err)
	}
}

func TestDriverQueryTemplateInterpolation(t *testing.T) {
	def := validDefinition()
	provider := &scriptedProvider{turns: []scriptedTurn{
		{calls: []models.ToolCall{completeCall("c1", `{}`)}},
	}}
	d, err := NewDriver(def, testRegistry(t), provider, nil, nil)
	if err != nil {
		t.Fatalf("NewDriver = %v", err)
	}
	if _, err := d.Run(context.Background(), map[string]string{"topic": "go modules"}); err != nil {
		t.Fatalf("Run = %v", err)
	}
	first := provider.request(0).Messages[0]
	if first.Content != "Research: go modules" {
		t.Errorf("first user message = %q", first.Content)
	}
}

func TestDriverEmptyQueryFallsBackToGetStarted(t *testing.T) {
	def := validDefinition()
	def.Prompt.Query = ""
	def.Inputs = nil
	provider := &scriptedProvider{turns: []scriptedTurn{
		{calls: []models.ToolCall{completeCall("c1", `{}`)}},
	}}
	d, err := NewDriver(def, testRegistry(t), provider, nil, nil)
	if err != nil {
		t.Fatalf("NewDriver = %v", err)
	}
	if _, err := d.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run = %v", err)
	}
	if got := provider.request(0).Messages[0].Content; got != "Get Started!" {
		t.Errorf("first user message = %q", got)
	}
}
