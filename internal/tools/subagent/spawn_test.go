package subagent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/subagent/internal/agent"
	"github.com/haasonsaas/subagent/pkg/models"
)

// cannedProvider completes immediately with a complete_task call.
type cannedProvider struct{}

func (cannedProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	ch := make(chan *agent.CompletionChunk, 2)
	ch <- &agent.CompletionChunk{ToolCall: &models.ToolCall{
		ID:    "c1",
		Name:  "complete_task",
		Input: json.RawMessage(`{}`),
	}}
	ch <- &agent.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func (cannedProvider) Name() string          { return "canned" }
func (cannedProvider) Models() []agent.Model { return nil }
func (cannedProvider) SupportsTools() bool   { return true }

func testBoundary(t *testing.T) *agent.Boundary {
	t.Helper()
	b, err := agent.NewBoundary(agent.NewInterruptManager(),
		func(cfg agent.ModelConfig) (agent.LLMProvider, error) { return cannedProvider{}, nil },
		func(def *agent.AgentDefinition) (*agent.ToolRegistry, error) { return agent.NewToolRegistry(), nil },
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.RegisterDefinition(&agent.AgentDefinition{
		Name:        "summarizer",
		Description: "Summarizes text",
		Model:       agent.ModelConfig{Provider: "canned", Model: "m", Adapter: agent.AdapterRemote},
		Run:         agent.RunConfig{MaxTurns: 3, MaxTimeMinutes: 1},
		Prompt:      agent.PromptConfig{System: "Summarize.", Query: "Summarize: ${text}"},
		Inputs:      []agent.InputSpec{{Name: "text", Description: "text to summarize", Required: true}},
	}); err != nil {
		t.Fatal(err)
	}
	return b
}

func TestSpawnToolRunsChild(t *testing.T) {
	events := make(chan models.AgentEvent, 64)
	tool := NewSpawnTool(testBoundary(t), agent.NewChanSink(events))

	if !strings.Contains(tool.Description(), "summarizer") {
		t.Errorf("description does not list registered agents: %q", tool.Description())
	}

	params, _ := json.Marshal(map[string]interface{}{
		"agent":  "summarizer",
		"inputs": map[string]string{"text": "long article"},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := tool.Execute(ctx, params)
	if err != nil {
		t.Fatalf("Execute = %v", err)
	}
	if result.IsError {
		t.Fatalf("result = %+v", result)
	}
	if !strings.Contains(result.Content, `"termination_reason": "GOAL"`) {
		t.Errorf("content = %s", result.Content)
	}
}

func TestSpawnToolUnknownAgent(t *testing.T) {
	tool := NewSpawnTool(testBoundary(t), nil)
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"agent":"nobody"}`))
	if err != nil {
		t.Fatalf("Execute = %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "no agent named") {
		t.Errorf("result = %+v", result)
	}
}

func TestSpawnToolMissingInputs(t *testing.T) {
	tool := NewSpawnTool(testBoundary(t), nil)
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"agent":"summarizer"}`))
	if err != nil {
		t.Fatalf("Execute = %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "missing required input") {
		t.Errorf("result = %+v", result)
	}
}
