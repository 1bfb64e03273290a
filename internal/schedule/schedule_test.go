package schedule

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/haasonsaas/subagent/internal/agent"
	"github.com/haasonsaas/subagent/pkg/models"
)

type instantProvider struct{}

func (instantProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	ch := make(chan *agent.CompletionChunk, 2)
	ch <- &agent.CompletionChunk{ToolCall: &models.ToolCall{ID: "c1", Name: "complete_task", Input: json.RawMessage(`{}`)}}
	ch <- &agent.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}
func (instantProvider) Name() string          { return "instant" }
func (instantProvider) Models() []agent.Model { return nil }
func (instantProvider) SupportsTools() bool   { return true }

func scheduleBoundary(t *testing.T) *agent.Boundary {
	t.Helper()
	b, err := agent.NewBoundary(agent.NewInterruptManager(),
		func(agent.ModelConfig) (agent.LLMProvider, error) { return instantProvider{}, nil },
		func(*agent.AgentDefinition) (*agent.ToolRegistry, error) { return agent.NewToolRegistry(), nil },
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.RegisterDefinition(&agent.AgentDefinition{
		Name:   "janitor",
		Model:  agent.ModelConfig{Provider: "instant", Model: "m", Adapter: agent.AdapterRemote},
		Run:    agent.RunConfig{MaxTurns: 2, MaxTimeMinutes: 1},
		Prompt: agent.PromptConfig{System: "Tidy up."},
	}); err != nil {
		t.Fatal(err)
	}
	return b
}

func TestSchedulerRejectsUnknownAgent(t *testing.T) {
	s := NewScheduler(scheduleBoundary(t), nil, nil)
	if err := s.Add(Entry{Spec: "* * * * *", Agent: "nobody"}); err == nil {
		t.Fatal("unknown agent accepted")
	}
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := NewScheduler(scheduleBoundary(t), nil, nil)
	if err := s.Add(Entry{Spec: "not a cron spec", Agent: "janitor"}); err == nil {
		t.Fatal("invalid cron spec accepted")
	}
}

func TestSchedulerAddValidEntry(t *testing.T) {
	s := NewScheduler(scheduleBoundary(t), nil, nil)
	if err := s.Add(Entry{Spec: "@hourly", Agent: "janitor"}); err != nil {
		t.Fatalf("Add = %v", err)
	}
	s.Start()
	s.Stop()
}
