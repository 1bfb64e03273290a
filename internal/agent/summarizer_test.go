package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestSummarizerRefusesRemote(t *testing.T) {
	s := NewSummarizer(DefaultSummarizerConfig(), &scriptedProvider{}, "gemma3")
	_, err := s.Summarize(context.Background(), AdapterRemote, "shell", strings.Repeat("x", 5000))
	if !errors.Is(err, ErrSummarizerRemoteUnsupported) {
		t.Fatalf("err = %v, want ErrSummarizerRemoteUnsupported", err)
	}
}

func TestSummarizerShortContentPassthrough(t *testing.T) {
	provider := &scriptedProvider{}
	s := NewSummarizer(DefaultSummarizerConfig(), provider, "gemma3")

	out, err := s.Summarize(context.Background(), AdapterLocal, "shell", "short output")
	if err != nil {
		t.Fatalf("Summarize = %v", err)
	}
	if out != "short output" {
		t.Errorf("out = %q, want passthrough", out)
	}
	if provider.requestCount() != 0 {
		t.Error("model called for content below the threshold")
	}
}

func TestSummarizerCondensesLongContent(t *testing.T) {
	provider := &scriptedProvider{turns: []scriptedTurn{
		{text: "- key fact one\n- key fact two"},
	}}
	s := NewSummarizer(SummarizerConfig{PromptStyle: PromptStyleBullet, MinLength: 100, MaxTokens: 128}, provider, "gemma3")

	long := strings.Repeat("lots of tool output ", 50)
	out, err := s.Summarize(context.Background(), AdapterLocal, "grep", long)
	if err != nil {
		t.Fatalf("Summarize = %v", err)
	}
	if !strings.Contains(out, "key fact one") {
		t.Errorf("out = %q", out)
	}

	req := provider.request(0)
	if req == nil {
		t.Fatal("no summarization request issued")
	}
	if !strings.Contains(req.System, "grep") {
		t.Errorf("summarizer system prompt missing tool name: %q", req.System)
	}
}

func TestShouldSummarize(t *testing.T) {
	s := NewSummarizer(SummarizerConfig{MinLength: 10}, nil, "m")
	if s.ShouldSummarize("short") {
		t.Error("short content flagged for summarization")
	}
	if !s.ShouldSummarize("this is definitely long enough") {
		t.Error("long content not flagged")
	}
}
