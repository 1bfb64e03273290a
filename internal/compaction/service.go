package compaction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/subagent/internal/agent"
)

// Service adapts this package's chunked summarization into the engine's
// chat-compression hook (agent.CompressionService). Before a remote turn,
// the driver hands over the conversation; when it exceeds the configured
// token threshold, everything but a recent tail is replaced by a single
// summary message. If the rewritten history somehow estimates larger than
// the original, the attempt reports
// COMPRESSION_FAILED_INFLATED_TOKEN_COUNT so the driver latches and stops
// retrying.
type Service struct {
	summarizer Summarizer
	config     *SummarizationConfig

	// ThresholdTokens is the estimated size above which compression is
	// attempted. Zero uses half the configured context window.
	ThresholdTokens int

	// KeepRecent is how many trailing messages survive verbatim.
	KeepRecent int
}

// NewService builds the compression hook over a summarizer.
func NewService(summarizer Summarizer, config *SummarizationConfig) *Service {
	if config == nil {
		config = DefaultSummarizationConfig()
	}
	return &Service{
		summarizer: summarizer,
		config:     config,
		KeepRecent: 6,
	}
}

var _ agent.CompressionService = (*Service)(nil)

func (s *Service) threshold() int {
	if s.ThresholdTokens > 0 {
		return s.ThresholdTokens
	}
	return s.config.ContextWindow / 2
}

// Compress implements agent.CompressionService.
func (s *Service) Compress(ctx context.Context, history []agent.CompletionMessage, previousInflated bool) ([]agent.CompletionMessage, agent.CompressionStatus, error) {
	if previousInflated || s.summarizer == nil {
		return nil, agent.CompressionNone, nil
	}

	msgs := toCompactionMessages(history)
	before := EstimateMessagesTokens(msgs)
	if before < s.threshold() {
		return nil, agent.CompressionNone, nil
	}

	keep := s.KeepRecent
	if keep <= 0 {
		keep = 6
	}
	if len(history) <= keep+1 {
		return nil, agent.CompressionNone, nil
	}

	head := msgs[:len(msgs)-keep]
	summary, err := SummarizeChunks(ctx, head, s.summarizer, s.config)
	if err != nil {
		return nil, agent.CompressionNone, fmt.Errorf("compress history: %w", err)
	}

	compressed := make([]agent.CompletionMessage, 0, keep+1)
	compressed = append(compressed, agent.CompletionMessage{
		Role:    "user",
		Content: "Summary of the conversation so far:\n\n" + summary,
	})
	compressed = append(compressed, history[len(history)-keep:]...)

	after := EstimateMessagesTokens(toCompactionMessages(compressed))
	if after >= before {
		return nil, agent.CompressionFailedInflated, nil
	}
	return compressed, agent.CompressionCompressed, nil
}

// toCompactionMessages flattens engine messages for token estimation and
// summarization: tool calls and results are serialized into the text the
// way the wire would carry them, so estimates track real prompt size.
func toCompactionMessages(history []agent.CompletionMessage) []*Message {
	out := make([]*Message, 0, len(history))
	for _, m := range history {
		cm := &Message{Role: m.Role, Content: m.Content}
		if len(m.ToolCalls) > 0 {
			if raw, err := json.Marshal(m.ToolCalls); err == nil {
				cm.ToolCalls = string(raw)
			}
		}
		if len(m.ToolResults) > 0 {
			if raw, err := json.Marshal(m.ToolResults); err == nil {
				cm.ToolResults = string(raw)
			}
		}
		out = append(out, cm)
	}
	return out
}

// ProviderSummarizer generates summaries through an engine chat adapter.
type ProviderSummarizer struct {
	Provider agent.LLMProvider
	Model    string
}

var _ Summarizer = (*ProviderSummarizer)(nil)

// GenerateSummary implements Summarizer over a streaming completion.
func (p *ProviderSummarizer) GenerateSummary(ctx context.Context, messages []*Message, config *SummarizationConfig) (string, error) {
	if p.Provider == nil {
		return "", fmt.Errorf("provider summarizer: no provider")
	}

	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		if m.ToolCalls != "" {
			b.WriteString("\n[tool calls] ")
			b.WriteString(m.ToolCalls)
		}
		if m.ToolResults != "" {
			b.WriteString("\n[tool results] ")
			b.WriteString(m.ToolResults)
		}
		b.WriteString("\n")
	}

	system := "Condense the following conversation into a factual summary that preserves task state, decisions made, file paths, and unresolved questions. Be brief."
	if config != nil && config.CustomInstructions != "" {
		system += "\n" + config.CustomInstructions
	}
	if config != nil && config.PreviousSummary != "" {
		system += "\n\nEarlier summary to build upon:\n" + config.PreviousSummary
	}

	model := p.Model
	if config != nil && config.Model != "" {
		model = config.Model
	}

	req := &agent.CompletionRequest{
		Model:    model,
		System:   system,
		Messages: []agent.CompletionMessage{{Role: "user", Content: b.String()}},
	}
	if config != nil && config.ReserveTokens > 0 {
		req.MaxTokens = config.ReserveTokens
	}

	chunks, err := p.Provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		out.WriteString(chunk.Text)
		if chunk.Done {
			break
		}
	}
	if strings.TrimSpace(out.String()) == "" {
		return DefaultSummaryFallback, nil
	}
	return out.String(), nil
}
