package agent

import (
	"context"
	"errors"
	"fmt"
)

// ErrSummarizerRemoteUnsupported is returned by Summarize when asked to
// summarize a tool response on behalf of a remote-adapter agent.
// Summarization is a local-model-only feature: remote models see full
// tool output directly, so there is nothing for this component to do on
// their behalf.
var ErrSummarizerRemoteUnsupported = errors.New("summarizer: remote model summarization is not implemented")

// SummarizerPromptStyle selects the wording used to ask the local model to
// condense a tool response. Left as a config key (rather than a single
// fixed prompt) since different local models respond to different framing.
type SummarizerPromptStyle string

const (
	// PromptStyleConcise asks for a short, information-dense summary.
	PromptStyleConcise SummarizerPromptStyle = "concise"

	// PromptStyleBullet asks for a bulleted list of the key facts.
	PromptStyleBullet SummarizerPromptStyle = "bullet"
)

func (s SummarizerPromptStyle) instruction() string {
	switch s {
	case PromptStyleBullet:
		return "Summarize the following tool output as a short bulleted list of the key facts an assistant would need to answer the user. Omit anything not relevant to the task."
	default:
		return "Summarize the following tool output in a few sentences, keeping only the information relevant to completing the task."
	}
}

// SummarizerConfig configures the tool-response Summarizer.
type SummarizerConfig struct {
	// PromptStyle selects the instruction wording. Defaults to PromptStyleConcise.
	PromptStyle SummarizerPromptStyle

	// MinLength is the shortest tool response, in bytes, worth summarizing.
	// Responses shorter than this are passed through unchanged since
	// summarization would cost more tokens than it saves.
	MinLength int

	// MaxTokens bounds the summary completion request.
	MaxTokens int
}

// DefaultSummarizerConfig returns sensible defaults.
func DefaultSummarizerConfig() SummarizerConfig {
	return SummarizerConfig{
		PromptStyle: PromptStyleConcise,
		MinLength:   2000,
		MaxTokens:   512,
	}
}

// Summarizer condenses a single tool response's content before it is
// folded into the conversation sent back to a local model. It exists
// because local adapters re-send the entire running transcript as plain
// text on every turn (they have no server-side caching of prior turns the
// way remote providers do), so a large tool response repeated across
// several turns can dominate the local model's limited context window.
//
// Remote-adapter agents never use this: their provider keeps tool results
// out of the re-sent prompt already, so Summarize refuses with
// ErrSummarizerRemoteUnsupported if asked to act on their behalf.
type Summarizer struct {
	cfg      SummarizerConfig
	provider LLMProvider
	model    string
}

// NewSummarizer builds a Summarizer that uses provider/model to generate
// summaries. provider must itself be a local-adapter-compatible provider;
// the Summarizer does not re-validate that, it only enforces that the
// *calling* agent is local via the adapter argument to Summarize.
func NewSummarizer(cfg SummarizerConfig, provider LLMProvider, model string) *Summarizer {
	if cfg.PromptStyle == "" {
		cfg.PromptStyle = PromptStyleConcise
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultSummarizerConfig().MinLength
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultSummarizerConfig().MaxTokens
	}
	return &Summarizer{cfg: cfg, provider: provider, model: model}
}

// ShouldSummarize reports whether content is long enough to be worth the
// cost of a summarization round-trip.
func (s *Summarizer) ShouldSummarize(content string) bool {
	return len(content) >= s.cfg.MinLength
}

// Summarize condenses content for a tool named toolName. adapter must be
// AdapterLocal; any other value returns ErrSummarizerRemoteUnsupported.
func (s *Summarizer) Summarize(ctx context.Context, adapter AdapterKind, toolName, content string) (string, error) {
	if adapter != AdapterLocal {
		return "", ErrSummarizerRemoteUnsupported
	}
	if !s.ShouldSummarize(content) {
		return content, nil
	}
	if s.provider == nil {
		return "", fmt.Errorf("summarizer: no provider configured")
	}

	req := &CompletionRequest{
		Model: s.model,
		System: fmt.Sprintf(
			"%s\n\nTool: %s",
			s.cfg.PromptStyle.instruction(),
			toolName,
		),
		Messages: []CompletionMessage{
			{Role: "user", Content: content},
		},
		MaxTokens: s.cfg.MaxTokens,
	}

	chunks, err := s.provider.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("summarizer: %w", err)
	}

	var out string
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", fmt.Errorf("summarizer: %w", chunk.Error)
		}
		out += chunk.Text
		if chunk.Done {
			break
		}
	}
	if out == "" {
		return content, nil
	}
	return out, nil
}
