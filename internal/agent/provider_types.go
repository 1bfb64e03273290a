package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/subagent/pkg/models"
)

// LLMProvider is the streaming contract both chat-adapter variants
// implement. The remote variant (Anthropic, OpenAI, Bedrock, Google)
// returns structured tool calls natively in the stream; the local variant
// (Ollama-style servers fronting small models) returns text only, and the
// driver recovers tool calls with the Tool-Call Parser.
//
// Implementations must be safe for concurrent use: multiple drivers may
// call Complete simultaneously for different runs.
type LLMProvider interface {
	// Complete sends one turn's request and returns a channel of stream
	// chunks. The channel is closed when the stream ends; cancellation of
	// ctx must unblock the stream at the next chunk boundary.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name ("anthropic", "openai", ...).
	Name() string

	// Models returns the models this provider can serve.
	Models() []Model

	// SupportsTools reports whether the provider emits structured tool
	// calls. False means the driver must parse them out of text.
	SupportsTools() bool
}

// CompletionRequest is one turn's worth of conversation handed to a chat
// adapter: system prompt, alternating user/assistant/tool messages, and
// the tool schemas the model may call.
type CompletionRequest struct {
	// Model is the provider-specific model identifier. Empty uses the
	// provider's default.
	Model string `json:"model"`

	// System is the assembled system prompt. Handled out-of-band from
	// Messages by every supported API.
	System string `json:"system,omitempty"`

	// Messages is the conversation so far, in chronological order, ending
	// with the user message that opens this turn.
	Messages []CompletionMessage `json:"messages"`

	// Tools is the schema set advertised for this turn. Always contains
	// complete_task; possibly nothing else.
	Tools []Tool `json:"tools,omitempty"`

	// MaxTokens bounds the response length. 0 uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// EnableThinking asks for provider-marked reasoning content where the
	// model supports it. Reasoning chunks surface as CompletionChunk.Thinking.
	EnableThinking bool `json:"enable_thinking,omitempty"`

	// ThinkingBudgetTokens is the reasoning token budget when
	// EnableThinking is set.
	ThinkingBudgetTokens int `json:"thinking_budget_tokens,omitempty"`
}

// CompletionMessage is a single message in a conversation. A message never
// mixes tool calls and tool results: an assistant message may carry
// ToolCalls, and the "tool" role message that follows carries exactly one
// ToolResult per call, in call order.
type CompletionMessage struct {
	// Role is "user", "assistant", "system", or "tool".
	Role string `json:"role"`

	// Content is the message's text, possibly empty for tool-only
	// messages.
	Content string `json:"content,omitempty"`

	// ToolCalls holds the assistant's tool invocations for this turn.
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`

	// ToolResults holds the responses to the previous assistant message's
	// invocations.
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// CompletionChunk is one event in a streamed model response. The driver
// consumes these at chunk boundaries, which is also where cancellation and
// interrupts are honored.
type CompletionChunk struct {
	// Text is an incremental piece of response text.
	Text string `json:"text,omitempty"`

	// ToolCall is a complete structured tool invocation (remote adapters
	// only; local models never populate this).
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done marks the final chunk of a successful stream.
	Done bool `json:"done,omitempty"`

	// Error terminates the stream; no further chunks follow.
	Error error `json:"-"`

	// Thinking is provider-marked reasoning content, streamed separately
	// from Text and surfaced to the UI as thought chunks.
	Thinking string `json:"thinking,omitempty"`

	// ThinkingStart / ThinkingEnd bracket a reasoning block.
	ThinkingStart bool `json:"thinking_start,omitempty"`
	ThinkingEnd   bool `json:"thinking_end,omitempty"`

	// InputTokens / OutputTokens carry usage, populated on the Done chunk
	// when the provider reports it.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Model describes one model a provider can serve.
type Model struct {
	// ID is the API identifier (e.g. "claude-sonnet-4-20250514").
	ID string `json:"id"`

	// Name is the human-readable name.
	Name string `json:"name"`

	// ContextSize is the maximum token context window.
	ContextSize int `json:"context_size"`
}

// Tool is an executable capability advertised to the model. The registry
// resolves names to instances; the driver advertises Schema() to the chat
// adapter and routes the model's invocations back through Execute.
type Tool interface {
	// Name returns the tool name used in function calling. Must be a
	// valid identifier (alphanumeric and underscores).
	Name() string

	// Description tells the model when to use the tool.
	Description() string

	// Schema returns the JSON Schema for the tool's arguments.
	Schema() json.RawMessage

	// Execute runs the tool. params conform to Schema() — the driver
	// rejects calls before Execute when they don't.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is a tool execution's output. Failures the model should see
// and react to are communicated with IsError=true rather than a Go error,
// which is reserved for infrastructure failures (timeout, panic,
// cancellation).
type ToolResult struct {
	// Content is the tool's output, fed back to the model.
	Content string `json:"content"`

	// Display, when non-empty, is a human-readable surrogate shown in
	// activity output instead of Content.
	Display string `json:"display,omitempty"`

	// IsError marks the result as a failure the model can react to.
	IsError bool `json:"is_error,omitempty"`
}
