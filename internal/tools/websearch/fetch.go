package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/subagent/internal/agent"
)

// defaultFetchChars bounds web_fetch output when the caller sets no limit.
const defaultFetchChars = 10000

// FetchConfig controls web_fetch defaults.
type FetchConfig struct {
	// MaxChars caps the returned content. 0 uses defaultFetchChars.
	MaxChars int
}

// WebFetchTool fetches one URL and returns its readable content. It rides
// the shared ContentExtractor, so the egress guard applies to every call
// and a blocked target surfaces as a tool error the model can react to.
type WebFetchTool struct {
	config    FetchConfig
	extractor *ContentExtractor
}

// WebFetchOption customizes WebFetchTool construction.
type WebFetchOption func(*WebFetchTool)

// WithExtractor overrides the default content extractor (useful for tests).
func WithExtractor(extractor *ContentExtractor) WebFetchOption {
	return func(tool *WebFetchTool) {
		if extractor != nil {
			tool.extractor = extractor
		}
	}
}

// NewWebFetchTool creates a new web_fetch tool with defaults applied.
func NewWebFetchTool(config *FetchConfig, opts ...WebFetchOption) *WebFetchTool {
	tool := &WebFetchTool{extractor: NewContentExtractor()}
	if config != nil {
		tool.config = *config
	}
	if tool.config.MaxChars <= 0 {
		tool.config.MaxChars = defaultFetchChars
	}
	for _, opt := range opts {
		opt(tool)
	}
	return tool
}

// Name returns the tool name.
func (t *WebFetchTool) Name() string {
	return "web_fetch"
}

// Description returns the tool description.
func (t *WebFetchTool) Description() string {
	return "Fetch and extract readable content from a URL without full browser automation."
}

// Schema returns the JSON schema for tool parameters.
func (t *WebFetchTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "URL to fetch (http/https only).",
			},
			"extract_mode": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"markdown", "text"},
				"description": "Extraction mode. Default: markdown.",
			},
			"max_chars": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum characters to return.",
				"minimum":     0,
			},
		},
		"required": []string{"url"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// fetchArgs is the decoded parameter set. Both snake_case and camelCase
// spellings are accepted since local models are sloppy about key casing.
type fetchArgs struct {
	URL           string `json:"url"`
	ExtractMode   string `json:"extract_mode"`
	ExtractModeCC string `json:"extractMode"`
	MaxChars      int    `json:"max_chars"`
	MaxCharsCC    int    `json:"maxChars"`
}

func (a fetchArgs) mode() string {
	mode := a.ExtractMode
	if mode == "" {
		mode = a.ExtractModeCC
	}
	if strings.EqualFold(strings.TrimSpace(mode), "text") {
		return "text"
	}
	return "markdown"
}

func (a fetchArgs) limit(toolMax int) int {
	requested := a.MaxChars
	if requested <= 0 {
		requested = a.MaxCharsCC
	}
	if requested > 0 && requested < toolMax {
		return requested
	}
	return toolMax
}

// Execute fetches the URL through the guarded extractor.
func (t *WebFetchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args fetchArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Invalid parameters: %v", err), IsError: true}, nil
	}
	args.URL = strings.TrimSpace(args.URL)
	if args.URL == "" {
		return &agent.ToolResult{Content: "Missing required parameter: url", IsError: true}, nil
	}

	content, err := t.extractor.Extract(ctx, args.URL)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Fetch failed: %v", err), IsError: true}, nil
	}

	limit := args.limit(t.config.MaxChars)
	truncated := false
	if limit > 0 && len(content) > limit {
		content = content[:limit] + "..."
		truncated = true
	}

	result := map[string]interface{}{
		"url":          args.URL,
		"extract_mode": args.mode(),
		"content":      content,
	}
	if truncated {
		result["truncated"] = true
	}

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Failed to format response: %v", err), IsError: true}, nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}
