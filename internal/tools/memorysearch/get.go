package memorysearch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/subagent/internal/agent"
)

// defaultGetLines is how many lines memory_get returns when the caller
// names no count.
const defaultGetLines = 50

// MemoryGetTool reads an exact line range out of a memory file, the
// follow-up to a memory_search hit. Paths are confined to the configured
// memory locations; everything else on disk belongs to the filesystem
// tools and their own workspace scoping.
type MemoryGetTool struct {
	config Config
}

// NewMemoryGetTool creates a memory_get tool.
func NewMemoryGetTool(config *Config) *MemoryGetTool {
	return &MemoryGetTool{config: config.normalized()}
}

// Name returns the tool name.
func (t *MemoryGetTool) Name() string {
	return "memory_get"
}

// Description returns the tool description.
func (t *MemoryGetTool) Description() string {
	return "Read a snippet from MEMORY.md or memory/*.md by line range."
}

// Schema returns the JSON schema for tool parameters.
func (t *MemoryGetTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Memory file path (relative to workspace).",
			},
			"from": map[string]interface{}{
				"type":        "integer",
				"description": "1-based start line (default: 1).",
				"minimum":     1,
			},
			"lines": map[string]interface{}{
				"type":        "integer",
				"description": "Number of lines to return (default: 50).",
				"minimum":     1,
			},
		},
		"required": []string{"path"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute reads the requested snippet.
func (t *MemoryGetTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path  string `json:"path"`
		From  int    `json:"from"`
		Lines int    `json:"lines"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Invalid parameters: %v", err), IsError: true}, nil
	}
	input.Path = strings.TrimSpace(input.Path)
	if input.Path == "" {
		return &agent.ToolResult{Content: "path is required", IsError: true}, nil
	}
	if input.From <= 0 {
		input.From = 1
	}
	if input.Lines <= 0 {
		input.Lines = defaultGetLines
	}

	resolved, err := t.confineToMemory(input.Path)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("read file: %v", err), IsError: true}, nil
	}

	all := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	text := ""
	if start := input.From - 1; start < len(all) {
		end := start + input.Lines
		if end > len(all) {
			end = len(all)
		}
		text = strings.Join(all[start:end], "\n")
	}

	payload, err := json.MarshalIndent(map[string]interface{}{
		"path":  input.Path,
		"from":  input.From,
		"lines": input.Lines,
		"text":  text,
	}, "", "  ")
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("encode result: %v", err), IsError: true}, nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

// confineToMemory resolves path and verifies it lands under the memory
// file or directory; anything else is refused.
func (t *MemoryGetTool) confineToMemory(path string) (string, error) {
	root := strings.TrimSpace(t.config.WorkspacePath)
	if root == "" {
		root = "."
	}
	resolved, err := filepath.Abs(joinIfRelative(root, filepath.Clean(path)))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	var bases []string
	if t.config.MemoryFile != "" {
		bases = append(bases, joinIfRelative(root, t.config.MemoryFile))
	}
	if t.config.Directory != "" {
		bases = append(bases, joinIfRelative(root, t.config.Directory))
	}
	for _, base := range bases {
		baseAbs, aerr := filepath.Abs(base)
		if aerr != nil {
			continue
		}
		rel, rerr := filepath.Rel(baseAbs, resolved)
		if rerr == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("path is outside memory directories")
}
