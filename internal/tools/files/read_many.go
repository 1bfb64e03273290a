package files

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/haasonsaas/subagent/internal/agent"
)

// ReadManyTool reads several files in one call, so a model gathering
// context doesn't burn a turn per file.
type ReadManyTool struct {
	resolver   Resolver
	maxPerFile int
	maxTotal   int
	maxFiles   int
}

// NewReadManyTool creates a multi-file reader scoped to the workspace.
func NewReadManyTool(cfg Config) *ReadManyTool {
	perFile := cfg.MaxReadBytes
	if perFile <= 0 {
		perFile = 100000
	}
	return &ReadManyTool{
		resolver:   Resolver{Root: cfg.Workspace},
		maxPerFile: perFile,
		maxTotal:   perFile * 4,
		maxFiles:   20,
	}
}

// Name returns the tool name.
func (t *ReadManyTool) Name() string {
	return "read_many"
}

// Description returns the tool description.
func (t *ReadManyTool) Description() string {
	return "Read several files from the workspace in a single call."
}

// Schema returns the JSON schema for the tool parameters.
func (t *ReadManyTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"paths": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Files to read (relative to workspace).",
			},
		},
		"required": []string{"paths"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute reads each file under the shared byte budget.
func (t *ReadManyTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Paths []string `json:"paths"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if len(input.Paths) == 0 {
		return toolError("paths is required"), nil
	}
	if len(input.Paths) > t.maxFiles {
		return toolError(fmt.Sprintf("too many files: %d (max %d)", len(input.Paths), t.maxFiles)), nil
	}

	type fileResult struct {
		Path      string `json:"path"`
		Content   string `json:"content,omitempty"`
		Error     string `json:"error,omitempty"`
		Truncated bool   `json:"truncated,omitempty"`
	}

	total := 0
	results := make([]fileResult, 0, len(input.Paths))
	for _, p := range input.Paths {
		if ctx.Err() != nil {
			return toolError("cancelled"), nil
		}
		fr := fileResult{Path: p}
		resolved, err := t.resolver.Resolve(p)
		if err != nil {
			fr.Error = err.Error()
			results = append(results, fr)
			continue
		}
		f, err := os.Open(resolved)
		if err != nil {
			fr.Error = fmt.Sprintf("open file: %v", err)
			results = append(results, fr)
			continue
		}
		budget := t.maxPerFile
		if remaining := t.maxTotal - total; remaining < budget {
			budget = remaining
		}
		if budget <= 0 {
			f.Close()
			fr.Error = "shared byte budget exhausted"
			results = append(results, fr)
			continue
		}
		buf, err := io.ReadAll(io.LimitReader(f, int64(budget)+1))
		f.Close()
		if err != nil {
			fr.Error = fmt.Sprintf("read file: %v", err)
			results = append(results, fr)
			continue
		}
		if len(buf) > budget {
			buf = buf[:budget]
			fr.Truncated = true
		}
		total += len(buf)
		fr.Content = string(buf)
		results = append(results, fr)
	}

	payload, err := json.MarshalIndent(map[string]interface{}{"files": results}, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}
