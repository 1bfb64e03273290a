// Package files implements the filesystem half of the non-interactive
// allow-list: read, read_many, ls, glob, and grep. Every tool resolves
// paths through the shared Resolver so nothing a model supplies can reach
// outside the configured workspace, and every tool reports failures as
// error results the model can react to rather than Go errors that would
// abort the dispatch.
package files

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/haasonsaas/subagent/internal/agent"
)

// defaultReadLimit caps a single read when the config names no limit.
const defaultReadLimit = 200000

// Config controls filesystem tool defaults.
type Config struct {
	Workspace    string
	MaxReadBytes int
}

// ReadTool reads one file, windowed by byte offset and limit so a model
// can page through something large without blowing its context.
type ReadTool struct {
	resolver Resolver
	limit    int
}

// NewReadTool creates a read tool scoped to the workspace.
func NewReadTool(cfg Config) *ReadTool {
	limit := cfg.MaxReadBytes
	if limit <= 0 {
		limit = defaultReadLimit
	}
	return &ReadTool{resolver: Resolver{Root: cfg.Workspace}, limit: limit}
}

// Name returns the tool name.
func (t *ReadTool) Name() string {
	return "read"
}

// Description returns the tool description.
func (t *ReadTool) Description() string {
	return "Read a file from the workspace with optional offset and byte limit."
}

// Schema returns the JSON schema for the tool parameters.
func (t *ReadTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file (relative to workspace).",
			},
			"offset": map[string]interface{}{
				"type":        "integer",
				"description": "Byte offset to start reading from (default: 0).",
				"minimum":     0,
			},
			"max_bytes": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum bytes to read (capped by tool default).",
				"minimum":     0,
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

type readArgs struct {
	Path     string `json:"path"`
	Offset   int64  `json:"offset"`
	MaxBytes int    `json:"max_bytes"`
}

func (a readArgs) validate() error {
	if strings.TrimSpace(a.Path) == "" {
		return fmt.Errorf("path is required")
	}
	if a.Offset < 0 {
		return fmt.Errorf("offset must be >= 0")
	}
	return nil
}

// window is how many bytes this call may return.
func (a readArgs) window(toolLimit int) int64 {
	if a.MaxBytes > 0 && a.MaxBytes < toolLimit {
		return int64(a.MaxBytes)
	}
	return int64(toolLimit)
}

// Execute reads one window of the file.
func (t *ReadTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args readArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if err := args.validate(); err != nil {
		return toolError(err.Error()), nil
	}

	resolved, err := t.resolver.Resolve(args.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}
	file, err := os.Open(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("open file: %v", err)), nil
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return toolError(fmt.Sprintf("stat file: %v", err)), nil
	}
	if args.Offset > 0 {
		if _, err := file.Seek(args.Offset, io.SeekStart); err != nil {
			return toolError(fmt.Sprintf("seek file: %v", err)), nil
		}
	}

	buf, err := io.ReadAll(io.LimitReader(file, args.window(t.limit)))
	if err != nil {
		return toolError(fmt.Sprintf("read file: %v", err)), nil
	}

	payload, err := json.MarshalIndent(map[string]interface{}{
		"path":      args.Path,
		"content":   string(buf),
		"offset":    args.Offset,
		"bytes":     len(buf),
		"truncated": args.Offset+int64(len(buf)) < info.Size(),
	}, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

// toolError wraps a failure message as an error result the model sees.
func toolError(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}
