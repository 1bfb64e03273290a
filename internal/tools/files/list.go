package files

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haasonsaas/subagent/internal/agent"
)

// ListTool implements a directory listing.
type ListTool struct {
	resolver   Resolver
	maxEntries int
}

// NewListTool creates a listing tool scoped to the workspace.
func NewListTool(cfg Config) *ListTool {
	return &ListTool{
		resolver:   Resolver{Root: cfg.Workspace},
		maxEntries: 500,
	}
}

// Name returns the tool name.
func (t *ListTool) Name() string {
	return "ls"
}

// Description returns the tool description.
func (t *ListTool) Description() string {
	return "List the entries of a directory in the workspace."
}

// Schema returns the JSON schema for the tool parameters.
func (t *ListTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to list (relative to workspace, default: workspace root).",
			},
		},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute lists the directory.
func (t *ListTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path string `json:"path"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
		}
	}
	if strings.TrimSpace(input.Path) == "" {
		input.Path = "."
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("read dir: %v", err)), nil
	}

	type entry struct {
		Name  string `json:"name"`
		IsDir bool   `json:"is_dir"`
		Size  int64  `json:"size,omitempty"`
	}
	out := make([]entry, 0, len(entries))
	truncated := false
	for i, e := range entries {
		if i >= t.maxEntries {
			truncated = true
			break
		}
		item := entry{Name: e.Name(), IsDir: e.IsDir()}
		if info, ierr := e.Info(); ierr == nil && !e.IsDir() {
			item.Size = info.Size()
		}
		out = append(out, item)
	}

	payload, err := json.MarshalIndent(map[string]interface{}{
		"path":      input.Path,
		"entries":   out,
		"truncated": truncated,
	}, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

// GlobTool matches files by shell pattern, recursively.
type GlobTool struct {
	resolver   Resolver
	maxMatches int
}

// NewGlobTool creates a glob tool scoped to the workspace.
func NewGlobTool(cfg Config) *GlobTool {
	return &GlobTool{
		resolver:   Resolver{Root: cfg.Workspace},
		maxMatches: 500,
	}
}

// Name returns the tool name.
func (t *GlobTool) Name() string {
	return "glob"
}

// Description returns the tool description.
func (t *GlobTool) Description() string {
	return "Find files matching a glob pattern (e.g. **/*.go), searched recursively from the workspace root."
}

// Schema returns the JSON schema for the tool parameters.
func (t *GlobTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Glob pattern to match file names against.",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to search from (relative to workspace, default: workspace root).",
			},
		},
		"required": []string{"pattern"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute walks the tree collecting matches.
func (t *GlobTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Pattern) == "" {
		return toolError("pattern is required"), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		input.Path = "."
	}

	root, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	// "**/" prefixes mean "at any depth"; matching is applied to both the
	// base name and the workspace-relative path so either convention works.
	pattern := strings.TrimPrefix(input.Pattern, "**/")

	var matches []string
	truncated := false
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, skip
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return nil
		}
		byName, _ := filepath.Match(pattern, d.Name())
		byPath, _ := filepath.Match(input.Pattern, rel)
		if byName || byPath {
			if len(matches) >= t.maxMatches {
				truncated = true
				return filepath.SkipAll
			}
			matches = append(matches, rel)
		}
		return nil
	})
	if walkErr != nil && walkErr != ctx.Err() {
		return toolError(fmt.Sprintf("walk: %v", walkErr)), nil
	}
	sort.Strings(matches)

	payload, err := json.MarshalIndent(map[string]interface{}{
		"pattern":   input.Pattern,
		"matches":   matches,
		"truncated": truncated,
	}, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}
