package files

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/haasonsaas/subagent/internal/agent"
)

// GrepTool searches file contents by regular expression.
type GrepTool struct {
	resolver     Resolver
	maxMatches   int
	maxFileBytes int64
}

// NewGrepTool creates a grep tool scoped to the workspace.
func NewGrepTool(cfg Config) *GrepTool {
	return &GrepTool{
		resolver:     Resolver{Root: cfg.Workspace},
		maxMatches:   200,
		maxFileBytes: 4 << 20,
	}
}

// Name returns the tool name.
func (t *GrepTool) Name() string {
	return "grep"
}

// Description returns the tool description.
func (t *GrepTool) Description() string {
	return "Search file contents for a regular expression, returning matching lines with file and line number."
}

// Schema returns the JSON schema for the tool parameters.
func (t *GrepTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Regular expression to search for.",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File or directory to search (relative to workspace, default: workspace root).",
			},
			"glob": map[string]interface{}{
				"type":        "string",
				"description": "Only search files whose name matches this glob (e.g. *.go).",
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

type grepMatch struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// Execute walks the target and scans line by line.
func (t *GrepTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
		Glob    string `json:"glob"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Pattern) == "" {
		return toolError("pattern is required"), nil
	}
	re, err := regexp.Compile(input.Pattern)
	if err != nil {
		return toolError(fmt.Sprintf("invalid pattern: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		input.Path = "."
	}

	root, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	var matches []grepMatch
	truncated := false

	scanFile := func(path, rel string) error {
		if info, serr := os.Stat(path); serr != nil || info.Size() > t.maxFileBytes {
			return nil
		}
		f, oerr := os.Open(path)
		if oerr != nil {
			return nil
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			if strings.ContainsRune(line, '\x00') {
				return nil // binary
			}
			if re.MatchString(line) {
				if len(matches) >= t.maxMatches {
					truncated = true
					return filepath.SkipAll
				}
				matches = append(matches, grepMatch{File: rel, Line: lineNo, Text: line})
			}
		}
		return nil
	}

	info, err := os.Stat(root)
	if err != nil {
		return toolError(fmt.Sprintf("stat: %v", err)), nil
	}
	if info.IsDir() {
		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, werr error) error {
			if werr != nil {
				return nil
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
			if input.Glob != "" {
				if ok, _ := filepath.Match(input.Glob, d.Name()); !ok {
					return nil
				}
			}
			rel, rerr := filepath.Rel(root, path)
			if rerr != nil {
				return nil
			}
			return scanFile(path, rel)
		})
		if walkErr != nil && walkErr != ctx.Err() && walkErr != filepath.SkipAll {
			return toolError(fmt.Sprintf("walk: %v", walkErr)), nil
		}
	} else {
		_ = scanFile(root, input.Path)
	}

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
