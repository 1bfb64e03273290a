// Package exec implements the shell half of the non-interactive
// allow-list: one tool to run commands (synchronously or detached into
// the background) and one to manage the detached processes across turns.
// Commands run through the Manager, which scopes working directories to
// the workspace and streams partial output to the driver's activity sink.
package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/subagent/internal/agent"
)

// ExecTool runs shell commands.
type ExecTool struct {
	name    string
	manager *Manager
}

// NewExecTool creates an exec tool with the given registration name
// ("exec" unless the host aliases it).
func NewExecTool(name string, manager *Manager) *ExecTool {
	if strings.TrimSpace(name) == "" {
		name = "exec"
	}
	return &ExecTool{name: name, manager: manager}
}

// Name returns the tool name.
func (t *ExecTool) Name() string { return t.name }

// Description returns the tool description.
func (t *ExecTool) Description() string {
	return "Run a shell command in the workspace (supports optional background execution)."
}

// Schema returns the JSON schema for the tool parameters.
func (t *ExecTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute.",
			},
			"cwd": map[string]interface{}{
				"type":        "string",
				"description": "Working directory (relative to workspace).",
			},
			"env": map[string]interface{}{
				"type":        "object",
				"description": "Environment overrides (string values).",
			},
			"input": map[string]interface{}{
				"type":        "string",
				"description": "Stdin content to pass to the command.",
			},
			"timeout_seconds": map[string]interface{}{
				"type":        "integer",
				"description": "Timeout in seconds (0 = no timeout).",
				"minimum":     0,
			},
			"background": map[string]interface{}{
				"type":        "boolean",
				"description": "Run in background and return a process id.",
			},
		},
		"required": []string{"command"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// execArgs is the decoded parameter set for one command.
type execArgs struct {
	Command        string            `json:"command"`
	Cwd            string            `json:"cwd"`
	Env            map[string]string `json:"env"`
	Input          string            `json:"input"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	Background     bool              `json:"background"`
}

// Execute runs the command. Synchronous calls block until exit (or
// timeout) and return stdout/stderr/exit code; background calls return a
// process id immediately for the process tool to follow up on.
func (t *ExecTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.manager == nil {
		return toolError("exec manager unavailable"), nil
	}
	var args execArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	args.Command = strings.TrimSpace(args.Command)
	if args.Command == "" {
		return toolError("command is required"), nil
	}
	timeout := time.Duration(args.TimeoutSeconds) * time.Second

	if args.Background {
		proc, err := t.manager.startBackground(ctx, args.Command, args.Cwd, args.Env, args.Input, timeout)
		if err != nil {
			return toolError(err.Error()), nil
		}
		return jsonResult(map[string]interface{}{
			"status":     "running",
			"process_id": proc.id,
		}), nil
	}

	result, err := t.manager.runSync(ctx, args.Command, args.Cwd, args.Env, args.Input, timeout)
	if err != nil {
		return toolError(err.Error()), nil
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

// ProcessTool follows up on background processes across turns: list them,
// poll status, read accumulated output, feed stdin, kill, and clean up.
type ProcessTool struct {
	manager *Manager
}

// NewProcessTool creates a process tool over the same manager as the exec
// tool, so both see one process table.
func NewProcessTool(manager *Manager) *ProcessTool {
	return &ProcessTool{manager: manager}
}

// Name returns the tool name.
func (t *ProcessTool) Name() string { return "process" }

// Description returns the tool description.
func (t *ProcessTool) Description() string {
	return "Manage background exec processes (list, status, log, write, kill, remove)."
}

// Schema returns the JSON schema for the tool parameters.
func (t *ProcessTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"list", "status", "log", "write", "kill", "remove"},
				"description": "What to do.",
			},
			"process_id": map[string]interface{}{
				"type":        "string",
				"description": "Process id for actions that target a process.",
			},
			"input": map[string]interface{}{
				"type":        "string",
				"description": "Input for the write action.",
			},
		},
		"required": []string{"action"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute dispatches one process action. "list" needs no target; every
// other action resolves its process first.
func (t *ProcessTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	_ = ctx
	if t.manager == nil {
		return toolError("process manager unavailable"), nil
	}
	var args struct {
		Action    string `json:"action"`
		ProcessID string `json:"process_id"`
		Input     string `json:"input"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	action := strings.ToLower(strings.TrimSpace(args.Action))
	if action == "" {
		return toolError("action is required"), nil
	}
	if action == "list" {
		return jsonResult(map[string]interface{}{"processes": t.manager.list()}), nil
	}

	id := strings.TrimSpace(args.ProcessID)
	if id == "" {
		return toolError("process_id is required"), nil
	}
	proc, ok := t.manager.get(id)
	if !ok {
		return toolError("process not found"), nil
	}

	switch action {
	case "status":
		return jsonResult(proc.info()), nil
	case "log":
		return jsonResult(map[string]interface{}{
			"stdout": proc.stdout.String(),
			"stderr": proc.stderr.String(),
			"status": proc.status(),
		}), nil
	case "write":
		if proc.stdin == nil {
			return toolError("process stdin unavailable"), nil
		}
		if args.Input == "" {
			return toolError("input is required"), nil
		}
		if _, err := proc.stdin.Write([]byte(args.Input)); err != nil {
			return toolError(fmt.Sprintf("write stdin: %v", err)), nil
		}
		return jsonResult(map[string]interface{}{"status": "written"}), nil
	case "kill":
		if proc.cmd.Process == nil {
			return toolError("process not running"), nil
		}
		if err := proc.cmd.Process.Kill(); err != nil {
			return toolError(fmt.Sprintf("kill process: %v", err)), nil
		}
		return jsonResult(map[string]interface{}{"status": "killed"}), nil
	case "remove":
		if proc.status() == "running" {
			return toolError("process still running"), nil
		}
		if !t.manager.remove(proc.id) {
			return toolError("remove failed"), nil
		}
		return jsonResult(map[string]interface{}{"status": "removed"}), nil
	default:
		return toolError("unsupported action"), nil
	}
}

func jsonResult(v interface{}) *agent.ToolResult {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err))
	}
	return &agent.ToolResult{Content: string(payload)}
}

func toolError(message string) *agent.ToolResult {
	payload, _ := json.Marshal(map[string]string{"error": message})
	return &agent.ToolResult{Content: string(payload), IsError: true}
}
