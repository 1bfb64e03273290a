// Package subagent exposes parent-to-child delegation as a tool: a host
// conversation (or an outer agent allowed to delegate) invokes it to run a
// registered agent definition to completion through the Invocation
// Boundary. Nesting is strictly parent→child; the boundary caps depth and
// the interrupt manager guarantees an operator signal reaches only the
// innermost running agent.
package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/subagent/internal/agent"
)

// SpawnTool delegates a task to a named sub-agent and blocks until the
// child run settles. It is a host-side tool: it is deliberately NOT on the
// non-interactive allow-list, so a sub-agent definition cannot carry it
// and spawn further children implicitly — only a host that wires this
// tool into its own conversation loop can delegate.
type SpawnTool struct {
	boundary *agent.Boundary
	sink     agent.EventSink
}

// NewSpawnTool builds the delegation tool over a configured boundary.
// Child activity events are forwarded to sink.
func NewSpawnTool(boundary *agent.Boundary, sink agent.EventSink) *SpawnTool {
	return &SpawnTool{boundary: boundary, sink: sink}
}

// Name returns the tool name.
func (t *SpawnTool) Name() string { return "spawn_subagent" }

// Description enumerates the registered agents so the calling model can
// pick one.
func (t *SpawnTool) Description() string {
	var b strings.Builder
	b.WriteString("Delegate a task to a specialized sub-agent and wait for its result. Available agents:")
	for _, def := range t.boundary.Definitions() {
		b.WriteString(fmt.Sprintf("\n- %s: %s", def.Name, def.Description))
	}
	return b.String()
}

// Schema returns the JSON schema for the tool parameters.
func (t *SpawnTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"agent": map[string]interface{}{
				"type":        "string",
				"description": "Name of the registered agent definition to run.",
			},
			"inputs": map[string]interface{}{
				"type":        "object",
				"description": "Named string inputs matching the agent's input spec.",
			},
		},
		"required": []string{"agent"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute runs the child synchronously; the parent frame is suspended for
// the duration, per the one-frame-at-a-time execution model.
func (t *SpawnTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Agent  string            `json:"agent"`
		Inputs map[string]string `json:"inputs"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("Invalid parameters: %v", err), IsError: true}, nil
	}
	if strings.TrimSpace(input.Agent) == "" {
		return &agent.ToolResult{Content: "agent is required", IsError: true}, nil
	}

	res, err := t.boundary.Invoke(ctx, input.Agent, input.Inputs, t.sink)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	payload, merr := json.MarshalIndent(map[string]interface{}{
		"result":             res.Result,
		"termination_reason": string(res.TerminationReason),
		"turns":              res.TurnCount,
	}, "", "  ")
	if merr != nil {
		return &agent.ToolResult{Content: res.Result}, nil
	}
	return &agent.ToolResult{
		Content: string(payload),
		IsError: res.TerminationReason != agent.ReasonGoal,
	}, nil
}
