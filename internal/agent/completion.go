package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// CompleteTaskToolName is the name of the synthetic completion tool every
// ToolRegistry carries. It is the sole mechanism by which a run can end
// with a "goal reached" status; a run that simply stops producing tool
// calls or text is not considered complete.
const CompleteTaskToolName = "complete_task"

// CompletedNoOutputResult is the final result string for agents with no
// output specification.
const CompletedNoOutputResult = "Task completed successfully."

// RecoveryPrompt is the synthesized user message injected during a
// recovery turn: a fixed grace window in which the model is asked to
// either call complete_task or explain why it cannot.
const RecoveryPrompt = "You have run out of turns or time for this task. Call complete_task now with a summary of what you accomplished, even if the task is incomplete."

// IsCompleteTaskCall reports whether name is the synthetic completion
// tool's name, for turn-loop dispatch that needs to special-case it ahead
// of ordinary tool execution.
func IsCompleteTaskCall(name string) bool {
	return name == CompleteTaskToolName
}

// completeTaskTool implements Tool for the synthetic completion signal.
// Its advertised schema depends on the definition it was built for: one
// required property named after the output spec's field, or no parameters
// at all when the agent has no output spec. Executing it never fails; the
// turn state machine performs the real validation through
// ResolveCompletion before deciding a call counts as completion.
type completeTaskTool struct {
	schema json.RawMessage
}

func newCompleteTaskTool() Tool {
	return BuildCompleteTaskTool(nil)
}

func (t *completeTaskTool) Name() string { return CompleteTaskToolName }

func (t *completeTaskTool) Description() string {
	return "Signal that the assigned task has been completed. This is the only way to end a run with a goal-reached status; call it once you have finished."
}

func (t *completeTaskTool) Schema() json.RawMessage { return t.schema }

func (t *completeTaskTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	return &ToolResult{Content: "Task marked complete."}, nil
}

// BuildCompleteTaskTool builds the completion tool for one definition. The
// parameter schema mirrors the definition's output spec so the model sees
// exactly what shape of result it must hand back; a nil definition or one
// without an output spec advertises an empty parameter set.
func BuildCompleteTaskTool(def *AgentDefinition) Tool {
	if def == nil || def.Output == nil {
		return &completeTaskTool{schema: json.RawMessage(`{"type":"object","properties":{}}`)}
	}
	raw, err := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			def.Output.Name: json.RawMessage(def.Output.Schema),
		},
		"required": []string{def.Output.Name},
	})
	if err != nil {
		raw = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return &completeTaskTool{schema: raw}
}

// ResolveCompletion decides whether one complete_task invocation actually
// completes the run. For a definition with an output spec the single
// required argument must be present and must satisfy the validating
// schema; a failure returns an error and the caller treats the call as
// revoked, continuing the loop with the error text as a tool response.
// On success the returned string is the run's final result, after the
// definition's optional ProcessOutput step.
func ResolveCompletion(def *AgentDefinition, params json.RawMessage) (string, error) {
	if def.Output == nil {
		return CompletedNoOutputResult, nil
	}

	var args map[string]any
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return "", fmt.Errorf("complete_task arguments are not a JSON object: %v", err)
		}
	}
	value, ok := args[def.Output.Name]
	if !ok {
		return "", fmt.Errorf("Missing required argument '%s'", def.Output.Name)
	}
	if err := def.Output.ValidateValue(value); err != nil {
		return "", fmt.Errorf("argument '%s' failed validation: %v", def.Output.Name, err)
	}

	out, err := json.MarshalIndent(map[string]any{def.Output.Name: value}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("could not encode output: %v", err)
	}
	result := string(out)
	if def.ProcessOutput != nil {
		result = def.ProcessOutput(result)
	}
	return result, nil
}

// SynthesizeCompletionArgs builds the argument payload for the local
// adapter's fallback completion: when a text-only model with an output
// spec produced no parseable tool calls at all, its terminal text is
// assumed to be the answer. The text is used as parsed JSON when it is
// valid JSON, raw otherwise.
func SynthesizeCompletionArgs(def *AgentDefinition, text string) json.RawMessage {
	text = strings.TrimSpace(text)
	field := "summary"
	if def != nil && def.Output != nil {
		field = def.Output.Name
	}

	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		// The model may have emitted the full argument object already.
		if obj, ok := parsed.(map[string]any); ok {
			if _, has := obj[field]; has {
				if raw, merr := json.Marshal(obj); merr == nil {
					return raw
				}
			}
		}
		if raw, merr := json.Marshal(map[string]any{field: parsed}); merr == nil {
			return raw
		}
	}
	raw, err := json.Marshal(map[string]string{field: text})
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
