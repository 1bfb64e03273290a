package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/haasonsaas/subagent/pkg/models"
)

// ParsedCall is a tool call recovered from a local model's free text output
// by the Tool-Call Parser, together with the span of text it was found in
// so the caller can strip it from the assistant-visible transcript.
type ParsedCall struct {
	Name  string
	Args  json.RawMessage
	Start int
	End   int
}

// jsonCallPattern matches a fenced or bare JSON object carrying "name" and
// "arguments"/"parameters" keys, the shape most local models converge on
// when asked to emit a function call as JSON.
var jsonCallPattern = regexp.MustCompile(`(?s)\{[^{}]*"name"\s*:\s*"[^"]+"[^{}]*\}`)

// xmlCallPattern matches an XML-ish "tool_call" tag wrapping a JSON body,
// a second common convention for models fine-tuned on ReAct-style traces.
var xmlCallPattern = regexp.MustCompile(`(?s)<tool_call>\s*(\{.*?\})\s*</tool_call>`)

// ParseToolCalls recovers zero or more tool calls from raw local-model
// output. It tries a JSON-first pass (the model's entire response, or a
// fenced code block, is valid JSON describing one call or a list of
// calls) and falls back to regex extraction of embedded JSON objects when
// the response mixes prose with one or more call invocations.
//
// A ProtocolViolation-tagged DriverError is returned only when text looks
// like it is trying to make a call (contains "tool_call" or a JSON object
// with a "name" key) but nothing could be parsed; plain conversational
// text with no call-shaped content returns (nil, nil).
func ParseToolCalls(text string) ([]ParsedCall, error) {
	if calls, ok := parseJSONFirst(text); ok {
		return calls, nil
	}

	calls := parseRegexFallback(text)
	if len(calls) > 0 {
		return calls, nil
	}

	if looksLikeAttemptedCall(text) {
		return nil, NewDriverError(CategoryProtocolViolation, "", fmt.Errorf("could not recover a tool call from model output"))
	}
	return nil, nil
}

// jsonCallEnvelope is the shape expected when the entire response (or a
// fenced block within it) is a single JSON call.
type jsonCallEnvelope struct {
	Name       string          `json:"name"`
	Arguments  json.RawMessage `json:"arguments"`
	Parameters json.RawMessage `json:"parameters"`
}

func (e jsonCallEnvelope) args() json.RawMessage {
	if len(e.Arguments) > 0 {
		return e.Arguments
	}
	return e.Parameters
}

func parseJSONFirst(text string) ([]ParsedCall, bool) {
	trimmed := strings.TrimSpace(stripCodeFence(text))
	if trimmed == "" || trimmed[0] != '{' && trimmed[0] != '[' {
		return nil, false
	}

	if trimmed[0] == '[' {
		var envelopes []jsonCallEnvelope
		if err := json.Unmarshal([]byte(trimmed), &envelopes); err != nil {
			return nil, false
		}
		calls := make([]ParsedCall, 0, len(envelopes))
		for _, e := range envelopes {
			if e.Name == "" {
				return nil, false
			}
			calls = append(calls, ParsedCall{Name: e.Name, Args: e.args(), Start: 0, End: len(text)})
		}
		return calls, len(calls) > 0
	}

	var envelope jsonCallEnvelope
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil || envelope.Name == "" {
		return nil, false
	}
	return []ParsedCall{{Name: envelope.Name, Args: envelope.args(), Start: 0, End: len(text)}}, true
}

func parseRegexFallback(text string) []ParsedCall {
	var calls []ParsedCall

	for _, m := range xmlCallPattern.FindAllStringSubmatchIndex(text, -1) {
		body := text[m[2]:m[3]]
		var envelope jsonCallEnvelope
		if err := json.Unmarshal([]byte(body), &envelope); err != nil || envelope.Name == "" {
			continue
		}
		calls = append(calls, ParsedCall{Name: envelope.Name, Args: envelope.args(), Start: m[0], End: m[1]})
	}
	if len(calls) > 0 {
		return calls
	}

	for _, span := range jsonCallPattern.FindAllStringIndex(text, -1) {
		body := text[span[0]:span[1]]
		var envelope jsonCallEnvelope
		if err := json.Unmarshal([]byte(body), &envelope); err != nil || envelope.Name == "" {
			continue
		}
		calls = append(calls, ParsedCall{Name: envelope.Name, Args: envelope.args(), Start: span[0], End: span[1]})
	}
	if len(calls) > 0 {
		return calls
	}

	return parseIdentCalls(text)
}

// identCallPattern matches bare IDENT(key=value, ...) invocations, the
// shape models trained on Python-style tool traces fall back to when they
// ignore the JSON convention entirely.
var identCallPattern = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\(([^()]*)\)`)

// identArgPattern matches one key=value pair inside an IDENT(...) call:
// the value may be single- or double-quoted, or bare.
var identArgPattern = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*=\s*("(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'|[^,()]+)`)

// parseIdentCalls is the last-resort regex pass. A surrounding [...] list
// wrapper, if present, is stripped before scanning. Bare values are
// coerced: numbers to JSON numbers, true/false to booleans, everything
// else to strings. The coercion is deliberately lossy (the literal string
// "true" cannot be expressed bare).
func parseIdentCalls(text string) []ParsedCall {
	scan := text
	offset := 0
	if trimmed := strings.TrimSpace(scan); strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
		start := strings.Index(scan, "[")
		end := strings.LastIndex(scan, "]")
		offset = start + 1
		scan = scan[start+1 : end]
	}

	var calls []ParsedCall
	for _, m := range identCallPattern.FindAllStringSubmatchIndex(scan, -1) {
		name := scan[m[2]:m[3]]
		argText := scan[m[4]:m[5]]

		args := make(map[string]any)
		valid := true
		for _, am := range identArgPattern.FindAllStringSubmatch(argText, -1) {
			key := am[1]
			args[key] = coerceIdentValue(am[2])
		}
		if strings.TrimSpace(argText) != "" && len(args) == 0 {
			valid = false // parenthesized prose, not an argument list
		}
		if !valid {
			continue
		}
		raw, err := json.Marshal(args)
		if err != nil {
			continue
		}
		calls = append(calls, ParsedCall{Name: name, Args: raw, Start: offset + m[0], End: offset + m[1]})
	}
	return calls
}

func coerceIdentValue(v string) any {
	v = strings.TrimSpace(v)
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			inner := v[1 : len(v)-1]
			inner = strings.ReplaceAll(inner, `\`+string(v[0]), string(v[0]))
			return inner
		}
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v
}

func looksLikeAttemptedCall(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "tool_call") || strings.Contains(lower, `"name"`) && strings.Contains(lower, `"arguments"`)
}

func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return trimmed
	}
	// Drop the opening fence (optionally tagged, e.g. ```json) and the
	// closing fence if present.
	lines = lines[1:]
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// StripCalls removes the spans of the given parsed calls from text,
// leaving only the prose the model produced around them.
func StripCalls(text string, calls []ParsedCall) string {
	if len(calls) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for _, c := range calls {
		if c.Start < last || c.Start > len(text) || c.End > len(text) || c.End < c.Start {
			continue
		}
		b.WriteString(text[last:c.Start])
		last = c.End
	}
	if last < len(text) {
		b.WriteString(text[last:])
	}
	return strings.TrimSpace(b.String())
}

// ToToolCalls converts parsed calls into models.ToolCall, assigning each a
// call-id derived from promptID since local models don't supply their own.
func ToToolCalls(promptID string, calls []ParsedCall) []models.ToolCall {
	out := make([]models.ToolCall, 0, len(calls))
	for i, c := range calls {
		out = append(out, models.ToolCall{
			ID:    NewCallID(promptID, i),
			Name:  c.Name,
			Input: c.Args,
		})
	}
	return out
}

// gemmaSchema is the JSON shape a schema is rewritten into for models that
// expect OpenAI-style function declarations rather than the
// parametersJsonSchema envelope the remote adapters use natively.
type gemmaSchema struct {
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters"`
}

// ToGemmaToolSchema rewrites a tool's native schema for a text-only local
// model: parametersJsonSchema is renamed to parameters, and description
// fields are stripped throughout since they inflate the prompt without
// reliably improving small-model tool selection.
func ToGemmaToolSchema(name string, schema json.RawMessage) (json.RawMessage, error) {
	stripped, err := stripDescriptions(schema)
	if err != nil {
		return nil, fmt.Errorf("gemma schema transform: %w", err)
	}
	out := gemmaSchema{Name: name, Parameters: stripped}
	return json.Marshal(out)
}

func stripDescriptions(raw json.RawMessage) (json.RawMessage, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	cleaned := stripDescriptionsValue(v)
	return json.Marshal(cleaned)
}

func stripDescriptionsValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if k == "description" {
				continue
			}
			if k == "required" {
				if list, ok := val.([]any); ok {
					kept := make([]any, 0, len(list))
					for _, item := range list {
						if s, ok := item.(string); ok && s == "description" {
							continue
						}
						kept = append(kept, item)
					}
					out[k] = kept
					continue
				}
			}
			out[k] = stripDescriptionsValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = stripDescriptionsValue(val)
		}
		return out
	default:
		return v
	}
}
