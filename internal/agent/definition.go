package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// DefaultMaxNestingDepth bounds how many levels of parent-to-child
// delegation are permitted before the Invocation Boundary refuses to spawn
// a further nested agent. Exceeding it is a ConfigurationError.
const DefaultMaxNestingDepth = 4

// AdapterKind selects which Chat Adapter variant an agent's model talks
// through.
type AdapterKind string

const (
	// AdapterRemote uses a provider's native structured function-calling
	// protocol (streaming SSE, provider-native tool_use blocks).
	AdapterRemote AdapterKind = "remote"

	// AdapterLocal is text-only: tool calls are recovered from free model
	// output by the Tool-Call Parser instead of being structured by the
	// provider.
	AdapterLocal AdapterKind = "local"
)

// ModelConfig names the model an agent talks to and which adapter variant
// fronts it.
type ModelConfig struct {
	// Provider is the backend name (e.g. "anthropic", "openai", "bedrock",
	// "google") used to look up an LLMProvider implementation.
	Provider string

	// Model is the provider-specific model identifier.
	Model string

	// Adapter selects the remote or local Chat Adapter. Required.
	Adapter AdapterKind

	// MaxTokens bounds the length of each completion. 0 uses the
	// provider's default.
	MaxTokens int

	// Thinking sets the extended-thinking budget for providers that
	// support it. Ignored by providers that don't.
	Thinking ThinkingLevel

	// LocalToolSchemaStyle names the schema transform the local adapter
	// applies before presenting tools to a text-only model. "gemma" renames
	// parametersJsonSchema to parameters and strips description fields; ""
	// passes schemas through unchanged.
	LocalToolSchemaStyle string
}

func (m ModelConfig) validate() error {
	if m.Adapter != AdapterRemote && m.Adapter != AdapterLocal {
		return fmt.Errorf("model config: adapter must be %q or %q, got %q", AdapterRemote, AdapterLocal, m.Adapter)
	}
	if m.Provider == "" {
		return fmt.Errorf("model config: provider is required")
	}
	if m.Model == "" {
		return fmt.Errorf("model config: model is required")
	}
	return nil
}

// RunConfig bounds how long and how far a single agent run may proceed
// before the turn state machine forces a recovery turn or terminates.
type RunConfig struct {
	// MaxTurns is the maximum number of AWAITING_MODEL/PROCESSING_CALLS
	// cycles before the run enters RECOVERY_TURN (or terminates, if
	// recovery is not eligible). Must be >= 1.
	MaxTurns int

	// MaxTimeMinutes is the wall-clock budget for the run, independent of
	// turn count. Must be >= 1.
	MaxTimeMinutes int

	// Summarize enables the local-model-only tool-response Summarizer
	// (C6). Invalid when the model config's Adapter is AdapterRemote.
	Summarize bool

	// MaxNestingDepth overrides DefaultMaxNestingDepth for this agent's
	// subtree. 0 means DefaultMaxNestingDepth.
	MaxNestingDepth int
}

func (r RunConfig) validate(adapter AdapterKind) error {
	if r.MaxTurns < 1 {
		return fmt.Errorf("run config: max_turns must be >= 1, got %d", r.MaxTurns)
	}
	if r.MaxTimeMinutes < 1 {
		return fmt.Errorf("run config: max_time_minutes must be >= 1, got %d", r.MaxTimeMinutes)
	}
	if r.Summarize && adapter == AdapterRemote {
		return fmt.Errorf("run config: summarize is local-model-only, got adapter %q", adapter)
	}
	if r.MaxNestingDepth < 0 {
		return fmt.Errorf("run config: max_nesting_depth cannot be negative, got %d", r.MaxNestingDepth)
	}
	return nil
}

func (r RunConfig) nestingDepth() int {
	if r.MaxNestingDepth <= 0 {
		return DefaultMaxNestingDepth
	}
	return r.MaxNestingDepth
}

func (r RunConfig) timeBudget() time.Duration {
	return time.Duration(r.MaxTimeMinutes) * time.Minute
}

// ToolConfigSpec names which tools an agent may call and how dispatch of
// those calls behaves. This is distinct from RuntimeOptions, which governs
// the mechanics of concurrent dispatch (timeouts, retries, parallelism);
// ToolConfigSpec governs which tools are visible to the model at all.
type ToolConfigSpec struct {
	// Allow lists tool names/patterns visible to the model, evaluated
	// through internal/tools/policy. Empty means every registered tool
	// (including complete_task, which is always present regardless of
	// this list).
	Allow []string

	// Deny lists tool names/patterns hidden from the model even if Allow
	// would otherwise permit them.
	Deny []string

	// Approval configures which of the allowed tools still require a
	// human decision before executing.
	Approval *ApprovalPolicy
}

// PromptConfig carries the agent's system prompt and any fixed prefix
// messages seeded into every run before the caller's input.
type PromptConfig struct {
	// System is the system prompt template sent with every completion
	// request. ${input} placeholders are interpolated against the run's
	// inputs plus the derived ${directive} token.
	System string

	// Seed messages are prepended to the conversation ahead of the
	// caller-supplied input, e.g. few-shot examples.
	Seed []CompletionMessage

	// Query is the template for the first user message, interpolated
	// against the run's inputs. When empty the run opens with the literal
	// "Get Started!".
	Query string

	// Directive, if set, is substituted for the ${directive} token in the
	// system template.
	Directive string

	// Reminder, if set, is appended to the final user message of every
	// send on the local adapter path only. It is never persisted into the
	// conversation history.
	Reminder string
}

// InputSpec declares one named string input an agent run accepts.
type InputSpec struct {
	Name        string
	Description string
	Required    bool
}

// OutputSpec declares the single named output field an agent run returns
// through complete_task. When present, complete_task's one required
// parameter is named Name and validated against Schema.
type OutputSpec struct {
	Name        string
	Description string

	// Schema is a JSON Schema the output value must satisfy.
	Schema json.RawMessage

	compiled *jsonschema.Schema
}

// Compile parses the output schema once so per-call validation doesn't
// re-parse it. Called from Validate; safe to call repeatedly.
func (o *OutputSpec) Compile() error {
	if o.compiled != nil {
		return nil
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("output.json", strings.NewReader(string(o.Schema))); err != nil {
		return fmt.Errorf("output spec %q: %w", o.Name, err)
	}
	s, err := c.Compile("output.json")
	if err != nil {
		return fmt.Errorf("output spec %q: %w", o.Name, err)
	}
	o.compiled = s
	return nil
}

// ValidateValue checks a decoded output value against the compiled schema.
func (o *OutputSpec) ValidateValue(v any) error {
	if o.compiled == nil {
		if err := o.Compile(); err != nil {
			return err
		}
	}
	return o.compiled.Validate(v)
}

// AgentDefinition is the immutable configuration for one agent: what model
// it talks to, which tools it may call, how long it may run, and what its
// system prompt is. A definition is resolved once at invocation time and
// never mutated over the course of a run; the turn state machine treats it
// as read-only.
type AgentDefinition struct {
	// Name identifies the agent definition for logging and for
	// constructing nested agent-ids (see NewAgentID).
	Name string

	// DisplayName is the human-facing name shown in activity output.
	DisplayName string

	// Description tells a parent agent what this one is for, so it can
	// decide whether to delegate to it.
	Description string

	// Inputs declares the named string inputs a run accepts. Required
	// inputs missing at Run time fail before the first model call.
	Inputs []InputSpec

	// Output, when non-nil, declares the single structured output field
	// the run must produce through complete_task.
	Output *OutputSpec

	// ProcessOutput, when non-nil, post-processes the validated output
	// before it becomes the run's final result. The returned string is
	// used verbatim.
	ProcessOutput func(output string) string

	Model  ModelConfig
	Tools  ToolConfigSpec
	Run    RunConfig
	Prompt PromptConfig
}

// Validate checks internal consistency of the definition: model config
// validity, run config bounds, and the summarize/adapter compatibility
// constraint. It does not check that named tools exist in any particular
// registry; that's resolved at invocation time against the registry the
// caller supplies.
func (d *AgentDefinition) Validate() error {
	if d == nil {
		return fmt.Errorf("agent definition is nil")
	}
	if d.Name == "" {
		return fmt.Errorf("agent definition: name is required")
	}
	if err := d.Model.validate(); err != nil {
		return err
	}
	if err := d.Run.validate(d.Model.Adapter); err != nil {
		return err
	}
	seen := make(map[string]bool, len(d.Inputs))
	for _, in := range d.Inputs {
		if in.Name == "" {
			return fmt.Errorf("agent definition %q: input with empty name", d.Name)
		}
		if strings.TrimSpace(in.Description) == "" {
			return fmt.Errorf("agent definition %q: input %q has no description", d.Name, in.Name)
		}
		if seen[in.Name] {
			return fmt.Errorf("agent definition %q: duplicate input %q", d.Name, in.Name)
		}
		seen[in.Name] = true
	}
	if d.Output != nil {
		if d.Output.Name == "" {
			return fmt.Errorf("agent definition %q: output spec has no field name", d.Name)
		}
		if len(d.Output.Schema) == 0 {
			return fmt.Errorf("agent definition %q: output %q has no schema", d.Name, d.Output.Name)
		}
		if err := d.Output.Compile(); err != nil {
			return fmt.Errorf("agent definition %q: %w", d.Name, err)
		}
	}
	if strings.TrimSpace(d.Prompt.System) == "" && len(d.Prompt.Seed) == 0 {
		return fmt.Errorf("agent definition %q: prompt config needs a system prompt or seed messages", d.Name)
	}
	return nil
}

// CheckInputs verifies that every required input is present and that no
// unknown input was supplied. Unknown inputs are rejected so a typo in a
// caller doesn't silently leave a template placeholder unfilled.
func (d *AgentDefinition) CheckInputs(inputs map[string]string) error {
	declared := make(map[string]bool, len(d.Inputs))
	for _, in := range d.Inputs {
		declared[in.Name] = true
		if in.Required {
			if _, ok := inputs[in.Name]; !ok {
				return fmt.Errorf("agent %q: missing required input %q", d.Name, in.Name)
			}
		}
	}
	for name := range inputs {
		if !declared[name] {
			return fmt.Errorf("agent %q: unknown input %q", d.Name, name)
		}
	}
	return nil
}

// Interpolate substitutes ${name} placeholders in tmpl with the matching
// values. Placeholders with no matching value are left untouched, which
// also makes interpolation idempotent for inputs whose values don't
// themselves contain placeholders.
func Interpolate(tmpl string, values map[string]string) string {
	if len(values) == 0 || !strings.Contains(tmpl, "${") {
		return tmpl
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(values)*2)
	for _, k := range keys {
		pairs = append(pairs, "${"+k+"}", values[k])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// MaxNestingDepth returns the effective nesting depth cap for this
// definition's subtree.
func (d *AgentDefinition) MaxNestingDepth() int {
	return d.Run.nestingDepth()
}

// TimeBudget returns the wall-clock duration a run under this definition
// is allowed before it must stop or enter recovery.
func (d *AgentDefinition) TimeBudget() time.Duration {
	return d.Run.timeBudget()
}
