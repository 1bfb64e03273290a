// Package config loads and validates the engine's configuration: provider
// credentials, tool defaults, observability settings, and the agent
// definitions a host may invoke. Files are YAML (or JSON5), support
// $include composition and ${ENV} expansion, and are validated fully at
// load so misconfiguration fails at startup rather than mid-run.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/subagent/internal/agent"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Version       int                 `yaml:"version"`
	Workspace     WorkspaceConfig     `yaml:"workspace"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Tools         ToolsConfig         `yaml:"tools"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Agents        []AgentConfig       `yaml:"agents"`
}

// WorkspaceConfig scopes filesystem tools.
type WorkspaceConfig struct {
	// Root is the directory filesystem tools may touch. Empty means the
	// current working directory.
	Root string `yaml:"root"`
}

// ProvidersConfig holds per-backend connection settings. A backend with no
// section is simply unavailable to agent definitions.
type ProvidersConfig struct {
	Anthropic *AnthropicProviderConfig `yaml:"anthropic"`
	OpenAI    *OpenAIProviderConfig    `yaml:"openai"`
	Bedrock   *BedrockProviderConfig   `yaml:"bedrock"`
	Google    *GoogleProviderConfig    `yaml:"google"`
	Ollama    *OllamaProviderConfig    `yaml:"ollama"`
}

// AnthropicProviderConfig configures the Anthropic chat adapter.
type AnthropicProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// OpenAIProviderConfig configures the OpenAI chat adapter.
type OpenAIProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
}

// BedrockProviderConfig configures the AWS Bedrock chat adapter.
type BedrockProviderConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	DefaultModel    string `yaml:"default_model"`
}

// GoogleProviderConfig configures the Google Gemini chat adapter.
type GoogleProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
}

// OllamaProviderConfig configures the local text-only chat adapter.
type OllamaProviderConfig struct {
	BaseURL      string        `yaml:"base_url"`
	DefaultModel string        `yaml:"default_model"`
	Timeout      time.Duration `yaml:"timeout"`
	DebugDumpDir string        `yaml:"debug_dump_dir"`
}

// ToolsConfig holds dispatch defaults and result guarding shared by every
// agent's tool registry.
type ToolsConfig struct {
	// MaxReadBytes caps single-file reads.
	MaxReadBytes int `yaml:"max_read_bytes"`

	// ExecTimeout bounds one shell command.
	ExecTimeout time.Duration `yaml:"exec_timeout"`

	// Parallelism caps concurrent tool execution within a turn.
	Parallelism int `yaml:"parallelism"`

	// ResultGuard controls redaction of tool output.
	ResultGuard ToolResultGuardConfig `yaml:"result_guard"`

	// WebSearch configures the web_search backend.
	WebSearch WebSearchToolConfig `yaml:"websearch"`

	// Memory configures memory_search / memory_get.
	Memory MemoryToolConfig `yaml:"memory"`
}

// WebSearchToolConfig selects and authenticates a search backend.
type WebSearchToolConfig struct {
	SearXNGURL  string `yaml:"searxng_url"`
	BraveAPIKey string `yaml:"brave_api_key"`
}

// MemoryToolConfig points the memory tools at their store.
type MemoryToolConfig struct {
	Directory  string `yaml:"directory"`
	MemoryFile string `yaml:"memory_file"`
}

// ToolResultGuardConfig controls redaction of tool results before they
// reach activity sinks or the conversation.
type ToolResultGuardConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MaxChars        int      `yaml:"max_chars"`
	Denylist        []string `yaml:"denylist"`
	RedactPatterns  []string `yaml:"redact_patterns"`
	SanitizeSecrets bool     `yaml:"sanitize_secrets"`
}

// Guard converts the YAML form to the engine's runtime type.
func (c ToolResultGuardConfig) Guard() agent.ToolResultGuard {
	return agent.ToolResultGuard{
		Enabled:         c.Enabled,
		MaxChars:        c.MaxChars,
		Denylist:        c.Denylist,
		RedactPatterns:  c.RedactPatterns,
		SanitizeSecrets: c.SanitizeSecrets,
	}
}

// AgentConfig is the serialized form of one agent definition.
type AgentConfig struct {
	Name        string            `yaml:"name"`
	DisplayName string            `yaml:"display_name"`
	Description string            `yaml:"description"`
	Model       AgentModelConfig  `yaml:"model"`
	Inputs      []AgentInput      `yaml:"inputs"`
	Output      *AgentOutput      `yaml:"output"`
	Run         AgentRunConfig    `yaml:"run"`
	Prompt      AgentPromptConfig `yaml:"prompt"`
	Tools       AgentToolsConfig  `yaml:"tools"`
}

// AgentModelConfig selects the backend, model, and adapter variant.
type AgentModelConfig struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	Adapter     string `yaml:"adapter"`
	MaxTokens   int    `yaml:"max_tokens"`
	Thinking    string `yaml:"thinking"`
	SchemaStyle string `yaml:"schema_style"`
}

// AgentInput declares one named string input.
type AgentInput struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
}

// AgentOutput declares the single structured output field.
type AgentOutput struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Schema      yaml.Node `yaml:"schema"`
}

// AgentRunConfig bounds a run.
type AgentRunConfig struct {
	MaxTurns        int  `yaml:"max_turns"`
	MaxTimeMinutes  int  `yaml:"max_time_minutes"`
	Summarize       bool `yaml:"summarize_tool_output"`
	MaxNestingDepth int  `yaml:"max_nesting_depth"`
}

// AgentPromptConfig carries the prompt templates.
type AgentPromptConfig struct {
	System    string `yaml:"system"`
	Query     string `yaml:"query"`
	Directive string `yaml:"directive"`
	Reminder  string `yaml:"reminder"`
}

// AgentToolsConfig names which tools the agent may call.
type AgentToolsConfig struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// Validate checks the whole tree, converting every agent definition so
// schema and bound errors surface at load.
func (c *Config) Validate() error {
	if err := ValidateVersion(c.Version); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Agents))
	for i := range c.Agents {
		ac := &c.Agents[i]
		if seen[ac.Name] {
			return fmt.Errorf("agents[%d]: duplicate agent name %q", i, ac.Name)
		}
		seen[ac.Name] = true
		if _, err := ac.ToDefinition(); err != nil {
			return fmt.Errorf("agents[%d] (%s): %w", i, ac.Name, err)
		}
		if c.Providers.section(ac.Model.Provider) == nil {
			return fmt.Errorf("agents[%d] (%s): provider %q is not configured", i, ac.Name, ac.Model.Provider)
		}
	}
	return nil
}

func (p ProvidersConfig) section(name string) any {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "anthropic":
		if p.Anthropic != nil {
			return p.Anthropic
		}
	case "openai":
		if p.OpenAI != nil {
			return p.OpenAI
		}
	case "bedrock":
		if p.Bedrock != nil {
			return p.Bedrock
		}
	case "google":
		if p.Google != nil {
			return p.Google
		}
	case "ollama":
		if p.Ollama != nil {
			return p.Ollama
		}
	}
	return nil
}

// ToDefinition converts the serialized agent into the engine's immutable
// definition, validating it in the process.
func (a *AgentConfig) ToDefinition() (*agent.AgentDefinition, error) {
	def := &agent.AgentDefinition{
		Name:        a.Name,
		DisplayName: a.DisplayName,
		Description: a.Description,
		Model: agent.ModelConfig{
			Provider:             a.Model.Provider,
			Model:                a.Model.Model,
			Adapter:              agent.AdapterKind(a.Model.Adapter),
			MaxTokens:            a.Model.MaxTokens,
			Thinking:             agent.ThinkingLevel(a.Model.Thinking),
			LocalToolSchemaStyle: a.Model.SchemaStyle,
		},
		Run: agent.RunConfig{
			MaxTurns:        a.Run.MaxTurns,
			MaxTimeMinutes:  a.Run.MaxTimeMinutes,
			Summarize:       a.Run.Summarize,
			MaxNestingDepth: a.Run.MaxNestingDepth,
		},
		Prompt: agent.PromptConfig{
			System:    a.Prompt.System,
			Query:     a.Prompt.Query,
			Directive: a.Prompt.Directive,
			Reminder:  a.Prompt.Reminder,
		},
		Tools: agent.ToolConfigSpec{
			Allow: a.Tools.Allow,
			Deny:  a.Tools.Deny,
		},
	}
	for _, in := range a.Inputs {
		def.Inputs = append(def.Inputs, agent.InputSpec{
			Name:        in.Name,
			Description: in.Description,
			Required:    in.Required,
		})
	}
	if a.Output != nil {
		schema, err := yamlNodeToJSON(&a.Output.Schema)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", a.Output.Name, err)
		}
		def.Output = &agent.OutputSpec{
			Name:        a.Output.Name,
			Description: a.Output.Description,
			Schema:      schema,
		}
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// yamlNodeToJSON re-encodes an inline YAML schema as JSON so it can be
// compiled as a JSON Schema.
func yamlNodeToJSON(node *yaml.Node) (json.RawMessage, error) {
	if node == nil || node.Kind == 0 {
		return nil, fmt.Errorf("schema is required")
	}
	var v any
	if err := node.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	raw, err := json.Marshal(normalizeYAML(v))
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	return raw, nil
}

// normalizeYAML rewrites map[any]any (yaml's historical map shape) into
// map[string]any for JSON encoding.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return v
	}
}

// Load reads, merges, decodes, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = CurrentVersion
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Tools.MaxReadBytes <= 0 {
		c.Tools.MaxReadBytes = 200000
	}
	if c.Tools.ExecTimeout <= 0 {
		c.Tools.ExecTimeout = 60 * time.Second
	}
	if c.Tools.Parallelism <= 0 {
		c.Tools.Parallelism = 4
	}
}
