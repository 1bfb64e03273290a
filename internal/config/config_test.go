package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
version: 1
providers:
  anthropic:
    api_key: sk-ant-test
agents:
  - name: researcher
    description: Researches a topic with web tools.
    model:
      provider: anthropic
      model: claude-sonnet-4-20250514
      adapter: remote
    run:
      max_turns: 6
      max_time_minutes: 5
    prompt:
      system: You research things thoroughly.
      query: "Research: ${topic}"
    inputs:
      - name: topic
        description: What to research
        required: true
    tools:
      allow: [web_search, web_fetch]
`

func TestLoadMinimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load = %v", err)
	}
	if len(cfg.Agents) != 1 {
		t.Fatalf("agents = %d", len(cfg.Agents))
	}
	def, err := cfg.Agents[0].ToDefinition()
	if err != nil {
		t.Fatalf("ToDefinition = %v", err)
	}
	if def.Name != "researcher" || len(def.Inputs) != 1 {
		t.Errorf("definition = %+v", def)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("default log level = %q", cfg.Logging.Level)
	}
	if cfg.Tools.Parallelism != 4 {
		t.Errorf("default parallelism = %d", cfg.Tools.Parallelism)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(writeConfig(t, `
version: 1
serverz:
  host: nope
`))
	if err == nil {
		t.Fatal("unknown top-level field accepted")
	}
}

func TestLoadRejectsUnconfiguredProvider(t *testing.T) {
	bad := strings.Replace(minimalConfig, "provider: anthropic", "provider: ollama", 1)
	_, err := Load(writeConfig(t, bad))
	if err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadRejectsInvalidAgent(t *testing.T) {
	bad := strings.Replace(minimalConfig, "max_turns: 6", "max_turns: 0", 1)
	_, err := Load(writeConfig(t, bad))
	if err == nil || !strings.Contains(err.Error(), "max_turns") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadRejectsDuplicateAgents(t *testing.T) {
	dup := minimalConfig + `
  - name: researcher
    description: Duplicate.
    model:
      provider: anthropic
      model: claude-sonnet-4-20250514
      adapter: remote
    run:
      max_turns: 2
      max_time_minutes: 1
    prompt:
      system: Hi.
`
	_, err := Load(writeConfig(t, dup))
	if err == nil || !strings.Contains(err.Error(), "duplicate agent") {
		t.Fatalf("err = %v", err)
	}
}

func TestAgentOutputSchema(t *testing.T) {
	withOutput := strings.Replace(minimalConfig, "    tools:", `    output:
      name: Response
      schema:
        type: string
    tools:`, 1)
	cfg, err := Load(writeConfig(t, withOutput))
	if err != nil {
		t.Fatalf("Load = %v", err)
	}
	def, err := cfg.Agents[0].ToDefinition()
	if err != nil {
		t.Fatalf("ToDefinition = %v", err)
	}
	if def.Output == nil || def.Output.Name != "Response" {
		t.Fatalf("output = %+v", def.Output)
	}
	if err := def.Output.ValidateValue("ok"); err != nil {
		t.Errorf("schema rejects valid value: %v", err)
	}
	if err := def.Output.ValidateValue(12.0); err == nil {
		t.Error("schema accepted wrong type")
	}
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-ant-from-env")
	cfg, err := Load(writeConfig(t, strings.Replace(minimalConfig, "sk-ant-test", "${TEST_ANTHROPIC_KEY}", 1)))
	if err != nil {
		t.Fatalf("Load = %v", err)
	}
	if cfg.Providers.Anthropic.APIKey != "sk-ant-from-env" {
		t.Errorf("api key = %q", cfg.Providers.Anthropic.APIKey)
	}
}

func TestIncludeComposition(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "providers.yaml")
	if err := os.WriteFile(base, []byte(`
providers:
  anthropic:
    api_key: sk-ant-included
`), 0o644); err != nil {
		t.Fatal(err)
	}
	main := filepath.Join(dir, "config.yaml")
	body := `$include: providers.yaml
` + strings.Replace(minimalConfig, "providers:\n  anthropic:\n    api_key: sk-ant-test\n", "", 1)
	if err := os.WriteFile(main, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load = %v", err)
	}
	if cfg.Providers.Anthropic == nil || cfg.Providers.Anthropic.APIKey != "sk-ant-included" {
		t.Errorf("included provider missing: %+v", cfg.Providers.Anthropic)
	}
}
