package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/haasonsaas/subagent/internal/agent"
	"github.com/haasonsaas/subagent/internal/agent/providers"
	"github.com/haasonsaas/subagent/internal/compaction"
	"github.com/haasonsaas/subagent/internal/config"
	"github.com/haasonsaas/subagent/internal/observability"
	"github.com/haasonsaas/subagent/internal/schedule"
	execTool "github.com/haasonsaas/subagent/internal/tools/exec"
	"github.com/haasonsaas/subagent/internal/tools/files"
	"github.com/haasonsaas/subagent/internal/tools/memorysearch"
	"github.com/haasonsaas/subagent/internal/tools/websearch"
	"github.com/haasonsaas/subagent/pkg/models"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// runAgent wires one run: providers from config, a fresh tool registry for
// the agent, the process-wide interrupt manager bound to Ctrl-C, and an
// event consumer that renders activity to stderr. Observer plugins ride
// the same activity stream: a stats collector always, a JSONL trace when
// requested.
func runAgent(cmd *cobra.Command, cfg *config.Config, name string, inputs map[string]string, quiet bool, traceFile string) error {
	var agentCfg *config.AgentConfig
	for i := range cfg.Agents {
		if cfg.Agents[i].Name == name {
			agentCfg = &cfg.Agents[i]
			break
		}
	}
	if agentCfg == nil {
		return fmt.Errorf("no agent named %q in the configuration (try `subagentctl agents`)", name)
	}
	def, err := agentCfg.ToDefinition()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	metrics := observability.NewMetrics()
	telemetry := observability.NewAgentTelemetry(metrics, logger)

	provider, err := resolveProvider(cfg, def.Model)
	if err != nil {
		return err
	}
	registry, err := buildRegistry(cfg, def)
	if err != nil {
		return err
	}

	interrupts := agent.NewInterruptManager()

	events := make(chan models.AgentEvent, 256)
	renderDone := make(chan struct{})
	go func() {
		defer close(renderDone)
		renderEvents(events, quiet)
	}()

	plugins := agent.NewPluginRegistry()
	stats := agent.NewStatsCollector(name)
	plugins.Use(agent.PluginFunc(stats.OnEvent))
	if traceFile != "" {
		trace, ferr := agent.NewTracePluginFile(traceFile, name)
		if ferr != nil {
			return ferr
		}
		defer trace.Close()
		plugins.Use(trace)
	}
	sink := agent.NewMultiSink(agent.NewChanSink(events), agent.NewPluginSink(plugins))

	opts := []agent.DriverOption{
		agent.WithTelemetry(telemetry),
		agent.WithEnvironmentContext(environmentContext(cfg.Workspace.Root)),
		agent.WithResultGuard(cfg.Tools.ResultGuard.Guard()),
	}
	if def.Model.Adapter == agent.AdapterRemote {
		summarizer := &compaction.ProviderSummarizer{Provider: provider, Model: def.Model.Model}
		opts = append(opts, agent.WithCompression(compaction.NewService(summarizer, nil)))
	}

	driver, err := agent.NewDriver(def, registry, provider, interrupts, sink, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	stopRouter := installInterruptRouter(ctx, interrupts)
	defer stopRouter()

	res, runErr := driver.Run(ctx, inputs)
	close(events)
	<-renderDone
	if runErr != nil {
		return runErr
	}

	if !quiet {
		run := stats.Stats()
		fmt.Fprintf(os.Stderr, "\n── %s (%d turns, %d tool calls, %d/%d tokens in/out, %s) ──\n",
			res.TerminationReason, res.TurnCount, run.ToolCalls,
			run.InputTokens, run.OutputTokens, run.WallTime.Round(time.Millisecond))
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Result)
	if res.TerminationReason != agent.ReasonGoal {
		return fmt.Errorf("run ended without reaching its goal: %s", res.TerminationReason)
	}
	return nil
}

// runSchedule fires the named agent on a cron schedule until SIGINT.
func runSchedule(cmd *cobra.Command, cfg *config.Config, name, spec string, inputs map[string]string) error {
	boundary, err := buildBoundary(cfg)
	if err != nil {
		return err
	}
	var found bool
	for i := range cfg.Agents {
		if cfg.Agents[i].Name == name {
			def, derr := cfg.Agents[i].ToDefinition()
			if derr != nil {
				return derr
			}
			if rerr := boundary.RegisterDefinition(def); rerr != nil {
				return rerr
			}
			found = true
		}
	}
	if !found {
		return fmt.Errorf("no agent named %q in the configuration", name)
	}

	events := make(chan models.AgentEvent, 256)
	go renderEvents(events, false)

	sched := schedule.NewScheduler(boundary, agent.NewChanSink(events), func(entry schedule.Entry, res *agent.RunResult, err error) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "firing failed: %v\n", err)
			return
		}
		fmt.Fprintf(os.Stderr, "firing finished: %s (%d turns)\n", res.TerminationReason, res.TurnCount)
	})
	if err := sched.Add(schedule.Entry{Spec: spec, Agent: name, Inputs: inputs}); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "scheduling %s (%s); Ctrl-C to stop\n", name, spec)
	sched.Start()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT)
	<-sigs
	sched.Stop()
	close(events)
	return nil
}

// buildBoundary wires an Invocation Boundary over the config's providers
// and tool registry builder.
func buildBoundary(cfg *config.Config) (*agent.Boundary, error) {
	return agent.NewBoundary(agent.NewInterruptManager(),
		func(mc agent.ModelConfig) (agent.LLMProvider, error) { return resolveProvider(cfg, mc) },
		func(def *agent.AgentDefinition) (*agent.ToolRegistry, error) { return buildRegistry(cfg, def) },
	)
}

// installInterruptRouter binds the operator's interrupt key. A first
// Ctrl-C routes a soft interrupt to the innermost agent, then prompts for
// replacement instructions on the terminal; a second Ctrl-C (or an empty
// reply) escalates to a hard abort.
func installInterruptRouter(ctx context.Context, interrupts *agent.InterruptManager) func() {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigs:
				if !interrupts.Interrupt("") {
					return // nothing running; let the process die normally
				}
				if term.IsTerminal(int(os.Stdin.Fd())) {
					go promptForSteering(interrupts)
				}
			}
		}
	}()

	return func() { signal.Stop(sigs) }
}

func promptForSteering(interrupts *agent.InterruptManager) {
	fmt.Fprint(os.Stderr, "\ninterrupted — new instructions (empty aborts): ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return
	}
	interrupts.ProvideInput(strings.TrimSpace(line))
}

// renderEvents draws the activity stream: thoughts and model text stream
// inline, tool lifecycle gets one line each.
func renderEvents(events <-chan models.AgentEvent, quiet bool) {
	if quiet {
		for range events {
		}
		return
	}
	for e := range events {
		switch e.Type {
		case models.AgentEventRunStarted:
			fmt.Fprintf(os.Stderr, "▶ %s\n", e.RunID)
		case models.AgentEventModelThought:
			if e.Stream != nil && e.Stream.Final != "" {
				fmt.Fprintf(os.Stderr, "  ⋯ %s\n", e.Stream.Final)
			}
		case models.AgentEventToolStarted:
			if e.Tool != nil {
				fmt.Fprintf(os.Stderr, "  ⚙ %s %s\n", e.Tool.Name, truncate(string(e.Tool.ArgsJSON), 100))
			}
		case models.AgentEventToolStdout:
			if e.Tool != nil {
				fmt.Fprint(os.Stderr, e.Tool.Chunk)
			}
		case models.AgentEventToolFinished:
			if e.Tool != nil {
				status := "ok"
				if !e.Tool.Success {
					status = "failed"
				}
				fmt.Fprintf(os.Stderr, "  ✔ %s %s (%s)\n", e.Tool.Name, status, e.Tool.Elapsed.Round(time.Millisecond))
			}
		case models.AgentEventInterrupted:
			fmt.Fprintln(os.Stderr, "  ⏸ interrupted")
		case models.AgentEventAwaitingInput:
			fmt.Fprintln(os.Stderr, "  ⏳ waiting for operator input")
		case models.AgentEventRunError:
			if e.Error != nil {
				fmt.Fprintf(os.Stderr, "  ✖ %s\n", e.Error.Message)
			}
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// resolveProvider maps a definition's model config to a concrete chat
// adapter using the configured credentials.
func resolveProvider(cfg *config.Config, mc agent.ModelConfig) (agent.LLMProvider, error) {
	switch strings.ToLower(mc.Provider) {
	case "anthropic":
		p := cfg.Providers.Anthropic
		if p == nil {
			return nil, fmt.Errorf("provider anthropic is not configured")
		}
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       p.APIKey,
			BaseURL:      p.BaseURL,
			DefaultModel: p.DefaultModel,
		})
	case "openai":
		p := cfg.Providers.OpenAI
		if p == nil {
			return nil, fmt.Errorf("provider openai is not configured")
		}
		return providers.NewOpenAIProvider(p.APIKey), nil
	case "bedrock":
		p := cfg.Providers.Bedrock
		if p == nil {
			return nil, fmt.Errorf("provider bedrock is not configured")
		}
		return providers.NewBedrockProvider(providers.BedrockConfig{
			Region:          p.Region,
			AccessKeyID:     p.AccessKeyID,
			SecretAccessKey: p.SecretAccessKey,
			SessionToken:    p.SessionToken,
			DefaultModel:    p.DefaultModel,
		})
	case "google":
		p := cfg.Providers.Google
		if p == nil {
			return nil, fmt.Errorf("provider google is not configured")
		}
		return providers.NewGoogleProvider(providers.GoogleConfig{
			APIKey:       p.APIKey,
			DefaultModel: p.DefaultModel,
		})
	case "ollama":
		p := cfg.Providers.Ollama
		if p == nil {
			return nil, fmt.Errorf("provider ollama is not configured")
		}
		return providers.NewOllamaProvider(providers.OllamaConfig{
			BaseURL:      p.BaseURL,
			DefaultModel: p.DefaultModel,
			Timeout:      p.Timeout,
			DebugDumpDir: p.DebugDumpDir,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", mc.Provider)
	}
}

// buildRegistry assembles the agent's private tool registry. Every
// non-interactive tool is registered; the definition's allow/deny policy
// decides which ones the model actually sees.
func buildRegistry(cfg *config.Config, def *agent.AgentDefinition) (*agent.ToolRegistry, error) {
	registry := agent.NewToolRegistry()

	workspace := cfg.Workspace.Root
	if workspace == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		workspace = cwd
	}

	fileCfg := files.Config{Workspace: workspace, MaxReadBytes: cfg.Tools.MaxReadBytes}
	registry.Register(files.NewReadTool(fileCfg))
	registry.Register(files.NewReadManyTool(fileCfg))
	registry.Register(files.NewListTool(fileCfg))
	registry.Register(files.NewGlobTool(fileCfg))
	registry.Register(files.NewGrepTool(fileCfg))

	manager := execTool.NewManager(workspace)
	registry.Register(execTool.NewExecTool("exec", manager))

	registry.Register(websearch.NewWebSearchTool(&websearch.Config{
		SearXNGURL:  cfg.Tools.WebSearch.SearXNGURL,
		BraveAPIKey: cfg.Tools.WebSearch.BraveAPIKey,
	}))
	registry.Register(websearch.NewWebFetchTool(nil))

	if cfg.Tools.Memory.Directory != "" || cfg.Tools.Memory.MemoryFile != "" {
		memCfg := &memorysearch.Config{
			Directory:     cfg.Tools.Memory.Directory,
			MemoryFile:    cfg.Tools.Memory.MemoryFile,
			WorkspacePath: workspace,
		}
		registry.Register(memorysearch.NewMemorySearchTool(memCfg))
		registry.Register(memorysearch.NewMemoryGetTool(memCfg))
	}

	return registry, nil
}

// environmentContext produces the block appended to every system prompt:
// working directory plus a shallow folder listing.
func environmentContext(workspace string) agent.EnvironmentContextFunc {
	return func(ctx context.Context, model string) string {
		root := workspace
		if root == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return ""
			}
			root = cwd
		}
		entries, err := os.ReadDir(root)
		if err != nil {
			return fmt.Sprintf("Working directory: %s", root)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			name := e.Name()
			if strings.HasPrefix(name, ".") {
				continue
			}
			if e.IsDir() {
				name += string(filepath.Separator)
			}
			names = append(names, name)
		}
		sort.Strings(names)
		const maxListed = 40
		if len(names) > maxListed {
			names = append(names[:maxListed], "…")
		}
		return fmt.Sprintf("Working directory: %s\nContents: %s", root, strings.Join(names, " "))
	}
}
