// Package main is the CLI for the sub-agent execution engine: it loads a
// configuration file of agent definitions, runs one to completion against
// a chosen model backend, and renders the activity stream.
//
// # Basic Usage
//
// Run an agent:
//
//	subagentctl run researcher --config subagents.yaml --input topic="go generics"
//
// Validate a configuration file without running anything:
//
//	subagentctl validate --config subagents.yaml
//
// List the agents a config declares:
//
//	subagentctl agents --config subagents.yaml
//
// While a run is in flight, the first Ctrl-C delivers a soft interrupt:
// the agent pauses and the CLI prompts for replacement instructions. A
// second Ctrl-C (or an empty reply) aborts the run.
//
// # Environment Variables
//
//   - SUBAGENT_CONFIG: Path to the configuration file (default: subagents.yaml)
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY: provider keys,
//     referenced from the config file via ${VAR} expansion
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "subagentctl",
		Short:         "Run bounded, non-interactive sub-agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", defaultConfigPath(), "path to the configuration file")

	root.AddCommand(
		buildRunCmd(),
		buildScheduleCmd(),
		buildValidateCmd(),
		buildAgentsCmd(),
		buildSchemaCmd(),
		buildVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if path := os.Getenv("SUBAGENT_CONFIG"); path != "" {
		return path
	}
	return "subagents.yaml"
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "subagentctl %s (%s, built %s)\n", version, commit, date)
		},
	}
}
