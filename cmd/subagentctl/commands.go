package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/subagent/internal/config"
	"github.com/spf13/cobra"
)

func buildRunCmd() *cobra.Command {
	var inputs []string
	var quiet bool
	var traceFile string

	cmd := &cobra.Command{
		Use:   "run <agent>",
		Short: "Run a configured agent to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			inputMap, err := parseInputs(inputs)
			if err != nil {
				return err
			}
			return runAgent(cmd, cfg, args[0], inputMap, quiet, traceFile)
		},
	}
	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "agent input as name=value (repeatable)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print only the final result")
	cmd.Flags().StringVar(&traceFile, "trace", "", "write the activity stream to this JSONL file")
	return cmd
}

func buildValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d agents)\n", cfgPath, len(cfg.Agents))
			return nil
		},
	}
}

func buildAgentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the agents the configuration declares",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			agents := append([]config.AgentConfig{}, cfg.Agents...)
			sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
			for _, a := range agents {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s/%s  %s\n", a.Name, a.Model.Provider, a.Model.Model, a.Description)
			}
			return nil
		},
	}
}

func buildScheduleCmd() *cobra.Command {
	var inputs []string
	var spec string

	cmd := &cobra.Command{
		Use:   "schedule <agent>",
		Short: "Run a configured agent on a cron schedule until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			inputMap, err := parseInputs(inputs)
			if err != nil {
				return err
			}
			return runSchedule(cmd, cfg, args[0], spec, inputMap)
		},
	}
	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "agent input as name=value (repeatable)")
	cmd.Flags().StringVar(&spec, "cron", "@hourly", "cron expression for firings")
	return cmd
}

func buildSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration file's JSON Schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.JSONSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return nil
		},
	}
}

func parseInputs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid --input %q: expected name=value", pair)
		}
		out[strings.TrimSpace(name)] = value
	}
	return out, nil
}
