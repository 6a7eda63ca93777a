package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"daftar/internal/tools"
)

var toolArgsJSON string

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Inspect and invoke the host-callable tool surface",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		registry, err := buildRegistry(a)
		if err != nil {
			return err
		}
		return printJSON(registry.Names())
	},
}

var toolsCallCmd = &cobra.Command{
	Use:   "call <name>",
	Short: "Execute a tool with JSON arguments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		registry, err := buildRegistry(a)
		if err != nil {
			return err
		}

		toolArgs := map[string]any{}
		if toolArgsJSON != "" {
			if err := json.Unmarshal([]byte(toolArgsJSON), &toolArgs); err != nil {
				return fmt.Errorf("invalid --args JSON: %w", err)
			}
		}

		result, err := registry.Execute(cmd.Context(), args[0], toolArgs)
		if err != nil {
			return err
		}
		fmt.Println(result.Result)
		return nil
	},
}

// buildRegistry assembles the full tool surface over the app's engine.
func buildRegistry(a *app) (*tools.Registry, error) {
	registry := tools.NewRegistry()
	tools.RegisterMemoryTools(registry, a.memory)

	files, err := tools.NewFilesTool(a.cfg.Files.Dir, a.log)
	if err != nil {
		return nil, err
	}
	tools.RegisterFileTools(registry, files)
	return registry, nil
}

func init() {
	toolsCallCmd.Flags().StringVar(&toolArgsJSON, "args", "", "tool arguments as a JSON object")
	toolsCmd.AddCommand(toolsListCmd, toolsCallCmd)
	rootCmd.AddCommand(toolsCmd)
}
