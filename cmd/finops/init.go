// Package main provides the init command.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/finops/cli/internal/config"
	"github.com/finops/cli/internal/ui"
)

// initCmd creates the .finops/ workspace.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a .finops/ workspace in the current directory",
	Long: `Create .finops/config.yaml in the current directory.

The workspace stores project settings and the session history, so
commands run anywhere below it share the active session.

EXAMPLES:
  finops init
  finops init --name "ACME SG" --transport websocket`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().String("name", "", "Project name (default: directory name)")
	initCmd.Flags().Bool("force", false, "Overwrite an existing config")
}

func runInit(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}
	path := filepath.Join(workDir, config.ProjectDir, config.ProjectFile)

	if _, err := os.Stat(path); err == nil {
		if force, _ := cmd.Flags().GetBool("force"); !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name = filepath.Base(workDir)
	}
	cfg := &config.ProjectConfig{
		Project: config.Project{Name: name},
		Stream:  config.StreamConfig{Transport: string(transportFlag)},
		Watch: config.WatchConfig{
			Patterns: config.DefaultWatchPatterns,
			Debounce: config.DefaultWatchDebounce,
		},
	}
	if cfg.Stream.Transport == "" {
		cfg.Stream.Transport = config.TransportSSE
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.WriteProjectConfig(path, cfg); err != nil {
		return err
	}

	ui.PrintSuccess("Created %s", filepath.Join(config.ProjectDir, config.ProjectFile))
	ui.PrintDim("Session history will be kept in %s", filepath.Join(config.ProjectDir, config.SessionsFile))
	ui.Println()
	ui.PrintInfo("Next: finops upload <files...>")
	return nil
}
