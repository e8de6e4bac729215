// Package main provides the watch command.
package main

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/finops/cli/internal/preflight"
	"github.com/finops/cli/internal/ui"
	"github.com/finops/cli/internal/watch"
)

// watchCmd uploads statements as they land in a directory.
var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Upload statements as they appear in a directory",
	Long: `Watch a directory and upload new or changed statements into a session.

Files are picked up once they stop changing for the debounce period
(watch.debounce in .finops/config.yaml, default 2s) and match watch.patterns
(default *.pdf, *.zip, *.csv, *.xlsx). Press Ctrl+C to stop.

EXAMPLES:
  finops watch ~/Downloads/statements
  finops watch inbox --session march --initial-scan`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringP("session", "s", "", "Session ID or alias (default: active session, or a new one)")
	watchCmd.Flags().Bool("initial-scan", false, "Upload files already in the directory")
}

func runWatch(cmd *cobra.Command, args []string) error {
	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	sessionID, err := uploadSession(cmd, env)
	if err != nil {
		return err
	}

	// The live view owns the terminal, so batches render as plain lines.
	opts := outputFlags(cmd)
	opts.noTUI = true

	handler := func(ctx context.Context, paths []string) error {
		reports, err := preflight.InspectAll(paths)
		if err != nil {
			ui.PrintWarning("Skipping batch: %v", err)
			return nil
		}
		names := make([]string, len(reports))
		for i, r := range reports {
			names[i] = r.Name
		}
		env.history.Touch(sessionID, names, nowFunc())
		ui.PrintInfo("Uploading %d file(s) to session %s", len(paths), sessionID)

		_, err = runJob(ctx, env, sessionID, uploadJob(sessionID, paths), opts)
		return err
	}

	watchOpts := []watch.Option{
		watch.WithLogger(env.logger),
		watch.WithPatterns(env.project.WatchPatterns()...),
		watch.WithDebounce(env.project.WatchDebounce()),
	}
	if initial, _ := cmd.Flags().GetBool("initial-scan"); initial {
		watchOpts = append(watchOpts, watch.WithInitialScan())
	}

	w, err := watch.New(args[0], handler, watchOpts...)
	if err != nil {
		return err
	}

	dir, _ := filepath.Abs(args[0])
	ui.PrintInfo("Watching %s (session %s). Press Ctrl+C to stop.", dir, sessionID)
	if err := w.Run(cmd.Context()); err != nil {
		return err
	}
	ui.PrintDim("Stopped watching")
	return nil
}
