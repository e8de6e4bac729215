// Package main provides the upload and inspect commands.
package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/finops/cli/internal/api"
	"github.com/finops/cli/internal/jobs"
	"github.com/finops/cli/internal/preflight"
	"github.com/finops/cli/internal/ui"
)

// uploadCmd uploads statements into a session.
var uploadCmd = &cobra.Command{
	Use:   "upload <files...>",
	Short: "Upload bank statements and follow parsing",
	Long: `Upload bank statements into a cash-report session and follow parsing live.

Files are checked locally first (type, size, PDF page count, ZIP contents).
Without --session the active session is used; --new starts a fresh one.

EXAMPLES:
  finops upload statements/*.pdf
  finops upload --new hsbc-2026-03.pdf dbs-2026-03.zip
  finops upload --session march ocbc.csv --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

// inspectCmd checks files without uploading them.
var inspectCmd = &cobra.Command{
	Use:   "inspect <files...>",
	Short: "Check statements locally before upload",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runInspect,
}

func init() {
	uploadCmd.Flags().StringP("session", "s", "", "Session ID or alias (default: active session)")
	uploadCmd.Flags().Bool("new", false, "Start a new session")
	uploadCmd.Flags().Bool("skip-inspect", false, "Upload without checking files locally")
}

func runUpload(cmd *cobra.Command, args []string) error {
	opts := outputFlags(cmd)

	if skip, _ := cmd.Flags().GetBool("skip-inspect"); !skip {
		reports, err := preflight.InspectAll(args)
		if err != nil {
			return err
		}
		if !opts.json {
			for _, r := range reports {
				ui.PrintDim("  %s  %s", r.Name, r.Summary())
				if r.Encrypted {
					ui.PrintWarning("%s is password-protected; the backend needs its password on file", r.Name)
				}
			}
		}
	}

	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	sessionID, err := uploadSession(cmd, env)
	if err != nil {
		return err
	}

	names := make([]string, len(args))
	for i, p := range args {
		names[i] = filepath.Base(p)
	}
	env.history.Touch(sessionID, names, nowFunc())
	if !opts.json {
		ui.PrintInfo("Uploading %d file(s) to session %s", len(args), sessionID)
	}

	_, err = runJob(cmd.Context(), env, sessionID, uploadJob(sessionID, args), opts)
	return err
}

// uploadSession picks the session of an upload: --new, --session, the
// active session, or a new one when nothing is active.
func uploadSession(cmd *cobra.Command, env *cliEnv) (string, error) {
	if fresh, _ := cmd.Flags().GetBool("new"); fresh {
		return jobs.NewSessionID(), nil
	}
	flag, _ := cmd.Flags().GetString("session")
	if flag == "" && env.history.Active == "" {
		return jobs.NewSessionID(), nil
	}
	return env.resolveSession(flag)
}

func uploadJob(sessionID string, paths []string) jobSpec {
	return jobSpec{
		kind:      api.ProgressUpload,
		title:     "Upload",
		summarize: jobs.SummarizeUpload,
		run: func(ctx context.Context, svc *jobs.Service) (jobs.Outcome, error) {
			return svc.Upload(ctx, sessionID, paths)
		},
	}
}

func runInspect(cmd *cobra.Command, args []string) error {
	reports, err := preflight.InspectAll(args)
	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		if printErr := printJSON(reports); printErr != nil {
			return printErr
		}
		return err
	}

	table := ui.NewTable("FILE", "KIND", "SIZE", "DETAILS")
	table.SetMaxWidth(0, 40)
	for _, r := range reports {
		details := ""
		switch {
		case r.Encrypted:
			details = "encrypted"
		case r.Pages > 0:
			details = fmt.Sprintf("%d pages", r.Pages)
		case r.Entries > 0:
			details = fmt.Sprintf("%d files", r.Entries)
		}
		table.AddRow(r.Name, string(r.Kind), preflight.HumanSize(r.Size), details)
	}
	if len(reports) > 0 {
		table.Render()
	}
	if err != nil {
		return err
	}
	ui.PrintSuccess("%d file(s) ready to upload", len(reports))
	return nil
}
