// Package main provides the settlement, open-new, reconcile, preview and
// download commands.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/finops/cli/internal/api"
	"github.com/finops/cli/internal/jobs"
	"github.com/finops/cli/internal/ui"
)

// settleCmd runs settlement automation.
var settleCmd = &cobra.Command{
	Use:   "settle",
	Short: "Run settlement automation and follow its steps",
	Long: `Run settlement automation for a session and follow its steps live.

EXAMPLES:
  finops settle
  finops settle --session march --lookup-date 2026-03-31
  finops settle --dry-run --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorkflow(cmd, api.ProgressSettlement, "Settlement", func(svc *jobs.Service) workflowRun {
			return svc.RunSettlement
		})
	},
}

// openNewCmd runs open-new automation.
var openNewCmd = &cobra.Command{
	Use:   "open-new",
	Short: "Run open-new automation and follow its steps",
	Long: `Run open-new automation for a session and follow its steps live.

EXAMPLES:
  finops open-new
  finops open-new --session march --lookup-date 2026-03-31`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorkflow(cmd, api.ProgressOpenNew, "Open new", func(svc *jobs.Service) workflowRun {
			return svc.RunOpenNew
		})
	},
}

// reconcileCmd runs reconciliation. It has no progress stream.
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile the cash report against the ledger",
	Args:  cobra.NoArgs,
	RunE:  runReconcile,
}

// previewCmd is the parent of the preview commands.
var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Preview what settlement or open-new would change",
}

var previewSettlementCmd = &cobra.Command{
	Use:   "settlement",
	Short: "Preview settlement matches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPreview(cmd, "settlement", (*api.Client).PreviewSettlement)
	},
}

var previewOpenNewCmd = &cobra.Command{
	Use:   "open-new",
	Short: "Preview new entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPreview(cmd, "open-new", (*api.Client).PreviewOpenNew)
	},
}

// downloadCmd saves the cash report workbook.
var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download the cash report workbook",
	Long: `Download the session's cash report workbook.

EXAMPLES:
  finops download
  finops download --session march -o reports/march.xlsx`,
	Args: cobra.NoArgs,
	RunE: runDownload,
}

func init() {
	for _, c := range []*cobra.Command{settleCmd, openNewCmd} {
		c.Flags().StringP("session", "s", "", "Session ID or alias (default: active session)")
		c.Flags().String("lookup-date", "", "Only consider transactions up to this date (YYYY-MM-DD)")
		c.Flags().Bool("dry-run", false, "Compute the result without writing the report")
	}
	for _, c := range []*cobra.Command{reconcileCmd, previewSettlementCmd, previewOpenNewCmd, downloadCmd} {
		c.Flags().StringP("session", "s", "", "Session ID or alias (default: active session)")
	}
	downloadCmd.Flags().StringP("output", "o", "", "Output path (default: the server's file name)")
	downloadCmd.Flags().Bool("force", false, "Overwrite an existing file")

	previewCmd.AddCommand(previewSettlementCmd)
	previewCmd.AddCommand(previewOpenNewCmd)
}

type workflowRun func(ctx context.Context, sessionID string, opts *api.ActionOptions) (jobs.Outcome, error)

func runWorkflow(cmd *cobra.Command, kind api.ProgressKind, title string, pick func(*jobs.Service) workflowRun) error {
	lookupDate, _ := cmd.Flags().GetString("lookup-date")
	if err := validateLookupDate(lookupDate); err != nil {
		return err
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	flag, _ := cmd.Flags().GetString("session")
	sessionID, err := env.resolveSession(flag)
	if err != nil {
		return err
	}
	env.history.Touch(sessionID, nil, nowFunc())

	actionOpts := &api.ActionOptions{LookupDate: lookupDate, DryRun: dryRun}
	_, err = runJob(cmd.Context(), env, sessionID, jobSpec{
		kind:      kind,
		title:     title,
		summarize: jobs.SummarizeWorkflow,
		run: func(ctx context.Context, svc *jobs.Service) (jobs.Outcome, error) {
			return pick(svc)(ctx, sessionID, actionOpts)
		},
	}, outputFlags(cmd))
	return err
}

func runReconcile(cmd *cobra.Command, args []string) error {
	env, sessionID, err := sessionEnv(cmd)
	if err != nil {
		return err
	}
	opts := outputFlags(cmd)

	ui.StartSpinner("Reconciling…")
	result, err := env.client.RunReconcile(cmd.Context(), sessionID)
	ui.StopSpinner()

	outcome := "done"
	if err != nil {
		outcome = "failed"
	}
	env.history.RecordOutcome(sessionID, "reconcile", outcome)
	env.saveHistory()

	if err != nil {
		return err
	}
	if opts.json {
		return printJSON(json.RawMessage(result))
	}
	ui.PrintSuccess("Reconcile: %s", jobs.SummarizeWorkflow(result))
	return nil
}

func runPreview(cmd *cobra.Command, what string, fetch func(*api.Client, context.Context, string) (json.RawMessage, error)) error {
	env, sessionID, err := sessionEnv(cmd)
	if err != nil {
		return err
	}

	ui.StartSpinner("Loading " + what + " preview…")
	result, err := fetch(env.client, cmd.Context(), sessionID)
	ui.StopSpinner()
	if err != nil {
		return err
	}

	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return printJSON(json.RawMessage(result))
	}
	renderPreview(result)
	return nil
}

// renderPreview prints the first array of objects in a preview as a table,
// or the whole document when it has none.
func renderPreview(result json.RawMessage) {
	doc := gjson.ParseBytes(result)

	var rows gjson.Result
	doc.ForEach(func(key, value gjson.Result) bool {
		if value.IsArray() && value.Get("0").IsObject() {
			rows = value
			if m := doc.Get("message").String(); m != "" {
				ui.PrintInfo("%s", m)
			}
			ui.PrintDim("%s (%d)", key.String(), len(value.Array()))
			return false
		}
		return true
	})
	if !rows.Exists() {
		var buf bytes.Buffer
		if err := json.Indent(&buf, result, "", "  "); err != nil {
			ui.PrintRaw(string(result))
			return
		}
		ui.PrintRaw(buf.String())
		return
	}

	var headers []string
	rows.Get("0").ForEach(func(key, _ gjson.Result) bool {
		headers = append(headers, key.String())
		return true
	})
	titles := make([]string, len(headers))
	for i, h := range headers {
		titles[i] = strings.ToUpper(h)
	}
	table := ui.NewTable(titles...)
	for _, row := range rows.Array() {
		values := make([]string, len(headers))
		for i, h := range headers {
			values[i] = row.Get(gjson.Escape(h)).String()
		}
		table.AddRow(values...)
	}
	for i := range headers {
		table.SetMaxWidth(i, 32)
	}
	table.Render()
}

func runDownload(cmd *cobra.Command, args []string) error {
	env, sessionID, err := sessionEnv(cmd)
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")
	force, _ := cmd.Flags().GetBool("force")

	dir := "."
	if output != "" {
		dir = filepath.Dir(output)
	}
	tmp, err := os.CreateTemp(dir, ".finops-download-*")
	if err != nil {
		return fmt.Errorf("failed to create download file: %w", err)
	}
	defer os.Remove(tmp.Name())

	ui.StartSpinner("Downloading cash report…")
	name, n, err := env.client.DownloadResult(cmd.Context(), sessionID, tmp)
	ui.StopSpinner()
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	if output == "" {
		output = filepath.Base(name)
		if name == "" || output == "." || output == string(filepath.Separator) {
			output = fmt.Sprintf("cash-report-%s.xlsx", sessionID)
		}
	}
	if _, statErr := os.Stat(output); statErr == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", output)
	}
	if err := os.Rename(tmp.Name(), output); err != nil {
		return fmt.Errorf("failed to save %s: %w", output, err)
	}

	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return printJSON(map[string]interface{}{"session_id": sessionID, "path": output, "bytes": n})
	}
	ui.PrintSuccess("Saved %s (%d bytes)", output, n)
	return nil
}

// sessionEnv loads the environment and resolves --session.
func sessionEnv(cmd *cobra.Command) (*cliEnv, string, error) {
	env, err := loadEnv(cmd)
	if err != nil {
		return nil, "", err
	}
	flag, _ := cmd.Flags().GetString("session")
	sessionID, err := env.resolveSession(flag)
	if err != nil {
		return nil, "", err
	}
	return env, sessionID, nil
}
