// Package main provides the replay-server command.
package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/finops/cli/internal/replay"
	"github.com/finops/cli/internal/ui"
)

// demoScript is served when --script is not given.
const demoScript = `
delay: 400ms
rest_delay: 3s
streams:
  upload:
    frames:
      - {type: connected}
      - {type: step_start, step: read, message: "Reading statements"}
      - {type: step_update, step: parse, message: "Parsing", percentage: 20}
      - {type: step_update, step: parse, message: "Parsing", percentage: 60}
      - {type: step_update, step: parse, message: "Parsing", percentage: 100}
      - {type: step_complete, step: parse, message: "Statements parsed"}
  settlement:
    frames:
      - {type: connected}
      - {type: step_start, step: lookup}
      - {type: step_complete, step: lookup}
      - {type: step_start, step: match}
      - {type: step_complete, step: match}
      - {type: step_start, step: write}
      - {type: step_complete, step: write}
      - {type: complete, data: {rows_updated: 4, settled_count: 12}}
  open-new:
    frames:
      - {type: connected}
      - {type: step_start, step: lookup}
      - {type: error, message: "Lookup service unavailable"}
results:
  upload: {files_processed: 1, total_transactions_added: 42}
  settlement: {rows_updated: 4, settled_count: 12}
  reconcile: {message: "Ledger balanced"}
failures:
  open-new: {status: 502, detail: "Lookup service unavailable"}
download: "date,description,amount\n2026-03-01,Opening balance,1000.00\n"
`

// replayServerCmd serves scripted progress streams.
var replayServerCmd = &cobra.Command{
	Use:   "replay-server",
	Short: "Serve scripted progress streams for local testing",
	Long: `Serve a scripted backend that plays back progress streams and canned REST
results. Point the CLI at it with FINOPS_BACKEND_URL.

Without --script a demo scenario is served: upload and settlement succeed,
open-new fails.

EXAMPLES:
  finops replay-server --addr 127.0.0.1:8765
  FINOPS_BACKEND_URL=http://127.0.0.1:8765 FINOPS_API_KEY=dev finops settle --session demo`,
	Args: cobra.NoArgs,
	RunE: runReplayServer,
}

func init() {
	replayServerCmd.Flags().String("script", "", "Replay script (YAML)")
	replayServerCmd.Flags().String("addr", "127.0.0.1:8765", "Listen address")
}

func loadReplayScript(path string) (*replay.Script, error) {
	if path == "" {
		return replay.Parse([]byte(demoScript))
	}
	return replay.Load(path)
}

func runReplayServer(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("script")
	addr, _ := cmd.Flags().GetString("addr")

	script, err := loadReplayScript(path)
	if err != nil {
		return err
	}
	server := replay.NewServer(script)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Listen(addr) }()

	ui.PrintSuccess("Replay server on http://%s", addr)
	ui.PrintDim("export FINOPS_BACKEND_URL=http://%s", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("replay server stopped: %w", err)
	case <-cmd.Context().Done():
	}
	if err := server.Shutdown(); err != nil && err != context.Canceled {
		return err
	}
	ui.PrintDim("Replay server stopped")
	return nil
}
