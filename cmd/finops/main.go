// Package main provides the entry point for the finops CLI.
//
// The finops CLI uploads bank statements into cash-report sessions, runs the
// settlement and open-new automations, and follows their progress live.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/finops/cli/internal/telemetry"
	"github.com/finops/cli/internal/ui"
)

// Version information set at build time via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// shutdownTelemetry flushes the trace file, if one was opened.
var shutdownTelemetry = func(context.Context) error { return nil }

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:           "finops",
	Short:         "Cash reports from bank statements",
	Long:          ui.GetCondensedHelp(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		debug, _ := cmd.Flags().GetBool("debug")
		if debug {
			log.SetLevel(log.DebugLevel)
			log.Debug("Debug logging enabled")
		} else {
			log.SetLevel(log.WarnLevel)
		}

		quiet, _ := cmd.Flags().GetBool("quiet")
		ui.SetQuietMode(quiet)

		traceFile, _ := cmd.Flags().GetString("trace-file")
		if traceFile == "" {
			traceFile = os.Getenv(telemetry.EnvTraceFile)
		}
		shutdown, err := telemetry.Setup(traceFile, version)
		if err != nil {
			return err
		}
		shutdownTelemetry = shutdown
		return nil
	},
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM
// and maps errors to the exit status.
//
// This function also handles "did you mean" suggestions when users type
// commands in the wrong order (e.g., "finops settlement preview" instead of
// "finops preview settlement").
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if shutdownErr := shutdownTelemetry(context.Background()); shutdownErr != nil {
		log.Warn("failed to flush trace file", "err", shutdownErr)
	}
	if err == nil {
		return 0
	}

	if !errors.Is(err, errReported) {
		ui.PrintError("%v", err)
	}
	if errStr := err.Error(); strings.Contains(errStr, `unknown command "`) {
		start := strings.Index(errStr, `unknown command "`) + len(`unknown command "`)
		if end := strings.Index(errStr[start:], `"`); end != -1 {
			if suggestion, found := suggestCorrectCommand(errStr[start:start+end], os.Args[1:], rootCmd); found {
				printCommandSuggestion(suggestion)
			}
		}
	}
	return 1
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().Bool("dev", false, "Use the local development backend (reads PORT from .env files)")
	rootCmd.PersistentFlags().Bool("json", false, "Output results as JSON (where supported)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Show each step as it starts")
	rootCmd.PersistentFlags().Bool("no-tui", false, "Print plain progress lines instead of the live view")
	rootCmd.PersistentFlags().String("trace-file", "", "Append job spans as OTLP JSON lines to this file (or set "+telemetry.EnvTraceFile+")")
	rootCmd.PersistentFlags().Var(&transportFlag, "transport", "Progress stream transport: sse or websocket (default from .finops/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(settleCmd)
	rootCmd.AddCommand(openNewCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(replayServerCmd)
	rootCmd.AddCommand(mcpCmd)
}

// versionCmd shows version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		ui.PrintBanner(version)
		ui.PrintInfo("Version: %s", version)
		ui.PrintInfo("Commit: %s", commit)
		ui.PrintInfo("Built: %s", date)
	},
}

func main() {
	os.Exit(Execute())
}
