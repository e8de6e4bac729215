// Package main provides the sessions commands.
package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/finops/cli/internal/api"
	"github.com/finops/cli/internal/ui"
)

// sessionsCmd is the parent command for session operations.
var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session"},
	Short:   "List and manage cash-report sessions",
	Long: `List and manage cash-report sessions.

The active session is the one upload, settle, open-new and download use
when --session is not given. It is tracked in .finops/sessions.json.

COMMANDS:
  list    - List sessions on the backend
  status  - Show a session's state
  use     - Make a session active
  reset   - Clear a session's results, keeping its uploads
  delete  - Delete a session`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsStatusCmd = &cobra.Command{
	Use:   "status [session]",
	Short: "Show a session's state",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSessionsStatus,
}

var sessionsUseCmd = &cobra.Command{
	Use:   "use <session>",
	Short: "Make a session active",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsUse,
}

var sessionsResetCmd = &cobra.Command{
	Use:   "reset [session]",
	Short: "Clear a session's results, keeping its uploads",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessionsDestructive(cmd, args, "reset", func(env *cliEnv, id string) error {
			if err := env.client.ResetSession(cmd.Context(), id); err != nil {
				return err
			}
			env.history.RecordOutcome(id, "reset", "idle")
			return nil
		})
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete [session]",
	Short: "Delete a session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessionsDestructive(cmd, args, "delete", func(env *cliEnv, id string) error {
			if err := env.client.DeleteSession(cmd.Context(), id); err != nil {
				return err
			}
			env.history.Remove(id)
			return nil
		})
	},
}

func init() {
	sessionsStatusCmd.Flags().Bool("copy", false, "Copy the session ID to the clipboard")
	sessionsResetCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
	sessionsDeleteCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsStatusCmd)
	sessionsCmd.AddCommand(sessionsUseCmd)
	sessionsCmd.AddCommand(sessionsResetCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}

func sessionArg(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return ""
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	ui.StartSpinner("Loading sessions…")
	list, err := env.client.ListSessions(cmd.Context())
	ui.StopSpinner()
	if err != nil {
		return err
	}

	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return printJSON(list)
	}
	if len(list.Sessions) == 0 {
		ui.PrintInfo("No sessions yet. Run 'finops upload <files...>' to start one.")
		return nil
	}

	table := ui.NewTable("", "SESSION", "STATUS", "FILES", "CREATED")
	table.SetMaxWidth(1, 36)
	for _, s := range list.Sessions {
		marker := ""
		if s.ID == env.history.Active {
			marker = "*"
		}
		table.AddRow(marker, s.ID, s.Status, strconv.Itoa(len(s.Files)), s.CreatedAt)
	}
	table.Render()
	return nil
}

func runSessionsStatus(cmd *cobra.Command, args []string) error {
	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	id, err := env.resolveSession(sessionArg(args))
	if err != nil {
		return err
	}

	ui.StartSpinner("Loading session…")
	session, err := env.client.GetSessionStatus(cmd.Context(), id)
	ui.StopSpinner()
	if err != nil {
		return err
	}

	if copyID, _ := cmd.Flags().GetBool("copy"); copyID {
		if err := clipboard.WriteAll(session.ID); err != nil {
			ui.PrintWarning("Could not copy to clipboard: %v", err)
		} else {
			ui.PrintDim("Session ID copied to clipboard")
		}
	}

	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return printJSON(session)
	}
	printSession(env, session)
	return nil
}

func printSession(env *cliEnv, s *api.Session) {
	ui.PrintInfo("Session %s", s.ID)
	ui.PrintKeyValue("Status", s.Status)
	ui.PrintKeyValue("Created", s.CreatedAt)
	if s.UpdatedAt != "" {
		ui.PrintKeyValue("Updated", s.UpdatedAt)
	}
	if len(s.Files) > 0 {
		ui.PrintKeyValue("Files", strings.Join(s.Files, ", "))
	}
	ui.PrintKeyValue("Transactions", strconv.Itoa(s.Transactions))
	ui.PrintKeyValue("Settlement", doneMark(s.HasSettlement))
	ui.PrintKeyValue("Open new", doneMark(s.HasOpenNew))
	ui.PrintKeyValue("Reconcile", doneMark(s.HasReconcile))
	if rec, ok := env.history.Find(s.ID); ok && rec.LastAction != "" {
		ui.PrintKeyValue("Last run", fmt.Sprintf("%s (%s)", rec.LastAction, rec.LastOutcome))
	}
}

func doneMark(done bool) string {
	if done {
		return "✓"
	}
	return "-"
}

func runSessionsUse(cmd *cobra.Command, args []string) error {
	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	if env.root == "" {
		return fmt.Errorf("no .finops/ workspace here; run 'finops init' first")
	}
	id, err := env.resolveSession(args[0])
	if err != nil {
		return err
	}
	if _, err := env.client.GetSessionStatus(cmd.Context(), id); err != nil {
		return err
	}
	env.history.Touch(id, nil, nowFunc())
	env.saveHistory()
	ui.PrintSuccess("Active session: %s", id)
	return nil
}

func runSessionsDestructive(cmd *cobra.Command, args []string, verb string, do func(*cliEnv, string) error) error {
	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	id, err := env.resolveSession(sessionArg(args))
	if err != nil {
		return err
	}

	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		ok, err := ui.PromptConfirm(fmt.Sprintf("%s session %s?", strings.ToUpper(verb[:1])+verb[1:], id), false)
		if err != nil {
			return fmt.Errorf("%w (pass --yes to skip the prompt)", err)
		}
		if !ok {
			ui.PrintInfo("Cancelled")
			return nil
		}
	}

	if err := do(env, id); err != nil {
		return err
	}
	env.saveHistory()
	ui.PrintSuccess("Session %s: %s done", id, verb)
	return nil
}
