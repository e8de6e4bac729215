// Package main provides shared helper functions for CLI commands.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/finops/cli/internal/api"
	"github.com/finops/cli/internal/auth"
	"github.com/finops/cli/internal/config"
	"github.com/finops/cli/internal/jobs"
	"github.com/finops/cli/internal/ui"
)

// nowFunc is the clock used for session history timestamps.
var nowFunc = time.Now

// errReported marks errors whose message was already shown, so Execute only
// sets the exit status.
var errReported = errors.New("reported")

// reported wraps err so Execute does not print it again.
func reported(err error) error {
	return fmt.Errorf("%w: %w", errReported, err)
}

// transportValue is the --transport flag.
type transportValue string

var _ pflag.Value = (*transportValue)(nil)

// transportFlag holds --transport; empty means the project default.
var transportFlag transportValue

func (t *transportValue) String() string { return string(*t) }

func (t *transportValue) Set(s string) error {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case config.TransportSSE:
		*t = config.TransportSSE
	case config.TransportWebSocket, "ws":
		*t = config.TransportWebSocket
	default:
		return fmt.Errorf("must be %q or %q", config.TransportSSE, config.TransportWebSocket)
	}
	return nil
}

func (t *transportValue) Type() string { return "transport" }

// outputOpts are the global output flags of a command.
type outputOpts struct {
	json    bool
	quiet   bool
	verbose bool
	noTUI   bool
}

func outputFlags(cmd *cobra.Command) outputOpts {
	var o outputOpts
	o.json, _ = cmd.Flags().GetBool("json")
	o.quiet, _ = cmd.Flags().GetBool("quiet")
	o.verbose, _ = cmd.Flags().GetBool("verbose")
	o.noTUI, _ = cmd.Flags().GetBool("no-tui")
	return o
}

// cliEnv is what backend commands share: an authenticated client, the
// nearest project config and the workspace session history.
type cliEnv struct {
	client  *api.Client
	project *config.ProjectConfig

	// root is the workspace root; "" outside a workspace, where the history
	// is kept in memory only.
	root    string
	history *config.SessionHistory

	transport string
	logger    *log.Logger
}

// loadEnv resolves credentials, project config and session history.
//
// Parameters:
//   - cmd: The running command, for --dev and --transport
//
// Returns:
//   - *cliEnv: The environment
//   - error: Not authenticated, or a broken config or history file
func loadEnv(cmd *cobra.Command) (*cliEnv, error) {
	apiKey, err := auth.NewManager().RequireAPIKey()
	if err != nil {
		return nil, err
	}

	workDir, err := os.Getwd()
	if err != nil {
		workDir = "."
	}
	project, _, err := config.LoadNearestProjectConfig(workDir)
	if err != nil {
		return nil, err
	}

	env := &cliEnv{
		project:   project,
		history:   &config.SessionHistory{},
		transport: project.TransportOrDefault(),
		logger:    log.Default(),
	}
	if transportFlag != "" {
		env.transport = string(transportFlag)
	}

	if root, err := config.FindWorkspaceRoot(workDir); err == nil {
		env.root = root
		if env.history, err = config.LoadSessionHistory(root); err != nil {
			return nil, err
		}
	}

	devMode, _ := cmd.Flags().GetBool("dev")
	env.client = api.NewClientWithBaseURL(apiKey, config.ResolveBackendURL(project, devMode))
	if project != nil {
		env.client.SetProgressPrefix(project.Stream.PathPrefix)
		if project.Defaults.Timeout > 0 {
			env.client.SetJobTimeout(time.Duration(project.Defaults.Timeout) * time.Second)
		}
	}
	log.Debug("backend", "url", env.client.BaseURL(), "transport", env.transport)
	return env, nil
}

// service builds a job service on the configured transport.
func (e *cliEnv) service(opts ...jobs.ServiceOption) (*jobs.Service, error) {
	dial, err := jobs.TransportDialer(e.transport, e.logger)
	if err != nil {
		return nil, err
	}
	opts = append([]jobs.ServiceOption{jobs.WithDialer(dial), jobs.WithLogger(e.logger)}, opts...)
	return jobs.NewService(e.client, opts...), nil
}

// resolveSession maps --session (ID or alias) onto a session ID, falling
// back to the active session.
func (e *cliEnv) resolveSession(flag string) (string, error) {
	id, err := e.history.ResolveActive(e.project.ResolveSession(flag))
	if err != nil {
		return "", err
	}
	if !jobs.ValidSessionID(id) {
		return "", fmt.Errorf("invalid session id %q", id)
	}
	return id, nil
}

// saveHistory persists the session history inside a workspace.
func (e *cliEnv) saveHistory() {
	if e.root == "" {
		log.Debug("no .finops/ workspace; session history not saved")
		return
	}
	if err := e.history.Save(e.root); err != nil {
		ui.PrintWarning("%v", err)
	}
}

// printJSON writes v as indented JSON to the UI output.
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	ui.PrintRaw(string(data))
	return nil
}

// validateLookupDate accepts "" or a YYYY-MM-DD date.
func validateLookupDate(s string) error {
	if s == "" {
		return nil
	}
	if _, err := time.Parse(time.DateOnly, s); err != nil {
		return fmt.Errorf("invalid --lookup-date %q: expected YYYY-MM-DD", s)
	}
	return nil
}
