// Package main provides auth commands for the finops CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/finops/cli/internal/api"
	"github.com/finops/cli/internal/auth"
	"github.com/finops/cli/internal/config"
	"github.com/finops/cli/internal/ui"
)

// authCmd is the parent command for authentication operations.
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage authentication",
	Long: `Manage authentication with the finops backend.

COMMANDS:
  login   - Store and validate your API key
  logout  - Remove stored credentials
  status  - Show current authentication status

CREDENTIALS:
  Credentials are stored in ~/.finops/credentials.json.
  FINOPS_API_KEY overrides them, e.g. in CI.`,
}

// authLoginCmd handles user authentication.
var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate with your API key",
	Long: `Authenticate with your API key.

WHAT IT DOES:
  1. Prompts for your API key (input is hidden)
  2. Validates the key against the backend
  3. Stores credentials in ~/.finops/credentials.json

EXAMPLES:
  finops auth login
  finops auth login --dev     # Validate against the local backend`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ui.PrintBanner(version)

		mgr := auth.NewManager()
		creds, err := mgr.GetCredentials()
		if err == nil && creds != nil && creds.APIKey != "" && !creds.FromEnv {
			ui.PrintWarning("Already authenticated as %s", displayName(creds))
			ui.PrintInfo("Run 'finops auth logout' first to re-authenticate")
			return nil
		}

		apiKey, err := ui.PromptSecret("Enter your API key:")
		if err != nil {
			return err
		}
		if apiKey == "" {
			return fmt.Errorf("API key cannot be empty")
		}

		devMode, _ := cmd.Flags().GetBool("dev")
		backendURL := config.GetBackendURL(devMode)
		if devMode {
			ui.PrintInfo("Using local development backend %s", backendURL)
		}

		ui.StartSpinner("Validating API key…")
		client := api.NewClientWithBaseURL(apiKey, backendURL)
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		userInfo, err := client.ValidateAPIKey(ctx)
		ui.StopSpinner()
		if err != nil {
			var apiErr *api.APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
				return fmt.Errorf("invalid API key")
			}
			return fmt.Errorf("failed to validate API key: %w", err)
		}

		creds = &auth.Credentials{
			APIKey:     apiKey,
			Email:      userInfo.Email,
			Entity:     userInfo.Entity,
			BackendURL: backendURL,
		}
		if err := mgr.SaveCredentials(creds); err != nil {
			return err
		}

		ui.Println()
		ui.PrintSuccess("Authenticated as %s", displayName(creds))
		if creds.Entity != "" {
			ui.PrintInfo("Entity: %s", creds.Entity)
		}
		ui.PrintDim("Credentials saved to ~/.finops/credentials.json")
		return nil
	},
}

// authLogoutCmd removes stored credentials.
var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	Long:  `Remove stored credentials from ~/.finops/credentials.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := auth.NewManager().ClearCredentials(); err != nil {
			return err
		}
		ui.PrintSuccess("Logged out")
		return nil
	},
}

// authStatusCmd shows current authentication status.
var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := auth.NewManager().GetCredentials()
		if err != nil {
			return err
		}
		authenticated := creds != nil && creds.APIKey != ""

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			out := map[string]interface{}{"authenticated": authenticated}
			if authenticated {
				out["email"] = creds.Email
				out["entity"] = creds.Entity
				out["from_env"] = creds.FromEnv
				out["api_key"] = auth.MaskKey(creds.APIKey)
			}
			return printJSON(out)
		}

		if !authenticated {
			ui.PrintWarning("Not authenticated")
			ui.PrintInfo("Run 'finops auth login' to authenticate")
			return nil
		}

		ui.PrintSuccess("Authenticated")
		if creds.Email != "" {
			ui.PrintKeyValue("Email", creds.Email)
		}
		if creds.Entity != "" {
			ui.PrintKeyValue("Entity", creds.Entity)
		}
		if creds.BackendURL != "" {
			ui.PrintKeyValue("Backend", creds.BackendURL)
		}
		source := "~/.finops/credentials.json"
		if creds.FromEnv {
			source = auth.EnvAPIKey
		}
		ui.PrintKeyValue("Source", source)
		ui.PrintKeyValue("API key", auth.MaskKey(creds.APIKey))
		return nil
	},
}

func init() {
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
}

func displayName(creds *auth.Credentials) string {
	if creds.Email != "" {
		return creds.Email
	}
	return auth.MaskKey(creds.APIKey)
}
