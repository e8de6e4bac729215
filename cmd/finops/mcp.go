// Package main provides the MCP command for the finops CLI.
package main

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/finops/cli/internal/mcp"
)

// mcpCmd is the parent command for MCP operations.
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long: `MCP (Model Context Protocol) server commands.

The MCP server lets AI agents upload statements and run settlement and
open-new automations through the Model Context Protocol.

Commands:
  serve  - Start the MCP server over stdio`,
}

// mcpServeCmd starts the MCP server.
var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start MCP server over stdio",
	Long: `Start the finops MCP server over stdio.

The server communicates via JSON-RPC over stdin/stdout and is meant to be
launched by an AI host.

The server exposes the following tools:
  - upload_files: Upload statements and wait until they are parsed
  - run_settlement: Run settlement automation and wait for its result
  - run_open_new: Run open-new automation and wait for its result
  - session_status: Show a session's backend state and last local run
  - inspect_files: Check statements locally before upload

Authentication:
  Set FINOPS_API_KEY, or run 'finops auth login' first.

Example configuration:
  {
    "mcpServers": {
      "finops": {
        "command": "finops",
        "args": ["mcp", "serve"],
        "env": {
          "FINOPS_API_KEY": "your-api-key"
        }
      }
    }
  }`,
	RunE: runMCPServe,
}

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
}

// runMCPServe starts the MCP server. stdout carries the protocol, so logs
// go to stderr.
func runMCPServe(cmd *cobra.Command, args []string) error {
	devMode, _ := cmd.Flags().GetBool("dev")
	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "finops-mcp", Level: log.GetLevel()})

	server, err := mcp.NewServer(version, devMode, logger)
	if err != nil {
		return err
	}
	return server.Run(cmd.Context())
}
