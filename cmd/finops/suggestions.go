// Package main provides command suggestion functionality for the CLI.
//
// This file implements "did you mean" suggestions when users type commands
// in the wrong order (e.g., "finops settlement preview" instead of
// "finops preview settlement").
package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/finops/cli/internal/ui"
)

// subcommandMap maps subcommand names to their parent commands.
//
// Example: "settlement" -> ["preview"] means "settlement" is a subcommand
// of "preview".
var subcommandMap = map[string][]string{
	"settlement": {"preview"},
	"open-new":   {"preview"},
	"list":       {"sessions"},
	"status":     {"sessions", "auth"},
	"reset":      {"sessions"},
	"delete":     {"sessions"},
	"use":        {"sessions"},
	"login":      {"auth"},
	"logout":     {"auth"},
	"serve":      {"mcp"},
}

// suggestCorrectCommand checks if the user typed a subcommand at the wrong level
// and returns a suggestion if found.
//
// Parameters:
//   - unknownCmd: The command that was not recognized by Cobra
//   - allArgs: All command line arguments (excluding program name)
//   - rootCmd: The root command to search for valid parent commands
//
// Returns:
//   - string: A suggested command string with correct order, or empty if no suggestion found
//   - bool: True if a valid suggestion was found
//
// Example:
//
//	unknownCmd: "settlement"
//	allArgs: ["--dev", "settlement", "preview", "--session", "march"]
//	Returns: "finops --dev preview settlement --session march", true
func suggestCorrectCommand(unknownCmd string, allArgs []string, rootCmd *cobra.Command) (string, bool) {
	parentCmds, isSubcommand := subcommandMap[unknownCmd]
	if !isSubcommand {
		return "", false
	}

	unknownCmdIdx := -1
	for i, arg := range allArgs {
		if arg == unknownCmd {
			unknownCmdIdx = i
			break
		}
	}
	if unknownCmdIdx == -1 {
		return "", false
	}

	for i := unknownCmdIdx + 1; i < len(allArgs); i++ {
		arg := allArgs[i]
		if strings.HasPrefix(arg, "-") {
			continue
		}

		for _, parentCmd := range parentCmds {
			if arg != parentCmd || !hasCommand(rootCmd, parentCmd) {
				continue
			}

			// Flags before the unknown command stay in front, the parent
			// moves before the subcommand, everything else keeps its order.
			parts := []string{"finops"}
			parts = append(parts, allArgs[:unknownCmdIdx]...)
			parts = append(parts, parentCmd, unknownCmd)
			parts = append(parts, allArgs[unknownCmdIdx+1:i]...)
			parts = append(parts, allArgs[i+1:]...)
			return strings.Join(parts, " "), true
		}
	}

	return "", false
}

func hasCommand(root *cobra.Command, name string) bool {
	for _, cmd := range root.Commands() {
		if cmd.Name() == name {
			return true
		}
	}
	return false
}

// printCommandSuggestion prints a "did you mean" suggestion to the user.
//
// Parameters:
//   - suggestion: The suggested command string to display
func printCommandSuggestion(suggestion string) {
	ui.Println()
	ui.PrintInfo("Did you mean:")
	ui.PrintDim("  %s", suggestion)
	ui.Println()
}
