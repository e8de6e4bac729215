// Package ui provides the banner and condensed help for the finops CLI.
package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

const banner = `
  ┏━╸╻┏┓╻┏━┓┏━┓┏━┓
  ┣╸ ┃┃┗┫┃ ┃┣━┛┗━┓
  ╹  ╹╹ ╹┗━┛╹  ┗━┛`

// tagline is the product tagline.
const tagline = "Cash reports from bank statements"

// PrintBanner prints the finops banner with version info.
//
// Parameters:
//   - version: The CLI version string to display
func PrintBanner(version string) {
	if IsQuietMode() {
		return
	}

	styledBanner := lipgloss.NewStyle().
		Foreground(Indigo).
		Bold(true).
		Render(banner)
	infoStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("245")).
		PaddingLeft(2)

	printLine(true, styledBanner)
	printLine(true, "")
	printLine(true, infoStyle.Italic(true).Render(tagline))
	printLine(true, infoStyle.Render(fmt.Sprintf("Version: %s", version)))
	printLine(true, "")
}

// GetCondensedHelp returns a compact cheat-sheet for the common journey:
// upload statements, settle, open new entries, download the workbook.
func GetCondensedHelp() string {
	accent := lipgloss.NewStyle().Foreground(Indigo).Bold(true)
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	hint := dim.Italic(true)

	return fmt.Sprintf(`%s

%s
  %s              Store your API key
  %s     Upload statements into a new session
  %s                   Run settlement automation
  %s                   Run open-new automation
  %s                 Download the cash report workbook

%s
  %s                Inspect local statements before upload
  %s                  Upload statements as they appear
  %s                Start MCP server for AI integration

%s
`,
		accent.Render("finops")+" - "+dim.Render(tagline),
		accent.Render("Getting Started:"),
		accent.Render("finops auth login"),
		accent.Render("finops upload <files...>"),
		accent.Render("finops settle"),
		accent.Render("finops open-new"),
		accent.Render("finops download"),
		accent.Render("More:"),
		accent.Render("finops inspect"),
		accent.Render("finops watch"),
		accent.Render("finops mcp"),
		hint.Render(`Use "finops --help" for a full list of commands.`),
	)
}
