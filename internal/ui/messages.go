// Package ui provides message printing utilities.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/finops/cli/internal/status"
)

var (
	outMu     sync.Mutex
	out       io.Writer = os.Stdout
	quietMode bool
)

// SetOutput redirects all printing to w and returns the previous writer.
func SetOutput(w io.Writer) io.Writer {
	outMu.Lock()
	defer outMu.Unlock()
	prev := out
	out = w
	return prev
}

// Output returns the writer messages are printed to.
func Output() io.Writer {
	outMu.Lock()
	defer outMu.Unlock()
	return out
}

// SetQuietMode suppresses informational output. Errors and warnings are
// still printed.
func SetQuietMode(quiet bool) {
	outMu.Lock()
	defer outMu.Unlock()
	quietMode = quiet
}

// IsQuietMode reports whether informational output is suppressed.
func IsQuietMode() bool {
	outMu.Lock()
	defer outMu.Unlock()
	return quietMode
}

func printLine(quietable bool, s string) {
	outMu.Lock()
	defer outMu.Unlock()
	if quietable && quietMode {
		return
	}
	fmt.Fprintln(out, s)
}

// Println prints an empty line.
func Println() {
	printLine(true, "")
}

// PrintSuccess prints a success message.
//
// Parameters:
//   - format: Printf format string
//   - args: Printf arguments
func PrintSuccess(format string, args ...interface{}) {
	printLine(true, SuccessStyle.Render("✓ "+fmt.Sprintf(format, args...)))
}

// PrintError prints an error message.
//
// Parameters:
//   - format: Printf format string
//   - args: Printf arguments
func PrintError(format string, args ...interface{}) {
	printLine(false, ErrorStyle.Render("✗ "+fmt.Sprintf(format, args...)))
}

// PrintWarning prints a warning message.
func PrintWarning(format string, args ...interface{}) {
	printLine(false, WarningStyle.Render("⚠ "+fmt.Sprintf(format, args...)))
}

// PrintInfo prints an informational message.
func PrintInfo(format string, args ...interface{}) {
	printLine(true, InfoStyle.Render(fmt.Sprintf(format, args...)))
}

// PrintDim prints a dimmed message.
func PrintDim(format string, args ...interface{}) {
	printLine(true, DimStyle.Render(fmt.Sprintf(format, args...)))
}

// PrintLink prints a labelled URL.
//
// Parameters:
//   - label: The link label
//   - url: The URL
func PrintLink(label, url string) {
	printLine(true, fmt.Sprintf("%s %s", DimStyle.Render(label+":"), LinkStyle.Render(url)))
}

// PrintKeyValue prints one aligned "key: value" line.
func PrintKeyValue(key, value string) {
	printLine(true, fmt.Sprintf("  %s %s", DimStyle.Render(padRight(key+":", 14)), value))
}

// PrintBox prints content in a styled box.
//
// Parameters:
//   - title: Box title
//   - content: Box content
func PrintBox(title, content string) {
	printLine(true, BoxStyle.Render(BoxTitleStyle.Render(title)+"\n"+content))
}

// PrintRaw prints s unstyled. It is not suppressed by quiet mode, so it is
// used for machine-readable output.
func PrintRaw(s string) {
	printLine(false, strings.TrimRight(s, "\n"))
}

// getStyledStatusIcon returns a styled icon for the given phase.
// Uses the shared status package for icon selection and applies UI styling.
//
// Parameters:
//   - phase: The phase string
//
// Returns:
//   - string: The styled icon string
func getStyledStatusIcon(phase string) string {
	icon := status.StatusIcon(phase)
	return categoryStyle(status.StatusCategory(phase)).Render(icon)
}

func categoryStyle(category string) lipgloss.Style {
	switch category {
	case "info":
		return StatusRunningStyle
	case "success":
		return SuccessStyle
	case "error":
		return ErrorStyle
	default:
		return DimStyle
	}
}

// Table represents a table with dynamic column widths for formatted output.
type Table struct {
	// Headers contains the column header names.
	Headers []string

	// Rows contains all data rows.
	Rows [][]string

	// MaxWidths specifies maximum width per column index (truncates with ellipsis).
	MaxWidths map[int]int
}

// NewTable creates a new table with the specified headers.
//
// Parameters:
//   - headers: Column header names
//
// Returns:
//   - *Table: A new table instance
func NewTable(headers ...string) *Table {
	return &Table{
		Headers:   headers,
		Rows:      make([][]string, 0),
		MaxWidths: make(map[int]int),
	}
}

// AddRow adds a data row to the table.
func (t *Table) AddRow(values ...string) {
	t.Rows = append(t.Rows, values)
}

// SetMaxWidth sets the maximum width for a column.
// Values exceeding this width will be truncated with ellipsis.
func (t *Table) SetMaxWidth(col, width int) {
	t.MaxWidths[col] = width
}

// calculateColumnWidths computes the width of each column after the
// maximum-width limits.
func (t *Table) calculateColumnWidths() []int {
	widths := make([]int, len(t.Headers))
	for i, header := range t.Headers {
		widths[i] = lipgloss.Width(header)
	}
	for _, row := range t.Rows {
		for i, val := range row {
			if i < len(widths) && lipgloss.Width(val) > widths[i] {
				widths[i] = lipgloss.Width(val)
			}
		}
	}
	for i := range widths {
		if max, ok := t.MaxWidths[i]; ok && widths[i] > max {
			widths[i] = max
		}
	}
	return widths
}

// truncateWithEllipsis truncates a string to the specified width with ellipsis.
func truncateWithEllipsis(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 3 {
		return string(r[:width])
	}
	return string(r[:width-3]) + "..."
}

// padRight pads a string to the specified display width with spaces.
func padRight(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

// Render prints the table with calculated column widths.
func (t *Table) Render() {
	if len(t.Headers) == 0 {
		return
	}

	widths := t.calculateColumnWidths()
	colGap := "  "

	var headerCells []string
	for i, header := range t.Headers {
		headerCells = append(headerCells, TableHeaderStyle.Render(padRight(header, widths[i])))
	}
	printLine(true, strings.Join(headerCells, colGap))

	totalWidth := len(colGap) * (len(widths) - 1)
	for _, w := range widths {
		totalWidth += w
	}
	printLine(true, DimStyle.Render(strings.Repeat("─", totalWidth)))

	for _, row := range t.Rows {
		cells := make([]string, len(t.Headers))
		for i := range t.Headers {
			val := ""
			if i < len(row) {
				val = row[i]
			}
			if max, ok := t.MaxWidths[i]; ok {
				val = truncateWithEllipsis(val, max)
			}
			cells[i] = TableCellStyle.Render(padRight(val, widths[i]))
		}
		printLine(true, strings.TrimRight(strings.Join(cells, colGap), " "))
	}
}
