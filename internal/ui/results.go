// Package ui provides result rendering components.
package ui

import (
	"fmt"
	"strings"

	"github.com/finops/cli/internal/progress"
)

// PrintJobResult prints a boxed summary of a finished job.
//
// Parameters:
//   - title: Job title, e.g. "Settlement"
//   - summary: One-line description of the result, shown on success
//   - s: The reconciled final state
//   - mode: The state's reducer mode
func PrintJobResult(title, summary string, s progress.State, mode progress.Mode) {
	phase := s.Phase(mode)
	icon := getStyledStatusIcon(string(phase))

	var lines []string
	if s.Failed() {
		lines = append(lines, fmt.Sprintf("%s %s failed", icon, title))
		lines = append(lines, ErrorStyle.Render(s.Error))
		printLine(false, ResultBoxFailedStyle.Render(strings.Join(lines, "\n")))
		return
	}

	lines = append(lines, fmt.Sprintf("%s %s %s", icon, title, phase))
	if summary != "" {
		lines = append(lines, summary)
	}
	if n := len(s.CompletedSteps); n > 0 {
		lines = append(lines, DimStyle.Render(fmt.Sprintf("%d steps completed", n)))
	}
	printLine(true, ResultBoxSuccessStyle.Render(strings.Join(lines, "\n")))
}
