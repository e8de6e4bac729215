// Package ui provides terminal UI components using Charm libraries.
package ui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/finops/cli/internal/progress"
	"github.com/finops/cli/internal/status"
)

// stepLabels names the workflow steps the backend is known to report.
var stepLabels = map[string]string{
	"load_session":    "Loading session",
	"lookup":          "Looking up counterparties",
	"match":           "Matching transactions",
	"settle":          "Settling entries",
	"open_new":        "Opening new entries",
	"write_workbook":  "Writing workbook",
	"parse":           "Parsing statements",
	"extract":         "Extracting transactions",
	"dedupe":          "Removing duplicates",
	"validate":        "Validating files",
	"upload":          "Uploading files",
	progress.StepDone: "Done",
}

// StepLabel returns the display name of a step ID. Unknown IDs are
// humanized: "fx_rates" becomes "Fx rates".
func StepLabel(step string) string {
	if label, ok := stepLabels[step]; ok {
		return label
	}
	s := strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(step))
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// StepTracker prints workflow progress as a growing list of lines.
// It is the non-interactive counterpart of the progress TUI: every step
// completion is printed once, and each new current step is announced once.
type StepTracker struct {
	// printedCompleted is the number of CompletedSteps already printed.
	printedCompleted int

	// lastCurrentStep is the last announced current step.
	lastCurrentStep string

	// verbose announces step starts in addition to completions.
	verbose bool

	// mu protects concurrent access to tracker state.
	mu sync.Mutex
}

// NewStepTracker creates a new step tracker.
//
// Parameters:
//   - verbose: If true, step starts are printed as well as completions
//
// Returns:
//   - *StepTracker: A new step tracker instance
func NewStepTracker(verbose bool) *StepTracker {
	return &StepTracker{verbose: verbose}
}

// Update prints what changed since the previous snapshot.
//
// A snapshot from a restarted stream, with fewer completed steps than were
// printed, resets the tracker.
func (t *StepTracker) Update(s progress.State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(s.CompletedSteps) < t.printedCompleted {
		t.printedCompleted = 0
		t.lastCurrentStep = ""
	}
	for _, step := range s.CompletedSteps[t.printedCompleted:] {
		printLine(true, SuccessStyle.Render("✓ "+StepLabel(step)))
	}
	t.printedCompleted = len(s.CompletedSteps)

	if s.CurrentStep != t.lastCurrentStep {
		t.lastCurrentStep = s.CurrentStep
		if t.verbose && s.CurrentStep != "" && s.CurrentStep != progress.StepDone && !s.Terminal() {
			printLine(true, fmt.Sprintf("%s %s", getStyledStatusIcon(string(status.PhaseRunning)), StepLabel(s.CurrentStep)))
		}
	}
}

// GetCompletedSteps returns the labels of the printed completed steps.
func (t *StepTracker) GetCompletedSteps(s progress.State) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.printedCompleted
	if n > len(s.CompletedSteps) {
		n = len(s.CompletedSteps)
	}
	labels := make([]string, n)
	for i, step := range s.CompletedSteps[:n] {
		labels[i] = StepLabel(step)
	}
	return labels
}
