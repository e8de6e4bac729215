// Package status provides shared phase constants and helpers for progress streams.
//
// This package centralizes phase-related logic so the reducers, the
// orchestrator and the renderers agree on what "running", "done" and
// "failed" mean for a progress slot.
package status

import "strings"

// Phase is the lifecycle phase of one progress slot.
type Phase string

const (
	// PhaseIdle is the state right after construction or reset.
	PhaseIdle Phase = "idle"

	// PhaseRunning indicates a workflow stream has started and not yet finished.
	PhaseRunning Phase = "running"

	// PhaseActive indicates an upload stream has applied at least one event.
	PhaseActive Phase = "active"

	// PhaseDone indicates a workflow finished with a result.
	PhaseDone Phase = "done"

	// PhaseComplete indicates an upload finished successfully.
	PhaseComplete Phase = "complete"

	// PhaseFailed indicates the job reported an error.
	PhaseFailed Phase = "failed"
)

// terminalPhases contains all phases that are absorbing.
var terminalPhases = map[Phase]bool{
	PhaseDone:     true,
	PhaseComplete: true,
	PhaseFailed:   true,
}

// IsTerminal checks if a phase string indicates the slot has finished.
//
// Parameters:
//   - phase: The phase string to check (case-insensitive)
//
// Returns:
//   - bool: True for done, complete and failed
func IsTerminal(phase string) bool {
	return terminalPhases[Phase(strings.ToLower(phase))]
}

// IsActive checks if a phase string indicates work is in progress.
func IsActive(phase string) bool {
	switch Phase(strings.ToLower(phase)) {
	case PhaseRunning, PhaseActive:
		return true
	}
	return false
}

// IsSuccess reports whether a terminal phase is a successful one.
func IsSuccess(phase string) bool {
	switch Phase(strings.ToLower(phase)) {
	case PhaseDone, PhaseComplete:
		return true
	}
	return false
}

// StatusIcon returns the appropriate icon for a phase.
//
// Icons:
//   - idle: ● (bullet)
//   - running/active: ▶ (play)
//   - done/complete: ✓ (checkmark)
//   - failed: ✗ (x mark)
//
// Parameters:
//   - phase: The phase string
//
// Returns:
//   - string: The icon character for the phase
func StatusIcon(phase string) string {
	switch Phase(strings.ToLower(phase)) {
	case PhaseRunning, PhaseActive:
		return "▶"
	case PhaseDone, PhaseComplete:
		return "✓"
	case PhaseFailed:
		return "✗"
	default:
		return "●"
	}
}

// StatusCategory returns the display category of a phase, used to pick a
// terminal style: "dim", "info", "success" or "error".
func StatusCategory(phase string) string {
	switch Phase(strings.ToLower(phase)) {
	case PhaseRunning, PhaseActive:
		return "info"
	case PhaseDone, PhaseComplete:
		return "success"
	case PhaseFailed:
		return "error"
	default:
		return "dim"
	}
}
