package progress

import (
	"encoding/json"

	"github.com/finops/cli/internal/status"
)

// Mode selects how a stream's events are folded into State.
type Mode int

const (
	// ModeWorkflow tracks a small set of named steps plus one terminal result.
	// Used for settlement and open-new automation.
	ModeWorkflow Mode = iota

	// ModeUpload tracks an append-only activity log with update coalescing.
	// Used for file upload and parsing.
	ModeUpload
)

// String returns the mode name used in logs.
func (m Mode) String() string {
	switch m {
	case ModeWorkflow:
		return "workflow"
	case ModeUpload:
		return "upload"
	default:
		return "unknown"
	}
}

// State is the reducer state of one progress stream.
//
// Workflow mode uses CurrentStep, CompletedSteps and Result; upload mode uses
// Steps and Complete. Running and Error are shared.
type State struct {
	// Running is true from stream start until a terminal event or close.
	Running bool `json:"is_running"`

	// Error is the failure message; empty while the job has not failed.
	Error string `json:"error,omitempty"`

	// CurrentStep is the in-progress step, "" when idle and "done" on completion.
	CurrentStep string `json:"current_step"`

	// CompletedSteps lists completed step names in completion order.
	CompletedSteps []string `json:"completed_steps"`

	// Result is the final result object, nil until completion.
	Result json.RawMessage `json:"result,omitempty"`

	// Steps is the upload activity log.
	Steps []Event `json:"steps"`

	// Complete is set when an upload finished successfully.
	Complete bool `json:"is_complete"`
}

// StepDone is the CurrentStep value of a finished workflow.
const StepDone = "done"

// NewState returns the Idle state.
func NewState() State {
	return State{
		CompletedSteps: []string{},
		Steps:          []Event{},
	}
}

// Clone returns a deep copy that shares no memory with s.
func (s State) Clone() State {
	out := s
	if s.CompletedSteps != nil {
		out.CompletedSteps = make([]string, len(s.CompletedSteps))
		copy(out.CompletedSteps, s.CompletedSteps)
	}
	if s.Result != nil {
		out.Result = make(json.RawMessage, len(s.Result))
		copy(out.Result, s.Result)
	}
	if s.Steps != nil {
		out.Steps = make([]Event, len(s.Steps))
		for i, ev := range s.Steps {
			out.Steps[i] = ev.clone()
		}
	}
	return out
}

// Failed reports whether the job reported an error.
func (s State) Failed() bool {
	return s.Error != ""
}

// Terminal reports whether the state is absorbing: failed, or finished in
// either mode.
func (s State) Terminal() bool {
	return s.Failed() || s.Complete || s.Result != nil
}

// Phase maps the state onto the lifecycle phases of the given mode.
func (s State) Phase(mode Mode) status.Phase {
	if s.Failed() {
		return status.PhaseFailed
	}
	if mode == ModeUpload {
		switch {
		case s.Complete:
			return status.PhaseComplete
		case len(s.Steps) > 0:
			return status.PhaseActive
		default:
			return status.PhaseIdle
		}
	}
	switch {
	case s.Result != nil:
		return status.PhaseDone
	case s.Running:
		return status.PhaseRunning
	default:
		return status.PhaseIdle
	}
}

// LastStep returns the most recent upload log entry.
func (s State) LastStep() (Event, bool) {
	if len(s.Steps) == 0 {
		return Event{}, false
	}
	return s.Steps[len(s.Steps)-1], true
}
