package progress

// Reducer folds one event into the state and reports whether the state is
// now terminal. System events and events arriving after a terminal state
// leave the state untouched.
type Reducer func(s *State, ev Event) (terminal bool)

// ReducerFor returns the reducer of the given mode.
func ReducerFor(mode Mode) Reducer {
	if mode == ModeUpload {
		return ApplyUpload
	}
	return ApplyWorkflow
}

// ApplyWorkflow folds step-oriented events into CurrentStep, CompletedSteps
// and Result.
//
// step_complete is appended even when it does not match CurrentStep; the
// backend is the source of truth for step ordering.
func ApplyWorkflow(s *State, ev Event) bool {
	if ev.IsSystem() || s.Terminal() {
		return s.Terminal()
	}

	switch ev.Type {
	case EventStepStart:
		s.CurrentStep = ev.Step

	case EventStepComplete:
		s.CompletedSteps = append(s.CompletedSteps, ev.Step)

	case EventComplete:
		result := ev.Data()
		if result == nil {
			result = []byte(`{}`)
		}
		s.Result = result
		s.CurrentStep = StepDone
		s.Running = false

	case EventError:
		s.Error = ev.ErrorMessage()
		s.Running = false
	}

	return s.Terminal()
}

// ApplyUpload folds log-oriented events into the Steps activity log.
//
// A step_update replaces the last entry when that entry is a step_update of
// the same step, so a ticking percentage renders as one line. Every other
// event is appended, including complete; error is recorded in Error only.
func ApplyUpload(s *State, ev Event) bool {
	if ev.IsSystem() || s.Terminal() {
		return s.Terminal()
	}

	switch ev.Type {
	case EventError:
		s.Error = ev.ErrorMessage()
		s.Running = false

	case EventComplete:
		s.Complete = true
		s.Running = false
		s.Steps = append(s.Steps, ev)

	case EventStepUpdate:
		if n := len(s.Steps); n > 0 {
			last := s.Steps[n-1]
			if last.Type == EventStepUpdate && last.Step == ev.Step {
				s.Steps[n-1] = ev
				return false
			}
		}
		s.Steps = append(s.Steps, ev)

	default:
		s.Steps = append(s.Steps, ev)
	}

	return s.Terminal()
}
