// Package jobs runs backend jobs: it starts a job's progress stream, issues
// the REST call that performs the job, and reconciles the two into one final
// state.
//
// The stream is best effort. The REST response is authoritative for the
// job's outcome, and either signal alone is enough to mark success.
package jobs

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/finops/cli/internal/api"
	"github.com/finops/cli/internal/progress"
	"github.com/finops/cli/internal/stream"
)

const instrumentationName = "github.com/finops/cli/internal/jobs"

// Action performs the job and returns its result object.
type Action func(ctx context.Context) (json.RawMessage, error)

// Job describes one backend job.
type Job struct {
	// Name labels the job in logs and spans.
	Name string

	// Stream opens the job's progress stream. Nil runs without progress.
	Stream stream.Factory

	// Call performs the job.
	Call Action

	// Summarize turns the REST result into the message of the completion
	// entry added when the stream never reported completion. Upload mode only.
	Summarize func(result json.RawMessage) string
}

// Runner runs jobs against stream controllers.
type Runner struct {
	logger *log.Logger
	tracer trace.Tracer
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger sets the runner's logger.
func WithRunnerLogger(l *log.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithTracerProvider sets the provider spans are created from.
func WithTracerProvider(tp trace.TracerProvider) RunnerOption {
	return func(r *Runner) { r.tracer = tp.Tracer(instrumentationName) }
}

// NewRunner creates a runner using the global tracer provider by default.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		logger: log.Default(),
		tracer: otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run runs a job with a default runner.
func Run(ctx context.Context, ctrl *stream.Controller, job Job) (progress.State, json.RawMessage, error) {
	return NewRunner().Run(ctx, ctrl, job)
}

// Run starts the job's progress stream, performs the REST call, and
// reconciles both into the controller's final state.
//
// Stream failures never fail the job. A REST failure records its message as
// the state's Error unless the stream already reported one, and is returned.
// A REST success completes the state unless the stream already ended it.
// The controller is closed before Run returns.
//
// Parameters:
//   - ctx: Context for the stream and the REST call
//   - ctrl: The job's progress slot
//   - job: What to run
//
// Returns:
//   - progress.State: The reconciled final state
//   - json.RawMessage: The REST result, nil on failure
//   - error: The REST error, if any
func (r *Runner) Run(ctx context.Context, ctrl *stream.Controller, job Job) (progress.State, json.RawMessage, error) {
	ctx, span := r.tracer.Start(ctx, "jobs."+job.Name, trace.WithAttributes(
		attribute.String("job.name", job.Name),
		attribute.String("job.mode", ctrl.Mode().String()),
	))
	defer span.End()

	if job.Stream != nil {
		ctrl.Start(ctx, job.Stream)
	} else {
		ctrl.Reset()
		ctrl.Update(func(s *progress.State) { s.Running = true })
	}
	defer ctrl.Close()

	r.logger.Debug("job started", "job", job.Name)
	result, callErr := job.Call(ctx)

	mode := ctrl.Mode()
	ctrl.Update(func(s *progress.State) {
		reconcile(s, mode, result, callErr, job.Summarize)
	})
	ctrl.Close()
	final := ctrl.Snapshot()

	phase := final.Phase(mode)
	span.SetAttributes(
		attribute.String("job.phase", string(phase)),
		attribute.Int("job.steps", len(final.Steps)+len(final.CompletedSteps)),
	)
	if callErr != nil {
		span.RecordError(callErr)
		span.SetStatus(codes.Error, final.Error)
		r.logger.Debug("job failed", "job", job.Name, "err", callErr)
		return final, nil, callErr
	}
	if final.Failed() {
		// The stream reported a failure the REST call did not.
		span.SetStatus(codes.Error, final.Error)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	r.logger.Debug("job finished", "job", job.Name, "phase", phase)
	return final, result, nil
}

// reconcile folds the REST outcome into the stream state.
func reconcile(s *progress.State, mode progress.Mode, result json.RawMessage, callErr error, summarize func(json.RawMessage) string) {
	s.Running = false

	if callErr != nil {
		if s.Error == "" {
			s.Error = FailureMessage(callErr)
		}
		return
	}
	if s.Terminal() {
		return
	}

	if mode == progress.ModeUpload {
		msg := "Completed"
		if summarize != nil {
			if m := summarize(result); m != "" {
				msg = m
			}
		}
		s.Steps = append(s.Steps, progress.SynthesizeComplete(msg, result))
		s.Complete = true
		return
	}

	if len(result) == 0 || string(result) == "null" {
		result = json.RawMessage(`{}`)
	}
	s.Result = append(json.RawMessage(nil), result...)
	s.CurrentStep = progress.StepDone
}

// FailureMessage is the user-facing text of a REST failure.
func FailureMessage(err error) string {
	var apiErr *api.APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.UserMessage()
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out waiting for the backend"
	default:
		return err.Error()
	}
}

// Done reports whether the job succeeded according to either signal that
// has been folded into the state.
func Done(s progress.State, mode progress.Mode) bool {
	if s.Failed() {
		return false
	}
	if mode == progress.ModeUpload {
		return s.Complete
	}
	return s.Result != nil
}
