// Package main provides the job runner shared by upload, settle and open-new.
package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/finops/cli/internal/api"
	"github.com/finops/cli/internal/jobs"
	"github.com/finops/cli/internal/progress"
	"github.com/finops/cli/internal/tui"
	"github.com/finops/cli/internal/ui"
)

// jobSpec describes one long-running action.
type jobSpec struct {
	kind      api.ProgressKind
	title     string
	summarize func(json.RawMessage) string
	run       func(ctx context.Context, svc *jobs.Service) (jobs.Outcome, error)
}

// jobOutput is the --json rendering of a finished job.
type jobOutput struct {
	SessionID      string           `json:"session_id"`
	Action         string           `json:"action"`
	Success        bool             `json:"success"`
	Phase          string           `json:"phase"`
	Summary        string           `json:"summary,omitempty"`
	Error          string           `json:"error,omitempty"`
	CompletedSteps []string         `json:"completed_steps"`
	Steps          []progress.Event `json:"steps,omitempty"`
	Result         json.RawMessage  `json:"result,omitempty"`
}

// summaryOf describes a finished job in one line.
func summaryOf(spec jobSpec, out jobs.Outcome) string {
	result := out.State.Result
	if result == nil {
		result = out.Result
	}
	return spec.summarize(result)
}

// runJob runs spec and renders its progress: the live view on a terminal,
// step or activity lines otherwise, JSON with --json.
//
// Parameters:
//   - ctx: Context for cancellation
//   - env: The CLI environment
//   - sessionID: Session the job runs in
//   - spec: The job
//   - opts: Output flags
//
// Returns:
//   - jobs.Outcome: The reconciled outcome
//   - error: A reported error when the job did not succeed
func runJob(ctx context.Context, env *cliEnv, sessionID string, spec jobSpec, opts outputOpts) (jobs.Outcome, error) {
	var (
		outcome jobs.Outcome
		jobErr  error
	)
	mode := progress.ModeWorkflow
	if spec.kind == api.ProgressUpload {
		mode = progress.ModeUpload
	}

	if !opts.noTUI && tui.ShouldRunTUI(opts.json, opts.quiet) {
		summarize := func(progress.State) string { return summaryOf(spec, outcome) }
		_, jobErr = tui.Run(ctx, spec.title, mode, summarize, func(ctx context.Context, observe func(progress.State)) (progress.State, error) {
			svc, err := env.service(jobs.WithObserver(func(kind api.ProgressKind, s progress.State) {
				if kind == spec.kind {
					observe(s)
				}
			}))
			if err != nil {
				return progress.State{}, err
			}
			defer svc.Close()

			out, err := spec.run(ctx, svc)
			outcome = out
			return out.State, err
		})
		if outcome.Kind == "" {
			return outcome, jobErr
		}
	} else {
		var render func(progress.State)
		if !opts.json && !opts.quiet {
			if mode == progress.ModeUpload {
				render = ui.NewActivityFeed(24).Update
			} else {
				render = ui.NewStepTracker(opts.verbose).Update
			}
		}

		svc, err := env.service(jobs.WithObserver(func(kind api.ProgressKind, s progress.State) {
			if kind == spec.kind && render != nil {
				render(s)
			}
		}))
		if err != nil {
			return outcome, err
		}
		defer svc.Close()

		outcome, jobErr = spec.run(ctx, svc)

		if opts.json {
			if err := printJSON(newJobOutput(sessionID, spec, outcome, jobErr)); err != nil {
				return outcome, err
			}
		} else {
			ui.PrintJobResult(spec.title, summaryOf(spec, outcome), outcome.State, outcome.Mode)
		}
	}

	env.history.RecordOutcome(sessionID, string(spec.kind), string(outcome.State.Phase(outcome.Mode)))
	env.saveHistory()

	if outcome.Succeeded() && jobErr == nil {
		return outcome, nil
	}
	msg := outcome.State.Error
	if msg == "" && jobErr != nil {
		msg = jobErr.Error()
	}
	return outcome, reported(fmt.Errorf("%s failed: %s", spec.title, msg))
}

func newJobOutput(sessionID string, spec jobSpec, out jobs.Outcome, err error) jobOutput {
	o := jobOutput{
		SessionID:      sessionID,
		Action:         string(spec.kind),
		Success:        out.Succeeded() && err == nil,
		Phase:          string(out.State.Phase(out.Mode)),
		Error:          out.State.Error,
		CompletedSteps: out.State.CompletedSteps,
		Steps:          out.State.Steps,
		Result:         out.State.Result,
	}
	if o.Result == nil {
		o.Result = out.Result
	}
	if o.Error == "" && err != nil {
		o.Success = false
		o.Error = err.Error()
	}
	if o.Success {
		o.Summary = summaryOf(spec, out)
	}
	return o
}
