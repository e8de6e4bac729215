package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/finops/cli/internal/api"
	"github.com/finops/cli/internal/progress"
	"github.com/finops/cli/internal/stream"
)

type fakeConn struct {
	frames chan []byte
	errs   chan error
	closed chan struct{}
	once   sync.Once
	closes atomic.Int32
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) Frames() <-chan []byte { return f.frames }
func (f *fakeConn) Errors() <-chan error  { return f.errs }

func (f *fakeConn) Close() error {
	f.closes.Add(1)
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) send(frame string) bool {
	select {
	case f.frames <- []byte(frame):
		return true
	case <-f.closed:
		return false
	}
}

func (f *fakeConn) factory() stream.Factory {
	return func(context.Context) (stream.Conn, error) { return f, nil }
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func newTestRunner() (*Runner, *tracetest.SpanRecorder) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return NewRunner(WithRunnerLogger(quietLogger()), WithTracerProvider(tp)), sr
}

func newCtrl(mode progress.Mode) *stream.Controller {
	return stream.NewController(mode, stream.WithLogger(quietLogger()))
}

// waitFor blocks until the controller's state satisfies cond.
func waitFor(t *testing.T, c *stream.Controller, cond func(progress.State) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(c.Snapshot()) }, 2*time.Second, 5*time.Millisecond)
}

func TestRun_StreamCompletesBeforeREST(t *testing.T) {
	runner, _ := newTestRunner()
	conn := newFakeConn()
	ctrl := newCtrl(progress.ModeWorkflow)

	state, result, err := runner.Run(context.Background(), ctrl, Job{
		Name:   "settlement",
		Stream: conn.factory(),
		Call: func(ctx context.Context) (json.RawMessage, error) {
			require.True(t, conn.send(`{"type":"step_start","step":"lookup"}`))
			require.True(t, conn.send(`{"type":"step_complete","step":"lookup"}`))
			require.True(t, conn.send(`{"type":"complete","data":{"from":"stream"}}`))
			waitFor(t, ctrl, func(s progress.State) bool { return s.Result != nil })
			return json.RawMessage(`{"from":"rest"}`), nil
		},
	})

	require.NoError(t, err)
	assert.JSONEq(t, `{"from":"rest"}`, string(result))
	assert.JSONEq(t, `{"from":"stream"}`, string(state.Result), "the stream's completion is kept")
	assert.Equal(t, progress.StepDone, state.CurrentStep)
	assert.Equal(t, []string{"lookup"}, state.CompletedSteps)
	assert.False(t, state.Running)
	assert.True(t, Done(state, progress.ModeWorkflow))
	assert.Equal(t, int32(1), conn.closes.Load())
}

func TestRun_RESTCompletesBeforeStream(t *testing.T) {
	tests := []struct {
		name  string
		mode  progress.Mode
		check func(t *testing.T, s progress.State)
	}{
		{
			name: "workflow takes the REST result",
			mode: progress.ModeWorkflow,
			check: func(t *testing.T, s progress.State) {
				assert.JSONEq(t, `{"rows_updated":3}`, string(s.Result))
				assert.Equal(t, progress.StepDone, s.CurrentStep)
				assert.Equal(t, "lookup", s.CompletedSteps[0])
			},
		},
		{
			name: "upload appends a synthesized completion",
			mode: progress.ModeUpload,
			check: func(t *testing.T, s progress.State) {
				require.Len(t, s.Steps, 3)
				last := s.Steps[2]
				assert.Equal(t, progress.EventComplete, last.Type)
				assert.True(t, last.Synthetic())
				assert.Equal(t, "summary", last.Message)
				assert.JSONEq(t, `{"rows_updated":3}`, string(last.Data()))
				assert.True(t, s.Complete)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner, _ := newTestRunner()
			conn := newFakeConn()
			ctrl := newCtrl(tt.mode)

			state, _, err := runner.Run(context.Background(), ctrl, Job{
				Name:      "job",
				Stream:    conn.factory(),
				Summarize: func(json.RawMessage) string { return "summary" },
				Call: func(ctx context.Context) (json.RawMessage, error) {
					require.True(t, conn.send(`{"type":"step_start","step":"lookup"}`))
					require.True(t, conn.send(`{"type":"step_complete","step":"lookup"}`))
					waitFor(t, ctrl, func(s progress.State) bool {
						return len(s.CompletedSteps) == 1 || len(s.Steps) == 2
					})
					return json.RawMessage(`{"rows_updated":3}`), nil
				},
			})
			require.NoError(t, err)
			assert.False(t, state.Running)
			assert.Empty(t, state.Error)
			assert.True(t, Done(state, tt.mode))
			tt.check(t, state)

			// A completion arriving after the REST response is never applied.
			conn.send(`{"type":"error","message":"late"}`)
			assert.Empty(t, ctrl.Snapshot().Error)
			assert.Equal(t, int32(1), conn.closes.Load())
		})
	}
}

func TestRun_RESTFailure(t *testing.T) {
	apiErr := &api.APIError{StatusCode: 502, Detail: "Lookup service unavailable"}

	t.Run("silent stream takes the REST message", func(t *testing.T) {
		runner, sr := newTestRunner()
		conn := newFakeConn()
		ctrl := newCtrl(progress.ModeWorkflow)

		state, result, err := runner.Run(context.Background(), ctrl, Job{
			Name:   "settlement",
			Stream: conn.factory(),
			Call: func(context.Context) (json.RawMessage, error) {
				return nil, apiErr
			},
		})

		assert.ErrorIs(t, err, apiErr)
		assert.Nil(t, result)
		assert.Equal(t, "Lookup service unavailable", state.Error)
		assert.False(t, state.Running)
		assert.Nil(t, state.Result)
		assert.False(t, Done(state, progress.ModeWorkflow))

		spans := sr.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, "jobs.settlement", spans[0].Name())
		assert.Equal(t, codes.Error, spans[0].Status().Code)
		assert.Equal(t, "Lookup service unavailable", spans[0].Status().Description)
	})

	t.Run("stream error message wins", func(t *testing.T) {
		runner, _ := newTestRunner()
		conn := newFakeConn()
		ctrl := newCtrl(progress.ModeUpload)

		state, _, err := runner.Run(context.Background(), ctrl, Job{
			Name:   "upload",
			Stream: conn.factory(),
			Call: func(context.Context) (json.RawMessage, error) {
				require.True(t, conn.send(`{"type":"error","message":"Password required for statement.pdf"}`))
				waitFor(t, ctrl, progress.State.Failed)
				return nil, apiErr
			},
		})

		require.Error(t, err)
		assert.Equal(t, "Password required for statement.pdf", state.Error)
		assert.Empty(t, state.Steps, "error events are not logged")
	})
}

func TestRun_RESTSuccessAfterStreamError(t *testing.T) {
	runner, sr := newTestRunner()
	conn := newFakeConn()
	ctrl := newCtrl(progress.ModeWorkflow)

	state, result, err := runner.Run(context.Background(), ctrl, Job{
		Name:   "open-new",
		Stream: conn.factory(),
		Call: func(context.Context) (json.RawMessage, error) {
			require.True(t, conn.send(`{"type":"error","message":"boom"}`))
			waitFor(t, ctrl, progress.State.Failed)
			return json.RawMessage(`{}`), nil
		},
	})

	require.NoError(t, err)
	assert.NotNil(t, result)
	assert.Equal(t, "boom", state.Error)
	assert.Nil(t, state.Result)
	assert.False(t, Done(state, progress.ModeWorkflow))
	require.Len(t, sr.Ended(), 1)
	assert.Equal(t, codes.Error, sr.Ended()[0].Status().Code)
}

func TestRun_StreamUnavailable(t *testing.T) {
	runner, sr := newTestRunner()
	ctrl := newCtrl(progress.ModeUpload)

	state, _, err := runner.Run(context.Background(), ctrl, Job{
		Name: "upload",
		Stream: func(context.Context) (stream.Conn, error) {
			return nil, errors.New("dial tcp: connection refused")
		},
		Call: func(context.Context) (json.RawMessage, error) {
			return json.RawMessage(`{"files_processed":1}`), nil
		},
		Summarize: SummarizeUpload,
	})

	require.NoError(t, err)
	assert.True(t, state.Complete)
	assert.Empty(t, state.Error)
	require.Len(t, state.Steps, 1)
	assert.Equal(t, "1 file parsed", state.Steps[0].Message)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
}

func TestRun_StalledStreamDoesNotHoldUpREST(t *testing.T) {
	runner, _ := newTestRunner()
	ctrl := newCtrl(progress.ModeUpload)

	dialing := make(chan struct{})
	dialCancelled := make(chan struct{})
	var called atomic.Bool

	type runResult struct {
		state progress.State
		err   error
	}
	finished := make(chan runResult, 1)
	go func() {
		state, _, err := runner.Run(context.Background(), ctrl, Job{
			Name: "upload",
			Stream: func(ctx context.Context) (stream.Conn, error) {
				close(dialing)
				<-ctx.Done()
				close(dialCancelled)
				return nil, ctx.Err()
			},
			Call: func(context.Context) (json.RawMessage, error) {
				called.Store(true)
				return json.RawMessage(`{"files_processed":2}`), nil
			},
			Summarize: SummarizeUpload,
		})
		finished <- runResult{state, err}
	}()

	var got runResult
	select {
	case got = <-finished:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return while the stream was stalled; REST call issued=%v", called.Load())
	}

	require.NoError(t, got.err)
	assert.True(t, called.Load())
	assert.True(t, got.state.Complete)
	assert.False(t, got.state.Running)
	assert.Empty(t, got.state.Error)
	last, ok := got.state.LastStep()
	require.True(t, ok)
	assert.True(t, last.Synthetic())
	assert.Equal(t, "2 files parsed", last.Message)

	<-dialing
	select {
	case <-dialCancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("stalled dial was not cancelled when the job finished")
	}
	<-ctrl.Done()
}

func TestRun_TransportDropThenRESTSuccess(t *testing.T) {
	runner, _ := newTestRunner()
	conn := newFakeConn()
	ctrl := newCtrl(progress.ModeWorkflow)

	state, _, err := runner.Run(context.Background(), ctrl, Job{
		Name:   "settlement",
		Stream: conn.factory(),
		Call: func(context.Context) (json.RawMessage, error) {
			require.True(t, conn.send(`{"type":"step_start","step":"apply"}`))
			conn.errs <- errors.New("connection reset by peer")
			waitFor(t, ctrl, func(s progress.State) bool { return !s.Running })
			return json.RawMessage(`{"rows_updated":1}`), nil
		},
	})

	require.NoError(t, err)
	assert.Empty(t, state.Error)
	assert.JSONEq(t, `{"rows_updated":1}`, string(state.Result))
}

func TestRun_NoStream(t *testing.T) {
	runner, _ := newTestRunner()
	ctrl := newCtrl(progress.ModeWorkflow)

	var sawRunning bool
	state, _, err := runner.Run(context.Background(), ctrl, Job{
		Name: "reconcile",
		Call: func(context.Context) (json.RawMessage, error) {
			sawRunning = ctrl.Snapshot().Running
			return nil, nil
		},
	})

	require.NoError(t, err)
	assert.True(t, sawRunning)
	assert.JSONEq(t, `{}`, string(state.Result))
}

func TestRun_RestartResetsPreviousOutcome(t *testing.T) {
	runner, _ := newTestRunner()
	ctrl := newCtrl(progress.ModeWorkflow)

	_, _, err := runner.Run(context.Background(), ctrl, Job{
		Name:   "settlement",
		Stream: newFakeConn().factory(),
		Call: func(context.Context) (json.RawMessage, error) {
			return nil, errors.New("first run failed")
		},
	})
	require.Error(t, err)
	require.Equal(t, "first run failed", ctrl.Snapshot().Error)

	state, _, err := runner.Run(context.Background(), ctrl, Job{
		Name:   "settlement",
		Stream: newFakeConn().factory(),
		Call: func(context.Context) (json.RawMessage, error) {
			return json.RawMessage(`{"ok":true}`), nil
		},
	})
	require.NoError(t, err)
	assert.Empty(t, state.Error)
	assert.True(t, Done(state, progress.ModeWorkflow))
}

func TestFailureMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"api detail", &api.APIError{StatusCode: 400, Message: "Bad Request", Detail: "No files uploaded"}, "No files uploaded"},
		{"api message", &api.APIError{StatusCode: 500, Message: "Internal"}, "Internal"},
		{"cancelled", context.Canceled, "cancelled"},
		{"deadline", context.DeadlineExceeded, "timed out waiting for the backend"},
		{"plain", errors.New("request failed: EOF"), "request failed: EOF"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FailureMessage(tt.err))
		})
	}
}
