package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finops/cli/internal/progress"
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

// send delivers a frame unless the connection was closed first.
func (f *fakeConn) send(frame string) bool {
	select {
	case f.frames <- []byte(frame):
		return true
	case <-f.closed:
		return false
	}
}

func factoryFor(conn Conn) Factory {
	return func(context.Context) (Conn, error) { return conn, nil }
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func waitDone(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not exit")
	}
}

func TestController_IdleBeforeStart(t *testing.T) {
	c := NewController(progress.ModeWorkflow, WithLogger(quietLogger()))

	s := c.Snapshot()
	assert.False(t, s.Running)
	assert.Empty(t, s.CurrentStep)
	assert.Empty(t, s.CompletedSteps)
	assert.Nil(t, s.Result)

	select {
	case <-c.Done():
	default:
		t.Error("Done() should be closed before any Start")
	}

	c.Close()
	assert.False(t, c.Snapshot().Running)
}

func TestController_WorkflowStreamToCompletion(t *testing.T) {
	conn := newFakeConn()
	c := NewController(progress.ModeWorkflow, WithLogger(quietLogger()))

	c.Start(context.Background(), factoryFor(conn))
	assert.True(t, c.Snapshot().Running)

	frames := []string{
		`{"type":"connected"}`,
		`{"type":"step_start","step":"lookup"}`,
		`{"type":"heartbeat"}`,
		`{"type":"step_complete","step":"lookup"}`,
		`{"type":"step_start","step":"apply"}`,
		`{"type":"complete","data":{"rows":3}}`,
	}
	for _, f := range frames {
		require.True(t, conn.send(f), "frame %s was not accepted", f)
	}
	waitDone(t, c)

	s := c.Snapshot()
	assert.False(t, s.Running)
	assert.Equal(t, progress.StepDone, s.CurrentStep)
	assert.Equal(t, []string{"lookup"}, s.CompletedSteps)
	assert.JSONEq(t, `{"rows":3}`, string(s.Result))
	assert.Equal(t, int32(1), conn.closes.Load())
}

func TestController_TerminalClosesExactlyOnce(t *testing.T) {
	tests := []struct {
		name  string
		mode  progress.Mode
		final string
	}{
		{"workflow complete", progress.ModeWorkflow, `{"type":"complete"}`},
		{"workflow error", progress.ModeWorkflow, `{"type":"error","message":"boom"}`},
		{"upload complete", progress.ModeUpload, `{"type":"complete","message":"ok"}`},
		{"upload error", progress.ModeUpload, `{"type":"error","message":"boom"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newFakeConn()
			c := NewController(tt.mode, WithLogger(quietLogger()))
			c.Start(context.Background(), factoryFor(conn))

			require.True(t, conn.send(tt.final))
			waitDone(t, c)

			assert.False(t, conn.send(`{"type":"step_start","step":"late"}`), "frame after terminal was accepted")

			c.Close()
			c.Close()
			assert.Equal(t, int32(1), conn.closes.Load())
			assert.True(t, c.Snapshot().Terminal())
		})
	}
}

func TestController_StartSupersedesPreviousConnection(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	c := NewController(progress.ModeUpload, WithLogger(quietLogger()))

	c.Start(context.Background(), factoryFor(first))
	require.True(t, first.send(`{"type":"step_start","step":"old"}`))
	require.Eventually(t, func() bool { return len(c.Snapshot().Steps) == 1 }, time.Second, 5*time.Millisecond)

	c.Start(context.Background(), factoryFor(second))
	assert.Equal(t, int32(1), first.closes.Load())

	s := c.Snapshot()
	assert.True(t, s.Running)
	assert.Empty(t, s.Steps, "restart should reset the activity log")

	first.send(`{"type":"error","message":"stale"}`)
	require.True(t, second.send(`{"type":"step_start","step":"new"}`))
	require.True(t, second.send(`{"type":"complete","message":"done"}`))
	waitDone(t, c)

	s = c.Snapshot()
	assert.Empty(t, s.Error, "frames of a superseded connection must not reach the state")
	require.Len(t, s.Steps, 2)
	assert.Equal(t, "new", s.Steps[0].Step)
	assert.True(t, s.Complete)
}

func TestController_TransportErrorLeavesNoError(t *testing.T) {
	conn := newFakeConn()
	c := NewController(progress.ModeWorkflow, WithLogger(quietLogger()))
	c.Start(context.Background(), factoryFor(conn))

	require.True(t, conn.send(`{"type":"step_start","step":"lookup"}`))
	conn.errs <- errors.New("connection reset by peer")
	waitDone(t, c)

	s := c.Snapshot()
	assert.False(t, s.Running)
	assert.Empty(t, s.Error)
	assert.Equal(t, "lookup", s.CurrentStep)
	assert.Nil(t, s.Result)
	assert.Equal(t, int32(1), conn.closes.Load())
}

func TestController_StreamEndWithoutTerminal(t *testing.T) {
	conn := newFakeConn()
	c := NewController(progress.ModeUpload, WithLogger(quietLogger()))
	c.Start(context.Background(), factoryFor(conn))

	require.True(t, conn.send(`{"type":"step_start","step":"parse"}`))
	close(conn.frames)
	waitDone(t, c)

	s := c.Snapshot()
	assert.False(t, s.Running)
	assert.False(t, s.Complete)
	assert.Empty(t, s.Error)
	assert.Len(t, s.Steps, 1)
}

func TestController_MalformedFramesAreDropped(t *testing.T) {
	conn := newFakeConn()
	c := NewController(progress.ModeUpload, WithLogger(quietLogger()))
	c.Start(context.Background(), factoryFor(conn))

	for _, f := range []string{
		`not json`,
		`{"type":"step_start","step":"a"}`,
		`{"step":"missing type"}`,
		`{"type":"step_update","step":"a","message":"1"}`,
		`{"type":"step_update","step":"a","message":"2"}`,
		`{"type":"complete","message":"ok"}`,
	} {
		require.True(t, conn.send(f))
	}
	waitDone(t, c)

	s := c.Snapshot()
	require.Len(t, s.Steps, 3)
	assert.Equal(t, "2", s.Steps[1].Message)
	assert.True(t, s.Complete)
}

func TestController_FactoryFailure(t *testing.T) {
	dialErr := errors.New("dial tcp: connection refused")
	c := NewController(progress.ModeWorkflow, WithLogger(quietLogger()))

	c.Start(context.Background(), func(context.Context) (Conn, error) { return nil, dialErr })
	waitDone(t, c)

	s := c.Snapshot()
	assert.True(t, s.Running, "the job still runs without its progress feed")
	assert.Empty(t, s.Error)

	c.Close()
	assert.False(t, c.Snapshot().Running)
}

func TestController_StartDoesNotWaitForDial(t *testing.T) {
	entered := make(chan struct{})
	c := NewController(progress.ModeWorkflow, WithLogger(quietLogger()))

	returned := make(chan struct{})
	go func() {
		c.Start(context.Background(), func(ctx context.Context) (Conn, error) {
			close(entered)
			<-ctx.Done()
			return nil, ctx.Err()
		})
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Start blocked on the dial")
	}
	<-entered
	assert.True(t, c.Snapshot().Running)

	c.Close()
	waitDone(t, c)
	s := c.Snapshot()
	assert.False(t, s.Running)
	assert.Empty(t, s.Error)
}

func TestController_CloseWhileDialing(t *testing.T) {
	conn := newFakeConn()
	entered := make(chan struct{})
	release := make(chan struct{})
	c := NewController(progress.ModeWorkflow, WithLogger(quietLogger()))

	c.Start(context.Background(), func(ctx context.Context) (Conn, error) {
		close(entered)
		<-release
		return conn, nil
	})

	<-entered
	c.Close()
	close(release)
	waitDone(t, c)

	assert.Equal(t, int32(1), conn.closes.Load())
	assert.False(t, c.Snapshot().Running)
}

func TestController_ParentCancelStopsPump(t *testing.T) {
	conn := newFakeConn()
	c := NewController(progress.ModeWorkflow, WithLogger(quietLogger()))
	ctx, cancel := context.WithCancel(context.Background())

	c.Start(ctx, factoryFor(conn))
	cancel()
	waitDone(t, c)

	s := c.Snapshot()
	assert.False(t, s.Running)
	assert.Empty(t, s.Error)
	assert.Equal(t, int32(1), conn.closes.Load())
}

func TestController_ResetAndUpdate(t *testing.T) {
	conn := newFakeConn()
	c := NewController(progress.ModeWorkflow, WithLogger(quietLogger()))
	c.Start(context.Background(), factoryFor(conn))
	require.True(t, conn.send(`{"type":"error","message":"boom"}`))
	waitDone(t, c)
	require.Equal(t, "boom", c.Snapshot().Error)

	got := c.Update(func(s *progress.State) { s.CurrentStep = "patched" })
	assert.Equal(t, "patched", got.CurrentStep)
	assert.Equal(t, "patched", c.Snapshot().CurrentStep)

	c.Reset()
	s := c.Snapshot()
	assert.Empty(t, s.Error)
	assert.Empty(t, s.CurrentStep)
	assert.False(t, s.Running)
	assert.Equal(t, "idle", string(s.Phase(progress.ModeWorkflow)))
}

func TestController_ObserverSeesOrderedSnapshots(t *testing.T) {
	var (
		mu    sync.Mutex
		steps []int
	)
	conn := newFakeConn()
	c := NewController(progress.ModeUpload,
		WithLogger(quietLogger()),
		WithObserver(func(s progress.State) {
			mu.Lock()
			steps = append(steps, len(s.Steps))
			mu.Unlock()
		}),
	)

	c.Start(context.Background(), factoryFor(conn))
	for _, f := range []string{
		`{"type":"step_start","step":"a"}`,
		`{"type":"step_complete","step":"a"}`,
		`{"type":"step_start","step":"b"}`,
		`{"type":"complete","message":"ok"}`,
	} {
		require.True(t, conn.send(f))
	}
	waitDone(t, c)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, steps)
	for i := 1; i < len(steps); i++ {
		assert.GreaterOrEqual(t, steps[i], steps[i-1], "snapshot %d went backwards: %v", i, steps)
	}
	assert.Equal(t, 4, steps[len(steps)-1])
}
