// Package stream owns the lifecycle of one progress-stream connection and
// pumps its frames through a progress reducer.
//
// A Controller is one progress slot: upload, settlement and open-new each get
// their own. Starting a slot always closes the connection it held before,
// so two connections never write into the same state.
package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/finops/cli/internal/progress"
)

// ErrClosed is reported by a Conn whose Close was called.
var ErrClosed = errors.New("stream closed")

// Conn is one live progress-stream connection.
//
// Frames delivers raw frame payloads in arrival order and is closed when the
// connection ends. Errors receives at most one transport error.
type Conn interface {
	Frames() <-chan []byte
	Errors() <-chan error
	Close() error
}

// Factory opens a connection to a progress endpoint.
type Factory func(ctx context.Context) (Conn, error)

// Observer receives a snapshot after every state change.
// It is called from the controller's goroutines and must not call back into
// the controller.
type Observer func(progress.State)

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger used for dropped frames and transport errors.
func WithLogger(l *log.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithObserver registers a snapshot observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// WithName labels the slot in log output.
func WithName(name string) Option {
	return func(c *Controller) { c.name = name }
}

// Controller owns at most one live connection and the state it feeds.
type Controller struct {
	mode     progress.Mode
	reduce   progress.Reducer
	name     string
	logger   *log.Logger
	observer Observer

	// mu protects every field below.
	mu    sync.Mutex
	state progress.State
	conn  Conn
	// cancel stops the context passed to the current factory.
	cancel context.CancelFunc
	// gen increments on every Start and Close; a pump only applies frames
	// while its generation is current.
	gen uint64
	// done is closed when the current pump exits.
	done chan struct{}
	// seq numbers state changes so observers never see them out of order.
	seq uint64

	notifyMu     sync.Mutex
	lastNotified uint64
}

// NewController creates an idle controller for the given mode.
//
// Parameters:
//   - mode: Selects the workflow or upload reducer
//   - opts: Optional logger, observer and slot name
//
// Returns:
//   - *Controller: A controller holding the Idle state
func NewController(mode progress.Mode, opts ...Option) *Controller {
	done := make(chan struct{})
	close(done)

	c := &Controller{
		mode:   mode,
		reduce: progress.ReducerFor(mode),
		name:   mode.String(),
		state:  progress.NewState(),
		done:   done,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.Default()
	}
	return c
}

// Mode returns the reducer mode of the slot.
func (c *Controller) Mode() progress.Mode {
	return c.mode
}

// Start tears down any previous connection, resets the state, marks the slot
// running and returns. The connection is opened through factory in the
// background, so a slow or hung progress endpoint never holds up the caller.
//
// A factory failure is a transport problem: it is logged, and the state keeps
// running with no error, because the job itself runs independently of its
// progress feed. Done is closed once the dial fails or the stream ends.
//
// Parameters:
//   - ctx: Parent context of the connection
//   - factory: Opens the connection to the job's progress endpoint
func (c *Controller) Start(ctx context.Context, factory Factory) {
	c.mu.Lock()
	c.teardownLocked()
	c.gen++
	gen := c.gen
	c.state = progress.NewState()
	c.state.Running = true
	connCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	done := make(chan struct{})
	c.done = done
	snap, seq := c.changedLocked()
	c.mu.Unlock()
	c.publish(snap, seq)

	go c.connect(connCtx, cancel, gen, factory, done)
}

// connect dials through factory and pumps the connection while gen is
// current.
func (c *Controller) connect(ctx context.Context, cancel context.CancelFunc, gen uint64, factory Factory, done chan struct{}) {
	conn, err := factory(ctx)

	c.mu.Lock()
	if err != nil {
		if c.gen == gen {
			c.cancel = nil
		}
		c.mu.Unlock()
		aborted := ctx.Err() != nil
		cancel()
		close(done)
		if !aborted {
			c.logger.Warn("progress stream unavailable, job continues in background", "slot", c.name, "err", err)
		} else {
			c.logger.Debug("progress stream dial abandoned", "slot", c.name, "err", err)
		}
		return
	}
	if c.gen != gen {
		// Closed or restarted while the factory was dialing.
		c.mu.Unlock()
		cancel()
		_ = conn.Close()
		close(done)
		return
	}
	c.conn = conn
	c.mu.Unlock()

	c.pump(ctx, gen, conn, done)
}

// pump applies the frames of one connection in arrival order until the
// stream ends, turns terminal, or the generation is superseded.
func (c *Controller) pump(ctx context.Context, gen uint64, conn Conn, done chan struct{}) {
	defer close(done)

	frames := conn.Frames()
	errs := conn.Errors()
	for {
		select {
		case <-ctx.Done():
			c.dropped(gen, ctx.Err())
			return
		case frame, ok := <-frames:
			if !ok {
				c.dropped(gen, nil)
				return
			}
			if !c.apply(gen, frame) {
				return
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			c.dropped(gen, err)
			return
		}
	}
}

// apply decodes and reduces one frame. It returns false when the pump
// should stop.
func (c *Controller) apply(gen uint64, frame []byte) bool {
	ev, err := progress.Decode(frame)
	if err != nil {
		c.logger.Debug("dropping progress frame", "slot", c.name, "err", err, "frame", string(frame))
		return true
	}
	if ev.IsSystem() {
		return true
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return false
	}
	terminal := c.reduce(&c.state, ev)
	snap, seq := c.changedLocked()
	if terminal {
		c.teardownLocked()
	}
	c.mu.Unlock()

	c.publish(snap, seq)
	if terminal {
		c.logger.Debug("progress stream finished", "slot", c.name, "event", ev.Type)
	}
	return !terminal
}

// dropped handles the end of a connection that delivered no terminal event.
// The state keeps no error; the REST call reports the job's real outcome.
func (c *Controller) dropped(gen uint64, err error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	c.state.Running = false
	snap, seq := c.changedLocked()
	c.mu.Unlock()

	c.publish(snap, seq)
	if err != nil {
		c.logger.Warn("progress stream dropped, job continues in background", "slot", c.name, "err", err)
	} else {
		c.logger.Warn("progress stream ended early, job continues in background", "slot", c.name)
	}
}

// Close closes the connection, if any, and clears Running. It is safe to
// call at any time and any number of times.
func (c *Controller) Close() {
	c.mu.Lock()
	hadConn := c.conn != nil || c.cancel != nil
	c.teardownLocked()
	c.gen++
	if !c.state.Running && !hadConn {
		c.mu.Unlock()
		return
	}
	c.state.Running = false
	snap, seq := c.changedLocked()
	c.mu.Unlock()
	c.publish(snap, seq)
}

// Reset closes the connection and returns the slot to Idle.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.teardownLocked()
	c.gen++
	c.state = progress.NewState()
	snap, seq := c.changedLocked()
	c.mu.Unlock()
	c.publish(snap, seq)
}

// Snapshot returns a deep copy of the current state.
func (c *Controller) Snapshot() progress.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Update applies fn to the state under the controller's lock. The
// orchestrator uses it to reconcile the REST outcome with the stream.
func (c *Controller) Update(fn func(s *progress.State)) progress.State {
	c.mu.Lock()
	fn(&c.state)
	snap, seq := c.changedLocked()
	c.mu.Unlock()
	c.publish(snap, seq)
	return snap
}

// Done returns a channel closed when the current connection's pump exits.
// It is already closed when no connection was ever started.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// teardownLocked closes the live connection. c.mu must be held.
func (c *Controller) teardownLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, ErrClosed) {
			c.logger.Debug("closing progress stream", "slot", c.name, "err", err)
		}
		c.conn = nil
	}
}

// changedLocked takes a snapshot for observers. c.mu must be held.
func (c *Controller) changedLocked() (progress.State, uint64) {
	c.seq++
	return c.state.Clone(), c.seq
}

// publish hands a snapshot to the observer unless a newer one was already
// delivered.
func (c *Controller) publish(snap progress.State, seq uint64) {
	if c.observer == nil {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if seq <= c.lastNotified {
		return
	}
	c.lastNotified = seq
	c.observer(snap)
}
