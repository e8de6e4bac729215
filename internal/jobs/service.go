package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/finops/cli/internal/api"
	"github.com/finops/cli/internal/config"
	"github.com/finops/cli/internal/progress"
	"github.com/finops/cli/internal/sse"
	"github.com/finops/cli/internal/stream"
	"github.com/finops/cli/internal/wsfeed"
)

// Dialer turns a progress URL into a stream factory.
type Dialer func(url, apiKey string) stream.Factory

// TransportDialer returns the dialer of a configured transport name.
//
// Parameters:
//   - name: "sse", "websocket" or "" for the default
//   - logger: Logger handed to the transport
//
// Returns:
//   - Dialer: The transport's dialer
//   - error: Unknown transport name
func TransportDialer(name string, logger *log.Logger) (Dialer, error) {
	switch name {
	case "", config.TransportSSE:
		return func(url, apiKey string) stream.Factory {
			return sse.Factory(url, apiKey, sse.WithLogger(logger))
		}, nil
	case config.TransportWebSocket:
		return func(url, apiKey string) stream.Factory {
			return wsfeed.Factory(url, apiKey, wsfeed.WithLogger(logger))
		}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q (supported: sse, websocket)", name)
	}
}

// Outcome is the reconciled result of one action.
type Outcome struct {
	Kind   api.ProgressKind
	Mode   progress.Mode
	State  progress.State
	Result json.RawMessage
}

// Succeeded reports whether either signal completed the job.
func (o Outcome) Succeeded() bool {
	return Done(o.State, o.Mode)
}

// Observer receives every snapshot of every slot.
type Observer func(kind api.ProgressKind, s progress.State)

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithDialer sets the progress transport.
func WithDialer(d Dialer) ServiceOption {
	return func(s *Service) { s.dial = d }
}

// WithLogger sets the logger of the service, its runner and its slots.
func WithLogger(l *log.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithObserver registers a snapshot observer for all slots.
func WithObserver(o Observer) ServiceOption {
	return func(s *Service) { s.observer = o }
}

// WithRunner replaces the default runner.
func WithRunner(r *Runner) ServiceOption {
	return func(s *Service) { s.runner = r }
}

// Service binds the cash-report actions to their REST call and progress
// stream. Each action owns its own slot, so a failed settlement never hides
// the state of an upload.
type Service struct {
	client   *api.Client
	dial     Dialer
	logger   *log.Logger
	observer Observer
	runner   *Runner

	slots map[api.ProgressKind]*stream.Controller
}

// NewService creates a service with one idle slot per action.
//
// Parameters:
//   - client: REST client; its base URL also locates progress endpoints
//   - opts: Transport, logger, observer and runner options
//
// Returns:
//   - *Service: The service
func NewService(client *api.Client, opts ...ServiceOption) *Service {
	s := &Service{
		client: client,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dial == nil {
		s.dial, _ = TransportDialer(config.TransportSSE, s.logger)
	}
	if s.runner == nil {
		s.runner = NewRunner(WithRunnerLogger(s.logger))
	}

	s.slots = map[api.ProgressKind]*stream.Controller{
		api.ProgressUpload:     s.newSlot(api.ProgressUpload, progress.ModeUpload),
		api.ProgressSettlement: s.newSlot(api.ProgressSettlement, progress.ModeWorkflow),
		api.ProgressOpenNew:    s.newSlot(api.ProgressOpenNew, progress.ModeWorkflow),
	}
	return s
}

func (s *Service) newSlot(kind api.ProgressKind, mode progress.Mode) *stream.Controller {
	opts := []stream.Option{stream.WithLogger(s.logger), stream.WithName(string(kind))}
	if s.observer != nil {
		observer := s.observer
		opts = append(opts, stream.WithObserver(func(st progress.State) { observer(kind, st) }))
	}
	return stream.NewController(mode, opts...)
}

// Slot returns the controller of an action.
func (s *Service) Slot(kind api.ProgressKind) *stream.Controller {
	return s.slots[kind]
}

// Close closes every slot's stream.
func (s *Service) Close() {
	for _, c := range s.slots {
		c.Close()
	}
}

// Upload uploads files into a session and follows parsing progress.
//
// Parameters:
//   - ctx: Context for cancellation
//   - sessionID: Target session
//   - paths: Statement files
//
// Returns:
//   - Outcome: The reconciled upload state and parse result
//   - error: The REST error, if any
func (s *Service) Upload(ctx context.Context, sessionID string, paths []string) (Outcome, error) {
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	s.logger.Debug("uploading", "session", sessionID, "files", names)

	return s.run(ctx, api.ProgressUpload, sessionID, SummarizeUpload, func(ctx context.Context) (json.RawMessage, error) {
		return s.client.UploadFiles(ctx, sessionID, paths)
	})
}

// RunSettlement runs settlement automation and follows its progress.
func (s *Service) RunSettlement(ctx context.Context, sessionID string, opts *api.ActionOptions) (Outcome, error) {
	return s.run(ctx, api.ProgressSettlement, sessionID, nil, func(ctx context.Context) (json.RawMessage, error) {
		return s.client.RunSettlement(ctx, sessionID, opts)
	})
}

// RunOpenNew runs open-new automation and follows its progress.
func (s *Service) RunOpenNew(ctx context.Context, sessionID string, opts *api.ActionOptions) (Outcome, error) {
	return s.run(ctx, api.ProgressOpenNew, sessionID, nil, func(ctx context.Context) (json.RawMessage, error) {
		return s.client.RunOpenNew(ctx, sessionID, opts)
	})
}

func (s *Service) run(ctx context.Context, kind api.ProgressKind, sessionID string, summarize func(json.RawMessage) string, call Action) (Outcome, error) {
	ctrl := s.slots[kind]
	job := Job{Name: string(kind), Call: call, Summarize: summarize}

	if url, err := s.client.ProgressURL(kind, sessionID); err != nil {
		s.logger.Warn("no progress stream for job", "job", kind, "err", err)
	} else {
		job.Stream = s.dial(url, s.client.GetAPIKey())
	}

	state, result, err := s.runner.Run(ctx, ctrl, job)
	return Outcome{Kind: kind, Mode: ctrl.Mode(), State: state, Result: result}, err
}
