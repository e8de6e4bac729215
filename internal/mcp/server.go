// Package mcp provides the MCP (Model Context Protocol) server implementation.
//
// This package exposes the cash-report jobs as tools that AI agents can call
// over stdio. Every job tool blocks until the job is reconciled and returns
// the final state.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/finops/cli/internal/api"
	"github.com/finops/cli/internal/auth"
	"github.com/finops/cli/internal/config"
	"github.com/finops/cli/internal/jobs"
	"github.com/finops/cli/internal/preflight"
)

// Server wraps the MCP server with finops-specific functionality.
type Server struct {
	mcpServer *mcp.Server
	apiClient *api.Client
	service   *jobs.Service
	config    *config.ProjectConfig
	logger    *log.Logger

	// root is the workspace root holding .finops/; "" disables session history.
	root    string
	version string

	// jobMu serializes job tools, since each action has a single slot.
	jobMu sync.Mutex
}

// NewServer creates a new finops MCP server.
//
// Parameters:
//   - version: The CLI version string
//   - devMode: Whether to target the local backend
//   - logger: Logger for job diagnostics; must not write to stdout
//
// Returns:
//   - *Server: A new server instance
//   - error: Any error that occurred during initialization
func NewServer(version string, devMode bool, logger *log.Logger) (*Server, error) {
	apiKey, err := auth.NewManager().RequireAPIKey()
	if err != nil {
		return nil, err
	}

	workDir, err := os.Getwd()
	if err != nil {
		workDir = "."
	}

	cfg, _, err := config.LoadNearestProjectConfig(workDir)
	if err != nil {
		return nil, err
	}
	root, _ := config.FindWorkspaceRoot(workDir)

	client := api.NewClientWithBaseURL(apiKey, config.ResolveBackendURL(cfg, devMode))
	if cfg != nil {
		client.SetProgressPrefix(cfg.Stream.PathPrefix)
		if cfg.Defaults.Timeout > 0 {
			client.SetJobTimeout(time.Duration(cfg.Defaults.Timeout) * time.Second)
		}
	}

	dial, err := jobs.TransportDialer(cfg.TransportOrDefault(), logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		apiClient: client,
		service:   jobs.NewService(client, jobs.WithDialer(dial), jobs.WithLogger(logger)),
		config:    cfg,
		logger:    logger,
		root:      root,
		version:   version,
	}

	s.mcpServer = mcp.NewServer(
		&mcp.Implementation{
			Name:    "finops",
			Version: version,
		},
		nil,
	)
	s.registerTools()

	return s, nil
}

// Run starts the MCP server over stdio and closes open streams on return.
//
// Parameters:
//   - ctx: Context for cancellation
//
// Returns:
//   - error: Any error that occurred during execution
func (s *Server) Run(ctx context.Context) error {
	defer s.service.Close()
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "upload_files",
		Description: "Upload bank statements (PDF, ZIP, CSV, XLSX) into a cash-report session and wait until they are parsed. Creates a session when none is given or active.",
	}, s.handleUploadFiles)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "run_settlement",
		Description: "Run settlement automation for a session and wait for it to finish. Returns the completed steps and the result.",
	}, s.handleRunSettlement)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "run_open_new",
		Description: "Run open-new automation for a session and wait for it to finish. Returns the completed steps and the result.",
	}, s.handleRunOpenNew)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "session_status",
		Description: "Get the backend status of a session and what this workspace last ran against it.",
	}, s.handleSessionStatus)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "inspect_files",
		Description: "Check statement files locally before upload: type, size, page count and encryption.",
	}, s.handleInspectFiles)
}

// StepEntry is one upload activity entry.
type StepEntry struct {
	Type    string `json:"type"`
	Step    string `json:"step,omitempty"`
	Message string `json:"message,omitempty"`
}

// JobOutput is the reconciled final state of a job tool.
type JobOutput struct {
	Success        bool           `json:"success"`
	SessionID      string         `json:"session_id,omitempty"`
	Phase          string         `json:"phase,omitempty"`
	Summary        string         `json:"summary,omitempty"`
	CompletedSteps []string       `json:"completed_steps,omitempty"`
	Steps          []StepEntry    `json:"steps,omitempty"`
	Result         map[string]any `json:"result,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
}

// UploadFilesInput defines the input parameters for the upload_files tool.
type UploadFilesInput struct {
	SessionID string   `json:"session_id,omitempty" jsonschema:"description=Session ID or alias; defaults to the active session or a new one"`
	Paths     []string `json:"paths" jsonschema:"description=Paths of the statement files to upload"`
}

func (s *Server) handleUploadFiles(ctx context.Context, req *mcp.CallToolRequest, input UploadFilesInput) (*mcp.CallToolResult, JobOutput, error) {
	if len(input.Paths) == 0 {
		return nil, JobOutput{ErrorMessage: "paths is required"}, nil
	}
	if _, err := preflight.InspectAll(input.Paths); err != nil {
		return nil, JobOutput{ErrorMessage: err.Error()}, nil
	}

	sessionID := s.config.ResolveSession(input.SessionID)
	if sessionID == "" {
		if h := s.history(); h != nil && h.Active != "" {
			sessionID = h.Active
		} else {
			sessionID = jobs.NewSessionID()
		}
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	out, err := s.service.Upload(ctx, sessionID, input.Paths)
	s.record(sessionID, string(api.ProgressUpload), input.Paths, out)
	return nil, jobOutput(sessionID, out, err, jobs.SummarizeUpload), nil
}

// WorkflowInput defines the input parameters for the run_settlement and
// run_open_new tools.
type WorkflowInput struct {
	SessionID  string `json:"session_id,omitempty" jsonschema:"description=Session ID or alias; defaults to the active session"`
	LookupDate string `json:"lookup_date,omitempty" jsonschema:"description=Only consider transactions up to this date (YYYY-MM-DD)"`
	DryRun     bool   `json:"dry_run,omitempty" jsonschema:"description=Compute the result without writing the report"`
}

func (s *Server) handleRunSettlement(ctx context.Context, req *mcp.CallToolRequest, input WorkflowInput) (*mcp.CallToolResult, JobOutput, error) {
	return s.runWorkflow(ctx, api.ProgressSettlement, input, s.service.RunSettlement)
}

func (s *Server) handleRunOpenNew(ctx context.Context, req *mcp.CallToolRequest, input WorkflowInput) (*mcp.CallToolResult, JobOutput, error) {
	return s.runWorkflow(ctx, api.ProgressOpenNew, input, s.service.RunOpenNew)
}

type workflowFunc func(ctx context.Context, sessionID string, opts *api.ActionOptions) (jobs.Outcome, error)

func (s *Server) runWorkflow(ctx context.Context, kind api.ProgressKind, input WorkflowInput, run workflowFunc) (*mcp.CallToolResult, JobOutput, error) {
	sessionID, err := s.resolveSession(input.SessionID)
	if err != nil {
		return nil, JobOutput{ErrorMessage: err.Error()}, nil
	}
	if input.LookupDate != "" {
		if _, err := time.Parse(time.DateOnly, input.LookupDate); err != nil {
			return nil, JobOutput{SessionID: sessionID, ErrorMessage: "lookup_date must be YYYY-MM-DD"}, nil
		}
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	out, err := run(ctx, sessionID, &api.ActionOptions{LookupDate: input.LookupDate, DryRun: input.DryRun})
	s.record(sessionID, string(kind), nil, out)
	return nil, jobOutput(sessionID, out, err, jobs.SummarizeWorkflow), nil
}

// SessionStatusInput defines the input parameters for the session_status tool.
type SessionStatusInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"description=Session ID or alias; defaults to the active session"`
}

// SessionStatusOutput defines the output for the session_status tool.
type SessionStatusOutput struct {
	Success       bool     `json:"success"`
	SessionID     string   `json:"session_id,omitempty"`
	Status        string   `json:"status,omitempty"`
	Files         []string `json:"files,omitempty"`
	Transactions  int      `json:"total_transactions,omitempty"`
	HasSettlement bool     `json:"has_settlement"`
	HasOpenNew    bool     `json:"has_open_new"`
	HasReconcile  bool     `json:"has_reconcile"`
	LastAction    string   `json:"last_action,omitempty"`
	LastOutcome   string   `json:"last_outcome,omitempty"`
	ErrorMessage  string   `json:"error_message,omitempty"`
}

func (s *Server) handleSessionStatus(ctx context.Context, req *mcp.CallToolRequest, input SessionStatusInput) (*mcp.CallToolResult, SessionStatusOutput, error) {
	sessionID, err := s.resolveSession(input.SessionID)
	if err != nil {
		return nil, SessionStatusOutput{ErrorMessage: err.Error()}, nil
	}

	session, err := s.apiClient.GetSessionStatus(ctx, sessionID)
	if err != nil {
		return nil, SessionStatusOutput{SessionID: sessionID, ErrorMessage: userMessage(err)}, nil
	}

	out := SessionStatusOutput{
		Success:       true,
		SessionID:     sessionID,
		Status:        session.Status,
		Files:         session.Files,
		Transactions:  session.Transactions,
		HasSettlement: session.HasSettlement,
		HasOpenNew:    session.HasOpenNew,
		HasReconcile:  session.HasReconcile,
	}
	if h := s.history(); h != nil {
		if rec, ok := h.Find(sessionID); ok {
			out.LastAction = rec.LastAction
			out.LastOutcome = rec.LastOutcome
		}
	}
	return nil, out, nil
}

// InspectFilesInput defines the input parameters for the inspect_files tool.
type InspectFilesInput struct {
	Paths []string `json:"paths" jsonschema:"description=Paths of the statement files to check"`
}

// InspectFilesOutput defines the output for the inspect_files tool.
type InspectFilesOutput struct {
	Success      bool               `json:"success"`
	Files        []preflight.Report `json:"files,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
}

func (s *Server) handleInspectFiles(ctx context.Context, req *mcp.CallToolRequest, input InspectFilesInput) (*mcp.CallToolResult, InspectFilesOutput, error) {
	if len(input.Paths) == 0 {
		return nil, InspectFilesOutput{ErrorMessage: "paths is required"}, nil
	}
	reports, err := preflight.InspectAll(input.Paths)
	if err != nil {
		return nil, InspectFilesOutput{Files: reports, ErrorMessage: err.Error()}, nil
	}
	return nil, InspectFilesOutput{Success: true, Files: reports}, nil
}

func (s *Server) resolveSession(nameOrID string) (string, error) {
	if id := s.config.ResolveSession(nameOrID); id != "" {
		return id, nil
	}
	return s.history().ResolveActive("")
}

// history loads the session history, or returns nil outside a workspace.
func (s *Server) history() *config.SessionHistory {
	if s.root == "" {
		return nil
	}
	h, err := config.LoadSessionHistory(s.root)
	if err != nil {
		s.logger.Warn("ignoring session history", "err", err)
		return nil
	}
	return h
}

// record stores the job's session and outcome in the workspace history.
func (s *Server) record(sessionID, action string, files []string, out jobs.Outcome) {
	h := s.history()
	if h == nil {
		return
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, filepath.Base(f))
	}
	h.Touch(sessionID, names, time.Now())
	h.RecordOutcome(sessionID, action, string(out.State.Phase(out.Mode)))
	if err := h.Save(s.root); err != nil {
		s.logger.Warn("failed to save session history", "err", err)
	}
}

func jobOutput(sessionID string, out jobs.Outcome, err error, summarize func(json.RawMessage) string) JobOutput {
	st := out.State
	o := JobOutput{
		Success:        out.Succeeded() && err == nil,
		SessionID:      sessionID,
		Phase:          string(st.Phase(out.Mode)),
		CompletedSteps: st.CompletedSteps,
	}
	for _, ev := range st.Steps {
		o.Steps = append(o.Steps, StepEntry{Type: string(ev.Type), Step: ev.Step, Message: ev.Message})
	}

	result := st.Result
	if result == nil {
		result = out.Result
	}
	if len(result) > 0 {
		var m map[string]any
		if json.Unmarshal(result, &m) == nil {
			o.Result = m
		}
	}

	switch {
	case st.Failed():
		o.Success = false
		o.ErrorMessage = st.Error
	case err != nil:
		o.Success = false
		o.ErrorMessage = userMessage(err)
	default:
		o.Summary = summarize(result)
	}
	return o
}

func userMessage(err error) string {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr.UserMessage()
	}
	return err.Error()
}
