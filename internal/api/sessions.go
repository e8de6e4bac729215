package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/finops/cli/internal/config"
)

// Session is a cash-report working session on the backend.
type Session struct {
	ID            string   `json:"session_id"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at,omitempty"`
	Status        string   `json:"status"`
	Files         []string `json:"files,omitempty"`
	Transactions  int      `json:"total_transactions,omitempty"`
	HasSettlement bool     `json:"has_settlement"`
	HasOpenNew    bool     `json:"has_open_new"`
	HasReconcile  bool     `json:"has_reconcile"`
}

// SessionList is the response of ListSessions.
type SessionList struct {
	Sessions []Session `json:"sessions"`
	Count    int       `json:"count"`
}

// ActionOptions are optional parameters of settlement and open-new runs.
type ActionOptions struct {
	// LookupDate restricts the run to transactions up to this date (YYYY-MM-DD).
	LookupDate string `json:"lookup_date,omitempty"`

	// DryRun computes the result without writing the report.
	DryRun bool `json:"dry_run,omitempty"`
}

// UploadFiles uploads statements into a session and waits for parsing.
//
// The multipart body is streamed, so large statement archives are not held
// in memory.
//
// Parameters:
//   - ctx: Context for cancellation
//   - sessionID: Target session
//   - paths: Files to upload under the "files" field
//
// Returns:
//   - json.RawMessage: The parse result object
//   - error: File, transport or API error
func (c *Client) UploadFiles(ctx context.Context, sessionID string, paths []string) (json.RawMessage, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files to upload")
	}
	path, err := sessionPath(sessionID, "/upload")
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("failed to open file: %w", err)
		}
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeFiles(writer, paths))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.jobClient.Do(req)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	return parseRaw(resp)
}

func writeFiles(writer *multipart.Writer, paths []string) error {
	for _, p := range paths {
		if err := writeFile(writer, p); err != nil {
			return err
		}
	}
	return writer.Close()
}

func writeFile(writer *multipart.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	part, err := writer.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("failed to copy file: %w", err)
	}
	return nil
}

// RunSettlement runs settlement automation and waits for its result.
func (c *Client) RunSettlement(ctx context.Context, sessionID string, opts *ActionOptions) (json.RawMessage, error) {
	return c.runAction(ctx, sessionID, "/settlement", opts)
}

// RunOpenNew runs open-new automation and waits for its result.
func (c *Client) RunOpenNew(ctx context.Context, sessionID string, opts *ActionOptions) (json.RawMessage, error) {
	return c.runAction(ctx, sessionID, "/open-new", opts)
}

// RunReconcile reconciles the session's report against its statements.
// It has no progress stream.
func (c *Client) RunReconcile(ctx context.Context, sessionID string) (json.RawMessage, error) {
	return c.runAction(ctx, sessionID, "/reconcile", nil)
}

func (c *Client) runAction(ctx context.Context, sessionID, suffix string, opts *ActionOptions) (json.RawMessage, error) {
	path, err := sessionPath(sessionID, suffix)
	if err != nil {
		return nil, err
	}
	var body interface{}
	if opts != nil {
		body = opts
	}
	resp, err := c.doRequest(ctx, c.jobClient, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	return parseRaw(resp)
}

// PreviewSettlement returns what a settlement run would change.
func (c *Client) PreviewSettlement(ctx context.Context, sessionID string) (json.RawMessage, error) {
	return c.getRaw(ctx, sessionID, "/settlement/preview")
}

// PreviewOpenNew returns what an open-new run would add.
func (c *Client) PreviewOpenNew(ctx context.Context, sessionID string) (json.RawMessage, error) {
	return c.getRaw(ctx, sessionID, "/open-new/preview")
}

func (c *Client) getRaw(ctx context.Context, sessionID, suffix string) (json.RawMessage, error) {
	path, err := sessionPath(sessionID, suffix)
	if err != nil {
		return nil, err
	}
	resp, err := c.doRequest(ctx, c.httpClient, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return parseRaw(resp)
}

// GetSessionStatus returns the session's state.
func (c *Client) GetSessionStatus(ctx context.Context, sessionID string) (*Session, error) {
	path, err := sessionPath(sessionID, "/status")
	if err != nil {
		return nil, err
	}
	resp, err := c.doRequest(ctx, c.httpClient, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var s Session
	if err := parseResponse(resp, &s); err != nil {
		return nil, err
	}
	if s.ID == "" {
		s.ID = sessionID
	}
	return &s, nil
}

// ListSessions lists the caller's sessions.
func (c *Client) ListSessions(ctx context.Context) (*SessionList, error) {
	resp, err := c.doRequest(ctx, c.httpClient, http.MethodGet, config.CashReportPrefix+"/sessions", nil)
	if err != nil {
		return nil, err
	}
	var list SessionList
	if err := parseResponse(resp, &list); err != nil {
		return nil, err
	}
	if list.Count == 0 {
		list.Count = len(list.Sessions)
	}
	return &list, nil
}

// ResetSession clears a session's uploads and results.
func (c *Client) ResetSession(ctx context.Context, sessionID string) error {
	path, err := sessionPath(sessionID, "/reset")
	if err != nil {
		return err
	}
	resp, err := c.doRequest(ctx, c.httpClient, http.MethodPost, path, nil)
	if err != nil {
		return err
	}
	return parseResponse(resp, nil)
}

// DeleteSession deletes a session.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	path, err := sessionPath(sessionID, "")
	if err != nil {
		return err
	}
	resp, err := c.doRequest(ctx, c.httpClient, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	return parseResponse(resp, nil)
}

// DownloadResult streams the session's report workbook into w.
//
// Parameters:
//   - ctx: Context for cancellation
//   - sessionID: The session
//   - w: Destination of the file body
//
// Returns:
//   - string: The server-suggested file name, or "" when none was sent
//   - int64: Bytes written
//   - error: Transport, API or write error
func (c *Client) DownloadResult(ctx context.Context, sessionID string, w io.Writer) (string, int64, error) {
	path, err := sessionPath(sessionID, "/download")
	if err != nil {
		return "", 0, err
	}
	resp, err := c.doRequest(ctx, c.jobClient, http.MethodGet, path, nil)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", 0, errorFromResponse(resp)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return "", n, fmt.Errorf("download failed: %w", err)
	}
	return contentDispositionName(resp.Header.Get("Content-Disposition")), n, nil
}
