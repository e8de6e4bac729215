// Package api provides the HTTP client for the finops cash-report API.
//
// Action endpoints (upload, settlement, open-new, reconcile) block until the
// backend job finishes and return its result object, which the CLI treats as
// opaque JSON. Progress for those jobs is streamed separately; ProgressURL
// builds the stream endpoint of each action.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/oapi-codegen/runtime"

	"github.com/finops/cli/internal/config"
)

const (
	// DefaultTimeout is the timeout of short requests (status, list, reset).
	DefaultTimeout = 30 * time.Second

	// DefaultJobTimeout bounds action requests, which hold the connection
	// open for the whole backend job.
	DefaultJobTimeout = 15 * time.Minute

	userAgent = "finops-cli/1.0"
)

// Client is the finops API client.
type Client struct {
	baseURL        string
	apiKey         string
	progressPrefix string
	httpClient     *http.Client
	jobClient      *http.Client
}

// NewClient creates a new API client using production URLs.
//
// Parameters:
//   - apiKey: The API key for authentication
//
// Returns:
//   - *Client: A new client instance
func NewClient(apiKey string) *Client {
	return NewClientWithBaseURL(apiKey, config.ProdBackendURL)
}

// NewClientWithDevMode creates a new API client with dev mode support.
// When devMode is true, the client targets a local backend.
//
// Parameters:
//   - apiKey: The API key for authentication
//   - devMode: If true, use local development server URLs
//
// Returns:
//   - *Client: A new client instance
func NewClientWithDevMode(apiKey string, devMode bool) *Client {
	return NewClientWithBaseURL(apiKey, config.GetBackendURL(devMode))
}

// NewClientWithBaseURL creates a new API client with a custom base URL.
//
// Parameters:
//   - apiKey: The API key for authentication
//   - baseURL: The base URL for the API
//
// Returns:
//   - *Client: A new client instance
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		progressPrefix: config.CashReportPrefix,
		httpClient:     &http.Client{Timeout: DefaultTimeout},
		jobClient:      &http.Client{Timeout: DefaultJobTimeout},
	}
}

// SetJobTimeout changes the timeout of action requests. Zero disables it.
func (c *Client) SetJobTimeout(d time.Duration) {
	c.jobClient.Timeout = d
}

// SetProgressPrefix mounts progress endpoints under prefix instead of the
// cash-report prefix.
func (c *Client) SetProgressPrefix(prefix string) {
	if prefix == "" {
		prefix = config.CashReportPrefix
	}
	c.progressPrefix = "/" + strings.Trim(prefix, "/")
}

// GetAPIKey returns the API key used by this client.
func (c *Client) GetAPIKey() string {
	return c.apiKey
}

// BaseURL returns the backend URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
	Detail     string
}

// Error returns a human-readable error message.
//
// Returns:
//   - string: The error message, with fallback to HTTP status if no message available
func (e *APIError) Error() string {
	if e.Message != "" && e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Detail)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// UserMessage is the message shown in a failed progress view: the backend's
// own wording when it sent one.
func (e *APIError) UserMessage() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Error()
}

// sessionPath renders /sessions/{id}<suffix> under the cash-report prefix.
func sessionPath(sessionID, suffix string) (string, error) {
	id, err := runtime.StyleParamWithLocation("simple", false, "session_id", runtime.ParamLocationPath, sessionID)
	if err != nil {
		return "", fmt.Errorf("invalid session id %q: %w", sessionID, err)
	}
	if id == "" {
		return "", fmt.Errorf("session id is required")
	}
	return config.CashReportPrefix + "/sessions/" + id + suffix, nil
}

// doRequest performs an HTTP request with authentication.
func (c *Client) doRequest(ctx context.Context, client *http.Client, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Finops-Client", "cli")
}

// parseResponse parses the response body into the target struct.
func parseResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errorFromResponse(resp)
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// parseRaw returns the response body as opaque JSON. An empty body yields {}.
func parseRaw(resp *http.Response) (json.RawMessage, error) {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, errorFromResponse(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("failed to parse response: body is not JSON")
	}
	return json.RawMessage(body), nil
}

func errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	// FastAPI-style backends put the reason in detail; others use error or
	// message.
	var errResp struct {
		Error   string          `json:"error"`
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	json.Unmarshal(body, &errResp)

	message := errResp.Error
	if message == "" {
		message = errResp.Message
	}
	detail := detailString(errResp.Detail)

	if message == "" && detail == "" {
		bodyStr := strings.TrimSpace(string(body))
		if len(bodyStr) > 200 {
			bodyStr = bodyStr[:200] + "..."
		}
		detail = bodyStr
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Detail:     detail,
	}
}

// detailString flattens a detail field that is either a string or a list of
// validation errors.
func detailString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var items []struct {
		Msg string        `json:"msg"`
		Loc []interface{} `json:"loc"`
	}
	if err := json.Unmarshal(raw, &items); err == nil && len(items) > 0 {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return string(raw)
}

// ProgressKind names a progress stream endpoint.
type ProgressKind string

const (
	// ProgressUpload streams file parsing progress.
	ProgressUpload ProgressKind = "upload"

	// ProgressSettlement streams settlement automation progress.
	ProgressSettlement ProgressKind = "settlement"

	// ProgressOpenNew streams open-new automation progress.
	ProgressOpenNew ProgressKind = "open-new"
)

// ProgressURL returns the stream endpoint of a job.
//
// Parameters:
//   - kind: The job's progress kind
//   - sessionID: The session the job runs in
//
// Returns:
//   - string: Absolute URL of the progress endpoint
//   - error: Invalid kind or session id
func (c *Client) ProgressURL(kind ProgressKind, sessionID string) (string, error) {
	switch kind {
	case ProgressUpload, ProgressSettlement, ProgressOpenNew:
	default:
		return "", fmt.Errorf("unknown progress kind %q", kind)
	}
	id, err := runtime.StyleParamWithLocation("simple", false, "session_id", runtime.ParamLocationPath, sessionID)
	if err != nil || id == "" {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	return fmt.Sprintf("%s%s/%s-progress/%s", c.baseURL, c.progressPrefix, kind, id), nil
}

// ValidateAPIKeyResponse identifies the caller of an API key.
type ValidateAPIKeyResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Entity string `json:"entity"`
}

// ValidateAPIKey checks the client's key against the backend.
//
// Returns:
//   - *ValidateAPIKeyResponse: The key owner
//   - error: APIError 401 for rejected keys
func (c *Client) ValidateAPIKey(ctx context.Context) (*ValidateAPIKeyResponse, error) {
	resp, err := c.doRequest(ctx, c.httpClient, http.MethodGet, "/api/auth/me", nil)
	if err != nil {
		return nil, err
	}
	var result ValidateAPIKeyResponse
	if err := parseResponse(resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// contentDispositionName extracts the filename of an attachment.
func contentDispositionName(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["filename"]
}
