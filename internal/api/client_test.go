package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  APIError
		want string
	}{
		{"message and detail", APIError{StatusCode: 400, Message: "bad", Detail: "why"}, "bad: why"},
		{"message only", APIError{StatusCode: 400, Message: "bad"}, "bad"},
		{"detail only", APIError{StatusCode: 422, Detail: "why"}, "why"},
		{"status fallback", APIError{StatusCode: 503}, "HTTP 503: Service Unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorFromResponse(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantMsg    string
		wantDetail string
	}{
		{"fastapi detail", `{"detail":"Session not found"}`, "", "Session not found"},
		{"validation list", `{"detail":[{"msg":"field required","loc":["body","files"]},{"msg":"bad date"}]}`, "", "field required; bad date"},
		{"error field", `{"error":"upstream failed","detail":"timeout"}`, "upstream failed", "timeout"},
		{"plain text", `gateway exploded`, "", "gateway exploded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: 500, Body: io.NopCloser(strings.NewReader(tt.body))}
			var apiErr *APIError
			if !errors.As(errorFromResponse(resp), &apiErr) {
				t.Fatal("errorFromResponse() is not *APIError")
			}
			if apiErr.Message != tt.wantMsg || apiErr.Detail != tt.wantDetail {
				t.Errorf("got message=%q detail=%q, want %q/%q", apiErr.Message, apiErr.Detail, tt.wantMsg, tt.wantDetail)
			}
		})
	}
}

func TestClient_ActionsHitSessionEndpoints(t *testing.T) {
	type call struct{ method, path, body string }
	var calls []call
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		calls = append(calls, call{r.Method, r.URL.EscapedPath(), string(body)})
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("%s %s: Authorization = %q", r.Method, r.URL.Path, r.Header.Get("Authorization"))
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/status"):
			io.WriteString(w, `{"status":"ready","files":["a.pdf"],"has_settlement":true}`)
		case r.URL.Path == "/api/cash-report/sessions":
			io.WriteString(w, `{"sessions":[{"session_id":"s1"},{"session_id":"s2"}]}`)
		case r.Method == http.MethodDelete, strings.HasSuffix(r.URL.Path, "/reset"):
			w.WriteHeader(http.StatusNoContent)
		default:
			io.WriteString(w, `{"ok":true}`)
		}
	}))
	defer server.Close()

	c := NewClientWithBaseURL("k", server.URL+"/")
	ctx := context.Background()

	if _, err := c.RunSettlement(ctx, "s1", &ActionOptions{LookupDate: "2026-03-31"}); err != nil {
		t.Fatalf("RunSettlement() error = %v", err)
	}
	if _, err := c.RunOpenNew(ctx, "s1", nil); err != nil {
		t.Fatalf("RunOpenNew() error = %v", err)
	}
	if _, err := c.RunReconcile(ctx, "s1"); err != nil {
		t.Fatalf("RunReconcile() error = %v", err)
	}
	if _, err := c.PreviewSettlement(ctx, "s1"); err != nil {
		t.Fatalf("PreviewSettlement() error = %v", err)
	}
	if _, err := c.PreviewOpenNew(ctx, "s1"); err != nil {
		t.Fatalf("PreviewOpenNew() error = %v", err)
	}
	sess, err := c.GetSessionStatus(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSessionStatus() error = %v", err)
	}
	if sess.ID != "s1" || !sess.HasSettlement || sess.Status != "ready" {
		t.Errorf("GetSessionStatus() = %+v", sess)
	}
	list, err := c.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if list.Count != 2 {
		t.Errorf("ListSessions().Count = %d, want 2", list.Count)
	}
	if err := c.ResetSession(ctx, "s1"); err != nil {
		t.Fatalf("ResetSession() error = %v", err)
	}
	if err := c.DeleteSession(ctx, "a b"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}

	want := []call{
		{"POST", "/api/cash-report/sessions/s1/settlement", `{"lookup_date":"2026-03-31"}`},
		{"POST", "/api/cash-report/sessions/s1/open-new", ""},
		{"POST", "/api/cash-report/sessions/s1/reconcile", ""},
		{"GET", "/api/cash-report/sessions/s1/settlement/preview", ""},
		{"GET", "/api/cash-report/sessions/s1/open-new/preview", ""},
		{"GET", "/api/cash-report/sessions/s1/status", ""},
		{"GET", "/api/cash-report/sessions", ""},
		{"POST", "/api/cash-report/sessions/s1/reset", ""},
		{"DELETE", "/api/cash-report/sessions/a%20b", ""},
	}
	if len(calls) != len(want) {
		t.Fatalf("got %d calls %+v, want %d", len(calls), calls, len(want))
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %+v, want %+v", i, calls[i], want[i])
		}
	}
}

func TestClient_ActionReturnsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, `{"detail":"Lookup service unavailable"}`)
	}))
	defer server.Close()

	_, err := NewClientWithBaseURL("", server.URL).RunSettlement(context.Background(), "s1", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway || apiErr.UserMessage() != "Lookup service unavailable" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestClient_EmptyBodyIsEmptyObject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	got, err := NewClientWithBaseURL("", server.URL).RunOpenNew(context.Background(), "s1", nil)
	if err != nil {
		t.Fatalf("RunOpenNew() error = %v", err)
	}
	if string(got) != `{}` {
		t.Errorf("result = %s, want {}", got)
	}
}

func TestClient_RejectsEmptySessionID(t *testing.T) {
	c := NewClientWithBaseURL("", "http://unused.invalid")
	if _, err := c.RunSettlement(context.Background(), "", nil); err == nil {
		t.Error("RunSettlement(\"\") error = nil")
	}
	if _, err := c.ProgressURL(ProgressUpload, ""); err == nil {
		t.Error("ProgressURL(upload, \"\") error = nil")
	}
}

func TestClient_UploadFiles(t *testing.T) {
	dir := t.TempDir()
	paths := []string{filepath.Join(dir, "hsbc.pdf"), filepath.Join(dir, "dbs.zip")}
	for i, p := range paths {
		if err := os.WriteFile(p, bytes.Repeat([]byte{byte('a' + i)}, 1024), 0644); err != nil {
			t.Fatal(err)
		}
	}

	var names []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/cash-report/sessions/s1/upload" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm() error = %v", err)
			return
		}
		for _, fh := range r.MultipartForm.File["files"] {
			names = append(names, fh.Filename)
			if fh.Size != 1024 {
				t.Errorf("%s size = %d", fh.Filename, fh.Size)
			}
		}
		json.NewEncoder(w).Encode(map[string]int{"files_processed": len(names)})
	}))
	defer server.Close()

	got, err := NewClientWithBaseURL("", server.URL).UploadFiles(context.Background(), "s1", paths)
	if err != nil {
		t.Fatalf("UploadFiles() error = %v", err)
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "dbs.zip" || names[1] != "hsbc.pdf" {
		t.Errorf("uploaded names = %v", names)
	}
	if !strings.Contains(string(got), `"files_processed":2`) {
		t.Errorf("result = %s", got)
	}
}

func TestClient_UploadFilesMissingFile(t *testing.T) {
	c := NewClientWithBaseURL("", "http://unused.invalid")
	if _, err := c.UploadFiles(context.Background(), "s1", []string{"/does/not/exist.pdf"}); err == nil {
		t.Error("UploadFiles(missing) error = nil")
	}
	if _, err := c.UploadFiles(context.Background(), "s1", nil); err == nil {
		t.Error("UploadFiles(nil) error = nil")
	}
}

func TestClient_DownloadResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="cash-report-2026-03.xlsx"`)
		io.WriteString(w, "PK\x03\x04workbook")
	}))
	defer server.Close()

	var buf bytes.Buffer
	name, n, err := NewClientWithBaseURL("", server.URL).DownloadResult(context.Background(), "s1", &buf)
	if err != nil {
		t.Fatalf("DownloadResult() error = %v", err)
	}
	if name != "cash-report-2026-03.xlsx" || n != int64(buf.Len()) || !strings.HasPrefix(buf.String(), "PK") {
		t.Errorf("DownloadResult() = %q, %d, body %q", name, n, buf.String())
	}
}

func TestClient_ProgressURL(t *testing.T) {
	c := NewClientWithBaseURL("", "http://localhost:8000")
	tests := []struct {
		kind   ProgressKind
		prefix string
		want   string
	}{
		{ProgressUpload, "", "http://localhost:8000/api/cash-report/upload-progress/s1"},
		{ProgressSettlement, "", "http://localhost:8000/api/cash-report/settlement-progress/s1"},
		{ProgressOpenNew, "/stream/", "http://localhost:8000/stream/open-new-progress/s1"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			c.SetProgressPrefix(tt.prefix)
			got, err := c.ProgressURL(tt.kind, "s1")
			if err != nil {
				t.Fatalf("ProgressURL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ProgressURL() = %q, want %q", got, tt.want)
			}
		})
	}
	if _, err := c.ProgressURL("reconcile", "s1"); err == nil {
		t.Error("ProgressURL(reconcile) error = nil")
	}
}
