package jobs

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// NewSessionID returns a fresh client-generated session ID.
func NewSessionID() string {
	return uuid.NewString()
}

// ValidSessionID reports whether id looks like a session ID the backend
// accepts: a UUID or a short slug without path separators.
func ValidSessionID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	if _, err := uuid.Parse(id); err == nil {
		return true
	}
	return !strings.ContainsAny(id, "/\\?# ")
}

// SummarizeUpload describes a parse result in one line.
func SummarizeUpload(result json.RawMessage) string {
	r := gjson.ParseBytes(result)
	var parts []string
	if n := r.Get("files_processed"); n.Exists() {
		parts = append(parts, plural(n.Int(), "file", "files")+" parsed")
	}
	if n := r.Get("total_transactions_added"); n.Exists() {
		parts = append(parts, plural(n.Int(), "transaction", "transactions")+" added")
	}
	if n := r.Get("files_failed"); n.Exists() && n.Int() > 0 {
		parts = append(parts, plural(n.Int(), "file", "files")+" failed")
	}
	if len(parts) == 0 {
		if m := r.Get("message").String(); m != "" {
			return m
		}
		return "Upload complete"
	}
	return strings.Join(parts, ", ")
}

// SummarizeWorkflow describes a settlement or open-new result in one line.
func SummarizeWorkflow(result json.RawMessage) string {
	r := gjson.ParseBytes(result)
	if m := r.Get("message").String(); m != "" {
		return m
	}
	var parts []string
	for _, f := range []struct{ path, one, many, verb string }{
		{"rows_updated", "row", "rows", "updated"},
		{"rows_added", "row", "rows", "added"},
		{"settled_count", "entry", "entries", "settled"},
		{"unmatched_count", "entry", "entries", "unmatched"},
	} {
		if n := r.Get(f.path); n.Exists() {
			parts = append(parts, plural(n.Int(), f.one, f.many)+" "+f.verb)
		}
	}
	if len(parts) == 0 {
		return "Completed"
	}
	return strings.Join(parts, ", ")
}

func plural(n int64, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", one)
	}
	return fmt.Sprintf("%d %s", n, many)
}
