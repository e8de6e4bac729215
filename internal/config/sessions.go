// Package config provides project configuration management.
//
// This file handles the local session history in .finops/sessions.json: the
// cash-report sessions this workspace created and the one commands default to.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// SessionsFile is the history file name inside ProjectDir.
const SessionsFile = "sessions.json"

// maxHistory bounds how many sessions the history keeps.
const maxHistory = 50

// SessionHistory represents the .finops/sessions.json file.
type SessionHistory struct {
	// Active is the session commands use when none is given.
	Active string `json:"active"`

	// Sessions lists known sessions, newest first.
	Sessions []SessionRecord `json:"sessions"`
}

// SessionRecord is one locally known session.
type SessionRecord struct {
	// ID is the backend session ID.
	ID string `json:"id"`

	// CreatedAt is when the session was first used from this workspace (RFC3339).
	CreatedAt string `json:"created_at"`

	// Files lists the file names uploaded into the session.
	Files []string `json:"files,omitempty"`

	// LastAction is the most recent action run against the session.
	LastAction string `json:"last_action,omitempty"`

	// LastOutcome is the phase that action ended in.
	LastOutcome string `json:"last_outcome,omitempty"`
}

// ErrNoActiveSession is returned when a command needs a session and none is
// active.
var ErrNoActiveSession = errors.New("no active session; pass --session or run 'finops upload' first")

// SessionsPath returns the history path for a workspace root.
func SessionsPath(root string) string {
	return filepath.Join(root, ProjectDir, SessionsFile)
}

// LoadSessionHistory reads the session history. A missing file yields an
// empty history.
//
// Parameters:
//   - root: Workspace root containing .finops/
//
// Returns:
//   - *SessionHistory: The parsed history
//   - error: Error if the file exists but cannot be parsed
func LoadSessionHistory(root string) (*SessionHistory, error) {
	data, err := os.ReadFile(SessionsPath(root))
	if err != nil {
		if os.IsNotExist(err) {
			return &SessionHistory{}, nil
		}
		return nil, fmt.Errorf("failed to read .finops/sessions.json: %w", err)
	}

	var h SessionHistory
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("failed to parse .finops/sessions.json: %w", err)
	}
	return &h, nil
}

// Save writes the history under root.
func (h *SessionHistory) Save(root string) error {
	path := SessionsPath(root)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create .finops directory: %w", err)
	}
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session history: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write .finops/sessions.json: %w", err)
	}
	return nil
}

// Find returns the record of a session.
func (h *SessionHistory) Find(id string) (*SessionRecord, bool) {
	for i := range h.Sessions {
		if h.Sessions[i].ID == id {
			return &h.Sessions[i], true
		}
	}
	return nil, false
}

// Touch records a session, moves it to the front and makes it active.
//
// Parameters:
//   - id: The session ID
//   - files: File names to merge into the record
//   - now: Timestamp for new records
func (h *SessionHistory) Touch(id string, files []string, now time.Time) *SessionRecord {
	rec := SessionRecord{ID: id, CreatedAt: now.UTC().Format(time.RFC3339)}
	rest := make([]SessionRecord, 0, len(h.Sessions)+1)
	for _, r := range h.Sessions {
		if r.ID == id {
			rec = r
			continue
		}
		rest = append(rest, r)
	}
	rec.Files = mergeNames(rec.Files, files)

	h.Sessions = append([]SessionRecord{rec}, rest...)
	if len(h.Sessions) > maxHistory {
		h.Sessions = h.Sessions[:maxHistory]
	}
	h.Active = id
	return &h.Sessions[0]
}

// RecordOutcome stores the last action and its phase for a session.
func (h *SessionHistory) RecordOutcome(id, action, outcome string) {
	if rec, ok := h.Find(id); ok {
		rec.LastAction = action
		rec.LastOutcome = outcome
	}
}

// Remove forgets a session. Removing the active session clears Active.
func (h *SessionHistory) Remove(id string) bool {
	for i, r := range h.Sessions {
		if r.ID == id {
			h.Sessions = append(h.Sessions[:i], h.Sessions[i+1:]...)
			if h.Active == id {
				h.Active = ""
			}
			return true
		}
	}
	return false
}

// ResolveActive returns explicit when set, else the active session.
func (h *SessionHistory) ResolveActive(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if h == nil || h.Active == "" {
		return "", ErrNoActiveSession
	}
	return h.Active, nil
}

func mergeNames(existing, add []string) []string {
	seen := make(map[string]bool, len(existing)+len(add))
	for _, n := range existing {
		seen[n] = true
	}
	out := append([]string(nil), existing...)
	for _, n := range add {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// FindWorkspaceRoot walks up from dir looking for a .finops/ directory.
//
// Parameters:
//   - dir: Starting directory to search from.
//
// Returns:
//   - string: The workspace root containing .finops/.
//   - error: Error if no .finops/ directory is found before reaching /.
func FindWorkspaceRoot(dir string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	current := absDir
	for {
		if info, err := os.Stat(filepath.Join(current, ProjectDir)); err == nil && info.IsDir() {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no .finops/ directory found (searched from %s to /)", absDir)
		}
		current = parent
	}
}
