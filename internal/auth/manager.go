// Package auth provides authentication management for the finops CLI.
//
// This package handles storing and retrieving API credentials from
// the user's home directory (~/.finops/credentials.json).
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Credentials represents stored authentication credentials.
type Credentials struct {
	// APIKey is the finops API key for authentication.
	APIKey string `json:"api_key"`

	// Email is the user's email address (optional, for display).
	Email string `json:"email,omitempty"`

	// Entity is the legal entity the key is scoped to (optional).
	Entity string `json:"entity,omitempty"`

	// BackendURL records the backend the key was issued by (optional).
	BackendURL string `json:"backend_url,omitempty"`

	// FromEnv is set when the key came from FINOPS_API_KEY.
	FromEnv bool `json:"-"`
}

// EnvAPIKey overrides stored credentials when set.
const EnvAPIKey = "FINOPS_API_KEY"

// ErrNotAuthenticated is returned when no API key is available.
var ErrNotAuthenticated = errors.New("not authenticated; run 'finops auth login' or set FINOPS_API_KEY")

// Manager handles credential storage and retrieval.
type Manager struct {
	// configDir is the directory where credentials are stored.
	configDir string
}

// NewManager creates a new credential manager.
//
// Returns:
//   - *Manager: A new manager instance using ~/.finops as the config directory
func NewManager() *Manager {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return &Manager{
		configDir: filepath.Join(homeDir, ".finops"),
	}
}

// NewManagerWithDir creates a new credential manager with a custom directory.
//
// Parameters:
//   - configDir: The directory to store credentials in
//
// Returns:
//   - *Manager: A new manager instance
func NewManagerWithDir(configDir string) *Manager {
	return &Manager{
		configDir: configDir,
	}
}

// credentialsPath returns the path to the credentials file.
func (m *Manager) credentialsPath() string {
	return filepath.Join(m.configDir, "credentials.json")
}

// GetCredentials retrieves stored credentials.
//
// First checks for FINOPS_API_KEY environment variable, then falls back
// to stored credentials file.
//
// Returns:
//   - *Credentials: The stored credentials, or nil if not found
//   - error: Any error that occurred during retrieval
func (m *Manager) GetCredentials() (*Credentials, error) {
	// Check environment variable first (for CI/CD)
	if apiKey := strings.TrimSpace(os.Getenv(EnvAPIKey)); apiKey != "" {
		return &Credentials{APIKey: apiKey, FromEnv: true}, nil
	}

	data, err := os.ReadFile(m.credentialsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	return &creds, nil
}

// SaveCredentials stores credentials to disk.
//
// Parameters:
//   - creds: The credentials to store
//
// Returns:
//   - error: Any error that occurred during storage
func (m *Manager) SaveCredentials(creds *Credentials) error {
	if creds == nil || strings.TrimSpace(creds.APIKey) == "" {
		return fmt.Errorf("refusing to save credentials without an API key")
	}
	// Ensure config directory exists
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	// Write with restricted permissions (owner read/write only)
	if err := os.WriteFile(m.credentialsPath(), data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}

	return nil
}

// ClearCredentials removes stored credentials.
//
// Returns:
//   - error: Any error that occurred during removal
func (m *Manager) ClearCredentials() error {
	err := os.Remove(m.credentialsPath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	return nil
}

// IsAuthenticated checks if valid credentials exist.
//
// Returns:
//   - bool: True if credentials exist and have an API key
func (m *Manager) IsAuthenticated() bool {
	creds, err := m.GetCredentials()
	if err != nil {
		return false
	}
	return creds != nil && creds.APIKey != ""
}

// RequireAPIKey returns the API key or ErrNotAuthenticated.
//
// Returns:
//   - string: The API key
//   - error: ErrNotAuthenticated when none is configured, or a read error
func (m *Manager) RequireAPIKey() (string, error) {
	creds, err := m.GetCredentials()
	if err != nil {
		return "", err
	}
	if creds == nil || creds.APIKey == "" {
		return "", ErrNotAuthenticated
	}
	return creds.APIKey, nil
}

// MaskKey shortens a key for display, keeping its last four characters.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", 8) + key[len(key)-4:]
}
