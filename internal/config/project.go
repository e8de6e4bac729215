// Package config provides project configuration management.
//
// This file handles reading and writing .finops/config.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// ProjectDir is the per-project configuration directory.
	ProjectDir = ".finops"

	// ProjectFile is the config file name inside ProjectDir.
	ProjectFile = "config.yaml"

	// TransportSSE streams progress over Server-Sent Events.
	TransportSSE = "sse"

	// TransportWebSocket streams progress over a WebSocket.
	TransportWebSocket = "websocket"
)

// ErrNoProject is returned when no .finops/config.yaml is found.
var ErrNoProject = errors.New("no .finops/config.yaml found")

// ProjectConfig represents the .finops/config.yaml file.
type ProjectConfig struct {
	// BackendURL overrides the production backend for this project.
	BackendURL string `yaml:"backend_url,omitempty"`

	// Project contains project identification.
	Project Project `yaml:"project"`

	// Stream configures progress-stream transport.
	Stream StreamConfig `yaml:"stream,omitempty"`

	// Watch configures the inbox watcher.
	Watch WatchConfig `yaml:"watch,omitempty"`

	// Sessions maps session aliases to session IDs.
	Sessions map[string]string `yaml:"sessions,omitempty"`

	// Defaults contains default settings.
	Defaults Defaults `yaml:"defaults,omitempty"`
}

// Project contains project identification.
type Project struct {
	// ID is the backend project ID (optional).
	ID string `yaml:"id,omitempty"`

	// Name is the project name.
	Name string `yaml:"name"`
}

// StreamConfig configures how progress streams are consumed.
type StreamConfig struct {
	// Transport is "sse" (default) or "websocket".
	Transport string `yaml:"transport,omitempty"`

	// PathPrefix is prepended to progress endpoint paths, for deployments
	// that mount progress routes away from the REST prefix.
	PathPrefix string `yaml:"path_prefix,omitempty"`
}

// WatchConfig configures the inbox watcher.
type WatchConfig struct {
	// Patterns are glob patterns of files to pick up.
	Patterns []string `yaml:"patterns,omitempty"`

	// Debounce is how long a file must stay quiet before upload.
	Debounce time.Duration `yaml:"debounce,omitempty"`
}

// Defaults contains default settings.
type Defaults struct {
	// Timeout is the default REST timeout in seconds for long-running jobs.
	Timeout int `yaml:"timeout,omitempty"`

	// SettlementDateFormat is the date layout shown in settlement previews.
	SettlementDateFormat string `yaml:"settlement_date_format,omitempty"`
}

// DefaultWatchPatterns are used when watch.patterns is empty.
var DefaultWatchPatterns = []string{"*.pdf", "*.zip", "*.csv", "*.xlsx"}

// DefaultWatchDebounce is used when watch.debounce is zero.
const DefaultWatchDebounce = 2 * time.Second

// Validate checks enumerated fields.
//
// Returns:
//   - error: Validation error or nil if valid
func (c *ProjectConfig) Validate() error {
	switch c.Stream.Transport {
	case "", TransportSSE, TransportWebSocket:
	default:
		return fmt.Errorf("stream.transport: unknown transport %q (supported: sse, websocket)", c.Stream.Transport)
	}
	for _, p := range c.Watch.Patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return fmt.Errorf("watch.patterns: %q: %w", p, err)
		}
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce: must not be negative")
	}
	return nil
}

// TransportOrDefault returns the configured transport, defaulting to SSE.
func (c *ProjectConfig) TransportOrDefault() string {
	if c == nil || c.Stream.Transport == "" {
		return TransportSSE
	}
	return c.Stream.Transport
}

// WatchPatterns returns the configured patterns or DefaultWatchPatterns.
func (c *ProjectConfig) WatchPatterns() []string {
	if c == nil || len(c.Watch.Patterns) == 0 {
		return DefaultWatchPatterns
	}
	return c.Watch.Patterns
}

// WatchDebounce returns the configured debounce or DefaultWatchDebounce.
func (c *ProjectConfig) WatchDebounce() time.Duration {
	if c == nil || c.Watch.Debounce == 0 {
		return DefaultWatchDebounce
	}
	return c.Watch.Debounce
}

// ResolveSession maps an alias to its session ID. Unknown names are returned
// unchanged so raw IDs pass through.
func (c *ProjectConfig) ResolveSession(nameOrID string) string {
	if c != nil {
		if id, ok := c.Sessions[nameOrID]; ok {
			return id
		}
	}
	return nameOrID
}

// LoadProjectConfig loads a project configuration from a file.
//
// Parameters:
//   - path: Path to the config.yaml file
//
// Returns:
//   - *ProjectConfig: The loaded configuration
//   - error: Any error that occurred during loading
func LoadProjectConfig(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	if cfg.Sessions == nil {
		cfg.Sessions = make(map[string]string)
	}

	return &cfg, nil
}

// WriteProjectConfig writes a project configuration to a file.
//
// Parameters:
//   - path: Path to write the config.yaml file
//   - cfg: The configuration to write
//
// Returns:
//   - error: Any error that occurred during writing
func WriteProjectConfig(path string, cfg *ProjectConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# finops CLI Configuration\n\n"
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(header+string(data)), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// FindProjectConfig searches upward from dir for .finops/config.yaml.
//
// Parameters:
//   - dir: Directory to start from
//
// Returns:
//   - string: Path of the config file
//   - error: ErrNoProject when none exists up to the filesystem root
func FindProjectConfig(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, ProjectDir, ProjectFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNoProject
		}
		dir = parent
	}
}

// LoadNearestProjectConfig loads the closest project config above dir. A
// missing config is not an error: it returns nil and the empty path.
func LoadNearestProjectConfig(dir string) (*ProjectConfig, string, error) {
	path, err := FindProjectConfig(dir)
	if errors.Is(err, ErrNoProject) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	cfg, err := LoadProjectConfig(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}
