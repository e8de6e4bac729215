package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestLoadProjectConfig(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantErr   bool
		transport string
		patterns  int
		debounce  time.Duration
	}{
		{
			name:      "empty file uses defaults",
			content:   "project:\n  name: acme\n",
			transport: TransportSSE,
			patterns:  len(DefaultWatchPatterns),
			debounce:  DefaultWatchDebounce,
		},
		{
			name: "websocket with watch settings",
			content: `backend_url: http://localhost:9000
project:
  name: acme
stream:
  transport: websocket
watch:
  patterns: ["*.pdf"]
  debounce: 5s
sessions:
  march: 3b1f
`,
			transport: TransportWebSocket,
			patterns:  1,
			debounce:  5 * time.Second,
		},
		{name: "unknown transport", content: "stream:\n  transport: grpc\n", wantErr: true},
		{name: "bad glob", content: "watch:\n  patterns: ['[']\n", wantErr: true},
		{name: "not yaml", content: "project: [\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), ProjectFile)
			writeFile(t, path, tt.content)

			cfg, err := LoadProjectConfig(path)
			if tt.wantErr {
				if err == nil {
					t.Fatal("LoadProjectConfig() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadProjectConfig() error = %v", err)
			}
			if cfg.Sessions == nil {
				t.Error("Sessions map is nil")
			}
			if got := cfg.TransportOrDefault(); got != tt.transport {
				t.Errorf("TransportOrDefault() = %q, want %q", got, tt.transport)
			}
			if got := len(cfg.WatchPatterns()); got != tt.patterns {
				t.Errorf("len(WatchPatterns()) = %d, want %d", got, tt.patterns)
			}
			if got := cfg.WatchDebounce(); got != tt.debounce {
				t.Errorf("WatchDebounce() = %v, want %v", got, tt.debounce)
			}
		})
	}
}

func TestProjectConfig_ResolveSession(t *testing.T) {
	cfg := &ProjectConfig{Sessions: map[string]string{"march": "3b1f"}}
	if got := cfg.ResolveSession("march"); got != "3b1f" {
		t.Errorf("ResolveSession(march) = %q", got)
	}
	if got := cfg.ResolveSession("abcd"); got != "abcd" {
		t.Errorf("ResolveSession(abcd) = %q, want passthrough", got)
	}
	var nilCfg *ProjectConfig
	if got := nilCfg.ResolveSession("x"); got != "x" {
		t.Errorf("nil ResolveSession(x) = %q", got)
	}
}

func TestWriteAndFindProjectConfig(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, ProjectDir, ProjectFile)
	want := &ProjectConfig{
		Project: Project{Name: "acme"},
		Stream:  StreamConfig{Transport: TransportWebSocket},
	}
	if err := WriteProjectConfig(path, want); err != nil {
		t.Fatalf("WriteProjectConfig() error = %v", err)
	}

	nested := filepath.Join(root, "statements", "2026")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	found, err := FindProjectConfig(nested)
	if err != nil {
		t.Fatalf("FindProjectConfig() error = %v", err)
	}
	if found != path {
		t.Errorf("FindProjectConfig() = %q, want %q", found, path)
	}

	cfg, gotPath, err := LoadNearestProjectConfig(nested)
	if err != nil {
		t.Fatalf("LoadNearestProjectConfig() error = %v", err)
	}
	if gotPath != path || cfg.Project.Name != "acme" || cfg.Stream.Transport != TransportWebSocket {
		t.Errorf("LoadNearestProjectConfig() = %+v, %q", cfg, gotPath)
	}
}

func TestFindProjectConfig_None(t *testing.T) {
	_, err := FindProjectConfig(t.TempDir())
	if !errors.Is(err, ErrNoProject) {
		t.Fatalf("FindProjectConfig() error = %v, want ErrNoProject", err)
	}
	cfg, path, err := LoadNearestProjectConfig(t.TempDir())
	if err != nil || cfg != nil || path != "" {
		t.Errorf("LoadNearestProjectConfig() = %v, %q, %v, want nil, \"\", nil", cfg, path, err)
	}
}

func TestGetBackendURL(t *testing.T) {
	t.Run("override wins", func(t *testing.T) {
		t.Setenv(EnvBackendURL, "http://replay:8123/")
		if got := GetBackendURL(false); got != "http://replay:8123" {
			t.Errorf("GetBackendURL(false) = %q", got)
		}
		if got := GetBackendURL(true); got != "http://replay:8123" {
			t.Errorf("GetBackendURL(true) = %q", got)
		}
	})
	t.Run("production", func(t *testing.T) {
		t.Setenv(EnvBackendURL, "")
		if got := GetBackendURL(false); got != ProdBackendURL {
			t.Errorf("GetBackendURL(false) = %q", got)
		}
	})
	t.Run("dev port from env", func(t *testing.T) {
		t.Setenv(EnvBackendURL, "")
		t.Setenv(EnvBackendPort, "8765")
		if got := GetBackendURL(true); got != "http://localhost:8765" {
			t.Errorf("GetBackendURL(true) = %q", got)
		}
	})
	t.Run("project backend url", func(t *testing.T) {
		t.Setenv(EnvBackendURL, "")
		cfg := &ProjectConfig{BackendURL: "https://staging.example.com/"}
		if got := ResolveBackendURL(cfg, false); got != "https://staging.example.com" {
			t.Errorf("ResolveBackendURL() = %q", got)
		}
	})
}

func TestReadPortFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	writeFile(t, path, "DEBUG=1\nPORT=\"8042\"\n")
	if got := readPortFromEnv(path); got != "8042" {
		t.Errorf("readPortFromEnv() = %q, want 8042", got)
	}
	if got := readPortFromEnv(filepath.Join(t.TempDir(), "missing")); got != "" {
		t.Errorf("readPortFromEnv(missing) = %q", got)
	}
}
