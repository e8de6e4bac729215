// Package config provides URL and project configuration for the finops CLI.
//
// URL resolution covers production, an explicit FINOPS_BACKEND_URL override,
// and dev mode, where the backend port is read from the environment or a
// backend/.env file and auto-detected among common local ports.
package config

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// ProdBackendURL is the production backend API URL.
	ProdBackendURL = "https://api.finops.app"

	// DefaultBackendPort is the fallback port if backend/.env is not found.
	DefaultBackendPort = "8000"

	// CashReportPrefix is the path prefix of every cash-report endpoint.
	CashReportPrefix = "/api/cash-report"

	// portCheckTimeout is the timeout for checking if a port is open.
	portCheckTimeout = 100 * time.Millisecond
)

// EnvBackendURL overrides the backend URL in every mode.
const EnvBackendURL = "FINOPS_BACKEND_URL"

// EnvBackendPort overrides the dev-mode backend port.
const EnvBackendPort = "FINOPS_BACKEND_PORT"

// commonBackendPorts are tried in order when auto-detecting a local backend.
var commonBackendPorts = []string{"8000", "8001", "8080", "5000"}

// findWorkspaceRoot searches upward from the current directory for a
// directory containing backend/.env.
func findWorkspaceRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "backend", ".env")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// readPortFromEnv reads the PORT value from an .env file.
//
// Parameters:
//   - path: The path to the .env file
//
// Returns:
//   - string: The port value, or empty string if not found
func readPortFromEnv(path string) string {
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if v, ok := strings.CutPrefix(line, "PORT="); ok {
			return strings.Trim(v, `"'`)
		}
	}
	return ""
}

// GetBackendPort returns the dev backend port from FINOPS_BACKEND_PORT or
// backend/.env, falling back to DefaultBackendPort.
func GetBackendPort() string {
	if port := os.Getenv(EnvBackendPort); port != "" {
		return port
	}

	root := findWorkspaceRoot()
	if root == "" {
		return DefaultBackendPort
	}
	if port := readPortFromEnv(filepath.Join(root, "backend", ".env")); port != "" {
		return port
	}
	return DefaultBackendPort
}

// GetBackendPortWithAutoDetect returns the configured port when something
// listens on it, otherwise the first common port that answers.
//
// Returns:
//   - string: The backend port number (either from config or auto-detected)
func GetBackendPortWithAutoDetect() string {
	if port := os.Getenv(EnvBackendPort); port != "" {
		return port
	}

	configuredPort := GetBackendPort()
	if isPortOpen("localhost", configuredPort) {
		return configuredPort
	}
	for _, port := range commonBackendPorts {
		if port != configuredPort && isPortOpen("localhost", port) {
			return port
		}
	}

	// Let the actual request fail with a clear error.
	return configuredPort
}

// isPortOpen checks if a TCP port is open on the given host.
func isPortOpen(host, port string) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, port), portCheckTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// GetBackendURL returns the backend API URL.
//
// FINOPS_BACKEND_URL wins over everything. Otherwise dev mode resolves a
// localhost URL and production returns ProdBackendURL.
//
// Parameters:
//   - devMode: If true, returns localhost URL with auto-detected port
//
// Returns:
//   - string: The backend API URL without a trailing slash
func GetBackendURL(devMode bool) string {
	if u := os.Getenv(EnvBackendURL); u != "" {
		return strings.TrimRight(u, "/")
	}
	if devMode {
		return fmt.Sprintf("http://localhost:%s", GetBackendPortWithAutoDetect())
	}
	return ProdBackendURL
}

// ResolveBackendURL picks the backend URL for a command: the project's
// backend_url when set, else GetBackendURL.
func ResolveBackendURL(project *ProjectConfig, devMode bool) string {
	if os.Getenv(EnvBackendURL) == "" && project != nil && project.BackendURL != "" && !devMode {
		return strings.TrimRight(project.BackendURL, "/")
	}
	return GetBackendURL(devMode)
}
