// Package config loads process-wide configuration from environment
// variables, following the same Load()-plus-getEnv*-helpers shape as the
// rest of this codebase's configuration.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
)

const appName = "suna-sandbox"

// Config holds all configuration for the sandbox orchestrator, per
// SPEC_FULL.md §10.3.
type Config struct {
	// Server settings
	Port        int
	CORSOrigins []string
	CORSDebug   bool

	// Sandbox runtime settings
	SandboxImage string // Default sandbox container image

	// Docker-specific settings
	DockerHost    string // Docker socket/host (empty lets the SDK auto-detect)
	DockerNetwork string // Shared bridge network name

	// Reclamation sweep
	CleanupInterval     time.Duration // How often CleanupExpired runs
	CleanupErrorBackoff time.Duration // Backoff after a failed sweep pass

	// Data directory for anything the orchestrator persists outside the
	// container engine. It is created at startup; nothing currently writes
	// into it (LogFile does not default to a path under it).
	DataDir string

	// Process lifecycle
	LogFile        string // Redirect stdout/stderr to this file (Unix only)
	StdinKeepalive bool   // Exit when stdin is closed (for parent process death detection)
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Port = getEnvInt("PORT", 8080)
	cfg.CORSOrigins = getEnvList("CORS_ORIGINS", []string{"http://localhost:3000"})
	cfg.CORSDebug = getEnvBool("CORS_DEBUG", false)

	cfg.SandboxImage = getEnv("SANDBOX_IMAGE", "local-suna-sandbox:latest")

	cfg.DockerHost = getEnv("DOCKER_HOST", "")
	cfg.DockerNetwork = getEnv("DOCKER_NETWORK", "suna-sandbox-network")

	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.CleanupErrorBackoff = getEnvDuration("CLEANUP_ERROR_BACKOFF", time.Minute)

	cfg.DataDir = getEnv("DATA_DIR", filepath.Join(xdg.DataHome, appName))

	cfg.LogFile = getEnv("LOG_FILE", "")
	cfg.StdinKeepalive = getEnvBool("STDIN_KEEPALIVE", false)

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
