package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// LiteConfig configures the standalone server: SQLite storage, log mailer and
// no external services. Every field can be overridden with a TRACKING_*
// environment variable.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for the SQLite database

	// Definition cache
	CacheMaxItems int
	CacheTTL      time.Duration

	// HTTP
	HTTPHost       string
	HTTPPort       int
	RequestTimeout time.Duration

	// Auth
	JWTSecret       string // Empty disables bearer tokens
	AllowUserHeader bool   // Accept X-Tracking-User as the caller identity

	// Logging
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".report-tracking")

	return &LiteConfig{
		DataDir:         dataDir,
		CacheMaxItems:   256,
		CacheTTL:        5 * time.Minute,
		HTTPHost:        "127.0.0.1",
		HTTPPort:        8080,
		RequestTimeout:  25 * time.Second,
		AllowUserHeader: true,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("TRACKING_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv("TRACKING_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("TRACKING_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}

	if v := os.Getenv("TRACKING_HTTP_HOST"); v != "" {
		cfg.HTTPHost = v
	}
	if v := os.Getenv("TRACKING_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}

	if v := os.Getenv("TRACKING_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.RequestTimeout = d
		}
	}

	cfg.JWTSecret = os.Getenv("TRACKING_JWT_SECRET")
	if v := os.Getenv("TRACKING_ALLOW_USER_HEADER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AllowUserHeader = b
		}
	}

	if v := os.Getenv("TRACKING_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TRACKING_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// DatabasePath returns the path to the tracking SQLite database.
func (c *LiteConfig) DatabasePath() string {
	return filepath.Join(c.DataDir, "tracking.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0755)
}
