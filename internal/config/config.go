// Package config loads the tracking server configuration from files,
// environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"

	"github.com/report-tracking-server/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. REPORT_TRACKING_SERVER_PORT
const EnvPrefix = "REPORT_TRACKING"

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v      *viper.Viper
	config *domain.Config
}

// NewManager creates a configuration manager. An explicit configFile takes
// precedence over the config.yaml search paths.
func NewManager(configFile string) (*Manager, error) {
	m := &Manager{v: viper.New()}
	if err := m.loadConfig(configFile); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig(configFile string) error {
	v := m.v
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/report-tracking/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	m.setDefaults()

	// The config file is optional; defaults and environment variables apply
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func (m *Manager) setDefaults() {
	v := m.v
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "25s")
	v.SetDefault("server.enable_metrics", true)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "report_tracking")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.conn_max_idle_time", "1m")
	v.SetDefault("database.connect_timeout", "30s")
	v.SetDefault("database.migrations_path", "migrations")
	v.SetDefault("database.auto_migrate", true)

	// Cache and event relay defaults
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.events_channel", "report-tracking:events")
	v.SetDefault("cache.definition_items", 256)
	v.SetDefault("cache.definition_ttl", "5m")
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")
	v.SetDefault("cache.max_retries", 3)

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.allow_user_header", false)

	// Notification defaults
	v.SetDefault("notification.mode", "log")
	v.SetDefault("notification.smtp_port", 25)
	v.SetDefault("notification.from", "tracking@localhost")
	v.SetDefault("notification.rate_limit", 5.0)
	v.SetDefault("notification.burst", 10)
	v.SetDefault("notification.breaker_failures", 5)
	v.SetDefault("notification.breaker_timeout", "60s")
	v.SetDefault("notification.webhook_timeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if config.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if config.Database.Username == "" {
		return fmt.Errorf("database username is required")
	}

	if config.Cache.RedisURL != "" {
		if _, err := url.Parse(config.Cache.RedisURL); err != nil {
			return fmt.Errorf("invalid Redis URL: %w", err)
		}
	}

	switch config.Notification.Mode {
	case "log":
	case "smtp":
		if config.Notification.SMTPHost == "" {
			return fmt.Errorf("smtp_host is required when notification mode is smtp")
		}
		if config.Notification.From == "" {
			return fmt.Errorf("notification sender address is required")
		}
	default:
		return fmt.Errorf("invalid notification mode: %s", config.Notification.Mode)
	}
	if config.Notification.RateLimit < 0 {
		return fmt.Errorf("notification rate limit must not be negative")
	}

	if m.IsProduction() && config.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required in production")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}
