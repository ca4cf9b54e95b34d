package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment  string             `mapstructure:"environment"`
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Notification NotificationConfig `mapstructure:"notification"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	EnableMetrics  bool          `mapstructure:"enable_metrics"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// CacheConfig represents definition cache and Redis configuration
type CacheConfig struct {
	RedisURL        string        `mapstructure:"redis_url"`
	EventsChannel   string        `mapstructure:"events_channel"`
	DefinitionItems int           `mapstructure:"definition_items"`
	DefinitionTTL   time.Duration `mapstructure:"definition_ttl"`
	PoolSize        int           `mapstructure:"pool_size"`
	PoolTimeout     time.Duration `mapstructure:"pool_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
}

// AuthConfig represents bearer token authentication configuration
type AuthConfig struct {
	JWTSecret       string `mapstructure:"jwt_secret"`
	Issuer          string `mapstructure:"issuer"`
	AllowUserHeader bool   `mapstructure:"allow_user_header"`
}

// NotificationConfig represents outbound notification configuration
type NotificationConfig struct {
	Mode            string        `mapstructure:"mode"` // "smtp", "log"
	SMTPHost        string        `mapstructure:"smtp_host"`
	SMTPPort        int           `mapstructure:"smtp_port"`
	SMTPUsername    string        `mapstructure:"smtp_username"`
	SMTPPassword    string        `mapstructure:"smtp_password"`
	From            string        `mapstructure:"from"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	Burst           int           `mapstructure:"burst"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
	WebhookTimeout  time.Duration `mapstructure:"webhook_timeout"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
