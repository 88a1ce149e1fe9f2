// Package config provides centralized configuration management for the
// extraction server. It loads configuration from environment variables
// with defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Storage    StorageConfig
	Extraction ExtractionConfig
	Rate       RateLimitConfig
	Security   SecurityConfig
	Logging    LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing a response. Sheet
	// exports stream, so the default is 0 (no limit).
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// CORSAllowedOrigins lists origins allowed to call the API (default: none)
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string, required for the postgres backend.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// StorageConfig selects where staging tables live.
type StorageConfig struct {
	// Backend is postgres, sqlite or memory (default: postgres)
	Backend string `env:"STORAGE_BACKEND" default:"postgres"`

	// FixturePath is a YAML dataset seeded into the sqlite or memory backend
	FixturePath string `env:"STAGING_FIXTURE"`

	// SQLitePath is the database file for the sqlite backend (default: extraction.db)
	SQLitePath string `env:"SQLITE_PATH" default:"extraction.db"`

	// Schema holds staging tables on PostgreSQL (default: extraction_staging)
	Schema string `env:"STAGING_SCHEMA" default:"extraction_staging"`

	// Prefix is prepended to staging table names (default: ext_)
	Prefix string `env:"STAGING_PREFIX" default:"ext_"`

	// DropOrphans drops staging tables left by a previous process at startup (default: true)
	DropOrphans bool `env:"STAGING_DROP_ORPHANS" default:"true"`
}

// ExtractionConfig holds pipeline and run lifecycle settings.
type ExtractionConfig struct {
	// MaxConcurrent is the maximum number of parallel pipelines (default: 4)
	MaxConcurrent int `env:"EXTRACTION_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long to wait for a pipeline slot (default: 30s)
	MaxWaitTime time.Duration `env:"EXTRACTION_MAX_WAIT_TIME" default:"30s"`

	// Timeout is the maximum duration of a single pipeline (default: 10m)
	Timeout time.Duration `env:"EXTRACTION_TIMEOUT" default:"10m"`

	// IdleTimeout releases completed runs not read for this long (default: 30m)
	IdleTimeout time.Duration `env:"EXTRACTION_IDLE_TIMEOUT" default:"30m"`

	// SweepInterval is how often idle runs are looked for (default: 1m)
	SweepInterval time.Duration `env:"EXTRACTION_SWEEP_INTERVAL" default:"1m"`

	// FailureRetention keeps failed run status queryable (default: 5m)
	FailureRetention time.Duration `env:"EXTRACTION_FAILURE_RETENTION" default:"5m"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// ExtractLimit is requests per minute for starting extractions (default: 10)
	ExtractLimit int `env:"RATE_LIMIT_EXTRACT" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
