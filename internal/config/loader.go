package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables, applies defaults
// and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// loadStruct fills tagged fields from the environment, descending into
// nested config sections.
func loadStruct(v reflect.Value) error {
	t := v.Type()
	for i := range t.NumField() {
		field, fv := t.Field(i), v.Field(i)
		if !fv.CanSet() {
			continue
		}
		if field.Type.Kind() == reflect.Struct {
			if err := loadStruct(fv); err != nil {
				return err
			}
			continue
		}

		name, value, err := envValue(field)
		if err != nil {
			return err
		}
		if value == "" {
			continue
		}
		if err := setField(fv, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", name, value, err)
		}
	}
	return nil
}

// envValue resolves a field from its env variable, then envAlt, then
// default. Fields without an env tag resolve to "".
func envValue(field reflect.StructField) (name, value string, err error) {
	name = field.Tag.Get("env")
	if name == "" {
		return "", "", nil
	}
	value = os.Getenv(name)
	if alt := field.Tag.Get("envAlt"); value == "" && alt != "" {
		value = os.Getenv(alt)
	}
	if value != "" {
		return name, value, nil
	}
	if field.Tag.Get("required") == "true" {
		return name, "", fmt.Errorf("required environment variable %s is not set", name)
	}
	return name, field.Tag.Get("default"), nil
}

// setField parses value into the field according to its type.
func setField(field reflect.Value, value string) error {
	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		field.SetInt(int64(d))
	case field.Kind() == reflect.String:
		field.SetString(value)
	case field.Kind() == reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(int64(n))
	case field.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)
	case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String:
		field.Set(reflect.ValueOf(splitList(value)))
	default:
		return fmt.Errorf("unsupported field type: %s", field.Type())
	}
	return nil
}

// splitList splits a comma separated value, dropping blank entries.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Storage validation
	switch strings.ToLower(c.Storage.Backend) {
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, "DATABASE_URL is required when STORAGE_BACKEND is postgres")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			errs = append(errs, "SQLITE_PATH is required when STORAGE_BACKEND is sqlite")
		}
	case "memory":
		if c.Storage.FixturePath == "" {
			errs = append(errs, "STAGING_FIXTURE is required when STORAGE_BACKEND is memory")
		}
	default:
		errs = append(errs, fmt.Sprintf("STORAGE_BACKEND (%q) must be one of: postgres, sqlite, memory", c.Storage.Backend))
	}
	if c.Storage.Prefix == "" {
		errs = append(errs, "STAGING_PREFIX must not be empty")
	}

	// Database validation
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.WriteTimeout < 0 {
		errs = append(errs, "SERVER_WRITE_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Extraction validation
	if c.Extraction.MaxConcurrent <= 0 {
		errs = append(errs, "EXTRACTION_MAX_CONCURRENT must be positive")
	}
	if c.Extraction.MaxWaitTime <= 0 {
		errs = append(errs, "EXTRACTION_MAX_WAIT_TIME must be positive")
	}
	if c.Extraction.Timeout <= 0 {
		errs = append(errs, "EXTRACTION_TIMEOUT must be positive")
	}
	if c.Extraction.IdleTimeout <= 0 {
		errs = append(errs, "EXTRACTION_IDLE_TIMEOUT must be positive")
	}
	if c.Extraction.SweepInterval <= 0 {
		errs = append(errs, "EXTRACTION_SWEEP_INTERVAL must be positive")
	}
	if c.Extraction.FailureRetention < 0 {
		errs = append(errs, "EXTRACTION_FAILURE_RETENTION must be non-negative")
	}

	// Rate limit validation
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if c.Rate.Enabled && c.Rate.ExtractLimit <= 0 {
		errs = append(errs, "RATE_LIMIT_EXTRACT must be positive when rate limiting is enabled")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Sensitive values like database URLs are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
		c.Database.MaxConns, c.Database.MinConns)
	fmt.Fprintf(&b, "Storage: {Backend: %q, Schema: %q, Prefix: %q}, ",
		c.Storage.Backend, c.Storage.Schema, c.Storage.Prefix)
	fmt.Fprintf(&b, "Extraction: {MaxConcurrent: %d, Timeout: %s, IdleTimeout: %s}, ",
		c.Extraction.MaxConcurrent, c.Extraction.Timeout, c.Extraction.IdleTimeout)
	fmt.Fprintf(&b, "Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
