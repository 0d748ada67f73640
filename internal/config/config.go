// Package config provides centralized configuration management for the importer.
// Process settings come from environment variables with defaults and are
// validated on startup to fail fast on misconfiguration. Import definitions
// live in a separate YAML jobs file (see jobs.go).
package config

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all process configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading a request (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including running imports (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds settings for the archive log and staged rows.
type DatabaseConfig struct {
	// URL selects the backend by scheme: postgres:// or postgresql:// for
	// PostgreSQL, sqlite:// for an SQLite file.
	// Supports both DATABASE_URL and DB_URL env vars.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" default:"sqlite://var/csvimport.db"`

	// MaxConns is the maximum number of pooled connections (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// Database backends.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Driver returns the backend named by the URL scheme, or "" if unsupported.
func (c *DatabaseConfig) Driver() string {
	switch {
	case strings.HasPrefix(c.URL, "postgres://"), strings.HasPrefix(c.URL, "postgresql://"):
		return DriverPostgres
	case strings.HasPrefix(c.URL, "sqlite://"):
		return DriverSQLite
	default:
		return ""
	}
}

// SQLitePath returns the database file path of a sqlite:// URL.
func (c *DatabaseConfig) SQLitePath() string {
	return filepath.FromSlash(strings.TrimPrefix(c.URL, "sqlite://"))
}

// ImportConfig holds import processing settings.
type ImportConfig struct {
	// VarDir is the base directory archive paths are relative to (default: var)
	VarDir string `env:"IMPORT_VAR_DIR" default:"var"`

	// JobsFile is the YAML file with import definitions (default: imports.yaml)
	JobsFile string `env:"IMPORT_JOBS_FILE" default:"imports.yaml"`

	// MaxConcurrent is the maximum number of imports running at once (default: 2)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" default:"2"`

	// MaxWaitTime is how long to wait for a run slot (default: 30s)
	MaxWaitTime time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`

	// BatchSize is the number of rows staged per write (default: 500)
	BatchSize int `env:"IMPORT_BATCH_SIZE" default:"500"`

	// ScanInterval is how often incoming directories are scanned (default: 1m)
	ScanInterval time.Duration `env:"IMPORT_SCAN_INTERVAL" default:"1m"`

	// ScanEnabled turns the incoming directory scanner on (default: true)
	ScanEnabled bool `env:"IMPORT_SCAN_ENABLED" default:"true"`
}

// SecurityConfig holds API access settings.
type SecurityConfig struct {
	// RequireAPIKey enables X-API-Key checks on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys string `env:"API_KEYS"`

	// TrustedProxies is a comma-separated list of CIDRs or IPs whose
	// X-Real-IP / X-Forwarded-For headers are honored
	TrustedProxies string `env:"TRUSTED_PROXIES"`
}

// APIKeyList returns the configured API keys.
func (c *SecurityConfig) APIKeyList() []string {
	return splitList(c.APIKeys)
}

// TrustedProxyList returns the configured trusted proxy ranges.
func (c *SecurityConfig) TrustedProxyList() []string {
	return splitList(c.TrustedProxies)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the stdout log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`

	// File, when set, additionally receives JSON logs
	File string `env:"LOG_FILE"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// String returns a safe representation of the config for logging.
// Database credentials are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Database: {URL: %s, MaxConns: %d}, ", maskURL(c.Database.URL), c.Database.MaxConns)
	fmt.Fprintf(&b, "Import: {VarDir: %q, JobsFile: %q, MaxConcurrent: %d, BatchSize: %d}, ",
		c.Import.VarDir, c.Import.JobsFile, c.Import.MaxConcurrent, c.Import.BatchSize)
	fmt.Fprintf(&b, "Security: {RequireAPIKey: %t, APIKeys: %d}, ", c.Security.RequireAPIKey, len(c.Security.APIKeyList()))
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}

// maskURL hides the user info of a connection URL.
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[MASKED]"
	}
	if u.User != nil {
		u.User = url.User("[MASKED]")
	}
	return u.String()
}
