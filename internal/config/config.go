// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Tables   TableConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// ImportConfig holds spreadsheet import settings.
type ImportConfig struct {
	// BatchSize is the number of rows per staging insert (default: 100)
	BatchSize int `env:"IMPORT_BATCH_SIZE" default:"100"`

	// PreviewSize is how many recently staged rows are returned after a load (default: 5)
	PreviewSize int `env:"IMPORT_PREVIEW_SIZE" default:"5"`

	// MaxFileSize is the maximum accepted upload in bytes (default: 50MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"52428800"`

	// HeaderRows is the number of rows preceding the first data row (default: 1).
	// The last of them is checked against the column map headers.
	HeaderRows int `env:"IMPORT_HEADER_ROWS" default:"1"`

	// ColumnMapFile is an optional YAML column map that replaces the built-in one
	ColumnMapFile string `env:"IMPORT_COLUMN_MAP"`

	// ColumnMapVersion selects a registered column map (default: items-v1)
	ColumnMapVersion string `env:"IMPORT_COLUMN_MAP_VERSION" default:"items-v1"`

	// WriterWait is how long a stage or apply waits for the staging writer (default: 30s)
	WriterWait time.Duration `env:"IMPORT_WRITER_WAIT" default:"30s"`

	// StageTimeout bounds a full staging load (default: 10m)
	StageTimeout time.Duration `env:"IMPORT_STAGE_TIMEOUT" default:"10m"`

	// ApplyTimeout bounds one apply transaction (default: 2m)
	ApplyTimeout time.Duration `env:"IMPORT_APPLY_TIMEOUT" default:"2m"`

	// SessionTTL is how long an idle import session is kept (default: 1h)
	SessionTTL time.Duration `env:"IMPORT_SESSION_TTL" default:"1h"`
}

// TableConfig names the tables the pipeline reads and writes.
type TableConfig struct {
	Staging     string `env:"STAGING_TABLE" default:"vendor_items_temp"`
	Production  string `env:"PRODUCTION_TABLE" default:"main_data"`
	Identifiers string `env:"IDENTIFIER_TABLE" default:"item_identifiers"`
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
	return c.Host + ":" + strconv.Itoa(c.Port)
}
