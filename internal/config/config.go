// Package config provides centralized configuration management for the
// service. It loads configuration from environment variables with sensible
// defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Jobs     JobsConfig
	Upload   UploadConfig
	Export   ExportConfig
	Spatial  SpatialConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is the maximum duration for writing response (default: 60s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required). The target
	// database must have the PostGIS extension available.
	URL string `env:"DATABASE_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// JobsConfig holds batch job manager settings.
type JobsConfig struct {
	// MaxConcurrent is how many jobs may process simultaneously (default: 3)
	MaxConcurrent int `env:"JOBS_MAX_CONCURRENT" default:"3"`

	// ChunkSize is the number of rows per import/export batch (default: 500)
	ChunkSize int `env:"JOBS_CHUNK_SIZE" default:"500"`

	// CleanupInterval is how often finished jobs are swept (default: 1h)
	CleanupInterval time.Duration `env:"JOBS_CLEANUP_INTERVAL" default:"1h"`

	// CleanupMaxAge is how long finished jobs stay queryable (default: 24h)
	CleanupMaxAge time.Duration `env:"JOBS_CLEANUP_MAX_AGE" default:"24h"`
}

// UploadConfig holds file upload settings.
type UploadConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 100MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"104857600"`

	// Dir is where uploaded files are staged before import (default: ./uploads)
	Dir string `env:"UPLOAD_DIR" default:"./uploads"`
}

// ExportConfig holds export output settings.
type ExportConfig struct {
	// Dir is where export jobs write their output files (default: ./exports)
	Dir string `env:"EXPORT_DIR" default:"./exports"`
}

// SpatialConfig holds spatial query layer settings.
type SpatialConfig struct {
	// CacheTTL is how long proximity results stay cached (default: 5m)
	CacheTTL time.Duration `env:"SPATIAL_CACHE_TTL" default:"5m"`

	// CacheMaxEntries bounds the proximity cache; 0 means unbounded (default: 0)
	CacheMaxEntries int `env:"SPATIAL_CACHE_MAX_ENTRIES" default:"0"`

	// NearbyLimit caps proximity query results (default: 100)
	NearbyLimit int `env:"SPATIAL_NEARBY_LIMIT" default:"100"`

	// IndexMaintenanceInterval is how often the index maintenance routine
	// runs; 0 disables it (default: 24h)
	IndexMaintenanceInterval time.Duration `env:"SPATIAL_INDEX_MAINTENANCE_INTERVAL" default:"24h"`
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
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
