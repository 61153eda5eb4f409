// Package config provides centralized configuration management for the
// ingestion service. It loads configuration from environment variables with
// sensible defaults and validates all settings on startup to fail fast on
// misconfiguration.
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
	Upload   UploadConfig
	Ingest   IngestConfig
	Storage  StorageConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading a request, chunk bodies included (default: 60s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"60s"`

	// WriteTimeout is the maximum duration for writing a response (default: 60s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 120s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"120s"`
}

// DatabaseConfig holds document store connection settings.
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

	// Migrate applies embedded schema migrations on startup (default: true)
	Migrate bool `env:"DB_MIGRATE" default:"true"`
}

// UploadConfig holds chunked upload settings.
type UploadConfig struct {
	// TempDir holds partially assembled uploads (default: system temp dir)
	TempDir string `env:"UPLOAD_TEMP_DIR"`

	// MaxChunkSize is the maximum accepted chunk body in bytes (default: 10MB)
	MaxChunkSize int64 `env:"UPLOAD_MAX_CHUNK_SIZE" default:"10MB" unit:"bytes"`

	// MaxConcurrent is the maximum number of chunk requests handled at once (default: 8)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"8"`

	// MaxWaitTime is how long a chunk request waits for a slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`

	// HeaderTimeout bounds header extraction and preview (default: 5s)
	HeaderTimeout time.Duration `env:"UPLOAD_HEADER_TIMEOUT" default:"5s"`

	// StaleAfter is the age after which abandoned partial uploads are swept (default: 24h)
	StaleAfter time.Duration `env:"UPLOAD_STALE_AFTER" default:"24h"`

	// SweepInterval is how often the stale upload sweep runs (default: 1h)
	SweepInterval time.Duration `env:"UPLOAD_SWEEP_INTERVAL" default:"1h"`
}

// IngestConfig holds pipeline settings.
type IngestConfig struct {
	// BatchSize is the number of records per batch write (default: 2000)
	BatchSize int `env:"INGEST_BATCH_SIZE" default:"2000"`

	// MaxRetries bounds retries of a batch after transient errors (default: 3)
	MaxRetries int `env:"INGEST_MAX_RETRIES" default:"3"`

	// RetryBackoff is the first retry delay; it doubles per attempt (default: 200ms)
	RetryBackoff time.Duration `env:"INGEST_RETRY_BACKOFF" default:"200ms"`

	// MaxBackoff caps the retry delay (default: 5s)
	MaxBackoff time.Duration `env:"INGEST_MAX_BACKOFF" default:"5s"`

	// ProgressInterval is the minimum time between stored progress updates (default: 1s)
	ProgressInterval time.Duration `env:"INGEST_PROGRESS_INTERVAL" default:"1s"`

	// Workers is the number of jobs ingested at once (default: 1)
	Workers int `env:"INGEST_WORKERS" default:"1"`

	// QueueSize is the number of jobs that may wait for a worker (default: 64)
	QueueSize int `env:"INGEST_QUEUE_SIZE" default:"64"`

	// RequireName rejects rows without a usable name (default: true)
	RequireName bool `env:"INGEST_REQUIRE_NAME" default:"true"`

	// FallbackName labels nameless rows when RequireName is false
	FallbackName string `env:"INGEST_FALLBACK_NAME" default:"Unknown Candidate"`

	// HeaderScanLines is how many leading lines are searched for the header (default: 20)
	HeaderScanLines int `env:"INGEST_HEADER_SCAN_LINES" default:"20"`

	// HeaderPreviewBytes is the byte range fetched for header discovery (default: 51200)
	HeaderPreviewBytes int64 `env:"INGEST_HEADER_PREVIEW_BYTES" default:"50KB" unit:"bytes"`

	// RejectLogLimit is how many rejected rows are logged per run (default: 5)
	RejectLogLimit int `env:"INGEST_REJECT_LOG_LIMIT" default:"5"`
}

// StorageConfig selects the blob store backend.
type StorageConfig struct {
	// Backend is one of: local, gcs, s3 (default: local)
	Backend string `env:"STORAGE_BACKEND" default:"local"`

	// LocalDir is the root directory for the local backend (default: ./data/blobs)
	LocalDir string `env:"STORAGE_LOCAL_DIR" default:"./data/blobs"`

	// Bucket is the bucket name for gcs and s3
	Bucket string `env:"STORAGE_BUCKET"`

	// Prefix is prepended to every object key
	Prefix string `env:"STORAGE_PREFIX"`

	// Region is the AWS region for s3
	Region string `env:"STORAGE_REGION" envAlt:"AWS_REGION"`

	// Endpoint overrides the s3 endpoint for S3-compatible services
	Endpoint string `env:"STORAGE_ENDPOINT"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is chunk requests per minute per IP (default: 600)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"600"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey enables X-API-Key authentication on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	// Enabled exposes /metrics (default: true)
	Enabled bool `env:"METRICS_ENABLED" default:"true"`

	// Path is the scrape path (default: /metrics)
	Path string `env:"METRICS_PATH" default:"/metrics"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
