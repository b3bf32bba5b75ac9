// Package config defines the client configuration. A single
// ClientConfig structure covers every tunable, organized into
// sections:
//
//   - Connection: socket pooling, timeouts, TLS, rate limiting
//   - Auth: basic credentials or bearer/OAuth2 tokens
//   - Insert: block sizing, format preference, store-side async inserts
//   - Window: cross-call background batching
//   - Compression: request body compression
//   - Encoding: worker pool for CPU-bound block encoding
//   - Logging, Tracing: observability
//
// Example usage:
//
//	cfg := config.New("http://localhost:8123", "metrics")
//	cfg.Insert.BlockSize = 5000
//	cfg.Compression.Algorithm = "zstd"
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"time"

	"github.com/rowforge/rowforge/pkg/errors"
)

// ClientConfig is the complete configuration for one client.
type ClientConfig struct {
	// Endpoint is the HTTP base URL of the store.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// Database is the default database for unqualified tables.
	Database string `yaml:"database" json:"database"`

	Connection  ConnectionConfig  `yaml:"connection" json:"connection"`
	Auth        AuthConfig        `yaml:"auth" json:"auth"`
	Insert      InsertConfig      `yaml:"insert" json:"insert"`
	Window      WindowConfig      `yaml:"window" json:"window"`
	Compression CompressionConfig `yaml:"compression" json:"compression"`
	Encoding    EncodingConfig    `yaml:"encoding" json:"encoding"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
	Tracing     TracingConfig     `yaml:"tracing" json:"tracing"`
}

// ConnectionConfig bounds the shared socket pool.
type ConnectionConfig struct {
	// MaxIdleConns caps idle sockets across all hosts.
	MaxIdleConns int `yaml:"max_idle_conns" json:"max_idle_conns"`
	// MaxIdleConnsPerHost caps idle sockets kept per host.
	MaxIdleConnsPerHost int `yaml:"max_idle_conns_per_host" json:"max_idle_conns_per_host"`
	// MaxConnsPerHost caps concurrent sockets per host.
	MaxConnsPerHost int `yaml:"max_conns_per_host" json:"max_conns_per_host"`
	// IdleTimeout closes sockets idle this long.
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	// KeepAlive is the TCP keep-alive interval.
	KeepAlive time.Duration `yaml:"keep_alive" json:"keep_alive"`
	// TLSHandshakeTimeout bounds the TLS handshake.
	TLSHandshakeTimeout time.Duration `yaml:"tls_handshake_timeout" json:"tls_handshake_timeout"`
	// ResponseHeaderTimeout bounds the wait for response headers.
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout" json:"response_header_timeout"`
	// RequestTimeout bounds one whole request, body included.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	// EnableHTTP2 negotiates HTTP/2 when the store supports it.
	EnableHTTP2 bool `yaml:"enable_http2" json:"enable_http2"`
	// TLSSkipVerify disables certificate verification (insecure).
	TLSSkipVerify bool `yaml:"tls_skip_verify" json:"tls_skip_verify"`
	// RateLimitPerSec caps requests per second (0 = unlimited).
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
	// RateBurst is the rate limiter burst size.
	RateBurst int `yaml:"rate_burst" json:"rate_burst"`
}

// AuthConfig selects request authentication.
type AuthConfig struct {
	// Username and Password use HTTP basic auth.
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	// Token is a static bearer token; it wins over TokenURL.
	Token string `yaml:"token" json:"token"`
	// TokenURL with client credentials fetches tokens from an OAuth2
	// endpoint.
	TokenURL     string   `yaml:"token_url" json:"token_url"`
	ClientID     string   `yaml:"client_id" json:"client_id"`
	ClientSecret string   `yaml:"client_secret" json:"client_secret"`
	Scopes       []string `yaml:"scopes" json:"scopes"`
}

// InsertConfig sets per-call insert defaults; the builder can override
// them call by call.
type InsertConfig struct {
	// BlockSize caps rows per block.
	BlockSize int `yaml:"block_size" json:"block_size"`
	// Format forces a wire format: auto, binary, compact, or text.
	Format string `yaml:"format" json:"format"`
	// AsyncInsert asks the store to buffer the insert server-side.
	AsyncInsert bool `yaml:"async_insert" json:"async_insert"`
	// WaitForAsyncInsert blocks until a server-side buffered insert is
	// flushed.
	WaitForAsyncInsert bool `yaml:"wait_for_async_insert" json:"wait_for_async_insert"`
	// SkipValidation trusts rows to match the plan.
	SkipValidation bool `yaml:"skip_validation" json:"skip_validation"`
	// Settings are extra store settings sent with every insert.
	Settings map[string]string `yaml:"settings" json:"settings"`
}

// WindowConfig controls cross-call background batching.
type WindowConfig struct {
	// Enabled turns background batching on.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// MaxRows flushes a window at this many buffered rows.
	MaxRows int `yaml:"max_rows" json:"max_rows"`
	// MaxAge flushes a window once its oldest row has waited this long.
	MaxAge time.Duration `yaml:"max_age" json:"max_age"`
	// FlushTimeout bounds each background flush.
	FlushTimeout time.Duration `yaml:"flush_timeout" json:"flush_timeout"`
}

// CompressionConfig selects request body compression.
type CompressionConfig struct {
	// Algorithm is one of none, gzip, deflate, zstd, lz4, snappy.
	Algorithm string `yaml:"algorithm" json:"algorithm"`
	// Level is the compression effort, 1 (fastest) to 9 (best).
	Level int `yaml:"level" json:"level"`
}

// EncodingConfig sizes the optional encode worker pool used for large
// slice inserts.
type EncodingConfig struct {
	// Workers is the number of concurrent encoders (0 = NumCPU).
	Workers int `yaml:"workers" json:"workers"`
	// QueueDepth bounds encoded blocks buffered ahead of the transport.
	QueueDepth int `yaml:"queue_depth" json:"queue_depth"`
	// ParallelThreshold enables the worker pool only when a slice
	// insert spans at least this many blocks.
	ParallelThreshold int `yaml:"parallel_threshold" json:"parallel_threshold"`
}

// LoggingConfig controls the client logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`
	// Encoding is json or console.
	Encoding string `yaml:"encoding" json:"encoding"`
	// Development enables human-friendly output and stack traces.
	Development bool `yaml:"development" json:"development"`
}

// TracingConfig controls span export.
type TracingConfig struct {
	// Enabled turns tracing on.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// ServiceName labels exported spans.
	ServiceName string `yaml:"service_name" json:"service_name"`
	// SamplingRate is the fraction of inserts traced (0.0-1.0).
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate"`
	// Exporter selects the span exporter (stdout or none).
	Exporter string `yaml:"exporter" json:"exporter"`
}

// New returns a ClientConfig with production defaults for endpoint and
// database. Callers override individual fields before building a
// client.
func New(endpoint, database string) *ClientConfig {
	return &ClientConfig{
		Endpoint: endpoint,
		Database: database,
		Connection: ConnectionConfig{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			MaxConnsPerHost:       100,
			IdleTimeout:           90 * time.Second,
			DialTimeout:           10 * time.Second,
			KeepAlive:             30 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			RequestTimeout:        5 * time.Minute,
			EnableHTTP2:           true,
		},
		Insert: InsertConfig{
			BlockSize: 1000,
			Format:    "auto",
		},
		Window: WindowConfig{
			Enabled:      false,
			MaxRows:      1000,
			MaxAge:       200 * time.Millisecond,
			FlushTimeout: 30 * time.Second,
		},
		Compression: CompressionConfig{
			Algorithm: "none",
			Level:     5,
		},
		Encoding: EncodingConfig{
			Workers:           0,
			QueueDepth:        0,
			ParallelThreshold: 4,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			ServiceName:  "rowforge",
			SamplingRate: 0.1,
			Exporter:     "stdout",
		},
	}
}

// Validate checks the configuration before any client is built.
func (c *ClientConfig) Validate() error {
	if c.Endpoint == "" {
		return errors.New(errors.ErrorTypeConfiguration, "endpoint is required")
	}
	if c.Insert.BlockSize <= 0 {
		return errors.New(errors.ErrorTypeConfiguration, "insert.block_size must be positive")
	}
	if c.Connection.RateLimitPerSec < 0 {
		return errors.New(errors.ErrorTypeConfiguration, "connection.rate_limit_per_sec cannot be negative")
	}
	if c.Window.Enabled {
		if c.Window.MaxRows <= 0 {
			return errors.New(errors.ErrorTypeConfiguration, "window.max_rows must be positive")
		}
		if c.Window.MaxAge <= 0 {
			return errors.New(errors.ErrorTypeConfiguration, "window.max_age must be positive")
		}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return errors.New(errors.ErrorTypeConfiguration, "tracing.sampling_rate must be between 0 and 1")
	}
	if c.Auth.TokenURL != "" && c.Auth.ClientID == "" {
		return errors.New(errors.ErrorTypeConfiguration, "auth.client_id is required with auth.token_url")
	}
	if c.Compression.Level < 0 || c.Compression.Level > 9 {
		return errors.New(errors.ErrorTypeConfiguration, "compression.level must be between 0 and 9")
	}
	return nil
}

// HasBearerAuth reports whether requests carry a bearer token.
func (a *AuthConfig) HasBearerAuth() bool {
	return a.Token != "" || a.TokenURL != ""
}

// IsRateLimited reports whether the pool throttles requests.
func (c *ConnectionConfig) IsRateLimited() bool {
	return c.RateLimitPerSec > 0
}
