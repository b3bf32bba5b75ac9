// Package client is the public entry point. A Client owns the
// connection pool, plan cache, background windows, and observability
// for one store endpoint; Close releases all of them. Inserts start
// from Insert(table), which returns a fluent builder; nothing touches
// the network until the built operation runs.
package client

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/rowforge/rowforge/pkg/batch"
	"github.com/rowforge/rowforge/pkg/compression"
	"github.com/rowforge/rowforge/pkg/config"
	"github.com/rowforge/rowforge/pkg/errors"
	"github.com/rowforge/rowforge/pkg/logger"
	"github.com/rowforge/rowforge/pkg/observability"
	"github.com/rowforge/rowforge/pkg/plan"
	"github.com/rowforge/rowforge/pkg/schema"
	"github.com/rowforge/rowforge/pkg/transport"
)

// Client talks to one store endpoint. All methods are safe for
// concurrent use; independent insert calls share only the connection
// pool.
type Client struct {
	cfg   *config.ClientConfig
	log   *zap.Logger
	obs   *observability.Provider
	pool  *transport.Pool
	tr    *transport.Transport
	plans *plan.Cache

	mu      sync.RWMutex
	tables  map[string]*schema.Table
	windows map[string]*batch.Window
	closed  bool
}

// New builds a client from cfg. Construction validates the
// configuration and prepares the connection pool but sends nothing.
func New(cfg *config.ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, errors.New(errors.ErrorTypeConfiguration, "config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Encoding:    cfg.Logging.Encoding,
		Development: cfg.Logging.Development,
	}); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfiguration, "init logger")
	}
	log := logger.Get().With(zap.String("component", "client"))

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.Tracing.Enabled
	obsCfg.ServiceName = cfg.Tracing.ServiceName
	obsCfg.SamplingRate = cfg.Tracing.SamplingRate
	obsCfg.Exporter = cfg.Tracing.Exporter
	obs, err := observability.NewProvider(obsCfg)
	if err != nil {
		return nil, err
	}

	alg, err := compression.ParseAlgorithm(cfg.Compression.Algorithm)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfiguration, "compression")
	}

	pool := transport.NewPool(transport.PoolConfig{
		MaxIdleConns:          cfg.Connection.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.Connection.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.Connection.MaxConnsPerHost,
		IdleConnTimeout:       cfg.Connection.IdleTimeout,
		DialTimeout:           cfg.Connection.DialTimeout,
		KeepAlive:             cfg.Connection.KeepAlive,
		TLSHandshakeTimeout:   cfg.Connection.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.Connection.ResponseHeaderTimeout,
		RequestTimeout:        cfg.Connection.RequestTimeout,
		EnableHTTP2:           cfg.Connection.EnableHTTP2,
		InsecureSkipVerify:    cfg.Connection.TLSSkipVerify,
		RateLimit:             cfg.Connection.RateLimitPerSec,
		RateBurst:             cfg.Connection.RateBurst,
	}, log)

	tr, err := transport.New(transport.Config{
		Endpoint: cfg.Endpoint,
		Database: cfg.Database,
		Auth: transport.AuthConfig{
			Username:     cfg.Auth.Username,
			Password:     cfg.Auth.Password,
			Token:        cfg.Auth.Token,
			TokenURL:     cfg.Auth.TokenURL,
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			Scopes:       cfg.Auth.Scopes,
		},
		Compression:      alg,
		CompressionLevel: compression.Level(cfg.Compression.Level),
		Settings:         cfg.Insert.Settings,
	}, pool, obs)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &Client{
		cfg:     cfg,
		log:     log,
		obs:     obs,
		pool:    pool,
		tr:      tr,
		plans:   plan.NewCache(0),
		tables:  make(map[string]*schema.Table),
		windows: make(map[string]*batch.Window),
	}, nil
}

// Ping checks that the store answers.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.tr.Ping(ctx)
}

// DescribeTable fetches column metadata for name ("table" or
// "db.table") and caches it for later inserts.
func (c *Client) DescribeTable(ctx context.Context, name string) (*schema.Table, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.tableFor(ctx, name)
}

// RegisterTable installs table metadata directly, for callers that
// define schemas in code instead of describing them from the store.
func (c *Client) RegisterTable(table *schema.Table) error {
	if err := c.check(); err != nil {
		return err
	}
	if !table.Resolved() {
		if err := table.Resolve(); err != nil {
			return err
		}
	}
	db := table.Database
	if db == "" {
		db = c.cfg.Database
	}
	if db == "" {
		return errors.Newf(errors.ErrorTypeConfiguration, "table %q needs a database: none configured", table.Name)
	}
	key := db + "." + table.Name
	c.mu.Lock()
	if prev, ok := c.tables[key]; ok && prev.Fingerprint() != table.Fingerprint() {
		c.plans.Invalidate(prev)
	}
	c.tables[key] = table
	c.mu.Unlock()
	return nil
}

// WindowErrors exposes the background flush errors for the table's
// window, or nil when no window exists yet.
func (c *Client) WindowErrors(name string) <-chan error {
	key, err := c.qualify(name)
	if err != nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if w, ok := c.windows[key]; ok {
		return w.Errors()
	}
	return nil
}

// FlushWindows forces out every buffered window row.
func (c *Client) FlushWindows(ctx context.Context) error {
	c.mu.RLock()
	windows := make([]*batch.Window, 0, len(c.windows))
	for _, w := range c.windows {
		windows = append(windows, w)
	}
	c.mu.RUnlock()

	var first error
	for _, w := range windows {
		if err := w.Flush(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Stats is a point-in-time snapshot of client internals.
type Stats struct {
	PoolRequests    int64 `json:"pool_requests"`
	PoolFailures    int64 `json:"pool_failures"`
	PlanCacheHits   int64 `json:"plan_cache_hits"`
	PlanCacheMisses int64 `json:"plan_cache_misses"`
	TablesKnown     int   `json:"tables_known"`
	OpenWindows     int   `json:"open_windows"`
}

// GetStats returns current counters.
func (c *Client) GetStats() Stats {
	pool := c.pool.Stats()
	hits, misses := c.plans.Stats()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		PoolRequests:    pool.Requests,
		PoolFailures:    pool.Failures,
		PlanCacheHits:   hits,
		PlanCacheMisses: misses,
		TablesKnown:     len(c.tables),
		OpenWindows:     len(c.windows),
	}
}

// Close flushes open windows, shuts down tracing, and releases the
// connection pool. The first window flush error is returned.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	windows := make([]*batch.Window, 0, len(c.windows))
	for _, w := range c.windows {
		windows = append(windows, w)
	}
	c.mu.Unlock()

	var first error
	for _, w := range windows {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	if err := c.obs.Shutdown(ctx); err != nil && first == nil {
		first = err
	}
	c.pool.Close()
	c.log.Debug("client closed")
	return first
}

func (c *Client) check() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New(errors.ErrorTypeConfiguration, "client is closed")
	}
	return nil
}

// qualify resolves name against the default database.
func (c *Client) qualify(name string) (string, error) {
	db, tbl, found := strings.Cut(name, ".")
	if !found {
		db, tbl = c.cfg.Database, name
	}
	if db == "" {
		return "", errors.Newf(errors.ErrorTypeConfiguration, "table %q needs a database: none configured", name)
	}
	if tbl == "" {
		return "", errors.Newf(errors.ErrorTypeConfiguration, "invalid table name %q", name)
	}
	return db + "." + tbl, nil
}

func (c *Client) tableFor(ctx context.Context, name string) (*schema.Table, error) {
	key, err := c.qualify(name)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	table, ok := c.tables[key]
	c.mu.RUnlock()
	if ok {
		return table, nil
	}

	db, tbl, _ := strings.Cut(key, ".")
	rows, err := c.tr.Describe(ctx, db, tbl)
	if err != nil {
		return nil, err
	}
	table, err = schema.FromDescribe(db, tbl, rows)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.tables[key]; ok {
		return cached, nil
	}
	c.tables[key] = table
	return table, nil
}
