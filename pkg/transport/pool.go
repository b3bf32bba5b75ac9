// Package transport carries encoded insert bodies to the store over HTTP.
// A Pool owns the pooled connections and is created and closed by the
// owning client; it is passed by reference so independent insert calls
// share sockets without reaching through global state.
package transport

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"

	"github.com/rowforge/rowforge/pkg/errors"
)

// PoolConfig bounds the connections insert calls share.
type PoolConfig struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	MaxConnsPerHost       int
	IdleConnTimeout       time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	RequestTimeout        time.Duration
	EnableHTTP2           bool
	InsecureSkipVerify    bool

	// RateLimit caps requests per second across all calls using the
	// pool; 0 disables limiting.
	RateLimit float64
	RateBurst int
}

// DefaultPoolConfig returns connection defaults sized for a steady insert
// load against one endpoint.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       100,
		IdleConnTimeout:       90 * time.Second,
		DialTimeout:           10 * time.Second,
		KeepAlive:             30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		RequestTimeout:        5 * time.Minute,
		EnableHTTP2:           true,
	}
}

// PoolStats is a snapshot of pool activity.
type PoolStats struct {
	Requests int64 `json:"requests"`
	Failures int64 `json:"failures"`
}

// Pool owns pooled HTTP connections. All methods are safe for concurrent
// use; Do fails after Close.
type Pool struct {
	transport *http.Transport
	client    *http.Client
	limiter   *rate.Limiter
	log       *zap.Logger

	requests atomic.Int64
	failures atomic.Int64
	closed   atomic.Bool
}

// NewPool builds a connection pool from the config.
func NewPool(cfg PoolConfig, log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.KeepAlive,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		},
	}

	if cfg.EnableHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			log.Warn("http2 configuration failed", zap.Error(err))
		}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Pool{
		transport: transport,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		limiter: limiter,
		log:     log.With(zap.String("component", "transport_pool")),
	}
}

// Do sends one request through the pool, honoring the rate limit.
func (p *Pool) Do(req *http.Request) (*http.Response, error) {
	if p.closed.Load() {
		return nil, errors.New(errors.ErrorTypeTransport, "connection pool is closed")
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(req.Context()); err != nil {
			p.failures.Add(1)
			return nil, errors.Wrap(err, errors.ErrorTypeTransport, "rate limit wait")
		}
	}

	p.requests.Add(1)
	resp, err := p.client.Do(req)
	if err != nil {
		p.failures.Add(1)
	}
	return resp, err
}

// Stats returns a snapshot of request counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Requests: p.requests.Load(),
		Failures: p.failures.Load(),
	}
}

// Close drops idle connections and fails subsequent Do calls. In-flight
// requests finish normally.
func (p *Pool) Close() {
	if p.closed.Swap(true) {
		return
	}
	p.transport.CloseIdleConnections()
	p.log.Debug("connection pool closed")
}
