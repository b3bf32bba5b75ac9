package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/rowforge/rowforge/pkg/compression"
	"github.com/rowforge/rowforge/pkg/errors"
	"github.com/rowforge/rowforge/pkg/format"
	"github.com/rowforge/rowforge/pkg/json"
	"github.com/rowforge/rowforge/pkg/logger"
	"github.com/rowforge/rowforge/pkg/metrics"
	"github.com/rowforge/rowforge/pkg/observability"
	"github.com/rowforge/rowforge/pkg/schema"
)

const userAgent = "rowforge/1.0"

// maxErrorBody bounds how much of a failure response is read back for
// the error message.
const maxErrorBody = 8 << 10

// AuthConfig selects how requests authenticate. Username/Password uses
// HTTP basic auth. Token sends a static bearer token. TokenURL plus
// client credentials fetches and refreshes tokens from an OAuth2
// endpoint; Token wins when both are set.
type AuthConfig struct {
	Username     string
	Password     string
	Token        string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Config describes one store endpoint.
type Config struct {
	// Endpoint is the HTTP base URL of the store, e.g. http://localhost:8123.
	Endpoint string
	// Database is the default database applied to every request.
	Database string
	Auth     AuthConfig

	// Compression applied to request bodies.
	Compression      compression.Algorithm
	CompressionLevel compression.Level

	// Settings are query parameters added to every insert request.
	Settings map[string]string
	// Headers are extra HTTP headers added to every request.
	Headers map[string]string
}

// BlockRequest is one encoded block bound for the store.
type BlockRequest struct {
	// Statement is the full INSERT statement including the FORMAT clause.
	Statement string
	Format    format.Format
	Body      []byte
	// Settings override the transport-level settings for this request.
	Settings map[string]string
	// Compression overrides the transport's algorithm for this request;
	// empty keeps the default.
	Compression compression.Algorithm
}

// Transport sends encoded blocks and metadata queries to one endpoint.
// It borrows connections from a Pool owned by the caller.
type Transport struct {
	cfg    Config
	base   *url.URL
	pool   *Pool
	comp   compression.Compressor
	extra  sync.Map
	tokens oauth2.TokenSource
	obs    *observability.Provider
	log    *zap.Logger
}

// New builds a transport for the endpoint. The pool stays owned by the
// caller and may be shared between transports.
func New(cfg Config, pool *Pool, obs *observability.Provider) (*Transport, error) {
	if pool == nil {
		return nil, errors.New(errors.ErrorTypeConfiguration, "transport requires a connection pool")
	}
	base, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfiguration, "invalid endpoint %q", cfg.Endpoint)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.Newf(errors.ErrorTypeConfiguration, "endpoint %q must use http or https", cfg.Endpoint)
	}

	comp, err := compression.New(cfg.Compression, cfg.CompressionLevel)
	if err != nil {
		return nil, err
	}

	t := &Transport{
		cfg:  cfg,
		base: base,
		pool: pool,
		comp: comp,
		obs:  obs,
		log:  logger.Get().With(zap.String("component", "transport"), zap.String("endpoint", base.Host)),
	}

	switch {
	case cfg.Auth.Token != "":
		t.tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Auth.Token})
	case cfg.Auth.TokenURL != "":
		cc := &clientcredentials.Config{
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			TokenURL:     cfg.Auth.TokenURL,
			Scopes:       cfg.Auth.Scopes,
		}
		t.tokens = cc.TokenSource(context.Background())
	}

	return t, nil
}

// Compression reports the body compression the transport applies by
// default.
func (t *Transport) Compression() compression.Algorithm {
	return t.comp.Algorithm()
}

// compressorFor returns the compressor for alg, reusing the default and
// caching any per-request overrides.
func (t *Transport) compressorFor(alg compression.Algorithm) (compression.Compressor, error) {
	if alg == "" || alg == t.comp.Algorithm() {
		return t.comp, nil
	}
	if v, ok := t.extra.Load(alg); ok {
		return v.(compression.Compressor), nil
	}
	c, err := compression.New(alg, t.cfg.CompressionLevel)
	if err != nil {
		return nil, err
	}
	actual, _ := t.extra.LoadOrStore(alg, c)
	return actual.(compression.Compressor), nil
}

// SendBlock posts one encoded block. A nil return means the store
// committed the block; any error means it did not.
func (t *Transport) SendBlock(ctx context.Context, req *BlockRequest) error {
	q := url.Values{}
	q.Set("query", req.Statement)
	if t.cfg.Database != "" {
		q.Set("database", t.cfg.Database)
	}
	for k, v := range t.cfg.Settings {
		q.Set(k, v)
	}
	for k, v := range req.Settings {
		q.Set(k, v)
	}
	if !req.Format.Binary() {
		// Text bodies carry RFC 3339 timestamps; the server needs the
		// permissive date parser to accept them.
		if q.Get("date_time_input_format") == "" {
			q.Set("date_time_input_format", "best_effort")
		}
	}

	comp, err := t.compressorFor(req.Compression)
	if err != nil {
		return err
	}
	body := req.Body
	encoding := comp.Algorithm().ContentEncoding()
	if encoding != "" {
		compressed, err := comp.Compress(body)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeTransport, "compress block").
				WithDetail(errors.DetailFormat, req.Format.String())
		}
		body = compressed
	}

	httpReq, err := t.newRequest(ctx, http.MethodPost, "/", q, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", req.Format.ContentType())
	if encoding != "" {
		httpReq.Header.Set("Content-Encoding", encoding)
	}
	httpReq.ContentLength = int64(len(body))

	resp, err := t.pool.Do(httpReq)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("error").Inc()
		return errors.Wrap(err, errors.ErrorTypeTransport, "send block").
			WithDetail(errors.DetailFormat, req.Format.String())
	}
	defer resp.Body.Close()

	metrics.RequestsTotal.WithLabelValues(statusClass(resp.StatusCode)).Inc()
	if resp.StatusCode != http.StatusOK {
		return t.storeError(resp).WithDetail(errors.DetailFormat, req.Format.String())
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Describe fetches column metadata for database.table.
func (t *Transport) Describe(ctx context.Context, database, table string) ([]schema.DescribeRow, error) {
	if database == "" {
		database = t.cfg.Database
	}
	stmt := fmt.Sprintf("DESCRIBE TABLE %s.%s FORMAT JSONEachRow",
		schema.QuoteIdentifier(database), schema.QuoteIdentifier(table))

	body, err := t.execute(ctx, stmt)
	if err != nil {
		if e, ok := errors.AsError(err); ok {
			return nil, e.WithDetail(errors.DetailTable, database+"."+table)
		}
		return nil, err
	}

	var rows []schema.DescribeRow
	for _, line := range bytes.Split(body, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var row schema.DescribeRow
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeTransport, "parse describe row for %s.%s", database, table)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, errors.Newf(errors.ErrorTypeTransport, "describe returned no columns for %s.%s", database, table).
			WithDetail(errors.DetailTable, database+"."+table)
	}
	return rows, nil
}

// Ping checks that the endpoint answers.
func (t *Transport) Ping(ctx context.Context) error {
	req, err := t.newRequest(ctx, http.MethodGet, "/ping", nil, nil)
	if err != nil {
		return err
	}
	resp, err := t.pool.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "ping")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return errors.Newf(errors.ErrorTypeTransport, "ping returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// execute runs a statement carried in the request body and returns the
// raw response. Used for metadata queries, not inserts.
func (t *Transport) execute(ctx context.Context, stmt string) ([]byte, error) {
	q := url.Values{}
	if t.cfg.Database != "" {
		q.Set("database", t.cfg.Database)
	}
	req, err := t.newRequest(ctx, http.MethodPost, "/", q, strings.NewReader(stmt))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := t.pool.Do(req)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("error").Inc()
		return nil, errors.Wrap(err, errors.ErrorTypeTransport, "execute query")
	}
	defer resp.Body.Close()

	metrics.RequestsTotal.WithLabelValues(statusClass(resp.StatusCode)).Inc()
	if resp.StatusCode != http.StatusOK {
		return nil, t.storeError(resp)
	}
	return io.ReadAll(resp.Body)
}

func (t *Transport) newRequest(ctx context.Context, method, path string, q url.Values, body io.Reader) (*http.Request, error) {
	u := *t.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	if q != nil {
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "build request")
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	if t.tokens != nil {
		tok, err := t.tokens.Token()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeTransport, "fetch auth token")
		}
		tok.SetAuthHeader(req)
	} else if t.cfg.Auth.Username != "" {
		req.SetBasicAuth(t.cfg.Auth.Username, t.cfg.Auth.Password)
	}

	if t.obs != nil {
		t.obs.Inject(ctx, req.Header)
	}
	return req, nil
}

// storeCodePattern matches the numeric error code the store prefixes to
// exception messages, e.g. "Code: 241. DB::Exception: ...".
var storeCodePattern = regexp.MustCompile(`Code:\s*(\d+)`)

func (t *Transport) storeError(resp *http.Response) *errors.Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = resp.Status
	}

	e := errors.Newf(errors.ErrorTypeTransport, "store rejected request: HTTP %d: %s", resp.StatusCode, msg).
		WithDetail("http_status", resp.StatusCode)
	if m := storeCodePattern.FindSubmatch(body); m != nil {
		e = e.WithDetail("store_code", string(m[1]))
	}
	t.log.Warn("store rejected request",
		zap.Int("status", resp.StatusCode),
		zap.String("message", msg))
	return e
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "other"
	}
}
