package transport

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rowforge/rowforge/pkg/compression"
	"github.com/rowforge/rowforge/pkg/errors"
	"github.com/rowforge/rowforge/pkg/format"
	"github.com/rowforge/rowforge/pkg/schema"
)

func newTestTransport(t *testing.T, srv *httptest.Server, cfg Config) *Transport {
	t.Helper()
	pool := NewPool(DefaultPoolConfig(), zap.NewNop())
	t.Cleanup(pool.Close)

	cfg.Endpoint = srv.URL
	tr, err := New(cfg, pool, nil)
	require.NoError(t, err)
	return tr
}

func TestSendBlock(t *testing.T) {
	var (
		gotQuery       string
		gotDatabase    string
		gotAsync       string
		gotContentType string
		gotBody        []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		gotDatabase = r.URL.Query().Get("database")
		gotAsync = r.URL.Query().Get("async_insert")
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv, Config{Database: "metrics"})
	err := tr.SendBlock(context.Background(), &BlockRequest{
		Statement: "INSERT INTO `metrics`.`events` (`id`) FORMAT RowBinary",
		Format:    format.RowBinary,
		Body:      []byte{0x01, 0x00, 0x00, 0x00},
		Settings:  map[string]string{"async_insert": "1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "INSERT INTO `metrics`.`events` (`id`) FORMAT RowBinary", gotQuery)
	assert.Equal(t, "metrics", gotDatabase)
	assert.Equal(t, "1", gotAsync)
	assert.Equal(t, "application/octet-stream", gotContentType)
	assert.Equal(t, []byte{0x01, 0x00, 0x00, 0x00}, gotBody)
}

func TestSendBlockCompressed(t *testing.T) {
	var (
		gotEncoding string
		gotBody     []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEncoding = r.Header.Get("Content-Encoding")
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotBody, _ = io.ReadAll(zr)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv, Config{Compression: compression.Gzip})
	payload := []byte(`{"id":1}` + "\n" + `{"id":2}` + "\n")
	err := tr.SendBlock(context.Background(), &BlockRequest{
		Statement: "INSERT INTO `d`.`t` FORMAT JSONEachRow",
		Format:    format.JSONEachRow,
		Body:      payload,
	})
	require.NoError(t, err)

	assert.Equal(t, "gzip", gotEncoding)
	assert.Equal(t, payload, gotBody)
}

func TestSendBlockCompressionOverride(t *testing.T) {
	var gotEncoding string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEncoding = r.Header.Get("Content-Encoding")
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotBody, _ = io.ReadAll(zr)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv, Config{})
	require.Equal(t, compression.None, tr.Compression())

	payload := []byte(`{"id":1}` + "\n")
	err := tr.SendBlock(context.Background(), &BlockRequest{
		Statement:   "INSERT INTO `d`.`t` FORMAT JSONEachRow",
		Format:      format.JSONEachRow,
		Body:        payload,
		Compression: compression.Gzip,
	})
	require.NoError(t, err)

	assert.Equal(t, "gzip", gotEncoding)
	assert.Equal(t, payload, gotBody)
}

func TestSendBlockDateSetting(t *testing.T) {
	var gotDateInput []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotDateInput = append(gotDateInput, r.URL.Query().Get("date_time_input_format"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv, Config{})
	require.NoError(t, tr.SendBlock(context.Background(), &BlockRequest{
		Statement: "INSERT INTO `d`.`t` FORMAT JSONEachRow",
		Format:    format.JSONEachRow,
		Body:      []byte("{}\n"),
	}))
	require.NoError(t, tr.SendBlock(context.Background(), &BlockRequest{
		Statement: "INSERT INTO `d`.`t` (`id`) FORMAT RowBinary",
		Format:    format.RowBinary,
		Body:      []byte{0x01},
	}))

	require.Len(t, gotDateInput, 2)
	assert.Equal(t, "best_effort", gotDateInput[0])
	assert.Empty(t, gotDateInput[1])
}

func TestSendBlockStoreError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "Code: 241. DB::Exception: Memory limit (total) exceeded")
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv, Config{})
	err := tr.SendBlock(context.Background(), &BlockRequest{
		Statement: "INSERT INTO `d`.`t` (`id`) FORMAT RowBinary",
		Format:    format.RowBinary,
		Body:      []byte{0x01},
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransport))

	e, ok := errors.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "241", e.Detail("store_code"))
	assert.Equal(t, http.StatusInternalServerError, e.Detail("http_status"))
	assert.Equal(t, "RowBinary", e.Detail(errors.DetailFormat))
	assert.Contains(t, err.Error(), "Memory limit")
}

func TestSendBlockConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	pool := NewPool(DefaultPoolConfig(), zap.NewNop())
	defer pool.Close()
	tr, err := New(Config{Endpoint: srv.URL}, pool, nil)
	require.NoError(t, err)

	err = tr.SendBlock(context.Background(), &BlockRequest{
		Statement: "INSERT INTO `d`.`t` (`id`) FORMAT RowBinary",
		Format:    format.RowBinary,
		Body:      []byte{0x01},
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransport))
	assert.Equal(t, int64(1), pool.Stats().Failures)
}

func TestBasicAuth(t *testing.T) {
	var user, pass string
	var okAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, okAuth = r.BasicAuth()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv, Config{Auth: AuthConfig{Username: "writer", Password: "hunter2"}})
	require.NoError(t, tr.Ping(context.Background()))

	assert.True(t, okAuth)
	assert.Equal(t, "writer", user)
	assert.Equal(t, "hunter2", pass)
}

func TestBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv, Config{Auth: AuthConfig{Token: "secret-token"}})
	require.NoError(t, tr.Ping(context.Background()))
	assert.Equal(t, "Bearer secret-token", gotAuth)
}

func TestExtraHeaders(t *testing.T) {
	var gotTenant string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant = r.Header.Get("X-Tenant")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv, Config{Headers: map[string]string{"X-Tenant": "acme"}})
	require.NoError(t, tr.Ping(context.Background()))
	assert.Equal(t, "acme", gotTenant)
}

func TestDescribe(t *testing.T) {
	const describeBody = `{"name":"id","type":"UInt64","default_type":"","default_expression":""}
{"name":"name","type":"String","default_type":"","default_expression":""}
{"name":"created","type":"DateTime","default_type":"DEFAULT","default_expression":"now()"}
{"name":"digest","type":"String","default_type":"MATERIALIZED","default_expression":"sipHash64(name)"}
`
	var gotStmt []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotStmt, _ = io.ReadAll(r.Body)
		io.WriteString(w, describeBody)
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv, Config{Database: "metrics"})
	rows, err := tr.Describe(context.Background(), "", "events")
	require.NoError(t, err)
	assert.Equal(t, "DESCRIBE TABLE `metrics`.`events` FORMAT JSONEachRow", string(gotStmt))

	require.Len(t, rows, 4)
	assert.Equal(t, "id", rows[0].Name)
	assert.Equal(t, "UInt64", rows[0].Type)
	assert.Equal(t, "MATERIALIZED", rows[3].DefaultType)

	table, err := schema.FromDescribe("metrics", "events", rows)
	require.NoError(t, err)
	assert.Len(t, table.Columns, 4)
	assert.False(t, table.Columns[3].Insertable())
}

func TestDescribeStoreError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, "Code: 60. DB::Exception: Table metrics.missing does not exist")
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv, Config{Database: "metrics"})
	_, err := tr.Describe(context.Background(), "", "missing")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransport))

	e, ok := errors.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "60", e.Detail("store_code"))
	assert.Equal(t, "metrics.missing", e.Detail(errors.DetailTable))
}

func TestDescribeEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "\n")
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv, Config{})
	_, err := tr.Describe(context.Background(), "metrics", "events")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns")
}

func TestPing(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		io.WriteString(w, "Ok.\n")
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv, Config{})
	require.NoError(t, tr.Ping(context.Background()))
	assert.Equal(t, "/ping", gotPath)
}

func TestPingFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv, Config{})
	err := tr.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransport))
}

func TestNewRejectsBadEndpoint(t *testing.T) {
	pool := NewPool(DefaultPoolConfig(), zap.NewNop())
	defer pool.Close()

	_, err := New(Config{Endpoint: "ftp://example.com"}, pool, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))

	_, err = New(Config{Endpoint: "http://ok.example"}, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
}
