package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowforge/rowforge/pkg/config"
	"github.com/rowforge/rowforge/pkg/errors"
	"github.com/rowforge/rowforge/pkg/plan"
	"github.com/rowforge/rowforge/pkg/schema"
)

const eventsDescribe = `{"name":"id","type":"UInt32","default_type":"","default_expression":""}
{"name":"name","type":"String","default_type":"","default_expression":""}
`

const eventsDescribeWithDefault = eventsDescribe + `{"name":"ts","type":"DateTime","default_type":"DEFAULT","default_expression":"now()"}
`

type capturedInsert struct {
	query  map[string][]string
	header http.Header
	body   []byte
}

// fakeStore answers pings, describes, and inserts the way the real
// store's HTTP interface does. Statements arrive in the body for
// describes and in the query parameter for inserts.
type fakeStore struct {
	mu        sync.Mutex
	describe  string
	inserts   []capturedInsert
	describes int
	pingFail  bool
	// failFrom rejects the Nth and later insert calls (1-based) with a
	// store error. Zero accepts everything.
	failFrom int
	failCode int
}

func (f *fakeStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/ping" {
		if f.pingFail {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, "Ok.\n")
		return
	}

	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Query().Get("query") == "" {
		if !strings.HasPrefix(string(body), "DESCRIBE TABLE") {
			http.Error(w, "unexpected statement", http.StatusBadRequest)
			return
		}
		f.describes++
		w.Header().Set("Content-Type", "application/x-ndjson")
		io.WriteString(w, f.describe)
		return
	}

	call := len(f.inserts) + 1
	f.inserts = append(f.inserts, capturedInsert{
		query:  r.URL.Query(),
		header: r.Header.Clone(),
		body:   body,
	})
	if f.failFrom > 0 && call >= f.failFrom {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, "Code: %d. DB::Exception: Memory limit (total) exceeded", f.failCode)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (f *fakeStore) insertCalls() []capturedInsert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capturedInsert(nil), f.inserts...)
}

func (f *fakeStore) describeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.describes
}

func newTestClient(t *testing.T, store *fakeStore, mutate func(*config.ClientConfig)) *Client {
	t.Helper()
	srv := httptest.NewServer(store)
	t.Cleanup(srv.Close)

	cfg := config.New(srv.URL, "metrics")
	cfg.Logging.Level = "error"
	if mutate != nil {
		mutate(cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))

	_, err = New(config.New("", "metrics"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
}

func TestPing(t *testing.T) {
	store := &fakeStore{}
	c := newTestClient(t, store, nil)
	require.NoError(t, c.Ping(context.Background()))

	store.pingFail = true
	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransport))
}

func TestDescribeTableCaches(t *testing.T) {
	store := &fakeStore{describe: eventsDescribe}
	c := newTestClient(t, store, nil)
	ctx := context.Background()

	table, err := c.DescribeTable(ctx, "events")
	require.NoError(t, err)
	require.Len(t, table.Columns, 2)
	assert.Equal(t, "metrics", table.Database)
	assert.True(t, table.Resolved())

	_, err = c.DescribeTable(ctx, "events")
	require.NoError(t, err)
	assert.Equal(t, 1, store.describeCalls())
}

func TestRegisterTableSkipsDescribe(t *testing.T) {
	store := &fakeStore{}
	c := newTestClient(t, store, nil)
	ctx := context.Background()

	table := schema.NewTable("metrics", "events",
		schema.Column{Name: "id", Type: "UInt32"},
		schema.Column{Name: "name", Type: "String"},
	)
	require.NoError(t, c.RegisterTable(table))

	op, err := c.Insert("events").Rows([]plan.Row{{"id": 1, "name": "a"}}).Build()
	require.NoError(t, err)
	_, err = op.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, store.describeCalls())
	assert.Len(t, store.insertCalls(), 1)
}

func TestGetStats(t *testing.T) {
	store := &fakeStore{describe: eventsDescribe}
	c := newTestClient(t, store, nil)
	ctx := context.Background()

	op, err := c.Insert("events").Rows([]plan.Row{{"id": 1, "name": "a"}}).Build()
	require.NoError(t, err)
	_, err = op.Run(ctx)
	require.NoError(t, err)

	stats := c.GetStats()
	assert.GreaterOrEqual(t, stats.PoolRequests, int64(2))
	assert.Equal(t, int64(0), stats.PoolFailures)
	assert.Equal(t, 1, stats.TablesKnown)
	assert.Equal(t, 0, stats.OpenWindows)
}

func TestCloseIsIdempotent(t *testing.T) {
	store := &fakeStore{describe: eventsDescribe}
	c := newTestClient(t, store, nil)
	ctx := context.Background()

	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Close(ctx))

	err := c.Ping(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
	assert.Contains(t, err.Error(), "closed")
}

func TestCloseFlushesWindows(t *testing.T) {
	store := &fakeStore{describe: eventsDescribe}
	c := newTestClient(t, store, func(cfg *config.ClientConfig) {
		cfg.Window.MaxAge = time.Hour
	})
	ctx := context.Background()

	op, err := c.Insert("events").Window(true).
		Rows([]plan.Row{{"id": 1, "name": "a"}, {"id": 2, "name": "b"}}).Build()
	require.NoError(t, err)
	res, err := op.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Buffered)
	assert.Empty(t, store.insertCalls())

	require.NoError(t, c.Close(ctx))
	require.Len(t, store.insertCalls(), 1)
}

func TestFlushWindows(t *testing.T) {
	store := &fakeStore{describe: eventsDescribe}
	c := newTestClient(t, store, func(cfg *config.ClientConfig) {
		cfg.Window.MaxAge = time.Hour
	})
	ctx := context.Background()

	op, err := c.Insert("events").Window(true).
		Rows([]plan.Row{{"id": 1, "name": "a"}}).Build()
	require.NoError(t, err)
	_, err = op.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, c.GetStats().OpenWindows)
	require.NotNil(t, c.WindowErrors("events"))
	assert.Nil(t, c.WindowErrors("other"))

	require.NoError(t, c.FlushWindows(ctx))
	calls := store.insertCalls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].query["query"][0], "INSERT INTO `metrics`.`events`")
}

func TestFlushWindowsSurfacesStoreError(t *testing.T) {
	store := &fakeStore{describe: eventsDescribe, failFrom: 1, failCode: 241}
	c := newTestClient(t, store, func(cfg *config.ClientConfig) {
		cfg.Window.MaxAge = time.Hour
	})
	ctx := context.Background()

	op, err := c.Insert("events").Window(true).
		Rows([]plan.Row{{"id": 1, "name": "a"}}).Build()
	require.NoError(t, err)
	_, err = op.Run(ctx)
	require.NoError(t, err)

	err = c.FlushWindows(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Memory limit")
}
