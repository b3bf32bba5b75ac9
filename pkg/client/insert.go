package client

import (
	"context"
	"time"

	"github.com/rowforge/rowforge/internal/pipeline"
	"github.com/rowforge/rowforge/pkg/batch"
	"github.com/rowforge/rowforge/pkg/compression"
	"github.com/rowforge/rowforge/pkg/errors"
	"github.com/rowforge/rowforge/pkg/format"
	"github.com/rowforge/rowforge/pkg/metrics"
	"github.com/rowforge/rowforge/pkg/plan"
	"github.com/rowforge/rowforge/pkg/source"
	"github.com/rowforge/rowforge/pkg/transport"
	"go.uber.org/zap"
)

// Result reports what one insert call did.
type Result struct {
	Rows   int
	Blocks int
	Bytes  int
	// Format is the resolved wire format; empty when rows went to a
	// background window, which resolves per flush.
	Format string
	// Buffered marks rows accepted into a background window rather
	// than written to the store.
	Buffered bool
}

// InsertBuilder configures one insert call. The builder is a value;
// every method returns a modified copy, so partial configurations can
// be reused and extended without interference. Nothing runs until
// Build and Run.
type InsertBuilder struct {
	c        *Client
	table    string
	rows     []plan.Row
	src      source.RowSource
	size     int
	pref     format.Preference
	prefErr  error
	async    bool
	wait     bool
	skip     bool
	window   bool
	comp     compression.Algorithm
	settings map[string]string
}

// Insert starts a builder for table ("table" or "db.table"), seeded
// with the client's configured defaults.
func (c *Client) Insert(table string) InsertBuilder {
	b := InsertBuilder{
		c:      c,
		table:  table,
		size:   c.cfg.Insert.BlockSize,
		async:  c.cfg.Insert.AsyncInsert,
		wait:   c.cfg.Insert.WaitForAsyncInsert,
		skip:   c.cfg.Insert.SkipValidation,
		window: c.cfg.Window.Enabled,
	}
	b.pref, b.prefErr = format.ParsePreference(c.cfg.Insert.Format)
	return b
}

// Rows supplies the rows as a slice.
func (b InsertBuilder) Rows(rows []plan.Row) InsertBuilder {
	b.rows = rows
	return b
}

// Source supplies the rows as a lazy stream. The source is consumed
// once, during Run.
func (b InsertBuilder) Source(src source.RowSource) InsertBuilder {
	b.src = src
	return b
}

// BlockSize caps rows per block.
func (b InsertBuilder) BlockSize(n int) InsertBuilder {
	b.size = n
	return b
}

// Format forces a wire format instead of automatic resolution.
func (b InsertBuilder) Format(pref format.Preference) InsertBuilder {
	b.pref, b.prefErr = pref, nil
	return b
}

// AsyncInsert asks the store to buffer the insert server-side.
func (b InsertBuilder) AsyncInsert(enabled bool) InsertBuilder {
	b.async = enabled
	return b
}

// WaitForAsyncInsert blocks the request until a server-side buffered
// insert is flushed. Only meaningful with AsyncInsert.
func (b InsertBuilder) WaitForAsyncInsert(wait bool) InsertBuilder {
	b.wait = wait
	return b
}

// Settings adds store settings for this call on top of the client's.
func (b InsertBuilder) Settings(settings map[string]string) InsertBuilder {
	merged := make(map[string]string, len(b.settings)+len(settings))
	for k, v := range b.settings {
		merged[k] = v
	}
	for k, v := range settings {
		merged[k] = v
	}
	b.settings = merged
	return b
}

// SkipValidation trusts rows to match the plan, skipping the eager
// per-row key checks.
func (b InsertBuilder) SkipValidation(skip bool) InsertBuilder {
	b.skip = skip
	return b
}

// Window routes the rows through the table's background batching
// window instead of writing immediately.
func (b InsertBuilder) Window(enabled bool) InsertBuilder {
	b.window = enabled
	return b
}

// Compression overrides the client's body compression for this call.
func (b InsertBuilder) Compression(alg compression.Algorithm) InsertBuilder {
	b.comp = alg
	return b
}

// InsertOp is a validated, ready-to-run insert. Build it once, run it
// once.
type InsertOp struct {
	c        *Client
	table    string
	rows     []plan.Row
	src      source.RowSource
	size     int
	pref     format.Preference
	async    bool
	wait     bool
	skip     bool
	window   bool
	comp     compression.Algorithm
	settings map[string]string
}

// Build validates the configuration and returns the operation. It has
// no side effects: nothing is described, encoded, or sent. All
// conflicting or impossible settings surface here.
func (b InsertBuilder) Build() (*InsertOp, error) {
	if b.table == "" {
		return nil, errors.New(errors.ErrorTypeConfiguration, "insert needs a table")
	}
	if _, err := b.c.qualify(b.table); err != nil {
		return nil, err
	}
	if b.prefErr != nil {
		return nil, b.prefErr
	}
	if b.rows != nil && b.src != nil {
		return nil, errors.New(errors.ErrorTypeConfiguration, "rows and source are mutually exclusive")
	}
	if b.rows == nil && b.src == nil {
		return nil, errors.New(errors.ErrorTypeConfiguration, "insert needs rows or a source")
	}
	if b.size <= 0 {
		return nil, errors.New(errors.ErrorTypeConfiguration, "block size must be positive")
	}
	if b.window {
		if b.src != nil {
			return nil, errors.New(errors.ErrorTypeConfiguration, "a window buffers discrete rows, not sources")
		}
		if b.pref != format.PreferAuto {
			return nil, errors.New(errors.ErrorTypeConfiguration, "a window resolves its format per flush; cannot force one")
		}
	}
	if b.comp != "" {
		if _, err := compression.ParseAlgorithm(string(b.comp)); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfiguration, "compression")
		}
	}

	settings := make(map[string]string, len(b.settings))
	for k, v := range b.settings {
		settings[k] = v
	}
	return &InsertOp{
		c:        b.c,
		table:    b.table,
		rows:     b.rows,
		src:      b.src,
		size:     b.size,
		pref:     b.pref,
		async:    b.async,
		wait:     b.wait,
		skip:     b.skip,
		window:   b.window,
		comp:     b.comp,
		settings: settings,
	}, nil
}

// Run executes the insert. Row and block errors surface here; on a
// partial failure the error is a *batch.StreamError carrying how many
// rows the store acknowledged.
func (op *InsertOp) Run(ctx context.Context) (*Result, error) {
	c := op.c
	if err := c.check(); err != nil {
		return nil, err
	}

	table, err := c.tableFor(ctx, op.table)
	if err != nil {
		return nil, err
	}
	full, err := c.plans.For(table)
	if err != nil {
		return nil, err
	}
	key, err := c.qualify(op.table)
	if err != nil {
		return nil, err
	}

	if op.window {
		return op.runWindow(ctx, key, full)
	}

	if op.src == nil && !op.skip {
		for i, row := range op.rows {
			if err := full.ValidateKeys(row); err != nil {
				return nil, errors.From(err).WithRow(i)
			}
		}
	}

	var dec format.Decision
	if op.src == nil {
		dec, err = format.Resolve(full, op.rows, op.pref)
	} else {
		dec, err = format.ResolveStreaming(full, op.pref)
	}
	if err != nil {
		return nil, err
	}

	fmtName := dec.Format.String()
	send := c.sendFunc(key, fmtName, dec.Statement(), dec.Format, settingsFor(op.async, op.wait, op.settings), op.comp)
	enc := format.NewRowEncoder(dec)

	metrics.InsertsInFlight.Inc()
	defer metrics.InsertsInFlight.Dec()
	start := time.Now()
	ctx, span := c.obs.StartInsert(ctx, key, fmtName)

	var stats batch.Stats
	if op.src == nil && op.parallelBlocks() {
		stats, err = op.runParallel(ctx, enc, send)
	} else {
		src := op.src
		if src == nil {
			src = source.FromSlice(op.rows)
		}
		stats, err = batch.NewStreamer(enc, send, op.size).Stream(ctx, src)
	}

	c.obs.EndInsert(ctx, span, key, stats.Rows, stats.Blocks, int64(stats.Bytes), err)
	metrics.ObserveSince(metrics.InsertDuration.WithLabelValues(key, fmtName), start)
	if err != nil {
		return nil, err
	}

	c.log.Debug("insert complete",
		zap.String("table", key),
		zap.String("format", fmtName),
		zap.Int("rows", stats.Rows),
		zap.Int("blocks", stats.Blocks))
	return &Result{
		Rows:   stats.Rows,
		Blocks: stats.Blocks,
		Bytes:  stats.Bytes,
		Format: fmtName,
	}, nil
}

// parallelBlocks reports whether the slice spans enough blocks for the
// encode worker pool to pay off.
func (op *InsertOp) parallelBlocks() bool {
	threshold := op.c.cfg.Encoding.ParallelThreshold
	if threshold <= 0 {
		return false
	}
	blocks := (len(op.rows) + op.size - 1) / op.size
	return blocks >= threshold
}

func (op *InsertOp) runParallel(ctx context.Context, enc format.RowEncoder, send batch.SendFunc) (batch.Stats, error) {
	blocks := make([]pipeline.Block, 0, (len(op.rows)+op.size-1)/op.size)
	for start := 0; start < len(op.rows); start += op.size {
		end := start + op.size
		if end > len(op.rows) {
			end = len(op.rows)
		}
		blocks = append(blocks, pipeline.Block{Index: len(blocks), Rows: op.rows[start:end]})
	}

	in := make(chan pipeline.Block, len(blocks))
	for _, b := range blocks {
		in <- b
	}
	close(in)

	var stats batch.Stats
	oe := pipeline.NewOrderedEncoder(enc, pipeline.Config{
		Workers:    op.c.cfg.Encoding.Workers,
		QueueDepth: op.c.cfg.Encoding.QueueDepth,
	})
	err := oe.Run(ctx, in, func(ctx context.Context, e pipeline.Encoded) error {
		if err := send(ctx, e.Body, e.Rows); err != nil {
			return &batch.StreamError{
				Committed:   stats.Rows,
				Unconfirmed: e.Rows,
				Block:       e.Index,
				Err:         err,
			}
		}
		stats.Rows += e.Rows
		stats.Blocks++
		stats.Bytes += len(e.Body)
		return nil
	})
	if err != nil {
		if _, ok := err.(*batch.StreamError); !ok {
			err = &batch.StreamError{Committed: stats.Rows, Block: stats.Blocks, Err: err}
		}
		return stats, err
	}
	return stats, nil
}

func (op *InsertOp) runWindow(ctx context.Context, key string, full *plan.Plan) (*Result, error) {
	if !op.skip {
		for i, row := range op.rows {
			if err := full.ValidateKeys(row); err != nil {
				return nil, errors.From(err).WithRow(i)
			}
		}
	}

	win, err := op.c.windowFor(key, full)
	if err != nil {
		return nil, err
	}
	for _, row := range op.rows {
		if err := win.Add(ctx, row); err != nil {
			return nil, err
		}
	}
	return &Result{Rows: len(op.rows), Buffered: true}, nil
}

// sendFunc binds one resolved insert to the transport and the metrics
// it reports.
func (c *Client) sendFunc(tableKey, fmtName, stmt string, f format.Format, settings map[string]string, comp compression.Algorithm) batch.SendFunc {
	return func(ctx context.Context, body []byte, rows int) error {
		err := c.tr.SendBlock(ctx, &transport.BlockRequest{
			Statement:   stmt,
			Format:      f,
			Body:        body,
			Settings:    settings,
			Compression: comp,
		})
		if err != nil {
			metrics.BlocksSent.WithLabelValues(tableKey, metrics.StatusFailure).Inc()
			metrics.RowsInserted.WithLabelValues(tableKey, fmtName, metrics.StatusFailure).Add(float64(rows))
			return err
		}
		metrics.BlocksSent.WithLabelValues(tableKey, metrics.StatusSuccess).Inc()
		metrics.RowsInserted.WithLabelValues(tableKey, fmtName, metrics.StatusSuccess).Add(float64(rows))
		metrics.BytesWritten.WithLabelValues(tableKey, fmtName).Add(float64(len(body)))
		return nil
	}
}

func (c *Client) windowFor(key string, full *plan.Plan) (*batch.Window, error) {
	c.mu.RLock()
	w, ok := c.windows[key]
	c.mu.RUnlock()
	if ok {
		return w, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New(errors.ErrorTypeConfiguration, "client is closed")
	}
	if w, ok := c.windows[key]; ok {
		return w, nil
	}
	w = batch.NewWindow(key, batch.WindowConfig{
		MaxRows:      c.cfg.Window.MaxRows,
		MaxAge:       c.cfg.Window.MaxAge,
		FlushTimeout: c.cfg.Window.FlushTimeout,
	}, c.windowFlusher(key, full))
	c.windows[key] = w
	return w, nil
}

// windowFlusher resolves the format per flush batch, so a window can
// absorb rows with and without server-default columns.
func (c *Client) windowFlusher(key string, full *plan.Plan) batch.Flusher {
	settings := settingsFor(c.cfg.Insert.AsyncInsert, c.cfg.Insert.WaitForAsyncInsert, nil)
	return func(ctx context.Context, rows []plan.Row) error {
		dec, err := format.Resolve(full, rows, format.PreferAuto)
		if err != nil {
			return err
		}
		send := c.sendFunc(key, dec.Format.String(), dec.Statement(), dec.Format, settings, "")
		_, err = batch.NewStreamer(format.NewRowEncoder(dec), send, c.cfg.Insert.BlockSize).Stream(ctx, source.FromSlice(rows))
		return err
	}
}

// settingsFor merges the async-insert switches into the per-call
// settings.
func settingsFor(async, wait bool, extra map[string]string) map[string]string {
	if !async && len(extra) == 0 {
		return nil
	}
	s := make(map[string]string, len(extra)+2)
	for k, v := range extra {
		s[k] = v
	}
	if async {
		s["async_insert"] = "1"
		if wait {
			s["wait_for_async_insert"] = "1"
		} else {
			s["wait_for_async_insert"] = "0"
		}
	}
	return s
}
