package batch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rowforge/rowforge/pkg/errors"
	"github.com/rowforge/rowforge/pkg/logger"
	"github.com/rowforge/rowforge/pkg/metrics"
	"github.com/rowforge/rowforge/pkg/plan"
)

// WindowConfig bounds a cross-call batching window.
type WindowConfig struct {
	// MaxRows flushes the window when this many rows are buffered.
	MaxRows int
	// MaxAge flushes whatever is buffered once the oldest row has
	// waited this long.
	MaxAge time.Duration
	// FlushTimeout bounds each background flush.
	FlushTimeout time.Duration
	// ErrorBuffer caps undelivered flush errors; when full, further
	// errors are logged and dropped.
	ErrorBuffer int
}

func (c *WindowConfig) withDefaults() {
	if c.MaxRows <= 0 {
		c.MaxRows = DefaultBlockSize
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 200 * time.Millisecond
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 30 * time.Second
	}
	if c.ErrorBuffer <= 0 {
		c.ErrorBuffer = 16
	}
}

// Flusher sends one batch of buffered rows.
type Flusher func(ctx context.Context, rows []plan.Row) error

// Window buffers rows across insert calls for one table and flushes
// them when the row count or the age of the oldest row crosses its
// threshold. A single goroutine owns the buffer, so flushes never
// reorder. Flush failures surface on Errors and in the log; the rows of
// a failed flush are dropped, not retried.
type Window struct {
	table string
	cfg   WindowConfig
	flush Flusher
	log   *zap.Logger

	in   chan plan.Row
	req  chan chan error
	errs chan error
	done chan struct{}

	// closeErr is written by run before done closes.
	closeErr error

	mu     sync.RWMutex
	closed bool
}

// NewWindow starts a window for table. The flusher runs on the window's
// own goroutine.
func NewWindow(table string, cfg WindowConfig, flush Flusher) *Window {
	cfg.withDefaults()
	w := &Window{
		table: table,
		cfg:   cfg,
		flush: flush,
		log:   logger.Get().With(zap.String("component", "window"), zap.String("table", table)),
		in:    make(chan plan.Row, cfg.MaxRows),
		req:   make(chan chan error),
		errs:  make(chan error, cfg.ErrorBuffer),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

// Add buffers one row. It blocks only when the window is a full block
// ahead of the flusher.
func (w *Window) Add(ctx context.Context, row plan.Row) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return errors.Newf(errors.ErrorTypeConfiguration, "window for %s is closed", w.table)
	}
	select {
	case w.in <- row:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush forces out whatever is buffered and returns that flush's error.
func (w *Window) Flush(ctx context.Context) error {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return errors.Newf(errors.ErrorTypeConfiguration, "window for %s is closed", w.table)
	}
	reply := make(chan error, 1)
	select {
	case w.req <- reply:
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}
	w.mu.RUnlock()

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Errors delivers background flush failures.
func (w *Window) Errors() <-chan error { return w.errs }

// Close flushes the remaining rows and stops the window. It waits for
// the final flush and returns its error, if any.
func (w *Window) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return w.closeErr
	}
	w.closed = true
	close(w.in)
	w.mu.Unlock()

	<-w.done
	return w.closeErr
}

func (w *Window) run() {
	defer close(w.done)
	defer close(w.errs)

	timer := time.NewTimer(w.cfg.MaxAge)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false
	disarm := func() {
		if armed && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		armed = false
	}

	var rows []plan.Row
	doFlush := func() error {
		if len(rows) == 0 {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.FlushTimeout)
		err := w.flush(ctx, rows)
		cancel()
		if err != nil {
			w.log.Error("window flush failed", zap.Int("rows", len(rows)), zap.Error(err))
			select {
			case w.errs <- err:
			default:
				w.log.Warn("window error dropped, channel full")
			}
		}
		rows = nil
		metrics.WindowDepth.WithLabelValues(w.table).Set(0)
		return err
	}

	for {
		select {
		case row, ok := <-w.in:
			if !ok {
				disarm()
				w.closeErr = doFlush()
				return
			}
			if len(rows) == 0 {
				timer.Reset(w.cfg.MaxAge)
				armed = true
			}
			rows = append(rows, row)
			metrics.WindowDepth.WithLabelValues(w.table).Set(float64(len(rows)))
			if len(rows) >= w.cfg.MaxRows {
				disarm()
				doFlush()
			}
		case <-timer.C:
			armed = false
			doFlush()
		case reply := <-w.req:
			// Drain rows already queued so the flush covers every Add
			// that returned before the Flush call.
		drain:
			for {
				select {
				case row, ok := <-w.in:
					if !ok {
						break drain
					}
					rows = append(rows, row)
				default:
					break drain
				}
			}
			disarm()
			reply <- doFlush()
		}
	}
}
