// Package pipeline encodes row blocks on a fixed worker pool while
// keeping delivery in submission order. Encoding may run ahead across
// workers, but a block is handed to the sink only after every earlier
// block's outcome is known.
package pipeline

import (
	"context"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rowforge/rowforge/pkg/errors"
	"github.com/rowforge/rowforge/pkg/format"
	"github.com/rowforge/rowforge/pkg/logger"
	"github.com/rowforge/rowforge/pkg/metrics"
	"github.com/rowforge/rowforge/pkg/plan"
	"github.com/rowforge/rowforge/pkg/rowbinary"
)

// Block is one batch of rows submitted for encoding. Index is the
// submission sequence, starting at zero.
type Block struct {
	Index int
	Rows  []plan.Row
}

// Encoded is the rendered body for one block. Bodies reach the sink in
// Index order.
type Encoded struct {
	Index int
	Rows  int
	Body  []byte
}

// Sink receives encoded blocks in submission order. A sink error stops
// the run; blocks after the failed one are never delivered.
type Sink func(ctx context.Context, enc Encoded) error

// Config sizes the worker pool.
type Config struct {
	// Workers is the number of concurrent encoders. 0 means NumCPU.
	Workers int
	// QueueDepth bounds blocks buffered between submission and
	// delivery. 0 means twice the worker count.
	QueueDepth int
}

// OrderedEncoder renders blocks with a fixed worker pool. Each worker
// owns a pooled writer for the duration of one block.
type OrderedEncoder struct {
	enc     format.RowEncoder
	workers int
	depth   int
	log     *zap.Logger
}

// NewOrderedEncoder builds an encoder pool around enc.
func NewOrderedEncoder(enc format.RowEncoder, cfg Config) *OrderedEncoder {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = workers * 2
	}
	return &OrderedEncoder{
		enc:     enc,
		workers: workers,
		depth:   depth,
		log:     logger.Get().With(zap.String("component", "ordered_encoder")),
	}
}

type task struct {
	block Block
	slot  *slot
}

type slot struct {
	ready chan struct{}
	enc   Encoded
	err   error
}

// Run consumes blocks from in until it closes, encodes them across the
// pool, and delivers results to sink in submission order. The first
// error in submission order wins; encode work queued behind a failed
// block is discarded. Cancelling ctx stops the run without delivering
// further blocks.
func (e *OrderedEncoder) Run(ctx context.Context, in <-chan Block, sink Sink) error {
	g, ctx := errgroup.WithContext(ctx)

	tasks := make(chan task, e.depth)
	slots := make(chan *slot, e.depth)

	g.Go(func() error {
		defer close(tasks)
		defer close(slots)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case b, ok := <-in:
				if !ok {
					return nil
				}
				s := &slot{ready: make(chan struct{})}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case slots <- s:
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case tasks <- task{block: b, slot: s}:
				}
			}
		}
	})

	for i := 0; i < e.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case t, ok := <-tasks:
					if !ok {
						return nil
					}
					t.slot.enc, t.slot.err = e.encodeBlock(t.block)
					close(t.slot.ready)
				}
			}
		})
	}

	g.Go(func() error {
		for s := range slots {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.ready:
			}
			if s.err != nil {
				return s.err
			}
			if err := sink(ctx, s.enc); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

func (e *OrderedEncoder) encodeBlock(b Block) (Encoded, error) {
	start := time.Now()
	w := rowbinary.GetWriter()
	defer rowbinary.PutWriter(w)

	for i, row := range b.Rows {
		if err := e.enc.EncodeRow(w, row); err != nil {
			return Encoded{}, errors.From(err).
				WithRow(i).
				WithDetail(errors.DetailBlock, b.Index)
		}
	}

	body := make([]byte, w.Len())
	copy(body, w.Bytes())

	metrics.ObserveSince(metrics.EncodeDuration.WithLabelValues(e.enc.Format().String()), start)
	e.log.Debug("block encoded",
		zap.Int("block", b.Index),
		zap.Int("rows", len(b.Rows)),
		zap.Int("bytes", len(body)))

	return Encoded{Index: b.Index, Rows: len(b.Rows), Body: body}, nil
}
