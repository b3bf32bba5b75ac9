// Package source adapts row inputs to the RowSource interface the insert
// pipeline consumes. Slices, channels, and pull functions are wrapped
// directly; Arrow IPC files and Avro object container files are decoded
// row by row.
package source

import (
	"context"
	"io"

	"github.com/rowforge/rowforge/pkg/plan"
)

// Row is one record keyed by column name.
type Row = plan.Row

// RowSource yields rows one at a time. Next returns io.EOF after the last
// row; any other error aborts the insert call. Sources are single-consumer
// and are not safe for concurrent Next calls. Close releases underlying
// resources and may be called more than once.
type RowSource interface {
	Next(ctx context.Context) (Row, error)
	Close() error
}

type sliceSource struct {
	rows []Row
	next int
}

// FromSlice wraps an in-memory row slice. The slice is not copied.
func FromSlice(rows []Row) RowSource {
	return &sliceSource{rows: rows}
}

func (s *sliceSource) Next(ctx context.Context) (Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.next]
	s.next++
	return row, nil
}

func (s *sliceSource) Close() error {
	s.rows = nil
	return nil
}

type channelSource struct {
	ch <-chan Row
}

// FromChannel wraps a row channel. The source ends when the channel is
// closed; the producer owns the channel lifecycle.
func FromChannel(ch <-chan Row) RowSource {
	return &channelSource{ch: ch}
}

func (s *channelSource) Next(ctx context.Context) (Row, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case row, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		return row, nil
	}
}

func (s *channelSource) Close() error { return nil }

type funcSource struct {
	fn func(ctx context.Context) (Row, error)
}

// FromFunc wraps a pull function. The function returns io.EOF when
// exhausted.
func FromFunc(fn func(ctx context.Context) (Row, error)) RowSource {
	return &funcSource{fn: fn}
}

func (s *funcSource) Next(ctx context.Context) (Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.fn(ctx)
}

func (s *funcSource) Close() error { return nil }
