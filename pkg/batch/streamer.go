// Package batch turns row streams into bounded blocks and coalesces
// rows across calls. The streamer holds at most one block of rows in
// memory; the next block is not read from the source until the store
// has answered for the current one.
package batch

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/rowforge/rowforge/pkg/errors"
	"github.com/rowforge/rowforge/pkg/format"
	"github.com/rowforge/rowforge/pkg/logger"
	"github.com/rowforge/rowforge/pkg/plan"
	"github.com/rowforge/rowforge/pkg/rowbinary"
	"github.com/rowforge/rowforge/pkg/source"
)

// DefaultBlockSize caps rows per block when the caller does not choose.
const DefaultBlockSize = 1000

// SendFunc delivers one finished block body. The body is only valid for
// the duration of the call. A nil return means the store acknowledged
// the block.
type SendFunc func(ctx context.Context, body []byte, rows int) error

// Stats counts what a stream delivered.
type Stats struct {
	Rows   int
	Blocks int
	Bytes  int
}

// StreamError reports how far a streamed insert got before failing.
// Committed rows landed and stay landed. Unconfirmed rows belong to a
// block the transport attempted but the store did not acknowledge; it
// is zero when the block failed before any byte was sent. Rows after
// the failed block were never read from the source.
type StreamError struct {
	Committed   int
	Unconfirmed int
	Block       int
	Err         error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("insert stopped at block %d: %d rows committed, %d unconfirmed: %v",
		e.Block, e.Committed, e.Unconfirmed, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// Streamer consumes a row source into fixed-size blocks, encoding and
// sending each before the next is read.
type Streamer struct {
	enc  format.RowEncoder
	send SendFunc
	size int
	log  *zap.Logger
}

// NewStreamer builds a streamer over enc and send. blockSize <= 0 uses
// DefaultBlockSize.
func NewStreamer(enc format.RowEncoder, send SendFunc, blockSize int) *Streamer {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Streamer{
		enc:  enc,
		send: send,
		size: blockSize,
		log:  logger.Get().With(zap.String("component", "streamer")),
	}
}

// Stream drains src. On error the returned stats still count what was
// acknowledged, and the error is a *StreamError wrapping the cause.
func (s *Streamer) Stream(ctx context.Context, src source.RowSource) (Stats, error) {
	defer src.Close()

	w := rowbinary.GetWriter()
	defer rowbinary.PutWriter(w)

	var stats Stats
	buf := make([]plan.Row, 0, s.size)

	for {
		row, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, &StreamError{Committed: stats.Rows, Block: stats.Blocks, Err: err}
		}

		buf = append(buf, row)
		if len(buf) < s.size {
			continue
		}
		if err := s.flush(ctx, w, buf, &stats); err != nil {
			return stats, err
		}
		buf = buf[:0]
	}

	if len(buf) > 0 {
		if err := s.flush(ctx, w, buf, &stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (s *Streamer) flush(ctx context.Context, w *rowbinary.Writer, rows []plan.Row, stats *Stats) error {
	w.Reset()
	for i, row := range rows {
		if err := s.enc.EncodeRow(w, row); err != nil {
			return &StreamError{
				Committed: stats.Rows,
				Block:     stats.Blocks,
				Err: errors.From(err).
					WithRow(stats.Rows + i).
					WithDetail(errors.DetailBlock, stats.Blocks),
			}
		}
	}

	if err := s.send(ctx, w.Bytes(), len(rows)); err != nil {
		return &StreamError{
			Committed:   stats.Rows,
			Unconfirmed: len(rows),
			Block:       stats.Blocks,
			Err:         err,
		}
	}

	stats.Rows += len(rows)
	stats.Blocks++
	stats.Bytes += w.Len()
	s.log.Debug("block acknowledged",
		zap.Int("block", stats.Blocks-1),
		zap.Int("rows", len(rows)),
		zap.Int("bytes", w.Len()))
	return nil
}
