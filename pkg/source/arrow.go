package source

import (
	"bytes"
	"context"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/rowforge/rowforge/pkg/errors"
)

// arrowSource walks an Arrow IPC file record batch by record batch,
// yielding one Row per Arrow row.
type arrowSource struct {
	reader   *ipc.FileReader
	names    []string
	batch    arrow.Record
	batchIdx int
	rowIdx   int
}

// FromArrowIPC reads an Arrow IPC file and yields its rows keyed by the
// Arrow field names. Null cells become nil values. The input is read fully
// up front; the IPC file layout needs random access.
func FromArrowIPC(r io.Reader) (RowSource, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "read arrow input")
	}
	reader, err := ipc.NewFileReader(bytes.NewReader(data), ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "open arrow file")
	}

	schema := reader.Schema()
	names := make([]string, schema.NumFields())
	for i := range names {
		names[i] = schema.Field(i).Name
	}
	return &arrowSource{reader: reader, names: names, batchIdx: -1}, nil
}

func (s *arrowSource) Next(ctx context.Context) (Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.reader == nil {
		return nil, io.EOF
	}

	for s.batch == nil || s.rowIdx >= int(s.batch.NumRows()) {
		if err := s.loadBatch(); err != nil {
			return nil, err
		}
		if s.batch == nil {
			return nil, io.EOF
		}
	}

	row := make(Row, len(s.names))
	for i := 0; i < int(s.batch.NumCols()); i++ {
		row[s.names[i]] = arrowCell(s.batch.Column(i), s.rowIdx)
	}
	s.rowIdx++
	return row, nil
}

func (s *arrowSource) loadBatch() error {
	if s.batch != nil {
		s.batch.Release()
		s.batch = nil
	}
	s.batchIdx++
	if s.batchIdx >= s.reader.NumRecords() {
		return nil
	}
	rec, err := s.reader.Record(s.batchIdx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "read arrow record batch")
	}
	rec.Retain()
	s.batch = rec
	s.rowIdx = 0
	return nil
}

func (s *arrowSource) Close() error {
	if s.reader == nil {
		return nil
	}
	if s.batch != nil {
		s.batch.Release()
		s.batch = nil
	}
	err := s.reader.Close()
	s.reader = nil
	return err
}

// arrowCell converts one Arrow cell to a plain Go value. Types with no
// direct mapping fall back to their Arrow string form, which the store
// parses on the text path.
func arrowCell(col arrow.Array, i int) interface{} {
	if col.IsNull(i) {
		return nil
	}
	switch c := col.(type) {
	case *array.Boolean:
		return c.Value(i)
	case *array.Int8:
		return c.Value(i)
	case *array.Int16:
		return c.Value(i)
	case *array.Int32:
		return c.Value(i)
	case *array.Int64:
		return c.Value(i)
	case *array.Uint8:
		return c.Value(i)
	case *array.Uint16:
		return c.Value(i)
	case *array.Uint32:
		return c.Value(i)
	case *array.Uint64:
		return c.Value(i)
	case *array.Float32:
		return c.Value(i)
	case *array.Float64:
		return c.Value(i)
	case *array.String:
		return c.Value(i)
	case *array.LargeString:
		return c.Value(i)
	case *array.Binary:
		return c.Value(i)
	case *array.LargeBinary:
		return c.Value(i)
	case *array.FixedSizeBinary:
		return c.Value(i)
	case *array.Date32:
		return c.Value(i).ToTime()
	case *array.Date64:
		return c.Value(i).ToTime()
	case *array.Timestamp:
		unit := arrow.Microsecond
		if t, ok := c.DataType().(*arrow.TimestampType); ok {
			unit = t.Unit
		}
		return c.Value(i).ToTime(unit)
	default:
		return col.ValueStr(i)
	}
}
