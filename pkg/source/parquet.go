package source

import (
	"bytes"
	"context"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/rowforge/rowforge/pkg/errors"
)

// parquetSource walks a Parquet file through its Arrow record reader,
// yielding one Row per stored row. Cell conversion is shared with the
// Arrow IPC source.
type parquetSource struct {
	file   *file.Reader
	rr     pqarrow.RecordReader
	names  []string
	batch  arrow.Record
	rowIdx int
}

// FromParquet reads a Parquet file and yields its rows keyed by the
// column names. The input is read fully up front; the Parquet footer
// layout needs random access.
func FromParquet(r io.Reader) (RowSource, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "read parquet input")
	}
	fr, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "open parquet file")
	}
	ar, err := pqarrow.NewFileReader(fr, pqarrow.ArrowReadProperties{}, memory.NewGoAllocator())
	if err != nil {
		fr.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "read parquet as arrow")
	}
	schema, err := ar.Schema()
	if err != nil {
		fr.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "parquet schema")
	}
	rr, err := ar.GetRecordReader(context.Background(), nil, nil)
	if err != nil {
		fr.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "parquet record reader")
	}

	names := make([]string, schema.NumFields())
	for i := range names {
		names[i] = schema.Field(i).Name
	}
	return &parquetSource{file: fr, rr: rr, names: names}, nil
}

func (s *parquetSource) Next(ctx context.Context) (Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.rr == nil {
		return nil, io.EOF
	}

	// The record reader owns the current batch; the reference is only
	// valid until the next call to rr.Next.
	for s.batch == nil || s.rowIdx >= int(s.batch.NumRows()) {
		if !s.rr.Next() {
			if err := s.rr.Err(); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeValidation, "read parquet batch")
			}
			return nil, io.EOF
		}
		s.batch = s.rr.Record()
		s.rowIdx = 0
	}

	row := make(Row, len(s.names))
	for i := 0; i < int(s.batch.NumCols()); i++ {
		row[s.names[i]] = arrowCell(s.batch.Column(i), s.rowIdx)
	}
	s.rowIdx++
	return row, nil
}

func (s *parquetSource) Close() error {
	if s.rr != nil {
		s.rr.Release()
		s.rr = nil
		s.batch = nil
	}
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}
