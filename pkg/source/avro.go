package source

import (
	"context"
	"io"
	"strings"

	"github.com/linkedin/goavro/v2"

	"github.com/rowforge/rowforge/pkg/errors"
)

// avroSource walks an Avro object container file one datum at a time.
type avroSource struct {
	ocf *goavro.OCFReader
}

// FromAvroOCF reads an Avro object container file whose datums are
// records, yielding one Row per record. Union values are flattened to
// their branch value.
func FromAvroOCF(r io.Reader) (RowSource, error) {
	ocf, err := goavro.NewOCFReader(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "open avro container")
	}
	return &avroSource{ocf: ocf}, nil
}

func (s *avroSource) Next(ctx context.Context) (Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.ocf.Scan() {
		if err := s.ocf.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "read avro container")
		}
		return nil, io.EOF
	}

	datum, err := s.ocf.Read()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "decode avro datum")
	}
	fields, ok := datum.(map[string]interface{})
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeValidation,
			"avro datum is %T, want a record", datum)
	}

	row := make(Row, len(fields))
	for name, v := range fields {
		row[name] = unwrapUnion(v)
	}
	return row, nil
}

func (s *avroSource) Close() error { return nil }

var avroBranchNames = map[string]bool{
	"boolean": true,
	"int":     true,
	"long":    true,
	"float":   true,
	"double":  true,
	"bytes":   true,
	"string":  true,
	"array":   true,
	"map":     true,
	"fixed":   true,
	"enum":    true,
}

// unwrapUnion flattens goavro's union encoding: a non-null union value
// decodes as a single-entry map keyed by the branch type name.
func unwrapUnion(v interface{}) interface{} {
	m, ok := v.(map[string]interface{})
	if !ok || len(m) != 1 {
		return v
	}
	for key, inner := range m {
		if avroBranchNames[key] || strings.Contains(key, ".") {
			return unwrapUnion(inner)
		}
	}
	return v
}
