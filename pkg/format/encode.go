package format

import (
	"fmt"
	"time"

	"github.com/rowforge/rowforge/pkg/coltype"
	"github.com/rowforge/rowforge/pkg/errors"
	"github.com/rowforge/rowforge/pkg/json"
	"github.com/rowforge/rowforge/pkg/plan"
	"github.com/rowforge/rowforge/pkg/rowbinary"
	"github.com/rowforge/rowforge/pkg/value"
)

// RowEncoder appends one row's wire bytes to a block buffer. Implementations
// leave the buffer unchanged when the row fails.
type RowEncoder interface {
	EncodeRow(w *rowbinary.Writer, row plan.Row) error
	Format() Format
}

// NewRowEncoder builds the encoder for a resolved decision.
func NewRowEncoder(dec Decision) RowEncoder {
	switch dec.Format {
	case RowBinary:
		return &binaryRowEncoder{plan: dec.Plan}
	case JSONCompactEachRow:
		return &compactRowEncoder{plan: dec.Plan}
	default:
		return &objectRowEncoder{plan: dec.Plan}
	}
}

type binaryRowEncoder struct {
	plan *plan.Plan
}

func (e *binaryRowEncoder) Format() Format { return RowBinary }

func (e *binaryRowEncoder) EncodeRow(w *rowbinary.Writer, row plan.Row) error {
	cells, err := e.plan.NormalizeRow(row)
	if err != nil {
		return err
	}
	return e.plan.EncodeRow(w, cells)
}

type compactRowEncoder struct {
	plan *plan.Plan
}

func (e *compactRowEncoder) Format() Format { return JSONCompactEachRow }

func (e *compactRowEncoder) EncodeRow(w *rowbinary.Writer, row plan.Row) error {
	cells, err := e.plan.NormalizeRow(row)
	if err != nil {
		return err
	}

	arr := make([]interface{}, len(cells))
	for i, cell := range cells {
		arr[i] = renderCell(e.plan.Columns[i].Spec.Parsed, cell)
	}

	data, err := json.MarshalNoEscape(arr)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeEncoding, "marshal compact row")
	}
	w.WriteRaw(data)
	w.WriteByte('\n')
	return nil
}

type objectRowEncoder struct {
	plan *plan.Plan
}

func (e *objectRowEncoder) Format() Format { return JSONEachRow }

func (e *objectRowEncoder) EncodeRow(w *rowbinary.Writer, row plan.Row) error {
	if err := e.plan.ValidateKeys(row); err != nil {
		return err
	}

	obj := make(map[string]interface{}, len(row))
	for name, raw := range row {
		cell, err := value.Of(raw)
		if err != nil {
			return errors.From(err).WithColumn(name)
		}
		obj[name] = renderCell(e.plan.Table.Column(name).Parsed, cell)
	}

	data, err := json.MarshalNoEscape(obj)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeEncoding, "marshal row")
	}
	w.WriteRaw(data)
	w.WriteByte('\n')
	return nil
}

// renderCell produces the JSON value for a cell. Native Go values with no
// direct JSON form render as the store's canonical text; everything else
// passes through and the store applies its own parsing.
func renderCell(t *coltype.Type, v value.Value) interface{} {
	if t == nil {
		return v.Interface()
	}

	switch t.Kind {
	case coltype.KindNullable, coltype.KindLowCardinality:
		if v.IsNull() {
			return nil
		}
		return renderCell(t.Elem, v)
	case coltype.KindArray:
		if v.Kind != value.KindSlice {
			return v.Interface()
		}
		out := make([]interface{}, len(v.List))
		for i, e := range v.List {
			out[i] = renderCell(t.Elem, e)
		}
		return out
	case coltype.KindMap:
		if v.Kind != value.KindMap {
			return v.Interface()
		}
		out := make(map[string]interface{}, len(v.Entries))
		for _, e := range v.Entries {
			out[fmt.Sprint(renderCell(t.Key, e.Key))] = renderCell(t.Value, e.Value)
		}
		return out
	case coltype.KindDate, coltype.KindDate32:
		if v.Kind == value.KindTime {
			return v.Time.Format(time.DateOnly)
		}
	case coltype.KindDateTime:
		// UTC instant with explicit zone; the transport enables best-effort
		// datetime parsing for text inserts so the column timezone cannot
		// skew it.
		if v.Kind == value.KindTime {
			return v.Time.UTC().Format(time.RFC3339)
		}
	case coltype.KindDateTime64:
		if v.Kind == value.KindTime {
			return v.Time.UTC().Format(dateTime64Layout(t.Precision))
		}
	case coltype.KindEnum8, coltype.KindEnum16:
		if v.Kind == value.KindInt || v.Kind == value.KindUint {
			n := v.Int
			if v.Kind == value.KindUint {
				n = int64(v.Uint)
			}
			if n >= -32768 && n <= 32767 {
				if name, ok := t.EnumNameOf(int16(n)); ok {
					return name
				}
			}
		}
	}
	return v.Interface()
}

// dateTime64Layout is RFC3339 with the fraction padded to the column
// precision.
func dateTime64Layout(precision int) string {
	if precision == 0 {
		return time.RFC3339
	}
	const stamp = "2006-01-02T15:04:05"
	layout := make([]byte, 0, len(time.RFC3339)+1+precision)
	layout = append(layout, stamp...)
	layout = append(layout, '.')
	for i := 0; i < precision; i++ {
		layout = append(layout, '0')
	}
	layout = append(layout, "Z07:00"...)
	return string(layout)
}
