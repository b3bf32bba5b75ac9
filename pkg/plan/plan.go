// Package plan derives the per-call insert plan from table metadata: which
// columns travel, in what order, and with which compiled encoders.
package plan

import (
	"github.com/cespare/xxhash/v2"

	"github.com/rowforge/rowforge/pkg/errors"
	"github.com/rowforge/rowforge/pkg/rowbinary"
	"github.com/rowforge/rowforge/pkg/schema"
	"github.com/rowforge/rowforge/pkg/value"
)

// Row is one insert row keyed by column name.
type Row map[string]interface{}

// Column is one planned column with its compiled binary encoder. Encoder is
// nil when the column type has no binary encoding.
type Column struct {
	Spec    *schema.Column
	Encoder rowbinary.FieldEncoder
}

// Plan is the immutable column list of one insert call. Plans for the same
// table layout are built once and shared; deriving a subset reuses the
// already compiled encoders.
type Plan struct {
	Table   *schema.Table
	Columns []Column

	index       map[string]int
	binary      bool
	fingerprint uint64
}

// Build compiles the full plan over every insertable column in declared
// order.
func Build(table *schema.Table) (*Plan, error) {
	if !table.Resolved() {
		if err := table.Resolve(); err != nil {
			return nil, err
		}
	}

	cols := table.InsertableColumns()
	planned := make([]Column, 0, len(cols))
	for _, spec := range cols {
		enc, err := rowbinary.EncoderFor(spec.Parsed)
		if err != nil {
			if errors.IsType(err, errors.ErrorTypeUnsupportedType) {
				// The column still inserts through the text formats.
				planned = append(planned, Column{Spec: spec})
				continue
			}
			return nil, errors.From(err).
				WithDetail(errors.DetailTable, table.QualifiedName()).
				WithColumn(spec.Name)
		}
		planned = append(planned, Column{Spec: spec, Encoder: enc})
	}

	return newPlan(table, planned), nil
}

func newPlan(table *schema.Table, planned []Column) *Plan {
	p := &Plan{
		Table:   table,
		Columns: planned,
		index:   make(map[string]int, len(planned)),
		binary:  true,
	}
	for i, col := range planned {
		p.index[col.Spec.Name] = i
		if col.Encoder == nil {
			p.binary = false
		}
	}
	p.fingerprint = p.computeFingerprint()
	return p
}

func (p *Plan) computeFingerprint() uint64 {
	h := xxhash.New()
	var buf [8]byte
	putUint64(buf[:], p.Table.Fingerprint())
	_, _ = h.Write(buf[:])
	for _, col := range p.Columns {
		_, _ = h.WriteString(col.Spec.Name)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// Subset derives a plan restricted to the named columns, keeping declared
// order regardless of the order given.
func (p *Plan) Subset(names []string) (*Plan, error) {
	want := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, ok := p.index[name]; !ok {
			return nil, p.unknownColumn(name)
		}
		want[name] = struct{}{}
	}
	if len(want) == 0 {
		return nil, errors.Newf(errors.ErrorTypeConfiguration,
			"insert into %s selects no columns", p.Table.QualifiedName())
	}

	planned := make([]Column, 0, len(want))
	for _, col := range p.Columns {
		if _, ok := want[col.Spec.Name]; ok {
			planned = append(planned, col)
		}
	}
	return newPlan(p.Table, planned), nil
}

func (p *Plan) unknownColumn(name string) error {
	spec := p.Table.Column(name)
	switch {
	case spec == nil:
		return errors.Newf(errors.ErrorTypeValidation,
			"unknown column %q in %s", name, p.Table.QualifiedName()).
			WithColumn(name)
	case !spec.Insertable():
		return errors.Newf(errors.ErrorTypeValidation,
			"column %q of %s is %s and cannot be written",
			name, p.Table.QualifiedName(), spec.DefaultKind).
			WithColumn(name)
	default:
		return errors.Newf(errors.ErrorTypeValidation,
			"column %q is not in the insert column list for %s",
			name, p.Table.QualifiedName()).
			WithColumn(name)
	}
}

// Binary reports whether every planned column has a binary encoder.
func (p *Plan) Binary() bool { return p.binary }

// Fingerprint identifies the table layout plus column list. Calls with
// equal fingerprints and formats may share a batch.
func (p *Plan) Fingerprint() uint64 { return p.fingerprint }

// ColumnNames returns the planned column names in travel order.
func (p *Plan) ColumnNames() []string {
	names := make([]string, len(p.Columns))
	for i, col := range p.Columns {
		names[i] = col.Spec.Name
	}
	return names
}

// Has reports whether the plan carries the named column.
func (p *Plan) Has(name string) bool {
	_, ok := p.index[name]
	return ok
}

// NormalizeRow converts a row into positional cells in plan order.
//
// Every planned column must be present, with one exception: a missing value
// for a Nullable column becomes null. Keys outside the plan fail, naming
// the column.
func (p *Plan) NormalizeRow(row Row) ([]value.Value, error) {
	for key := range row {
		if _, ok := p.index[key]; !ok {
			return nil, p.unknownColumn(key)
		}
	}

	cells := make([]value.Value, len(p.Columns))
	for i, col := range p.Columns {
		raw, present := row[col.Spec.Name]
		if !present {
			if col.Spec.Parsed.IsNullable() {
				cells[i] = value.Null()
				continue
			}
			return nil, errors.Newf(errors.ErrorTypeValidation,
				"row is missing column %q", col.Spec.Name).
				WithColumn(col.Spec.Name)
		}
		cell, err := value.Of(raw)
		if err != nil {
			return nil, errors.From(err).WithColumn(col.Spec.Name)
		}
		cells[i] = cell
	}
	return cells, nil
}

// ValidateKeys checks a row against the whole table for the object text
// format, where each row carries its own column subset.
func (p *Plan) ValidateKeys(row Row) error {
	for key := range row {
		spec := p.Table.Column(key)
		if spec == nil {
			return errors.Newf(errors.ErrorTypeValidation,
				"unknown column %q in %s", key, p.Table.QualifiedName()).
				WithColumn(key)
		}
		if !spec.Insertable() {
			return errors.Newf(errors.ErrorTypeValidation,
				"column %q of %s is %s and cannot be written",
				key, p.Table.QualifiedName(), spec.DefaultKind).
				WithColumn(key)
		}
	}
	return nil
}

// EncodeRow appends the binary encoding of normalized cells. On error the
// writer is rolled back to its pre-row length.
func (p *Plan) EncodeRow(w *rowbinary.Writer, cells []value.Value) error {
	if !p.binary {
		return errors.Newf(errors.ErrorTypeEncoding,
			"plan for %s has no binary encoding", p.Table.QualifiedName())
	}
	if len(cells) != len(p.Columns) {
		return errors.Newf(errors.ErrorTypeInternal,
			"row has %d cells, plan has %d columns", len(cells), len(p.Columns))
	}

	mark := w.Len()
	for i, col := range p.Columns {
		if err := col.Encoder(w, cells[i]); err != nil {
			w.Truncate(mark)
			return errors.From(err).WithColumn(col.Spec.Name)
		}
	}
	return nil
}
