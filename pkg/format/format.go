// Package format resolves which wire format an insert call uses and encodes
// rows for the two text formats. The binary format is preferred whenever the
// column list supports it; the text formats defer fine-grained value
// validation to the store.
package format

import (
	"strings"

	"github.com/rowforge/rowforge/pkg/errors"
	"github.com/rowforge/rowforge/pkg/plan"
	"github.com/rowforge/rowforge/pkg/schema"
)

// Format is a wire format the store accepts on insert.
type Format uint8

const (
	// RowBinary is the headerless binary row format.
	RowBinary Format = iota
	// JSONCompactEachRow is one JSON array per row, positional against the
	// statement column list.
	JSONCompactEachRow
	// JSONEachRow is one JSON object per row, self-describing per row.
	JSONEachRow
)

var formatNames = [...]string{
	RowBinary:          "RowBinary",
	JSONCompactEachRow: "JSONCompactEachRow",
	JSONEachRow:        "JSONEachRow",
}

// String returns the format name as it appears in the INSERT statement.
func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return "unknown"
}

// ContentType returns the request body content type for the format.
func (f Format) ContentType() string {
	if f == RowBinary {
		return "application/octet-stream"
	}
	return "application/x-ndjson"
}

// Binary reports whether the format carries binary row encodings.
func (f Format) Binary() bool { return f == RowBinary }

// Preference is the caller's format request. The zero value lets the
// resolver decide.
type Preference uint8

const (
	PreferAuto Preference = iota
	PreferBinary
	PreferCompact
	PreferText
)

var preferenceNames = [...]string{
	PreferAuto:    "auto",
	PreferBinary:  "binary",
	PreferCompact: "compact",
	PreferText:    "text",
}

func (p Preference) String() string {
	if int(p) < len(preferenceNames) {
		return preferenceNames[p]
	}
	return "auto"
}

// ParsePreference reads a format preference from configuration. Both the
// short names and the wire format names are accepted.
func ParsePreference(s string) (Preference, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return PreferAuto, nil
	case "binary", "rowbinary":
		return PreferBinary, nil
	case "compact", "jsoncompacteachrow":
		return PreferCompact, nil
	case "text", "json", "jsoneachrow":
		return PreferText, nil
	default:
		return PreferAuto, errors.Newf(errors.ErrorTypeConfiguration,
			"unknown format preference %q", s)
	}
}

// Decision is the resolved format plus the column list it travels with.
// It is fixed for the whole insert call.
type Decision struct {
	Format Format
	// Plan carries the statement column list for RowBinary and
	// JSONCompactEachRow; for JSONEachRow it is the full plan and each row
	// names its own columns.
	Plan *plan.Plan
}

// Statement renders the INSERT statement for the decision.
func (d Decision) Statement() string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(d.Plan.Table.QualifiedName())
	if d.Format != JSONEachRow {
		b.WriteString(" (")
		for i, name := range d.Plan.ColumnNames() {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(schema.QuoteIdentifier(name))
		}
		b.WriteString(")")
	}
	b.WriteString(" FORMAT ")
	b.WriteString(d.Format.String())
	return b.String()
}

// Resolve fixes the format for a call whose rows are all known up front.
//
// An explicit preference wins; forcing RowBinary on a plan with unsupported
// column types is a configuration error. Under the automatic preference
// RowBinary is chosen when every row carries every column, the compact text
// format when rows are uniform, and the object text format otherwise.
func Resolve(full *plan.Plan, rows []plan.Row, pref Preference) (Decision, error) {
	switch pref {
	case PreferText:
		return Decision{Format: JSONEachRow, Plan: full}, nil
	case PreferCompact:
		sub, err := full.Subset(compactColumns(full, rows))
		if err != nil {
			return Decision{}, err
		}
		return Decision{Format: JSONCompactEachRow, Plan: sub}, nil
	case PreferBinary:
		if !full.Binary() {
			return Decision{}, binaryIneligible(full)
		}
		return Decision{Format: RowBinary, Plan: full}, nil
	}

	if full.Binary() && allRowsComplete(full, rows) {
		return Decision{Format: RowBinary, Plan: full}, nil
	}
	if uniformPresence(full, rows) {
		sub, err := full.Subset(compactColumns(full, rows))
		if err != nil {
			return Decision{}, err
		}
		return Decision{Format: JSONCompactEachRow, Plan: sub}, nil
	}
	return Decision{Format: JSONEachRow, Plan: full}, nil
}

// ResolveStreaming fixes the format before any row is visible. The
// automatic preference stays on RowBinary only when the plan has no
// server-default columns a stream might want to omit; otherwise it falls
// back to the object text format.
func ResolveStreaming(full *plan.Plan, pref Preference) (Decision, error) {
	switch pref {
	case PreferText:
		return Decision{Format: JSONEachRow, Plan: full}, nil
	case PreferCompact:
		return Decision{Format: JSONCompactEachRow, Plan: full}, nil
	case PreferBinary:
		if !full.Binary() {
			return Decision{}, binaryIneligible(full)
		}
		return Decision{Format: RowBinary, Plan: full}, nil
	}

	if full.Binary() && !hasOmittable(full) {
		return Decision{Format: RowBinary, Plan: full}, nil
	}
	return Decision{Format: JSONEachRow, Plan: full}, nil
}

func binaryIneligible(p *plan.Plan) error {
	for _, col := range p.Columns {
		if col.Encoder == nil {
			return errors.Newf(errors.ErrorTypeConfiguration,
				"cannot force RowBinary: column %q of %s has type %s with no binary encoding",
				col.Spec.Name, p.Table.QualifiedName(), col.Spec.Type).
				WithColumn(col.Spec.Name).
				WithDetail(errors.DetailFormat, RowBinary.String())
		}
	}
	return errors.Newf(errors.ErrorTypeConfiguration,
		"cannot force RowBinary for %s", p.Table.QualifiedName())
}

func hasOmittable(p *plan.Plan) bool {
	for _, col := range p.Columns {
		if col.Spec.Omittable() {
			return true
		}
	}
	return false
}

// compactColumns drops the server-default columns no row supplies, keeping
// everything else.
func compactColumns(p *plan.Plan, rows []plan.Row) []string {
	names := make([]string, 0, len(p.Columns))
	for _, col := range p.Columns {
		if col.Spec.Omittable() && !anyRowHas(rows, col.Spec.Name) {
			continue
		}
		names = append(names, col.Spec.Name)
	}
	if len(names) == 0 {
		return p.ColumnNames()
	}
	return names
}

func anyRowHas(rows []plan.Row, name string) bool {
	for _, row := range rows {
		if _, ok := row[name]; ok {
			return true
		}
	}
	return false
}

// allRowsComplete reports whether every row supplies every planned column.
// Nullable columns may be absent; they encode as null.
func allRowsComplete(p *plan.Plan, rows []plan.Row) bool {
	for _, col := range p.Columns {
		if col.Spec.Parsed.IsNullable() {
			continue
		}
		for _, row := range rows {
			if _, ok := row[col.Spec.Name]; !ok {
				return false
			}
		}
	}
	return true
}

// uniformPresence reports whether the positional text format can carry the
// rows: each server-default column is either supplied by all rows or by
// none, and no row misses a required column.
func uniformPresence(p *plan.Plan, rows []plan.Row) bool {
	for _, col := range p.Columns {
		if col.Spec.Parsed.IsNullable() {
			continue
		}
		name := col.Spec.Name
		count := 0
		for _, row := range rows {
			if _, ok := row[name]; ok {
				count++
			}
		}
		if col.Spec.Omittable() {
			if count != 0 && count != len(rows) {
				return false
			}
			continue
		}
		if count != len(rows) {
			return false
		}
	}
	return true
}
