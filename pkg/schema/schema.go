// Package schema models the table metadata an insert targets: column names,
// declared types and server-side default handling.
package schema

import (
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/rowforge/rowforge/pkg/coltype"
	"github.com/rowforge/rowforge/pkg/errors"
)

// DefaultKind classifies a column's server-side default clause.
type DefaultKind uint8

const (
	// DefaultNone marks a plain column; every insert must supply it.
	DefaultNone DefaultKind = iota
	// DefaultExpr marks a DEFAULT column; inserts may omit it and the
	// server fills the expression value.
	DefaultExpr
	// DefaultMaterialized columns are always computed server-side and can
	// never be written.
	DefaultMaterialized
	// DefaultAlias columns are projections and can never be written.
	DefaultAlias
	// DefaultEphemeral columns only feed other defaults and are not
	// written by this client.
	DefaultEphemeral
)

var defaultKindNames = map[DefaultKind]string{
	DefaultNone:         "",
	DefaultExpr:         "DEFAULT",
	DefaultMaterialized: "MATERIALIZED",
	DefaultAlias:        "ALIAS",
	DefaultEphemeral:    "EPHEMERAL",
}

func (k DefaultKind) String() string { return defaultKindNames[k] }

// ParseDefaultKind maps the default_type field of a DESCRIBE TABLE row.
func ParseDefaultKind(s string) (DefaultKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return DefaultNone, nil
	case "DEFAULT":
		return DefaultExpr, nil
	case "MATERIALIZED":
		return DefaultMaterialized, nil
	case "ALIAS":
		return DefaultAlias, nil
	case "EPHEMERAL":
		return DefaultEphemeral, nil
	default:
		return DefaultNone, errors.Newf(errors.ErrorTypeConfiguration,
			"unknown column default kind %q", s)
	}
}

// Column is one column of the target table.
type Column struct {
	Name string
	// Type is the declared type text, e.g. "Nullable(DateTime64(3))".
	Type string
	// Parsed is filled by Table.Resolve.
	Parsed      *coltype.Type
	DefaultKind DefaultKind
	// DefaultExpression is the server-side expression text, informational
	// only.
	DefaultExpression string
}

// Insertable reports whether the column may appear in an insert column
// list.
func (c *Column) Insertable() bool {
	return c.DefaultKind == DefaultNone || c.DefaultKind == DefaultExpr
}

// Omittable reports whether every row may leave the column out and let the
// server fill it.
func (c *Column) Omittable() bool {
	return c.DefaultKind == DefaultExpr
}

// Table is the metadata of one insert target.
type Table struct {
	Database string
	Name     string
	Columns  []Column

	resolved bool
}

// NewTable builds a table description. Call Resolve before handing it to
// the planner.
func NewTable(database, name string, columns ...Column) *Table {
	return &Table{Database: database, Name: name, Columns: columns}
}

// Resolve parses every column type and validates the table shape. It is
// idempotent and must succeed before the table can be planned.
func (t *Table) Resolve() error {
	if t.Name == "" {
		return errors.New(errors.ErrorTypeConfiguration, "table name is empty")
	}
	if len(t.Columns) == 0 {
		return errors.Newf(errors.ErrorTypeConfiguration,
			"table %s has no columns", t.QualifiedName()).
			WithDetail(errors.DetailTable, t.QualifiedName())
	}

	seen := make(map[string]struct{}, len(t.Columns))
	insertable := 0
	for i := range t.Columns {
		col := &t.Columns[i]
		if col.Name == "" {
			return errors.Newf(errors.ErrorTypeConfiguration,
				"table %s has an unnamed column", t.QualifiedName()).
				WithDetail(errors.DetailTable, t.QualifiedName())
		}
		if _, dup := seen[col.Name]; dup {
			return errors.Newf(errors.ErrorTypeConfiguration,
				"table %s declares column %q twice", t.QualifiedName(), col.Name).
				WithDetail(errors.DetailTable, t.QualifiedName()).
				WithColumn(col.Name)
		}
		seen[col.Name] = struct{}{}

		parsed, err := coltype.Parse(col.Type)
		if err != nil {
			return errors.Wrapf(err, errors.ErrorTypeConfiguration,
				"table %s column %q", t.QualifiedName(), col.Name).
				WithDetail(errors.DetailTable, t.QualifiedName()).
				WithColumn(col.Name)
		}
		col.Parsed = parsed
		if col.Insertable() {
			insertable++
		}
	}

	if insertable == 0 {
		return errors.Newf(errors.ErrorTypeConfiguration,
			"table %s has no insertable columns", t.QualifiedName()).
			WithDetail(errors.DetailTable, t.QualifiedName())
	}

	t.resolved = true
	return nil
}

// Resolved reports whether Resolve has completed.
func (t *Table) Resolved() bool { return t.resolved }

// QualifiedName returns the table reference for SQL statements, quoted and
// database-prefixed when a database is set.
func (t *Table) QualifiedName() string {
	if t.Database == "" {
		return QuoteIdentifier(t.Name)
	}
	return QuoteIdentifier(t.Database) + "." + QuoteIdentifier(t.Name)
}

// InsertableColumns returns the columns an insert may write, in declared
// order.
func (t *Table) InsertableColumns() []*Column {
	out := make([]*Column, 0, len(t.Columns))
	for i := range t.Columns {
		if t.Columns[i].Insertable() {
			out = append(out, &t.Columns[i])
		}
	}
	return out
}

// Column looks a column up by name.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// Fingerprint hashes the table layout. Plans are cached per fingerprint so
// two tables with identical shape share compiled encoders.
func (t *Table) Fingerprint() uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(t.Database)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(t.Name)
	for i := range t.Columns {
		col := &t.Columns[i]
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(col.Name)
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(col.Type)
		_, _ = h.Write([]byte{byte(col.DefaultKind)})
	}
	return h.Sum64()
}

// QuoteIdentifier backtick-quotes an identifier for use in a statement.
func QuoteIdentifier(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 2)
	b.WriteByte('`')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '`' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	b.WriteByte('`')
	return b.String()
}
