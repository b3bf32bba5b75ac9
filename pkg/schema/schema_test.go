package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowforge/rowforge/pkg/coltype"
	"github.com/rowforge/rowforge/pkg/errors"
)

func eventsTable() *Table {
	return NewTable("analytics", "events",
		Column{Name: "id", Type: "UInt64"},
		Column{Name: "name", Type: "String"},
		Column{Name: "ts", Type: "DateTime"},
		Column{Name: "created", Type: "DateTime", DefaultKind: DefaultExpr, DefaultExpression: "now()"},
		Column{Name: "day", Type: "Date", DefaultKind: DefaultMaterialized, DefaultExpression: "toDate(ts)"},
	)
}

func TestResolve(t *testing.T) {
	table := eventsTable()
	require.NoError(t, table.Resolve())
	assert.True(t, table.Resolved())

	id := table.Column("id")
	require.NotNil(t, id)
	require.NotNil(t, id.Parsed)
	assert.Equal(t, coltype.KindUInt64, id.Parsed.Kind)

	assert.Nil(t, table.Column("missing"))
}

func TestResolveValidation(t *testing.T) {
	tests := []struct {
		name  string
		table *Table
	}{
		{"empty name", NewTable("db", "", Column{Name: "a", Type: "Int8"})},
		{"no columns", NewTable("db", "t")},
		{"unnamed column", NewTable("db", "t", Column{Type: "Int8"})},
		{"duplicate column", NewTable("db", "t",
			Column{Name: "a", Type: "Int8"},
			Column{Name: "a", Type: "Int16"})},
		{"bad type", NewTable("db", "t", Column{Name: "a", Type: "FixedString(0)"})},
		{"only materialized", NewTable("db", "t",
			Column{Name: "a", Type: "Int8", DefaultKind: DefaultMaterialized})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.table.Resolve()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
		})
	}
}

func TestInsertableColumns(t *testing.T) {
	table := eventsTable()
	require.NoError(t, table.Resolve())

	cols := table.InsertableColumns()
	require.Len(t, cols, 4)
	assert.Equal(t, "id", cols[0].Name)
	assert.Equal(t, "created", cols[3].Name)

	assert.False(t, table.Column("day").Insertable())
	assert.True(t, table.Column("created").Omittable())
	assert.False(t, table.Column("id").Omittable())
}

func TestQualifiedName(t *testing.T) {
	assert.Equal(t, "`analytics`.`events`", eventsTable().QualifiedName())
	assert.Equal(t, "`events`", NewTable("", "events").QualifiedName())
	assert.Equal(t, "`we\\`ird`", QuoteIdentifier("we`ird"))
}

func TestFingerprint(t *testing.T) {
	a := eventsTable()
	b := eventsTable()
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.Columns[0].Type = "UInt32"
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())

	c := eventsTable()
	c.Columns[3].DefaultKind = DefaultNone
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestParseDefaultKind(t *testing.T) {
	kind, err := ParseDefaultKind("")
	require.NoError(t, err)
	assert.Equal(t, DefaultNone, kind)

	kind, err = ParseDefaultKind("materialized")
	require.NoError(t, err)
	assert.Equal(t, DefaultMaterialized, kind)

	_, err = ParseDefaultKind("WEIRD")
	assert.Error(t, err)
}

func TestFromDescribe(t *testing.T) {
	rows := []DescribeRow{
		{Name: "id", Type: "UInt64"},
		{Name: "tags", Type: "Array(String)"},
		{Name: "created", Type: "DateTime", DefaultType: "DEFAULT", DefaultExpression: "now()"},
		{Name: "derived", Type: "UInt64", DefaultType: "MATERIALIZED", DefaultExpression: "id * 2"},
	}

	table, err := FromDescribe("db", "t", rows)
	require.NoError(t, err)
	assert.True(t, table.Resolved())
	assert.Len(t, table.InsertableColumns(), 3)
	assert.Equal(t, DefaultMaterialized, table.Column("derived").DefaultKind)

	_, err = FromDescribe("db", "t", []DescribeRow{{Name: "x", Type: "Int8", DefaultType: "NOPE"}})
	assert.Error(t, err)
}
