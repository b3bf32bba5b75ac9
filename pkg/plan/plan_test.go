package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowforge/rowforge/pkg/errors"
	"github.com/rowforge/rowforge/pkg/rowbinary"
	"github.com/rowforge/rowforge/pkg/schema"
	"github.com/rowforge/rowforge/pkg/value"
)

func testTable(t *testing.T) *schema.Table {
	t.Helper()
	table := schema.NewTable("analytics", "events",
		schema.Column{Name: "id", Type: "UInt32"},
		schema.Column{Name: "name", Type: "String"},
		schema.Column{Name: "active", Type: "Bool"},
		schema.Column{Name: "note", Type: "Nullable(String)"},
		schema.Column{Name: "created", Type: "DateTime", DefaultKind: schema.DefaultExpr},
		schema.Column{Name: "day", Type: "Date", DefaultKind: schema.DefaultMaterialized},
	)
	require.NoError(t, table.Resolve())
	return table
}

func TestBuildFullPlan(t *testing.T) {
	p, err := Build(testTable(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "name", "active", "note", "created"}, p.ColumnNames())
	assert.True(t, p.Binary())
	assert.True(t, p.Has("id"))
	assert.False(t, p.Has("day"))
}

func TestBuildIsDeterministic(t *testing.T) {
	a, err := Build(testTable(t))
	require.NoError(t, err)
	b, err := Build(testTable(t))
	require.NoError(t, err)

	assert.Equal(t, a.ColumnNames(), b.ColumnNames())
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestBuildUnsupportedColumn(t *testing.T) {
	table := schema.NewTable("db", "t",
		schema.Column{Name: "id", Type: "UInt32"},
		schema.Column{Name: "geo", Type: "Point"},
	)
	require.NoError(t, table.Resolve())

	p, err := Build(table)
	require.NoError(t, err)
	assert.False(t, p.Binary())
	assert.Equal(t, []string{"id", "geo"}, p.ColumnNames())
	assert.Nil(t, p.Columns[1].Encoder)
}

func TestBuildJSONColumn(t *testing.T) {
	table := schema.NewTable("db", "t",
		schema.Column{Name: "id", Type: "UInt32"},
		schema.Column{Name: "attrs", Type: "JSON"},
	)
	require.NoError(t, table.Resolve())

	p, err := Build(table)
	require.NoError(t, err)
	assert.True(t, p.Binary())
	assert.NotNil(t, p.Columns[1].Encoder)
}

func TestSubset(t *testing.T) {
	p, err := Build(testTable(t))
	require.NoError(t, err)

	// Declared order wins over request order.
	sub, err := p.Subset([]string{"name", "id"})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, sub.ColumnNames())
	assert.True(t, sub.Binary())
	assert.NotEqual(t, p.Fingerprint(), sub.Fingerprint())

	_, err = p.Subset([]string{"missing"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = p.Subset([]string{"day"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MATERIALIZED")

	_, err = p.Subset(nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
}

func TestNormalizeRow(t *testing.T) {
	p, err := Build(testTable(t))
	require.NoError(t, err)
	sub, err := p.Subset([]string{"id", "name", "active", "note"})
	require.NoError(t, err)

	cells, err := sub.NormalizeRow(Row{"id": 1, "name": "Alice", "active": true})
	require.NoError(t, err)
	require.Len(t, cells, 4)
	assert.Equal(t, int64(1), cells[0].Int)
	assert.Equal(t, "Alice", cells[1].Str)
	// Absent nullable column becomes null.
	assert.True(t, cells[3].IsNull())
}

func TestNormalizeRowErrors(t *testing.T) {
	p, err := Build(testTable(t))
	require.NoError(t, err)
	sub, err := p.Subset([]string{"id", "name", "active"})
	require.NoError(t, err)

	_, err = sub.NormalizeRow(Row{"id": 1, "name": "x", "active": true, "bogus": 1})
	require.Error(t, err)
	e, ok := errors.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "bogus", e.Detail(errors.DetailColumn))

	_, err = sub.NormalizeRow(Row{"id": 1, "active": true})
	require.Error(t, err)
	e, ok = errors.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "name", e.Detail(errors.DetailColumn))

	_, err = sub.NormalizeRow(Row{"id": 1, "name": "x", "active": true, "created": "2023-05-01 00:00:00"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "column list")

	_, err = sub.NormalizeRow(Row{"id": 1, "name": "x", "active": make(chan int)})
	require.Error(t, err)
}

func TestValidateKeys(t *testing.T) {
	p, err := Build(testTable(t))
	require.NoError(t, err)

	assert.NoError(t, p.ValidateKeys(Row{"id": 1}))
	assert.Error(t, p.ValidateKeys(Row{"bogus": 1}))
	assert.Error(t, p.ValidateKeys(Row{"day": "2023-05-01"}))
}

func TestEncodeRow(t *testing.T) {
	p, err := Build(testTable(t))
	require.NoError(t, err)
	sub, err := p.Subset([]string{"id", "name", "active"})
	require.NoError(t, err)

	cells, err := sub.NormalizeRow(Row{"id": 1, "name": "Alice", "active": true})
	require.NoError(t, err)

	w := rowbinary.NewWriter(32)
	require.NoError(t, sub.EncodeRow(w, cells))
	assert.Equal(t, []byte{
		0x01, 0x00, 0x00, 0x00,
		0x05, 0x41, 0x6C, 0x69, 0x63, 0x65,
		0x01,
	}, w.Bytes())
}

func TestEncodeRowRollsBackOnError(t *testing.T) {
	p, err := Build(testTable(t))
	require.NoError(t, err)
	sub, err := p.Subset([]string{"id", "name"})
	require.NoError(t, err)

	w := rowbinary.NewWriter(32)
	good, err := sub.NormalizeRow(Row{"id": 1, "name": "a"})
	require.NoError(t, err)
	require.NoError(t, sub.EncodeRow(w, good))
	before := w.Len()

	bad := []value.Value{value.MustOf(int64(1) << 40), value.MustOf("b")}
	err = sub.EncodeRow(w, bad)
	require.Error(t, err)
	assert.Equal(t, before, w.Len())

	e, ok := errors.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "id", e.Detail(errors.DetailColumn))
}

func TestEncodeRowOnTextOnlyPlan(t *testing.T) {
	table := schema.NewTable("db", "t", schema.Column{Name: "geo", Type: "Point"})
	require.NoError(t, table.Resolve())
	p, err := Build(table)
	require.NoError(t, err)

	err = p.EncodeRow(rowbinary.NewWriter(8), []value.Value{value.MustOf("x")})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeEncoding))
}

func TestCache(t *testing.T) {
	cache := NewCache(2)

	table := testTable(t)
	a, err := cache.For(table)
	require.NoError(t, err)
	b, err := cache.For(table)
	require.NoError(t, err)
	assert.Same(t, a, b)

	hits, misses := cache.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	// Same layout under a different *Table value still hits.
	c, err := cache.For(testTable(t))
	require.NoError(t, err)
	assert.Same(t, a, c)
}

func TestCacheEviction(t *testing.T) {
	cache := NewCache(1)

	_, err := cache.For(testTable(t))
	require.NoError(t, err)

	other := schema.NewTable("db", "other", schema.Column{Name: "x", Type: "Int8"})
	require.NoError(t, other.Resolve())
	_, err = cache.For(other)
	require.NoError(t, err)

	assert.Equal(t, 1, cache.Len())
}

func TestCacheInvalidate(t *testing.T) {
	cache := NewCache(4)

	table := testTable(t)
	a, err := cache.For(table)
	require.NoError(t, err)

	cache.Invalidate(table)
	assert.Equal(t, 0, cache.Len())

	b, err := cache.For(table)
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	// Layouts that were never cached are a no-op.
	other := schema.NewTable("db", "other", schema.Column{Name: "x", Type: "Int8"})
	require.NoError(t, other.Resolve())
	cache.Invalidate(other)
	assert.Equal(t, 1, cache.Len())
}
