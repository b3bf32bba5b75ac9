package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowforge/rowforge/pkg/errors"
	"github.com/rowforge/rowforge/pkg/plan"
	"github.com/rowforge/rowforge/pkg/schema"
)

func buildPlan(t *testing.T, columns ...schema.Column) *plan.Plan {
	t.Helper()
	table := schema.NewTable("db", "events", columns...)
	require.NoError(t, table.Resolve())
	p, err := plan.Build(table)
	require.NoError(t, err)
	return p
}

func standardPlan(t *testing.T) *plan.Plan {
	return buildPlan(t,
		schema.Column{Name: "id", Type: "UInt32"},
		schema.Column{Name: "name", Type: "String"},
		schema.Column{Name: "created", Type: "DateTime", DefaultKind: schema.DefaultExpr},
	)
}

func TestParsePreference(t *testing.T) {
	tests := []struct {
		in   string
		want Preference
	}{
		{"", PreferAuto},
		{"auto", PreferAuto},
		{"binary", PreferBinary},
		{"RowBinary", PreferBinary},
		{"compact", PreferCompact},
		{"JSONCompactEachRow", PreferCompact},
		{"text", PreferText},
		{"JSONEachRow", PreferText},
	}
	for _, tt := range tests {
		got, err := ParsePreference(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParsePreference("csv")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
}

func TestResolveExplicit(t *testing.T) {
	p := standardPlan(t)
	rows := []plan.Row{{"id": 1, "name": "a"}}

	dec, err := Resolve(p, rows, PreferText)
	require.NoError(t, err)
	assert.Equal(t, JSONEachRow, dec.Format)

	dec, err = Resolve(p, rows, PreferBinary)
	require.NoError(t, err)
	assert.Equal(t, RowBinary, dec.Format)
	assert.Equal(t, []string{"id", "name", "created"}, dec.Plan.ColumnNames())

	dec, err = Resolve(p, rows, PreferCompact)
	require.NoError(t, err)
	assert.Equal(t, JSONCompactEachRow, dec.Format)
	// The untouched server-default column drops out of the compact list.
	assert.Equal(t, []string{"id", "name"}, dec.Plan.ColumnNames())
}

func TestResolveForcedBinaryIneligible(t *testing.T) {
	p := buildPlan(t,
		schema.Column{Name: "id", Type: "UInt32"},
		schema.Column{Name: "geo", Type: "Point"},
	)

	_, err := Resolve(p, nil, PreferBinary)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
	e, ok := errors.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "geo", e.Detail(errors.DetailColumn))
}

func TestResolveAutoBinary(t *testing.T) {
	p := standardPlan(t)
	rows := []plan.Row{
		{"id": 1, "name": "a", "created": 1682942400},
		{"id": 2, "name": "b", "created": 1682942401},
	}

	dec, err := Resolve(p, rows, PreferAuto)
	require.NoError(t, err)
	assert.Equal(t, RowBinary, dec.Format)
}

func TestResolveAutoCompactWhenDefaultsOmitted(t *testing.T) {
	p := standardPlan(t)
	rows := []plan.Row{
		{"id": 1, "name": "a"},
		{"id": 2, "name": "b"},
	}

	dec, err := Resolve(p, rows, PreferAuto)
	require.NoError(t, err)
	assert.Equal(t, JSONCompactEachRow, dec.Format)
	assert.Equal(t, []string{"id", "name"}, dec.Plan.ColumnNames())
}

func TestResolveAutoTextWhenMixed(t *testing.T) {
	p := standardPlan(t)
	rows := []plan.Row{
		{"id": 1, "name": "a", "created": 1682942400},
		{"id": 2, "name": "b"},
	}

	dec, err := Resolve(p, rows, PreferAuto)
	require.NoError(t, err)
	assert.Equal(t, JSONEachRow, dec.Format)
}

func TestResolveAutoCompactWhenNotBinary(t *testing.T) {
	p := buildPlan(t,
		schema.Column{Name: "id", Type: "UInt32"},
		schema.Column{Name: "geo", Type: "Point"},
	)
	rows := []plan.Row{{"id": 1, "geo": []interface{}{1.0, 2.0}}}

	dec, err := Resolve(p, rows, PreferAuto)
	require.NoError(t, err)
	// Uniform rows still get the compact fallback.
	assert.Equal(t, JSONCompactEachRow, dec.Format)
}

func TestResolveAutoNullableAbsencesStayBinary(t *testing.T) {
	p := buildPlan(t,
		schema.Column{Name: "id", Type: "UInt32"},
		schema.Column{Name: "note", Type: "Nullable(String)"},
	)
	rows := []plan.Row{{"id": 1}, {"id": 2, "note": "x"}}

	dec, err := Resolve(p, rows, PreferAuto)
	require.NoError(t, err)
	assert.Equal(t, RowBinary, dec.Format)
}

func TestResolveStreaming(t *testing.T) {
	withDefault := standardPlan(t)

	dec, err := ResolveStreaming(withDefault, PreferAuto)
	require.NoError(t, err)
	assert.Equal(t, JSONEachRow, dec.Format)

	plain := buildPlan(t,
		schema.Column{Name: "id", Type: "UInt32"},
		schema.Column{Name: "name", Type: "String"},
	)
	dec, err = ResolveStreaming(plain, PreferAuto)
	require.NoError(t, err)
	assert.Equal(t, RowBinary, dec.Format)

	dec, err = ResolveStreaming(withDefault, PreferCompact)
	require.NoError(t, err)
	assert.Equal(t, JSONCompactEachRow, dec.Format)
	assert.Equal(t, []string{"id", "name", "created"}, dec.Plan.ColumnNames())

	unsupported := buildPlan(t, schema.Column{Name: "geo", Type: "Point"})
	_, err = ResolveStreaming(unsupported, PreferBinary)
	assert.Error(t, err)
}

func TestStatement(t *testing.T) {
	p := standardPlan(t)

	dec, err := Resolve(p, []plan.Row{{"id": 1, "name": "a"}}, PreferCompact)
	require.NoError(t, err)
	assert.Equal(t,
		"INSERT INTO `db`.`events` (`id`, `name`) FORMAT JSONCompactEachRow",
		dec.Statement())

	dec, err = Resolve(p, nil, PreferText)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO `db`.`events` FORMAT JSONEachRow", dec.Statement())

	dec, err = Resolve(p, []plan.Row{{"id": 1, "name": "a", "created": 1}}, PreferAuto)
	require.NoError(t, err)
	assert.Equal(t,
		"INSERT INTO `db`.`events` (`id`, `name`, `created`) FORMAT RowBinary",
		dec.Statement())
}

func TestFormatNames(t *testing.T) {
	assert.Equal(t, "RowBinary", RowBinary.String())
	assert.Equal(t, "JSONEachRow", JSONEachRow.String())
	assert.True(t, RowBinary.Binary())
	assert.False(t, JSONEachRow.Binary())
	assert.Equal(t, "application/octet-stream", RowBinary.ContentType())
	assert.Equal(t, "application/x-ndjson", JSONCompactEachRow.ContentType())
}
