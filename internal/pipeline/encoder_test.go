package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowforge/rowforge/pkg/errors"
	"github.com/rowforge/rowforge/pkg/format"
	"github.com/rowforge/rowforge/pkg/plan"
	"github.com/rowforge/rowforge/pkg/schema"
)

func testRowEncoder(t *testing.T) format.RowEncoder {
	t.Helper()
	table := schema.NewTable("db", "events",
		schema.Column{Name: "id", Type: "UInt32"},
		schema.Column{Name: "name", Type: "String"},
	)
	require.NoError(t, table.Resolve())
	p, err := plan.Build(table)
	require.NoError(t, err)
	dec, err := format.Resolve(p, []plan.Row{{"id": 1, "name": "a"}}, format.PreferBinary)
	require.NoError(t, err)
	return format.NewRowEncoder(dec)
}

func feed(blocks []Block) <-chan Block {
	in := make(chan Block, len(blocks))
	for _, b := range blocks {
		in <- b
	}
	close(in)
	return in
}

func TestRunDeliversInOrder(t *testing.T) {
	enc := NewOrderedEncoder(testRowEncoder(t), Config{Workers: 4})

	const n = 16
	blocks := make([]Block, n)
	for i := range blocks {
		blocks[i] = Block{Index: i, Rows: []plan.Row{
			{"id": uint32(i * 2), "name": fmt.Sprintf("r%d", i*2)},
			{"id": uint32(i*2 + 1), "name": fmt.Sprintf("r%d", i*2+1)},
		}}
	}

	var got []Encoded
	err := enc.Run(context.Background(), feed(blocks), func(_ context.Context, e Encoded) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, got, n)
	for i, e := range got {
		assert.Equal(t, i, e.Index)
		assert.Equal(t, 2, e.Rows)
		assert.NotEmpty(t, e.Body)
	}
}

func TestRunBodyBytes(t *testing.T) {
	enc := NewOrderedEncoder(testRowEncoder(t), Config{Workers: 1})

	blocks := []Block{{Index: 0, Rows: []plan.Row{
		{"id": uint32(7), "name": "ab"},
		{"id": uint32(8), "name": "c"},
	}}}

	var got []Encoded
	err := enc.Run(context.Background(), feed(blocks), func(_ context.Context, e Encoded) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, got, 1)
	want := []byte{
		0x07, 0x00, 0x00, 0x00, 0x02, 'a', 'b',
		0x08, 0x00, 0x00, 0x00, 0x01, 'c',
	}
	assert.Equal(t, want, got[0].Body)
}

func TestRunEncodeErrorStopsDelivery(t *testing.T) {
	enc := NewOrderedEncoder(testRowEncoder(t), Config{Workers: 4})

	blocks := []Block{
		{Index: 0, Rows: []plan.Row{{"id": 1, "name": "ok"}}},
		{Index: 1, Rows: []plan.Row{{"bogus": 1}}},
		{Index: 2, Rows: []plan.Row{{"id": 3, "name": "never"}}},
		{Index: 3, Rows: []plan.Row{{"id": 4, "name": "never"}}},
	}

	var delivered []int
	err := enc.Run(context.Background(), feed(blocks), func(_ context.Context, e Encoded) error {
		delivered = append(delivered, e.Index)
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	e, ok := errors.AsError(err)
	require.True(t, ok)
	assert.Equal(t, 1, e.Detail(errors.DetailBlock))
	assert.Equal(t, 0, e.Detail(errors.DetailRow))

	assert.Equal(t, []int{0}, delivered)
}

func TestRunSinkErrorStopsDelivery(t *testing.T) {
	enc := NewOrderedEncoder(testRowEncoder(t), Config{Workers: 2})

	blocks := make([]Block, 8)
	for i := range blocks {
		blocks[i] = Block{Index: i, Rows: []plan.Row{{"id": uint32(i), "name": "x"}}}
	}

	sinkErr := errors.New(errors.ErrorTypeTransport, "store unavailable")
	var delivered []int
	err := enc.Run(context.Background(), feed(blocks), func(_ context.Context, e Encoded) error {
		if e.Index == 2 {
			return sinkErr
		}
		delivered = append(delivered, e.Index)
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransport))
	assert.Equal(t, []int{0, 1}, delivered)
}

func TestRunCancellation(t *testing.T) {
	enc := NewOrderedEncoder(testRowEncoder(t), Config{Workers: 2})

	blocks := make([]Block, 8)
	for i := range blocks {
		blocks[i] = Block{Index: i, Rows: []plan.Row{{"id": uint32(i), "name": "x"}}}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var delivered int
	err := enc.Run(ctx, feed(blocks), func(_ context.Context, e Encoded) error {
		delivered++
		cancel()
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, delivered, len(blocks))
}

func TestRunEmptyInput(t *testing.T) {
	enc := NewOrderedEncoder(testRowEncoder(t), Config{})

	var delivered int
	err := enc.Run(context.Background(), feed(nil), func(_ context.Context, e Encoded) error {
		delivered++
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, delivered)
}

func TestConfigDefaults(t *testing.T) {
	enc := NewOrderedEncoder(testRowEncoder(t), Config{})
	assert.Greater(t, enc.workers, 0)
	assert.Equal(t, enc.workers*2, enc.depth)
}
