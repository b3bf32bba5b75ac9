package source

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parquetFixture(t *testing.T, rows int) []byte {
	t.Helper()
	pool := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String},
		{Name: "score", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	}, nil)

	rb := array.NewRecordBuilder(pool, schema)
	defer rb.Release()
	for i := 0; i < rows; i++ {
		rb.Field(0).(*array.Int64Builder).Append(int64(i + 1))
		rb.Field(1).(*array.StringBuilder).Append(string(rune('a' + i%26)))
		if i%2 == 0 {
			rb.Field(2).(*array.Float64Builder).Append(float64(i) + 0.5)
		} else {
			rb.Field(2).(*array.Float64Builder).AppendNull()
		}
	}
	rec := rb.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	fw, err := pqarrow.NewFileWriter(schema, &buf,
		parquet.NewWriterProperties(parquet.WithAllocator(pool)),
		pqarrow.DefaultWriterProps())
	require.NoError(t, err)
	require.NoError(t, fw.Write(rec))
	require.NoError(t, fw.Close())
	return buf.Bytes()
}

func TestFromParquet(t *testing.T) {
	src, err := FromParquet(bytes.NewReader(parquetFixture(t, 3)))
	require.NoError(t, err)
	defer src.Close()

	row, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), row["id"])
	assert.Equal(t, "a", row["name"])
	assert.Equal(t, 0.5, row["score"])

	row, err = src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), row["id"])
	assert.Nil(t, row["score"])

	_, err = src.Next(context.Background())
	require.NoError(t, err)

	_, err = src.Next(context.Background())
	assert.Equal(t, io.EOF, err)
	assert.NoError(t, src.Close())
	assert.NoError(t, src.Close())
}

func TestFromParquetManyRows(t *testing.T) {
	src, err := FromParquet(bytes.NewReader(parquetFixture(t, 500)))
	require.NoError(t, err)
	defer src.Close()

	n := 0
	for {
		row, err := src.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		n++
		assert.EqualValues(t, n, row["id"])
	}
	assert.Equal(t, 500, n)
}

func TestFromParquetBadInput(t *testing.T) {
	_, err := FromParquet(bytes.NewReader([]byte("not parquet")))
	assert.Error(t, err)
}

func TestFromParquetCancelled(t *testing.T) {
	src, err := FromParquet(bytes.NewReader(parquetFixture(t, 3)))
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
