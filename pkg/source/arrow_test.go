package source

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func arrowFixture(t *testing.T) []byte {
	t.Helper()
	pool := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String},
		{Name: "score", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "ts", Type: arrow.FixedWidthTypes.Timestamp_ms},
	}, nil)

	rb := array.NewRecordBuilder(pool, schema)
	defer rb.Release()
	rb.Field(0).(*array.Int64Builder).AppendValues([]int64{1, 2}, nil)
	rb.Field(1).(*array.StringBuilder).AppendValues([]string{"a", "b"}, nil)
	rb.Field(2).(*array.Float64Builder).Append(1.5)
	rb.Field(2).(*array.Float64Builder).AppendNull()
	tsb := rb.Field(3).(*array.TimestampBuilder)
	tsb.Append(arrow.Timestamp(1_682_942_400_000))
	tsb.Append(arrow.Timestamp(1_682_942_401_000))

	rec := rb.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	fw, err := ipc.NewFileWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(pool))
	require.NoError(t, err)
	require.NoError(t, fw.Write(rec))
	require.NoError(t, fw.Close())
	return buf.Bytes()
}

func TestFromArrowIPC(t *testing.T) {
	src, err := FromArrowIPC(bytes.NewReader(arrowFixture(t)))
	require.NoError(t, err)
	defer src.Close()

	row, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), row["id"])
	assert.Equal(t, "a", row["name"])
	assert.Equal(t, 1.5, row["score"])
	assert.Equal(t, time.UnixMilli(1_682_942_400_000).UTC(), row["ts"])

	row, err = src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), row["id"])
	assert.Nil(t, row["score"])

	_, err = src.Next(context.Background())
	assert.Equal(t, io.EOF, err)
	assert.NoError(t, src.Close())
	assert.NoError(t, src.Close())
}

func TestFromArrowIPCBadInput(t *testing.T) {
	_, err := FromArrowIPC(bytes.NewReader([]byte("not arrow")))
	assert.Error(t, err)
}
