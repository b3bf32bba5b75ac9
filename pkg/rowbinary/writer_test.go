package rowbinary

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteUvarint(t *testing.T) {
	tests := []struct {
		v    uint64
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xAC, 0x02}},
		{16384, []byte{0x80, 0x80, 0x01}},
	}

	for _, tt := range tests {
		w := NewWriter(8)
		w.WriteUvarint(tt.v)
		assert.Equal(t, tt.want, w.Bytes(), "uvarint %d", tt.v)
	}
}

func TestWriteFixedWidth(t *testing.T) {
	w := NewWriter(16)
	w.WriteUint16(0x1234)
	assert.Equal(t, []byte{0x34, 0x12}, w.Bytes())

	w.Reset()
	w.WriteUint32(0x01020304)
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, w.Bytes())

	w.Reset()
	w.WriteUint64(0x0102030405060708)
	assert.Equal(t, []byte{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}, w.Bytes())
}

func TestWriteString(t *testing.T) {
	w := NewWriter(16)
	w.WriteString("Alice")
	assert.Equal(t, []byte{0x05, 0x41, 0x6C, 0x69, 0x63, 0x65}, w.Bytes())

	w.Reset()
	w.WriteString("")
	assert.Equal(t, []byte{0x00}, w.Bytes())
}

func TestWriteBigInt(t *testing.T) {
	w := NewWriter(32)
	require.NoError(t, w.WriteBigInt(big.NewInt(-1), 16, true))
	want := make([]byte, 16)
	for i := range want {
		want[i] = 0xFF
	}
	assert.Equal(t, want, w.Bytes())

	w.Reset()
	two64 := new(big.Int).Lsh(big.NewInt(1), 64)
	require.NoError(t, w.WriteBigInt(two64, 16, false))
	want = make([]byte, 16)
	want[8] = 0x01
	assert.Equal(t, want, w.Bytes())

	w.Reset()
	require.NoError(t, w.WriteBigInt(big.NewInt(258), 32, true))
	want = make([]byte, 32)
	want[0], want[1] = 0x02, 0x01
	assert.Equal(t, want, w.Bytes())
}

func TestWriteBigIntRange(t *testing.T) {
	w := NewWriter(32)

	two128 := new(big.Int).Lsh(big.NewInt(1), 128)
	assert.Error(t, w.WriteBigInt(two128, 16, false))
	assert.Error(t, w.WriteBigInt(big.NewInt(-1), 16, false))

	maxInt128 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	assert.NoError(t, w.WriteBigInt(maxInt128, 16, true))
	assert.Error(t, w.WriteBigInt(new(big.Int).Add(maxInt128, big.NewInt(1)), 16, true))
}

func TestTruncateRollsBack(t *testing.T) {
	w := NewWriter(16)
	w.WriteUint32(7)
	mark := w.Len()
	w.WriteString("partial")
	w.Truncate(mark)
	assert.Equal(t, mark, w.Len())
	assert.Equal(t, []byte{0x07, 0x00, 0x00, 0x00}, w.Bytes())
}

func TestWriterPooling(t *testing.T) {
	w := GetWriter()
	w.WriteString("payload")
	require.NotZero(t, w.Len())
	PutWriter(w)

	w2 := GetWriter()
	assert.Zero(t, w2.Len())
	PutWriter(w2)

	// Oversized writers are dropped rather than pooled.
	big := NewWriter(2 << 20)
	PutWriter(big)
	PutWriter(nil)
}

func TestGrow(t *testing.T) {
	w := NewWriter(0)
	w.Grow(128)
	assert.GreaterOrEqual(t, cap(w.buf)-w.Len(), 128)
	w.WriteRaw(make([]byte, 100))
	assert.Equal(t, 100, w.Len())
}
