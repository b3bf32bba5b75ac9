// Package rowbinary implements the RowBinary insert encoding: rows are
// concatenated field encodings in declared column order, with no header,
// no delimiters, and little-endian fixed-width numerics.
package rowbinary

import (
	"encoding/binary"
	"math/big"

	"github.com/rowforge/rowforge/pkg/errors"
	"github.com/rowforge/rowforge/pkg/pool"
)

// Writer accumulates encoded rows in an append-only buffer.
type Writer struct {
	buf []byte
}

var writerPool = pool.New(
	func() *Writer { return &Writer{buf: make([]byte, 0, 4096)} },
	func(w *Writer) { w.Reset() },
)

// GetWriter gets a pooled writer.
func GetWriter() *Writer {
	return writerPool.Get()
}

// PutWriter returns a writer to the pool. Writers that grew past 1MB are
// dropped so one oversized block does not pin memory.
func PutWriter(w *Writer) {
	if w == nil || cap(w.buf) > 1<<20 {
		return
	}
	writerPool.Put(w)
}

// NewWriter returns an unpooled writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Bytes returns the encoded buffer. The slice is only valid until the next
// write or Reset.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of encoded bytes.
func (w *Writer) Len() int { return len(w.buf) }

// Reset truncates the buffer, keeping its capacity.
func (w *Writer) Reset() { w.buf = w.buf[:0] }

// Grow reserves capacity for at least n additional bytes.
func (w *Writer) Grow(n int) {
	if cap(w.buf)-len(w.buf) >= n {
		return
	}
	grown := make([]byte, len(w.buf), len(w.buf)+n)
	copy(grown, w.buf)
	w.buf = grown
}

// Truncate drops encoded bytes past n. Used to roll back a partially
// encoded row after a field error.
func (w *Writer) Truncate(n int) {
	if n < 0 || n > len(w.buf) {
		return
	}
	w.buf = w.buf[:n]
}

func (w *Writer) WriteByte(b byte) {
	w.buf = append(w.buf, b)
}

func (w *Writer) WriteRaw(p []byte) {
	w.buf = append(w.buf, p...)
}

// WriteUvarint writes an unsigned LEB128 varint, the length prefix used by
// strings, arrays and maps.
func (w *Writer) WriteUvarint(v uint64) {
	w.buf = binary.AppendUvarint(w.buf, v)
}

func (w *Writer) WriteUint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) WriteUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) WriteUint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// WriteString writes a varint length prefix followed by the raw bytes.
func (w *Writer) WriteString(s string) {
	w.buf = binary.AppendUvarint(w.buf, uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteBytes writes a varint length prefix followed by the raw bytes.
func (w *Writer) WriteBytes(p []byte) {
	w.buf = binary.AppendUvarint(w.buf, uint64(len(p)))
	w.buf = append(w.buf, p...)
}

// WriteBigInt writes v as a little-endian two's complement integer of
// byteLen bytes, the layout of the 128 and 256 bit families.
func (w *Writer) WriteBigInt(v *big.Int, byteLen int, signed bool) error {
	if !fitsBits(v, byteLen*8, signed) {
		return errors.Newf(errors.ErrorTypeValidation,
			"value %s out of range for %d-bit integer", v.String(), byteLen*8)
	}

	enc := v
	if v.Sign() < 0 {
		// Two's complement: v + 2^n.
		enc = new(big.Int).Add(v, bigPow2(byteLen*8))
	}

	be := make([]byte, byteLen)
	enc.FillBytes(be)
	for i := byteLen - 1; i >= 0; i-- {
		w.buf = append(w.buf, be[i])
	}
	return nil
}

func fitsBits(v *big.Int, bits int, signed bool) bool {
	if signed {
		min := new(big.Int).Neg(bigPow2(bits - 1))
		max := new(big.Int).Sub(bigPow2(bits-1), bigOne)
		return v.Cmp(min) >= 0 && v.Cmp(max) <= 0
	}
	return v.Sign() >= 0 && v.Cmp(bigPow2(bits)) < 0
}

var (
	bigOne = big.NewInt(1)
	// Powers of two up to 2^256, read-only after init.
	pow2 [257]*big.Int
)

func init() {
	for i := range pow2 {
		pow2[i] = new(big.Int).Lsh(bigOne, uint(i))
	}
}

func bigPow2(exp int) *big.Int { return pow2[exp] }
