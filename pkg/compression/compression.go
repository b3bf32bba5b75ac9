// Package compression implements the request body codings the store's HTTP
// interface accepts. Each algorithm maps to a Content-Encoding token; the
// transport compresses whole insert bodies, so block size bounds the
// working set. All compressors are safe for concurrent use.
package compression

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/rowforge/rowforge/pkg/pool"
)

// Algorithm names a body coding.
type Algorithm string

const (
	None    Algorithm = "none"
	Gzip    Algorithm = "gzip"
	Deflate Algorithm = "deflate"
	Zstd    Algorithm = "zstd"
	LZ4     Algorithm = "lz4"
	Snappy  Algorithm = "snappy"
)

// ParseAlgorithm reads an algorithm name from configuration. The empty
// string means no compression.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case "", None:
		return None, nil
	case Gzip:
		return Gzip, nil
	case Deflate:
		return Deflate, nil
	case Zstd:
		return Zstd, nil
	case LZ4:
		return LZ4, nil
	case Snappy:
		return Snappy, nil
	default:
		return None, fmt.Errorf("unknown compression algorithm %q", s)
	}
}

// ContentEncoding returns the HTTP Content-Encoding token for the
// algorithm, empty for None.
func (a Algorithm) ContentEncoding() string {
	if a == None {
		return ""
	}
	return string(a)
}

// Level trades compression speed against ratio.
type Level int

const (
	Fastest Level = 1
	Default Level = 5
	Better  Level = 7
	Best    Level = 9
)

// Compressor compresses and decompresses insert bodies.
type Compressor interface {
	// Compress returns the compressed form of data; data is not modified.
	Compress(data []byte) ([]byte, error)

	// Decompress returns the original bytes; data is not modified.
	Decompress(data []byte) ([]byte, error)

	// CompressStream compresses src into dst.
	CompressStream(dst io.Writer, src io.Reader) error

	// DecompressStream decompresses src into dst.
	DecompressStream(dst io.Writer, src io.Reader) error

	Algorithm() Algorithm
	Level() Level
}

// New builds a compressor for the algorithm at the given level.
func New(algorithm Algorithm, level Level) (Compressor, error) {
	base := base{algorithm: algorithm, level: level}
	switch algorithm {
	case None:
		return &noneCompressor{base}, nil
	case Gzip:
		return newGzipCompressor(base), nil
	case Deflate:
		return &deflateCompressor{base: base, flateLevel: flateLevel(level)}, nil
	case Zstd:
		return newZstdCompressor(base), nil
	case LZ4:
		return &lz4Compressor{base: base, lz4Level: lz4Level(level)}, nil
	case Snappy:
		return &snappyCompressor{base}, nil
	default:
		return nil, fmt.Errorf("unknown compression algorithm %q", algorithm)
	}
}

var bufPool = pool.New(
	func() *bytes.Buffer { return new(bytes.Buffer) },
	func(b *bytes.Buffer) { b.Reset() },
)

// collect copies the buffer into a right-sized result slice.
func collect(buf *bytes.Buffer) []byte {
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}

type base struct {
	algorithm Algorithm
	level     Level
}

func (b *base) Algorithm() Algorithm { return b.algorithm }
func (b *base) Level() Level         { return b.level }

type noneCompressor struct {
	base
}

func (c *noneCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (c *noneCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }

func (c *noneCompressor) CompressStream(dst io.Writer, src io.Reader) error {
	_, err := io.Copy(dst, src)
	return err
}

func (c *noneCompressor) DecompressStream(dst io.Writer, src io.Reader) error {
	_, err := io.Copy(dst, src)
	return err
}

type gzipCompressor struct {
	base
	writers sync.Pool
	readers sync.Pool
}

func newGzipCompressor(b base) *gzipCompressor {
	c := &gzipCompressor{base: b}
	level := gzipLevel(b.level)
	c.writers.New = func() interface{} {
		w, _ := gzip.NewWriterLevel(nil, level)
		return w
	}
	c.readers.New = func() interface{} {
		return new(gzip.Reader)
	}
	return c
}

func (c *gzipCompressor) Compress(data []byte) ([]byte, error) {
	buf := bufPool.Get()
	defer bufPool.Put(buf)

	if err := c.CompressStream(buf, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return collect(buf), nil
}

func (c *gzipCompressor) Decompress(data []byte) ([]byte, error) {
	buf := bufPool.Get()
	defer bufPool.Put(buf)

	if err := c.DecompressStream(buf, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return collect(buf), nil
}

func (c *gzipCompressor) CompressStream(dst io.Writer, src io.Reader) error {
	w := c.writers.Get().(*gzip.Writer)
	defer c.writers.Put(w)

	w.Reset(dst)
	if _, err := io.Copy(w, src); err != nil {
		return err
	}
	return w.Close()
}

func (c *gzipCompressor) DecompressStream(dst io.Writer, src io.Reader) error {
	r := c.readers.Get().(*gzip.Reader)
	defer c.readers.Put(r)

	if err := r.Reset(src); err != nil {
		return err
	}
	_, err := io.Copy(dst, r)
	return err
}

type deflateCompressor struct {
	base
	flateLevel int
}

func (c *deflateCompressor) Compress(data []byte) ([]byte, error) {
	buf := bufPool.Get()
	defer bufPool.Put(buf)

	if err := c.CompressStream(buf, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return collect(buf), nil
}

func (c *deflateCompressor) Decompress(data []byte) ([]byte, error) {
	buf := bufPool.Get()
	defer bufPool.Put(buf)

	if err := c.DecompressStream(buf, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return collect(buf), nil
}

func (c *deflateCompressor) CompressStream(dst io.Writer, src io.Reader) error {
	w, err := flate.NewWriter(dst, c.flateLevel)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, src); err != nil {
		return err
	}
	return w.Close()
}

func (c *deflateCompressor) DecompressStream(dst io.Writer, src io.Reader) error {
	r := flate.NewReader(src)
	defer r.Close()

	_, err := io.Copy(dst, r)
	return err
}

type zstdCompressor struct {
	base
	encoders sync.Pool
	decoders sync.Pool
}

func newZstdCompressor(b base) *zstdCompressor {
	c := &zstdCompressor{base: b}
	level := zstdLevel(b.level)
	c.encoders.New = func() interface{} {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
		return enc
	}
	c.decoders.New = func() interface{} {
		dec, _ := zstd.NewReader(nil)
		return dec
	}
	return c
}

func (c *zstdCompressor) Compress(data []byte) ([]byte, error) {
	enc := c.encoders.Get().(*zstd.Encoder)
	defer c.encoders.Put(enc)

	return enc.EncodeAll(data, nil), nil
}

func (c *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	dec := c.decoders.Get().(*zstd.Decoder)
	defer c.decoders.Put(dec)

	return dec.DecodeAll(data, nil)
}

func (c *zstdCompressor) CompressStream(dst io.Writer, src io.Reader) error {
	enc := c.encoders.Get().(*zstd.Encoder)
	defer c.encoders.Put(enc)

	enc.Reset(dst)
	if _, err := io.Copy(enc, src); err != nil {
		return err
	}
	return enc.Close()
}

func (c *zstdCompressor) DecompressStream(dst io.Writer, src io.Reader) error {
	dec := c.decoders.Get().(*zstd.Decoder)
	defer c.decoders.Put(dec)

	if err := dec.Reset(src); err != nil {
		return err
	}
	_, err := io.Copy(dst, dec)
	return err
}

type lz4Compressor struct {
	base
	lz4Level lz4.CompressionLevel
}

func (c *lz4Compressor) Compress(data []byte) ([]byte, error) {
	buf := bufPool.Get()
	defer bufPool.Put(buf)

	if err := c.CompressStream(buf, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return collect(buf), nil
}

func (c *lz4Compressor) Decompress(data []byte) ([]byte, error) {
	buf := bufPool.Get()
	defer bufPool.Put(buf)

	if err := c.DecompressStream(buf, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return collect(buf), nil
}

func (c *lz4Compressor) CompressStream(dst io.Writer, src io.Reader) error {
	w := lz4.NewWriter(dst)
	if err := w.Apply(lz4.CompressionLevelOption(c.lz4Level)); err != nil {
		return err
	}
	if _, err := io.Copy(w, src); err != nil {
		return err
	}
	return w.Close()
}

func (c *lz4Compressor) DecompressStream(dst io.Writer, src io.Reader) error {
	r := lz4.NewReader(src)
	_, err := io.Copy(dst, r)
	return err
}

// snappyCompressor uses the block format in memory and the framed format
// on streams. The transport compresses whole bodies, which is the block
// path.
type snappyCompressor struct {
	base
}

func (c *snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (c *snappyCompressor) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

func (c *snappyCompressor) CompressStream(dst io.Writer, src io.Reader) error {
	w := snappy.NewBufferedWriter(dst)
	if _, err := io.Copy(w, src); err != nil {
		return err
	}
	return w.Close()
}

func (c *snappyCompressor) DecompressStream(dst io.Writer, src io.Reader) error {
	r := snappy.NewReader(src)
	_, err := io.Copy(dst, r)
	return err
}

func gzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func flateLevel(level Level) int {
	switch level {
	case Fastest:
		return flate.BestSpeed
	case Best:
		return flate.BestCompression
	default:
		return flate.DefaultCompression
	}
}

func zstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

func lz4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}
