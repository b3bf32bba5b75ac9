package rowbinary

import (
	"math"
	"math/big"
	"net/netip"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rowforge/rowforge/pkg/bytesconv"
	"github.com/rowforge/rowforge/pkg/coltype"
	"github.com/rowforge/rowforge/pkg/errors"
	"github.com/rowforge/rowforge/pkg/json"
	"github.com/rowforge/rowforge/pkg/value"
)

// FieldEncoder encodes one cell into a writer. Encoders are compiled once
// per column by EncoderFor and are safe for concurrent use.
type FieldEncoder func(w *Writer, v value.Value) error

// EncoderFor compiles the encoder for a parsed column type. Types without a
// binary encoding fail with an unsupported-type error; a bad timezone on a
// DateTime column fails with a configuration error.
func EncoderFor(t *coltype.Type) (FieldEncoder, error) {
	switch t.Kind {
	case coltype.KindInt8:
		return intEncoder(t.Name, 8), nil
	case coltype.KindInt16:
		return intEncoder(t.Name, 16), nil
	case coltype.KindInt32:
		return intEncoder(t.Name, 32), nil
	case coltype.KindInt64:
		return intEncoder(t.Name, 64), nil
	case coltype.KindUInt8:
		return uintEncoder(t.Name, 8), nil
	case coltype.KindUInt16:
		return uintEncoder(t.Name, 16), nil
	case coltype.KindUInt32:
		return uintEncoder(t.Name, 32), nil
	case coltype.KindUInt64:
		return uintEncoder(t.Name, 64), nil
	case coltype.KindInt128:
		return bigIntEncoder(t.Name, 16, true), nil
	case coltype.KindInt256:
		return bigIntEncoder(t.Name, 32, true), nil
	case coltype.KindUInt128:
		return bigIntEncoder(t.Name, 16, false), nil
	case coltype.KindUInt256:
		return bigIntEncoder(t.Name, 32, false), nil
	case coltype.KindFloat32:
		return float32Encoder, nil
	case coltype.KindFloat64:
		return float64Encoder, nil
	case coltype.KindBool:
		return boolEncoder, nil
	case coltype.KindString:
		return stringEncoder, nil
	case coltype.KindFixedString:
		return fixedStringEncoder(t.Name, t.Length), nil
	case coltype.KindUUID:
		return uuidEncoder, nil
	case coltype.KindDate:
		return dateEncoder(t.Name), nil
	case coltype.KindDate32:
		return date32Encoder(t.Name), nil
	case coltype.KindDateTime:
		return dateTimeEncoder(t)
	case coltype.KindDateTime64:
		return dateTime64Encoder(t)
	case coltype.KindDecimal:
		return decimalEncoder(t), nil
	case coltype.KindEnum8:
		return enumEncoder(t, 8), nil
	case coltype.KindEnum16:
		return enumEncoder(t, 16), nil
	case coltype.KindIPv4:
		return ipv4Encoder(t.Name), nil
	case coltype.KindIPv6:
		return ipv6Encoder(t.Name), nil
	case coltype.KindJSON:
		return jsonEncoder, nil
	case coltype.KindNullable:
		return nullableEncoder(t)
	case coltype.KindArray:
		return arrayEncoder(t)
	case coltype.KindMap:
		return mapEncoder(t)
	case coltype.KindLowCardinality:
		// Inserted values travel as the dictionary type; the server builds
		// the dictionary itself.
		return EncoderFor(t.Elem)
	default:
		return nil, errors.Newf(errors.ErrorTypeUnsupportedType,
			"type %s has no binary encoding", t.Name)
	}
}

func intEncoder(name string, bits int) FieldEncoder {
	min := int64(-1) << (bits - 1)
	max := int64(1)<<(bits-1) - 1
	return func(w *Writer, v value.Value) error {
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		if n < min || n > max {
			return errors.Newf(errors.ErrorTypeValidation,
				"%s: value %d out of range [%d, %d]", name, n, min, max)
		}
		switch bits {
		case 8:
			w.WriteByte(byte(n))
		case 16:
			w.WriteUint16(uint16(n))
		case 32:
			w.WriteUint32(uint32(n))
		default:
			w.WriteUint64(uint64(n))
		}
		return nil
	}
}

func uintEncoder(name string, bits int) FieldEncoder {
	var max uint64 = math.MaxUint64
	if bits < 64 {
		max = uint64(1)<<bits - 1
	}
	return func(w *Writer, v value.Value) error {
		n, err := toUint64(v)
		if err != nil {
			return err
		}
		if n > max {
			return errors.Newf(errors.ErrorTypeValidation,
				"%s: value %d out of range [0, %d]", name, n, max)
		}
		switch bits {
		case 8:
			w.WriteByte(byte(n))
		case 16:
			w.WriteUint16(uint16(n))
		case 32:
			w.WriteUint32(uint32(n))
		default:
			w.WriteUint64(n)
		}
		return nil
	}
}

func bigIntEncoder(name string, byteLen int, signed bool) FieldEncoder {
	return func(w *Writer, v value.Value) error {
		b, err := toBigInt(v)
		if err != nil {
			return err
		}
		if err := w.WriteBigInt(b, byteLen, signed); err != nil {
			return errors.Wrapf(err, errors.ErrorTypeValidation, "%s", name)
		}
		return nil
	}
}

func float32Encoder(w *Writer, v value.Value) error {
	f, err := toFloat64(v)
	if err != nil {
		return err
	}
	w.WriteUint32(math.Float32bits(float32(f)))
	return nil
}

func float64Encoder(w *Writer, v value.Value) error {
	f, err := toFloat64(v)
	if err != nil {
		return err
	}
	w.WriteUint64(math.Float64bits(f))
	return nil
}

func boolEncoder(w *Writer, v value.Value) error {
	b, err := toBool(v)
	if err != nil {
		return err
	}
	if b {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
	return nil
}

func stringEncoder(w *Writer, v value.Value) error {
	switch v.Kind {
	case value.KindString:
		w.WriteString(v.Str)
	case value.KindBytes:
		w.WriteBytes(v.Bytes)
	default:
		return errors.Newf(errors.ErrorTypeValidation,
			"cannot use %s value as a string", v.Kind)
	}
	return nil
}

// jsonEncoder serializes the cell to JSON text and writes it as a String.
// Pre-serialized string or byte inputs pass through after a syntax check.
func jsonEncoder(w *Writer, v value.Value) error {
	switch v.Kind {
	case value.KindString:
		if !json.Valid(bytesconv.StringToBytes(v.Str)) {
			return errors.Newf(errors.ErrorTypeValidation,
				"%q is not valid JSON text", v.Str)
		}
		w.WriteString(v.Str)
	case value.KindBytes:
		if !json.Valid(v.Bytes) {
			return errors.New(errors.ErrorTypeValidation,
				"byte value is not valid JSON text")
		}
		w.WriteBytes(v.Bytes)
	default:
		data, err := json.MarshalNoEscape(v.Interface())
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeEncoding, "serialize JSON value")
		}
		w.WriteBytes(data)
	}
	return nil
}

func fixedStringEncoder(name string, length int) FieldEncoder {
	return func(w *Writer, v value.Value) error {
		var data []byte
		switch v.Kind {
		case value.KindString:
			data = []byte(v.Str)
		case value.KindBytes:
			data = v.Bytes
		default:
			return errors.Newf(errors.ErrorTypeValidation,
				"cannot use %s value as a fixed string", v.Kind)
		}
		if len(data) > length {
			return errors.Newf(errors.ErrorTypeValidation,
				"%s: value of %d bytes exceeds width %d", name, len(data), length)
		}
		w.WriteRaw(data)
		for i := len(data); i < length; i++ {
			w.WriteByte(0)
		}
		return nil
	}
}

func uuidEncoder(w *Writer, v value.Value) error {
	var u uuid.UUID
	switch v.Kind {
	case value.KindUUID:
		u = v.UUID
	case value.KindString:
		parsed, err := uuid.Parse(v.Str)
		if err != nil {
			return errors.Newf(errors.ErrorTypeValidation, "cannot parse %q as a UUID", v.Str)
		}
		u = parsed
	case value.KindBytes:
		parsed, err := uuid.FromBytes(v.Bytes)
		if err != nil {
			return errors.Newf(errors.ErrorTypeValidation, "UUID requires 16 bytes, got %d", len(v.Bytes))
		}
		u = parsed
	default:
		return errors.Newf(errors.ErrorTypeValidation,
			"cannot use %s value as a UUID", v.Kind)
	}
	// Each 64-bit half travels byte-reversed.
	for i := 7; i >= 0; i-- {
		w.WriteByte(u[i])
	}
	for i := 15; i >= 8; i-- {
		w.WriteByte(u[i])
	}
	return nil
}

const secondsPerDay = 86400

var (
	date32MinDays = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC).Unix() / secondsPerDay
	date32MaxDays = time.Date(2299, 12, 31, 0, 0, 0, 0, time.UTC).Unix() / secondsPerDay
)

// civilDays converts the calendar date of t, in its own location, to days
// since the Unix epoch.
func civilDays(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / secondsPerDay
}

func toDays(v value.Value) (int64, error) {
	switch v.Kind {
	case value.KindTime:
		return civilDays(v.Time), nil
	case value.KindInt:
		return v.Int, nil
	case value.KindUint:
		if v.Uint > math.MaxInt32 {
			return 0, errors.Newf(errors.ErrorTypeValidation, "day number %d out of range", v.Uint)
		}
		return int64(v.Uint), nil
	case value.KindString:
		t, err := time.ParseInLocation(time.DateOnly, v.Str, time.UTC)
		if err != nil {
			return 0, errors.Newf(errors.ErrorTypeValidation, "cannot parse %q as a date", v.Str)
		}
		return civilDays(t), nil
	default:
		return 0, errors.Newf(errors.ErrorTypeValidation,
			"cannot use %s value as a date", v.Kind)
	}
}

func dateEncoder(name string) FieldEncoder {
	return func(w *Writer, v value.Value) error {
		days, err := toDays(v)
		if err != nil {
			return err
		}
		if days < 0 || days > math.MaxUint16 {
			return errors.Newf(errors.ErrorTypeValidation,
				"%s: date %d days from epoch out of range", name, days)
		}
		w.WriteUint16(uint16(days))
		return nil
	}
}

func date32Encoder(name string) FieldEncoder {
	return func(w *Writer, v value.Value) error {
		days, err := toDays(v)
		if err != nil {
			return err
		}
		if days < date32MinDays || days > date32MaxDays {
			return errors.Newf(errors.ErrorTypeValidation,
				"%s: date %d days from epoch out of range", name, days)
		}
		w.WriteUint32(uint32(int32(days)))
		return nil
	}
}

var dateTimeFormats = []string{time.DateTime, time.RFC3339}

var dateTime64Formats = []string{
	"2006-01-02 15:04:05.999999999",
	time.DateTime,
	time.RFC3339Nano,
}

func columnLocation(t *coltype.Type) (*time.Location, error) {
	if t.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return nil, errors.Newf(errors.ErrorTypeConfiguration,
			"type %s: unknown timezone %q", t.Name, t.Timezone)
	}
	return loc, nil
}

func parseTime(s string, formats []string, loc *time.Location) (time.Time, error) {
	for _, format := range formats {
		if t, err := time.ParseInLocation(format, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Newf(errors.ErrorTypeValidation,
		"cannot parse %q as a datetime", s)
}

func dateTimeEncoder(t *coltype.Type) (FieldEncoder, error) {
	loc, err := columnLocation(t)
	if err != nil {
		return nil, err
	}
	name := t.Name
	return func(w *Writer, v value.Value) error {
		var secs int64
		switch v.Kind {
		case value.KindTime:
			secs = v.Time.Unix()
		case value.KindInt:
			secs = v.Int
		case value.KindUint:
			if v.Uint > math.MaxUint32 {
				return errors.Newf(errors.ErrorTypeValidation,
					"%s: timestamp %d out of range", name, v.Uint)
			}
			secs = int64(v.Uint)
		case value.KindString:
			parsed, err := parseTime(v.Str, dateTimeFormats, loc)
			if err != nil {
				return err
			}
			secs = parsed.Unix()
		default:
			return errors.Newf(errors.ErrorTypeValidation,
				"cannot use %s value as a datetime", v.Kind)
		}
		if secs < 0 || secs > math.MaxUint32 {
			return errors.Newf(errors.ErrorTypeValidation,
				"%s: timestamp %d out of range", name, secs)
		}
		w.WriteUint32(uint32(secs))
		return nil
	}, nil
}

var pow10 = [...]int64{1, 10, 100, 1e3, 1e4, 1e5, 1e6, 1e7, 1e8, 1e9}

func dateTime64Encoder(t *coltype.Type) (FieldEncoder, error) {
	loc, err := columnLocation(t)
	if err != nil {
		return nil, err
	}
	name := t.Name
	mult := pow10[t.Precision]
	nanoDiv := pow10[9-t.Precision]
	return func(w *Writer, v value.Value) error {
		var ticks int64
		switch v.Kind {
		case value.KindTime:
			secs := v.Time.Unix()
			if mult > 1 && (secs > math.MaxInt64/mult-1 || secs < math.MinInt64/mult+1) {
				return errors.Newf(errors.ErrorTypeValidation,
					"%s: time %s out of range", name, v.Time)
			}
			ticks = secs*mult + int64(v.Time.Nanosecond())/nanoDiv
		case value.KindInt:
			ticks = v.Int
		case value.KindUint:
			if v.Uint > math.MaxInt64 {
				return errors.Newf(errors.ErrorTypeValidation,
					"%s: tick count %d out of range", name, v.Uint)
			}
			ticks = int64(v.Uint)
		case value.KindString:
			parsed, err := parseTime(v.Str, dateTime64Formats, loc)
			if err != nil {
				return err
			}
			ticks = parsed.Unix()*mult + int64(parsed.Nanosecond())/nanoDiv
		default:
			return errors.Newf(errors.ErrorTypeValidation,
				"cannot use %s value as a datetime", v.Kind)
		}
		w.WriteUint64(uint64(ticks))
		return nil
	}, nil
}

func decimalEncoder(t *coltype.Type) FieldEncoder {
	bits := coltype.DecimalBits(t.Precision)
	limit := pow10big[t.Precision]
	scale := int32(t.Scale)
	name := t.Name
	return func(w *Writer, v value.Value) error {
		d, err := toDecimal(v)
		if err != nil {
			return err
		}
		scaled := d.Shift(scale).Round(0)
		bi := scaled.BigInt()
		if bi.CmpAbs(limit) >= 0 {
			return errors.Newf(errors.ErrorTypeValidation,
				"%s: value %s exceeds precision %d", name, d, t.Precision)
		}
		switch bits {
		case 32:
			w.WriteUint32(uint32(int32(bi.Int64())))
		case 64:
			w.WriteUint64(uint64(bi.Int64()))
		case 128:
			return w.WriteBigInt(bi, 16, true)
		default:
			return w.WriteBigInt(bi, 32, true)
		}
		return nil
	}
}

func enumEncoder(t *coltype.Type, bits int) FieldEncoder {
	name := t.Name
	return func(w *Writer, v value.Value) error {
		var ev int16
		switch v.Kind {
		case value.KindString:
			mapped, ok := t.EnumValueOf(v.Str)
			if !ok {
				return errors.Newf(errors.ErrorTypeValidation,
					"%s: unknown enum member %q", name, v.Str)
			}
			ev = mapped
		case value.KindInt, value.KindUint:
			n, err := toInt64(v)
			if err != nil {
				return err
			}
			if n < math.MinInt16 || n > math.MaxInt16 {
				return errors.Newf(errors.ErrorTypeValidation,
					"%s: unknown enum value %d", name, n)
			}
			ev = int16(n)
			if _, ok := t.EnumNameOf(ev); !ok {
				return errors.Newf(errors.ErrorTypeValidation,
					"%s: unknown enum value %d", name, n)
			}
		default:
			return errors.Newf(errors.ErrorTypeValidation,
				"cannot use %s value as an enum", v.Kind)
		}
		if bits == 8 {
			w.WriteByte(byte(ev))
		} else {
			w.WriteUint16(uint16(ev))
		}
		return nil
	}
}

func ipv4Encoder(name string) FieldEncoder {
	return func(w *Writer, v value.Value) error {
		var a4 [4]byte
		switch v.Kind {
		case value.KindIP:
			ip := v.IP.Unmap()
			if !ip.Is4() {
				return errors.Newf(errors.ErrorTypeValidation,
					"%s: address %s is not IPv4", name, v.IP)
			}
			a4 = ip.As4()
		case value.KindString:
			ip, err := netip.ParseAddr(v.Str)
			if err != nil || !ip.Unmap().Is4() {
				return errors.Newf(errors.ErrorTypeValidation,
					"%s: cannot parse %q as an IPv4 address", name, v.Str)
			}
			a4 = ip.Unmap().As4()
		case value.KindInt, value.KindUint:
			n, err := toUint64(v)
			if err != nil {
				return err
			}
			if n > math.MaxUint32 {
				return errors.Newf(errors.ErrorTypeValidation,
					"%s: value %d out of range", name, n)
			}
			w.WriteUint32(uint32(n))
			return nil
		default:
			return errors.Newf(errors.ErrorTypeValidation,
				"cannot use %s value as an IPv4 address", v.Kind)
		}
		w.WriteUint32(uint32(a4[0])<<24 | uint32(a4[1])<<16 | uint32(a4[2])<<8 | uint32(a4[3]))
		return nil
	}
}

func ipv6Encoder(name string) FieldEncoder {
	return func(w *Writer, v value.Value) error {
		var a16 [16]byte
		switch v.Kind {
		case value.KindIP:
			a16 = v.IP.As16()
		case value.KindString:
			ip, err := netip.ParseAddr(v.Str)
			if err != nil {
				return errors.Newf(errors.ErrorTypeValidation,
					"%s: cannot parse %q as an IPv6 address", name, v.Str)
			}
			a16 = ip.As16()
		case value.KindBytes:
			if len(v.Bytes) != 16 {
				return errors.Newf(errors.ErrorTypeValidation,
					"%s: IPv6 requires 16 bytes, got %d", name, len(v.Bytes))
			}
			copy(a16[:], v.Bytes)
		default:
			return errors.Newf(errors.ErrorTypeValidation,
				"cannot use %s value as an IPv6 address", v.Kind)
		}
		w.WriteRaw(a16[:])
		return nil
	}
}

func nullableEncoder(t *coltype.Type) (FieldEncoder, error) {
	inner, err := EncoderFor(t.Elem)
	if err != nil {
		return nil, err
	}
	return func(w *Writer, v value.Value) error {
		if v.IsNull() {
			w.WriteByte(1)
			return nil
		}
		w.WriteByte(0)
		return inner(w, v)
	}, nil
}

func arrayEncoder(t *coltype.Type) (FieldEncoder, error) {
	elem, err := EncoderFor(t.Elem)
	if err != nil {
		return nil, err
	}
	name := t.Name
	return func(w *Writer, v value.Value) error {
		if v.Kind != value.KindSlice {
			return errors.Newf(errors.ErrorTypeValidation,
				"%s: cannot use %s value as an array", name, v.Kind)
		}
		w.WriteUvarint(uint64(len(v.List)))
		for _, e := range v.List {
			if err := elem(w, e); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

func mapEncoder(t *coltype.Type) (FieldEncoder, error) {
	keyEnc, err := EncoderFor(t.Key)
	if err != nil {
		return nil, err
	}
	valEnc, err := EncoderFor(t.Value)
	if err != nil {
		return nil, err
	}
	name := t.Name
	return func(w *Writer, v value.Value) error {
		if v.Kind != value.KindMap {
			return errors.Newf(errors.ErrorTypeValidation,
				"%s: cannot use %s value as a map", name, v.Kind)
		}
		w.WriteUvarint(uint64(len(v.Entries)))
		for _, e := range v.Entries {
			if err := keyEnc(w, e.Key); err != nil {
				return err
			}
			if err := valEnc(w, e.Value); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

var pow10big [77]*big.Int

func init() {
	pow10big[0] = big.NewInt(1)
	ten := big.NewInt(10)
	for i := 1; i < len(pow10big); i++ {
		pow10big[i] = new(big.Int).Mul(pow10big[i-1], ten)
	}
}

func toInt64(v value.Value) (int64, error) {
	switch v.Kind {
	case value.KindInt:
		return v.Int, nil
	case value.KindUint:
		if v.Uint > math.MaxInt64 {
			return 0, errors.Newf(errors.ErrorTypeValidation,
				"value %d overflows a signed integer", v.Uint)
		}
		return int64(v.Uint), nil
	case value.KindFloat:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) || v.Float != math.Trunc(v.Float) {
			return 0, errors.Newf(errors.ErrorTypeValidation,
				"float value %v is not an integer", v.Float)
		}
		if v.Float < math.MinInt64 || v.Float >= math.MaxInt64 {
			return 0, errors.Newf(errors.ErrorTypeValidation,
				"float value %v overflows a signed integer", v.Float)
		}
		return int64(v.Float), nil
	case value.KindBigInt:
		if !v.Big.IsInt64() {
			return 0, errors.Newf(errors.ErrorTypeValidation,
				"value %s overflows a signed integer", v.Big)
		}
		return v.Big.Int64(), nil
	case value.KindString:
		n, err := strconv.ParseInt(v.Str, 10, 64)
		if err != nil {
			return 0, errors.Newf(errors.ErrorTypeValidation,
				"cannot parse %q as an integer", v.Str)
		}
		return n, nil
	default:
		return 0, errors.Newf(errors.ErrorTypeValidation,
			"cannot use %s value as an integer", v.Kind)
	}
}

func toUint64(v value.Value) (uint64, error) {
	switch v.Kind {
	case value.KindUint:
		return v.Uint, nil
	case value.KindInt:
		if v.Int < 0 {
			return 0, errors.Newf(errors.ErrorTypeValidation,
				"negative value %d for unsigned integer", v.Int)
		}
		return uint64(v.Int), nil
	case value.KindFloat:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) || v.Float != math.Trunc(v.Float) {
			return 0, errors.Newf(errors.ErrorTypeValidation,
				"float value %v is not an integer", v.Float)
		}
		if v.Float < 0 || v.Float >= math.MaxUint64 {
			return 0, errors.Newf(errors.ErrorTypeValidation,
				"float value %v overflows an unsigned integer", v.Float)
		}
		return uint64(v.Float), nil
	case value.KindBigInt:
		if !v.Big.IsUint64() {
			return 0, errors.Newf(errors.ErrorTypeValidation,
				"value %s overflows an unsigned integer", v.Big)
		}
		return v.Big.Uint64(), nil
	case value.KindString:
		n, err := strconv.ParseUint(v.Str, 10, 64)
		if err != nil {
			return 0, errors.Newf(errors.ErrorTypeValidation,
				"cannot parse %q as an unsigned integer", v.Str)
		}
		return n, nil
	default:
		return 0, errors.Newf(errors.ErrorTypeValidation,
			"cannot use %s value as an integer", v.Kind)
	}
}

func toBigInt(v value.Value) (*big.Int, error) {
	switch v.Kind {
	case value.KindBigInt:
		return v.Big, nil
	case value.KindInt:
		return big.NewInt(v.Int), nil
	case value.KindUint:
		return new(big.Int).SetUint64(v.Uint), nil
	case value.KindString:
		b, ok := new(big.Int).SetString(v.Str, 10)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeValidation,
				"cannot parse %q as an integer", v.Str)
		}
		return b, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation,
			"cannot use %s value as an integer", v.Kind)
	}
}

func toFloat64(v value.Value) (float64, error) {
	switch v.Kind {
	case value.KindFloat:
		return v.Float, nil
	case value.KindInt:
		return float64(v.Int), nil
	case value.KindUint:
		return float64(v.Uint), nil
	case value.KindDecimal:
		return v.Dec.InexactFloat64(), nil
	case value.KindString:
		f, err := strconv.ParseFloat(v.Str, 64)
		if err != nil {
			return 0, errors.Newf(errors.ErrorTypeValidation,
				"cannot parse %q as a float", v.Str)
		}
		return f, nil
	default:
		return 0, errors.Newf(errors.ErrorTypeValidation,
			"cannot use %s value as a float", v.Kind)
	}
}

func toBool(v value.Value) (bool, error) {
	switch v.Kind {
	case value.KindBool:
		return v.Bool, nil
	case value.KindInt:
		if v.Int == 0 || v.Int == 1 {
			return v.Int == 1, nil
		}
	case value.KindUint:
		if v.Uint == 0 || v.Uint == 1 {
			return v.Uint == 1, nil
		}
	case value.KindString:
		b, err := strconv.ParseBool(v.Str)
		if err == nil {
			return b, nil
		}
	}
	return false, errors.Newf(errors.ErrorTypeValidation,
		"cannot use %s value as a bool", v.Kind)
}

func toDecimal(v value.Value) (decimal.Decimal, error) {
	switch v.Kind {
	case value.KindDecimal:
		return v.Dec, nil
	case value.KindInt:
		return decimal.NewFromInt(v.Int), nil
	case value.KindUint:
		return decimal.NewFromUint64(v.Uint), nil
	case value.KindFloat:
		return decimal.NewFromFloat(v.Float), nil
	case value.KindBigInt:
		return decimal.NewFromBigInt(v.Big, 0), nil
	case value.KindString:
		d, err := decimal.NewFromString(v.Str)
		if err != nil {
			return decimal.Decimal{}, errors.Newf(errors.ErrorTypeValidation,
				"cannot parse %q as a decimal", v.Str)
		}
		return d, nil
	default:
		return decimal.Decimal{}, errors.Newf(errors.ErrorTypeValidation,
			"cannot use %s value as a decimal", v.Kind)
	}
}
