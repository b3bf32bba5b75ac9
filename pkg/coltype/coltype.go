// Package coltype parses column type declarations from table metadata into
// a typed tree the insert planner and encoders work from.
//
// Unknown or composite families (Tuple, Nested, geo types) parse into an
// Unsupported node instead of failing, so a table carrying them can still be
// served through the text formats.
package coltype

import (
	"strconv"
	"strings"

	"github.com/rowforge/rowforge/pkg/errors"
)

// Kind identifies a wire-type family.
type Kind uint8

const (
	KindUnsupported Kind = iota
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindInt128
	KindInt256
	KindUInt8
	KindUInt16
	KindUInt32
	KindUInt64
	KindUInt128
	KindUInt256
	KindFloat32
	KindFloat64
	KindBool
	KindString
	KindFixedString
	KindUUID
	KindDate
	KindDate32
	KindDateTime
	KindDateTime64
	KindDecimal
	KindEnum8
	KindEnum16
	KindIPv4
	KindIPv6
	KindJSON
	KindNullable
	KindArray
	KindMap
	KindLowCardinality
)

var kindNames = map[Kind]string{
	KindUnsupported:    "Unsupported",
	KindInt8:           "Int8",
	KindInt16:          "Int16",
	KindInt32:          "Int32",
	KindInt64:          "Int64",
	KindInt128:         "Int128",
	KindInt256:         "Int256",
	KindUInt8:          "UInt8",
	KindUInt16:         "UInt16",
	KindUInt32:         "UInt32",
	KindUInt64:         "UInt64",
	KindUInt128:        "UInt128",
	KindUInt256:        "UInt256",
	KindFloat32:        "Float32",
	KindFloat64:        "Float64",
	KindBool:           "Bool",
	KindString:         "String",
	KindFixedString:    "FixedString",
	KindUUID:           "UUID",
	KindDate:           "Date",
	KindDate32:         "Date32",
	KindDateTime:       "DateTime",
	KindDateTime64:     "DateTime64",
	KindDecimal:        "Decimal",
	KindEnum8:          "Enum8",
	KindEnum16:         "Enum16",
	KindIPv4:           "IPv4",
	KindIPv6:           "IPv6",
	KindJSON:           "JSON",
	KindNullable:       "Nullable",
	KindArray:          "Array",
	KindMap:            "Map",
	KindLowCardinality: "LowCardinality",
}

// String returns the family name, not the full declaration.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unsupported"
}

// EnumValue is one name-to-discriminant pair of an Enum8 or Enum16 column.
type EnumValue struct {
	Name  string
	Value int16
}

// Type is a parsed column type. Wrapper kinds (Nullable, Array,
// LowCardinality) populate Elem; Map populates Key and Value.
type Type struct {
	Kind Kind
	// Name preserves the declaration as written in the table metadata.
	Name string

	Length    int    // FixedString byte width
	Precision int    // Decimal digits or DateTime64 sub-second digits
	Scale     int    // Decimal fractional digits
	Timezone  string // DateTime / DateTime64 zone name, empty if unset
	Enum      []EnumValue

	Elem  *Type
	Key   *Type
	Value *Type
}

// String returns the declaration the type was parsed from.
func (t *Type) String() string { return t.Name }

// Supported reports whether every node of the type tree has a binary
// encoding. Unsupported columns restrict the table to text formats.
func (t *Type) Supported() bool {
	if t == nil || t.Kind == KindUnsupported {
		return false
	}
	if t.Elem != nil && !t.Elem.Supported() {
		return false
	}
	if t.Key != nil && !t.Key.Supported() {
		return false
	}
	if t.Value != nil && !t.Value.Supported() {
		return false
	}
	return true
}

// IsNullable reports whether the outermost wrapper is Nullable.
func (t *Type) IsNullable() bool { return t != nil && t.Kind == KindNullable }

// EnumValueOf resolves an enum member name to its discriminant.
func (t *Type) EnumValueOf(name string) (int16, bool) {
	for _, e := range t.Enum {
		if e.Name == name {
			return e.Value, true
		}
	}
	return 0, false
}

// EnumNameOf resolves an enum discriminant back to its member name.
func (t *Type) EnumNameOf(value int16) (string, bool) {
	for _, e := range t.Enum {
		if e.Value == value {
			return e.Name, true
		}
	}
	return "", false
}

// DecimalBits returns the storage width in bits for a decimal precision.
func DecimalBits(precision int) int {
	switch {
	case precision <= 9:
		return 32
	case precision <= 18:
		return 64
	case precision <= 38:
		return 128
	default:
		return 256
	}
}

const maxNestingDepth = 32

var plainKinds = map[string]Kind{
	"Int8":     KindInt8,
	"Int16":    KindInt16,
	"Int32":    KindInt32,
	"Int64":    KindInt64,
	"Int128":   KindInt128,
	"Int256":   KindInt256,
	"UInt8":    KindUInt8,
	"UInt16":   KindUInt16,
	"UInt32":   KindUInt32,
	"UInt64":   KindUInt64,
	"UInt128":  KindUInt128,
	"UInt256":  KindUInt256,
	"Float32":  KindFloat32,
	"Float64":  KindFloat64,
	"Bool":     KindBool,
	"String":   KindString,
	"UUID":     KindUUID,
	"Date":     KindDate,
	"Date32":   KindDate32,
	"DateTime": KindDateTime,
	"IPv4":     KindIPv4,
	"IPv6":     KindIPv6,
	"JSON":     KindJSON,
}

// Parse parses a column type declaration such as
// "Map(String, Array(Nullable(Int64)))". Families without a binary encoding
// come back as KindUnsupported with a nil error; only structurally invalid
// declarations fail.
func Parse(decl string) (*Type, error) {
	t, err := parse(strings.TrimSpace(decl), 0)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func parse(decl string, depth int) (*Type, error) {
	if depth > maxNestingDepth {
		return nil, errors.Newf(errors.ErrorTypeConfiguration,
			"type %q exceeds maximum nesting depth %d", decl, maxNestingDepth)
	}
	if decl == "" {
		return nil, errors.New(errors.ErrorTypeConfiguration, "empty type declaration")
	}

	open := strings.IndexByte(decl, '(')
	if open < 0 {
		if kind, ok := plainKinds[decl]; ok {
			return &Type{Kind: kind, Name: decl}, nil
		}
		return &Type{Kind: KindUnsupported, Name: decl}, nil
	}

	if !strings.HasSuffix(decl, ")") {
		return nil, errors.Newf(errors.ErrorTypeConfiguration,
			"type %q has unbalanced parentheses", decl)
	}

	head := strings.TrimSpace(decl[:open])
	body := decl[open+1 : len(decl)-1]

	args, err := splitTopLevel(body)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfiguration, "type %q", decl)
	}

	switch head {
	case "FixedString":
		return parseFixedString(decl, args)
	case "DateTime":
		return parseDateTime(decl, args)
	case "DateTime64":
		return parseDateTime64(decl, args)
	case "Decimal":
		return parseDecimal(decl, args)
	case "Decimal32":
		return parseDecimalAlias(decl, args, 9)
	case "Decimal64":
		return parseDecimalAlias(decl, args, 18)
	case "Decimal128":
		return parseDecimalAlias(decl, args, 38)
	case "Decimal256":
		return parseDecimalAlias(decl, args, 76)
	case "Enum8":
		return parseEnum(decl, args, KindEnum8, -128, 127)
	case "Enum16":
		return parseEnum(decl, args, KindEnum16, -32768, 32767)
	case "Nullable":
		return parseNullable(decl, args, depth)
	case "Array":
		return parseArray(decl, args, depth)
	case "Map":
		return parseMap(decl, args, depth)
	case "LowCardinality":
		return parseLowCardinality(decl, args, depth)
	default:
		// Balanced but unrecognized: Tuple, Nested, AggregateFunction,
		// geo types and anything newer than this client.
		return &Type{Kind: KindUnsupported, Name: decl}, nil
	}
}

func parseFixedString(decl string, args []string) (*Type, error) {
	if len(args) != 1 {
		return nil, errors.Newf(errors.ErrorTypeConfiguration,
			"type %q: FixedString takes one length argument", decl)
	}
	n, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil || n < 1 {
		return nil, errors.Newf(errors.ErrorTypeConfiguration,
			"type %q: FixedString length must be a positive integer", decl)
	}
	return &Type{Kind: KindFixedString, Name: decl, Length: n}, nil
}

func parseDateTime(decl string, args []string) (*Type, error) {
	if len(args) != 1 {
		return nil, errors.Newf(errors.ErrorTypeConfiguration,
			"type %q: DateTime takes one timezone argument", decl)
	}
	tz, err := unquote(strings.TrimSpace(args[0]))
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfiguration, "type %q", decl)
	}
	return &Type{Kind: KindDateTime, Name: decl, Timezone: tz}, nil
}

func parseDateTime64(decl string, args []string) (*Type, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, errors.Newf(errors.ErrorTypeConfiguration,
			"type %q: DateTime64 takes a precision and an optional timezone", decl)
	}
	p, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil || p < 0 || p > 9 {
		return nil, errors.Newf(errors.ErrorTypeConfiguration,
			"type %q: DateTime64 precision must be between 0 and 9", decl)
	}
	t := &Type{Kind: KindDateTime64, Name: decl, Precision: p}
	if len(args) == 2 {
		tz, err := unquote(strings.TrimSpace(args[1]))
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeConfiguration, "type %q", decl)
		}
		t.Timezone = tz
	}
	return t, nil
}

func parseDecimal(decl string, args []string) (*Type, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, errors.Newf(errors.ErrorTypeConfiguration,
			"type %q: Decimal takes a precision and an optional scale", decl)
	}
	p, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil {
		return nil, errors.Newf(errors.ErrorTypeConfiguration,
			"type %q: Decimal precision must be an integer", decl)
	}
	s := 0
	if len(args) == 2 {
		s, err = strconv.Atoi(strings.TrimSpace(args[1]))
		if err != nil {
			return nil, errors.Newf(errors.ErrorTypeConfiguration,
				"type %q: Decimal scale must be an integer", decl)
		}
	}
	return newDecimal(decl, p, s)
}

func parseDecimalAlias(decl string, args []string, precision int) (*Type, error) {
	if len(args) != 1 {
		return nil, errors.Newf(errors.ErrorTypeConfiguration,
			"type %q: sized Decimal takes one scale argument", decl)
	}
	s, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil {
		return nil, errors.Newf(errors.ErrorTypeConfiguration,
			"type %q: Decimal scale must be an integer", decl)
	}
	return newDecimal(decl, precision, s)
}

func newDecimal(decl string, precision, scale int) (*Type, error) {
	if precision < 1 || precision > 76 {
		return nil, errors.Newf(errors.ErrorTypeConfiguration,
			"type %q: Decimal precision must be between 1 and 76", decl)
	}
	if scale < 0 || scale > precision {
		return nil, errors.Newf(errors.ErrorTypeConfiguration,
			"type %q: Decimal scale must be between 0 and the precision", decl)
	}
	return &Type{Kind: KindDecimal, Name: decl, Precision: precision, Scale: scale}, nil
}

func parseEnum(decl string, args []string, kind Kind, lo, hi int) (*Type, error) {
	if len(args) == 0 {
		return nil, errors.Newf(errors.ErrorTypeConfiguration,
			"type %q: enum needs at least one member", decl)
	}
	values := make([]EnumValue, 0, len(args))
	names := make(map[string]struct{}, len(args))
	seen := make(map[int16]struct{}, len(args))
	next := 1
	for _, arg := range args {
		name, rest, err := readQuoted(strings.TrimSpace(arg))
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeConfiguration, "type %q", decl)
		}
		value := next
		rest = strings.TrimSpace(rest)
		if rest != "" {
			if !strings.HasPrefix(rest, "=") {
				return nil, errors.Newf(errors.ErrorTypeConfiguration,
					"type %q: expected '=' after enum member %q", decl, name)
			}
			value, err = strconv.Atoi(strings.TrimSpace(rest[1:]))
			if err != nil {
				return nil, errors.Newf(errors.ErrorTypeConfiguration,
					"type %q: enum member %q has a non-integer value", decl, name)
			}
		}
		if value < lo || value > hi {
			return nil, errors.Newf(errors.ErrorTypeConfiguration,
				"type %q: enum value %d out of range [%d, %d]", decl, value, lo, hi)
		}
		if _, dup := names[name]; dup {
			return nil, errors.Newf(errors.ErrorTypeConfiguration,
				"type %q: duplicate enum member %q", decl, name)
		}
		if _, dup := seen[int16(value)]; dup {
			return nil, errors.Newf(errors.ErrorTypeConfiguration,
				"type %q: duplicate enum value %d", decl, value)
		}
		names[name] = struct{}{}
		seen[int16(value)] = struct{}{}
		values = append(values, EnumValue{Name: name, Value: int16(value)})
		next = value + 1
	}
	return &Type{Kind: kind, Name: decl, Enum: values}, nil
}

func parseNullable(decl string, args []string, depth int) (*Type, error) {
	if len(args) != 1 {
		return nil, errors.Newf(errors.ErrorTypeConfiguration,
			"type %q: Nullable wraps exactly one type", decl)
	}
	elem, err := parse(strings.TrimSpace(args[0]), depth+1)
	if err != nil {
		return nil, err
	}
	switch elem.Kind {
	case KindNullable, KindArray, KindMap, KindLowCardinality:
		return nil, errors.Newf(errors.ErrorTypeConfiguration,
			"type %q: Nullable cannot wrap %s", decl, elem.Kind)
	}
	return &Type{Kind: KindNullable, Name: decl, Elem: elem}, nil
}

func parseArray(decl string, args []string, depth int) (*Type, error) {
	if len(args) != 1 {
		return nil, errors.Newf(errors.ErrorTypeConfiguration,
			"type %q: Array wraps exactly one type", decl)
	}
	elem, err := parse(strings.TrimSpace(args[0]), depth+1)
	if err != nil {
		return nil, err
	}
	return &Type{Kind: KindArray, Name: decl, Elem: elem}, nil
}

func parseMap(decl string, args []string, depth int) (*Type, error) {
	if len(args) != 2 {
		return nil, errors.Newf(errors.ErrorTypeConfiguration,
			"type %q: Map takes a key type and a value type", decl)
	}
	key, err := parse(strings.TrimSpace(args[0]), depth+1)
	if err != nil {
		return nil, err
	}
	switch key.Kind {
	case KindNullable, KindArray, KindMap:
		return nil, errors.Newf(errors.ErrorTypeConfiguration,
			"type %q: Map key cannot be %s", decl, key.Kind)
	}
	value, err := parse(strings.TrimSpace(args[1]), depth+1)
	if err != nil {
		return nil, err
	}
	return &Type{Kind: KindMap, Name: decl, Key: key, Value: value}, nil
}

func parseLowCardinality(decl string, args []string, depth int) (*Type, error) {
	if len(args) != 1 {
		return nil, errors.Newf(errors.ErrorTypeConfiguration,
			"type %q: LowCardinality wraps exactly one type", decl)
	}
	elem, err := parse(strings.TrimSpace(args[0]), depth+1)
	if err != nil {
		return nil, err
	}
	switch elem.Kind {
	case KindArray, KindMap, KindLowCardinality:
		return nil, errors.Newf(errors.ErrorTypeConfiguration,
			"type %q: LowCardinality cannot wrap %s", decl, elem.Kind)
	}
	return &Type{Kind: KindLowCardinality, Name: decl, Elem: elem}, nil
}

// splitTopLevel splits on commas at nesting depth zero, honoring
// single-quoted literals with backslash escapes.
func splitTopLevel(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var (
		args    []string
		depth   int
		quoted  bool
		escaped bool
		start   int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quoted {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '\'':
				quoted = false
			}
			continue
		}
		switch c {
		case '\'':
			quoted = true
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, errors.New(errors.ErrorTypeConfiguration, "unbalanced parentheses")
			}
		case ',':
			if depth == 0 {
				args = append(args, s[start:i])
				start = i + 1
			}
		}
	}
	if quoted {
		return nil, errors.New(errors.ErrorTypeConfiguration, "unterminated quoted literal")
	}
	if depth != 0 {
		return nil, errors.New(errors.ErrorTypeConfiguration, "unbalanced parentheses")
	}
	args = append(args, s[start:])
	return args, nil
}

// readQuoted consumes a leading single-quoted literal and returns the
// unescaped text plus whatever follows it.
func readQuoted(s string) (string, string, error) {
	if len(s) < 2 || s[0] != '\'' {
		return "", "", errors.Newf(errors.ErrorTypeConfiguration,
			"expected quoted literal at %q", s)
	}
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			if i+1 >= len(s) {
				return "", "", errors.New(errors.ErrorTypeConfiguration, "unterminated escape in quoted literal")
			}
			i++
			b.WriteByte(s[i])
		case '\'':
			return b.String(), s[i+1:], nil
		default:
			b.WriteByte(c)
		}
	}
	return "", "", errors.New(errors.ErrorTypeConfiguration, "unterminated quoted literal")
}

func unquote(s string) (string, error) {
	text, rest, err := readQuoted(s)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(rest) != "" {
		return "", errors.Newf(errors.ErrorTypeConfiguration,
			"unexpected trailing text %q after quoted literal", rest)
	}
	return text, nil
}
