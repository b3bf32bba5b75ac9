// Package value normalizes the dynamic cell values callers hand to the
// insert API into a tagged representation, so type checks and coercion
// happen once per cell instead of inside every encoder.
package value

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"net/netip"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rowforge/rowforge/pkg/bytesconv"
	"github.com/rowforge/rowforge/pkg/errors"
)

// Kind tags the payload carried by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindUint
	KindBigInt
	KindFloat
	KindBool
	KindString
	KindBytes
	KindTime
	KindDecimal
	KindUUID
	KindIP
	KindSlice
	KindMap
)

var kindNames = [...]string{
	KindNull:    "null",
	KindInt:     "int",
	KindUint:    "uint",
	KindBigInt:  "bigint",
	KindFloat:   "float",
	KindBool:    "bool",
	KindString:  "string",
	KindBytes:   "bytes",
	KindTime:    "time",
	KindDecimal: "decimal",
	KindUUID:    "uuid",
	KindIP:      "ip",
	KindSlice:   "slice",
	KindMap:     "map",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// MapEntry is one key/value pair of a map cell, in insertion order.
type MapEntry struct {
	Key   Value
	Value Value
}

// Value is a normalized cell. Only the payload field matching Kind is set.
type Value struct {
	Kind Kind

	Int   int64
	Uint  uint64
	Float float64
	Bool  bool
	Str   string
	Bytes []byte
	Time  time.Time
	Big   *big.Int
	Dec   decimal.Decimal
	UUID  uuid.UUID
	IP    netip.Addr

	List    []Value
	Entries []MapEntry
}

// Null returns the typed null cell.
func Null() Value { return Value{Kind: KindNull} }

// IsNull reports whether the cell carries no payload.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Of normalizes an arbitrary Go value. Unsupported Go types produce a
// validation error naming the offending type.
func Of(v interface{}) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Value{Kind: KindNull}, nil
	case Value:
		return x, nil
	case bool:
		return Value{Kind: KindBool, Bool: x}, nil
	case int:
		return Value{Kind: KindInt, Int: int64(x)}, nil
	case int8:
		return Value{Kind: KindInt, Int: int64(x)}, nil
	case int16:
		return Value{Kind: KindInt, Int: int64(x)}, nil
	case int32:
		return Value{Kind: KindInt, Int: int64(x)}, nil
	case int64:
		return Value{Kind: KindInt, Int: x}, nil
	case uint:
		return Value{Kind: KindUint, Uint: uint64(x)}, nil
	case uint8:
		return Value{Kind: KindUint, Uint: uint64(x)}, nil
	case uint16:
		return Value{Kind: KindUint, Uint: uint64(x)}, nil
	case uint32:
		return Value{Kind: KindUint, Uint: uint64(x)}, nil
	case uint64:
		return Value{Kind: KindUint, Uint: x}, nil
	case float32:
		return Value{Kind: KindFloat, Float: float64(x)}, nil
	case float64:
		return Value{Kind: KindFloat, Float: x}, nil
	case string:
		return Value{Kind: KindString, Str: x}, nil
	case []byte:
		return Value{Kind: KindBytes, Bytes: x}, nil
	case time.Time:
		return Value{Kind: KindTime, Time: x}, nil
	case *time.Time:
		if x == nil {
			return Value{Kind: KindNull}, nil
		}
		return Value{Kind: KindTime, Time: *x}, nil
	case decimal.Decimal:
		return Value{Kind: KindDecimal, Dec: x}, nil
	case *decimal.Decimal:
		if x == nil {
			return Value{Kind: KindNull}, nil
		}
		return Value{Kind: KindDecimal, Dec: *x}, nil
	case *big.Int:
		if x == nil {
			return Value{Kind: KindNull}, nil
		}
		return Value{Kind: KindBigInt, Big: x}, nil
	case big.Int:
		return Value{Kind: KindBigInt, Big: &x}, nil
	case uuid.UUID:
		return Value{Kind: KindUUID, UUID: x}, nil
	case netip.Addr:
		return Value{Kind: KindIP, IP: x}, nil
	case net.IP:
		addr, ok := netip.AddrFromSlice(x)
		if !ok {
			return Value{}, errors.Newf(errors.ErrorTypeValidation,
				"invalid IP address of length %d", len(x))
		}
		return Value{Kind: KindIP, IP: addr.Unmap()}, nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Value{Kind: KindInt, Int: i}, nil
		}
		f, err := x.Float64()
		if err != nil {
			return Value{}, errors.Wrapf(err, errors.ErrorTypeValidation,
				"invalid numeric literal %q", string(x))
		}
		return Value{Kind: KindFloat, Float: f}, nil
	case []Value:
		return Value{Kind: KindSlice, List: x}, nil
	case []MapEntry:
		return Value{Kind: KindMap, Entries: x}, nil
	case []interface{}:
		return ofSlice(len(x), func(i int) interface{} { return x[i] })
	case []string:
		return ofSlice(len(x), func(i int) interface{} { return x[i] })
	case []int:
		return ofSlice(len(x), func(i int) interface{} { return x[i] })
	case []int64:
		return ofSlice(len(x), func(i int) interface{} { return x[i] })
	case []float64:
		return ofSlice(len(x), func(i int) interface{} { return x[i] })
	case map[string]interface{}:
		return ofStringKeyMap(x)
	case map[string]string:
		m := make(map[string]interface{}, len(x))
		for k, s := range x {
			m[k] = s
		}
		return ofStringKeyMap(m)
	default:
		return ofReflect(v)
	}
}

// MustOf is Of for values known valid at compile time, such as literals in
// tests and examples.
func MustOf(v interface{}) Value {
	val, err := Of(v)
	if err != nil {
		panic(err)
	}
	return val
}

func ofSlice(n int, at func(int) interface{}) (Value, error) {
	list := make([]Value, n)
	for i := 0; i < n; i++ {
		elem, err := Of(at(i))
		if err != nil {
			return Value{}, err
		}
		list[i] = elem
	}
	return Value{Kind: KindSlice, List: list}, nil
}

// ofStringKeyMap builds a map cell with keys sorted for deterministic
// encoding.
func ofStringKeyMap(m map[string]interface{}) (Value, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]MapEntry, 0, len(m))
	for _, k := range keys {
		val, err := Of(m[k])
		if err != nil {
			return Value{}, err
		}
		entries = append(entries, MapEntry{Key: Value{Kind: KindString, Str: k}, Value: val})
	}
	return Value{Kind: KindMap, Entries: entries}, nil
}

// ofReflect handles the remaining slice and map shapes, such as []uint32 or
// map[string]float64, without enumerating every element type.
func ofReflect(v interface{}) (Value, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		list := make([]Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elem, err := Of(rv.Index(i).Interface())
			if err != nil {
				return Value{}, err
			}
			list[i] = elem
		}
		return Value{Kind: KindSlice, List: list}, nil
	case reflect.Map:
		entries := make([]MapEntry, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key, err := Of(iter.Key().Interface())
			if err != nil {
				return Value{}, err
			}
			val, err := Of(iter.Value().Interface())
			if err != nil {
				return Value{}, err
			}
			entries = append(entries, MapEntry{Key: key, Value: val})
		}
		sortEntries(entries)
		return Value{Kind: KindMap, Entries: entries}, nil
	case reflect.Ptr:
		if rv.IsNil() {
			return Value{Kind: KindNull}, nil
		}
		return Of(rv.Elem().Interface())
	default:
		return Value{}, errors.Newf(errors.ErrorTypeValidation,
			"unsupported value type %T", v)
	}
}

// sortEntries orders map entries when the keys have an obvious total
// order. Mixed or unordered key kinds keep their iteration order.
func sortEntries(entries []MapEntry) {
	if len(entries) < 2 {
		return
	}
	kind := entries[0].Key.Kind
	for _, e := range entries[1:] {
		if e.Key.Kind != kind {
			return
		}
	}
	switch kind {
	case KindString:
		sort.Slice(entries, func(i, j int) bool { return entries[i].Key.Str < entries[j].Key.Str })
	case KindInt:
		sort.Slice(entries, func(i, j int) bool { return entries[i].Key.Int < entries[j].Key.Int })
	case KindUint:
		sort.Slice(entries, func(i, j int) bool { return entries[i].Key.Uint < entries[j].Key.Uint })
	}
}

// Interface returns the natural Go value for the cell, used by the text
// encoders as the base JSON rendering.
func (v Value) Interface() interface{} {
	switch v.Kind {
	case KindNull:
		return nil
	case KindInt:
		return v.Int
	case KindUint:
		return v.Uint
	case KindBigInt:
		return v.Big.String()
	case KindFloat:
		return v.Float
	case KindBool:
		return v.Bool
	case KindString:
		return v.Str
	case KindBytes:
		// The string view is consumed within the same encode call,
		// before the caller can touch the backing slice again.
		return bytesconv.BytesToString(v.Bytes)
	case KindTime:
		return v.Time
	case KindDecimal:
		return v.Dec.String()
	case KindUUID:
		return v.UUID.String()
	case KindIP:
		return v.IP.String()
	case KindSlice:
		out := make([]interface{}, len(v.List))
		for i, e := range v.List {
			out[i] = e.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]interface{}, len(v.Entries))
		for _, e := range v.Entries {
			out[fmt.Sprint(e.Key.Interface())] = e.Value.Interface()
		}
		return out
	default:
		return nil
	}
}
