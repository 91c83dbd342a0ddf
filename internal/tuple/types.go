package tuple

import (
	"bytes"
	"cmp"
	"encoding"
	"encoding/base64"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Field types with specialised storage and text converters.
var (
	Bool     = reflect.TypeFor[bool]()
	Int8     = reflect.TypeFor[int8]()
	Int16    = reflect.TypeFor[int16]()
	Int32    = reflect.TypeFor[int32]()
	Int64    = reflect.TypeFor[int64]()
	Uint8    = reflect.TypeFor[uint8]()
	Uint16   = reflect.TypeFor[uint16]()
	Uint32   = reflect.TypeFor[uint32]()
	Uint64   = reflect.TypeFor[uint64]()
	Float32  = reflect.TypeFor[float32]()
	Float64  = reflect.TypeFor[float64]()
	Duration = reflect.TypeFor[time.Duration]()
	String   = reflect.TypeFor[string]()
	Bytes    = reflect.TypeFor[[]byte]()
	Decimal  = reflect.TypeFor[decimal.Decimal]()
	Time     = reflect.TypeFor[time.Time]()
	UUID     = reflect.TypeFor[uuid.UUID]()
)

var textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()

// category selects the storage and accessor strategy for a field type.
type category uint8

const (
	// categoryScalar values fit in 64 bits and are stored inline.
	categoryScalar category = iota + 1
	// categoryReference values are known types stored in the object slots
	// with typed accessors.
	categoryReference
	// categoryGeneric values are unknown types reachable only through the
	// boxed path.
	categoryGeneric
)

// typeInfo is everything a tuple needs to know about one field type.
type typeInfo struct {
	typ       reflect.Type
	category  category
	orderable bool

	equal   func(a, b any) bool
	compare func(a, b any) int
	hash    func(v any) uint64
	format  func(v any) string
	parse   func(s string) (any, error)

	// Inline storage conversions, categoryScalar only.
	toBits   func(v any) uint64
	fromBits func(b uint64) any

	acc fieldAccessors
}

// fieldAccessors holds the monomorphic accessors for a field type. The
// fields store func values of these shapes, for field type T:
//
//	get    func(*PackedTuple, int) T
//	set    func(*PackedTuple, int, T)
//	getPtr func(*PackedTuple, int) *T
//	setPtr func(*PackedTuple, int, *T)
//
// The int argument is the storage slot, not the field index. Generic types
// leave every accessor nil.
type fieldAccessors struct {
	get, set, getPtr, setPtr any
}

type scalarCodec[T any] struct {
	to   func(T) uint64
	from func(uint64) T
}

func scalarType[T any](c scalarCodec[T], compare func(a, b T) int, format func(T) string, parse func(string) (T, error)) *typeInfo {
	return &typeInfo{
		typ:       reflect.TypeFor[T](),
		category:  categoryScalar,
		orderable: compare != nil,
		equal:     func(a, b any) bool { return c.to(a.(T)) == c.to(b.(T)) },
		compare:   boxedCompare(compare),
		hash:      func(v any) uint64 { return mixBits(c.to(v.(T))) },
		format:    func(v any) string { return format(v.(T)) },
		parse:     boxedParse(parse),
		toBits:    func(v any) uint64 { return c.to(v.(T)) },
		fromBits:  func(b uint64) any { return c.from(b) },
		acc: fieldAccessors{
			get: func(p *PackedTuple, slot int) T { return c.from(p.values[slot]) },
			set: func(p *PackedTuple, slot int, v T) { p.values[slot] = c.to(v) },
			getPtr: func(p *PackedTuple, slot int) *T {
				v := c.from(p.values[slot])
				return &v
			},
			setPtr: func(p *PackedTuple, slot int, v *T) { p.values[slot] = c.to(*v) },
		},
	}
}

func referenceType[T any](equal func(a, b T) bool, compare func(a, b T) int, hash func(T) uint64, format func(T) string, parse func(string) (T, error)) *typeInfo {
	return &typeInfo{
		typ:       reflect.TypeFor[T](),
		category:  categoryReference,
		orderable: compare != nil,
		equal:     func(a, b any) bool { return equal(a.(T), b.(T)) },
		compare:   boxedCompare(compare),
		hash:      func(v any) uint64 { return hash(v.(T)) },
		format:    func(v any) string { return format(v.(T)) },
		parse:     boxedParse(parse),
		acc: fieldAccessors{
			get: func(p *PackedTuple, slot int) T { return p.objects[slot].(T) },
			set: func(p *PackedTuple, slot int, v T) { p.objects[slot] = v },
			getPtr: func(p *PackedTuple, slot int) *T {
				v := p.objects[slot].(T)
				return &v
			},
			setPtr: func(p *PackedTuple, slot int, v *T) { p.objects[slot] = *v },
		},
	}
}

func boxedCompare[T any](compare func(a, b T) int) func(a, b any) int {
	if compare == nil {
		return nil
	}
	return func(a, b any) int { return compare(a.(T), b.(T)) }
}

func boxedParse[T any](parse func(string) (T, error)) func(string) (any, error) {
	return func(s string) (any, error) {
		v, err := parse(s)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

func signed[T int8 | int16 | int32 | int64 | time.Duration]() scalarCodec[T] {
	return scalarCodec[T]{
		to:   func(v T) uint64 { return uint64(int64(v)) },
		from: func(b uint64) T { return T(int64(b)) },
	}
}

func unsigned[T uint8 | uint16 | uint32 | uint64]() scalarCodec[T] {
	return scalarCodec[T]{
		to:   func(v T) uint64 { return uint64(v) },
		from: func(b uint64) T { return T(b) },
	}
}

func parseSigned[T int8 | int16 | int32 | int64](bits int) func(string) (T, error) {
	return func(s string) (T, error) {
		n, err := strconv.ParseInt(s, 10, bits)
		return T(n), err
	}
}

func parseUnsigned[T uint8 | uint16 | uint32 | uint64](bits int) func(string) (T, error) {
	return func(s string) (T, error) {
		n, err := strconv.ParseUint(s, 10, bits)
		return T(n), err
	}
}

func formatSigned[T int8 | int16 | int32 | int64](v T) string {
	return strconv.FormatInt(int64(v), 10)
}

func formatUnsigned[T uint8 | uint16 | uint32 | uint64](v T) string {
	return strconv.FormatUint(uint64(v), 10)
}

// Floats are canonicalised on store: -0 becomes 0 and every NaN shares one
// bit pattern, so bitwise equality agrees with the hash.
func float32Bits(v float32) uint64 {
	switch {
	case v == 0:
		v = 0
	case v != v:
		v = float32(math.NaN())
	}
	return uint64(math.Float32bits(v))
}

func float64Bits(v float64) uint64 {
	switch {
	case v == 0:
		v = 0
	case v != v:
		v = math.NaN()
	}
	return math.Float64bits(v)
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

var builtinTypes = sync.OnceValue(func() map[reflect.Type]*typeInfo {
	infos := []*typeInfo{
		scalarType(scalarCodec[bool]{
			to: func(v bool) uint64 {
				if v {
					return 1
				}
				return 0
			},
			from: func(b uint64) bool { return b != 0 },
		}, compareBool, strconv.FormatBool, strconv.ParseBool),
		scalarType(signed[int8](), cmp.Compare[int8], formatSigned[int8], parseSigned[int8](8)),
		scalarType(signed[int16](), cmp.Compare[int16], formatSigned[int16], parseSigned[int16](16)),
		scalarType(signed[int32](), cmp.Compare[int32], formatSigned[int32], parseSigned[int32](32)),
		scalarType(signed[int64](), cmp.Compare[int64], formatSigned[int64], parseSigned[int64](64)),
		scalarType(unsigned[uint8](), cmp.Compare[uint8], formatUnsigned[uint8], parseUnsigned[uint8](8)),
		scalarType(unsigned[uint16](), cmp.Compare[uint16], formatUnsigned[uint16], parseUnsigned[uint16](16)),
		scalarType(unsigned[uint32](), cmp.Compare[uint32], formatUnsigned[uint32], parseUnsigned[uint32](32)),
		scalarType(unsigned[uint64](), cmp.Compare[uint64], formatUnsigned[uint64], parseUnsigned[uint64](64)),
		scalarType(scalarCodec[float32]{
			to:   float32Bits,
			from: func(b uint64) float32 { return math.Float32frombits(uint32(b)) },
		}, cmp.Compare[float32], func(v float32) string {
			return strconv.FormatFloat(float64(v), 'g', -1, 32)
		}, func(s string) (float32, error) {
			f, err := strconv.ParseFloat(s, 32)
			return float32(f), err
		}),
		scalarType(scalarCodec[float64]{
			to:   float64Bits,
			from: math.Float64frombits,
		}, cmp.Compare[float64], func(v float64) string {
			return strconv.FormatFloat(v, 'g', -1, 64)
		}, func(s string) (float64, error) {
			return strconv.ParseFloat(s, 64)
		}),
		scalarType(signed[time.Duration](), cmp.Compare[time.Duration], time.Duration.String, time.ParseDuration),
		referenceType(func(a, b string) bool { return a == b }, strings.Compare, xxhash.Sum64String,
			func(v string) string { return v },
			func(s string) (string, error) { return s, nil }),
		referenceType(bytes.Equal, bytes.Compare, xxhash.Sum64,
			base64.StdEncoding.EncodeToString,
			base64.StdEncoding.DecodeString),
		referenceType(decimal.Decimal.Equal, decimal.Decimal.Cmp,
			func(v decimal.Decimal) uint64 { return xxhash.Sum64String(v.String()) },
			decimal.Decimal.String,
			decimal.NewFromString),
		referenceType(time.Time.Equal, time.Time.Compare,
			func(v time.Time) uint64 { return mixBits(uint64(v.UnixNano())) },
			func(v time.Time) string { return v.UTC().Format(time.RFC3339Nano) },
			func(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }),
		referenceType(func(a, b uuid.UUID) bool { return a == b },
			func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) },
			func(v uuid.UUID) uint64 { return xxhash.Sum64(v[:]) },
			uuid.UUID.String,
			uuid.Parse),
	}

	m := make(map[reflect.Type]*typeInfo, len(infos))
	for _, info := range infos {
		m[info.typ] = info
	}
	return m
})

// genericTypes caches typeInfo for field types outside the builtin set.
var genericTypes sync.Map

func lookupType(t reflect.Type) *typeInfo {
	if info, ok := builtinTypes()[t]; ok {
		return info
	}
	if info, ok := genericTypes.Load(t); ok {
		return info.(*typeInfo)
	}
	info, _ := genericTypes.LoadOrStore(t, genericType(t))
	return info.(*typeInfo)
}

// genericType describes a type with no specialised accessor. Values are
// compared with reflect.DeepEqual, rendered through encoding.TextMarshaler
// when available, and ordered only when the type has a Compare(T) int method.
func genericType(t reflect.Type) *typeInfo {
	info := &typeInfo{
		typ:      t,
		category: categoryGeneric,
		equal:    reflect.DeepEqual,
		format:   formatGeneric,
	}
	info.hash = func(v any) uint64 { return xxhash.Sum64String(formatGeneric(v)) }

	if reflect.PointerTo(t).Implements(textUnmarshalerType) {
		info.parse = func(s string) (any, error) {
			pv := reflect.New(t)
			if err := pv.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
				return nil, err
			}
			return pv.Elem().Interface(), nil
		}
	} else {
		info.parse = func(string) (any, error) {
			return nil, fmt.Errorf("no text converter for %s", t)
		}
	}

	if m, ok := t.MethodByName("Compare"); ok && m.Type.NumIn() == 2 && m.Type.In(1) == t &&
		m.Type.NumOut() == 1 && m.Type.Out(0).Kind() == reflect.Int {
		info.orderable = true
		info.compare = func(a, b any) int {
			out := reflect.ValueOf(a).MethodByName("Compare").Call([]reflect.Value{reflect.ValueOf(b)})
			return int(out[0].Int())
		}
	}
	return info
}

func formatGeneric(v any) string {
	if m, ok := v.(encoding.TextMarshaler); ok {
		if b, err := m.MarshalText(); err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(v)
}

// normalize converts a boxed value to the field's stored form. Pointers to
// the field type are dereferenced; a nil pointer means null.
func (info *typeInfo) normalize(v any) (value any, null bool, ok bool) {
	vt := reflect.TypeOf(v)
	if vt == info.typ {
		return v, false, true
	}
	if vt != nil && vt.Kind() == reflect.Pointer && vt.Elem() == info.typ {
		rv := reflect.ValueOf(v)
		if rv.IsNil() {
			return nil, true, true
		}
		return rv.Elem().Interface(), false, true
	}
	return nil, false, false
}

// Normalize strips one level of pointer from t: nullability is carried by
// field state, so *int32 and int32 describe the same field.
func Normalize(t reflect.Type) reflect.Type {
	if t != nil && t.Kind() == reflect.Pointer {
		return t.Elem()
	}
	return t
}

// IsOrderable reports whether values of t have a total order usable by
// Sort, Min and Max.
func IsOrderable(t reflect.Type) bool {
	return lookupType(Normalize(t)).orderable
}

// ParseField converts the text form of a single value of type t.
func ParseField(t reflect.Type, text string) (any, error) {
	info := lookupType(Normalize(t))
	v, err := info.parse(text)
	if err != nil {
		return nil, ErrParse.New(fmt.Sprintf("%q as %s: %v", text, info.typ, err))
	}
	return v, nil
}

// FormatField renders a single value of type t the way Format renders it,
// without escaping.
func FormatField(t reflect.Type, v any) string {
	return lookupType(Normalize(t)).format(v)
}

// CompareValues orders two non-null values of type t. It returns false when
// t is not orderable.
func CompareValues(t reflect.Type, a, b any) (int, bool) {
	info := lookupType(Normalize(t))
	if !info.orderable {
		return 0, false
	}
	return info.compare(a, b), true
}

// EqualValues reports whether two non-null values of type t are equal.
func EqualValues(t reflect.Type, a, b any) bool {
	return lookupType(Normalize(t)).equal(a, b)
}

func mixBits(b uint64) uint64 {
	b ^= b >> 33
	b *= 0xff51afd7ed558ccd
	b ^= b >> 33
	b *= 0xc4ceb9fe1a85ec53
	b ^= b >> 33
	return b
}

func typeName(t reflect.Type) string {
	if t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

var typeNames = []struct {
	name string
	typ  reflect.Type
}{
	{"bool", Bool},
	{"int8", Int8}, {"int16", Int16}, {"int32", Int32}, {"int64", Int64},
	{"uint8", Uint8}, {"uint16", Uint16}, {"uint32", Uint32}, {"uint64", Uint64},
	{"float32", Float32}, {"float64", Float64},
	{"duration", Duration},
	{"string", String},
	{"bytes", Bytes},
	{"decimal", Decimal},
	{"time", Time},
	{"uuid", UUID},
}

// TypeByName returns the field type with the short name used in plan
// documents and catalogs: bool, int8..int64, uint8..uint64, float32,
// float64, duration, string, bytes, decimal, time or uuid.
func TypeByName(name string) (reflect.Type, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, tn := range typeNames {
		if tn.name == name {
			return tn.typ, true
		}
	}
	return nil, false
}

// TypeName returns the short name of t, or "" when t has none.
func TypeName(t reflect.Type) string {
	t = Normalize(t)
	for _, tn := range typeNames {
		if tn.typ == t {
			return tn.name
		}
	}
	return ""
}
