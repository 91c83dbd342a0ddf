package tuple

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// internCacheSize bounds the number of distinct descriptors kept alive by
// Create. Evicted descriptors stay valid; a later Create simply builds a new
// one, which is still Equal to the old.
const internCacheSize = 1024

var (
	emptyDescriptor = sync.OnceValue(func() *Descriptor { return build(nil) })

	internCache = sync.OnceValue(func() *lru.Cache[string, *Descriptor] {
		c, err := lru.New[string, *Descriptor](internCacheSize)
		if err != nil {
			panic(err)
		}
		return c
	})
)

// Descriptor is the ordered list of field types of a tuple. Descriptors are
// immutable and safe for concurrent use.
type Descriptor struct {
	types  []reflect.Type
	fields []fieldLayout
	// values and objects count the inline and reference slots.
	values  int
	objects int
	hash    uint64
	key     string
}

// fieldLayout maps a field to its storage slot and accessor table.
type fieldLayout struct {
	slot int
	info *typeInfo
}

// Empty returns the zero-field descriptor.
func Empty() *Descriptor {
	return emptyDescriptor()
}

// Create returns the descriptor for the given field types. Pointer types are
// normalised to their element type. Structurally equal requests return the
// same instance while it is cached. Create panics if any type is nil.
func Create(types ...reflect.Type) *Descriptor {
	if len(types) == 0 {
		return Empty()
	}
	normalized := make([]reflect.Type, len(types))
	for i, t := range types {
		if t == nil {
			panic(fmt.Sprintf("tuple: nil field type at index %d", i))
		}
		normalized[i] = Normalize(t)
	}

	key := typesKey(normalized)
	cache := internCache()
	if d, ok := cache.Get(key); ok && slices.Equal(d.types, normalized) {
		return d
	}
	d := build(normalized)
	cache.Add(key, d)
	return d
}

// CreateOf is Create for values: the descriptor of each value's dynamic
// type. It panics on a nil value.
func CreateOf(values ...any) *Descriptor {
	types := make([]reflect.Type, len(values))
	for i, v := range values {
		types[i] = reflect.TypeOf(v)
	}
	return Create(types...)
}

func build(types []reflect.Type) *Descriptor {
	d := &Descriptor{
		types:  types,
		fields: make([]fieldLayout, len(types)),
	}
	h := uint64(len(types))
	for i, t := range types {
		info := lookupType(t)
		layout := fieldLayout{info: info}
		if info.category == categoryScalar {
			layout.slot = d.values
			d.values++
		} else {
			layout.slot = d.objects
			d.objects++
		}
		d.fields[i] = layout
		h = h*397 ^ xxhash.Sum64String(typeName(t))
	}
	d.hash = h
	d.key = typesKey(types)
	return d
}

func typesKey(types []reflect.Type) string {
	var b strings.Builder
	for i, t := range types {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(typeName(t))
	}
	return b.String()
}

// Count returns the number of fields.
func (d *Descriptor) Count() int {
	return len(d.types)
}

// Type returns the type of field i.
func (d *Descriptor) Type(i int) reflect.Type {
	return d.types[i]
}

// Types returns a copy of the field types.
func (d *Descriptor) Types() []reflect.Type {
	return slices.Clone(d.types)
}

// Hash returns a hash of the field type list.
func (d *Descriptor) Hash() uint64 {
	return d.hash
}

// Equal reports whether d and other list the same types in the same order.
func (d *Descriptor) Equal(other *Descriptor) bool {
	if d == other {
		return true
	}
	if d == nil || other == nil {
		return false
	}
	return d.hash == other.hash && slices.Equal(d.types, other.types)
}

// IsOrderable reports whether field i can be used as a sort key.
func (d *Descriptor) IsOrderable(i int) bool {
	return d.fields[i].info.orderable
}

// String renders the descriptor as "(int32, string)".
func (d *Descriptor) String() string {
	parts := make([]string, len(d.types))
	for i, t := range d.types {
		parts[i] = t.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Segment returns the descriptor of fields [start, start+length).
func (d *Descriptor) Segment(start, length int) (*Descriptor, error) {
	if start < 0 || length < 0 || start+length > len(d.types) {
		return nil, ErrRangeOutOfBounds.New(start, start+length, len(d.types))
	}
	return Create(d.types[start : start+length]...), nil
}

// Select returns the descriptor of the given fields, in order. Indexes may
// repeat.
func (d *Descriptor) Select(indexes ...int) (*Descriptor, error) {
	types := make([]reflect.Type, len(indexes))
	for i, idx := range indexes {
		if idx < 0 || idx >= len(d.types) {
			return nil, ErrIndexOutOfRange.New(idx, len(d.types))
		}
		types[i] = d.types[idx]
	}
	return Create(types...), nil
}

// Concat returns the descriptor listing the fields of each argument in turn.
func Concat(ds ...*Descriptor) *Descriptor {
	var types []reflect.Type
	for _, d := range ds {
		types = append(types, d.types...)
	}
	return Create(types...)
}
