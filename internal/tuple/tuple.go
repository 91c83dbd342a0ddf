package tuple

import (
	"reflect"
)

// Tuple is a fixed-arity row of typed fields, each carrying a FieldState.
//
// Implementations are either containers that own storage (PackedTuple) or
// views that delegate to another tuple (ReadOnlyTuple, the transformed tuples
// of the transform package). Views answer MappedContainer so typed access can
// reach the owning container without boxing.
type Tuple interface {
	// Descriptor returns the field types of the tuple.
	Descriptor() *Descriptor

	// Count returns the number of fields.
	Count() int

	// FieldState returns the state of field i. It panics if i is out of
	// range.
	FieldState(i int) FieldState

	// Value returns the boxed value of field i and its state. The value is
	// nil unless the state is Available.
	Value(i int) (any, FieldState)

	// SetValue stores a boxed value in field i. A nil value, or a nil
	// pointer to the field type, sets the field to null.
	SetValue(i int, v any) error

	// MappedContainer resolves field i to the tuple and index that store it.
	// When writing is true a read-only view returns (nil, -1).
	MappedContainer(i int, writing bool) (Tuple, int)

	// Clone returns an independent copy. Views clone into a container.
	Clone() Tuple
}

// resolve follows MappedContainer until it reaches a PackedTuple. It returns
// nil when the chain ends elsewhere, such as an unavailable mapped slot or a
// foreign Tuple implementation.
func resolve(t Tuple, i int, writing bool) (*PackedTuple, int) {
	for {
		if p, ok := t.(*PackedTuple); ok {
			return p, i
		}
		next, j := t.MappedContainer(i, writing)
		if next == nil || next == t {
			return nil, -1
		}
		t, i = next, j
	}
}

// Get returns field i as T. A null field yields the zero value of T when T
// is nullable (pointer, interface, slice or map); otherwise Get fails.
// Reading an unavailable field fails with ErrFieldNotAvailable.
func Get[T any](t Tuple, i int) (T, error) {
	v, state, err := Lookup[T](t, i)
	if err != nil {
		return v, err
	}
	if !state.IsAvailable() {
		return v, ErrFieldNotAvailable.New(i)
	}
	return v, nil
}

// MustGet is like Get but panics on error.
func MustGet[T any](t Tuple, i int) T {
	v, err := Get[T](t, i)
	if err != nil {
		panic(err)
	}
	return v
}

// Lookup returns field i as T along with its state. Unlike Get it does not
// fail for unavailable fields; they yield the zero value. A null field yields
// the zero value of a nullable T and fails with ErrInvalidCast otherwise, as
// does a T that does not match the field type.
func Lookup[T any](t Tuple, i int) (T, FieldState, error) {
	var zero T
	if p, slot := resolve(t, i, false); p != nil {
		state := p.FieldState(slot)
		layout := p.desc.fields[slot]
		if get, ok := layout.info.acc.get.(func(*PackedTuple, int) T); ok {
			if state != Available {
				return zero, state, noValue[T](i, layout.info.typ, state)
			}
			return get(p, layout.slot), state, nil
		}
		if getPtr, ok := layout.info.acc.getPtr.(func(*PackedTuple, int) T); ok {
			if state != Available {
				return zero, state, noValue[T](i, layout.info.typ, state)
			}
			return getPtr(p, layout.slot), state, nil
		}
	}

	v, state := t.Value(i)
	if state != Available {
		return zero, state, noValue[T](i, t.Descriptor().Type(i), state)
	}
	out, err := cast[T](v, i)
	return out, state, err
}

// noValue reports whether reading a field of type ft without a value as T
// is an error.
func noValue[T any](i int, ft reflect.Type, state FieldState) error {
	switch {
	case !state.IsAvailable():
		return nil
	case !castable[T](ft):
		return ErrInvalidCast.New(i, ft, reflect.TypeFor[T]())
	case !nullable[T]():
		return ErrInvalidCast.New(i, "null", reflect.TypeFor[T]())
	}
	return nil
}

// Set stores v in field i. A nil v of a nullable T sets the field to null.
// Writing through a read-only view fails with ErrReadOnly.
func Set[T any](t Tuple, i int, v T) error {
	if nullable[T]() && isNil(any(v)) {
		return SetNull(t, i)
	}
	p, slot := resolve(t, i, true)
	if p == nil {
		return t.SetValue(i, any(v))
	}
	layout := p.desc.fields[slot]
	if set, ok := layout.info.acc.set.(func(*PackedTuple, int, T)); ok {
		set(p, layout.slot, v)
		p.setState(slot, Available)
		return nil
	}
	if setPtr, ok := layout.info.acc.setPtr.(func(*PackedTuple, int, T)); ok {
		setPtr(p, layout.slot, v)
		p.setState(slot, Available)
		return nil
	}
	return p.SetValue(slot, any(v))
}

// SetNull marks field i as null.
func SetNull(t Tuple, i int) error {
	if p, slot := resolve(t, i, true); p != nil {
		p.clear(slot)
		p.setState(slot, AvailableNull)
		return nil
	}
	return t.SetValue(i, nil)
}

// Unset marks field i NotAvailable. Tuples that do not resolve field i to
// packed storage for writing fail with ErrReadOnly.
func Unset(t Tuple, i int) error {
	p, slot := resolve(t, i, true)
	if p == nil {
		return ErrReadOnly.New(i)
	}
	p.Unset(slot)
	return nil
}

func cast[T any](v any, i int) (T, error) {
	if out, ok := v.(T); ok {
		return out, nil
	}
	var zero T
	rt := reflect.TypeFor[T]()
	if v != nil && rt.Kind() == reflect.Pointer && reflect.TypeOf(v) == rt.Elem() {
		pv := reflect.New(rt.Elem())
		pv.Elem().Set(reflect.ValueOf(v))
		return pv.Interface().(T), nil
	}
	return zero, ErrInvalidCast.New(i, valueTypeName(v), rt)
}

// castable reports whether a value of field type ft could be read as T.
func castable[T any](ft reflect.Type) bool {
	rt := reflect.TypeFor[T]()
	return rt == ft || (rt.Kind() == reflect.Interface && ft.Implements(rt)) ||
		(rt.Kind() == reflect.Pointer && rt.Elem() == ft)
}

func nullable[T any]() bool {
	switch reflect.TypeFor[T]().Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map:
		return true
	}
	return false
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func valueTypeName(v any) string {
	if v == nil {
		return "null"
	}
	return reflect.TypeOf(v).String()
}
