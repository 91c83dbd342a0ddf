package tuple

import (
	"sync"
)

// ReadOnlyTuple is a view that forbids writes to the underlying tuple.
// Reads go straight through.
type ReadOnlyTuple struct {
	inner Tuple
}

var _ Tuple = (*ReadOnlyTuple)(nil)

// ReadOnly wraps t in a read-only view. Read-only tuples are returned as is.
func ReadOnly(t Tuple) Tuple {
	switch t.(type) {
	case *ReadOnlyTuple, *FastReadOnlyTuple:
		return t
	}
	return &ReadOnlyTuple{inner: t}
}

func (r *ReadOnlyTuple) Descriptor() *Descriptor { return r.inner.Descriptor() }

func (r *ReadOnlyTuple) Count() int { return r.inner.Count() }

func (r *ReadOnlyTuple) FieldState(i int) FieldState { return r.inner.FieldState(i) }

func (r *ReadOnlyTuple) Value(i int) (any, FieldState) { return r.inner.Value(i) }

func (r *ReadOnlyTuple) SetValue(i int, _ any) error {
	return ErrReadOnly.New(i)
}

func (r *ReadOnlyTuple) MappedContainer(i int, writing bool) (Tuple, int) {
	if writing {
		return nil, -1
	}
	return r.inner, i
}

// Clone returns a writable copy of the underlying data.
func (r *ReadOnlyTuple) Clone() Tuple {
	return r.inner.Clone()
}

func (r *ReadOnlyTuple) String() string { return Format(r) }

// FastReadOnlyTuple is an immutable packed snapshot with a cached hash. It is
// safe for concurrent use and suitable as a map key through Key.
type FastReadOnlyTuple struct {
	packed *PackedTuple
	hash   uint64

	keyOnce sync.Once
	key     string
}

var _ Tuple = (*FastReadOnlyTuple)(nil)

// ToFastReadOnly snapshots t. Later writes to t are not visible through the
// snapshot.
func ToFastReadOnly(t Tuple) *FastReadOnlyTuple {
	if f, ok := t.(*FastReadOnlyTuple); ok {
		return f
	}
	p := MustMaterialize(t)
	return &FastReadOnlyTuple{packed: p, hash: Hash(p)}
}

// Materialize copies any tuple into a new PackedTuple with the same
// descriptor, states and values. It fails with ErrInvalidCast when t reports
// a value that does not fit its own descriptor.
func Materialize(t Tuple) (*PackedTuple, error) {
	switch v := t.(type) {
	case *PackedTuple:
		return v.clone(), nil
	case *FastReadOnlyTuple:
		return v.packed.clone(), nil
	}
	d := t.Descriptor()
	p := New(d)
	for i := 0; i < d.Count(); i++ {
		if sp, si := resolve(t, i, false); sp != nil {
			p.copyField(i, sp, si)
			continue
		}
		v, state := t.Value(i)
		switch state {
		case Available:
			if err := p.SetValue(i, v); err != nil {
				return nil, err
			}
		case AvailableNull:
			p.setState(i, AvailableNull)
		}
	}
	return p, nil
}

// MustMaterialize is like Materialize but panics on error.
func MustMaterialize(t Tuple) *PackedTuple {
	p, err := Materialize(t)
	if err != nil {
		panic(err)
	}
	return p
}

func (f *FastReadOnlyTuple) Descriptor() *Descriptor { return f.packed.desc }

func (f *FastReadOnlyTuple) Count() int { return f.packed.Count() }

func (f *FastReadOnlyTuple) FieldState(i int) FieldState { return f.packed.FieldState(i) }

func (f *FastReadOnlyTuple) Value(i int) (any, FieldState) { return f.packed.Value(i) }

func (f *FastReadOnlyTuple) SetValue(i int, _ any) error {
	return ErrReadOnly.New(i)
}

func (f *FastReadOnlyTuple) MappedContainer(i int, writing bool) (Tuple, int) {
	if writing {
		return nil, -1
	}
	return f.packed, i
}

func (f *FastReadOnlyTuple) Clone() Tuple {
	return f.packed.clone()
}

// Hash returns the hash computed when the snapshot was taken.
func (f *FastReadOnlyTuple) Hash() uint64 { return f.hash }

// Equal reports whether f and other hold equal tuples.
func (f *FastReadOnlyTuple) Equal(other Tuple) bool {
	if o, ok := other.(*FastReadOnlyTuple); ok {
		if f.hash != o.hash {
			return false
		}
		other = o.packed
	}
	return Equal(f.packed, other)
}

// Key returns a string that is equal for equal snapshots with the same
// descriptor.
func (f *FastReadOnlyTuple) Key() string {
	f.keyOnce.Do(func() {
		f.key = f.packed.desc.key + "|" + Format(f.packed)
	})
	return f.key
}

func (f *FastReadOnlyTuple) String() string { return Format(f.packed) }
