package tuple

import (
	"fmt"
)

// PackedTuple is the owning tuple container. Field states are packed two bits
// per field; scalar values live inline in a []uint64 and everything else in
// a []any, each indexed by the slot the descriptor assigned to the field.
//
// A PackedTuple is not safe for concurrent mutation.
type PackedTuple struct {
	desc    *Descriptor
	states  []uint64
	values  []uint64
	objects []any
}

var _ Tuple = (*PackedTuple)(nil)

// New returns a tuple of d with every field NotAvailable.
func New(d *Descriptor) *PackedTuple {
	p := &PackedTuple{desc: d}
	if n := stateWords(d.Count()); n > 0 {
		p.states = make([]uint64, n)
	}
	if d.values > 0 {
		p.values = make([]uint64, d.values)
	}
	if d.objects > 0 {
		p.objects = make([]any, d.objects)
	}
	return p
}

// FromValues returns a tuple of d holding values. A nil value makes its field
// null.
func FromValues(d *Descriptor, values ...any) (*PackedTuple, error) {
	if len(values) != d.Count() {
		return nil, ErrSchemaMismatch.New(fmt.Sprintf("%d values", len(values)), d)
	}
	p := New(d)
	for i, v := range values {
		if err := p.SetValue(i, v); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// MustFromValues is like FromValues but panics on error.
func MustFromValues(d *Descriptor, values ...any) *PackedTuple {
	p, err := FromValues(d, values...)
	if err != nil {
		panic(err)
	}
	return p
}

// Of builds a tuple whose descriptor is derived from the dynamic types of
// values. It panics on a nil value.
func Of(values ...any) *PackedTuple {
	return MustFromValues(CreateOf(values...), values...)
}

func (p *PackedTuple) Descriptor() *Descriptor {
	return p.desc
}

func (p *PackedTuple) Count() int {
	return p.desc.Count()
}

func (p *PackedTuple) checkIndex(i int) {
	if uint(i) >= uint(p.desc.Count()) {
		panic(ErrIndexOutOfRange.New(i, p.desc.Count()))
	}
}

func (p *PackedTuple) FieldState(i int) FieldState {
	p.checkIndex(i)
	shift := uint(i%statesPerWord) * stateBits
	return FieldState(p.states[i/statesPerWord] >> shift & stateMask)
}

func (p *PackedTuple) setState(i int, s FieldState) {
	shift := uint(i%statesPerWord) * stateBits
	w := &p.states[i/statesPerWord]
	*w = *w&^(stateMask<<shift) | uint64(s)<<shift
}

// clear drops the stored value of field i so object slots release their
// references.
func (p *PackedTuple) clear(i int) {
	layout := p.desc.fields[i]
	if layout.info.category == categoryScalar {
		p.values[layout.slot] = 0
	} else {
		p.objects[layout.slot] = nil
	}
}

func (p *PackedTuple) Value(i int) (any, FieldState) {
	state := p.FieldState(i)
	if state != Available {
		return nil, state
	}
	return p.raw(i), state
}

// raw returns the stored value of field i regardless of state.
func (p *PackedTuple) raw(i int) any {
	layout := p.desc.fields[i]
	if layout.info.category == categoryScalar {
		return layout.info.fromBits(p.values[layout.slot])
	}
	return p.objects[layout.slot]
}

func (p *PackedTuple) SetValue(i int, v any) error {
	p.checkIndex(i)
	if isNil(v) {
		p.clear(i)
		p.setState(i, AvailableNull)
		return nil
	}
	layout := p.desc.fields[i]
	value, null, ok := layout.info.normalize(v)
	if !ok {
		return ErrInvalidCast.New(i, valueTypeName(v), layout.info.typ)
	}
	if null {
		p.clear(i)
		p.setState(i, AvailableNull)
		return nil
	}
	if layout.info.category == categoryScalar {
		p.values[layout.slot] = layout.info.toBits(value)
	} else {
		p.objects[layout.slot] = value
	}
	p.setState(i, Available)
	return nil
}

// SetState forces the state of field i. Setting NotAvailable or Null clears
// the stored value.
func (p *PackedTuple) SetState(i int, s FieldState) {
	p.checkIndex(i)
	if s != Available {
		p.clear(i)
	}
	p.setState(i, s&stateMask)
}

// Unset marks field i NotAvailable.
func (p *PackedTuple) Unset(i int) {
	p.SetState(i, NotAvailable)
}

func (p *PackedTuple) MappedContainer(i int, writing bool) (Tuple, int) {
	return p, i
}

func (p *PackedTuple) Clone() Tuple {
	return p.clone()
}

func (p *PackedTuple) clone() *PackedTuple {
	return &PackedTuple{
		desc:    p.desc,
		states:  cloneSlice(p.states),
		values:  cloneSlice(p.values),
		objects: cloneSlice(p.objects),
	}
}

func (p *PackedTuple) String() string {
	return Format(p)
}

// copyField copies field si of src into field di of p. Both fields must have
// the same type.
func (p *PackedTuple) copyField(di int, src *PackedTuple, si int) {
	state := src.FieldState(si)
	if state != Available {
		p.clear(di)
		p.setState(di, state)
		return
	}
	dl, sl := p.desc.fields[di], src.desc.fields[si]
	if dl.info.category == categoryScalar {
		p.values[dl.slot] = src.values[sl.slot]
	} else {
		p.objects[dl.slot] = src.objects[sl.slot]
	}
	p.setState(di, Available)
}

func cloneSlice[S ~[]E, E any](s S) S {
	if s == nil {
		return nil
	}
	return append(S(make([]E, 0, len(s))), s...)
}
