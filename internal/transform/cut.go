package transform

import (
	"fmt"

	"github.com/roach88/tuplex/internal/tuple"
)

// Segment builds a transform exposing fields [start, start+length) of source.
func Segment(readOnly bool, source *tuple.Descriptor, start, length int) (*MapTransform, error) {
	if err := checkRange(source, start, length); err != nil {
		return nil, err
	}
	slots := make([]Slot, length)
	for i := range slots {
		slots[i] = Field(start + i)
	}
	return NewMap(nil, readOnly, []*tuple.Descriptor{source}, slots)
}

// CutOut builds a transform exposing source without fields
// [start, start+length).
func CutOut(readOnly bool, source *tuple.Descriptor, start, length int) (*MapTransform, error) {
	if err := checkRange(source, start, length); err != nil {
		return nil, err
	}
	slots := make([]Slot, 0, source.Count()-length)
	for i := 0; i < source.Count(); i++ {
		if i < start || i >= start+length {
			slots = append(slots, Field(i))
		}
	}
	return NewMap(nil, readOnly, []*tuple.Descriptor{source}, slots)
}

// CutIn builds a two-source transform that inserts the fields of inserted
// into source before field index. Apply takes the source tuple first and the
// inserted tuple second.
func CutIn(readOnly bool, source *tuple.Descriptor, index int, inserted *tuple.Descriptor) (*MapTransform, error) {
	if index < 0 || index > source.Count() {
		return nil, ErrInvalidMapping.New(fmt.Sprintf("cut-in index %d out of range [0, %d]", index, source.Count()))
	}
	slots := make([]Slot, 0, source.Count()+inserted.Count())
	for i := 0; i < index; i++ {
		slots = append(slots, FieldOf(0, i))
	}
	for i := 0; i < inserted.Count(); i++ {
		slots = append(slots, FieldOf(1, i))
	}
	for i := index; i < source.Count(); i++ {
		slots = append(slots, FieldOf(0, i))
	}
	return NewMap(nil, readOnly, []*tuple.Descriptor{source, inserted}, slots)
}

func checkRange(d *tuple.Descriptor, start, length int) error {
	if start < 0 || length < 0 || start+length > d.Count() {
		return ErrInvalidMapping.New(fmt.Sprintf("range [%d, %d) outside %d fields", start, start+length, d.Count()))
	}
	return nil
}

// ReadOnlyTransform wraps tuples of one descriptor in read-only views.
type ReadOnlyTransform struct {
	desc *tuple.Descriptor
}

var _ Transform = (*ReadOnlyTransform)(nil)

// ReadOnly returns the read-only transform for d.
func ReadOnly(d *tuple.Descriptor) *ReadOnlyTransform {
	return &ReadOnlyTransform{desc: d}
}

func (r *ReadOnlyTransform) Descriptor() *tuple.Descriptor { return r.desc }

func (r *ReadOnlyTransform) IsReadOnly() bool { return true }

// Apply wraps the source. Materialized yields a FastReadOnlyTuple snapshot;
// Auto returns sources that are already read-only unchanged.
func (r *ReadOnlyTransform) Apply(typ Type, sources ...tuple.Tuple) (tuple.Tuple, error) {
	if err := checkSources([]*tuple.Descriptor{r.desc}, sources); err != nil {
		return nil, err
	}
	src := sources[0]
	switch typ {
	case Materialized:
		return tuple.ToFastReadOnly(src), nil
	case TransformedTuple:
		return &readOnlyView{inner: src}, nil
	default:
		return tuple.ReadOnly(src), nil
	}
}

// readOnlyView always allocates, unlike tuple.ReadOnly which passes
// read-only inputs through.
type readOnlyView struct {
	inner tuple.Tuple
}

func (v *readOnlyView) Descriptor() *tuple.Descriptor { return v.inner.Descriptor() }

func (v *readOnlyView) Count() int { return v.inner.Count() }

func (v *readOnlyView) FieldState(i int) tuple.FieldState { return v.inner.FieldState(i) }

func (v *readOnlyView) Value(i int) (any, tuple.FieldState) { return v.inner.Value(i) }

func (v *readOnlyView) SetValue(i int, _ any) error { return tuple.ErrReadOnly.New(i) }

func (v *readOnlyView) MappedContainer(i int, writing bool) (tuple.Tuple, int) {
	if writing {
		return nil, -1
	}
	return v.inner, i
}

func (v *readOnlyView) Clone() tuple.Tuple { return tuple.MustMaterialize(v) }

func (v *readOnlyView) String() string { return tuple.Format(v) }
