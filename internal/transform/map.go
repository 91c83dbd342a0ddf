package transform

import (
	"fmt"
	"reflect"

	"github.com/roach88/tuplex/internal/tuple"
)

// Slot addresses a field of one of a transform's sources. The zero Slot is
// unmapped: the target field is always NotAvailable.
type Slot struct {
	Source int
	Field  int
	mapped bool
}

// FieldOf returns the slot for field of source.
func FieldOf(source, field int) Slot {
	return Slot{Source: source, Field: field, mapped: true}
}

// Field returns the slot for field of the first source.
func Field(field int) Slot {
	return FieldOf(0, field)
}

// Unmapped returns the slot of a target field with no source.
func Unmapped() Slot {
	return Slot{}
}

// Mapped reports whether s points at a source field.
func (s Slot) Mapped() bool {
	return s.mapped
}

func (s Slot) String() string {
	if !s.mapped {
		return "-"
	}
	return fmt.Sprintf("%d.%d", s.Source, s.Field)
}

// MapTransform projects, reorders or pads the fields of its sources. Target
// field i reads source Slots[i].Source at field Slots[i].Field.
type MapTransform struct {
	desc     *tuple.Descriptor
	sources  []*tuple.Descriptor
	slots    []Slot
	readOnly bool
	identity bool
}

var _ Transform = (*MapTransform)(nil)

// Map builds a read-write transform over a single source selecting fields in
// order. Fields may repeat.
func Map(source *tuple.Descriptor, fields ...int) (*MapTransform, error) {
	slots := make([]Slot, len(fields))
	for i, f := range fields {
		slots[i] = Field(f)
	}
	return NewMap(nil, false, []*tuple.Descriptor{source}, slots)
}

// MustMap is like Map but panics on error.
func MustMap(source *tuple.Descriptor, fields ...int) *MapTransform {
	m, err := Map(source, fields...)
	if err != nil {
		panic(err)
	}
	return m
}

// NewMap builds a transform from explicit slots. When target is nil it is
// derived from the slot types, which requires every slot to be mapped;
// otherwise every mapped slot must have the target field's type.
func NewMap(target *tuple.Descriptor, readOnly bool, sources []*tuple.Descriptor, slots []Slot) (*MapTransform, error) {
	if target != nil && target.Count() != len(slots) {
		return nil, ErrInvalidMapping.New(fmt.Sprintf("%d slots for %d target fields", len(slots), target.Count()))
	}
	types := make([]reflect.Type, len(slots))
	for i, s := range slots {
		if !s.mapped {
			if target == nil {
				return nil, ErrInvalidMapping.New(fmt.Sprintf("slot %d is unmapped and no target descriptor was given", i))
			}
			types[i] = target.Type(i)
			continue
		}
		if s.Source < 0 || s.Source >= len(sources) {
			return nil, ErrInvalidMapping.New(fmt.Sprintf("slot %d: source %d out of range [0, %d)", i, s.Source, len(sources)))
		}
		src := sources[s.Source]
		if s.Field < 0 || s.Field >= src.Count() {
			return nil, ErrInvalidMapping.New(fmt.Sprintf("slot %d: field %d out of range [0, %d)", i, s.Field, src.Count()))
		}
		types[i] = src.Type(s.Field)
		if target != nil && target.Type(i) != types[i] {
			return nil, tuple.ErrSchemaMismatch.New(fmt.Sprintf("target field %d (%s)", i, target.Type(i)), fmt.Sprintf("slot %s (%s)", s, types[i]))
		}
	}
	if target == nil {
		target = tuple.Create(types...)
	}

	m := &MapTransform{
		desc:     target,
		sources:  append([]*tuple.Descriptor(nil), sources...),
		slots:    append([]Slot(nil), slots...),
		readOnly: readOnly,
	}
	m.identity = len(sources) == 1 && sources[0].Count() == len(slots)
	for i, s := range slots {
		if s != Field(i) {
			m.identity = false
			break
		}
	}
	return m, nil
}

func (m *MapTransform) Descriptor() *tuple.Descriptor { return m.desc }

func (m *MapTransform) IsReadOnly() bool { return m.readOnly }

// Sources returns the descriptors the transform expects, in order.
func (m *MapTransform) Sources() []*tuple.Descriptor {
	return append([]*tuple.Descriptor(nil), m.sources...)
}

// Slots returns a copy of the field mapping.
func (m *MapTransform) Slots() []Slot {
	return append([]Slot(nil), m.slots...)
}

// IsIdentity reports whether the transform maps a single source onto itself.
func (m *MapTransform) IsIdentity() bool { return m.identity }

// Apply returns the transformed tuple.
func (m *MapTransform) Apply(typ Type, sources ...tuple.Tuple) (tuple.Tuple, error) {
	if err := checkSources(m.sources, sources); err != nil {
		return nil, err
	}
	if typ == Auto && m.identity {
		if m.readOnly {
			return tuple.ReadOnly(sources[0]), nil
		}
		return sources[0], nil
	}
	view := &MappedTuple{transform: m, sources: append([]tuple.Tuple(nil), sources...)}
	return finish(typ, view), nil
}

// MustApply is like Apply but panics on error.
func (m *MapTransform) MustApply(typ Type, sources ...tuple.Tuple) tuple.Tuple {
	t, err := m.Apply(typ, sources...)
	if err != nil {
		panic(err)
	}
	return t
}

// MappedTuple is the view produced by a MapTransform.
type MappedTuple struct {
	transform *MapTransform
	sources   []tuple.Tuple
}

var _ tuple.Tuple = (*MappedTuple)(nil)

func (v *MappedTuple) Descriptor() *tuple.Descriptor { return v.transform.desc }

func (v *MappedTuple) Count() int { return len(v.transform.slots) }

func (v *MappedTuple) slot(i int) Slot {
	if i < 0 || i >= len(v.transform.slots) {
		panic(tuple.ErrIndexOutOfRange.New(i, len(v.transform.slots)))
	}
	return v.transform.slots[i]
}

func (v *MappedTuple) FieldState(i int) tuple.FieldState {
	s := v.slot(i)
	if !s.mapped {
		return tuple.NotAvailable
	}
	return v.sources[s.Source].FieldState(s.Field)
}

func (v *MappedTuple) Value(i int) (any, tuple.FieldState) {
	s := v.slot(i)
	if !s.mapped {
		return nil, tuple.NotAvailable
	}
	return v.sources[s.Source].Value(s.Field)
}

func (v *MappedTuple) SetValue(i int, value any) error {
	s := v.slot(i)
	if v.transform.readOnly {
		return tuple.ErrReadOnly.New(i)
	}
	if !s.mapped {
		return tuple.ErrFieldNotAvailable.New(i)
	}
	return v.sources[s.Source].SetValue(s.Field, value)
}

func (v *MappedTuple) MappedContainer(i int, writing bool) (tuple.Tuple, int) {
	s := v.slot(i)
	if !s.mapped || (writing && v.transform.readOnly) {
		return nil, -1
	}
	return v.sources[s.Source], s.Field
}

// Clone materializes the view.
func (v *MappedTuple) Clone() tuple.Tuple {
	return tuple.MustMaterialize(v)
}

func (v *MappedTuple) String() string {
	return tuple.Format(v)
}
