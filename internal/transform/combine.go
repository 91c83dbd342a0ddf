package transform

import (
	"github.com/roach88/tuplex/internal/tuple"
)

// CombineTransform concatenates the fields of several sources. Field access
// is routed to the source owning the field.
type CombineTransform struct {
	desc     *tuple.Descriptor
	sources  []*tuple.Descriptor
	offsets  []int
	readOnly bool
}

var _ Transform = (*CombineTransform)(nil)

// Combine builds a transform concatenating sources in order.
func Combine(readOnly bool, sources ...*tuple.Descriptor) *CombineTransform {
	c := &CombineTransform{
		desc:     tuple.Concat(sources...),
		sources:  append([]*tuple.Descriptor(nil), sources...),
		offsets:  make([]int, len(sources)),
		readOnly: readOnly,
	}
	offset := 0
	for i, d := range sources {
		c.offsets[i] = offset
		offset += d.Count()
	}
	return c
}

func (c *CombineTransform) Descriptor() *tuple.Descriptor { return c.desc }

func (c *CombineTransform) IsReadOnly() bool { return c.readOnly }

// Sources returns the source descriptors in order.
func (c *CombineTransform) Sources() []*tuple.Descriptor {
	return append([]*tuple.Descriptor(nil), c.sources...)
}

// Locate returns the source and source field backing combined field i.
func (c *CombineTransform) Locate(i int) (source, field int) {
	if i < 0 || i >= c.desc.Count() {
		panic(tuple.ErrIndexOutOfRange.New(i, c.desc.Count()))
	}
	for s := len(c.offsets) - 1; s >= 0; s-- {
		if i >= c.offsets[s] && c.sources[s].Count() > 0 {
			return s, i - c.offsets[s]
		}
	}
	return 0, i
}

// Apply returns the combined tuple. A single-source combine under Auto
// returns the source itself.
func (c *CombineTransform) Apply(typ Type, sources ...tuple.Tuple) (tuple.Tuple, error) {
	if err := checkSources(c.sources, sources); err != nil {
		return nil, err
	}
	if typ == Auto && len(sources) == 1 {
		if c.readOnly {
			return tuple.ReadOnly(sources[0]), nil
		}
		return sources[0], nil
	}
	view := &CombinedTuple{transform: c, sources: append([]tuple.Tuple(nil), sources...)}
	return finish(typ, view), nil
}

// MustApply is like Apply but panics on error.
func (c *CombineTransform) MustApply(typ Type, sources ...tuple.Tuple) tuple.Tuple {
	t, err := c.Apply(typ, sources...)
	if err != nil {
		panic(err)
	}
	return t
}

// CombinedTuple is the view produced by a CombineTransform.
type CombinedTuple struct {
	transform *CombineTransform
	sources   []tuple.Tuple
}

var _ tuple.Tuple = (*CombinedTuple)(nil)

func (v *CombinedTuple) Descriptor() *tuple.Descriptor { return v.transform.desc }

func (v *CombinedTuple) Count() int { return v.transform.desc.Count() }

func (v *CombinedTuple) FieldState(i int) tuple.FieldState {
	s, f := v.transform.Locate(i)
	return v.sources[s].FieldState(f)
}

func (v *CombinedTuple) Value(i int) (any, tuple.FieldState) {
	s, f := v.transform.Locate(i)
	return v.sources[s].Value(f)
}

func (v *CombinedTuple) SetValue(i int, value any) error {
	s, f := v.transform.Locate(i)
	if v.transform.readOnly {
		return tuple.ErrReadOnly.New(i)
	}
	return v.sources[s].SetValue(f, value)
}

func (v *CombinedTuple) MappedContainer(i int, writing bool) (tuple.Tuple, int) {
	if writing && v.transform.readOnly {
		return nil, -1
	}
	s, f := v.transform.Locate(i)
	return v.sources[s], f
}

// Clone materializes the view.
func (v *CombinedTuple) Clone() tuple.Tuple {
	return tuple.MustMaterialize(v)
}

func (v *CombinedTuple) String() string {
	return tuple.Format(v)
}
