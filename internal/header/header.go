// Package header describes the output shape of a provider: its tuple
// descriptor, its columns, column groups and ordering.
//
// Headers are immutable. Every derivation returns a new Header, so a header
// can be shared by any number of providers and goroutines.
package header

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	errors "gopkg.in/src-d/go-errors.v1"

	"github.com/roach88/tuplex/internal/transform"
	"github.com/roach88/tuplex/internal/tuple"
)

// ErrInvalidHeader is returned when columns, groups or ordering do not fit
// together.
var ErrInvalidHeader = errors.NewKind("invalid header: %s")

// IsInvalidHeader reports whether err is, or wraps, ErrInvalidHeader.
func IsInvalidHeader(err error) bool {
	return tuple.IsKind(ErrInvalidHeader, err)
}

// Header is a record set header.
type Header struct {
	desc     *tuple.Descriptor
	columns  []Column
	groups   []ColumnGroup
	order    Ordering
	orderKey *transform.MapTransform
}

// New validates and builds a header.
func New(columns []Column, groups []ColumnGroup, order Ordering) (*Header, error) {
	types := make([]reflect.Type, len(columns))
	for i, c := range columns {
		if c == nil || c.Type() == nil {
			return nil, ErrInvalidHeader.New(fmt.Sprintf("column %d has no type", i))
		}
		types[i] = tuple.Normalize(c.Type())
	}
	for gi, g := range groups {
		for _, idx := range append(slices.Clone(g.Keys), g.Columns...) {
			if idx < 0 || idx >= len(columns) {
				return nil, ErrInvalidHeader.New(fmt.Sprintf("group %d references column %d of %d", gi, idx, len(columns)))
			}
		}
		for _, k := range g.Keys {
			if !slices.Contains(g.Columns, k) {
				return nil, ErrInvalidHeader.New(fmt.Sprintf("group %d key %d is not one of its columns", gi, k))
			}
		}
	}
	h := &Header{
		desc:    tuple.Create(types...),
		columns: slices.Clone(columns),
		groups:  slices.Clone(groups),
	}
	if err := h.setOrder(order); err != nil {
		return nil, err
	}
	return h, nil
}

// MustNew is like New but panics on error.
func MustNew(columns []Column, groups []ColumnGroup, order Ordering) *Header {
	h, err := New(columns, groups, order)
	if err != nil {
		panic(err)
	}
	return h
}

// FromDescriptor builds an unordered header of system columns c0..cN for d.
func FromDescriptor(d *tuple.Descriptor) *Header {
	columns := make([]Column, d.Count())
	for i := range columns {
		columns[i] = System(fmt.Sprintf("c%d", i), d.Type(i))
	}
	return MustNew(columns, nil, nil)
}

func (h *Header) setOrder(order Ordering) error {
	if len(order) == 0 {
		h.order, h.orderKey = nil, nil
		return nil
	}
	fields := make([]int, len(order))
	for i, item := range order {
		if item.Index < 0 || item.Index >= len(h.columns) {
			return ErrInvalidHeader.New(fmt.Sprintf("order item %d references column %d of %d", i, item.Index, len(h.columns)))
		}
		if !h.desc.IsOrderable(item.Index) {
			return ErrInvalidHeader.New(fmt.Sprintf("column %d (%s) is not orderable", item.Index, h.desc.Type(item.Index)))
		}
		fields[i] = item.Index
	}
	key, err := transform.NewMap(nil, true, []*tuple.Descriptor{h.desc}, slotsOf(fields))
	if err != nil {
		return err
	}
	h.order, h.orderKey = slices.Clone(order), key
	return nil
}

func slotsOf(fields []int) []transform.Slot {
	slots := make([]transform.Slot, len(fields))
	for i, f := range fields {
		slots[i] = transform.Field(f)
	}
	return slots
}

// Descriptor returns the tuple descriptor of the header.
func (h *Header) Descriptor() *tuple.Descriptor { return h.desc }

// Len returns the number of columns.
func (h *Header) Len() int { return len(h.columns) }

// Column returns column i.
func (h *Header) Column(i int) Column { return h.columns[i] }

// Columns returns a copy of the columns.
func (h *Header) Columns() []Column { return slices.Clone(h.columns) }

// Groups returns a copy of the column groups.
func (h *Header) Groups() []ColumnGroup { return slices.Clone(h.groups) }

// Order returns a copy of the ordering. It is empty for unordered headers.
func (h *Header) Order() Ordering { return slices.Clone(h.order) }

// OrderKey returns the read-only transform extracting the order-key
// sub-tuple, or nil when the header is unordered.
func (h *Header) OrderKey() *transform.MapTransform { return h.orderKey }

// OrderComparer returns a comparer for order-key sub-tuples.
func (h *Header) OrderComparer() tuple.Comparer {
	desc := make([]bool, len(h.order))
	for i, item := range h.order {
		desc[i] = item.Direction == Descending
	}
	return tuple.Comparer{Descending: desc}
}

// IndexOf returns the index of the first column named name, or -1.
func (h *Header) IndexOf(name string) int {
	for i, c := range h.columns {
		if c.Name() == name {
			return i
		}
	}
	return -1
}

// Join returns the header of left ⧺ right rows. The left ordering is kept.
func (h *Header) Join(right *Header) *Header {
	offset := len(h.columns)
	groups := slices.Clone(h.groups)
	for _, g := range right.groups {
		groups = append(groups, g.shift(offset))
	}
	return MustNew(append(h.Columns(), right.columns...), groups, h.order)
}

// Add appends columns. Groups and ordering are kept.
func (h *Header) Add(columns ...Column) (*Header, error) {
	return New(append(h.Columns(), columns...), h.groups, h.order)
}

// Select projects columns in the given order; indexes may repeat. Groups
// survive when all their columns are selected; the ordering keeps its
// longest selected prefix.
func (h *Header) Select(indexes ...int) (*Header, error) {
	position := make(map[int]int, len(indexes))
	columns := make([]Column, len(indexes))
	for i, idx := range indexes {
		if idx < 0 || idx >= len(h.columns) {
			return nil, tuple.ErrIndexOutOfRange.New(idx, len(h.columns))
		}
		columns[i] = h.columns[idx]
		if _, ok := position[idx]; !ok {
			position[idx] = i
		}
	}

	var groups []ColumnGroup
nextGroup:
	for _, g := range h.groups {
		out := ColumnGroup{Keys: make([]int, len(g.Keys)), Columns: make([]int, len(g.Columns))}
		for i, c := range g.Columns {
			p, ok := position[c]
			if !ok {
				continue nextGroup
			}
			out.Columns[i] = p
		}
		for i, k := range g.Keys {
			out.Keys[i] = position[k]
		}
		groups = append(groups, out)
	}

	var order Ordering
	for _, item := range h.order {
		p, ok := position[item.Index]
		if !ok {
			break
		}
		order = append(order, OrderItem{Index: p, Direction: item.Direction})
	}
	return New(columns, groups, order)
}

// Sort returns the header with a new ordering.
func (h *Header) Sort(order Ordering) (*Header, error) {
	out := &Header{desc: h.desc, columns: h.columns, groups: h.groups}
	if err := out.setOrder(order); err != nil {
		return nil, err
	}
	return out, nil
}

// Unordered returns the header without ordering.
func (h *Header) Unordered() *Header {
	if len(h.order) == 0 {
		return h
	}
	return &Header{desc: h.desc, columns: h.columns, groups: h.groups}
}

// Alias renames every column to alias.name.
func (h *Header) Alias(alias string) *Header {
	columns := make([]Column, len(h.columns))
	for i, c := range h.columns {
		columns[i] = c.Renamed(alias + "." + c.Name())
	}
	return &Header{desc: h.desc, columns: columns, groups: h.groups, order: h.order, orderKey: h.orderKey}
}

// MergeUnion merges the headers of two union operands. The descriptors
// must be equal. Columns not mapped onto the same model column on both
// sides become system columns; ordering and groups are dropped.
func (h *Header) MergeUnion(right *Header) (*Header, error) {
	if !h.desc.Equal(right.desc) {
		return nil, tuple.ErrSchemaMismatch.New(h.desc, right.desc)
	}
	columns := make([]Column, len(h.columns))
	for i, c := range h.columns {
		if sameModelColumn(c, right.columns[i]) {
			columns[i] = c
			continue
		}
		columns[i] = System(c.Name(), c.Type())
	}
	return &Header{desc: h.desc, columns: columns}, nil
}

// String renders the header as "[name type, ...] order [...]".
func (h *Header) String() string {
	parts := make([]string, len(h.columns))
	for i, c := range h.columns {
		kind := ""
		if m, ok := c.(MappedColumn); ok {
			kind = " @" + m.Ref.String()
		}
		parts[i] = fmt.Sprintf("%s %s%s", c.Name(), c.Type(), kind)
	}
	s := "[" + strings.Join(parts, ", ") + "]"
	if len(h.order) > 0 {
		s += " order " + h.order.String()
	}
	return s
}
