package header

import (
	"fmt"
	"reflect"

	"github.com/roach88/tuplex/internal/tuple"
)

// Column describes one field of a record set. It is either a MappedColumn,
// backed by a model column, or a SystemColumn computed by the query.
type Column interface {
	// Name returns the column name.
	Name() string

	// Type returns the field type.
	Type() reflect.Type

	// Renamed returns a copy of the column with a new name.
	Renamed(name string) Column

	isColumn()
}

// ModelRef identifies a column of the underlying model.
type ModelRef struct {
	Table  string
	Column string
}

func (r ModelRef) String() string {
	return r.Table + "." + r.Column
}

// MappedColumn references a model column.
type MappedColumn struct {
	name string
	typ  reflect.Type
	Ref  ModelRef
}

// Mapped returns a column backed by ref. Pointer types are normalized to
// their element type.
func Mapped(name string, typ reflect.Type, ref ModelRef) MappedColumn {
	return MappedColumn{name: name, typ: tuple.Normalize(typ), Ref: ref}
}

func (c MappedColumn) Name() string { return c.name }

func (c MappedColumn) Type() reflect.Type { return c.typ }

func (c MappedColumn) Renamed(name string) Column {
	c.name = name
	return c
}

func (c MappedColumn) String() string {
	return fmt.Sprintf("%s %s -> %s", c.name, c.typ, c.Ref)
}

func (MappedColumn) isColumn() {}

// SystemColumn is a computed or synthetic column.
type SystemColumn struct {
	name string
	typ  reflect.Type
}

// System returns a computed column. Pointer types are normalized to their
// element type.
func System(name string, typ reflect.Type) SystemColumn {
	return SystemColumn{name: name, typ: tuple.Normalize(typ)}
}

func (c SystemColumn) Name() string { return c.name }

func (c SystemColumn) Type() reflect.Type { return c.typ }

func (c SystemColumn) Renamed(name string) Column {
	c.name = name
	return c
}

func (c SystemColumn) String() string {
	return fmt.Sprintf("%s %s", c.name, c.typ)
}

func (SystemColumn) isColumn() {}

// sameModelColumn reports whether a and b are mapped onto the same model
// column.
func sameModelColumn(a, b Column) bool {
	ma, ok := a.(MappedColumn)
	if !ok {
		return false
	}
	mb, ok := b.(MappedColumn)
	return ok && ma.Ref == mb.Ref
}

// ColumnGroup marks the columns materialized together, such as those of one
// entity. Keys and Columns are header column indexes; Keys is a subset of
// Columns.
type ColumnGroup struct {
	Keys    []int
	Columns []int
}

func (g ColumnGroup) shift(offset int) ColumnGroup {
	out := ColumnGroup{Keys: make([]int, len(g.Keys)), Columns: make([]int, len(g.Columns))}
	for i, k := range g.Keys {
		out.Keys[i] = k + offset
	}
	for i, c := range g.Columns {
		out.Columns[i] = c + offset
	}
	return out
}

// Direction is a sort direction.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// OrderItem sorts by one column.
type OrderItem struct {
	Index     int
	Direction Direction
}

// Asc and Desc build order items.
func Asc(index int) OrderItem  { return OrderItem{Index: index, Direction: Ascending} }
func Desc(index int) OrderItem { return OrderItem{Index: index, Direction: Descending} }

// Ordering is a lexicographic sort specification, most significant first.
type Ordering []OrderItem

func (o Ordering) String() string {
	if len(o) == 0 {
		return "[]"
	}
	s := "["
	for i, item := range o {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%d %s", item.Index, item.Direction)
	}
	return s + "]"
}
