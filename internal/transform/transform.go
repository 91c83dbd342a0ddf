// Package transform builds tuple views that re-map or merge fields across one
// or more source tuples without copying storage.
//
// A transform is built once per shape (usually while deriving a provider
// header) and applied many times, once per row:
//
//	d := tuple.Create(tuple.Int32, tuple.String)
//	reverse, _ := transform.Map(d, 1, 0)
//	view, _ := reverse.Apply(transform.TransformedTuple, tuple.Of(int32(1), "a"))
//	tuple.MustGet[string](view, 0) // "a"
//
// Transforms are immutable and safe for concurrent use. The views they produce
// are not safe for concurrent mutation, like any tuple.
package transform

import (
	"fmt"

	errors "gopkg.in/src-d/go-errors.v1"

	"github.com/roach88/tuplex/internal/tuple"
)

// ErrInvalidMapping is returned when a transform is built from slots or
// ranges that do not fit its sources.
var ErrInvalidMapping = errors.NewKind("invalid mapping: %s")

// IsInvalidMapping reports whether err is, or wraps, ErrInvalidMapping.
func IsInvalidMapping(err error) bool {
	return tuple.IsKind(ErrInvalidMapping, err)
}

// Type selects what Apply returns.
type Type int

const (
	// Auto returns a source unchanged when the transform is a no-op on it,
	// and a view otherwise.
	Auto Type = iota
	// TransformedTuple always returns a new view.
	TransformedTuple
	// Materialized returns an independent PackedTuple holding the
	// transformed fields.
	Materialized
)

func (t Type) String() string {
	switch t {
	case Auto:
		return "Auto"
	case TransformedTuple:
		return "TransformedTuple"
	case Materialized:
		return "Materialized"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Transform is implemented by every transform in this package.
type Transform interface {
	// Descriptor returns the descriptor of transformed tuples.
	Descriptor() *tuple.Descriptor

	// IsReadOnly reports whether views forbid writes.
	IsReadOnly() bool

	// Apply transforms sources according to typ.
	Apply(typ Type, sources ...tuple.Tuple) (tuple.Tuple, error)
}

func checkSources(want []*tuple.Descriptor, got []tuple.Tuple) error {
	if len(want) != len(got) {
		return ErrInvalidMapping.New(fmt.Sprintf("expected %d source tuples, got %d", len(want), len(got)))
	}
	for i, t := range got {
		if t == nil {
			return ErrInvalidMapping.New(fmt.Sprintf("source %d is nil", i))
		}
		if !want[i].Equal(t.Descriptor()) {
			return tuple.ErrSchemaMismatch.New(want[i], t.Descriptor())
		}
	}
	return nil
}

func finish(typ Type, view tuple.Tuple) tuple.Tuple {
	if typ == Materialized {
		return tuple.MustMaterialize(view)
	}
	return view
}
