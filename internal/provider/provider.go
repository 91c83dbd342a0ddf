package provider

import (
	"fmt"

	errors "gopkg.in/src-d/go-errors.v1"

	"github.com/roach88/tuplex/internal/header"
	"github.com/roach88/tuplex/internal/tuple"
)

var (
	// ErrInvalidArgument is returned when a constructor parameter does not
	// fit the source headers.
	ErrInvalidArgument = errors.NewKind("%s: %s")

	// ErrUnsupportedAggregate is returned when an aggregate kind is not
	// defined for a column type.
	ErrUnsupportedAggregate = errors.NewKind("aggregate %s is not defined for %s")

	// ErrUnsupported is returned by backends for provider kinds they cannot
	// compile.
	ErrUnsupported = errors.NewKind("%s is not supported by this backend")
)

// IsInvalidArgument reports whether err is, or wraps, ErrInvalidArgument.
func IsInvalidArgument(err error) bool { return tuple.IsKind(ErrInvalidArgument, err) }

// IsUnsupportedAggregate reports whether err is, or wraps,
// ErrUnsupportedAggregate.
func IsUnsupportedAggregate(err error) bool { return tuple.IsKind(ErrUnsupportedAggregate, err) }

// IsUnsupported reports whether err is, or wraps, ErrUnsupported.
func IsUnsupported(err error) bool { return tuple.IsKind(ErrUnsupported, err) }

// Kind identifies the operator of a provider.
type Kind int

const (
	KindIndex Kind = iota
	KindRaw
	KindStore
	KindLoad
	KindFilter
	KindCalculate
	KindSelect
	KindSort
	KindReindex
	KindTake
	KindSkip
	KindPaging
	KindDistinct
	KindAlias
	KindAggregate
	KindRowNumber
	KindExistence
	KindSeek
	KindInclude
	KindApply
	KindJoin
	KindPredicateJoin
	KindUnion
	KindConcat
	KindExcept
	KindIntersect
)

var kindNames = [...]string{
	KindIndex:         "Index",
	KindRaw:           "Raw",
	KindStore:         "Store",
	KindLoad:          "Load",
	KindFilter:        "Filter",
	KindCalculate:     "Calculate",
	KindSelect:        "Select",
	KindSort:          "Sort",
	KindReindex:       "Reindex",
	KindTake:          "Take",
	KindSkip:          "Skip",
	KindPaging:        "Paging",
	KindDistinct:      "Distinct",
	KindAlias:         "Alias",
	KindAggregate:     "Aggregate",
	KindRowNumber:     "RowNumber",
	KindExistence:     "Existence",
	KindSeek:          "Seek",
	KindInclude:       "Include",
	KindApply:         "Apply",
	KindJoin:          "Join",
	KindPredicateJoin: "PredicateJoin",
	KindUnion:         "Union",
	KindConcat:        "Concat",
	KindExcept:        "Except",
	KindIntersect:     "Intersect",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Kinds returns every provider kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, len(kindNames))
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}

// ParseKind returns the kind named s.
func ParseKind(s string) (Kind, bool) {
	for i, name := range kindNames {
		if name == s {
			return Kind(i), true
		}
	}
	return 0, false
}

// Provider is a node of the query tree.
//
// This is a sealed interface: only types in this package implement it.
type Provider interface {
	// Kind returns the operator of the node.
	Kind() Kind

	// Header returns the output shape, derived at construction.
	Header() *header.Header

	// Sources returns the child providers, left to right.
	Sources() []Provider

	// String describes the node and its parameters, without sources.
	String() string

	// rebuild constructs the same operator over new sources.
	rebuild(sources []Provider) (Provider, error)

	providerNode()
}

// node carries the fields common to every provider.
type node struct {
	header *header.Header
}

func (n *node) Header() *header.Header { return n.header }

func (*node) providerNode() {}

// unary is embedded by single-source providers.
type unary struct {
	node
	source Provider
}

// Source returns the single source provider.
func (u *unary) Source() Provider { return u.source }

func (u *unary) Sources() []Provider { return []Provider{u.source} }

// binary is embedded by two-source providers.
type binary struct {
	node
	left, right Provider
}

// Left returns the left source.
func (b *binary) Left() Provider { return b.left }

// Right returns the right source.
func (b *binary) Right() Provider { return b.right }

func (b *binary) Sources() []Provider { return []Provider{b.left, b.right} }

type leaf struct {
	node
}

func (*leaf) Sources() []Provider { return nil }

func invalid(k Kind, format string, args ...any) error {
	return ErrInvalidArgument.New(k, fmt.Sprintf(format, args...))
}

func checkSource(k Kind, p Provider) error {
	if p == nil {
		return invalid(k, "source is nil")
	}
	return nil
}

func checkColumns(k Kind, h *header.Header, indexes []int) error {
	for _, idx := range indexes {
		if idx < 0 || idx >= h.Len() {
			return invalid(k, "column %d out of range [0, %d)", idx, h.Len())
		}
	}
	return nil
}

func wantSources(k Kind, sources []Provider, n int) error {
	if len(sources) != n {
		return invalid(k, "expected %d sources, got %d", n, len(sources))
	}
	return nil
}
