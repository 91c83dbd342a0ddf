package provider

import (
	"fmt"
	"strings"

	"github.com/roach88/tuplex/internal/expr"
	"github.com/roach88/tuplex/internal/header"
	"github.com/roach88/tuplex/internal/tuple"
)

// JoinType selects inner or left outer join semantics.
type JoinType int

const (
	JoinInner JoinType = iota
	JoinLeftOuter
)

func (t JoinType) String() string {
	if t == JoinLeftOuter {
		return "left outer"
	}
	return "inner"
}

// IndexPair equates a left column with a right column.
type IndexPair struct {
	Left, Right int
}

func (p IndexPair) String() string { return fmt.Sprintf("%d = %d", p.Left, p.Right) }

// Join is an equi-join. Left outer misses pad the right side with nulls.
type Join struct {
	binary
	joinType JoinType
	pairs    []IndexPair
}

// NewJoin joins left and right on equal columns. At least one pair is
// required and paired columns must have the same type.
func NewJoin(left, right Provider, joinType JoinType, pairs ...IndexPair) (*Join, error) {
	if err := checkPair(KindJoin, left, right); err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, invalid(KindJoin, "no join columns")
	}
	lh, rh := left.Header(), right.Header()
	for _, p := range pairs {
		if p.Left < 0 || p.Left >= lh.Len() {
			return nil, invalid(KindJoin, "left column %d out of range [0, %d)", p.Left, lh.Len())
		}
		if p.Right < 0 || p.Right >= rh.Len() {
			return nil, invalid(KindJoin, "right column %d out of range [0, %d)", p.Right, rh.Len())
		}
		if lt, rt := lh.Column(p.Left).Type(), rh.Column(p.Right).Type(); lt != rt {
			return nil, invalid(KindJoin, "cannot equate %s with %s", lt, rt)
		}
	}
	return &Join{
		binary:   binary{node{header: lh.Join(rh)}, left, right},
		joinType: joinType,
		pairs:    append([]IndexPair(nil), pairs...),
	}, nil
}

// JoinType returns the join semantics.
func (p *Join) JoinType() JoinType { return p.joinType }

// Pairs returns the equated columns.
func (p *Join) Pairs() []IndexPair { return append([]IndexPair(nil), p.pairs...) }

func (*Join) Kind() Kind { return KindJoin }

func (p *Join) String() string {
	parts := make([]string, len(p.pairs))
	for i, pair := range p.pairs {
		parts[i] = pair.String()
	}
	return fmt.Sprintf("Join %s [%s]", p.joinType, strings.Join(parts, ", "))
}

func (p *Join) rebuild(sources []Provider) (Provider, error) {
	if err := wantSources(KindJoin, sources, 2); err != nil {
		return nil, err
	}
	return NewJoin(sources[0], sources[1], p.joinType, p.pairs...)
}

// PredicateJoin joins on an arbitrary predicate over left ⧺ right rows: the
// left columns come first, the right columns follow.
type PredicateJoin struct {
	binary
	joinType  JoinType
	predicate expr.Expr
}

// NewPredicateJoin binds predicate against the joined row.
func NewPredicateJoin(left, right Provider, joinType JoinType, predicate expr.Expr) (*PredicateJoin, error) {
	if err := checkPair(KindPredicateJoin, left, right); err != nil {
		return nil, err
	}
	if predicate == nil {
		return nil, invalid(KindPredicateJoin, "predicate is nil")
	}
	h := left.Header().Join(right.Header())
	bound, err := expr.BindPredicate(predicate, h.Descriptor())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KindPredicateJoin, err)
	}
	return &PredicateJoin{binary: binary{node{header: h}, left, right}, joinType: joinType, predicate: bound}, nil
}

// JoinType returns the join semantics.
func (p *PredicateJoin) JoinType() JoinType { return p.joinType }

// Predicate returns the bound predicate.
func (p *PredicateJoin) Predicate() expr.Expr { return p.predicate }

func (*PredicateJoin) Kind() Kind { return KindPredicateJoin }

func (p *PredicateJoin) String() string {
	return fmt.Sprintf("PredicateJoin %s %s", p.joinType, p.predicate)
}

func (p *PredicateJoin) rebuild(sources []Provider) (Provider, error) {
	if err := wantSources(KindPredicateJoin, sources, 2); err != nil {
		return nil, err
	}
	return NewPredicateJoin(sources[0], sources[1], p.joinType, p.predicate)
}

// ApplyType selects whether left rows without right rows are dropped or
// padded.
type ApplyType int

const (
	ApplyCross ApplyType = iota
	ApplyOuter
)

func (t ApplyType) String() string {
	if t == ApplyOuter {
		return "outer"
	}
	return "cross"
}

// SequenceType constrains the right rows produced per left row.
type SequenceType int

const (
	// SequenceAll keeps every right row.
	SequenceAll SequenceType = iota
	// SequenceFirst keeps the first right row; none is an error.
	SequenceFirst
	// SequenceFirstOrDefault keeps the first right row or pads with nulls.
	SequenceFirstOrDefault
	// SequenceSingle requires exactly one right row.
	SequenceSingle
	// SequenceSingleOrDefault allows at most one right row and pads with
	// nulls when there is none.
	SequenceSingleOrDefault
)

var sequenceNames = [...]string{
	SequenceAll:             "all",
	SequenceFirst:           "first",
	SequenceFirstOrDefault:  "first-or-default",
	SequenceSingle:          "single",
	SequenceSingleOrDefault: "single-or-default",
}

func (t SequenceType) String() string {
	if t >= 0 && int(t) < len(sequenceNames) {
		return sequenceNames[t]
	}
	return fmt.Sprintf("SequenceType(%d)", int(t))
}

// ParseSequenceType returns the sequence type named s.
func ParseSequenceType(s string) (SequenceType, bool) {
	for i, name := range sequenceNames {
		if name == s {
			return SequenceType(i), true
		}
	}
	return 0, false
}

// NewApplyParameter returns the binding through which the right side of an
// Apply over left reads the current left row.
func NewApplyParameter(name string, left Provider) *expr.Binding {
	return expr.NewBinding(name, left.Header().Descriptor())
}

// Apply evaluates right once per left row with Parameter bound to that row,
// and yields left ⧺ right rows.
type Apply struct {
	binary
	param     *expr.Binding
	applyType ApplyType
	sequence  SequenceType
}

// NewApply correlates right with left through param.
func NewApply(param *expr.Binding, left, right Provider, applyType ApplyType, sequence SequenceType) (*Apply, error) {
	if err := checkPair(KindApply, left, right); err != nil {
		return nil, err
	}
	if param == nil {
		return nil, invalid(KindApply, "parameter is nil")
	}
	if !param.Desc.Equal(left.Header().Descriptor()) {
		return nil, fmt.Errorf("%s parameter %s: %w", KindApply, param.Name,
			tuple.ErrSchemaMismatch.New(param.Desc, left.Header().Descriptor()))
	}
	return &Apply{
		binary:    binary{node{header: left.Header().Join(right.Header())}, left, right},
		param:     param,
		applyType: applyType,
		sequence:  sequence,
	}, nil
}

// Parameter returns the binding of the left row.
func (p *Apply) Parameter() *expr.Binding { return p.param }

// ApplyType returns whether unmatched left rows are kept.
func (p *Apply) ApplyType() ApplyType { return p.applyType }

// SequenceType returns the per-row cardinality constraint.
func (p *Apply) SequenceType() SequenceType { return p.sequence }

func (*Apply) Kind() Kind { return KindApply }

func (p *Apply) String() string {
	return fmt.Sprintf("Apply %s %s %s", p.param.Name, p.applyType, p.sequence)
}

func (p *Apply) rebuild(sources []Provider) (Provider, error) {
	if err := wantSources(KindApply, sources, 2); err != nil {
		return nil, err
	}
	return NewApply(p.param, sources[0], sources[1], p.applyType, p.sequence)
}

// Union yields the distinct rows of both sources.
type Union struct{ binary }

// Concat yields the rows of left followed by the rows of right.
type Concat struct{ binary }

// Except yields the distinct left rows not in right.
type Except struct{ binary }

// Intersect yields the distinct left rows also in right.
type Intersect struct{ binary }

// NewUnion requires equal descriptors.
func NewUnion(left, right Provider) (*Union, error) {
	h, err := mergeOperands(KindUnion, left, right)
	if err != nil {
		return nil, err
	}
	return &Union{binary{node{header: h}, left, right}}, nil
}

// NewConcat requires equal descriptors.
func NewConcat(left, right Provider) (*Concat, error) {
	h, err := mergeOperands(KindConcat, left, right)
	if err != nil {
		return nil, err
	}
	return &Concat{binary{node{header: h}, left, right}}, nil
}

// NewExcept requires equal descriptors. The header is the left header.
func NewExcept(left, right Provider) (*Except, error) {
	if err := sameSchema(KindExcept, left, right); err != nil {
		return nil, err
	}
	return &Except{binary{node{header: left.Header()}, left, right}}, nil
}

// NewIntersect requires equal descriptors. The header is the left header.
func NewIntersect(left, right Provider) (*Intersect, error) {
	if err := sameSchema(KindIntersect, left, right); err != nil {
		return nil, err
	}
	return &Intersect{binary{node{header: left.Header()}, left, right}}, nil
}

func (*Union) Kind() Kind     { return KindUnion }
func (*Concat) Kind() Kind    { return KindConcat }
func (*Except) Kind() Kind    { return KindExcept }
func (*Intersect) Kind() Kind { return KindIntersect }

func (*Union) String() string     { return "Union" }
func (*Concat) String() string    { return "Concat" }
func (*Except) String() string    { return "Except" }
func (*Intersect) String() string { return "Intersect" }

func (*Union) rebuild(sources []Provider) (Provider, error) {
	if err := wantSources(KindUnion, sources, 2); err != nil {
		return nil, err
	}
	return NewUnion(sources[0], sources[1])
}

func (*Concat) rebuild(sources []Provider) (Provider, error) {
	if err := wantSources(KindConcat, sources, 2); err != nil {
		return nil, err
	}
	return NewConcat(sources[0], sources[1])
}

func (*Except) rebuild(sources []Provider) (Provider, error) {
	if err := wantSources(KindExcept, sources, 2); err != nil {
		return nil, err
	}
	return NewExcept(sources[0], sources[1])
}

func (*Intersect) rebuild(sources []Provider) (Provider, error) {
	if err := wantSources(KindIntersect, sources, 2); err != nil {
		return nil, err
	}
	return NewIntersect(sources[0], sources[1])
}

func checkPair(k Kind, left, right Provider) error {
	if left == nil || right == nil {
		return invalid(k, "both sources are required")
	}
	return nil
}

func sameSchema(k Kind, left, right Provider) error {
	if err := checkPair(k, left, right); err != nil {
		return err
	}
	ld, rd := left.Header().Descriptor(), right.Header().Descriptor()
	if !ld.Equal(rd) {
		return fmt.Errorf("%s: %w", k, tuple.ErrSchemaMismatch.New(ld, rd))
	}
	return nil
}

func mergeOperands(k Kind, left, right Provider) (*header.Header, error) {
	if err := sameSchema(k, left, right); err != nil {
		return nil, err
	}
	h, err := left.Header().MergeUnion(right.Header())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", k, err)
	}
	return h, nil
}
