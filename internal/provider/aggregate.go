package provider

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/tuplex/internal/header"
	"github.com/roach88/tuplex/internal/tuple"
)

// AggregateType is an aggregate function.
type AggregateType int

const (
	AggregateCount AggregateType = iota
	AggregateSum
	AggregateAvg
	AggregateMin
	AggregateMax
)

var aggregateNames = [...]string{
	AggregateCount: "count",
	AggregateSum:   "sum",
	AggregateAvg:   "avg",
	AggregateMin:   "min",
	AggregateMax:   "max",
}

func (a AggregateType) String() string {
	if a >= 0 && int(a) < len(aggregateNames) {
		return aggregateNames[a]
	}
	return fmt.Sprintf("AggregateType(%d)", int(a))
}

// ParseAggregateType returns the aggregate named s, case-insensitively.
func ParseAggregateType(s string) (AggregateType, bool) {
	s = strings.ToLower(s)
	for i, name := range aggregateNames {
		if name == s {
			return AggregateType(i), true
		}
	}
	return 0, false
}

// AggregateColumnType returns the result type of aggregate a over a column
// of type t. Count is int64 for every type. Sum widens integers to int64 or
// uint64 and floats to float64, and keeps decimal and duration. Avg is
// float64 for numbers and decimal for decimal. Min and Max keep the type and
// need an orderable one.
func AggregateColumnType(t reflect.Type, a AggregateType) (reflect.Type, error) {
	switch a {
	case AggregateCount:
		return tuple.Int64, nil
	case AggregateSum:
		switch t {
		case tuple.Int8, tuple.Int16, tuple.Int32, tuple.Int64:
			return tuple.Int64, nil
		case tuple.Uint8, tuple.Uint16, tuple.Uint32, tuple.Uint64:
			return tuple.Uint64, nil
		case tuple.Float32, tuple.Float64:
			return tuple.Float64, nil
		case tuple.Decimal, tuple.Duration:
			return t, nil
		}
	case AggregateAvg:
		switch t {
		case tuple.Int8, tuple.Int16, tuple.Int32, tuple.Int64,
			tuple.Uint8, tuple.Uint16, tuple.Uint32, tuple.Uint64,
			tuple.Float32, tuple.Float64:
			return tuple.Float64, nil
		case tuple.Decimal:
			return tuple.Decimal, nil
		}
	case AggregateMin, AggregateMax:
		if t != nil && tuple.IsOrderable(t) {
			return t, nil
		}
	}
	return nil, ErrUnsupportedAggregate.New(a, typeString(t))
}

func typeString(t reflect.Type) string {
	if t == nil {
		return "rows"
	}
	return t.String()
}

// AggregateColumn computes one aggregate. Source is the aggregated source
// column; Count accepts -1 to count rows rather than non-null values.
type AggregateColumn struct {
	Name   string
	Source int
	Type   AggregateType
}

func (c AggregateColumn) String() string {
	arg := "*"
	if c.Source >= 0 {
		arg = fmt.Sprintf("c%d", c.Source)
	}
	return fmt.Sprintf("%s(%s) as %s", c.Type, arg, c.Name)
}

// Aggregate groups source rows by its group columns and computes aggregate
// columns per group. The header is the group columns followed by the
// aggregate columns. With no group columns there is exactly one output row,
// even for empty input.
type Aggregate struct {
	unary
	groups  []int
	columns []AggregateColumn
}

// NewAggregate groups source by groups and computes columns.
func NewAggregate(source Provider, groups []int, columns ...AggregateColumn) (*Aggregate, error) {
	if err := checkSource(KindAggregate, source); err != nil {
		return nil, err
	}
	src := source.Header()
	if err := checkColumns(KindAggregate, src, groups); err != nil {
		return nil, err
	}
	if len(groups) == 0 && len(columns) == 0 {
		return nil, invalid(KindAggregate, "no group or aggregate columns")
	}

	h, err := src.Select(groups...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KindAggregate, err)
	}
	added := make([]header.Column, len(columns))
	for i, c := range columns {
		if c.Name == "" {
			return nil, invalid(KindAggregate, "aggregate %d has no name", i)
		}
		var in reflect.Type
		switch {
		case c.Source == -1 && c.Type == AggregateCount:
		case c.Source < 0 || c.Source >= src.Len():
			return nil, invalid(KindAggregate, "aggregate %s: column %d out of range [0, %d)", c.Name, c.Source, src.Len())
		default:
			in = src.Column(c.Source).Type()
		}
		out, err := AggregateColumnType(in, c.Type)
		if err != nil {
			return nil, fmt.Errorf("%s column %s: %w", KindAggregate, c.Name, err)
		}
		added[i] = header.System(c.Name, out)
	}
	h, err = h.Unordered().Add(added...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KindAggregate, err)
	}
	return &Aggregate{
		unary:   unary{node{header: h}, source},
		groups:  append([]int(nil), groups...),
		columns: append([]AggregateColumn(nil), columns...),
	}, nil
}

// Groups returns the group-by source columns.
func (p *Aggregate) Groups() []int { return append([]int(nil), p.groups...) }

// Columns returns the aggregate columns.
func (p *Aggregate) Columns() []AggregateColumn { return append([]AggregateColumn(nil), p.columns...) }

func (*Aggregate) Kind() Kind { return KindAggregate }

func (p *Aggregate) String() string {
	parts := make([]string, len(p.columns))
	for i, c := range p.columns {
		parts[i] = c.String()
	}
	s := "Aggregate"
	if len(p.groups) > 0 {
		s += " group " + intList(p.groups)
	}
	if len(parts) > 0 {
		s += " " + strings.Join(parts, ", ")
	}
	return s
}

func (p *Aggregate) rebuild(sources []Provider) (Provider, error) {
	if err := wantSources(KindAggregate, sources, 1); err != nil {
		return nil, err
	}
	return NewAggregate(sources[0], p.groups, p.columns...)
}
