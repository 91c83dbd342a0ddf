package memexec

import (
	"fmt"
	"math/bits"
	"reflect"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/tuplex/internal/exec"
	"github.com/roach88/tuplex/internal/provider"
	"github.com/roach88/tuplex/internal/transform"
	"github.com/roach88/tuplex/internal/tuple"
)

// accumulator folds the values of one aggregate column within one group.
// Null values are skipped; add sees only non-nil values. Integer and
// duration sums fail with exec.ErrOverflow instead of wrapping.
type accumulator interface {
	add(v any) error
	result() any
}

type countAcc struct{ n int64 }

func (a *countAcc) add(any) error { a.n++; return nil }
func (a *countAcc) result() any   { return a.n }

type sumInt struct {
	s    int64
	seen bool
}

func (a *sumInt) add(v any) error {
	s, ok := addInt64(a.s, toInt64(v))
	if !ok {
		return exec.ErrOverflow.New(provider.AggregateSum, tuple.Int64)
	}
	a.s, a.seen = s, true
	return nil
}

func (a *sumInt) result() any {
	if !a.seen {
		return nil
	}
	return a.s
}

type sumUint struct {
	s    uint64
	seen bool
}

func (a *sumUint) add(v any) error {
	s, carry := bits.Add64(a.s, toUint64(v), 0)
	if carry != 0 {
		return exec.ErrOverflow.New(provider.AggregateSum, tuple.Uint64)
	}
	a.s, a.seen = s, true
	return nil
}

func (a *sumUint) result() any {
	if !a.seen {
		return nil
	}
	return a.s
}

type sumFloat struct {
	s float64
	n int64
}

func (a *sumFloat) add(v any) error { a.s += toFloat64(v); a.n++; return nil }

func (a *sumFloat) result() any {
	if a.n == 0 {
		return nil
	}
	return a.s
}

type avgFloat struct{ sumFloat }

func (a *avgFloat) result() any {
	if a.n == 0 {
		return nil
	}
	return a.s / float64(a.n)
}

type sumDecimal struct {
	s decimal.Decimal
	n int64
}

func (a *sumDecimal) add(v any) error { a.s = a.s.Add(v.(decimal.Decimal)); a.n++; return nil }

func (a *sumDecimal) result() any {
	if a.n == 0 {
		return nil
	}
	return a.s
}

type avgDecimal struct{ sumDecimal }

func (a *avgDecimal) result() any {
	if a.n == 0 {
		return nil
	}
	return a.s.Div(decimal.NewFromInt(a.n))
}

type sumDuration struct {
	s    time.Duration
	seen bool
}

func (a *sumDuration) add(v any) error {
	s, ok := addInt64(int64(a.s), int64(v.(time.Duration)))
	if !ok {
		return exec.ErrOverflow.New(provider.AggregateSum, tuple.Duration)
	}
	a.s, a.seen = time.Duration(s), true
	return nil
}

func (a *sumDuration) result() any {
	if !a.seen {
		return nil
	}
	return a.s
}

type extremeAcc struct {
	typ reflect.Type
	max bool
	cur any
}

func (a *extremeAcc) add(v any) error {
	if a.cur == nil {
		a.cur = v
		return nil
	}
	c, _ := tuple.CompareValues(a.typ, v, a.cur)
	if (a.max && c > 0) || (!a.max && c < 0) {
		a.cur = v
	}
	return nil
}

func (a *extremeAcc) result() any { return a.cur }

// newAccumulator returns a constructor of accumulators for aggregate kind
// over values of type in whose result has type out.
func newAccumulator(kind provider.AggregateType, in, out reflect.Type) (func() accumulator, error) {
	switch kind {
	case provider.AggregateCount:
		return func() accumulator { return &countAcc{} }, nil
	case provider.AggregateMin, provider.AggregateMax:
		isMax := kind == provider.AggregateMax
		return func() accumulator { return &extremeAcc{typ: in, max: isMax} }, nil
	case provider.AggregateSum:
		switch out {
		case tuple.Int64:
			return func() accumulator { return &sumInt{} }, nil
		case tuple.Uint64:
			return func() accumulator { return &sumUint{} }, nil
		case tuple.Float64:
			return func() accumulator { return &sumFloat{} }, nil
		case tuple.Decimal:
			return func() accumulator { return &sumDecimal{} }, nil
		case tuple.Duration:
			return func() accumulator { return &sumDuration{} }, nil
		}
	case provider.AggregateAvg:
		switch out {
		case tuple.Float64:
			return func() accumulator { return &avgFloat{} }, nil
		case tuple.Decimal:
			return func() accumulator { return &avgDecimal{} }, nil
		}
	}
	return nil, provider.ErrUnsupportedAggregate.New(kind, in)
}

// addInt64 returns a+b and false when the sum does not fit an int64.
func addInt64(a, b int64) (int64, bool) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, false
	}
	return s, true
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	}
	panic(fmt.Sprintf("memexec: %T is not a signed integer", v))
}

func toUint64(v any) uint64 {
	switch x := v.(type) {
	case uint8:
		return uint64(x)
	case uint16:
		return uint64(x)
	case uint32:
		return uint64(x)
	case uint64:
		return x
	}
	panic(fmt.Sprintf("memexec: %T is not an unsigned integer", v))
}

func toFloat64(v any) float64 {
	switch x := v.(type) {
	case float32:
		return float64(x)
	case float64:
		return x
	case int8, int16, int32, int64:
		return float64(toInt64(x))
	case uint8, uint16, uint32, uint64:
		return float64(toUint64(x))
	}
	panic(fmt.Sprintf("memexec: %T is not a number", v))
}

type group struct {
	key  tuple.Tuple
	accs []accumulator
}

func (b *builder) aggregate(p *provider.Aggregate) (node, error) {
	src, err := b.compile(p.Source())
	if err != nil {
		return nil, err
	}
	srcHeader := p.Source().Header()
	groups := p.Groups()
	keyMap, err := transform.Map(srcHeader.Descriptor(), groups...)
	if err != nil {
		return nil, err
	}

	columns := p.Columns()
	makers := make([]func() accumulator, len(columns))
	for i, c := range columns {
		var in reflect.Type
		if c.Source >= 0 {
			in = srcHeader.Column(c.Source).Type()
		}
		out := p.Header().Column(len(groups) + i).Type()
		if makers[i], err = newAccumulator(c.Type, in, out); err != nil {
			return nil, err
		}
	}
	desc := p.Header().Descriptor()

	newGroup := func(key tuple.Tuple) *group {
		g := &group{key: key, accs: make([]accumulator, len(makers))}
		for i, m := range makers {
			g.accs[i] = m()
		}
		return g
	}
	emit := func(g *group) (tuple.Tuple, error) {
		values := make([]any, len(g.accs))
		for i, a := range g.accs {
			values[i] = a.result()
		}
		return extend(desc, g.key, values...)
	}

	return func(r *run) stream {
		return buffered(func() ([]tuple.Tuple, error) {
			var order []*group
			byKey := map[string]*group{}
			for row, err := range src(r) {
				if err != nil {
					return nil, err
				}
				key, err := keyMap.Apply(transform.Materialized, row)
				if err != nil {
					return nil, err
				}
				k := rowKey(key)
				g, ok := byKey[k]
				if !ok {
					g = newGroup(key)
					byKey[k] = g
					order = append(order, g)
				}
				for i, c := range columns {
					v, state := any(true), tuple.Available
					if c.Source >= 0 {
						v, state = row.Value(c.Source)
					}
					if state != tuple.Available {
						continue
					}
					if err := g.accs[i].add(v); err != nil {
						return nil, fmt.Errorf("aggregate %s: %w", c.Name, err)
					}
				}
			}
			if len(order) == 0 && len(groups) == 0 {
				order = append(order, newGroup(tuple.New(tuple.Empty())))
			}

			out := make([]tuple.Tuple, len(order))
			for i, g := range order {
				row, err := emit(g)
				if err != nil {
					return nil, err
				}
				out[i] = row
			}
			return out, nil
		})
	}, nil
}
