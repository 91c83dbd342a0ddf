package memexec

import (
	"github.com/roach88/tuplex/internal/exec"
	"github.com/roach88/tuplex/internal/expr"
	"github.com/roach88/tuplex/internal/provider"
	"github.com/roach88/tuplex/internal/transform"
	"github.com/roach88/tuplex/internal/tuple"
)

type pairNodes struct {
	left, right node
	combine     *transform.CombineTransform
	nulls       tuple.Tuple
}

func (b *builder) pair(left, right provider.Provider) (*pairNodes, error) {
	l, err := b.compile(left)
	if err != nil {
		return nil, err
	}
	r, err := b.compile(right)
	if err != nil {
		return nil, err
	}
	rd := right.Header().Descriptor()
	return &pairNodes{
		left:    l,
		right:   r,
		combine: transform.Combine(true, left.Header().Descriptor(), rd),
		nulls:   nullRow(rd),
	}, nil
}

func (n *pairNodes) joined(left, right tuple.Tuple) tuple.Tuple {
	return n.combine.MustApply(transform.Auto, left, right)
}

func (b *builder) apply(p *provider.Apply) (node, error) {
	n, err := b.pair(p.Left(), p.Right())
	if err != nil {
		return nil, err
	}
	param, seq, outer := p.Parameter(), p.SequenceType(), p.ApplyType() == provider.ApplyOuter

	return func(r *run) stream {
		return func(yield func(tuple.Tuple, error) bool) {
			for left, err := range n.left(r) {
				if err != nil {
					yield(nil, err)
					return
				}
				rights, err := applyRight(n.right(r.bind(param, left)), seq, outer)
				if err != nil {
					yield(nil, err)
					return
				}
				if rights == nil && (outer || seq == provider.SequenceFirstOrDefault || seq == provider.SequenceSingleOrDefault) {
					rights = []tuple.Tuple{n.nulls}
				}
				for _, right := range rights {
					if !yield(n.joined(left, right), nil) {
						return
					}
				}
			}
		}
	}, nil
}

// applyRight reads the right rows for one left row under the sequence
// constraint. A nil result means no right row.
func applyRight(s stream, seq provider.SequenceType, outer bool) ([]tuple.Tuple, error) {
	var rows []tuple.Tuple
	for row, err := range s {
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
		switch seq {
		case provider.SequenceFirst, provider.SequenceFirstOrDefault:
			return rows, nil
		case provider.SequenceSingle, provider.SequenceSingleOrDefault:
			if len(rows) > 1 {
				return nil, exec.ErrSequence.New(seq, "more than one row")
			}
		}
	}
	if len(rows) == 0 && !outer && (seq == provider.SequenceFirst || seq == provider.SequenceSingle) {
		return nil, exec.ErrSequence.New(seq, "no rows")
	}
	return rows, nil
}

func (b *builder) join(p *provider.Join) (node, error) {
	n, err := b.pair(p.Left(), p.Right())
	if err != nil {
		return nil, err
	}
	var lf, rf []int
	for _, pair := range p.Pairs() {
		lf = append(lf, pair.Left)
		rf = append(rf, pair.Right)
	}
	lkey, err := transform.Map(p.Left().Header().Descriptor(), lf...)
	if err != nil {
		return nil, err
	}
	rkey, err := transform.Map(p.Right().Header().Descriptor(), rf...)
	if err != nil {
		return nil, err
	}
	outer := p.JoinType() == provider.JoinLeftOuter

	return func(r *run) stream {
		return func(yield func(tuple.Tuple, error) bool) {
			table := map[string][]tuple.Tuple{}
			for row, err := range n.right(r) {
				if err != nil {
					yield(nil, err)
					return
				}
				if hasNull(row, rf) {
					continue
				}
				k, err := keyOf(rkey, row)
				if err != nil {
					yield(nil, err)
					return
				}
				table[k] = append(table[k], row)
			}

			for left, err := range n.left(r) {
				if err != nil {
					yield(nil, err)
					return
				}
				var matches []tuple.Tuple
				if !hasNull(left, lf) {
					k, err := keyOf(lkey, left)
					if err != nil {
						yield(nil, err)
						return
					}
					matches = table[k]
				}
				if len(matches) == 0 && outer {
					matches = []tuple.Tuple{n.nulls}
				}
				for _, right := range matches {
					if !yield(n.joined(left, right), nil) {
						return
					}
				}
			}
		}
	}, nil
}

func (b *builder) predicateJoin(p *provider.PredicateJoin) (node, error) {
	n, err := b.pair(p.Left(), p.Right())
	if err != nil {
		return nil, err
	}
	pred, err := expr.CompilePredicate(p.Predicate(), p.Header().Descriptor())
	if err != nil {
		return nil, err
	}
	outer := p.JoinType() == provider.JoinLeftOuter

	return func(r *run) stream {
		return func(yield func(tuple.Tuple, error) bool) {
			rights, err := drain(n.right(r))
			if err != nil {
				yield(nil, err)
				return
			}
			for left, err := range n.left(r) {
				if err != nil {
					yield(nil, err)
					return
				}
				matched := false
				for _, right := range rights {
					row := n.joined(left, right)
					ok, err := pred(r.env(row))
					if err != nil {
						yield(nil, err)
						return
					}
					if !ok {
						continue
					}
					matched = true
					if !yield(row, nil) {
						return
					}
				}
				if !matched && outer && !yield(n.joined(left, n.nulls), nil) {
					return
				}
			}
		}
	}, nil
}

type setKind int

const (
	setUnion setKind = iota
	setConcat
	setExcept
	setIntersect
)

func (b *builder) setOp(p provider.Provider, kind setKind) (node, error) {
	sources := p.Sources()
	left, err := b.compile(sources[0])
	if err != nil {
		return nil, err
	}
	right, err := b.compile(sources[1])
	if err != nil {
		return nil, err
	}

	return func(r *run) stream {
		return func(yield func(tuple.Tuple, error) bool) {
			switch kind {
			case setConcat:
				for _, s := range []stream{left(r), right(r)} {
					for row, err := range s {
						if !yield(row, err) || err != nil {
							return
						}
					}
				}

			case setUnion:
				seen := map[string]struct{}{}
				for _, s := range []stream{left(r), right(r)} {
					for row, err := range s {
						if err != nil {
							yield(nil, err)
							return
						}
						k := rowKey(row)
						if _, dup := seen[k]; dup {
							continue
						}
						seen[k] = struct{}{}
						if !yield(row, nil) {
							return
						}
					}
				}

			case setExcept, setIntersect:
				in := map[string]struct{}{}
				for row, err := range right(r) {
					if err != nil {
						yield(nil, err)
						return
					}
					in[rowKey(row)] = struct{}{}
				}
				seen := map[string]struct{}{}
				for row, err := range left(r) {
					if err != nil {
						yield(nil, err)
						return
					}
					k := rowKey(row)
					if _, dup := seen[k]; dup {
						continue
					}
					seen[k] = struct{}{}
					if _, ok := in[k]; ok == (kind == setIntersect) {
						if !yield(row, nil) {
							return
						}
					}
				}
			}
		}
	}, nil
}
