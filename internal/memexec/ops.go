package memexec

import (
	"fmt"
	"iter"
	"slices"

	"github.com/roach88/tuplex/internal/expr"
	"github.com/roach88/tuplex/internal/provider"
	"github.com/roach88/tuplex/internal/transform"
	"github.com/roach88/tuplex/internal/tuple"
)

func lift(seq iter.Seq[tuple.Tuple]) stream {
	return func(yield func(tuple.Tuple, error) bool) {
		for row := range seq {
			if !yield(row, nil) {
				return
			}
		}
	}
}

// buffered yields the rows returned by load, which runs when iteration
// starts.
func buffered(load func() ([]tuple.Tuple, error)) stream {
	return func(yield func(tuple.Tuple, error) bool) {
		rows, err := load()
		if err != nil {
			yield(nil, err)
			return
		}
		for _, row := range rows {
			if !yield(row, nil) {
				return
			}
		}
	}
}

func drain(s stream) ([]tuple.Tuple, error) {
	var out []tuple.Tuple
	for row, err := range s {
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// mapRows applies fn to every row of s. A nil result drops the row.
func mapRows(s stream, fn func(tuple.Tuple) (tuple.Tuple, error)) stream {
	return func(yield func(tuple.Tuple, error) bool) {
		for row, err := range s {
			if err == nil {
				row, err = fn(row)
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if row != nil && !yield(row, nil) {
				return
			}
		}
	}
}

// extend returns row followed by values as a tuple of d.
func extend(d *tuple.Descriptor, row tuple.Tuple, values ...any) (tuple.Tuple, error) {
	out := tuple.New(d)
	n := row.Count()
	if err := tuple.CopyTo(row, 0, out, 0, n); err != nil {
		return nil, err
	}
	for i, v := range values {
		if err := out.SetValue(n+i, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// nullRow returns a read-only tuple of d whose fields are all null.
func nullRow(d *tuple.Descriptor) tuple.Tuple {
	t := tuple.New(d)
	for i := range d.Count() {
		_ = tuple.SetNull(t, i)
	}
	return tuple.ToFastReadOnly(t)
}

// keyOf returns the identity string of the fields of row picked by m.
func keyOf(m *transform.MapTransform, row tuple.Tuple) (string, error) {
	key, err := m.Apply(transform.Materialized, row)
	if err != nil {
		return "", err
	}
	return tuple.ToFastReadOnly(key).Key(), nil
}

func rowKey(row tuple.Tuple) string {
	if f, ok := row.(*tuple.FastReadOnlyTuple); ok {
		return f.Key()
	}
	return tuple.ToFastReadOnly(row).Key()
}

func hasNull(row tuple.Tuple, fields []int) bool {
	for _, f := range fields {
		if row.FieldState(f) != tuple.Available {
			return true
		}
	}
	return false
}

func (b *builder) filter(p *provider.Filter) (node, error) {
	src, err := b.compile(p.Source())
	if err != nil {
		return nil, err
	}
	pred, err := expr.CompilePredicate(p.Predicate(), p.Source().Header().Descriptor())
	if err != nil {
		return nil, err
	}
	return func(r *run) stream {
		return mapRows(src(r), func(row tuple.Tuple) (tuple.Tuple, error) {
			ok, err := pred(r.env(row))
			if err != nil || !ok {
				return nil, err
			}
			return row, nil
		})
	}, nil
}

func (b *builder) calculate(p *provider.Calculate) (node, error) {
	src, err := b.compile(p.Source())
	if err != nil {
		return nil, err
	}
	srcDesc := p.Source().Header().Descriptor()
	columns := p.Columns()
	evals := make([]expr.Evaluator, len(columns))
	for i, c := range columns {
		if evals[i], _, err = expr.Compile(c.Expr, srcDesc); err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
	}
	desc := p.Header().Descriptor()
	return func(r *run) stream {
		return mapRows(src(r), func(row tuple.Tuple) (tuple.Tuple, error) {
			env := r.env(row)
			values := make([]any, len(evals))
			for i, ev := range evals {
				v, err := ev(env)
				if err != nil {
					return nil, err
				}
				values[i] = v
			}
			return extend(desc, row, values...)
		})
	}, nil
}

func (b *builder) selectColumns(p *provider.Select) (node, error) {
	src, err := b.compile(p.Source())
	if err != nil {
		return nil, err
	}
	m, err := transform.Map(p.Source().Header().Descriptor(), p.Indexes()...)
	if err != nil {
		return nil, err
	}
	return func(r *run) stream {
		return mapRows(src(r), func(row tuple.Tuple) (tuple.Tuple, error) {
			return m.Apply(transform.Auto, row)
		})
	}, nil
}

func (b *builder) sort(p *provider.Sort) (node, error) {
	src, err := b.compile(p.Source())
	if err != nil {
		return nil, err
	}
	h := p.Header()
	keyMap := h.OrderKey()
	cmp := h.OrderComparer()
	cmp.Collator = b.collator

	type keyed struct {
		key, row tuple.Tuple
	}
	return func(r *run) stream {
		return buffered(func() ([]tuple.Tuple, error) {
			var items []keyed
			for row, err := range src(r) {
				if err != nil {
					return nil, err
				}
				key, err := keyMap.Apply(transform.Materialized, row)
				if err != nil {
					return nil, err
				}
				items = append(items, keyed{key: key, row: row})
			}
			slices.SortStableFunc(items, func(a, b keyed) int { return cmp.Compare(a.key, b.key) })
			out := make([]tuple.Tuple, len(items))
			for i, it := range items {
				out[i] = it.row
			}
			return out, nil
		})
	}, nil
}

// limit skips then takes rows. A nil count means no bound.
func (b *builder) limit(source provider.Provider, skip, take provider.Count) (node, error) {
	src, err := b.compile(source)
	if err != nil {
		return nil, err
	}
	return func(r *run) stream {
		skipN, takeN := 0, -1
		if skip != nil {
			skipN = max(skip(), 0)
		}
		if take != nil {
			takeN = max(take(), 0)
		}
		return func(yield func(tuple.Tuple, error) bool) {
			if takeN == 0 {
				return
			}
			seen, taken := 0, 0
			for row, err := range src(r) {
				if err != nil {
					yield(nil, err)
					return
				}
				if seen++; seen <= skipN {
					continue
				}
				if !yield(row, nil) {
					return
				}
				if taken++; takeN >= 0 && taken >= takeN {
					return
				}
			}
		}
	}, nil
}

func (b *builder) distinct(p *provider.Distinct) (node, error) {
	src, err := b.compile(p.Source())
	if err != nil {
		return nil, err
	}
	return func(r *run) stream {
		seen := map[string]struct{}{}
		return mapRows(src(r), func(row tuple.Tuple) (tuple.Tuple, error) {
			k := rowKey(row)
			if _, dup := seen[k]; dup {
				return nil, nil
			}
			seen[k] = struct{}{}
			return row, nil
		})
	}, nil
}

func (b *builder) rowNumber(p *provider.RowNumber) (node, error) {
	src, err := b.compile(p.Source())
	if err != nil {
		return nil, err
	}
	desc := p.Header().Descriptor()
	return func(r *run) stream {
		var n int64
		return mapRows(src(r), func(row tuple.Tuple) (tuple.Tuple, error) {
			n++
			return extend(desc, row, n)
		})
	}, nil
}

func (b *builder) existence(p *provider.Existence) (node, error) {
	src, err := b.compile(p.Source())
	if err != nil {
		return nil, err
	}
	desc := p.Header().Descriptor()
	return func(r *run) stream {
		return func(yield func(tuple.Tuple, error) bool) {
			found := false
			for _, err := range src(r) {
				if err != nil {
					yield(nil, err)
					return
				}
				found = true
				break
			}
			yield(tuple.MustFromValues(desc, found), nil)
		}
	}, nil
}

func (b *builder) seek(p *provider.Seek) (node, error) {
	want := p.KeyDescriptor()
	checkKey := func() (tuple.Tuple, error) {
		key := p.Key()()
		if key == nil || !key.Descriptor().Equal(want) {
			var got *tuple.Descriptor
			if key != nil {
				got = key.Descriptor()
			}
			return nil, fmt.Errorf("seek key: %w", tuple.ErrSchemaMismatch.New(got, want))
		}
		return key, nil
	}

	if idx, ok := p.Source().(*provider.Index); ok {
		ix, err := b.catalog.Lookup(idx.Info().Name)
		if err != nil {
			return nil, err
		}
		return func(*run) stream {
			return buffered(func() ([]tuple.Tuple, error) {
				key, err := checkKey()
				if err != nil {
					return nil, err
				}
				row, found, err := ix.Seek(key)
				if err != nil || !found {
					return nil, err
				}
				return []tuple.Tuple{row}, nil
			})
		}, nil
	}

	src, err := b.compile(p.Source())
	if err != nil {
		return nil, err
	}
	keyMap := p.Header().OrderKey()
	return func(r *run) stream {
		return func(yield func(tuple.Tuple, error) bool) {
			key, err := checkKey()
			if err != nil {
				yield(nil, err)
				return
			}
			for row, err := range src(r) {
				if err != nil {
					yield(nil, err)
					return
				}
				k, err := keyMap.Apply(transform.Auto, row)
				if err != nil {
					yield(nil, err)
					return
				}
				if tuple.Equal(k, key) {
					yield(row, nil)
					return
				}
			}
		}
	}, nil
}

func (b *builder) include(p *provider.Include) (node, error) {
	src, err := b.compile(p.Source())
	if err != nil {
		return nil, err
	}
	keyMap, err := transform.Map(p.Source().Header().Descriptor(), p.Keys()...)
	if err != nil {
		return nil, err
	}
	want := p.KeyDescriptor()
	desc := p.Header().Descriptor()
	return func(r *run) stream {
		var set map[string]struct{}
		return mapRows(src(r), func(row tuple.Tuple) (tuple.Tuple, error) {
			if set == nil {
				set = map[string]struct{}{}
				for i, d := range p.Data()() {
					if !d.Descriptor().Equal(want) {
						return nil, fmt.Errorf("filter row %d: %w", i, tuple.ErrSchemaMismatch.New(d.Descriptor(), want))
					}
					set[rowKey(d)] = struct{}{}
				}
			}
			k, err := keyOf(keyMap, row)
			if err != nil {
				return nil, err
			}
			_, in := set[k]
			return extend(desc, row, in)
		})
	}, nil
}
