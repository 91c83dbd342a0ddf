// Package memexec executes provider trees in memory.
//
// Compile turns every node of a tree into a row stream constructor once.
// Opening the plan wires the constructors into a chain of lazy streams that
// Rows pulls from one row at a time. Only operators that need their whole
// input buffer it: Sort, Distinct and the set operators, Aggregate, the
// build side of joins, Include filter sets, and Store.
package memexec

import (
	"context"
	"fmt"
	"iter"

	"github.com/go-logr/logr"
	"golang.org/x/text/collate"

	"github.com/roach88/tuplex/internal/exec"
	"github.com/roach88/tuplex/internal/expr"
	"github.com/roach88/tuplex/internal/memindex"
	"github.com/roach88/tuplex/internal/provider"
	"github.com/roach88/tuplex/internal/tuple"
)

// stream is a lazy sequence of rows. An error ends the stream.
type stream = iter.Seq2[tuple.Tuple, error]

// node opens a stream for one enumeration.
type node func(r *run) stream

// run is the per-enumeration state visible to nodes.
type run struct {
	exec  *exec.Context
	outer map[*expr.Binding]tuple.Tuple
	log   logr.Logger

	// bound holds the rows of correlated stores for the current outer rows.
	bound map[*provider.Store][]tuple.Tuple
}

func (r *run) env(row tuple.Tuple) *expr.Env {
	return &expr.Env{Row: row, Outer: r.outer, Params: r.exec.Params()}
}

// bind returns a run in which b refers to row.
func (r *run) bind(b *expr.Binding, row tuple.Tuple) *run {
	outer := make(map[*expr.Binding]tuple.Tuple, len(r.outer)+1)
	for k, v := range r.outer {
		outer[k] = v
	}
	outer[b] = row
	return &run{exec: r.exec, outer: outer, log: r.log, bound: map[*provider.Store][]tuple.Tuple{}}
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithLogger sets the logger. V(1) logs compiled nodes, V(2) opened ones.
func WithLogger(log logr.Logger) Option {
	return func(c *Compiler) { c.log = log }
}

// WithCollator orders strings in Sort with col instead of by bytes.
func WithCollator(col *collate.Collator) Option {
	return func(c *Compiler) { c.collator = col }
}

// Compiler compiles provider trees against a catalog of in-memory indexes.
type Compiler struct {
	catalog  *memindex.Catalog
	collator *collate.Collator
	log      logr.Logger
}

var _ exec.Compiler = (*Compiler)(nil)

// New returns a compiler reading indexes from catalog.
func New(catalog *memindex.Catalog, opts ...Option) *Compiler {
	c := &Compiler{catalog: catalog, log: logr.Discard()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile compiles the tree rooted at p.
func (c *Compiler) Compile(p provider.Provider) (exec.Executable, error) {
	b := &builder{Compiler: c, stores: map[*provider.Store]func(*run) ([]tuple.Tuple, error){}}
	root, err := b.compile(p)
	if err != nil {
		return nil, err
	}
	return &plan{p: p, root: root, log: c.log}, nil
}

type plan struct {
	p    provider.Provider
	root node
	log  logr.Logger
}

func (pl *plan) Provider() provider.Provider { return pl.p }

func (pl *plan) Open(c *exec.Context) (exec.Rows, error) {
	if err := c.Context().Err(); err != nil {
		return nil, err
	}
	next, stop := iter.Pull2(pl.root(&run{exec: c, log: pl.log}))
	return &rows{ctx: c.Context(), next: next, stop: stop}, nil
}

type rows struct {
	ctx  context.Context
	next func() (tuple.Tuple, error, bool)
	stop func()
	cur  tuple.Tuple
	err  error
	done bool
}

func (r *rows) Next() bool {
	if r.done {
		return false
	}
	if err := r.ctx.Err(); err != nil {
		r.finish(err)
		return false
	}
	row, err, ok := r.next()
	switch {
	case !ok:
		r.finish(nil)
		return false
	case err != nil:
		r.finish(err)
		return false
	}
	r.cur = row
	return true
}

func (r *rows) finish(err error) {
	r.err, r.done, r.cur = err, true, nil
	r.stop()
}

func (r *rows) Tuple() tuple.Tuple { return r.cur }

func (r *rows) Err() error { return r.err }

func (r *rows) Close() error {
	if !r.done {
		r.finish(nil)
	}
	return nil
}

type builder struct {
	*Compiler
	stores map[*provider.Store]func(*run) ([]tuple.Tuple, error)
}

func (b *builder) compile(p provider.Provider) (node, error) {
	n, err := b.compileNode(p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Kind(), err)
	}
	b.log.V(1).Info("compiled", "kind", p.Kind(), "node", p.String())
	kind := p.Kind()
	return func(r *run) stream {
		r.log.V(2).Info("open", "kind", kind)
		return n(r)
	}, nil
}

func (b *builder) compileNode(p provider.Provider) (node, error) {
	switch p := p.(type) {
	case *provider.Index:
		return b.index(p)
	case *provider.Raw:
		return func(*run) stream { return lift(p.Rows()) }, nil
	case *provider.Store:
		materialize, err := b.store(p)
		if err != nil {
			return nil, err
		}
		return func(r *run) stream { return buffered(func() ([]tuple.Tuple, error) { return materialize(r) }) }, nil
	case *provider.Load:
		materialize, err := b.store(p.Store())
		if err != nil {
			return nil, err
		}
		return func(r *run) stream { return buffered(func() ([]tuple.Tuple, error) { return materialize(r) }) }, nil
	case *provider.Filter:
		return b.filter(p)
	case *provider.Calculate:
		return b.calculate(p)
	case *provider.Select:
		return b.selectColumns(p)
	case *provider.Sort:
		return b.sort(p)
	case *provider.Reindex:
		return b.compile(p.Source())
	case *provider.Alias:
		return b.compile(p.Source())
	case *provider.Take:
		return b.limit(p.Source(), nil, p.Count())
	case *provider.Skip:
		return b.limit(p.Source(), p.Count(), nil)
	case *provider.Paging:
		return b.limit(p.Source(), p.Skip(), p.Take())
	case *provider.Distinct:
		return b.distinct(p)
	case *provider.Aggregate:
		return b.aggregate(p)
	case *provider.RowNumber:
		return b.rowNumber(p)
	case *provider.Existence:
		return b.existence(p)
	case *provider.Seek:
		return b.seek(p)
	case *provider.Include:
		return b.include(p)
	case *provider.Apply:
		return b.apply(p)
	case *provider.Join:
		return b.join(p)
	case *provider.PredicateJoin:
		return b.predicateJoin(p)
	case *provider.Union:
		return b.setOp(p, setUnion)
	case *provider.Concat:
		return b.setOp(p, setConcat)
	case *provider.Except:
		return b.setOp(p, setExcept)
	case *provider.Intersect:
		return b.setOp(p, setIntersect)
	default:
		return nil, provider.ErrUnsupported.New(p.Kind())
	}
}

func (b *builder) index(p *provider.Index) (node, error) {
	ix, err := b.catalog.Lookup(p.Info().Name)
	if err != nil {
		return nil, err
	}
	got, want := ix.Info().Header.Descriptor(), p.Header().Descriptor()
	if !got.Equal(want) {
		return nil, fmt.Errorf("index %s: %w", p.Info().Name, tuple.ErrSchemaMismatch.New(got, want))
	}
	return func(*run) stream { return lift(ix.Scan()) }, nil
}

// store returns the materializer shared by a Store and its Loads. Rows of
// a store without free outer bindings are kept in the execution context and
// computed once per enumeration. A correlated store is computed once per
// binding of the outer rows it reads.
func (b *builder) store(p *provider.Store) (func(*run) ([]tuple.Tuple, error), error) {
	if m, ok := b.stores[p]; ok {
		return m, nil
	}
	src, err := b.compile(p.Source())
	if err != nil {
		return nil, err
	}
	correlated := len(provider.FreeBindings(p)) > 0
	m := func(r *run) ([]tuple.Tuple, error) {
		if correlated {
			if rows, ok := r.bound[p]; ok {
				return rows, nil
			}
		} else if rows, ok := r.exec.Stored(p); ok {
			return rows, nil
		}
		rows, err := drain(src(r))
		if err != nil {
			return nil, err
		}
		switch {
		case !correlated:
			r.exec.Keep(p, rows)
		case r.bound != nil:
			r.bound[p] = rows
		}
		return rows, nil
	}
	b.stores[p] = m
	return m, nil
}
