// Package sqlexec executes provider trees on a SQLite store.
//
// Compile checks every Index leaf against the store catalog and compiles
// the tree to one parameterized query. Raw leaves are given temporary table
// names at compile time; each Open fills those tables on its own
// connection, runs the query, and drops them again when the rows are
// closed.
//
// The store keeps a single connection, so an open Rows holds it until
// Close. Open a second plan only after closing the first.
package sqlexec

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/roach88/tuplex/internal/exec"
	"github.com/roach88/tuplex/internal/provider"
	"github.com/roach88/tuplex/internal/querysql"
	"github.com/roach88/tuplex/internal/store"
	"github.com/roach88/tuplex/internal/tuple"
)

// Option configures a Compiler.
type Option func(*Compiler)

// WithLogger sets the logger. V(1) logs compiled plans, V(2) the SQL of
// every Open.
func WithLogger(log logr.Logger) Option {
	return func(c *Compiler) { c.log = log }
}

// Compiler compiles provider trees to queries over a store.
type Compiler struct {
	store *store.Store
	log   logr.Logger
}

var _ exec.Compiler = (*Compiler)(nil)

// New returns a compiler reading indexes from s.
func New(s *store.Store, opts ...Option) *Compiler {
	c := &Compiler{store: s, log: logr.Discard()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile compiles the tree rooted at p.
func (c *Compiler) Compile(p provider.Provider) (exec.Executable, error) {
	if p == nil {
		return nil, fmt.Errorf("cannot compile nil provider")
	}
	sc := querysql.NewSQLCompiler()
	var temps []temp
	var walkErr error
	provider.Walk(p, func(n provider.Provider) bool {
		if walkErr != nil {
			return false
		}
		switch n := n.(type) {
		case *provider.Index:
			walkErr = c.checkIndex(n)
		case *provider.Raw:
			if _, ok := sc.Tables[n]; !ok {
				name := tempName()
				sc.Tables[n] = name
				temps = append(temps, temp{name: name, raw: n})
			}
		}
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}

	q, err := sc.Compile(p)
	if err != nil {
		return nil, err
	}
	c.log.V(1).Info("compiled", "kind", p.Kind(), "args", len(q.Args), "temps", len(temps))
	return &plan{p: p, query: q, temps: temps, store: c.store, log: c.log}, nil
}

func (c *Compiler) checkIndex(p *provider.Index) error {
	name := p.Info().Name
	info, err := c.store.Index(context.Background(), name)
	if err != nil {
		return fmt.Errorf("%s: %w", p.Kind(), err)
	}
	got, want := info.Header.Descriptor(), p.Header().Descriptor()
	if !got.Equal(want) {
		return fmt.Errorf("%s: index %s: %w", p.Kind(), name, tuple.ErrSchemaMismatch.New(got, want))
	}
	return nil
}

func tempName() string {
	return "tmp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// temp is a Raw leaf loaded into a temporary table for each enumeration.
type temp struct {
	name string
	raw  *provider.Raw
}

type plan struct {
	p     provider.Provider
	query *querysql.Query
	temps []temp
	store *store.Store
	log   logr.Logger
}

func (pl *plan) Provider() provider.Provider { return pl.p }

// SQL returns the compiled query text.
func (pl *plan) SQL() string { return pl.query.SQL }

func (pl *plan) Open(c *exec.Context) (exec.Rows, error) {
	ctx := c.Context()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	args, err := pl.args(c.Params())
	if err != nil {
		return nil, err
	}

	conn, err := pl.store.DB().Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	r := &rows{conn: conn, temps: pl.temps, desc: pl.p.Header().Descriptor()}
	for _, t := range pl.temps {
		if err := store.CreateTemp(ctx, conn, t.name, t.raw.Header().Descriptor(), t.raw.Rows()); err != nil {
			r.Close()
			return nil, err
		}
	}

	pl.log.V(2).Info("open", "sql", pl.query.SQL, "args", len(args))
	r.rows, err = conn.QueryContext(ctx, pl.query.SQL, args...)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("query: %w", err)
	}
	return r, nil
}

// args binds the query arguments and encodes them for SQLite.
func (pl *plan) args(params map[string]any) ([]any, error) {
	args, err := pl.query.Bind(params)
	if err != nil {
		return nil, err
	}
	for i, a := range pl.query.Args {
		if args[i], err = store.Encode(a.Type, args[i]); err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
	}
	return args, nil
}

type rows struct {
	conn   *sql.Conn
	rows   *sql.Rows
	temps  []temp
	desc   *tuple.Descriptor
	cur    tuple.Tuple
	err    error
	closed bool
}

func (r *rows) Next() bool {
	if r.closed || r.err != nil {
		return false
	}
	if !r.rows.Next() {
		r.err = r.rows.Err()
		r.cur = nil
		return false
	}
	row, err := store.ScanTuple(r.rows, r.desc)
	if err != nil {
		r.err, r.cur = err, nil
		return false
	}
	r.cur = row
	return true
}

func (r *rows) Tuple() tuple.Tuple { return r.cur }

func (r *rows) Err() error { return r.err }

// Close closes the result set, drops the temporary tables and returns the
// connection to the store. The drop runs even when the enumeration's
// context was cancelled.
func (r *rows) Close() error {
	if r.closed {
		return nil
	}
	r.closed, r.cur = true, nil
	var first error
	keep := func(err error) {
		if first == nil {
			first = err
		}
	}
	if r.rows != nil {
		keep(r.rows.Close())
	}
	for _, t := range r.temps {
		keep(store.DropTemp(context.Background(), r.conn, t.name))
	}
	keep(r.conn.Close())
	return first
}
