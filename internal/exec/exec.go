// Package exec is the boundary between the provider tree and execution
// backends.
//
// A Compiler turns a provider tree into an Executable once; the Executable
// can then be opened any number of times, each Open starting an independent
// enumeration that yields tuples matching the root header descriptor.
// Enumeration is pull-based and synchronous: Rows.Next produces one row on
// demand on the calling goroutine. Cancellation comes from the
// context.Context carried by the execution Context.
package exec

import (
	"context"
	"fmt"

	errors "gopkg.in/src-d/go-errors.v1"

	"github.com/roach88/tuplex/internal/provider"
	"github.com/roach88/tuplex/internal/tuple"
)

// ErrSequence is returned when an Apply finds the wrong number of right
// rows for its sequence type.
var ErrSequence = errors.NewKind("apply %s: %s")

// IsSequenceError reports whether err is, or wraps, ErrSequence.
func IsSequenceError(err error) bool { return tuple.IsKind(ErrSequence, err) }

// ErrOverflow is returned when an aggregate leaves the range of its result
// type.
var ErrOverflow = errors.NewKind("%s overflows %s")

// IsOverflow reports whether err is, or wraps, ErrOverflow.
func IsOverflow(err error) bool { return tuple.IsKind(ErrOverflow, err) }

// Compiler compiles provider trees for one backend.
type Compiler interface {
	Compile(p provider.Provider) (Executable, error)
}

// Executable is a compiled plan.
type Executable interface {
	// Provider returns the compiled tree.
	Provider() provider.Provider

	// Open starts an enumeration.
	Open(c *Context) (Rows, error)
}

// Rows is one enumeration of a plan.
//
//	rows, err := plan.Open(c)
//	if err != nil {
//	    return err
//	}
//	defer rows.Close()
//	for rows.Next() {
//	    use(rows.Tuple())
//	}
//	return rows.Err()
type Rows interface {
	// Next advances to the next row and reports whether there is one.
	Next() bool

	// Tuple returns the current row. It is valid until the next call to
	// Next.
	Tuple() tuple.Tuple

	// Err returns the error that ended the enumeration, if any.
	Err() error

	// Close releases the enumeration. It is safe to call more than once.
	Close() error
}

// Context carries the state of one enumeration: the cancellation context,
// named parameters, and the rows of Store nodes materialized so far.
//
// A Context is owned by a single enumeration and is not safe for
// concurrent use.
type Context struct {
	ctx    context.Context
	params map[string]any
	stored map[any][]tuple.Tuple
}

// NewContext returns an execution context. A nil ctx means
// context.Background.
func NewContext(ctx context.Context, params map[string]any) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Context{ctx: ctx, params: params, stored: map[any][]tuple.Tuple{}}
}

// Context returns the cancellation context.
func (c *Context) Context() context.Context { return c.ctx }

// Params returns the named parameters.
func (c *Context) Params() map[string]any { return c.params }

// Param returns the named parameter.
func (c *Context) Param(name string) (any, bool) {
	v, ok := c.params[name]
	return v, ok
}

// Stored returns the rows materialized under key. Keys are compared like
// map keys; executors use the Store node itself.
func (c *Context) Stored(key any) ([]tuple.Tuple, bool) {
	rows, ok := c.stored[key]
	return rows, ok
}

// Keep records the rows materialized under key.
func (c *Context) Keep(key any, rows []tuple.Tuple) {
	c.stored[key] = rows
}

// Collect opens plan and reads every row.
func Collect(c *Context, plan Executable) (out []tuple.Tuple, err error) {
	rows, err := plan.Open(c)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	for rows.Next() {
		row, err := tuple.Materialize(rows.Tuple())
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Run compiles p with compiler and collects one enumeration.
func Run(ctx context.Context, compiler Compiler, p provider.Provider, params map[string]any) ([]tuple.Tuple, error) {
	plan, err := compiler.Compile(p)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", p.Kind(), err)
	}
	return Collect(NewContext(ctx, params), plan)
}

// SliceRows iterates a fixed slice of rows.
type SliceRows struct {
	rows []tuple.Tuple
	pos  int
}

// NewSliceRows returns Rows over rows.
func NewSliceRows(rows []tuple.Tuple) *SliceRows {
	return &SliceRows{rows: rows, pos: -1}
}

func (r *SliceRows) Next() bool {
	if r.pos+1 >= len(r.rows) {
		r.pos = len(r.rows)
		return false
	}
	r.pos++
	return true
}

func (r *SliceRows) Tuple() tuple.Tuple {
	if r.pos < 0 || r.pos >= len(r.rows) {
		return nil
	}
	return r.rows[r.pos]
}

func (r *SliceRows) Err() error { return nil }

func (r *SliceRows) Close() error {
	r.pos = len(r.rows)
	return nil
}
