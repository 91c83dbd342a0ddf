// Package expr is the scalar expression language of provider parameters:
// Filter and PredicateJoin predicates, Calculate columns, and the correlated
// references of Apply.
//
// Expressions are sealed: the node set is closed so backends can translate
// them exhaustively. Bind type-checks an expression against a row
// descriptor, coercing untyped literals to the types they are compared with;
// Compile turns a bound expression into an Evaluator for in-memory use.
//
// Evaluation uses three-valued logic. Null and unavailable fields evaluate to
// nil, comparisons with nil yield nil, and a predicate is satisfied only by
// true.
package expr

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/tuplex/internal/tuple"
)

// Expr is a node of the expression tree.
type Expr interface {
	fmt.Stringer
	exprNode()
}

// Column reads field Index of the current row.
type Column struct {
	Index int
}

// Col returns a reference to field index of the current row.
func Col(index int) Column { return Column{Index: index} }

func (c Column) String() string { return fmt.Sprintf("c%d", c.Index) }

// Binding names the outer row of a correlated subquery. Apply binds it to
// each left row before evaluating its right side.
type Binding struct {
	Name string
	Desc *tuple.Descriptor
}

// NewBinding returns a binding for outer rows of d.
func NewBinding(name string, d *tuple.Descriptor) *Binding {
	return &Binding{Name: name, Desc: d}
}

func (b *Binding) String() string { return b.Name }

// Outer reads field Index of the row bound to Binding.
type Outer struct {
	Binding *Binding
	Index   int
}

func (o Outer) String() string {
	name := "outer"
	if o.Binding != nil {
		name = o.Binding.Name
	}
	return fmt.Sprintf("%s.c%d", name, o.Index)
}

// Param is a named late-bound value supplied by the execution context.
type Param struct {
	Name string
	Type reflect.Type
}

func (p Param) String() string { return "$" + p.Name }

// Literal is a constant. A nil Value is null. Untyped literals come from
// text and adopt the type of the expression they are compared with.
type Literal struct {
	Value   any
	Type    reflect.Type
	Untyped bool
}

// Lit returns a typed literal; Lit(nil) is an untyped null.
func Lit(v any) Literal {
	if v == nil {
		return Literal{Untyped: true}
	}
	return Literal{Value: v, Type: reflect.TypeOf(v)}
}

// Untyped returns a literal read from text: v is nil, bool, int64, float64
// or string.
func Untyped(v any) Literal {
	l := Lit(v)
	l.Untyped = true
	return l
}

// Null returns a null literal of type t.
func Null(t reflect.Type) Literal {
	return Literal{Type: t}
}

func (l Literal) String() string {
	if l.Value == nil {
		return "null"
	}
	switch v := l.Value.(type) {
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case bool:
		if v {
			return "true"
		}
		return "false"
	}
	text := tuple.FormatField(l.Type, l.Value)
	switch l.Type {
	case tuple.Int8, tuple.Int16, tuple.Int32, tuple.Int64, tuple.Uint8, tuple.Uint16,
		tuple.Uint32, tuple.Uint64, tuple.Float32, tuple.Float64:
		return text
	}
	return "'" + text + "'"
}

// CompareOp is a comparison operator.
type CompareOp int

const (
	Eq CompareOp = iota
	Ne
	Lt
	Le
	Gt
	Ge
)

var compareOpText = [...]string{Eq: "==", Ne: "!=", Lt: "<", Le: "<=", Gt: ">", Ge: ">="}

func (op CompareOp) String() string {
	if int(op) < len(compareOpText) {
		return compareOpText[op]
	}
	return fmt.Sprintf("CompareOp(%d)", int(op))
}

// Compare applies a comparison operator.
type Compare struct {
	Op          CompareOp
	Left, Right Expr
}

func (c Compare) String() string {
	return fmt.Sprintf("(%s %s %s)", c.Left, c.Op, c.Right)
}

// And is logical conjunction.
type And struct {
	Left, Right Expr
}

func (a And) String() string { return fmt.Sprintf("(%s AND %s)", a.Left, a.Right) }

// Or is logical disjunction.
type Or struct {
	Left, Right Expr
}

func (o Or) String() string { return fmt.Sprintf("(%s OR %s)", o.Left, o.Right) }

// Not is logical negation.
type Not struct {
	Operand Expr
}

func (n Not) String() string { return fmt.Sprintf("(NOT %s)", n.Operand) }

// IsNull is true when its operand is null.
type IsNull struct {
	Operand Expr
}

func (n IsNull) String() string { return fmt.Sprintf("(%s IS NULL)", n.Operand) }

// ArithOp is an arithmetic operator.
type ArithOp int

const (
	Add ArithOp = iota
	Sub
	Mul
	Div
)

var arithOpText = [...]string{Add: "+", Sub: "-", Mul: "*", Div: "/"}

func (op ArithOp) String() string {
	if int(op) < len(arithOpText) {
		return arithOpText[op]
	}
	return fmt.Sprintf("ArithOp(%d)", int(op))
}

// Arith applies an arithmetic operator to operands of one numeric type.
// Add also concatenates strings.
type Arith struct {
	Op          ArithOp
	Left, Right Expr
}

func (a Arith) String() string {
	return fmt.Sprintf("(%s %s %s)", a.Left, a.Op, a.Right)
}

// Func calls a function. Builtins are created with Call; programmatic
// callers may fill Fn and Result directly, in which case the expression
// only runs in memory.
type Func struct {
	Name string
	Args []Expr

	// Result derives the result type from the argument types.
	Result func(args []reflect.Type) (reflect.Type, error)

	// Fn computes the result. Null arguments are nil.
	Fn func(args []any) (any, error)
}

func (f Func) String() string {
	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", f.Name, strings.Join(args, ", "))
}

func (Column) exprNode()  {}
func (Outer) exprNode()   {}
func (Param) exprNode()   {}
func (Literal) exprNode() {}
func (Compare) exprNode() {}
func (And) exprNode()     {}
func (Or) exprNode()      {}
func (Not) exprNode()     {}
func (IsNull) exprNode()  {}
func (Arith) exprNode()   {}
func (Func) exprNode()    {}

// Walk calls fn for e and every sub-expression in depth-first pre-order.
func Walk(e Expr, fn func(Expr)) {
	fn(e)
	switch n := e.(type) {
	case Compare:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case And:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case Or:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case Not:
		Walk(n.Operand, fn)
	case IsNull:
		Walk(n.Operand, fn)
	case Arith:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case Func:
		for _, a := range n.Args {
			Walk(a, fn)
		}
	}
}

// Columns returns the row field indexes e reads, in first-use order.
func Columns(e Expr) []int {
	var out []int
	seen := map[int]bool{}
	Walk(e, func(n Expr) {
		if c, ok := n.(Column); ok && !seen[c.Index] {
			seen[c.Index] = true
			out = append(out, c.Index)
		}
	})
	return out
}

// Bindings returns the outer bindings e references.
func Bindings(e Expr) []*Binding {
	var out []*Binding
	Walk(e, func(n Expr) {
		if o, ok := n.(Outer); ok {
			for _, b := range out {
				if b == o.Binding {
					return
				}
			}
			out = append(out, o.Binding)
		}
	})
	return out
}

// MapColumns rewrites every Column reference through fn.
func MapColumns(e Expr, fn func(int) int) Expr {
	switch n := e.(type) {
	case Column:
		return Column{Index: fn(n.Index)}
	case Compare:
		return Compare{Op: n.Op, Left: MapColumns(n.Left, fn), Right: MapColumns(n.Right, fn)}
	case And:
		return And{Left: MapColumns(n.Left, fn), Right: MapColumns(n.Right, fn)}
	case Or:
		return Or{Left: MapColumns(n.Left, fn), Right: MapColumns(n.Right, fn)}
	case Not:
		return Not{Operand: MapColumns(n.Operand, fn)}
	case IsNull:
		return IsNull{Operand: MapColumns(n.Operand, fn)}
	case Arith:
		return Arith{Op: n.Op, Left: MapColumns(n.Left, fn), Right: MapColumns(n.Right, fn)}
	case Func:
		args := make([]Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = MapColumns(a, fn)
		}
		n.Args = args
		return n
	default:
		return e
	}
}
