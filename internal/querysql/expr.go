package querysql

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/tuplex/internal/expr"
	"github.com/roach88/tuplex/internal/provider"
	"github.com/roach88/tuplex/internal/tuple"
)

var compareSQL = map[expr.CompareOp]string{
	expr.Eq: "=",
	expr.Ne: "<>",
	expr.Lt: "<",
	expr.Le: "<=",
	expr.Gt: ">",
	expr.Ge: ">=",
}

var arithSQL = map[expr.ArithOp]string{
	expr.Add: "+",
	expr.Sub: "-",
	expr.Mul: "*",
	expr.Div: "/",
}

// exprWriter renders bound expressions over the row described by row.
// column names the SQL reference of field i.
type exprWriter struct {
	row    *tuple.Descriptor
	column func(int) string
}

func newExprWriter(row *tuple.Descriptor, column func(int) string) *exprWriter {
	return &exprWriter{row: row, column: column}
}

func (w *exprWriter) write(e expr.Expr) (*fragment, error) {
	f, _, err := w.node(e)
	return f, err
}

// node returns the SQL of e and its field type (nil for an untyped null).
func (w *exprWriter) node(e expr.Expr) (*fragment, reflect.Type, error) {
	switch n := e.(type) {
	case expr.Column:
		return &fragment{sql: w.column(n.Index)}, w.row.Type(n.Index), nil

	case expr.Outer:
		return nil, nil, provider.ErrUnsupported.New("outer reference " + n.String())

	case expr.Param:
		return &fragment{sql: "?", args: []Arg{{Type: n.Type, Param: n.Name}}}, n.Type, nil

	case expr.Literal:
		if n.Value == nil {
			return &fragment{sql: "NULL"}, n.Type, nil
		}
		return &fragment{sql: "?", args: []Arg{{Type: n.Type, Value: n.Value}}}, n.Type, nil

	case expr.Compare:
		l, r, t, err := w.pair(n.Left, n.Right)
		if err != nil {
			return nil, nil, err
		}
		if t == tuple.Decimal && n.Op != expr.Eq && n.Op != expr.Ne {
			return nil, nil, provider.ErrUnsupported.New("decimal comparison " + n.String())
		}
		return binaryFragment(l, compareSQL[n.Op], r), tuple.Bool, nil

	case expr.And:
		l, r, _, err := w.pair(n.Left, n.Right)
		if err != nil {
			return nil, nil, err
		}
		return binaryFragment(l, "AND", r), tuple.Bool, nil

	case expr.Or:
		l, r, _, err := w.pair(n.Left, n.Right)
		if err != nil {
			return nil, nil, err
		}
		return binaryFragment(l, "OR", r), tuple.Bool, nil

	case expr.Not:
		f, _, err := w.node(n.Operand)
		if err != nil {
			return nil, nil, err
		}
		return &fragment{sql: "(NOT " + f.sql + ")", args: f.args}, tuple.Bool, nil

	case expr.IsNull:
		f, _, err := w.node(n.Operand)
		if err != nil {
			return nil, nil, err
		}
		return &fragment{sql: "(" + f.sql + " IS NULL)", args: f.args}, tuple.Bool, nil

	case expr.Arith:
		l, r, t, err := w.pair(n.Left, n.Right)
		if err != nil {
			return nil, nil, err
		}
		switch {
		case t == tuple.Decimal:
			return nil, nil, provider.ErrUnsupported.New("decimal arithmetic " + n.String())
		case t == tuple.String:
			return binaryFragment(l, "||", r), t, nil
		}
		return binaryFragment(l, arithSQL[n.Op], r), t, nil

	case expr.Func:
		return w.call(n)
	}
	return nil, nil, provider.ErrUnsupported.New(fmt.Sprintf("expression %T", e))
}

func (w *exprWriter) pair(left, right expr.Expr) (*fragment, *fragment, reflect.Type, error) {
	l, lt, err := w.node(left)
	if err != nil {
		return nil, nil, nil, err
	}
	r, rt, err := w.node(right)
	if err != nil {
		return nil, nil, nil, err
	}
	if lt == nil {
		lt = rt
	}
	return l, r, lt, nil
}

func binaryFragment(l *fragment, op string, r *fragment) *fragment {
	return &fragment{
		sql:  fmt.Sprintf("(%s %s %s)", l.sql, op, r.sql),
		args: append(append([]Arg(nil), l.args...), r.args...),
	}
}

// call renders builtins. lower and upper map to the SQLite functions, which
// fold ASCII letters only.
func (w *exprWriter) call(f expr.Func) (*fragment, reflect.Type, error) {
	if !expr.IsBuiltin(f) {
		return nil, nil, provider.ErrUnsupported.New("function " + f.Name)
	}
	parts := make([]string, len(f.Args))
	types := make([]reflect.Type, len(f.Args))
	var args []Arg
	for i, a := range f.Args {
		af, t, err := w.node(a)
		if err != nil {
			return nil, nil, err
		}
		parts[i], types[i] = af.sql, t
		args = append(args, af.args...)
	}
	t, err := f.Result(types)
	if err != nil {
		return nil, nil, err
	}
	if f.Name == "coalesce" && len(parts) == 1 {
		return &fragment{sql: parts[0], args: args}, t, nil
	}
	return &fragment{sql: fmt.Sprintf("%s(%s)", f.Name, strings.Join(parts, ", ")), args: args}, t, nil
}
