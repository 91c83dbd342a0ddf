package expr

import (
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/shopspring/decimal"
	errors "gopkg.in/src-d/go-errors.v1"

	"github.com/roach88/tuplex/internal/tuple"
)

var (
	// ErrType is returned when an expression is ill-typed for its row.
	ErrType = errors.NewKind("type error: %s")

	// ErrEval is returned when evaluation fails, such as division by zero.
	ErrEval = errors.NewKind("evaluation error: %s")
)

// IsTypeError reports whether err is, or wraps, ErrType.
func IsTypeError(err error) bool { return tuple.IsKind(ErrType, err) }

// IsEvalError reports whether err is, or wraps, ErrEval.
func IsEvalError(err error) bool { return tuple.IsKind(ErrEval, err) }

// Bind type-checks e against rows of d and returns the expression with
// untyped literals coerced, together with its result type. An untyped null
// that is never compared keeps a nil type.
func Bind(e Expr, d *tuple.Descriptor) (Expr, reflect.Type, error) {
	b := binder{row: d}
	return b.bind(e)
}

// BindPredicate is Bind for expressions that must yield bool.
func BindPredicate(e Expr, d *tuple.Descriptor) (Expr, error) {
	bound, t, err := Bind(e, d)
	if err != nil {
		return nil, err
	}
	if t != nil && t != tuple.Bool {
		return nil, ErrType.New(fmt.Sprintf("predicate %s has type %s, want bool", e, t))
	}
	return bound, nil
}

type binder struct {
	row *tuple.Descriptor
}

func (b binder) bind(e Expr) (Expr, reflect.Type, error) {
	switch n := e.(type) {
	case Column:
		if n.Index < 0 || n.Index >= b.row.Count() {
			return nil, nil, ErrType.New(fmt.Sprintf("column c%d out of range for %s", n.Index, b.row))
		}
		return n, b.row.Type(n.Index), nil

	case Outer:
		if n.Binding == nil || n.Binding.Desc == nil {
			return nil, nil, ErrType.New(fmt.Sprintf("%s has no binding", n))
		}
		if n.Index < 0 || n.Index >= n.Binding.Desc.Count() {
			return nil, nil, ErrType.New(fmt.Sprintf("%s out of range for %s", n, n.Binding.Desc))
		}
		return n, n.Binding.Desc.Type(n.Index), nil

	case Param:
		if n.Type == nil {
			return nil, nil, ErrType.New(fmt.Sprintf("parameter %s has no type", n))
		}
		return n, n.Type, nil

	case Literal:
		return n, n.Type, nil

	case Compare:
		left, right, t, err := b.bindOperands(n.Left, n.Right)
		if err != nil {
			return nil, nil, err
		}
		if t != nil && n.Op != Eq && n.Op != Ne && !tuple.IsOrderable(t) {
			return nil, nil, ErrType.New(fmt.Sprintf("%s: %s is not orderable", n, t))
		}
		return Compare{Op: n.Op, Left: left, Right: right}, tuple.Bool, nil

	case And:
		left, right, err := b.bindLogical(n.Left, n.Right)
		if err != nil {
			return nil, nil, err
		}
		return And{Left: left, Right: right}, tuple.Bool, nil

	case Or:
		left, right, err := b.bindLogical(n.Left, n.Right)
		if err != nil {
			return nil, nil, err
		}
		return Or{Left: left, Right: right}, tuple.Bool, nil

	case Not:
		operand, err := b.bindBool(n.Operand)
		if err != nil {
			return nil, nil, err
		}
		return Not{Operand: operand}, tuple.Bool, nil

	case IsNull:
		operand, _, err := b.bind(n.Operand)
		if err != nil {
			return nil, nil, err
		}
		return IsNull{Operand: operand}, tuple.Bool, nil

	case Arith:
		left, right, t, err := b.bindOperands(n.Left, n.Right)
		if err != nil {
			return nil, nil, err
		}
		if t != nil && !arithmetic(n.Op, t) {
			return nil, nil, ErrType.New(fmt.Sprintf("%s: operator %s is not defined for %s", n, n.Op, t))
		}
		return Arith{Op: n.Op, Left: left, Right: right}, t, nil

	case Func:
		args := make([]Expr, len(n.Args))
		types := make([]reflect.Type, len(n.Args))
		for i, a := range n.Args {
			bound, t, err := b.bind(a)
			if err != nil {
				return nil, nil, err
			}
			args[i], types[i] = bound, t
		}
		if n.Result == nil || n.Fn == nil {
			return nil, nil, ErrType.New(fmt.Sprintf("function %s is not callable", n.Name))
		}
		t, err := n.Result(types)
		if err != nil {
			return nil, nil, ErrType.New(fmt.Sprintf("%s: %v", n, err))
		}
		n.Args = args
		return n, t, nil

	default:
		return nil, nil, ErrType.New(fmt.Sprintf("unknown expression %T", e))
	}
}

// bindOperands binds a pair of operands that must share a type, coercing an
// untyped literal on either side to the other side's type.
func (b binder) bindOperands(l, r Expr) (Expr, Expr, reflect.Type, error) {
	left, lt, err := b.bind(l)
	if err != nil {
		return nil, nil, nil, err
	}
	right, rt, err := b.bind(r)
	if err != nil {
		return nil, nil, nil, err
	}
	if lit, ok := right.(Literal); ok && lit.Untyped && lt != nil {
		if right, err = coerceLiteral(lit, lt); err != nil {
			return nil, nil, nil, err
		}
		rt = lt
	} else if lit, ok := left.(Literal); ok && lit.Untyped && rt != nil {
		if left, err = coerceLiteral(lit, rt); err != nil {
			return nil, nil, nil, err
		}
		lt = rt
	}
	switch {
	case lt == nil:
		return left, right, rt, nil
	case rt == nil:
		return left, right, lt, nil
	case lt != rt:
		return nil, nil, nil, ErrType.New(fmt.Sprintf("operands %s (%s) and %s (%s) differ in type", l, lt, r, rt))
	}
	return left, right, lt, nil
}

func (b binder) bindLogical(l, r Expr) (Expr, Expr, error) {
	left, err := b.bindBool(l)
	if err != nil {
		return nil, nil, err
	}
	right, err := b.bindBool(r)
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

func (b binder) bindBool(e Expr) (Expr, error) {
	bound, t, err := b.bind(e)
	if err != nil {
		return nil, err
	}
	if lit, ok := bound.(Literal); ok && lit.Untyped {
		return coerceLiteral(lit, tuple.Bool)
	}
	if t != nil && t != tuple.Bool {
		return nil, ErrType.New(fmt.Sprintf("%s has type %s, want bool", e, t))
	}
	return bound, nil
}

func arithmetic(op ArithOp, t reflect.Type) bool {
	switch t {
	case tuple.Int8, tuple.Int16, tuple.Int32, tuple.Int64,
		tuple.Uint8, tuple.Uint16, tuple.Uint32, tuple.Uint64,
		tuple.Float32, tuple.Float64, tuple.Decimal:
		return true
	case tuple.Duration:
		return op == Add || op == Sub
	case tuple.String:
		return op == Add
	}
	return false
}

func coerceLiteral(lit Literal, t reflect.Type) (Literal, error) {
	v, err := Coerce(lit.Value, t)
	if err != nil {
		return Literal{}, ErrType.New(fmt.Sprintf("literal %s: %v", lit, err))
	}
	return Literal{Value: v, Type: t}, nil
}

// Coerce converts an untyped literal value (nil, bool, int64, float64 or
// string) to type t.
func Coerce(v any, t reflect.Type) (any, error) {
	if v == nil || reflect.TypeOf(v) == t {
		return v, nil
	}
	switch x := v.(type) {
	case int64:
		return coerceInt(x, t)
	case float64:
		switch t {
		case tuple.Float32:
			return float32(x), nil
		case tuple.Decimal:
			return decimal.NewFromFloat(x), nil
		}
		if x == math.Trunc(x) && x >= math.MinInt64 && x < math.MaxInt64 {
			if n, err := coerceInt(int64(x), t); err == nil {
				return n, nil
			}
		}
	case string:
		parsed, err := tuple.ParseField(t, x)
		if err != nil {
			return nil, err
		}
		return parsed, nil
	}
	return nil, fmt.Errorf("cannot use %v (%T) as %s", v, v, t)
}

func coerceInt(x int64, t reflect.Type) (any, error) {
	fits := func(minV, maxV int64) error {
		if x < minV || x > maxV {
			return fmt.Errorf("%d overflows %s", x, t)
		}
		return nil
	}
	switch t {
	case tuple.Int8:
		return int8(x), fits(math.MinInt8, math.MaxInt8)
	case tuple.Int16:
		return int16(x), fits(math.MinInt16, math.MaxInt16)
	case tuple.Int32:
		return int32(x), fits(math.MinInt32, math.MaxInt32)
	case tuple.Int64:
		return x, nil
	case tuple.Uint8:
		return uint8(x), fits(0, math.MaxUint8)
	case tuple.Uint16:
		return uint16(x), fits(0, math.MaxUint16)
	case tuple.Uint32:
		return uint32(x), fits(0, math.MaxUint32)
	case tuple.Uint64:
		return uint64(x), fits(0, math.MaxInt64)
	case tuple.Float32:
		return float32(x), nil
	case tuple.Float64:
		return float64(x), nil
	case tuple.Decimal:
		return decimal.NewFromInt(x), nil
	case tuple.Duration:
		return nil, fmt.Errorf("use a duration string such as '%ss' for %s", strconv.FormatInt(x, 10), t)
	}
	return nil, fmt.Errorf("cannot use %d as %s", x, t)
}
