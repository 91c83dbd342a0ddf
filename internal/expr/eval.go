package expr

import (
	"fmt"
	"reflect"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/tuplex/internal/tuple"
)

// Env is the evaluation environment of one row.
type Env struct {
	Row    tuple.Tuple
	Outer  map[*Binding]tuple.Tuple
	Params map[string]any
}

// Evaluator computes an expression for an environment. A nil result is null.
type Evaluator func(env *Env) (any, error)

// Predicate reports whether a row satisfies a boolean expression.
type Predicate func(env *Env) (bool, error)

// Compile binds e against rows of d and returns its evaluator.
func Compile(e Expr, d *tuple.Descriptor) (Evaluator, reflect.Type, error) {
	bound, t, err := Bind(e, d)
	if err != nil {
		return nil, nil, err
	}
	ev, err := compile(bound)
	if err != nil {
		return nil, nil, err
	}
	return ev, t, nil
}

// CompilePredicate compiles a boolean expression. Null counts as false.
func CompilePredicate(e Expr, d *tuple.Descriptor) (Predicate, error) {
	bound, err := BindPredicate(e, d)
	if err != nil {
		return nil, err
	}
	ev, err := compile(bound)
	if err != nil {
		return nil, err
	}
	return func(env *Env) (bool, error) {
		v, err := ev(env)
		if err != nil {
			return false, err
		}
		b, _ := v.(bool)
		return b, nil
	}, nil
}

func compile(e Expr) (Evaluator, error) {
	switch n := e.(type) {
	case Column:
		idx := n.Index
		return func(env *Env) (any, error) {
			v, _ := env.Row.Value(idx)
			return v, nil
		}, nil

	case Outer:
		binding, idx := n.Binding, n.Index
		return func(env *Env) (any, error) {
			row, ok := env.Outer[binding]
			if !ok {
				return nil, ErrEval.New(fmt.Sprintf("%s is not bound", binding))
			}
			v, _ := row.Value(idx)
			return v, nil
		}, nil

	case Param:
		name, typ := n.Name, n.Type
		return func(env *Env) (any, error) {
			v, ok := env.Params[name]
			if !ok {
				return nil, ErrEval.New(fmt.Sprintf("parameter $%s is not set", name))
			}
			if v != nil && reflect.TypeOf(v) != typ {
				coerced, err := Coerce(v, typ)
				if err != nil {
					return nil, ErrEval.New(fmt.Sprintf("parameter $%s: %v", name, err))
				}
				v = coerced
			}
			return v, nil
		}, nil

	case Literal:
		v := n.Value
		return func(*Env) (any, error) { return v, nil }, nil

	case Compare:
		return compileCompare(n)

	case And:
		left, right, err := compilePair(n.Left, n.Right)
		if err != nil {
			return nil, err
		}
		return func(env *Env) (any, error) {
			l, err := left(env)
			if err != nil {
				return nil, err
			}
			if l == false {
				return false, nil
			}
			r, err := right(env)
			if err != nil {
				return nil, err
			}
			switch {
			case r == false:
				return false, nil
			case l == nil || r == nil:
				return nil, nil
			}
			return true, nil
		}, nil

	case Or:
		left, right, err := compilePair(n.Left, n.Right)
		if err != nil {
			return nil, err
		}
		return func(env *Env) (any, error) {
			l, err := left(env)
			if err != nil {
				return nil, err
			}
			if l == true {
				return true, nil
			}
			r, err := right(env)
			if err != nil {
				return nil, err
			}
			switch {
			case r == true:
				return true, nil
			case l == nil || r == nil:
				return nil, nil
			}
			return false, nil
		}, nil

	case Not:
		operand, err := compile(n.Operand)
		if err != nil {
			return nil, err
		}
		return func(env *Env) (any, error) {
			v, err := operand(env)
			if err != nil || v == nil {
				return nil, err
			}
			return !v.(bool), nil
		}, nil

	case IsNull:
		operand, err := compile(n.Operand)
		if err != nil {
			return nil, err
		}
		return func(env *Env) (any, error) {
			v, err := operand(env)
			if err != nil {
				return nil, err
			}
			return v == nil, nil
		}, nil

	case Arith:
		left, right, err := compilePair(n.Left, n.Right)
		if err != nil {
			return nil, err
		}
		op := n.Op
		return func(env *Env) (any, error) {
			l, r, err := evalPair(env, left, right)
			if err != nil || l == nil || r == nil {
				return nil, err
			}
			return arith(op, l, r)
		}, nil

	case Func:
		args := make([]Evaluator, len(n.Args))
		for i, a := range n.Args {
			ev, err := compile(a)
			if err != nil {
				return nil, err
			}
			args[i] = ev
		}
		fn, name := n.Fn, n.Name
		return func(env *Env) (any, error) {
			values := make([]any, len(args))
			for i, a := range args {
				v, err := a(env)
				if err != nil {
					return nil, err
				}
				values[i] = v
			}
			out, err := fn(values)
			if err != nil {
				return nil, ErrEval.New(fmt.Sprintf("%s: %v", name, err))
			}
			return out, nil
		}, nil
	}
	return nil, ErrType.New(fmt.Sprintf("unknown expression %T", e))
}

func compilePair(l, r Expr) (Evaluator, Evaluator, error) {
	left, err := compile(l)
	if err != nil {
		return nil, nil, err
	}
	right, err := compile(r)
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

func evalPair(env *Env, left, right Evaluator) (any, any, error) {
	l, err := left(env)
	if err != nil {
		return nil, nil, err
	}
	r, err := right(env)
	if err != nil {
		return nil, nil, err
	}
	return l, r, nil
}

func compileCompare(n Compare) (Evaluator, error) {
	left, right, err := compilePair(n.Left, n.Right)
	if err != nil {
		return nil, err
	}
	op := n.Op
	return func(env *Env) (any, error) {
		l, r, err := evalPair(env, left, right)
		if err != nil || l == nil || r == nil {
			return nil, err
		}
		t := reflect.TypeOf(l)
		if reflect.TypeOf(r) != t {
			return nil, ErrEval.New(fmt.Sprintf("cannot compare %T with %T", l, r))
		}
		switch op {
		case Eq:
			return tuple.EqualValues(t, l, r), nil
		case Ne:
			return !tuple.EqualValues(t, l, r), nil
		}
		c, ok := tuple.CompareValues(t, l, r)
		if !ok {
			return nil, ErrEval.New(fmt.Sprintf("%s is not orderable", t))
		}
		switch op {
		case Lt:
			return c < 0, nil
		case Le:
			return c <= 0, nil
		case Gt:
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	}, nil
}

type integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

func intArith[T integer](op ArithOp, a, b T) (any, error) {
	switch op {
	case Add:
		return a + b, nil
	case Sub:
		return a - b, nil
	case Mul:
		return a * b, nil
	default:
		if b == 0 {
			return nil, ErrEval.New("division by zero")
		}
		return a / b, nil
	}
}

func floatArith[T float32 | float64](op ArithOp, a, b T) (any, error) {
	switch op {
	case Add:
		return a + b, nil
	case Sub:
		return a - b, nil
	case Mul:
		return a * b, nil
	default:
		return a / b, nil
	}
}

func arith(op ArithOp, l, r any) (any, error) {
	if reflect.TypeOf(l) != reflect.TypeOf(r) {
		return nil, ErrEval.New(fmt.Sprintf("cannot apply %s to %T and %T", op, l, r))
	}
	switch a := l.(type) {
	case int8:
		return intArith(op, a, r.(int8))
	case int16:
		return intArith(op, a, r.(int16))
	case int32:
		return intArith(op, a, r.(int32))
	case int64:
		return intArith(op, a, r.(int64))
	case uint8:
		return intArith(op, a, r.(uint8))
	case uint16:
		return intArith(op, a, r.(uint16))
	case uint32:
		return intArith(op, a, r.(uint32))
	case uint64:
		return intArith(op, a, r.(uint64))
	case float32:
		return floatArith(op, a, r.(float32))
	case float64:
		return floatArith(op, a, r.(float64))
	case time.Duration:
		return intArith(op, a, r.(time.Duration))
	case decimal.Decimal:
		b := r.(decimal.Decimal)
		switch op {
		case Add:
			return a.Add(b), nil
		case Sub:
			return a.Sub(b), nil
		case Mul:
			return a.Mul(b), nil
		default:
			if b.IsZero() {
				return nil, ErrEval.New("division by zero")
			}
			return a.Div(b), nil
		}
	case string:
		if op == Add {
			return a + r.(string), nil
		}
	}
	return nil, ErrEval.New(fmt.Sprintf("operator %s is not defined for %T", op, l))
}
