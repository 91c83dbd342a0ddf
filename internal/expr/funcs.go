package expr

import (
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/roach88/tuplex/internal/tuple"
)

type builtin struct {
	result func(args []reflect.Type) (reflect.Type, error)
	fn     func(args []any) (any, error)
}

var builtins = map[string]builtin{
	"lower": {
		result: stringFunc("lower"),
		fn: func(args []any) (any, error) {
			if args[0] == nil {
				return nil, nil
			}
			return cases.Lower(language.Und).String(args[0].(string)), nil
		},
	},
	"upper": {
		result: stringFunc("upper"),
		fn: func(args []any) (any, error) {
			if args[0] == nil {
				return nil, nil
			}
			return cases.Upper(language.Und).String(args[0].(string)), nil
		},
	},
	"length": {
		result: func(args []reflect.Type) (reflect.Type, error) {
			if _, err := stringFunc("length")(args); err != nil {
				return nil, err
			}
			return tuple.Int64, nil
		},
		fn: func(args []any) (any, error) {
			if args[0] == nil {
				return nil, nil
			}
			return int64(utf8.RuneCountInString(args[0].(string))), nil
		},
	},
	"coalesce": {
		result: func(args []reflect.Type) (reflect.Type, error) {
			if len(args) == 0 {
				return nil, fmt.Errorf("coalesce needs at least one argument")
			}
			var t reflect.Type
			for _, a := range args {
				switch {
				case a == nil:
				case t == nil:
					t = a
				case a != t:
					return nil, fmt.Errorf("coalesce arguments differ in type: %s and %s", t, a)
				}
			}
			return t, nil
		},
		fn: func(args []any) (any, error) {
			for _, a := range args {
				if a != nil {
					return a, nil
				}
			}
			return nil, nil
		},
	},
}

func stringFunc(name string) func([]reflect.Type) (reflect.Type, error) {
	return func(args []reflect.Type) (reflect.Type, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("%s takes one argument, got %d", name, len(args))
		}
		if args[0] != nil && args[0] != tuple.String {
			return nil, fmt.Errorf("%s takes a string, got %s", name, args[0])
		}
		return tuple.String, nil
	}
}

// Call returns a call of the builtin function name: lower, upper, length or
// coalesce. Names are case-insensitive.
func Call(name string, args ...Expr) (Func, error) {
	name = strings.ToLower(name)
	b, ok := builtins[name]
	if !ok {
		return Func{}, ErrType.New(fmt.Sprintf("unknown function %s", name))
	}
	return Func{Name: name, Args: args, Result: b.result, Fn: b.fn}, nil
}

// IsBuiltin reports whether f is a builtin created by Call.
func IsBuiltin(f Func) bool {
	_, ok := builtins[f.Name]
	return ok && f.Fn != nil
}
