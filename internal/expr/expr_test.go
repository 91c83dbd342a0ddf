package expr

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tuplex/internal/tuple"
)

var rowDesc = tuple.Create(tuple.Int32, tuple.String, tuple.Decimal, tuple.Bool)

func row(values ...any) *Env {
	return &Env{Row: tuple.MustFromValues(rowDesc, values...)}
}

func TestBind_CoercesUntypedLiterals(t *testing.T) {
	bound, typ, err := Bind(Compare{Op: Gt, Left: Col(0), Right: Untyped(int64(5))}, rowDesc)
	require.NoError(t, err)
	assert.Equal(t, tuple.Bool, typ)

	lit := bound.(Compare).Right.(Literal)
	assert.Equal(t, int32(5), lit.Value)
	assert.Equal(t, tuple.Int32, lit.Type)

	bound, _, err = Bind(Compare{Op: Eq, Left: Untyped("1.25"), Right: Col(2)}, rowDesc)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1.25").Equal(bound.(Compare).Left.(Literal).Value.(decimal.Decimal)))
}

func TestBind_Errors(t *testing.T) {
	testCases := []struct {
		name string
		expr Expr
	}{
		{name: "column out of range", expr: Col(9)},
		{name: "type mismatch", expr: Compare{Op: Eq, Left: Col(0), Right: Col(1)}},
		{name: "literal overflow", expr: Compare{Op: Eq, Left: Col(0), Right: Untyped(int64(1) << 40)}},
		{name: "bad literal text", expr: Compare{Op: Eq, Left: Col(2), Right: Untyped("abc")}},
		{name: "and of non-bool", expr: And{Left: Col(0), Right: Col(3)}},
		{name: "arith on bool", expr: Arith{Op: Add, Left: Col(3), Right: Col(3)}},
		{name: "unbound outer", expr: Outer{Index: 0}},
		{name: "untyped param", expr: Param{Name: "p"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Bind(tc.expr, rowDesc)
			require.Error(t, err)
			assert.True(t, IsTypeError(err), "got %v", err)
		})
	}

	_, err := BindPredicate(Col(0), rowDesc)
	assert.True(t, IsTypeError(err))
}

func TestCompilePredicate(t *testing.T) {
	testCases := []struct {
		name string
		expr Expr
		env  *Env
		want bool
	}{
		{name: "greater", expr: Compare{Op: Gt, Left: Col(0), Right: Untyped(int64(5))}, env: row(int32(7), "a", nil, true), want: true},
		{name: "not greater", expr: Compare{Op: Gt, Left: Col(0), Right: Untyped(int64(5))}, env: row(int32(3), "a", nil, true)},
		{name: "null compare is not true", expr: Compare{Op: Eq, Left: Col(0), Right: Untyped(int64(5))}, env: row(nil, "a", nil, true)},
		{name: "not of null stays null", expr: Not{Operand: Compare{Op: Eq, Left: Col(0), Right: Untyped(int64(5))}}, env: row(nil, "a", nil, true)},
		{name: "is null", expr: IsNull{Operand: Col(2)}, env: row(int32(1), "a", nil, true), want: true},
		{name: "and short circuits false", expr: And{Left: Col(3), Right: IsNull{Operand: Col(0)}}, env: row(int32(1), "a", nil, false)},
		{name: "or with null", expr: Or{Left: Compare{Op: Eq, Left: Col(0), Right: Untyped(int64(1))}, Right: Col(3)}, env: row(nil, "a", nil, true), want: true},
		{name: "string equality", expr: Compare{Op: Eq, Left: Col(1), Right: Untyped("a")}, env: row(int32(1), "a", nil, true), want: true},
		{name: "arith", expr: Compare{Op: Eq, Left: Arith{Op: Mul, Left: Col(0), Right: Untyped(int64(2))}, Right: Untyped(int64(8))}, env: row(int32(4), "", nil, true), want: true},
		{name: "bool literal", expr: Untyped(true), env: row(nil, nil, nil, nil), want: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pred, err := CompilePredicate(tc.expr, rowDesc)
			require.NoError(t, err)
			got, err := pred(tc.env)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCompile_Arith(t *testing.T) {
	ev, typ, err := Compile(Arith{Op: Add, Left: Col(2), Right: Untyped("0.5")}, rowDesc)
	require.NoError(t, err)
	assert.Equal(t, tuple.Decimal, typ)

	v, err := ev(row(int32(1), "a", decimal.RequireFromString("1.25"), true))
	require.NoError(t, err)
	assert.Equal(t, "1.75", v.(decimal.Decimal).String())

	v, err = ev(row(int32(1), "a", nil, true))
	require.NoError(t, err)
	assert.Nil(t, v)

	div, _, err := Compile(Arith{Op: Div, Left: Col(0), Right: Untyped(int64(0))}, rowDesc)
	require.NoError(t, err)
	_, err = div(row(int32(1), "a", nil, true))
	assert.True(t, IsEvalError(err))
}

func TestCompile_OuterAndParams(t *testing.T) {
	outerDesc := tuple.Create(tuple.Int32)
	binding := NewBinding("outer", outerDesc)

	e := And{
		Left:  Compare{Op: Eq, Left: Col(0), Right: Outer{Binding: binding, Index: 0}},
		Right: Compare{Op: Eq, Left: Col(1), Right: Param{Name: "name", Type: tuple.String}},
	}
	pred, err := CompilePredicate(e, rowDesc)
	require.NoError(t, err)

	env := row(int32(3), "bob", nil, true)
	env.Outer = map[*Binding]tuple.Tuple{binding: tuple.Of(int32(3))}
	env.Params = map[string]any{"name": "bob"}

	ok, err := pred(env)
	require.NoError(t, err)
	assert.True(t, ok)

	env.Params = nil
	_, err = pred(env)
	assert.True(t, IsEvalError(err))

	assert.Equal(t, []*Binding{binding}, Bindings(e))
	assert.Equal(t, []int{0, 1}, Columns(e))
}

func TestCall_Builtins(t *testing.T) {
	lower, err := Call("LOWER", Col(1))
	require.NoError(t, err)
	length, err := Call("length", Col(1))
	require.NoError(t, err)
	coalesce, err := Call("coalesce", Col(1), Untyped("none"))
	require.NoError(t, err)

	env := row(int32(1), "HeLLo", nil, true)
	for _, tc := range []struct {
		fn   Func
		want any
	}{
		{fn: lower, want: "hello"},
		{fn: length, want: int64(5)},
		{fn: coalesce, want: "HeLLo"},
	} {
		ev, _, err := Compile(tc.fn, rowDesc)
		require.NoError(t, err)
		got, err := ev(env)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, tc.fn.Name)
	}

	_, err = Call("nope")
	assert.True(t, IsTypeError(err))

	_, _, err = Compile(lower, tuple.Create(tuple.Int32, tuple.Int32))
	assert.True(t, IsTypeError(err))
}

func TestString(t *testing.T) {
	e := Or{
		Left:  And{Left: Compare{Op: Ge, Left: Col(0), Right: Lit(int32(5))}, Right: Not{Operand: IsNull{Operand: Col(1)}}},
		Right: Compare{Op: Eq, Left: Col(1), Right: Lit("it's")},
	}
	assert.Equal(t, "(((c0 >= 5) AND (NOT (c1 IS NULL))) OR (c1 == 'it''s'))", e.String())
}

func TestMapColumns(t *testing.T) {
	e := Compare{Op: Lt, Left: Col(0), Right: Arith{Op: Add, Left: Col(2), Right: Lit(int32(1))}}
	shifted := MapColumns(e, func(i int) int { return i + 10 })
	assert.Equal(t, "(c10 < (c12 + 1))", shifted.String())
}
