package querysql

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tuplex/internal/expr"
	"github.com/roach88/tuplex/internal/header"
	"github.com/roach88/tuplex/internal/provider"
	"github.com/roach88/tuplex/internal/tuple"
)

var (
	customersInfo = &provider.IndexInfo{
		Name: "customers",
		Header: header.MustNew([]header.Column{
			header.Mapped("id", tuple.Int64, header.ModelRef{Table: "customers", Column: "id"}),
			header.Mapped("name", tuple.String, header.ModelRef{Table: "customers", Column: "name"}),
			header.Mapped("city", tuple.String, header.ModelRef{Table: "customers", Column: "city"}),
		}, nil, header.Ordering{header.Asc(0)}),
	}

	ordersInfo = &provider.IndexInfo{
		Name: "orders",
		Header: header.MustNew([]header.Column{
			header.Mapped("id", tuple.Int64, header.ModelRef{Table: "orders", Column: "id"}),
			header.Mapped("customer", tuple.Int64, header.ModelRef{Table: "orders", Column: "customer"}),
			header.Mapped("total", tuple.Decimal, header.ModelRef{Table: "orders", Column: "total"}),
		}, nil, header.Ordering{header.Asc(0)}),
	}
)

func customers() provider.Provider { return provider.MustIndex(customersInfo) }
func orders() provider.Provider    { return provider.MustIndex(ordersInfo) }

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func eq(left, right expr.Expr) expr.Expr {
	return expr.Compare{Op: expr.Eq, Left: left, Right: right}
}

func TestCompile_Filter(t *testing.T) {
	p := must(provider.NewFilter(customers(), eq(expr.Col(2), expr.Untyped("Oslo"))))

	q, err := NewSQLCompiler().Compile(p)
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT * FROM (SELECT * FROM (SELECT c0, c1, c2 FROM "customers") AS t1 WHERE (t1.c2 = ?)) AS t2 ORDER BY t2.c0 ASC`,
		q.SQL)
	// Values are never interpolated.
	assert.NotContains(t, q.SQL, "Oslo")
	assert.Equal(t, []Arg{{Type: tuple.String, Value: "Oslo"}}, q.Args)
}

func TestCompile_Join(t *testing.T) {
	p := must(provider.NewJoin(customers(), orders(), provider.JoinLeftOuter, provider.IndexPair{Left: 0, Right: 1}))

	q, err := NewSQLCompiler().Compile(p)
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT * FROM (SELECT t1.c0 AS c0, t1.c1 AS c1, t1.c2 AS c2, t2.c0 AS c3, t2.c1 AS c4, t2.c2 AS c5 `+
			`FROM (SELECT c0, c1, c2 FROM "customers") AS t1 LEFT JOIN (SELECT c0, c1, c2 FROM "orders") AS t2 `+
			`ON t1.c0 = t2.c1) AS t3 ORDER BY t3.c0 ASC`,
		q.SQL)
	assert.Empty(t, q.Args)
}

func TestCompile_OrderByMandatoryForOrderedRoots(t *testing.T) {
	testCases := []struct {
		name  string
		query provider.Provider
		order string
	}{
		{
			name:  "index order",
			query: customers(),
			order: " ORDER BY t1.c0 ASC",
		},
		{
			name:  "sort with strings compared bytewise",
			query: must(provider.NewSort(customers(), header.Ordering{header.Desc(1), header.Asc(0)})),
			order: " ORDER BY t2.c1 COLLATE BINARY DESC, t2.c0 ASC",
		},
		{
			name:  "unordered root",
			query: must(provider.NewSelect(customers(), 2)),
			order: "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			q, err := NewSQLCompiler().Compile(tc.query)
			require.NoError(t, err)
			if tc.order == "" {
				assert.NotContains(t, q.SQL, "ORDER BY")
				return
			}
			assert.True(t, strings.HasSuffix(q.SQL, tc.order), q.SQL)
		})
	}
}

func TestCompile_Operators(t *testing.T) {
	count := must(provider.NewAggregate(customers(), []int{2},
		provider.AggregateColumn{Name: "n", Source: -1, Type: provider.AggregateCount},
		provider.AggregateColumn{Name: "first", Source: 1, Type: provider.AggregateMin},
	))

	testCases := []struct {
		name     string
		query    provider.Provider
		contains []string
	}{
		{
			name:     "select",
			query:    must(provider.NewSelect(customers(), 2, 0)),
			contains: []string{"SELECT t1.c2 AS c0, t1.c0 AS c1 FROM (SELECT c0, c1, c2 FROM \"customers\") AS t1"},
		},
		{
			name:  "aggregate",
			query: count,
			contains: []string{
				"SELECT t1.c2 AS c0, COUNT(*) AS c1, MIN(t1.c1) AS c2 FROM (SELECT c0, c1, c2 FROM \"customers\") AS t1 GROUP BY t1.c2",
			},
		},
		{
			name:     "aggregate without groups",
			query:    must(provider.NewAggregate(orders(), nil, provider.AggregateColumn{Name: "n", Source: 0, Type: provider.AggregateCount})),
			contains: []string{"SELECT COUNT(t1.c0) AS c0 FROM (SELECT c0, c1, c2 FROM \"orders\") AS t1) AS t2"},
		},
		{
			name:     "distinct",
			query:    must(provider.NewDistinct(customers())),
			contains: []string{"SELECT DISTINCT * FROM (SELECT c0, c1, c2 FROM \"customers\") AS t1"},
		},
		{
			name:     "row number follows source order",
			query:    must(provider.NewRowNumber(customers(), "rn")),
			contains: []string{"SELECT t1.*, ROW_NUMBER() OVER (ORDER BY t1.c0 ASC) AS c3 FROM"},
		},
		{
			name:     "row number over unordered source",
			query:    must(provider.NewRowNumber(count, "rn")),
			contains: []string{"ROW_NUMBER() OVER () AS c3"},
		},
		{
			name:     "existence",
			query:    must(provider.NewExistence(customers(), "any")),
			contains: []string{"SELECT EXISTS (SELECT c0, c1, c2 FROM \"customers\") AS c0"},
		},
		{
			name:     "paging",
			query:    must(provider.NewPaging(customers(), provider.Const(1), provider.Const(2))),
			contains: []string{"AS t1 ORDER BY t1.c0 ASC LIMIT ? OFFSET ?"},
		},
		{
			name:     "skip",
			query:    must(provider.NewSkip(customers(), provider.Const(1))),
			contains: []string{"LIMIT -1 OFFSET ?"},
		},
		{
			name:     "union",
			query:    must(provider.NewUnion(must(provider.NewSelect(customers(), 0)), must(provider.NewSelect(orders(), 1)))),
			contains: []string{") AS t3 UNION SELECT * FROM (", ") AS t4) AS t5"},
		},
		{
			name:     "concat",
			query:    must(provider.NewConcat(customers(), customers())),
			contains: []string{" UNION ALL "},
		},
		{
			name:     "except",
			query:    must(provider.NewExcept(customers(), customers())),
			contains: []string{" EXCEPT "},
		},
		{
			name:     "intersect",
			query:    must(provider.NewIntersect(customers(), customers())),
			contains: []string{" INTERSECT "},
		},
		{
			name: "predicate join resolves both sides",
			query: must(provider.NewPredicateJoin(customers(), orders(), provider.JoinInner,
				expr.Compare{Op: expr.Lt, Left: expr.Col(0), Right: expr.Col(4)})),
			contains: []string{" JOIN (SELECT c0, c1, c2 FROM \"orders\") AS t2 ON (t1.c0 < t2.c1)"},
		},
		{
			name: "calculate",
			query: must(provider.NewCalculate(customers(),
				provider.CalculatedColumn{Name: "label", Expr: expr.Arith{Op: expr.Add, Left: expr.Col(1), Right: expr.Col(2)}},
				provider.CalculatedColumn{Name: "missing", Expr: expr.IsNull{Operand: expr.Col(2)}},
			)),
			contains: []string{"SELECT t1.*, (t1.c1 || t1.c2) AS c3, (t1.c2 IS NULL) AS c4 FROM"},
		},
		{
			name:     "reindex and alias add nothing",
			query:    must(provider.NewAlias(must(provider.NewReindex(customers(), header.Ordering{header.Asc(1)})), "c")),
			contains: []string{`SELECT * FROM (SELECT c0, c1, c2 FROM "customers") AS t1 ORDER BY t1.c1 COLLATE BINARY ASC`},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			q, err := NewSQLCompiler().Compile(tc.query)
			require.NoError(t, err)
			for _, want := range tc.contains {
				assert.Contains(t, q.SQL, want)
			}
		})
	}
}

func TestCompile_ArgsFollowPlaceholderOrder(t *testing.T) {
	oslo := must(provider.NewFilter(customers(), eq(expr.Col(2), expr.Param{Name: "city", Type: tuple.String})))
	calc := must(provider.NewCalculate(oslo, provider.CalculatedColumn{
		Name: "score",
		Expr: expr.Arith{Op: expr.Mul, Left: expr.Col(0), Right: expr.Untyped(int64(10))},
	}))
	top := must(provider.NewTake(calc, func() int { return 3 }))

	q, err := NewSQLCompiler().Compile(top)
	require.NoError(t, err)
	assert.Contains(t, q.SQL, "SELECT t2.*, (t2.c0 * ?) AS c3 FROM (SELECT * FROM (SELECT c0, c1, c2 FROM \"customers\") AS t1 WHERE (t1.c2 = ?)) AS t2")

	args, err := q.Bind(map[string]any{"city": "Oslo"})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(10), "Oslo", int64(3)}, args)
}

func TestQuery_Bind(t *testing.T) {
	q := &Query{Args: []Arg{
		{Count: provider.Const(-4)},
		{Type: tuple.Int32, Param: "n"},
		{Type: tuple.Bool, Value: true},
	}}

	args, err := q.Bind(map[string]any{"n": int64(7)})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(0), int32(7), true}, args)

	args, err = q.Bind(map[string]any{"n": nil})
	require.NoError(t, err)
	assert.Nil(t, args[1])

	_, err = q.Bind(nil)
	assert.True(t, IsParamError(err))
	assert.EqualError(t, err, "parameter $n: not set")

	_, err = q.Bind(map[string]any{"n": "seven"})
	assert.True(t, IsParamError(err))
}

func TestCompile_Unsupported(t *testing.T) {
	param := provider.NewApplyParameter("c", customers())
	raw := must(provider.RawOf(header.FromDescriptor(tuple.Create(tuple.Int64))))

	testCases := []struct {
		name  string
		query provider.Provider
	}{
		{name: "raw without table", query: raw},
		{name: "store", query: must(provider.NewStore(customers(), "s"))},
		{name: "seek", query: must(provider.NewSeek(customers(), func() tuple.Tuple { return tuple.Of(int64(1)) }))},
		{name: "include", query: must(provider.NewInclude(customers(), []int{0}, func() []tuple.Tuple { return nil }, "m"))},
		{name: "apply", query: must(provider.NewApply(param, customers(), orders(), provider.ApplyCross, provider.SequenceAll))},
		{name: "decimal aggregate", query: must(provider.NewAggregate(orders(), nil, provider.AggregateColumn{Name: "s", Source: 2, Type: provider.AggregateSum}))},
		{name: "decimal ordering", query: must(provider.NewSort(orders(), header.Ordering{header.Asc(2)}))},
		{name: "decimal comparison", query: must(provider.NewFilter(orders(), expr.Compare{Op: expr.Gt, Left: expr.Col(2), Right: expr.Untyped("5")}))},
		{name: "decimal arithmetic", query: must(provider.NewCalculate(orders(), provider.CalculatedColumn{
			Name: "x", Expr: expr.Arith{Op: expr.Add, Left: expr.Col(2), Right: expr.Col(2)},
		}))},
		{name: "nested under a supported node", query: must(provider.NewTake(raw, provider.Const(1)))},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSQLCompiler().Compile(tc.query)
			require.Error(t, err)
			assert.True(t, provider.IsUnsupported(err), "got %v", err)
		})
	}
}

func TestCompile_RawWithTable(t *testing.T) {
	raw := must(provider.RawOf(header.FromDescriptor(tuple.Create(tuple.Int64))))
	c := NewSQLCompiler()
	c.Tables[raw] = "tmp_rows"

	q, err := c.Compile(raw)
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM (SELECT c0 FROM "tmp_rows") AS t1`, q.SQL)
}

func TestCompile_DecimalEquality(t *testing.T) {
	p := must(provider.NewFilter(orders(), eq(expr.Col(2), expr.Untyped("5.50"))))
	q, err := NewSQLCompiler().Compile(p)
	require.NoError(t, err)
	require.Len(t, q.Args, 1)
	assert.Equal(t, tuple.Decimal, q.Args[0].Type)
}

func TestIdent(t *testing.T) {
	assert.Equal(t, `"orders"`, Ident("orders"))
	assert.Equal(t, `"a""b"`, Ident(`a"b`))
}
