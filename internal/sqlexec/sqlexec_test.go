package sqlexec

import (
	"context"
	"fmt"
	"iter"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tuplex/internal/exec"
	"github.com/roach88/tuplex/internal/expr"
	"github.com/roach88/tuplex/internal/header"
	"github.com/roach88/tuplex/internal/memexec"
	"github.com/roach88/tuplex/internal/memindex"
	"github.com/roach88/tuplex/internal/provider"
	"github.com/roach88/tuplex/internal/store"
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

	customerRows = []string{"3,cid,Oslo", "1,ann,Oslo", "4,dan,null", "2,bob,Rome"}
	orderRows    = []string{"10,1,5.50", "11,1,4.50", "12,3,10", "13,9,1"}
)

func parseAll(d *tuple.Descriptor, text []string) []tuple.Tuple {
	out := make([]tuple.Tuple, len(text))
	for i, s := range text {
		out[i] = tuple.MustParse(d, s)
	}
	return out
}

// openStore creates a store holding the customers and orders indexes.
func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.CreateIndex(ctx, customersInfo, parseAll(customersInfo.Header.Descriptor(), customerRows)...))
	require.NoError(t, s.CreateIndex(ctx, ordersInfo, parseAll(ordersInfo.Header.Descriptor(), orderRows)...))
	return s
}

// memCatalog holds the same rows as openStore.
func memCatalog(t *testing.T) *memindex.Catalog {
	t.Helper()
	c := memindex.NewCatalog()
	_, err := c.Create(customersInfo, parseAll(customersInfo.Header.Descriptor(), customerRows)...)
	require.NoError(t, err)
	_, err = c.Create(ordersInfo, parseAll(ordersInfo.Header.Descriptor(), orderRows)...)
	require.NoError(t, err)
	return c
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func customers() provider.Provider { return provider.MustIndex(customersInfo) }
func orders() provider.Provider    { return provider.MustIndex(ordersInfo) }

func eq(left, right expr.Expr) expr.Expr {
	return expr.Compare{Op: expr.Eq, Left: left, Right: right}
}

func run(t *testing.T, c exec.Compiler, p provider.Provider, params map[string]any) ([]string, error) {
	t.Helper()
	rows, err := exec.Run(context.Background(), c, p, params)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		require.True(t, r.Descriptor().Equal(p.Header().Descriptor()), "row %d descriptor", i)
		out[i] = tuple.Format(r)
	}
	return out, nil
}

func TestCompile_AgreesWithMemory(t *testing.T) {
	oslo := must(provider.NewFilter(customers(), eq(expr.Col(2), expr.Untyped("Oslo"))))
	none := must(provider.NewFilter(customers(), expr.Untyped(false)))
	cities := must(provider.NewSelect(customers(), 2))
	other := must(provider.RawOf(header.FromDescriptor(tuple.Create(tuple.String)),
		parseAll(tuple.Create(tuple.String), []string{"Rome", "Paris", "Paris"})...))

	testCases := []struct {
		name   string
		query  provider.Provider
		params map[string]any
	}{
		{name: "index scan", query: customers()},
		{name: "filter", query: oslo},
		{
			name:   "filter with parameter",
			query:  must(provider.NewFilter(customers(), eq(expr.Col(2), expr.Param{Name: "city", Type: tuple.String}))),
			params: map[string]any{"city": "Rome"},
		},
		{name: "null never equals", query: must(provider.NewFilter(customers(), expr.Compare{Op: expr.Ne, Left: expr.Col(2), Right: expr.Untyped("Oslo")}))},
		{name: "is null", query: must(provider.NewFilter(customers(), expr.IsNull{Operand: expr.Col(2)}))},
		{
			name: "or and not",
			query: must(provider.NewFilter(customers(), expr.Or{
				Left:  eq(expr.Col(1), expr.Untyped("bob")),
				Right: expr.Not{Operand: expr.Compare{Op: expr.Lt, Left: expr.Col(0), Right: expr.Untyped(int64(4))}},
			})),
		},
		{
			name: "calculate",
			query: must(provider.NewCalculate(oslo, provider.CalculatedColumn{
				Name: "score",
				Expr: expr.Arith{Op: expr.Mul, Left: expr.Col(0), Right: expr.Untyped(int64(10))},
			})),
		},
		{
			name: "calculate with builtins",
			query: must(provider.NewCalculate(customers(),
				provider.CalculatedColumn{Name: "upper", Expr: must(expr.Call("upper", expr.Col(1)))},
				provider.CalculatedColumn{Name: "city", Expr: must(expr.Call("coalesce", expr.Col(2), expr.Untyped("?")))},
				provider.CalculatedColumn{Name: "label", Expr: expr.Arith{Op: expr.Add, Left: expr.Col(1), Right: expr.Untyped("!")}},
			)),
		},
		{name: "select with repeats", query: must(provider.NewSelect(oslo, 1, 0, 1))},
		{name: "sort descending", query: must(provider.NewSort(customers(), header.Ordering{header.Desc(1)}))},
		{name: "sort puts nulls first", query: must(provider.NewSort(customers(), header.Ordering{header.Asc(2), header.Desc(0)}))},
		{name: "reindex and alias", query: must(provider.NewAlias(must(provider.NewReindex(customers(), header.Ordering{header.Asc(1)})), "c"))},
		{name: "take", query: must(provider.NewTake(customers(), provider.Const(2)))},
		{name: "skip", query: must(provider.NewSkip(customers(), provider.Const(3)))},
		{name: "paging", query: must(provider.NewPaging(customers(), provider.Const(1), provider.Const(2)))},
		{name: "negative take", query: must(provider.NewTake(customers(), provider.Const(-1)))},
		{name: "distinct", query: must(provider.NewDistinct(cities))},
		{
			name: "aggregate by group",
			query: must(provider.NewAggregate(customers(), []int{2},
				provider.AggregateColumn{Name: "n", Source: -1, Type: provider.AggregateCount},
				provider.AggregateColumn{Name: "first", Source: 1, Type: provider.AggregateMin},
			)),
		},
		{
			name: "aggregate without groups",
			query: must(provider.NewAggregate(orders(), nil,
				provider.AggregateColumn{Name: "n", Source: -1, Type: provider.AggregateCount},
				provider.AggregateColumn{Name: "ids", Source: 0, Type: provider.AggregateSum},
				provider.AggregateColumn{Name: "mean", Source: 1, Type: provider.AggregateAvg},
				provider.AggregateColumn{Name: "max", Source: 1, Type: provider.AggregateMax},
			)),
		},
		{
			name: "aggregate of empty input",
			query: must(provider.NewAggregate(none, nil,
				provider.AggregateColumn{Name: "n", Source: -1, Type: provider.AggregateCount},
				provider.AggregateColumn{Name: "named", Source: 1, Type: provider.AggregateCount},
				provider.AggregateColumn{Name: "sum", Source: 0, Type: provider.AggregateSum},
			)),
		},
		{name: "count skips nulls", query: must(provider.NewAggregate(customers(), nil, provider.AggregateColumn{Name: "n", Source: 2, Type: provider.AggregateCount}))},
		{name: "row number", query: must(provider.NewRowNumber(oslo, "rn"))},
		{name: "existence", query: must(provider.NewConcat(must(provider.NewExistence(oslo, "e")), must(provider.NewExistence(none, "e"))))},
		{name: "inner join", query: must(provider.NewJoin(customers(), orders(), provider.JoinInner, provider.IndexPair{Left: 0, Right: 1}))},
		{name: "left outer join", query: must(provider.NewJoin(customers(), orders(), provider.JoinLeftOuter, provider.IndexPair{Left: 0, Right: 1}))},
		{name: "join on nullable column", query: must(provider.NewJoin(customers(), customers(), provider.JoinInner, provider.IndexPair{Left: 2, Right: 2}))},
		{
			name: "predicate join",
			query: must(provider.NewPredicateJoin(customers(), orders(), provider.JoinLeftOuter, expr.And{
				Left:  eq(expr.Col(0), expr.Col(4)),
				Right: expr.Compare{Op: expr.Gt, Left: expr.Col(3), Right: expr.Untyped(int64(10))},
			})),
		},
		{name: "decimal equality", query: must(provider.NewFilter(orders(), eq(expr.Col(2), expr.Untyped("10"))))},
		{name: "union", query: must(provider.NewUnion(cities, other))},
		{name: "concat", query: must(provider.NewConcat(cities, other))},
		{name: "except", query: must(provider.NewExcept(cities, other))},
		{name: "intersect", query: must(provider.NewIntersect(cities, other))},
	}

	s := openStore(t)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			want, err := run(t, memexec.New(memCatalog(t)), tc.query, tc.params)
			require.NoError(t, err)
			got, err := run(t, New(s), tc.query, tc.params)
			require.NoError(t, err)
			assert.ElementsMatch(t, want, got)
		})
	}
}

func TestCompile_OrderedRoots(t *testing.T) {
	testCases := []struct {
		name  string
		query provider.Provider
		want  []string
	}{
		{
			name:  "index key order",
			query: customers(),
			want:  []string{"1,ann,Oslo", "2,bob,Rome", "3,cid,Oslo", "4,dan,null"},
		},
		{
			name:  "sort with nulls first",
			query: must(provider.NewSort(customers(), header.Ordering{header.Asc(2), header.Desc(0)})),
			want:  []string{"4,dan,null", "3,cid,Oslo", "1,ann,Oslo", "2,bob,Rome"},
		},
		{
			name:  "paging keeps order",
			query: must(provider.NewPaging(must(provider.NewSort(customers(), header.Ordering{header.Desc(1)})), provider.Const(1), provider.Const(2))),
			want:  []string{"3,cid,Oslo", "2,bob,Rome"},
		},
	}

	s := openStore(t)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := run(t, New(s), tc.query, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCompile_RawLeavesUseTempTables(t *testing.T) {
	s := openStore(t)
	d := tuple.Create(tuple.Int64, tuple.String)
	calls := 0
	raw := must(provider.NewRaw(header.FromDescriptor(d), func() iter.Seq[tuple.Tuple] {
		calls++
		return slices.Values(parseAll(d, []string{"1,gold", "3,silver"}))
	}))
	tree := must(provider.NewJoin(customers(), raw, provider.JoinInner, provider.IndexPair{Left: 0, Right: 0}))

	compiled, err := New(s).Compile(tree)
	require.NoError(t, err)
	assert.Contains(t, compiled.(*plan).SQL(), `"tmp_`)

	for i := 1; i <= 2; i++ {
		rows, err := exec.Collect(exec.NewContext(context.Background(), nil), compiled)
		require.NoError(t, err)
		got := make([]string, len(rows))
		for j, r := range rows {
			got[j] = tuple.Format(r)
		}
		assert.ElementsMatch(t, []string{"1,ann,Oslo,1,gold", "3,cid,Oslo,3,silver"}, got)
		assert.Equal(t, i, calls)

		var temps int
		require.NoError(t, s.DB().QueryRow("SELECT count(*) FROM sqlite_temp_master WHERE type = 'table'").Scan(&temps))
		assert.Zero(t, temps, "temp tables left after close")
	}
}

func TestCompile_Unsupported(t *testing.T) {
	param := provider.NewApplyParameter("c", customers())
	stored := must(provider.NewStore(customers(), "s"))

	testCases := []struct {
		name  string
		query provider.Provider
	}{
		{name: "seek", query: must(provider.NewSeek(customers(), func() tuple.Tuple { return tuple.Of(int64(1)) }))},
		{name: "include", query: must(provider.NewInclude(customers(), []int{0}, func() []tuple.Tuple { return nil }, "vip"))},
		{name: "store", query: stored},
		{name: "load", query: must(provider.NewLoad(stored))},
		{
			name: "apply",
			query: must(provider.NewApply(param, customers(),
				must(provider.NewFilter(orders(), eq(expr.Col(1), expr.Outer{Binding: param, Index: 0}))),
				provider.ApplyCross, provider.SequenceAll)),
		},
		{name: "decimal ordering", query: must(provider.NewSort(orders(), header.Ordering{header.Desc(2)}))},
		{name: "decimal comparison", query: must(provider.NewFilter(orders(), expr.Compare{Op: expr.Gt, Left: expr.Col(2), Right: expr.Untyped("5")}))},
		{name: "decimal sum", query: must(provider.NewAggregate(orders(), nil, provider.AggregateColumn{Name: "s", Source: 2, Type: provider.AggregateSum}))},
	}

	c := New(openStore(t))
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Compile(tc.query)
			require.Error(t, err)
			assert.True(t, provider.IsUnsupported(err), "got %v", err)
		})
	}
}

func TestCompile_CatalogErrors(t *testing.T) {
	s := openStore(t)

	unknown := &provider.IndexInfo{Name: "missing", Header: customersInfo.Header}
	_, err := New(s).Compile(provider.MustIndex(unknown))
	assert.True(t, store.IsUnknownIndex(err), "got %v", err)

	wrong := &provider.IndexInfo{Name: "customers", Header: ordersInfo.Header}
	_, err = New(s).Compile(provider.MustIndex(wrong))
	assert.True(t, tuple.IsSchemaMismatch(err), "got %v", err)

	_, err = New(s).Compile(nil)
	assert.Error(t, err)
}

func TestOpen_Errors(t *testing.T) {
	s := openStore(t)
	byCity := must(provider.NewFilter(customers(), eq(expr.Col(2), expr.Param{Name: "city", Type: tuple.String})))
	plan, err := New(s).Compile(byCity)
	require.NoError(t, err)

	_, err = exec.Collect(exec.NewContext(context.Background(), nil), plan)
	assert.ErrorContains(t, err, "parameter $city: not set")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = plan.Open(exec.NewContext(ctx, map[string]any{"city": "Oslo"}))
	assert.ErrorIs(t, err, context.Canceled)

	// The connection is released after failed opens.
	got, err := run(t, New(s), byCity, map[string]any{"city": "Oslo"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1,ann,Oslo", "3,cid,Oslo"}, got)
}

func TestRows_Close(t *testing.T) {
	plan, err := New(openStore(t)).Compile(customers())
	require.NoError(t, err)

	rows, err := plan.Open(exec.NewContext(context.Background(), nil))
	require.NoError(t, err)
	require.True(t, rows.Next())
	assert.Equal(t, "1,ann,Oslo", tuple.Format(rows.Tuple()))
	require.NoError(t, rows.Close())
	assert.False(t, rows.Next())
	assert.Nil(t, rows.Tuple())
	assert.NoError(t, rows.Close())
}

func TestCompile_Logs(t *testing.T) {
	var lines []string
	log := funcr.New(func(prefix, args string) {
		lines = append(lines, fmt.Sprintf("%s %s", prefix, args))
	}, funcr.Options{Verbosity: 2})

	_, err := run(t, New(openStore(t), WithLogger(log)), must(provider.NewTake(customers(), provider.Const(1))), nil)
	require.NoError(t, err)

	joined := strings.Join(lines, "\n")
	assert.Contains(t, joined, `"msg"="compiled" "kind"="Take"`)
	assert.Contains(t, joined, `"msg"="open" "sql"="SELECT * FROM (`)
}
