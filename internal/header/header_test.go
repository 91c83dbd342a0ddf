package header

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tuplex/internal/transform"
	"github.com/roach88/tuplex/internal/tuple"
)

func customers() *Header {
	return MustNew([]Column{
		Mapped("id", tuple.Int64, ModelRef{Table: "customers", Column: "id"}),
		Mapped("name", tuple.String, ModelRef{Table: "customers", Column: "name"}),
		System("score", tuple.Float64),
	}, []ColumnGroup{{Keys: []int{0}, Columns: []int{0, 1}}}, Ordering{Asc(0)})
}

func TestNew_DescriptorMatchesColumns(t *testing.T) {
	h := customers()
	require.Equal(t, h.Len(), h.Descriptor().Count())
	for i, c := range h.Columns() {
		assert.Equal(t, c.Type(), h.Descriptor().Type(i))
	}
	assert.Equal(t, 1, h.IndexOf("name"))
	assert.Equal(t, -1, h.IndexOf("missing"))
}

func TestNew_NormalizesPointerTypes(t *testing.T) {
	testCases := []struct {
		name   string
		column Column
		want   reflect.Type
	}{
		{name: "mapped pointer", column: Mapped("id", reflect.TypeFor[*int64](), ModelRef{Table: "t", Column: "id"}), want: tuple.Int64},
		{name: "system pointer", column: System("name", reflect.TypeFor[*string]()), want: tuple.String},
		{name: "plain type", column: System("score", tuple.Float64), want: tuple.Float64},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h, err := New([]Column{tc.column}, nil, Ordering{Asc(0)})
			require.NoError(t, err)
			assert.Equal(t, tc.want, h.Column(0).Type())
			assert.Same(t, tuple.Create(tc.want), h.Descriptor())
		})
	}
}

func TestNew_Validation(t *testing.T) {
	id := System("id", tuple.Int64)
	blob := System("blob", reflect.TypeFor[struct{ A int }]())

	testCases := []struct {
		name    string
		columns []Column
		groups  []ColumnGroup
		order   Ordering
	}{
		{name: "nil type", columns: []Column{System("x", nil)}},
		{name: "group out of range", columns: []Column{id}, groups: []ColumnGroup{{Columns: []int{1}}}},
		{name: "group key not a column", columns: []Column{id, id}, groups: []ColumnGroup{{Keys: []int{1}, Columns: []int{0}}}},
		{name: "order out of range", columns: []Column{id}, order: Ordering{Asc(2)}},
		{name: "unorderable order column", columns: []Column{blob}, order: Ordering{Asc(0)}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.columns, tc.groups, tc.order)
			require.Error(t, err)
			assert.True(t, IsInvalidHeader(err), "got %v", err)
		})
	}
}

func TestJoin_ConcatenatesColumns(t *testing.T) {
	left := customers()
	right := MustNew([]Column{
		Mapped("order_id", tuple.Int64, ModelRef{Table: "orders", Column: "id"}),
	}, []ColumnGroup{{Keys: []int{0}, Columns: []int{0}}}, Ordering{Desc(0)})

	joined := left.Join(right)
	assert.Equal(t, left.Len()+right.Len(), joined.Len())
	assert.Equal(t, "(int64, string, float64, int64)", joined.Descriptor().String())
	assert.Equal(t, Ordering{Asc(0)}, joined.Order())
	assert.Equal(t, []ColumnGroup{
		{Keys: []int{0}, Columns: []int{0, 1}},
		{Keys: []int{3}, Columns: []int{3}},
	}, joined.Groups())
}

func TestSelect(t *testing.T) {
	h := customers()

	sel, err := h.Select(1, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, "(string, int64, string)", sel.Descriptor().String())
	assert.Equal(t, Ordering{Asc(1)}, sel.Order())
	assert.Equal(t, []ColumnGroup{{Keys: []int{1}, Columns: []int{1, 0}}}, sel.Groups())

	sel, err = h.Select(2)
	require.NoError(t, err)
	assert.Empty(t, sel.Order())
	assert.Empty(t, sel.Groups())

	_, err = h.Select(3)
	assert.True(t, tuple.ErrIndexOutOfRange.Is(err))
}

func TestSort_BuildsOrderKey(t *testing.T) {
	h, err := customers().Sort(Ordering{Desc(2), Asc(1)})
	require.NoError(t, err)

	key := h.OrderKey()
	require.NotNil(t, key)
	assert.True(t, key.IsReadOnly())
	assert.Equal(t, "(float64, string)", key.Descriptor().String())

	a := tuple.Of(int64(1), "a", 1.0)
	b := tuple.Of(int64(2), "b", 2.0)
	ka, err := key.Apply(transform.TransformedTuple, a)
	require.NoError(t, err)
	kb, err := key.Apply(transform.TransformedTuple, b)
	require.NoError(t, err)
	assert.Equal(t, 1, h.OrderComparer().Compare(ka, kb))

	assert.Nil(t, h.Unordered().OrderKey())
}

func TestAlias(t *testing.T) {
	h := customers().Alias("c")
	assert.Equal(t, "c.id", h.Column(0).Name())
	assert.Equal(t, "c.score", h.Column(2).Name())
	_, stillMapped := h.Column(1).(MappedColumn)
	assert.True(t, stillMapped)
	assert.Equal(t, Ordering{Asc(0)}, h.Order())
}

func TestMergeUnion(t *testing.T) {
	left := customers()
	right := MustNew([]Column{
		Mapped("id", tuple.Int64, ModelRef{Table: "customers", Column: "id"}),
		Mapped("name", tuple.String, ModelRef{Table: "suppliers", Column: "name"}),
		System("score", tuple.Float64),
	}, nil, nil)

	merged, err := left.MergeUnion(right)
	require.NoError(t, err)

	_, ok := merged.Column(0).(MappedColumn)
	assert.True(t, ok, "same model column stays mapped")
	_, ok = merged.Column(1).(SystemColumn)
	assert.True(t, ok, "different model columns degrade")
	_, ok = merged.Column(2).(SystemColumn)
	assert.True(t, ok)
	assert.Empty(t, merged.Order())

	_, err = left.MergeUnion(FromDescriptor(tuple.Create(tuple.Int64)))
	assert.True(t, tuple.IsSchemaMismatch(err))
}

func TestFromDescriptor(t *testing.T) {
	h := FromDescriptor(tuple.Create(tuple.Int32, tuple.String))
	assert.Equal(t, "[c0 int32, c1 string]", h.String())
}

func TestString(t *testing.T) {
	assert.Equal(t, "[id int64 @customers.id, name string @customers.name, score float64] order [0 asc]", customers().String())
}
