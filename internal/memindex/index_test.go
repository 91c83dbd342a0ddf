package memindex

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tuplex/internal/header"
	"github.com/roach88/tuplex/internal/provider"
	"github.com/roach88/tuplex/internal/tuple"
)

var peopleDesc = tuple.Create(tuple.Int64, tuple.String)

func peopleInfo(order header.Ordering) *provider.IndexInfo {
	return &provider.IndexInfo{
		Name:   "people",
		Header: header.MustNew([]header.Column{header.System("id", tuple.Int64), header.System("name", tuple.String)}, nil, order),
	}
}

func formatted(rows []tuple.Tuple) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = tuple.Format(r)
	}
	return out
}

func TestIndex_ScanInKeyOrder(t *testing.T) {
	testCases := []struct {
		name  string
		order header.Ordering
		want  []string
	}{
		{name: "ascending", order: header.Ordering{header.Asc(0)}, want: []string{"1,ann", "2,bob", "2,bea", "3,cid"}},
		{name: "descending", order: header.Ordering{header.Desc(0)}, want: []string{"3,cid", "2,bob", "2,bea", "1,ann"}},
		{name: "by name", order: header.Ordering{header.Asc(1)}, want: []string{"1,ann", "2,bea", "2,bob", "3,cid"}},
		{name: "heap", want: []string{"2,bob", "3,cid", "1,ann", "2,bea"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ix, err := New(peopleInfo(tc.order))
			require.NoError(t, err)
			require.NoError(t, ix.Insert(
				tuple.MustParse(peopleDesc, "2,bob"),
				tuple.MustParse(peopleDesc, "3,cid"),
				tuple.MustParse(peopleDesc, "1,ann"),
				tuple.MustParse(peopleDesc, "2,bea"),
			))
			assert.Equal(t, 4, ix.Len())
			assert.Equal(t, tc.want, formatted(slices.Collect(ix.Scan())))
		})
	}
}

func TestIndex_Seek(t *testing.T) {
	ix, err := New(peopleInfo(header.Ordering{header.Asc(0)}))
	require.NoError(t, err)
	require.NoError(t, ix.Insert(
		tuple.MustParse(peopleDesc, "2,bob"),
		tuple.MustParse(peopleDesc, "2,bea"),
		tuple.MustParse(peopleDesc, "5,eve"),
	))

	row, ok, err := ix.Seek(tuple.Of(int64(2)))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2,bob", tuple.Format(row))

	_, ok, err = ix.Seek(tuple.Of(int64(3)))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = ix.Seek(tuple.Of(int64(9)))
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = ix.Seek(tuple.Of("bob"))
	assert.True(t, tuple.IsSchemaMismatch(err))
}

func TestIndex_RowsAreFrozen(t *testing.T) {
	ix, err := New(peopleInfo(nil))
	require.NoError(t, err)
	src := tuple.MustParse(peopleDesc, "1,ann")
	require.NoError(t, ix.Insert(src))
	require.NoError(t, src.SetValue(1, "zed"))

	rows := slices.Collect(ix.Scan())
	assert.Equal(t, "1,ann", tuple.Format(rows[0]))
	assert.True(t, tuple.IsReadOnly(rows[0].SetValue(1, "x")))
}

func TestIndex_InsertSchemaMismatch(t *testing.T) {
	ix, err := New(peopleInfo(nil))
	require.NoError(t, err)
	err = ix.Insert(tuple.Of(int32(1), "x"))
	assert.True(t, tuple.IsSchemaMismatch(err))
	assert.Zero(t, ix.Len())
}

func TestCatalog(t *testing.T) {
	c := NewCatalog()
	_, err := c.Create(peopleInfo(nil), tuple.MustParse(peopleDesc, "1,ann"))
	require.NoError(t, err)
	_, err = c.Create(&provider.IndexInfo{Name: "accounts", Header: header.FromDescriptor(peopleDesc)})
	require.NoError(t, err)

	_, err = c.Create(peopleInfo(nil))
	assert.True(t, ErrDuplicateIndex.Is(err))

	ix, err := c.Lookup("people")
	require.NoError(t, err)
	assert.Equal(t, 1, ix.Len())

	_, err = c.Lookup("nope")
	assert.True(t, IsUnknownIndex(err))

	assert.Equal(t, []string{"accounts", "people"}, c.Names())
}
