package tuple

import (
	"reflect"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

func TestEqual(t *testing.T) {
	d := Create(Int32, String)

	testCases := []struct {
		name  string
		a, b  Tuple
		equal bool
	}{
		{name: "same values", a: MustFromValues(d, int32(1), "a"), b: MustFromValues(d, int32(1), "a"), equal: true},
		{name: "different value", a: MustFromValues(d, int32(1), "a"), b: MustFromValues(d, int32(2), "a")},
		{name: "null vs value", a: MustFromValues(d, int32(1), nil), b: MustFromValues(d, int32(1), "")},
		{name: "null vs null", a: MustFromValues(d, int32(1), nil), b: MustFromValues(d, int32(1), nil), equal: true},
		{name: "unavailable vs null", a: New(d), b: MustFromValues(d, nil, nil)},
		{name: "different descriptor", a: Of(int32(1)), b: Of(int64(1))},
		{name: "view vs container", a: ReadOnly(Of(int32(1), "a")), b: Of(int32(1), "a"), equal: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.equal, Equal(tc.a, tc.b))
			assert.Equal(t, tc.equal, Equal(tc.b, tc.a))
			if tc.equal {
				assert.Equal(t, Hash(tc.a), Hash(tc.b))
			}
		})
	}
}

func TestCompare_StateOrder(t *testing.T) {
	d := Create(Int32)
	unavailable := New(d)
	null := MustFromValues(d, nil)
	low := MustFromValues(d, int32(-10))
	high := MustFromValues(d, int32(10))

	rows := []Tuple{high, null, low, unavailable}
	slices.SortFunc(rows, Compare)
	assert.Equal(t, []Tuple{unavailable, null, low, high}, rows)
}

func TestComparer_Descending(t *testing.T) {
	d := Create(Int32, String)
	rows := []Tuple{
		MustFromValues(d, int32(1), "b"),
		MustFromValues(d, int32(2), "a"),
		MustFromValues(d, int32(1), "a"),
	}

	c := Comparer{Descending: []bool{true}}
	slices.SortFunc(rows, c.Compare)

	got := make([]string, len(rows))
	for i, r := range rows {
		got[i] = Format(r)
	}
	assert.Equal(t, []string{"2,a", "1,a", "1,b"}, got)
}

func TestComparer_Collator(t *testing.T) {
	a, b := Of("a"), Of("B")
	assert.Equal(t, 1, Compare(a, b))

	c := Comparer{Collator: collate.New(language.English)}
	assert.Equal(t, -1, c.Compare(a, b))
}

func TestCompare_UnorderableFieldsCompareEqual(t *testing.T) {
	d := Create(Int32, reflect.TypeFor[point]())
	a := MustFromValues(d, int32(1), point{X: 1})
	b := MustFromValues(d, int32(1), point{X: 2})
	assert.Equal(t, 0, Compare(a, b))
	assert.False(t, Equal(a, b))
}

func TestHash_DependsOnState(t *testing.T) {
	d := Create(String)
	unavailable := New(d)
	null := MustFromValues(d, nil)
	empty := MustFromValues(d, "")

	assert.NotEqual(t, Hash(unavailable), Hash(null))
	assert.NotEqual(t, Hash(null), Hash(empty))
}

func TestDescriptorHash_DiffersByOrder(t *testing.T) {
	require.NotEqual(t, Create(Int32, String).Hash(), Create(String, Int32).Hash())
}
