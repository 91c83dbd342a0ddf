package tuple

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadOnly_RejectsWrites(t *testing.T) {
	inner := Of(int32(1), "a")
	ro := ReadOnly(inner)

	assert.Equal(t, "a", MustGet[string](ro, 1))

	assert.True(t, IsReadOnly(ro.SetValue(0, int32(2))))
	assert.True(t, IsReadOnly(Set(ro, 0, int32(2))))
	assert.True(t, IsReadOnly(SetNull(ro, 1)))
	assert.Equal(t, int32(1), MustGet[int32](inner, 0))

	// Writes to the inner tuple remain visible.
	require.NoError(t, Set(inner, 0, int32(3)))
	assert.Equal(t, int32(3), MustGet[int32](ro, 0))

	assert.Same(t, ro, ReadOnly(ro))
}

func TestReadOnly_CloneIsWritable(t *testing.T) {
	ro := ReadOnly(Of(int32(1)))
	clone := ro.Clone()
	require.NoError(t, Set(clone, 0, int32(2)))
	assert.Equal(t, int32(1), MustGet[int32](ro, 0))
}

func TestToFastReadOnly_Snapshot(t *testing.T) {
	inner := Of(int32(1), "a")
	snap := ToFastReadOnly(inner)

	require.NoError(t, Set(inner, 0, int32(2)))
	assert.Equal(t, int32(1), MustGet[int32](snap, 0))
	assert.True(t, IsReadOnly(snap.SetValue(0, int32(5))))

	other := ToFastReadOnly(Of(int32(1), "a"))
	assert.True(t, snap.Equal(other))
	assert.Equal(t, snap.Hash(), other.Hash())
	assert.Equal(t, snap.Key(), other.Key())
	assert.False(t, snap.Equal(ToFastReadOnly(inner)))
	assert.NotEqual(t, snap.Key(), ToFastReadOnly(inner).Key())
}

func TestToFastReadOnly_MapKey(t *testing.T) {
	seen := map[string]int{}
	for _, v := range []string{"a", "b", "a", "c", "b", "a"} {
		seen[ToFastReadOnly(Of(v, true)).Key()]++
	}
	assert.Len(t, seen, 3)
	assert.Equal(t, 3, seen[ToFastReadOnly(Of("a", true)).Key()])
}

func TestToFastReadOnly_ConcurrentKey(t *testing.T) {
	snap := ToFastReadOnly(Of(int32(1), "x"))
	want := snap.Key()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, want, snap.Key())
			assert.Equal(t, "1,x", snap.String())
		}()
	}
	wg.Wait()
}

func TestMaterialize_PreservesStates(t *testing.T) {
	src := New(Create(Int32, String, Int32))
	require.NoError(t, Set(src, 0, int32(4)))
	require.NoError(t, SetNull(src, 2))

	got, err := Materialize(ReadOnly(src))
	require.NoError(t, err)
	assert.True(t, Equal(src, got))
	assert.Equal(t, NotAvailable, got.FieldState(1))
}

// mislabeled reports a value that does not fit its descriptor.
type mislabeled struct{ boxed }

func (m mislabeled) Value(i int) (any, FieldState) {
	if _, state := m.boxed.Value(i); state != Available {
		return nil, state
	}
	return "not an int", Available
}

func TestMaterialize_Errors(t *testing.T) {
	src := MustFromValues(Create(Int32, Int32), int32(1), nil)

	testCases := []struct {
		name    string
		tup     Tuple
		wantErr bool
	}{
		{name: "boxed", tup: boxed{src}},
		{name: "mismatched value", tup: mislabeled{boxed{src}}, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Materialize(tc.tup)
			if tc.wantErr {
				assert.True(t, IsInvalidCast(err), "got %v", err)
				assert.Panics(t, func() { MustMaterialize(tc.tup) })
				return
			}
			require.NoError(t, err)
			assert.True(t, Equal(src, got))
		})
	}
}
