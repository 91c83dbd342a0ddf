package store

import (
	"context"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tuplex/internal/header"
	"github.com/roach88/tuplex/internal/provider"
	"github.com/roach88/tuplex/internal/tuple"
)

func TestCreateIndex_RoundTripsCatalog(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	want := createTestIndex(t, s, "orders")

	got, err := s.Index(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Header.String(), got.Header.String())
	assert.Equal(t, want.Header.Groups(), got.Header.Groups())
	assert.True(t, want.Header.Descriptor().Equal(got.Header.Descriptor()))

	n, err := s.Count(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestCreateIndex_Errors(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestIndex(t, s, "orders")

	err := s.CreateIndex(ctx, ordersInfo("orders"))
	assert.True(t, IsIndexExists(err), "got %v", err)

	err = s.CreateIndex(ctx, ordersInfo("bad"), tuple.Of(int64(1)))
	assert.True(t, tuple.IsSchemaMismatch(err), "got %v", err)
	_, err = s.Index(ctx, "bad")
	assert.True(t, IsUnknownIndex(err), "failed create must not leave a catalog entry")

	type point struct{ X, Y int }
	odd := &provider.IndexInfo{
		Name:   "odd",
		Header: header.FromDescriptor(tuple.Create(reflect.TypeFor[point]())),
	}
	err = s.CreateIndex(ctx, odd)
	assert.True(t, IsUnsupportedType(err), "got %v", err)

	assert.Error(t, s.CreateIndex(ctx, nil))
}

func TestIndexes_CreationOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	infos, err := s.Indexes(ctx)
	require.NoError(t, err)
	assert.NotNil(t, infos)
	assert.Empty(t, infos)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		createTestIndex(t, s, name)
	}
	infos, err = s.Indexes(ctx)
	require.NoError(t, err)
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, names)
}

func TestInsert(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	info := createTestIndex(t, s, "orders")

	require.NoError(t, s.Insert(ctx, "orders", tuple.MustParse(info.Header.Descriptor(), "4,cid,1,false")))
	n, err := s.Count(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	err = s.Insert(ctx, "missing")
	assert.True(t, IsUnknownIndex(err))
	_, err = s.Count(ctx, "missing")
	assert.True(t, IsUnknownIndex(err))
}

func TestScanTuple(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	info := createTestIndex(t, s, "orders")
	d := info.Header.Descriptor()

	rows, err := s.Query(ctx, `SELECT c0, c1, c2, c3 FROM "orders" ORDER BY c0`)
	require.NoError(t, err)
	defer rows.Close()

	var got []string
	for rows.Next() {
		row, err := ScanTuple(rows, d)
		require.NoError(t, err)
		got = append(got, tuple.Format(row))
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"1,ann,5.5,true", "2,bob,12,false", "3,null,0.25,null"}, got)
}

func TestTempTables(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	conn, err := s.DB().Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	d := tuple.Create(tuple.String, tuple.Time)
	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rows := []tuple.Tuple{
		tuple.MustFromValues(d, "a", when),
		tuple.MustFromValues(d, "b", nil),
	}
	require.NoError(t, CreateTemp(ctx, conn, "tmp_x", d, func(yield func(tuple.Tuple) bool) {
		for _, r := range rows {
			if !yield(r) {
				return
			}
		}
	}))

	var n int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM "tmp_x" WHERE c1 IS NULL`).Scan(&n))
	assert.Equal(t, 1, n)

	require.NoError(t, DropTemp(ctx, conn, "tmp_x"))
	require.NoError(t, DropTemp(ctx, conn, "tmp_x"))
	assert.Error(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM "tmp_x"`).Scan(&n))
}

func TestEncodeDecode(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	when := time.Date(2024, 5, 1, 12, 30, 0, 5, time.UTC)

	testCases := []struct {
		name    string
		typ     reflect.Type
		value   any
		encoded any
	}{
		{"bool", tuple.Bool, true, int64(1)},
		{"int8", tuple.Int8, int8(-3), int64(-3)},
		{"uint32", tuple.Uint32, uint32(7), int64(7)},
		{"uint64", tuple.Uint64, uint64(math.MaxInt64), int64(math.MaxInt64)},
		{"float32", tuple.Float32, float32(1.5), float64(1.5)},
		{"duration", tuple.Duration, 2 * time.Second, int64(2 * time.Second)},
		{"time", tuple.Time, when, when.UnixNano()},
		{"string", tuple.String, "x", "x"},
		{"bytes", tuple.Bytes, []byte{1, 2}, []byte{1, 2}},
		{"decimal", tuple.Decimal, decimal.RequireFromString("5.25"), "5.25"},
		{"uuid", tuple.UUID, id, id.String()},
		{"null", tuple.Int64, nil, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			enc, err := Encode(tc.typ, tc.value)
			require.NoError(t, err)
			assert.Equal(t, tc.encoded, enc)

			dec, err := Decode(tc.typ, enc)
			require.NoError(t, err)
			if d, ok := tc.value.(decimal.Decimal); ok {
				assert.True(t, d.Equal(dec.(decimal.Decimal)))
				return
			}
			assert.Equal(t, tc.value, dec)
		})
	}
}

func TestEncodeDecode_Errors(t *testing.T) {
	_, err := Encode(tuple.Uint64, uint64(math.MaxUint64))
	assert.Error(t, err)

	_, err = Encode(reflect.TypeFor[struct{}](), struct{}{})
	assert.True(t, IsUnsupportedType(err))

	testCases := []struct {
		name string
		typ  reflect.Type
		src  any
	}{
		{"int8 overflow", tuple.Int8, int64(300)},
		{"negative uint", tuple.Uint16, int64(-1)},
		{"text as integer", tuple.Int64, "12"},
		{"bad decimal", tuple.Decimal, "twelve"},
		{"bad uuid", tuple.UUID, "nope"},
		{"number as text", tuple.String, int64(1)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.typ, tc.src)
			assert.Error(t, err)
		})
	}

	_, err = Decode(tuple.Float64, "x")
	assert.Error(t, err)
	v, err := Decode(tuple.Float64, int64(2))
	require.NoError(t, err)
	assert.Equal(t, float64(2), v)
}

func TestAffinity(t *testing.T) {
	for typ, want := range map[reflect.Type]string{
		tuple.Bool:    "INTEGER",
		tuple.Time:    "INTEGER",
		tuple.Float32: "REAL",
		tuple.Decimal: "TEXT",
		tuple.Bytes:   "BLOB",
	} {
		got, err := Affinity(typ)
		require.NoError(t, err)
		assert.Equal(t, want, got, typ.String())
	}
	_, err := Affinity(reflect.TypeFor[chan int]())
	assert.True(t, IsUnsupportedType(err))
}
