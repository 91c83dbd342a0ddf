package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/tuplex/internal/header"
	"github.com/roach88/tuplex/internal/provider"
	"github.com/roach88/tuplex/internal/tuple"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ordersInfo describes an orders index ordered by total descending, then id.
func ordersInfo(name string) *provider.IndexInfo {
	return &provider.IndexInfo{
		Name: name,
		Header: header.MustNew([]header.Column{
			header.Mapped("id", tuple.Int64, header.ModelRef{Table: "orders", Column: "id"}),
			header.Mapped("customer", tuple.String, header.ModelRef{Table: "orders", Column: "customer"}),
			header.Mapped("total", tuple.Decimal, header.ModelRef{Table: "orders", Column: "total"}),
			header.System("rush", tuple.Bool),
		}, []header.ColumnGroup{{Keys: []int{0}, Columns: []int{0, 1, 2}}}, header.Ordering{header.Desc(3), header.Asc(0)}),
	}
}

// createTestIndex creates ordersInfo(name) with three rows.
func createTestIndex(t *testing.T, s *Store, name string) *provider.IndexInfo {
	t.Helper()
	info := ordersInfo(name)
	d := info.Header.Descriptor()
	err := s.CreateIndex(context.Background(), info,
		tuple.MustParse(d, "1,ann,5.50,true"),
		tuple.MustParse(d, "2,bob,12,false"),
		tuple.MustParse(d, "3,null,0.25,null"),
	)
	if err != nil {
		t.Fatalf("CreateIndex() failed: %v", err)
	}
	return info
}
