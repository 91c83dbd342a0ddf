package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"gopkg.in/src-d/go-errors.v1"

	"github.com/roach88/tuplex/internal/provider"
	"github.com/roach88/tuplex/internal/querysql"
	"github.com/roach88/tuplex/internal/tuple"
)

// ErrUnknownIndex is returned for names the catalog does not have.
var ErrUnknownIndex = errors.NewKind("unknown index %s")

// IsUnknownIndex reports whether err is, or wraps, ErrUnknownIndex.
func IsUnknownIndex(err error) bool { return tuple.IsKind(ErrUnknownIndex, err) }

// Index returns the catalog entry of the index name.
func (s *Store) Index(ctx context.Context, name string) (*provider.IndexInfo, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, columns, ordering, groups
		FROM tuplex_indexes
		WHERE name = ?
	`, name)
	info, err := scanIndex(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownIndex.New(name)
	}
	return info, err
}

// Indexes returns every catalog entry in creation order.
//
// Returns an empty slice (not nil) if the catalog is empty.
func (s *Store) Indexes(ctx context.Context) ([]*provider.IndexInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, columns, ordering, groups
		FROM tuplex_indexes
		ORDER BY seq ASC, name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query indexes: %w", err)
	}
	defer rows.Close()

	infos := []*provider.IndexInfo{}
	for rows.Next() {
		info, err := scanIndex(rows)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate indexes: %w", err)
	}
	return infos, nil
}

// Count returns the number of rows in the index table name.
func (s *Store) Count(ctx context.Context, name string) (int64, error) {
	if _, err := s.Index(ctx, name); err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+querysql.Ident(name)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", name, err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIndex(row scanner) (*provider.IndexInfo, error) {
	var name, columns, ordering, groups string
	if err := row.Scan(&name, &columns, &ordering, &groups); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan index: %w", err)
	}
	h, err := unmarshalHeader(columns, ordering, groups)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", name, err)
	}
	return &provider.IndexInfo{Name: name, Header: h}, nil
}

// ScanTuple reads the current row of rows into a tuple of d. Columns are
// decoded positionally; NULL becomes an available null.
func ScanTuple(rows *sql.Rows, d *tuple.Descriptor) (*tuple.PackedTuple, error) {
	n := d.Count()
	values := make([]any, n)
	ptrs := make([]any, n)
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}
	out := tuple.New(d)
	for i, src := range values {
		v, err := Decode(d.Type(i), src)
		if err != nil {
			return nil, fmt.Errorf("c%d: %w", i, err)
		}
		if v == nil {
			if err := tuple.SetNull(out, i); err != nil {
				return nil, err
			}
			continue
		}
		if err := out.SetValue(i, v); err != nil {
			return nil, fmt.Errorf("c%d: %w", i, err)
		}
	}
	return out, nil
}
