package store

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"slices"
	"strings"

	"gopkg.in/src-d/go-errors.v1"

	"github.com/roach88/tuplex/internal/provider"
	"github.com/roach88/tuplex/internal/querysql"
	"github.com/roach88/tuplex/internal/tuple"
)

// ErrIndexExists is returned when creating an index under a name the
// catalog already has.
var ErrIndexExists = errors.NewKind("index %s already exists")

// IsIndexExists reports whether err is, or wraps, ErrIndexExists.
func IsIndexExists(err error) bool { return tuple.IsKind(ErrIndexExists, err) }

// Execer is the statement surface shared by *sql.DB, *sql.Conn and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// CreateIndex creates the table of info, registers it in the catalog and
// inserts rows, all in one transaction. Rows must match the header
// descriptor.
func (s *Store) CreateIndex(ctx context.Context, info *provider.IndexInfo, rows ...tuple.Tuple) error {
	if info == nil || info.Name == "" || info.Header == nil {
		return fmt.Errorf("create index: incomplete index info")
	}
	rec, err := newHeaderRecord(info.Header)
	if err != nil {
		return fmt.Errorf("create index %s: %w", info.Name, err)
	}
	columns, ordering, groups, err := rec.marshal()
	if err != nil {
		return fmt.Errorf("create index %s: %w", info.Name, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create index %s: begin: %w", info.Name, err)
	}
	defer tx.Rollback()

	// ON CONFLICT DO NOTHING turns a duplicate name into zero affected rows.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO tuplex_indexes (name, seq, columns, ordering, groups)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM tuplex_indexes), ?, ?, ?)
		ON CONFLICT(name) DO NOTHING
	`, info.Name, columns, ordering, groups)
	if err != nil {
		return fmt.Errorf("create index %s: register: %w", info.Name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrIndexExists.New(info.Name)
	}

	d := info.Header.Descriptor()
	if err := createTable(ctx, tx, "TABLE", info.Name, d); err != nil {
		return fmt.Errorf("create index %s: %w", info.Name, err)
	}
	if order := info.Header.Order(); len(order) > 0 {
		keys := make([]string, len(order))
		for i, item := range order {
			keys[i] = fmt.Sprintf("c%d %s", item.Index, strings.ToUpper(item.Direction.String()))
		}
		stmt := fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
			querysql.Ident(info.Name+"_order"), querysql.Ident(info.Name), strings.Join(keys, ", "))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index %s: order: %w", info.Name, err)
		}
	}
	if err := insertRows(ctx, tx, info.Name, d, slices.Values(rows)); err != nil {
		return fmt.Errorf("create index %s: %w", info.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create index %s: commit: %w", info.Name, err)
	}
	return nil
}

// Insert appends rows to an existing index table.
func (s *Store) Insert(ctx context.Context, name string, rows ...tuple.Tuple) error {
	info, err := s.Index(ctx, name)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert %s: begin: %w", name, err)
	}
	defer tx.Rollback()
	if err := insertRows(ctx, tx, name, info.Header.Descriptor(), slices.Values(rows)); err != nil {
		return fmt.Errorf("insert %s: %w", name, err)
	}
	return tx.Commit()
}

// CreateTemp creates the temporary table name with the fields of d and
// fills it with rows. The table is visible only to q's connection.
func CreateTemp(ctx context.Context, q Execer, name string, d *tuple.Descriptor, rows iter.Seq[tuple.Tuple]) error {
	if err := createTable(ctx, q, "TEMP TABLE", name, d); err != nil {
		return fmt.Errorf("create temp %s: %w", name, err)
	}
	if err := insertRows(ctx, q, name, d, rows); err != nil {
		return fmt.Errorf("create temp %s: %w", name, err)
	}
	return nil
}

// DropTemp drops the temporary table name if it exists.
func DropTemp(ctx context.Context, q Execer, name string) error {
	if _, err := q.ExecContext(ctx, "DROP TABLE IF EXISTS temp."+querysql.Ident(name)); err != nil {
		return fmt.Errorf("drop temp %s: %w", name, err)
	}
	return nil
}

func createTable(ctx context.Context, q Execer, kind, name string, d *tuple.Descriptor) error {
	defs := make([]string, d.Count())
	for i := range d.Count() {
		affinity, err := Affinity(d.Type(i))
		if err != nil {
			return fmt.Errorf("column c%d: %w", i, err)
		}
		defs[i] = fmt.Sprintf("c%d %s", i, affinity)
	}
	stmt := fmt.Sprintf("CREATE %s %s (%s)", kind, querysql.Ident(name), strings.Join(defs, ", "))
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

func insertRows(ctx context.Context, q Execer, name string, d *tuple.Descriptor, rows iter.Seq[tuple.Tuple]) error {
	marks := strings.TrimSuffix(strings.Repeat("?, ", d.Count()), ", ")
	stmt, err := q.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", querysql.Ident(name), marks))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	i := 0
	for row := range rows {
		if !row.Descriptor().Equal(d) {
			return fmt.Errorf("row %d: %w", i, tuple.ErrSchemaMismatch.New(row.Descriptor(), d))
		}
		args, err := encodeRow(row)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		i++
	}
	return nil
}

// encodeRow encodes every field of row. Unavailable fields store as NULL.
func encodeRow(row tuple.Tuple) ([]any, error) {
	d := row.Descriptor()
	args := make([]any, d.Count())
	for i := range d.Count() {
		v, state := row.Value(i)
		if state != tuple.Available {
			continue
		}
		enc, err := Encode(d.Type(i), v)
		if err != nil {
			return nil, fmt.Errorf("c%d: %w", i, err)
		}
		args[i] = enc
	}
	return args, nil
}
