package harness

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"golang.org/x/text/collate"

	"github.com/roach88/tuplex/internal/exec"
	"github.com/roach88/tuplex/internal/memexec"
	"github.com/roach88/tuplex/internal/plan"
	"github.com/roach88/tuplex/internal/sqlexec"
	"github.com/roach88/tuplex/internal/store"
)

// BackendConfig configures OpenBackend.
type BackendConfig struct {
	// Database is the SQLite path. Defaults to ":memory:".
	Database string

	// Collator orders strings in memory sorts. Nil orders by bytes.
	Collator *collate.Collator

	// CacheSize wraps the compiler in a plan cache of this size when
	// positive.
	CacheSize int

	Log logr.Logger
}

// Backend is a compiler together with the resources it holds.
type Backend struct {
	Name     string
	Compiler exec.Compiler

	store *store.Store
}

// Close releases the backend's database, if any.
func (b *Backend) Close() error {
	if b.store == nil {
		return nil
	}
	return b.store.Close()
}

// OpenBackend returns a compiler for p on the named backend. The memory
// backend reads the plan's indexes directly; the sqlite backend first
// creates them in the database.
func OpenBackend(ctx context.Context, name string, p *plan.Plan, cfg BackendConfig) (*Backend, error) {
	log := cfg.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	log = log.WithValues("backend", name)

	b := &Backend{Name: name}
	switch name {
	case BackendMemory:
		catalog, err := p.Catalog()
		if err != nil {
			return nil, fmt.Errorf("load indexes: %w", err)
		}
		opts := []memexec.Option{memexec.WithLogger(log)}
		if cfg.Collator != nil {
			opts = append(opts, memexec.WithCollator(cfg.Collator))
		}
		b.Compiler = memexec.New(catalog, opts...)
	case BackendSQLite:
		path := cfg.Database
		if path == "" {
			path = ":memory:"
		}
		st, err := store.Open(path)
		if err != nil {
			return nil, err
		}
		if err := p.Populate(ctx, st); err != nil {
			st.Close()
			return nil, fmt.Errorf("load indexes: %w", err)
		}
		b.store = st
		b.Compiler = sqlexec.New(st, sqlexec.WithLogger(log))
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}

	if cfg.CacheSize > 0 {
		cc, err := exec.NewCachingCompiler(b.Compiler, cfg.CacheSize)
		if err != nil {
			b.Close()
			return nil, err
		}
		cc.Log = log
		b.Compiler = cc
	}
	return b, nil
}
