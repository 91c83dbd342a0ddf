package provider

import (
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/tuplex/internal/header"
	"github.com/roach88/tuplex/internal/tuple"
)

// IndexInfo describes a stored index. The header ordering is the index key;
// an unordered header describes a heap.
type IndexInfo struct {
	Name   string
	Header *header.Header
}

// Index scans a stored index in key order.
type Index struct {
	leaf
	info *IndexInfo
}

// NewIndex returns a scan of the index described by info.
func NewIndex(info *IndexInfo) (*Index, error) {
	if info == nil || info.Header == nil {
		return nil, invalid(KindIndex, "index info has no header")
	}
	if strings.TrimSpace(info.Name) == "" {
		return nil, invalid(KindIndex, "index has no name")
	}
	return &Index{leaf: leaf{node{header: info.Header}}, info: info}, nil
}

// MustIndex is like NewIndex but panics on error.
func MustIndex(info *IndexInfo) *Index {
	p, err := NewIndex(info)
	if err != nil {
		panic(err)
	}
	return p
}

// Info returns the scanned index.
func (p *Index) Info() *IndexInfo { return p.info }

func (*Index) Kind() Kind { return KindIndex }

func (p *Index) String() string { return "Index " + p.info.Name }

func (p *Index) rebuild(sources []Provider) (Provider, error) {
	if err := wantSources(KindIndex, sources, 0); err != nil {
		return nil, err
	}
	return p, nil
}

// Raw yields rows supplied by the caller. Rows is called once per
// enumeration.
type Raw struct {
	leaf
	rows func() iter.Seq[tuple.Tuple]
}

// NewRaw returns a leaf over rows whose descriptor is that of h.
func NewRaw(h *header.Header, rows func() iter.Seq[tuple.Tuple]) (*Raw, error) {
	if h == nil {
		return nil, invalid(KindRaw, "header is nil")
	}
	if rows == nil {
		return nil, invalid(KindRaw, "row supplier is nil")
	}
	return &Raw{leaf: leaf{node{header: h}}, rows: rows}, nil
}

// RawOf returns a leaf over a fixed row slice. Every row must have the
// descriptor of h.
func RawOf(h *header.Header, rows ...tuple.Tuple) (*Raw, error) {
	for i, r := range rows {
		if !r.Descriptor().Equal(h.Descriptor()) {
			return nil, fmt.Errorf("raw row %d: %w", i, tuple.ErrSchemaMismatch.New(r.Descriptor(), h.Descriptor()))
		}
	}
	rows = slices.Clone(rows)
	return NewRaw(h, func() iter.Seq[tuple.Tuple] { return slices.Values(rows) })
}

// Rows starts a new enumeration of the supplied rows.
func (p *Raw) Rows() iter.Seq[tuple.Tuple] { return p.rows() }

func (*Raw) Kind() Kind { return KindRaw }

func (p *Raw) String() string { return "Raw" }

func (p *Raw) rebuild(sources []Provider) (Provider, error) {
	if err := wantSources(KindRaw, sources, 0); err != nil {
		return nil, err
	}
	return p, nil
}

// Store materializes its source under Name for the duration of one
// enumeration. Load nodes referring to the store read the same rows.
type Store struct {
	unary
	name string
}

// NewStore returns a store of source. An empty name is replaced by a
// generated one.
func NewStore(source Provider, name string) (*Store, error) {
	if err := checkSource(KindStore, source); err != nil {
		return nil, err
	}
	if name == "" {
		name = "tmp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return &Store{unary: unary{node{header: source.Header()}, source}, name: name}, nil
}

// Name returns the name the rows are stored under.
func (p *Store) Name() string { return p.name }

func (*Store) Kind() Kind { return KindStore }

func (p *Store) String() string { return "Store " + p.name }

func (p *Store) rebuild(sources []Provider) (Provider, error) {
	if err := wantSources(KindStore, sources, 1); err != nil {
		return nil, err
	}
	return NewStore(sources[0], p.name)
}

// Load reads the rows of a Store. It is a leaf: the store subtree is not one
// of its sources, and it is evaluated at most once per enumeration however
// many loads refer to it.
type Load struct {
	leaf
	store *Store
}

// NewLoad returns a reader of s.
func NewLoad(s *Store) (*Load, error) {
	if s == nil {
		return nil, invalid(KindLoad, "store is nil")
	}
	return &Load{leaf: leaf{node{header: s.Header()}}, store: s}, nil
}

// Store returns the store read by the load.
func (p *Load) Store() *Store { return p.store }

func (*Load) Kind() Kind { return KindLoad }

func (p *Load) String() string { return "Load " + p.store.name }

func (p *Load) rebuild(sources []Provider) (Provider, error) {
	if err := wantSources(KindLoad, sources, 0); err != nil {
		return nil, err
	}
	return p, nil
}
