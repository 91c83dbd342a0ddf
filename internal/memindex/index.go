// Package memindex holds in-memory ordered indexes: the storage behind
// Index and Seek providers for the in-memory backend.
//
// An Index keeps rows in a B-tree ordered by the order key of its header.
// Rows with equal keys keep insertion order; an index with an unordered
// header is a heap that scans in insertion order.
package memindex

import (
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/google/btree"
	errors "gopkg.in/src-d/go-errors.v1"

	"github.com/roach88/tuplex/internal/provider"
	"github.com/roach88/tuplex/internal/transform"
	"github.com/roach88/tuplex/internal/tuple"
)

const degree = 32

var (
	// ErrDuplicateIndex is returned when a catalog already has an index of
	// the same name.
	ErrDuplicateIndex = errors.NewKind("index %s already exists")

	// ErrUnknownIndex is returned for names no catalog index has.
	ErrUnknownIndex = errors.NewKind("unknown index %s")
)

// IsUnknownIndex reports whether err is, or wraps, ErrUnknownIndex.
func IsUnknownIndex(err error) bool { return tuple.IsKind(ErrUnknownIndex, err) }

type entry struct {
	key tuple.Tuple
	row *tuple.FastReadOnlyTuple
	seq uint64
}

// Index is an ordered in-memory index. Reads may run concurrently with
// each other; writes are serialized.
type Index struct {
	info *provider.IndexInfo
	key  *transform.MapTransform
	cmp  tuple.Comparer

	mu   sync.RWMutex
	tree *btree.BTreeG[entry]
	seq  uint64
}

// New returns an empty index described by info.
func New(info *provider.IndexInfo) (*Index, error) {
	if info == nil || info.Header == nil {
		return nil, fmt.Errorf("memindex: index info has no header")
	}
	key := info.Header.OrderKey()
	if key == nil {
		var err error
		if key, err = transform.Map(info.Header.Descriptor()); err != nil {
			return nil, err
		}
	}
	ix := &Index{info: info, key: key, cmp: info.Header.OrderComparer()}
	ix.tree = btree.NewG(degree, ix.less)
	return ix, nil
}

func (ix *Index) less(a, b entry) bool {
	if c := ix.cmp.Compare(a.key, b.key); c != 0 {
		return c < 0
	}
	return a.seq < b.seq
}

// Info returns the index description.
func (ix *Index) Info() *provider.IndexInfo { return ix.info }

// Len returns the number of rows.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.tree.Len()
}

// Insert adds rows. Every row must have the index descriptor.
func (ix *Index) Insert(rows ...tuple.Tuple) error {
	want := ix.info.Header.Descriptor()
	for i, r := range rows {
		if !r.Descriptor().Equal(want) {
			return fmt.Errorf("insert into %s, row %d: %w", ix.info.Name, i, tuple.ErrSchemaMismatch.New(r.Descriptor(), want))
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, r := range rows {
		frozen := tuple.ToFastReadOnly(r)
		key, err := ix.key.Apply(transform.Materialized, frozen)
		if err != nil {
			return err
		}
		ix.seq++
		ix.tree.ReplaceOrInsert(entry{key: key, row: frozen, seq: ix.seq})
	}
	return nil
}

// Scan yields rows in key order. The rows are a snapshot taken when the
// iteration starts.
func (ix *Index) Scan() iter.Seq[tuple.Tuple] {
	return func(yield func(tuple.Tuple) bool) {
		for _, r := range ix.snapshot() {
			if !yield(r) {
				return
			}
		}
	}
}

func (ix *Index) snapshot() []tuple.Tuple {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]tuple.Tuple, 0, ix.tree.Len())
	ix.tree.Ascend(func(e entry) bool {
		out = append(out, e.row)
		return true
	})
	return out
}

// Seek returns the first row whose order key equals key.
func (ix *Index) Seek(key tuple.Tuple) (tuple.Tuple, bool, error) {
	want := ix.key.Descriptor()
	if !key.Descriptor().Equal(want) {
		return nil, false, fmt.Errorf("seek %s: %w", ix.info.Name, tuple.ErrSchemaMismatch.New(key.Descriptor(), want))
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var found tuple.Tuple
	ix.tree.AscendGreaterOrEqual(entry{key: key}, func(e entry) bool {
		if ix.cmp.Compare(e.key, key) == 0 {
			found = e.row
		}
		return false
	})
	return found, found != nil, nil
}

// Catalog is a set of named indexes.
type Catalog struct {
	mu      sync.RWMutex
	indexes map[string]*Index
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{indexes: map[string]*Index{}}
}

// Add registers ix under its name.
func (c *Catalog) Add(ix *Index) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.indexes[ix.info.Name]; ok {
		return ErrDuplicateIndex.New(ix.info.Name)
	}
	c.indexes[ix.info.Name] = ix
	return nil
}

// Create builds an index for info, fills it with rows and registers it.
func (c *Catalog) Create(info *provider.IndexInfo, rows ...tuple.Tuple) (*Index, error) {
	ix, err := New(info)
	if err != nil {
		return nil, err
	}
	if err := ix.Insert(rows...); err != nil {
		return nil, err
	}
	if err := c.Add(ix); err != nil {
		return nil, err
	}
	return ix, nil
}

// Lookup returns the index called name.
func (c *Catalog) Lookup(name string) (*Index, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ix, ok := c.indexes[name]
	if !ok {
		return nil, ErrUnknownIndex.New(name)
	}
	return ix, nil
}

// Names returns the index names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.indexes))
	for name := range c.indexes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
