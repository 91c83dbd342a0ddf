package exec

import (
	"fmt"

	"github.com/go-logr/logr"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/tuplex/internal/provider"
)

// DefaultCacheSize is the number of compiled plans a CachingCompiler keeps
// when no size is given.
const DefaultCacheSize = 128

// CachingCompiler memoizes another compiler by provider identity. Providers
// are immutable, so a tree compiled once can be reused for as long as the
// same root is passed in. Concurrent compiles of one root share a single
// call to the underlying compiler.
type CachingCompiler struct {
	inner Compiler
	cache *lru.Cache[provider.Provider, Executable]
	group singleflight.Group

	// Log receives cache hits and misses at V(1).
	Log logr.Logger
}

// NewCachingCompiler wraps inner with a cache of size plans. Size zero or
// less uses DefaultCacheSize.
func NewCachingCompiler(inner Compiler, size int) (*CachingCompiler, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[provider.Provider, Executable](size)
	if err != nil {
		return nil, fmt.Errorf("plan cache: %w", err)
	}
	return &CachingCompiler{inner: inner, cache: cache, Log: logr.Discard()}, nil
}

// Compile returns the cached plan for p or compiles it.
func (c *CachingCompiler) Compile(p provider.Provider) (Executable, error) {
	if plan, ok := c.cache.Get(p); ok {
		c.Log.V(1).Info("plan cache hit", "kind", p.Kind())
		return plan, nil
	}
	v, err, shared := c.group.Do(fmt.Sprintf("%p", p), func() (any, error) {
		if plan, ok := c.cache.Get(p); ok {
			return plan, nil
		}
		plan, err := c.inner.Compile(p)
		if err != nil {
			return nil, err
		}
		c.cache.Add(p, plan)
		return plan, nil
	})
	if err != nil {
		return nil, err
	}
	c.Log.V(1).Info("plan cache miss", "kind", p.Kind(), "shared", shared)
	return v.(Executable), nil
}

// Len returns the number of cached plans.
func (c *CachingCompiler) Len() int { return c.cache.Len() }

// Purge drops every cached plan.
func (c *CachingCompiler) Purge() { c.cache.Purge() }
