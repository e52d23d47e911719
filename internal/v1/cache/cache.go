// Package cache implements spec.md §4.B's CacheLayer: a generic read-
// through/write-through cache fronting a Resource (the DB), with per-key
// single-flight loads so only one build runs per missing key.
package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/yummyio/yummy/internal/v1/metrics"
	"golang.org/x/sync/singleflight"
)

// Resource is the backing loader a Cache fronts — the DB collaborator for
// StateStore's user-information/user-metadata reads, per spec.md §4.B.
type Resource[K comparable, V any] interface {
	Load(ctx context.Context, key K) (V, error)
}

// ResourceFunc adapts a plain function to Resource.
type ResourceFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

func (f ResourceFunc[K, V]) Load(ctx context.Context, key K) (V, error) { return f(ctx, key) }

// Cache fronts a Resource[K,V] with single-flight reads, per-key via
// golang.org/x/sync/singleflight rather than a hand-rolled mutex map — the
// ecosystem-standard tool for exactly this contract (SPEC_FULL.md §9).
type Cache[K comparable, V any] struct {
	resource Resource[K, V]
	name     string

	mu    sync.RWMutex
	items map[K]V

	group singleflight.Group
}

// New builds a Cache fronting resource. name labels the cache's
// hit/miss metrics (yummy_cache_hits_total{resource=name} etc).
func New[K comparable, V any](name string, resource Resource[K, V]) *Cache[K, V] {
	return &Cache[K, V]{
		resource: resource,
		name:     name,
		items:    make(map[K]V),
	}
}

// Get returns the cached value if present; otherwise it invokes the
// resource under a per-key single-flight lock, caches the result, and
// returns it. Concurrent Gets for the same missing key share one load.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, error) {
	c.mu.RLock()
	if v, ok := c.items[key]; ok {
		c.mu.RUnlock()
		metrics.CacheHits.WithLabelValues(c.name).Inc()
		return v, nil
	}
	c.mu.RUnlock()

	metrics.CacheMisses.WithLabelValues(c.name).Inc()

	groupKey := fmtKey(key)
	v, err, _ := c.group.Do(groupKey, func() (any, error) {
		// Re-check: another goroutine may have populated the cache while we
		// were waiting to enter the singleflight group.
		c.mu.RLock()
		if cached, ok := c.items[key]; ok {
			c.mu.RUnlock()
			return cached, nil
		}
		c.mu.RUnlock()

		loaded, err := c.resource.Load(ctx, key)
		if err != nil {
			return loaded, err
		}
		c.mu.Lock()
		c.items[key] = loaded
		c.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Set writes through: it updates the cached value directly without
// consulting the resource.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	c.items[key] = value
	c.mu.Unlock()
}

// Remove evicts key from the cache.
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Contains is a lock-free-to-the-caller presence check (internally still
// takes the read lock, but performs no loader work).
func (c *Cache[K, V]) Contains(key K) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.items[key]
	return ok
}

// Each yields a snapshot of (k,v) pairs for iteration, per spec.md §4.B.
func (c *Cache[K, V]) Each(fn func(K, V) bool) {
	c.mu.RLock()
	snapshot := make(map[K]V, len(c.items))
	for k, v := range c.items {
		snapshot[k] = v
	}
	c.mu.RUnlock()

	for k, v := range snapshot {
		if !fn(k, v) {
			return
		}
	}
}

// Sync is the point at which pending deferred writes are flushed before a
// consistent read (spec.md §4.B). This in-memory implementation has no
// deferred writes, so Sync is a no-op kept for interface parity with a
// future write-behind resource.
func (c *Cache[K, V]) Sync(context.Context) error { return nil }

func fmtKey[K comparable](key K) string {
	return toStringKey(any(key))
}

func toStringKey(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case interface{ String() string }:
		return t.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
