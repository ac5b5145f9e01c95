// Package cache is a process-local TTL cache with read-through loading.
//
// Entries are never persisted. Expired entries are invisible immediately and
// removed by a janitor goroutine on a fixed interval.
package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// Loader fetches a value on cache miss.
type Loader[T any] func(ctx context.Context) (T, error)

// Cache stores values of type T keyed by string.
type Cache[T any] struct {
	c     *gocache.Cache
	ttl   time.Duration
	group singleflight.Group
}

// New creates a cache whose entries live for ttl by default and are pruned
// every cleanupInterval.
func New[T any](ttl, cleanupInterval time.Duration) *Cache[T] {
	return &Cache[T]{
		c:   gocache.New(ttl, cleanupInterval),
		ttl: ttl,
	}
}

// Get returns the cached value for key, if present and unexpired.
func (c *Cache[T]) Get(key string) (T, bool) {
	v, ok := c.c.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// Set stores v under key. A non-positive ttl uses the cache default.
func (c *Cache[T]) Set(key string, v T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.c.Set(key, v, ttl)
}

// Delete removes key.
func (c *Cache[T]) Delete(key string) {
	c.c.Delete(key)
}

// Len returns the number of stored items, including expired ones the janitor
// has not pruned yet.
func (c *Cache[T]) Len() int {
	return c.c.ItemCount()
}

// GetOrLoad returns the cached value or calls load, caching a successful
// result. Concurrent misses for the same key share a single load.
// Errors are not cached.
func (c *Cache[T]) GetOrLoad(ctx context.Context, key string, load Loader[T]) (T, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	res, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		c.Set(key, v, 0)
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}
