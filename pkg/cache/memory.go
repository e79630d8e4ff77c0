package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache keeps entries in process memory. The server uses it in front
// of Redis, and on its own when no shared cache is configured.
type MemoryCache struct {
	cache *gocache.Cache
}

// NewMemoryCache creates a memory cache. Entries stored with a zero ttl
// expire after defaultTTL; expired entries are purged every cleanupInterval.
func NewMemoryCache(defaultTTL, cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{
		cache: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get implements [Cache].
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	if val, found := c.cache.Get(key); found {
		return val.([]byte), true, nil
	}
	return nil, false, nil
}

// Set implements [Cache].
func (c *MemoryCache) Set(_ context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	c.cache.Set(key, data, ttl)
	return nil
}

// Delete implements [Cache].
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.cache.Delete(key)
	return nil
}

// Len returns the number of entries, including expired ones not yet purged.
func (c *MemoryCache) Len() int {
	return c.cache.ItemCount()
}

// Clear removes every entry.
func (c *MemoryCache) Clear() error {
	c.cache.Flush()
	return nil
}

// Close implements [Cache].
func (c *MemoryCache) Close() error {
	return nil
}

var _ Cache = (*MemoryCache)(nil)
