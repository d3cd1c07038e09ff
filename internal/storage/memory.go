package storage

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache keeps entries in process memory. It does not survive a
// restart; it exists for tests and for running without a durable backend.
type MemoryCache struct {
	cache *gocache.Cache
}

func NewMemoryCache() *MemoryCache {
	// Expired entries are purged every 10 minutes; reads of expired keys
	// already return nothing before the purge runs.
	return &MemoryCache{
		cache: gocache.New(gocache.NoExpiration, 10*time.Minute),
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	v, found := c.cache.Get(key)
	if !found {
		return nil, false
	}
	return v.([]byte), true
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	// go-cache reads a non-positive duration as "never expires"; an entry
	// whose TTL has already elapsed must not be stored at all.
	if ttl <= 0 {
		c.cache.Delete(key)
		return
	}
	c.cache.Set(key, value, ttl)
}

func (c *MemoryCache) Close() error {
	return nil
}
