package promptcache

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"foodlog/internal/metrics"
)

// MemoryCache is an in-process Cache used when Redis is not configured
type MemoryCache struct {
	store *cache.Cache
}

// NewMemoryCache creates a memory cache with the standard TTL
func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithTTL(TTL)
}

// NewMemoryCacheWithTTL creates a memory cache with a custom TTL
func NewMemoryCacheWithTTL(ttl time.Duration) *MemoryCache {
	return &MemoryCache{store: cache.New(ttl, time.Hour)}
}

// Get returns the cached completion if present
func (c *MemoryCache) Get(_ context.Context, key Key) (string, bool, error) {
	value, found := c.store.Get(key.String())
	if !found {
		metrics.RecordPromptCache("miss")
		return "", false, nil
	}
	metrics.RecordPromptCache("hit")
	return value.(string), true, nil
}

// Put stores a completion
func (c *MemoryCache) Put(_ context.Context, key Key, value string) error {
	c.store.SetDefault(key.String(), value)
	return nil
}

// Len returns the number of cached entries
func (c *MemoryCache) Len() int {
	return c.store.ItemCount()
}
