package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	id        int64
	expiresAt time.Time
}

// InMemoryLookupCache implements LookupCache with a TTL map.
// Expired entries are dropped on access.
type InMemoryLookupCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
}

// NewInMemoryLookupCache creates an in-memory cache. A non-positive ttl uses DefaultTTL.
func NewInMemoryLookupCache(ttl time.Duration) *InMemoryLookupCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &InMemoryLookupCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

func cacheKey(namespace, key string) string {
	return namespace + "\x00" + key
}

// Get returns the cached id
func (c *InMemoryLookupCache) Get(ctx context.Context, namespace, key string) (int64, bool, error) {
	k := cacheKey(namespace, key)
	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false, nil
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, k)
		c.mu.Unlock()
		return 0, false, nil
	}
	return e.id, true, nil
}

// Set stores an id
func (c *InMemoryLookupCache) Set(ctx context.Context, namespace, key string, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(namespace, key)] = entry{id: id, expiresAt: c.now().Add(c.ttl)}
	return nil
}

// Delete forgets a key
func (c *InMemoryLookupCache) Delete(ctx context.Context, namespace, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(namespace, key))
	return nil
}

// Size returns the number of entries, expired ones included (for testing/monitoring)
func (c *InMemoryLookupCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close is a no-op
func (c *InMemoryLookupCache) Close() error { return nil }

var _ LookupCache = (*InMemoryLookupCache)(nil)
