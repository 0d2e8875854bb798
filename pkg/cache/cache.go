package cache

import (
	"sync"
	"time"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// Cache is a typed in-memory cache with per-entry TTL. It is the
// in-process layer in front of the shared Redis cache; entries are small
// and short-lived, so there is no eviction beyond expiry.
type Cache[T any] struct {
	mu    sync.RWMutex
	items map[string]entry[T]
}

// New creates a new cache
func New[T any]() *Cache[T] {
	return &Cache[T]{items: map[string]entry[T]{}}
}

// Set stores a value in the cache with a given TTL
func (c *Cache[T]) Set(key string, value T, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry[T]{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
}

// Get retrieves a value from the cache if it hasn't expired
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var zero T
	e, exists := c.items[key]
	if !exists {
		return zero, false
	}
	if time.Now().After(e.expiresAt) {
		return zero, false
	}
	return e.value, true
}

// Delete removes a key from the cache
func (c *Cache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear removes all items from the cache
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = map[string]entry[T]{}
}
