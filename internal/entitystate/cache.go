package entitystate

import (
	"sync"
	"time"
)

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// Cache holds the last value read for each key for at most ttl. A zero ttl disables it.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]cacheEntry
	ttl     time.Duration
	clock   func() time.Time
}

// NewCache constructs a Cache.
func NewCache(ttl time.Duration, clock func() time.Time) *Cache {
	if clock == nil {
		clock = time.Now
	}
	return &Cache{entries: make(map[Key]cacheEntry), ttl: ttl, clock: clock}
}

// Get returns the cached value for key when it has not expired.
func (c *Cache) Get(key Key) (any, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.clock().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.value, true
}

// Set stores value for key.
func (c *Cache) Set(key Key, value any) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, expiresAt: c.clock().Add(c.ttl)}
	c.mu.Unlock()
}

// Invalidate drops key.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
