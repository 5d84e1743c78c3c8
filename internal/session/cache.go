package session

import (
	"sync"
	"time"
)

// CacheKey is the single logical resource held by the cache.
const CacheKey = "userData"

// CacheEntry is one cached fetch result.
type CacheEntry struct {
	Data      string
	Timestamp time.Time
}

// Cache is an in-memory TTL cache. Staleness is checked on read; nothing is
// swept in the background.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]CacheEntry
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]CacheEntry),
	}
}

// Get returns the entry for key while it is younger than the TTL.
func (c *Cache) Get(key string) (CacheEntry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return CacheEntry{}, false
	}
	if c.now().Sub(entry.Timestamp) >= c.ttl {
		return CacheEntry{}, false
	}
	return entry, true
}

// Put overwrites the entry for key, stamped with the current time.
func (c *Cache) Put(key, data string) CacheEntry {
	entry := CacheEntry{Data: data, Timestamp: c.now()}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return entry
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]CacheEntry)
	c.mu.Unlock()
}

// TTL returns the configured lifetime of an entry.
func (c *Cache) TTL() time.Duration { return c.ttl }
