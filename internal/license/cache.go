package license

import (
	"sync"
	"time"
)

// cacheEntry is one cached signature-check outcome.
type cacheEntry struct {
	ok        bool
	cachedAt  time.Time
	expiresAt time.Time
}

// ResultCache is a bounded TTL cache for signature-check results.
// Signature verification is the only costly step of offline
// verification; expiry and program checks are always re-run. The
// cache is an explicit dependency injected into a Verifier, never a
// package-level singleton, so tests construct isolated instances.
type ResultCache struct {
	mu        sync.Mutex
	entries   map[string]cacheEntry
	ttl       time.Duration
	maxSize   int
	hitCount  int64
	missCount int64
}

// NewResultCache creates a cache holding at most maxSize entries for
// at most ttl each.
func NewResultCache(ttl time.Duration, maxSize int) *ResultCache {
	return &ResultCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Get retrieves a cached result.
func (c *ResultCache) Get(key string) (ok, hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists || time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		c.missCount++
		return false, false
	}
	c.hitCount++
	return entry.ok, true
}

// Set stores a result.
func (c *ResultCache) Set(key string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxSize <= 0 {
		return
	}
	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	now := time.Now()
	c.entries[key] = cacheEntry{
		ok:        ok,
		cachedAt:  now,
		expiresAt: now.Add(c.ttl),
	}
}

// Stats reports hit/miss counters and current size.
func (c *ResultCache) Stats() (hits, misses int64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hitCount, c.missCount, len(c.entries)
}

// evictOldest removes the oldest entry. Caller holds the lock.
func (c *ResultCache) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.cachedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.cachedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
