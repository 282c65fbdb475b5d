package apiclient

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryCacheStats holds counters for a MemoryCache.
type MemoryCacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int
}

type memoryEntry struct {
	response  *Response
	expiresAt time.Time
}

// MemoryCache is a bounded in-process Cache. When full, the entry that
// expires soonest is evicted to make room.
type MemoryCache struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]memoryEntry
	stats   MemoryCacheStats
	now     func() time.Time
}

// NewMemoryCache creates a MemoryCache holding at most maxSize entries. A
// maxSize of zero or less means unbounded.
func NewMemoryCache(maxSize int) *MemoryCache {
	return &MemoryCache{
		maxSize: maxSize,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns the response stored under key, or ErrCacheMiss.
func (c *MemoryCache) Get(ctx context.Context, key string) (*Response, error) {
	resp, _, err := c.Lookup(ctx, key)

	return resp, err
}

// Lookup is Get that also reports the entry's expiry.
func (c *MemoryCache) Lookup(_ context.Context, key string) (*Response, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.stats.Misses++

		return nil, time.Time{}, ErrCacheMiss
	}

	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		c.stats.Misses++

		return nil, time.Time{}, fmt.Errorf("%w: entry expired", ErrCacheMiss)
	}

	c.stats.Hits++

	return entry.response, entry.expiresAt, nil
}

// Set stores resp under key until expiresAt. A zero expiresAt falls back to
// the response Expires header; responses without one are not stored.
func (c *MemoryCache) Set(_ context.Context, key string, resp *Response, expiresAt time.Time) error {
	expiresAt, ok, err := ResolveExpiry(resp, expiresAt)
	if err != nil || !ok {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.maxSize > 0 && len(c.entries) >= c.maxSize {
		c.evictLocked()
	}

	c.entries[key] = memoryEntry{response: resp, expiresAt: expiresAt}

	return nil
}

// Has reports whether an unexpired entry exists for key.
func (c *MemoryCache) Has(_ context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]

	return ok && c.now().Before(entry.expiresAt)
}

// Delete removes key.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)

	return nil
}

// Clear removes every entry.
func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]memoryEntry)

	return nil
}

// Cleanup removes expired entries and returns how many were removed.
func (c *MemoryCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0

	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)

			removed++
		}
	}

	return removed
}

// StartCleanup runs Cleanup every interval until ctx is done.
func (c *MemoryCache) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Cleanup()
			}
		}
	}()
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *MemoryCache) Stats() MemoryCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Entries = len(c.entries)

	return stats
}

func (c *MemoryCache) evictLocked() {
	var (
		victim   string
		earliest time.Time
		found    bool
	)

	for key, entry := range c.entries {
		if !found || entry.expiresAt.Before(earliest) {
			victim = key
			earliest = entry.expiresAt
			found = true
		}
	}

	if found {
		delete(c.entries, victim)
		c.stats.Evictions++
	}
}

// NoOpCache is a cache that does nothing (no caching).
type NoOpCache struct{}

// NewNoOpCache creates a new no-op cache.
func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

// Get always returns ErrCacheDisabled.
func (c *NoOpCache) Get(context.Context, string) (*Response, error) {
	return nil, ErrCacheDisabled
}

// Set does nothing.
func (c *NoOpCache) Set(context.Context, string, *Response, time.Time) error {
	return nil
}

// CacheChain implements a chain of cache backends (L1, L2, etc.)
type CacheChain struct {
	caches []Cache
}

// NewCacheChain creates a new cache chain.
func NewCacheChain(caches ...Cache) *CacheChain {
	return &CacheChain{
		caches: caches,
	}
}

// Get retrieves an item from the first cache that has it. Earlier caches are
// back-filled with the expiry reported by the hit level, or the response
// Expires header when that level cannot report one.
func (c *CacheChain) Get(ctx context.Context, key string) (*Response, error) {
	resp, _, err := c.Lookup(ctx, key)

	return resp, err
}

// Lookup is Get that also reports the expiry of the hit, zero when unknown.
func (c *CacheChain) Lookup(ctx context.Context, key string) (*Response, time.Time, error) {
	for i, cache := range c.caches {
		resp, expiresAt, err := lookup(ctx, cache, key)
		if err != nil || resp == nil {
			continue
		}

		for j := range i {
			_ = c.caches[j].Set(ctx, key, resp, expiresAt)
		}

		return resp, expiresAt, nil
	}

	return nil, time.Time{}, fmt.Errorf("%w in any cache", ErrCacheMiss)
}

// Levels returns the caches of the chain in lookup order.
func (c *CacheChain) Levels() []Cache {
	return append([]Cache(nil), c.caches...)
}

func lookup(ctx context.Context, cache Cache, key string) (*Response, time.Time, error) {
	if expiring, ok := cache.(ExpiryLookup); ok {
		return expiring.Lookup(ctx, key)
	}

	resp, err := cache.Get(ctx, key)

	return resp, time.Time{}, err
}

// Set stores an item in all caches and returns the last failure, if any.
func (c *CacheChain) Set(ctx context.Context, key string, resp *Response, expiresAt time.Time) error {
	var lastErr error

	for _, cache := range c.caches {
		err := cache.Set(ctx, key, resp, expiresAt)
		if err != nil {
			lastErr = err
		}
	}

	return lastErr
}
