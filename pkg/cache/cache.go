// Package cache provides the process-wide TTL-keyed in-memory store shared
// by extraction and resolution calls.
package cache

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

type entry struct {
	value    any
	storedAt time.Time
	ttl      time.Duration
}

// Cache is a mutex-guarded map with per-entry TTLs. There is no
// invalidation API beyond expiry; callers that mutate persisted state
// must overwrite the corresponding entry via Set.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time

	done chan struct{}
	once sync.Once
}

// New creates a cache and starts a background sweep that drops expired
// entries so the map stays bounded.
func New(sweepInterval time.Duration) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if sweepInterval > 0 {
		go c.sweep(sweepInterval)
	}
	return c
}

// Key builds a composite cache key from an operation name and its
// normalized arguments (query text lower-cased, page number, sort order).
func Key(op string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, op)
	for _, a := range args {
		parts = append(parts, strings.ToLower(strings.TrimSpace(a)))
	}
	return strings.Join(parts, ":")
}

// PageKey is Key with a trailing page number argument.
func PageKey(op string, page int, args ...string) string {
	return Key(op, append(args, strconv.Itoa(page))...)
}

// Get returns the cached value for key, or ok=false on miss or expiry.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.storedAt) >= e.ttl {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with the given TTL, overwriting any
// previous entry.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, storedAt: c.now(), ttl: ttl}
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop terminates the background sweep.
func (c *Cache) Stop() {
	c.once.Do(func() { close(c.done) })
}

func (c *Cache) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			now := c.now()
			c.mu.Lock()
			for k, e := range c.entries {
				if now.Sub(e.storedAt) >= e.ttl {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
