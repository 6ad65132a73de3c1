package cache

import (
	"sync"
	"time"
)

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// TTLCache is a mutex-guarded key/value store where every entry expires.
// A background janitor reaps dead entries so abandoned keys do not leak.
type TTLCache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	defaultTTL time.Duration
	janitor    *time.Ticker
	done       chan struct{}
	closeOnce  sync.Once
}

// New creates a cache whose entries live for defaultTTL unless SetWithTTL
// overrides it per key. sweepInterval controls how often the janitor runs.
func New(defaultTTL, sweepInterval time.Duration) *TTLCache {
	c := &TTLCache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		janitor:    time.NewTicker(sweepInterval),
		done:       make(chan struct{}),
	}

	go func() {
		for {
			select {
			case <-c.janitor.C:
				c.sweep()
			case <-c.done:
				return
			}
		}
	}()

	return c
}

// Get returns the live value for key. Expired entries count as misses even
// before the janitor has removed them.
func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with the default TTL.
func (c *TTLCache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores value under key with an explicit lifetime.
func (c *TTLCache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
}

// Delete removes a single key.
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear drops every entry.
func (c *TTLCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Len counts stored entries, expired ones included until the janitor runs.
func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the janitor. The cache stays usable, entries just linger
// until overwritten or cleared.
func (c *TTLCache) Close() {
	c.closeOnce.Do(func() {
		c.janitor.Stop()
		close(c.done)
	})
}

func (c *TTLCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}
