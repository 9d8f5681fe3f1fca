package utils

import (
	"sync"
	"time"
)

// DedupCache remembers the last value published per key and reports whether a
// new value is worth sending: it changed, or the previous one is older than ttl.
type DedupCache struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	data map[string]entry
}

type entry struct {
	v  string
	at time.Time
}

// NewDedupCache creates a cache with the given TTL. If ttl <= 0, it defaults to 1h.
func NewDedupCache(ttl time.Duration, now func() time.Time) *DedupCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if now == nil {
		now = time.Now
	}
	return &DedupCache{ttl: ttl, now: now, data: make(map[string]entry, 8)}
}

// Fresh stores v under key and reports true when v differs from the cached
// value or the cached value expired. Repeats inside the TTL report false and
// do not refresh the timestamp.
func (c *DedupCache) Fresh(key, v string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now()
	e, ok := c.data[key]
	if ok && e.v == v && t.Sub(e.at) < c.ttl {
		return false
	}
	c.data[key] = entry{v: v, at: t}
	return true
}

// Forget drops key so the next value is always fresh.
func (c *DedupCache) Forget(key string) {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
}
