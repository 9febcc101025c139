package market

import (
	"sync"
	"time"
)

type cacheEntry struct {
	value    any
	storedAt time.Time
}

// ttlCache is a capacity-bounded map with per-entry expiry. When full, the
// oldest entry is evicted. It replaces the process-global dictionaries the
// scanner and monitor would otherwise hammer.
type ttlCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	maxItems int
	items    map[string]cacheEntry
	nowFn    func() time.Time
}

func newTTLCache(ttl time.Duration, maxItems int) *ttlCache {
	if maxItems <= 0 {
		maxItems = 512
	}
	return &ttlCache{
		ttl:      ttl,
		maxItems: maxItems,
		items:    make(map[string]cacheEntry),
		nowFn:    time.Now,
	}
}

func (c *ttlCache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if c.nowFn().Sub(entry.storedAt) > c.ttl {
		delete(c.items, key)
		return nil, false
	}
	return entry.value, true
}

func (c *ttlCache) set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) >= c.maxItems {
		var oldestKey string
		var oldestAt time.Time
		for k, e := range c.items {
			if oldestKey == "" || e.storedAt.Before(oldestAt) {
				oldestKey = k
				oldestAt = e.storedAt
			}
		}
		delete(c.items, oldestKey)
	}
	c.items[key] = cacheEntry{value: value, storedAt: c.nowFn()}
}
