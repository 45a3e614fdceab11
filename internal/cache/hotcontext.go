package cache

import (
	"sync"
	"time"

	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/metrics"
)

// HotContextCache holds the entity neighborhoods around the user's current
// focus. Short TTL, small bound, invalidated wholesale on focus change.
type HotContextCache struct {
	mu      sync.Mutex
	clock   Clock
	ttl     time.Duration
	maxSize int
	entries map[string]hotEntry
}

type hotEntry struct {
	neighborhood apptype.Neighborhood
	storedAt     time.Time
}

// NewHotContextCache creates a hot-context cache. Defaults: TTL 60s, 50
// entries.
func NewHotContextCache(ttl time.Duration, maxSize int, clock Clock) *HotContextCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if maxSize <= 0 {
		maxSize = 50
	}
	if clock == nil {
		clock = SystemClock
	}
	return &HotContextCache{
		clock:   clock,
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]hotEntry),
	}
}

// Get returns the cached neighborhood for an entity if present and fresh.
func (c *HotContextCache) Get(entityID string) (apptype.Neighborhood, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[entityID]
	if !ok {
		metrics.Default().IncCacheMiss("hot_context")
		return apptype.Neighborhood{}, false
	}
	if c.clock().Sub(entry.storedAt) > c.ttl {
		delete(c.entries, entityID)
		metrics.Default().IncCacheMiss("hot_context")
		return apptype.Neighborhood{}, false
	}
	metrics.Default().IncCacheHit("hot_context")
	return entry.neighborhood, true
}

// Put stores a neighborhood. When full, the stalest entry makes room.
func (c *HotContextCache) Put(entityID string, n apptype.Neighborhood) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxSize {
		var oldestKey string
		var oldestAt time.Time
		first := true
		for key, entry := range c.entries {
			if first || entry.storedAt.Before(oldestAt) {
				oldestKey, oldestAt, first = key, entry.storedAt, false
			}
		}
		delete(c.entries, oldestKey)
	}
	c.entries[entityID] = hotEntry{neighborhood: n, storedAt: c.clock()}
}

// InvalidateAll drops every entry; called when the focus changes.
func (c *HotContextCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]hotEntry)
}

// Len reports the number of cached neighborhoods.
func (c *HotContextCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
