package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/metrics"
)

// QueryResultCache maps (query string + context key) to ranked result lists.
// LRU-bounded with a per-entry TTL; an entry is invalidated the moment any
// entity it contains is mutated.
type QueryResultCache struct {
	mu      sync.Mutex
	clock   Clock
	ttl     time.Duration
	maxSize int
	order   *list.List // front = most recent
	entries map[string]*list.Element
}

type queryEntry struct {
	key      string
	results  []apptype.RankedResult
	contains map[string]struct{}
	storedAt time.Time
}

// NewQueryResultCache creates a query-result cache. Defaults: TTL 5m, 100
// entries.
func NewQueryResultCache(ttl time.Duration, maxSize int, clock Clock) *QueryResultCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = 100
	}
	if clock == nil {
		clock = SystemClock
	}
	return &QueryResultCache{
		clock:   clock,
		ttl:     ttl,
		maxSize: maxSize,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// Key builds the cache key for a query under a focus context.
func (c *QueryResultCache) Key(query, contextKey string) string {
	return query + "\x00" + contextKey
}

// Get returns cached results if present and fresh, refreshing LRU order.
func (c *QueryResultCache) Get(key string) ([]apptype.RankedResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[key]
	if !ok {
		metrics.Default().IncCacheMiss("query_result")
		return nil, false
	}
	entry := elem.Value.(*queryEntry)
	if c.clock().Sub(entry.storedAt) > c.ttl {
		c.removeLocked(elem)
		metrics.Default().IncCacheMiss("query_result")
		return nil, false
	}
	c.order.MoveToFront(elem)
	metrics.Default().IncCacheHit("query_result")
	out := make([]apptype.RankedResult, len(entry.results))
	copy(out, entry.results)
	return out, true
}

// Put stores a result list, evicting the least recently used entry when full.
func (c *QueryResultCache) Put(key string, results []apptype.RankedResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}
	for c.order.Len() >= c.maxSize {
		back := c.order.Back()
		if back == nil {
			break
		}
		c.removeLocked(back)
	}
	contains := make(map[string]struct{}, len(results))
	for _, r := range results {
		contains[r.EntityID] = struct{}{}
	}
	stored := make([]apptype.RankedResult, len(results))
	copy(stored, results)
	entry := &queryEntry{key: key, results: stored, contains: contains, storedAt: c.clock()}
	c.entries[key] = c.order.PushFront(entry)
}

// InvalidateEntity removes every entry whose result list contains the
// mutated entity.
func (c *QueryResultCache) InvalidateEntity(entityID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var stale []*list.Element
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*queryEntry)
		if _, ok := entry.contains[entityID]; ok {
			stale = append(stale, elem)
		}
	}
	for _, elem := range stale {
		c.removeLocked(elem)
	}
}

// InvalidateAll drops every entry.
func (c *QueryResultCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element)
}

// Len reports the number of cached result lists.
func (c *QueryResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *QueryResultCache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*queryEntry)
	c.order.Remove(elem)
	delete(c.entries, entry.key)
}
