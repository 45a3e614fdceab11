package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/metrics"
)

// EmbeddingCache maps a content hash to its embedding vector. Keys derive
// from the text itself, so a content change naturally misses; stale vectors
// age out via TTL.
type EmbeddingCache struct {
	mu      sync.Mutex
	clock   Clock
	ttl     time.Duration
	maxSize int
	order   *list.List
	entries map[string]*list.Element
}

type embeddingEntry struct {
	key      string
	vector   []float32
	storedAt time.Time
}

// NewEmbeddingCache creates an embedding cache. Defaults: TTL 1h, 1000
// entries.
func NewEmbeddingCache(ttl time.Duration, maxSize int, clock Clock) *EmbeddingCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if maxSize <= 0 {
		maxSize = 1000
	}
	if clock == nil {
		clock = SystemClock
	}
	return &EmbeddingCache{
		clock:   clock,
		ttl:     ttl,
		maxSize: maxSize,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// HashText derives the cache key for a piece of content.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached vector for a content hash if present and fresh.
func (c *EmbeddingCache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[key]
	if !ok {
		metrics.Default().IncCacheMiss("embedding")
		return nil, false
	}
	entry := elem.Value.(*embeddingEntry)
	if c.clock().Sub(entry.storedAt) > c.ttl {
		c.order.Remove(elem)
		delete(c.entries, key)
		metrics.Default().IncCacheMiss("embedding")
		return nil, false
	}
	c.order.MoveToFront(elem)
	metrics.Default().IncCacheHit("embedding")
	out := make([]float32, len(entry.vector))
	copy(out, entry.vector)
	return out, true
}

// Put stores a vector under a content hash, evicting the least recently
// used entry when full.
func (c *EmbeddingCache) Put(key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.order.Remove(elem)
		delete(c.entries, key)
	}
	for c.order.Len() >= c.maxSize {
		back := c.order.Back()
		if back == nil {
			break
		}
		entry := back.Value.(*embeddingEntry)
		c.order.Remove(back)
		delete(c.entries, entry.key)
	}
	stored := make([]float32, len(vector))
	copy(stored, vector)
	c.entries[key] = c.order.PushFront(&embeddingEntry{key: key, vector: stored, storedAt: c.clock()})
}

// Len reports the number of cached vectors.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
