package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/apptype"
)

// fakeClock is a hand-advanced clock for TTL tests.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time          { return f.now }
func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func TestHotContextCacheTTLAndWholesaleInvalidation(t *testing.T) {
	clk := newFakeClock()
	c := NewHotContextCache(60*time.Second, 50, clk.Now)

	n := apptype.Neighborhood{Nodes: []apptype.GraphNode{{EntityID: "a", EntityType: "idea"}}}
	c.Put("a", n)

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", got.Nodes[0].EntityID)

	clk.Advance(61 * time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry should expire after TTL")

	c.Put("a", n)
	c.Put("b", n)
	c.InvalidateAll()
	assert.Zero(t, c.Len())
}

func TestHotContextCacheBound(t *testing.T) {
	clk := newFakeClock()
	c := NewHotContextCache(time.Minute, 3, clk.Now)
	for i := 0; i < 5; i++ {
		clk.Advance(time.Second)
		c.Put(fmt.Sprintf("n%d", i), apptype.Neighborhood{})
	}
	assert.Equal(t, 3, c.Len())
	// The stalest entries were pushed out.
	_, ok := c.Get("n0")
	assert.False(t, ok)
	_, ok = c.Get("n4")
	assert.True(t, ok)
}

func TestQueryResultCachePerEntityInvalidation(t *testing.T) {
	clk := newFakeClock()
	c := NewQueryResultCache(5*time.Minute, 100, clk.Now)

	keyA := c.Key("alpha", "idea|")
	keyB := c.Key("beta", "idea|")
	c.Put(keyA, []apptype.RankedResult{{EntityID: "x"}, {EntityID: "y"}})
	c.Put(keyB, []apptype.RankedResult{{EntityID: "z"}})

	// Mutating x only invalidates the entry containing x.
	c.InvalidateEntity("x")
	_, ok := c.Get(keyA)
	assert.False(t, ok)
	_, ok = c.Get(keyB)
	assert.True(t, ok)
}

func TestQueryResultCacheTTLAndLRU(t *testing.T) {
	clk := newFakeClock()
	c := NewQueryResultCache(5*time.Minute, 2, clk.Now)

	c.Put("q1", []apptype.RankedResult{{EntityID: "a"}})
	c.Put("q2", []apptype.RankedResult{{EntityID: "b"}})

	// Touch q1 so q2 is the LRU victim.
	_, ok := c.Get("q1")
	require.True(t, ok)
	c.Put("q3", []apptype.RankedResult{{EntityID: "c"}})
	_, ok = c.Get("q2")
	assert.False(t, ok)
	_, ok = c.Get("q1")
	assert.True(t, ok)

	clk.Advance(6 * time.Minute)
	_, ok = c.Get("q1")
	assert.False(t, ok, "entry should expire after TTL")
}

func TestQueryResultCacheReturnsCopy(t *testing.T) {
	clk := newFakeClock()
	c := NewQueryResultCache(time.Minute, 10, clk.Now)
	c.Put("q", []apptype.RankedResult{{EntityID: "a", Relevance: 0.5}})

	got, ok := c.Get("q")
	require.True(t, ok)
	got[0].Relevance = 0.9

	again, ok := c.Get("q")
	require.True(t, ok)
	assert.InDelta(t, 0.5, again[0].Relevance, 1e-12)
}

func TestEmbeddingCacheKeyedByContentHash(t *testing.T) {
	clk := newFakeClock()
	c := NewEmbeddingCache(time.Hour, 1000, clk.Now)

	key := HashText("some note body")
	c.Put(key, []float32{0.1, 0.2, 0.3, 0.4})

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Len(t, got, 4)

	// Changed content hashes to a different key: a natural miss.
	_, ok = c.Get(HashText("some note body, edited"))
	assert.False(t, ok)

	clk.Advance(2 * time.Hour)
	_, ok = c.Get(key)
	assert.False(t, ok, "vector should age out after TTL")
}

func TestEmbeddingCacheBound(t *testing.T) {
	clk := newFakeClock()
	c := NewEmbeddingCache(time.Hour, 3, clk.Now)
	for i := 0; i < 6; i++ {
		c.Put(HashText(fmt.Sprintf("text-%d", i)), []float32{float32(i)})
	}
	assert.Equal(t, 3, c.Len())
}
