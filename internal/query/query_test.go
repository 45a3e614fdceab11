package query

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/cache"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/embeddings"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/semantic"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/store"
)

func setupQuery(t *testing.T, provider embeddings.Provider) (*Engine, *store.Store, func()) {
	t.Helper()
	config := store.NewConfig()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	config.URL = "file:" + name + "?mode=memory&cache=shared"
	config.EmbeddingDims = 4
	s, err := store.Open(config)
	require.NoError(t, err)

	index := semantic.NewIndex(s, provider, cache.NewEmbeddingCache(0, 0, nil))
	hot := cache.NewHotContextCache(0, 0, nil)
	results := cache.NewQueryResultCache(0, 0, nil)
	q := New(s, index, nil, hot, results, nil)

	cleanup := func() { assert.NoError(t, s.Close()) }
	return q, s, cleanup
}

func addNode(t *testing.T, s *store.Store, id, typ, title string, updated time.Time) {
	t.Helper()
	require.NoError(t, s.UpsertNode(context.Background(), &apptype.GraphNode{
		EntityID:   id,
		EntityType: typ,
		Title:      title,
		CreatedAt:  updated,
		UpdatedAt:  updated,
	}))
}

func TestNeighborhoodOrdersByWeightAndRespectsHops(t *testing.T) {
	q, s, cleanup := setupQuery(t, nil)
	defer cleanup()
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"center", "near", "far", "faraway"} {
		addNode(t, s, id, "content", id, now)
	}
	require.NoError(t, s.UpsertEdge(ctx, &apptype.GraphEdge{
		Source: "center", Target: "near", Kind: apptype.EdgeKindExplicit, Directed: true, Combined: 0.9,
	}))
	require.NoError(t, s.UpsertEdge(ctx, &apptype.GraphEdge{
		Source: "center", Target: "far", Kind: apptype.EdgeKindConceptual, Directed: true, Combined: 0.2,
	}))
	require.NoError(t, s.UpsertEdge(ctx, &apptype.GraphEdge{
		Source: "far", Target: "faraway", Kind: apptype.EdgeKindExplicit, Directed: true, Combined: 0.5,
	}))

	n, err := q.Neighborhood(ctx, "center", 1)
	require.NoError(t, err)
	assert.Len(t, n.Nodes, 3, "one hop reaches near and far only")
	require.Len(t, n.Edges, 2)
	assert.Equal(t, "near", n.Edges[0].Target, "strongest edge first")

	n, err = q.Neighborhood(ctx, "center", 2)
	require.NoError(t, err)
	assert.Len(t, n.Nodes, 4)
	assert.Len(t, n.Edges, 3)
}

func TestNeighborhoodUnknownEntity(t *testing.T) {
	q, _, cleanup := setupQuery(t, nil)
	defer cleanup()
	_, err := q.Neighborhood(context.Background(), "ghost", 1)
	assert.Error(t, err)
}

func TestTopKKeywordFallbackWithoutProvider(t *testing.T) {
	q, s, cleanup := setupQuery(t, nil)
	defer cleanup()
	ctx := context.Background()
	now := time.Now()

	addNode(t, s, "rel-1", "content", "Release checklist", now)
	addNode(t, s, "rel-2", "task", "Release retro", now)
	addNode(t, s, "other", "content", "Groceries", now)

	results, err := q.TopK(ctx, "release", Options{Limit: 10}, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "keyword", r.Source)
		assert.Greater(t, r.Relevance, 0.0)
	}
}

func TestTopKRecencyFallbackNeverEmpty(t *testing.T) {
	q, s, cleanup := setupQuery(t, nil)
	defer cleanup()
	ctx := context.Background()
	now := time.Now()

	addNode(t, s, "a", "content", "Alpha", now)
	addNode(t, s, "b", "content", "Beta", now.Add(-time.Hour))

	// No keyword hits at all: recency/usage ordering still serves.
	results, err := q.TopK(ctx, "zzzzzz", Options{Limit: 10}, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "recency", results[0].Source)
	assert.Equal(t, "a", results[0].EntityID, "fresher node ranks first on recency")
}

func TestTopKEmptyGraph(t *testing.T) {
	q, _, cleanup := setupQuery(t, nil)
	defer cleanup()
	results, err := q.TopK(context.Background(), "anything", Options{}, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestTopKSemanticOutranksStructuralOnly(t *testing.T) {
	provider := &embeddings.StaticProvider{N: 4}
	q, s, cleanup := setupQuery(t, provider)
	defer cleanup()
	ctx := context.Background()
	now := time.Now()

	// Node A: strong semantic match for the query. Node B: explicit link
	// from the focus center but stale. A must outrank B.
	addNode(t, s, "a", "content", "A", now)
	addNode(t, s, "b", "content", "B", now.Add(-90*24*time.Hour))
	addNode(t, s, "center", "content", "Center", now)
	require.NoError(t, s.UpsertEdge(ctx, &apptype.GraphEdge{
		Source: "center", Target: "b", Kind: apptype.EdgeKindExplicit, Directed: true,
		Weights: apptype.WeightComponents{Structural: 1.0}, Combined: 0.25,
	}))

	queryText := "the exact same text"
	vecs, err := provider.Embed(ctx, []string{queryText})
	require.NoError(t, err)
	require.NoError(t, s.SetNodeEmbedding(ctx, "a", vecs[0], now))

	focus := &apptype.FocusContext{CenterEntity: "center", Timestamp: now}
	results, err := q.TopK(ctx, queryText, Options{Limit: 10}, focus)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	positions := make(map[string]int)
	for i, r := range results {
		positions[r.EntityID] = i
	}
	require.Contains(t, positions, "a")
	require.Contains(t, positions, "b")
	assert.Less(t, positions["a"], positions["b"])
	assert.Equal(t, "semantic", results[positions["a"]].Source)
}

func TestTopKDeterministicOrdering(t *testing.T) {
	q, s, cleanup := setupQuery(t, nil)
	defer cleanup()
	ctx := context.Background()
	now := time.Now()

	// Identical relevance inputs: type priority then title decide.
	addNode(t, s, "n-idea", "idea", "Same name", now)
	addNode(t, s, "n-task", "task", "Same name", now)
	addNode(t, s, "n-research", "research", "Same name", now)

	first, err := q.TopK(ctx, "same name", Options{Limit: 10}, nil)
	require.NoError(t, err)
	second, err := q.TopK(ctx, "same name", Options{Limit: 10}, nil)
	require.NoError(t, err)
	require.Equal(t, first, second)

	require.Len(t, first, 3)
	assert.Equal(t, "n-task", first[0].EntityID)
	assert.Equal(t, "n-idea", first[1].EntityID)
	assert.Equal(t, "n-research", first[2].EntityID)
}

func TestTopKTypeFilter(t *testing.T) {
	q, s, cleanup := setupQuery(t, nil)
	defer cleanup()
	ctx := context.Background()
	now := time.Now()

	addNode(t, s, "t1", "task", "Ship release", now)
	addNode(t, s, "c1", "content", "Release notes", now)

	results, err := q.TopK(ctx, "release", Options{Limit: 10, TypeFilter: "task"}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "t1", results[0].EntityID)
}

func TestTopKPinnedAlwaysPresent(t *testing.T) {
	q, s, cleanup := setupQuery(t, nil)
	defer cleanup()
	ctx := context.Background()
	now := time.Now()

	addNode(t, s, "pinned-1", "content", "Nothing to do with the query", now)
	addNode(t, s, "match", "content", "Budget spreadsheet", now)

	results, err := q.TopK(ctx, "budget", Options{Limit: 10, Pinned: []string{"pinned-1"}}, nil)
	require.NoError(t, err)

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.EntityID
	}
	assert.Contains(t, ids, "pinned-1")
	assert.Contains(t, ids, "match")
}

func TestTopKUsesResultCache(t *testing.T) {
	q, s, cleanup := setupQuery(t, nil)
	defer cleanup()
	ctx := context.Background()
	now := time.Now()

	addNode(t, s, "a", "content", "Cached title", now)

	first, err := q.TopK(ctx, "cached", Options{Limit: 10}, nil)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Mutate behind the cache; the cached list still serves until
	// invalidated.
	require.NoError(t, s.UpsertNode(ctx, &apptype.GraphNode{
		EntityID: "a", EntityType: "content", Title: "Renamed", CreatedAt: now, UpdatedAt: now,
	}))
	second, err := q.TopK(ctx, "cached", Options{Limit: 10}, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	q.results.InvalidateEntity("a")
	third, err := q.TopK(ctx, "cached", Options{Limit: 10}, nil)
	require.NoError(t, err)
	// Renamed node no longer keyword-matches; the recency fallback serves it.
	require.Len(t, third, 1)
	assert.Equal(t, "recency", third[0].Source)
}

func TestTopKUsageFromTypedEvents(t *testing.T) {
	q, s, cleanup := setupQuery(t, nil)
	defer cleanup()
	ctx := context.Background()
	now := time.Now()

	// Identical keyword score and recency; only recorded accesses differ.
	addNode(t, s, "zeta", "content", "Meeting notes", now)
	addNode(t, s, "alpha", "content", "Meeting notes", now)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordAccessEvent(ctx, "zeta", apptype.AccessEdit, now))
	}

	results, err := q.TopK(ctx, "meeting", Options{Limit: 10}, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// The edit-heavy node wins despite losing the id tie-break, and its
	// usage component comes from the typed-event sigmoid (five edits at
	// weight 1.0 against the center of 3), not the raw-counter log form.
	assert.Equal(t, "zeta", results[0].EntityID)
	assert.InDelta(t, 1.0/(1.0+math.Exp(3.0-5.0)), results[0].Components.Usage, 1e-9)
	assert.Zero(t, results[1].Components.Usage)
}

func TestTopKCacheKeyedBySimilarityFloor(t *testing.T) {
	provider := &embeddings.StaticProvider{N: 4}
	q, s, cleanup := setupQuery(t, provider)
	defer cleanup()
	ctx := context.Background()
	now := time.Now()

	queryVecs, err := provider.Embed(ctx, []string{"anchor phrase"})
	require.NoError(t, err)
	v := queryVecs[0]

	addNode(t, s, "anchor", "content", "Anchor", now)
	addNode(t, s, "adjacent", "content", "Adjacent", now)
	require.NoError(t, s.SetNodeEmbedding(ctx, "anchor", v, now))
	// A vector at cosine 0.8 to the query: in between the two floors below.
	require.NoError(t, s.SetNodeEmbedding(ctx, "adjacent", atCosine(v, 0.8), now))

	strict, err := q.TopK(ctx, "anchor phrase", Options{Limit: 10, SimilarityFloor: 0.9}, nil)
	require.NoError(t, err)
	require.Len(t, strict, 1)
	assert.Equal(t, "anchor", strict[0].EntityID)

	// Loosening the floor must not be served from the strict call's cache
	// entry.
	loose, err := q.TopK(ctx, "anchor phrase", Options{Limit: 10, SimilarityFloor: 0.7}, nil)
	require.NoError(t, err)
	require.Len(t, loose, 2)
}

// atCosine builds a unit vector at the given cosine similarity to unit
// vector v.
func atCosine(v []float32, cos float64) []float32 {
	// Pick the axis least aligned with v and project v out of it.
	axis := 0
	for i := range v {
		if abs32(v[i]) < abs32(v[axis]) {
			axis = i
		}
	}
	w := make([]float32, len(v))
	w[axis] = 1
	var dot float64
	for i := range v {
		dot += float64(w[i]) * float64(v[i])
	}
	var norm float64
	for i := range v {
		w[i] -= float32(dot * float64(v[i]))
		norm += float64(w[i]) * float64(w[i])
	}
	norm = math.Sqrt(norm)
	sin := math.Sqrt(1 - cos*cos)
	out := make([]float32, len(v))
	for i := range v {
		out[i] = float32(cos*float64(v[i]) + sin*float64(w[i])/norm)
	}
	return out
}

func abs32(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}

func BenchmarkTopKKeywordPath(b *testing.B) {
	config := store.NewConfig()
	config.URL = "file:benchtopk?mode=memory&cache=shared"
	config.EmbeddingDims = 4
	s, err := store.Open(config)
	if err != nil {
		b.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	now := time.Now()
	for i := 0; i < 200; i++ {
		node := &apptype.GraphNode{
			EntityID:   "node-" + strings.Repeat("x", i%5) + string(rune('a'+i%26)),
			EntityType: "content",
			Title:      "Benchmark entry",
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.UpsertNode(ctx, node); err != nil {
			b.Fatal(err)
		}
	}
	q := New(s, nil, nil, nil, nil, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := q.TopK(ctx, "benchmark", Options{Limit: 20}, nil); err != nil {
			b.Fatal(err)
		}
	}
}
