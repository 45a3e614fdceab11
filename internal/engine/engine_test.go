package engine

import (
	"context"
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

func setupEngine(t *testing.T, provider embeddings.Provider) (*Engine, *store.Store, func()) {
	t.Helper()
	config := store.NewConfig()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	config.URL = "file:" + name + "?mode=memory&cache=shared"
	config.EmbeddingDims = 4
	s, err := store.Open(config)
	require.NoError(t, err)

	index := semantic.NewIndex(s, provider, cache.NewEmbeddingCache(0, 0, nil))
	cfg := DefaultConfig()
	cfg.DebounceWindow = 50 * time.Millisecond
	e := New(s, index, nil, cfg)

	cleanup := func() {
		assert.NoError(t, e.Close())
		assert.NoError(t, s.Close())
	}
	return e, s, cleanup
}

func TestApplyCreatesNodeAndEdges(t *testing.T) {
	e, s, cleanup := setupEngine(t, nil)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, e.ApplyNow(ctx, apptype.LifecycleEvent{
		EntityID: "target", EntityType: "content", Title: "Target",
	}))
	require.NoError(t, e.ApplyNow(ctx, apptype.LifecycleEvent{
		EntityID:   "source",
		EntityType: "task",
		Title:      "Source",
		Relationships: []apptype.DeclaredRelationship{
			{TargetID: "target", Kind: apptype.EdgeKindExplicit},
		},
	}))

	node, err := s.GetNode(ctx, "source")
	require.NoError(t, err)
	assert.Equal(t, "task", node.EntityType)
	assert.Equal(t, 1, node.OutDegree)

	edges, err := s.EdgesFor(ctx, "source", "")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, apptype.EdgeKindExplicit, edges[0].Kind)
	// Explicit link carries full structural weight and fresh recency.
	assert.InDelta(t, 1.0, edges[0].Weights.Structural, 1e-9)
	assert.InDelta(t, 0.35, edges[0].Combined, 1e-9) // 0.25*1.0 + 0.10*1.0
}

func TestApplyRelationshipDiffRemovesUndeclaredEdges(t *testing.T) {
	e, s, cleanup := setupEngine(t, nil)
	defer cleanup()
	ctx := context.Background()

	for _, id := range []string{"x", "y"} {
		require.NoError(t, e.ApplyNow(ctx, apptype.LifecycleEvent{EntityID: id, EntityType: "content", Title: id}))
	}
	require.NoError(t, e.ApplyNow(ctx, apptype.LifecycleEvent{
		EntityID: "src", EntityType: "content", Title: "Src",
		Relationships: []apptype.DeclaredRelationship{
			{TargetID: "x", Kind: apptype.EdgeKindExplicit},
			{TargetID: "y", Kind: apptype.EdgeKindConceptual},
		},
	}))

	// Re-declare with only one relationship: the other edge goes away and
	// degree counters follow.
	require.NoError(t, e.ApplyNow(ctx, apptype.LifecycleEvent{
		EntityID: "src", EntityType: "content", Title: "Src",
		Relationships: []apptype.DeclaredRelationship{
			{TargetID: "x", Kind: apptype.EdgeKindExplicit},
		},
	}))

	edges, err := s.EdgesFor(ctx, "src", "")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "x", edges[0].Target)

	src, err := s.GetNode(ctx, "src")
	require.NoError(t, err)
	assert.Equal(t, 1, src.OutDegree)
	y, err := s.GetNode(ctx, "y")
	require.NoError(t, err)
	assert.Zero(t, y.InDegree)
}

func TestDeleteLeavesNeighborDegreesNetZero(t *testing.T) {
	e, s, cleanup := setupEngine(t, nil)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, e.ApplyNow(ctx, apptype.LifecycleEvent{EntityID: "e", EntityType: "content", Title: "E"}))
	before, err := s.GetNode(ctx, "e")
	require.NoError(t, err)

	require.NoError(t, e.ApplyNow(ctx, apptype.LifecycleEvent{EntityID: "f", EntityType: "content", Title: "F"}))
	require.NoError(t, e.ApplyNow(ctx, apptype.LifecycleEvent{
		EntityID: "e", EntityType: "content", Title: "E",
		Relationships: []apptype.DeclaredRelationship{
			{TargetID: "f", Kind: apptype.EdgeKindExplicit},
		},
	}))

	require.NoError(t, e.ApplyNow(ctx, apptype.LifecycleEvent{EntityID: "f", DeletedFlag: true}))

	after, err := s.GetNode(ctx, "e")
	require.NoError(t, err)
	assert.Equal(t, before.InDegree, after.InDegree)
	assert.Equal(t, before.OutDegree, after.OutDegree)
	_, err = s.GetNode(ctx, "f")
	assert.Error(t, err)
}

func TestDebounceCoalescesRapidEdits(t *testing.T) {
	e, s, cleanup := setupEngine(t, nil)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, e.Apply(ctx, apptype.LifecycleEvent{
			EntityID: "burst", EntityType: "content", Title: "Burst",
		}))
	}
	// Nothing lands until the window elapses.
	_, err := s.GetNode(ctx, "burst")
	assert.Error(t, err)

	require.Eventually(t, func() bool {
		_, err := s.GetNode(ctx, "burst")
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestFlushAppliesPendingImmediately(t *testing.T) {
	e, s, cleanup := setupEngine(t, nil)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, e.Apply(ctx, apptype.LifecycleEvent{
		EntityID: "pending", EntityType: "content", Title: "Pending",
	}))
	require.NoError(t, e.Flush(ctx))
	_, err := s.GetNode(ctx, "pending")
	assert.NoError(t, err)
}

func TestSemanticDiscoveryLinksSimilarContent(t *testing.T) {
	provider := &embeddings.StaticProvider{N: 4}
	e, s, cleanup := setupEngine(t, provider)
	defer cleanup()
	ctx := context.Background()

	// Identical text produces identical vectors under the static provider,
	// so the second node discovers the first at similarity ~1.0.
	require.NoError(t, e.ApplyNow(ctx, apptype.LifecycleEvent{
		EntityID: "n1", EntityType: "content", Title: "Gravity notes",
		Content: "same text", ContentChanged: true,
	}))
	require.NoError(t, e.ApplyNow(ctx, apptype.LifecycleEvent{
		EntityID: "n2", EntityType: "content", Title: "Gravity notes",
		Content: "same text", ContentChanged: true,
	}))

	edges, err := s.EdgesFor(ctx, "n2", apptype.EdgeKindSemantic)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "n1", edges[0].Target)
	assert.Greater(t, edges[0].Weights.Semantic, 0.99)
}

func TestChangeNotifications(t *testing.T) {
	e, _, cleanup := setupEngine(t, nil)
	defer cleanup()
	ctx := context.Background()

	ch, cancel := e.Subscribe()
	defer cancel()

	require.NoError(t, e.ApplyNow(ctx, apptype.LifecycleEvent{
		EntityID: "watched", EntityType: "content", Title: "Watched",
	}))

	select {
	case n := <-ch:
		assert.Equal(t, "watched", n.EntityID)
		assert.NotEmpty(t, n.ID)
	case <-time.After(time.Second):
		t.Fatal("expected a change notification")
	}
}

func TestRecordAccessBumpsUsage(t *testing.T) {
	e, s, cleanup := setupEngine(t, nil)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, e.ApplyNow(ctx, apptype.LifecycleEvent{
		EntityID: "seen", EntityType: "content", Title: "Seen",
	}))
	require.NoError(t, e.RecordAccess(ctx, "seen", apptype.AccessView))
	require.NoError(t, e.RecordAccess(ctx, "seen", apptype.AccessEdit))
	require.NoError(t, e.RecordAccess(ctx, "seen", apptype.AccessEdit))

	node, err := s.GetNode(ctx, "seen")
	require.NoError(t, err)
	assert.Equal(t, 3, node.AccessCount)

	// The event type survives into the per-type tally.
	counts, err := s.AccessEventCountsFor(ctx, []string{"seen"})
	require.NoError(t, err)
	require.Contains(t, counts, "seen")
	assert.Equal(t, 1, counts["seen"][apptype.AccessView])
	assert.Equal(t, 2, counts["seen"][apptype.AccessEdit])
}

func TestRebuildReplaysHistory(t *testing.T) {
	e, s, cleanup := setupEngine(t, nil)
	defer cleanup()
	ctx := context.Background()

	events := []apptype.LifecycleEvent{
		{EntityID: "a", EntityType: "content", Title: "A"},
		{EntityID: "b", EntityType: "content", Title: "B",
			Relationships: []apptype.DeclaredRelationship{{TargetID: "a", Kind: apptype.EdgeKindExplicit}}},
		{EntityID: "c", EntityType: "content", Title: "C"},
		{EntityID: "c", DeletedFlag: true},
	}
	require.NoError(t, e.Rebuild(ctx, events))

	count, err := s.NodeCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Rebuild finishes with a PageRank pass; scores are populated.
	a, err := s.GetNode(ctx, "a")
	require.NoError(t, err)
	assert.Greater(t, a.PageRank, 0.0)
}

func TestPageRankFavorsLinkedNode(t *testing.T) {
	e, s, cleanup := setupEngine(t, nil)
	defer cleanup()
	ctx := context.Background()

	// hub receives links from three nodes; it must outrank its linkers.
	require.NoError(t, e.ApplyNow(ctx, apptype.LifecycleEvent{EntityID: "hub", EntityType: "content", Title: "Hub"}))
	for _, id := range []string{"s1", "s2", "s3"} {
		require.NoError(t, e.ApplyNow(ctx, apptype.LifecycleEvent{
			EntityID: id, EntityType: "content", Title: id,
			Relationships: []apptype.DeclaredRelationship{{TargetID: "hub", Kind: apptype.EdgeKindExplicit}},
		}))
	}
	require.NoError(t, e.RunPageRank(ctx))

	hub, err := s.GetNode(ctx, "hub")
	require.NoError(t, err)
	s1, err := s.GetNode(ctx, "s1")
	require.NoError(t, err)
	assert.Greater(t, hub.PageRank, s1.PageRank)

	// Same graph, same iteration count: reproducible scores.
	firstRun := hub.PageRank
	require.NoError(t, e.RunPageRank(ctx))
	hub, err = s.GetNode(ctx, "hub")
	require.NoError(t, err)
	assert.InDelta(t, firstRun, hub.PageRank, 1e-12)
}
