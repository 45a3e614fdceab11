package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/embeddings"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/query"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/store"
)

func setupService(t *testing.T) (*Service, func()) {
	t.Helper()
	cfg := DefaultConfig()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	cfg.Store = store.NewConfig()
	cfg.Store.URL = "file:" + name + "?mode=memory&cache=shared"
	cfg.Store.EmbeddingDims = 4
	cfg.Provider = &embeddings.StaticProvider{N: 4}
	cfg.FocusDebounce = 20 * time.Millisecond
	cfg.Engine.DebounceWindow = 20 * time.Millisecond

	svc, err := New(cfg)
	require.NoError(t, err)
	cleanup := func() { assert.NoError(t, svc.Close()) }
	return svc, cleanup
}

func TestServiceApplyAndQuery(t *testing.T) {
	svc, cleanup := setupService(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, svc.Engine().ApplyNow(ctx, apptype.LifecycleEvent{
		EntityID: "note-1", EntityType: "content", Title: "Kubernetes migration notes",
	}))

	results, err := svc.Query(ctx, "kubernetes", query.Options{Limit: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "note-1", results[0].EntityID)
}

func TestServiceFocusDebounce(t *testing.T) {
	svc, cleanup := setupService(t)
	defer cleanup()

	focus := &apptype.FocusContext{Kind: "task", CenterEntity: "c", Timestamp: time.Now()}
	svc.SetFocus(focus)
	assert.Nil(t, svc.Focus(), "focus change waits out the debounce window")

	require.Eventually(t, func() bool {
		return svc.Focus() == focus
	}, time.Second, 5*time.Millisecond)
}

func TestServiceFocusDebounceCoalesces(t *testing.T) {
	svc, cleanup := setupService(t)
	defer cleanup()

	first := &apptype.FocusContext{CenterEntity: "first", Timestamp: time.Now()}
	last := &apptype.FocusContext{CenterEntity: "last", Timestamp: time.Now()}
	svc.SetFocus(first)
	svc.SetFocus(last)

	require.Eventually(t, func() bool {
		return svc.Focus() == last
	}, time.Second, 5*time.Millisecond)
	assert.NotEqual(t, first, svc.Focus())
}

func TestServiceQueryCacheInvalidatedOnMutation(t *testing.T) {
	svc, cleanup := setupService(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, svc.Engine().ApplyNow(ctx, apptype.LifecycleEvent{
		EntityID: "doc", EntityType: "content", Title: "Original release title",
	}))

	first, err := svc.Query(ctx, "release", query.Options{Limit: 5})
	require.NoError(t, err)
	require.Len(t, first, 1)

	// The mutation notification invalidates the cached result list.
	require.NoError(t, svc.Engine().ApplyNow(ctx, apptype.LifecycleEvent{
		EntityID: "doc", EntityType: "content", Title: "Renamed completely",
	}))

	require.Eventually(t, func() bool {
		results, qErr := svc.Query(ctx, "release", query.Options{Limit: 5})
		if qErr != nil {
			return false
		}
		// Once the stale entry is gone, the renamed doc only appears via
		// the recency fallback.
		return len(results) == 1 && results[0].Source == "recency"
	}, time.Second, 10*time.Millisecond)
}

func TestServiceRebuildFromHistory(t *testing.T) {
	svc, cleanup := setupService(t)
	defer cleanup()
	ctx := context.Background()

	events := []apptype.LifecycleEvent{
		{EntityID: "a", EntityType: "content", Title: "Alpha"},
		{EntityID: "b", EntityType: "task", Title: "Beta",
			Relationships: []apptype.DeclaredRelationship{{TargetID: "a", Kind: apptype.EdgeKindExplicit}}},
	}
	require.NoError(t, svc.Rebuild(ctx, events))

	count, err := svc.NodeCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	n, err := svc.Neighborhood(ctx, "b", 1)
	require.NoError(t, err)
	assert.Len(t, n.Nodes, 2)
	assert.Len(t, n.Edges, 1)
}

func TestServiceLayout(t *testing.T) {
	svc, cleanup := setupService(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, svc.Rebuild(ctx, []apptype.LifecycleEvent{
		{EntityID: "hub", EntityType: "content", Title: "Hub"},
		{EntityID: "spoke", EntityType: "content", Title: "Spoke",
			Relationships: []apptype.DeclaredRelationship{{TargetID: "hub", Kind: apptype.EdgeKindExplicit}}},
	}))

	positions, err := svc.Layout(ctx, "hub", 1)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	for _, p := range positions {
		if p.EntityID == "hub" {
			assert.Zero(t, p.X)
			assert.Zero(t, p.Y)
		}
	}
}
