// Package service wires the store, engine, query path, caches, and focus
// tracking into one object. The MCP server and the public facade both sit
// on top of it.
package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/cache"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/embeddings"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/engine"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/layout"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/query"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/semantic"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/store"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/weights"
)

// Config collects every tunable of the assembled service.
type Config struct {
	Store   *store.Config
	Weights weights.Config
	Engine  engine.Config
	Layout  layout.Config

	// FocusDebounce delays focus swaps so rapid navigation does not thrash
	// the hot-context cache.
	FocusDebounce time.Duration
	// PageRankInterval schedules centrality recomputation; 0 disables it.
	PageRankInterval time.Duration

	HotContextTTL    time.Duration
	HotContextSize   int
	QueryResultTTL   time.Duration
	QueryResultSize  int
	EmbeddingTTL     time.Duration
	EmbeddingSize    int

	// Provider overrides env-based embedding provider selection; leave nil
	// to use EMBEDDINGS_PROVIDER.
	Provider embeddings.Provider

	Clock func() time.Time
}

// DefaultConfig returns a config with every calibrated default filled in.
func DefaultConfig() *Config {
	return &Config{
		Store:            store.NewConfig(),
		Weights:          weights.DefaultConfig(),
		Engine:           engine.DefaultConfig(),
		Layout:           layout.DefaultConfig(),
		FocusDebounce:    300 * time.Millisecond,
		PageRankInterval: 0,
		HotContextTTL:    60 * time.Second,
		HotContextSize:   50,
		QueryResultTTL:   5 * time.Minute,
		QueryResultSize:  100,
		EmbeddingTTL:     time.Hour,
		EmbeddingSize:    1000,
		Clock:            time.Now,
	}
}

// Service is the assembled relevance graph. Safe for concurrent use.
type Service struct {
	cfg     *Config
	store   *store.Store
	engine  *engine.Engine
	queries *query.Engine
	index   *semantic.Index
	hot     *cache.HotContextCache
	results *cache.QueryResultCache

	focusMu      sync.Mutex
	focus        *apptype.FocusContext
	pendingFocus *time.Timer

	notifCancel func()
	notifDone   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// New assembles a service from config. Pass nil for all defaults.
func New(cfg *Config) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Store == nil {
		cfg.Store = store.NewConfig()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.FocusDebounce <= 0 {
		cfg.FocusDebounce = 300 * time.Millisecond
	}
	if cfg.Weights == (weights.Config{}) {
		cfg.Weights = weights.DefaultConfig()
	}

	calc, err := weights.NewCalculator(cfg.Weights)
	if err != nil {
		return nil, fmt.Errorf("invalid weight config: %w", err)
	}

	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph store: %w", err)
	}

	provider := cfg.Provider
	if provider == nil {
		provider = embeddings.NewFromEnv()
	}
	if provider == nil {
		log.Printf("no embedding provider configured, semantic signal disabled")
	} else if provider.Dimensions() != cfg.Store.EmbeddingDims {
		provider = embeddings.WrapToDims(provider, cfg.Store.EmbeddingDims, "")
	}

	embedCache := cache.NewEmbeddingCache(cfg.EmbeddingTTL, cfg.EmbeddingSize, cache.Clock(cfg.Clock))
	hot := cache.NewHotContextCache(cfg.HotContextTTL, cfg.HotContextSize, cache.Clock(cfg.Clock))
	results := cache.NewQueryResultCache(cfg.QueryResultTTL, cfg.QueryResultSize, cache.Clock(cfg.Clock))

	index := semantic.NewIndex(st, provider, embedCache)

	engCfg := cfg.Engine
	if engCfg.Clock == nil {
		engCfg.Clock = cfg.Clock
	}
	eng := engine.New(st, index, calc, engCfg)
	queries := query.New(st, index, calc, hot, results, cfg.Clock)

	s := &Service{
		cfg:       cfg,
		store:     st,
		engine:    eng,
		queries:   queries,
		index:     index,
		hot:       hot,
		results:   results,
		notifDone: make(chan struct{}),
	}

	// The query-result cache subscribes for per-entry invalidation.
	ch, cancel := eng.Subscribe()
	s.notifCancel = cancel
	go func() {
		defer close(s.notifDone)
		for n := range ch {
			results.InvalidateEntity(n.EntityID)
		}
	}()

	if cfg.PageRankInterval > 0 {
		eng.StartPageRankTimer(cfg.PageRankInterval)
	}
	return s, nil
}

// Store exposes the underlying store, mainly for health output and tests.
func (s *Service) Store() *store.Store { return s.store }

// Engine exposes the writer for advanced callers.
func (s *Service) Engine() *engine.Engine { return s.engine }

// SemanticAvailable reports whether an embedding provider is configured.
func (s *Service) SemanticAvailable() bool { return s.index.Available() }

// ApplyEvent schedules one lifecycle event through the debounced writer.
func (s *Service) ApplyEvent(ctx context.Context, event apptype.LifecycleEvent) error {
	return s.engine.Apply(ctx, event)
}

// ApplyEvents schedules a batch of lifecycle events.
func (s *Service) ApplyEvents(ctx context.Context, events []apptype.LifecycleEvent) error {
	for i := range events {
		if err := s.engine.Apply(ctx, events[i]); err != nil {
			return fmt.Errorf("event %d (%s): %w", i, events[i].EntityID, err)
		}
	}
	return nil
}

// Flush pushes every debounced event through immediately.
func (s *Service) Flush(ctx context.Context) error { return s.engine.Flush(ctx) }

// Rebuild replays a full event history into the store.
func (s *Service) Rebuild(ctx context.Context, events []apptype.LifecycleEvent) error {
	s.results.InvalidateAll()
	s.hot.InvalidateAll()
	return s.engine.Rebuild(ctx, events)
}

// Query runs a ranked top-K retrieval under the current focus.
func (s *Service) Query(ctx context.Context, text string, opts query.Options) ([]apptype.RankedResult, error) {
	return s.queries.TopK(ctx, text, opts, s.Focus())
}

// Neighborhood traverses from an entity up to hops steps.
func (s *Service) Neighborhood(ctx context.Context, entityID string, hops int) (apptype.Neighborhood, error) {
	return s.queries.Neighborhood(ctx, entityID, hops)
}

// Layout places a neighborhood around its focal entity.
func (s *Service) Layout(ctx context.Context, entityID string, hops int) ([]layout.Position, error) {
	n, err := s.queries.Neighborhood(ctx, entityID, hops)
	if err != nil {
		return nil, err
	}
	positions := layout.Compute(entityID, n, s.cfg.Layout)
	hints := make(map[string][2]float64, len(positions))
	for _, p := range positions {
		hints[p.EntityID] = [2]float64{p.X, p.Y}
	}
	if err := s.store.SetLayoutHints(ctx, hints); err != nil {
		log.Printf("Warning: failed to persist layout hints: %v", err)
	}
	return positions, nil
}

// RecentNodes returns the most recently updated nodes.
func (s *Service) RecentNodes(ctx context.Context, limit int) ([]apptype.GraphNode, error) {
	return s.store.RecentNodes(ctx, limit)
}

// TopByPageRank returns the most central nodes.
func (s *Service) TopByPageRank(ctx context.Context, limit int) ([]apptype.GraphNode, error) {
	return s.store.TopByPageRank(ctx, limit)
}

// RunPageRank recomputes centrality scores now.
func (s *Service) RunPageRank(ctx context.Context) error { return s.engine.RunPageRank(ctx) }

// RecordAccess bumps usage counters for an entity.
func (s *Service) RecordAccess(ctx context.Context, entityID string, typ apptype.AccessEventType) error {
	return s.engine.RecordAccess(ctx, entityID, typ)
}

// SetFocus schedules a focus change. Changes debounce so rapid navigation
// does not thrash the hot-context cache; the swap invalidates it wholesale.
func (s *Service) SetFocus(focus *apptype.FocusContext) {
	s.focusMu.Lock()
	defer s.focusMu.Unlock()
	if s.pendingFocus != nil {
		s.pendingFocus.Stop()
	}
	s.pendingFocus = time.AfterFunc(s.cfg.FocusDebounce, func() {
		s.focusMu.Lock()
		s.focus = focus
		s.focusMu.Unlock()
		s.hot.InvalidateAll()
	})
}

// SetFocusNow applies a focus change immediately; used by tests and the
// rebuild path.
func (s *Service) SetFocusNow(focus *apptype.FocusContext) {
	s.focusMu.Lock()
	if s.pendingFocus != nil {
		s.pendingFocus.Stop()
		s.pendingFocus = nil
	}
	s.focus = focus
	s.focusMu.Unlock()
	s.hot.InvalidateAll()
}

// Focus returns the current focus context, which may be nil or stale;
// staleness is judged by the query path at read time.
func (s *Service) Focus() *apptype.FocusContext {
	s.focusMu.Lock()
	defer s.focusMu.Unlock()
	return s.focus
}

// Subscribe exposes change notifications for cache-aware consumers.
func (s *Service) Subscribe() (<-chan apptype.ChangeNotification, func()) {
	return s.engine.Subscribe()
}

// NodeCount reports the number of live nodes.
func (s *Service) NodeCount(ctx context.Context) (int, error) {
	return s.store.NodeCount(ctx)
}

// Close shuts the writer down and releases the store.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.focusMu.Lock()
		if s.pendingFocus != nil {
			s.pendingFocus.Stop()
			s.pendingFocus = nil
		}
		s.focusMu.Unlock()

		err := s.engine.Close()
		s.notifCancel()
		<-s.notifDone
		if cErr := s.store.Close(); cErr != nil && err == nil {
			err = cErr
		}
		s.closeErr = err
	})
	return s.closeErr
}
