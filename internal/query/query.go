// Package query serves read traffic: neighborhood traversal and top-K
// relevance ranking with the signal-fallback cascade. It never mutates the
// graph; it shares the store and calculator with the writer and consults
// the cache tiers in front of every expensive step.
package query

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/cache"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/metrics"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/semantic"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/store"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/weights"
)

// Options shapes one TopK call.
type Options struct {
	// Limit bounds the result list; 0 means DefaultLimit.
	Limit int
	// TypeFilter restricts results to one entity type when non-empty.
	TypeFilter string
	// Pinned entities always enter the candidate set.
	Pinned []string
	// SemanticLimit bounds the semantic gather; 0 means DefaultSemanticLimit.
	SemanticLimit int
	// SimilarityFloor for semantic candidates; 0 means DefaultSimilarityFloor.
	SimilarityFloor float64
}

const (
	DefaultLimit           = 20
	DefaultSemanticLimit   = 10
	DefaultSimilarityFloor = 0.6
	// DefaultHops bounds neighborhood traversal depth.
	DefaultHops = 2

	// Focus boosts are multiplicative on the combined relevance, applied
	// before the final clamp.
	focusNeighborBoost = 1.25
	focusTypeBoost     = 1.1
	conceptTermBoost   = 1.1
)

// Engine answers read queries. Safe for concurrent use.
type Engine struct {
	store   *store.Store
	index   *semantic.Index
	calc    *weights.Calculator
	hot     *cache.HotContextCache
	results *cache.QueryResultCache
	clock   func() time.Time
}

// New builds a query engine over the shared store. index may be nil when no
// embedding backend is configured; caches may be nil to disable that tier.
func New(s *store.Store, index *semantic.Index, calc *weights.Calculator, hot *cache.HotContextCache, results *cache.QueryResultCache, clock func() time.Time) *Engine {
	if calc == nil {
		calc = weights.MustCalculator()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Engine{store: s, index: index, calc: calc, hot: hot, results: results, clock: clock}
}

// Neighborhood walks breadth-first from an entity up to hops steps,
// returning the visited nodes and connecting edges ordered by combined
// weight within each hop. Single-hop lookups go through the hot-context
// cache.
func (e *Engine) Neighborhood(ctx context.Context, entityID string, hops int) (apptype.Neighborhood, error) {
	done := metrics.TimeOp("query_neighborhood")
	success := false
	defer func() { done(success) }()

	if hops <= 0 {
		hops = DefaultHops
	}
	cacheKey := fmt.Sprintf("%s|%d", entityID, hops)
	if e.hot != nil {
		if n, ok := e.hot.Get(cacheKey); ok {
			success = true
			return n, nil
		}
	}

	if _, err := e.store.GetNode(ctx, entityID); err != nil {
		return apptype.Neighborhood{}, err
	}

	visited := map[string]struct{}{entityID: {}}
	orderedIDs := []string{entityID}
	frontier := []string{entityID}
	var allEdges []apptype.GraphEdge
	seenEdge := make(map[string]struct{})

	for hop := 0; hop < hops && len(frontier) > 0; hop++ {
		edges, err := e.store.EdgesForNodes(ctx, frontier)
		if err != nil {
			return apptype.Neighborhood{}, fmt.Errorf("failed to expand hop %d from %s: %w", hop+1, entityID, err)
		}
		// Strongest connections first within the hop.
		sort.SliceStable(edges, func(i, j int) bool { return edges[i].Combined > edges[j].Combined })

		var next []string
		for _, edge := range edges {
			ek := edge.Source + "\x00" + edge.Target + "\x00" + string(edge.Kind)
			if _, dup := seenEdge[ek]; dup {
				continue
			}
			seenEdge[ek] = struct{}{}
			allEdges = append(allEdges, edge)
			for _, id := range []string{edge.Source, edge.Target} {
				if _, ok := visited[id]; !ok {
					visited[id] = struct{}{}
					orderedIDs = append(orderedIDs, id)
					next = append(next, id)
				}
			}
		}
		frontier = next
	}

	nodes, err := e.store.GetNodes(ctx, orderedIDs)
	if err != nil {
		return apptype.Neighborhood{}, fmt.Errorf("failed to load neighborhood nodes for %s: %w", entityID, err)
	}
	n := apptype.Neighborhood{Nodes: nodes, Edges: allEdges}
	if e.hot != nil {
		e.hot.Put(cacheKey, n)
	}
	success = true
	return n, nil
}

// candidate accumulates the best signal seen for one entity across sources.
type candidate struct {
	semantic   float64
	structural float64
	source     string
	node       *apptype.GraphNode
}

// TopK returns the most relevant entities for a query under an optional
// focus context. It gathers candidates from the focus neighborhood, pinned
// entities, and semantic search, degrading to keyword match and finally to
// recency/usage ordering; the result is empty only when the graph is.
func (e *Engine) TopK(ctx context.Context, queryText string, opts Options, focus *apptype.FocusContext) ([]apptype.RankedResult, error) {
	done := metrics.TimeOp("query_topk")
	success := false
	defer func() { done(success) }()

	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.SemanticLimit <= 0 {
		opts.SemanticLimit = DefaultSemanticLimit
	}
	if opts.SimilarityFloor <= 0 {
		opts.SimilarityFloor = DefaultSimilarityFloor
	}
	now := e.clock()
	focusValid := focus.ValidAt(now)

	var cacheKey string
	if e.results != nil {
		// Every option that can change the result list is part of the key.
		ctxKey := fmt.Sprintf("%s|%s|%d|%d|%g|%s",
			focus.ContextKey(), opts.TypeFilter, opts.Limit, opts.SemanticLimit, opts.SimilarityFloor, strings.Join(opts.Pinned, ","))
		cacheKey = e.results.Key(queryText, ctxKey)
		if cached, ok := e.results.Get(cacheKey); ok {
			success = true
			return cached, nil
		}
	}

	candidates := make(map[string]*candidate)
	merge := func(id, source string, sem, structural float64, node *apptype.GraphNode) {
		if id == "" {
			return
		}
		c, ok := candidates[id]
		if !ok {
			candidates[id] = &candidate{semantic: sem, structural: structural, source: source, node: node}
			return
		}
		// Keep the strongest signal per component; the source label follows
		// whichever contribution dominates.
		if sem > c.semantic {
			c.semantic = sem
			c.source = source
		}
		if structural > c.structural {
			c.structural = structural
		}
		if c.node == nil {
			c.node = node
		}
	}

	// (a) Focus neighborhood.
	focusNeighbors := make(map[string]struct{})
	if focusValid && focus.CenterEntity != "" {
		n, err := e.Neighborhood(ctx, focus.CenterEntity, 1)
		if err != nil {
			log.Printf("focus neighborhood for %s unavailable: %v", focus.CenterEntity, err)
		} else {
			byID := make(map[string]*apptype.GraphNode, len(n.Nodes))
			for i := range n.Nodes {
				byID[n.Nodes[i].EntityID] = &n.Nodes[i]
			}
			for _, edge := range n.Edges {
				other := edge.Target
				if other == focus.CenterEntity {
					other = edge.Source
				}
				if other == focus.CenterEntity {
					continue
				}
				focusNeighbors[other] = struct{}{}
				merge(other, "focus", edge.Weights.Semantic, edge.Weights.Structural, byID[other])
			}
		}
	}

	// (b) Pinned entities.
	if len(opts.Pinned) > 0 {
		nodes, err := e.store.GetNodes(ctx, opts.Pinned)
		if err != nil {
			log.Printf("pinned entities unavailable: %v", err)
		} else {
			for i := range nodes {
				merge(nodes[i].EntityID, "pinned", 0, e.calc.Structural(weights.StructuralRelation{Class: weights.RelExplicitLink}), &nodes[i])
			}
		}
	}

	// (c) Semantic search, degrading to (d) keyword match.
	semanticHits := 0
	if queryText != "" && e.index != nil && e.index.Available() {
		matches, err := e.index.Search(ctx, queryText, opts.SemanticLimit, opts.SimilarityFloor, opts.TypeFilter, "")
		if err != nil {
			log.Printf("semantic search unavailable, falling back to keyword match: %v", err)
			metrics.Default().IncCascadeFallback("semantic")
		} else {
			for _, m := range matches {
				merge(m.EntityID, "semantic", e.calc.Semantic(m.Similarity), 0, nil)
				semanticHits++
			}
		}
	}
	if queryText != "" && semanticHits == 0 {
		if e.index == nil || !e.index.Available() {
			log.Printf("no embedding backend configured, using keyword match")
			metrics.Default().IncCascadeFallback("semantic")
		}
		kw, err := e.store.KeywordSearch(ctx, queryText, opts.Limit)
		if err != nil {
			log.Printf("keyword match unavailable, falling back to structural signals: %v", err)
			metrics.Default().IncCascadeFallback("keyword")
		} else {
			for i := range kw {
				merge(kw[i].Node.EntityID, "keyword", e.calc.SemanticFromKeyword(kw[i].Score), 0, &kw[i].Node)
			}
		}
	}

	// Last resort: recency + usage ordering over whatever the graph holds.
	if len(candidates) == 0 {
		log.Printf("no candidates from focus/pinned/semantic/keyword, using recency and usage ordering")
		metrics.Default().IncCascadeFallback("recency_usage")
		recent, err := e.store.RecentNodes(ctx, opts.Limit)
		if err != nil {
			return nil, fmt.Errorf("recency fallback failed: %w", err)
		}
		for i := range recent {
			merge(recent[i].EntityID, "recency", 0, 0, &recent[i])
		}
	}

	results, err := e.score(ctx, candidates, opts, focus, focusValid, focusNeighbors, now)
	if err != nil {
		return nil, err
	}
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	if e.results != nil {
		e.results.Put(cacheKey, results)
	}
	success = true
	return results, nil
}

// score runs the weight calculator over every candidate, applies focus
// boosts, deduplicates, and sorts with the tie-break comparator.
func (e *Engine) score(ctx context.Context, candidates map[string]*candidate, opts Options, focus *apptype.FocusContext, focusValid bool, focusNeighbors map[string]struct{}, now time.Time) ([]apptype.RankedResult, error) {
	var missing []string
	for id, c := range candidates {
		if c.node == nil {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		nodes, err := e.store.GetNodes(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("failed to load candidate nodes: %w", err)
		}
		for i := range nodes {
			if c, ok := candidates[nodes[i].EntityID]; ok {
				c.node = &nodes[i]
			}
		}
	}

	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	eventCounts, err := e.store.AccessEventCountsFor(ctx, ids)
	if err != nil {
		log.Printf("Warning: access event counts unavailable, using raw counter: %v", err)
		eventCounts = nil
	}

	results := make([]apptype.RankedResult, 0, len(candidates))
	for id, c := range candidates {
		if c.node == nil {
			// Dangling reference (entity deleted between gather and score).
			continue
		}
		if opts.TypeFilter != "" && c.node.EntityType != opts.TypeFilter {
			continue
		}
		// The typed-event sigmoid is the better usage signal; the raw
		// counter covers entities recorded before type tracking.
		usage := e.calc.UsageFromCount(c.node.AccessCount)
		if events, ok := eventCounts[id]; ok {
			usage = e.calc.UsageFromEvents(events)
		}
		components := apptype.WeightComponents{
			Semantic:   c.semantic,
			Structural: c.structural,
			Recency:    e.calc.Recency(now.Sub(c.node.UpdatedAt)),
			Usage:      usage,
		}
		relevance := e.calc.Combine(components)
		if focusValid {
			relevance = e.applyFocusBoosts(relevance, c.node, focus, focusNeighbors)
		}
		results = append(results, apptype.RankedResult{
			EntityID:    id,
			EntityType:  c.node.EntityType,
			Title:       c.node.Title,
			Components:  components,
			Relevance:   relevance,
			UpdatedAt:   c.node.UpdatedAt,
			AccessCount: c.node.AccessCount,
			Source:      c.source,
		})
	}
	weights.SortResults(results)
	return results, nil
}

func (e *Engine) applyFocusBoosts(relevance float64, node *apptype.GraphNode, focus *apptype.FocusContext, focusNeighbors map[string]struct{}) float64 {
	if _, ok := focusNeighbors[node.EntityID]; ok {
		relevance *= focusNeighborBoost
	}
	if focus.Kind != "" && node.EntityType == focus.Kind {
		relevance *= focusTypeBoost
	}
	if len(focus.ConceptTerms) > 0 {
		title := strings.ToLower(node.Title)
		for _, term := range focus.ConceptTerms {
			if term != "" && strings.Contains(title, strings.ToLower(term)) {
				relevance *= conceptTermBoost
				break
			}
		}
	}
	if relevance > 1 {
		relevance = 1
	}
	return relevance
}
