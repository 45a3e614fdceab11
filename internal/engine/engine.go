// Package engine is the single writer of the relevance graph. Every
// mutation — lifecycle events, access recording, PageRank write-backs —
// flows through one goroutine owning the command queue, so readers always
// observe a consistent snapshot and writers never race. Reads go straight
// to the store.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/metrics"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/semantic"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/store"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/weights"
)

// Config collects the engine's tunables with calibrated defaults.
type Config struct {
	// DebounceWindow coalesces rapid edits to the same entity.
	DebounceWindow time.Duration
	// DiscoveryLimit and DiscoveryFloor bound semantic edge discovery.
	DiscoveryLimit int
	DiscoveryFloor float64
	// PageRankIterations and PageRankDamping drive the scheduled power
	// iteration.
	PageRankIterations int
	PageRankDamping    float64
	// QueueDepth bounds the command queue.
	QueueDepth int
	// Clock is injectable for tests.
	Clock func() time.Time
}

// DefaultConfig returns the calibrated engine configuration.
func DefaultConfig() Config {
	return Config{
		DebounceWindow:     500 * time.Millisecond,
		DiscoveryLimit:     10,
		DiscoveryFloor:     0.6,
		PageRankIterations: 20,
		PageRankDamping:    0.85,
		QueueDepth:         256,
		Clock:              time.Now,
	}
}

type command struct {
	run   func(ctx context.Context) error
	reply chan error
}

// Engine owns all graph writes. Construct with New, stop with Close.
type Engine struct {
	store *store.Store
	index *semantic.Index
	calc  *weights.Calculator
	cfg   Config

	commands chan command
	done     chan struct{}
	wg       sync.WaitGroup

	debounceMu sync.Mutex
	pending    map[string]*pendingEvent
	closed     bool

	subMu       sync.Mutex
	subscribers map[int]chan apptype.ChangeNotification
	nextSubID   int

	prTimerMu sync.Mutex
	prStop    chan struct{}
}

type pendingEvent struct {
	timer *time.Timer
	event apptype.LifecycleEvent
}

// New starts the engine's writer goroutine.
func New(s *store.Store, index *semantic.Index, calc *weights.Calculator, cfg Config) *Engine {
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = 500 * time.Millisecond
	}
	if cfg.DiscoveryLimit <= 0 {
		cfg.DiscoveryLimit = 10
	}
	if cfg.DiscoveryFloor <= 0 {
		cfg.DiscoveryFloor = 0.6
	}
	if cfg.PageRankIterations <= 0 {
		cfg.PageRankIterations = 20
	}
	if cfg.PageRankDamping <= 0 || cfg.PageRankDamping >= 1 {
		cfg.PageRankDamping = 0.85
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if calc == nil {
		calc = weights.MustCalculator()
	}
	e := &Engine{
		store:       s,
		index:       index,
		calc:        calc,
		cfg:         cfg,
		commands:    make(chan command, cfg.QueueDepth),
		done:        make(chan struct{}),
		pending:     make(map[string]*pendingEvent),
		subscribers: make(map[int]chan apptype.ChangeNotification),
	}
	e.wg.Add(1)
	go e.loop()
	return e
}

// Store exposes the underlying store for read paths.
func (e *Engine) Store() *store.Store { return e.store }

// Calculator exposes the weight calculator shared with the query layer.
func (e *Engine) Calculator() *weights.Calculator { return e.calc }

// Index exposes the semantic index, which may be backed by no provider.
func (e *Engine) Index() *semantic.Index { return e.index }

func (e *Engine) loop() {
	defer e.wg.Done()
	for {
		select {
		case cmd := <-e.commands:
			err := cmd.run(context.Background())
			if cmd.reply != nil {
				cmd.reply <- err
			}
		case <-e.done:
			// Drain anything already queued so callers are answered.
			for {
				select {
				case cmd := <-e.commands:
					err := cmd.run(context.Background())
					if cmd.reply != nil {
						cmd.reply <- err
					}
				default:
					return
				}
			}
		}
	}
}

// submit runs fn on the writer goroutine and waits for its result.
func (e *Engine) submit(ctx context.Context, fn func(ctx context.Context) error) error {
	reply := make(chan error, 1)
	select {
	case e.commands <- command{run: fn, reply: reply}:
	case <-e.done:
		return fmt.Errorf("engine is closed")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// submitAsync queues fn without waiting; used by debounce timers.
func (e *Engine) submitAsync(fn func(ctx context.Context) error) {
	select {
	case e.commands <- command{run: fn}:
	case <-e.done:
	}
}

// Apply schedules a lifecycle event. Edits to the same entity inside the
// debounce window coalesce to the latest event; deletions flush immediately
// and cancel anything pending for that entity.
func (e *Engine) Apply(ctx context.Context, event apptype.LifecycleEvent) error {
	if event.EntityID == "" {
		return fmt.Errorf("lifecycle event requires an entity id")
	}
	if event.DeletedFlag {
		e.cancelPending(event.EntityID)
		return e.submit(ctx, func(ctx context.Context) error {
			return e.applyEvent(ctx, event)
		})
	}

	e.debounceMu.Lock()
	defer e.debounceMu.Unlock()
	if e.closed {
		return fmt.Errorf("engine is closed")
	}
	if p, ok := e.pending[event.EntityID]; ok {
		p.timer.Stop()
		// Keep the content-changed bit sticky across coalesced edits.
		event.ContentChanged = event.ContentChanged || p.event.ContentChanged
	}
	entityID := event.EntityID
	p := &pendingEvent{event: event}
	p.timer = time.AfterFunc(e.cfg.DebounceWindow, func() {
		e.debounceMu.Lock()
		current, ok := e.pending[entityID]
		if !ok || current != p {
			e.debounceMu.Unlock()
			return
		}
		delete(e.pending, entityID)
		e.debounceMu.Unlock()
		e.submitAsync(func(ctx context.Context) error {
			if err := e.applyEvent(ctx, current.event); err != nil {
				log.Printf("Warning: failed to apply event for %s: %v", entityID, err)
			}
			return nil
		})
	})
	e.pending[entityID] = p
	return nil
}

// ApplyNow bypasses the debounce window; used by Rebuild and tests.
func (e *Engine) ApplyNow(ctx context.Context, event apptype.LifecycleEvent) error {
	if event.EntityID == "" {
		return fmt.Errorf("lifecycle event requires an entity id")
	}
	e.cancelPending(event.EntityID)
	return e.submit(ctx, func(ctx context.Context) error {
		return e.applyEvent(ctx, event)
	})
}

// Flush forces every debounced event through immediately.
func (e *Engine) Flush(ctx context.Context) error {
	e.debounceMu.Lock()
	events := make([]apptype.LifecycleEvent, 0, len(e.pending))
	for id, p := range e.pending {
		p.timer.Stop()
		events = append(events, p.event)
		delete(e.pending, id)
	}
	e.debounceMu.Unlock()
	for _, ev := range events {
		if err := e.submit(ctx, func(ctx context.Context) error {
			return e.applyEvent(ctx, ev)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) cancelPending(entityID string) {
	e.debounceMu.Lock()
	if p, ok := e.pending[entityID]; ok {
		p.timer.Stop()
		delete(e.pending, entityID)
	}
	e.debounceMu.Unlock()
}

// applyEvent runs on the writer goroutine only.
func (e *Engine) applyEvent(ctx context.Context, event apptype.LifecycleEvent) error {
	done := metrics.TimeOp("engine_apply_event")
	success := false
	defer func() { done(success) }()

	now := e.cfg.Clock()
	if event.DeletedFlag {
		if err := e.store.DeleteNode(ctx, event.EntityID); err != nil {
			return fmt.Errorf("failed to delete node %s: %w", event.EntityID, err)
		}
		e.notify(event.EntityID)
		success = true
		return nil
	}

	existing, _ := e.store.GetNode(ctx, event.EntityID)
	node := apptype.GraphNode{
		EntityID:   event.EntityID,
		EntityType: event.EntityType,
		Title:      event.Title,
		UpdatedAt:  now,
		CreatedAt:  now,
	}
	if existing != nil {
		node.CreatedAt = existing.CreatedAt
		node.EmbeddingOK = existing.EmbeddingOK
		node.ContentStamp = existing.ContentStamp
		node.ClusterLabel = existing.ClusterLabel
		if node.EntityType == "" {
			node.EntityType = existing.EntityType
		}
		if node.Title == "" {
			node.Title = existing.Title
		}
	}
	if event.ContentChanged {
		node.EmbeddingOK = false
	}
	if err := e.store.UpsertNode(ctx, &node); err != nil {
		return fmt.Errorf("failed to upsert node %s: %w", event.EntityID, err)
	}

	if err := e.reconcileDeclared(ctx, event, now); err != nil {
		return err
	}

	if event.ContentChanged && e.index != nil {
		e.refreshSemantic(ctx, event, now)
	}

	e.notify(event.EntityID)
	success = true
	return nil
}

// reconcileDeclared diffs the event's declared relationships against the
// stored structural edges from this entity, upserting what is declared and
// removing what no longer is. Semantic edges are untouched; they belong to
// discovery.
func (e *Engine) reconcileDeclared(ctx context.Context, event apptype.LifecycleEvent, now time.Time) error {
	current, err := e.store.StructuralEdgesFrom(ctx, event.EntityID)
	if err != nil {
		return fmt.Errorf("failed to load structural edges for %s: %w", event.EntityID, err)
	}

	type edgeKey struct {
		target string
		kind   apptype.EdgeKind
	}
	declared := make(map[edgeKey]struct{}, len(event.Relationships))
	upserts := make([]apptype.GraphEdge, 0, len(event.Relationships))
	for _, rel := range event.Relationships {
		if rel.TargetID == "" || rel.TargetID == event.EntityID {
			continue
		}
		key := edgeKey{target: rel.TargetID, kind: rel.Kind}
		if _, dup := declared[key]; dup {
			continue
		}
		declared[key] = struct{}{}

		srel, ok := weights.RelationForKind(rel.Kind)
		if !ok {
			continue
		}
		components := apptype.WeightComponents{Structural: e.calc.Structural(srel), Recency: 1.0}
		upserts = append(upserts, apptype.GraphEdge{
			Source:     event.EntityID,
			Target:     rel.TargetID,
			Kind:       rel.Kind,
			Directed:   true,
			Weights:    components,
			Combined:   e.calc.Combine(components),
			ComputedAt: now,
		})
	}

	for _, edge := range current {
		if _, keep := declared[edgeKey{target: edge.Target, kind: edge.Kind}]; keep {
			continue
		}
		if err := e.store.DeleteEdge(ctx, edge.Source, edge.Target, edge.Kind); err != nil {
			return fmt.Errorf("failed to remove stale edge %s->%s: %w", edge.Source, edge.Target, err)
		}
	}

	if len(upserts) == 0 {
		return nil
	}
	if err := e.store.BulkUpsertEdges(ctx, upserts); err != nil {
		return fmt.Errorf("failed to upsert declared edges for %s: %w", event.EntityID, err)
	}
	return nil
}

// refreshSemantic re-embeds the entity and refreshes its discovered
// semantic edges. Failures degrade: the event still commits, only the
// semantic signal goes missing until the next content change.
func (e *Engine) refreshSemantic(ctx context.Context, event apptype.LifecycleEvent, now time.Time) {
	text := event.Title
	if event.Content != "" {
		text = event.Title + "\n" + event.Content
	}
	if err := e.index.EmbedNode(ctx, event.EntityID, text, now); err != nil {
		log.Printf("Warning: could not refresh embedding for %s: %v", event.EntityID, err)
		return
	}
	matches, err := e.index.Neighbors(ctx, event.EntityID, e.cfg.DiscoveryLimit, e.cfg.DiscoveryFloor)
	if err != nil {
		log.Printf("Warning: semantic discovery skipped for %s: %v", event.EntityID, err)
		metrics.Default().IncCascadeFallback("semantic_discovery")
		return
	}
	if len(matches) == 0 {
		return
	}
	edges := make([]apptype.GraphEdge, 0, len(matches))
	for _, m := range matches {
		components := apptype.WeightComponents{Semantic: e.calc.Semantic(m.Similarity)}
		edges = append(edges, apptype.GraphEdge{
			Source:     event.EntityID,
			Target:     m.EntityID,
			Kind:       apptype.EdgeKindSemantic,
			Directed:   false,
			Weights:    components,
			Combined:   e.calc.Combine(components),
			ComputedAt: now,
		})
	}
	if err := e.store.BulkUpsertEdges(ctx, edges); err != nil {
		log.Printf("Warning: failed to persist semantic edges for %s: %v", event.EntityID, err)
	}
}

// Rebuild replays a full event history through the writer, bypassing
// debounce. Used for cold starts and store migrations.
func (e *Engine) Rebuild(ctx context.Context, events []apptype.LifecycleEvent) error {
	for i := range events {
		if err := e.ApplyNow(ctx, events[i]); err != nil {
			return fmt.Errorf("rebuild stopped at event %d (%s): %w", i, events[i].EntityID, err)
		}
	}
	return e.RunPageRank(ctx)
}

// RecordAccess bumps an entity's usage counters, keeping the per-type tally
// that the typed-event usage weighting reads.
func (e *Engine) RecordAccess(ctx context.Context, entityID string, typ apptype.AccessEventType) error {
	now := e.cfg.Clock()
	return e.submit(ctx, func(ctx context.Context) error {
		return e.store.RecordAccessEvent(ctx, entityID, typ, now)
	})
}

// Subscribe registers a change-notification channel. The returned cancel
// function unregisters it; notifications are dropped, never blocked on.
func (e *Engine) Subscribe() (<-chan apptype.ChangeNotification, func()) {
	ch := make(chan apptype.ChangeNotification, 64)
	e.subMu.Lock()
	id := e.nextSubID
	e.nextSubID++
	e.subscribers[id] = ch
	e.subMu.Unlock()
	cancel := func() {
		e.subMu.Lock()
		if existing, ok := e.subscribers[id]; ok {
			delete(e.subscribers, id)
			close(existing)
		}
		e.subMu.Unlock()
	}
	return ch, cancel
}

func (e *Engine) notify(entityID string) {
	n := apptype.ChangeNotification{ID: uuid.NewString(), EntityID: entityID}
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subscribers {
		select {
		case ch <- n:
		default:
			// Slow subscriber; drop rather than stall the writer.
		}
	}
}

// Close flushes debounced events, stops the PageRank timer, and shuts the
// writer goroutine down.
func (e *Engine) Close() error {
	e.debounceMu.Lock()
	if e.closed {
		e.debounceMu.Unlock()
		return nil
	}
	e.closed = true
	events := make([]apptype.LifecycleEvent, 0, len(e.pending))
	for id, p := range e.pending {
		p.timer.Stop()
		events = append(events, p.event)
		delete(e.pending, id)
	}
	e.debounceMu.Unlock()

	e.StopPageRankTimer()

	for _, ev := range events {
		if err := e.submit(context.Background(), func(ctx context.Context) error {
			return e.applyEvent(ctx, ev)
		}); err != nil {
			log.Printf("Warning: failed to flush event for %s on close: %v", ev.EntityID, err)
		}
	}

	close(e.done)
	e.wg.Wait()

	e.subMu.Lock()
	for id, ch := range e.subscribers {
		delete(e.subscribers, id)
		close(ch)
	}
	e.subMu.Unlock()
	return nil
}
