// Package relgraph provides a library-first API for the relevance graph
// engine without MCP transport.
package relgraph

import (
	"context"

	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/layout"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/query"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/service"
)

// Re-exported value types so embedding callers avoid internal imports.
type (
	GraphNode            = apptype.GraphNode
	GraphEdge            = apptype.GraphEdge
	EdgeKind             = apptype.EdgeKind
	RankedResult         = apptype.RankedResult
	FocusContext         = apptype.FocusContext
	LifecycleEvent       = apptype.LifecycleEvent
	DeclaredRelationship = apptype.DeclaredRelationship
	ChangeNotification   = apptype.ChangeNotification
	Neighborhood         = apptype.Neighborhood
	AccessEventType      = apptype.AccessEventType
	QueryOptions         = query.Options
	Position             = layout.Position
)

const (
	EdgeKindExplicit   = apptype.EdgeKindExplicit
	EdgeKindSemantic   = apptype.EdgeKindSemantic
	EdgeKindConceptual = apptype.EdgeKindConceptual
	EdgeKindContextual = apptype.EdgeKindContextual
	EdgeKindTransitive = apptype.EdgeKindTransitive

	AccessView        = apptype.AccessView
	AccessEdit        = apptype.AccessEdit
	AccessSearchClick = apptype.AccessSearchClick
	AccessReference   = apptype.AccessReference
)

// Service is the embeddable relevance graph.
type Service struct {
	svc *service.Service
}

// NewService constructs a Service with the provided config; nil uses
// defaults and environment variables.
func NewService(cfg *Config) (*Service, error) {
	svc, err := service.New(cfg.toInternal())
	if err != nil {
		return nil, err
	}
	return &Service{svc: svc}, nil
}

// Close releases resources, flushing any debounced events first.
func (s *Service) Close() error { return s.svc.Close() }

// ApplyEvent schedules one lifecycle event.
func (s *Service) ApplyEvent(ctx context.Context, event LifecycleEvent) error {
	return s.svc.ApplyEvent(ctx, event)
}

// ApplyEvents schedules a batch of lifecycle events.
func (s *Service) ApplyEvents(ctx context.Context, events []LifecycleEvent) error {
	return s.svc.ApplyEvents(ctx, events)
}

// Flush pushes every debounced event through immediately.
func (s *Service) Flush(ctx context.Context) error { return s.svc.Flush(ctx) }

// Rebuild replays a full event history into an empty store.
func (s *Service) Rebuild(ctx context.Context, events []LifecycleEvent) error {
	return s.svc.Rebuild(ctx, events)
}

// Query runs a ranked top-K retrieval under the current focus.
func (s *Service) Query(ctx context.Context, text string, opts QueryOptions) ([]RankedResult, error) {
	return s.svc.Query(ctx, text, opts)
}

// Neighborhood traverses from an entity up to hops steps.
func (s *Service) Neighborhood(ctx context.Context, entityID string, hops int) (Neighborhood, error) {
	return s.svc.Neighborhood(ctx, entityID, hops)
}

// Layout places a neighborhood around its focal entity.
func (s *Service) Layout(ctx context.Context, entityID string, hops int) ([]Position, error) {
	return s.svc.Layout(ctx, entityID, hops)
}

// RunPageRank recomputes centrality scores now.
func (s *Service) RunPageRank(ctx context.Context) error { return s.svc.RunPageRank(ctx) }

// RecordAccess bumps usage counters for an entity.
func (s *Service) RecordAccess(ctx context.Context, entityID string, typ AccessEventType) error {
	return s.svc.RecordAccess(ctx, entityID, typ)
}

// SetFocus schedules a debounced focus change.
func (s *Service) SetFocus(focus *FocusContext) { s.svc.SetFocus(focus) }

// Subscribe exposes change notifications for cache-aware consumers.
func (s *Service) Subscribe() (<-chan ChangeNotification, func()) { return s.svc.Subscribe() }
