// Package server exposes the relevance graph over the MCP protocol.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/buildinfo"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/layout"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/metrics"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/query"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/service"
)

const serverName = "relgraph-libsql-go"

// LayoutResult carries placed node positions.
type LayoutResult struct {
	Positions []layout.Position `json:"positions"`
}

// MCPServer handles MCP protocol communication.
type MCPServer struct {
	server *mcp.Server
	svc    *service.Service
}

// NewMCPServer wires the graph service into an MCP server.
func NewMCPServer(svc *service.Service) *MCPServer {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: buildinfo.Version,
	}, nil)

	s := &MCPServer{server: server, svc: svc}

	metrics.InitFromEnv()
	s.setupToolHandlers()
	return s
}

func mustSchema[T any](label string) *jsonschema.Schema {
	schema, err := jsonschema.For[T]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for %s: %v", label, err))
	}
	return schema
}

// setupToolHandlers registers all MCP tools.
func (s *MCPServer) setupToolHandlers() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "apply_events",
		Title:       "Apply Lifecycle Events",
		Description: "Feed entity lifecycle events (create/update/delete) into the graph.",
		InputSchema: mustSchema[apptype.ApplyEventsArgs]("ApplyEventsArgs"),
	}, s.handleApplyEvents)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "search",
		Title:        "Relevance Search",
		Description:  "Ranked top-K retrieval with the signal-fallback cascade.",
		InputSchema:  mustSchema[apptype.SearchArgs]("SearchArgs"),
		OutputSchema: mustSchema[apptype.SearchResult]("SearchResult"),
	}, s.handleSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "neighborhood",
		Title:        "Neighborhood",
		Description:  "Breadth-first traversal from an entity, strongest connections first.",
		InputSchema:  mustSchema[apptype.NeighborhoodArgs]("NeighborhoodArgs"),
		OutputSchema: mustSchema[apptype.GraphResult]("GraphResult (neighborhood)"),
	}, s.handleNeighborhood)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "read_graph",
		Title:        "Read Graph",
		Description:  "Recent or most-central nodes with their edges.",
		InputSchema:  mustSchema[apptype.ReadGraphArgs]("ReadGraphArgs"),
		OutputSchema: mustSchema[apptype.GraphResult]("GraphResult (read)"),
	}, s.handleReadGraph)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "layout",
		Title:        "Layout",
		Description:  "Radial ring placement with force relaxation around a focal entity.",
		InputSchema:  mustSchema[apptype.LayoutArgs]("LayoutArgs"),
		OutputSchema: mustSchema[LayoutResult]("LayoutResult"),
	}, s.handleLayout)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "run_pagerank",
		Title:        "Run PageRank",
		Description:  "Recompute centrality scores and return the top nodes.",
		InputSchema:  mustSchema[apptype.RunPageRankArgs]("RunPageRankArgs"),
		OutputSchema: mustSchema[apptype.GraphResult]("GraphResult (pagerank)"),
	}, s.handleRunPageRank)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "set_focus",
		Title:       "Set Focus",
		Description: "Move the focus context used for boosting and hot-context caching.",
		InputSchema: mustSchema[apptype.SetFocusArgs]("SetFocusArgs"),
	}, s.handleSetFocus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "record_access",
		Title:       "Record Access",
		Description: "Record a usage event against an entity for usage weighting.",
		InputSchema: mustSchema[apptype.RecordAccessArgs]("RecordAccessArgs"),
	}, s.handleRecordAccess)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "health_check",
		Title:        "Health Check",
		Description:  "Returns server and configuration information.",
		InputSchema:  mustSchema[apptype.HealthArgs]("HealthArgs"),
		OutputSchema: mustSchema[apptype.HealthResult]("HealthResult"),
	}, s.handleHealth)
}

func (s *MCPServer) handleApplyEvents(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.ApplyEventsArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("apply_events")
	var success bool
	defer func() { done(success) }()
	events := params.Arguments.Events
	if len(events) == 0 {
		return &mcp.CallToolResultFor[any]{
			Content: []mcp.Content{&mcp.TextContent{Text: "No events to apply"}},
		}, nil
	}

	if params.Arguments.Immediate {
		for i := range events {
			if err := s.svc.Engine().ApplyNow(ctx, events[i]); err != nil {
				return nil, fmt.Errorf("failed to apply event for %s: %w", events[i].EntityID, err)
			}
		}
	} else if err := s.svc.ApplyEvents(ctx, events); err != nil {
		return nil, fmt.Errorf("failed to apply events: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Accepted %d lifecycle events", len(events))},
		},
	}, nil
}

func (s *MCPServer) handleSearch(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.SearchArgs],
) (*mcp.CallToolResultFor[apptype.SearchResult], error) {
	done := metrics.TimeTool("search")
	var success bool
	defer func() { done(success) }()

	results, err := s.svc.Query(ctx, params.Arguments.Query, query.Options{
		Limit:      params.Arguments.Limit,
		TypeFilter: params.Arguments.TypeFilter,
		Pinned:     params.Arguments.Pinned,
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[apptype.SearchResult]{
		Content: []mcp.Content{&mcp.TextContent{Text: "Search completed"}},
		StructuredContent: apptype.SearchResult{
			Results:  results,
			Degraded: degradedStage(results),
		},
	}, nil
}

// degradedStage reports which fallback stage produced the result set; empty
// means the preferred signals served at least one candidate.
func degradedStage(results []apptype.RankedResult) string {
	if len(results) == 0 {
		return ""
	}
	stage := ""
	for _, r := range results {
		switch r.Source {
		case "semantic", "focus", "pinned":
			return ""
		case "keyword":
			if stage == "" {
				stage = "keyword"
			}
		case "recency":
			stage = "recency_usage"
		}
	}
	return stage
}

func (s *MCPServer) handleNeighborhood(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.NeighborhoodArgs],
) (*mcp.CallToolResultFor[apptype.GraphResult], error) {
	done := metrics.TimeTool("neighborhood")
	var success bool
	defer func() { done(success) }()
	if params.Arguments.EntityID == "" {
		return nil, fmt.Errorf("entityId cannot be empty")
	}
	n, err := s.svc.Neighborhood(ctx, params.Arguments.EntityID, params.Arguments.Hops)
	if err != nil {
		return nil, fmt.Errorf("neighborhood failed: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[apptype.GraphResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: "Neighborhood fetched"}},
		StructuredContent: apptype.GraphResult{Nodes: n.Nodes, Edges: n.Edges},
	}, nil
}

func (s *MCPServer) handleReadGraph(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.ReadGraphArgs],
) (*mcp.CallToolResultFor[apptype.GraphResult], error) {
	done := metrics.TimeTool("read_graph")
	var success bool
	defer func() { done(success) }()
	limit := params.Arguments.Limit
	if limit <= 0 {
		limit = 10
	}
	var (
		nodes []apptype.GraphNode
		err   error
	)
	if params.Arguments.ByPageRank {
		nodes, err = s.svc.TopByPageRank(ctx, limit)
	} else {
		nodes, err = s.svc.RecentNodes(ctx, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("read graph failed: %w", err)
	}
	ids := make([]string, len(nodes))
	for i := range nodes {
		ids[i] = nodes[i].EntityID
	}
	edges, err := s.svc.Store().EdgesForNodes(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("read graph edges failed: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[apptype.GraphResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: "Graph read successfully"}},
		StructuredContent: apptype.GraphResult{Nodes: nodes, Edges: edges},
	}, nil
}

func (s *MCPServer) handleLayout(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.LayoutArgs],
) (*mcp.CallToolResultFor[LayoutResult], error) {
	done := metrics.TimeTool("layout")
	var success bool
	defer func() { done(success) }()
	if params.Arguments.EntityID == "" {
		return nil, fmt.Errorf("entityId cannot be empty")
	}
	positions, err := s.svc.Layout(ctx, params.Arguments.EntityID, params.Arguments.Hops)
	if err != nil {
		return nil, fmt.Errorf("layout failed: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[LayoutResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Placed %d nodes", len(positions))}},
		StructuredContent: LayoutResult{Positions: positions},
	}, nil
}

func (s *MCPServer) handleRunPageRank(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.RunPageRankArgs],
) (*mcp.CallToolResultFor[apptype.GraphResult], error) {
	done := metrics.TimeTool("run_pagerank")
	var success bool
	defer func() { done(success) }()
	if err := s.svc.RunPageRank(ctx); err != nil {
		return nil, fmt.Errorf("pagerank run failed: %w", err)
	}
	limit := params.Arguments.Limit
	if limit <= 0 {
		limit = 10
	}
	nodes, err := s.svc.TopByPageRank(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("pagerank read-back failed: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[apptype.GraphResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: "PageRank recomputed"}},
		StructuredContent: apptype.GraphResult{Nodes: nodes},
	}, nil
}

func (s *MCPServer) handleSetFocus(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.SetFocusArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("set_focus")
	defer func() { done(true) }()
	focus := &apptype.FocusContext{
		Kind:         params.Arguments.Kind,
		CenterEntity: params.Arguments.CenterEntity,
		ConceptTerms: params.Arguments.ConceptTerms,
		Timestamp:    time.Now(),
	}
	if params.Arguments.Immediate {
		s.svc.SetFocusNow(focus)
	} else {
		s.svc.SetFocus(focus)
	}
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: "Focus updated"}},
	}, nil
}

func (s *MCPServer) handleRecordAccess(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.RecordAccessArgs],
) (*mcp.CallToolResultFor[any], error) {
	done := metrics.TimeTool("record_access")
	var success bool
	defer func() { done(success) }()
	if params.Arguments.EntityID == "" {
		return nil, fmt.Errorf("entityId cannot be empty")
	}
	typ := apptype.AccessEventType(params.Arguments.EventType)
	if typ == "" {
		typ = apptype.AccessView
	}
	if err := s.svc.RecordAccess(ctx, params.Arguments.EntityID, typ); err != nil {
		return nil, fmt.Errorf("failed to record access: %w", err)
	}
	success = true
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Recorded %s access for %s", typ, params.Arguments.EntityID)}},
	}, nil
}

func (s *MCPServer) handleHealth(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.HealthArgs],
) (*mcp.CallToolResultFor[apptype.HealthResult], error) {
	done := metrics.TimeTool("health_check")
	defer func() { done(true) }()
	inUse, idle := s.svc.Store().PoolStats()
	metrics.Default().ObservePoolStats(inUse, idle)
	count, err := s.svc.NodeCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	res := apptype.HealthResult{
		Name:            serverName,
		Version:         buildinfo.Version,
		Commit:          buildinfo.Commit,
		BuildDate:       buildinfo.BuildDate,
		EmbeddingDims:   s.svc.Store().Config().EmbeddingDims,
		SemanticEnabled: s.svc.SemanticAvailable(),
		NodeCount:       count,
	}
	return &mcp.CallToolResultFor[apptype.HealthResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: "ok"}},
		StructuredContent: res,
	}, nil
}

// Run starts the MCP server with stdio transport.
func (s *MCPServer) Run(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				inUse, idle := s.svc.Store().PoolStats()
				metrics.Default().ObservePoolStats(inUse, idle)
			}
		}
	}()
	transport := mcp.NewStdioTransport()
	return s.server.Run(ctx, transport)
}

// RunSSE serves the MCP server over SSE at the given address and endpoint.
func (s *MCPServer) RunSSE(ctx context.Context, addr, endpoint string) error {
	handler := mcp.NewSSEHandler(func(r *http.Request) *mcp.Server { return s.server })
	mux := http.NewServeMux()
	mux.Handle(endpoint, handler)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return srv.ListenAndServe()
}
