package apptype

// MCP tool argument and result payloads. Kept separate from the core types
// so schema annotations never leak into engine internals.

// ApplyEventsArgs feeds lifecycle events into the graph.
type ApplyEventsArgs struct {
	Events []LifecycleEvent `json:"events" jsonschema:"entity lifecycle events to apply"`
	// Immediate bypasses the debounce window; rebuilds and tests use it.
	Immediate bool `json:"immediate,omitempty" jsonschema:"apply without debouncing"`
}

// SearchArgs shapes one ranked retrieval.
type SearchArgs struct {
	Query      string   `json:"query" jsonschema:"free-text relevance query"`
	Limit      int      `json:"limit,omitempty" jsonschema:"maximum results (default 20)"`
	TypeFilter string   `json:"typeFilter,omitempty" jsonschema:"restrict results to one entity type"`
	Pinned     []string `json:"pinned,omitempty" jsonschema:"entity ids that always enter the candidate set"`
}

// SearchResult carries the ranked list.
type SearchResult struct {
	Results []RankedResult `json:"results"`
	// Degraded names the fallback stage that produced the results when the
	// preferred signal was unavailable; empty when semantic search served.
	Degraded string `json:"degraded,omitempty"`
}

// NeighborhoodArgs selects a traversal root and depth.
type NeighborhoodArgs struct {
	EntityID string `json:"entityId" jsonschema:"traversal root entity"`
	Hops     int    `json:"hops,omitempty" jsonschema:"traversal depth (default 2)"`
}

// GraphResult is a node-and-edge payload shared by traversal tools.
type GraphResult struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// ReadGraphArgs selects the overview ordering.
type ReadGraphArgs struct {
	Limit      int  `json:"limit,omitempty" jsonschema:"maximum nodes (default 10)"`
	ByPageRank bool `json:"byPageRank,omitempty" jsonschema:"order by centrality instead of recency"`
}

// LayoutArgs selects the neighborhood to place.
type LayoutArgs struct {
	EntityID string `json:"entityId" jsonschema:"focal entity held at the origin"`
	Hops     int    `json:"hops,omitempty" jsonschema:"neighborhood depth (default 2)"`
}

// RunPageRankArgs triggers a centrality recomputation.
type RunPageRankArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"top nodes to return after the run (default 10)"`
}

// SetFocusArgs moves the caller's focus context.
type SetFocusArgs struct {
	Kind         string   `json:"kind,omitempty" jsonschema:"focused entity type"`
	CenterEntity string   `json:"centerEntity,omitempty" jsonschema:"entity the user is centered on"`
	ConceptTerms []string `json:"conceptTerms,omitempty" jsonschema:"derived concept terms"`
	Immediate    bool     `json:"immediate,omitempty" jsonschema:"apply without debouncing"`
}

// RecordAccessArgs records one usage event against an entity.
type RecordAccessArgs struct {
	EntityID  string `json:"entityId" jsonschema:"accessed entity"`
	EventType string `json:"eventType,omitempty" jsonschema:"view, edit, search_click, or reference"`
}

// HealthArgs has no parameters.
type HealthArgs struct{}

// HealthResult reports server identity and graph vitals.
type HealthResult struct {
	Name            string `json:"name"`
	Version         string `json:"version"`
	Commit          string `json:"commit"`
	BuildDate       string `json:"buildDate"`
	EmbeddingDims   int    `json:"embeddingDims"`
	SemanticEnabled bool   `json:"semanticEnabled"`
	NodeCount       int    `json:"nodeCount"`
}
