package apptype

import "time"

// EdgeKind classifies a GraphEdge. It is a closed enumeration; the weight
// calculator dispatches on it exhaustively, so adding a kind is a single
// compile-checked change there.
type EdgeKind string

const (
	EdgeKindExplicit   EdgeKind = "explicit_link"
	EdgeKindSemantic   EdgeKind = "semantic"
	EdgeKindConceptual EdgeKind = "conceptual"
	EdgeKindContextual EdgeKind = "contextual"
	EdgeKindTransitive EdgeKind = "transitive"
)

// GraphNode is the engine's representation of one external entity.
// Exactly one live node exists per entity; deleting the entity cascades.
type GraphNode struct {
	EntityID     string    `json:"entityId"`
	EntityType   string    `json:"entityType"`
	Title        string    `json:"title"`
	LayoutX      float64   `json:"layoutX,omitempty"`
	LayoutY      float64   `json:"layoutY,omitempty"`
	ClusterLabel string    `json:"clusterLabel,omitempty"`
	PageRank     float64   `json:"pageRank"`
	InDegree     int       `json:"inDegree"`
	OutDegree    int       `json:"outDegree"`
	AccessCount  int       `json:"accessCount"`
	LastAccessed time.Time `json:"lastAccessed,omitempty"`
	EmbeddingOK  bool      `json:"embeddingOk"`
	ContentStamp time.Time `json:"contentStamp,omitempty"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
}

// GraphEdge is a scored, typed relationship between two nodes. At most one
// edge exists per (source, target, kind); upserts replace weights in place.
type GraphEdge struct {
	Source     string           `json:"source"`
	Target     string           `json:"target"`
	Kind       EdgeKind         `json:"kind"`
	Directed   bool             `json:"directed"`
	Weights    WeightComponents `json:"weights"`
	Combined   float64          `json:"combined"`
	ComputedAt time.Time        `json:"computedAt,omitempty"`
}

// WeightComponents holds the four independent signal weights, each in [0,1].
// Never persisted standalone; always reduced to a combined score.
type WeightComponents struct {
	Semantic   float64 `json:"semantic"`
	Structural float64 `json:"structural"`
	Recency    float64 `json:"recency"`
	Usage      float64 `json:"usage"`
}

// RankedResult is the ephemeral output of a relevance query. Title, update
// time and access count are carried for deterministic tie-breaking.
type RankedResult struct {
	EntityID    string           `json:"entityId"`
	EntityType  string           `json:"entityType"`
	Title       string           `json:"title"`
	Components  WeightComponents `json:"components"`
	Relevance   float64          `json:"relevance"`
	UpdatedAt   time.Time        `json:"updatedAt,omitempty"`
	AccessCount int              `json:"accessCount"`
	Source      string           `json:"source,omitempty"`
}

// DefaultFocusValidity is how long a FocusContext stays usable.
const DefaultFocusValidity = 5 * time.Minute

// FocusContext describes where the user currently is. It is owned by the
// caller and supplies multiplicative boosts to the query engine; it goes
// stale after its validity window elapses.
type FocusContext struct {
	Kind         string        `json:"kind,omitempty"`
	CenterEntity string        `json:"centerEntity,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
	ConceptTerms []string      `json:"conceptTerms,omitempty"`
	ValidFor     time.Duration `json:"-"`
}

// ValidAt reports whether the context is still fresh at the given instant.
func (f *FocusContext) ValidAt(now time.Time) bool {
	if f == nil {
		return false
	}
	window := f.ValidFor
	if window <= 0 {
		window = DefaultFocusValidity
	}
	return now.Sub(f.Timestamp) <= window
}

// ContextKey returns a stable cache key for query results under this context.
func (f *FocusContext) ContextKey() string {
	if f == nil {
		return ""
	}
	return f.Kind + "|" + f.CenterEntity
}

// DeclaredRelationship is one relationship declared on an entity by the
// entity store (an explicit wiki-link, a shared container, and so on).
type DeclaredRelationship struct {
	TargetID string   `json:"targetId"`
	Kind     EdgeKind `json:"kind"`
}

// LifecycleEvent is the payload consumed from the entity store's event
// stream. DeletedFlag marks a deletion; ContentChanged marks edits that
// require re-embedding.
type LifecycleEvent struct {
	EntityID       string                 `json:"entityId"`
	EntityType     string                 `json:"entityType"`
	Title          string                 `json:"title,omitempty"`
	Relationships  []DeclaredRelationship `json:"declaredRelationships,omitempty"`
	Content        string                 `json:"content,omitempty"`
	ContentChanged bool                   `json:"contentChanged"`
	DeletedFlag    bool                   `json:"deletedFlag"`
}

// ChangeNotification is emitted to subscribers on every node/edge mutation
// so cache-aware consumers can invalidate.
type ChangeNotification struct {
	ID       string `json:"id"`
	EntityID string `json:"entityId"`
}

// Neighborhood is the nodes-and-edges result of a graph traversal.
type Neighborhood struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// SemanticMatch is one hit returned by the embedding backend.
type SemanticMatch struct {
	EntityID   string  `json:"entityId"`
	Similarity float64 `json:"similarity"`
	Snippet    string  `json:"snippet,omitempty"`
}

// AccessEventType categorizes one recorded access for usage weighting.
type AccessEventType string

const (
	AccessView        AccessEventType = "view"
	AccessEdit        AccessEventType = "edit"
	AccessSearchClick AccessEventType = "search_click"
	AccessReference   AccessEventType = "reference"
)
