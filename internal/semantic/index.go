// Package semantic ties the embedding provider, the vector store, and the
// embedding cache into one search surface. Every method degrades instead of
// failing hard: a nil provider, a provider error, or a timeout all produce a
// zero result and leave the caller free to fall back to keyword or
// structural retrieval.
package semantic

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/cache"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/embeddings"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/store"
)

// Index answers nearest-neighbor questions about graph nodes. It is safe for
// concurrent use; all mutable state lives in the store and the cache.
type Index struct {
	store    *store.Store
	provider embeddings.Provider
	vectors  *cache.EmbeddingCache
}

// NewIndex builds an index over the given store. provider may be nil, in
// which case every embedding operation reports unavailability and search
// returns no matches.
func NewIndex(s *store.Store, provider embeddings.Provider, vectors *cache.EmbeddingCache) *Index {
	if vectors == nil {
		vectors = cache.NewEmbeddingCache(0, 0, nil)
	}
	return &Index{store: s, provider: provider, vectors: vectors}
}

// Available reports whether an embedding provider is configured.
func (idx *Index) Available() bool { return idx.provider != nil }

// EmbedText returns the embedding for a piece of text, consulting the
// content-hash cache first.
func (idx *Index) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if idx.provider == nil {
		return nil, fmt.Errorf("no embedding provider configured")
	}
	key := cache.HashText(text)
	if vec, ok := idx.vectors.Get(key); ok {
		return vec, nil
	}
	vecs, err := idx.provider.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("provider %s returned %d embeddings for one input", idx.provider.Name(), len(vecs))
	}
	idx.vectors.Put(key, vecs[0])
	return vecs[0], nil
}

// EmbedNode computes and persists the embedding for a node's text. On
// provider failure the node is marked stale rather than surfacing an error;
// the graph keeps serving from structural and keyword signals.
func (idx *Index) EmbedNode(ctx context.Context, entityID, text string, now time.Time) error {
	if idx.provider == nil {
		return idx.store.MarkEmbeddingStale(ctx, entityID)
	}
	vec, err := idx.EmbedText(ctx, text)
	if err != nil {
		log.Printf("Warning: embedding for %s unavailable, marking stale: %v", entityID, err)
		return idx.store.MarkEmbeddingStale(ctx, entityID)
	}
	return idx.store.SetNodeEmbedding(ctx, entityID, vec, now)
}

// Search embeds the query text and returns up to limit nodes whose
// similarity clears floor. A nil provider or embedding failure yields
// (nil, error); callers treat that as a signal to fall back, not a fault.
func (idx *Index) Search(ctx context.Context, query string, limit int, floor float64, typeFilter, excludeID string) ([]apptype.SemanticMatch, error) {
	vec, err := idx.EmbedText(ctx, query)
	if err != nil {
		return nil, err
	}
	matches, err := idx.store.SimilarNodes(ctx, vec, limit, floor, typeFilter, excludeID)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return matches, nil
}

// Neighbors returns the nodes most similar to an existing node, using its
// stored embedding. Nodes whose embedding is stale or absent produce no
// matches and no error.
func (idx *Index) Neighbors(ctx context.Context, entityID string, limit int, floor float64) ([]apptype.SemanticMatch, error) {
	vec, err := idx.store.NodeEmbedding(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedding for %s: %w", entityID, err)
	}
	if len(vec) == 0 || allZero(vec) {
		return nil, nil
	}
	matches, err := idx.store.SimilarNodes(ctx, vec, limit, floor, "", entityID)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return matches, nil
}

func allZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
