package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/metrics"
)

// vectorZeroString builds a zero vector string for the current embedding dims.
func (s *Store) vectorZeroString() string {
	if s.config.EmbeddingDims <= 0 {
		return "[0.0, 0.0, 0.0, 0.0]"
	}
	parts := make([]string, s.config.EmbeddingDims)
	for i := range parts {
		parts[i] = "0.0"
	}
	return fmt.Sprintf("[%s]", strings.Join(parts, ", "))
}

// vectorToString converts a float32 array to libSQL vector string format.
func (s *Store) vectorToString(numbers []float32) (string, error) {
	if len(numbers) == 0 {
		return s.vectorZeroString(), nil
	}

	dims := s.config.EmbeddingDims
	if dims <= 0 {
		dims = 4
	}
	if len(numbers) != dims {
		return "", fmt.Errorf("vector must have exactly %d dimensions, got %d", dims, len(numbers))
	}

	sanitized := make([]float32, len(numbers))
	for i, n := range numbers {
		if math.IsNaN(float64(n)) || math.IsInf(float64(n), 0) {
			log.Printf("Invalid vector value detected, using 0.0 instead of: %f", n)
			sanitized[i] = 0.0
		} else {
			sanitized[i] = n
		}
	}

	strNumbers := make([]string, len(sanitized))
	for i, n := range sanitized {
		strNumbers[i] = fmt.Sprintf("%f", n)
	}
	return fmt.Sprintf("[%s]", strings.Join(strNumbers, ", ")), nil
}

// ExtractVector extracts a vector from binary F32_BLOB format.
func (s *Store) ExtractVector(embedding []byte) ([]float32, error) {
	if len(embedding) == 0 {
		return nil, nil
	}

	dims := s.config.EmbeddingDims
	if dims <= 0 {
		dims = 4
	}
	expectedBytes := dims * 4
	if len(embedding) != expectedBytes {
		return nil, fmt.Errorf("invalid embedding size: expected %d bytes for %d-dimensional vector, got %d", expectedBytes, dims, len(embedding))
	}

	vector := make([]float32, dims)
	for i := 0; i < dims; i++ {
		bits := binary.LittleEndian.Uint32(embedding[i*4 : (i+1)*4])
		vector[i] = math.Float32frombits(bits)
	}
	return vector, nil
}

// SetNodeEmbedding stores a node's embedding vector and flips its
// availability flag. A dimensionality mismatch marks the node
// embedding-unavailable instead of failing the write, so one bad vector
// never blocks the rest of the graph.
func (s *Store) SetNodeEmbedding(ctx context.Context, entityID string, vector []float32, now time.Time) error {
	done := metrics.TimeOp("store_set_embedding")
	success := false
	defer func() { done(success) }()

	vectorString, err := s.vectorToString(vector)
	if err != nil {
		log.Printf("Embedding for %q incompatible with schema, marking unavailable: %v", entityID, err)
		if mErr := s.MarkEmbeddingStale(ctx, entityID); mErr != nil {
			return mErr
		}
		success = true
		return nil
	}

	err = s.withBusyRetry(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			"UPDATE nodes SET embedding = vector32(?), embedding_ok = 1, content_stamp = ? WHERE entity_id = ?",
			vectorString, timeString(now), entityID)
		if execErr != nil {
			return fmt.Errorf("failed to store embedding for %q: %w", entityID, execErr)
		}
		return nil
	})
	if err != nil {
		return err
	}
	success = true
	return nil
}

// MarkEmbeddingStale soft-invalidates a node's embedding: the node stays,
// semantic discovery skips it until a fresh vector arrives.
func (s *Store) MarkEmbeddingStale(ctx context.Context, entityID string) error {
	return s.withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			"UPDATE nodes SET embedding_ok = 0 WHERE entity_id = ?", entityID)
		if err != nil {
			return fmt.Errorf("failed to mark embedding stale for %q: %w", entityID, err)
		}
		return nil
	})
}

// NodeEmbedding returns a node's stored vector, or nil when absent.
func (s *Store) NodeEmbedding(ctx context.Context, entityID string) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, "SELECT embedding FROM nodes WHERE entity_id = ?", entityID).Scan(&blob)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("node not found: %s", entityID)
		}
		return nil, fmt.Errorf("failed to read embedding for %q: %w", entityID, err)
	}
	return s.ExtractVector(blob)
}

// SimilarNodes performs cosine similarity search over node embeddings,
// returning matches at or above the similarity floor, excluding excludeID
// and any embedding-stale node. Uses the vector_top_k ANN index when the
// build provides it, otherwise a brute-force ordered scan.
func (s *Store) SimilarNodes(ctx context.Context, embedding []float32, limit int, floor float64, typeFilter, excludeID string) ([]apptype.SemanticMatch, error) {
	done := metrics.TimeOp("store_similar_nodes")
	success := false
	defer func() { done(success) }()

	if len(embedding) == 0 {
		return nil, fmt.Errorf("search embedding cannot be empty")
	}
	if limit <= 0 {
		limit = 10
	}
	vectorString, err := s.vectorToString(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to convert search embedding: %w", err)
	}
	zeroString := s.vectorZeroString()

	s.capMu.RLock()
	useTopK := s.caps.vectorTopK
	s.capMu.RUnlock()

	var rows *sql.Rows
	if useTopK {
		k := limit + 1 // one extra in case the excluded node ranks
		topK := `WITH vt AS (
            SELECT id FROM vector_top_k('idx_nodes_embedding', vector32(?), ?)
        )
        SELECT n.entity_id, n.entity_type, n.title,
               vector_distance_cos(n.embedding, vector32(?)) as distance
        FROM vt JOIN nodes n ON n.rowid = vt.id
        WHERE n.embedding IS NOT NULL AND n.embedding != vector32(?) AND n.embedding_ok = 1
        ORDER BY distance ASC`
		stmt, perr := s.getPreparedStmt(ctx, topK)
		if perr != nil {
			return nil, perr
		}
		rows, err = stmt.QueryContext(ctx, vectorString, k, vectorString, zeroString)
		if err != nil && strings.Contains(strings.ToLower(err.Error()), "no such function: vector_top_k") {
			s.capMu.Lock()
			s.caps.vectorTopK = false
			s.capMu.Unlock()
			useTopK = false
			log.Printf("vector_top_k unavailable, falling back to full cosine scan")
		} else if err != nil {
			return nil, fmt.Errorf("failed ANN search: %w", err)
		}
	}
	if !useTopK {
		query := `SELECT n.entity_id, n.entity_type, n.title,
               vector_distance_cos(n.embedding, vector32(?)) as distance
        FROM nodes n
        WHERE n.embedding IS NOT NULL AND n.embedding != vector32(?) AND n.embedding_ok = 1
        ORDER BY distance ASC`
		stmt, perr := s.getPreparedStmt(ctx, query)
		if perr != nil {
			return nil, perr
		}
		rows, err = stmt.QueryContext(ctx, vectorString, zeroString)
	}
	if err != nil {
		low := strings.ToLower(err.Error())
		if strings.Contains(low, "no such function: vector_distance_cos") || strings.Contains(low, "no such function: vector32") {
			return nil, fmt.Errorf("vector search functions are unavailable in this libSQL build: %w", err)
		}
		return nil, fmt.Errorf("failed to execute similarity search: %w", err)
	}
	defer rows.Close()

	var matches []apptype.SemanticMatch
	for rows.Next() {
		var entityID, entityType, title string
		var distance float64
		if err := rows.Scan(&entityID, &entityType, &title, &distance); err != nil {
			log.Printf("Warning: Failed to scan similarity row: %v", err)
			continue
		}
		if entityID == excludeID {
			continue
		}
		if typeFilter != "" && entityType != typeFilter {
			continue
		}
		similarity := 1.0 - distance
		if similarity < floor {
			continue
		}
		matches = append(matches, apptype.SemanticMatch{
			EntityID:   entityID,
			Similarity: similarity,
			Snippet:    title,
		})
		if len(matches) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating similarity results: %w", err)
	}
	success = true
	return matches, nil
}

// CoerceToFloat32Slice interprets slice-like inputs as a []float32; MCP
// clients send vectors as []any of floats, strings, or json.Number.
func CoerceToFloat32Slice(value any) ([]float32, bool, error) {
	switch v := value.(type) {
	case []float32:
		out := make([]float32, len(v))
		copy(out, v)
		return out, true, nil
	case []float64:
		out := make([]float32, len(v))
		for i, n := range v {
			out[i] = float32(n)
		}
		return out, true, nil
	case []any:
		out := make([]float32, len(v))
		for i, elem := range v {
			switch n := elem.(type) {
			case float64:
				out[i] = float32(n)
			case float32:
				out[i] = n
			case int:
				out[i] = float32(n)
			case int64:
				out[i] = float32(n)
			case json.Number:
				f, err := n.Float64()
				if err != nil {
					return nil, false, fmt.Errorf("invalid json.Number at index %d: %v", i, err)
				}
				out[i] = float32(f)
			case string:
				f, err := strconv.ParseFloat(n, 64)
				if err != nil {
					return nil, false, fmt.Errorf("invalid numeric string at index %d: %v", i, err)
				}
				out[i] = float32(f)
			default:
				return nil, false, fmt.Errorf("unsupported vector element type at index %d: %T", i, elem)
			}
		}
		return out, true, nil
	}
	return nil, false, nil
}
