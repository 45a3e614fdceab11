package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/metrics"
)

const edgeColumns = `source, target, kind, directed,
       w_semantic, w_structural, w_recency, w_usage, combined, computed_at`

func scanEdge(row rowScanner) (*apptype.GraphEdge, error) {
	var e apptype.GraphEdge
	var directed int
	var kind, computedAt string
	err := row.Scan(
		&e.Source, &e.Target, &kind, &directed,
		&e.Weights.Semantic, &e.Weights.Structural, &e.Weights.Recency, &e.Weights.Usage,
		&e.Combined, &computedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Kind = apptype.EdgeKind(kind)
	e.Directed = directed != 0
	e.ComputedAt = parseTime(computedAt)
	return &e, nil
}

// upsertEdgeTx replaces an existing (source, target, kind) row's weights or
// inserts a new row, incrementing the endpoints' degree counters only on
// insert. Replacement never duplicates and never touches degrees.
func (s *Store) upsertEdgeTx(ctx context.Context, tx *sql.Tx, edge *apptype.GraphEdge) error {
	if edge.Source == "" || edge.Target == "" || edge.Kind == "" {
		return fmt.Errorf("edge endpoints and kind cannot be empty")
	}
	if edge.Source == edge.Target {
		return fmt.Errorf("self edge rejected for %q", edge.Source)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE edges SET directed = ?, w_semantic = ?, w_structural = ?, w_recency = ?,
            w_usage = ?, combined = ?, computed_at = ?
         WHERE source = ? AND target = ? AND kind = ?`,
		boolInt(edge.Directed), edge.Weights.Semantic, edge.Weights.Structural,
		edge.Weights.Recency, edge.Weights.Usage, edge.Combined, timeString(edge.ComputedAt),
		edge.Source, edge.Target, string(edge.Kind))
	if err != nil {
		return fmt.Errorf("failed to update edge (%s -> %s): %w", edge.Source, edge.Target, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for edge update: %w", err)
	}
	if affected > 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO edges (source, target, kind, directed,
            w_semantic, w_structural, w_recency, w_usage, combined, computed_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		edge.Source, edge.Target, string(edge.Kind), boolInt(edge.Directed),
		edge.Weights.Semantic, edge.Weights.Structural, edge.Weights.Recency,
		edge.Weights.Usage, edge.Combined, timeString(edge.ComputedAt)); err != nil {
		return fmt.Errorf("failed to insert edge (%s -> %s): %w", edge.Source, edge.Target, err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE nodes SET out_degree = out_degree + 1 WHERE entity_id = ?", edge.Source); err != nil {
		return fmt.Errorf("failed to increment out-degree of %q: %w", edge.Source, err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE nodes SET in_degree = in_degree + 1 WHERE entity_id = ?", edge.Target); err != nil {
		return fmt.Errorf("failed to increment in-degree of %q: %w", edge.Target, err)
	}
	return nil
}

// UpsertEdge inserts or replaces one edge.
func (s *Store) UpsertEdge(ctx context.Context, edge *apptype.GraphEdge) error {
	done := metrics.TimeOp("store_upsert_edge")
	success := false
	defer func() { done(success) }()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		return s.upsertEdgeTx(ctx, tx, edge)
	})
	if err != nil {
		return err
	}
	success = true
	return nil
}

// BulkUpsertEdges applies a batch of edge upserts in one transaction.
func (s *Store) BulkUpsertEdges(ctx context.Context, edges []apptype.GraphEdge) error {
	done := metrics.TimeOp("store_bulk_upsert_edges")
	success := false
	defer func() { done(success) }()

	if len(edges) == 0 {
		success = true
		return nil
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for i := range edges {
			if err := s.upsertEdgeTx(ctx, tx, &edges[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	success = true
	return nil
}

// DeleteEdge removes one (source, target, kind) edge and decrements both
// endpoints' degree counters if a row was actually removed.
func (s *Store) DeleteEdge(ctx context.Context, source, target string, kind apptype.EdgeKind) error {
	done := metrics.TimeOp("store_delete_edge")
	success := false
	defer func() { done(success) }()

	if source == "" || target == "" || kind == "" {
		return fmt.Errorf("edge parameters cannot be empty")
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			"DELETE FROM edges WHERE source = ? AND target = ? AND kind = ?",
			source, target, string(kind))
		if err != nil {
			return fmt.Errorf("failed to delete edge: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected for edge delete: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("edge not found: %s -> %s (%s)", source, target, kind)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE nodes SET out_degree = out_degree - 1 WHERE entity_id = ? AND out_degree > 0", source); err != nil {
			return fmt.Errorf("failed to decrement out-degree of %q: %w", source, err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE nodes SET in_degree = in_degree - 1 WHERE entity_id = ? AND in_degree > 0", target); err != nil {
			return fmt.Errorf("failed to decrement in-degree of %q: %w", target, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	success = true
	return nil
}

// EdgesFor fetches all edges incident to a node, optionally filtered by
// kind, ordered by combined weight descending.
func (s *Store) EdgesFor(ctx context.Context, entityID string, kind apptype.EdgeKind) ([]apptype.GraphEdge, error) {
	done := metrics.TimeOp("store_edges_for")
	success := false
	defer func() { done(success) }()

	if entityID == "" {
		return nil, fmt.Errorf("entity id cannot be empty")
	}
	query := "SELECT " + edgeColumns + " FROM edges WHERE (source = ? OR target = ?)"
	args := []any{entityID, entityID}
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, string(kind))
	}
	query += " ORDER BY combined DESC, source ASC, target ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges for %q: %w", entityID, err)
	}
	defer rows.Close()

	var edges []apptype.GraphEdge
	for rows.Next() {
		edge, sErr := scanEdge(rows)
		if sErr != nil {
			log.Printf("Warning: Failed to scan edge row: %v", sErr)
			continue
		}
		edges = append(edges, *edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edges: %w", err)
	}
	success = true
	return edges, nil
}

// EdgesForNodes fetches all edges incident to any of the given nodes,
// ordered by combined weight descending. Used by the BFS traversal.
func (s *Store) EdgesForNodes(ctx context.Context, entityIDs []string) ([]apptype.GraphEdge, error) {
	if len(entityIDs) == 0 {
		return []apptype.GraphEdge{}, nil
	}
	placeholders := strings.Repeat("?,", len(entityIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(entityIDs)*2)
	for _, id := range entityIDs {
		args = append(args, id)
	}
	for _, id := range entityIDs {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM edges WHERE source IN (%s) OR target IN (%s) ORDER BY combined DESC, source ASC, target ASC",
			edgeColumns, placeholders, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges for node set: %w", err)
	}
	defer rows.Close()

	var edges []apptype.GraphEdge
	for rows.Next() {
		edge, sErr := scanEdge(rows)
		if sErr != nil {
			log.Printf("Warning: Failed to scan edge row: %v", sErr)
			continue
		}
		edges = append(edges, *edge)
	}
	return edges, rows.Err()
}

// StructuralEdgesFrom lists the non-semantic edges originating at a node;
// the engine diffs these against an entity's declared relationships.
func (s *Store) StructuralEdgesFrom(ctx context.Context, source string) ([]apptype.GraphEdge, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+edgeColumns+" FROM edges WHERE source = ? AND kind != ?",
		source, string(apptype.EdgeKindSemantic))
	if err != nil {
		return nil, fmt.Errorf("failed to query structural edges from %q: %w", source, err)
	}
	defer rows.Close()

	var edges []apptype.GraphEdge
	for rows.Next() {
		edge, sErr := scanEdge(rows)
		if sErr != nil {
			log.Printf("Warning: Failed to scan structural edge row: %v", sErr)
			continue
		}
		edges = append(edges, *edge)
	}
	return edges, rows.Err()
}

// ListEdges returns every edge; PageRank iterates over this set.
func (s *Store) ListEdges(ctx context.Context) ([]apptype.GraphEdge, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+edgeColumns+" FROM edges")
	if err != nil {
		return nil, fmt.Errorf("failed to list edges: %w", err)
	}
	defer rows.Close()

	var edges []apptype.GraphEdge
	for rows.Next() {
		edge, sErr := scanEdge(rows)
		if sErr != nil {
			log.Printf("Warning: Failed to scan edge row: %v", sErr)
			continue
		}
		edges = append(edges, *edge)
	}
	return edges, rows.Err()
}
