package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/apptype"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/metrics"
)

const nodeColumns = `entity_id, entity_type, title, layout_x, layout_y, cluster_label,
       pagerank, in_degree, out_degree, access_count, last_accessed,
       embedding_ok, content_stamp, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*apptype.GraphNode, error) {
	var n apptype.GraphNode
	var lastAccessed, contentStamp, createdAt, updatedAt string
	var embeddingOK int
	err := row.Scan(
		&n.EntityID, &n.EntityType, &n.Title, &n.LayoutX, &n.LayoutY, &n.ClusterLabel,
		&n.PageRank, &n.InDegree, &n.OutDegree, &n.AccessCount, &lastAccessed,
		&embeddingOK, &contentStamp, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	n.LastAccessed = parseTime(lastAccessed)
	n.ContentStamp = parseTime(contentStamp)
	n.CreatedAt = parseTime(createdAt)
	n.UpdatedAt = parseTime(updatedAt)
	n.EmbeddingOK = embeddingOK != 0
	return &n, nil
}

// UpsertNode inserts a node or updates its denormalized fields. Degree
// counters, access counters and PageRank are owned by their dedicated
// mutators and are not touched on update.
func (s *Store) UpsertNode(ctx context.Context, node *apptype.GraphNode) error {
	done := metrics.TimeOp("store_upsert_node")
	success := false
	defer func() { done(success) }()

	if strings.TrimSpace(node.EntityID) == "" {
		return fmt.Errorf("node entity id must be a non-empty string")
	}
	if strings.TrimSpace(node.EntityType) == "" {
		return fmt.Errorf("invalid entity type for node %q", node.EntityID)
	}

	err := s.withBusyRetry(ctx, func() error {
		result, uErr := s.db.ExecContext(ctx,
			`UPDATE nodes SET entity_type = ?, title = ?, cluster_label = ?,
                embedding_ok = ?, content_stamp = ?, updated_at = ?
             WHERE entity_id = ?`,
			node.EntityType, node.Title, node.ClusterLabel,
			boolInt(node.EmbeddingOK), timeString(node.ContentStamp), timeString(node.UpdatedAt),
			node.EntityID)
		if uErr != nil {
			return fmt.Errorf("failed to update node %q: %w", node.EntityID, uErr)
		}
		affected, raErr := result.RowsAffected()
		if raErr != nil {
			return fmt.Errorf("failed to get rows affected for node update: %w", raErr)
		}
		if affected > 0 {
			return nil
		}
		_, iErr := s.db.ExecContext(ctx,
			`INSERT INTO nodes (entity_id, entity_type, title, cluster_label,
                embedding_ok, content_stamp, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			node.EntityID, node.EntityType, node.Title, node.ClusterLabel,
			boolInt(node.EmbeddingOK), timeString(node.ContentStamp),
			timeString(node.CreatedAt), timeString(node.UpdatedAt))
		if iErr != nil {
			return fmt.Errorf("failed to insert node %q: %w", node.EntityID, iErr)
		}
		return nil
	})
	if err != nil {
		return err
	}
	success = true
	return nil
}

// GetNode retrieves a single node by entity id.
func (s *Store) GetNode(ctx context.Context, entityID string) (*apptype.GraphNode, error) {
	stmt, err := s.getPreparedStmt(ctx, "SELECT "+nodeColumns+" FROM nodes WHERE entity_id = ?")
	if err != nil {
		return nil, err
	}
	node, err := scanNode(stmt.QueryRowContext(ctx, entityID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("node not found: %s", entityID)
		}
		return nil, fmt.Errorf("failed to scan node: %w", err)
	}
	return node, nil
}

// GetNodes retrieves nodes by entity id, skipping ids that do not exist.
func (s *Store) GetNodes(ctx context.Context, entityIDs []string) ([]apptype.GraphNode, error) {
	if len(entityIDs) == 0 {
		return []apptype.GraphNode{}, nil
	}
	placeholders := strings.Repeat("?,", len(entityIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(entityIDs))
	for i, id := range entityIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM nodes WHERE entity_id IN (%s)", nodeColumns, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []apptype.GraphNode
	for rows.Next() {
		node, sErr := scanNode(rows)
		if sErr != nil {
			log.Printf("Warning: Failed to scan node row: %v", sErr)
			continue
		}
		nodes = append(nodes, *node)
	}
	return nodes, rows.Err()
}

// DeleteNode removes a node, all incident edges, and decrements each
// neighbor's degree counter by exactly the number of edges removed — in one
// transaction, so degree counts never drift from the true edge count.
func (s *Store) DeleteNode(ctx context.Context, entityID string) error {
	done := metrics.TimeOp("store_delete_node")
	success := false
	defer func() { done(success) }()

	if entityID == "" {
		return fmt.Errorf("entity id cannot be empty")
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var existing string
		if err := tx.QueryRowContext(ctx, "SELECT entity_id FROM nodes WHERE entity_id = ?", entityID).Scan(&existing); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("node not found: %s", entityID)
			}
			return fmt.Errorf("failed to check node existence: %w", err)
		}

		// Outgoing edges cost each target one in-degree per edge; a pair of
		// nodes can be linked by several edge kinds, so decrement by the
		// actual incident-edge count rather than by one per neighbor.
		if _, err := tx.ExecContext(ctx,
			`UPDATE nodes SET in_degree = MAX(in_degree - (
                 SELECT COUNT(*) FROM edges WHERE source = ?1 AND target = nodes.entity_id
             ), 0)
             WHERE entity_id IN (SELECT target FROM edges WHERE source = ?1)`,
			entityID); err != nil {
			return fmt.Errorf("failed to decrement neighbor in-degrees: %w", err)
		}
		// Incoming edges cost each source one out-degree per edge.
		if _, err := tx.ExecContext(ctx,
			`UPDATE nodes SET out_degree = MAX(out_degree - (
                 SELECT COUNT(*) FROM edges WHERE target = ?1 AND source = nodes.entity_id
             ), 0)
             WHERE entity_id IN (SELECT source FROM edges WHERE target = ?1)`,
			entityID); err != nil {
			return fmt.Errorf("failed to decrement neighbor out-degrees: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM edges WHERE source = ? OR target = ?", entityID, entityID); err != nil {
			return fmt.Errorf("failed to delete incident edges: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM access_events WHERE entity_id = ?", entityID); err != nil {
			return fmt.Errorf("failed to delete access events: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM nodes WHERE entity_id = ?", entityID); err != nil {
			return fmt.Errorf("failed to delete node: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	success = true
	return nil
}

// TouchNode records one access: increments the counter and stamps the time.
func (s *Store) TouchNode(ctx context.Context, entityID string, now time.Time) error {
	return s.withBusyRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			"UPDATE nodes SET access_count = access_count + 1, last_accessed = ? WHERE entity_id = ?",
			timeString(now), entityID)
		if err != nil {
			return fmt.Errorf("failed to touch node %q: %w", entityID, err)
		}
		return nil
	})
}

// RecordAccessEvent records one typed access: bumps the aggregate counter
// and the per-type tally in the same transaction.
func (s *Store) RecordAccessEvent(ctx context.Context, entityID string, typ apptype.AccessEventType, now time.Time) error {
	if entityID == "" {
		return fmt.Errorf("entity id cannot be empty")
	}
	if typ == "" {
		typ = apptype.AccessView
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"UPDATE nodes SET access_count = access_count + 1, last_accessed = ? WHERE entity_id = ?",
			timeString(now), entityID); err != nil {
			return fmt.Errorf("failed to touch node %q: %w", entityID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO access_events (entity_id, event_type, count) VALUES (?, ?, 1)
             ON CONFLICT(entity_id, event_type) DO UPDATE SET count = count + 1`,
			entityID, string(typ)); err != nil {
			return fmt.Errorf("failed to record access event for %q: %w", entityID, err)
		}
		return nil
	})
}

// AccessEventCountsFor loads the per-type access tallies for a batch of
// entities. Entities with no recorded events are absent from the map.
func (s *Store) AccessEventCountsFor(ctx context.Context, entityIDs []string) (map[string]map[apptype.AccessEventType]int, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(entityIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(entityIDs))
	for i, id := range entityIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT entity_id, event_type, count FROM access_events WHERE entity_id IN ("+placeholders+")",
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load access events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]map[apptype.AccessEventType]int)
	for rows.Next() {
		var entityID, eventType string
		var n int
		if err := rows.Scan(&entityID, &eventType, &n); err != nil {
			return nil, fmt.Errorf("failed to scan access event row: %w", err)
		}
		byType, ok := counts[entityID]
		if !ok {
			byType = make(map[apptype.AccessEventType]int)
			counts[entityID] = byType
		}
		byType[apptype.AccessEventType(eventType)] = n
	}
	return counts, rows.Err()
}

// RecentNodes retrieves nodes ordered by update recency then access count.
func (s *Store) RecentNodes(ctx context.Context, limit int) ([]apptype.GraphNode, error) {
	if limit <= 0 {
		limit = 10
	}
	stmt, err := s.getPreparedStmt(ctx,
		"SELECT "+nodeColumns+" FROM nodes ORDER BY updated_at DESC, access_count DESC, entity_id ASC LIMIT ?")
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent nodes: %w", err)
	}
	defer rows.Close()

	var nodes []apptype.GraphNode
	for rows.Next() {
		node, sErr := scanNode(rows)
		if sErr != nil {
			log.Printf("Warning: Failed to scan recent node row: %v", sErr)
			continue
		}
		nodes = append(nodes, *node)
	}
	return nodes, rows.Err()
}

// TopByPageRank retrieves the N highest-ranked nodes.
func (s *Store) TopByPageRank(ctx context.Context, limit int) ([]apptype.GraphNode, error) {
	if limit <= 0 {
		limit = 10
	}
	stmt, err := s.getPreparedStmt(ctx,
		"SELECT "+nodeColumns+" FROM nodes ORDER BY pagerank DESC, entity_id ASC LIMIT ?")
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes by pagerank: %w", err)
	}
	defer rows.Close()

	var nodes []apptype.GraphNode
	for rows.Next() {
		node, sErr := scanNode(rows)
		if sErr != nil {
			log.Printf("Warning: Failed to scan ranked node row: %v", sErr)
			continue
		}
		nodes = append(nodes, *node)
	}
	return nodes, rows.Err()
}

// SetPageRank writes computed PageRank scores back in one transaction.
func (s *Store) SetPageRank(ctx context.Context, scores map[string]float64) error {
	done := metrics.TimeOp("store_set_pagerank")
	success := false
	defer func() { done(success) }()

	if len(scores) == 0 {
		return nil
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, "UPDATE nodes SET pagerank = ? WHERE entity_id = ?")
		if err != nil {
			return fmt.Errorf("failed to prepare pagerank update: %w", err)
		}
		defer stmt.Close()
		for id, score := range scores {
			if _, err := stmt.ExecContext(ctx, score, id); err != nil {
				return fmt.Errorf("failed to write pagerank for %q: %w", id, err)
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

// SetLayoutHints caches computed 2D positions on the nodes.
func (s *Store) SetLayoutHints(ctx context.Context, positions map[string][2]float64) error {
	if len(positions) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, "UPDATE nodes SET layout_x = ?, layout_y = ? WHERE entity_id = ?")
		if err != nil {
			return fmt.Errorf("failed to prepare layout update: %w", err)
		}
		defer stmt.Close()
		for id, pos := range positions {
			if _, err := stmt.ExecContext(ctx, pos[0], pos[1], id); err != nil {
				return fmt.Errorf("failed to write layout hint for %q: %w", id, err)
			}
		}
		return nil
	})
}

// ListNodeIDs returns every entity id in the graph.
func (s *Store) ListNodeIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT entity_id FROM nodes ORDER BY entity_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list node ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan node id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// NodeCount returns the number of live nodes.
func (s *Store) NodeCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM nodes").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count nodes: %w", err)
	}
	return n, nil
}

// KeywordMatch pairs a node with its raw keyword-match score.
type KeywordMatch struct {
	Node  apptype.GraphNode
	Score float64
}

// KeywordSearch matches query terms against node titles and types. Title
// hits score 2 per term, type hits 1; the raw score is normalized by the
// weight calculator, not here.
func (s *Store) KeywordSearch(ctx context.Context, query string, limit int) ([]KeywordMatch, error) {
	done := metrics.TimeOp("store_keyword_search")
	success := false
	defer func() { done(success) }()

	terms := strings.Fields(strings.ToLower(strings.TrimSpace(query)))
	if len(terms) == 0 {
		return nil, fmt.Errorf("keyword query cannot be empty")
	}
	if limit <= 0 {
		limit = 10
	}

	clauses := make([]string, 0, len(terms))
	args := make([]any, 0, len(terms)*2)
	for _, term := range terms {
		clauses = append(clauses, "(LOWER(title) LIKE ? OR LOWER(entity_type) LIKE ?)")
		pattern := "%" + term + "%"
		args = append(args, pattern, pattern)
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM nodes WHERE %s", nodeColumns, strings.Join(clauses, " OR ")), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute keyword search: %w", err)
	}
	defer rows.Close()

	var matches []KeywordMatch
	for rows.Next() {
		node, sErr := scanNode(rows)
		if sErr != nil {
			log.Printf("Warning: Failed to scan keyword match row: %v", sErr)
			continue
		}
		title := strings.ToLower(node.Title)
		typ := strings.ToLower(node.EntityType)
		var score float64
		for _, term := range terms {
			if strings.Contains(title, term) {
				score += 2
			}
			if strings.Contains(typ, term) {
				score += 1
			}
		}
		if score > 0 {
			matches = append(matches, KeywordMatch{Node: *node, Score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating keyword matches: %w", err)
	}

	// Highest raw score first; id breaks ties for stable output.
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && less(matches[j], matches[j-1]); j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}
	success = true
	return matches, nil
}

func less(a, b KeywordMatch) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Node.EntityID < b.Node.EntityID
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
