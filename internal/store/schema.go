package store

import "fmt"

// dynamicSchema returns schema DDL using the configured embedding dimension.
// Both tables are rebuildable in full from the entity store plus the
// embedding backend; nothing here is authoritative.
func dynamicSchema(embeddingDims int) []string {
	if embeddingDims <= 0 {
		embeddingDims = 4
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS nodes (
        entity_id TEXT PRIMARY KEY,
        entity_type TEXT NOT NULL,
        title TEXT NOT NULL DEFAULT '',
        layout_x REAL NOT NULL DEFAULT 0,
        layout_y REAL NOT NULL DEFAULT 0,
        cluster_label TEXT NOT NULL DEFAULT '',
        pagerank REAL NOT NULL DEFAULT 0,
        in_degree INTEGER NOT NULL DEFAULT 0,
        out_degree INTEGER NOT NULL DEFAULT 0,
        access_count INTEGER NOT NULL DEFAULT 0,
        last_accessed TEXT NOT NULL DEFAULT '',
        embedding_ok INTEGER NOT NULL DEFAULT 0,
        embedding F32_BLOB(%d),
        content_stamp TEXT NOT NULL DEFAULT '',
        created_at TEXT NOT NULL DEFAULT '',
        updated_at TEXT NOT NULL DEFAULT ''
    )`, embeddingDims),

		// Uniqueness on (source, target, kind) backs upsert-never-duplicate.
		`CREATE TABLE IF NOT EXISTS edges (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        source TEXT NOT NULL,
        target TEXT NOT NULL,
        kind TEXT NOT NULL,
        directed INTEGER NOT NULL DEFAULT 1,
        w_semantic REAL NOT NULL DEFAULT 0,
        w_structural REAL NOT NULL DEFAULT 0,
        w_recency REAL NOT NULL DEFAULT 0,
        w_usage REAL NOT NULL DEFAULT 0,
        combined REAL NOT NULL DEFAULT 0,
        computed_at TEXT NOT NULL DEFAULT '',
        UNIQUE(source, target, kind),
        FOREIGN KEY (source) REFERENCES nodes(entity_id),
        FOREIGN KEY (target) REFERENCES nodes(entity_id)
    )`,

		// Per-type access tallies feed the typed-event usage weighting;
		// nodes.access_count stays as the cheap aggregate.
		`CREATE TABLE IF NOT EXISTS access_events (
        entity_id TEXT NOT NULL,
        event_type TEXT NOT NULL,
        count INTEGER NOT NULL DEFAULT 0,
        PRIMARY KEY (entity_id, event_type),
        FOREIGN KEY (entity_id) REFERENCES nodes(entity_id)
    )`,

		`CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(entity_type)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_pagerank ON nodes(pagerank)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_updated_at ON nodes(updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_source_combined ON edges(source, combined)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_src_tgt_kind ON edges(source, target, kind)`,

		// Vector index for similarity search.
		`CREATE INDEX IF NOT EXISTS idx_nodes_embedding ON nodes(libsql_vector_idx(embedding))`,
	}
}
