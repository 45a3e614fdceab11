// Package store persists the relevance graph: one row per node, one row per
// (source, target, kind) edge. All mutation helpers keep the degree counters
// in step with the true edge count inside a single transaction, because the
// counters feed PageRank and must never drift.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/metrics"
)

// Store handles all graph persistence operations on a single database.
type Store struct {
	config *Config
	db     *sql.DB

	stmtMu    sync.RWMutex
	stmtCache map[string]*sql.Stmt

	capMu sync.RWMutex
	caps  capFlags
}

// capFlags records optional capability detection for the DB handle.
type capFlags struct {
	checked    bool
	vectorTopK bool
}

// Open connects to the configured database and initializes the schema.
func Open(config *Config) (*Store, error) {
	if config.EmbeddingDims <= 0 || config.EmbeddingDims > 65536 {
		return nil, fmt.Errorf("embedding dims must be between 1 and 65536 inclusive, got %d", config.EmbeddingDims)
	}

	dbURL := config.URL
	if !strings.HasPrefix(dbURL, "file:") && config.AuthToken != "" {
		if u, perr := url.Parse(dbURL); perr == nil {
			q := u.Query()
			q.Set("authToken", config.AuthToken)
			u.RawQuery = q.Encode()
			dbURL = u.String()
		}
	}

	db, err := sql.Open("libsql", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connector: %w", err)
	}

	s := &Store{
		config:    config,
		db:        db,
		stmtCache: make(map[string]*sql.Stmt),
	}

	if err := s.initialize(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize graph schema: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxIdleSec > 0 {
		db.SetConnMaxIdleTime(time.Duration(config.ConnMaxIdleSec) * time.Second)
	}
	if config.ConnMaxLifeSec > 0 {
		db.SetConnMaxLifetime(time.Duration(config.ConnMaxLifeSec) * time.Second)
	}

	s.detectCapabilities(context.Background())

	stats := db.Stats()
	metrics.Default().ObservePoolStats(stats.InUse, stats.Idle)
	return s, nil
}

// initialize creates tables and indexes if they don't exist.
func (s *Store) initialize(db *sql.DB) error {
	done := metrics.TimeOp("store_initialize")
	success := false
	defer func() { done(success) }()
	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for initialization: %w", err)
	}
	defer tx.Rollback()

	for _, statement := range dynamicSchema(s.config.EmbeddingDims) {
		if _, err := tx.Exec(statement); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	success = true
	return nil
}

// EmbeddingDims returns the configured embedding dimensionality.
func (s *Store) EmbeddingDims() int { return s.config.EmbeddingDims }

// Config returns the store's configuration.
func (s *Store) Config() *Config { return s.config }

// PoolStats reports in-use and idle connection counts for metrics gauges.
func (s *Store) PoolStats() (inUse, idle int) {
	stats := s.db.Stats()
	return stats.InUse, stats.Idle
}

// getPreparedStmt returns or prepares and caches a statement.
func (s *Store) getPreparedStmt(ctx context.Context, sqlText string) (*sql.Stmt, error) {
	s.stmtMu.RLock()
	if stmt, ok := s.stmtCache[sqlText]; ok {
		s.stmtMu.RUnlock()
		metrics.Default().IncStmtCacheHit("prepare")
		return stmt, nil
	}
	s.stmtMu.RUnlock()
	metrics.Default().IncStmtCacheMiss("prepare")

	stmt, err := s.db.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	s.stmtMu.Lock()
	s.stmtCache[sqlText] = stmt
	s.stmtMu.Unlock()
	return stmt, nil
}

// isBusy reports whether the error is transient lock contention.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "database is locked") || strings.Contains(low, "busy")
}

// withBusyRetry runs fn, retrying with exponential backoff while the
// persistence layer reports contention. Exhausted retries surface the last
// error to the caller.
func (s *Store) withBusyRetry(ctx context.Context, fn func() error) error {
	retries := s.config.BusyRetries
	if retries <= 0 {
		retries = 1
	}
	backoff := s.config.BusyBackoff
	if backoff <= 0 {
		backoff = 10 * time.Millisecond
	}
	var err error
	for attempt := 0; attempt < retries; attempt++ {
		err = fn()
		if !isBusy(err) {
			return err
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return err
}

// inTx runs fn inside a transaction with busy-retry around the whole unit.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.withBusyRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// detectCapabilities probes presence of vector_top_k and records the flag.
// Absence is not an error; similarity search falls back to a full scan.
func (s *Store) detectCapabilities(ctx context.Context) {
	s.capMu.RLock()
	caps := s.caps
	s.capMu.RUnlock()
	if caps.checked {
		return
	}

	// Skip the ANN probe for in-memory test URLs to avoid driver quirks.
	if strings.Contains(s.config.URL, "mode=memory") {
		s.capMu.Lock()
		s.caps = capFlags{checked: true, vectorTopK: false}
		s.capMu.Unlock()
		return
	}

	zero := s.vectorZeroString()
	ctx2, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	rows, err := s.db.QueryContext(ctx2, "SELECT id FROM vector_top_k('idx_nodes_embedding', vector32(?), 1) LIMIT 1", zero)
	if rows != nil {
		rows.Close()
	}
	s.capMu.Lock()
	s.caps = capFlags{checked: true, vectorTopK: err == nil}
	s.capMu.Unlock()
}

// timeString formats a timestamp for storage; zero times store as "".
func timeString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime reads a stored timestamp; "" parses as the zero time.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Close closes the database connection and cached statements.
func (s *Store) Close() error {
	s.stmtMu.Lock()
	for _, stmt := range s.stmtCache {
		_ = stmt.Close()
	}
	s.stmtCache = make(map[string]*sql.Stmt)
	s.stmtMu.Unlock()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close graph database: %w", err)
	}
	return nil
}
