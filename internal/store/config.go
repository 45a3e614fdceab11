package store

import (
	"os"
	"strconv"
	"time"
)

// Config holds the graph store configuration.
type Config struct {
	URL           string
	AuthToken     string
	EmbeddingDims int

	MaxOpenConns   int
	MaxIdleConns   int
	ConnMaxIdleSec int
	ConnMaxLifeSec int

	// Busy-retry policy for contended writes.
	BusyRetries int
	BusyBackoff time.Duration
}

// NewConfig creates a new Config from environment variables.
func NewConfig() *Config {
	url := os.Getenv("RELGRAPH_DB_URL")
	if url == "" {
		url = "file:./relgraph.db"
	}

	dims := 4
	if v := os.Getenv("EMBEDDING_DIMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			dims = n
		}
	}

	return &Config{
		URL:           url,
		AuthToken:     os.Getenv("RELGRAPH_AUTH_TOKEN"),
		EmbeddingDims: dims,
		BusyRetries:   5,
		BusyBackoff:   10 * time.Millisecond,
	}
}
