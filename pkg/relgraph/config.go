package relgraph

import (
	"time"

	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/embeddings"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/service"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/store"
)

// Config exposes a stable wrapper for graph configuration in package mode.
// Zero values fall back to the calibrated defaults.
type Config struct {
	URL           string
	AuthToken     string
	EmbeddingDims int

	// Provider overrides env-based embedding provider selection.
	Provider embeddings.Provider

	FocusDebounce    time.Duration
	PageRankInterval time.Duration
}

func (c *Config) toInternal() *service.Config {
	cfg := service.DefaultConfig()
	if c == nil {
		return cfg
	}
	sc := store.NewConfig()
	if c.URL != "" {
		sc.URL = c.URL
	}
	if c.AuthToken != "" {
		sc.AuthToken = c.AuthToken
	}
	if c.EmbeddingDims > 0 {
		sc.EmbeddingDims = c.EmbeddingDims
	}
	cfg.Store = sc
	cfg.Provider = c.Provider
	if c.FocusDebounce > 0 {
		cfg.FocusDebounce = c.FocusDebounce
	}
	cfg.PageRankInterval = c.PageRankInterval
	return cfg
}
