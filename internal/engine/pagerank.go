package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/metrics"
)

// RunPageRank recomputes centrality for every node with a fixed number of
// edge-weighted power iterations and writes the scores back through the
// writer goroutine. Fixed iteration count keeps reruns reproducible on the
// same graph.
func (e *Engine) RunPageRank(ctx context.Context) error {
	return e.submit(ctx, func(ctx context.Context) error {
		done := metrics.TimeOp("engine_pagerank")
		success := false
		defer func() { done(success) }()

		ids, err := e.store.ListNodeIDs(ctx)
		if err != nil {
			return fmt.Errorf("failed to list nodes for pagerank: %w", err)
		}
		if len(ids) == 0 {
			success = true
			return nil
		}
		edges, err := e.store.ListEdges(ctx)
		if err != nil {
			return fmt.Errorf("failed to list edges for pagerank: %w", err)
		}

		idx := make(map[string]int, len(ids))
		for i, id := range ids {
			idx[id] = i
		}

		type outLink struct {
			to     int
			weight float64
		}
		out := make([][]outLink, len(ids))
		outWeight := make([]float64, len(ids))
		addLink := func(from, to int, w float64) {
			out[from] = append(out[from], outLink{to: to, weight: w})
			outWeight[from] += w
		}
		for _, edge := range edges {
			src, okS := idx[edge.Source]
			dst, okD := idx[edge.Target]
			if !okS || !okD || src == dst {
				continue
			}
			w := edge.Combined
			if w <= 0 {
				continue
			}
			addLink(src, dst, w)
			if !edge.Directed {
				addLink(dst, src, w)
			}
		}

		n := float64(len(ids))
		d := e.cfg.PageRankDamping
		rank := make([]float64, len(ids))
		next := make([]float64, len(ids))
		for i := range rank {
			rank[i] = 1.0 / n
		}
		for iter := 0; iter < e.cfg.PageRankIterations; iter++ {
			var danglingMass float64
			for i := range next {
				next[i] = 0
			}
			for i, links := range out {
				if outWeight[i] == 0 {
					danglingMass += rank[i]
					continue
				}
				share := rank[i] / outWeight[i]
				for _, l := range links {
					next[l.to] += share * l.weight
				}
			}
			base := (1-d)/n + d*danglingMass/n
			for i := range next {
				next[i] = base + d*next[i]
			}
			rank, next = next, rank
		}

		scores := make(map[string]float64, len(ids))
		for i, id := range ids {
			scores[id] = rank[i]
		}
		if err := e.store.SetPageRank(ctx, scores); err != nil {
			return fmt.Errorf("failed to persist pagerank scores: %w", err)
		}
		success = true
		return nil
	})
}

// StartPageRankTimer recomputes PageRank on a fixed interval until
// StopPageRankTimer or Close. Starting twice replaces the previous timer.
func (e *Engine) StartPageRankTimer(interval time.Duration) {
	if interval <= 0 {
		return
	}
	e.prTimerMu.Lock()
	if e.prStop != nil {
		close(e.prStop)
	}
	stop := make(chan struct{})
	e.prStop = stop
	e.prTimerMu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := e.RunPageRank(context.Background()); err != nil {
					log.Printf("Warning: scheduled pagerank run failed: %v", err)
				}
			case <-stop:
				return
			case <-e.done:
				return
			}
		}
	}()
}

// StopPageRankTimer halts the scheduled recomputation, if running.
func (e *Engine) StopPageRankTimer() {
	e.prTimerMu.Lock()
	if e.prStop != nil {
		close(e.prStop)
		e.prStop = nil
	}
	e.prTimerMu.Unlock()
}
