//go:build !noprom

package metrics

import (
	"fmt"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

type promRecorder struct {
	opTotal       *prom.CounterVec
	opSeconds     *prom.HistogramVec
	toolTotal     *prom.CounterVec
	toolSeconds   *prom.HistogramVec
	cascadeTotal  *prom.CounterVec
	cacheHits     *prom.CounterVec
	cacheMisses   *prom.CounterVec
	stmtHits      *prom.CounterVec
	stmtMisses    *prom.CounterVec
	poolInUse     prom.Gauge
	poolIdle      prom.Gauge
}

func (p *promRecorder) IncOpTotal(op string, success bool) {
	p.opTotal.WithLabelValues(op, fmt.Sprintf("%t", success)).Inc()
}

func (p *promRecorder) ObserveOpSeconds(op string, success bool, seconds float64) {
	p.opSeconds.WithLabelValues(op, fmt.Sprintf("%t", success)).Observe(seconds)
}

func (p *promRecorder) IncToolTotal(tool string, success bool) {
	p.toolTotal.WithLabelValues(tool, fmt.Sprintf("%t", success)).Inc()
}

func (p *promRecorder) ObserveToolSeconds(tool string, success bool, seconds float64) {
	p.toolSeconds.WithLabelValues(tool, fmt.Sprintf("%t", success)).Observe(seconds)
}

func (p *promRecorder) IncCascadeFallback(stage string) {
	p.cascadeTotal.WithLabelValues(stage).Inc()
}

func (p *promRecorder) IncCacheHit(cache string) {
	p.cacheHits.WithLabelValues(cache).Inc()
}

func (p *promRecorder) IncCacheMiss(cache string) {
	p.cacheMisses.WithLabelValues(cache).Inc()
}

func (p *promRecorder) IncStmtCacheHit(kind string) {
	p.stmtHits.WithLabelValues(kind).Inc()
}

func (p *promRecorder) IncStmtCacheMiss(kind string) {
	p.stmtMisses.WithLabelValues(kind).Inc()
}

func (p *promRecorder) ObservePoolStats(inUse, idle int) {
	p.poolInUse.Set(float64(inUse))
	p.poolIdle.Set(float64(idle))
}

func enablePrometheus(addr string) error {
	registry := prom.NewRegistry()
	p := &promRecorder{
		opTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "graph_ops_total",
			Help: "Total number of graph store/engine operations",
		}, []string{"op", "success"}),
		opSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "graph_op_seconds",
			Help:    "Graph operation duration in seconds",
			Buckets: prom.DefBuckets,
		}, []string{"op", "success"}),
		toolTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "tool_calls_total",
			Help: "Total number of tool handler calls",
		}, []string{"tool", "success"}),
		toolSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "tool_call_seconds",
			Help:    "Tool handler duration in seconds",
			Buckets: prom.DefBuckets,
		}, []string{"tool", "success"}),
		cascadeTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "query_cascade_fallbacks_total",
			Help: "Times the query engine degraded to a fallback signal source",
		}, []string{"stage"}),
		cacheHits: prom.NewCounterVec(prom.CounterOpts{
			Name: "cache_hits_total",
			Help: "Cache tier hits",
		}, []string{"cache"}),
		cacheMisses: prom.NewCounterVec(prom.CounterOpts{
			Name: "cache_misses_total",
			Help: "Cache tier misses",
		}, []string{"cache"}),
		stmtHits: prom.NewCounterVec(prom.CounterOpts{
			Name: "stmt_cache_hits_total",
			Help: "Prepared statement cache hits",
		}, []string{"kind"}),
		stmtMisses: prom.NewCounterVec(prom.CounterOpts{
			Name: "stmt_cache_misses_total",
			Help: "Prepared statement cache misses",
		}, []string{"kind"}),
		poolInUse: prom.NewGauge(prom.GaugeOpts{
			Name: "db_pool_in_use",
			Help: "Database connections currently in use",
		}),
		poolIdle: prom.NewGauge(prom.GaugeOpts{
			Name: "db_pool_idle",
			Help: "Idle database connections",
		}),
	}

	registry.MustRegister(
		p.opTotal, p.opSeconds, p.toolTotal, p.toolSeconds, p.cascadeTotal,
		p.cacheHits, p.cacheMisses, p.stmtHits, p.stmtMisses, p.poolInUse, p.poolIdle,
	)
	SetRecorder(p)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	go func() { _ = http.ListenAndServe(addr, mux) }()
	return nil
}
