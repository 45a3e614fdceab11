package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/metrics"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/server"
	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/service"
)

var (
	libsqlURL        = flag.String("libsql-url", "", "libSQL database URL (default: file:./relgraph.db)")
	authToken        = flag.String("auth-token", "", "Authentication token for remote databases")
	embeddingDims    = flag.Int("embedding-dims", 0, "Embedding dimensionality for the vector column")
	pagerankInterval = flag.Duration("pagerank-interval", 0, "Interval for scheduled PageRank runs (0 disables)")
	transport        = flag.String("transport", "stdio", "Transport to use: stdio or sse")
	addr             = flag.String("addr", ":8080", "Address to listen on when using SSE transport")
	sseEndpoint      = flag.String("sse-endpoint", "/sse", "SSE endpoint path when using SSE transport")
)

func main() {
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Received shutdown signal, closing server...")
		cancel()
	}()

	cfg := service.DefaultConfig()

	// Initialize metrics (noop if disabled)
	metrics.InitFromEnv()

	// Override with command line flags if provided
	if *libsqlURL != "" {
		cfg.Store.URL = *libsqlURL
	}
	if *authToken != "" {
		cfg.Store.AuthToken = *authToken
	}
	if *embeddingDims > 0 {
		cfg.Store.EmbeddingDims = *embeddingDims
	}
	if *pagerankInterval > 0 {
		cfg.PageRankInterval = *pagerankInterval
	}

	svc, err := service.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create graph service: %v", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Printf("Error closing graph service: %v", err)
		}
	}()

	mcpServer := server.NewMCPServer(svc)

	log.Println("Starting relevance graph server...")
	switch *transport {
	case "stdio":
		go func() {
			if err := mcpServer.Run(ctx); err != nil {
				log.Printf("Server error: %v", err)
			}
		}()
	case "sse":
		go func() {
			if err := mcpServer.RunSSE(ctx, *addr, *sseEndpoint); err != nil {
				log.Printf("SSE server error: %v", err)
			}
		}()
	default:
		log.Fatalf("unknown transport: %s (expected: stdio or sse)", *transport)
	}

	<-ctx.Done()

	log.Println("Server stopped")
}
