package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"os"
	"strings"
)

// Provider defines a simple embeddings provider interface.
// Implementations should be concurrency-safe.
type Provider interface {
	// Name returns the provider name (e.g., "openai", "ollama").
	Name() string
	// Dimensions returns the embedding dimensionality this provider produces.
	Dimensions() int
	// Embed returns one embedding per input string.
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// NewFromEnv constructs a provider based on environment variables.
// EMBEDDINGS_PROVIDER: "openai", "ollama", "static", or empty for disabled.
// A nil provider is valid: the engine degrades to keyword matching.
func NewFromEnv() Provider {
	name := strings.ToLower(strings.TrimSpace(os.Getenv("EMBEDDINGS_PROVIDER")))
	switch name {
	case "openai":
		if p := newOpenAIFromEnv(); p != nil {
			return p
		}
		return nil
	case "ollama":
		if p := newOllamaFromEnv(); p != nil {
			return p
		}
		return nil
	case "static":
		return &StaticProvider{N: 4}
	default:
		return nil
	}
}

// StaticProvider produces deterministic unit vectors derived from a hash of
// the input text. Used in tests and offline setups; similar texts do NOT get
// similar vectors, identical texts do.
type StaticProvider struct {
	N int
}

func (p *StaticProvider) Name() string { return "static" }

func (p *StaticProvider) Dimensions() int {
	if p.N <= 0 {
		return 4
	}
	return p.N
}

func (p *StaticProvider) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	dims := p.Dimensions()
	out := make([][]float32, len(inputs))
	for i, input := range inputs {
		h := fnv.New64a()
		_, _ = h.Write([]byte(input))
		seed := h.Sum64()
		vec := make([]float32, dims)
		var norm float64
		for d := range vec {
			seed = seed*6364136223846793005 + 1442695040888963407
			v := float64(int64(seed>>11))/float64(1<<52) - 1.0
			vec[d] = float32(v)
			norm += v * v
		}
		if norm > 0 {
			inv := float32(1.0 / math.Sqrt(norm))
			for d := range vec {
				vec[d] *= inv
			}
		}
		out[i] = vec
	}
	return out, nil
}

func f64to32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i := range v {
		out[i] = float32(v[i])
	}
	return out
}
