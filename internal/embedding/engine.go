// Package embedding provides vector embedding generation for pattern
// similarity search. Supports a fully offline feature-hashing backend and a
// remote HTTP backend (Ollama-compatible /api/embeddings).
package embedding

import (
	"context"
	"fmt"
	"math"

	"vcycle/internal/logging"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings.
	Dimensions() int

	// Name returns the engine name.
	Name() string
}

// HealthChecker is an optional interface for engines that can verify their
// backend is reachable before batch operations.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config holds embedding engine configuration.
type Config struct {
	Provider  string `json:"provider"`  // "hash" or "http"
	Endpoint  string `json:"endpoint"`  // http provider endpoint
	Model     string `json:"model"`     // http provider model name
	Dimension int    `json:"dimension"` // hash provider output width
}

// NewEngine creates an embedding engine from config. The decision is made
// once at composition time; callers hold the Engine interface and never
// check the backend again.
func NewEngine(cfg Config) (Engine, error) {
	switch cfg.Provider {
	case "", "hash":
		dim := cfg.Dimension
		if dim <= 0 {
			dim = 256
		}
		logging.Embedding("Using hash embedder (dim=%d)", dim)
		return NewHashEmbedder(dim), nil
	case "http":
		logging.Embedding("Using HTTP embedder: %s model=%s", cfg.Endpoint, cfg.Model)
		return NewHTTPEmbedder(cfg.Endpoint, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", cfg.Provider)
	}
}

// Normalize scales a vector to unit length in place and returns it.
// Zero vectors are returned unchanged.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	inv := 1.0 / math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
	return vec
}

// Cosine computes cosine similarity between two vectors.
// Mismatched lengths or zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
