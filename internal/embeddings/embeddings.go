// Package embeddings turns text into fixed-length vectors for semantic search.
package embeddings

import (
	"context"
	"fmt"

	"github.com/nickcecere/docchat/internal/config"
)

// Provider represents an embedding provider type.
type Provider string

const (
	ProviderJina   Provider = "jina"
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

// Task selects the side of an asymmetric embedding model.
type Task string

const (
	TaskPassage Task = "passage"
	TaskQuery   Task = "query"
)

// Embedder is a single embedding backend. One call is one upstream request.
type Embedder interface {
	// Embed returns one vector per text, in input order.
	Embed(ctx context.Context, texts []string, task Task) ([][]float32, error)

	// Dimensions returns the vector length this embedder produces.
	Dimensions() int

	// Provider returns the provider name.
	Provider() Provider

	// ModelName returns the model name.
	ModelName() string
}

// Service is what the ingest and query paths use.
type Service interface {
	// EmbedDocuments returns exactly len(texts) vectors of Dimensions() length.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	Dimensions() int
	Provider() Provider
	ModelName() string
}

// Known model dimensions
var modelDimensions = map[string]int{
	// Jina models
	"jina-embeddings-v3":         1024,
	"jina-embeddings-v2-base-en": 768,

	// Ollama models
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"snowflake-arctic-embed": 1024,

	// OpenAI models
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,

	// Gemini models
	"text-embedding-004":   768,
	"gemini-embedding-001": 3072,
}

// GetModelDimensions returns the known dimensions for a model, or 0 if unknown.
func GetModelDimensions(model string) int {
	return modelDimensions[model]
}

// NewEmbedder creates the configured embedding backend.
func NewEmbedder(ctx context.Context, cfg *config.Config) (Embedder, error) {
	ec := cfg.Embeddings
	switch ec.Provider {
	case "jina":
		return NewJinaEmbedder(ec.Jina.URL, ec.Jina.APIKey, ec.Jina.Model, ec.Dimensions, ec.Jina.Timeout)
	case "ollama":
		return NewOllamaEmbedder(ec.Ollama.URL, ec.Ollama.Model, ec.Dimensions)
	case "openai":
		return NewOpenAIEmbedder(ec.OpenAI.APIKey, ec.OpenAI.Model, ec.OpenAI.BaseURL, ec.Dimensions)
	case "gemini":
		return NewGeminiEmbedder(ctx, ec.Gemini.APIKey, ec.Gemini.Model, ec.Dimensions)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", ec.Provider)
	}
}

// NewService creates the configured embedding service: the provider wrapped
// in batching, zero-vector substitution and a query cache.
func NewService(ctx context.Context, cfg *config.Config) (Service, error) {
	e, err := NewEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ec := cfg.Embeddings
	var svc Service = NewBatcher(e, BatchOptions{Size: ec.BatchSize, Pause: ec.BatchPause})
	svc = WithQueryCache(svc, ec.CacheSize, ec.CacheTTL)
	return svc, nil
}

// checkVectors verifies that a provider returned one vector of the expected
// length per input.
func checkVectors(vectors [][]float32, n, dims int) error {
	if len(vectors) != n {
		return fmt.Errorf("expected %d embeddings, got %d", n, len(vectors))
	}
	for i, v := range vectors {
		if len(v) != dims {
			return fmt.Errorf("embedding %d has %d dimensions, expected %d", i, len(v), dims)
		}
	}
	return nil
}
