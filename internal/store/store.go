package store

import (
	"context"
	"fmt"

	"github.com/nickcecere/docchat/internal/config"
)

// Index manages per-conversation collections. Implementations must be safe
// for concurrent use.
type Index interface {
	// Open returns an existing collection, or nil, nil when the namespace
	// has never been created.
	Open(ctx context.Context, namespace string) (Collection, error)

	// Create returns the collection for namespace, creating it if needed.
	// Creating an existing namespace with different dimensions fails with
	// ErrDimensionMismatch.
	Create(ctx context.Context, namespace string, dimensions int) (Collection, error)

	// Drop removes a namespace and all of its chunks.
	Drop(ctx context.Context, namespace string) error

	// Backend names the implementation ("sqlite", "redis").
	Backend() string

	Close() error
}

// Collection holds the chunks and vectors of one conversation.
type Collection interface {
	Namespace() string
	Dimensions() int

	// Upsert adds chunks with their embeddings. Chunks are keyed by
	// (file_id, chunk_index); writing the same key again replaces it.
	Upsert(ctx context.Context, chunks []Chunk, embeddings [][]float32) error

	// DeleteByFile removes every chunk of fileID and reports how many were removed.
	DeleteByFile(ctx context.Context, fileID string) (int, error)

	// Search returns the k nearest chunks by cosine distance. A non-empty
	// fileIDs restricts candidates before ranking.
	Search(ctx context.Context, query []float32, k int, fileIDs []string) ([]Hit, error)

	// Chunks returns the chunks of one file ordered by chunk index.
	Chunks(ctx context.Context, fileID string) ([]Chunk, error)

	// Count returns the number of chunks in the collection.
	Count(ctx context.Context) (int, error)
}

// NewIndex opens the backend selected by index.backend.
func NewIndex(cfg *config.Config) (Index, error) {
	switch cfg.Index.Backend {
	case "sqlite":
		return NewSQLiteIndex(cfg.Index.SQLite.Path)
	case "redis":
		return NewRedisIndex(RedisOptions{
			Addr:     cfg.Index.Redis.Addr,
			Username: cfg.Index.Redis.Username,
			Password: cfg.Index.Redis.Password,
			DB:       cfg.Index.Redis.DB,
		})
	default:
		return nil, fmt.Errorf("unsupported index backend: %s", cfg.Index.Backend)
	}
}
