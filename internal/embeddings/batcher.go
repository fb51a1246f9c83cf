package embeddings

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/docchat/internal/metrics"
)

// BatchOptions configures a Batcher.
type BatchOptions struct {
	Size  int
	Pause time.Duration
}

// Batcher implements Service on top of an Embedder. Document texts are sent
// in fixed-size batches with a pause between requests. A batch that fails is
// replaced by zero vectors so the output always lines up with the input.
type Batcher struct {
	embedder Embedder
	size     int
	pause    time.Duration
}

// NewBatcher wraps an Embedder.
func NewBatcher(e Embedder, opts BatchOptions) *Batcher {
	if opts.Size <= 0 {
		opts.Size = 10
	}
	if opts.Pause < 0 {
		opts.Pause = 0
	}
	return &Batcher{embedder: e, size: opts.Size, pause: opts.Pause}
}

// EmbedDocuments embeds passages. Only context cancellation returns an error.
func (b *Batcher) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	provider, model := string(b.embedder.Provider()), b.embedder.ModelName()

	for start := 0; start < len(texts); start += b.size {
		if start > 0 {
			if err := sleep(ctx, b.pause); err != nil {
				return nil, err
			}
		}

		end := min(start+b.size, len(texts))
		batch := texts[start:end]

		vectors, err := b.embedder.Embed(ctx, batch, TaskPassage)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			log.Warn("Embedding batch failed, using zero vectors",
				"provider", provider, "batch_start", start, "batch_size", len(batch), "error", err)
			metrics.EmbeddingRequestsTotal.WithLabelValues(provider, model, "error").Inc()
			metrics.EmbeddingZeroFilledTotal.WithLabelValues(provider, model).Add(float64(len(batch)))
			vectors = ZeroVectors(len(batch), b.embedder.Dimensions())
		} else {
			metrics.EmbeddingRequestsTotal.WithLabelValues(provider, model, "ok").Inc()
		}

		out = append(out, vectors...)
	}

	return out, nil
}

// EmbedQuery embeds a query with the query task.
func (b *Batcher) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	provider, model := string(b.embedder.Provider()), b.embedder.ModelName()

	vectors, err := b.embedder.Embed(ctx, []string{text}, TaskQuery)
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(provider, model, "error").Inc()
		return nil, err
	}
	metrics.EmbeddingRequestsTotal.WithLabelValues(provider, model, "ok").Inc()
	return vectors[0], nil
}

// Dimensions returns the embedding dimensions.
func (b *Batcher) Dimensions() int { return b.embedder.Dimensions() }

// Provider returns the provider name.
func (b *Batcher) Provider() Provider { return b.embedder.Provider() }

// ModelName returns the model name.
func (b *Batcher) ModelName() string { return b.embedder.ModelName() }

// ZeroVectors returns n zero-filled vectors of the given length.
func ZeroVectors(n, dims int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, dims)
	}
	return out
}

// IsZero reports whether v has no non-zero component.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
