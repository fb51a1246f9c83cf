package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/nickcecere/docchat/internal/metrics"
)

// cachedService memoises query embeddings. Document embeddings pass through.
type cachedService struct {
	Service
	cache *expirable.LRU[string, []float32]
}

// WithQueryCache wraps svc with an expiring LRU cache for EmbedQuery. A
// non-positive size or ttl disables the cache.
func WithQueryCache(svc Service, size int, ttl time.Duration) Service {
	if svc == nil || size <= 0 || ttl <= 0 {
		return svc
	}
	return &cachedService{
		Service: svc,
		cache:   expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

func (c *cachedService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := fmt.Sprintf("%s:%016x", c.ModelName(), xxhash.Sum64String(text))
	if cached, ok := c.cache.Get(key); ok {
		log.Debug("Query embedding cache hit")
		metrics.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
		return cloneVector(cached), nil
	}
	metrics.EmbeddingCacheTotal.WithLabelValues("miss").Inc()

	v, err := c.Service.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, cloneVector(v))
	return v, nil
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
