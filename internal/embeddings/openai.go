package embeddings

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIEmbedder implements Embedder using the OpenAI API. OpenAI models are
// symmetric, so the task is ignored.
type OpenAIEmbedder struct {
	client        openai.Client
	model         string
	dimensions    int
	setDimensions bool
}

// NewOpenAIEmbedder creates a new OpenAI embedder. A non-zero dimensions
// value that differs from the model's native size is sent to the API, which
// shortens the vectors server-side.
func NewOpenAIEmbedder(apiKey, model, baseURL string, dimensions int) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	native := GetModelDimensions(model)
	setDims := dimensions != 0 && dimensions != native
	if dimensions == 0 {
		dimensions = native
		if dimensions == 0 {
			dimensions = 1536
			log.Debug("Unknown model dimensions, defaulting", "model", model, "dimensions", dimensions)
		}
	}

	return &OpenAIEmbedder{
		client:        openai.NewClient(opts...),
		model:         model,
		dimensions:    dimensions,
		setDimensions: setDims,
	}, nil
}

// Embed requests embeddings for all texts in one call.
func (s *OpenAIEmbedder) Embed(ctx context.Context, texts []string, _ Task) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	log.Debug("Requesting embeddings from OpenAI", "model", s.model, "count", len(texts))

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(s.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	}
	if s.setDimensions {
		params.Dimensions = openai.Int(int64(s.dimensions))
	}

	resp, err := s.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range resp.Data {
		idx := int(data.Index)
		if idx >= len(embeddings) {
			continue
		}
		embedding := make([]float32, len(data.Embedding))
		for i, v := range data.Embedding {
			embedding[i] = float32(v)
		}
		embeddings[idx] = embedding
	}

	if err := checkVectors(embeddings, len(texts), s.dimensions); err != nil {
		return nil, err
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimensions.
func (s *OpenAIEmbedder) Dimensions() int { return s.dimensions }

// Provider returns the provider name.
func (s *OpenAIEmbedder) Provider() Provider { return ProviderOpenAI }

// ModelName returns the model name.
func (s *OpenAIEmbedder) ModelName() string { return s.model }
