package embeddings

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"google.golang.org/genai"
)

// geminiTasks maps task modes to Gemini task types.
var geminiTasks = map[Task]string{
	TaskPassage: "RETRIEVAL_DOCUMENT",
	TaskQuery:   "RETRIEVAL_QUERY",
}

// GeminiEmbedder implements Embedder using the Gemini API.
type GeminiEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int
}

// NewGeminiEmbedder creates a Gemini embedder.
func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dimensions int) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if dimensions == 0 {
		dimensions = GetModelDimensions(model)
	}
	if dimensions == 0 {
		return nil, fmt.Errorf("unknown dimensions for model %s", model)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiEmbedder{client: client, model: model, dimensions: dimensions}, nil
}

// Embed embeds all texts in one request.
func (s *GeminiEmbedder) Embed(ctx context.Context, texts []string, task Task) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = &genai.Content{Parts: []*genai.Part{{Text: text}}}
	}

	dims := int32(s.dimensions)
	cfg := &genai.EmbedContentConfig{
		TaskType:             geminiTasks[task],
		OutputDimensionality: &dims,
	}

	log.Debug("Requesting embeddings from Gemini", "model", s.model, "task", task, "count", len(texts))

	resp, err := s.client.Models.EmbedContent(ctx, s.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}

	vectors := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		if e == nil {
			vectors = append(vectors, nil)
			continue
		}
		vectors = append(vectors, e.Values)
	}

	if err := checkVectors(vectors, len(texts), s.dimensions); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Dimensions returns the embedding dimensions.
func (s *GeminiEmbedder) Dimensions() int { return s.dimensions }

// Provider returns the provider name.
func (s *GeminiEmbedder) Provider() Provider { return ProviderGemini }

// ModelName returns the model name.
func (s *GeminiEmbedder) ModelName() string { return s.model }
