package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
)

// jinaTasks maps task modes to Jina task names.
var jinaTasks = map[Task]string{
	TaskPassage: "retrieval.passage",
	TaskQuery:   "retrieval.query",
}

// JinaEmbedder implements Embedder against the Jina embeddings API.
type JinaEmbedder struct {
	url        string
	apiKey     string
	model      string
	dimensions int
	client     *http.Client
}

type jinaEmbedRequest struct {
	Model      string   `json:"model"`
	Task       string   `json:"task"`
	Dimensions int      `json:"dimensions"`
	Input      []string `json:"input"`
}

type jinaEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewJinaEmbedder creates a Jina embedder.
func NewJinaEmbedder(url, apiKey, model string, dimensions int, timeout time.Duration) (*JinaEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Jina API key is required")
	}
	if url == "" {
		url = "https://api.jina.ai/v1/embeddings"
	}
	if dimensions == 0 {
		dimensions = GetModelDimensions(model)
	}
	if dimensions == 0 {
		return nil, fmt.Errorf("unknown dimensions for model %s", model)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &JinaEmbedder{
		url:        url,
		apiKey:     apiKey,
		model:      model,
		dimensions: dimensions,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

// Embed sends one request for all texts.
func (s *JinaEmbedder) Embed(ctx context.Context, texts []string, task Task) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(jinaEmbedRequest{
		Model:      s.model,
		Task:       jinaTasks[task],
		Dimensions: s.dimensions,
		Input:      texts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	log.Debug("Requesting embeddings from Jina", "model", s.model, "task", task, "count", len(texts))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("jina returned status %d: %s", resp.StatusCode, string(msg))
	}

	var result jinaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	vectors := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}

	if err := checkVectors(vectors, len(texts), s.dimensions); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Dimensions returns the embedding dimensions.
func (s *JinaEmbedder) Dimensions() int { return s.dimensions }

// Provider returns the provider name.
func (s *JinaEmbedder) Provider() Provider { return ProviderJina }

// ModelName returns the model name.
func (s *JinaEmbedder) ModelName() string { return s.model }
