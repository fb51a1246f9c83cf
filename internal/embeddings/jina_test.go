package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockJinaServer answers with vectors whose first component is the input
// position, and records the task of every request.
func mockJinaServer(t *testing.T, dims int, tasks *[]string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer jina-test", r.Header.Get("Authorization"))

		var req jinaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "jina-embeddings-v3", req.Model)
		assert.Equal(t, dims, req.Dimensions)
		if tasks != nil {
			*tasks = append(*tasks, req.Task)
		}

		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		data := make([]item, len(req.Input))
		for i := range req.Input {
			v := make([]float32, dims)
			v[0] = float32(i)
			data[i] = item{Index: i, Embedding: v}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
}

func TestJinaEmbed_Tasks(t *testing.T) {
	var tasks []string
	server := mockJinaServer(t, 1024, &tasks)
	defer server.Close()

	svc, err := NewJinaEmbedder(server.URL, "jina-test", "jina-embeddings-v3", 1024, 0)
	require.NoError(t, err)

	vectors, err := svc.Embed(context.Background(), []string{"a", "b", "c"}, TaskPassage)
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, float32(2), vectors[2][0])

	_, err = svc.Embed(context.Background(), []string{"q"}, TaskQuery)
	require.NoError(t, err)

	assert.Equal(t, []string{"retrieval.passage", "retrieval.query"}, tasks)
}

func TestJinaEmbed_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"detail":"rate limit"}`))
	}))
	defer server.Close()

	svc, _ := NewJinaEmbedder(server.URL, "jina-test", "jina-embeddings-v3", 0, 0)
	_, err := svc.Embed(context.Background(), []string{"a"}, TaskPassage)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}

func TestNewJinaEmbedder_Validation(t *testing.T) {
	_, err := NewJinaEmbedder("", "", "jina-embeddings-v3", 0, 0)
	assert.Error(t, err)

	_, err = NewJinaEmbedder("", "key", "mystery-model", 0, 0)
	assert.Error(t, err)

	svc, err := NewJinaEmbedder("", "key", "mystery-model", 256, 0)
	require.NoError(t, err)
	assert.Equal(t, "https://api.jina.ai/v1/embeddings", svc.url)
	assert.Equal(t, 256, svc.Dimensions())
}
