package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)

	// Embeddings defaults
	assert.Equal(t, DefaultEmbeddingProvider, cfg.Embeddings.Provider)
	assert.Equal(t, 1024, cfg.Embeddings.Dimensions)
	assert.Equal(t, 10, cfg.Embeddings.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Embeddings.BatchPause)
	assert.Equal(t, "jina-embeddings-v3", cfg.Embeddings.Jina.Model)

	// LLM retry policy
	assert.Equal(t, 3, cfg.LLM.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.LLM.InitialBackoff)
	assert.Equal(t, 300*time.Second, cfg.LLM.MaxBackoff)

	// Extraction and chunking
	assert.Equal(t, 50, cfg.Extraction.ScannedThreshold)
	assert.Equal(t, 2000, cfg.Chunking.ChunkSize)
	assert.Equal(t, 100, cfg.Chunking.ChunkOverlap)
	assert.Equal(t, 50000, cfg.Chunking.SliceSize)
	assert.Equal(t, 45000, cfg.Chunking.SliceStride)
	assert.Equal(t, DefaultWorkers(), cfg.Extraction.Workers)
	assert.Equal(t, DefaultWorkers(), cfg.Chunking.Workers)

	// Retrieval
	assert.Equal(t, 5, cfg.Retrieval.K)
	assert.Equal(t, 3000, cfg.Retrieval.MaxContextChars)

	assert.Equal(t, "sqlite", cfg.Index.Backend)
	assert.NoError(t, cfg.Validate())
}

func TestDefaultIgnorePatterns(t *testing.T) {
	patterns := DefaultIgnorePatterns()

	assert.NotEmpty(t, patterns)
	for _, expected := range []string{".git/", "node_modules/", "*.part", ".DS_Store"} {
		assert.Contains(t, patterns, expected, "Expected pattern %s not found", expected)
	}
}

func TestDefaultPaths(t *testing.T) {
	assert.Contains(t, DefaultConfigDir(), "docchat")
	assert.Contains(t, DefaultDataDir(), "docchat")
	assert.Contains(t, DefaultIndexPath(), "index.db")
	assert.Contains(t, DefaultArtifactsPath(), "artifacts.db")
}

func TestDefaultWorkers(t *testing.T) {
	w := DefaultWorkers()
	assert.GreaterOrEqual(t, w, 1)
	assert.LessOrEqual(t, w, 4)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"overlap not smaller than size", func(c *Config) { c.Chunking.ChunkOverlap = c.Chunking.ChunkSize }},
		{"zero stride", func(c *Config) { c.Chunking.SliceStride = 0 }},
		{"stride larger than slice", func(c *Config) { c.Chunking.SliceStride = c.Chunking.SliceSize + 1 }},
		{"zero dimensions", func(c *Config) { c.Embeddings.Dimensions = 0 }},
		{"zero batch", func(c *Config) { c.Embeddings.BatchSize = 0 }},
		{"unknown backend", func(c *Config) { c.Index.Backend = "chroma" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	viper.Reset()
	cfg = nil

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
embeddings:
  provider: openai
  dimensions: 1536
  batch_pause: 2s
  openai:
    model: text-embedding-3-large
    base_url: https://custom-api.example.com
index:
  backend: redis
  redis:
    addr: redis.internal:6379
retrieval:
  k: 8
llm:
  provider: anthropic
  anthropic:
    model: claude-3-opus-20240229
  initial_backoff: 1s
ignore:
  - "drafts/"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))
	require.NoError(t, Load(configPath))

	loaded := Get()

	assert.Equal(t, "openai", loaded.Embeddings.Provider)
	assert.Equal(t, 1536, loaded.Embeddings.Dimensions)
	assert.Equal(t, 2*time.Second, loaded.Embeddings.BatchPause)
	assert.Equal(t, "text-embedding-3-large", loaded.Embeddings.OpenAI.Model)
	assert.Equal(t, "https://custom-api.example.com", loaded.Embeddings.OpenAI.BaseURL)
	assert.Equal(t, "redis", loaded.Index.Backend)
	assert.Equal(t, "redis.internal:6379", loaded.Index.Redis.Addr)
	assert.Equal(t, 8, loaded.Retrieval.K)
	assert.Equal(t, "anthropic", loaded.LLM.Provider)
	assert.Equal(t, "claude-3-opus-20240229", loaded.LLM.Anthropic.Model)
	assert.Equal(t, time.Second, loaded.LLM.InitialBackoff)
	assert.Equal(t, 300*time.Second, loaded.LLM.MaxBackoff)
	assert.Contains(t, loaded.Ignore, "drafts/")

	// Untouched sections keep defaults
	assert.Equal(t, DefaultChunkSize, loaded.Chunking.ChunkSize)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	viper.Reset()
	cfg = nil

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("chunking:\n  chunk_overlap: 5000\n"), 0644))

	err := Load(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_overlap")
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	viper.Reset()
	cfg = nil

	t.Setenv("DOCCHAT_EMBEDDINGS_PROVIDER", "gemini")
	t.Setenv("DOCCHAT_LLM_PROVIDER", "anthropic")
	t.Setenv("JINA_API_KEY", "jina-key")
	t.Setenv("OPENAI_API_KEY", "test-api-key")
	t.Setenv("ANTHROPIC_API_KEY", "test-anthropic-key")
	t.Setenv("GEMINI_API_KEY", "gemini-key")

	require.NoError(t, Load(""))

	loaded := Get()

	assert.Equal(t, "gemini", loaded.Embeddings.Provider)
	assert.Equal(t, "anthropic", loaded.LLM.Provider)
	assert.Equal(t, "jina-key", loaded.Embeddings.Jina.APIKey)
	assert.Equal(t, "test-api-key", loaded.Embeddings.OpenAI.APIKey)
	assert.Equal(t, "test-api-key", loaded.LLM.OpenAI.APIKey)
	assert.Equal(t, "test-anthropic-key", loaded.LLM.Anthropic.APIKey)
	assert.Equal(t, "gemini-key", loaded.Embeddings.Gemini.APIKey)
	assert.Equal(t, "gemini-key", loaded.LLM.Gemini.APIKey)
}

func TestLoadMissingConfigFile(t *testing.T) {
	viper.Reset()
	cfg = nil

	require.NoError(t, Load(""))

	loaded := Get()
	assert.Equal(t, DefaultEmbeddingProvider, loaded.Embeddings.Provider)
	assert.Equal(t, DefaultLLMProvider, loaded.LLM.Provider)
}

func TestGet(t *testing.T) {
	cfg = nil

	c1 := Get()
	assert.NotNil(t, c1)

	c2 := Get()
	assert.Same(t, c1, c2)
}

func TestGlobalConfigPath(t *testing.T) {
	path := GlobalConfigPath()
	assert.Contains(t, path, "docchat")
	assert.Contains(t, path, "config.yaml")
}
