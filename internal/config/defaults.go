package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Default configuration values
const (
	// Embedding defaults
	DefaultEmbeddingProvider   = "jina"
	DefaultEmbeddingDimensions = 1024
	DefaultEmbedBatchSize      = 10
	DefaultEmbedBatchPause     = 500 * time.Millisecond
	DefaultEmbedCacheSize      = 512
	DefaultEmbedCacheTTL       = 15 * time.Minute
	DefaultJinaURL             = "https://api.jina.ai/v1/embeddings"
	DefaultJinaEmbedModel      = "jina-embeddings-v3"
	DefaultJinaTimeout         = 30 * time.Second
	DefaultOllamaURL           = "http://localhost:11434"
	DefaultOllamaEmbedModel    = "mxbai-embed-large"
	DefaultOpenAIEmbedModel    = "text-embedding-3-small"
	DefaultGeminiEmbedModel    = "text-embedding-004"

	// LLM defaults
	DefaultLLMProvider       = "gemini"
	DefaultVisionProvider    = "gemini"
	DefaultTemperature       = 0.2
	DefaultMaxTokens         = 2048
	DefaultMaxRetries        = 3
	DefaultInitialBackoff    = 60 * time.Second
	DefaultMaxBackoff        = 300 * time.Second
	DefaultOllamaLLMModel    = "llama3"
	DefaultOpenAILLMModel    = "gpt-4o-mini"
	DefaultOpenAIVisionModel = "gpt-4o-mini"
	DefaultAnthropicModel    = "claude-3-haiku-20240307"
	DefaultGeminiLLMModel    = "gemini-2.0-flash"

	// Extraction defaults
	DefaultScannedThreshold  = 50
	DefaultOCREngine         = "tesseract"
	DefaultOCRLanguages      = "vie+eng"
	DefaultOCRDPI            = 108 // zoom 1.5
	DefaultTesseractPath     = "tesseract"
	DefaultVisionDPI         = 300
	DefaultVisionBatchSize   = 4
	DefaultVisionConcurrency = 2

	// Chunking defaults
	DefaultTokenizer    = "tiktoken"
	DefaultEncoding     = "r50k_base"
	DefaultChunkSize    = 2000
	DefaultChunkOverlap = 100
	DefaultSliceSize    = 50000
	DefaultSliceStride  = 45000

	// Index defaults
	DefaultIndexBackend = "sqlite"
	DefaultRedisAddr    = "localhost:6379"
	DefaultIndexFile    = "index.db"

	// Retrieval defaults
	DefaultTopK            = 5
	DefaultMaxContextChars = 3000

	// Artifacts defaults
	DefaultArtifactsBackend = "sql"
	DefaultArtifactsDriver  = "sqlite3"
	DefaultArtifactsFile    = "artifacts.db"

	// Task queue defaults
	DefaultTaskWorkers       = 2
	DefaultTaskQueueSize     = 64
	DefaultTaskRetention     = 24 * time.Hour
	DefaultTaskPruneSchedule = "*/10 * * * *"

	// Server defaults
	DefaultServerAddr     = ":8080"
	DefaultTokenTTL       = 24 * time.Hour
	DefaultMaxUploadBytes = 50 << 20 // 50MB
)

// DefaultIgnorePatterns returns the patterns skipped when ingesting a directory.
func DefaultIgnorePatterns() []string {
	return []string{
		// Version control
		".git/",
		".svn/",
		".hg/",

		// Dependencies and build outputs
		"node_modules/",
		"vendor/",
		".venv/",
		"dist/",
		"build/",

		// Partial downloads and editor leftovers
		"*.part",
		"*.crdownload",
		"*.tmp",
		"~$*",
		".~lock.*",

		// Misc
		".DS_Store",
		"Thumbs.db",
	}
}

// DefaultWorkers returns the default size of CPU-bound worker pools.
func DefaultWorkers() int {
	return min(4, runtime.NumCPU())
}

// DefaultConfigDir returns the default configuration directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/docchat"
	}
	return filepath.Join(home, ".config", "docchat")
}

// DefaultDataDir returns the default data directory path.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".local/share/docchat"
	}
	return filepath.Join(home, ".local", "share", "docchat")
}

// DefaultIndexPath returns the default vector index file path.
func DefaultIndexPath() string {
	return filepath.Join(DefaultDataDir(), DefaultIndexFile)
}

// DefaultArtifactsPath returns the default artifacts database path.
func DefaultArtifactsPath() string {
	return filepath.Join(DefaultDataDir(), DefaultArtifactsFile)
}
