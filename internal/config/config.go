// Package config handles configuration loading and validation for docchat.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete docchat configuration.
type Config struct {
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Chunking   ChunkingConfig   `mapstructure:"chunking"`
	Index      IndexConfig      `mapstructure:"index"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Artifacts  ArtifactsConfig  `mapstructure:"artifacts"`
	Tasks      TasksConfig      `mapstructure:"tasks"`
	Server     ServerConfig     `mapstructure:"server"`
	Ignore     []string         `mapstructure:"ignore"`
}

// EmbeddingsConfig configures the embedding service.
type EmbeddingsConfig struct {
	Provider   string            `mapstructure:"provider"`
	Dimensions int               `mapstructure:"dimensions"`
	BatchSize  int               `mapstructure:"batch_size"`
	BatchPause time.Duration     `mapstructure:"batch_pause"`
	CacheSize  int               `mapstructure:"cache_size"`
	CacheTTL   time.Duration     `mapstructure:"cache_ttl"`
	Jina       JinaEmbedConfig   `mapstructure:"jina"`
	Ollama     OllamaEmbedConfig `mapstructure:"ollama"`
	OpenAI     OpenAIEmbedConfig `mapstructure:"openai"`
	Gemini     GeminiConfig      `mapstructure:"gemini"`
}

// JinaEmbedConfig configures Jina embeddings.
type JinaEmbedConfig struct {
	URL     string        `mapstructure:"url"`
	Model   string        `mapstructure:"model"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// OllamaEmbedConfig configures Ollama embeddings.
type OllamaEmbedConfig struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

// OpenAIEmbedConfig configures OpenAI embeddings.
type OpenAIEmbedConfig struct {
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// GeminiConfig configures a Gemini model.
type GeminiConfig struct {
	Model  string `mapstructure:"model"`
	APIKey string `mapstructure:"api_key"`
}

// LLMConfig configures the generation service.
type LLMConfig struct {
	Provider       string          `mapstructure:"provider"`
	VisionProvider string          `mapstructure:"vision_provider"`
	Temperature    float64         `mapstructure:"temperature"`
	MaxTokens      int             `mapstructure:"max_tokens"`
	MaxRetries     int             `mapstructure:"max_retries"`
	InitialBackoff time.Duration   `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration   `mapstructure:"max_backoff"`
	Ollama         OllamaLLMConfig `mapstructure:"ollama"`
	OpenAI         OpenAILLMConfig `mapstructure:"openai"`
	Anthropic      AnthropicConfig `mapstructure:"anthropic"`
	Gemini         GeminiConfig    `mapstructure:"gemini"`
}

// OllamaLLMConfig configures Ollama LLM.
type OllamaLLMConfig struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

// OpenAILLMConfig configures OpenAI LLM.
type OpenAILLMConfig struct {
	Model       string `mapstructure:"model"`
	VisionModel string `mapstructure:"vision_model"`
	BaseURL     string `mapstructure:"base_url"`
	APIKey      string `mapstructure:"api_key"`
}

// AnthropicConfig configures Anthropic LLM.
type AnthropicConfig struct {
	Model  string `mapstructure:"model"`
	APIKey string `mapstructure:"api_key"`
}

// ExtractionConfig configures PDF text extraction.
type ExtractionConfig struct {
	ScannedThreshold  int     `mapstructure:"scanned_threshold"`
	OCR               string  `mapstructure:"ocr"`
	OCRLanguages      string  `mapstructure:"ocr_languages"`
	OCRDPI            float64 `mapstructure:"ocr_dpi"`
	TesseractPath     string  `mapstructure:"tesseract_path"`
	VisionDPI         float64 `mapstructure:"vision_dpi"`
	VisionBatchSize   int     `mapstructure:"vision_batch_size"`
	VisionConcurrency int     `mapstructure:"vision_concurrency"`
	Workers           int     `mapstructure:"workers"`
}

// ChunkingConfig configures the chunking pipeline.
type ChunkingConfig struct {
	Tokenizer    string `mapstructure:"tokenizer"`
	Encoding     string `mapstructure:"encoding"`
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
	SliceSize    int    `mapstructure:"slice_size"`
	SliceStride  int    `mapstructure:"slice_stride"`
	Workers      int    `mapstructure:"workers"`
}

// IndexConfig selects and configures the vector index backend.
type IndexConfig struct {
	Backend string       `mapstructure:"backend"`
	SQLite  SQLiteConfig `mapstructure:"sqlite"`
	Redis   RedisConfig  `mapstructure:"redis"`
}

// SQLiteConfig configures the embedded index.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig configures the remote index.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RetrievalConfig configures query answering.
type RetrievalConfig struct {
	K               int `mapstructure:"k"`
	MaxContextChars int `mapstructure:"max_context_chars"`
}

// StorageConfig configures local file storage.
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// ArtifactsConfig configures where derived content is persisted.
type ArtifactsConfig struct {
	Backend string            `mapstructure:"backend"`
	Derive  bool              `mapstructure:"derive"`
	SQL     SQLArtifactConfig `mapstructure:"sql"`
	S3      S3ArtifactConfig  `mapstructure:"s3"`
}

// SQLArtifactConfig configures the SQL artifact sink.
type SQLArtifactConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// S3ArtifactConfig configures the S3 artifact sink.
type S3ArtifactConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// TasksConfig configures the background task queue.
type TasksConfig struct {
	Workers       int           `mapstructure:"workers"`
	QueueSize     int           `mapstructure:"queue_size"`
	Retention     time.Duration `mapstructure:"retention"`
	PruneSchedule string        `mapstructure:"prune_schedule"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
}

// Global configuration instance
var cfg *Config

// Get returns the current configuration.
func Get() *Config {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return cfg
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Embeddings: EmbeddingsConfig{
			Provider:   DefaultEmbeddingProvider,
			Dimensions: DefaultEmbeddingDimensions,
			BatchSize:  DefaultEmbedBatchSize,
			BatchPause: DefaultEmbedBatchPause,
			CacheSize:  DefaultEmbedCacheSize,
			CacheTTL:   DefaultEmbedCacheTTL,
			Jina: JinaEmbedConfig{
				URL:     DefaultJinaURL,
				Model:   DefaultJinaEmbedModel,
				Timeout: DefaultJinaTimeout,
			},
			Ollama: OllamaEmbedConfig{
				URL:   DefaultOllamaURL,
				Model: DefaultOllamaEmbedModel,
			},
			OpenAI: OpenAIEmbedConfig{
				Model: DefaultOpenAIEmbedModel,
			},
			Gemini: GeminiConfig{
				Model: DefaultGeminiEmbedModel,
			},
		},
		LLM: LLMConfig{
			Provider:       DefaultLLMProvider,
			VisionProvider: DefaultVisionProvider,
			Temperature:    DefaultTemperature,
			MaxTokens:      DefaultMaxTokens,
			MaxRetries:     DefaultMaxRetries,
			InitialBackoff: DefaultInitialBackoff,
			MaxBackoff:     DefaultMaxBackoff,
			Ollama: OllamaLLMConfig{
				URL:   DefaultOllamaURL,
				Model: DefaultOllamaLLMModel,
			},
			OpenAI: OpenAILLMConfig{
				Model:       DefaultOpenAILLMModel,
				VisionModel: DefaultOpenAIVisionModel,
			},
			Anthropic: AnthropicConfig{
				Model: DefaultAnthropicModel,
			},
			Gemini: GeminiConfig{
				Model: DefaultGeminiLLMModel,
			},
		},
		Extraction: ExtractionConfig{
			ScannedThreshold:  DefaultScannedThreshold,
			OCR:               DefaultOCREngine,
			OCRLanguages:      DefaultOCRLanguages,
			OCRDPI:            DefaultOCRDPI,
			TesseractPath:     DefaultTesseractPath,
			VisionDPI:         DefaultVisionDPI,
			VisionBatchSize:   DefaultVisionBatchSize,
			VisionConcurrency: DefaultVisionConcurrency,
			Workers:           DefaultWorkers(),
		},
		Chunking: ChunkingConfig{
			Tokenizer:    DefaultTokenizer,
			Encoding:     DefaultEncoding,
			ChunkSize:    DefaultChunkSize,
			ChunkOverlap: DefaultChunkOverlap,
			SliceSize:    DefaultSliceSize,
			SliceStride:  DefaultSliceStride,
			Workers:      DefaultWorkers(),
		},
		Index: IndexConfig{
			Backend: DefaultIndexBackend,
			SQLite: SQLiteConfig{
				Path: DefaultIndexPath(),
			},
			Redis: RedisConfig{
				Addr: DefaultRedisAddr,
			},
		},
		Retrieval: RetrievalConfig{
			K:               DefaultTopK,
			MaxContextChars: DefaultMaxContextChars,
		},
		Storage: StorageConfig{
			DataDir: DefaultDataDir(),
		},
		Artifacts: ArtifactsConfig{
			Backend: DefaultArtifactsBackend,
			Derive:  true,
			SQL: SQLArtifactConfig{
				Driver: DefaultArtifactsDriver,
				DSN:    DefaultArtifactsPath(),
			},
		},
		Tasks: TasksConfig{
			Workers:       DefaultTaskWorkers,
			QueueSize:     DefaultTaskQueueSize,
			Retention:     DefaultTaskRetention,
			PruneSchedule: DefaultTaskPruneSchedule,
		},
		Server: ServerConfig{
			Addr:           DefaultServerAddr,
			TokenTTL:       DefaultTokenTTL,
			MaxUploadBytes: DefaultMaxUploadBytes,
		},
		Ignore: DefaultIgnorePatterns(),
	}
}

// Load reads configuration from file and environment variables.
func Load(configFile string) error {
	// A missing .env is normal
	if err := godotenv.Load(); err == nil {
		log.Debug("Loaded environment from .env")
	}

	setDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(DefaultConfigDir())
		viper.AddConfigPath(".")

		// Also check for .docchatrc.yaml in current directory and parents
		if rcPath := findRCFile(); rcPath != "" {
			viper.SetConfigFile(rcPath)
		}
	}

	viper.SetEnvPrefix("DOCCHAT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug("No config file found, using defaults")
	} else {
		log.Debug("Loaded config from", "file", viper.ConfigFileUsed())
	}

	loaded := &Config{}
	if err := viper.Unmarshal(loaded); err != nil {
		return fmt.Errorf("error parsing config: %w", err)
	}

	loadAPIKeysFromEnv(loaded)

	if err := loaded.Validate(); err != nil {
		return err
	}

	cfg = loaded
	return nil
}

// Validate checks values that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	if c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.chunk_overlap (%d) must be smaller than chunking.chunk_size (%d)",
			c.Chunking.ChunkOverlap, c.Chunking.ChunkSize)
	}
	if c.Chunking.SliceStride <= 0 || c.Chunking.SliceStride > c.Chunking.SliceSize {
		return fmt.Errorf("chunking.slice_stride must be in (0, slice_size]")
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive")
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.batch_size must be positive")
	}
	switch c.Index.Backend {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("unsupported index backend: %s", c.Index.Backend)
	}
	return nil
}

// setDefaults sets default values in viper.
func setDefaults() {
	d := DefaultConfig()

	// Embeddings
	viper.SetDefault("embeddings.provider", d.Embeddings.Provider)
	viper.SetDefault("embeddings.dimensions", d.Embeddings.Dimensions)
	viper.SetDefault("embeddings.batch_size", d.Embeddings.BatchSize)
	viper.SetDefault("embeddings.batch_pause", d.Embeddings.BatchPause)
	viper.SetDefault("embeddings.cache_size", d.Embeddings.CacheSize)
	viper.SetDefault("embeddings.cache_ttl", d.Embeddings.CacheTTL)
	viper.SetDefault("embeddings.jina.url", d.Embeddings.Jina.URL)
	viper.SetDefault("embeddings.jina.model", d.Embeddings.Jina.Model)
	viper.SetDefault("embeddings.jina.timeout", d.Embeddings.Jina.Timeout)
	viper.SetDefault("embeddings.ollama.url", d.Embeddings.Ollama.URL)
	viper.SetDefault("embeddings.ollama.model", d.Embeddings.Ollama.Model)
	viper.SetDefault("embeddings.openai.model", d.Embeddings.OpenAI.Model)
	viper.SetDefault("embeddings.gemini.model", d.Embeddings.Gemini.Model)

	// LLM
	viper.SetDefault("llm.provider", d.LLM.Provider)
	viper.SetDefault("llm.vision_provider", d.LLM.VisionProvider)
	viper.SetDefault("llm.temperature", d.LLM.Temperature)
	viper.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	viper.SetDefault("llm.max_retries", d.LLM.MaxRetries)
	viper.SetDefault("llm.initial_backoff", d.LLM.InitialBackoff)
	viper.SetDefault("llm.max_backoff", d.LLM.MaxBackoff)
	viper.SetDefault("llm.ollama.url", d.LLM.Ollama.URL)
	viper.SetDefault("llm.ollama.model", d.LLM.Ollama.Model)
	viper.SetDefault("llm.openai.model", d.LLM.OpenAI.Model)
	viper.SetDefault("llm.openai.vision_model", d.LLM.OpenAI.VisionModel)
	viper.SetDefault("llm.anthropic.model", d.LLM.Anthropic.Model)
	viper.SetDefault("llm.gemini.model", d.LLM.Gemini.Model)

	// Extraction
	viper.SetDefault("extraction.scanned_threshold", d.Extraction.ScannedThreshold)
	viper.SetDefault("extraction.ocr", d.Extraction.OCR)
	viper.SetDefault("extraction.ocr_languages", d.Extraction.OCRLanguages)
	viper.SetDefault("extraction.ocr_dpi", d.Extraction.OCRDPI)
	viper.SetDefault("extraction.tesseract_path", d.Extraction.TesseractPath)
	viper.SetDefault("extraction.vision_dpi", d.Extraction.VisionDPI)
	viper.SetDefault("extraction.vision_batch_size", d.Extraction.VisionBatchSize)
	viper.SetDefault("extraction.vision_concurrency", d.Extraction.VisionConcurrency)
	viper.SetDefault("extraction.workers", d.Extraction.Workers)

	// Chunking
	viper.SetDefault("chunking.tokenizer", d.Chunking.Tokenizer)
	viper.SetDefault("chunking.encoding", d.Chunking.Encoding)
	viper.SetDefault("chunking.chunk_size", d.Chunking.ChunkSize)
	viper.SetDefault("chunking.chunk_overlap", d.Chunking.ChunkOverlap)
	viper.SetDefault("chunking.slice_size", d.Chunking.SliceSize)
	viper.SetDefault("chunking.slice_stride", d.Chunking.SliceStride)
	viper.SetDefault("chunking.workers", d.Chunking.Workers)

	// Index
	viper.SetDefault("index.backend", d.Index.Backend)
	viper.SetDefault("index.sqlite.path", d.Index.SQLite.Path)
	viper.SetDefault("index.redis.addr", d.Index.Redis.Addr)
	viper.SetDefault("index.redis.db", d.Index.Redis.DB)

	// Retrieval
	viper.SetDefault("retrieval.k", d.Retrieval.K)
	viper.SetDefault("retrieval.max_context_chars", d.Retrieval.MaxContextChars)

	// Storage and artifacts
	viper.SetDefault("storage.data_dir", d.Storage.DataDir)
	viper.SetDefault("artifacts.backend", d.Artifacts.Backend)
	viper.SetDefault("artifacts.derive", d.Artifacts.Derive)
	viper.SetDefault("artifacts.sql.driver", d.Artifacts.SQL.Driver)
	viper.SetDefault("artifacts.sql.dsn", d.Artifacts.SQL.DSN)

	// Tasks
	viper.SetDefault("tasks.workers", d.Tasks.Workers)
	viper.SetDefault("tasks.queue_size", d.Tasks.QueueSize)
	viper.SetDefault("tasks.retention", d.Tasks.Retention)
	viper.SetDefault("tasks.prune_schedule", d.Tasks.PruneSchedule)

	// Server
	viper.SetDefault("server.addr", d.Server.Addr)
	viper.SetDefault("server.token_ttl", d.Server.TokenTTL)
	viper.SetDefault("server.max_upload_bytes", d.Server.MaxUploadBytes)

	viper.SetDefault("ignore", d.Ignore)
}

// findRCFile searches for .docchatrc.yaml starting from current directory.
func findRCFile() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		rcPath := filepath.Join(dir, ".docchatrc.yaml")
		if _, err := os.Stat(rcPath); err == nil {
			return rcPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// loadAPIKeysFromEnv loads API keys from environment variables if not already set.
func loadAPIKeysFromEnv(c *Config) {
	fill := func(dst *string, env string) {
		if *dst == "" {
			*dst = os.Getenv(env)
		}
	}

	fill(&c.Embeddings.Jina.APIKey, "JINA_API_KEY")
	fill(&c.Embeddings.OpenAI.APIKey, "OPENAI_API_KEY")
	fill(&c.Embeddings.Gemini.APIKey, "GEMINI_API_KEY")
	fill(&c.LLM.OpenAI.APIKey, "OPENAI_API_KEY")
	fill(&c.LLM.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	fill(&c.LLM.Gemini.APIKey, "GEMINI_API_KEY")
	fill(&c.Server.JWTSecret, "JWT_SECRET_KEY")
	fill(&c.Artifacts.S3.AccessKeyID, "AWS_ACCESS_KEY_ID")
	fill(&c.Artifacts.S3.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
}

// ConfigFilePath returns the path of the loaded config file, or empty string if none.
func ConfigFilePath() string {
	return viper.ConfigFileUsed()
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}
