package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nickcecere/docchat/internal/config"
	"github.com/nickcecere/docchat/internal/ui"
)

var configShowPath bool

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration",
	Long: `Display current configuration settings and config file locations.

Secrets are never printed; only whether they are set.

Examples:
  # Show current configuration
  docchat config

  # Show config file paths
  docchat config --path`,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configShowPath, "path", false, "show config file paths")
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	if configShowPath {
		fmt.Println(ui.SectionTitle.Render("Configuration Paths"))
		fmt.Println()
		fmt.Printf("Global config: %s\n", config.GlobalConfigPath())
		fmt.Printf("Local config:  .docchatrc.yaml (searched from cwd upward)\n")
		fmt.Printf("Active config: %s\n", config.ConfigFilePath())
		fmt.Printf("Data dir:      %s\n", cfg.Storage.DataDir)
		fmt.Printf("Index:         %s\n", cfg.Index.SQLite.Path)
		return nil
	}

	fmt.Println(ui.SectionTitle.Render("Current Configuration"))
	fmt.Println()

	fmt.Println(ui.Bold.Render("Embeddings:"))
	fmt.Printf("  Provider: %s\n", cfg.Embeddings.Provider)
	fmt.Printf("  Dimensions: %d\n", cfg.Embeddings.Dimensions)
	fmt.Printf("  Batch: %d every %s\n", cfg.Embeddings.BatchSize, cfg.Embeddings.BatchPause)
	fmt.Printf("  Jina Model: %s (key %s)\n", cfg.Embeddings.Jina.Model, secretState(cfg.Embeddings.Jina.APIKey))
	fmt.Printf("  Ollama: %s %s\n", cfg.Embeddings.Ollama.URL, cfg.Embeddings.Ollama.Model)
	fmt.Printf("  OpenAI Model: %s\n", cfg.Embeddings.OpenAI.Model)
	fmt.Printf("  Gemini Model: %s\n", cfg.Embeddings.Gemini.Model)
	fmt.Println()

	fmt.Println(ui.Bold.Render("LLM:"))
	fmt.Printf("  Provider: %s (vision: %s)\n", cfg.LLM.Provider, cfg.LLM.VisionProvider)
	fmt.Printf("  Temperature: %.2f\n", cfg.LLM.Temperature)
	fmt.Printf("  Max Tokens: %d\n", cfg.LLM.MaxTokens)
	fmt.Printf("  Retries: %d (backoff %s to %s)\n", cfg.LLM.MaxRetries, cfg.LLM.InitialBackoff, cfg.LLM.MaxBackoff)
	fmt.Printf("  Gemini Model: %s (key %s)\n", cfg.LLM.Gemini.Model, secretState(cfg.LLM.Gemini.APIKey))
	fmt.Printf("  Anthropic Model: %s\n", cfg.LLM.Anthropic.Model)
	fmt.Printf("  OpenAI Model: %s\n", cfg.LLM.OpenAI.Model)
	fmt.Printf("  Ollama: %s %s\n", cfg.LLM.Ollama.URL, cfg.LLM.Ollama.Model)
	fmt.Println()

	fmt.Println(ui.Bold.Render("Extraction:"))
	fmt.Printf("  Scanned Threshold: %d chars\n", cfg.Extraction.ScannedThreshold)
	fmt.Printf("  OCR: %s (%s)\n", cfg.Extraction.OCR, cfg.Extraction.OCRLanguages)
	fmt.Printf("  Workers: %d\n", cfg.Extraction.Workers)
	fmt.Println()

	fmt.Println(ui.Bold.Render("Chunking:"))
	fmt.Printf("  Tokenizer: %s (%s)\n", cfg.Chunking.Tokenizer, cfg.Chunking.Encoding)
	fmt.Printf("  Chunk Size: %d\n", cfg.Chunking.ChunkSize)
	fmt.Printf("  Chunk Overlap: %d\n", cfg.Chunking.ChunkOverlap)
	fmt.Printf("  Slices: %d every %d\n", cfg.Chunking.SliceSize, cfg.Chunking.SliceStride)
	fmt.Printf("  Workers: %d\n", cfg.Chunking.Workers)
	fmt.Println()

	fmt.Println(ui.Bold.Render("Index:"))
	fmt.Printf("  Backend: %s\n", cfg.Index.Backend)
	switch cfg.Index.Backend {
	case "redis":
		fmt.Printf("  Redis: %s (db %d)\n", cfg.Index.Redis.Addr, cfg.Index.Redis.DB)
	default:
		fmt.Printf("  Path: %s\n", cfg.Index.SQLite.Path)
	}
	fmt.Printf("  Top K: %d\n", cfg.Retrieval.K)
	fmt.Println()

	fmt.Println(ui.Bold.Render("Artifacts:"))
	fmt.Printf("  Backend: %s\n", cfg.Artifacts.Backend)
	fmt.Printf("  Derive Summaries: %t\n", cfg.Artifacts.Derive)
	if cfg.Artifacts.Backend == "s3" {
		fmt.Printf("  Bucket: %s/%s\n", cfg.Artifacts.S3.Bucket, cfg.Artifacts.S3.Prefix)
	} else {
		fmt.Printf("  Driver: %s\n", cfg.Artifacts.SQL.Driver)
	}
	fmt.Println()

	fmt.Println(ui.Bold.Render("Server:"))
	fmt.Printf("  Address: %s\n", cfg.Server.Addr)
	fmt.Printf("  JWT Secret: %s\n", secretState(cfg.Server.JWTSecret))
	fmt.Printf("  Max Upload: %s\n", formatBytes(cfg.Server.MaxUploadBytes))
	fmt.Printf("  Task Workers: %d\n", cfg.Tasks.Workers)
	fmt.Println()

	fmt.Println(ui.Bold.Render("Ignore Patterns:"))
	fmt.Printf("  %d patterns configured\n", len(cfg.Ignore))

	return nil
}

func secretState(s string) string {
	if s == "" {
		return "not set"
	}
	return "set"
}
