// Package llm provides the text generation and vision services used to answer
// questions and derive artifacts from documents.
package llm

import (
	"context"
	"fmt"

	"github.com/nickcecere/docchat/internal/config"
)

// Provider represents an LLM provider type.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// CompletionOptions configures the completion request.
type CompletionOptions struct {
	// Temperature controls randomness (0-1).
	Temperature float64

	// MaxTokens limits the response length.
	MaxTokens int
}

// DefaultCompletionOptions returns the options used when none are configured.
func DefaultCompletionOptions() CompletionOptions {
	return CompletionOptions{
		Temperature: config.DefaultTemperature,
		MaxTokens:   config.DefaultMaxTokens,
	}
}

// OptionsFromConfig reads completion options from the LLM section.
func OptionsFromConfig(cfg *config.Config) CompletionOptions {
	return CompletionOptions{
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}
}

// Service defines the interface for LLM services.
type Service interface {
	// Complete generates a completion for the given messages.
	Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error)

	// CompleteStream generates a streaming completion. The content channel
	// is closed when generation ends; at most one error is sent.
	CompleteStream(ctx context.Context, messages []Message, opts CompletionOptions) (<-chan string, <-chan error)

	// Provider returns the provider name.
	Provider() Provider

	// ModelName returns the model name.
	ModelName() string
}

// Vision describes page images. It backs the vision OCR path for scanned PDFs.
type Vision interface {
	DescribeImage(ctx context.Context, prompt string, png []byte) (string, error)
}

// Generate sends a single user prompt and returns the answer with any
// <think> spans removed.
func Generate(ctx context.Context, svc Service, prompt string, opts CompletionOptions) (string, error) {
	out, err := svc.Complete(ctx, []Message{{Role: "user", Content: prompt}}, opts)
	if err != nil {
		return "", err
	}
	return StripThink(out), nil
}

// NewService creates an LLM service based on the configuration.
func NewService(ctx context.Context, cfg *config.Config) (Service, error) {
	switch cfg.LLM.Provider {
	case "ollama":
		return NewOllamaService(
			cfg.LLM.Ollama.URL,
			cfg.LLM.Ollama.Model,
		)
	case "openai":
		return NewOpenAIService(
			cfg.LLM.OpenAI.APIKey,
			cfg.LLM.OpenAI.Model,
			cfg.LLM.OpenAI.BaseURL,
		)
	case "anthropic":
		return NewAnthropicService(
			cfg.LLM.Anthropic.APIKey,
			cfg.LLM.Anthropic.Model,
		)
	case "gemini":
		return NewGeminiService(ctx,
			cfg.LLM.Gemini.APIKey,
			cfg.LLM.Gemini.Model,
		)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLM.Provider)
	}
}

// NewVision creates the image description service used for scanned pages.
func NewVision(ctx context.Context, cfg *config.Config) (Vision, error) {
	switch cfg.LLM.VisionProvider {
	case "openai":
		return NewOpenAIService(
			cfg.LLM.OpenAI.APIKey,
			cfg.LLM.OpenAI.VisionModel,
			cfg.LLM.OpenAI.BaseURL,
		)
	case "gemini":
		return NewGeminiService(ctx,
			cfg.LLM.Gemini.APIKey,
			cfg.LLM.Gemini.Model,
		)
	default:
		return nil, fmt.Errorf("unsupported vision provider: %s", cfg.LLM.VisionProvider)
	}
}
