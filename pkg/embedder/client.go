package embedder

import (
	"context"
	"fmt"
	"os"
)

// Provider represents the type of embedding provider
type Provider string

const (
	// ProviderOpenAI uses the OpenAI embeddings API (or any compatible endpoint)
	ProviderOpenAI Provider = "openai"

	// ProviderEmbedEverything runs ONNX embedding models in-process
	ProviderEmbedEverything Provider = "embedeverything"

	// ProviderLocal uses deterministic in-process vectors, for tests and offline use
	ProviderLocal Provider = "local"
)

// Client is the interface for text embedding providers.
type Client interface {
	// Embed generates embeddings for the given texts, one vector per text,
	// in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedSingle generates an embedding for a single text.
	EmbedSingle(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the number of dimensions in the embeddings.
	Dimensions() int

	// Close cleans up any resources.
	Close() error
}

// Config holds configuration for embedding clients.
type Config struct {
	Provider   Provider `json:"provider"`
	Model      string   `json:"model"`
	APIKey     string   `json:"-"`
	BaseURL    string   `json:"base_url,omitempty"`
	Dimensions int      `json:"dimensions,omitempty"`
	BatchSize  int      `json:"batch_size,omitempty"`
}

// NewClient creates a new embedding client based on the provider type.
func NewClient(config Config) (Client, error) {
	switch config.Provider {
	case ProviderOpenAI:
		apiKey := config.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		return NewOpenAIEmbedder(apiKey, config), nil

	case ProviderEmbedEverything:
		return NewEmbedEverythingClient(&EmbedEverythingConfig{Config: &config})

	case ProviderLocal, "":
		return NewLocalEmbedder(config), nil

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", config.Provider)
	}
}

// DefaultConfig returns a default configuration for the given provider
func DefaultConfig(provider Provider) Config {
	switch provider {
	case ProviderOpenAI:
		return Config{
			Provider:  ProviderOpenAI,
			Model:     "text-embedding-3-small",
			BatchSize: 100,
		}
	case ProviderEmbedEverything:
		return Config{
			Provider:  ProviderEmbedEverything,
			Model:     "all-MiniLM-L6-v2",
			BatchSize: 32, // Local inference favors smaller batches
		}
	case ProviderLocal:
		return Config{
			Provider:   ProviderLocal,
			Dimensions: 384,
			BatchSize:  1000,
		}
	default:
		return Config{}
	}
}
