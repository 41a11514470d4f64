package rerank

import (
	"context"
	"os"

	"github.com/cockroachdb/errors"
)

// Provider selects a cross-encoder implementation.
type Provider string

const (
	// ProviderEmbedEverything runs a local reranker model, no network.
	ProviderEmbedEverything Provider = "embedeverything"
	// ProviderOpenAI scores passages with a boolean relevance prompt.
	ProviderOpenAI Provider = "openai"
	// ProviderMock returns pinned scores for tests.
	ProviderMock Provider = "mock"
)

// RankedPassage is one passage with its relevance score, highest first.
type RankedPassage struct {
	Passage string
	Score   float64
}

// CrossEncoder scores passages against a query. Implementations return the
// passages sorted by descending relevance.
type CrossEncoder interface {
	Rank(ctx context.Context, query string, passages []string) ([]RankedPassage, error)
	Close() error
}

// CrossEncoderConfig configures the cross-encoder factory.
type CrossEncoderConfig struct {
	Provider Provider
	// Model is the reranker model id; each provider has its own default.
	Model string
	// APIKey is used by the openai provider; falls back to OPENAI_API_KEY.
	APIKey string
	// MaxConcurrency bounds concurrent scoring calls for API providers.
	MaxConcurrency int
}

// NewCrossEncoder builds a cross-encoder client for the configured provider.
func NewCrossEncoder(cfg CrossEncoderConfig) (CrossEncoder, error) {
	switch cfg.Provider {
	case ProviderEmbedEverything, "":
		return NewEmbedEverythingCrossEncoder(cfg.Model)
	case ProviderOpenAI:
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		return NewOpenAICrossEncoder(apiKey, cfg.Model, cfg.MaxConcurrency), nil
	case ProviderMock:
		return NewMockCrossEncoder(), nil
	default:
		return nil, errors.Newf("unsupported cross-encoder provider: %s", cfg.Provider)
	}
}
