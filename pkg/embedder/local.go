package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

const defaultLocalDims = 384

// LocalEmbedder implements the Client interface with deterministic in-process
// vectors. It hashes word tokens and character trigrams into a fixed number of
// buckets and L2-normalizes the result, so similar strings land near each
// other in cosine space without any model or network dependency. Useful for
// tests, offline development, and air-gapped deployments where approximate
// semantic matching is acceptable.
type LocalEmbedder struct {
	config Config
}

// NewLocalEmbedder creates a new local embedder
func NewLocalEmbedder(config Config) *LocalEmbedder {
	if config.Dimensions <= 0 {
		config.Dimensions = defaultLocalDims
	}
	return &LocalEmbedder{config: config}
}

// Embed generates embeddings for the given texts.
func (e *LocalEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		embeddings[i] = e.embed(text)
	}
	return embeddings, nil
}

// EmbedSingle generates an embedding for a single text.
func (e *LocalEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.embed(text), nil
}

// Dimensions returns the number of dimensions in the embeddings.
func (e *LocalEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// Close cleans up any resources.
func (e *LocalEmbedder) Close() error {
	return nil
}

func (e *LocalEmbedder) embed(text string) []float32 {
	dims := e.config.Dimensions
	vec := make([]float32, dims)

	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return vec
	}

	// Word tokens carry most of the signal; trigrams keep near-identical
	// spellings close together.
	for _, token := range strings.Fields(normalized) {
		vec[bucket(token, dims)] += 2
		if len(token) < 3 {
			continue
		}
		for i := 0; i+3 <= len(token); i++ {
			vec[bucket(token[i:i+3], dims)]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

func bucket(s string, dims int) int {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32() % uint32(dims))
}
