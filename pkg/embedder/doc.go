// Package embedder provides text embedding clients for vector representations.
//
// This package defines the Client interface and provides implementations for
// various embedding providers. Embeddings back two parts of the system: the
// semantic stage of entity resolution and the vector index used by hybrid
// retrieval, so every provider must return vectors of a stable dimension.
//
// # Supported Providers
//
// The following embedding providers are supported:
//   - OpenAI: text-embedding-3-small, text-embedding-3-large, text-embedding-ada-002
//   - EmbedEverything: local ONNX models via go-embedeverything, no API key needed
//   - Local: deterministic in-process vectors for tests and offline development
//
// # Usage
//
//	// Create an OpenAI embedder
//	embedder := embedder.NewOpenAIEmbedder(apiKey, embedder.Config{
//	    Model:     "text-embedding-3-small",
//	    BatchSize: 100,
//	})
//
//	// Embed text
//	embeddings, err := embedder.Embed(ctx, []string{"hello world"})
//
// # Batch Processing
//
// The Client interface supports batch embedding for efficiency:
//   - Embed(): Embed multiple texts in a single request
//   - EmbedSingle(): Convenience method for single text
//
// Implementations handle batching internally based on provider limits.
//
// # Circuit Breaking
//
// Remote providers can be wrapped with NewCircuitBreakerClient so that a
// failing embedding API degrades ingestion instead of stalling it.
package embedder
