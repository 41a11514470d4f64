package embedder

import (
	"context"
	"sync"
	"time"
)

// MockEmbedder implements the Client interface for testing. Texts with an
// entry in Vectors get that exact vector; everything else falls back to the
// deterministic local embedding so callers never see a nil vector.
type MockEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	local   *LocalEmbedder
	calls   []string

	// Err, when set, is returned by every Embed call. Delay, when set, is
	// waited out first, honoring context cancellation.
	Err   error
	Delay time.Duration
}

// NewMockEmbedder creates a mock embedder with the given dimensions.
func NewMockEmbedder(dims int) *MockEmbedder {
	return &MockEmbedder{
		vectors: make(map[string][]float32),
		local:   NewLocalEmbedder(Config{Dimensions: dims}),
	}
}

// SetVector pins the vector returned for an exact text.
func (m *MockEmbedder) SetVector(text string, vec []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors[text] = vec
}

// Calls returns every text embedded so far, in order.
func (m *MockEmbedder) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Embed generates embeddings for the given texts.
func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}

	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		m.calls = append(m.calls, text)
		if vec, ok := m.vectors[text]; ok {
			embeddings[i] = vec
			continue
		}
		embeddings[i] = m.local.embed(text)
	}
	return embeddings, nil
}

// EmbedSingle generates an embedding for a single text.
func (m *MockEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := m.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// Dimensions returns the number of dimensions in the embeddings.
func (m *MockEmbedder) Dimensions() int {
	return m.local.Dimensions()
}

// Close cleans up any resources.
func (m *MockEmbedder) Close() error {
	return nil
}
