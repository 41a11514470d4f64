package rerank

import (
	"context"
	"sort"
	"sync"
)

// MockCrossEncoder returns pinned scores for tests. Passages without a
// pinned score get 0.5 so every input comes back ranked.
type MockCrossEncoder struct {
	mu     sync.Mutex
	scores map[string]float64
	calls  int

	// Err, when set, is returned by every Rank call.
	Err error
}

// NewMockCrossEncoder creates an empty mock.
func NewMockCrossEncoder() *MockCrossEncoder {
	return &MockCrossEncoder{scores: make(map[string]float64)}
}

// SetScore pins the relevance score for an exact passage.
func (m *MockCrossEncoder) SetScore(passage string, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[passage] = score
}

// Calls returns how many times Rank ran.
func (m *MockCrossEncoder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Rank returns the passages ordered by their pinned scores.
func (m *MockCrossEncoder) Rank(ctx context.Context, query string, passages []string) ([]RankedPassage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Err != nil {
		return nil, m.Err
	}

	ranked := make([]RankedPassage, 0, len(passages))
	for _, p := range passages {
		score, ok := m.scores[p]
		if !ok {
			score = 0.5
		}
		ranked = append(ranked, RankedPassage{Passage: p, Score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked, nil
}

// Close cleans up any resources.
func (m *MockCrossEncoder) Close() error {
	return nil
}
