package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity(t *testing.T) {
	t.Run("identical vectors", func(t *testing.T) {
		v := []float32{0.5, 0.5, 0.1}
		assert.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)
	})

	t.Run("orthogonal vectors", func(t *testing.T) {
		assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	})

	t.Run("opposite vectors", func(t *testing.T) {
		assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 2}, []float32{-1, -2}), 1e-9)
	})

	t.Run("mismatched lengths give zero", func(t *testing.T) {
		assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 2}))
	})

	t.Run("zero magnitude gives zero", func(t *testing.T) {
		assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
	})
}

func TestNormalizeVector(t *testing.T) {
	v := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	zero := NormalizeVector([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestTopK(t *testing.T) {
	tk := NewTopK(3)
	for _, s := range []Scored{
		{"a", 0.1}, {"b", 0.9}, {"c", 0.5}, {"d", 0.7}, {"e", 0.3},
	} {
		tk.Add(s.ID, s.Score)
	}

	got := tk.Results()
	assert.Equal(t, []Scored{{"b", 0.9}, {"d", 0.7}, {"c", 0.5}}, got)
}

func TestTopKUnbounded(t *testing.T) {
	tk := NewTopK(0)
	tk.Add("a", 0.2)
	tk.Add("b", 0.8)
	got := tk.Results()
	assert.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, LevenshteinDistance("acme", "acme"))
	assert.Equal(t, 1, LevenshteinDistance("acme", "acmes"))
	assert.Equal(t, 3, LevenshteinDistance("kitten", "sitting"))

	assert.InDelta(t, 1.0, LevenshteinSimilarity("acme corp", "acme corp"), 1e-9)
	assert.Greater(t, LevenshteinSimilarity("acme corporation", "acme corpration"), 0.9)
	assert.Less(t, LevenshteinSimilarity("acme corp", "globex industries"), 0.4)
}

func TestMatchableEntropy(t *testing.T) {
	assert.True(t, HasMatchableEntropy(NormalizeForMatch("Acme Corporation")))
	assert.False(t, HasMatchableEntropy(NormalizeForMatch("LLC")), "short low-information names are gated out")
	assert.False(t, HasMatchableEntropy(NormalizeForMatch("aaa")))
}

func TestNormalizeForMatch(t *testing.T) {
	assert.Equal(t, "acme corp", NormalizeForMatch("Acme, Corp."))
	assert.Equal(t, "o'brien partners", NormalizeForMatch("O'Brien & Partners"))
}
