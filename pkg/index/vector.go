package index

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/harborstone/dealgraph/pkg/utils"
)

// VectorIndex is an exact cosine-similarity index over fact embeddings.
// Brute-force scoring with a top-k heap is exact and fast enough at deal
// scale (thousands of facts, not millions), so there is no approximate
// structure to keep in sync.
type VectorIndex struct {
	mu         sync.RWMutex
	dimensions int
	vectors    map[string][]float32
}

// NewVectorIndex creates an empty index. dimensions <= 0 pins the dimension
// count to the first vector added.
func NewVectorIndex(dimensions int) *VectorIndex {
	return &VectorIndex{
		dimensions: dimensions,
		vectors:    make(map[string][]float32),
	}
}

// Add stores or replaces the embedding for id. Vectors whose length
// disagrees with the index dimensions are rejected.
func (ix *VectorIndex) Add(id string, vec []float32) error {
	if id == "" || len(vec) == 0 {
		return errors.New("vector index: empty id or vector")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.dimensions <= 0 {
		ix.dimensions = len(vec)
	}
	if len(vec) != ix.dimensions {
		return errors.Newf("vector index: dimension mismatch for %s: got %d, want %d", id, len(vec), ix.dimensions)
	}

	stored := make([]float32, len(vec))
	copy(stored, vec)
	ix.vectors[id] = stored
	return nil
}

// Remove drops the embedding for id. Removing an unknown id is a no-op.
func (ix *VectorIndex) Remove(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.vectors, id)
}

// Search returns up to limit ids ranked by cosine similarity to query,
// best first. Non-positive similarities are dropped.
func (ix *VectorIndex) Search(query []float32, limit int) []utils.Scored {
	if len(query) == 0 || limit <= 0 {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	top := utils.NewTopK(limit)
	for id, vec := range ix.vectors {
		score := utils.CosineSimilarity(query, vec)
		if score <= 0 {
			continue
		}
		top.Add(id, score)
	}
	return top.Results()
}

// Count returns the number of indexed vectors.
func (ix *VectorIndex) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vectors)
}

// Dimensions returns the pinned dimension count, 0 if nothing was added yet.
func (ix *VectorIndex) Dimensions() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if len(ix.vectors) == 0 && ix.dimensions <= 0 {
		return 0
	}
	return ix.dimensions
}
