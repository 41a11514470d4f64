// Package utils provides shared helpers for the dealgraph engine: vector
// math, bounded concurrency, panic recovery, tolerant decoding, and name
// normalization used by the resolver and the indexes.
package utils

import (
	"container/heap"
	"math"

	"gonum.org/v1/gonum/floats"
)

// CosineSimilarity computes the cosine similarity between two float32
// vectors. Returns 0 for mismatched lengths, empty vectors, or zero
// magnitude; otherwise the result lies in [-1, 1].
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	af := make([]float64, len(a))
	bf := make([]float64, len(b))
	for i := range a {
		af[i] = float64(a[i])
		bf[i] = float64(b[i])
	}

	dot := floats.Dot(af, bf)
	magA := math.Sqrt(floats.Dot(af, af))
	magB := math.Sqrt(floats.Dot(bf, bf))
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (magA * magB)
}

// NormalizeVector scales v to unit length in place and returns it. Zero
// vectors are returned unchanged.
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// Scored pairs an id with a score for top-k selection.
type Scored struct {
	ID    string
	Score float64
}

// TopK keeps the k highest-scoring items seen, using a min-heap so feeding it
// n items costs O(n log k). Results come back sorted best first.
type TopK struct {
	k    int
	heap scoredHeap
}

// NewTopK creates a collector for the k best items; k <= 0 keeps everything.
func NewTopK(k int) *TopK {
	return &TopK{k: k}
}

// Add offers one scored item to the collector.
func (t *TopK) Add(id string, score float64) {
	if t.k > 0 && t.heap.Len() >= t.k {
		if score <= t.heap[0].Score {
			return
		}
		t.heap[0] = Scored{ID: id, Score: score}
		heap.Fix(&t.heap, 0)
		return
	}
	heap.Push(&t.heap, Scored{ID: id, Score: score})
}

// Results drains the collector, best score first.
func (t *TopK) Results() []Scored {
	out := make([]Scored, t.heap.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&t.heap).(Scored)
	}
	return out
}

type scoredHeap []Scored

func (h scoredHeap) Len() int            { return len(h) }
func (h scoredHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h scoredHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x interface{}) { *h = append(*h, x.(Scored)) }
func (h *scoredHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
