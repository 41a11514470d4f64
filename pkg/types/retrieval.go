package types

import (
	"time"
)

// RetrievalSource names one of the hybrid retriever's sub-searches.
type RetrievalSource string

const (
	// SourceVector is cosine similarity over fact embeddings.
	SourceVector RetrievalSource = "vector"
	// SourceLexical is BM25 term search over claim text.
	SourceLexical RetrievalSource = "lexical"
	// SourceGraph is bounded-depth traversal from query-mentioned entities.
	SourceGraph RetrievalSource = "graph"
)

// Query is a retrieval request, scoped to one deal.
type Query struct {
	DealID string `json:"deal_id"`
	Text   string `json:"text"`
	// EntityFilter restricts results to facts about the listed entity ids.
	EntityFilter []string `json:"entity_filter,omitempty"`
	// PredicateFilter restricts results to the listed predicates.
	PredicateFilter []string `json:"predicate_filter,omitempty"`
	// AsOf asks for the knowledge state at a past instant; nil means now.
	AsOf *time.Time `json:"as_of,omitempty"`
	// K is the number of results wanted after reranking.
	K int `json:"k"`
}

// Validate rejects empty or unscoped queries and normalizes K.
func (q *Query) Validate() error {
	if q.DealID == "" {
		return Validationf("query has no deal id")
	}
	if q.Text == "" && len(q.EntityFilter) == 0 {
		return Validationf("query has neither text nor entity filter")
	}
	if q.K < 0 {
		return Validationf("k must not be negative")
	}
	return nil
}

// Candidate is one fact surfaced by at least one sub-search, carrying each
// source's raw score and rank as separate features. Scores are not collapsed
// until the reranker fuses them.
type Candidate struct {
	Fact *Fact `json:"fact"`
	// Scores holds each contributing source's raw score (cosine similarity,
	// BM25 score, traversal activation).
	Scores map[RetrievalSource]float64 `json:"scores"`
	// Ranks holds each contributing source's 0-based rank, used for
	// reciprocal rank fusion.
	Ranks map[RetrievalSource]int `json:"ranks"`
	// CrossScore is the cross-encoder relevance, set by the reranker.
	CrossScore float64 `json:"cross_score,omitempty"`
	// Final is the fused ranking score, set by the reranker.
	Final float64 `json:"final,omitempty"`
}

// NewCandidate wraps a fact with empty feature maps.
func NewCandidate(f *Fact) *Candidate {
	return &Candidate{
		Fact:   f,
		Scores: make(map[RetrievalSource]float64),
		Ranks:  make(map[RetrievalSource]int),
	}
}

// Merge folds another sighting of the same fact into this candidate, keeping
// the better score and rank per source.
func (c *Candidate) Merge(other *Candidate) {
	for src, score := range other.Scores {
		if cur, ok := c.Scores[src]; !ok || score > cur {
			c.Scores[src] = score
		}
	}
	for src, rank := range other.Ranks {
		if cur, ok := c.Ranks[src]; !ok || rank < cur {
			c.Ranks[src] = rank
		}
	}
}

// RetrievalResult is the merged candidate set before reranking.
type RetrievalResult struct {
	Candidates []*Candidate `json:"candidates"`
	// Partial is true when at least one sub-search missed its deadline and
	// the result was assembled from the rest.
	Partial bool `json:"partial"`
	// TimedOut lists the sub-searches that missed their deadline.
	TimedOut []RetrievalSource `json:"timed_out,omitempty"`
}

// Citation is one surfaced claim with its mandatory provenance. The assembler
// fails closed: a fact that cannot produce a complete citation is dropped.
type Citation struct {
	Claim      string     `json:"claim"`
	FactID     string     `json:"fact_id"`
	EntityID   string     `json:"entity_id"`
	DocumentID string     `json:"document_id"`
	Locator    Locator    `json:"locator"`
	Confidence float64    `json:"confidence"`
	ValidAt    *time.Time `json:"valid_at,omitempty"`
	RecordedAt time.Time  `json:"recorded_at"`
	Score      float64    `json:"score"`
}

// Answer is the query response returned to callers.
type Answer struct {
	Citations []Citation `json:"citations"`
	Partial   bool       `json:"partial"`
}
