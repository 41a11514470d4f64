package rerank

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/soundprediction/go-embedeverything/pkg/embedder"
)

const defaultRerankerModel = "BAAI/bge-reranker-base"

// EmbedEverythingCrossEncoder runs a local cross-encoder model through
// go-embedeverything. No network, works air-gapped once the model is cached.
type EmbedEverythingCrossEncoder struct {
	reranker *embedder.Reranker
}

// NewEmbedEverythingCrossEncoder loads the reranker model; empty model uses
// the default.
func NewEmbedEverythingCrossEncoder(model string) (*EmbedEverythingCrossEncoder, error) {
	if model == "" {
		model = defaultRerankerModel
	}
	reranker, err := embedder.NewReranker(model)
	if err != nil {
		return nil, errors.Wrapf(err, "loading reranker model %s", model)
	}
	return &EmbedEverythingCrossEncoder{reranker: reranker}, nil
}

// Rank scores passages against the query with the local model.
func (e *EmbedEverythingCrossEncoder) Rank(ctx context.Context, query string, passages []string) ([]RankedPassage, error) {
	if len(passages) == 0 {
		return []RankedPassage{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// go-embedeverything does not support context yet
	results, err := e.reranker.Rerank(query, passages)
	if err != nil {
		return nil, errors.Wrap(err, "reranking passages")
	}

	ranked := make([]RankedPassage, len(results))
	for i, result := range results {
		ranked[i] = RankedPassage{Passage: result.Text, Score: float64(result.Score)}
	}
	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked, nil
}

// Close releases the model.
func (e *EmbedEverythingCrossEncoder) Close() error {
	e.reranker.Close()
	return nil
}
