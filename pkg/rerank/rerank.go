// Package rerank turns the retriever's multi-source candidates into one
// ordering. Reciprocal rank fusion over the per-source ranks always runs; a
// cross-encoder relevance stage and a maximal-marginal-relevance diversity
// pass are optional; ties break by confidence or recency per config, and the
// list truncates to k.
package rerank

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/harborstone/dealgraph/pkg/config"
	"github.com/harborstone/dealgraph/pkg/retriever"
	"github.com/harborstone/dealgraph/pkg/types"
	"github.com/harborstone/dealgraph/pkg/utils"
)

// Ranked is one fused result.
type Ranked struct {
	Fact *types.Fact
	// Score is the ordering score: RRF alone, or cross-encoder relevance
	// plus RRF when that stage ran (relevance dominates, fusion breaks
	// near-ties within a relevance band).
	Score    float64
	RRFScore float64
	// CrossScore is set only when the cross-encoder stage ran.
	CrossScore float64
	// Features carries each sub-search's raw score, untouched by fusion.
	Features map[retriever.Source]float64
}

// Reranker fuses candidates into a final ordering.
type Reranker struct {
	cross  CrossEncoder
	cfg    config.RetrievalConfig
	logger *slog.Logger
}

// New creates a Reranker. A nil cross-encoder skips that stage.
func New(cross CrossEncoder, cfg config.RetrievalConfig, logger *slog.Logger) *Reranker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = 60
	}
	if cfg.K <= 0 {
		cfg.K = 10
	}
	if cfg.MMRLambda <= 0 {
		cfg.MMRLambda = 0.7
	}
	return &Reranker{cross: cross, cfg: cfg, logger: logger}
}

// Rank fuses the candidates and returns the top k. A failing cross-encoder
// degrades to the fusion ordering rather than failing the query.
func (r *Reranker) Rank(ctx context.Context, query string, candidates []*retriever.Candidate, k int) ([]*Ranked, error) {
	if k <= 0 {
		k = r.cfg.K
	}
	if len(candidates) == 0 {
		return []*Ranked{}, nil
	}

	ranked := make([]*Ranked, 0, len(candidates))
	for _, c := range candidates {
		rrf := 0.0
		for _, rank := range c.Ranks {
			rrf += 1.0 / float64(r.cfg.RRFK+rank)
		}
		ranked = append(ranked, &Ranked{
			Fact:     c.Fact,
			Score:    rrf,
			RRFScore: rrf,
			Features: c.Scores,
		})
	}

	if r.cross != nil && strings.TrimSpace(query) != "" {
		r.applyCrossEncoder(ctx, query, ranked)
	}

	r.sortRanked(ranked)

	if r.cfg.UseMMR && r.cfg.MMRLambda < 1 {
		ranked = r.applyMMR(ranked, k)
	}
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked, nil
}

func (r *Reranker) applyCrossEncoder(ctx context.Context, query string, ranked []*Ranked) {
	passages := make([]string, len(ranked))
	for i, rk := range ranked {
		passages[i] = passageText(rk.Fact)
	}
	scored, err := r.cross.Rank(ctx, query, passages)
	if err != nil {
		r.logger.Warn("cross-encoder rerank failed, keeping fusion order", "error", err)
		return
	}

	byPassage := make(map[string]float64, len(scored))
	for _, p := range scored {
		if _, ok := byPassage[p.Passage]; !ok {
			byPassage[p.Passage] = p.Score
		}
	}
	for i, rk := range ranked {
		score, ok := byPassage[passages[i]]
		if !ok {
			continue
		}
		rk.CrossScore = score
		rk.Score = score + rk.RRFScore
	}
}

func (r *Reranker) sortRanked(ranked []*Ranked) {
	recencyFirst := r.cfg.TieBreak == "recency"
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if recencyFirst {
			if !a.Fact.RecordedAt.Equal(b.Fact.RecordedAt) {
				return a.Fact.RecordedAt.After(b.Fact.RecordedAt)
			}
			if a.Fact.Confidence != b.Fact.Confidence {
				return a.Fact.Confidence > b.Fact.Confidence
			}
		} else {
			if a.Fact.Confidence != b.Fact.Confidence {
				return a.Fact.Confidence > b.Fact.Confidence
			}
			if !a.Fact.RecordedAt.Equal(b.Fact.RecordedAt) {
				return a.Fact.RecordedAt.After(b.Fact.RecordedAt)
			}
		}
		return a.Fact.ID < b.Fact.ID
	})
}

// applyMMR greedily picks k results balancing relevance against similarity
// to what is already picked: lambda*score - (1-lambda)*maxSim. Facts without
// embeddings carry no diversity penalty.
func (r *Reranker) applyMMR(ranked []*Ranked, k int) []*Ranked {
	if len(ranked) <= 1 {
		return ranked
	}
	lambda := r.cfg.MMRLambda
	selected := make([]*Ranked, 0, min(k, len(ranked)))
	remaining := append([]*Ranked(nil), ranked...)

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := 0
		bestScore := math.Inf(-1)
		for i, cand := range remaining {
			maxSim := 0.0
			if len(cand.Fact.Embedding) > 0 {
				for _, s := range selected {
					if len(s.Fact.Embedding) == 0 {
						continue
					}
					if sim := utils.CosineSimilarity(cand.Fact.Embedding, s.Fact.Embedding); sim > maxSim {
						maxSim = sim
					}
				}
			}
			if score := lambda*cand.Score - (1-lambda)*maxSim; score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

func passageText(f *types.Fact) string {
	if strings.TrimSpace(f.Claim) != "" {
		return f.Claim
	}
	return f.Predicate + " " + f.Object.String()
}
