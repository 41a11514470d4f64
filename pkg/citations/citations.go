// Package citations attaches document provenance to ranked facts before
// they are surfaced to a caller. Assembly fails closed: a fact whose
// source cannot be resolved to a registered document is excluded from the
// answer, never returned unsourced.
package citations

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/harborstone/dealgraph/pkg/factstore"
	"github.com/harborstone/dealgraph/pkg/rerank"
	"github.com/harborstone/dealgraph/pkg/types"
)

// Citation is the provenance block for one surfaced claim.
type Citation struct {
	FactID     string        `json:"fact_id"`
	Claim      string        `json:"claim"`
	EntityID   string        `json:"entity_id"`
	DocumentID string        `json:"document_id"`
	Locator    types.Locator `json:"locator"`
	Confidence float64       `json:"confidence"`
	ValidAt    *time.Time    `json:"valid_at,omitempty"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// Annotate builds the citation for a single fact. It returns an error
// marked ErrProvenanceMissing when the fact carries no document
// reference, an empty locator, or no confidence.
func Annotate(fact *types.Fact) (*Citation, error) {
	if fact == nil {
		return nil, errors.Mark(errors.New("nil fact"), types.ErrProvenanceMissing)
	}
	if fact.DocumentID == "" {
		return nil, errors.Mark(errors.Newf("fact %s has no source document", fact.ID), types.ErrProvenanceMissing)
	}
	if fact.Locator.IsZero() {
		return nil, errors.Mark(errors.Newf("fact %s has no locator in document %s", fact.ID, fact.DocumentID), types.ErrProvenanceMissing)
	}
	if fact.Confidence <= 0 {
		return nil, errors.Mark(errors.Newf("fact %s has no extraction confidence", fact.ID), types.ErrProvenanceMissing)
	}
	claim := fact.Claim
	if claim == "" {
		claim = fact.Predicate + " " + fact.Object.String()
	}
	return &Citation{
		FactID:     fact.ID,
		Claim:      claim,
		EntityID:   fact.SubjectID,
		DocumentID: fact.DocumentID,
		Locator:    fact.Locator,
		Confidence: fact.Confidence,
		ValidAt:    fact.ValidAt,
		RecordedAt: fact.RecordedAt,
	}, nil
}

// Answer is one cited result in final rank order.
type Answer struct {
	Citation
	Score float64 `json:"score"`
}

// Assembler resolves citations against the document registry so that
// every surfaced claim points at a document the store still knows about.
type Assembler struct {
	store  factstore.Store
	logger *slog.Logger
}

// NewAssembler returns an Assembler backed by the given store.
func NewAssembler(store factstore.Store, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{store: store, logger: logger}
}

// Assemble annotates ranked facts in order. Facts with missing provenance
// or an unregistered document are dropped and counted, not errored: a
// query answer shrinks rather than fails when a citation cannot be built.
// Store failures other than a missing document do propagate.
func (a *Assembler) Assemble(ctx context.Context, dealID string, ranked []*rerank.Ranked) ([]*Answer, int, error) {
	answers := make([]*Answer, 0, len(ranked))
	excluded := 0
	// Ranked lists repeat documents heavily; cache lookups per call.
	known := make(map[string]bool)
	for _, rk := range ranked {
		cite, err := Annotate(rk.Fact)
		if err != nil {
			excluded++
			a.logger.Debug("excluding uncited fact", "error", err)
			continue
		}
		live, ok := known[cite.DocumentID]
		if !ok {
			_, err := a.store.GetDocument(ctx, dealID, cite.DocumentID)
			switch {
			case err == nil:
				live = true
			case errors.Is(err, types.ErrNotFound):
				live = false
			default:
				return nil, 0, errors.Wrapf(err, "verifying document %s", cite.DocumentID)
			}
			known[cite.DocumentID] = live
		}
		if !live {
			excluded++
			a.logger.Warn("fact cites unregistered document",
				"fact_id", cite.FactID, "document_id", cite.DocumentID)
			continue
		}
		answers = append(answers, &Answer{Citation: *cite, Score: rk.Score})
	}
	return answers, excluded, nil
}
