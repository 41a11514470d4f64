// Package resolver maps raw entity mentions onto canonical entities.
//
// Resolution runs three stages in order of evidence strength: exact alias
// match, fuzzy match (normalized edit distance over normalized names, same
// type), then semantic match (embedding cosine against entity descriptions,
// under a stricter threshold). Ties at any stage are broken by corroborating
// fact count; a tie that survives that is surfaced as
// types.ErrResolutionAmbiguity and nothing is merged. A mention matching
// nothing creates a new entity.
//
// Writes are serialized per normalized mention key and per canonical entity
// id, so concurrent workers resolving the same name cannot create duplicate
// entities, while unrelated names proceed in parallel.
package resolver

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/harborstone/dealgraph/pkg/config"
	"github.com/harborstone/dealgraph/pkg/embedder"
	"github.com/harborstone/dealgraph/pkg/factstore"
	"github.com/harborstone/dealgraph/pkg/types"
	"github.com/harborstone/dealgraph/pkg/utils"
)

// Method records which stage produced a resolution.
type Method string

const (
	MethodExact    Method = "exact"
	MethodFuzzy    Method = "fuzzy"
	MethodSemantic Method = "semantic"
	MethodCreated  Method = "created"
)

// Mention is one raw entity reference to resolve.
type Mention struct {
	// Text is the surface form as extracted, e.g. "Acme Corp.".
	Text string
	// Type is the extractor's entity type tag (company, person, ...).
	Type string
	// Context is surrounding text; it sharpens the semantic stage and seeds
	// the description of newly created entities.
	Context string
	// DocumentID ties the mention back to its source document.
	DocumentID string
}

// Resolution is the outcome of resolving one mention.
type Resolution struct {
	EntityID string  `json:"entity_id"`
	Method   Method  `json:"method"`
	Score    float64 `json:"score"`
	Created  bool    `json:"created"`
}

// Resolver resolves mentions against a deal's entity registry.
type Resolver struct {
	store    factstore.Store
	embedder embedder.Client
	cfg      config.ResolverConfig
	logger   *slog.Logger
	locks    *keyedMutex
}

// New builds a resolver. A nil embedder disables the semantic stage.
func New(store factstore.Store, emb embedder.Client, cfg config.ResolverConfig, logger *slog.Logger) *Resolver {
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = 0.85
	}
	if cfg.SemanticThreshold <= 0 {
		cfg.SemanticThreshold = 0.92
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:    store,
		embedder: emb,
		cfg:      cfg,
		logger:   logger,
		locks:    newKeyedMutex(),
	}
}

// Resolve maps a mention to a canonical entity id, creating the entity when
// nothing matches. The returned resolution names the stage that decided.
func (r *Resolver) Resolve(ctx context.Context, dealID string, m Mention) (*Resolution, error) {
	if dealID == "" {
		return nil, types.Validationf("mention has no deal id")
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return nil, types.Validationf("mention has no text")
	}
	if strings.TrimSpace(m.Type) == "" {
		return nil, types.Validationf("mention %q has no type", text)
	}
	norm := utils.NormalizeForMatch(text)
	if norm == "" {
		return nil, types.Validationf("mention %q has no matchable characters", text)
	}

	// One resolution per normalized name at a time. Two workers seeing
	// "Acme Corp" and "acme corp" concurrently serialize here instead of
	// creating two entities.
	unlock := r.locks.Lock("name:" + dealID + ":" + norm)
	defer unlock()

	res, vec, err := r.match(ctx, dealID, m, text, norm)
	if err != nil {
		return nil, err
	}
	if res != nil {
		if err := r.recordMatch(ctx, dealID, m, text, res.EntityID); err != nil {
			return nil, err
		}
		return res, nil
	}

	return r.create(ctx, dealID, m, text, vec)
}

// match runs the three stages and returns the winning resolution, or nil when
// the mention matches nothing. The embedding computed for the semantic stage
// is returned so entity creation can reuse it.
func (r *Resolver) match(ctx context.Context, dealID string, m Mention, text, norm string) (*Resolution, []float32, error) {
	// Stage 1: exact alias match.
	exact, err := r.store.FindEntitiesByAlias(ctx, dealID, text)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return nil, nil, err
	}
	var cands []candidate
	for _, e := range exact {
		if types.MergeCompatible(e.Type, m.Type) {
			cands = append(cands, candidate{entity: e, score: 1})
		}
	}
	if win, err := pickCandidate(text, cands); err != nil {
		return nil, nil, err
	} else if win != nil {
		return &Resolution{EntityID: win.entity.ID, Method: MethodExact, Score: win.score}, nil, nil
	}

	// Stage 2: fuzzy name match. Short or low-entropy names ("LLC", "Q3")
	// skip this stage, edit distance over-matches them.
	if utils.HasMatchableEntropy(norm) {
		all, err := r.store.ListEntities(ctx, dealID)
		if err != nil {
			return nil, nil, err
		}
		cands = cands[:0]
		for _, e := range all {
			if types.NormalizeEntityType(e.Type) != types.NormalizeEntityType(m.Type) {
				continue
			}
			if score := fuzzyScore(norm, e); score >= r.cfg.FuzzyThreshold {
				cands = append(cands, candidate{entity: e, score: score})
			}
		}
		if win, err := pickCandidate(text, cands); err != nil {
			return nil, nil, err
		} else if win != nil {
			return &Resolution{EntityID: win.entity.ID, Method: MethodFuzzy, Score: win.score}, nil, nil
		}
	}

	// Stage 3: semantic match over entity description embeddings.
	if r.embedder == nil {
		return nil, nil, nil
	}
	vec, err := r.embedder.EmbedSingle(ctx, embedText(text, m.Context))
	if err != nil {
		// Without the embedding we cannot rule a semantic match out, and
		// creating the entity anyway would mint duplicates. Let the
		// coordinator retry.
		return nil, nil, types.MarkTransient(errors.Wrap(err, "embedding mention"))
	}
	scored, err := r.store.SimilarEntities(ctx, dealID, vec, r.cfg.MaxCandidates)
	if err != nil {
		return nil, nil, err
	}
	cands = cands[:0]
	for _, s := range scored {
		if s.Score >= r.cfg.SemanticThreshold && types.MergeCompatible(s.Entity.Type, m.Type) {
			cands = append(cands, candidate{entity: s.Entity, score: s.Score})
		}
	}
	win, err := pickCandidate(text, cands)
	if err != nil {
		return nil, vec, err
	}
	if win != nil {
		return &Resolution{EntityID: win.entity.ID, Method: MethodSemantic, Score: win.score}, vec, nil
	}
	return nil, vec, nil
}

// recordMatch saves the mention and folds its surface form into the winning
// entity's aliases.
func (r *Resolver) recordMatch(ctx context.Context, dealID string, m Mention, text, entityID string) error {
	unlock := r.locks.Lock("entity:" + dealID + ":" + entityID)
	defer unlock()

	// Re-fetch under the lock; the match may have been merged away since.
	entity, err := r.store.GetEntity(ctx, dealID, entityID)
	if err != nil {
		return err
	}

	mention := &types.Mention{
		ID:         uuid.New().String(),
		DealID:     dealID,
		Text:       m.Text,
		Type:       types.NormalizeEntityType(m.Type),
		EntityID:   entity.ID,
		DocumentID: m.DocumentID,
	}
	if err := r.store.SaveMention(ctx, mention); err != nil {
		return err
	}

	entity.AddAlias(text)
	entity.MentionIDs = append(entity.MentionIDs, mention.ID)
	if err := r.store.UpdateEntity(ctx, entity); err != nil {
		return err
	}

	r.logger.Debug("resolved mention",
		"deal_id", dealID,
		"mention", text,
		"entity_id", entity.ID)
	return nil
}

// create registers a new entity for an unmatched mention.
func (r *Resolver) create(ctx context.Context, dealID string, m Mention, text string, vec []float32) (*Resolution, error) {
	mentionID := uuid.New().String()
	entity := &types.Entity{
		ID:          uuid.New().String(),
		DealID:      dealID,
		Name:        text,
		Type:        types.NormalizeEntityType(m.Type),
		Aliases:     []string{text},
		MentionIDs:  []string{mentionID},
		Description: strings.TrimSpace(m.Context),
		Embedding:   vec,
	}
	if err := r.store.CreateEntity(ctx, entity); err != nil {
		return nil, err
	}
	if err := r.store.SaveMention(ctx, &types.Mention{
		ID:         mentionID,
		DealID:     dealID,
		Text:       m.Text,
		Type:       entity.Type,
		EntityID:   entity.ID,
		DocumentID: m.DocumentID,
	}); err != nil {
		return nil, err
	}

	r.logger.Info("created entity",
		"deal_id", dealID,
		"entity_id", entity.ID,
		"name", text,
		"type", entity.Type)
	return &Resolution{EntityID: entity.ID, Method: MethodCreated, Created: true}, nil
}

// Merge redirects loser onto winner. All facts recorded under either id stay
// readable under both; merge order never changes the outcome because the
// store flattens redirect chains on write.
func (r *Resolver) Merge(ctx context.Context, dealID, winnerID, loserID string) error {
	if winnerID == "" || loserID == "" {
		return types.Validationf("merge needs both entity ids")
	}
	if winnerID == loserID {
		return nil
	}

	// Lock both entities in a stable order so concurrent merges of the same
	// pair cannot deadlock.
	first, second := winnerID, loserID
	if second < first {
		first, second = second, first
	}
	unlockFirst := r.locks.Lock("entity:" + dealID + ":" + first)
	defer unlockFirst()
	unlockSecond := r.locks.Lock("entity:" + dealID + ":" + second)
	defer unlockSecond()

	winner, err := r.store.GetEntity(ctx, dealID, winnerID)
	if err != nil {
		return errors.Wrapf(err, "merge winner %s", winnerID)
	}
	loser, err := r.store.GetEntity(ctx, dealID, loserID)
	if err != nil {
		return errors.Wrapf(err, "merge loser %s", loserID)
	}
	if winner.ID == loser.ID {
		// Already merged, directly or through a chain.
		return nil
	}
	if !types.MergeCompatible(winner.Type, loser.Type) {
		return types.Validationf("cannot merge %s (%s) into %s (%s): incompatible types",
			loser.ID, loser.Type, winner.ID, winner.Type)
	}

	if err := r.store.RedirectEntity(ctx, dealID, loser.ID, winner.ID); err != nil {
		return err
	}
	r.logger.Info("merged entities",
		"deal_id", dealID,
		"winner", winner.ID,
		"loser", loser.ID)
	return nil
}

type candidate struct {
	entity *types.Entity
	score  float64
}

// pickCandidate returns the strongest candidate. Equal scores fall back to
// corroborating fact count; equal on both is an unbreakable tie.
func pickCandidate(mention string, cands []candidate) (*candidate, error) {
	if len(cands) == 0 {
		return nil, nil
	}
	sort.Slice(cands, func(i, j int) bool {
		if !scoresEqual(cands[i].score, cands[j].score) {
			return cands[i].score > cands[j].score
		}
		return cands[i].entity.FactCount > cands[j].entity.FactCount
	})
	if len(cands) > 1 {
		a, b := cands[0], cands[1]
		if scoresEqual(a.score, b.score) && a.entity.FactCount == b.entity.FactCount {
			return nil, errors.Mark(
				errors.Newf("mention %q matches %s and %s equally (score %.3f, %d facts each)",
					mention, a.entity.ID, b.entity.ID, a.score, a.entity.FactCount),
				types.ErrResolutionAmbiguity)
		}
	}
	return &cands[0], nil
}

func scoresEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// fuzzyScore is the best normalized edit-distance similarity between the
// mention and any of the entity's names.
func fuzzyScore(norm string, e *types.Entity) float64 {
	best := utils.LevenshteinSimilarity(norm, utils.NormalizeForMatch(e.Name))
	for _, alias := range e.Aliases {
		if s := utils.LevenshteinSimilarity(norm, utils.NormalizeForMatch(alias)); s > best {
			best = s
		}
	}
	return best
}

func embedText(text, context string) string {
	if context == "" {
		return text
	}
	return text + ". " + context
}
