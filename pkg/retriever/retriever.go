// Package retriever generates candidates for hybrid search. Three
// sub-searches run concurrently against a deal: vector similarity over fact
// embeddings, BM25 over fact text, and a bounded-depth graph walk from the
// entities mentioned in the query. Results merge by union on fact id, with
// each source's raw score and rank kept as separate features for the
// reranker. A sub-search that misses its deadline degrades the result to
// partial instead of failing the query.
package retriever

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/harborstone/dealgraph/pkg/config"
	"github.com/harborstone/dealgraph/pkg/embedder"
	"github.com/harborstone/dealgraph/pkg/factstore"
	"github.com/harborstone/dealgraph/pkg/index"
	"github.com/harborstone/dealgraph/pkg/mentions"
	"github.com/harborstone/dealgraph/pkg/types"
	"github.com/harborstone/dealgraph/pkg/utils"
)

// Source identifies one retrieval signal.
type Source string

const (
	SourceVector  Source = "vector"
	SourceLexical Source = "lexical"
	SourceGraph   Source = "graph"
)

// subSearchOrder fixes the slot each sub-search occupies in the fan-out.
var subSearchOrder = []Source{SourceVector, SourceLexical, SourceGraph}

// Query describes one retrieval request against a deal.
type Query struct {
	DealID string
	Text   string

	// EntityFilter restricts candidates to facts about these entities.
	// Filter ids are canonicalized through merge redirects before
	// matching, so pre-merge ids keep working.
	EntityFilter []string

	// AsOf drops candidates whose validity interval does not cover the
	// given instant. Nil keeps every currently-standing fact.
	AsOf *time.Time
}

// Candidate is one fact surfaced by at least one sub-search. Scores holds
// the raw score each source assigned and Ranks the 1-based position in that
// source's ordering; neither is collapsed here, fusion is the reranker's
// job.
type Candidate struct {
	Fact   *types.Fact
	Scores map[Source]float64
	Ranks  map[Source]int
}

// BestRank returns the lowest rank the candidate earned across sources.
func (c *Candidate) BestRank() int {
	best := 0
	for _, r := range c.Ranks {
		if best == 0 || r < best {
			best = r
		}
	}
	return best
}

// Result is the merged candidate union. Partial is set when at least one
// sub-search timed out or failed; the surviving sources' candidates are
// still returned and usable.
type Result struct {
	Candidates []*Candidate
	Partial    bool
	// Degraded names the sub-searches lost to a timeout or error when
	// Partial is set.
	Degraded []Source
	// Seeds are the canonical entity ids the graph walk started from.
	Seeds []string
}

// Retriever fans queries out over the search indexes and the fact store.
type Retriever struct {
	store   factstore.Store
	indexes *index.Indexer
	emb     embedder.Client
	tagger  mentions.Tagger
	cfg     config.RetrievalConfig
	logger  *slog.Logger
}

// New creates a Retriever. The embedder and tagger may be nil, which
// disables the vector sub-search and mention seeding respectively.
func New(store factstore.Store, indexes *index.Indexer, emb embedder.Client, tagger mentions.Tagger, cfg config.RetrievalConfig, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CandidateBudget <= 0 {
		cfg.CandidateBudget = 50
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 800 * time.Millisecond
	}
	if cfg.TotalTimeout <= 0 {
		cfg.TotalTimeout = 2 * time.Second
	}
	if cfg.GraphDepth <= 0 {
		cfg.GraphDepth = 2
	}
	return &Retriever{
		store:   store,
		indexes: indexes,
		emb:     emb,
		tagger:  tagger,
		cfg:     cfg,
		logger:  logger,
	}
}

// Retrieve runs the three sub-searches and merges their candidates. Timeouts
// never fail the call: a slow sub-search is abandoned, the result is flagged
// partial, and whatever the other sources returned comes back. Errors are
// reserved for bad input and store failures outside the sub-searches.
func (r *Retriever) Retrieve(ctx context.Context, q Query) (*Result, error) {
	if q.DealID == "" {
		return nil, types.Validationf("retrieve: deal id is required")
	}
	if strings.TrimSpace(q.Text) == "" && len(q.EntityFilter) == 0 {
		return nil, types.Validationf("retrieve: query text or entity filter is required")
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.TotalTimeout)
	defer cancel()

	// First query for a deal after a restart warms its indexes from the
	// store. On failure the text sub-searches come up empty but the graph
	// walk still answers.
	if !r.indexes.HasDeal(q.DealID) {
		if err := r.indexes.Bootstrap(ctx, q.DealID); err != nil {
			r.logger.Warn("index bootstrap failed, text sub-searches degraded",
				"deal_id", q.DealID, "error", err)
		}
	}

	var (
		vector  []utils.Scored
		lexical []utils.Scored
		graph   *graphCandidates
	)
	errs := utils.NewConcurrentExecutor(len(subSearchOrder)).Execute(ctx,
		func() error {
			var err error
			vector, err = runSub(ctx, r.cfg.SearchTimeout, func(sub context.Context) ([]utils.Scored, error) {
				return r.vectorSearch(sub, q)
			})
			return err
		},
		func() error {
			var err error
			lexical, err = runSub(ctx, r.cfg.SearchTimeout, func(sub context.Context) ([]utils.Scored, error) {
				return r.lexicalSearch(sub, q)
			})
			return err
		},
		func() error {
			var err error
			graph, err = runSub(ctx, r.cfg.SearchTimeout, func(sub context.Context) (*graphCandidates, error) {
				return r.graphSearch(sub, q)
			})
			return err
		},
	)

	res := &Result{}
	for i, err := range errs {
		if err == nil {
			continue
		}
		src := subSearchOrder[i]
		res.Partial = true
		res.Degraded = append(res.Degraded, src)
		if errors.Is(err, types.ErrRetrievalTimeout) || errors.Is(err, context.DeadlineExceeded) {
			r.logger.Warn("sub-search timed out, returning partial results",
				"deal_id", q.DealID, "source", src, "timeout", r.cfg.SearchTimeout)
		} else {
			r.logger.Warn("sub-search failed, returning partial results",
				"deal_id", q.DealID, "source", src, "error", err)
		}
	}

	merged := make(map[string]*Candidate)
	add := func(src Source, id string, score float64, rank int) *Candidate {
		c := merged[id]
		if c == nil {
			c = &Candidate{Scores: map[Source]float64{}, Ranks: map[Source]int{}}
			merged[id] = c
		}
		c.Scores[src] = score
		c.Ranks[src] = rank
		return c
	}
	for i, h := range vector {
		add(SourceVector, h.ID, h.Score, i+1)
	}
	for i, h := range lexical {
		add(SourceLexical, h.ID, h.Score, i+1)
	}
	if graph != nil {
		res.Seeds = graph.seeds
		for i, h := range graph.hits {
			c := add(SourceGraph, h.fact.ID, h.score, i+1)
			c.Fact = h.fact
		}
	}

	// Hydrate candidates the indexes returned by id only. The indexes trail
	// the store, so a miss means the fact was invalidated after indexing;
	// drop it rather than surface a stale claim.
	for id, c := range merged {
		if c.Fact != nil {
			continue
		}
		fact, err := r.store.GetFact(ctx, q.DealID, id)
		if err != nil {
			r.logger.Debug("dropping candidate missing from store",
				"deal_id", q.DealID, "fact_id", id, "error", err)
			delete(merged, id)
			continue
		}
		c.Fact = fact
	}

	if len(q.EntityFilter) > 0 {
		keep := make(map[string]bool, len(q.EntityFilter))
		for _, id := range q.EntityFilter {
			canonical, err := r.store.ResolveEntityID(ctx, q.DealID, id)
			if err != nil {
				canonical = id
			}
			keep[canonical] = true
		}
		for id, c := range merged {
			subject, err := r.store.ResolveEntityID(ctx, q.DealID, c.Fact.SubjectID)
			if err != nil {
				subject = c.Fact.SubjectID
			}
			if !keep[subject] {
				delete(merged, id)
			}
		}
	}
	if q.AsOf != nil {
		for id, c := range merged {
			if !c.Fact.ValidDuring(*q.AsOf) {
				delete(merged, id)
			}
		}
	}

	res.Candidates = make([]*Candidate, 0, len(merged))
	for _, c := range merged {
		res.Candidates = append(res.Candidates, c)
	}
	sort.Slice(res.Candidates, func(i, j int) bool {
		ri, rj := res.Candidates[i].BestRank(), res.Candidates[j].BestRank()
		if ri != rj {
			return ri < rj
		}
		return res.Candidates[i].Fact.ID < res.Candidates[j].Fact.ID
	})

	r.logger.Debug("retrieval merged",
		"deal_id", q.DealID,
		"candidates", len(res.Candidates),
		"vector", len(vector),
		"lexical", len(lexical),
		"seeds", len(res.Seeds),
		"partial", res.Partial)
	return res, nil
}

// runSub executes one sub-search under its own deadline. An overrunning
// sub-search is abandoned: its goroutine finishes on its own and the value
// is discarded, so one slow signal cannot hold up the merge.
func runSub[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	subCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := fn(subCtx)
		done <- outcome{value: value, err: err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-subCtx.Done():
		var zero T
		return zero, errors.Mark(subCtx.Err(), types.ErrRetrievalTimeout)
	}
}

func (r *Retriever) vectorSearch(ctx context.Context, q Query) ([]utils.Scored, error) {
	if r.emb == nil || strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}
	vec, err := r.emb.EmbedSingle(ctx, strings.ReplaceAll(q.Text, "\n", " "))
	if err != nil {
		return nil, errors.Wrap(err, "embedding query")
	}
	return r.indexes.SearchVector(q.DealID, vec, r.cfg.CandidateBudget), nil
}

func (r *Retriever) lexicalSearch(_ context.Context, q Query) ([]utils.Scored, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}
	return r.indexes.SearchLexical(q.DealID, q.Text, r.cfg.CandidateBudget), nil
}

type graphHit struct {
	fact  *types.Fact
	score float64
}

type graphCandidates struct {
	seeds []string
	hits  []*graphHit
}

// graphSearch walks the entity graph breadth-first from the query's seed
// entities. Expanding an entity at distance d surfaces its standing facts,
// outgoing and incoming, scored 1/(1+d); relationship facts contribute their
// far endpoint to the next frontier until the hop limit or the candidate
// budget is reached.
func (r *Retriever) graphSearch(ctx context.Context, q Query) (*graphCandidates, error) {
	seeds, err := r.querySeeds(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return &graphCandidates{}, nil
	}

	type frontier struct {
		entityID string
		depth    int
	}
	queue := make([]frontier, 0, len(seeds))
	visited := make(map[string]bool, len(seeds))
	for _, id := range seeds {
		queue = append(queue, frontier{entityID: id})
		visited[id] = true
	}

	best := make(map[string]*graphHit)
	for len(queue) > 0 && len(best) < r.cfg.CandidateBudget {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := queue[0]
		queue = queue[1:]

		outgoing, err := r.store.ValidFacts(ctx, q.DealID, cur.entityID, "")
		if err != nil {
			return nil, errors.Wrapf(err, "expanding entity %s", cur.entityID)
		}
		incoming, err := r.store.FactsByObjectEntity(ctx, q.DealID, cur.entityID)
		if err != nil {
			return nil, errors.Wrapf(err, "incoming edges for entity %s", cur.entityID)
		}

		score := 1.0 / float64(1+cur.depth)
		for _, fact := range append(outgoing, incoming...) {
			if hit := best[fact.ID]; hit == nil || score > hit.score {
				best[fact.ID] = &graphHit{fact: fact, score: score}
			}
			if len(best) >= r.cfg.CandidateBudget {
				break
			}
			if cur.depth >= r.cfg.GraphDepth {
				continue
			}
			for _, next := range []string{fact.SubjectID, fact.Object.EntityID} {
				if next == "" {
					continue
				}
				if canonical, err := r.store.ResolveEntityID(ctx, q.DealID, next); err == nil {
					next = canonical
				}
				if visited[next] {
					continue
				}
				visited[next] = true
				queue = append(queue, frontier{entityID: next, depth: cur.depth + 1})
			}
		}
	}

	hits := make([]*graphHit, 0, len(best))
	for _, h := range best {
		hits = append(hits, h)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].fact.ID < hits[j].fact.ID
	})
	return &graphCandidates{seeds: seeds, hits: hits}, nil
}

// querySeeds collects the entities the graph walk starts from: the caller's
// entity filter plus every entity whose alias the tagger spots in the query
// text, all canonicalized and deduplicated.
func (r *Retriever) querySeeds(ctx context.Context, q Query) ([]string, error) {
	seen := make(map[string]bool)
	var seeds []string
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		seeds = append(seeds, id)
	}

	for _, id := range q.EntityFilter {
		canonical, err := r.store.ResolveEntityID(ctx, q.DealID, id)
		if err != nil {
			canonical = id
		}
		add(canonical)
	}

	if r.tagger == nil || strings.TrimSpace(q.Text) == "" {
		return seeds, nil
	}
	found, err := r.tagger.Tag(ctx, q.DealID, q.Text)
	if err != nil {
		return nil, errors.Wrap(err, "tagging query mentions")
	}
	for _, m := range found {
		entities, err := r.store.FindEntitiesByAlias(ctx, q.DealID, m.Text)
		if err != nil {
			return nil, errors.Wrapf(err, "looking up mention %q", m.Text)
		}
		for _, e := range entities {
			add(e.ID)
		}
	}
	return seeds, nil
}
