package retriever_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborstone/dealgraph/pkg/config"
	"github.com/harborstone/dealgraph/pkg/embedder"
	"github.com/harborstone/dealgraph/pkg/factstore"
	"github.com/harborstone/dealgraph/pkg/index"
	"github.com/harborstone/dealgraph/pkg/mentions"
	"github.com/harborstone/dealgraph/pkg/retriever"
	"github.com/harborstone/dealgraph/pkg/types"
)

const dealID = "deal-1"

// fixture wires a small deal graph: Acme (the target) reports revenue and is
// advised by Meridian, which is owned by Vega. Vega's headquarters sits two
// hops from Acme, which exercises the traversal depth bound.
type fixture struct {
	store   factstore.Store
	indexes *index.Indexer
	emb     *embedder.MockEmbedder

	acmeID, meridianID, vegaID string

	revenueID, advisorID, foundedID, parentID, hqID, guidanceID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := factstore.NewBadgerStore(factstore.Config{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store:   store,
		indexes: index.NewIndexer(store, nil),
		emb:     embedder.NewMockEmbedder(4),
	}
	f.acmeID, f.meridianID, f.vegaID = "ent-acme", "ent-meridian", "ent-vega"

	entities := []*types.Entity{
		{ID: f.acmeID, DealID: dealID, Name: "Acme Corporation", Type: types.EntityTypeCompany, Aliases: []string{"Acme Corporation", "Acme"}},
		{ID: f.meridianID, DealID: dealID, Name: "Meridian Partners", Type: types.EntityTypeCompany},
		{ID: f.vegaID, DealID: dealID, Name: "Vega Holdings", Type: types.EntityTypeCompany},
	}
	for _, e := range entities {
		require.NoError(t, store.CreateEntity(ctx, e))
	}

	march := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	july := time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC)

	f.revenueID = f.writeFact(t, &types.Fact{
		DealID: dealID, SubjectID: f.acmeID, Predicate: "q3_revenue",
		Object: types.NumberObject(5.2e6, "USD"),
		Claim:  "Acme reported Q3 revenue of $5.2M",
		DocumentID: "doc-1", Locator: types.Locator{Page: 4, Section: "financials"},
		Confidence: 0.9, ValidAt: &march,
		Embedding: []float32{1, 0, 0, 0},
	})
	f.advisorID = f.writeFact(t, &types.Fact{
		DealID: dealID, SubjectID: f.acmeID, Predicate: "advised_by",
		Object: types.EntityObject(f.meridianID),
		Claim:  "Acme retained Meridian Partners as sell-side advisor",
		DocumentID: "doc-1", Locator: types.Locator{Page: 2},
		Confidence: 0.85, ValidAt: &march,
		Embedding: []float32{0, 1, 0, 0},
	})
	f.foundedID = f.writeFact(t, &types.Fact{
		DealID: dealID, SubjectID: f.meridianID, Predicate: "founded_year",
		Object: types.NumberObject(1998, ""),
		Claim:  "Meridian Partners was founded in 1998",
		DocumentID: "doc-2", Locator: types.Locator{Page: 1},
		Confidence: 0.8, ValidAt: &march,
	})
	f.parentID = f.writeFact(t, &types.Fact{
		DealID: dealID, SubjectID: f.meridianID, Predicate: "majority_owned_by",
		Object: types.EntityObject(f.vegaID),
		Claim:  "Meridian Partners is majority owned by Vega Holdings",
		DocumentID: "doc-2", Locator: types.Locator{Page: 3},
		Confidence: 0.8, ValidAt: &march,
	})
	f.hqID = f.writeFact(t, &types.Fact{
		DealID: dealID, SubjectID: f.vegaID, Predicate: "headquarters",
		Object: types.TextObject("Austin, Texas"),
		Claim:  "Vega Holdings is headquartered in Austin",
		DocumentID: "doc-3", Locator: types.Locator{Page: 7},
		Confidence: 0.75, ValidAt: &march,
	})
	f.guidanceID = f.writeFact(t, &types.Fact{
		DealID: dealID, SubjectID: f.acmeID, Predicate: "q4_guidance",
		Object: types.NumberObject(6.1e6, "USD"),
		Claim:  "Acme guided Q4 revenue to $6.1M",
		DocumentID: "doc-4", Locator: types.Locator{Page: 1},
		Confidence: 0.7, ValidAt: &july,
	})
	return f
}

func (f *fixture) writeFact(t *testing.T, fact *types.Fact) string {
	t.Helper()
	id, err := f.store.WriteFact(context.Background(), fact)
	require.NoError(t, err)
	return id
}

func (f *fixture) retriever(cfg config.RetrievalConfig) *retriever.Retriever {
	return retriever.New(f.store, f.indexes, f.emb, mentions.NewLexiconTagger(f.store), cfg, nil)
}

func findCandidate(res *retriever.Result, id string) *retriever.Candidate {
	for _, c := range res.Candidates {
		if c.Fact.ID == id {
			return c
		}
	}
	return nil
}

func TestRetrieveMergesSources(t *testing.T) {
	f := newFixture(t)
	query := "What was Acme's Q3 revenue?"
	f.emb.SetVector(query, []float32{1, 0, 0, 0})

	res, err := f.retriever(config.RetrievalConfig{}).Retrieve(context.Background(),
		retriever.Query{DealID: dealID, Text: query})
	require.NoError(t, err)

	assert.False(t, res.Partial)
	assert.Empty(t, res.Degraded)
	assert.Equal(t, []string{f.acmeID}, res.Seeds, "the Acme mention seeds the graph walk")
	assert.True(t, f.indexes.HasDeal(dealID), "first query bootstraps the deal's indexes")

	rev := findCandidate(res, f.revenueID)
	require.NotNil(t, rev, "revenue fact should be retrieved")
	assert.Contains(t, rev.Scores, retriever.SourceVector)
	assert.Contains(t, rev.Scores, retriever.SourceLexical)
	assert.Contains(t, rev.Scores, retriever.SourceGraph)
	assert.InDelta(t, 1.0, rev.Scores[retriever.SourceVector], 1e-6)
	assert.InDelta(t, 1.0, rev.Scores[retriever.SourceGraph], 1e-9, "subject facts of a seed score 1")
	assert.Equal(t, 1, rev.Ranks[retriever.SourceVector])
	assert.Equal(t, 1, rev.Ranks[retriever.SourceLexical])
	assert.Equal(t, 1, rev.BestRank())

	adv := findCandidate(res, f.advisorID)
	require.NotNil(t, adv, "the graph walk surfaces the advisor relationship")
	assert.Contains(t, adv.Scores, retriever.SourceGraph)
}

func TestRetrieveGraphDepthBounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := retriever.Query{DealID: dealID, Text: "Tell me about Acme"}

	t.Run("depth 2 reaches the owner's facts", func(t *testing.T) {
		res, err := f.retriever(config.RetrievalConfig{GraphDepth: 2}).Retrieve(ctx, q)
		require.NoError(t, err)

		founded := findCandidate(res, f.foundedID)
		require.NotNil(t, founded)
		assert.InDelta(t, 0.5, founded.Scores[retriever.SourceGraph], 1e-9)

		hq := findCandidate(res, f.hqID)
		require.NotNil(t, hq, "Acme -> Meridian -> Vega is within two hops")
		assert.InDelta(t, 1.0/3.0, hq.Scores[retriever.SourceGraph], 1e-9)
	})

	t.Run("depth 1 stops before the owner", func(t *testing.T) {
		res, err := f.retriever(config.RetrievalConfig{GraphDepth: 1}).Retrieve(ctx, q)
		require.NoError(t, err)

		assert.NotNil(t, findCandidate(res, f.foundedID))
		assert.Nil(t, findCandidate(res, f.hqID), "Vega sits beyond the hop limit")
	})
}

func TestRetrieveEntityFilter(t *testing.T) {
	f := newFixture(t)

	res, err := f.retriever(config.RetrievalConfig{}).Retrieve(context.Background(),
		retriever.Query{DealID: dealID, EntityFilter: []string{f.meridianID}})
	require.NoError(t, err)

	assert.Equal(t, []string{f.meridianID}, res.Seeds)
	ids := make([]string, 0, len(res.Candidates))
	for _, c := range res.Candidates {
		ids = append(ids, c.Fact.ID)
	}
	assert.ElementsMatch(t, []string{f.foundedID, f.parentID}, ids,
		"only facts about the filtered entity survive")
}

func TestRetrieveAsOf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ret := f.retriever(config.RetrievalConfig{})

	t.Run("without asOf future-valid claims are candidates", func(t *testing.T) {
		res, err := ret.Retrieve(ctx, retriever.Query{DealID: dealID, Text: "Acme revenue guidance"})
		require.NoError(t, err)
		assert.NotNil(t, findCandidate(res, f.guidanceID))
	})

	t.Run("asOf drops claims not yet valid", func(t *testing.T) {
		may := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
		res, err := ret.Retrieve(ctx, retriever.Query{DealID: dealID, Text: "Acme revenue guidance", AsOf: &may})
		require.NoError(t, err)
		assert.NotNil(t, findCandidate(res, f.revenueID), "valid since March")
		assert.Nil(t, findCandidate(res, f.guidanceID), "not valid until July")
	})
}

func TestRetrieveSlowVectorDegradesToPartial(t *testing.T) {
	f := newFixture(t)
	f.emb.Delay = 500 * time.Millisecond
	ret := f.retriever(config.RetrievalConfig{
		SearchTimeout: 100 * time.Millisecond,
		TotalTimeout:  2 * time.Second,
	})

	start := time.Now()
	res, err := ret.Retrieve(context.Background(), retriever.Query{DealID: dealID, Text: "Acme Q3 revenue"})
	elapsed := time.Since(start)

	require.NoError(t, err, "a slow sub-search degrades the result, it does not fail the query")
	assert.True(t, res.Partial)
	assert.Equal(t, []retriever.Source{retriever.SourceVector}, res.Degraded)
	assert.Less(t, elapsed, 300*time.Millisecond,
		"the overrunning sub-search is abandoned at its deadline, not awaited")

	rev := findCandidate(res, f.revenueID)
	require.NotNil(t, rev, "surviving sources still contribute candidates")
	assert.NotContains(t, rev.Scores, retriever.SourceVector)
	assert.Contains(t, rev.Scores, retriever.SourceLexical)
	assert.Contains(t, rev.Scores, retriever.SourceGraph)
}

func TestRetrieveEmbedderFailureDegradesToPartial(t *testing.T) {
	f := newFixture(t)
	f.emb.Err = errors.New("embedding provider unavailable")

	res, err := f.retriever(config.RetrievalConfig{}).Retrieve(context.Background(),
		retriever.Query{DealID: dealID, Text: "Acme Q3 revenue"})
	require.NoError(t, err)

	assert.True(t, res.Partial)
	assert.Equal(t, []retriever.Source{retriever.SourceVector}, res.Degraded)
	assert.NotNil(t, findCandidate(res, f.revenueID))
}

func TestRetrieveDealScoping(t *testing.T) {
	f := newFixture(t)
	otherID := f.writeFact(t, &types.Fact{
		DealID: "deal-2", SubjectID: "ent-rival", Predicate: "q3_revenue",
		Object: types.NumberObject(9.9e6, "USD"),
		Claim:  "Acme reported Q3 revenue of $9.9M",
		DocumentID: "doc-9", Locator: types.Locator{Page: 1},
		Confidence: 0.9,
	})

	res, err := f.retriever(config.RetrievalConfig{}).Retrieve(context.Background(),
		retriever.Query{DealID: dealID, Text: "Acme Q3 revenue"})
	require.NoError(t, err)

	assert.Nil(t, findCandidate(res, otherID), "facts never cross deal boundaries")
	assert.NotNil(t, findCandidate(res, f.revenueID))
}

func TestRetrieveValidation(t *testing.T) {
	f := newFixture(t)
	ret := f.retriever(config.RetrievalConfig{})
	ctx := context.Background()

	_, err := ret.Retrieve(ctx, retriever.Query{Text: "Acme"})
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = ret.Retrieve(ctx, retriever.Query{DealID: dealID})
	assert.ErrorIs(t, err, types.ErrValidation)
}
