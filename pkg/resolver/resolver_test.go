package resolver_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborstone/dealgraph/pkg/config"
	"github.com/harborstone/dealgraph/pkg/embedder"
	"github.com/harborstone/dealgraph/pkg/factstore"
	"github.com/harborstone/dealgraph/pkg/resolver"
	"github.com/harborstone/dealgraph/pkg/types"
)

const dealID = "deal-1"

func newTestResolver(t *testing.T) (*resolver.Resolver, factstore.Store, *embedder.MockEmbedder) {
	t.Helper()
	store, err := factstore.NewBadgerStore(factstore.Config{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mock := embedder.NewMockEmbedder(8)
	r := resolver.New(store, mock, config.ResolverConfig{}, nil)
	return r, store, mock
}

func seedEntity(t *testing.T, store factstore.Store, name, entityType string, embedding []float32) *types.Entity {
	t.Helper()
	e := &types.Entity{
		DealID:    dealID,
		Name:      name,
		Type:      entityType,
		Aliases:   []string{name},
		Embedding: embedding,
	}
	require.NoError(t, store.CreateEntity(context.Background(), e))
	return e
}

func TestResolveCreatesEntity(t *testing.T) {
	r, store, _ := newTestResolver(t)
	ctx := context.Background()

	res, err := r.Resolve(ctx, dealID, resolver.Mention{
		Text:       "Acme Corporation",
		Type:       "Company",
		Context:    "the target in the proposed acquisition",
		DocumentID: "doc-1",
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, resolver.MethodCreated, res.Method)

	e, err := store.GetEntity(ctx, dealID, res.EntityID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corporation", e.Name)
	assert.Equal(t, "company", e.Type)
	assert.True(t, e.HasAlias("acme corporation"))
	assert.Len(t, e.MentionIDs, 1)
	assert.NotEmpty(t, e.Embedding, "creation should keep the embedding computed for matching")
}

func TestResolveExactAlias(t *testing.T) {
	r, store, _ := newTestResolver(t)
	ctx := context.Background()

	first, err := r.Resolve(ctx, dealID, resolver.Mention{Text: "Acme Corporation", Type: "company"})
	require.NoError(t, err)

	// Case and spacing differences still hit the exact stage.
	res, err := r.Resolve(ctx, dealID, resolver.Mention{Text: "  ACME   corporation ", Type: "company"})
	require.NoError(t, err)
	assert.Equal(t, first.EntityID, res.EntityID)
	assert.Equal(t, resolver.MethodExact, res.Method)
	assert.False(t, res.Created)

	entities, err := store.ListEntities(ctx, dealID)
	require.NoError(t, err)
	assert.Len(t, entities, 1)
}

func TestResolveFuzzy(t *testing.T) {
	r, store, _ := newTestResolver(t)
	ctx := context.Background()

	seeded := seedEntity(t, store, "Acme Corporation", "company", nil)

	t.Run("near miss matches", func(t *testing.T) {
		res, err := r.Resolve(ctx, dealID, resolver.Mention{Text: "Acme Corporatio", Type: "company"})
		require.NoError(t, err)
		assert.Equal(t, seeded.ID, res.EntityID)
		assert.Equal(t, resolver.MethodFuzzy, res.Method)
		assert.GreaterOrEqual(t, res.Score, 0.85)

		// The new surface form becomes an alias for next time.
		e, err := store.GetEntity(ctx, dealID, seeded.ID)
		require.NoError(t, err)
		assert.True(t, e.HasAlias("Acme Corporatio"))
	})

	t.Run("different type never fuzzy-matches", func(t *testing.T) {
		res, err := r.Resolve(ctx, dealID, resolver.Mention{Text: "Acme Corporatios", Type: "person"})
		require.NoError(t, err)
		assert.NotEqual(t, seeded.ID, res.EntityID)
		assert.True(t, res.Created)
	})

	t.Run("distant name creates instead", func(t *testing.T) {
		res, err := r.Resolve(ctx, dealID, resolver.Mention{Text: "Zenith Capital Partners", Type: "company"})
		require.NoError(t, err)
		assert.True(t, res.Created)
	})
}

func TestResolveSemantic(t *testing.T) {
	r, store, mock := newTestResolver(t)
	ctx := context.Background()

	seeded := seedEntity(t, store, "International Business Machines", "company",
		[]float32{1, 0, 0, 0, 0, 0, 0, 0})

	t.Run("abbreviation matches by embedding", func(t *testing.T) {
		// "IBM" is too short for fuzzy matching, only the semantic stage
		// can connect it.
		mock.SetVector("IBM", []float32{1, 0, 0, 0, 0, 0, 0, 0})

		res, err := r.Resolve(ctx, dealID, resolver.Mention{Text: "IBM", Type: "company"})
		require.NoError(t, err)
		assert.Equal(t, seeded.ID, res.EntityID)
		assert.Equal(t, resolver.MethodSemantic, res.Method)
		assert.GreaterOrEqual(t, res.Score, 0.92)
	})

	t.Run("below threshold creates", func(t *testing.T) {
		mock.SetVector("TBM", []float32{0.8, 0.6, 0, 0, 0, 0, 0, 0})

		res, err := r.Resolve(ctx, dealID, resolver.Mention{Text: "TBM", Type: "company"})
		require.NoError(t, err)
		assert.True(t, res.Created)
		assert.NotEqual(t, seeded.ID, res.EntityID)
	})
}

func TestResolveAmbiguity(t *testing.T) {
	r, store, _ := newTestResolver(t)
	ctx := context.Background()

	a := seedEntity(t, store, "Jordan Lee", "person", nil)
	b := &types.Entity{DealID: dealID, Name: "Jordan Lee", Type: "person", Aliases: []string{"Jordan Lee"}}
	require.NoError(t, store.CreateEntity(ctx, b))

	t.Run("unbreakable tie surfaces", func(t *testing.T) {
		_, err := r.Resolve(ctx, dealID, resolver.Mention{Text: "Jordan Lee", Type: "person"})
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrResolutionAmbiguity)
	})

	t.Run("fact count breaks the tie", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			_, err := store.WriteFact(ctx, &types.Fact{
				DealID:     dealID,
				SubjectID:  a.ID,
				Predicate:  fmt.Sprintf("board_seat_%d", i),
				Object:     types.TextObject("director"),
				Claim:      "Jordan Lee holds a board seat",
				DocumentID: "doc-1",
				Locator:    types.Locator{Page: 3, Section: "governance"},
				Confidence: 0.9,
			})
			require.NoError(t, err)
		}

		res, err := r.Resolve(ctx, dealID, resolver.Mention{Text: "Jordan Lee", Type: "person"})
		require.NoError(t, err)
		assert.Equal(t, a.ID, res.EntityID)
		assert.Equal(t, resolver.MethodExact, res.Method)
	})
}

func TestMerge(t *testing.T) {
	r, store, _ := newTestResolver(t)
	ctx := context.Background()

	winner, err := r.Resolve(ctx, dealID, resolver.Mention{Text: "Acme Corporation", Type: "company"})
	require.NoError(t, err)
	loser, err := r.Resolve(ctx, dealID, resolver.Mention{Text: "Acme Industries", Type: "company"})
	require.NoError(t, err)

	require.NoError(t, r.Merge(ctx, dealID, winner.EntityID, loser.EntityID))

	canonical, err := store.ResolveEntityID(ctx, dealID, loser.EntityID)
	require.NoError(t, err)
	assert.Equal(t, winner.EntityID, canonical)

	t.Run("idempotent", func(t *testing.T) {
		assert.NoError(t, r.Merge(ctx, dealID, winner.EntityID, loser.EntityID))
	})

	t.Run("loser name now resolves to winner", func(t *testing.T) {
		res, err := r.Resolve(ctx, dealID, resolver.Mention{Text: "Acme Industries", Type: "company"})
		require.NoError(t, err)
		assert.Equal(t, winner.EntityID, res.EntityID)
		assert.False(t, res.Created)
	})

	t.Run("incompatible types refused", func(t *testing.T) {
		person, err := r.Resolve(ctx, dealID, resolver.Mention{Text: "Jordan Lee", Type: "person"})
		require.NoError(t, err)

		err = r.Merge(ctx, dealID, winner.EntityID, person.EntityID)
		assert.ErrorIs(t, err, types.ErrValidation)
	})
}

func TestResolveConcurrentSameName(t *testing.T) {
	r, store, _ := newTestResolver(t)
	ctx := context.Background()

	const workers = 8
	results := make([]*resolver.Resolution, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Resolve(ctx, dealID, resolver.Mention{
				Text: "Zenith Partners",
				Type: "company",
			})
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].EntityID, results[i].EntityID)
		if results[i].Created {
			created++
		}
	}
	assert.Equal(t, 1, created, "exactly one worker should create the entity")

	entities, err := store.ListEntities(ctx, dealID)
	require.NoError(t, err)
	assert.Len(t, entities, 1)
}

func TestResolveValidation(t *testing.T) {
	r, _, _ := newTestResolver(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		dealID  string
		mention resolver.Mention
	}{
		{"empty text", dealID, resolver.Mention{Text: "   ", Type: "company"}},
		{"empty type", dealID, resolver.Mention{Text: "Acme", Type: ""}},
		{"empty deal", "", resolver.Mention{Text: "Acme", Type: "company"}},
		{"no matchable characters", dealID, resolver.Mention{Text: "???", Type: "company"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Resolve(ctx, tc.dealID, tc.mention)
			assert.ErrorIs(t, err, types.ErrValidation)
		})
	}
}

func TestResolveEmbedderFailure(t *testing.T) {
	r, _, mock := newTestResolver(t)
	ctx := context.Background()

	mock.Err = fmt.Errorf("embedding service down")

	// Nothing to exact- or fuzzy-match, so resolution needs the embedder and
	// must surface its failure as retryable rather than minting a duplicate.
	_, err := r.Resolve(ctx, dealID, resolver.Mention{Text: "Unmatched Company Name", Type: "company"})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTransientStore)
}
