package detector_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborstone/dealgraph/pkg/config"
	"github.com/harborstone/dealgraph/pkg/detector"
	"github.com/harborstone/dealgraph/pkg/factstore"
	"github.com/harborstone/dealgraph/pkg/types"
)

const dealID = "deal-1"

func newTestDetector(t *testing.T, cfg config.DetectorConfig) (*detector.Detector, factstore.Store) {
	t.Helper()
	store, err := factstore.NewBadgerStore(factstore.Config{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return detector.New(store, cfg, nil), store
}

func writeFact(t *testing.T, store factstore.Store, doc, predicate string, obj types.ObjectValue, recordedDay int) *types.Fact {
	t.Helper()
	f := &types.Fact{
		DealID:     dealID,
		SubjectID:  "acme",
		Predicate:  predicate,
		Object:     obj,
		Claim:      predicate + " is " + obj.String(),
		DocumentID: doc,
		Locator:    types.Locator{Page: 12, Section: "financials"},
		Confidence: 0.9,
		RecordedAt: time.Date(2024, time.January, recordedDay, 0, 0, 0, 0, time.UTC),
	}
	_, err := store.WriteFact(context.Background(), f)
	require.NoError(t, err)
	return f
}

func TestNumericConflict(t *testing.T) {
	d, store := newTestDetector(t, config.DetectorConfig{})
	ctx := context.Background()

	f1 := writeFact(t, store, "doc-1", "q3_revenue", types.NumberObject(5.0e6, "USD"), 1)
	f2 := writeFact(t, store, "doc-2", "q3_revenue", types.NumberObject(5.4e6, "USD"), 2)

	created, err := d.Check(ctx, f2)
	require.NoError(t, err)
	require.Len(t, created, 1)

	c := created[0]
	a, b := types.ContradictionPair(f1.ID, f2.ID)
	assert.Equal(t, a, c.FactA)
	assert.Equal(t, b, c.FactB)
	assert.Equal(t, types.ContradictionUnresolved, c.State)
	assert.Contains(t, c.Rationale, "numeric values differ")

	t.Run("re-detection creates nothing", func(t *testing.T) {
		again, err := d.Check(ctx, f2)
		require.NoError(t, err)
		assert.Empty(t, again)

		// Checking from the other side hits the same canonical pair.
		reversed, err := d.Check(ctx, f1)
		require.NoError(t, err)
		assert.Empty(t, reversed)

		all, err := store.ListContradictions(ctx, dealID, "")
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("neither fact invalidated", func(t *testing.T) {
		for _, id := range []string{f1.ID, f2.ID} {
			f, err := store.GetFact(ctx, dealID, id)
			require.NoError(t, err)
			assert.True(t, f.Valid(), "detection must never invalidate a fact")
		}
	})
}

func TestNumericWithinTolerance(t *testing.T) {
	d, store := newTestDetector(t, config.DetectorConfig{})
	ctx := context.Background()

	writeFact(t, store, "doc-1", "q3_revenue", types.NumberObject(5.000e6, "USD"), 1)
	f2 := writeFact(t, store, "doc-2", "q3_revenue", types.NumberObject(5.004e6, "USD"), 2)

	created, err := d.Check(ctx, f2)
	require.NoError(t, err)
	assert.Empty(t, created, "a 0.08 percent difference sits inside the default tolerance")
}

func TestPredicateToleranceOverride(t *testing.T) {
	d, store := newTestDetector(t, config.DetectorConfig{
		PredicateTolerances: map[string]float64{"headcount": 0.10},
	})
	ctx := context.Background()

	writeFact(t, store, "doc-1", "headcount", types.NumberObject(100, "FTE"), 1)

	t.Run("within widened tolerance", func(t *testing.T) {
		f := writeFact(t, store, "doc-2", "headcount", types.NumberObject(105, "FTE"), 2)
		created, err := d.Check(ctx, f)
		require.NoError(t, err)
		assert.Empty(t, created)
	})

	t.Run("beyond widened tolerance", func(t *testing.T) {
		f := writeFact(t, store, "doc-3", "headcount", types.NumberObject(130, "FTE"), 3)
		created, err := d.Check(ctx, f)
		require.NoError(t, err)
		assert.Len(t, created, 2, "conflicts with both standing headcount claims")
	})
}

func TestUnitMismatch(t *testing.T) {
	d, store := newTestDetector(t, config.DetectorConfig{})
	ctx := context.Background()

	writeFact(t, store, "doc-1", "purchase_price", types.NumberObject(50e6, "USD"), 1)
	f2 := writeFact(t, store, "doc-2", "purchase_price", types.NumberObject(50e6, "EUR"), 2)

	created, err := d.Check(ctx, f2)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Contains(t, created[0].Rationale, "units differ")
}

func TestCategoricalMismatch(t *testing.T) {
	d, store := newTestDetector(t, config.DetectorConfig{})
	ctx := context.Background()

	writeFact(t, store, "doc-1", "incorporation_state", types.TextObject("Delaware"), 1)

	t.Run("different value conflicts", func(t *testing.T) {
		f := writeFact(t, store, "doc-2", "incorporation_state", types.TextObject("Nevada"), 2)
		created, err := d.Check(ctx, f)
		require.NoError(t, err)
		require.Len(t, created, 1)
		assert.Contains(t, created[0].Rationale, "values differ")
	})

	t.Run("restated value is a refinement", func(t *testing.T) {
		f := writeFact(t, store, "doc-3", "incorporation_state", types.TextObject("  delaware "), 3)
		created, err := d.Check(ctx, f)
		require.NoError(t, err)
		assert.Empty(t, created, "case and spacing do not make a new claim")
	})
}

func TestObjectKindMismatch(t *testing.T) {
	d, store := newTestDetector(t, config.DetectorConfig{})
	ctx := context.Background()

	writeFact(t, store, "doc-1", "closing_date", types.TextObject("late Q4"), 1)
	f2 := writeFact(t, store, "doc-2", "closing_date",
		types.DateObject(time.Date(2024, time.December, 15, 0, 0, 0, 0, time.UTC)), 2)

	created, err := d.Check(ctx, f2)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Contains(t, created[0].Rationale, "object kinds differ")
}

func TestSupersededPeerIgnored(t *testing.T) {
	d, store := newTestDetector(t, config.DetectorConfig{})
	ctx := context.Background()

	f1 := writeFact(t, store, "doc-1", "q3_revenue", types.NumberObject(5.0e6, "USD"), 1)
	require.NoError(t, store.InvalidateFact(ctx, dealID, f1.ID, time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC)))

	f2 := writeFact(t, store, "doc-2", "q3_revenue", types.NumberObject(5.4e6, "USD"), 6)
	created, err := d.Check(ctx, f2)
	require.NoError(t, err)
	assert.Empty(t, created, "invalidated claims are out of the comparison set")
}

func TestEntityObjectRedirect(t *testing.T) {
	d, store := newTestDetector(t, config.DetectorConfig{})
	ctx := context.Background()

	for _, e := range []*types.Entity{
		{ID: "bank-a", DealID: dealID, Name: "First Bank", Type: "company"},
		{ID: "bank-b", DealID: dealID, Name: "First Bank N.A.", Type: "company"},
	} {
		require.NoError(t, store.CreateEntity(ctx, e))
	}

	writeFact(t, store, "doc-1", "lead_advisor", types.EntityObject("bank-a"), 1)
	f2 := writeFact(t, store, "doc-2", "lead_advisor", types.EntityObject("bank-b"), 2)

	t.Run("distinct entities conflict", func(t *testing.T) {
		created, err := d.Check(ctx, f2)
		require.NoError(t, err)
		assert.Len(t, created, 1)
	})

	t.Run("merged entities agree", func(t *testing.T) {
		require.NoError(t, store.RedirectEntity(ctx, dealID, "bank-b", "bank-a"))

		f3 := writeFact(t, store, "doc-3", "lead_advisor", types.EntityObject("bank-b"), 3)
		created, err := d.Check(ctx, f3)
		require.NoError(t, err)
		assert.Empty(t, created, "both references now resolve to the same canonical entity")
	})
}
