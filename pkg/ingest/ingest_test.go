package ingest_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborstone/dealgraph/pkg/config"
	"github.com/harborstone/dealgraph/pkg/detector"
	"github.com/harborstone/dealgraph/pkg/embedder"
	"github.com/harborstone/dealgraph/pkg/factstore"
	"github.com/harborstone/dealgraph/pkg/index"
	"github.com/harborstone/dealgraph/pkg/ingest"
	"github.com/harborstone/dealgraph/pkg/resolver"
	"github.com/harborstone/dealgraph/pkg/types"
)

const dealID = "deal-1"

type captureAlerter struct {
	mu       sync.Mutex
	subjects []string
}

func (a *captureAlerter) Alert(subject, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subjects = append(a.subjects, subject)
	return nil
}

func (a *captureAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subjects)
}

// flakyStore fails the first n fact commits with a transient error and
// delegates everything else.
type flakyStore struct {
	factstore.Store
	mu       sync.Mutex
	failures int
}

func (s *flakyStore) WriteFacts(ctx context.Context, facts []*types.Fact) ([]string, error) {
	s.mu.Lock()
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return nil, types.Transientf("simulated store outage")
	}
	return s.Store.WriteFacts(ctx, facts)
}

type fixture struct {
	store  factstore.Store
	coord  *ingest.Coordinator
	alerts *captureAlerter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := factstore.NewBadgerStore(factstore.Config{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return newFixtureWithStore(t, store)
}

func newFixtureWithStore(t *testing.T, store factstore.Store) *fixture {
	t.Helper()
	emb := embedder.NewMockEmbedder(4)
	res := resolver.New(store, emb, config.ResolverConfig{}, nil)
	det := detector.New(store, config.DetectorConfig{}, nil)
	ix := index.NewIndexer(store, nil)
	alerts := &captureAlerter{}
	cfg := config.IngestConfig{
		Workers:     2,
		QueueSize:   8,
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}
	return &fixture{
		store:  store,
		coord:  ingest.New(store, res, det, ix, emb, alerts, cfg, nil),
		alerts: alerts,
	}
}

func document(id, hash string) *types.Document {
	return &types.Document{ID: id, DealID: dealID, ContentHash: hash}
}

func scalarUnit(subject, predicate string, value interface{}, uom string) types.ExtractionUnit {
	return types.ExtractionUnit{
		SubjectMention: subject,
		SubjectType:    types.EntityTypeCompany,
		Predicate:      predicate,
		Object:         types.RawObject{Value: value, Unit: uom},
		Locator:        types.Locator{Page: 4, Section: "financials"},
		RawConfidence:  0.9,
	}
}

func relationUnit(subject, predicate, mention, mentionType string) types.ExtractionUnit {
	return types.ExtractionUnit{
		SubjectMention: subject,
		SubjectType:    types.EntityTypeCompany,
		Predicate:      predicate,
		Object:         types.RawObject{EntityMention: mention, EntityType: mentionType},
		Locator:        types.Locator{Page: 7, Section: "advisors"},
		RawConfidence:  0.8,
	}
}

func entityIDByAlias(t *testing.T, store factstore.Store, alias string) string {
	t.Helper()
	hits, err := store.FindEntitiesByAlias(context.Background(), dealID, alias)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	return hits[0].ID
}

func factsByPredicate(t *testing.T, store factstore.Store, documentID string) map[string]*types.Fact {
	t.Helper()
	facts, err := store.FactsByDocument(context.Background(), dealID, documentID)
	require.NoError(t, err)
	out := make(map[string]*types.Fact, len(facts))
	for _, f := range facts {
		out[f.Predicate] = f
	}
	return out
}

func TestIngestCommitsUnits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	units := []types.ExtractionUnit{
		scalarUnit("Acme Corp", "q3_revenue", 5.2e6, "USD"),
		relationUnit("Acme Corp", "advised_by", "Meridian Partners", types.EntityTypeCompany),
		scalarUnit("Acme Corp", "headquarters", "Austin, Texas", ""),
	}
	res, err := f.coord.Ingest(ctx, document("doc-1", "hash-1"), units)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Written)
	assert.Zero(t, res.Skipped)
	assert.False(t, res.Unchanged)

	d, err := f.store.GetDocument(ctx, dealID, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, types.DocumentIngested, d.Status)
	assert.Equal(t, 1, d.Attempts)
	assert.NotNil(t, d.IngestedAt)
	assert.Empty(t, d.LastError)

	acmeID := entityIDByAlias(t, f.store, "Acme Corp")
	meridianID := entityIDByAlias(t, f.store, "Meridian Partners")

	byPred := factsByPredicate(t, f.store, "doc-1")
	require.Len(t, byPred, 3)

	revenue := byPred["q3_revenue"]
	assert.Equal(t, acmeID, revenue.SubjectID)
	assert.Equal(t, types.ObjectNumber, revenue.Object.Kind)
	assert.Equal(t, 5.2e6, revenue.Object.Number)
	assert.Equal(t, "USD", revenue.Object.Unit)
	assert.Equal(t, "Acme Corp q3_revenue 5.2e+06 USD", revenue.Claim)
	assert.Len(t, revenue.Embedding, 4)
	assert.Equal(t, 0.9, revenue.Confidence)

	advised := byPred["advised_by"]
	assert.Equal(t, acmeID, advised.SubjectID)
	assert.Equal(t, types.ObjectEntity, advised.Object.Kind)
	assert.Equal(t, meridianID, advised.Object.EntityID)
	assert.Equal(t, "Acme Corp advised_by Meridian Partners", advised.Claim)

	hq := byPred["headquarters"]
	assert.Equal(t, types.ObjectText, hq.Object.Kind)
	assert.Equal(t, "Austin, Texas", hq.Object.Text)
}

func TestIngestContentHashIdempotence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	units := []types.ExtractionUnit{scalarUnit("Acme Corp", "q3_revenue", 5.2e6, "USD")}

	first, err := f.coord.Ingest(ctx, document("doc-1", "hash-1"), units)
	require.NoError(t, err)
	require.Equal(t, 1, first.Written)

	again, err := f.coord.Ingest(ctx, document("doc-1", "hash-1"), units)
	require.NoError(t, err)
	assert.True(t, again.Unchanged)
	assert.Zero(t, again.Written)

	facts, err := f.store.FactsByDocument(ctx, dealID, "doc-1")
	require.NoError(t, err)
	assert.Len(t, facts, 1, "an unchanged hash writes nothing")

	d, err := f.store.GetDocument(ctx, dealID, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, d.Attempts)
}

func TestIngestNewHashSupersedes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.Ingest(ctx, document("doc-1", "hash-1"),
		[]types.ExtractionUnit{scalarUnit("Acme Corp", "q3_revenue", 5.0e6, "USD")})
	require.NoError(t, err)

	res, err := f.coord.Ingest(ctx, document("doc-1", "hash-2"),
		[]types.ExtractionUnit{scalarUnit("Acme Corp", "q3_revenue", 5.2e6, "USD")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, 1, res.Superseded)

	facts, err := f.store.FactsByDocument(ctx, dealID, "doc-1")
	require.NoError(t, err)
	require.Len(t, facts, 2, "supersession invalidates, it never deletes")

	var valid []*types.Fact
	for _, fa := range facts {
		if fa.Valid() {
			valid = append(valid, fa)
		}
	}
	require.Len(t, valid, 1)
	assert.Equal(t, 5.2e6, valid[0].Object.Number)

	acmeID := entityIDByAlias(t, f.store, "Acme Corp")
	current, err := f.store.ReadAsOf(ctx, dealID, acmeID, "q3_revenue", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 5.2e6, current.Object.Number)

	history, err := f.store.History(ctx, dealID, acmeID, "q3_revenue")
	require.NoError(t, err)
	assert.Len(t, history, 2)

	conflicts, err := f.store.ListContradictions(ctx, dealID, "")
	require.NoError(t, err)
	assert.Empty(t, conflicts, "a document correcting itself is supersession, not contradiction")
}

func TestIngestContradictionBetweenDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.Ingest(ctx, document("doc-1", "hash-1"),
		[]types.ExtractionUnit{scalarUnit("Acme Corp", "q3_revenue", 5.2e6, "USD")})
	require.NoError(t, err)

	res, err := f.coord.Ingest(ctx, document("doc-2", "hash-2"),
		[]types.ExtractionUnit{scalarUnit("Acme Corp", "q3_revenue", 5.8e6, "USD")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Contradictions)

	conflicts, err := f.store.ListContradictions(ctx, dealID, "")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, types.ContradictionUnresolved, conflicts[0].State)

	acmeID := entityIDByAlias(t, f.store, "Acme Corp")
	valid, err := f.store.ValidFacts(ctx, dealID, acmeID, "q3_revenue")
	require.NoError(t, err)
	assert.Len(t, valid, 2, "conflicting facts both stay valid until a review resolves them")

	// Re-running the unchanged second document must not duplicate the pair.
	again, err := f.coord.Ingest(ctx, document("doc-2", "hash-2"),
		[]types.ExtractionUnit{scalarUnit("Acme Corp", "q3_revenue", 5.8e6, "USD")})
	require.NoError(t, err)
	assert.True(t, again.Unchanged)

	conflicts, err = f.store.ListContradictions(ctx, dealID, "")
	require.NoError(t, err)
	assert.Len(t, conflicts, 1)
}

func TestIngestSkipsMalformedUnits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	noLocator := scalarUnit("Acme Corp", "q4_guidance", 6.1e6, "USD")
	noLocator.Locator = types.Locator{}
	badConfidence := scalarUnit("Acme Corp", "employee_count", 1200.0, "")
	badConfidence.RawConfidence = 1.5
	noSubject := scalarUnit("", "founded_year", 1998.0, "")

	res, err := f.coord.Ingest(ctx, document("doc-1", "hash-1"), []types.ExtractionUnit{
		scalarUnit("Acme Corp", "q3_revenue", 5.2e6, "USD"),
		noLocator,
		badConfidence,
		noSubject,
	})
	require.NoError(t, err, "malformed units are skipped, the document still ingests")
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, 3, res.Skipped)

	d, err := f.store.GetDocument(ctx, dealID, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, types.DocumentIngested, d.Status)
}

func TestIngestObjectNormalization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.coord.Ingest(ctx, document("doc-1", "hash-1"), []types.ExtractionUnit{
		scalarUnit("Acme Corp", "q3_revenue", "5200000", "USD"),
		scalarUnit("Acme Corp", "q4_guidance", `{"value": 6100000, "unit": "USD",}`, ""),
		scalarUnit("Acme Corp", "audited", "true", ""),
		scalarUnit("Acme Corp", "closing_date", "2026-03-14", ""),
		scalarUnit("Acme Corp", "codename", "Project Harbor", ""),
	})
	require.NoError(t, err)
	require.Equal(t, 5, res.Written)

	byPred := factsByPredicate(t, f.store, "doc-1")

	revenue := byPred["q3_revenue"]
	assert.Equal(t, types.ObjectNumber, revenue.Object.Kind)
	assert.Equal(t, 5.2e6, revenue.Object.Number)
	assert.Equal(t, "USD", revenue.Object.Unit)

	guidance := byPred["q4_guidance"]
	assert.Equal(t, types.ObjectNumber, guidance.Object.Kind, "broken JSON payloads are repaired, not rejected")
	assert.Equal(t, 6.1e6, guidance.Object.Number)
	assert.Equal(t, "USD", guidance.Object.Unit)

	audited := byPred["audited"]
	assert.Equal(t, types.ObjectBool, audited.Object.Kind)
	assert.True(t, audited.Object.Bool)

	closing := byPred["closing_date"]
	require.Equal(t, types.ObjectDate, closing.Object.Kind)
	assert.Equal(t, "2026-03-14", closing.Object.Date.Format("2006-01-02"))

	codename := byPred["codename"]
	assert.Equal(t, types.ObjectText, codename.Object.Kind)
	assert.Equal(t, "Project Harbor", codename.Object.Text)
}

func TestIngestAmbiguousMentionHeldForReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.CreateEntity(ctx, &types.Entity{
		ID: "ent-a", DealID: dealID, Name: "Meridian Capital",
		Type: types.EntityTypeCompany, Aliases: []string{"Meridian Capital", "Meridian"},
	}))
	require.NoError(t, f.store.CreateEntity(ctx, &types.Entity{
		ID: "ent-b", DealID: dealID, Name: "Meridian Group",
		Type: types.EntityTypeCompany, Aliases: []string{"Meridian Group", "Meridian"},
	}))

	res, err := f.coord.Ingest(ctx, document("doc-1", "hash-1"), []types.ExtractionUnit{
		scalarUnit("Meridian", "founded_year", 1998.0, ""),
		scalarUnit("Acme Corp", "q3_revenue", 5.2e6, "USD"),
	})
	require.NoError(t, err, "an ambiguous mention holds its unit back, the document still ingests")
	assert.Equal(t, 1, res.Ambiguous)
	assert.Equal(t, 1, res.Written)

	byPred := factsByPredicate(t, f.store, "doc-1")
	assert.Nil(t, byPred["founded_year"])
	assert.NotNil(t, byPred["q3_revenue"])
}

func TestIngestRetriesTransientFailures(t *testing.T) {
	base, err := factstore.NewBadgerStore(factstore.Config{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { base.Close() })
	flaky := &flakyStore{Store: base, failures: 2}
	f := newFixtureWithStore(t, flaky)
	ctx := context.Background()

	res, err := f.coord.Ingest(ctx, document("doc-1", "hash-1"),
		[]types.ExtractionUnit{scalarUnit("Acme Corp", "q3_revenue", 5.2e6, "USD")})
	require.NoError(t, err, "transient store failures are retried with backoff")
	assert.Equal(t, 1, res.Written)

	d, err := f.store.GetDocument(ctx, dealID, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, types.DocumentIngested, d.Status)
	assert.Zero(t, f.alerts.count())
}

func TestIngestFailsAfterMaxAttempts(t *testing.T) {
	base, err := factstore.NewBadgerStore(factstore.Config{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { base.Close() })
	flaky := &flakyStore{Store: base, failures: 100}
	f := newFixtureWithStore(t, flaky)
	ctx := context.Background()

	_, err = f.coord.Ingest(ctx, document("doc-1", "hash-1"),
		[]types.ExtractionUnit{scalarUnit("Acme Corp", "q3_revenue", 5.2e6, "USD")})
	require.ErrorIs(t, err, types.ErrTransientStore)

	d, err := f.store.GetDocument(ctx, dealID, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, types.DocumentFailed, d.Status)
	assert.Contains(t, d.LastError, "simulated store outage")
	assert.Equal(t, 1, f.alerts.count())

	facts, err := f.store.FactsByDocument(ctx, dealID, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, facts, "a failed document leaves no partial facts behind")
}

func TestIngestRetryDoesNotDuplicateFacts(t *testing.T) {
	base, err := factstore.NewBadgerStore(factstore.Config{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { base.Close() })
	// The commit lands, then the contradiction pass dies; the retry must
	// overwrite the first attempt's facts instead of appending seconds.
	flaky := &flakyContradictionStore{Store: base, failures: 1}
	f := newFixtureWithStore(t, flaky)
	ctx := context.Background()

	res, err := f.coord.Ingest(ctx, document("doc-1", "hash-1"),
		[]types.ExtractionUnit{scalarUnit("Acme Corp", "q3_revenue", 5.2e6, "USD")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Written)

	facts, err := f.store.FactsByDocument(ctx, dealID, "doc-1")
	require.NoError(t, err)
	assert.Len(t, facts, 1, "deterministic fact ids make the retried commit overwrite itself")
}

// flakyContradictionStore fails after the commit, during the detector's
// peer scan.
type flakyContradictionStore struct {
	factstore.Store
	mu       sync.Mutex
	failures int
}

func (s *flakyContradictionStore) ValidFacts(ctx context.Context, dealID, entityID, predicate string) ([]*types.Fact, error) {
	s.mu.Lock()
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return nil, types.Transientf("simulated store outage")
	}
	return s.Store.ValidFacts(ctx, dealID, entityID, predicate)
}

func TestRecoverOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := document("doc-1", "hash-1")
	require.NoError(t, f.store.PutDocument(ctx, doc))
	_, err := f.store.TransitionDocument(ctx, dealID, "doc-1", types.DocumentProcessing, "")
	require.NoError(t, err)

	recovered, err := f.coord.RecoverOrphans(ctx, dealID)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	d, err := f.store.GetDocument(ctx, dealID, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, types.DocumentPending, d.Status)

	recovered, err = f.coord.RecoverOrphans(ctx, dealID)
	require.NoError(t, err)
	assert.Zero(t, recovered)
}

func TestEnqueueProcessesInBackground(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.coord.Start()
	t.Cleanup(func() { f.coord.Close() })

	queued, err := f.coord.Enqueue(ctx, document("doc-1", "hash-1"),
		[]types.ExtractionUnit{scalarUnit("Acme Corp", "q3_revenue", 5.2e6, "USD")})
	require.NoError(t, err)
	assert.True(t, queued)

	require.Eventually(t, func() bool {
		d, err := f.store.GetDocument(context.Background(), dealID, "doc-1")
		return err == nil && d.Status == types.DocumentIngested
	}, 5*time.Second, 10*time.Millisecond)

	queued, err = f.coord.Enqueue(ctx, document("doc-1", "hash-1"), nil)
	require.NoError(t, err)
	assert.False(t, queued, "an already-ingested hash is not re-queued")
}
