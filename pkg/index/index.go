// Package index maintains the in-memory retrieval indexes: an exact
// cosine-similarity vector index over fact embeddings and a BM25 inverted
// index over fact claim text, both scoped per deal.
//
// The Indexer applies updates off a queue fed after store commits, so the
// indexes trail the fact store slightly and converge; callers needing
// immediate consistency read the store directly. Invalidated facts are
// removed so retrieval only surfaces standing claims; history stays
// available through the store.
package index

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/harborstone/dealgraph/pkg/factstore"
	"github.com/harborstone/dealgraph/pkg/types"
	"github.com/harborstone/dealgraph/pkg/utils"
)

const defaultQueueSize = 1024

// Op is the kind of index update.
type Op int

const (
	// OpUpsert indexes or re-indexes one fact.
	OpUpsert Op = iota
	// OpRemove drops one fact from the indexes.
	OpRemove
)

// Update is one unit of index maintenance work.
type Update struct {
	Op     Op
	DealID string
	FactID string
	Fact   *types.Fact
}

// Upsert builds an update that indexes fact.
func Upsert(fact *types.Fact) Update {
	return Update{Op: OpUpsert, DealID: fact.DealID, FactID: fact.ID, Fact: fact}
}

// Remove builds an update that drops factID from dealID's indexes.
func Remove(dealID, factID string) Update {
	return Update{Op: OpRemove, DealID: dealID, FactID: factID}
}

type dealIndex struct {
	vector  *VectorIndex
	lexical *LexicalIndex
}

func newDealIndex() *dealIndex {
	return &dealIndex{
		vector:  NewVectorIndex(0),
		lexical: NewLexicalIndex(),
	}
}

// Indexer owns the per-deal indexes and the background goroutine that
// applies queued updates. Safe for concurrent use.
type Indexer struct {
	store  factstore.Store
	logger *slog.Logger

	updates chan Update
	quit    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once

	mu    sync.RWMutex
	deals map[string]*dealIndex
}

// NewIndexer creates an Indexer over store. Call Start to begin draining
// queued updates; Apply works without Start for synchronous use.
func NewIndexer(store factstore.Store, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		store:   store,
		logger:  logger,
		updates: make(chan Update, defaultQueueSize),
		quit:    make(chan struct{}),
		deals:   make(map[string]*dealIndex),
	}
}

// Start launches the background pump. Starting twice is a no-op.
func (ix *Indexer) Start() {
	ix.once.Do(func() {
		ix.wg.Add(1)
		go ix.pump()
	})
}

// Close stops the pump after draining already-queued updates.
func (ix *Indexer) Close() error {
	select {
	case <-ix.quit:
		return nil
	default:
	}
	close(ix.quit)
	ix.wg.Wait()
	return nil
}

// Enqueue hands an update to the background pump. Blocks when the queue is
// full, which backpressures ingestion rather than dropping index work.
// Updates enqueued after Close are discarded.
func (ix *Indexer) Enqueue(u Update) {
	select {
	case ix.updates <- u:
	case <-ix.quit:
	}
}

func (ix *Indexer) pump() {
	defer ix.wg.Done()
	for {
		select {
		case u := <-ix.updates:
			ix.Apply(u)
		case <-ix.quit:
			// Drain what was queued before shutdown so a clean Close
			// leaves the indexes matching the store.
			for {
				select {
				case u := <-ix.updates:
					ix.Apply(u)
				default:
					return
				}
			}
		}
	}
}

// Apply performs one update immediately on the calling goroutine.
func (ix *Indexer) Apply(u Update) {
	switch u.Op {
	case OpUpsert:
		if u.Fact == nil {
			return
		}
		ix.indexFact(ix.deal(u.DealID, true), u.Fact)
	case OpRemove:
		d := ix.deal(u.DealID, false)
		if d == nil {
			return
		}
		d.vector.Remove(u.FactID)
		d.lexical.Remove(u.FactID)
	}
}

func (ix *Indexer) indexFact(d *dealIndex, fact *types.Fact) {
	d.lexical.Index(fact.ID, searchText(fact))
	if len(fact.Embedding) == 0 {
		return
	}
	if err := d.vector.Add(fact.ID, fact.Embedding); err != nil {
		ix.logger.Warn("skipping fact embedding", "fact_id", fact.ID, "error", err)
	}
}

// Bootstrap rebuilds dealID's indexes from the store, keeping only facts
// that have not been invalidated. The fresh indexes replace the old ones in
// one swap so concurrent searches never see a half-built state.
func (ix *Indexer) Bootstrap(ctx context.Context, dealID string) error {
	fresh := newDealIndex()
	err := ix.store.ListFacts(ctx, dealID, func(fact *types.Fact) error {
		if !fact.Valid() {
			return nil
		}
		ix.indexFact(fresh, fact)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "bootstrapping indexes for deal %s", dealID)
	}

	ix.mu.Lock()
	ix.deals[dealID] = fresh
	ix.mu.Unlock()

	ix.logger.Info("indexes bootstrapped",
		"deal_id", dealID,
		"facts", fresh.lexical.Count(),
		"embeddings", fresh.vector.Count())
	return nil
}

// HasDeal reports whether dealID has been bootstrapped or received updates.
func (ix *Indexer) HasDeal(dealID string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.deals[dealID] != nil
}

// SearchVector ranks dealID's facts by cosine similarity to query.
func (ix *Indexer) SearchVector(dealID string, query []float32, limit int) []utils.Scored {
	d := ix.deal(dealID, false)
	if d == nil {
		return nil
	}
	return d.vector.Search(query, limit)
}

// SearchLexical ranks dealID's facts by BM25 score against query.
func (ix *Indexer) SearchLexical(dealID, query string, limit int) []utils.Scored {
	d := ix.deal(dealID, false)
	if d == nil {
		return nil
	}
	return d.lexical.Search(query, limit)
}

// Counts returns how many facts dealID has in the lexical index and how
// many of those carry embeddings.
func (ix *Indexer) Counts(dealID string) (facts, embeddings int) {
	d := ix.deal(dealID, false)
	if d == nil {
		return 0, 0
	}
	return d.lexical.Count(), d.vector.Count()
}

func (ix *Indexer) deal(dealID string, create bool) *dealIndex {
	ix.mu.RLock()
	d := ix.deals[dealID]
	ix.mu.RUnlock()
	if d != nil || !create {
		return d
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if d = ix.deals[dealID]; d == nil {
		d = newDealIndex()
		ix.deals[dealID] = d
	}
	return d
}

// searchText is what the lexical index sees for a fact: the claim sentence
// plus the predicate and rendered object, so "q3_revenue" facts match a
// "Q3 revenue" query even when the claim phrases it differently.
func searchText(fact *types.Fact) string {
	parts := make([]string, 0, 3)
	if fact.Claim != "" {
		parts = append(parts, fact.Claim)
	}
	parts = append(parts, fact.Predicate)
	if s := fact.Object.String(); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}
