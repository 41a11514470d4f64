package factstore

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/harborstone/dealgraph/pkg/types"
	"github.com/harborstone/dealgraph/pkg/utils"
)

// Key namespaces. Every key is namespace + deal id + id segments joined with
// a zero byte, so user-provided strings can never collide with the layout.
const (
	nsFact        = "f"  // fact json by id
	nsEntity      = "e"  // entity json by id
	nsMention     = "m"  // mention json by id
	nsDocument    = "d"  // document json by id
	nsContra      = "c"  // contradiction json by id
	nsRedirect    = "r"  // loser id -> winner id
	idxSubjPred   = "xsp" // subject+predicate -> fact id
	idxSubject    = "xs"  // subject -> fact id
	idxObject     = "xo"  // object entity -> fact id
	idxDocFacts   = "xd"  // document -> fact id
	idxAlias      = "xa"  // normalized alias -> entity id
	idxMembers    = "xm"  // winner id -> loser ids
	idxContraPair = "xp"  // canonical fact pair -> contradiction id
)

var keySep = []byte{0}

func bkey(parts ...string) []byte {
	var buf bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			buf.Write(keySep)
		}
		buf.WriteString(p)
	}
	return buf.Bytes()
}

func bprefix(parts ...string) []byte {
	return append(bkey(parts...), keySep...)
}

func lastSegment(key []byte) string {
	i := bytes.LastIndex(key, keySep)
	if i < 0 {
		return string(key)
	}
	return string(key[i+1:])
}

// BadgerStore is the embedded Store backend. All multi-key operations run in
// a single badger transaction, which is what makes per-document fact batches
// atomic without any external coordinator.
type BadgerStore struct {
	db       *badger.DB
	tieBreak TieBreak
	logger   *slog.Logger
	gcStop   chan struct{}
}

// NewBadgerStore opens (or creates) the store at cfg.Path. With cfg.InMemory
// the store lives entirely in RAM, which the tests rely on.
func NewBadgerStore(cfg Config, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, types.Validationf("badger backend needs a data path")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger store")
	}

	s := &BadgerStore{
		db:       db,
		tieBreak: cfg.tieBreak(),
		logger:   logger.With("component", "factstore", "backend", "badger"),
		gcStop:   make(chan struct{}),
	}
	if !cfg.InMemory {
		go s.runValueLogGC()
	}
	return s, nil
}

// runValueLogGC reclaims value-log space in the background until Close.
func (s *BadgerStore) runValueLogGC() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("value log gc failed", "error", err)
			}
		}
	}
}

// Initialize is a no-op for badger; the key layout needs no schema.
func (s *BadgerStore) Initialize(ctx context.Context) error {
	return nil
}

// Close stops background GC and releases the database.
func (s *BadgerStore) Close() error {
	close(s.gcStop)
	return s.db.Close()
}

// mapBadgerErr translates badger failures into the shared taxonomy:
// transaction conflicts are retryable, missing keys are ErrNotFound.
func mapBadgerErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return types.ErrNotFound
	case errors.Is(err, badger.ErrConflict):
		return types.MarkTransient(err)
	default:
		return err
	}
}

func getJSON(txn *badger.Txn, key []byte, out interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// --- Facts ---

func (s *BadgerStore) WriteFact(ctx context.Context, fact *types.Fact) (string, error) {
	ids, err := s.WriteFacts(ctx, []*types.Fact{fact})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (s *BadgerStore) WriteFacts(ctx context.Context, facts []*types.Fact) ([]string, error) {
	if len(facts) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	for _, f := range facts {
		if f.ID == "" {
			f.ID = uuid.New().String()
		}
		if f.RecordedAt.IsZero() {
			f.RecordedAt = now
		}
		if err := f.Validate(); err != nil {
			return nil, err
		}
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, f := range facts {
			// Facts written after a merge land under the canonical subject.
			canonical, err := resolveRedirect(txn, f.DealID, f.SubjectID)
			if err != nil {
				return err
			}
			f.SubjectID = canonical

			if err := setJSON(txn, bkey(nsFact, f.DealID, f.ID), f); err != nil {
				return err
			}
			if err := txn.Set(bkey(idxSubjPred, f.DealID, f.SubjectID, f.Predicate, f.ID), nil); err != nil {
				return err
			}
			if err := txn.Set(bkey(idxSubject, f.DealID, f.SubjectID, f.ID), nil); err != nil {
				return err
			}
			if err := txn.Set(bkey(idxDocFacts, f.DealID, f.DocumentID, f.ID), nil); err != nil {
				return err
			}
			if f.IsRelationship() {
				if err := txn.Set(bkey(idxObject, f.DealID, f.Object.EntityID, f.ID), nil); err != nil {
					return err
				}
			}
			if err := bumpFactCount(txn, f.DealID, f.SubjectID, 1); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}

	ids := make([]string, len(facts))
	for i, f := range facts {
		ids[i] = f.ID
	}
	return ids, nil
}

func bumpFactCount(txn *badger.Txn, dealID, entityID string, delta int) error {
	var e types.Entity
	err := getJSON(txn, bkey(nsEntity, dealID, entityID), &e)
	if errors.Is(err, badger.ErrKeyNotFound) {
		// Subjects created outside the resolver (tests, imports) are legal.
		return nil
	}
	if err != nil {
		return err
	}
	e.FactCount += delta
	e.UpdatedAt = time.Now().UTC()
	return setJSON(txn, bkey(nsEntity, dealID, entityID), &e)
}

func (s *BadgerStore) GetFact(ctx context.Context, dealID, factID string) (*types.Fact, error) {
	var f types.Fact
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, bkey(nsFact, dealID, factID), &f)
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	return &f, nil
}

func (s *BadgerStore) InvalidateFact(ctx context.Context, dealID, factID string, at time.Time) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key := bkey(nsFact, dealID, factID)
		var f types.Fact
		if err := getJSON(txn, key, &f); err != nil {
			return err
		}
		if f.InvalidAt != nil {
			return types.ErrAlreadyInvalidated
		}
		if f.ValidAt != nil && at.Before(*f.ValidAt) {
			return types.Validationf("invalidation at %s precedes valid_at %s",
				at.Format(time.RFC3339), f.ValidAt.Format(time.RFC3339))
		}
		at := at.UTC()
		f.InvalidAt = &at
		return setJSON(txn, key, &f)
	})
	return mapBadgerErr(err)
}

// factsForSubject gathers facts under the canonical id and every merged-away
// id redirecting to it, so merge history never hides facts.
func (s *BadgerStore) factsForSubject(txn *badger.Txn, dealID, entityID, predicate string) ([]*types.Fact, error) {
	canonical, err := resolveRedirect(txn, dealID, entityID)
	if err != nil {
		return nil, err
	}
	subjects := []string{canonical}
	members, err := redirectMembers(txn, dealID, canonical)
	if err != nil {
		return nil, err
	}
	subjects = append(subjects, members...)

	var out []*types.Fact
	for _, subj := range subjects {
		var prefix []byte
		if predicate == "" {
			prefix = bprefix(idxSubject, dealID, subj)
		} else {
			prefix = bprefix(idxSubjPred, dealID, subj, predicate)
		}
		ids, err := scanIndex(txn, prefix)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			var f types.Fact
			if err := getJSON(txn, bkey(nsFact, dealID, id), &f); err != nil {
				return nil, err
			}
			out = append(out, &f)
		}
	}
	return out, nil
}

func scanIndex(txn *badger.Txn, prefix []byte) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		ids = append(ids, lastSegment(it.Item().Key()))
	}
	return ids, nil
}

func (s *BadgerStore) ReadAsOf(ctx context.Context, dealID, entityID, predicate string, t time.Time) (*types.Fact, error) {
	var best *types.Fact
	err := s.db.View(func(txn *badger.Txn) error {
		facts, err := s.factsForSubject(txn, dealID, entityID, predicate)
		if err != nil {
			return err
		}
		best = pickAsOf(facts, t, s.tieBreak)
		return nil
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	if best == nil {
		return nil, types.ErrNotFound
	}
	return best, nil
}

func (s *BadgerStore) History(ctx context.Context, dealID, entityID, predicate string) ([]*types.Fact, error) {
	var facts []*types.Fact
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		facts, err = s.factsForSubject(txn, dealID, entityID, predicate)
		return err
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	sortByRecorded(facts)
	return facts, nil
}

func (s *BadgerStore) ValidFacts(ctx context.Context, dealID, entityID, predicate string) ([]*types.Fact, error) {
	all, err := s.History(ctx, dealID, entityID, predicate)
	if err != nil {
		return nil, err
	}
	valid := all[:0]
	for _, f := range all {
		if f.Valid() {
			valid = append(valid, f)
		}
	}
	return valid, nil
}

func (s *BadgerStore) FactsByDocument(ctx context.Context, dealID, documentID string) ([]*types.Fact, error) {
	var facts []*types.Fact
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := scanIndex(txn, bprefix(idxDocFacts, dealID, documentID))
		if err != nil {
			return err
		}
		for _, id := range ids {
			var f types.Fact
			if err := getJSON(txn, bkey(nsFact, dealID, id), &f); err != nil {
				return err
			}
			if f.Valid() {
				facts = append(facts, &f)
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	sortByRecorded(facts)
	return facts, nil
}

func (s *BadgerStore) FactsByObjectEntity(ctx context.Context, dealID, entityID string) ([]*types.Fact, error) {
	var facts []*types.Fact
	err := s.db.View(func(txn *badger.Txn) error {
		canonical, err := resolveRedirect(txn, dealID, entityID)
		if err != nil {
			return err
		}
		objects := []string{canonical}
		members, err := redirectMembers(txn, dealID, canonical)
		if err != nil {
			return err
		}
		objects = append(objects, members...)

		for _, obj := range objects {
			ids, err := scanIndex(txn, bprefix(idxObject, dealID, obj))
			if err != nil {
				return err
			}
			for _, id := range ids {
				var f types.Fact
				if err := getJSON(txn, bkey(nsFact, dealID, id), &f); err != nil {
					return err
				}
				if f.Valid() {
					facts = append(facts, &f)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	return facts, nil
}

func (s *BadgerStore) ListFacts(ctx context.Context, dealID string, fn func(*types.Fact) error) error {
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := bprefix(nsFact, dealID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var f types.Fact
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &f)
			})
			if err != nil {
				return err
			}
			if err := fn(&f); err != nil {
				return err
			}
		}
		return nil
	})
	return mapBadgerErr(err)
}

// --- Entities ---

func resolveRedirect(txn *badger.Txn, dealID, entityID string) (string, error) {
	// Redirects are flattened on write, the loop is a bounded safety net.
	cur := entityID
	for i := 0; i < 16; i++ {
		item, err := txn.Get(bkey(nsRedirect, dealID, cur))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return cur, nil
		}
		if err != nil {
			return "", err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return "", err
		}
		cur = string(val)
	}
	return cur, nil
}

func redirectMembers(txn *badger.Txn, dealID, entityID string) ([]string, error) {
	return scanIndex(txn, bprefix(idxMembers, dealID, entityID))
}

func (s *BadgerStore) CreateEntity(ctx context.Context, entity *types.Entity) error {
	if entity.ID == "" {
		entity.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}
	entity.UpdatedAt = now
	if err := entity.Validate(); err != nil {
		return err
	}
	if len(entity.Aliases) == 0 {
		entity.Aliases = []string{entity.Name}
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := setJSON(txn, bkey(nsEntity, entity.DealID, entity.ID), entity); err != nil {
			return err
		}
		return writeAliasIndex(txn, entity)
	})
	return mapBadgerErr(err)
}

func writeAliasIndex(txn *badger.Txn, entity *types.Entity) error {
	for _, alias := range entity.Aliases {
		norm := types.NormalizeName(alias)
		if norm == "" {
			continue
		}
		if err := txn.Set(bkey(idxAlias, entity.DealID, norm, entity.ID), nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *BadgerStore) UpdateEntity(ctx context.Context, entity *types.Entity) error {
	if err := entity.Validate(); err != nil {
		return err
	}
	entity.UpdatedAt = time.Now().UTC()
	err := s.db.Update(func(txn *badger.Txn) error {
		var existing types.Entity
		if err := getJSON(txn, bkey(nsEntity, entity.DealID, entity.ID), &existing); err != nil {
			return err
		}
		// FactCount is store-maintained; keep the stored value.
		entity.FactCount = existing.FactCount
		if err := setJSON(txn, bkey(nsEntity, entity.DealID, entity.ID), entity); err != nil {
			return err
		}
		return writeAliasIndex(txn, entity)
	})
	return mapBadgerErr(err)
}

func (s *BadgerStore) GetEntity(ctx context.Context, dealID, entityID string) (*types.Entity, error) {
	var e types.Entity
	err := s.db.View(func(txn *badger.Txn) error {
		canonical, err := resolveRedirect(txn, dealID, entityID)
		if err != nil {
			return err
		}
		return getJSON(txn, bkey(nsEntity, dealID, canonical), &e)
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	return &e, nil
}

func (s *BadgerStore) ResolveEntityID(ctx context.Context, dealID, entityID string) (string, error) {
	var canonical string
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		canonical, err = resolveRedirect(txn, dealID, entityID)
		return err
	})
	if err != nil {
		return "", mapBadgerErr(err)
	}
	return canonical, nil
}

func (s *BadgerStore) FindEntitiesByAlias(ctx context.Context, dealID, alias string) ([]*types.Entity, error) {
	norm := types.NormalizeName(alias)
	var out []*types.Entity
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := scanIndex(txn, bprefix(idxAlias, dealID, norm))
		if err != nil {
			return err
		}
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			canonical, err := resolveRedirect(txn, dealID, id)
			if err != nil {
				return err
			}
			if seen[canonical] {
				continue
			}
			seen[canonical] = true
			var e types.Entity
			if err := getJSON(txn, bkey(nsEntity, dealID, canonical), &e); err != nil {
				return err
			}
			out = append(out, &e)
		}
		return nil
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	return out, nil
}

func (s *BadgerStore) ListEntities(ctx context.Context, dealID string) ([]*types.Entity, error) {
	var out []*types.Entity
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := bprefix(nsEntity, dealID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := lastSegment(it.Item().Key())
			if _, err := txn.Get(bkey(nsRedirect, dealID, id)); err == nil {
				continue // merged away
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			var e types.Entity
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				return err
			}
			out = append(out, &e)
		}
		return nil
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	return out, nil
}

func (s *BadgerStore) SimilarEntities(ctx context.Context, dealID string, vec []float32, limit int) ([]EntityScore, error) {
	entities, err := s.ListEntities(ctx, dealID)
	if err != nil {
		return nil, err
	}
	scored := make([]EntityScore, 0, len(entities))
	for _, e := range entities {
		if len(e.Embedding) == 0 {
			continue
		}
		scored = append(scored, EntityScore{Entity: e, Score: utils.CosineSimilarity(vec, e.Embedding)})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (s *BadgerStore) RedirectEntity(ctx context.Context, dealID, loserID, winnerID string) error {
	if loserID == winnerID {
		return nil
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		winner, err := resolveRedirect(txn, dealID, winnerID)
		if err != nil {
			return err
		}
		loser, err := resolveRedirect(txn, dealID, loserID)
		if err != nil {
			return err
		}
		if loser == winner {
			return nil // already merged, idempotent
		}
		// Both sides must exist before linking them.
		var loserEntity, winnerEntity types.Entity
		if err := getJSON(txn, bkey(nsEntity, dealID, loser), &loserEntity); err != nil {
			return err
		}
		if err := getJSON(txn, bkey(nsEntity, dealID, winner), &winnerEntity); err != nil {
			return err
		}

		if err := txn.Set(bkey(nsRedirect, dealID, loser), []byte(winner)); err != nil {
			return err
		}
		if err := txn.Set(bkey(idxMembers, dealID, winner, loser), nil); err != nil {
			return err
		}
		// Rewrite redirects that pointed at the loser, keeping every chain
		// one hop long; merge order can then never change the outcome.
		members, err := redirectMembers(txn, dealID, loser)
		if err != nil {
			return err
		}
		for _, member := range members {
			if err := txn.Set(bkey(nsRedirect, dealID, member), []byte(winner)); err != nil {
				return err
			}
			if err := txn.Set(bkey(idxMembers, dealID, winner, member), nil); err != nil {
				return err
			}
			if err := txn.Delete(bkey(idxMembers, dealID, loser, member)); err != nil {
				return err
			}
		}

		// The winner absorbs the loser's aliases, mentions, and fact count.
		for _, a := range loserEntity.Aliases {
			winnerEntity.AddAlias(a)
		}
		winnerEntity.MentionIDs = append(winnerEntity.MentionIDs, loserEntity.MentionIDs...)
		winnerEntity.FactCount += loserEntity.FactCount
		winnerEntity.UpdatedAt = time.Now().UTC()
		if err := setJSON(txn, bkey(nsEntity, dealID, winner), &winnerEntity); err != nil {
			return err
		}
		return writeAliasIndex(txn, &winnerEntity)
	})
	return mapBadgerErr(err)
}

func (s *BadgerStore) SaveMention(ctx context.Context, mention *types.Mention) error {
	if mention.ID == "" {
		mention.ID = uuid.New().String()
	}
	if mention.CreatedAt.IsZero() {
		mention.CreatedAt = time.Now().UTC()
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, bkey(nsMention, mention.DealID, mention.ID), mention)
	})
	return mapBadgerErr(err)
}

// --- Documents ---

func (s *BadgerStore) PutDocument(ctx context.Context, doc *types.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = types.DocumentPending
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, bkey(nsDocument, doc.DealID, doc.ID), doc)
	})
	return mapBadgerErr(err)
}

func (s *BadgerStore) GetDocument(ctx context.Context, dealID, documentID string) (*types.Document, error) {
	var d types.Document
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, bkey(nsDocument, dealID, documentID), &d)
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	return &d, nil
}

func (s *BadgerStore) TransitionDocument(ctx context.Context, dealID, documentID string, next types.DocumentStatus, lastError string) (*types.Document, error) {
	var doc types.Document
	err := s.db.Update(func(txn *badger.Txn) error {
		key := bkey(nsDocument, dealID, documentID)
		if err := getJSON(txn, key, &doc); err != nil {
			return err
		}
		if !doc.Status.CanTransitionTo(next) {
			return errors.Mark(
				errors.Newf("document %s cannot move %s -> %s", documentID, doc.Status, next),
				types.ErrInvalidTransition)
		}
		now := time.Now().UTC()
		doc.Status = next
		doc.UpdatedAt = now
		doc.LastError = lastError
		switch next {
		case types.DocumentProcessing:
			doc.Attempts++
		case types.DocumentIngested:
			doc.IngestedAt = &now
			doc.LastError = ""
		}
		return setJSON(txn, key, &doc)
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	return &doc, nil
}

func (s *BadgerStore) ListDocuments(ctx context.Context, dealID string, status types.DocumentStatus) ([]*types.Document, error) {
	var out []*types.Document
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := bprefix(nsDocument, dealID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var d types.Document
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &d)
			})
			if err != nil {
				return err
			}
			if status == "" || d.Status == status {
				out = append(out, &d)
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	return out, nil
}

// --- Contradictions ---

func (s *BadgerStore) SaveContradiction(ctx context.Context, c *types.Contradiction) (bool, error) {
	c.FactA, c.FactB = types.ContradictionPair(c.FactA, c.FactB)
	created := false
	err := s.db.Update(func(txn *badger.Txn) error {
		pairKey := bkey(idxContraPair, c.DealID, c.FactA, c.FactB)
		item, err := txn.Get(pairKey)
		if err == nil {
			// Pair already recorded: load the existing record instead.
			id, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			return getJSON(txn, bkey(nsContra, c.DealID, string(id)), c)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		if c.DetectedAt.IsZero() {
			c.DetectedAt = time.Now().UTC()
		}
		if c.State == "" {
			c.State = types.ContradictionUnresolved
		}
		if err := setJSON(txn, bkey(nsContra, c.DealID, c.ID), c); err != nil {
			return err
		}
		if err := txn.Set(pairKey, []byte(c.ID)); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, mapBadgerErr(err)
	}
	return created, nil
}

func (s *BadgerStore) GetContradiction(ctx context.Context, dealID, id string) (*types.Contradiction, error) {
	var c types.Contradiction
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, bkey(nsContra, dealID, id), &c)
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	return &c, nil
}

func (s *BadgerStore) ListContradictions(ctx context.Context, dealID string, state types.ContradictionState) ([]*types.Contradiction, error) {
	var out []*types.Contradiction
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := bprefix(nsContra, dealID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var c types.Contradiction
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			})
			if err != nil {
				return err
			}
			if state == "" || c.State == state {
				out = append(out, &c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	return out, nil
}

func (s *BadgerStore) ResolveContradiction(ctx context.Context, dealID, id string, next types.ContradictionState, resolvedBy string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key := bkey(nsContra, dealID, id)
		var c types.Contradiction
		if err := getJSON(txn, key, &c); err != nil {
			return err
		}
		if !c.State.CanTransitionTo(next) {
			return errors.Mark(
				errors.Newf("contradiction %s cannot move %s -> %s", id, c.State, next),
				types.ErrInvalidTransition)
		}
		now := time.Now().UTC()
		c.State = next
		c.ResolvedAt = &now
		c.ResolvedBy = resolvedBy
		return setJSON(txn, key, &c)
	})
	return mapBadgerErr(err)
}

// --- Aggregates ---

func (s *BadgerStore) Stats(ctx context.Context, dealID string) (*Stats, error) {
	stats := &Stats{
		DealID:         dealID,
		Contradictions: make(map[types.ContradictionState]int),
		Documents:      make(map[types.DocumentStatus]int),
	}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := bprefix(nsFact, dealID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var f types.Fact
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &f) }); err != nil {
				return err
			}
			if f.Valid() {
				stats.FactsValid++
			} else {
				stats.FactsInvalidated++
			}
		}

		prefix = bprefix(nsEntity, dealID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := lastSegment(it.Item().Key())
			if _, err := txn.Get(bkey(nsRedirect, dealID, id)); err == nil {
				continue
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			stats.Entities++
		}

		prefix = bprefix(nsContra, dealID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var c types.Contradiction
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &c) }); err != nil {
				return err
			}
			stats.Contradictions[c.State]++
		}

		prefix = bprefix(nsDocument, dealID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var d types.Document
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &d) }); err != nil {
				return err
			}
			stats.Documents[d.Status]++
		}
		return nil
	})
	if err != nil {
		return nil, mapBadgerErr(err)
	}
	return stats, nil
}
