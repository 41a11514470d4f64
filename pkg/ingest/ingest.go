// Package ingest coordinates document ingestion end to end: registration
// and content-hash idempotence, unit normalization, entity resolution,
// the atomic fact commit, supersession of the document's prior facts,
// contradiction checks, index maintenance, and the document lifecycle
// pending -> processing -> {ingested | failed}. A bounded worker pool
// drains a queue of registered documents; cancellation is scoped to one
// document's task.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	jsonrepair "github.com/kaptinlin/jsonrepair"

	"github.com/harborstone/dealgraph/pkg/alert"
	"github.com/harborstone/dealgraph/pkg/config"
	"github.com/harborstone/dealgraph/pkg/detector"
	"github.com/harborstone/dealgraph/pkg/embedder"
	"github.com/harborstone/dealgraph/pkg/factstore"
	"github.com/harborstone/dealgraph/pkg/index"
	"github.com/harborstone/dealgraph/pkg/resolver"
	"github.com/harborstone/dealgraph/pkg/types"
)

// defaultEntityType tags mentions the extractor left untyped. The open tag
// keeps fuzzy matching conservative (it only matches other untyped
// entities) and merges cleanly into a well-known type on correction.
const defaultEntityType = "unknown"

// Result summarizes one document ingestion run.
type Result struct {
	DocumentID string `json:"document_id"`
	// Written counts facts committed this run.
	Written int `json:"written"`
	// Skipped counts malformed units dropped during normalization.
	Skipped int `json:"skipped"`
	// Ambiguous counts units held back because a mention tied between
	// entities and needs review.
	Ambiguous int `json:"ambiguous"`
	// Superseded counts the document's prior facts invalidated by this run.
	Superseded int `json:"superseded"`
	// Contradictions counts conflict records created by this run's facts.
	Contradictions int `json:"contradictions"`
	// Unchanged is set when the content hash matched an already-ingested
	// registration and nothing was done.
	Unchanged bool `json:"unchanged"`
}

type task struct {
	doc   *types.Document
	units []types.ExtractionUnit
}

// Coordinator runs document ingestion, synchronously via Ingest or in the
// background via Enqueue + Start.
type Coordinator struct {
	store    factstore.Store
	resolver *resolver.Resolver
	detector *detector.Detector
	indexes  *index.Indexer
	emb      embedder.Client
	alerter  alert.Alerter
	cfg      config.IngestConfig
	logger   *slog.Logger

	queue chan task
	quit  chan struct{}
	wg    sync.WaitGroup
	start sync.Once
	stop  sync.Once
}

// New builds a Coordinator. indexes and emb may be nil (facts then stay
// unindexed or lexical-only); the rest are required.
func New(store factstore.Store, res *resolver.Resolver, det *detector.Detector, indexes *index.Indexer, emb embedder.Client, alerter alert.Alerter, cfg config.IngestConfig, logger *slog.Logger) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if alerter == nil {
		alerter = &alert.NoOpAlerter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:    store,
		resolver: res,
		detector: det,
		indexes:  indexes,
		emb:      emb,
		alerter:  alerter,
		cfg:      cfg,
		logger:   logger,
		queue:    make(chan task, cfg.QueueSize),
		quit:     make(chan struct{}),
	}
}

// Start launches the worker pool. Starting twice is a no-op.
func (c *Coordinator) Start() {
	c.start.Do(func() {
		for i := 0; i < c.cfg.Workers; i++ {
			c.wg.Add(1)
			go c.worker(i)
		}
	})
}

// Close stops the workers after their current document. Queued documents
// stay registered as pending and are found by RecoverOrphans on the next
// start.
func (c *Coordinator) Close() error {
	c.stop.Do(func() { close(c.quit) })
	c.wg.Wait()
	return nil
}

// Ingest runs one document through the pipeline synchronously. A content
// hash already ingested returns Result.Unchanged without touching the
// store.
func (c *Coordinator) Ingest(ctx context.Context, doc *types.Document, units []types.ExtractionUnit) (*Result, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	fresh, err := c.register(ctx, doc)
	if err != nil {
		return nil, err
	}
	if !fresh {
		c.logger.Info("document content unchanged, skipping",
			"deal_id", doc.DealID, "document_id", doc.ID, "content_hash", doc.ContentHash)
		return &Result{DocumentID: doc.ID, Unchanged: true}, nil
	}
	return c.run(ctx, doc, units)
}

// Enqueue registers doc and queues it for background ingestion. It
// reports false without queueing when the content hash was already
// ingested. Enqueue blocks when the queue is full, which backpressures
// the caller rather than dropping work.
func (c *Coordinator) Enqueue(ctx context.Context, doc *types.Document, units []types.ExtractionUnit) (bool, error) {
	if err := doc.Validate(); err != nil {
		return false, err
	}
	fresh, err := c.register(ctx, doc)
	if err != nil {
		return false, err
	}
	if !fresh {
		return false, nil
	}
	select {
	case c.queue <- task{doc: doc, units: units}:
		return true, nil
	case <-c.quit:
		return false, types.Transientf("ingestion coordinator is shut down")
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// RecoverOrphans returns documents stranded in processing by a crashed or
// cancelled worker to pending. Call it on startup, before Start.
func (c *Coordinator) RecoverOrphans(ctx context.Context, dealID string) (int, error) {
	orphans, err := c.store.ListDocuments(ctx, dealID, types.DocumentProcessing)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, d := range orphans {
		if _, err := c.store.TransitionDocument(ctx, d.DealID, d.ID, types.DocumentPending, "recovered after interrupted processing"); err != nil {
			return recovered, errors.Wrapf(err, "recovering document %s", d.ID)
		}
		recovered++
		c.logger.Warn("recovered orphaned document",
			"deal_id", d.DealID, "document_id", d.ID, "attempts", d.Attempts)
	}
	return recovered, nil
}

func (c *Coordinator) worker(id int) {
	defer c.wg.Done()
	log := c.logger.With("worker", id)
	for {
		select {
		case <-c.quit:
			return
		case t := <-c.queue:
			c.runTask(log, t)
		}
	}
}

// runTask gives one document its own cancellation scope: shutdown cancels
// the in-flight task, nothing else.
func (c *Coordinator) runTask(log *slog.Logger, t task) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		select {
		case <-c.quit:
			cancel()
		case <-done:
		}
	}()
	defer func() {
		close(done)
		cancel()
	}()

	if _, err := c.run(ctx, t.doc, t.units); err != nil {
		log.Error("background ingestion failed",
			"deal_id", t.doc.DealID, "document_id", t.doc.ID, "error", err)
	}
}

// register creates or refreshes the document record and reports whether
// this content needs ingesting. A hash already pending, processing, or
// ingested is a no-op; a failed document or a new hash goes through again.
func (c *Coordinator) register(ctx context.Context, doc *types.Document) (bool, error) {
	existing, err := c.store.GetDocument(ctx, doc.DealID, doc.ID)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return false, errors.Wrap(err, "looking up document registration")
	}
	if existing != nil {
		if existing.ContentHash == doc.ContentHash && existing.Status != types.DocumentFailed {
			return false, nil
		}
		// Re-ingest: keep the record's history, swap the content hash. The
		// status moves through processing when a worker picks it up;
		// finished documents never return to pending.
		doc.Status = existing.Status
		doc.Attempts = existing.Attempts
		doc.CreatedAt = existing.CreatedAt
		doc.IngestedAt = existing.IngestedAt
	} else {
		doc.Status = types.DocumentPending
	}
	if err := c.store.PutDocument(ctx, doc); err != nil {
		return false, errors.Wrap(err, "registering document")
	}
	return true, nil
}

// run owns the document from processing to a terminal status. Transient
// store failures retry with exponential backoff up to the attempt bound;
// anything else fails the document immediately.
func (c *Coordinator) run(ctx context.Context, doc *types.Document, units []types.ExtractionUnit) (*Result, error) {
	if _, err := c.store.TransitionDocument(ctx, doc.DealID, doc.ID, types.DocumentProcessing, ""); err != nil {
		return nil, err
	}
	log := c.logger.With("deal_id", doc.DealID, "document_id", doc.ID)
	log.Info("ingesting document", "units", len(units), "content_hash", doc.ContentHash)

	var res *Result
	var err error
	for attempt := 1; ; attempt++ {
		res, err = c.processOnce(ctx, doc, units)
		if err == nil || !errors.Is(err, types.ErrTransientStore) || attempt >= c.cfg.MaxAttempts {
			break
		}
		delay := c.backoff(attempt)
		log.Warn("transient ingestion failure, backing off",
			"attempt", attempt, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			err = ctx.Err()
			break
		}
	}
	if err != nil {
		return nil, c.fail(doc, err)
	}

	if _, terr := c.store.TransitionDocument(ctx, doc.DealID, doc.ID, types.DocumentIngested, ""); terr != nil {
		return nil, terr
	}
	log.Info("document ingested",
		"written", res.Written,
		"skipped", res.Skipped,
		"ambiguous", res.Ambiguous,
		"superseded", res.Superseded,
		"contradictions", res.Contradictions)
	return res, nil
}

// fail moves the document to its terminal status. A cancelled task goes
// back to pending, mirroring crash recovery, so a restart picks it up; a
// real failure lands on failed and raises an alert. The task's context
// may already be dead, so bookkeeping runs on its own short deadline.
func (c *Coordinator) fail(doc *types.Document, cause error) error {
	fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		if _, terr := c.store.TransitionDocument(fctx, doc.DealID, doc.ID, types.DocumentPending, cause.Error()); terr != nil {
			c.logger.Error("failed to return cancelled document to pending",
				"deal_id", doc.DealID, "document_id", doc.ID, "error", terr)
		}
		return cause
	}

	updated, terr := c.store.TransitionDocument(fctx, doc.DealID, doc.ID, types.DocumentFailed, cause.Error())
	if terr != nil {
		c.logger.Error("failed to mark document failed",
			"deal_id", doc.DealID, "document_id", doc.ID, "error", terr)
	}
	attempts := doc.Attempts
	if updated != nil {
		attempts = updated.Attempts
	}
	c.logger.Error("document ingestion failed",
		"deal_id", doc.DealID, "document_id", doc.ID, "attempts", attempts, "error", cause)
	if aerr := c.alerter.Alert(
		fmt.Sprintf("ingestion failed: %s", doc.ID),
		fmt.Sprintf("document %s in deal %s failed after %d attempt(s): %v", doc.ID, doc.DealID, attempts, cause),
	); aerr != nil {
		c.logger.Warn("failed to send ingestion alert", "error", aerr)
	}
	return cause
}

// processOnce executes one attempt: normalize and resolve every unit,
// commit the surviving facts in a single batch, supersede the document's
// prior facts, then run contradiction checks and index updates. Fact ids
// are deterministic over (deal, document, content hash, unit position),
// so a retried commit overwrites itself instead of duplicating facts.
func (c *Coordinator) processOnce(ctx context.Context, doc *types.Document, units []types.ExtractionUnit) (*Result, error) {
	now := time.Now().UTC()
	res := &Result{DocumentID: doc.ID}

	// Prior facts are captured before the commit so supersession can never
	// touch what this run writes.
	prior, err := c.store.FactsByDocument(ctx, doc.DealID, doc.ID)
	if err != nil {
		return nil, errors.Wrap(err, "loading prior facts")
	}

	facts, err := c.buildFacts(ctx, doc, units, now, res)
	if err != nil {
		return nil, err
	}

	if len(facts) > 0 {
		if _, err := c.store.WriteFacts(ctx, facts); err != nil {
			return nil, errors.Wrap(err, "committing facts")
		}
	}
	res.Written = len(facts)

	fresh := make(map[string]bool, len(facts))
	for _, f := range facts {
		fresh[f.ID] = true
	}
	for _, p := range prior {
		if fresh[p.ID] || !p.Valid() {
			continue
		}
		if err := c.store.InvalidateFact(ctx, doc.DealID, p.ID, now); err != nil {
			if errors.Is(err, types.ErrAlreadyInvalidated) {
				continue
			}
			return nil, errors.Wrapf(err, "superseding fact %s", p.ID)
		}
		res.Superseded++
		if c.indexes != nil {
			c.indexes.Enqueue(index.Remove(doc.DealID, p.ID))
		}
	}

	for _, f := range facts {
		created, err := c.detector.Check(ctx, f)
		if err != nil {
			return nil, errors.Wrapf(err, "checking fact %s for contradictions", f.ID)
		}
		res.Contradictions += len(created)
		if c.indexes != nil {
			c.indexes.Enqueue(index.Upsert(f))
		}
	}
	return res, nil
}

// buildFacts normalizes units in order. Malformed units and unusable
// objects are skipped and logged; ambiguous mentions are held back for
// review; resolver or store failures abort the attempt.
func (c *Coordinator) buildFacts(ctx context.Context, doc *types.Document, units []types.ExtractionUnit, now time.Time, res *Result) ([]*types.Fact, error) {
	log := c.logger.With("deal_id", doc.DealID, "document_id", doc.ID)
	facts := make([]*types.Fact, 0, len(units))
	for i, u := range units {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err := u.Validate(); err != nil {
			res.Skipped++
			log.Warn("skipping malformed unit", "unit", i, "error", err)
			continue
		}

		subjectID, err := c.resolveMention(ctx, doc, u.SubjectMention, u.SubjectType, u.Locator.Quote)
		if err != nil {
			if c.classifyUnitError(log, res, i, u.SubjectMention, err) {
				continue
			}
			return nil, errors.Wrapf(err, "resolving subject %q", u.SubjectMention)
		}

		obj, display, err := c.normalizeObject(ctx, doc, u)
		if err != nil {
			if c.classifyUnitError(log, res, i, u.Object.EntityMention, err) {
				continue
			}
			return nil, errors.Wrapf(err, "normalizing object of unit %d", i)
		}

		claim := fmt.Sprintf("%s %s %s", u.SubjectMention, u.Predicate, display)
		fact := &types.Fact{
			ID:         factID(doc, i),
			DealID:     doc.DealID,
			SubjectID:  subjectID,
			Predicate:  u.Predicate,
			Object:     obj,
			Claim:      claim,
			ValidAt:    u.ValidAt,
			RecordedAt: now,
			DocumentID: doc.ID,
			Locator:    u.Locator,
			Confidence: u.RawConfidence,
			Method:     u.Method,
		}
		if c.emb != nil {
			vec, eerr := c.emb.EmbedSingle(ctx, claim)
			if eerr != nil {
				log.Warn("embedding claim failed, fact stays lexical-only", "unit", i, "error", eerr)
			} else {
				fact.Embedding = vec
			}
		}
		if err := fact.Validate(); err != nil {
			res.Skipped++
			log.Warn("skipping unit producing invalid fact", "unit", i, "error", err)
			continue
		}
		facts = append(facts, fact)
	}
	return facts, nil
}

// classifyUnitError decides whether a unit-level error is survivable.
// Ambiguity and validation problems drop the one unit; everything else
// (store outages, embedder transport) aborts so the attempt can retry.
func (c *Coordinator) classifyUnitError(log *slog.Logger, res *Result, i int, mention string, err error) bool {
	switch {
	case errors.Is(err, types.ErrResolutionAmbiguity):
		res.Ambiguous++
		log.Warn("mention ambiguous, unit held for review",
			"unit", i, "mention", mention, "error", err)
		return true
	case errors.Is(err, types.ErrValidation):
		res.Skipped++
		log.Warn("skipping unit", "unit", i, "error", err)
		return true
	}
	return false
}

func (c *Coordinator) resolveMention(ctx context.Context, doc *types.Document, text, typ, quote string) (string, error) {
	if strings.TrimSpace(typ) == "" {
		typ = defaultEntityType
	}
	r, err := c.resolver.Resolve(ctx, doc.DealID, resolver.Mention{
		Text:       text,
		Type:       typ,
		Context:    quote,
		DocumentID: doc.ID,
	})
	if err != nil {
		return "", err
	}
	return r.EntityID, nil
}

// normalizeObject turns the unit's raw object into a typed value. It also
// returns the display string used in the rendered claim, which for
// relationships is the mention text rather than the resolved id.
func (c *Coordinator) normalizeObject(ctx context.Context, doc *types.Document, u types.ExtractionUnit) (types.ObjectValue, string, error) {
	raw := u.Object
	if raw.EntityMention != "" {
		id, err := c.resolveMention(ctx, doc, raw.EntityMention, raw.EntityType, u.Locator.Quote)
		if err != nil {
			return types.ObjectValue{}, "", err
		}
		return types.EntityObject(id), raw.EntityMention, nil
	}
	obj, err := scalarObject(raw.Value, raw.Unit)
	if err != nil {
		return types.ObjectValue{}, "", err
	}
	return obj, obj.String(), nil
}

// scalarObject maps an extraction payload onto a typed object value.
func scalarObject(v interface{}, unit string) (types.ObjectValue, error) {
	switch val := v.(type) {
	case nil:
		return types.ObjectValue{}, types.Validationf("unit has no object value")
	case float64:
		return types.NumberObject(val, unit), nil
	case float32:
		return types.NumberObject(float64(val), unit), nil
	case int:
		return types.NumberObject(float64(val), unit), nil
	case int64:
		return types.NumberObject(float64(val), unit), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return types.TextObject(val.String()), nil
		}
		return types.NumberObject(f, unit), nil
	case bool:
		return types.BoolObject(val), nil
	case time.Time:
		return types.DateObject(val), nil
	case map[string]interface{}:
		return objectFromMap(val, unit)
	case string:
		return textObject(val, unit)
	}
	return types.ObjectValue{}, types.Validationf("unsupported object payload %T", v)
}

// textObject interprets a string payload: structured JSON from the
// extractor is repaired and unwrapped, then numbers, booleans, and dates
// are recognized before falling back to plain text.
func textObject(s, unit string) (types.ObjectValue, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.ObjectValue{}, types.Validationf("unit has an empty object value")
	}
	if strings.HasPrefix(s, "{") {
		repaired, err := jsonrepair.JSONRepair(s)
		if err == nil {
			var payload map[string]interface{}
			if jerr := json.Unmarshal([]byte(repaired), &payload); jerr == nil {
				return objectFromMap(payload, unit)
			}
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return types.NumberObject(f, unit), nil
	}
	switch strings.ToLower(s) {
	case "true":
		return types.BoolObject(true), nil
	case "false":
		return types.BoolObject(false), nil
	}
	if t, ok := parseDate(s); ok {
		return types.DateObject(t), nil
	}
	return types.TextObject(s), nil
}

// objectFromMap unwraps the {"value": ..., "unit": ...} envelope
// extractors commonly emit.
func objectFromMap(m map[string]interface{}, unit string) (types.ObjectValue, error) {
	if u, ok := m["unit"].(string); ok && u != "" {
		unit = u
	}
	v, ok := m["value"]
	if !ok {
		return types.ObjectValue{}, types.Validationf("object payload has no value field")
	}
	return scalarObject(v, unit)
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// factID derives the fact id from the deal, document, content hash, and
// unit position. Identical content always produces identical ids, which
// is what makes a retried commit overwrite rather than duplicate.
func factID(doc *types.Document, unit int) string {
	name := fmt.Sprintf("%s|%s|%s|%d", doc.DealID, doc.ID, doc.ContentHash, unit)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

func (c *Coordinator) backoff(attempt int) time.Duration {
	d := c.cfg.BaseBackoff << (attempt - 1)
	if d <= 0 || d > c.cfg.MaxBackoff {
		return c.cfg.MaxBackoff
	}
	return d
}
