package dealgraph

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/harborstone/dealgraph/pkg/alert"
	"github.com/harborstone/dealgraph/pkg/citations"
	"github.com/harborstone/dealgraph/pkg/config"
	"github.com/harborstone/dealgraph/pkg/detector"
	"github.com/harborstone/dealgraph/pkg/embedder"
	"github.com/harborstone/dealgraph/pkg/export"
	"github.com/harborstone/dealgraph/pkg/factstore"
	"github.com/harborstone/dealgraph/pkg/index"
	"github.com/harborstone/dealgraph/pkg/ingest"
	"github.com/harborstone/dealgraph/pkg/mentions"
	"github.com/harborstone/dealgraph/pkg/rerank"
	"github.com/harborstone/dealgraph/pkg/resolver"
	"github.com/harborstone/dealgraph/pkg/retriever"
	"github.com/harborstone/dealgraph/pkg/types"
)

// DealGraph is the main interface for working with a deal's knowledge store.
// It covers the full lifecycle: ingesting extraction output, querying with
// citations, reading bi-temporal history, and applying reviewer corrections.
type DealGraph interface {
	// IngestDocument processes one document's extraction units synchronously:
	// resolution, atomic fact commit, supersession of the document's prior
	// facts, contradiction detection, and index maintenance.
	IngestDocument(ctx context.Context, doc *types.Document, units []types.ExtractionUnit) (*ingest.Result, error)

	// EnqueueDocument hands a document to the background worker pool and
	// returns immediately. Returns false when the content hash is already
	// ingested or in flight.
	EnqueueDocument(ctx context.Context, doc *types.Document, units []types.ExtractionUnit) (bool, error)

	// RecoverOrphans re-queues documents stranded in processing by a crash.
	// Call once on startup per active deal.
	RecoverOrphans(ctx context.Context, dealID string) (int, error)

	// Query runs hybrid retrieval, reranks, and attaches citations. Partial
	// index degradation is reported on the result, never as an error.
	Query(ctx context.Context, req QueryRequest) (*QueryResult, error)

	// ReadAsOf returns the fact standing for subject+predicate at t under
	// the configured tie-break. ErrNotFound when nothing covers t.
	ReadAsOf(ctx context.Context, dealID, entityID, predicate string, t time.Time) (*types.Fact, error)

	// History returns every fact ever recorded for subject+predicate,
	// invalidated ones included, ordered by recorded_at.
	History(ctx context.Context, dealID, entityID, predicate string) ([]*types.Fact, error)

	// GetEntity returns an entity by id, following merge redirects.
	GetEntity(ctx context.Context, dealID, entityID string) (*types.Entity, error)

	// MergeEntities redirects loser onto winner. Both ids stay usable;
	// reads through either land on the merged record.
	MergeEntities(ctx context.Context, dealID, winnerID, loserID string) error

	// InvalidateFact closes a fact's validity interval now and drops it
	// from the search indexes. The fact row itself is never deleted.
	InvalidateFact(ctx context.Context, dealID, factID string) error

	// ResolveContradiction moves a contradiction out of unresolved,
	// recording who resolved it.
	ResolveContradiction(ctx context.Context, dealID, id string, next types.ContradictionState, resolvedBy string) error

	// Contradictions lists a deal's contradictions, optionally filtered by
	// state ("" means all).
	Contradictions(ctx context.Context, dealID string, state types.ContradictionState) ([]*types.Contradiction, error)

	// GetDocument returns a document's registration and lifecycle state.
	GetDocument(ctx context.Context, dealID, documentID string) (*types.Document, error)

	// Documents lists a deal's documents, optionally filtered by status.
	Documents(ctx context.Context, dealID string, status types.DocumentStatus) ([]*types.Document, error)

	// Stats summarizes a deal: entity, fact, contradiction, and document
	// counts.
	Stats(ctx context.Context, dealID string) (*factstore.Stats, error)

	// Export writes a parquet snapshot of the deal for downstream
	// analytics.
	Export(ctx context.Context, dealID, dir string) (*export.Manifest, error)

	// Close stops the background workers and releases every component.
	Close() error
}

// Client is the main implementation of the DealGraph interface.
type Client struct {
	store       factstore.Store
	emb         embedder.Client
	resolver    *resolver.Resolver
	detector    *detector.Detector
	indexes     *index.Indexer
	coordinator *ingest.Coordinator
	tagger      mentions.Tagger
	retriever   *retriever.Retriever
	reranker    *rerank.Reranker
	cross       rerank.CrossEncoder
	citations   *citations.Assembler
	exporter    *export.Exporter
	cfg         *config.Config
	logger      *slog.Logger
}

// NewClient wires a Client over an existing store and embedder; everything
// else is built from cfg. The background ingestion workers and the index
// pump start immediately, Close stops them. A nil cfg uses each component's
// defaults; a nil embedder disables the vector search path and commits
// facts lexical-only.
func NewClient(store factstore.Store, emb embedder.Client, cfg *config.Config, logger *slog.Logger) (*Client, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	tagger, err := mentions.NewTagger(cfg.Mentions, store)
	if err != nil {
		return nil, errors.Wrap(err, "building mention tagger")
	}

	var cross rerank.CrossEncoder
	if cfg.Retrieval.UseCrossEncoder {
		cross, err = rerank.NewCrossEncoder(rerank.CrossEncoderConfig{
			Provider: rerank.Provider(cfg.Retrieval.CrossEncoderProvider),
			Model:    cfg.Retrieval.CrossEncoderModel,
		})
		if err != nil {
			// Reranking still works on fusion alone.
			logger.Warn("cross-encoder unavailable, reranking on fusion only", "error", err)
			cross = nil
		}
	}

	alerter := alert.FromConfig(cfg.Alert)
	indexes := index.NewIndexer(store, logger)
	res := resolver.New(store, emb, cfg.Resolver, logger)
	det := detector.New(store, cfg.Detector, logger)
	coordinator := ingest.New(store, res, det, indexes, emb, alerter, cfg.Ingest, logger)

	c := &Client{
		store:       store,
		emb:         emb,
		resolver:    res,
		detector:    det,
		indexes:     indexes,
		coordinator: coordinator,
		tagger:      tagger,
		retriever:   retriever.New(store, indexes, emb, tagger, cfg.Retrieval, logger),
		reranker:    rerank.New(cross, cfg.Retrieval, logger),
		cross:       cross,
		citations:   citations.NewAssembler(store, logger),
		exporter:    export.New(store, cfg.Export, logger),
		cfg:         cfg,
		logger:      logger,
	}
	c.indexes.Start()
	c.coordinator.Start()
	return c, nil
}

// Open builds the configured store and embedder and wires a Client around
// them. The embedder is wrapped in a circuit breaker so a flapping provider
// degrades to lexical-only operation instead of cascading.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Client, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	store, err := factstore.New(factstore.Config{
		Backend:        factstore.Backend(cfg.Store.Backend),
		Path:           cfg.Store.Path,
		InMemory:       cfg.Store.InMemory,
		DSN:            cfg.Store.DSN,
		URI:            cfg.Store.URI,
		Username:       cfg.Store.Username,
		Password:       cfg.Store.Password,
		Database:       cfg.Store.Database,
		EmbeddingDim:   cfg.Store.EmbeddingDim,
		MaxConnections: cfg.Store.MaxConnections,
		TieBreak:       factstore.TieBreak(cfg.Store.TieBreak),
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "opening store")
	}
	if err := store.Initialize(ctx); err != nil {
		_ = store.Close()
		return nil, errors.Wrap(err, "initializing store")
	}

	emb, err := embedder.NewClient(embedder.Config{
		Provider:   embedder.Provider(cfg.Embedding.Provider),
		Model:      cfg.Embedding.Model,
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Dimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		_ = store.Close()
		return nil, errors.Wrap(err, "building embedder")
	}
	alerter := alert.FromConfig(cfg.Alert)
	emb = embedder.WrapWithBreaker(emb, cfg.CircuitBreaker, alerter, "embedding", logger)

	client, err := NewClient(store, emb, cfg, logger)
	if err != nil {
		_ = emb.Close()
		_ = store.Close()
		return nil, err
	}
	return client, nil
}

// IngestDocument processes one document synchronously.
func (c *Client) IngestDocument(ctx context.Context, doc *types.Document, units []types.ExtractionUnit) (*ingest.Result, error) {
	return c.coordinator.Ingest(ctx, doc, units)
}

// EnqueueDocument hands a document to the background workers.
func (c *Client) EnqueueDocument(ctx context.Context, doc *types.Document, units []types.ExtractionUnit) (bool, error) {
	return c.coordinator.Enqueue(ctx, doc, units)
}

// RecoverOrphans re-queues documents stranded in processing.
func (c *Client) RecoverOrphans(ctx context.Context, dealID string) (int, error) {
	return c.coordinator.RecoverOrphans(ctx, dealID)
}

// Query retrieves, reranks, and cites.
func (c *Client) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	res, err := c.retriever.Retrieve(ctx, retriever.Query{
		DealID:       req.DealID,
		Text:         req.Text,
		EntityFilter: req.EntityFilter,
		AsOf:         req.AsOf,
	})
	if err != nil {
		return nil, err
	}
	ranked, err := c.reranker.Rank(ctx, req.Text, res.Candidates, req.K)
	if err != nil {
		return nil, err
	}
	answers, excluded, err := c.citations.Assemble(ctx, req.DealID, ranked)
	if err != nil {
		return nil, err
	}
	return &QueryResult{
		Answers:  answers,
		Partial:  res.Partial,
		Degraded: res.Degraded,
		Excluded: excluded,
	}, nil
}

// ReadAsOf returns the fact standing at t for subject+predicate.
func (c *Client) ReadAsOf(ctx context.Context, dealID, entityID, predicate string, t time.Time) (*types.Fact, error) {
	return c.store.ReadAsOf(ctx, dealID, entityID, types.NormalizePredicate(predicate), t)
}

// History returns the full recorded history for subject+predicate.
func (c *Client) History(ctx context.Context, dealID, entityID, predicate string) ([]*types.Fact, error) {
	return c.store.History(ctx, dealID, entityID, types.NormalizePredicate(predicate))
}

// GetEntity returns an entity, following merge redirects.
func (c *Client) GetEntity(ctx context.Context, dealID, entityID string) (*types.Entity, error) {
	return c.store.GetEntity(ctx, dealID, entityID)
}

// MergeEntities redirects loser onto winner.
func (c *Client) MergeEntities(ctx context.Context, dealID, winnerID, loserID string) error {
	return c.resolver.Merge(ctx, dealID, winnerID, loserID)
}

// InvalidateFact closes a fact's validity interval and unindexes it.
func (c *Client) InvalidateFact(ctx context.Context, dealID, factID string) error {
	if err := c.store.InvalidateFact(ctx, dealID, factID, time.Now().UTC()); err != nil {
		return err
	}
	c.indexes.Enqueue(index.Remove(dealID, factID))
	return nil
}

// ResolveContradiction records a reviewer's resolution.
func (c *Client) ResolveContradiction(ctx context.Context, dealID, id string, next types.ContradictionState, resolvedBy string) error {
	return c.store.ResolveContradiction(ctx, dealID, id, next, resolvedBy)
}

// Contradictions lists a deal's contradictions.
func (c *Client) Contradictions(ctx context.Context, dealID string, state types.ContradictionState) ([]*types.Contradiction, error) {
	return c.store.ListContradictions(ctx, dealID, state)
}

// GetDocument returns a document's lifecycle state.
func (c *Client) GetDocument(ctx context.Context, dealID, documentID string) (*types.Document, error) {
	return c.store.GetDocument(ctx, dealID, documentID)
}

// Documents lists a deal's documents.
func (c *Client) Documents(ctx context.Context, dealID string, status types.DocumentStatus) ([]*types.Document, error) {
	return c.store.ListDocuments(ctx, dealID, status)
}

// Stats summarizes a deal's knowledge state.
func (c *Client) Stats(ctx context.Context, dealID string) (*factstore.Stats, error) {
	return c.store.Stats(ctx, dealID)
}

// Export writes a parquet snapshot of the deal.
func (c *Client) Export(ctx context.Context, dealID, dir string) (*export.Manifest, error) {
	return c.exporter.Snapshot(ctx, dealID, dir)
}

// Close stops the ingestion workers, drains the index pump, and closes
// every component. Safe to call once.
func (c *Client) Close() error {
	c.coordinator.Close()
	var errs []error
	if err := c.indexes.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.tagger.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.cross != nil {
		if err := c.cross.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.emb != nil {
		if err := c.emb.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// GetStore returns the underlying fact store.
func (c *Client) GetStore() factstore.Store {
	return c.store
}

// GetEmbedder returns the embedding client.
func (c *Client) GetEmbedder() embedder.Client {
	return c.emb
}
