// Package dealgraph provides a temporal knowledge store and hybrid
// retrieval engine for M&A deal documents.
//
// Dealgraph ingests the structured output of document extraction, resolves
// entity mentions against a per-deal registry, stores bi-temporal facts
// append-only, flags contradictions between sources, and answers questions
// with ranked, fully cited results combining vector, lexical, and
// graph-traversal retrieval.
//
// # Basic Usage
//
// Open a client from configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//	client, err := dealgraph.Open(ctx, cfg, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
// Or wire one over an existing store and embedder:
//
//	store, _ := factstore.NewBadgerStore(factstore.Config{Path: dir}, logger)
//	emb, _ := embedder.NewClient(embedder.Config{Provider: embedder.ProviderOpenAI})
//	client, err := dealgraph.NewClient(store, emb, cfg, logger)
//
// # Ingesting Documents
//
// A document is registered by id and content hash, then its extraction
// units are committed as facts in one atomic batch. Re-ingesting the same
// hash is a no-op; a new hash supersedes the document's prior facts without
// deleting them:
//
//	doc := &types.Document{ID: "board-deck-q3", DealID: "project-harbor", ContentHash: hash}
//	result, err := client.IngestDocument(ctx, doc, units)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("wrote %d facts, %d superseded\n", result.Written, result.Superseded)
//
// # Querying
//
// Queries fan out over the vector, lexical, and graph indexes, fuse the
// rankings, and attach a citation to every answer:
//
//	res, err := client.Query(ctx, dealgraph.QueryRequest{
//		DealID: "project-harbor",
//		Text:   "What was Q3 revenue?",
//	})
//	for _, a := range res.Answers {
//		fmt.Printf("%s  (%s, %s)\n", a.Claim, a.DocumentID, a.Locator)
//	}
//
// # Temporal Reads
//
// Every fact carries valid_at, invalid_at, and recorded_at. ReadAsOf
// answers "what did we believe stood at time t", History returns the full
// audit trail including superseded claims:
//
//	fact, err := client.ReadAsOf(ctx, dealID, entityID, "q3_revenue", asOf)
//	trail, err := client.History(ctx, dealID, entityID, "q3_revenue")
//
// # Corrections
//
// Reviewers fix the record without ever deleting it: MergeEntities
// redirects a duplicate onto its canonical entity, InvalidateFact closes a
// wrong claim's validity interval, and ResolveContradiction records a
// judgment on a flagged conflict:
//
//	err = client.MergeEntities(ctx, dealID, winnerID, loserID)
//	err = client.InvalidateFact(ctx, dealID, factID)
//	err = client.ResolveContradiction(ctx, dealID, contradictionID, types.ContradictionDismissed, "analyst@firm")
//
// # Deal Scoping
//
// Every entity, fact, document, and query carries a deal id. Deals are
// fully isolated namespaces; nothing is shared across them.
//
// # Error Handling
//
// Root-level sentinels classify failures with errors.Is:
//
//   - ErrNotFound: the entity, fact, document, or contradiction does not exist
//   - ErrValidation: malformed input
//   - ErrTransientStore: store failure worth retrying
//   - ErrResolutionAmbiguity: a mention matched multiple entities with no deterministic winner
//   - ErrProvenanceMissing: a fact cannot be cited
//
// # Architecture
//
// The library follows a modular architecture:
//
//   - pkg/factstore: bi-temporal fact store (badger, postgres, neo4j backends)
//   - pkg/resolver: entity resolution and merge redirects
//   - pkg/detector: contradiction detection
//   - pkg/ingest: ingestion coordinator and worker pool
//   - pkg/index: vector and lexical indexes
//   - pkg/retriever: hybrid retrieval fan-out
//   - pkg/rerank: fusion and cross-encoder reranking
//   - pkg/citations: citation assembly
//
// This design allows additional store backends, embedding providers, and
// rerankers to be added without touching the pipeline.
package dealgraph
