// Package types defines the core data types for the dealgraph knowledge store.
//
// This package contains the fundamental types used throughout dealgraph:
//   - Fact: A bi-temporal subject-predicate-object assertion with provenance
//   - Entity: A canonical, deduplicated party referenced by facts
//   - Document: The ingestion lifecycle record for one source document
//   - Contradiction: A detected conflict between two currently-valid facts
//   - Query/Candidate/Citation: The retrieval pipeline's request and result types
//
// # Temporal Semantics
//
// Facts are bi-temporal: ValidAt records when an assertion became true in the
// world, RecordedAt when the system learned of it, and InvalidAt when it was
// superseded or withdrawn. Rows are immutable; invalidation is a state
// transition carried in a separate column, never an overwrite.
//
// # Validation
//
// Types provide Validate() methods for input validation. Validation failures
// are marked with ErrValidation so callers can classify them with errors.Is:
//
//	if err := fact.Validate(); errors.Is(err, types.ErrValidation) {
//	    // skip the unit, keep the batch going
//	}
//
// # JSON Serialization
//
// All types are designed to be JSON-serializable with appropriate struct tags.
package types
