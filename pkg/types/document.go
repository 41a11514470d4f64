package types

import (
	"time"
)

// DocumentStatus is the ingestion lifecycle state of one source document.
type DocumentStatus string

const (
	// DocumentPending means the document is queued and untouched.
	DocumentPending DocumentStatus = "pending"
	// DocumentProcessing means a worker owns the document right now.
	DocumentProcessing DocumentStatus = "processing"
	// DocumentIngested means every validated unit was committed.
	DocumentIngested DocumentStatus = "ingested"
	// DocumentFailed means ingestion exhausted its retry budget; the
	// document waits for external reprocessing.
	DocumentFailed DocumentStatus = "failed"
)

// CanTransitionTo encodes the lifecycle
// pending -> processing -> {ingested | failed}. Ingested and failed documents
// may be re-ingested (back through processing); processing may fall back to
// pending only through crash recovery. No transition ever returns a finished
// document to pending directly.
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	switch s {
	case DocumentPending:
		return next == DocumentProcessing
	case DocumentProcessing:
		return next == DocumentIngested || next == DocumentFailed || next == DocumentPending
	case DocumentIngested, DocumentFailed:
		return next == DocumentProcessing
	}
	return false
}

// Document is the core's view of one source document. The bytes live with the
// upload collaborator; the core references the document by id only.
type Document struct {
	ID     string `json:"id"`
	DealID string `json:"deal_id"`
	// ContentHash identifies the parsed content. Re-ingesting an unchanged
	// hash is a no-op; a new hash supersedes the document's prior facts.
	ContentHash string         `json:"content_hash"`
	Status      DocumentStatus `json:"status"`
	// Attempts counts ingestion tries, bounded by the coordinator.
	Attempts   int        `json:"attempts"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	IngestedAt *time.Time `json:"ingested_at,omitempty"`
}

// Validate checks the fields required to register a document.
func (d *Document) Validate() error {
	if d.ID == "" {
		return Validationf("document has no id")
	}
	if d.DealID == "" {
		return Validationf("document has no deal id")
	}
	if d.ContentHash == "" {
		return Validationf("document has no content hash")
	}
	return nil
}

// RawObject is the object half of an extraction unit before normalization.
// Scalars arrive in Value; relationship units name the target entity in
// EntityMention instead.
type RawObject struct {
	// Value holds a scalar (string, number, bool) or a JSON payload from the
	// extraction collaborator. Broken JSON strings are repaired before
	// parsing rather than rejected.
	Value interface{} `json:"value,omitempty" yaml:"value,omitempty"`
	// EntityMention names the object entity for relationship units.
	EntityMention string `json:"entity_mention,omitempty" yaml:"entity_mention,omitempty"`
	// EntityType types the mentioned object entity, when known.
	EntityType string `json:"entity_type,omitempty" yaml:"entity_type,omitempty"`
	// Unit qualifies numeric values ("USD", "%").
	Unit string `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// ExtractionUnit is one candidate assertion from the document-parsing
// collaborator. Units are applied strictly in order within a document.
type ExtractionUnit struct {
	SubjectMention string    `json:"subject_mention" yaml:"subject_mention"`
	SubjectType    string    `json:"subject_type,omitempty" yaml:"subject_type,omitempty"`
	Predicate      string    `json:"predicate" yaml:"predicate"`
	Object         RawObject `json:"object" yaml:"object"`
	Locator        Locator   `json:"locator" yaml:"locator"`
	RawConfidence  float64   `json:"raw_confidence" yaml:"raw_confidence"`
	// Method tags the extraction mechanism ("table", "prose", "manual").
	Method string `json:"method,omitempty" yaml:"method,omitempty"`
	// ValidAt carries the real-world effective time when the extractor
	// could determine one.
	ValidAt *time.Time `json:"valid_at,omitempty" yaml:"valid_at,omitempty"`
}

// Validate rejects units the coordinator must skip: missing subject,
// predicate, or locator, or a confidence outside [0,1].
func (u *ExtractionUnit) Validate() error {
	if u.SubjectMention == "" {
		return Validationf("unit has no subject mention")
	}
	if u.Predicate == "" {
		return Validationf("unit has no predicate")
	}
	if u.Locator.IsZero() {
		return Validationf("unit has no source locator")
	}
	if u.RawConfidence < 0 || u.RawConfidence > 1 {
		return Validationf("unit confidence %v outside [0,1]", u.RawConfidence)
	}
	if u.Object.Value == nil && u.Object.EntityMention == "" {
		return Validationf("unit has no object")
	}
	return nil
}
