package dto

import (
	"errors"
	"strings"

	"github.com/harborstone/dealgraph/pkg/types"
)

// IngestRequest submits one document's extraction units.
type IngestRequest struct {
	DealID      string `json:"deal_id" binding:"required"`
	DocumentID  string `json:"document_id" binding:"required"`
	ContentHash string `json:"content_hash" binding:"required"`
	// Units are passed through to the coordinator, which skips malformed
	// ones individually; only the envelope is validated here.
	Units []types.ExtractionUnit `json:"units"`
	// Async queues the document for background processing and returns
	// immediately.
	Async bool `json:"async,omitempty"`
}

// Validate checks the request envelope.
func (r *IngestRequest) Validate() error {
	if strings.TrimSpace(r.DealID) == "" {
		return ErrEmptyDealID
	}
	if len(r.DealID) > MaxDealIDLength {
		return ErrDealIDTooLong
	}
	if strings.TrimSpace(r.DocumentID) == "" {
		return ErrEmptyDocumentID
	}
	if len(r.DocumentID) > MaxDocumentIDLength {
		return errors.New("document_id exceeds maximum length (1024)")
	}
	if strings.TrimSpace(r.ContentHash) == "" {
		return errors.New("content_hash cannot be empty")
	}
	if len(r.Units) > MaxUnitsCount {
		return errors.New("units count exceeds maximum (10000)")
	}
	return nil
}

// Document builds the registration record for the request.
func (r *IngestRequest) Document() *types.Document {
	return &types.Document{
		ID:          r.DocumentID,
		DealID:      r.DealID,
		ContentHash: r.ContentHash,
	}
}

// IngestResponse reports a synchronous ingest outcome.
type IngestResponse struct {
	DocumentID     string `json:"document_id"`
	Written        int    `json:"written"`
	Skipped        int    `json:"skipped"`
	Ambiguous      int    `json:"ambiguous"`
	Superseded     int    `json:"superseded"`
	Contradictions int    `json:"contradictions"`
	Unchanged      bool   `json:"unchanged"`
}

// EnqueueResponse reports an async submission.
type EnqueueResponse struct {
	DocumentID string `json:"document_id"`
	Queued     bool   `json:"queued"`
}

// RecoverResponse reports an orphan recovery pass.
type RecoverResponse struct {
	Recovered int `json:"recovered"`
}
