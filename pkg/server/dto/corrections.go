package dto

import (
	"errors"
	"strings"

	"github.com/harborstone/dealgraph/pkg/types"
)

// MergeEntitiesRequest redirects loser onto winner.
type MergeEntitiesRequest struct {
	DealID   string `json:"deal_id" binding:"required"`
	WinnerID string `json:"winner_id" binding:"required"`
	LoserID  string `json:"loser_id" binding:"required"`
}

// Validate checks the request envelope.
func (r *MergeEntitiesRequest) Validate() error {
	if strings.TrimSpace(r.DealID) == "" {
		return ErrEmptyDealID
	}
	if strings.TrimSpace(r.WinnerID) == "" || strings.TrimSpace(r.LoserID) == "" {
		return errors.New("winner_id and loser_id are required")
	}
	if r.WinnerID == r.LoserID {
		return errors.New("winner_id and loser_id must differ")
	}
	return nil
}

// InvalidateFactRequest closes a fact's validity interval.
type InvalidateFactRequest struct {
	DealID string `json:"deal_id" binding:"required"`
	FactID string `json:"fact_id" binding:"required"`
}

// Validate checks the request envelope.
func (r *InvalidateFactRequest) Validate() error {
	if strings.TrimSpace(r.DealID) == "" {
		return ErrEmptyDealID
	}
	if strings.TrimSpace(r.FactID) == "" {
		return errors.New("fact_id cannot be empty")
	}
	return nil
}

// ResolveContradictionRequest records a reviewer's judgment.
type ResolveContradictionRequest struct {
	DealID          string `json:"deal_id" binding:"required"`
	ContradictionID string `json:"contradiction_id" binding:"required"`
	// State is the resolution: "dismissed" or "superseded".
	State      string `json:"state" binding:"required"`
	ResolvedBy string `json:"resolved_by,omitempty"`
}

// Validate checks the request envelope.
func (r *ResolveContradictionRequest) Validate() error {
	if strings.TrimSpace(r.DealID) == "" {
		return ErrEmptyDealID
	}
	if strings.TrimSpace(r.ContradictionID) == "" {
		return errors.New("contradiction_id cannot be empty")
	}
	switch types.ContradictionState(r.State) {
	case types.ContradictionDismissed, types.ContradictionSuperseded:
		return nil
	}
	return errors.New("state must be dismissed or superseded")
}

// ExportRequest triggers a parquet snapshot.
type ExportRequest struct {
	// Dir overrides the configured export directory.
	Dir string `json:"dir,omitempty"`
}
