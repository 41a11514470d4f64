package dto

import (
	"errors"
	"strings"
	"time"
)

// QueryRequest asks a question against one deal.
type QueryRequest struct {
	DealID string `json:"deal_id" binding:"required"`
	Text   string `json:"text"`
	K      int    `json:"k,omitempty"`
	// EntityFilter restricts answers to facts about these entities.
	EntityFilter []string `json:"entity_filter,omitempty"`
	// AsOf answers as of a past instant.
	AsOf *time.Time `json:"as_of,omitempty"`
}

// Validate checks the request envelope.
func (r *QueryRequest) Validate() error {
	if strings.TrimSpace(r.DealID) == "" {
		return ErrEmptyDealID
	}
	if len(r.DealID) > MaxDealIDLength {
		return ErrDealIDTooLong
	}
	if strings.TrimSpace(r.Text) == "" && len(r.EntityFilter) == 0 {
		return errors.New("text or entity_filter is required")
	}
	if len(r.Text) > MaxQueryLength {
		return errors.New("text exceeds maximum length (8KB)")
	}
	if r.K < 0 || r.K > MaxAnswerCount {
		return errors.New("k outside [0,100]")
	}
	if len(r.EntityFilter) > MaxFilterCount {
		return errors.New("entity_filter count exceeds maximum (50)")
	}
	return nil
}
