package dealgraph

import (
	"time"

	"github.com/harborstone/dealgraph/pkg/citations"
	"github.com/harborstone/dealgraph/pkg/retriever"
)

// QueryRequest describes one question against a deal.
type QueryRequest struct {
	// DealID scopes the query; required.
	DealID string `json:"deal_id"`
	// Text is the natural-language question.
	Text string `json:"text"`
	// K caps the number of answers; 0 uses the configured default.
	K int `json:"k,omitempty"`
	// EntityFilter restricts answers to facts about these entities.
	// Pre-merge ids keep working, filters canonicalize through redirects.
	EntityFilter []string `json:"entity_filter,omitempty"`
	// AsOf answers as of a past instant. Nil means now.
	AsOf *time.Time `json:"as_of,omitempty"`
}

// QueryResult is a ranked, cited answer set.
type QueryResult struct {
	Answers []*citations.Answer `json:"answers"`
	// Partial is set when a sub-search timed out or failed; the remaining
	// sources' answers are still present and usable.
	Partial bool `json:"partial"`
	// Degraded names the lost sub-searches when Partial is set.
	Degraded []retriever.Source `json:"degraded,omitempty"`
	// Excluded counts ranked facts dropped for missing or dead provenance.
	Excluded int `json:"excluded"`
}
