package main

import (
	"context"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"

	"github.com/harborstone/dealgraph"
	"github.com/harborstone/dealgraph/pkg/types"
)

// Tool request/response types

// IngestDocumentRequest represents the parameters for ingesting a document
type IngestDocumentRequest struct {
	DealID      string                 `json:"deal_id,omitempty"`
	DocumentID  string                 `json:"document_id"`
	ContentHash string                 `json:"content_hash"`
	Units       []types.ExtractionUnit `json:"units"`
}

// QueryDealRequest represents query parameters
type QueryDealRequest struct {
	DealID    string   `json:"deal_id,omitempty"`
	Query     string   `json:"query"`
	Limit     int      `json:"limit,omitempty"`
	AsOf      string   `json:"as_of,omitempty"` // RFC3339
	EntityIDs []string `json:"entity_ids,omitempty"`
}

// FactReadRequest represents parameters for temporal fact reads
type FactReadRequest struct {
	DealID    string `json:"deal_id,omitempty"`
	EntityID  string `json:"entity_id"`
	Predicate string `json:"predicate"`
	At        string `json:"at,omitempty"` // RFC3339, defaults to now
}

// ListContradictionsRequest represents parameters for listing contradictions
type ListContradictionsRequest struct {
	DealID string `json:"deal_id,omitempty"`
	State  string `json:"state,omitempty"` // unresolved, superseded, dismissed
}

// ResolveContradictionRequest represents parameters for resolving a contradiction
type ResolveContradictionRequest struct {
	DealID          string `json:"deal_id,omitempty"`
	ContradictionID string `json:"contradiction_id"`
	State           string `json:"state"` // superseded or dismissed
	ResolvedBy      string `json:"resolved_by,omitempty"`
}

// MergeEntitiesRequest represents parameters for merging entities
type MergeEntitiesRequest struct {
	DealID   string `json:"deal_id,omitempty"`
	WinnerID string `json:"winner_id"`
	LoserID  string `json:"loser_id"`
}

// InvalidateFactRequest represents parameters for invalidating a fact
type InvalidateFactRequest struct {
	DealID string `json:"deal_id,omitempty"`
	FactID string `json:"fact_id"`
}

// StatsRequest represents parameters for deal stats
type StatsRequest struct {
	DealID string `json:"deal_id,omitempty"`
}

// ToolResponse is a generic response wrapper
type ToolResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// dealOrDefault falls back to the server's configured deal.
func (s *MCPServer) dealOrDefault(dealID string) string {
	if dealID == "" {
		return s.config.DealID
	}
	return dealID
}

// formatFact renders a fact for tool output.
func formatFact(f *types.Fact) map[string]interface{} {
	out := map[string]interface{}{
		"id":          f.ID,
		"subject_id":  f.SubjectID,
		"predicate":   f.Predicate,
		"object":      f.Object.String(),
		"claim":       f.Claim,
		"document_id": f.DocumentID,
		"locator":     f.Locator.String(),
		"confidence":  f.Confidence,
		"recorded_at": f.RecordedAt.Format(time.RFC3339),
		"valid":       f.Valid(),
	}
	if f.Object.Unit != "" {
		out["unit"] = f.Object.Unit
	}
	if f.ValidAt != nil {
		out["valid_at"] = f.ValidAt.Format(time.RFC3339)
	}
	if f.InvalidAt != nil {
		out["invalid_at"] = f.InvalidAt.Format(time.RFC3339)
	}
	return out
}

// IngestDocumentTool handles ingesting a document's extraction units
// This is the primary way to add information to the store.
func (s *MCPServer) IngestDocumentTool(ctx *ai.ToolContext, input *IngestDocumentRequest) (*ToolResponse, error) {
	// Validate required fields
	if input.DocumentID == "" {
		return &ToolResponse{
			Success: false,
			Error:   "DocumentID is required",
		}, nil
	}
	if input.ContentHash == "" {
		return &ToolResponse{
			Success: false,
			Error:   "ContentHash is required",
		}, nil
	}

	dealID := s.dealOrDefault(input.DealID)

	res, err := s.client.IngestDocument(context.Background(), &types.Document{
		ID:          input.DocumentID,
		DealID:      dealID,
		ContentHash: input.ContentHash,
	}, input.Units)
	if err != nil {
		s.logger.Error("Failed to ingest document", "document_id", input.DocumentID, "error", err)
		return &ToolResponse{
			Success: false,
			Error:   fmt.Sprintf("Failed to ingest document: %v", err),
		}, nil
	}

	if res.Unchanged {
		return &ToolResponse{
			Success: true,
			Message: fmt.Sprintf("Document '%s' unchanged, content hash already ingested", input.DocumentID),
		}, nil
	}

	s.logger.Info("Document ingested", "document_id", input.DocumentID, "deal_id", dealID, "written", res.Written)
	return &ToolResponse{
		Success: true,
		Message: fmt.Sprintf("Document '%s' ingested successfully", input.DocumentID),
		Data: map[string]interface{}{
			"written":        res.Written,
			"skipped":        res.Skipped,
			"ambiguous":      res.Ambiguous,
			"superseded":     res.Superseded,
			"contradictions": res.Contradictions,
		},
	}, nil
}

// QueryDealTool handles questions against a deal
// Answers carry citations back to their source documents.
func (s *MCPServer) QueryDealTool(ctx *ai.ToolContext, input *QueryDealRequest) (*ToolResponse, error) {
	// Validate required fields
	if input.Query == "" && len(input.EntityIDs) == 0 {
		return &ToolResponse{
			Success: false,
			Error:   "Query or EntityIDs is required",
		}, nil
	}

	req := dealgraph.QueryRequest{
		DealID:       s.dealOrDefault(input.DealID),
		Text:         input.Query,
		K:            input.Limit,
		EntityFilter: input.EntityIDs,
	}
	if input.AsOf != "" {
		at, err := time.Parse(time.RFC3339, input.AsOf)
		if err != nil {
			return &ToolResponse{
				Success: false,
				Error:   "as_of must be RFC3339",
			}, nil
		}
		req.AsOf = &at
	}

	res, err := s.client.Query(context.Background(), req)
	if err != nil {
		s.logger.Error("Failed to query deal", "error", err)
		return &ToolResponse{
			Success: false,
			Error:   fmt.Sprintf("Failed to query deal: %v", err),
		}, nil
	}

	if len(res.Answers) == 0 {
		return &ToolResponse{
			Success: true,
			Message: "No relevant facts found",
			Data: map[string]interface{}{
				"answers": []interface{}{},
			},
		}, nil
	}

	answers := make([]map[string]interface{}, len(res.Answers))
	for i, a := range res.Answers {
		answers[i] = map[string]interface{}{
			"fact_id":     a.FactID,
			"claim":       a.Claim,
			"entity_id":   a.EntityID,
			"document_id": a.DocumentID,
			"locator":     a.Locator.String(),
			"confidence":  a.Confidence,
			"score":       a.Score,
			"recorded_at": a.RecordedAt.Format(time.RFC3339),
		}
		if a.ValidAt != nil {
			answers[i]["valid_at"] = a.ValidAt.Format(time.RFC3339)
		}
	}

	data := map[string]interface{}{
		"answers": answers,
	}
	if res.Partial {
		data["partial"] = true
		data["degraded"] = res.Degraded
	}
	if res.Excluded > 0 {
		data["excluded"] = res.Excluded
	}

	return &ToolResponse{
		Success: true,
		Message: fmt.Sprintf("Retrieved %d answers", len(answers)),
		Data:    data,
	}, nil
}

// ReadFactAsOfTool handles point-in-time fact reads
func (s *MCPServer) ReadFactAsOfTool(ctx *ai.ToolContext, input *FactReadRequest) (*ToolResponse, error) {
	if input.EntityID == "" || input.Predicate == "" {
		return &ToolResponse{
			Success: false,
			Error:   "EntityID and Predicate are required",
		}, nil
	}

	at := time.Now().UTC()
	if input.At != "" {
		parsed, err := time.Parse(time.RFC3339, input.At)
		if err != nil {
			return &ToolResponse{
				Success: false,
				Error:   "at must be RFC3339",
			}, nil
		}
		at = parsed
	}

	fact, err := s.client.ReadAsOf(context.Background(), s.dealOrDefault(input.DealID), input.EntityID, input.Predicate, at)
	if err != nil {
		s.logger.Error("Failed to read fact", "entity_id", input.EntityID, "predicate", input.Predicate, "error", err)
		return &ToolResponse{
			Success: false,
			Error:   fmt.Sprintf("Failed to read fact: %v", err),
		}, nil
	}

	return &ToolResponse{
		Success: true,
		Message: "Fact retrieved successfully",
		Data:    formatFact(fact),
	}, nil
}

// GetFactHistoryTool handles full-history fact reads
// Superseded and invalidated facts are included; nothing is ever deleted.
func (s *MCPServer) GetFactHistoryTool(ctx *ai.ToolContext, input *FactReadRequest) (*ToolResponse, error) {
	if input.EntityID == "" || input.Predicate == "" {
		return &ToolResponse{
			Success: false,
			Error:   "EntityID and Predicate are required",
		}, nil
	}

	facts, err := s.client.History(context.Background(), s.dealOrDefault(input.DealID), input.EntityID, input.Predicate)
	if err != nil {
		s.logger.Error("Failed to get fact history", "entity_id", input.EntityID, "predicate", input.Predicate, "error", err)
		return &ToolResponse{
			Success: false,
			Error:   fmt.Sprintf("Failed to get fact history: %v", err),
		}, nil
	}

	history := make([]map[string]interface{}, len(facts))
	for i, f := range facts {
		history[i] = formatFact(f)
	}

	return &ToolResponse{
		Success: true,
		Message: fmt.Sprintf("Retrieved %d facts", len(history)),
		Data: map[string]interface{}{
			"facts": history,
			"total": len(history),
		},
	}, nil
}

// ListContradictionsTool handles listing contradiction records
func (s *MCPServer) ListContradictionsTool(ctx *ai.ToolContext, input *ListContradictionsRequest) (*ToolResponse, error) {
	records, err := s.client.Contradictions(context.Background(), s.dealOrDefault(input.DealID), types.ContradictionState(input.State))
	if err != nil {
		s.logger.Error("Failed to list contradictions", "error", err)
		return &ToolResponse{
			Success: false,
			Error:   fmt.Sprintf("Failed to list contradictions: %v", err),
		}, nil
	}

	if len(records) == 0 {
		return &ToolResponse{
			Success: true,
			Message: "No contradictions found",
			Data: map[string]interface{}{
				"contradictions": []interface{}{},
			},
		}, nil
	}

	results := make([]map[string]interface{}, len(records))
	for i, r := range records {
		results[i] = map[string]interface{}{
			"id":          r.ID,
			"fact_a":      r.FactA,
			"fact_b":      r.FactB,
			"subject_id":  r.SubjectID,
			"predicate":   r.Predicate,
			"rationale":   r.Rationale,
			"state":       string(r.State),
			"detected_at": r.DetectedAt.Format(time.RFC3339),
		}
		if r.ResolvedAt != nil {
			results[i]["resolved_at"] = r.ResolvedAt.Format(time.RFC3339)
			results[i]["resolved_by"] = r.ResolvedBy
		}
	}

	return &ToolResponse{
		Success: true,
		Message: fmt.Sprintf("Retrieved %d contradictions", len(results)),
		Data: map[string]interface{}{
			"contradictions": results,
			"total":          len(results),
		},
	}, nil
}

// ResolveContradictionTool handles resolving a contradiction record
func (s *MCPServer) ResolveContradictionTool(ctx *ai.ToolContext, input *ResolveContradictionRequest) (*ToolResponse, error) {
	if input.ContradictionID == "" {
		return &ToolResponse{
			Success: false,
			Error:   "ContradictionID is required",
		}, nil
	}
	state := types.ContradictionState(input.State)
	if state != types.ContradictionSuperseded && state != types.ContradictionDismissed {
		return &ToolResponse{
			Success: false,
			Error:   "State must be superseded or dismissed",
		}, nil
	}

	dealID := s.dealOrDefault(input.DealID)
	err := s.client.ResolveContradiction(context.Background(), dealID, input.ContradictionID, state, input.ResolvedBy)
	if err != nil {
		s.logger.Error("Failed to resolve contradiction", "contradiction_id", input.ContradictionID, "error", err)
		return &ToolResponse{
			Success: false,
			Error:   fmt.Sprintf("Failed to resolve contradiction: %v", err),
		}, nil
	}

	s.logger.Info("Contradiction resolved", "contradiction_id", input.ContradictionID, "state", input.State)
	return &ToolResponse{
		Success: true,
		Message: fmt.Sprintf("Contradiction %s resolved as %s", input.ContradictionID, input.State),
	}, nil
}

// MergeEntitiesTool handles merging a duplicate entity into its canonical record
func (s *MCPServer) MergeEntitiesTool(ctx *ai.ToolContext, input *MergeEntitiesRequest) (*ToolResponse, error) {
	if input.WinnerID == "" || input.LoserID == "" {
		return &ToolResponse{
			Success: false,
			Error:   "WinnerID and LoserID are required",
		}, nil
	}
	if input.WinnerID == input.LoserID {
		return &ToolResponse{
			Success: false,
			Error:   "WinnerID and LoserID must differ",
		}, nil
	}

	dealID := s.dealOrDefault(input.DealID)
	err := s.client.MergeEntities(context.Background(), dealID, input.WinnerID, input.LoserID)
	if err != nil {
		s.logger.Error("Failed to merge entities", "winner_id", input.WinnerID, "loser_id", input.LoserID, "error", err)
		return &ToolResponse{
			Success: false,
			Error:   fmt.Sprintf("Failed to merge entities: %v", err),
		}, nil
	}

	s.logger.Info("Entities merged", "winner_id", input.WinnerID, "loser_id", input.LoserID)
	return &ToolResponse{
		Success: true,
		Message: fmt.Sprintf("Entity %s merged into %s", input.LoserID, input.WinnerID),
	}, nil
}

// InvalidateFactTool handles ending a fact's validity
// The fact stays in history; reads as of earlier instants still see it.
func (s *MCPServer) InvalidateFactTool(ctx *ai.ToolContext, input *InvalidateFactRequest) (*ToolResponse, error) {
	if input.FactID == "" {
		return &ToolResponse{
			Success: false,
			Error:   "FactID is required",
		}, nil
	}

	dealID := s.dealOrDefault(input.DealID)
	err := s.client.InvalidateFact(context.Background(), dealID, input.FactID)
	if err != nil {
		s.logger.Error("Failed to invalidate fact", "fact_id", input.FactID, "error", err)
		return &ToolResponse{
			Success: false,
			Error:   fmt.Sprintf("Failed to invalidate fact: %v", err),
		}, nil
	}

	s.logger.Info("Fact invalidated", "fact_id", input.FactID, "deal_id", dealID)
	return &ToolResponse{
		Success: true,
		Message: fmt.Sprintf("Fact %s invalidated", input.FactID),
	}, nil
}

// GetDealStatsTool handles bookkeeping counts for a deal
func (s *MCPServer) GetDealStatsTool(ctx *ai.ToolContext, input *StatsRequest) (*ToolResponse, error) {
	dealID := s.dealOrDefault(input.DealID)

	stats, err := s.client.Stats(context.Background(), dealID)
	if err != nil {
		s.logger.Error("Failed to get deal stats", "deal_id", dealID, "error", err)
		return &ToolResponse{
			Success: false,
			Error:   fmt.Sprintf("Failed to get deal stats: %v", err),
		}, nil
	}

	contradictions := make(map[string]int, len(stats.Contradictions))
	for state, n := range stats.Contradictions {
		contradictions[string(state)] = n
	}
	documents := make(map[string]int, len(stats.Documents))
	for status, n := range stats.Documents {
		documents[string(status)] = n
	}

	return &ToolResponse{
		Success: true,
		Message: "Stats retrieved successfully",
		Data: map[string]interface{}{
			"deal_id":           stats.DealID,
			"entities":          stats.Entities,
			"facts_valid":       stats.FactsValid,
			"facts_invalidated": stats.FactsInvalidated,
			"contradictions":    contradictions,
			"documents":         documents,
		},
	}, nil
}
