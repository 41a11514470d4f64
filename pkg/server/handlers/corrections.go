package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harborstone/dealgraph"
	"github.com/harborstone/dealgraph/pkg/server/dto"
	"github.com/harborstone/dealgraph/pkg/types"
)

// CorrectionsHandler handles analyst corrections: entity merges, fact
// invalidation, and contradiction resolution.
type CorrectionsHandler struct {
	client dealgraph.DealGraph
	logger *slog.Logger
}

// NewCorrectionsHandler creates a new corrections handler.
func NewCorrectionsHandler(client dealgraph.DealGraph, logger *slog.Logger) *CorrectionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CorrectionsHandler{client: client, logger: logger}
}

// MergeEntities handles POST /api/v1/corrections/merge-entities.
func (h *CorrectionsHandler) MergeEntities(c *gin.Context) {
	var req dto.MergeEntitiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.client.MergeEntities(c.Request.Context(), req.DealID, req.WinnerID, req.LoserID); err != nil {
		respondError(c, err)
		return
	}

	h.logger.Info("entities merged",
		slog.String("deal_id", req.DealID),
		slog.String("winner_id", req.WinnerID),
		slog.String("loser_id", req.LoserID))
	c.JSON(http.StatusOK, gin.H{"merged": true, "winner_id": req.WinnerID})
}

// InvalidateFact handles POST /api/v1/corrections/invalidate-fact.
func (h *CorrectionsHandler) InvalidateFact(c *gin.Context) {
	var req dto.InvalidateFactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.client.InvalidateFact(c.Request.Context(), req.DealID, req.FactID); err != nil {
		respondError(c, err)
		return
	}

	h.logger.Info("fact invalidated",
		slog.String("deal_id", req.DealID),
		slog.String("fact_id", req.FactID))
	c.JSON(http.StatusOK, gin.H{"invalidated": true, "fact_id": req.FactID})
}

// ResolveContradiction handles POST /api/v1/corrections/resolve-contradiction.
func (h *CorrectionsHandler) ResolveContradiction(c *gin.Context) {
	var req dto.ResolveContradictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		badRequest(c, err)
		return
	}

	state := types.ContradictionState(req.State)
	if err := h.client.ResolveContradiction(c.Request.Context(), req.DealID, req.ContradictionID, state, req.ResolvedBy); err != nil {
		respondError(c, err)
		return
	}

	h.logger.Info("contradiction resolved",
		slog.String("deal_id", req.DealID),
		slog.String("contradiction_id", req.ContradictionID),
		slog.String("state", req.State))
	c.JSON(http.StatusOK, gin.H{"resolved": true, "contradiction_id": req.ContradictionID, "state": req.State})
}
