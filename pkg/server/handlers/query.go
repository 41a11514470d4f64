package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/harborstone/dealgraph"
	"github.com/harborstone/dealgraph/pkg/server/dto"
)

// QueryHandler handles retrieval requests.
type QueryHandler struct {
	client dealgraph.DealGraph
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(client dealgraph.DealGraph) *QueryHandler {
	return &QueryHandler{client: client}
}

// Query handles POST /api/v1/query.
func (h *QueryHandler) Query(c *gin.Context) {
	var req dto.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.client.Query(c.Request.Context(), dealgraph.QueryRequest{
		DealID:       req.DealID,
		Text:         req.Text,
		K:            req.K,
		EntityFilter: req.EntityFilter,
		AsOf:         req.AsOf,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ReadAsOf handles GET /api/v1/deals/:deal_id/facts/as-of. Query params:
// entity_id, predicate, and an optional RFC3339 "at" defaulting to now.
func (h *QueryHandler) ReadAsOf(c *gin.Context) {
	dealID := c.Param("deal_id")
	entityID := c.Query("entity_id")
	predicate := c.Query("predicate")
	if entityID == "" || predicate == "" {
		badRequest(c, errors.New("entity_id and predicate are required"))
		return
	}

	at := time.Now().UTC()
	if raw := c.Query("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, errors.New("at must be RFC3339"))
			return
		}
		at = parsed
	}

	fact, err := h.client.ReadAsOf(c.Request.Context(), dealID, entityID, predicate, at)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, fact)
}

// History handles GET /api/v1/deals/:deal_id/facts/history. Query params:
// entity_id, predicate.
func (h *QueryHandler) History(c *gin.Context) {
	dealID := c.Param("deal_id")
	entityID := c.Query("entity_id")
	predicate := c.Query("predicate")
	if entityID == "" || predicate == "" {
		badRequest(c, errors.New("entity_id and predicate are required"))
		return
	}

	facts, err := h.client.History(c.Request.Context(), dealID, entityID, predicate)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"facts": facts})
}
