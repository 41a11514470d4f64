package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harborstone/dealgraph"
	"github.com/harborstone/dealgraph/pkg/server/dto"
	"github.com/harborstone/dealgraph/pkg/types"
)

// DealsHandler serves per-deal read endpoints and snapshot exports.
type DealsHandler struct {
	client dealgraph.DealGraph
}

// NewDealsHandler creates a new deals handler.
func NewDealsHandler(client dealgraph.DealGraph) *DealsHandler {
	return &DealsHandler{client: client}
}

// ListDocuments handles GET /api/v1/deals/:deal_id/documents. An optional
// ?status= narrows to one lifecycle state.
func (h *DealsHandler) ListDocuments(c *gin.Context) {
	dealID := c.Param("deal_id")
	status := types.DocumentStatus(c.Query("status"))

	docs, err := h.client.Documents(c.Request.Context(), dealID, status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

// GetDocument handles GET /api/v1/deals/:deal_id/documents/:document_id.
func (h *DealsHandler) GetDocument(c *gin.Context) {
	doc, err := h.client.GetDocument(c.Request.Context(), c.Param("deal_id"), c.Param("document_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// ListContradictions handles GET /api/v1/deals/:deal_id/contradictions. An
// optional ?state= narrows to one resolution state.
func (h *DealsHandler) ListContradictions(c *gin.Context) {
	dealID := c.Param("deal_id")
	state := types.ContradictionState(c.Query("state"))

	records, err := h.client.Contradictions(c.Request.Context(), dealID, state)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contradictions": records})
}

// Stats handles GET /api/v1/deals/:deal_id/stats.
func (h *DealsHandler) Stats(c *gin.Context) {
	stats, err := h.client.Stats(c.Request.Context(), c.Param("deal_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Export handles POST /api/v1/deals/:deal_id/export. The body may name an
// output directory; otherwise the configured export path is used.
func (h *DealsHandler) Export(c *gin.Context) {
	var req dto.ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return
	}

	manifest, err := h.client.Export(c.Request.Context(), c.Param("deal_id"), req.Dir)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, manifest)
}
