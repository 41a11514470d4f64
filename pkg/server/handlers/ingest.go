package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harborstone/dealgraph"
	"github.com/harborstone/dealgraph/pkg/server/dto"
)

// IngestHandler handles document ingestion requests.
type IngestHandler struct {
	client dealgraph.DealGraph
	logger *slog.Logger
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(client dealgraph.DealGraph, logger *slog.Logger) *IngestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestHandler{client: client, logger: logger}
}

// Ingest handles POST /api/v1/ingest. Synchronous by default; async=true
// queues the document and responds 202.
func (h *IngestHandler) Ingest(c *gin.Context) {
	var req dto.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		badRequest(c, err)
		return
	}

	if req.Async {
		queued, err := h.client.EnqueueDocument(c.Request.Context(), req.Document(), req.Units)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, dto.EnqueueResponse{
			DocumentID: req.DocumentID,
			Queued:     queued,
		})
		return
	}

	result, err := h.client.IngestDocument(c.Request.Context(), req.Document(), req.Units)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.IngestResponse{
		DocumentID:     result.DocumentID,
		Written:        result.Written,
		Skipped:        result.Skipped,
		Ambiguous:      result.Ambiguous,
		Superseded:     result.Superseded,
		Contradictions: result.Contradictions,
		Unchanged:      result.Unchanged,
	})
}

// RecoverOrphans handles POST /api/v1/deals/:deal_id/recover, re-queuing
// documents stranded in processing by a crash.
func (h *IngestHandler) RecoverOrphans(c *gin.Context) {
	dealID := c.Param("deal_id")
	recovered, err := h.client.RecoverOrphans(c.Request.Context(), dealID)
	if err != nil {
		respondError(c, err)
		return
	}
	if recovered > 0 {
		h.logger.Info("recovered orphaned documents", "deal_id", dealID, "count", recovered)
	}
	c.JSON(http.StatusOK, dto.RecoverResponse{Recovered: recovered})
}
