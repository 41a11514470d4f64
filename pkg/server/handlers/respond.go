// Package handlers implements the HTTP API endpoints over the dealgraph
// client.
package handlers

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"github.com/harborstone/dealgraph/pkg/server/dto"
	"github.com/harborstone/dealgraph/pkg/types"
)

// respondError maps domain sentinels onto HTTP statuses so clients can
// tell bad input from missing records from transient trouble.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, types.ErrValidation):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
	case errors.Is(err, types.ErrNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "not_found", Message: err.Error()})
	case errors.Is(err, types.ErrResolutionAmbiguity):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: "ambiguous_resolution", Message: err.Error()})
	case errors.Is(err, types.ErrAlreadyInvalidated):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: "already_invalidated", Message: err.Error()})
	case errors.Is(err, types.ErrInvalidTransition):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: "invalid_transition", Message: err.Error()})
	case errors.Is(err, types.ErrTransientStore):
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "store_unavailable", Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal_error", Message: err.Error()})
	}
}

// badRequest reports an envelope validation failure.
func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
}
