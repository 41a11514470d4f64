// Package dto holds the wire types of the HTTP API. Requests validate
// their envelope here; domain validation stays in the core packages.
package dto

import "errors"

// Field length bounds to keep abusive payloads off the core.
const (
	MaxDealIDLength     = 256
	MaxDocumentIDLength = 1024
	MaxQueryLength      = 8 * 1024
	MaxUnitsCount       = 10000
	MaxAnswerCount      = 100
	MaxFilterCount      = 50
)

// Validation errors shared across requests.
var (
	ErrEmptyDealID     = errors.New("deal_id cannot be empty")
	ErrDealIDTooLong   = errors.New("deal_id exceeds maximum length (256)")
	ErrEmptyDocumentID = errors.New("document_id cannot be empty")
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
