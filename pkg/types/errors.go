package types

import (
	"github.com/cockroachdb/errors"
)

// Error taxonomy shared by every dealgraph component. Callers classify with
// errors.Is; wrapping with errors.Wrapf preserves the mark.
var (
	// ErrValidation marks malformed input: the offending unit is skipped and
	// logged, never fatal to its batch.
	ErrValidation = errors.New("validation failed")

	// ErrTransientStore marks infrastructure failures that are safe to retry
	// with backoff (connection drops, timeouts, contended writes).
	ErrTransientStore = errors.New("transient store failure")

	// ErrResolutionAmbiguity marks an entity-resolution tie that cannot be
	// broken automatically. The mention stays unmerged pending human review.
	ErrResolutionAmbiguity = errors.New("ambiguous entity resolution")

	// ErrRetrievalTimeout marks a retrieval that exceeded its total deadline.
	// Sub-search timeouts degrade to partial results instead of raising this.
	ErrRetrievalTimeout = errors.New("retrieval deadline exceeded")

	// ErrProvenanceMissing marks a fact whose source locator cannot be
	// resolved to a live document. Such facts are excluded from responses.
	ErrProvenanceMissing = errors.New("provenance missing")

	// ErrNotFound is returned for lookups of unknown facts, entities,
	// documents, or contradictions.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyInvalidated rejects a second invalidation of the same fact.
	ErrAlreadyInvalidated = errors.New("fact already invalidated")

	// ErrInvalidTransition rejects a document or contradiction state change
	// the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Validationf builds an ErrValidation-marked error with formatted detail.
func Validationf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

// Transientf builds an ErrTransientStore-marked error with formatted detail.
func Transientf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrTransientStore)
}

// MarkTransient wraps err so errors.Is(err, ErrTransientStore) holds, keeping
// the original chain intact. A nil err stays nil.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrTransientStore)
}
