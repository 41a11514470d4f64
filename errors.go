package dealgraph

import "github.com/harborstone/dealgraph/pkg/types"

// Sentinel errors re-exported from pkg/types so callers can classify
// failures with errors.Is without importing the internal packages.
var (
	// ErrNotFound is returned when an entity, fact, document, or
	// contradiction does not exist.
	ErrNotFound = types.ErrNotFound
	// ErrValidation marks malformed input.
	ErrValidation = types.ErrValidation
	// ErrTransientStore marks store failures worth retrying.
	ErrTransientStore = types.ErrTransientStore
	// ErrResolutionAmbiguity is returned when a mention matches multiple
	// entities with no deterministic winner.
	ErrResolutionAmbiguity = types.ErrResolutionAmbiguity
	// ErrProvenanceMissing is returned when a fact cannot be cited.
	ErrProvenanceMissing = types.ErrProvenanceMissing
	// ErrAlreadyInvalidated is returned on double invalidation.
	ErrAlreadyInvalidated = types.ErrAlreadyInvalidated
	// ErrInvalidTransition is returned on a disallowed document or
	// contradiction state change.
	ErrInvalidTransition = types.ErrInvalidTransition
)
