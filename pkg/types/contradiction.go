package types

import (
	"time"
)

// ContradictionState is the human-resolution state of a detected conflict.
type ContradictionState string

const (
	// ContradictionUnresolved is the initial state: both facts stay valid.
	ContradictionUnresolved ContradictionState = "unresolved"
	// ContradictionDismissed records a reviewer's judgment that the facts do
	// not actually conflict.
	ContradictionDismissed ContradictionState = "dismissed"
	// ContradictionSuperseded records that one fact was invalidated in favor
	// of the other.
	ContradictionSuperseded ContradictionState = "superseded"
)

// CanTransitionTo allows resolution of an unresolved contradiction and
// nothing else; resolved records are immutable history.
func (s ContradictionState) CanTransitionTo(next ContradictionState) bool {
	return s == ContradictionUnresolved &&
		(next == ContradictionDismissed || next == ContradictionSuperseded)
}

// Contradiction links two facts judged mutually inconsistent. Detection never
// invalidates either fact: a claim that might be correct is never silently
// discarded. At most one record exists per unordered fact pair.
type Contradiction struct {
	ID     string `json:"id"`
	DealID string `json:"deal_id"`
	// FactA and FactB are stored in canonical order (see ContradictionPair)
	// so the unordered pair has one representation.
	FactA     string `json:"fact_a"`
	FactB     string `json:"fact_b"`
	SubjectID string `json:"subject_id"`
	Predicate string `json:"predicate"`
	// Rationale explains the detection ("numeric values differ by 8.0%,
	// tolerance 0.5%").
	Rationale  string             `json:"rationale"`
	State      ContradictionState `json:"state"`
	DetectedAt time.Time          `json:"detected_at"`
	ResolvedAt *time.Time         `json:"resolved_at,omitempty"`
	// ResolvedBy names the reviewer or system actor for resolved records.
	ResolvedBy string `json:"resolved_by,omitempty"`
}

// ContradictionPair canonicalizes an unordered fact pair: the smaller id
// first. Detection and storage both go through this so the at-most-one-per-
// pair invariant holds regardless of write order.
func ContradictionPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
