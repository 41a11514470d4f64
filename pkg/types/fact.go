package types

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ObjectKind discriminates the typed object carried by a fact.
type ObjectKind string

const (
	// ObjectText holds free-form categorical or descriptive text.
	ObjectText ObjectKind = "text"
	// ObjectNumber holds a numeric value, optionally with a unit tag.
	ObjectNumber ObjectKind = "number"
	// ObjectBool holds a yes/no assertion.
	ObjectBool ObjectKind = "bool"
	// ObjectDate holds a point-in-time value.
	ObjectDate ObjectKind = "date"
	// ObjectEntity holds a reference to another entity; facts with entity
	// objects are the graph's relationships.
	ObjectEntity ObjectKind = "entity"
)

// ObjectValue is the typed object of a fact. Exactly one payload field is
// meaningful, selected by Kind.
type ObjectValue struct {
	Kind     ObjectKind `json:"kind"`
	Text     string     `json:"text,omitempty"`
	Number   float64    `json:"number,omitempty"`
	Bool     bool       `json:"bool,omitempty"`
	Date     *time.Time `json:"date,omitempty"`
	EntityID string     `json:"entity_id,omitempty"`
	// Unit qualifies numeric objects ("USD", "EUR", "%", "FTE").
	Unit string `json:"unit,omitempty"`
}

// IsNumeric reports whether the object participates in tolerance-based
// contradiction checks.
func (o ObjectValue) IsNumeric() bool {
	return o.Kind == ObjectNumber
}

// Validate checks that the payload matching Kind is present.
func (o ObjectValue) Validate() error {
	switch o.Kind {
	case ObjectText:
		if strings.TrimSpace(o.Text) == "" {
			return Validationf("text object is empty")
		}
	case ObjectNumber:
		if math.IsNaN(o.Number) || math.IsInf(o.Number, 0) {
			return Validationf("numeric object is not a finite number")
		}
	case ObjectBool:
		// any bool is fine
	case ObjectDate:
		if o.Date == nil || o.Date.IsZero() {
			return Validationf("date object is empty")
		}
	case ObjectEntity:
		if o.EntityID == "" {
			return Validationf("entity object has no entity id")
		}
	default:
		return Validationf("unknown object kind %q", o.Kind)
	}
	return nil
}

// Equal reports value equality between two objects of the same kind.
// Numeric comparison is exact here; tolerance belongs to the detector.
func (o ObjectValue) Equal(other ObjectValue) bool {
	if o.Kind != other.Kind {
		return false
	}
	switch o.Kind {
	case ObjectText:
		return strings.EqualFold(strings.TrimSpace(o.Text), strings.TrimSpace(other.Text))
	case ObjectNumber:
		return o.Number == other.Number && o.Unit == other.Unit
	case ObjectBool:
		return o.Bool == other.Bool
	case ObjectDate:
		if o.Date == nil || other.Date == nil {
			return o.Date == other.Date
		}
		return o.Date.Equal(*other.Date)
	case ObjectEntity:
		return o.EntityID == other.EntityID
	}
	return false
}

// String renders the object for claim text and lexical indexing.
func (o ObjectValue) String() string {
	switch o.Kind {
	case ObjectText:
		return o.Text
	case ObjectNumber:
		if o.Unit != "" {
			return fmt.Sprintf("%g %s", o.Number, o.Unit)
		}
		return fmt.Sprintf("%g", o.Number)
	case ObjectBool:
		if o.Bool {
			return "true"
		}
		return "false"
	case ObjectDate:
		if o.Date == nil {
			return ""
		}
		return o.Date.Format("2006-01-02")
	case ObjectEntity:
		return o.EntityID
	}
	return ""
}

// TextObject, NumberObject, BoolObject, DateObject, and EntityObject are
// shorthand constructors used heavily in tests and handlers.
func TextObject(s string) ObjectValue { return ObjectValue{Kind: ObjectText, Text: s} }

func NumberObject(v float64, unit string) ObjectValue {
	return ObjectValue{Kind: ObjectNumber, Number: v, Unit: unit}
}

func BoolObject(b bool) ObjectValue { return ObjectValue{Kind: ObjectBool, Bool: b} }

func DateObject(t time.Time) ObjectValue { return ObjectValue{Kind: ObjectDate, Date: &t} }

func EntityObject(entityID string) ObjectValue {
	return ObjectValue{Kind: ObjectEntity, EntityID: entityID}
}

// Locator pins a fact to a position inside its source document. At least one
// field must be set: facts without provenance are rejected at ingestion.
type Locator struct {
	Page    int    `json:"page,omitempty" yaml:"page,omitempty"`
	Sheet   string `json:"sheet,omitempty" yaml:"sheet,omitempty"`
	Cell    string `json:"cell,omitempty" yaml:"cell,omitempty"`
	Section string `json:"section,omitempty" yaml:"section,omitempty"`
	// Quote carries a short supporting snippet for display, never the
	// document body.
	Quote string `json:"quote,omitempty" yaml:"quote,omitempty"`
}

// IsZero reports whether the locator carries no position at all.
func (l Locator) IsZero() bool {
	return l.Page == 0 && l.Sheet == "" && l.Cell == "" && l.Section == ""
}

// String renders a compact human-readable position ("sheet P&L cell B7").
func (l Locator) String() string {
	parts := make([]string, 0, 4)
	if l.Page > 0 {
		parts = append(parts, fmt.Sprintf("page %d", l.Page))
	}
	if l.Sheet != "" {
		parts = append(parts, fmt.Sprintf("sheet %s", l.Sheet))
	}
	if l.Cell != "" {
		parts = append(parts, fmt.Sprintf("cell %s", l.Cell))
	}
	if l.Section != "" {
		parts = append(parts, fmt.Sprintf("section %s", l.Section))
	}
	if len(parts) == 0 {
		return "unlocated"
	}
	return strings.Join(parts, " ")
}

// Fact is a single bi-temporal assertion. Facts are immutable once written;
// the only permitted change is setting InvalidAt through the store, which
// keeps the full audit history intact.
type Fact struct {
	ID        string      `json:"id"`
	DealID    string      `json:"deal_id"`
	SubjectID string      `json:"subject_id"`
	Predicate string      `json:"predicate"`
	Object    ObjectValue `json:"object"`

	// Claim is the rendered assertion text ("Acme Corp q3_revenue 5.2e6 USD"
	// as prose). It feeds the lexical index, the embedder, and citations.
	Claim string `json:"claim"`

	// ValidAt is when the assertion became true in the world, when known.
	ValidAt *time.Time `json:"valid_at,omitempty"`
	// InvalidAt is set when the fact is superseded or withdrawn.
	InvalidAt *time.Time `json:"invalid_at,omitempty"`
	// RecordedAt is when the system learned of the assertion.
	RecordedAt time.Time `json:"recorded_at"`

	DocumentID string  `json:"document_id"`
	Locator    Locator `json:"locator"`
	Confidence float64 `json:"confidence"`
	// Method tags how the unit was extracted ("table", "prose", "manual").
	Method string `json:"method,omitempty"`

	Embedding []float32              `json:"embedding,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// IsRelationship reports whether this fact is a typed edge between entities.
func (f *Fact) IsRelationship() bool {
	return f.Object.Kind == ObjectEntity
}

// Valid reports whether the fact has not been invalidated.
func (f *Fact) Valid() bool {
	return f.InvalidAt == nil
}

// ValidDuring reports whether the fact's [ValidAt, InvalidAt) interval covers
// t. A nil ValidAt means "true since before observation"; a nil InvalidAt
// means the interval is open-ended.
func (f *Fact) ValidDuring(t time.Time) bool {
	if f.ValidAt != nil && t.Before(*f.ValidAt) {
		return false
	}
	if f.InvalidAt != nil && !t.Before(*f.InvalidAt) {
		return false
	}
	return true
}

// OverlapsValidity reports whether two facts' validity intervals intersect.
// Open ends extend to infinity on their side.
func (f *Fact) OverlapsValidity(other *Fact) bool {
	// f ends before other starts
	if f.InvalidAt != nil && other.ValidAt != nil && !other.ValidAt.Before(*f.InvalidAt) {
		return false
	}
	// other ends before f starts
	if other.InvalidAt != nil && f.ValidAt != nil && !f.ValidAt.Before(*other.InvalidAt) {
		return false
	}
	return true
}

// Validate enforces the ingestion invariants: subject, predicate, provenance,
// a confidence in [0,1], a well-formed object, and temporal ordering.
func (f *Fact) Validate() error {
	if f.DealID == "" {
		return Validationf("fact has no deal id")
	}
	if f.SubjectID == "" {
		return Validationf("fact has no subject")
	}
	if strings.TrimSpace(f.Predicate) == "" {
		return Validationf("fact has no predicate")
	}
	if f.DocumentID == "" {
		return Validationf("fact has no source document")
	}
	if f.Locator.IsZero() {
		return Validationf("fact has no source locator")
	}
	if f.Confidence < 0 || f.Confidence > 1 {
		return Validationf("confidence %v outside [0,1]", f.Confidence)
	}
	if err := f.Object.Validate(); err != nil {
		return err
	}
	if f.ValidAt != nil && f.InvalidAt != nil && f.InvalidAt.Before(*f.ValidAt) {
		return Validationf("invalid_at %s precedes valid_at %s",
			f.InvalidAt.Format(time.RFC3339), f.ValidAt.Format(time.RFC3339))
	}
	return nil
}

// NormalizePredicate lowercases and snake-cases a predicate so "Q3 Revenue"
// and "q3_revenue" address the same fact stream.
func NormalizePredicate(p string) string {
	p = strings.TrimSpace(strings.ToLower(p))
	fields := strings.FieldsFunc(p, func(r rune) bool {
		return r == ' ' || r == '-' || r == '\t'
	})
	return strings.Join(fields, "_")
}
