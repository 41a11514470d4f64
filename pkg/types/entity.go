package types

import (
	"strings"
	"time"
)

// Well-known entity types. The type field is an open string tag: deal-specific
// types ("facility", "covenant") need no change here, they are treated as
// custom.
const (
	EntityTypeCompany  = "company"
	EntityTypePerson   = "person"
	EntityTypeDocument = "document"
)

// Entity is a canonical, deduplicated party. Entities are never deleted; a
// merge leaves both ids alive through the store's redirect table so stale
// references keep resolving.
type Entity struct {
	ID     string `json:"id"`
	DealID string `json:"deal_id"`
	// Name is the canonical display form, usually the first resolved mention.
	Name string `json:"name"`
	// Type is an open tag; see the well-known constants above.
	Type    string   `json:"type"`
	Aliases []string `json:"aliases,omitempty"`
	// MentionIDs are the raw mentions that resolved to this entity.
	MentionIDs  []string  `json:"mention_ids,omitempty"`
	Description string    `json:"description,omitempty"`
	Embedding   []float32 `json:"embedding,omitempty"`
	// FactCount is the number of facts with this entity as subject; the
	// resolver uses it to break candidate ties in favor of the more
	// established identity.
	FactCount int                    `json:"fact_count"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Validate checks the fields required to create an entity.
func (e *Entity) Validate() error {
	if e.DealID == "" {
		return Validationf("entity has no deal id")
	}
	if strings.TrimSpace(e.Name) == "" {
		return Validationf("entity has no name")
	}
	if strings.TrimSpace(e.Type) == "" {
		return Validationf("entity has no type")
	}
	return nil
}

// HasAlias reports whether name normalizes to one of the entity's aliases.
func (e *Entity) HasAlias(name string) bool {
	norm := NormalizeName(name)
	for _, a := range e.Aliases {
		if NormalizeName(a) == norm {
			return true
		}
	}
	return false
}

// AddAlias appends name unless an equivalent alias already exists.
func (e *Entity) AddAlias(name string) {
	if strings.TrimSpace(name) == "" || e.HasAlias(name) {
		return
	}
	e.Aliases = append(e.Aliases, name)
}

// MergeCompatible reports whether two entity types may be merged. Matching
// types always merge; a custom type may merge into a well-known one (analyst
// corrections often fix a mistyped extraction), but the well-known types
// never merge across each other.
func MergeCompatible(a, b string) bool {
	a, b = NormalizeEntityType(a), NormalizeEntityType(b)
	if a == b {
		return true
	}
	return !wellKnownType(a) || !wellKnownType(b)
}

func wellKnownType(t string) bool {
	switch t {
	case EntityTypeCompany, EntityTypePerson, EntityTypeDocument:
		return true
	}
	return false
}

// NormalizeEntityType lowercases and trims a type tag.
func NormalizeEntityType(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}

// NormalizeName lowercases a name and collapses runs of whitespace so equal
// names map to the same resolution key.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Mention is one raw entity reference observed in a document, kept so that
// resolution decisions stay auditable.
type Mention struct {
	ID         string    `json:"id"`
	DealID     string    `json:"deal_id"`
	Text       string    `json:"text"`
	Type       string    `json:"type"`
	EntityID   string    `json:"entity_id"`
	DocumentID string    `json:"document_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
