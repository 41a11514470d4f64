// Package mentions tags entity mentions in query text so the retriever can
// seed its graph traversal. Three providers: a lexicon scanner that matches
// the deal's known entity aliases (no model, always available), a GLiNER
// zero-shot span tagger, and a rust-bert NER tagger. The lexicon scanner is
// the default; the model-backed taggers need ONNX / libtorch runtimes.
package mentions

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/harborstone/dealgraph/pkg/config"
	"github.com/harborstone/dealgraph/pkg/factstore"
)

// Provider identifies a tagger implementation.
type Provider string

const (
	ProviderLexicon  Provider = "lexicon"
	ProviderGLiNER   Provider = "gliner"
	ProviderRustBert Provider = "rustbert"
)

// Mention is one tagged span of query text.
type Mention struct {
	// Text is the surface form, for a lexicon hit the stored alias.
	Text string
	// Type is the entity type tag (company, person, ...). May be empty for
	// NER labels with no mapping.
	Type string
	// Score is the tagger's confidence; the lexicon scanner always reports 1.
	Score float64
}

// Tagger extracts entity mentions from free text. Tag is deal-scoped
// because the lexicon provider matches against the deal's alias set; the
// model-backed providers ignore dealID.
type Tagger interface {
	Tag(ctx context.Context, dealID, text string) ([]Mention, error)
	Close() error
}

// NewTagger builds the configured tagger. An empty provider falls back to
// the lexicon scanner.
func NewTagger(cfg config.MentionsConfig, store factstore.Store) (Tagger, error) {
	switch Provider(cfg.Provider) {
	case ProviderLexicon, "":
		return NewLexiconTagger(store), nil
	case ProviderGLiNER:
		return NewGLiNERTagger(cfg)
	case ProviderRustBert:
		return NewRustBertTagger(cfg)
	default:
		return nil, errors.Newf("unknown mentions provider: %s", cfg.Provider)
	}
}
