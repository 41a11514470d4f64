package mentions

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/harborstone/dealgraph/pkg/factstore"
	"github.com/harborstone/dealgraph/pkg/utils"
)

// maxAliasTokens bounds the n-gram window; longer aliases are left out of
// the lexicon, which in practice never happens for entity names.
const maxAliasTokens = 6

// LexiconTagger finds mentions by scanning query text for the deal's known
// entity names and aliases. It cannot discover entities the store has never
// seen, but it needs no model and every hit maps directly to a resolvable
// alias, which is exactly what graph seeding wants.
type LexiconTagger struct {
	store factstore.Store
}

// NewLexiconTagger creates a tagger over store.
func NewLexiconTagger(store factstore.Store) *LexiconTagger {
	return &LexiconTagger{store: store}
}

type lexEntry struct {
	alias string
	typ   string
}

// Tag scans text for known aliases, longest match first, so "Acme Corp"
// does not additionally report "Acme". Each alias is reported once.
func (t *LexiconTagger) Tag(ctx context.Context, dealID, text string) ([]Mention, error) {
	entities, err := t.store.ListEntities(ctx, dealID)
	if err != nil {
		return nil, errors.Wrap(err, "loading deal lexicon")
	}

	lex := make(map[string]lexEntry)
	longest := 1
	for _, e := range entities {
		names := append([]string{e.Name}, e.Aliases...)
		for _, name := range names {
			toks := normTokens(name)
			if len(toks) == 0 || len(toks) > maxAliasTokens {
				continue
			}
			norm := strings.Join(toks, " ")
			if _, ok := lex[norm]; !ok {
				lex[norm] = lexEntry{alias: name, typ: e.Type}
			}
			if len(toks) > longest {
				longest = len(toks)
			}
		}
	}
	if len(lex) == 0 {
		return nil, nil
	}

	tokens := normTokens(text)
	used := make([]bool, len(tokens))
	seen := make(map[string]bool)
	var out []Mention

	for n := longest; n >= 1; n-- {
		for i := 0; i+n <= len(tokens); i++ {
			if anyUsed(used[i : i+n]) {
				continue
			}
			gram := strings.Join(tokens[i:i+n], " ")
			entry, ok := lex[gram]
			if !ok {
				continue
			}
			for j := i; j < i+n; j++ {
				used[j] = true
			}
			if seen[gram] {
				continue
			}
			seen[gram] = true
			out = append(out, Mention{Text: entry.alias, Type: entry.typ, Score: 1})
		}
	}
	return out, nil
}

// Close is a no-op; the tagger owns no model.
func (t *LexiconTagger) Close() error { return nil }

// normTokens normalizes text for alias matching, stripping trailing
// possessives so "Acme's revenue" still matches the alias "Acme". Applied
// to both the alias and the query side so names like "McDonald's" stay
// matchable too.
func normTokens(text string) []string {
	fields := strings.Fields(utils.NormalizeForMatch(text))
	out := fields[:0]
	for _, tok := range fields {
		tok = strings.TrimSuffix(tok, "'s")
		tok = strings.TrimSuffix(tok, "'")
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

func anyUsed(window []bool) bool {
	for _, u := range window {
		if u {
			return true
		}
	}
	return false
}
