package mentions_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborstone/dealgraph/pkg/config"
	"github.com/harborstone/dealgraph/pkg/factstore"
	"github.com/harborstone/dealgraph/pkg/mentions"
	"github.com/harborstone/dealgraph/pkg/types"
)

const dealID = "deal-1"

func newLexiconStore(t *testing.T) factstore.Store {
	t.Helper()
	store, err := factstore.NewBadgerStore(factstore.Config{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	seed := []*types.Entity{
		{DealID: dealID, Name: "Acme Corporation", Type: "company", Aliases: []string{"Acme Corporation", "Acme"}},
		{DealID: dealID, Name: "Jordan Lee", Type: "person", Aliases: []string{"Jordan Lee"}},
		{DealID: dealID, Name: "Meridian Partners", Type: "company", Aliases: []string{"Meridian Partners"}},
	}
	for _, e := range seed {
		require.NoError(t, store.CreateEntity(ctx, e))
	}
	return store
}

func TestLexiconTagger(t *testing.T) {
	store := newLexiconStore(t)
	tagger := mentions.NewLexiconTagger(store)
	ctx := context.Background()

	found, err := tagger.Tag(ctx, dealID, "What was Acme Corporation's Q3 revenue according to Jordan Lee?")
	require.NoError(t, err)
	require.Len(t, found, 2)

	byText := map[string]mentions.Mention{}
	for _, m := range found {
		byText[m.Text] = m
	}
	require.Contains(t, byText, "Acme Corporation")
	require.Contains(t, byText, "Jordan Lee")
	assert.Equal(t, "company", byText["Acme Corporation"].Type)
	assert.Equal(t, "person", byText["Jordan Lee"].Type)
	assert.Equal(t, 1.0, byText["Acme Corporation"].Score)

	t.Run("longest match wins", func(t *testing.T) {
		// "Acme Corporation" must not additionally surface the shorter
		// "Acme" alias from the same tokens.
		for _, m := range found {
			assert.NotEqual(t, "Acme", m.Text)
		}
	})

	t.Run("short alias matches alone", func(t *testing.T) {
		found, err := tagger.Tag(ctx, dealID, "how much revenue did acme book")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "Acme", found[0].Text)
	})

	t.Run("repeated mention reported once", func(t *testing.T) {
		found, err := tagger.Tag(ctx, dealID, "Jordan Lee said Jordan Lee signed")
		require.NoError(t, err)
		assert.Len(t, found, 1)
	})

	t.Run("no known aliases", func(t *testing.T) {
		found, err := tagger.Tag(ctx, dealID, "total addressable market for widgets")
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("unknown deal has empty lexicon", func(t *testing.T) {
		found, err := tagger.Tag(ctx, "deal-other", "Acme Corporation")
		require.NoError(t, err)
		assert.Empty(t, found)
	})
}

func TestNewTagger(t *testing.T) {
	store := newLexiconStore(t)

	tagger, err := mentions.NewTagger(config.MentionsConfig{}, store)
	require.NoError(t, err)
	assert.IsType(t, &mentions.LexiconTagger{}, tagger)

	_, err = mentions.NewTagger(config.MentionsConfig{Provider: "spacy"}, store)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mentions provider")
}

func TestTaggerInterface(t *testing.T) {
	var _ mentions.Tagger = (*mentions.LexiconTagger)(nil)
	var _ mentions.Tagger = (*mentions.GLiNERTagger)(nil)
	var _ mentions.Tagger = (*mentions.RustBertTagger)(nil)
}

func TestGLiNERTagger(t *testing.T) {
	t.Skip("Skip integration test - requires GLiNER ONNX model")

	tagger, err := mentions.NewGLiNERTagger(config.MentionsConfig{MinScore: 0.5})
	require.NoError(t, err)
	defer tagger.Close()

	found, err := tagger.Tag(context.Background(), dealID,
		"Did Goldman Sachs advise Acme Corporation on the carve-out?")
	require.NoError(t, err)
	assert.NotEmpty(t, found)
}

func TestRustBertTagger(t *testing.T) {
	t.Skip("Skip integration test - requires libtorch runtime")

	tagger, err := mentions.NewRustBertTagger(config.MentionsConfig{MinScore: 0.5})
	require.NoError(t, err)
	defer tagger.Close()

	found, err := tagger.Tag(context.Background(), dealID,
		"Did Goldman Sachs advise Acme Corporation on the carve-out?")
	require.NoError(t, err)
	assert.NotEmpty(t, found)
}
