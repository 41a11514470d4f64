package mentions

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/soundprediction/go-rust-bert/pkg/rustbert"

	"github.com/harborstone/dealgraph/pkg/config"
	"github.com/harborstone/dealgraph/pkg/types"
)

// RustBertTagger runs a rust-bert NER model over query text. The model is
// loaded lazily on first use because libtorch startup is expensive.
type RustBertTagger struct {
	modelID  string
	minScore float64
	model    *rustbert.NERModel
	mu       sync.Mutex
}

// NewRustBertTagger creates a tagger; the model loads on the first Tag.
func NewRustBertTagger(cfg config.MentionsConfig) (*RustBertTagger, error) {
	return &RustBertTagger{modelID: cfg.ModelID, minScore: cfg.MinScore}, nil
}

func (t *RustBertTagger) load() error {
	if t.model != nil {
		return nil
	}

	if t.modelID != "" {
		modelPath, configPath, vocabPath, mergesPath, err := rustbert.DownloadArtifacts(t.modelID, "")
		if err != nil {
			return errors.Wrapf(err, "downloading NER artifacts for %s", t.modelID)
		}
		m, err := rustbert.NewNERModelFromFiles(modelPath, configPath, vocabPath, mergesPath, rustbert.ModelTypeBert)
		if err != nil {
			return errors.Wrapf(err, "loading NER model %s", t.modelID)
		}
		t.model = m
		return nil
	}

	m, err := rustbert.NewNERModel()
	if err != nil {
		return errors.Wrap(err, "loading default NER model")
	}
	t.model = m
	return nil
}

// Tag extracts named entities from text. dealID is unused.
func (t *RustBertTagger) Tag(ctx context.Context, dealID, text string) ([]Mention, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.load(); err != nil {
		return nil, err
	}

	// go-rust-bert does not support context yet.
	results, err := t.model.Predict(text)
	if err != nil {
		return nil, errors.Wrap(err, "NER prediction")
	}

	// BERT NER reports word-level spans; stitch I- continuations and ##
	// wordpieces back onto the preceding mention so "Meridian Partners"
	// comes out as one span.
	var out []Mention
	for _, e := range results {
		if e.Score < t.minScore {
			continue
		}
		label := mapNERLabel(e.Label)
		if label == "" {
			continue
		}
		piece := strings.HasPrefix(e.Word, "##")
		continues := piece || strings.HasPrefix(e.Label, "I-")
		if n := len(out); n > 0 && continues && out[n-1].Type == label {
			prev := &out[n-1]
			if piece {
				prev.Text += strings.TrimPrefix(e.Word, "##")
			} else {
				prev.Text += " " + e.Word
			}
			if e.Score < prev.Score {
				prev.Score = e.Score
			}
			continue
		}
		out = append(out, Mention{Text: e.Word, Type: label, Score: e.Score})
	}
	return out, nil
}

// Close releases the model.
func (t *RustBertTagger) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.model != nil {
		t.model.Close()
		t.model = nil
	}
	return nil
}

// mapNERLabel converts CoNLL-style and zero-shot labels to entity types.
// Unknown labels map to "" and MISC is dropped: it seeds traversal with
// noise more often than signal.
func mapNERLabel(label string) string {
	base := strings.TrimPrefix(strings.TrimPrefix(label, "B-"), "I-")
	switch strings.ToUpper(base) {
	case "PER", "PERSON":
		return types.EntityTypePerson
	case "ORG", "ORGANIZATION", "COMPANY", "ADVISOR":
		return types.EntityTypeCompany
	case "LOC", "LOCATION", "MISC":
		return ""
	}
	return types.NormalizeEntityType(base)
}
