package mentions

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/soundprediction/go-gline-rs/pkg/gline"

	"github.com/harborstone/dealgraph/pkg/config"
)

const defaultGLiNERModel = "urchade/gliner_small-v2.1"

// defaultGLiNERLabels are the zero-shot labels for deal queries. GLiNER
// accepts arbitrary label strings, so deployments can extend these via
// config without retraining.
var defaultGLiNERLabels = []string{"company", "person", "organization", "advisor"}

// GLiNERTagger runs a GLiNER span model over query text. Prediction is
// serialized; the underlying ONNX session is not safe for concurrent use.
type GLiNERTagger struct {
	model    *gline.Model
	labels   []string
	minScore float64
	mu       sync.Mutex
}

// NewGLiNERTagger loads the configured span model. ModelID may be a local
// directory holding model.onnx + tokenizer.json or a HuggingFace id.
func NewGLiNERTagger(cfg config.MentionsConfig) (*GLiNERTagger, error) {
	if err := gline.Init(); err != nil {
		return nil, errors.Wrap(err, "initializing gline runtime")
	}

	modelID := cfg.ModelID
	if modelID == "" {
		modelID = defaultGLiNERModel
	}

	var (
		model *gline.Model
		err   error
	)
	if _, statErr := os.Stat(modelID); statErr == nil {
		model, err = gline.NewSpanModel(
			filepath.Join(modelID, "model.onnx"),
			filepath.Join(modelID, "tokenizer.json"))
	} else {
		model, err = gline.NewSpanModelFromHF(modelID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading GLiNER model %s", modelID)
	}

	labels := cfg.Labels
	if len(labels) == 0 {
		labels = defaultGLiNERLabels
	}
	return &GLiNERTagger{model: model, labels: labels, minScore: cfg.MinScore}, nil
}

// Tag extracts labeled spans from text. dealID is unused.
func (t *GLiNERTagger) Tag(ctx context.Context, dealID, text string) ([]Mention, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// go-gline-rs does not support context yet.
	results, err := t.model.Predict([]string{text}, t.labels)
	if err != nil {
		return nil, errors.Wrap(err, "GLiNER prediction")
	}
	if len(results) == 0 {
		return nil, nil
	}

	var out []Mention
	for _, e := range results[0] {
		score := float64(e.Probability)
		if score < t.minScore {
			continue
		}
		out = append(out, Mention{Text: e.Text, Type: mapNERLabel(e.Label), Score: score})
	}
	return out, nil
}

// Close releases the model.
func (t *GLiNERTagger) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.model != nil {
		t.model.Close()
		t.model = nil
	}
	return nil
}
