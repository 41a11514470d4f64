// Package export writes per-deal parquet snapshots of the store — facts,
// entities, contradictions, and documents as flat columnar rows — for
// downstream analytics. Snapshots are read-only over the store and land
// in a timestamped directory per run.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/parquet-go/parquet-go"

	"github.com/harborstone/dealgraph/pkg/config"
	"github.com/harborstone/dealgraph/pkg/factstore"
	"github.com/harborstone/dealgraph/pkg/types"
)

// FactRow flattens one fact. Optional timestamps are unix seconds with 0
// for "not set" so the column stays a plain int64.
type FactRow struct {
	ID            string    `parquet:"id"`
	DealID        string    `parquet:"deal_id"`
	SubjectID     string    `parquet:"subject_id"`
	Predicate     string    `parquet:"predicate"`
	ObjectKind    string    `parquet:"object_kind"`
	ObjectText    string    `parquet:"object_text"`
	ObjectNumber  float64   `parquet:"object_number"`
	ObjectUnit    string    `parquet:"object_unit"`
	ObjectEntity  string    `parquet:"object_entity"`
	Claim         string    `parquet:"claim"`
	ValidAtUnix   int64     `parquet:"valid_at_unix"`
	InvalidAtUnix int64     `parquet:"invalid_at_unix"`
	RecordedAt    time.Time `parquet:"recorded_at"`
	DocumentID    string    `parquet:"document_id"`
	Locator       string    `parquet:"locator"`
	Confidence    float64   `parquet:"confidence"`
	Method        string    `parquet:"method"`
	Valid         bool      `parquet:"valid"`
}

// EntityRow flattens one entity; aliases join with "|".
type EntityRow struct {
	ID          string    `parquet:"id"`
	DealID      string    `parquet:"deal_id"`
	Name        string    `parquet:"name"`
	Type        string    `parquet:"type"`
	Aliases     string    `parquet:"aliases"`
	Description string    `parquet:"description"`
	FactCount   int64     `parquet:"fact_count"`
	CreatedAt   time.Time `parquet:"created_at"`
}

// ContradictionRow flattens one contradiction record.
type ContradictionRow struct {
	ID             string    `parquet:"id"`
	DealID         string    `parquet:"deal_id"`
	FactA          string    `parquet:"fact_a"`
	FactB          string    `parquet:"fact_b"`
	SubjectID      string    `parquet:"subject_id"`
	Predicate      string    `parquet:"predicate"`
	Rationale      string    `parquet:"rationale"`
	State          string    `parquet:"state"`
	DetectedAt     time.Time `parquet:"detected_at"`
	ResolvedAtUnix int64     `parquet:"resolved_at_unix"`
	ResolvedBy     string    `parquet:"resolved_by"`
}

// DocumentRow flattens one document registration.
type DocumentRow struct {
	ID             string    `parquet:"id"`
	DealID         string    `parquet:"deal_id"`
	ContentHash    string    `parquet:"content_hash"`
	Status         string    `parquet:"status"`
	Attempts       int64     `parquet:"attempts"`
	LastError      string    `parquet:"last_error"`
	CreatedAt      time.Time `parquet:"created_at"`
	UpdatedAt      time.Time `parquet:"updated_at"`
	IngestedAtUnix int64     `parquet:"ingested_at_unix"`
}

// Manifest describes one snapshot run.
type Manifest struct {
	Dir            string            `json:"dir"`
	Files          map[string]string `json:"files"`
	Facts          int               `json:"facts"`
	Entities       int               `json:"entities"`
	Contradictions int               `json:"contradictions"`
	Documents      int               `json:"documents"`
}

// Exporter snapshots deals from the store into parquet files.
type Exporter struct {
	store  factstore.Store
	cfg    config.ExportConfig
	logger *slog.Logger
}

// New builds an Exporter.
func New(store factstore.Store, cfg config.ExportConfig, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{store: store, cfg: cfg, logger: logger}
}

// Snapshot writes facts.parquet, entities.parquet, contradictions.parquet,
// and documents.parquet for dealID under a timestamped directory in dir
// (the configured export path when dir is empty). All four files are
// written even when empty so downstream jobs see a stable layout.
func (e *Exporter) Snapshot(ctx context.Context, dealID, dir string) (*Manifest, error) {
	if dealID == "" {
		return nil, types.Validationf("snapshot needs a deal id")
	}
	if dir == "" {
		dir = e.cfg.Path
	}
	if dir == "" {
		return nil, types.Validationf("snapshot needs an output directory")
	}
	stamp := time.Now().UTC().Format("20060102_150405")
	outDir := filepath.Join(dir, fmt.Sprintf("%s_%s", dealID, stamp))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating snapshot directory")
	}

	var factRows []FactRow
	err := e.store.ListFacts(ctx, dealID, func(f *types.Fact) error {
		factRows = append(factRows, flattenFact(f))
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing facts")
	}

	entities, err := e.store.ListEntities(ctx, dealID)
	if err != nil {
		return nil, errors.Wrap(err, "listing entities")
	}
	entityRows := make([]EntityRow, 0, len(entities))
	for _, ent := range entities {
		entityRows = append(entityRows, flattenEntity(ent))
	}

	contradictions, err := e.store.ListContradictions(ctx, dealID, "")
	if err != nil {
		return nil, errors.Wrap(err, "listing contradictions")
	}
	contradictionRows := make([]ContradictionRow, 0, len(contradictions))
	for _, c := range contradictions {
		contradictionRows = append(contradictionRows, flattenContradiction(c))
	}

	documents, err := e.store.ListDocuments(ctx, dealID, "")
	if err != nil {
		return nil, errors.Wrap(err, "listing documents")
	}
	documentRows := make([]DocumentRow, 0, len(documents))
	for _, d := range documents {
		documentRows = append(documentRows, flattenDocument(d))
	}

	m := &Manifest{
		Dir:            outDir,
		Files:          make(map[string]string, 4),
		Facts:          len(factRows),
		Entities:       len(entityRows),
		Contradictions: len(contradictionRows),
		Documents:      len(documentRows),
	}
	if err := writeRows(m, "facts", factRows); err != nil {
		return nil, err
	}
	if err := writeRows(m, "entities", entityRows); err != nil {
		return nil, err
	}
	if err := writeRows(m, "contradictions", contradictionRows); err != nil {
		return nil, err
	}
	if err := writeRows(m, "documents", documentRows); err != nil {
		return nil, err
	}

	e.logger.Info("snapshot written",
		"deal_id", dealID,
		"dir", outDir,
		"facts", m.Facts,
		"entities", m.Entities,
		"contradictions", m.Contradictions,
		"documents", m.Documents)
	return m, nil
}

func writeRows[T any](m *Manifest, name string, rows []T) error {
	path := filepath.Join(m.Dir, name+".parquet")
	if err := parquet.WriteFile(path, rows); err != nil {
		return errors.Wrapf(err, "writing %s snapshot", name)
	}
	m.Files[name] = path
	return nil
}

func flattenFact(f *types.Fact) FactRow {
	return FactRow{
		ID:            f.ID,
		DealID:        f.DealID,
		SubjectID:     f.SubjectID,
		Predicate:     f.Predicate,
		ObjectKind:    string(f.Object.Kind),
		ObjectText:    f.Object.String(),
		ObjectNumber:  f.Object.Number,
		ObjectUnit:    f.Object.Unit,
		ObjectEntity:  f.Object.EntityID,
		Claim:         f.Claim,
		ValidAtUnix:   unixOrZero(f.ValidAt),
		InvalidAtUnix: unixOrZero(f.InvalidAt),
		RecordedAt:    f.RecordedAt,
		DocumentID:    f.DocumentID,
		Locator:       f.Locator.String(),
		Confidence:    f.Confidence,
		Method:        f.Method,
		Valid:         f.Valid(),
	}
}

func flattenEntity(e *types.Entity) EntityRow {
	return EntityRow{
		ID:          e.ID,
		DealID:      e.DealID,
		Name:        e.Name,
		Type:        e.Type,
		Aliases:     strings.Join(e.Aliases, "|"),
		Description: e.Description,
		FactCount:   int64(e.FactCount),
		CreatedAt:   e.CreatedAt,
	}
}

func flattenContradiction(c *types.Contradiction) ContradictionRow {
	return ContradictionRow{
		ID:             c.ID,
		DealID:         c.DealID,
		FactA:          c.FactA,
		FactB:          c.FactB,
		SubjectID:      c.SubjectID,
		Predicate:      c.Predicate,
		Rationale:      c.Rationale,
		State:          string(c.State),
		DetectedAt:     c.DetectedAt,
		ResolvedAtUnix: unixOrZero(c.ResolvedAt),
		ResolvedBy:     c.ResolvedBy,
	}
}

func flattenDocument(d *types.Document) DocumentRow {
	return DocumentRow{
		ID:             d.ID,
		DealID:         d.DealID,
		ContentHash:    d.ContentHash,
		Status:         string(d.Status),
		Attempts:       int64(d.Attempts),
		LastError:      d.LastError,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		IngestedAtUnix: unixOrZero(d.IngestedAt),
	}
}

func unixOrZero(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.Unix()
}
