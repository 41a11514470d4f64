// Package detector flags mutually inconsistent facts after they are written.
//
// A new fact is compared against the currently-valid facts sharing its subject
// and predicate. Numeric objects conflict when their relative difference
// exceeds a per-predicate tolerance; categorical objects conflict on exact
// mismatch; a refinement (equal value, narrower validity) is not a conflict.
// Detection only records: it never invalidates either fact, that judgment
// belongs to a reviewer. One contradiction exists per unordered fact pair no
// matter how often the same conflict is re-detected.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harborstone/dealgraph/pkg/config"
	"github.com/harborstone/dealgraph/pkg/factstore"
	"github.com/harborstone/dealgraph/pkg/types"
)

const defaultNumericTolerance = 0.005

// Detector checks newly written facts for conflicts with standing claims.
type Detector struct {
	store  factstore.Store
	cfg    config.DetectorConfig
	logger *slog.Logger
}

// New builds a detector.
func New(store factstore.Store, cfg config.DetectorConfig, logger *slog.Logger) *Detector {
	if cfg.NumericTolerance <= 0 {
		cfg.NumericTolerance = defaultNumericTolerance
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{store: store, cfg: cfg, logger: logger}
}

// Check compares fact against its currently-valid peers and records one
// contradiction per conflicting pair. It returns only the records this call
// created; a pair already on file is left untouched.
func (d *Detector) Check(ctx context.Context, fact *types.Fact) ([]*types.Contradiction, error) {
	peers, err := d.store.ValidFacts(ctx, fact.DealID, fact.SubjectID, fact.Predicate)
	if err != nil {
		return nil, err
	}

	var created []*types.Contradiction
	for _, peer := range peers {
		if peer.ID == fact.ID {
			continue
		}
		if !fact.OverlapsValidity(peer) {
			continue
		}

		rationale := d.conflict(ctx, fact, peer)
		if rationale == "" {
			continue
		}

		a, b := types.ContradictionPair(fact.ID, peer.ID)
		c := &types.Contradiction{
			ID:         uuid.New().String(),
			DealID:     fact.DealID,
			FactA:      a,
			FactB:      b,
			SubjectID:  fact.SubjectID,
			Predicate:  fact.Predicate,
			Rationale:  rationale,
			State:      types.ContradictionUnresolved,
			DetectedAt: time.Now().UTC(),
		}
		isNew, err := d.store.SaveContradiction(ctx, c)
		if err != nil {
			return created, err
		}
		if !isNew {
			continue
		}
		created = append(created, c)
		d.logger.Warn("contradiction detected",
			"deal_id", fact.DealID,
			"subject_id", fact.SubjectID,
			"predicate", fact.Predicate,
			"fact_a", a,
			"fact_b", b,
			"rationale", rationale)
	}
	return created, nil
}

// conflict returns a rationale when the two facts disagree, or "" when they
// coexist. ctx is only needed to canonicalize entity references.
func (d *Detector) conflict(ctx context.Context, a, b *types.Fact) string {
	ao, bo := a.Object, b.Object

	if ao.Kind != bo.Kind {
		return fmt.Sprintf("object kinds differ (%s vs %s)", ao.Kind, bo.Kind)
	}

	switch ao.Kind {
	case types.ObjectNumber:
		// Disagreeing units make the values incomparable, which is itself a
		// conflict; a missing unit on one side is treated as unknown, not
		// as a disagreement.
		if ao.Unit != "" && bo.Unit != "" && !strings.EqualFold(ao.Unit, bo.Unit) {
			return fmt.Sprintf("units differ (%s vs %s)", ao.Unit, bo.Unit)
		}
		tol := d.tolerance(a.Predicate)
		diff := relativeDiff(ao.Number, bo.Number)
		if diff > tol {
			return fmt.Sprintf("numeric values differ by %.1f%% (%g vs %g), tolerance %.1f%%",
				diff*100, ao.Number, bo.Number, tol*100)
		}
		return ""

	case types.ObjectText:
		if !ao.Equal(bo) {
			return fmt.Sprintf("values differ (%q vs %q)", ao.Text, bo.Text)
		}
		return ""

	case types.ObjectBool:
		if ao.Bool != bo.Bool {
			return fmt.Sprintf("values differ (%t vs %t)", ao.Bool, bo.Bool)
		}
		return ""

	case types.ObjectDate:
		if !ao.Equal(bo) {
			return fmt.Sprintf("dates differ (%s vs %s)", ao.String(), bo.String())
		}
		return ""

	case types.ObjectEntity:
		// Compare canonical identities so a merge performed after the facts
		// were written does not read as a conflict.
		ai := d.canonicalEntity(ctx, a.DealID, ao.EntityID)
		bi := d.canonicalEntity(ctx, b.DealID, bo.EntityID)
		if ai != bi {
			return fmt.Sprintf("referenced entities differ (%s vs %s)", ao.EntityID, bo.EntityID)
		}
		return ""
	}
	return ""
}

// tolerance returns the relative-difference tolerance for a predicate. An
// explicit zero override means exact equality is required.
func (d *Detector) tolerance(predicate string) float64 {
	if tol, ok := d.cfg.PredicateTolerances[types.NormalizePredicate(predicate)]; ok && tol >= 0 {
		return tol
	}
	return d.cfg.NumericTolerance
}

func (d *Detector) canonicalEntity(ctx context.Context, dealID, entityID string) string {
	id, err := d.store.ResolveEntityID(ctx, dealID, entityID)
	if err != nil {
		return entityID
	}
	return id
}

// relativeDiff is |a-b| scaled by the larger magnitude; two zeros are equal.
func relativeDiff(a, b float64) float64 {
	if a == b {
		return 0
	}
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale == 0 {
		return 0
	}
	return math.Abs(a-b) / scale
}
