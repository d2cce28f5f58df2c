package shadow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rawblock/factory-engine/internal/solver"
	"github.com/rawblock/factory-engine/pkg/models"
)

// ErrNoDatabase is returned by report queries when the runner has no pool.
var ErrNoDatabase = errors.New("shadow runner has no database")

// ShadowRunner runs the exhaustive search backend next to the canonical
// decomposer. Its results are only logged and stored; they never change an
// answer returned to a caller.
type ShadowRunner struct {
	pool           *pgxpool.Pool
	snapshotID     int64
	budget         int
	productionFunc func(m models.Machine) (int, error)
	shadowFunc     func(m models.Machine, budget int) (int, error)
}

// Summary aggregates one CompareAll call.
type Summary struct {
	Total      int `json:"total"`
	Divergent  int `json:"divergent"`
	Skipped    int `json:"skipped"`
	Consistent int `json:"consistent"`
}

// DriftReport aggregates every stored comparison of one snapshot.
type DriftReport struct {
	SnapshotID     int64   `json:"snapshotId"`
	TotalRuns      int     `json:"totalRuns"`
	Divergences    int     `json:"divergences"`
	Skipped        int     `json:"skipped"`
	DivergenceRate float64 `json:"divergenceRate"` // Over non-skipped runs
}

// NewShadowRunner creates a runner comparing the decomposer against the
// search backend. pool may be nil, in which case nothing is persisted.
func NewShadowRunner(pool *pgxpool.Pool, snapshotID int64, budget int) *ShadowRunner {
	return &ShadowRunner{
		pool:           pool,
		snapshotID:     snapshotID,
		budget:         budget,
		productionFunc: solver.MinimumJoltagePresses,
		shadowFunc:     solver.SearchJoltagePresses,
	}
}

// Compare solves the joltage problem of m with both backends.
//
// Machines the engine refuses (capacity errors) are returned as errors since
// neither backend can say anything about them. A search that runs out of
// budget is recorded as skipped rather than divergent.
func (sr *ShadowRunner) Compare(ctx context.Context, index int, m models.Machine) (*models.ShadowComparison, error) {
	if err := solver.Validate(m); err != nil {
		return nil, err
	}

	prod, prodErr := sr.productionFunc(m)
	shadow, shadowErr := sr.shadowFunc(m, sr.budget)

	result := &models.ShadowComparison{
		Index:       index,
		Production:  prod,
		Shadow:      shadow,
		SnapshotID:  sr.snapshotID,
		CreatedAt:   time.Now(),
		Fingerprint: m.String(),
	}
	if prodErr != nil {
		result.Production = -1
	}
	if shadowErr != nil {
		result.Shadow = -1
	}

	switch {
	case errors.Is(shadowErr, solver.ErrBudgetExceeded):
		result.Skipped = true
		result.Reason = "search budget exceeded"
	case prodErr != nil && !errors.Is(prodErr, solver.ErrInfeasible):
		return nil, fmt.Errorf("production backend: %w", prodErr)
	case shadowErr != nil && !errors.Is(shadowErr, solver.ErrInfeasible):
		return nil, fmt.Errorf("search backend: %w", shadowErr)
	case (prodErr == nil) != (shadowErr == nil):
		result.Divergent = true
		if prodErr != nil {
			result.Reason = "production infeasible, search feasible"
		} else {
			result.Reason = "production feasible, search infeasible"
		}
	case result.Production != result.Shadow:
		result.Divergent = true
		result.Reason = "press counts differ"
	}

	if result.Divergent {
		log.Printf("[Shadow] DIVERGENCE on machine %d %s: prod=%d shadow=%d (%s)",
			index, result.Fingerprint, result.Production, result.Shadow, result.Reason)
	}

	// Persist to shadow_results only.
	if sr.pool != nil {
		if err := sr.persistShadowResult(ctx, result); err != nil {
			return result, err
		}
	}

	return result, nil
}

// CompareAll runs Compare on every machine. Machines the engine refuses
// are skipped with their reason; a persistence failure stops the loop.
func (sr *ShadowRunner) CompareAll(ctx context.Context, machines []models.Machine) ([]models.ShadowComparison, Summary, error) {
	results := make([]models.ShadowComparison, 0, len(machines))
	var summary Summary

	for i, m := range machines {
		if err := ctx.Err(); err != nil {
			return results, summary, err
		}
		c, err := sr.Compare(ctx, i, m)
		if c == nil {
			c = &models.ShadowComparison{
				Index:       i,
				Production:  -1,
				Shadow:      -1,
				Skipped:     true,
				Reason:      err.Error(),
				SnapshotID:  sr.snapshotID,
				CreatedAt:   time.Now(),
				Fingerprint: m.String(),
			}
			err = nil
		}
		results = append(results, *c)

		summary.Total++
		switch {
		case c.Skipped:
			summary.Skipped++
		case c.Divergent:
			summary.Divergent++
		default:
			summary.Consistent++
		}
		if err != nil {
			return results, summary, err
		}
	}

	log.Printf("[Shadow] Snapshot %d: %d compared, %d divergent, %d skipped",
		sr.snapshotID, summary.Total, summary.Divergent, summary.Skipped)
	return results, summary, nil
}

// persistShadowResult writes the comparison to the database.
func (sr *ShadowRunner) persistShadowResult(ctx context.Context, result *models.ShadowComparison) error {
	sql := `INSERT INTO shadow_results
		(fingerprint, production_presses, shadow_presses, divergent, skipped, reason, snapshot_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := sr.pool.Exec(ctx, sql,
		result.Fingerprint,
		nullablePresses(result.Production),
		nullablePresses(result.Shadow),
		result.Divergent,
		result.Skipped,
		result.Reason,
		result.SnapshotID,
		result.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert shadow result: %w", err)
	}
	return nil
}

// GenerateDriftReport computes the divergence rate between the two backends
// over all stored comparisons of this runner's snapshot.
func (sr *ShadowRunner) GenerateDriftReport(ctx context.Context) (DriftReport, error) {
	report := DriftReport{SnapshotID: sr.snapshotID}
	if sr.pool == nil {
		return report, ErrNoDatabase
	}

	sql := `SELECT
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE divergent) AS divergences,
		COUNT(*) FILTER (WHERE skipped) AS skipped
	FROM shadow_results WHERE snapshot_id = $1`

	row := sr.pool.QueryRow(ctx, sql, sr.snapshotID)
	if err := row.Scan(&report.TotalRuns, &report.Divergences, &report.Skipped); err != nil {
		return report, err
	}
	report.DivergenceRate = divergenceRate(report)
	return report, nil
}

func divergenceRate(r DriftReport) float64 {
	compared := r.TotalRuns - r.Skipped
	if compared <= 0 {
		return 0
	}
	return float64(r.Divergences) / float64(compared)
}

func nullablePresses(p int) any {
	if p < 0 {
		return nil
	}
	return p
}
