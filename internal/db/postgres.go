package db

import (
	"context"
	_ "embed"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rawblock/factory-engine/pkg/models"
)

// schemaSQL is compiled into the binary so schema init works from any
// working directory.
//
//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}

	log.Println("[DB] Connected to PostgreSQL")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema() error {
	_, err := s.pool.Exec(context.Background(), schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %w", err)
	}

	log.Println("[DB] Factory schema initialized")
	return nil
}

// GetPool exposes the connection pool for the shadow runner
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}

// SaveBatchReport persists one run and all its machine results in a single
// transaction. machines supplies the fingerprints and must be the slice the
// report was computed from.
func (s *PostgresStore) SaveBatchReport(ctx context.Context, report models.BatchReport, machines []models.Machine) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	insertRunSQL := `
		INSERT INTO solve_runs
			(run_id, policy, machines, solved, failed, toggle_total, joltage_total, elapsed_ms, started_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9);
	`
	_, err = tx.Exec(ctx, insertRunSQL,
		report.RunID,
		report.Policy,
		report.Machines,
		report.Solved,
		report.Failed,
		report.ToggleTotal,
		report.JoltageTotal,
		report.ElapsedMs,
		report.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert solve_runs: %w", err)
	}

	if len(report.Results) > 0 {
		insertResultSQL := `
			INSERT INTO machine_results
				(run_id, machine_index, fingerprint, toggle_presses, joltage_presses, toggle_error, joltage_error, elapsed_ms)
			VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8);
		`
		batch := &pgx.Batch{}
		for _, r := range report.Results {
			fingerprint := ""
			if r.Index < len(machines) {
				fingerprint = machines[r.Index].String()
			}
			batch.Queue(insertResultSQL,
				report.RunID,
				r.Index,
				fingerprint,
				pressesOrNil(r.TogglePresses, r.ToggleError),
				pressesOrNil(r.JoltagePresses, r.JoltageError),
				textOrNil(r.ToggleError),
				textOrNil(r.JoltageError),
				r.ElapsedMs,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert machine_results: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// RunInfo is one row of the run history.
type RunInfo struct {
	RunID        string    `json:"runId"`
	Policy       string    `json:"policy"`
	Machines     int       `json:"machines"`
	Solved       int       `json:"solved"`
	Failed       int       `json:"failed"`
	ToggleTotal  int64     `json:"toggleTotal"`
	JoltageTotal int64     `json:"joltageTotal"`
	ElapsedMs    float64   `json:"elapsedMs"`
	StartedAt    time.Time `json:"startedAt"`
}

// GetRuns returns one page of runs, newest first, and the total run count.
func (s *PostgresStore) GetRuns(ctx context.Context, page int, limit int) ([]RunInfo, int, error) {
	page, limit = clampPage(page, limit)
	offset := (page - 1) * limit

	var totalCount int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM solve_runs`).Scan(&totalCount); err != nil {
		return nil, 0, err
	}

	dataSQL := `
		SELECT run_id::text, policy, machines, solved, failed, toggle_total, joltage_total, elapsed_ms, started_at
		FROM solve_runs
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := s.pool.Query(ctx, dataSQL, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	runs := make([]RunInfo, 0, limit)
	for rows.Next() {
		var r RunInfo
		if err := rows.Scan(&r.RunID, &r.Policy, &r.Machines, &r.Solved, &r.Failed,
			&r.ToggleTotal, &r.JoltageTotal, &r.ElapsedMs, &r.StartedAt); err != nil {
			return nil, 0, err
		}
		runs = append(runs, r)
	}
	if rows.Err() != nil {
		return nil, 0, rows.Err()
	}
	return runs, totalCount, nil
}

// GetRunResults returns the machine results of one run in machine order.
func (s *PostgresStore) GetRunResults(ctx context.Context, runID string) ([]models.MachineResult, error) {
	sql := `
		SELECT machine_index, COALESCE(toggle_presses, 0), COALESCE(joltage_presses, 0),
			COALESCE(toggle_error, ''), COALESCE(joltage_error, ''), elapsed_ms
		FROM machine_results
		WHERE run_id = $1::uuid
		ORDER BY machine_index
	`
	rows, err := s.pool.Query(ctx, sql, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]models.MachineResult, 0)
	for rows.Next() {
		var r models.MachineResult
		if err := rows.Scan(&r.Index, &r.TogglePresses, &r.JoltagePresses,
			&r.ToggleError, &r.JoltageError, &r.ElapsedMs); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return results, nil
}

func clampPage(page, limit int) (int, int) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}
	return page, limit
}

// Failed sub-problems are stored as NULL presses next to their error text.
func pressesOrNil(presses int, errText string) any {
	if errText != "" {
		return nil
	}
	return presses
}

func textOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
