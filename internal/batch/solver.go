package batch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rawblock/factory-engine/internal/metrics"
	"github.com/rawblock/factory-engine/internal/solver"
	"github.com/rawblock/factory-engine/pkg/models"
)

// Policy decides what a failed machine does to its batch.
type Policy string

const (
	// PolicyStrict fails the batch when any machine fails. Sibling machines
	// still run to completion so the report is complete.
	PolicyStrict Policy = "strict"
	// PolicySkip reports failed machines and leaves them out of the totals.
	PolicySkip Policy = "skip"
)

// ParsePolicy maps a config/flag value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyStrict, PolicySkip:
		return Policy(s), nil
	case "":
		return PolicyStrict, nil
	}
	return "", fmt.Errorf("unknown batch policy %q", s)
}

// Solver fans a list of machines out over a bounded number of goroutines.
// Machines share nothing, so each task writes only its own outcome slot and
// the totals are reduced sequentially once every task has finished.
type Solver struct {
	workers   int
	policy    Policy
	eventFunc func(Event) // Optional per-machine callback
	recorder  *metrics.Recorder

	// Progress tracking (atomic for safe concurrent reads)
	activeBatches atomic.Int64
	totalMachines atomic.Int64
	totalSolved   atomic.Int64
	totalFailed   atomic.Int64
}

// Event is emitted once per finished machine.
type Event struct {
	RunID          string  `json:"runId"`
	Index          int     `json:"index"`
	TogglePresses  int     `json:"togglePresses"`
	JoltagePresses int     `json:"joltagePresses"`
	ToggleError    string  `json:"toggleError,omitempty"`
	JoltageError   string  `json:"joltageError,omitempty"`
	ElapsedMs      float64 `json:"elapsedMs"`
	Timestamp      string  `json:"timestamp"`
}

// Progress is the solver's lifetime state for the API.
type Progress struct {
	ActiveBatches int64 `json:"activeBatches"`
	TotalMachines int64 `json:"totalMachines"`
	TotalSolved   int64 `json:"totalSolved"`
	TotalFailed   int64 `json:"totalFailed"`
}

// Option configures a Solver.
type Option func(*Solver)

// WithWorkers bounds the number of machines solved at once.
func WithWorkers(n int) Option {
	return func(s *Solver) {
		if n > 0 {
			s.workers = n
		}
	}
}

func WithPolicy(p Policy) Option {
	return func(s *Solver) { s.policy = p }
}

// WithEventFunc installs a callback invoked from worker goroutines after
// each machine; it must be safe for concurrent use.
func WithEventFunc(fn func(Event)) Option {
	return func(s *Solver) { s.eventFunc = fn }
}

func WithRecorder(r *metrics.Recorder) Option {
	return func(s *Solver) { s.recorder = r }
}

// NewSolver defaults to one worker per CPU and PolicyStrict.
func NewSolver(opts ...Option) *Solver {
	s := &Solver{
		workers: runtime.GOMAXPROCS(0),
		policy:  PolicyStrict,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the configured failure policy.
func (s *Solver) Policy() Policy {
	return s.policy
}

// GetProgress returns the lifetime counters (thread-safe).
func (s *Solver) GetProgress() Progress {
	return Progress{
		ActiveBatches: s.activeBatches.Load(),
		TotalMachines: s.totalMachines.Load(),
		TotalSolved:   s.totalSolved.Load(),
		TotalFailed:   s.totalFailed.Load(),
	}
}

// SolveAll solves every machine under the configured policy and sums both
// answers.
//
// Under PolicyStrict a failed machine produces a non-nil error naming it,
// together with the full report. Under PolicySkip the error is only set
// when ctx is cancelled. A cancelled batch returns no report.
func (s *Solver) SolveAll(ctx context.Context, machines []models.Machine) (*Report, error) {
	return s.SolveAllWithPolicy(ctx, machines, s.policy)
}

// SolveAllWithPolicy is SolveAll with a per-call failure policy.
func (s *Solver) SolveAllWithPolicy(ctx context.Context, machines []models.Machine, policy Policy) (*Report, error) {
	report := &Report{
		RunID:     uuid.New(),
		Policy:    policy,
		Outcomes:  make([]Outcome, len(machines)),
		StartedAt: time.Now(),
	}

	s.activeBatches.Add(1)
	defer s.activeBatches.Add(-1)
	s.totalMachines.Add(int64(len(machines)))

	log.Printf("[Batch] Run %s: solving %d machines with %d workers (%s)",
		report.RunID, len(machines), s.workers, policy)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, m := range machines {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			report.Outcomes[i] = s.solveOne(i, m)
			s.emit(report.RunID, report.Outcomes[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Printf("[Batch] Run %s cancelled: %v", report.RunID, err)
		s.recorder.ObserveBatch("cancelled")
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		log.Printf("[Batch] Run %s cancelled: %v", report.RunID, err)
		s.recorder.ObserveBatch("cancelled")
		return nil, err
	}

	var firstFailure *Outcome
	for i := range report.Outcomes {
		o := &report.Outcomes[i]
		if o.Err() != nil {
			report.Failed++
			if firstFailure == nil {
				firstFailure = o
			}
			continue
		}
		report.Solved++
		report.ToggleTotal += o.TogglePresses
		report.JoltageTotal += o.JoltagePresses
	}
	report.Elapsed = time.Since(report.StartedAt)

	log.Printf("[Batch] Run %s complete: %d solved, %d failed | toggle=%d joltage=%d (%s)",
		report.RunID, report.Solved, report.Failed, report.ToggleTotal, report.JoltageTotal, report.Elapsed)

	if firstFailure != nil && policy == PolicyStrict {
		s.recorder.ObserveBatch("failed")
		return report, fmt.Errorf("run %s: machine %d: %w", report.RunID, firstFailure.Index, firstFailure.Err())
	}
	s.recorder.ObserveBatch("ok")
	return report, nil
}

func (s *Solver) solveOne(index int, m models.Machine) Outcome {
	start := time.Now()
	o := Outcome{Index: index}

	o.TogglePresses, o.ToggleErr = solver.MinimumTogglePresses(m)

	var stats solver.JoltageStats
	o.JoltagePresses, stats, o.JoltageErr = solver.MinimumJoltagePressesWithStats(m)
	o.Patterns = stats.Patterns
	o.Elapsed = time.Since(start)

	s.observe(o)
	return o
}

func (s *Solver) observe(o Outcome) {
	s.recorder.ObserveDuration(o.Elapsed)
	if o.Patterns > 0 {
		s.recorder.ObserveCatalog(o.Patterns)
	}
	for _, p := range []struct {
		name string
		err  error
	}{{metrics.ProblemToggle, o.ToggleErr}, {metrics.ProblemJoltage, o.JoltageErr}} {
		if p.err != nil {
			s.recorder.ObserveFailed(p.name, FailureReason(p.err))
		} else {
			s.recorder.ObserveSolved(p.name)
		}
	}

	if o.Err() != nil {
		s.totalFailed.Add(1)
		log.Printf("[Batch] Machine %d failed: %v", o.Index, o.Err())
	} else {
		s.totalSolved.Add(1)
	}
}

func (s *Solver) emit(runID uuid.UUID, o Outcome) {
	if s.eventFunc == nil {
		return
	}
	r := o.Result()
	s.eventFunc(Event{
		RunID:          runID.String(),
		Index:          o.Index,
		TogglePresses:  r.TogglePresses,
		JoltagePresses: r.JoltagePresses,
		ToggleError:    r.ToggleError,
		JoltageError:   r.JoltageError,
		ElapsedMs:      r.ElapsedMs,
		Timestamp:      time.Now().Format(time.RFC3339),
	})
}

// FailureReason classifies a solver error for metrics and storage.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, solver.ErrInfeasible):
		return "infeasible"
	case errors.Is(err, solver.ErrCapacityExceeded):
		return "capacity"
	default:
		return "error"
	}
}
