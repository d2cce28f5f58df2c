package batch

import (
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/factory-engine/pkg/models"
)

// Outcome is the result of one machine. Errors stay typed here so callers
// can tell infeasible machines from oversized ones.
type Outcome struct {
	Index          int
	TogglePresses  int
	JoltagePresses int
	ToggleErr      error
	JoltageErr     error
	Patterns       int
	Elapsed        time.Duration
}

// Err returns the first sub-problem error, if any.
func (o Outcome) Err() error {
	if o.ToggleErr != nil {
		return o.ToggleErr
	}
	return o.JoltageErr
}

// Result converts the outcome to its API/storage form.
func (o Outcome) Result() models.MachineResult {
	r := models.MachineResult{
		Index:          o.Index,
		TogglePresses:  o.TogglePresses,
		JoltagePresses: o.JoltagePresses,
		ElapsedMs:      float64(o.Elapsed.Microseconds()) / 1000,
	}
	if o.ToggleErr != nil {
		r.ToggleError = o.ToggleErr.Error()
	}
	if o.JoltageErr != nil {
		r.JoltageError = o.JoltageErr.Error()
	}
	return r
}

// Report aggregates one SolveAll call.
type Report struct {
	RunID        uuid.UUID
	Policy       Policy
	ToggleTotal  int
	JoltageTotal int
	Solved       int
	Failed       int
	Outcomes     []Outcome
	StartedAt    time.Time
	Elapsed      time.Duration
}

// Model converts the report to its API/storage form.
func (r *Report) Model() models.BatchReport {
	out := models.BatchReport{
		RunID:        r.RunID.String(),
		Policy:       string(r.Policy),
		ToggleTotal:  r.ToggleTotal,
		JoltageTotal: r.JoltageTotal,
		Machines:     len(r.Outcomes),
		Solved:       r.Solved,
		Failed:       r.Failed,
		Results:      make([]models.MachineResult, len(r.Outcomes)),
		StartedAt:    r.StartedAt,
		ElapsedMs:    float64(r.Elapsed.Microseconds()) / 1000,
	}
	for i, o := range r.Outcomes {
		out.Results[i] = o.Result()
	}
	return out
}
