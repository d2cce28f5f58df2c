package solver

import (
	"fmt"

	"github.com/rawblock/factory-engine/pkg/models"
)

// Validate checks that a machine fits the fixed-width representation the
// engine works with. Every violation is reported as a *CapacityError.
func Validate(m models.Machine) error {
	width := m.Width()
	if width < 1 || width > models.MaxCounters {
		return &CapacityError{Field: "counters", Got: width, Max: models.MaxCounters}
	}
	if len(m.JoltageTarget) != width {
		return &CapacityError{Field: "joltage entries", Got: len(m.JoltageTarget), Max: width}
	}
	if len(m.Buttons) > MaxButtons {
		return &CapacityError{Field: "buttons", Got: len(m.Buttons), Max: MaxButtons}
	}
	if h := m.ToggleTarget.Highest(); h >= width {
		return &CapacityError{Field: "toggle target index", Got: h, Max: width - 1}
	}
	for _, b := range m.Buttons {
		if h := b.Highest(); h >= width {
			return &CapacityError{Field: "button counter index", Got: h, Max: width - 1}
		}
	}
	return nil
}

// MinimumTogglePresses solves the toggle problem for one machine. It returns
// ErrInfeasible when the target state cannot be reached.
func MinimumTogglePresses(m models.Machine) (int, error) {
	if err := Validate(m); err != nil {
		return 0, err
	}
	presses, ok := MinimumToggle(m.ToggleTarget, m.Buttons)
	if !ok {
		return 0, ErrInfeasible
	}
	return presses, nil
}

// MinimumJoltagePresses solves the joltage problem for one machine. The
// pattern catalog and memo are built for this call only and discarded when
// it returns. It returns ErrInfeasible when the target cannot be reached.
func MinimumJoltagePresses(m models.Machine) (int, error) {
	presses, _, err := minimumJoltage(m)
	return presses, err
}

// JoltageStats describes the work done for one joltage solve.
type JoltageStats struct {
	Patterns int `json:"patterns"` // Distinct patterns in the catalog
	Buckets  int `json:"buckets"`  // Distinct parity signatures
	Memo     int `json:"memo"`     // Goals memoised by the decomposer
}

// MinimumJoltagePressesWithStats is MinimumJoltagePresses that also reports
// catalog and memo sizes.
func MinimumJoltagePressesWithStats(m models.Machine) (int, JoltageStats, error) {
	return minimumJoltage(m)
}

func minimumJoltage(m models.Machine) (int, JoltageStats, error) {
	if err := Validate(m); err != nil {
		return 0, JoltageStats{}, err
	}
	catalog, err := NewPatternCatalog(m.Buttons, m.Width())
	if err != nil {
		return 0, JoltageStats{}, err
	}
	d := NewParityDecomposer(catalog)
	presses, ok := d.Solve(m.JoltageTarget)
	stats := JoltageStats{Patterns: catalog.Len(), Buckets: catalog.Buckets(), Memo: d.MemoSize()}
	if !ok {
		return 0, stats, ErrInfeasible
	}
	return presses, stats, nil
}

// SolveAll sums both answers over machines, sequentially. It fails on the
// first machine that is oversized or infeasible; use the batch package for
// parallel evaluation and skip-and-report handling.
func SolveAll(machines []models.Machine) (toggle, joltage int, err error) {
	for i, m := range machines {
		t, err := MinimumTogglePresses(m)
		if err != nil {
			return 0, 0, fmt.Errorf("machine %d toggle: %w", i, err)
		}
		j, err := MinimumJoltagePresses(m)
		if err != nil {
			return 0, 0, fmt.Errorf("machine %d joltage: %w", i, err)
		}
		toggle += t
		joltage += j
	}
	return toggle, joltage, nil
}
