package solver

import (
	"log"

	"github.com/rawblock/factory-engine/pkg/models"
)

// DefaultSearchBudget bounds the number of counter states the search
// backend expands before giving up.
const DefaultSearchBudget = 200_000

// SearchJoltagePresses solves the joltage problem by breadth-first search
// over counter vectors, adding one button per step and pruning any state
// that overshoots the target.
//
// It is exact but exponential in the target magnitudes, so it only serves as
// a cross-check for the decomposer on small machines. It refuses to expand
// more than budget states and returns ErrBudgetExceeded instead.
func SearchJoltagePresses(m models.Machine, budget int) (int, error) {
	if err := Validate(m); err != nil {
		return 0, err
	}
	if budget <= 0 {
		budget = DefaultSearchBudget
	}

	width := m.Width()
	goal := m.Goal()
	if goal == (models.Counts{}) {
		return 0, nil
	}

	visited := map[models.Counts]struct{}{{}: {}}
	frontier := []models.Counts{{}}

	for presses := 1; len(frontier) > 0; presses++ {
		var next []models.Counts
		for _, state := range frontier {
			for _, mask := range m.Buttons {
				if mask == 0 {
					continue
				}
				s, ok := press(state, mask, goal)
				if !ok {
					continue
				}
				if s == goal {
					return presses, nil
				}
				if _, seen := visited[s]; seen {
					continue
				}
				if len(visited) >= budget {
					log.Printf("[Solver] Search backend expanded %d states on a %d-counter machine. Bailing out.",
						len(visited), width)
					return 0, ErrBudgetExceeded
				}
				visited[s] = struct{}{}
				next = append(next, s)
			}
		}
		frontier = next
	}

	return 0, ErrInfeasible
}

// press adds one press of mask to state, failing if any counter would pass
// its goal.
func press(state models.Counts, mask models.BitVector, goal models.Counts) (models.Counts, bool) {
	for i := range mask.All() {
		if state[i] >= goal[i] {
			return state, false
		}
		state[i]++
	}
	return state, true
}
