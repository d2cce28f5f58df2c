package solver

import "github.com/rawblock/factory-engine/pkg/models"

type memoEntry struct {
	cost     int
	feasible bool
}

// ParityDecomposer finds the cheapest way to write a goal counter vector as
// a non-negative integer combination of button presses.
//
// The goal is built one binary digit at a time, least significant first.
// A pattern with the goal's parity supplies the odd part at this level;
// what remains is even, is halved, and is solved recursively, with every
// press found there standing for two presses here:
//
//	cost(goal) = min over patterns p with p.Parity == parity(goal), p <= goal
//	             of p.Cost + 2*cost((goal - p.Counts) / 2)
//
// Results, including infeasible ones, are memoised per exact goal. The memo
// belongs to this decomposer; a decomposer serves one machine and is not
// safe for concurrent use.
type ParityDecomposer struct {
	catalog *PatternCatalog
	memo    map[models.Counts]memoEntry
}

// NewParityDecomposer returns a decomposer with an empty memo.
func NewParityDecomposer(catalog *PatternCatalog) *ParityDecomposer {
	return &ParityDecomposer{
		catalog: catalog,
		memo:    make(map[models.Counts]memoEntry),
	}
}

// Solve returns the minimum number of presses reaching goal exactly. The
// second result is false when goal is infeasible. No button reaches a
// counter beyond the catalog width, so a non-zero entry there is infeasible.
func (d *ParityDecomposer) Solve(goal []uint16) (int, bool) {
	for i := d.catalog.Width(); i < len(goal); i++ {
		if goal[i] != 0 {
			return 0, false
		}
	}
	var g models.Counts
	copy(g[:], goal)
	e := d.solve(g)
	return e.cost, e.feasible
}

// MemoSize returns the number of goals solved so far.
func (d *ParityDecomposer) MemoSize() int {
	return len(d.memo)
}

func (d *ParityDecomposer) solve(goal models.Counts) memoEntry {
	if goal == (models.Counts{}) {
		return memoEntry{cost: 0, feasible: true}
	}
	if e, ok := d.memo[goal]; ok {
		return e
	}

	width := d.catalog.Width()
	var parity models.BitVector
	for i := 0; i < width; i++ {
		if goal[i]&1 == 1 {
			parity = parity.Set(i)
		}
	}

	best := memoEntry{}
	for _, p := range d.catalog.Candidates(parity) {
		next, ok := halveRemainder(goal, p.Counts, width)
		if !ok {
			continue
		}
		sub := d.solve(next)
		if !sub.feasible {
			continue
		}
		cost := p.Cost + 2*sub.cost
		if !best.feasible || cost < best.cost {
			best = memoEntry{cost: cost, feasible: true}
		}
	}

	d.memo[goal] = best
	return best
}

// halveRemainder computes (goal - counts) / 2, or reports false when counts
// exceeds goal anywhere. The parity match makes every difference even.
func halveRemainder(goal, counts models.Counts, width int) (models.Counts, bool) {
	var next models.Counts
	for i := 0; i < width; i++ {
		if counts[i] > goal[i] {
			return next, false
		}
		next[i] = (goal[i] - counts[i]) / 2
	}
	return next, true
}
