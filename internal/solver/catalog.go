package solver

import (
	"log"
	"math/bits"

	"github.com/rawblock/factory-engine/pkg/models"
)

// MaxButtons caps the number of buttons per machine. The catalog walks all
// 2^n button subsets, so anything wider is refused up front.
const MaxButtons = 16

// Pattern is the increment vector produced by pressing one subset of
// buttons once each.
type Pattern struct {
	Counts models.Counts    // Counts[i] = presses that touch counter i
	Parity models.BitVector // Bit i set iff Counts[i] is odd
	Cost   int              // Number of buttons in the subset
}

// PatternCatalog indexes every distinct increment pattern of a machine by
// its parity signature. Only the cheapest subset producing a given Counts
// array is kept.
//
// A catalog is immutable once built and may be shared by concurrent readers.
type PatternCatalog struct {
	width   int
	buckets map[models.BitVector][]Pattern
	size    int
}

// NewPatternCatalog enumerates the button subsets of a machine with the
// given counter width.
//
// Subsets are visited by non-decreasing size, so the first subset that
// yields a particular Counts array is also a cheapest one. Identical Counts
// always share a parity, so one seen-set covers every bucket.
func NewPatternCatalog(buttons []models.BitVector, width int) (*PatternCatalog, error) {
	if width < 0 || width > models.MaxCounters {
		return nil, &CapacityError{Field: "counters", Got: width, Max: models.MaxCounters}
	}
	if len(buttons) > MaxButtons {
		log.Printf("[Solver] Machine has %d buttons (2^%d subsets), exceeds catalog budget. Refusing to enumerate.",
			len(buttons), len(buttons))
		return nil, &CapacityError{Field: "buttons", Got: len(buttons), Max: MaxButtons}
	}
	for _, b := range buttons {
		if b.Highest() >= width {
			return nil, &CapacityError{Field: "button counter index", Got: b.Highest(), Max: width - 1}
		}
	}

	c := &PatternCatalog{
		width:   width,
		buckets: make(map[models.BitVector][]Pattern),
	}
	seen := make(map[models.Counts]struct{})

	n := len(buttons)
	for size := 0; size <= n; size++ {
		forEachSubset(n, size, func(subset uint32) {
			p := buildPattern(buttons, subset, size)
			if _, dup := seen[p.Counts]; dup {
				return
			}
			seen[p.Counts] = struct{}{}
			c.buckets[p.Parity] = append(c.buckets[p.Parity], p)
			c.size++
		})
	}

	return c, nil
}

// Candidates returns the patterns whose parity equals the given signature.
// The returned slice must not be modified.
func (c *PatternCatalog) Candidates(parity models.BitVector) []Pattern {
	return c.buckets[parity]
}

// Len returns the number of distinct patterns.
func (c *PatternCatalog) Len() int {
	return c.size
}

// Buckets returns the number of distinct parity signatures.
func (c *PatternCatalog) Buckets() int {
	return len(c.buckets)
}

// Width returns the counter width the catalog was built for.
func (c *PatternCatalog) Width() int {
	return c.width
}

// buildPattern sums the buttons selected by subset. Parity is the XOR of
// the masks; Counts only touches the set bits of each mask.
func buildPattern(buttons []models.BitVector, subset uint32, cost int) Pattern {
	p := Pattern{Cost: cost}
	for rest := subset; rest != 0; rest &= rest - 1 {
		mask := buttons[bits.TrailingZeros32(rest)]
		p.Parity ^= mask
		for i := range mask.All() {
			p.Counts[i]++
		}
	}
	return p
}

// forEachSubset calls fn for every k-element subset of {0..n-1}, encoded as
// a bitmask, in increasing numeric order (Gosper's hack). n <= MaxButtons
// keeps every intermediate value inside uint32.
func forEachSubset(n, k int, fn func(subset uint32)) {
	if k == 0 {
		fn(0)
		return
	}
	limit := uint32(1) << uint(n)
	for subset := uint32(1)<<uint(k) - 1; subset < limit; {
		fn(subset)
		low := subset & -subset
		ripple := subset + low
		subset = (((ripple ^ subset) >> 2) / low) | ripple
	}
}
