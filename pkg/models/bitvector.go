package models

import (
	"encoding/json"
	"fmt"
	"iter"
	"math/bits"
	"strings"
)

// MaxCounters is the widest machine the engine supports. BitVector and
// Counts are both sized to it.
const MaxCounters = 16

// BitVector is a set of counter indices 0..MaxCounters-1 packed into a
// bitmask. It is used both for button masks and for toggle states.
//
// Indices >= MaxCounters are a caller contract violation; machines are
// validated before they reach the engine.
type BitVector uint16

// FromIndices builds a BitVector with the given indices set.
func FromIndices(indices ...int) BitVector {
	var v BitVector
	for _, i := range indices {
		v = v.Set(i)
	}
	return v
}

// Set returns a copy of v with bit i set.
func (v BitVector) Set(i int) BitVector {
	return v | 1<<uint(i)
}

// Test reports whether bit i is set.
func (v BitVector) Test(i int) bool {
	return v&(1<<uint(i)) != 0
}

// Xor returns the symmetric difference of v and o.
func (v BitVector) Xor(o BitVector) BitVector {
	return v ^ o
}

// Count returns the number of set bits.
func (v BitVector) Count() int {
	return bits.OnesCount16(uint16(v))
}

// Highest returns the highest set index, or -1 for the empty vector.
func (v BitVector) Highest() int {
	return bits.Len16(uint16(v)) - 1
}

// All yields the set indices in ascending order, visiting only set bits.
func (v BitVector) All() iter.Seq[int] {
	return func(yield func(int) bool) {
		for rest := uint16(v); rest != 0; rest &= rest - 1 {
			if !yield(bits.TrailingZeros16(rest)) {
				return
			}
		}
	}
}

// Indices returns the set indices in ascending order.
func (v BitVector) Indices() []int {
	out := make([]int, 0, v.Count())
	for i := range v.All() {
		out = append(out, i)
	}
	return out
}

// Indicator renders v as a light diagram of the given width, e.g. ".##.".
func (v BitVector) Indicator(width int) string {
	var sb strings.Builder
	sb.Grow(width)
	for i := 0; i < width; i++ {
		if v.Test(i) {
			sb.WriteByte('#')
		} else {
			sb.WriteByte('.')
		}
	}
	return sb.String()
}

func (v BitVector) String() string {
	parts := make([]string, 0, v.Count())
	for i := range v.All() {
		parts = append(parts, fmt.Sprint(i))
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// MarshalJSON encodes the vector as its ascending index list.
func (v BitVector) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Indices())
}

// UnmarshalJSON decodes an index list, rejecting out-of-range indices.
func (v *BitVector) UnmarshalJSON(data []byte) error {
	var indices []int
	if err := json.Unmarshal(data, &indices); err != nil {
		return err
	}
	var out BitVector
	for _, i := range indices {
		if i < 0 || i >= MaxCounters {
			return fmt.Errorf("counter index %d out of range [0,%d)", i, MaxCounters)
		}
		out = out.Set(i)
	}
	*v = out
	return nil
}
