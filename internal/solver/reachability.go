package solver

import "github.com/rawblock/factory-engine/pkg/models"

// MinimumToggle returns the fewest button presses that turn the all-off
// toggle state into target, where each press XORs the button's mask into
// the state. The second result is false when target is unreachable.
//
// This is a layered breadth-first search over at most 2^16 states. A state
// is marked visited when it is enqueued, so each state is expanded once and
// the layer on which target first appears is the minimum press count.
func MinimumToggle(target models.BitVector, buttons []models.BitVector) (int, bool) {
	if target == 0 {
		return 0, true
	}

	visited := make([]bool, 1<<models.MaxCounters)
	visited[0] = true
	frontier := []models.BitVector{0}

	for presses := 1; len(frontier) > 0; presses++ {
		var next []models.BitVector
		for _, state := range frontier {
			for _, mask := range buttons {
				s := state.Xor(mask)
				if visited[s] {
					continue
				}
				if s == target {
					return presses, true
				}
				visited[s] = true
				next = append(next, s)
			}
		}
		frontier = next
	}

	return 0, false
}
