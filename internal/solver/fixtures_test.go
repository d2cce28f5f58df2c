package solver

import "github.com/rawblock/factory-engine/pkg/models"

// sampleMachines are the three machines of the puzzle statement:
//
//	[.##.] (3) (1,3) (2) (2,3) (0,2) (0,1) {3,5,4,7}
//	[...#.] (0,2,3,4) (2,3) (0,4) (0,1,2) (1,2,3,4) {7,5,12,7,2}
//	[.###.#] (0,1,2,3,4) (0,3,4) (0,1,2,4,5) (1,2) {10,11,11,5,10,5}
func sampleMachines() []models.Machine {
	bv := models.FromIndices
	return []models.Machine{
		{
			ToggleTarget:  bv(1, 2),
			Buttons:       []models.BitVector{bv(3), bv(1, 3), bv(2), bv(2, 3), bv(0, 2), bv(0, 1)},
			JoltageTarget: []uint16{3, 5, 4, 7},
		},
		{
			ToggleTarget:  bv(3),
			Buttons:       []models.BitVector{bv(0, 2, 3, 4), bv(2, 3), bv(0, 4), bv(0, 1, 2), bv(1, 2, 3, 4)},
			JoltageTarget: []uint16{7, 5, 12, 7, 2},
		},
		{
			ToggleTarget:  bv(1, 2, 3, 5),
			Buttons:       []models.BitVector{bv(0, 1, 2, 3, 4), bv(0, 3, 4), bv(0, 1, 2, 4, 5), bv(1, 2)},
			JoltageTarget: []uint16{10, 11, 11, 5, 10, 5},
		},
	}
}

var (
	sampleTogglePresses  = []int{2, 3, 2}
	sampleJoltagePresses = []int{10, 12, 11}
)
