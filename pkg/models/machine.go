package models

import (
	"strconv"
	"strings"
	"time"
)

// Counts is a fixed-size counter vector. Entries at or beyond a machine's
// width are always zero, so the array can be compared and used as a map key.
type Counts [MaxCounters]uint16

// Machine is one puzzle instance as handed over by the parser or the API.
// It is read-only once built.
type Machine struct {
	Counters      int         `json:"counters,omitempty"` // 0 means len(JoltageTarget)
	ToggleTarget  BitVector   `json:"toggleTarget"`       // Bit i set: light i must end on
	Buttons       []BitVector `json:"buttons"`            // Counters each button affects
	JoltageTarget []uint16    `json:"joltageTarget"`      // Exact final value per counter
}

// Width returns the number of counters the machine has.
func (m Machine) Width() int {
	if m.Counters > 0 {
		return m.Counters
	}
	return len(m.JoltageTarget)
}

// Goal copies the joltage target into a fixed-size vector.
func (m Machine) Goal() Counts {
	var c Counts
	copy(c[:], m.JoltageTarget)
	return c
}

// String renders the machine in puzzle line form, e.g.
// "[.##.] (3) (1,3) {3,5,4,7}". It doubles as a stable fingerprint.
func (m Machine) String() string {
	var sb strings.Builder
	sb.WriteString("[" + m.ToggleTarget.Indicator(m.Width()) + "]")
	for _, b := range m.Buttons {
		sb.WriteString(" " + b.String())
	}
	sb.WriteString(" {")
	for i, j := range m.JoltageTarget {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(int(j)))
	}
	sb.WriteString("}")
	return sb.String()
}

// MachineResult is the per-machine answer pair as exposed over the API and
// persisted to the database.
type MachineResult struct {
	Index          int     `json:"index"`
	TogglePresses  int     `json:"togglePresses"`
	JoltagePresses int     `json:"joltagePresses"`
	ToggleError    string  `json:"toggleError,omitempty"`
	JoltageError   string  `json:"joltageError,omitempty"`
	ElapsedMs      float64 `json:"elapsedMs"`
}

// Solved reports whether both sub-problems produced a cost.
func (r MachineResult) Solved() bool {
	return r.ToggleError == "" && r.JoltageError == ""
}

// BatchReport is the aggregate over one list of machines.
type BatchReport struct {
	RunID        string          `json:"runId"`
	Policy       string          `json:"policy"`       // "strict" or "skip"
	ToggleTotal  int             `json:"toggleTotal"`  // Sum over solved machines
	JoltageTotal int             `json:"joltageTotal"` // Sum over solved machines
	Machines     int             `json:"machines"`
	Solved       int             `json:"solved"`
	Failed       int             `json:"failed"`
	Results      []MachineResult `json:"results"`
	StartedAt    time.Time       `json:"startedAt"`
	ElapsedMs    float64         `json:"elapsedMs"`
}

// ShadowComparison captures the canonical joltage answer next to the
// alternative search backend's answer for the same machine.
type ShadowComparison struct {
	Index       int       `json:"index"`
	Production  int       `json:"production"` // -1 when infeasible
	Shadow      int       `json:"shadow"`     // -1 when infeasible or skipped
	Divergent   bool      `json:"divergent"`
	Skipped     bool      `json:"skipped"`          // Search backend ran out of budget
	Reason      string    `json:"reason,omitempty"` // Why the comparison was skipped or diverged
	SnapshotID  int64     `json:"snapshotId"`
	CreatedAt   time.Time `json:"createdAt"`
	Fingerprint string    `json:"fingerprint"` // Stable identity of the machine
}
