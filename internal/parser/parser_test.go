package parser

import (
	"errors"
	"strings"
	"testing"

	"github.com/rawblock/factory-engine/pkg/models"
)

const sample = `[.##.] (3) (1,3) (2) (2,3) (0,2) (0,1) {3,5,4,7}
[...#.] (0,2,3,4) (2,3) (0,4) (0,1,2) (1,2,3,4) {7,5,12,7,2}

[.###.#] (0,1,2,3,4) (0,3,4) (0,1,2,4,5) (1,2) {10,11,11,5,10,5}
`

func TestParseMachines_Sample(t *testing.T) {
	machines, err := ParseMachines(strings.NewReader(sample))
	if err != nil {
		t.Fatal(err)
	}
	if len(machines) != 3 {
		t.Fatalf("Expected 3 machines. Got: %d", len(machines))
	}

	m := machines[0]
	if m.Counters != 4 || m.ToggleTarget != models.FromIndices(1, 2) {
		t.Errorf("Unexpected indicator: width=%d target=%v", m.Counters, m.ToggleTarget)
	}
	if len(m.Buttons) != 6 || m.Buttons[1] != models.FromIndices(1, 3) {
		t.Errorf("Unexpected buttons: %v", m.Buttons)
	}
	if m.JoltageTarget[3] != 7 {
		t.Errorf("Unexpected joltage target: %v", m.JoltageTarget)
	}

	// Round trip through the rendered form.
	lines := strings.Split(strings.TrimSpace(sample), "\n")
	nonBlank := make([]string, 0, len(lines))
	for _, l := range lines {
		if l != "" {
			nonBlank = append(nonBlank, l)
		}
	}
	for i, m := range machines {
		if m.String() != nonBlank[i] {
			t.Errorf("Expected %q. Got: %q", nonBlank[i], m.String())
		}
	}
}

func TestParseMachine_Errors(t *testing.T) {
	cases := map[string]string{
		"missing indicator":  "(0) {1}",
		"bad indicator char": "[.x] (0) {1,1}",
		"index past width":   "[..] (0,2) {1,1}",
		"joltage width":      "[..] (0) {1}",
		"joltage overflow":   "[.] (0) {70000}",
		"unbraced joltage":   "[.] (0) 1",
		"too wide":           "[" + strings.Repeat(".", 17) + "] {" + strings.Repeat("0,", 16) + "0}",
		"too many buttons":   "[.] " + strings.Repeat("(0) ", 17) + "{1}",
	}
	for name, line := range cases {
		if _, err := ParseMachine(line); err == nil {
			t.Errorf("%s: Expected %q to be rejected", name, line)
		}
	}
}

func TestParseMachine_EmptyButton(t *testing.T) {
	m, err := ParseMachine("[#] () (0) {2}")
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Buttons) != 2 || m.Buttons[0] != 0 {
		t.Errorf("Expected an empty first button. Got: %v", m.Buttons)
	}
}

func TestParseMachines_LineNumbers(t *testing.T) {
	input := "[.] (0) {1}\n\n[.] (5) {1}\n"
	_, err := ParseMachines(strings.NewReader(input))
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected a ParseError. Got: %v", err)
	}
	if pe.Line != 3 {
		t.Errorf("Expected the error on line 3. Got: %d", pe.Line)
	}
}
