// Package parser reads machine descriptions in the puzzle line format:
//
//	[.##.] (3) (1,3) (2) (2,3) (0,2) (0,1) {3,5,4,7}
//
// The bracketed indicator gives the toggle target and the machine width,
// each parenthesised group is one button, and the braces hold the joltage
// target.
package parser

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rawblock/factory-engine/pkg/models"
)

// MaxButtons mirrors the engine's button cap so oversized machines are
// rejected while parsing rather than deep inside a batch.
const MaxButtons = 16

// ParseError locates a malformed line.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// ParseMachines reads one machine per non-blank line.
func ParseMachines(r io.Reader) ([]models.Machine, error) {
	var machines []models.Machine

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		m, err := ParseMachine(line)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Msg: err.Error()}
		}
		machines = append(machines, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return machines, nil
}

// ParseMachine parses a single machine line.
func ParseMachine(line string) (models.Machine, error) {
	var m models.Machine

	fields := strings.Fields(line)
	if len(fields) < 2 {
		return m, fmt.Errorf("expected indicator, buttons and joltage target, got %q", line)
	}

	indicator, ok := enclosed(fields[0], '[', ']')
	if !ok {
		return m, fmt.Errorf("indicator %q is not bracketed", fields[0])
	}
	if len(indicator) == 0 || len(indicator) > models.MaxCounters {
		return m, fmt.Errorf("indicator width %d outside [1,%d]", len(indicator), models.MaxCounters)
	}
	for i, c := range indicator {
		switch c {
		case '#':
			m.ToggleTarget = m.ToggleTarget.Set(i)
		case '.':
		default:
			return m, fmt.Errorf("unexpected indicator character %q", c)
		}
	}
	m.Counters = len(indicator)

	buttons := fields[1 : len(fields)-1]
	if len(buttons) > MaxButtons {
		return m, fmt.Errorf("%d buttons exceeds limit of %d", len(buttons), MaxButtons)
	}
	for _, f := range buttons {
		body, ok := enclosed(f, '(', ')')
		if !ok {
			return m, fmt.Errorf("button %q is not parenthesised", f)
		}
		mask, err := parseButton(body, m.Counters)
		if err != nil {
			return m, fmt.Errorf("button %q: %w", f, err)
		}
		m.Buttons = append(m.Buttons, mask)
	}

	last := fields[len(fields)-1]
	body, ok := enclosed(last, '{', '}')
	if !ok {
		return m, fmt.Errorf("joltage target %q is not braced", last)
	}
	joltages, err := parseJoltages(body)
	if err != nil {
		return m, fmt.Errorf("joltage target %q: %w", last, err)
	}
	if len(joltages) != m.Counters {
		return m, fmt.Errorf("joltage target has %d entries, indicator has %d", len(joltages), m.Counters)
	}
	m.JoltageTarget = joltages

	return m, nil
}

func enclosed(s string, open, close byte) (string, bool) {
	if len(s) < 2 || s[0] != open || s[len(s)-1] != close {
		return "", false
	}
	return s[1 : len(s)-1], true
}

func parseButton(body string, width int) (models.BitVector, error) {
	var mask models.BitVector
	if body == "" {
		return mask, nil
	}
	for _, part := range strings.Split(body, ",") {
		idx, err := strconv.Atoi(part)
		if err != nil {
			return 0, fmt.Errorf("bad counter index %q", part)
		}
		if idx < 0 || idx >= width {
			return 0, fmt.Errorf("counter index %d outside [0,%d)", idx, width)
		}
		mask = mask.Set(idx)
	}
	return mask, nil
}

func parseJoltages(body string) ([]uint16, error) {
	if body == "" {
		return nil, nil
	}
	parts := strings.Split(body, ",")
	out := make([]uint16, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseUint(part, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("bad joltage %q", part)
		}
		out = append(out, uint16(v))
	}
	return out, nil
}
