package solver

import (
	"errors"
	"fmt"
)

var (
	// ErrInfeasible means no combination of presses reaches the target.
	ErrInfeasible = errors.New("no combination of presses reaches the target")

	// ErrCapacityExceeded is wrapped by every CapacityError.
	ErrCapacityExceeded = errors.New("machine exceeds engine capacity")

	// ErrBudgetExceeded is returned by the search backend when it would need
	// to expand more states than it was allowed.
	ErrBudgetExceeded = errors.New("search state budget exceeded")
)

// CapacityError reports a machine that does not fit the fixed-width
// representation: too many counters, too many buttons, or an index that
// falls outside the machine's width.
type CapacityError struct {
	Field string
	Got   int
	Max   int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: %s is %d, limit %d", ErrCapacityExceeded, e.Field, e.Got, e.Max)
}

func (e *CapacityError) Unwrap() error {
	return ErrCapacityExceeded
}
