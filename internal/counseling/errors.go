package counseling

import (
	"errors"
	"fmt"
)

// ErrSessionCompleted rejects writes against a finished session.
var ErrSessionCompleted = errors.New("counseling: session already completed")

// ValidationError names the field a step transition was missing. State does
// not change when one is returned.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("counseling: required field %q is empty", e.Field)
}

// OutOfOrderError rejects skipped or replayed steps, including a step write
// arriving before its predecessor's record exists.
type OutOfOrderError struct {
	Expected Step
	Got      Step
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("counseling: expected step %s, got %s", e.Expected, e.Got)
}
