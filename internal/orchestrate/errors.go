package orchestrate

import (
	"errors"
	"fmt"
)

// ErrConfig marks configuration problems surfaced before any stage starts.
var ErrConfig = errors.New("configuration error")

// ErrWorkflowTerminal is returned when an operation is attempted on a
// workflow already in FINISHED, ERRORED, or CANCELLED.
var ErrWorkflowTerminal = errors.New("workflow is in a terminal state")

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}
