package engine

import (
	"errors"
	"fmt"
)

var (
	ErrStopped     = errors.New("task executor stopped")
	ErrOverlapSkip = errors.New("task skipped: previous run still in flight")
	ErrNilBody     = errors.New("task body is nil")
)

// TaskError wraps a failure raised by a task body (including recovered panics).
// It never leaves the executor except through logs, events and Outcome.Err.
type TaskError struct {
	Task  string
	RunID string
	Panic bool
	Err   error
}

func (e *TaskError) Error() string {
	if e.Panic {
		return fmt.Sprintf("task %s (%s) panicked: %v", e.Task, e.RunID, e.Err)
	}
	return fmt.Sprintf("task %s (%s): %v", e.Task, e.RunID, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// IsPanic reports whether err came from a recovered panic in a task body.
func IsPanic(err error) bool {
	var te *TaskError
	return errors.As(err, &te) && te.Panic
}
