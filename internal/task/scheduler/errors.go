package scheduler

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDurationFormat = errors.New("invalid duration format")
	ErrUnknownUnit           = errors.New("unknown duration unit")
	ErrDuplicateTaskName     = errors.New("duplicate task name")
	ErrInvalidInterval       = errors.New("task interval must be > 0")
	ErrInvalidDelay          = errors.New("task delay must be >= 0")
	ErrEmptyTaskName         = errors.New("task name required")
	ErrNilBody               = errors.New("task body required")
	ErrUnknownTask           = errors.New("unknown task")
	ErrNotRunning            = errors.New("task is not running")
)

// ConfigError is a task table problem detected before the scheduler starts.
// It is fatal: the scheduler refuses to run with an invalid table.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "task config: " + e.Err.Error()
	}
	return fmt.Sprintf("task config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErr(field string, err error) error {
	return &ConfigError{Field: field, Err: err}
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
