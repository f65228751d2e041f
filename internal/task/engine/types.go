package engine

import (
	"context"
	"time"
)

// Config controls the task executor.
type Config struct {
	// DefaultTimeout is used when Run.Timeout is 0. 0 disables the default.
	DefaultTimeout time.Duration

	// OverrunGrace is how long past its deadline a body may keep running
	// before the executor logs an overrun warning. Defaults to 30s.
	OverrunGrace time.Duration

	HistorySize int
}

// Body is a task body: a zero-argument unit of work that either produces an
// opaque result or fails. The context carries the per-task deadline; bodies
// are expected to honor it.
type Body func(ctx context.Context) (any, error)

// Run is a single invocation handed to the executor.
type Run struct {
	ID      string
	Name    string
	Timeout time.Duration
	Body    Body
}

// Tracker owns the per-task scheduling state the executor reports into.
// The caller must have acquired the run gate (MarkRunning(name, true))
// before dispatching; the executor always releases it.
type Tracker interface {
	MarkSuccess(name string, completedAt time.Time) error
	MarkFailure(name string, at time.Time, err error)
	MarkRunning(name string, running bool) (bool, error)
}

// ResultHandler receives non-nil results of successful runs.
type ResultHandler func(ctx context.Context, task, runID string, result any)

// Recorder persists completed runs. Errors are logged and otherwise ignored.
type Recorder interface {
	RecordRun(ctx context.Context, item HistoryItem) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, item HistoryItem) error

func (f RecorderFunc) RecordRun(ctx context.Context, item HistoryItem) error { return f(ctx, item) }

type HistoryItem struct {
	ID        string
	Name      string
	Started   time.Time
	Finished  time.Time
	Duration  time.Duration
	HasResult bool
	Error     string
}

// TaskEvent is emitted on the event bus for task lifecycle events.
type TaskEvent struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Outcome is the result of one Execute call.
type Outcome struct {
	RunID    string
	Name     string
	Started  time.Time
	Finished time.Time
	Result   any
	Err      error
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	InFlight       int
	Dispatched     uint64
	Succeeded      uint64
	Failed         uint64
	Panics         uint64
	Overruns       uint64
	DefaultTimeout time.Duration
	History        []HistoryItem
}
