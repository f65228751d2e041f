package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	DSN         string        // mysql
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is one completed task invocation.
type RunRecord struct {
	RunID    string        `json:"run_id"`
	Task     string        `json:"task"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Duration time.Duration `json:"duration"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
}

// ResultRecord is a task result as published to the host channel.
type ResultRecord struct {
	RunID string    `json:"run_id"`
	Task  string    `json:"task"`
	At    time.Time `json:"at"`
	Data  string    `json:"data"` // JSON
}

// Store is the persistence API used by the agent and the notifier.
type Store interface {
	AppendRun(ctx context.Context, r RunRecord) error
	AppendResult(ctx context.Context, r ResultRecord) error
	// RecentRuns returns up to limit runs, newest first. An empty task matches all.
	RecentRuns(ctx context.Context, task string, limit int) ([]RunRecord, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}
