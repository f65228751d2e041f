package notifier

import (
	"time"

	kit "enel/internal/transport"
)

// Config controls the async notification pipeline. Zero values select
// defaults.
type Config struct {
	Enabled    bool
	Workers    int
	QueueSize  int
	RatePerSec int // sends per second across all workers, also the burst

	// RetryMax extra attempts are made after a failed send, waiting
	// RetryBase doubled per attempt up to RetryMaxDelay.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	// DedupWindow suppresses identical notifications for this long. 0 disables.
	DedupWindow     time.Duration
	DedupMaxEntries int
	// PersistDedup keeps dedup windows in storage across restarts.
	PersistDedup bool
}

// ForwardConfig selects which bus events become notifications and where
// they go.
type ForwardConfig struct {
	Target   kit.ChatTarget
	Results  bool
	Failures bool
	Skips    bool // off by default; skips are logged either way
}

type HistoryItem struct {
	At   time.Time
	Text string
}

// Bus event types for the notification lifecycle.
const (
	TypeQueued  = "notifier.queued"
	TypeSent    = "notifier.sent"
	TypeDeduped = "notifier.deduped"
	TypeDropped = "notifier.dropped"
	TypeFailed  = "notifier.failed"
)

// NotificationEvent is the payload of every notifier bus event.
type NotificationEvent struct {
	Channel  string    `json:"channel"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Key      string    `json:"key"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
