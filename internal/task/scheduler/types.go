package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"enel/internal/eventbus"
	"enel/internal/task/engine"
	logx "enel/pkg/logx"
)

// Config controls the tick service.
type Config struct {
	Tick     time.Duration // default 1m
	Timezone string        // IANA TZ, e.g. "Europe/Madrid"
}

// Descriptor is the static configuration of one task.
type Descriptor struct {
	Name     string
	Delay    time.Duration // offset from registry start before the first run
	Interval time.Duration // period between runs once started
	Timeout  time.Duration // 0 = executor default
}

// Body re-exports the executor's task body signature.
type Body = engine.Body

type taskState struct {
	desc Descriptor
	body Body

	lastRun  time.Time // zero = never succeeded
	running  bool
	runs     uint64
	failures uint64
	lastErr  string
	lastFail time.Time
}

// TaskInfo is a read-only view of one registered task.
type TaskInfo struct {
	Name      string
	Delay     time.Duration
	Interval  time.Duration
	Timeout   time.Duration
	LastRun   time.Time
	NextDue   time.Time
	Due       bool
	Running   bool
	Runs      uint64
	Failures  uint64
	LastError string
	LastFail  time.Time
}

// Dispatcher hands acquired tasks to the executor.
type Dispatcher interface {
	Dispatch(ctx context.Context, r engine.Run) error
}

// TickReport summarizes one tick.
type TickReport struct {
	At         time.Time
	Due        []string
	Dispatched []string
	Skipped    []string
}

type Service struct {
	mu sync.Mutex

	log  logx.Logger
	cfg  Config
	loc  *time.Location
	bus  eventbus.Bus
	reg  *Registry
	exec Dispatcher
	now  func() time.Time

	c       *cron.Cron
	entryID cron.EntryID
	runCtx  context.Context
	cancel  context.CancelFunc
	ticks   uint64
	last    TickReport

	// skip warning throttling: key is task name.
	skipMu       sync.Mutex
	lastSkipWarn map[string]time.Time
}

// Snapshot is a lightweight view for /status and diagnostics.
type Snapshot struct {
	Running  bool
	Timezone string
	Tick     time.Duration
	Ticks    uint64
	Started  time.Time
	NextTick time.Time
	LastTick TickReport
	Tasks    []TaskInfo
}
