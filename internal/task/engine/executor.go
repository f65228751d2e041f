package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"enel/internal/eventbus"
	logx "enel/pkg/logx"
)

// Executor invokes task bodies inside a failure boundary.
//
// Errors and panics raised by a body are logged, published as task.failed
// and reported to the Tracker; they never propagate to the caller. Each
// dispatched run executes in its own goroutine.
type Executor struct {
	mu      sync.Mutex
	cfg     Config
	closed  bool
	tracker Tracker
	log     logx.Logger
	bus     eventbus.Bus

	onResult ResultHandler
	recorder Recorder
	now      func() time.Time

	wg       sync.WaitGroup
	inFlight int32

	dispatched uint64
	succeeded  uint64
	failed     uint64
	panics     uint64
	overruns   uint64

	hmu     sync.Mutex
	history []HistoryItem
}

type Option func(*Executor)

// WithResultHandler installs the hook receiving non-nil results.
func WithResultHandler(h ResultHandler) Option { return func(e *Executor) { e.onResult = h } }

// WithRecorder persists every completed run.
func WithRecorder(r Recorder) Option { return func(e *Executor) { e.recorder = r } }

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

func New(cfg Config, tracker Tracker, log logx.Logger, bus eventbus.Bus, opts ...Option) *Executor {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	if cfg.OverrunGrace <= 0 {
		cfg.OverrunGrace = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Executor{
		cfg:     cfg,
		tracker: tracker,
		log:     log,
		bus:     bus,
		now:     time.Now,
	}
	for _, o := range opts {
		if o != nil {
			o(e)
		}
	}
	return e
}

// Apply swaps the executor config. Running invocations keep their settings.
func (e *Executor) Apply(cfg Config) {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	if cfg.OverrunGrace <= 0 {
		cfg.OverrunGrace = 30 * time.Second
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

// Dispatch starts r in a new goroutine and returns immediately.
//
// The caller must hold r.Name's run gate. If the executor is closed the gate
// is released and ErrStopped is returned.
func (e *Executor) Dispatch(ctx context.Context, r Run) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.release(r.Name)
		return ErrStopped
	}
	e.wg.Add(1)
	e.mu.Unlock()

	atomic.AddUint64(&e.dispatched, 1)
	atomic.AddInt32(&e.inFlight, 1)
	go func() {
		defer e.wg.Done()
		defer atomic.AddInt32(&e.inFlight, -1)
		e.Execute(ctx, r)
	}()
	return nil
}

// Execute runs r synchronously inside the failure boundary and reports the
// outcome to the Tracker. The run gate is released on every path.
func (e *Executor) Execute(ctx context.Context, r Run) Outcome {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	name := strings.TrimSpace(r.Name)
	id := strings.TrimSpace(r.ID)
	if id == "" {
		id = uuid.NewString()
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	log := e.log.With(logx.String("task", name), logx.String("run_id", id))

	start := e.now()
	out := Outcome{RunID: id, Name: name, Started: start}

	log.Info("task.started", logx.String("phase", "start"), logx.Time("at", start), logx.Duration("timeout", timeout))
	e.publish(eventbus.TypeTaskStarted, start, TaskEvent{ID: id, Name: name, Started: start})

	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}

	// A body that ignores its deadline keeps the gate; surface it.
	var overrun *time.Timer
	if timeout > 0 {
		overrun = time.AfterFunc(timeout+cfg.OverrunGrace, func() {
			atomic.AddUint64(&e.overruns, 1)
			log.Warn("task overran its deadline and is still running",
				logx.Duration("timeout", timeout),
				logx.Duration("grace", cfg.OverrunGrace),
				logx.Tags("alert"),
			)
		})
	}

	res, err := e.invoke(runCtx, name, id, r.Body)
	if overrun != nil {
		overrun.Stop()
	}
	cancel()

	finish := e.now()
	out.Finished = finish
	dur := finish.Sub(start)

	item := HistoryItem{ID: id, Name: name, Started: start, Finished: finish, Duration: dur}
	if err == nil {
		atomic.AddUint64(&e.succeeded, 1)
		out.Result = res
		item.HasResult = res != nil
		if e.tracker != nil {
			if merr := e.tracker.MarkSuccess(name, finish); merr != nil {
				log.Error("task completion not recorded", logx.Err(merr))
			}
		}
		log.Info("task.completed", logx.String("phase", "success"), logx.Time("at", finish), logx.Duration("dur", dur), logx.Bool("result", res != nil))
		e.publish(eventbus.TypeTaskFinished, finish, TaskEvent{ID: id, Name: name, Started: start, Duration: dur})
		if res != nil {
			e.handleResult(ctx, log, name, id, res)
		}
	} else {
		atomic.AddUint64(&e.failed, 1)
		out.Err = err
		item.Error = err.Error()
		if e.tracker != nil {
			e.tracker.MarkFailure(name, finish, err)
		}
		log.Warn("task.failed", logx.String("phase", "failure"), logx.Time("at", finish), logx.Duration("dur", dur), logx.Err(err))
		e.publish(eventbus.TypeTaskFailed, finish, TaskEvent{ID: id, Name: name, Started: start, Duration: dur, Error: item.Error})
	}

	e.release(name)
	e.remember(cfg, item)
	if e.recorder != nil {
		rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if rerr := e.recorder.RecordRun(rctx, item); rerr != nil {
			log.Debug("run history write failed", logx.Err(rerr))
		}
		rcancel()
	}
	return out
}

func (e *Executor) invoke(ctx context.Context, name, id string, body Body) (res any, err error) {
	if body == nil {
		return nil, &TaskError{Task: name, RunID: id, Err: ErrNilBody}
	}
	defer func() {
		if r := recover(); r != nil {
			atomic.AddUint64(&e.panics, 1)
			e.log.Error("task.panic", logx.String("task", name), logx.String("run_id", id), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			res = nil
			err = &TaskError{Task: name, RunID: id, Panic: true, Err: fmt.Errorf("%v", r)}
		}
	}()
	res, err = body(ctx)
	if err != nil {
		var te *TaskError
		if !errors.As(err, &te) {
			err = &TaskError{Task: name, RunID: id, Err: err}
		}
		return nil, err
	}
	return res, nil
}

func (e *Executor) handleResult(ctx context.Context, log logx.Logger, name, id string, res any) {
	if e.onResult == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("result handler panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	e.onResult(ctx, name, id, res)
}

func (e *Executor) release(name string) {
	if e.tracker == nil {
		return
	}
	if _, err := e.tracker.MarkRunning(name, false); err != nil {
		e.log.Error("task gate release failed", logx.String("task", name), logx.Err(err))
	}
}

func (e *Executor) remember(cfg Config, item HistoryItem) {
	e.hmu.Lock()
	e.history = append(e.history, item)
	if len(e.history) > cfg.HistorySize {
		e.history = e.history[len(e.history)-cfg.HistorySize:]
	}
	e.hmu.Unlock()
}

func (e *Executor) publish(typ string, at time.Time, ev TaskEvent) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: ev})
}

// Drain stops accepting new runs and waits for in-flight runs to return or
// ctx to expire. Runs still in flight after ctx expires are abandoned.
func (e *Executor) Drain(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		n := atomic.LoadInt32(&e.inFlight)
		e.log.Warn("executor drain timed out; abandoning runs", logx.Int("in_flight", int(n)), logx.Err(ctx.Err()))
		return ctx.Err()
	}
}

// InFlight reports the number of runs currently executing via Dispatch.
func (e *Executor) InFlight() int { return int(atomic.LoadInt32(&e.inFlight)) }

// History returns a copy of the most recent completed runs, oldest first.
func (e *Executor) History() []HistoryItem {
	e.hmu.Lock()
	defer e.hmu.Unlock()
	out := make([]HistoryItem, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Executor) Snapshot() Snapshot {
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()
	return Snapshot{
		InFlight:       e.InFlight(),
		Dispatched:     atomic.LoadUint64(&e.dispatched),
		Succeeded:      atomic.LoadUint64(&e.succeeded),
		Failed:         atomic.LoadUint64(&e.failed),
		Panics:         atomic.LoadUint64(&e.panics),
		Overruns:       atomic.LoadUint64(&e.overruns),
		DefaultTimeout: cfg.DefaultTimeout,
		History:        e.History(),
	}
}
