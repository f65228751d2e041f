// Package agent is Enel: it binds the task table to task bodies, publishes
// task results on the bus and answers requests about its state.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"enel/internal/config"
	"enel/internal/eventbus"
	"enel/internal/sources/airquality"
	"enel/internal/sources/screenshot"
	"enel/internal/sources/weather"
	"enel/internal/storage"
	"enel/internal/task/scheduler"
	logx "enel/pkg/logx"
)

type WeatherSource interface {
	Fetch(ctx context.Context) (*weather.Report, error)
}

type AirQualitySource interface {
	Fetch(ctx context.Context) (*airquality.Reading, error)
}

type ScreenshotSource interface {
	Capture(ctx context.Context) (*screenshot.Shot, error)
}

// Sources are the collaborators task bodies close over. Nil sources leave
// their task unbound.
type Sources struct {
	Weather    WeatherSource
	AirQuality AirQualitySource
	Screenshot ScreenshotSource
}

// Scheduler is the subset of the scheduler the agent reports on.
type Scheduler interface {
	Snapshot() scheduler.Snapshot
	RunNow(ctx context.Context, name string) error
}

type Config struct {
	Name        string
	Personality []string
}

// Cached is the latest result of one task.
type Cached struct {
	RunID string
	At    time.Time
	Data  any
}

type Agent struct {
	cfg   Config
	src   Sources
	bus   eventbus.Bus
	log   logx.Logger
	store storage.Store
	now   func() time.Time

	started time.Time

	mu     sync.RWMutex
	sched  Scheduler
	latest map[string]Cached
}

type Option func(*Agent)

// WithStore persists published results.
func WithStore(st storage.Store) Option { return func(a *Agent) { a.store = st } }

func WithClock(now func() time.Time) Option { return func(a *Agent) { a.now = now } }

func New(cfg Config, src Sources, bus eventbus.Bus, log logx.Logger, opts ...Option) *Agent {
	if cfg.Name == "" {
		cfg.Name = config.DefaultAgentName
	}
	if len(cfg.Personality) == 0 {
		cfg.Personality = append([]string(nil), config.DefaultPersonality...)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Agent{cfg: cfg, src: src, bus: bus, log: log, now: time.Now, latest: map[string]Cached{}}
	for _, o := range opts {
		if o != nil {
			o(a)
		}
	}
	a.started = a.now()
	return a
}

func (a *Agent) Name() string          { return a.cfg.Name }
func (a *Agent) Personality() []string { return append([]string(nil), a.cfg.Personality...) }

// SetScheduler attaches the scheduler used by status, tasks and run requests.
func (a *Agent) SetScheduler(s Scheduler) {
	a.mu.Lock()
	a.sched = s
	a.mu.Unlock()
}

func (a *Agent) scheduler() Scheduler {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sched
}

// Bodies maps task names to bodies for the sources that are configured.
func (a *Agent) Bodies() map[string]scheduler.Body {
	out := map[string]scheduler.Body{}
	if src := a.src.Weather; src != nil {
		out[config.TaskWeather] = func(ctx context.Context) (any, error) {
			r, err := src.Fetch(ctx)
			if r == nil {
				return nil, err
			}
			return r, err
		}
	}
	if src := a.src.AirQuality; src != nil {
		out[config.TaskAirQuality] = func(ctx context.Context) (any, error) {
			r, err := src.Fetch(ctx)
			if r == nil {
				return nil, err
			}
			return r, err
		}
	}
	if src := a.src.Screenshot; src != nil {
		out[config.TaskScreenshot] = func(ctx context.Context) (any, error) {
			s, err := src.Capture(ctx)
			if s == nil {
				return nil, err
			}
			return s, err
		}
	}
	return out
}

// Register adds every enabled task of the table to reg. All problems are
// reported together as *scheduler.ConfigError values.
func (a *Agent) Register(reg *scheduler.Registry, tasks []config.TaskConfig) error {
	bodies := a.Bodies()
	var errs []error
	for i, t := range tasks {
		if !t.IsEnabled() {
			a.log.Info("task disabled", logx.String("task", t.Name))
			continue
		}
		field := fmt.Sprintf("tasks[%d]", i)
		body, ok := bodies[t.Name]
		if !ok {
			errs = append(errs, &scheduler.ConfigError{Field: field + ".name", Err: fmt.Errorf("no task body for %q", t.Name)})
			continue
		}
		delay, err := config.ParseCompactField(field+".delay", t.Delay)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		interval, err := config.ParseCompactField(field+".interval", t.Interval)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		timeout, err := config.ParseDurationField(field+".timeout", t.Timeout)
		if err != nil {
			errs = append(errs, &scheduler.ConfigError{Field: field + ".timeout", Err: err})
			continue
		}
		if err := reg.Register(scheduler.Descriptor{Name: t.Name, Delay: delay, Interval: interval, Timeout: timeout}, body); err != nil {
			errs = append(errs, err)
			continue
		}
		a.log.Info("task registered",
			logx.String("task", t.Name),
			logx.String("delay", scheduler.FormatDuration(delay)),
			logx.String("interval", scheduler.FormatDuration(interval)),
		)
	}
	return errors.Join(errs...)
}

// HandleResult is the executor's result handler: it caches the result,
// publishes agent.result and persists it when a store is configured.
func (a *Agent) HandleResult(ctx context.Context, task, runID string, result any) {
	at := a.now()
	a.mu.Lock()
	a.latest[task] = Cached{RunID: runID, At: at, Data: result}
	a.mu.Unlock()

	if a.bus != nil {
		a.bus.Publish(eventbus.Event{
			Type: eventbus.TypeResult,
			Time: at,
			Data: eventbus.Result{Agent: a.cfg.Name, Task: task, RunID: runID, Data: result},
		})
	}
	if a.store != nil {
		if err := storage.SaveResult(ctx, a.store, task, runID, at, result); err != nil {
			a.log.Warn("result not persisted", logx.String("task", task), logx.Err(err))
		}
	}
}

// Latest returns the cached result of task.
func (a *Agent) Latest(task string) (Cached, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.latest[task]
	return c, ok
}
