package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"enel/internal/eventbus"
	"enel/internal/task/engine"
	logx "enel/pkg/logx"
)

const defaultTick = time.Minute

// New returns a tick service over reg that hands due tasks to exec.
func New(cfg Config, reg *Registry, exec Dispatcher, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:          cfg,
		log:          log,
		bus:          bus,
		reg:          reg,
		exec:         exec,
		now:          time.Now,
		lastSkipWarn: map[string]time.Time{},
	}
}

// SetClock overrides the time source used by scheduled ticks (tests).
func (s *Service) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Service) Registry() *Registry { return s.reg }

// tickEvery must be called with s.mu held.
func (s *Service) tickEvery() time.Duration {
	if s.cfg.Tick > 0 {
		return s.cfg.Tick
	}
	return defaultTick
}

// Apply swaps the config. A changed tick or timezone restarts the cron
// driver; task state is preserved.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cfg
	s.cfg = cfg
	if s.c == nil {
		return
	}
	if old.Tick == cfg.Tick && strings.TrimSpace(old.Timezone) == strings.TrimSpace(cfg.Timezone) {
		return
	}
	s.log.Info("tick config changed; restarting driver", logx.Duration("tick", s.tickEvery()), logx.String("tz", cfg.Timezone))
	c := s.c
	s.c = nil
	go func() { <-c.Stop().Done() }()
	s.startCronLocked()
}

// Start begins ticking: one immediate tick, then one per cadence.
// Calling Start on a running service is a no-op.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.c != nil {
		s.mu.Unlock()
		return
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.startCronLocked()
	runCtx := s.runCtx
	now := s.now
	tz := s.loc.String()
	tick := s.tickEvery()
	s.mu.Unlock()

	s.log.Info("service started", logx.String("tz", tz), logx.Duration("tick", tick), logx.Int("tasks", s.reg.Len()))
	s.Tick(runCtx, now())
}

func (s *Service) startCronLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithLocation(s.loc))
	s.entryID = s.c.Schedule(cron.Every(s.tickEvery()), cron.FuncJob(s.scheduledTick))
	s.c.Start()
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) scheduledTick() {
	s.mu.Lock()
	ctx := s.runCtx
	now := s.now
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	s.Tick(ctx, now())
}

// Stop stops ticking. In-flight runs are left to the executor's Drain.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.cancel = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Tick evaluates the registry at now and dispatches every due task whose
// gate it can acquire. It never waits for a task body.
func (s *Service) Tick(ctx context.Context, now time.Time) TickReport {
	rep := TickReport{At: now}
	rep.Due = s.reg.ListDue(now)
	for _, name := range rep.Due {
		if err := s.dispatch(ctx, name); err != nil {
			rep.Skipped = append(rep.Skipped, name)
			s.reportSkip(name, now, err)
			continue
		}
		rep.Dispatched = append(rep.Dispatched, name)
	}

	s.mu.Lock()
	s.ticks++
	s.last = rep
	s.mu.Unlock()

	if len(rep.Due) > 0 {
		s.log.Debug("tick", logx.Time("at", now), logx.Strings("due", rep.Due), logx.Strings("dispatched", rep.Dispatched))
	}
	return rep
}

func (s *Service) dispatch(ctx context.Context, name string) error {
	desc, body, ok := s.reg.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	prev, err := s.reg.MarkRunning(name, true)
	if err != nil {
		return err
	}
	if prev {
		return engine.ErrOverlapSkip
	}
	if s.exec == nil {
		_, _ = s.reg.MarkRunning(name, false)
		return engine.ErrStopped
	}
	// The executor owns the gate from here and releases it on every path.
	return s.exec.Dispatch(ctx, engine.Run{Name: name, Timeout: desc.Timeout, Body: body})
}

// RunNow dispatches name immediately regardless of its due time. The run
// gate still applies: a task already running returns ErrOverlapSkip.
func (s *Service) RunNow(ctx context.Context, name string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	err := s.dispatch(ctx, name)
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.reportSkip(name, time.Now(), err)
	}
	if err == nil {
		s.log.Info("manual run dispatched", logx.String("task", name))
	}
	return err
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	running := s.c != nil
	c := s.c
	id := s.entryID
	loc := s.loc
	tz := s.cfg.Timezone
	ticks := s.ticks
	last := s.last
	now := s.now
	tick := s.tickEvery()
	s.mu.Unlock()

	if loc == nil {
		loc = time.Local
	}
	if tz == "" {
		tz = loc.String()
	}
	snap := Snapshot{
		Running:  running,
		Timezone: tz,
		Tick:     tick,
		Ticks:    ticks,
		Started:  s.reg.Start(),
		LastTick: last,
		Tasks:    s.reg.Snapshot(now()),
	}
	if c != nil && id != 0 {
		snap.NextTick = c.Entry(id).Next
	}
	return snap
}
