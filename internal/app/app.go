package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"enel/internal/agent"
	"enel/internal/config"
	"enel/internal/eventbus"
	"enel/internal/eventbus/redisbridge"
	"enel/internal/notifier"
	"enel/internal/observability"
	"enel/internal/runtime/supervisor"
	"enel/internal/sources/airquality"
	"enel/internal/sources/screenshot"
	"enel/internal/sources/weather"
	"enel/internal/storage"
	"enel/internal/task/engine"
	"enel/internal/task/scheduler"
	kit "enel/internal/transport"
	telegram "enel/internal/transport/telegram/adapter"
	"enel/internal/transport/telegram/router"
	logx "enel/pkg/logx"
)

// App owns every long-lived component of the agent.
// Lifecycle: NewApp (init) → Start (run) → Stop (shutdown).
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	agent *agent.Agent
	reg   *scheduler.Registry
	exec  *engine.Executor
	sched *scheduler.Service

	adapter *telegram.Adapter
	router  *router.Router
	notif   *notifier.Service
	forward *notifier.Forwarder

	rdb    *redis.Client
	bridge *redisbridge.Bridge

	metrics *observability.Metrics
	obs     *observability.Service
	sd      *systemdNotifier

	drain   atomic.Int64 // executor drain timeout, nanoseconds
	updates chan kit.Update
}

// Options tweak construction (tests).
type Options struct {
	// Browser replaces the Chrome browser used by the screenshot task.
	Browser screenshot.Browser
	// TelegramURL overrides the Bot API endpoint.
	TelegramURL string
	// Now overrides the registry start time.
	Now func() time.Time
}

func NewApp(cfgPath string) (*App, error) {
	return NewAppWithOptions(cfgPath, Options{})
}

func NewAppWithOptions(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	// The adapter doubles as the log alert sender, so it is built first with a
	// bootstrap logger.
	var ad *telegram.Adapter
	if cfg.Telegram.Enabled {
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		ad, err = telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: pollTimeout,
			AlertTarget: kit.ChatTarget{ChatID: cfg.Telegram.ChatID, ThreadID: cfg.Telegram.ThreadID},
			URL:         opts.TelegramURL,
		}, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
	}

	var alerts logx.AlertSender
	if ad != nil {
		alerts = ad
	}
	logSvc, root := logx.New(mapLogConfig(cfg), alerts)
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		adapter: ad,
		updates: make(chan kit.Update, 256),
		sd:      newSystemdNotifier(cfg.Systemd.Notify, root.With(logx.String("comp", "systemd"))),
	}
	a.drain.Store(int64(drainTimeout(cfg)))
	fail := func(err error) (*App, error) {
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return fail(err)
	} else if enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			return fail(err)
		}
		a.store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	src, err := a.buildSources(cfg, opts, root)
	if err != nil {
		return fail(err)
	}
	var agentOpts []agent.Option
	if a.store != nil {
		agentOpts = append(agentOpts, agent.WithStore(a.store))
	}
	a.agent = agent.New(agent.Config{Name: cfg.Agent.Name, Personality: cfg.Agent.Personality},
		src, a.bus, root.With(logx.String("comp", "agent")), agentOpts...)

	// The registry start time anchors every task's initial delay.
	a.reg = scheduler.NewRegistry(now())
	if err := a.agent.Register(a.reg, cfg.Tasks); err != nil {
		return fail(fmt.Errorf("task table: %w", err))
	}

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return fail(err)
	}
	execOpts := []engine.Option{engine.WithResultHandler(a.agent.HandleResult)}
	if a.store != nil {
		execOpts = append(execOpts, engine.WithRecorder(storage.Recorder(a.store)))
	}
	a.exec = engine.New(engCfg, a.reg, root.With(logx.String("comp", "executor")), a.bus, execOpts...)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return fail(err)
	}
	a.sched = scheduler.New(schedCfg, a.reg, a.exec, root.With(logx.String("comp", "scheduler")), a.bus)
	a.agent.SetScheduler(a.sched)

	if ad != nil {
		a.router = router.New(router.Config{Owners: cfg.Telegram.OwnerUserIDs}, ad, a.bus, root.With(logx.String("comp", "router")))
		ncfg, err := mapNotifierConfig(cfg)
		if err != nil {
			return fail(err)
		}
		a.notif = notifier.New(ncfg, ad, root.With(logx.String("comp", "notifier")), a.bus, a.store)
		a.forward = notifier.NewForwarder(a.notif, a.bus, cfg.Agent.Name, mapForwardConfig(cfg), root.With(logx.String("comp", "forwarder")))
	}

	if bc, ok := mapRedisBridgeConfig(cfg); ok {
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		a.bridge = redisbridge.New(a.rdb, a.bus, bc, root.With(logx.String("comp", "redis")))
	}

	a.metrics = observability.NewMetrics()
	obsCfg, err := mapObservabilityConfig(cfg)
	if err != nil {
		return fail(err)
	}
	a.obs = observability.New(obsCfg, a.metrics, a.health, root.With(logx.String("comp", "observability")))

	return a, nil
}

func (a *App) buildSources(cfg *config.Config, opts Options, root logx.Logger) (agent.Sources, error) {
	wc, err := mapWeatherConfig(cfg)
	if err != nil {
		return agent.Sources{}, err
	}
	ac, err := mapAirQualityConfig(cfg)
	if err != nil {
		return agent.Sources{}, err
	}
	sc, chrome, err := mapScreenshotConfig(cfg)
	if err != nil {
		return agent.Sources{}, err
	}
	browser := opts.Browser
	if browser == nil {
		browser = screenshot.NewChrome(chrome)
	}
	return agent.Sources{
		Weather:    weather.New(wc, nil, root.With(logx.String("comp", "weather"))),
		AirQuality: airquality.New(ac, nil, root.With(logx.String("comp", "airquality"))),
		Screenshot: screenshot.New(sc, browser, root.With(logx.String("comp", "screenshot"))),
	}, nil
}

func (a *App) Agent() *agent.Agent { return a.agent }

func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) Observability() *observability.Service { return a.obs }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) health() error {
	if a.sched == nil || !a.sched.Snapshot().Running {
		return errors.New("scheduler not running")
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetValidator(validateReload)
	runCtx := a.sup.Context()

	// Bus consumers start before the scheduler runs its first tick.
	a.sup.Go("metrics", func(c context.Context) error { return a.metrics.Run(c, a.bus) })
	a.sup.Go("agent.requests", func(c context.Context) error { return a.agent.Run(c) })
	a.sup.Go0("eventbus.log", a.logEvents)

	if a.notif != nil && a.notif.Enabled() {
		a.notif.Start(runCtx)
	}
	if a.forward != nil {
		a.sup.Go("notifier.forward", func(c context.Context) error { return a.forward.Run(c) })
	}
	if a.adapter != nil {
		if err := a.adapter.Start(runCtx, a.updates); err != nil {
			return err
		}
		if err := a.adapter.UpdateMenuCommands(runCtx, a.router.Menu()); err != nil {
			a.log.Warn("bot command menu not updated", logx.Err(err))
		}
		a.sup.Go("telegram.router", func(c context.Context) error { return a.router.Run(c, a.updates) })
	}
	if a.bridge != nil {
		a.sup.GoRestart("redis.bridge", a.bridge.Run, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	}
	a.obs.Start(runCtx)

	a.sched.Start(runCtx)

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sd.Ready()
	a.sup.Go0("systemd.watchdog", a.sd.Watchdog)

	snap := a.sched.Snapshot()
	a.log.Info("app started",
		logx.String("agent", a.agent.Name()),
		logx.Int("tasks", len(snap.Tasks)),
		logx.Bool("telegram", a.adapter != nil),
		logx.Bool("redis", a.bridge != nil),
		logx.Bool("storage", a.store != nil),
	)
	return nil
}

func (a *App) logEvents(c context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-c.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// Stop ticking before the supervisor context goes away so no new runs start.
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "executor.drain", time.Duration(a.drain.Load()), a.exec.Drain)

	a.sup.Cancel()

	a.step(ctx, "observability", time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	if a.notif != nil {
		a.step(ctx, "notifier", time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	}
	if a.adapter != nil {
		a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	}
	if a.rdb != nil {
		a.step(ctx, "redis", time.Second, func(context.Context) error { return a.rdb.Close() })
	}
	if a.store != nil {
		a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })
	}
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by max and the caller's deadline.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	stepCtx := ctx
	if max > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
		}()
	}
}
