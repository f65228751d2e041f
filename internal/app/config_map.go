package app

import (
	"fmt"
	"strings"
	"time"

	"enel/internal/config"
	"enel/internal/eventbus/redisbridge"
	"enel/internal/notifier"
	"enel/internal/observability"
	"enel/internal/sources/airquality"
	"enel/internal/sources/screenshot"
	"enel/internal/sources/weather"
	"enel/internal/storage"
	"enel/internal/task/engine"
	"enel/internal/task/scheduler"
	kit "enel/internal/transport"
	logx "enel/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alert: logx.AlertConfig{
			Enabled:    l.Alert.Enabled,
			MinLevel:   l.Alert.MinLevel,
			RatePerSec: l.Alert.RatePerSec,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	tick, err := config.ParseCompactField("scheduler.tick", cfg.Scheduler.Tick)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{Tick: tick, Timezone: strings.TrimSpace(cfg.Scheduler.Timezone)}, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	s := cfg.Scheduler
	def, err := config.ParseDurationField("scheduler.default_timeout", s.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	grace, err := config.ParseDurationOrDefault("scheduler.overrun_grace", s.OverrunGrace, 30*time.Second)
	if err != nil {
		return engine.Config{}, err
	}
	if s.HistorySize < 0 {
		return engine.Config{}, fmt.Errorf("scheduler.history_size must be >= 0")
	}
	return engine.Config{DefaultTimeout: def, OverrunGrace: grace, HistorySize: s.HistorySize}, nil
}

func drainTimeout(cfg *config.Config) time.Duration {
	d, err := config.ParseDurationOrDefault("scheduler.drain_timeout", cfg.Scheduler.DrainTimeout, 10*time.Second)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// mapStorageConfig reports enabled=false for an omitted section or driver "none".
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		if path == "" {
			path = "./data/enel"
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	case "mysql":
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, false, fmt.Errorf("storage.dsn is required when storage.driver=mysql")
		}
		return storage.Config{Driver: "mysql", DSN: strings.TrimSpace(sc.DSN)}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n == nil {
		n = &config.NotifierConfig{Enabled: true}
	}
	window, err := config.ParseDurationField("notifier.dedup_window", n.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	if n.RatePerSec < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	return notifier.Config{
		Enabled:      n.Enabled && cfg.Telegram.Enabled,
		RatePerSec:   n.RatePerSec,
		DedupWindow:  window,
		PersistDedup: window > 0 && cfg.Storage != nil,
	}, nil
}

func mapForwardConfig(cfg *config.Config) notifier.ForwardConfig {
	fc := notifier.ForwardConfig{Target: kit.ChatTarget{ChatID: cfg.Telegram.ChatID, ThreadID: cfg.Telegram.ThreadID}}
	if n := cfg.Notifier; n != nil {
		fc.Results = n.Results
		fc.Failures = n.Failures
	}
	return fc
}

func mapRedisBridgeConfig(cfg *config.Config) (redisbridge.Config, bool) {
	r := cfg.Redis
	if r == nil || !r.Enabled {
		return redisbridge.Config{}, false
	}
	return redisbridge.Config{Prefix: r.Prefix, Forward: r.Forward, Agent: cfg.Agent.Name}, true
}

func mapObservabilityConfig(cfg *config.Config) (observability.Config, error) {
	o := cfg.Observability
	rt, err := config.ParseDurationOrDefault("observability.read_timeout", o.ReadTimeout, 15*time.Second)
	if err != nil {
		return observability.Config{}, err
	}
	it, err := config.ParseDurationOrDefault("observability.idle_timeout", o.IdleTimeout, 60*time.Second)
	if err != nil {
		return observability.Config{}, err
	}
	return observability.Config{
		Enabled:       o.Enabled,
		Addr:          strings.TrimSpace(o.Addr),
		Pprof:         o.Pprof,
		Token:         strings.TrimSpace(o.Token),
		AllowInsecure: o.AllowInsecure,
		ReadTimeout:   rt,
		IdleTimeout:   it,
	}, nil
}

func mapWeatherConfig(cfg *config.Config) (weather.Config, error) {
	w := cfg.Sources.Weather
	timeout, err := config.ParseDurationField("sources.weather.timeout", w.Timeout)
	if err != nil {
		return weather.Config{}, err
	}
	return weather.Config{BaseURL: w.BaseURL, APIKey: w.APIKey, City: w.City, Country: w.Country, Units: w.Units, Timeout: timeout}, nil
}

func mapAirQualityConfig(cfg *config.Config) (airquality.Config, error) {
	a := cfg.Sources.AirQuality
	timeout, err := config.ParseDurationField("sources.air_quality.timeout", a.Timeout)
	if err != nil {
		return airquality.Config{}, err
	}
	return airquality.Config{
		BaseURL: a.BaseURL, APIKey: a.APIKey,
		NWLng: a.NWLng, SELng: a.SELng, NWLat: a.NWLat, SELat: a.SELat,
		Timeout: timeout,
	}, nil
}

func mapScreenshotConfig(cfg *config.Config) (screenshot.Config, screenshot.ChromeConfig, error) {
	s := cfg.Sources.Screenshot
	settle, err := config.ParseDurationField("sources.screenshot.settle", s.Settle)
	if err != nil {
		return screenshot.Config{}, screenshot.ChromeConfig{}, err
	}
	headless := s.Headless == nil || *s.Headless
	return screenshot.Config{URL: s.URL, Dir: s.Dir, Settle: settle},
		screenshot.ChromeConfig{Headless: headless, ExecPath: s.ExecPath, Width: s.Width, Height: s.Height}, nil
}
