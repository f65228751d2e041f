package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"enel/internal/task/scheduler"
	logx "enel/pkg/logx"
)

// KnownTasks lists the names with a task body.
var KnownTasks = []string{TaskWeather, TaskAirQuality, TaskScreenshot}

// Validate checks a defaulted config. Task table problems are returned as
// *scheduler.ConfigError so callers can refuse to start the scheduler.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if !logx.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if c.Logging.Alert.Enabled && c.Logging.Alert.MinLevel != "" && !logx.ValidLevel(c.Logging.Alert.MinLevel) {
		errs = append(errs, fmt.Errorf("logging.alert.min_level: unknown level %q", c.Logging.Alert.MinLevel))
	}

	if d, err := ParseCompactField("scheduler.tick", c.Scheduler.Tick); err != nil {
		errs = append(errs, err)
	} else if d <= 0 {
		errs = append(errs, &scheduler.ConfigError{Field: "scheduler.tick", Err: scheduler.ErrInvalidInterval})
	}
	for _, f := range []struct{ path, raw string }{
		{"scheduler.default_timeout", c.Scheduler.DefaultTimeout},
		{"scheduler.overrun_grace", c.Scheduler.OverrunGrace},
		{"scheduler.drain_timeout", c.Scheduler.DrainTimeout},
		{"sources.weather.timeout", c.Sources.Weather.Timeout},
		{"sources.air_quality.timeout", c.Sources.AirQuality.Timeout},
		{"sources.screenshot.settle", c.Sources.Screenshot.Settle},
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"observability.read_timeout", c.Observability.ReadTimeout},
		{"observability.idle_timeout", c.Observability.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			errs = append(errs, err)
		}
	}
	if err := ValidateTasks(c.Tasks); err != nil {
		errs = append(errs, err)
	}

	if c.Telegram.Enabled && strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token: required when telegram is enabled"))
	}
	if n := c.Notifier; n != nil && n.Enabled {
		if _, err := ParseDurationField("notifier.dedup_window", n.DedupWindow); err != nil {
			errs = append(errs, err)
		}
	}
	if r := c.Redis; r != nil && r.Enabled && strings.TrimSpace(r.Addr) == "" {
		errs = append(errs, errors.New("redis.addr: required when redis is enabled"))
	}
	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite":
		case "mysql":
			if strings.TrimSpace(s.DSN) == "" {
				errs = append(errs, errors.New("storage.dsn: required for mysql"))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if o := c.Observability; o.Enabled && !o.AllowInsecure && strings.TrimSpace(o.Token) == "" && !isLoopback(o.Addr) {
		errs = append(errs, fmt.Errorf("observability.addr: %q is not loopback; set a token or allow_insecure", o.Addr))
	}
	return errors.Join(errs...)
}

// ValidateTasks checks the task table: compact durations, positive
// intervals, unique and known names.
func ValidateTasks(tasks []TaskConfig) error {
	known := map[string]bool{}
	for _, n := range KnownTasks {
		known[n] = true
	}
	seen := map[string]bool{}
	var errs []error
	for i, t := range tasks {
		name := strings.TrimSpace(t.Name)
		field := fmt.Sprintf("tasks[%d]", i)
		if name == "" {
			errs = append(errs, &scheduler.ConfigError{Field: field + ".name", Err: scheduler.ErrEmptyTaskName})
			continue
		}
		field = "tasks." + name
		if seen[name] {
			errs = append(errs, &scheduler.ConfigError{Field: field, Err: fmt.Errorf("%w: %s", scheduler.ErrDuplicateTaskName, name)})
		}
		seen[name] = true
		if !known[name] {
			errs = append(errs, &scheduler.ConfigError{Field: field, Err: fmt.Errorf("%w: no body named %s", scheduler.ErrUnknownTask, name)})
		}
		if _, err := ParseCompactField(field+".delay", t.Delay); err != nil {
			errs = append(errs, err)
		}
		if d, err := ParseCompactField(field+".interval", t.Interval); err != nil {
			errs = append(errs, err)
		} else if d <= 0 {
			errs = append(errs, &scheduler.ConfigError{Field: field + ".interval", Err: scheduler.ErrInvalidInterval})
		}
		if _, err := ParseDurationField(field+".timeout", t.Timeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
