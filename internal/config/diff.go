package config

import (
	"reflect"
	"strings"

	logx "enel/pkg/logx"
)

// Change summarizes what a reload touched.
type Change struct {
	// Sections lists changed top-level sections in a stable order.
	Sections []string
	// Fields are safe log attributes for the change. Secrets are never included.
	Fields []logx.Field
	// RestartRequired lists changed sections that only take effect on restart.
	RestartRequired []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// hot-reloadable sections; everything else needs a restart.
var hotSections = map[string]bool{"logging": true, "notifier": true, "scheduler": true}

// SummarizeChange compares two configs section by section.
func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Fields = append(ch.Fields, fields...)
		if !hotSections[section] {
			ch.RestartRequired = append(ch.RestartRequired, section)
		}
	}

	if !reflect.DeepEqual(oldCfg.Agent, newCfg.Agent) {
		mark("agent", logx.String("agent.name", newCfg.Agent.Name))
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert_enabled", newCfg.Logging.Alert.Enabled),
		)
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		mark("scheduler",
			logx.String("scheduler.tick", newCfg.Scheduler.Tick),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
			logx.String("scheduler.default_timeout", newCfg.Scheduler.DefaultTimeout),
		)
	}
	if !reflect.DeepEqual(oldCfg.Tasks, newCfg.Tasks) {
		names := make([]string, 0, len(newCfg.Tasks))
		for _, t := range newCfg.Tasks {
			names = append(names, t.Name)
		}
		mark("tasks", logx.Strings("tasks", names))
	}
	if !reflect.DeepEqual(oldCfg.Sources, newCfg.Sources) {
		mark("sources",
			logx.String("sources.weather.city", newCfg.Sources.Weather.City),
			logx.Bool("sources.weather.key_set", newCfg.Sources.Weather.APIKey != ""),
			logx.Bool("sources.air_quality.key_set", newCfg.Sources.AirQuality.APIKey != ""),
			logx.String("sources.screenshot.dir", newCfg.Sources.Screenshot.Dir),
		)
	}
	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		mark("telegram",
			logx.Bool("telegram.enabled", newCfg.Telegram.Enabled),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.token_changed", strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		n := newCfg.Notifier
		if n == nil {
			n = &NotifierConfig{}
		}
		mark("notifier",
			logx.Bool("notifier.enabled", n.Enabled),
			logx.Int("notifier.rate_per_sec", n.RatePerSec),
			logx.String("notifier.dedup_window", n.DedupWindow),
		)
	}
	if !reflect.DeepEqual(oldCfg.Redis, newCfg.Redis) {
		r := newCfg.Redis
		if r == nil {
			r = &RedisConfig{}
		}
		mark("redis", logx.Bool("redis.enabled", r.Enabled), logx.String("redis.addr", r.Addr))
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		s := newCfg.Storage
		if s == nil {
			s = &StorageConfig{}
		}
		mark("storage", logx.String("storage.driver", s.Driver))
	}
	if oldCfg.Observability != newCfg.Observability {
		mark("observability",
			logx.Bool("observability.enabled", newCfg.Observability.Enabled),
			logx.String("observability.addr", newCfg.Observability.Addr),
			logx.Bool("observability.token_set", newCfg.Observability.Token != ""),
		)
	}
	if oldCfg.Systemd != newCfg.Systemd {
		mark("systemd", logx.Bool("systemd.notify", newCfg.Systemd.Notify))
	}
	return ch
}
