package config

import (
	"os"
	"strings"
)

const (
	DefaultAgentName     = "Enel"
	DefaultTick          = "1m"
	DefaultScreenshotURL = "https://map.purpleair.com/1/mAQI/a60/p604800/cC0#1.8/42.3/166.1"
	DefaultScreenshotDir = "saved/sites/purpleair"
	DefaultRedisPrefix   = "enel"
	DefaultObsAddr       = "127.0.0.1:9464"

	TaskWeather    = "getWeather"
	TaskAirQuality = "getAirQuality"
	TaskScreenshot = "getPeriodicAirQualityScreenshot"
)

var DefaultPersonality = []string{"analytical", "observant", "detailed"}

// DefaultTasks is the task table used when the config has none.
func DefaultTasks() []TaskConfig {
	return []TaskConfig{
		{Name: TaskWeather, Delay: "1h", Interval: "1d", Timeout: "30s"},
		{Name: TaskAirQuality, Delay: "2h", Interval: "1d", Timeout: "30s"},
		{Name: TaskScreenshot, Delay: "1m", Interval: "1h", Timeout: "2m"},
	}
}

// Environment variables consulted when the matching field is empty.
var envFallbacks = []struct {
	name string
	dst  func(c *Config) *string
}{
	{"OPENWEATHERMAP_API_KEY", func(c *Config) *string { return &c.Sources.Weather.APIKey }},
	{"WEATHER_CITY", func(c *Config) *string { return &c.Sources.Weather.City }},
	{"PURPLEAIR_API_KEY", func(c *Config) *string { return &c.Sources.AirQuality.APIKey }},
	{"WEATHER_NW_LNG", func(c *Config) *string { return &c.Sources.AirQuality.NWLng }},
	{"WEATHER_SE_LNG", func(c *Config) *string { return &c.Sources.AirQuality.SELng }},
	{"WEATHER_NW_LAT", func(c *Config) *string { return &c.Sources.AirQuality.NWLat }},
	{"WEATHER_SE_LAT", func(c *Config) *string { return &c.Sources.AirQuality.SELat }},
	{"TELEGRAM_TOKEN", func(c *Config) *string { return &c.Telegram.Token }},
}

// ApplyDefaults fills omitted fields in place.
func ApplyDefaults(c *Config) {
	if c == nil {
		return
	}
	if strings.TrimSpace(c.Agent.Name) == "" {
		c.Agent.Name = DefaultAgentName
	}
	if len(c.Agent.Personality) == 0 {
		c.Agent.Personality = append([]string(nil), DefaultPersonality...)
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.Scheduler.Tick) == "" {
		c.Scheduler.Tick = DefaultTick
	}
	if len(c.Tasks) == 0 {
		c.Tasks = DefaultTasks()
	}

	for _, f := range envFallbacks {
		p := f.dst(c)
		if strings.TrimSpace(*p) == "" {
			*p = strings.TrimSpace(os.Getenv(f.name))
		}
	}

	w := &c.Sources.Weather
	if w.BaseURL == "" {
		w.BaseURL = "https://api.openweathermap.org"
	}
	if w.Country == "" {
		w.Country = "CA"
	}
	if w.Units == "" {
		w.Units = "metric"
	}
	if c.Sources.AirQuality.BaseURL == "" {
		c.Sources.AirQuality.BaseURL = "https://api.purpleair.com"
	}
	s := &c.Sources.Screenshot
	if s.URL == "" {
		s.URL = DefaultScreenshotURL
	}
	if s.Dir == "" {
		s.Dir = DefaultScreenshotDir
	}
	if s.Settle == "" {
		s.Settle = "15s"
	}

	if c.Telegram.ChatID == 0 && len(c.Telegram.OwnerUserIDs) > 0 {
		c.Telegram.ChatID = c.Telegram.OwnerUserIDs[0]
	}
	if c.Notifier == nil {
		c.Notifier = &NotifierConfig{Enabled: true, Results: true, Failures: true}
	}
	if c.Redis != nil && c.Redis.Prefix == "" {
		c.Redis.Prefix = DefaultRedisPrefix
	}
	if c.Observability.Addr == "" {
		c.Observability.Addr = DefaultObsAddr
	}
}
