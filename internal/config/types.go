package config

// Config is the on-disk agent configuration (JSON or YAML).
//
// Durations come in two flavours:
//   - task and tick timing uses the compact form "<digits><s|m|h|d>" ("1m", "2h", "1d")
//   - everything else is a Go duration string ("500ms", "10s", "1m30s")
type Config struct {
	Agent         AgentConfig         `json:"agent"`
	Logging       LoggingConfig       `json:"logging"`
	Scheduler     SchedulerConfig     `json:"scheduler"`
	Tasks         []TaskConfig        `json:"tasks,omitempty"`
	Sources       SourcesConfig       `json:"sources"`
	Telegram      TelegramConfig      `json:"telegram"`
	Notifier      *NotifierConfig     `json:"notifier,omitempty"`
	Redis         *RedisConfig        `json:"redis,omitempty"`
	Storage       *StorageConfig      `json:"storage,omitempty"`
	Observability ObservabilityConfig `json:"observability"`
	Systemd       SystemdConfig       `json:"systemd"`
}

type AgentConfig struct {
	Name        string   `json:"name,omitempty"`        // default "Enel"
	Personality []string `json:"personality,omitempty"` // default analytical, observant, detailed
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert forwards important records (level >= min_level, or tagged
// "alert") to the Telegram alert chat.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the tick and the task executor.
type SchedulerConfig struct {
	// Tick is a compact duration ("1m"). Default 1m.
	Tick     string `json:"tick,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	// DefaultTimeout applies to tasks without their own timeout. Go duration.
	DefaultTimeout string `json:"default_timeout,omitempty"`
	// OverrunGrace is how long past its deadline a body may run before a
	// warning is logged. Go duration, default "30s".
	OverrunGrace string `json:"overrun_grace,omitempty"`
	// DrainTimeout bounds the wait for in-flight runs on shutdown. Default "10s".
	DrainTimeout string `json:"drain_timeout,omitempty"`
	HistorySize  int    `json:"history_size,omitempty"`
}

// TaskConfig is one entry of the task table.
//
// Name must match a known task body. Enabled is a pointer so an omitted
// field means enabled.
type TaskConfig struct {
	Name     string `json:"name"`
	Delay    string `json:"delay"`
	Interval string `json:"interval"`
	Timeout  string `json:"timeout,omitempty"` // Go duration
	Enabled  *bool  `json:"enabled,omitempty"`
}

func (t TaskConfig) IsEnabled() bool { return t.Enabled == nil || *t.Enabled }

type SourcesConfig struct {
	Weather    WeatherConfig    `json:"weather"`
	AirQuality AirQualityConfig `json:"air_quality"`
	Screenshot ScreenshotConfig `json:"screenshot"`
}

// WeatherConfig targets the OpenWeatherMap current weather API.
type WeatherConfig struct {
	BaseURL string `json:"base_url,omitempty"` // default https://api.openweathermap.org
	APIKey  string `json:"api_key"`
	City    string `json:"city"`
	Country string `json:"country,omitempty"` // default "CA"
	Units   string `json:"units,omitempty"`   // default "metric"
	Timeout string `json:"timeout,omitempty"` // HTTP timeout, Go duration
}

// AirQualityConfig targets the PurpleAir sensors API over a bounding box.
type AirQualityConfig struct {
	BaseURL string `json:"base_url,omitempty"` // default https://api.purpleair.com
	APIKey  string `json:"api_key"`
	NWLng   string `json:"nw_lng"`
	SELng   string `json:"se_lng"`
	NWLat   string `json:"nw_lat"`
	SELat   string `json:"se_lat"`
	Timeout string `json:"timeout,omitempty"`
}

type ScreenshotConfig struct {
	URL      string `json:"url,omitempty"`
	Dir      string `json:"dir,omitempty"`    // default saved/sites/purpleair
	Settle   string `json:"settle,omitempty"` // default "15s"
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Headless *bool  `json:"headless,omitempty"` // default true
	ExecPath string `json:"exec_path,omitempty"`
}

type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// ChatID receives task results and alerts. Defaults to the first owner.
	ChatID   int64 `json:"chat_id,omitempty"`
	ThreadID int   `json:"thread_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// NotifierConfig controls outbound messages for results and failures.
// If the section is omitted the notifier is enabled with defaults.
type NotifierConfig struct {
	Enabled     bool   `json:"enabled"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	DedupWindow string `json:"dedup_window,omitempty"`
	Results     bool   `json:"results"`
	Failures    bool   `json:"failures"`
}

// RedisConfig enables the external host message bus bridge.
type RedisConfig struct {
	Enabled  bool     `json:"enabled"`
	Addr     string   `json:"addr"`
	Password string   `json:"password,omitempty"`
	DB       int      `json:"db,omitempty"`
	Prefix   string   `json:"prefix,omitempty"`  // default "enel"
	Forward  []string `json:"forward,omitempty"` // event types, default agent.result + agent.response
}

// StorageConfig controls run history persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/enel.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // file | sqlite | mysql | none
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // mysql
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite, Go duration
}

// ObservabilityConfig controls the diagnostics HTTP server.
//
// Prefer binding to localhost. A non-loopback address requires a token or
// allow_insecure.
type ObservabilityConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:9464
	Pprof         bool   `json:"pprof,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
}
