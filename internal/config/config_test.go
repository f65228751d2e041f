package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"enel/internal/task/scheduler"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestDecodeYAMLWithEnv(t *testing.T) {
	t.Setenv("ENEL_TEST_OWM_KEY", "k-123")
	doc := `
agent:
  name: Enel
logging:
  level: debug
scheduler:
  tick: 30s
tasks:
  - name: getWeather
    delay: 1h
    interval: 1d
sources:
  weather:
    api_key: ${ENEL_TEST_OWM_KEY}
    city: Toronto
`
	cfg, err := Decode("enel.yaml", []byte(doc))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if cfg.Sources.Weather.APIKey != "k-123" {
		t.Fatalf("api_key = %q, want expanded env", cfg.Sources.Weather.APIKey)
	}
	if cfg.Sources.Weather.Country != "CA" || cfg.Sources.Weather.Units != "metric" {
		t.Fatalf("weather defaults not applied: %+v", cfg.Sources.Weather)
	}
	if len(cfg.Tasks) != 1 || cfg.Tasks[0].Name != TaskWeather {
		t.Fatalf("tasks = %+v", cfg.Tasks)
	}
	if cfg.Scheduler.Tick != "30s" {
		t.Fatalf("tick = %q", cfg.Scheduler.Tick)
	}
}

func TestDecodeDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("enel.json", []byte(`{}`))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if cfg.Agent.Name != "Enel" || strings.Join(cfg.Agent.Personality, ",") != "analytical,observant,detailed" {
		t.Fatalf("agent defaults = %+v", cfg.Agent)
	}
	if cfg.Scheduler.Tick != "1m" {
		t.Fatalf("tick default = %q", cfg.Scheduler.Tick)
	}
	want := map[string][2]string{
		TaskWeather:    {"1h", "1d"},
		TaskAirQuality: {"2h", "1d"},
		TaskScreenshot: {"1m", "1h"},
	}
	if len(cfg.Tasks) != len(want) {
		t.Fatalf("default tasks = %+v", cfg.Tasks)
	}
	for _, task := range cfg.Tasks {
		w := want[task.Name]
		if task.Delay != w[0] || task.Interval != w[1] || !task.IsEnabled() {
			t.Fatalf("task %s = %+v, want delay %s interval %s", task.Name, task, w[0], w[1])
		}
	}
	if cfg.Notifier == nil || !cfg.Notifier.Enabled {
		t.Fatal("notifier should default to enabled")
	}
	if cfg.Sources.Screenshot.Dir != DefaultScreenshotDir {
		t.Fatalf("screenshot dir = %q", cfg.Sources.Screenshot.Dir)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	if _, err := Decode("enel.json", []byte(`{"scheduler":{"workers":4}}`)); err == nil {
		t.Fatal("expected unknown field error")
	}
	if _, err := Decode("enel.json", []byte(`{} {}`)); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestValidateTaskTable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		tasks []TaskConfig
		want  error
	}{
		{name: "unknown unit", tasks: []TaskConfig{{Name: TaskWeather, Delay: "2x", Interval: "1d"}}, want: scheduler.ErrUnknownUnit},
		{name: "bad format", tasks: []TaskConfig{{Name: TaskWeather, Delay: "h2", Interval: "1d"}}, want: scheduler.ErrInvalidDurationFormat},
		{name: "zero interval", tasks: []TaskConfig{{Name: TaskWeather, Delay: "1m", Interval: "0s"}}, want: scheduler.ErrInvalidInterval},
		{name: "duplicate", tasks: []TaskConfig{
			{Name: TaskWeather, Delay: "1m", Interval: "1h"},
			{Name: TaskWeather, Delay: "1m", Interval: "1h"},
		}, want: scheduler.ErrDuplicateTaskName},
		{name: "unknown body", tasks: []TaskConfig{{Name: "getTides", Delay: "1m", Interval: "1h"}}, want: scheduler.ErrUnknownTask},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateTasks(tt.tasks)
			if !errors.Is(err, tt.want) {
				t.Fatalf("ValidateTasks error = %v, want %v", err, tt.want)
			}
			if !scheduler.IsConfigError(err) {
				t.Fatalf("expected ConfigError, got %T", err)
			}
		})
	}
	if err := ValidateTasks(DefaultTasks()); err != nil {
		t.Fatalf("default tasks invalid: %v", err)
	}
}

func TestValidateObservabilityBind(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Observability = ObservabilityConfig{Enabled: true, Addr: "0.0.0.0:9464"}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected non-loopback bind without token to fail")
	}
	cfg.Observability.Token = "secret"
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate with token: %v", err)
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	a := &Config{}
	ApplyDefaults(a)
	b := &Config{}
	ApplyDefaults(b)
	b.Logging.Level = "debug"
	b.Telegram.Token = "new-token"

	ch := SummarizeChange(a, b)
	if strings.Join(ch.Sections, ",") != "logging,telegram" {
		t.Fatalf("sections = %v", ch.Sections)
	}
	if strings.Join(ch.RestartRequired, ",") != "telegram" {
		t.Fatalf("restart required = %v", ch.RestartRequired)
	}
	if SummarizeChange(a, a).Empty() != true {
		t.Fatal("identical configs should produce an empty change")
	}
}

func TestManagerReloadPublishesChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "enel.json", `{"logging":{"level":"info"}}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	if changed, err := m.Reload(context.Background()); err != nil || changed {
		t.Fatalf("unchanged Reload = (%v, %v)", changed, err)
	}

	writeFile(t, dir, "enel.json", `{"logging":{"level":"debug"}}`)
	changed, err := m.Reload(context.Background())
	if err != nil || !changed {
		t.Fatalf("Reload = (%v, %v), want published", changed, err)
	}
	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	case <-time.After(time.Second):
		t.Fatal("no config published")
	}

	m.SetValidator(func(context.Context, *Config) error { return errors.New("nope") })
	writeFile(t, dir, "enel.json", `{"logging":{"level":"warn"}}`)
	if _, err := m.Reload(context.Background()); err == nil {
		t.Fatal("validator rejection should surface")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatalf("rejected config committed: %q", m.Get().Logging.Level)
	}
}

func TestManagerWatch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "enel.yaml", "logging:\n  level: info\n")
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.After(5 * time.Second)
	// Writes are spaced past the debounce window so each one can fire.
	tick := time.NewTicker(3 * reloadDebounce)
	defer tick.Stop()
	for {
		// Rewrite until the watcher is up.
		writeFile(t, dir, "enel.yaml", "logging:\n  level: error\n")
		select {
		case cfg := <-sub:
			if cfg.Logging.Level != "error" {
				t.Fatalf("level = %q", cfg.Logging.Level)
			}
			return
		case <-deadline:
			t.Fatal("watch did not publish")
		case <-tick.C:
		}
	}
}

func TestExampleConfigDecodes(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "..", "config.example.yaml"))
	if err != nil {
		t.Fatalf("read example: %v", err)
	}
	t.Setenv("WEATHER_CITY", "Toronto")
	cfg, err := Decode("config.example.yaml", data)
	if err != nil {
		t.Fatalf("Decode example: %v", err)
	}
	if len(cfg.Tasks) != 3 || cfg.Sources.Weather.City != "Toronto" || cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("example config = %+v", cfg)
	}
}
