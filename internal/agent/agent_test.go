package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
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

type weatherFunc func(ctx context.Context) (*weather.Report, error)

func (f weatherFunc) Fetch(ctx context.Context) (*weather.Report, error) { return f(ctx) }

type airFunc func(ctx context.Context) (*airquality.Reading, error)

func (f airFunc) Fetch(ctx context.Context) (*airquality.Reading, error) { return f(ctx) }

type shotFunc func(ctx context.Context) (*screenshot.Shot, error)

func (f shotFunc) Capture(ctx context.Context) (*screenshot.Shot, error) { return f(ctx) }

type fakeScheduler struct {
	snap scheduler.Snapshot
	ran  []string
	err  error
}

func (f *fakeScheduler) Snapshot() scheduler.Snapshot { return f.snap }

func (f *fakeScheduler) RunNow(_ context.Context, name string) error {
	if f.err != nil {
		return f.err
	}
	f.ran = append(f.ran, name)
	return nil
}

var t0 = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func allSources() Sources {
	return Sources{
		Weather: weatherFunc(func(context.Context) (*weather.Report, error) {
			return &weather.Report{City: "Toronto", Description: "21 degrees clear sky (0% clouds) (40% humidity)"}, nil
		}),
		AirQuality: airFunc(func(context.Context) (*airquality.Reading, error) { return nil, nil }),
		Screenshot: shotFunc(func(context.Context) (*screenshot.Shot, error) {
			return nil, errors.New("chrome not found")
		}),
	}
}

func newAgent(opts ...Option) (*Agent, eventbus.Bus) {
	bus := eventbus.New()
	opts = append([]Option{WithClock(func() time.Time { return t0 })}, opts...)
	return New(Config{}, allSources(), bus, logx.Nop(), opts...), bus
}

func TestDefaultsIdentity(t *testing.T) {
	t.Parallel()
	a, _ := newAgent()
	if a.Name() != "Enel" {
		t.Fatalf("Name = %q", a.Name())
	}
	if got := strings.Join(a.Personality(), ","); got != "analytical,observant,detailed" {
		t.Fatalf("Personality = %q", got)
	}
}

func TestBodiesWrapSources(t *testing.T) {
	t.Parallel()
	a, _ := newAgent()
	bodies := a.Bodies()
	if len(bodies) != 3 {
		t.Fatalf("bodies = %d", len(bodies))
	}

	got, err := bodies[config.TaskWeather](context.Background())
	if err != nil || got.(*weather.Report).City != "Toronto" {
		t.Fatalf("weather body = (%v, %v)", got, err)
	}
	// A nil reading must surface as an untyped nil result.
	if got, err := bodies[config.TaskAirQuality](context.Background()); got != nil || err != nil {
		t.Fatalf("air body = (%#v, %v)", got, err)
	}
	if _, err := bodies[config.TaskScreenshot](context.Background()); err == nil {
		t.Fatal("expected screenshot error")
	}

	partial := New(Config{}, Sources{Weather: allSources().Weather}, nil, logx.Nop())
	if n := len(partial.Bodies()); n != 1 {
		t.Fatalf("partial bodies = %d", n)
	}
}

func TestRegisterDefaultTable(t *testing.T) {
	t.Parallel()
	a, _ := newAgent()
	reg := scheduler.NewRegistry(t0)
	if err := a.Register(reg, config.DefaultTasks()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	d, _, ok := reg.Lookup(config.TaskScreenshot)
	if !ok || d.Delay != time.Minute || d.Interval != time.Hour || d.Timeout != 2*time.Minute {
		t.Fatalf("screenshot descriptor = %+v, %v", d, ok)
	}
	if reg.Len() != 3 {
		t.Fatalf("Len = %d", reg.Len())
	}
}

func TestRegisterReportsEveryProblem(t *testing.T) {
	t.Parallel()
	a, _ := newAgent()
	off := false
	tasks := []config.TaskConfig{
		{Name: config.TaskWeather, Delay: "2x", Interval: "1d"},
		{Name: config.TaskAirQuality, Delay: "1h", Interval: "0s"},
		{Name: "getTides", Delay: "1h", Interval: "1d"},
		{Name: config.TaskScreenshot, Delay: "1m", Interval: "1h", Enabled: &off},
	}
	reg := scheduler.NewRegistry(t0)
	err := a.Register(reg, tasks)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, scheduler.ErrUnknownUnit) || !errors.Is(err, scheduler.ErrInvalidInterval) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "getTides") {
		t.Fatalf("missing unknown body in %v", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("disabled or invalid tasks registered: %v", reg.Names())
	}
}

func TestHandleResultPublishesAndCaches(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "enel")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	defer st.Close()
	a, bus := newAgent(WithStore(st))
	results, unsub := bus.Subscribe(4, eventbus.TypeResult)
	defer unsub()

	report := &weather.Report{Description: "5 degrees light rain (90% clouds) (88% humidity)"}
	a.HandleResult(context.Background(), config.TaskWeather, "run-1", report)

	select {
	case ev := <-results:
		res := ev.Data.(eventbus.Result)
		if res.Agent != "Enel" || res.Task != config.TaskWeather || res.RunID != "run-1" || res.Data != report {
			t.Fatalf("result = %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("no agent.result")
	}
	c, ok := a.Latest(config.TaskWeather)
	if !ok || c.RunID != "run-1" || !c.At.Equal(t0) {
		t.Fatalf("Latest = %+v, %v", c, ok)
	}

	resp := a.HandleRequest(context.Background(), eventbus.Request{ID: "r", Command: "weather"})
	if resp.Error != "" || !strings.HasPrefix(resp.Text, "5 degrees light rain") || !strings.Contains(resp.Text, "(now)") {
		t.Fatalf("weather response = %+v", resp)
	}
}

func TestHandleRequestCommands(t *testing.T) {
	t.Parallel()
	a, _ := newAgent()
	sched := &fakeScheduler{snap: scheduler.Snapshot{
		Running: true,
		Tick:    time.Minute,
		Ticks:   12,
		Tasks: []scheduler.TaskInfo{
			{Name: config.TaskWeather, Interval: 24 * time.Hour, NextDue: t0.Add(time.Hour), Runs: 0},
			{Name: config.TaskScreenshot, Interval: time.Hour, LastRun: t0.Add(-10 * time.Minute), Running: true, Runs: 4, Failures: 1,
				LastError: "timeout", LastFail: t0.Add(-5 * time.Minute)},
		},
	}}
	a.SetScheduler(sched)
	ctx := context.Background()
	origin := eventbus.Origin{Channel: "telegram", ChatID: 9}

	status := a.HandleRequest(ctx, eventbus.Request{ID: "1", Command: "status", Origin: origin})
	if status.Error != "" || status.Origin != origin || status.RequestID != "1" {
		t.Fatalf("status = %+v", status)
	}
	for _, want := range []string{"Enel (analytical, observant, detailed)", "Scheduler running", "Failing: getPeriodicAirQualityScreenshot"} {
		if !strings.Contains(status.Text, want) {
			t.Fatalf("status text missing %q:\n%s", want, status.Text)
		}
	}

	tasks := a.HandleRequest(ctx, eventbus.Request{Command: "tasks"})
	if !strings.Contains(tasks.Text, "getWeather every 1d: last never, next 1 hour from now") ||
		!strings.Contains(tasks.Text, "next running, 4 runs, 1 failures") {
		t.Fatalf("tasks text:\n%s", tasks.Text)
	}

	run := a.HandleRequest(ctx, eventbus.Request{Command: "run", Args: []string{"air"}})
	if run.Error != "" || len(sched.ran) != 1 || sched.ran[0] != config.TaskAirQuality {
		t.Fatalf("run = %+v, ran %v", run, sched.ran)
	}
	if r := a.HandleRequest(ctx, eventbus.Request{Command: "run"}); !strings.Contains(r.Error, "usage") {
		t.Fatalf("run without args = %+v", r)
	}
	if r := a.HandleRequest(ctx, eventbus.Request{Command: "air"}); r.Error != "no air quality result yet" {
		t.Fatalf("air = %+v", r)
	}
	if r := a.HandleRequest(ctx, eventbus.Request{Command: "history"}); r.Error == "" {
		t.Fatal("history without storage should fail")
	}
	if r := a.HandleRequest(ctx, eventbus.Request{Command: "dance"}); r.Error == "" {
		t.Fatal("unknown command should fail")
	}
}

func TestHistoryFromStore(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "enel.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	defer st.Close()
	ctx := context.Background()
	_ = st.AppendRun(ctx, storage.RunRecord{RunID: "a", Task: config.TaskWeather, Started: t0.Add(-2 * time.Hour), Duration: 300 * time.Millisecond, OK: true})
	_ = st.AppendRun(ctx, storage.RunRecord{RunID: "b", Task: config.TaskScreenshot, Started: t0.Add(-time.Hour), Duration: time.Minute, Error: "deadline exceeded"})

	a, _ := newAgent(WithStore(st))
	resp := a.HandleRequest(ctx, eventbus.Request{Command: "history", Args: []string{"weather", "5"}})
	if resp.Error != "" {
		t.Fatalf("history error: %s", resp.Error)
	}
	if resp.Text != "getWeather 2 hours ago (300ms) ok" {
		t.Fatalf("history text = %q", resp.Text)
	}
	all := a.HandleRequest(ctx, eventbus.Request{Command: "history"})
	if !strings.HasPrefix(all.Text, "getPeriodicAirQualityScreenshot 1 hour ago (1m0s) failed: deadline exceeded") {
		t.Fatalf("history all = %q", all.Text)
	}
}

func TestRunAnswersBusRequests(t *testing.T) {
	t.Parallel()
	a, bus := newAgent()
	responses, unsub := bus.Subscribe(4, eventbus.TypeResponse)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		// Republish until the agent's subscription is live.
		bus.Publish(eventbus.Event{Type: eventbus.TypeRequest, Data: eventbus.Request{ID: "x", Command: "status"}})
		select {
		case ev := <-responses:
			if resp := ev.Data.(eventbus.Response); resp.RequestID != "x" {
				t.Fatalf("response = %+v", resp)
			}
			cancel()
			if err := <-done; !errors.Is(err, context.Canceled) {
				t.Fatalf("Run = %v", err)
			}
			return
		case <-deadline:
			t.Fatal("no response")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
