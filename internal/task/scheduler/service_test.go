package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"enel/internal/eventbus"
	"enel/internal/task/engine"
	logx "enel/pkg/logx"
)

func newTestService(t *testing.T, reg *Registry) (*Service, *engine.Executor, eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	// Every run completes at t0+65s.
	exec := engine.New(engine.Config{}, reg, logx.Nop(), bus, engine.WithClock(func() time.Time { return at(65 * time.Second) }))
	svc := New(Config{Tick: time.Hour}, reg, exec, logx.Nop(), bus)
	t.Cleanup(func() {
		svc.Stop(context.Background())
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = exec.Drain(ctx)
	})
	return svc, exec, bus
}

func waitIdle(t *testing.T, reg *Registry, name string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, info := range reg.Snapshot(time.Now()) {
			if info.Name == name && !info.Running {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s still running", name)
}

func TestTickDispatchesDueTasks(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(t0)
	var calls int32
	body := func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}
	if err := reg.Register(Descriptor{Name: "A", Delay: time.Minute, Interval: time.Hour}, body); err != nil {
		t.Fatal(err)
	}
	svc, _, _ := newTestService(t, reg)

	if rep := svc.Tick(context.Background(), at(30*time.Second)); len(rep.Dispatched) != 0 {
		t.Fatalf("t=30s dispatched %v", rep.Dispatched)
	}
	rep := svc.Tick(context.Background(), at(61*time.Second))
	if !reflect.DeepEqual(rep.Dispatched, []string{"A"}) {
		t.Fatalf("t=61s dispatched %v, want [A]", rep.Dispatched)
	}
	waitIdle(t, reg, "A")
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
	if rep := svc.Tick(context.Background(), at(3600*time.Second)); len(rep.Due) != 0 {
		t.Fatalf("t=3600s: task re-dispatched before its interval: %v", rep.Due)
	}
	waitIdle(t, reg, "A")
	rep = svc.Tick(context.Background(), at(3666*time.Second))
	if !reflect.DeepEqual(rep.Dispatched, []string{"A"}) {
		t.Fatalf("t=3666s dispatched %v, want [A]", rep.Dispatched)
	}
	waitIdle(t, reg, "A")
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestTickSkipsRunningTask(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(t0)
	release := make(chan struct{})
	var calls int32
	body := func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return nil, nil
	}
	if err := reg.Register(Descriptor{Name: "shot", Interval: time.Minute}, body); err != nil {
		t.Fatal(err)
	}
	svc, _, bus := newTestService(t, reg)
	skipped, unsub := bus.Subscribe(4, eventbus.TypeTaskSkipped)
	defer unsub()

	first := svc.Tick(context.Background(), at(time.Minute))
	second := svc.Tick(context.Background(), at(2*time.Minute))
	close(release)

	if !reflect.DeepEqual(first.Dispatched, []string{"shot"}) {
		t.Fatalf("first tick dispatched %v", first.Dispatched)
	}
	if !reflect.DeepEqual(second.Skipped, []string{"shot"}) || len(second.Dispatched) != 0 {
		t.Fatalf("second tick = %+v, want shot skipped", second)
	}
	select {
	case ev := <-skipped:
		if se, ok := ev.Data.(SkipEvent); !ok || se.Name != "shot" {
			t.Fatalf("skip event data = %#v", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("missing task.skipped event")
	}
	waitIdle(t, reg, "shot")
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, want 1 (no double dispatch)", got)
	}
}

func TestFailingTaskDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(t0)
	var mu sync.Mutex
	ran := map[string]int{}
	mark := func(name string) {
		mu.Lock()
		ran[name]++
		mu.Unlock()
	}
	_ = reg.Register(Descriptor{Name: "bad", Interval: time.Hour}, func(context.Context) (any, error) {
		mark("bad")
		return nil, errors.New("upstream down")
	})
	_ = reg.Register(Descriptor{Name: "panicky", Interval: time.Hour}, func(context.Context) (any, error) {
		mark("panicky")
		panic("nil map")
	})
	_ = reg.Register(Descriptor{Name: "good", Interval: time.Hour}, func(context.Context) (any, error) {
		mark("good")
		return "ok", nil
	})
	svc, _, _ := newTestService(t, reg)

	rep := svc.Tick(context.Background(), at(time.Second))
	if !reflect.DeepEqual(rep.Dispatched, []string{"bad", "panicky", "good"}) {
		t.Fatalf("dispatched %v", rep.Dispatched)
	}
	for _, n := range []string{"bad", "panicky", "good"} {
		waitIdle(t, reg, n)
	}

	// Failed tasks keep an unset lastRun and are retried on the next tick.
	rep = svc.Tick(context.Background(), at(2*time.Second))
	if !reflect.DeepEqual(rep.Dispatched, []string{"bad", "panicky"}) {
		t.Fatalf("retry tick dispatched %v, want [bad panicky]", rep.Dispatched)
	}
	for _, n := range []string{"bad", "panicky"} {
		waitIdle(t, reg, n)
	}

	mu.Lock()
	defer mu.Unlock()
	if ran["bad"] != 2 || ran["panicky"] != 2 || ran["good"] != 1 {
		t.Fatalf("runs = %v", ran)
	}
	for _, info := range reg.Snapshot(at(2 * time.Second)) {
		if info.Name == "bad" && (!info.LastRun.IsZero() || info.Failures != 2) {
			t.Fatalf("bad = %+v", info)
		}
	}
}

func TestRunNowRespectsGate(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(t0)
	release := make(chan struct{})
	_ = reg.Register(Descriptor{Name: "getWeather", Delay: 24 * time.Hour, Interval: time.Hour}, func(context.Context) (any, error) {
		<-release
		return nil, nil
	})
	svc, _, _ := newTestService(t, reg)

	if err := svc.RunNow(context.Background(), "getWeather"); err != nil {
		t.Fatalf("RunNow error: %v", err)
	}
	if err := svc.RunNow(context.Background(), "getWeather"); !errors.Is(err, engine.ErrOverlapSkip) {
		t.Fatalf("second RunNow = %v, want ErrOverlapSkip", err)
	}
	if err := svc.RunNow(context.Background(), "missing"); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("RunNow(missing) = %v, want ErrUnknownTask", err)
	}
	close(release)
	waitIdle(t, reg, "getWeather")
}

func TestStartRunsImmediateTick(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(time.Time{})
	done := make(chan struct{}, 1)
	_ = reg.Register(Descriptor{Name: "A", Interval: time.Hour}, func(context.Context) (any, error) {
		done <- struct{}{}
		return nil, nil
	})
	svc, _, _ := newTestService(t, reg)
	svc.Start(context.Background())
	svc.Start(context.Background())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not tick immediately")
	}
	snap := svc.Snapshot()
	if !snap.Running || snap.Ticks != 1 || snap.Tick != time.Hour {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.NextTick.IsZero() {
		t.Fatal("NextTick not set while running")
	}

	svc.Stop(context.Background())
	if svc.Snapshot().Running {
		t.Fatal("still running after Stop")
	}
}

func TestFailureAfterSuccessRetriesOnTicks(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(t0)
	var calls int32
	body := func(context.Context) (any, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return "ok", nil
		}
		return nil, errors.New("upstream 503")
	}
	if err := reg.Register(Descriptor{Name: "getWeather", Interval: time.Hour}, body); err != nil {
		t.Fatal(err)
	}
	svc, _, _ := newTestService(t, reg)

	if rep := svc.Tick(context.Background(), at(time.Second)); !reflect.DeepEqual(rep.Dispatched, []string{"getWeather"}) {
		t.Fatalf("first tick dispatched %v", rep.Dispatched)
	}
	waitIdle(t, reg, "getWeather")

	// lastRun is t0+65s; the interval is measured from it.
	if rep := svc.Tick(context.Background(), at(time.Hour+64*time.Second)); len(rep.Due) != 0 {
		t.Fatalf("due before lastRun+interval: %v", rep.Due)
	}
	for i, off := range []time.Duration{66 * time.Second, 67 * time.Second} {
		rep := svc.Tick(context.Background(), at(time.Hour+off))
		if !reflect.DeepEqual(rep.Dispatched, []string{"getWeather"}) {
			t.Fatalf("tick %d after failure dispatched %v", i, rep.Dispatched)
		}
		waitIdle(t, reg, "getWeather")
	}

	info := reg.Snapshot(at(2 * time.Hour))[0]
	if !info.LastRun.Equal(at(65 * time.Second)) {
		t.Fatalf("lastRun = %v, want unchanged by failures", info.LastRun)
	}
	if info.Failures != 2 || atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("failures = %d calls = %d, want 2 and 3", info.Failures, atomic.LoadInt32(&calls))
	}
}

func TestOverlapSkipLogsBelowWarn(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	svc := New(Config{Tick: time.Hour}, NewRegistry(t0), nil, logx.NewWriter(&buf, "debug"), nil)

	svc.reportSkip("shot", at(time.Minute), engine.ErrOverlapSkip)
	svc.reportSkip("weather", at(time.Minute), errors.New("executor closed"))

	var overlapLevel, failLevel string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("json: %v", err)
		}
		lvl, _ := rec["level"].(string)
		switch rec["task"] {
		case "shot":
			if lvl == "warn" || lvl == "error" {
				t.Fatalf("overlap skip logged at %s: %s", lvl, line)
			}
			overlapLevel = lvl
		case "weather":
			failLevel = lvl
		}
	}
	if overlapLevel == "" {
		t.Fatalf("overlap skip not logged:\n%s", buf.String())
	}
	if failLevel != "warn" {
		t.Fatalf("dispatch failure level = %q, want warn", failLevel)
	}
}
