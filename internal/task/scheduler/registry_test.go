package scheduler

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) time.Time { return t0.Add(d) }

func noop(context.Context) (any, error) { return nil, nil }

func mustRegister(t *testing.T, r *Registry, d Descriptor) {
	t.Helper()
	if err := r.Register(d, noop); err != nil {
		t.Fatalf("Register(%s) error: %v", d.Name, err)
	}
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	r := NewRegistry(t0)
	mustRegister(t, r, Descriptor{Name: "A", Delay: time.Minute, Interval: time.Hour})

	tests := []struct {
		name string
		d    Descriptor
		body Body
		want error
	}{
		{name: "duplicate", d: Descriptor{Name: "A", Interval: time.Hour}, body: noop, want: ErrDuplicateTaskName},
		{name: "zero interval", d: Descriptor{Name: "B"}, body: noop, want: ErrInvalidInterval},
		{name: "negative delay", d: Descriptor{Name: "C", Delay: -time.Second, Interval: time.Hour}, body: noop, want: ErrInvalidDelay},
		{name: "empty name", d: Descriptor{Name: "  ", Interval: time.Hour}, body: noop, want: ErrEmptyTaskName},
		{name: "nil body", d: Descriptor{Name: "D", Interval: time.Hour}, want: ErrNilBody},
	}
	for _, tt := range tests {
		err := r.Register(tt.d, tt.body)
		if !errors.Is(err, tt.want) {
			t.Fatalf("%s: error = %v, want %v", tt.name, err, tt.want)
		}
		if !IsConfigError(err) {
			t.Fatalf("%s: expected ConfigError, got %T", tt.name, err)
		}
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"A"}) {
		t.Fatalf("Names = %v, want [A]", got)
	}
}

func TestFirstRunWaitsForDelay(t *testing.T) {
	t.Parallel()
	r := NewRegistry(t0)
	mustRegister(t, r, Descriptor{Name: "A", Delay: time.Minute, Interval: time.Hour})

	if got := r.ListDue(at(59 * time.Second)); len(got) != 0 {
		t.Fatalf("due before delay: %v", got)
	}
	if got := r.ListDue(at(time.Minute)); !reflect.DeepEqual(got, []string{"A"}) {
		t.Fatalf("ListDue at start+delay = %v, want [A]", got)
	}
}

func TestDelayIntervalScenario(t *testing.T) {
	t.Parallel()
	r := NewRegistry(t0)
	mustRegister(t, r, Descriptor{Name: "A", Delay: time.Minute, Interval: time.Hour})

	if got := r.ListDue(at(30 * time.Second)); len(got) != 0 {
		t.Fatalf("t=30s: ListDue = %v, want empty", got)
	}
	if got := r.ListDue(at(61 * time.Second)); !reflect.DeepEqual(got, []string{"A"}) {
		t.Fatalf("t=61s: ListDue = %v, want [A]", got)
	}

	if prev, err := r.MarkRunning("A", true); err != nil || prev {
		t.Fatalf("MarkRunning = (%v, %v)", prev, err)
	}
	if err := r.MarkSuccess("A", at(65*time.Second)); err != nil {
		t.Fatalf("MarkSuccess error: %v", err)
	}
	if _, err := r.MarkRunning("A", false); err != nil {
		t.Fatalf("MarkRunning(false) error: %v", err)
	}

	if got := r.ListDue(at(3600 * time.Second)); len(got) != 0 {
		t.Fatalf("t=3600s: ListDue = %v, want empty", got)
	}
	if got := r.ListDue(at(3664 * time.Second)); len(got) != 0 {
		t.Fatalf("t=3664s: ListDue = %v, want empty (due at 3665s)", got)
	}
	if got := r.ListDue(at(3666 * time.Second)); !reflect.DeepEqual(got, []string{"A"}) {
		t.Fatalf("t=3666s: ListDue = %v, want [A]", got)
	}
}

func TestListDueOrderAndFilter(t *testing.T) {
	t.Parallel()
	r := NewRegistry(t0)
	mustRegister(t, r, Descriptor{Name: "C", Delay: 0, Interval: time.Hour})
	mustRegister(t, r, Descriptor{Name: "B", Delay: time.Hour, Interval: time.Hour})
	mustRegister(t, r, Descriptor{Name: "A", Delay: 0, Interval: time.Hour})

	if got := r.ListDue(at(time.Second)); !reflect.DeepEqual(got, []string{"C", "A"}) {
		t.Fatalf("ListDue = %v, want [C A]", got)
	}

	r2 := NewRegistry(t0)
	mustRegister(t, r2, Descriptor{Name: "A", Interval: time.Hour})
	mustRegister(t, r2, Descriptor{Name: "B", Delay: time.Hour, Interval: time.Hour})
	if got := r2.ListDue(at(time.Second)); !reflect.DeepEqual(got, []string{"A"}) {
		t.Fatalf("ListDue = %v, want [A]", got)
	}
}

func TestListDueIdempotent(t *testing.T) {
	t.Parallel()
	r := NewRegistry(t0)
	mustRegister(t, r, Descriptor{Name: "A", Interval: time.Hour})
	mustRegister(t, r, Descriptor{Name: "B", Delay: 2 * time.Minute, Interval: time.Hour})
	now := at(3 * time.Minute)
	first := r.ListDue(now)
	for i := 0; i < 5; i++ {
		if got := r.ListDue(now); !reflect.DeepEqual(got, first) {
			t.Fatalf("call %d: ListDue = %v, want %v", i, got, first)
		}
	}
}

func TestMarkRunningIsExclusive(t *testing.T) {
	t.Parallel()
	r := NewRegistry(t0)
	mustRegister(t, r, Descriptor{Name: "A", Interval: time.Hour})

	var acquired int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prev, err := r.MarkRunning("A", true)
			if err == nil && !prev {
				atomic.AddInt32(&acquired, 1)
			}
		}()
	}
	wg.Wait()
	if acquired != 1 {
		t.Fatalf("acquired = %d, want exactly 1", acquired)
	}
	if prev, _ := r.MarkRunning("A", true); !prev {
		t.Fatal("second acquire must report the existing true")
	}
}

func TestMarkSuccessErrors(t *testing.T) {
	t.Parallel()
	r := NewRegistry(t0)
	mustRegister(t, r, Descriptor{Name: "A", Interval: time.Hour})

	if err := r.MarkSuccess("nope", at(0)); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("unknown task error = %v", err)
	}
	if _, err := r.MarkRunning("nope", true); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("unknown task MarkRunning error = %v", err)
	}
	if err := r.MarkSuccess("A", at(0)); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("not running error = %v", err)
	}
}

func TestLastRunMonotonic(t *testing.T) {
	t.Parallel()
	r := NewRegistry(t0)
	mustRegister(t, r, Descriptor{Name: "A", Interval: time.Hour})
	_, _ = r.MarkRunning("A", true)
	_ = r.MarkSuccess("A", at(10*time.Minute))
	_ = r.MarkSuccess("A", at(5*time.Minute))

	info := r.Snapshot(at(10 * time.Minute))[0]
	if !info.LastRun.Equal(at(10 * time.Minute)) {
		t.Fatalf("LastRun = %v, want %v", info.LastRun, at(10*time.Minute))
	}
	if !info.NextDue.Equal(at(70 * time.Minute)) {
		t.Fatalf("NextDue = %v", info.NextDue)
	}
}

func TestFailureLeavesLastRun(t *testing.T) {
	t.Parallel()
	r := NewRegistry(t0)
	mustRegister(t, r, Descriptor{Name: "A", Interval: time.Hour})
	_, _ = r.MarkRunning("A", true)
	r.MarkFailure("A", at(time.Second), errors.New("boom"))
	_, _ = r.MarkRunning("A", false)

	if got := r.ListDue(at(2 * time.Second)); !reflect.DeepEqual(got, []string{"A"}) {
		t.Fatalf("failed task must stay due, got %v", got)
	}
	info := r.Snapshot(at(2 * time.Second))[0]
	if !info.LastRun.IsZero() || info.Failures != 1 || info.LastError != "boom" {
		t.Fatalf("snapshot = %+v", info)
	}
}
