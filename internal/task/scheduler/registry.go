package scheduler

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Registry maps task names to descriptors, bodies and run state.
//
// All state is guarded by a single mutex so gate acquisition, completion and
// due evaluation are atomic with respect to each other. State is in-memory
// only; a new Registry starts every task with an unset lastRun.
type Registry struct {
	mu    sync.Mutex
	start time.Time
	order []string
	tasks map[string]*taskState
}

// NewRegistry creates an empty registry whose delay windows are measured
// from start. A zero start means time.Now().
func NewRegistry(start time.Time) *Registry {
	if start.IsZero() {
		start = time.Now()
	}
	return &Registry{start: start, tasks: map[string]*taskState{}}
}

// Start returns the instant delay windows are measured from.
func (r *Registry) Start() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.start
}

// Register adds a task. Every failure is a *ConfigError.
func (r *Registry) Register(d Descriptor, body Body) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return configErr("name", ErrEmptyTaskName)
	}
	field := "tasks." + d.Name
	if d.Interval <= 0 {
		return configErr(field+".interval", fmt.Errorf("%w (got %s)", ErrInvalidInterval, d.Interval))
	}
	if d.Delay < 0 {
		return configErr(field+".delay", fmt.Errorf("%w (got %s)", ErrInvalidDelay, d.Delay))
	}
	if body == nil {
		return configErr(field, ErrNilBody)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[d.Name]; ok {
		return configErr(field, fmt.Errorf("%w: %s", ErrDuplicateTaskName, d.Name))
	}
	r.tasks[d.Name] = &taskState{desc: d, body: body}
	r.order = append(r.order, d.Name)
	return nil
}

func (r *Registry) dueLocked(st *taskState, now time.Time) bool {
	if st.lastRun.IsZero() {
		return !now.Before(r.start.Add(st.desc.Delay))
	}
	return !now.Before(st.lastRun.Add(st.desc.Interval))
}

func (r *Registry) nextDueLocked(st *taskState) time.Time {
	if st.lastRun.IsZero() {
		return r.start.Add(st.desc.Delay)
	}
	return st.lastRun.Add(st.desc.Interval)
}

// ListDue returns the names of tasks due at now, in registration order.
// It does not mutate state.
func (r *Registry) ListDue(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, name := range r.order {
		if r.dueLocked(r.tasks[name], now) {
			out = append(out, name)
		}
	}
	return out
}

// MarkRunning sets the run gate and returns its previous value.
// MarkRunning(name, true) returning true means another run holds the gate.
func (r *Registry) MarkRunning(name string, running bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.tasks[name]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	prev := st.running
	st.running = running
	return prev, nil
}

// MarkSuccess records a successful completion. The task must hold its run
// gate. A completedAt earlier than the recorded lastRun is ignored.
func (r *Registry) MarkSuccess(name string, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.tasks[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	if !st.running {
		return fmt.Errorf("%w: %s", ErrNotRunning, name)
	}
	st.runs++
	if completedAt.After(st.lastRun) {
		st.lastRun = completedAt
	}
	return nil
}

// MarkFailure records a failed run for diagnostics. lastRun is untouched.
func (r *Registry) MarkFailure(name string, at time.Time, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.tasks[name]
	if !ok {
		return
	}
	st.runs++
	st.failures++
	st.lastFail = at
	if err != nil {
		st.lastErr = err.Error()
	}
}

// Lookup returns the descriptor and body of a registered task.
func (r *Registry) Lookup(name string) (Descriptor, Body, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.tasks[name]
	if !ok {
		return Descriptor{}, nil, false
	}
	return st.desc, st.body, true
}

func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Snapshot returns per-task state in registration order, evaluated at now.
func (r *Registry) Snapshot(now time.Time) []TaskInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TaskInfo, 0, len(r.order))
	for _, name := range r.order {
		st := r.tasks[name]
		out = append(out, TaskInfo{
			Name:      name,
			Delay:     st.desc.Delay,
			Interval:  st.desc.Interval,
			Timeout:   st.desc.Timeout,
			LastRun:   st.lastRun,
			NextDue:   r.nextDueLocked(st),
			Due:       r.dueLocked(st, now),
			Running:   st.running,
			Runs:      st.runs,
			Failures:  st.failures,
			LastError: st.lastErr,
			LastFail:  st.lastFail,
		})
	}
	return out
}
