package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"enel/internal/eventbus"
	"enel/internal/task/engine"
	"enel/internal/task/scheduler"
	kit "enel/internal/transport"
	logx "enel/pkg/logx"
)

// Summarizer is implemented by task results that have a one-line rendering.
type Summarizer interface {
	Summary() string
}

// Forwarder turns bus events into notifications.
type Forwarder struct {
	svc   *Service
	bus   eventbus.Bus
	log   logx.Logger
	agent string

	mu  sync.Mutex
	cfg ForwardConfig
}

func NewForwarder(svc *Service, bus eventbus.Bus, agent string, cfg ForwardConfig, log logx.Logger) *Forwarder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Forwarder{svc: svc, bus: bus, log: log, agent: agent, cfg: cfg}
}

func (f *Forwarder) Apply(cfg ForwardConfig) {
	f.mu.Lock()
	f.cfg = cfg
	f.mu.Unlock()
}

// Run forwards until ctx is done.
func (f *Forwarder) Run(ctx context.Context) error {
	ch, unsub := f.bus.Subscribe(128, eventbus.TypeResult, eventbus.TypeTaskFailed, eventbus.TypeTaskSkipped)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return errors.New("forwarder subscription closed")
			}
			f.Handle(ctx, ev)
		}
	}
}

// Handle converts one event; events that are filtered out are ignored.
func (f *Forwarder) Handle(ctx context.Context, ev eventbus.Event) {
	f.mu.Lock()
	cfg := f.cfg
	f.mu.Unlock()
	if cfg.Target.IsZero() {
		return
	}

	n, ok := f.render(cfg, ev)
	if !ok {
		return
	}
	n.Channel = "telegram"
	n.Target = cfg.Target
	n.Options = &kit.SendOptions{DisablePreview: true}
	if err := f.svc.Notify(ctx, n); err != nil && !errors.Is(err, ErrDisabled) {
		f.log.Debug("notification not queued", logx.String("type", ev.Type), logx.Err(err))
	}
}

func (f *Forwarder) render(cfg ForwardConfig, ev eventbus.Event) (kit.Notification, bool) {
	switch d := ev.Data.(type) {
	case eventbus.Result:
		if !cfg.Results {
			return kit.Notification{}, false
		}
		agent := d.Agent
		if agent == "" {
			agent = f.agent
		}
		return kit.Notification{Priority: 3, Text: fmt.Sprintf("%s · %s\n%s", agent, d.Task, Summarize(d.Data))}, true
	case engine.TaskEvent:
		if !cfg.Failures || ev.Type != eventbus.TypeTaskFailed {
			return kit.Notification{}, false
		}
		return kit.Notification{Priority: 7, Text: fmt.Sprintf("%s failed: %s", d.Name, d.Error)}, true
	case scheduler.SkipEvent:
		if !cfg.Skips {
			return kit.Notification{}, false
		}
		return kit.Notification{Priority: 5, Text: fmt.Sprintf("%s skipped: previous run still in progress", d.Name)}, true
	}
	return kit.Notification{}, false
}

const maxSummary = 1500

// Summarize renders a task result as text.
func Summarize(v any) string {
	var s string
	switch t := v.(type) {
	case nil:
		return ""
	case Summarizer:
		s = t.Summary()
	case fmt.Stringer:
		s = t.String()
	case string:
		s = t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			s = fmt.Sprintf("%v", t)
		} else {
			s = string(b)
		}
	}
	if r := []rune(s); len(r) > maxSummary {
		s = string(r[:maxSummary]) + "…"
	}
	return s
}
