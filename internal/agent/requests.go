package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"enel/internal/config"
	"enel/internal/eventbus"
	"enel/internal/notifier"
	"enel/internal/task/scheduler"
	logx "enel/pkg/logx"
)

// taskAliases lets operators type short names in /run and /history.
var taskAliases = map[string]string{
	"weather":    config.TaskWeather,
	"air":        config.TaskAirQuality,
	"screenshot": config.TaskScreenshot,
	"map":        config.TaskScreenshot,
}

func resolveTask(name string) string {
	if full, ok := taskAliases[strings.ToLower(name)]; ok {
		return full
	}
	return name
}

// Run answers agent.request events until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	ch, unsub := a.bus.Subscribe(64, eventbus.TypeRequest)
	defer unsub()
	a.log.Info("agent online", logx.String("name", a.cfg.Name), logx.Strings("personality", a.cfg.Personality))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return errors.New("request subscription closed")
			}
			req, ok := ev.Data.(eventbus.Request)
			if !ok {
				continue
			}
			resp := a.HandleRequest(ctx, req)
			a.bus.Publish(eventbus.Event{Type: eventbus.TypeResponse, Time: a.now(), Data: resp})
		}
	}
}

// HandleRequest answers one request. Unknown commands produce an error response.
func (a *Agent) HandleRequest(ctx context.Context, req eventbus.Request) eventbus.Response {
	resp := eventbus.Response{RequestID: req.ID, Command: req.Command, Origin: req.Origin}
	log := a.log.With(logx.String("request_id", req.ID), logx.String("cmd", req.Command), logx.String("channel", req.Origin.Channel))

	var err error
	switch strings.ToLower(req.Command) {
	case "status":
		resp.Text, resp.Data = a.status()
	case "weather":
		resp.Text, resp.Data, err = a.latestText(config.TaskWeather, "weather")
	case "air":
		resp.Text, resp.Data, err = a.latestText(config.TaskAirQuality, "air quality")
	case "tasks":
		resp.Text, resp.Data, err = a.tasks()
	case "run":
		resp.Text, err = a.runNow(ctx, req.Args)
	case "history":
		resp.Text, resp.Data, err = a.history(ctx, req.Args)
	default:
		err = fmt.Errorf("unknown command %q", req.Command)
	}
	if err != nil {
		resp.Error = err.Error()
		log.Debug("request failed", logx.Err(err))
	} else {
		log.Debug("request answered")
	}
	return resp
}

// StatusInfo is the structured part of a status response.
type StatusInfo struct {
	Name        string    `json:"name"`
	Personality []string  `json:"personality"`
	Started     time.Time `json:"started"`
	Uptime      string    `json:"uptime"`
	Running     bool      `json:"scheduler_running"`
	Tasks       int       `json:"tasks"`
}

func (a *Agent) status() (string, StatusInfo) {
	now := a.now()
	info := StatusInfo{
		Name:        a.cfg.Name,
		Personality: a.Personality(),
		Started:     a.started,
		Uptime:      now.Sub(a.started).Truncate(time.Second).String(),
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", a.cfg.Name, strings.Join(info.Personality, ", "))
	fmt.Fprintf(&b, "Up since %s (%s)\n", a.started.Format(time.RFC3339), humanize.RelTime(a.started, now, "ago", "from now"))

	if s := a.scheduler(); s != nil {
		snap := s.Snapshot()
		info.Running = snap.Running
		info.Tasks = len(snap.Tasks)
		state := "stopped"
		if snap.Running {
			state = "running"
		}
		fmt.Fprintf(&b, "Scheduler %s, tick %s, %d ticks", state, snap.Tick, snap.Ticks)
		var failing []string
		for _, t := range snap.Tasks {
			if t.LastError != "" && t.LastFail.After(t.LastRun) {
				failing = append(failing, t.Name)
			}
		}
		if len(failing) > 0 {
			fmt.Fprintf(&b, "\nFailing: %s", strings.Join(failing, ", "))
		}
	} else {
		b.WriteString("Scheduler not attached")
	}
	return b.String(), info
}

func (a *Agent) latestText(task, label string) (string, any, error) {
	c, ok := a.Latest(task)
	if !ok {
		return "", nil, fmt.Errorf("no %s result yet", label)
	}
	text := fmt.Sprintf("%s\n(%s)", notifier.Summarize(c.Data), humanize.RelTime(c.At, a.now(), "ago", "from now"))
	return text, c.Data, nil
}

func (a *Agent) tasks() (string, []scheduler.TaskInfo, error) {
	s := a.scheduler()
	if s == nil {
		return "", nil, errors.New("scheduler not attached")
	}
	now := a.now()
	snap := s.Snapshot()
	var b strings.Builder
	for i, t := range snap.Tasks {
		if i > 0 {
			b.WriteByte('\n')
		}
		last := "never"
		if !t.LastRun.IsZero() {
			last = humanize.RelTime(t.LastRun, now, "ago", "from now")
		}
		next := "now"
		if t.Running {
			next = "running"
		} else if t.NextDue.After(now) {
			next = humanize.RelTime(t.NextDue, now, "ago", "from now")
		}
		fmt.Fprintf(&b, "%s every %s: last %s, next %s, %d runs, %d failures",
			t.Name, scheduler.FormatDuration(t.Interval), last, next, t.Runs, t.Failures)
	}
	if b.Len() == 0 {
		b.WriteString("no tasks registered")
	}
	return b.String(), snap.Tasks, nil
}

func (a *Agent) runNow(ctx context.Context, args []string) (string, error) {
	s := a.scheduler()
	if s == nil {
		return "", errors.New("scheduler not attached")
	}
	if len(args) == 0 {
		return "", errors.New("usage: run <task>")
	}
	name := resolveTask(args[0])
	if err := s.RunNow(ctx, name); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s started", name), nil
}

func (a *Agent) history(ctx context.Context, args []string) (string, any, error) {
	if a.store == nil {
		return "", nil, errors.New("run history is not stored (storage.driver is none)")
	}
	task, limit := "", 10
	for _, arg := range args {
		if n, err := strconv.Atoi(arg); err == nil && n > 0 {
			limit = n
			continue
		}
		task = resolveTask(arg)
	}
	runs, err := a.store.RecentRuns(ctx, task, limit)
	if err != nil {
		return "", nil, err
	}
	if len(runs) == 0 {
		return "no runs recorded", runs, nil
	}
	now := a.now()
	var b strings.Builder
	for i, r := range runs {
		if i > 0 {
			b.WriteByte('\n')
		}
		outcome := "ok"
		if !r.OK {
			outcome = "failed: " + r.Error
		}
		fmt.Fprintf(&b, "%s %s (%s) %s", r.Task, humanize.RelTime(r.Started, now, "ago", "from now"), r.Duration.Truncate(time.Millisecond), outcome)
	}
	return b.String(), runs, nil
}
