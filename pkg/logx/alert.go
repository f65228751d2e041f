package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// AlertConfig forwards records at or above MinLevel (default warn), and any
// record tagged "alert", to the AlertSender.
type AlertConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int // default 1
}

// AlertSender receives rendered alert text. Implementations must be safe for
// concurrent use.
type AlertSender interface {
	SendAlert(ctx context.Context, text string) error
}

const (
	alertQueueSize   = 256
	alertSendTimeout = 10 * time.Second
	alertMaxText     = 3500
	alertMaxValue    = 600
)

// alertSink is a zerolog.LevelWriter. Writes never block: records beyond the
// rate limit or queue capacity are counted and dropped.
type alertSink struct {
	mu       sync.Mutex
	sender   AlertSender
	limiter  *rate.Limiter
	minLevel Level

	queue   chan string
	dropped atomic.Uint64

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func newAlertSink(sender AlertSender) *alertSink {
	return &alertSink{
		sender:   sender,
		limiter:  rate.NewLimiter(1, 1),
		minLevel: LevelWarn,
		queue:    make(chan string, alertQueueSize),
	}
}

func (a *alertSink) setSender(sender AlertSender) {
	a.mu.Lock()
	a.sender = sender
	a.mu.Unlock()
}

func (a *alertSink) configure(cfg AlertConfig) {
	rps := max(1, cfg.RatePerSec)
	a.mu.Lock()
	a.minLevel = parseLevel(cfg.MinLevel, LevelWarn)
	a.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	a.mu.Unlock()
	if cfg.Enabled {
		a.startOnce.Do(a.start)
	}
}

func (a *alertSink) start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.deliver(ctx)
}

func (a *alertSink) stop() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
}

func (a *alertSink) deliver(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-a.queue:
			a.mu.Lock()
			sender := a.sender
			a.mu.Unlock()
			if sender == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, alertSendTimeout)
			_ = sender.SendAlert(sctx, text)
			cancel()
		}
	}
}

func (a *alertSink) Write(p []byte) (int, error) { return a.WriteLevel(LevelInfo, p) }

func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	sender, lim, minLevel := a.sender, a.limiter, a.minLevel
	a.mu.Unlock()
	if sender == nil {
		return len(p), nil
	}

	if level < minLevel && !bytes.Contains(p, []byte(`"`+alertTag+`"`)) {
		return len(p), nil
	}
	rec, ok := decodeRecord(p)
	if level < minLevel && !(ok && rec.tagged(alertTag)) {
		return len(p), nil
	}
	if !lim.Allow() {
		a.dropped.Add(1)
		return len(p), nil
	}
	text := string(bytes.TrimSpace(p))
	if ok {
		text = rec.render()
	}
	select {
	case a.queue <- clip(text, alertMaxText):
	default:
		a.dropped.Add(1)
	}
	return len(p), nil
}

type record map[string]any

func decodeRecord(p []byte) (record, bool) {
	var r record
	if err := json.Unmarshal(bytes.TrimSpace(p), &r); err != nil {
		return nil, false
	}
	return r, true
}

func (r record) tagged(tag string) bool {
	tags, _ := r[tagsKey].([]any)
	return slices.Contains(tags, any(tag))
}

// render formats "[LEVEL] message" followed by one "- key=value" line per
// field in key order. Stack traces get their own block.
func (r record) render() string {
	var b strings.Builder
	if lvl, _ := r[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := r[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(r))
	for k := range r {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName:
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fmt.Sprint(r[k])
		if k == "stack" {
			fmt.Fprintf(&b, "\n- stack=\n%s", clip(v, 900))
			continue
		}
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(v, alertMaxValue))
	}
	return b.String()
}

// clip shortens s to at most n runes, marking the cut with "...".
func clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	if n < 10 {
		return string(rs[:n])
	}
	return string(rs[:n-3]) + "..."
}
