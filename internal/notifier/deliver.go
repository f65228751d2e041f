package notifier

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	logx "enel/pkg/logx"
)

const sendTimeout = 10 * time.Second

// work sends queued jobs until the queue is closed or ctx ends.
func (s *Service) work(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, j)
		}
	}
}

func (s *Service) deliver(ctx context.Context, j job) {
	if s.sender == nil || j.n.Target.IsZero() {
		return
	}
	cfg, lim := s.settings()
	text := priorityPrefix(j.n.Priority) + j.n.Text
	attempts := cfg.RetryMax + 1

	var err error
	for attempt := 1; ; attempt++ {
		if err = s.sendOnce(ctx, lim, j, text); err == nil {
			s.remember(text)
			s.publish(TypeSent, j.n, j.key, nil)
			return
		}
		if ctx.Err() != nil {
			return
		}
		if attempt >= attempts {
			break
		}
		s.log.Debug("notify send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if !sleep(ctx, retryDelay(cfg, attempt)) {
			return
		}
	}
	s.log.Warn("notification dropped after retries", logx.Int("attempts", attempts), logx.Err(err))
	s.publish(TypeFailed, j.n, j.key, err)
}

func (s *Service) sendOnce(ctx context.Context, lim *rate.Limiter, j job, text string) error {
	if err := lim.Wait(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	_, err := s.sender.SendText(ctx, j.n.Target, text, j.n.Options)
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// retryDelay is the wait after a failed attempt: RetryBase doubled per
// attempt, jittered by ±30% and capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase << min(attempt-1, 16)
	if d <= 0 || d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	jitter := 0.7 + 0.6*rand.Float64()
	return min(time.Duration(float64(d)*jitter), cfg.RetryMaxDelay)
}

func priorityPrefix(p int) string {
	switch {
	case p >= 9:
		return "🚨 "
	case p >= 7:
		return "⚠️ "
	case p >= 5:
		return "ℹ️ "
	}
	return ""
}
