package notifier

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	kit "enel/internal/transport"
	logx "enel/pkg/logx"
)

const (
	dedupLookupTimeout = 50 * time.Millisecond
	dedupWriteTimeout  = 250 * time.Millisecond
)

type dedupWrite struct {
	key   string
	until time.Time
}

// dedupCache maps notification keys to the end of their suppression window.
type dedupCache struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func newDedupCache() *dedupCache { return &dedupCache{until: map[string]time.Time{}} }

func (c *dedupCache) active(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.until[key]
	return ok && now.Before(u)
}

// mark records key until the given time, then prunes expired entries and
// evicts the soonest-expiring ones while over limit.
func (c *dedupCache) mark(key string, until, now time.Time, limit int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.until[key] = until
	for k, u := range c.until {
		if !now.Before(u) {
			delete(c.until, k)
		}
	}
	for len(c.until) > limit {
		var victim string
		var at time.Time
		for k, u := range c.until {
			if victim == "" || u.Before(at) {
				victim, at = k, u
			}
		}
		delete(c.until, victim)
	}
}

// dedupKey identifies a notification by channel, target, priority and text.
// Notifications without a channel are never deduplicated.
func dedupKey(n kit.Notification) string {
	if n.Channel == "" {
		return ""
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d:%d:%d|%s", n.Channel, n.Target.ChatID, n.Target.ThreadID, n.Priority, n.Text)
	return fmt.Sprintf("%x", h.Sum64())
}

// admit reports whether key may be sent now and opens a new window for it.
func (s *Service) admit(ctx context.Context, key string, cfg Config, persist chan<- dedupWrite) bool {
	now := time.Now()
	if s.seen.active(key, now) {
		return false
	}
	if persist != nil {
		if until, ok := s.lookupDedup(ctx, key); ok && now.Before(until) {
			s.seen.mark(key, until, now, cfg.DedupMaxEntries)
			return false
		}
	}

	until := now.Add(cfg.DedupWindow)
	s.seen.mark(key, until, now, cfg.DedupMaxEntries)
	if persist != nil {
		select {
		case persist <- dedupWrite{key: key, until: until}:
		default:
		}
	}
	return true
}

func (s *Service) lookupDedup(ctx context.Context, key string) (time.Time, bool) {
	ctx, cancel := context.WithTimeout(ctx, dedupLookupTimeout)
	defer cancel()
	until, ok, err := s.store.GetDedup(ctx, key)
	if err != nil {
		s.log.Debug("dedup lookup failed", logx.Err(err))
		return time.Time{}, false
	}
	return until, ok
}

func (s *Service) persistDedup(ctx context.Context, ch <-chan dedupWrite) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-ch:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, dedupWriteTimeout)
			if err := s.store.PutDedup(wctx, w.key, w.until); err != nil {
				s.log.Debug("dedup persist failed", logx.Err(err))
			}
			cancel()
		}
	}
}
