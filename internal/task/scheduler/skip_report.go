package scheduler

import (
	"errors"
	"time"

	"enel/internal/eventbus"
	"enel/internal/task/engine"
	logx "enel/pkg/logx"
)

// skipWarnThrottle bounds skip and dispatch-failure logs per task.
const skipWarnThrottle = 5 * time.Minute

// SkipEvent is published as task.skipped when a due task is still running.
type SkipEvent struct {
	Name string    `json:"name"`
	At   time.Time `json:"at"`
}

func (s *Service) reportSkip(name string, at time.Time, err error) {
	if err == nil {
		return
	}
	overlap := errors.Is(err, engine.ErrOverlapSkip)
	if overlap {
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskSkipped, Time: at, Data: SkipEvent{Name: name, At: at}})
		}
		s.log.Debug("task trigger skipped", logx.String("task", name))
	}

	now := time.Now()
	s.skipMu.Lock()
	if s.lastSkipWarn == nil {
		s.lastSkipWarn = make(map[string]time.Time)
	}
	last := s.lastSkipWarn[name]
	if !last.IsZero() && now.Sub(last) < skipWarnThrottle {
		s.skipMu.Unlock()
		return
	}
	s.lastSkipWarn[name] = now
	s.skipMu.Unlock()

	if overlap {
		s.log.Info("task still running from a previous tick", logx.String("task", name))
		return
	}
	s.log.Warn("task dispatch failed", logx.String("task", name), logx.Err(err))
}
