// Package eventbus is the agent's host message channel: an in-process
// publish/subscribe bus that task bodies, the agent, the notifier and the
// optional Redis bridge use to exchange requests and results.
package eventbus

import (
	"slices"
	"strings"
	"sync"
	"time"
)

const defaultBuffer = 8

// Event is one message on the bus. Data should be small and
// JSON-serializable so bridges can forward it.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus fans events out to buffered subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus. It runs no goroutines of its own.
func New() Bus { return &memBus{} }

type memBus struct {
	mu   sync.RWMutex
	subs []*subscription
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()
	for _, s := range subs {
		if s.wants(e.Type) {
			s.offer(e)
		}
	}
}

// Subscribe registers a subscriber. With no types it receives every event.
// A type ending in "." matches every event type with that prefix.
func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &subscription{ch: make(chan Event, buffer)}
	for _, t := range types {
		if strings.HasSuffix(t, ".") {
			s.prefixes = append(s.prefixes, t)
		} else {
			s.exact = append(s.exact, t)
		}
	}
	s.all = len(types) == 0

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	return s.ch, func() {
		b.mu.Lock()
		b.subs = slices.DeleteFunc(b.subs, func(x *subscription) bool { return x == s })
		b.mu.Unlock()
		s.close()
	}
}

type subscription struct {
	ch       chan Event
	all      bool
	exact    []string
	prefixes []string

	mu     sync.Mutex // guards closed against a concurrent offer
	closed bool
}

func (s *subscription) wants(typ string) bool {
	if s.all || slices.Contains(s.exact, typ) {
		return true
	}
	return slices.ContainsFunc(s.prefixes, func(p string) bool { return strings.HasPrefix(typ, p) })
}

func (s *subscription) offer(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
