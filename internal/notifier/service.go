package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"enel/internal/eventbus"
	rtsup "enel/internal/runtime/supervisor"
	"enel/internal/storage"
	kit "enel/internal/transport"
	logx "enel/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const (
	defaultWorkers    = 2
	defaultQueueSize  = 256
	defaultRate       = 3
	defaultDedupLimit = 2000
	historySize       = 200
	persistQueueSize  = 256
)

type job struct {
	n   kit.Notification
	key string
}

// pipeline is one started generation of the queue and its workers.
type pipeline struct {
	queue   chan job
	persist chan dedupWrite // nil unless dedup is persisted
	sup     *rtsup.Supervisor

	// pending counts Notify calls admitted but not yet enqueued.
	pending sync.WaitGroup
	closing bool
	drained chan struct{}
}

// Service delivers notifications asynchronously through a Sender.
// It is safe for concurrent use.
type Service struct {
	log    logx.Logger
	sender kit.Sender
	bus    eventbus.Bus
	store  storage.Store

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	p       *pipeline

	seen *dedupCache

	hmu     sync.Mutex
	history []HistoryItem
}

// New builds a notifier. bus and store may be nil.
func New(cfg Config, sender kit.Sender, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, log: log, bus: bus, store: store, seen: newDedupCache()}
	s.setConfig(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the configuration. Workers and QueueSize take effect on the
// next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setConfig(cfg)
}

func (s *Service) setConfig(cfg Config) {
	cfg = withDefaults(cfg)
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func withDefaults(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRate
	}
	cfg.RetryMax = max(cfg.RetryMax, 0)
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	cfg.DedupWindow = max(cfg.DedupWindow, 0)
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = defaultDedupLimit
	}
	return cfg
}

func (s *Service) settings() (Config, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter
}

// Start launches the workers. It is a no-op while disabled or already
// running, and waits for a Stop in progress to finish first.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	for s.p != nil && s.p.closing {
		drained := s.p.drained
		s.mu.Unlock()
		select {
		case <-drained:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.p != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	cfg := s.cfg
	p := &pipeline{
		queue:   make(chan job, cfg.QueueSize),
		drained: make(chan struct{}),
		sup: rtsup.New(ctx,
			rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))),
			rtsup.WithCancelOnError(false),
		),
	}
	if cfg.PersistDedup && s.store != nil {
		p.persist = make(chan dedupWrite, persistQueueSize)
	}
	s.p = p
	s.mu.Unlock()

	if p.persist != nil {
		p.sup.Go0("dedup.persist", func(c context.Context) { s.persistDedup(c, p.persist) })
	}
	for i := range cfg.Workers {
		p.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.work(c, p.queue)
			return nil
		})
	}
}

// Stop refuses new notifications and drains the queue until ctx expires,
// after which in-flight sends are cancelled.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	p := s.p
	if p == nil {
		s.mu.Unlock()
		return
	}
	first := !p.closing
	p.closing = true
	s.mu.Unlock()

	if first {
		go s.drain(p)
	}
	select {
	case <-p.drained:
	case <-ctx.Done():
		p.sup.Cancel()
	}
}

func (s *Service) drain(p *pipeline) {
	p.pending.Wait()
	close(p.queue)
	if p.persist != nil {
		close(p.persist)
	}
	_ = p.sup.Wait(context.Background())

	s.mu.Lock()
	if s.p == p {
		s.p = nil
	}
	s.mu.Unlock()
	close(p.drained)
}

// Notify enqueues n. Duplicates inside the dedup window are dropped without
// error.
func (s *Service) Notify(ctx context.Context, n kit.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	cfg, p := s.cfg, s.p
	switch {
	case !cfg.Enabled:
		s.mu.Unlock()
		return ErrDisabled
	case p == nil || p.closing:
		s.mu.Unlock()
		return ErrStopped
	}
	p.pending.Add(1)
	s.mu.Unlock()
	defer p.pending.Done()

	key := dedupKey(n)
	if cfg.DedupWindow > 0 && key != "" && !s.admit(ctx, key, cfg, p.persist) {
		s.publish(TypeDeduped, n, key, nil)
		return nil
	}

	select {
	case p.queue <- job{n: n, key: key}:
		s.publish(TypeQueued, n, key, nil)
		return nil
	default:
		s.publish(TypeDropped, n, key, ErrQueueFull)
		return ErrQueueFull
	}
}

// History returns recently sent texts, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) remember(text string) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if extra := len(s.history) - historySize; extra > 0 {
		s.history = append(s.history[:0], s.history[extra:]...)
	}
}

func (s *Service) publish(typ string, n kit.Notification, key string, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := NotificationEvent{Channel: n.Channel, ChatID: n.Target.ChatID, ThreadID: n.Target.ThreadID, Key: key, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}
