package notify

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pulse/internal/eventbus"
	rtsup "pulse/internal/runtime/supervisor"
	"pulse/internal/storage"
	logx "pulse/pkg/logx"
)

const sendTimeout = 10 * time.Second

// Service queues messages and delivers them from one worker through a rate
// limiter, with per-key dedup and retry. A nil *Service is a disabled notifier.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender
	bus    eventbus.Bus
	store  storage.Store // optional; dedup windows survive restarts when set

	cfg     Config
	limiter *rate.Limiter

	queue    chan Message
	sup      *rtsup.Supervisor
	inflight sync.WaitGroup

	dmu   sync.Mutex
	dedup map[string]time.Time

	now func() time.Time
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	return &Service{
		log:     log.With(logx.String("comp", "notify")),
		sender:  sender,
		bus:     bus,
		store:   store,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		dedup:   map[string]time.Time{},
		now:     time.Now,
	}
}

func (s *Service) Enabled() bool {
	return s != nil && s.cfg.Enabled && s.sender != nil
}

// Start launches the delivery worker. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return
	}
	q := make(chan Message, s.cfg.QueueSize)
	s.queue = q
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.sup.GoRestart("notify.worker", func(c context.Context) error {
		for {
			select {
			case <-c.Done():
				return nil
			case m, ok := <-q:
				if !ok {
					return nil
				}
				s.deliver(c, m)
			}
		}
	})
}

// Stop closes intake and drains the queue until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	if s == nil {
		return
	}
	s.mu.Lock()
	q, sup := s.queue, s.sup
	s.queue, s.sup = nil, nil
	s.mu.Unlock()
	if q == nil {
		return
	}
	s.inflight.Wait()
	close(q)
	if err := sup.Wait(ctx); err != nil {
		sup.Cancel()
	}
}

// Notify enqueues m. Suppressed duplicates return nil.
func (s *Service) Notify(ctx context.Context, m Message) error {
	if !s.Enabled() {
		return ErrDisabled
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	q := s.queue
	if q == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	if !m.Force && m.Key != "" && s.cfg.DedupWindow > 0 && !s.dedupAllow(ctx, m.Key) {
		s.publish(EventDeduped, m.Key, nil)
		return nil
	}

	select {
	case q <- m:
		return nil
	default:
		s.publish(EventDropped, m.Key, ErrQueueFull)
		return ErrQueueFull
	}
}

func (s *Service) deliver(ctx context.Context, m Message) {
	text := prefixForPriority(m.Priority) + m.Text
	if text == "" {
		return
	}
	var lastErr error
	for attempt := 0; attempt <= s.cfg.RetryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay(s.cfg.RetryBase, attempt)):
			}
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		cctx, cancel := context.WithTimeout(ctx, sendTimeout)
		lastErr = s.sender.SendText(cctx, text)
		cancel()
		if lastErr == nil {
			s.publish(EventSent, m.Key, nil)
			return
		}
		s.log.Debug("notify send failed", logx.Err(lastErr), logx.Int("attempt", attempt+1))
	}
	s.log.Warn("notify gave up", logx.String("key", m.Key), logx.Err(lastErr))
	s.publish(EventFailed, m.Key, lastErr)
}

func (s *Service) publish(typ, key string, err error) {
	if s.bus == nil {
		return
	}
	e := Event{Key: key, At: s.now()}
	if err != nil {
		e.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: e.At, Data: e})
}

// dedupAllow reports whether key may be sent now and, if so, opens a new
// suppression window for it.
func (s *Service) dedupAllow(ctx context.Context, key string) bool {
	now := s.now()

	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	s.dmu.Unlock()

	if s.store != nil {
		cctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		until, ok, err := s.store.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	until := now.Add(s.cfg.DedupWindow)
	s.dmu.Lock()
	for k, u := range s.dedup {
		if !now.Before(u) {
			delete(s.dedup, k)
		}
	}
	s.dedup[key] = until
	s.dmu.Unlock()

	if s.store != nil {
		cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		if err := s.store.PutDedup(cctx, key, until); err != nil && !errors.Is(err, storage.ErrDisabled) {
			s.log.Debug("dedup persist failed", logx.Err(err))
		}
		cancel()
	}
	return true
}

func prefixForPriority(p int) string {
	switch {
	case p >= 9:
		return "🚨 "
	case p >= 7:
		return "⚠️ "
	case p >= 5:
		return "ℹ️ "
	default:
		return ""
	}
}

// retryDelay is base * 2^(attempt-1) with 0.7..1.3 jitter.
func retryDelay(base time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	if d <= 0 || d > time.Minute {
		d = time.Minute
	}
	j := 0.7 + rand.Float64()*0.6
	return time.Duration(float64(d) * j)
}
