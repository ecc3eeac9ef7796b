package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/cordum/mediadrop/core/artifact/urlindex"
	"github.com/cordum/mediadrop/core/infra/bus"
	"github.com/cordum/mediadrop/core/infra/logging"
	"github.com/cordum/mediadrop/core/infra/metrics"
	"github.com/cordum/mediadrop/core/storage"
)

const (
	ReasonExpired = "expired"
	ReasonDrain   = "drain"

	defaultSweepInterval = time.Minute
)

// Sweeper periodically reclaims sessions older than the expiry threshold.
// The ticker only dispatches; sweeps run on a worker goroutine so a slow
// sweep never stacks ticks.
type Sweeper struct {
	registry *Registry
	tier     *storage.Tier
	index    urlindex.Index
	expiry   time.Duration
	interval time.Duration
	now      func() time.Time
	metrics  metrics.Lifecycle
	events   bus.Publisher

	sweepMu   sync.Mutex
	kick      chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewSweeper(registry *Registry, tier *storage.Tier, index urlindex.Index, expiry, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{
		registry: registry,
		tier:     tier,
		index:    index,
		expiry:   expiry,
		interval: interval,
		now:      time.Now,
		metrics:  metrics.Noop{},
		events:   bus.Noop{},
		kick:     make(chan struct{}, 1),
	}
}

func (s *Sweeper) withClock(now func() time.Time) *Sweeper {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Sweeper) withObservers(m metrics.Lifecycle, events bus.Publisher) *Sweeper {
	if m != nil {
		s.metrics = m
	}
	if events != nil {
		s.events = events
	}
	return s
}

// Start launches the ticker and worker goroutines. Calling it twice is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.wg.Add(2)
		go s.worker(ctx)
		go s.dispatch(ctx)
		logging.Info("sweeper", "started", "interval", s.interval, "expiry", s.expiry)
	})
}

// Stop cancels the loop and waits for an in-progress sweep to return.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel == nil {
			return
		}
		s.cancel()
		s.wg.Wait()
		logging.Info("sweeper", "stopped")
	})
}

func (s *Sweeper) dispatch(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case s.kick <- struct{}{}:
			default:
			}
		}
	}
}

func (s *Sweeper) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
			s.Sweep(context.WithoutCancel(ctx))
		}
	}
}

// Sweep reclaims every session whose age is at least the expiry threshold
// and returns how many were removed. Sessions mid-upload are left for a
// later sweep.
func (s *Sweeper) Sweep(ctx context.Context) int {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	candidates := s.registry.Expired(s.now(), s.expiry)
	reclaimed := 0
	for _, cand := range candidates {
		sess, ok := s.registry.markExpired(cand.ID, false)
		if !ok {
			continue
		}
		s.reclaim(ctx, sess, ReasonExpired)
		reclaimed++
	}
	s.metrics.SetActiveSessions(s.registry.Len())
	if reclaimed > 0 {
		logging.Info("sweeper", "sweep complete", "reclaimed", reclaimed, "remaining", s.registry.Len())
	}
	return reclaimed
}

// reclaimAll expires every session regardless of age or upload state.
func (s *Sweeper) reclaimAll(ctx context.Context, reason string) int {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	reclaimed := 0
	for _, cand := range s.registry.Snapshot() {
		sess, ok := s.registry.markExpired(cand.ID, true)
		if !ok {
			continue
		}
		s.reclaim(ctx, sess, reason)
		reclaimed++
	}
	s.metrics.SetActiveSessions(s.registry.Len())
	return reclaimed
}

// reclaim deletes storage, then index entries, then the registry entry.
// A failed storage delete leaks the artifact; the session is removed anyway.
func (s *Sweeper) reclaim(ctx context.Context, sess Session, reason string) {
	if err := s.tier.Delete(ctx, sess.Descriptor); err != nil {
		logging.Error("sweeper", "storage delete failed",
			"session", sess.ID, "storage", sess.Descriptor.Kind, "target", sess.Descriptor.StorageKey(), "error", err)
		s.metrics.IncDeleteFailures(string(sess.Descriptor.Kind))
	}
	if err := s.index.RemoveAllBySession(ctx, sess.ID); err != nil {
		logging.Warn("sweeper", "url index cleanup failed", "session", sess.ID, "error", err)
	}
	s.registry.Remove(sess.ID)
	s.metrics.IncSessionsReclaimed(reason)
	if err := s.events.Publish(bus.Event{
		Type:      bus.EventReclaimed,
		SessionID: sess.ID,
		Storage:   string(sess.Descriptor.Kind),
		Key:       sess.Descriptor.StorageKey(),
		Filename:  sess.Descriptor.Filename,
		Reason:    reason,
		At:        s.now().UTC(),
	}); err != nil {
		logging.Warn("sweeper", "publish reclaimed event failed", "session", sess.ID, "error", err)
	}
}
