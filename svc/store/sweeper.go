package store

import (
	"context"
	"sync"
	"time"

	"pastebox/metrics"
	"pastebox/svc/util"
)

// Sweeper periodically evicts expired pastes. It has no terminal state of its
// own; it runs until Stop or until the context passed to Start is cancelled.
type Sweeper struct {
	interval time.Duration
	evict    func() int

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewSweeper(interval time.Duration, evict func() int) *Sweeper {
	return &Sweeper{
		interval: interval,
		evict:    evict,
		done:     make(chan struct{}),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
}

// Stop cancels the loop and waits for an in-progress sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started, cancel := s.started, s.cancel
	s.mu.Unlock()
	if !started {
		return
	}
	cancel()
	<-s.done
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	util.Info().Dur("interval", s.interval).Msg("expiration sweeper started")
	for {
		select {
		case <-ctx.Done():
			util.Info().Msg("expiration sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one eviction pass and returns how many pastes were removed.
func (s *Sweeper) Sweep() int {
	sweepID := util.NewRequestID()
	start := time.Now()
	n := s.evict()
	metrics.SweepCycles.Inc()
	if n > 0 {
		metrics.SweepEvicted.Add(float64(n))
		util.Info().
			Str("sweep_id", sweepID).
			Int("evicted", n).
			Dur("duration", time.Since(start)).
			Msg("expired pastes evicted")
	}
	return n
}
