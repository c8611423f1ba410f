package command

import (
	"context"
	"sync"
	"time"
)

// Timeout reasons recorded in the command log.
const (
	ReasonPendingExpired = "pending command expired"
	ReasonAckTimeout     = "no ack from device"
)

// Sweeper expires queued commands whose pending entry outlived its TTL and,
// when ackTimeout is positive, sent commands the device never answered.
type Sweeper struct {
	log        LogStore
	queue      PendingQueue
	interval   time.Duration
	ackTimeout time.Duration
	observers  []Observer
	logger     Logger
	now        func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// SweepStats summarises one sweep.
type SweepStats struct {
	ExpiredPending int
	TimedOut       int
}

// NewSweeper creates a Sweeper. Observers and the logger are shared with
// the dispatcher options of the same name.
func NewSweeper(log LogStore, queue PendingQueue, interval, ackTimeout time.Duration, opts ...Option) *Sweeper {
	d := &Dispatcher{logger: noopLogger{}, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return &Sweeper{
		log:        log,
		queue:      queue,
		interval:   interval,
		ackTimeout: ackTimeout,
		observers:  d.observers,
		logger:     d.logger,
		now:        d.now,
	}
}

// Start runs sweeps every interval until ctx is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
					s.logger.Error("command sweep failed", "error", err)
				}
			}
		}
	}()
}

// Stop halts the sweep loop and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Sweep runs one pass.
func (s *Sweeper) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	now := s.now()

	expired, err := s.queue.PurgeExpired(ctx, now)
	if err != nil {
		return stats, err
	}
	stats.ExpiredPending = len(expired)

	for _, e := range expired {
		if e.CommandID == 0 {
			continue
		}
		cmd, err := s.log.Transition(ctx, e.CommandID, StatusTimeout, ReasonPendingExpired, StatusQueued)
		if err != nil {
			return stats, err
		}
		if cmd != nil {
			stats.TimedOut++
			s.notify(cmd)
		}
	}

	if s.ackTimeout > 0 {
		stale, err := s.log.TimeoutSent(ctx, now.Add(-s.ackTimeout), ReasonAckTimeout)
		for i := range stale {
			stats.TimedOut++
			s.notify(&stale[i])
		}
		if err != nil {
			return stats, err
		}
	}

	if stats.ExpiredPending > 0 || stats.TimedOut > 0 {
		s.logger.Info("command sweep", "expired_pending", stats.ExpiredPending, "timed_out", stats.TimedOut)
	}
	return stats, nil
}

func (s *Sweeper) notify(cmd *Command) {
	for _, o := range s.observers {
		o.CommandUpdated(cmd)
	}
}
