package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/starCarlos/HotSpot-Hunter/internal/ports"
)

// IntervalScheduler drives ingestion cycles with a plain ticker: the job
// runs once at start, then every interval.
type IntervalScheduler struct {
	interval time.Duration
	location *time.Location

	mu      sync.Mutex
	stop    chan struct{}
	stopped bool
}

var _ ports.Scheduler = (*IntervalScheduler)(nil)

// NewIntervalScheduler builds a scheduler; intervals under a minute are
// clamped to a minute.
func NewIntervalScheduler(interval time.Duration, location *time.Location) *IntervalScheduler {
	if interval < time.Minute {
		interval = time.Minute
	}
	if location == nil {
		location = time.Local
	}
	return &IntervalScheduler{interval: interval, location: location}
}

// Start begins ticking. Job timestamps are in the configured location.
func (s *IntervalScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	s.mu.Lock()
	if s.stop != nil || s.stopped {
		s.mu.Unlock()
		return nil
	}
	stop := make(chan struct{})
	s.stop = stop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		job(time.Now().In(s.location))
		for {
			select {
			case t := <-ticker.C:
				job(t.In(s.location))
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()
	return nil
}

// Stop halts the ticker goroutine. Safe to call more than once.
func (s *IntervalScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	if s.stop != nil {
		close(s.stop)
	}
	return nil
}
