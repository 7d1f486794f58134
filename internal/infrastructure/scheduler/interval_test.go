package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerRunsJobAtStart(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s := NewIntervalScheduler(time.Hour, time.UTC)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx, func(time.Time) { runs.Add(1) }); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())

	deadline := time.After(2 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewIntervalScheduler(time.Hour, time.UTC)
	ctx := context.Background()
	if err := s.Start(ctx, func(time.Time) {}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestSchedulerStartStopCycles(t *testing.T) {
	t.Parallel()

	// The ticker goroutine reads the stop channel while Stop closes it;
	// repeated cycles give the race detector something to bite on.
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		s := NewIntervalScheduler(time.Hour, time.UTC)
		if err := s.Start(ctx, func(time.Time) {}); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		if err := s.Stop(ctx); err != nil {
			t.Fatalf("stop %d: %v", i, err)
		}
	}
}

func TestSchedulerStopDuringJobStillHalts(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32

	s := NewIntervalScheduler(time.Hour, time.UTC)
	ctx := context.Background()
	err := s.Start(ctx, func(time.Time) {
		runs.Add(1)
		close(entered)
		<-release
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	<-entered
	// Stop while the job is mid-run; the goroutine must still observe it
	// on its next select instead of ticking on.
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	close(release)

	time.Sleep(50 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("job ran %d times after stop", got)
	}
}

func TestSchedulerStartAfterStopIsNoop(t *testing.T) {
	t.Parallel()

	s := NewIntervalScheduler(time.Hour, time.UTC)
	ctx := context.Background()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	var runs atomic.Int32
	if err := s.Start(ctx, func(time.Time) { runs.Add(1) }); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if runs.Load() != 0 {
		t.Fatal("job ran on a stopped scheduler")
	}
}

func TestSchedulerNilJobIsNoop(t *testing.T) {
	t.Parallel()

	s := NewIntervalScheduler(time.Hour, time.UTC)
	if err := s.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
