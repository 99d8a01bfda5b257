package scheduler

import (
	"context"
	"time"

	"barfeed/internal/logger"
)

// TickFunc serves one boundary. A non-nil error stops the scheduler.
type TickFunc func(ctx context.Context) error

// BoundaryScheduler re-arms a single one-shot timer after every tick, always
// measured against the next absolute boundary so execution time never
// accumulates as drift.
type BoundaryScheduler struct {
	Name       string
	Resolution time.Duration
	FrontRun   time.Duration
	// Due, when set, reports the open time of the next bar to serve.
	Due func() int64

	nowFn func() time.Time
	wait  func(ctx context.Context, d time.Duration) bool
}

func NewBoundaryScheduler(name string, resolution, frontRun time.Duration) *BoundaryScheduler {
	return &BoundaryScheduler{
		Name:       name,
		Resolution: resolution,
		FrontRun:   frontRun,
		nowFn:      time.Now,
		wait:       waitFor,
	}
}

// UseClock swaps the time source and the timer wait.
func (s *BoundaryScheduler) UseClock(now func() time.Time, wait func(ctx context.Context, d time.Duration) bool) {
	if now != nil {
		s.nowFn = now
	}
	if wait != nil {
		s.wait = wait
	}
}

// Run waits first, runs task, then keeps re-arming with NextDelay (or
// AlignedDelay when Due is set) until ctx ends (nil) or task fails (its error).
func (s *BoundaryScheduler) Run(ctx context.Context, first time.Duration, task TickFunc) error {
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	if s.wait == nil {
		s.wait = waitFor
	}
	prefix := "[scheduler]"
	if s.Name != "" {
		prefix = "[scheduler:" + s.Name + "]"
	}
	res := s.Resolution.Milliseconds()
	front := s.FrontRun.Milliseconds()
	if first <= 0 {
		first = time.Millisecond
	}
	delay := first
	for {
		logger.Debugf("%s next tick in %s (at %s)", prefix, delay, s.nowFn().UTC().Add(delay).Format(time.RFC3339Nano))
		if !s.wait(ctx, delay) {
			logger.Infof("%s ctx done, exit", prefix)
			return nil
		}
		if err := task(ctx); err != nil {
			return err
		}
		now := s.nowFn().UnixMilli()
		next := NextDelay(now, res, front)
		if s.Due != nil {
			next = AlignedDelay(now, s.Due(), res, front)
		}
		delay = time.Duration(next) * time.Millisecond
	}
}

func waitFor(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
