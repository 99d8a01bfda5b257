package feed

import (
	"context"
	"time"

	"barfeed/internal/events"
	"barfeed/internal/logger"
	"barfeed/internal/market"
)

// Watchdog times the synchronous part of each emission.
type Watchdog struct {
	Limit time.Duration
	nowFn func() time.Time
}

func NewWatchdog(limit time.Duration) *Watchdog {
	return &Watchdog{Limit: limit, nowFn: time.Now}
}

// Emit publishes bar and returns a *LatencyError when subscribers took Limit
// or longer. Subscriber errors are logged only.
func (w *Watchdog) Emit(ctx context.Context, em events.Emitter, bar market.Bar) (time.Duration, error) {
	now := w.nowFn
	if now == nil {
		now = time.Now
	}
	start := now()
	err := em.Publish(ctx, bar)
	elapsed := now().Sub(start)
	if err != nil {
		logger.Warnf("[feed] subscriber error on bar %s: %v", bar.OpenTimestamp, err)
	}
	if w.Limit > 0 && elapsed >= w.Limit {
		return elapsed, &LatencyError{Elapsed: elapsed, Limit: w.Limit, OpenEpoch: bar.OpenEpoch}
	}
	return elapsed, nil
}
