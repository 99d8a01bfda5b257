package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"barfeed/internal/logger"
)

// MaxWarmupBars caps a single historical backfill.
const MaxWarmupBars = 1000

// ErrWarmupUnavailable reports that the exchange never published the bar
// preceding the live boundary within the poll budget.
var ErrWarmupUnavailable = errors.New("warmup bars unavailable")

// WarmupReconciler fetches the most recently closed bars so that the first
// live bar follows them without a gap.
type WarmupReconciler struct {
	Exchange   Exchange
	Symbol     string
	Resolution Resolution
	Attempts   int
	PollDelay  time.Duration
	// BestEffort proceeds with whatever the exchange returns once the poll
	// budget is spent instead of failing.
	BestEffort bool

	sleep func(ctx context.Context, d time.Duration) error
}

func NewWarmupReconciler(ex Exchange, symbol string, res Resolution, attempts int, pollDelay time.Duration, bestEffort bool) *WarmupReconciler {
	return &WarmupReconciler{
		Exchange:   ex,
		Symbol:     symbol,
		Resolution: res,
		Attempts:   attempts,
		PollDelay:  pollDelay,
		BestEffort: bestEffort,
		sleep:      sleepWithContext,
	}
}

// Reconcile returns up to min(count, MaxWarmupBars) closed bars in
// chronological order, the newest one opening at opentime-resolution.
// offline skips the publication wait.
func (w *WarmupReconciler) Reconcile(ctx context.Context, opentime int64, count int, offline bool) ([]Bar, error) {
	if count <= 0 {
		return nil, nil
	}
	if count > MaxWarmupBars {
		count = MaxWarmupBars
	}
	previous := opentime - w.Resolution.Millis
	if !offline {
		if err := w.awaitPublished(ctx, previous); err != nil {
			if !w.BestEffort || ctx.Err() != nil {
				return nil, err
			}
			logger.Warnf("[warmup] %v, continuing best effort", err)
		}
	}

	raw, err := w.Exchange.GetBucketedBars(ctx, BucketQuery{
		Bin:     w.Resolution.Bin,
		Partial: false,
		Symbol:  w.Symbol,
		Count:   count,
		Reverse: true,
	})
	if err != nil {
		if w.BestEffort && ctx.Err() == nil {
			logger.Warnf("[warmup] history fetch failed, starting without warmup: %v", err)
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrWarmupUnavailable, err)
	}
	bars := w.normalize(raw, opentime)
	if err := w.check(bars, previous, offline); err != nil {
		if !w.BestEffort {
			return nil, err
		}
		logger.Warnf("[warmup] %v, continuing best effort", err)
	}
	logger.Infof("[warmup] %s %s: %d bars ready", w.Symbol, w.Resolution.Bin, len(bars))
	return bars, nil
}

// awaitPublished polls the latest closed bucket until it opens on previous.
func (w *WarmupReconciler) awaitPublished(ctx context.Context, previous int64) error {
	attempts := w.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := w.sleep
	if sleep == nil {
		sleep = sleepWithContext
	}
	announced := false
	for i := 0; i < attempts; i++ {
		latest, err := w.Exchange.GetBucketedBars(ctx, BucketQuery{
			Bin:     w.Resolution.Bin,
			Partial: false,
			Symbol:  w.Symbol,
			Count:   1,
			Reverse: true,
		})
		switch {
		case err != nil:
			logger.Warnf("[warmup] poll %d/%d failed: %v", i+1, attempts, err)
		case len(latest) > 0 && latest[0].OpenBoundary(w.Resolution.Millis) == previous:
			return nil
		}
		if !announced {
			logger.Infof("[warmup] waiting for exchange to publish %s", FormatISO(previous))
			announced = true
		}
		if i == attempts-1 {
			break
		}
		if err := sleep(ctx, w.PollDelay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: bar %s not published after %d polls", ErrWarmupUnavailable, FormatISO(previous), attempts)
}

// normalize reverses the newest-first batch and drops anything that is not
// closed relative to opentime.
func (w *WarmupReconciler) normalize(raw []RawBar, opentime int64) []Bar {
	res := w.Resolution.Millis
	out := make([]Bar, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		r := raw[i]
		open := r.OpenBoundary(res)
		if open >= opentime {
			continue
		}
		closeTS := FormatISO(r.Timestamp)
		out = append(out, Bar{
			OpenEpoch:          open,
			OpenTimestamp:      FormatISO(open),
			CloseTimestamp:     closeTS,
			RetrievedTimestamp: closeTS,
			Open:               r.Open,
			High:               r.High,
			Low:                r.Low,
			Close:              r.Close,
			Volume:             r.Volume,
			Live:               false,
		})
	}
	return out
}

// check enforces contiguity and that the batch ends right before the live bar.
func (w *WarmupReconciler) check(bars []Bar, previous int64, offline bool) error {
	res := w.Resolution.Millis
	for i := 1; i < len(bars); i++ {
		if gap := bars[i].OpenEpoch - bars[i-1].OpenEpoch; gap != res {
			return fmt.Errorf("%w: gap of %dms before %s", ErrWarmupUnavailable, gap, bars[i].OpenTimestamp)
		}
	}
	if offline {
		return nil
	}
	if len(bars) == 0 {
		return fmt.Errorf("%w: exchange returned no closed bars", ErrWarmupUnavailable)
	}
	if last := bars[len(bars)-1].OpenEpoch; last != previous {
		return fmt.Errorf("%w: newest bar opens %s, want %s", ErrWarmupUnavailable, FormatISO(last), FormatISO(previous))
	}
	return nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
