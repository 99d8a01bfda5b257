package feed

import (
	"errors"
	"fmt"
	"time"

	"barfeed/internal/market"
)

var (
	// ErrInsufficientLeadTime is returned by Start when the current bar closes
	// too soon to boot safely. The caller may retry after it closes.
	ErrInsufficientLeadTime = errors.New("insufficient lead time before bar close")
	// ErrWarmupUnavailable is returned by Start under the strict warmup policy.
	ErrWarmupUnavailable = market.ErrWarmupUnavailable
	// ErrConsumerLatencyExceeded is fatal: a subscriber held the feed too long.
	ErrConsumerLatencyExceeded = errors.New("consumer latency exceeded")
	// ErrNotStarted is returned by Run before a successful Start.
	ErrNotStarted = errors.New("feed not started")
)

// LeadTimeError carries how long until the current bar closes.
type LeadTimeError struct {
	Remaining time.Duration
	Threshold time.Duration
}

func (e *LeadTimeError) Error() string {
	return fmt.Sprintf("insufficient remaining time to safely boot (%s < %s), try again after this bar closes in %d seconds",
		e.Remaining, e.Threshold, int64(e.Remaining/time.Second))
}

func (e *LeadTimeError) Unwrap() error { return ErrInsufficientLeadTime }

// LatencyError records the subscriber time that tripped the watchdog.
type LatencyError struct {
	Elapsed   time.Duration
	Limit     time.Duration
	OpenEpoch int64
}

func (e *LatencyError) Error() string {
	return fmt.Sprintf("processing time %s for bar %s exceeded safe tolerance of %s",
		e.Elapsed.Round(time.Millisecond), market.FormatISO(e.OpenEpoch), e.Limit)
}

func (e *LatencyError) Unwrap() error { return ErrConsumerLatencyExceeded }
