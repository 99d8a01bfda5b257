package market

import (
	"fmt"
	"time"
)

// BarPatcher turns the exchange's partial bucket for the current boundary
// into a live Bar, tightened with the most recent trades.
type BarPatcher struct {
	Resolution int64
}

// Patch builds the live bar for opentime. candidates are the two most recent
// partial buckets, newest first. trades are most-recent-first.
func (p BarPatcher) Patch(opentime int64, candidates []RawBar, trades []Trade, retrieved time.Time) (Bar, error) {
	cand, err := p.selectCandidate(opentime, candidates)
	if err != nil {
		return Bar{}, err
	}
	high, low, last := cand.High, cand.Low, cand.Close
	window := p.tradesInWindow(opentime, trades)
	if len(window) > 0 {
		last = window[0].Price
		for _, t := range window {
			if t.Price > high {
				high = t.Price
			}
			if t.Price < low {
				low = t.Price
			}
		}
	}
	return Bar{
		OpenEpoch:          opentime,
		OpenTimestamp:      FormatISO(opentime),
		CloseTimestamp:     FormatISO(cand.Timestamp),
		RetrievedTimestamp: retrieved.UTC().Format(ISOLayout),
		Open:               cand.Open,
		High:               high,
		Low:                low,
		Close:              last,
		Volume:             cand.Volume,
		Live:               true,
	}, nil
}

// selectCandidate prefers the newest bucket; right after a boundary the
// exchange may still report the previous bar as partial, so the second one
// is used when the first does not open on opentime. A bucket for any other
// bar is never patched into the live bar.
func (p BarPatcher) selectCandidate(opentime int64, candidates []RawBar) (RawBar, error) {
	if len(candidates) == 0 {
		return RawBar{}, fmt.Errorf("%w: no partial bar candidates", ErrFetchFailure)
	}
	if candidates[0].OpenBoundary(p.Resolution) == opentime {
		return candidates[0], nil
	}
	if len(candidates) < 2 {
		return RawBar{}, fmt.Errorf("%w: partial bar for %s not reported", ErrFetchFailure, FormatISO(opentime))
	}
	if got := candidates[1].OpenBoundary(p.Resolution); got != opentime {
		return RawBar{}, fmt.Errorf("%w: no partial bar opens on %s (got %s, %s)", ErrFetchFailure,
			FormatISO(opentime), FormatISO(candidates[0].OpenBoundary(p.Resolution)), FormatISO(got))
	}
	return candidates[1], nil
}

// tradesInWindow keeps trades in [opentime, opentime+resolution), order preserved.
func (p BarPatcher) tradesInWindow(opentime int64, trades []Trade) []Trade {
	end := opentime + p.Resolution
	out := make([]Trade, 0, len(trades))
	for _, t := range trades {
		if t.Timestamp >= opentime && t.Timestamp < end {
			out = append(out, t)
		}
	}
	return out
}
