package scheduler

import (
	"time"

	"barfeed/internal/market"
)

// DropUnclosed removes trailing bars whose close time (plus grace) has not
// yet passed.
// bars must be chronological; Timestamp is the close time in milliseconds.
func DropUnclosed(bars []market.RawBar, now time.Time, grace time.Duration) []market.RawBar {
	if len(bars) == 0 {
		return bars
	}
	if grace < 0 {
		grace = 0
	}
	cutoff := now.UnixMilli() - grace.Milliseconds()
	end := len(bars)
	for end > 0 && bars[end-1].Timestamp > cutoff {
		end--
	}
	return bars[:end]
}
