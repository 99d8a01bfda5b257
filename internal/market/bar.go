package market

import (
	"fmt"
	"time"
)

// ISOLayout matches the millisecond UTC timestamps used on the exchange wire.
const ISOLayout = "2006-01-02T15:04:05.000Z"

// Bar is one OHLCV bar handed to subscribers. Live is false for warmup bars
// and true for the bar built on the current boundary.
type Bar struct {
	OpenEpoch          int64   `json:"open_epoch"`
	OpenTimestamp      string  `json:"open_timestamp"`
	CloseTimestamp     string  `json:"close_timestamp"`
	RetrievedTimestamp string  `json:"retrieved_timestamp"`
	Open               float64 `json:"open"`
	High               float64 `json:"high"`
	Low                float64 `json:"low"`
	Close              float64 `json:"close"`
	Volume             float64 `json:"volume"`
	Live               bool    `json:"live"`
}

// RawBar is a bucket as the exchange reports it. Timestamp is the bucket's
// close time in epoch milliseconds.
type RawBar struct {
	Timestamp int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// OpenBoundary derives the bucket's open time from its close time.
func (r RawBar) OpenBoundary(resolution int64) int64 { return r.Timestamp - resolution }

// Trade is a single print from the recent-trades endpoint.
type Trade struct {
	Timestamp int64
	Size      float64
	Price     float64
}

// FormatISO renders epoch milliseconds in ISOLayout.
func FormatISO(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(ISOLayout)
}

// ParseISO parses an exchange timestamp into epoch milliseconds.
func ParseISO(s string) (int64, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UnixMilli(), nil
}
