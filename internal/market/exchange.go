package market

import (
	"context"
	"errors"
)

// ErrFetchFailure wraps any exchange call that did not yield usable data
// after the adapter's retry budget.
var ErrFetchFailure = errors.New("exchange fetch failed")

// TradeColumns are the only trade fields the feed reads.
var TradeColumns = []string{"timestamp", "size", "price"}

// BucketQuery selects bucketed bars. Reverse=true yields most-recent-first.
type BucketQuery struct {
	Bin     string
	Partial bool
	Symbol  string
	Count   int
	Reverse bool
}

// TradeQuery selects recent trades. Reverse=true yields most-recent-first.
type TradeQuery struct {
	Symbol  string
	Columns []string
	Count   int
	Reverse bool
}

// Exchange is the REST surface the feed polls.
type Exchange interface {
	GetBucketedBars(ctx context.Context, q BucketQuery) ([]RawBar, error)
	GetRecentTrades(ctx context.Context, q TradeQuery) ([]Trade, error)
}
