package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"barfeed/internal/logger"
	"barfeed/internal/market"
	"barfeed/internal/pkg/circuit"
	"barfeed/internal/pkg/symbol"
	"barfeed/internal/scheduler"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

const maxKlineLimit = 1500

var _ market.Exchange = (*Source)(nil)

// Source is a market.Exchange backed by Binance USD-M futures klines and
// trades. Klines are re-stamped with their close time to match the
// bucketed-bar contract.
type Source struct {
	cfg     Config
	client  *futures.Client
	breaker *circuit.CircuitBreaker
	nowFn   func() time.Time
}

func New(cfg Config, breaker *circuit.CircuitBreaker) (*Source, error) {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = strings.TrimRight(final.RESTBaseURL, "/")
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyURL != "" {
		proxyURL, err := url.Parse(final.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Source{cfg: final, client: client, breaker: breaker, nowFn: time.Now}, nil
}

func (s *Source) GetBucketedBars(ctx context.Context, q market.BucketQuery) ([]market.RawBar, error) {
	dur, err := scheduler.BinDuration(q.Bin)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", market.ErrFetchFailure, err)
	}
	count := q.Count
	if count <= 0 {
		count = 1
	}
	// the newest kline is always the open one
	limit := count
	if !q.Partial {
		limit++
	}
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	sym := symbol.ToBinance(q.Symbol)

	var kls []*futures.Kline
	err = s.retry(ctx, "klines", func() error {
		var err error
		kls, err = s.client.NewKlinesService().Symbol(sym).Interval(strings.ToLower(q.Bin)).Limit(limit).Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]market.RawBar, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		bar, err := convertKline(kl, dur)
		if err != nil {
			return nil, fmt.Errorf("%w: kline %d: %w", market.ErrFetchFailure, kl.OpenTime, err)
		}
		out = append(out, bar)
	}
	if !q.Partial {
		out = scheduler.DropUnclosed(out, s.nowFn(), 0)
	}
	if len(out) > count {
		out = out[len(out)-count:]
	}
	if q.Reverse {
		slices.Reverse(out)
	}
	return out, nil
}

func (s *Source) GetRecentTrades(ctx context.Context, q market.TradeQuery) ([]market.Trade, error) {
	sym := symbol.ToBinance(q.Symbol)
	limit := q.Count
	if limit <= 0 {
		limit = 500
	}
	var trades []*futures.Trade
	err := s.retry(ctx, "trades", func() error {
		var err error
		trades, err = s.client.NewRecentTradesService().Symbol(sym).Limit(limit).Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]market.Trade, 0, len(trades))
	for _, tr := range trades {
		if tr == nil {
			continue
		}
		price, err := decimal.NewFromString(tr.Price)
		if err != nil {
			return nil, fmt.Errorf("%w: trade %d price: %w", market.ErrFetchFailure, tr.ID, err)
		}
		size, err := decimal.NewFromString(tr.Quantity)
		if err != nil {
			return nil, fmt.Errorf("%w: trade %d qty: %w", market.ErrFetchFailure, tr.ID, err)
		}
		out = append(out, market.Trade{
			Timestamp: tr.Time,
			Size:      size.InexactFloat64(),
			Price:     price.InexactFloat64(),
		})
	}
	// binance returns oldest first
	if q.Reverse {
		slices.Reverse(out)
	}
	return out, nil
}

// retry runs op with doubling delays; request errors are not retried.
func (s *Source) retry(ctx context.Context, what string, op func() error) error {
	delay := s.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			logger.Debugf("[binance] retrying %s attempt=%d in %s: %v", what, attempt, delay, lastErr)
			if !sleepWithContext(ctx, delay) {
				return fmt.Errorf("%w: %s: %w", market.ErrFetchFailure, what, ctx.Err())
			}
			delay = nextDelay(delay)
		}
		var err error
		if s.breaker != nil {
			err = s.breaker.Do(op, retryable)
		} else {
			err = op()
		}
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, circuit.ErrOpen) || !retryable(err) {
			return fmt.Errorf("%w: %s: %w", market.ErrFetchFailure, what, err)
		}
	}
	return fmt.Errorf("%w: %s: max retries exceeded: %w", market.ErrFetchFailure, what, lastErr)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		// -1000..-1099 are server and rate-limit conditions; -1100 and below
		// reject the request itself. Code 0 means the body carried no code.
		return apiErr.Code == 0 || (apiErr.Code <= -1000 && apiErr.Code > -1100)
	}
	return true
}

func convertKline(kl *futures.Kline, dur time.Duration) (market.RawBar, error) {
	vals := make([]float64, 5)
	for i, raw := range []string{kl.Open, kl.High, kl.Low, kl.Close, kl.Volume} {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return market.RawBar{}, err
		}
		vals[i] = d.InexactFloat64()
	}
	return market.RawBar{
		Timestamp: kl.OpenTime + dur.Milliseconds(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextDelay(current time.Duration) time.Duration {
	if current <= 0 {
		return time.Second
	}
	next := current * 2
	if next > 30*time.Second {
		next = 30 * time.Second
	}
	return next
}
