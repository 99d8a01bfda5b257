package feed

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"barfeed/internal/config"
	"barfeed/internal/events"
	"barfeed/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const res5m = int64(300000)

// base is an aligned 5m boundary.
var base = int64(1700000100000)

type MockExchange struct {
	mock.Mock
}

func (m *MockExchange) GetBucketedBars(ctx context.Context, q market.BucketQuery) ([]market.RawBar, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]market.RawBar), args.Error(1)
}

func (m *MockExchange) GetRecentTrades(ctx context.Context, q market.TradeQuery) ([]market.Trade, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]market.Trade), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendText(ctx context.Context, text string) error {
	args := m.Called(ctx, text)
	return args.Error(0)
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type recorder struct {
	bars  []market.Bar
	clock *fakeClock
	cost  time.Duration
}

func (r *recorder) handle(_ context.Context, b market.Bar) error {
	r.bars = append(r.bars, b)
	if r.clock != nil {
		r.clock.Advance(r.cost)
	}
	return nil
}

func newTestController(t *testing.T, ex market.Exchange, at int64) (*Controller, *fakeClock, *recorder) {
	t.Helper()
	cfg := config.Default().Feed
	clk := &fakeClock{now: time.UnixMilli(at)}
	bus := events.NewBus()
	rec := &recorder{clock: clk}
	bus.Subscribe("recorder", rec.handle)
	c := NewController(cfg, ex, bus, nil, nil)
	c.nowFn = clk.Now
	c.watchdog.nowFn = clk.Now
	return c, clk, rec
}

func TestStartSucceedsWithLeadTime(t *testing.T) {
	c, _, rec := newTestController(t, new(MockExchange), base+190500)

	require.NoError(t, c.Start(context.Background(), Options{Resolution: "5m"}))
	st := c.State()
	assert.Equal(t, base, st.Opentime)
	assert.Zero(t, st.Opentime%res5m)
	assert.True(t, st.Initialized)
	assert.Equal(t, 109250*time.Millisecond, c.firstDelay)
	assert.True(t, c.Status().Ready())
	assert.Empty(t, rec.bars)
}

func TestStartRejectsShortLeadTime(t *testing.T) {
	c, _, _ := newTestController(t, new(MockExchange), base+res5m-250-4000)
	err := c.Start(context.Background(), Options{Resolution: "5m"})
	require.ErrorIs(t, err, ErrInsufficientLeadTime)
	var lt *LeadTimeError
	require.True(t, errors.As(err, &lt))
	assert.Equal(t, 4*time.Second, lt.Remaining)
	assert.Contains(t, err.Error(), "closes in 4 seconds")
	assert.False(t, c.State().Initialized)

	// 10s is enough without warmup but not with it
	c, _, _ = newTestController(t, new(MockExchange), base+res5m-250-10000)
	err = c.Start(context.Background(), Options{Resolution: "5m", Warmup: 5})
	assert.ErrorIs(t, err, ErrInsufficientLeadTime)
	assert.NoError(t, c.Start(context.Background(), Options{Resolution: "5m"}))
}

func TestStartUnknownResolution(t *testing.T) {
	c, _, _ := newTestController(t, new(MockExchange), base)
	assert.Error(t, c.Start(context.Background(), Options{Resolution: "7m"}))
}

func historyQuery(count int) market.BucketQuery {
	return market.BucketQuery{Bin: "5m", Symbol: "XBTUSD", Count: count, Reverse: true}
}

func TestStartEmitsWarmupInOrder(t *testing.T) {
	ex := new(MockExchange)
	ex.On("GetBucketedBars", mock.Anything, historyQuery(1)).
		Return([]market.RawBar{{Timestamp: base}}, nil).Once()
	ex.On("GetBucketedBars", mock.Anything, historyQuery(3)).Return([]market.RawBar{
		{Timestamp: base, Close: 3},
		{Timestamp: base - res5m, Close: 2},
		{Timestamp: base - 2*res5m, Close: 1},
	}, nil).Once()

	c, _, rec := newTestController(t, ex, base+1000)
	require.NoError(t, c.Start(context.Background(), Options{Resolution: "5m", Warmup: 3}))

	require.Len(t, rec.bars, 3)
	for i, b := range rec.bars {
		assert.False(t, b.Live)
		assert.Equal(t, float64(i+1), b.Close)
		assert.Equal(t, base-int64(3-i)*res5m, b.OpenEpoch)
	}
	assert.EqualValues(t, 3, c.Status().Snapshot().WarmupBars)
	ex.AssertExpectations(t)
}

func TestStartStrictWarmupFailureAlerts(t *testing.T) {
	ex := new(MockExchange)
	ex.On("GetBucketedBars", mock.Anything, historyQuery(1)).
		Return([]market.RawBar{{Timestamp: base - res5m}}, nil)
	n := new(MockNotifier)
	n.On("SendText", mock.Anything, mock.MatchedBy(func(s string) bool {
		return strings.Contains(s, "warmup unavailable for XBTUSD 5m")
	})).Return(nil).Once()

	c, _, rec := newTestController(t, ex, base+1000)
	c.notifier = n
	c.reconcilerFn = func(res market.Resolution) *market.WarmupReconciler {
		return market.NewWarmupReconciler(ex, "XBTUSD", res, 1, time.Millisecond, false)
	}
	err := c.Start(context.Background(), Options{Resolution: "5m", Warmup: 3})
	assert.ErrorIs(t, err, ErrWarmupUnavailable)
	assert.Empty(t, rec.bars)
	assert.False(t, c.Status().Ready())
	n.AssertExpectations(t)
}

func TestRunOfflineDoesNotPoll(t *testing.T) {
	ex := new(MockExchange)
	ex.On("GetBucketedBars", mock.Anything, historyQuery(2)).Return([]market.RawBar{
		{Timestamp: base - 4*res5m},
		{Timestamp: base - 5*res5m},
	}, nil).Once()

	c, _, rec := newTestController(t, ex, base+1000)
	assert.ErrorIs(t, c.Run(context.Background()), ErrNotStarted)
	require.NoError(t, c.Start(context.Background(), Options{Resolution: "5m", Warmup: 2, Offline: true}))
	assert.Len(t, rec.bars, 2)
	assert.NoError(t, c.Run(context.Background()))
	ex.AssertExpectations(t)
}

func liveQueries(ex *MockExchange, candidates []market.RawBar, trades []market.Trade, err error) {
	ex.On("GetBucketedBars", mock.Anything, market.BucketQuery{Bin: "5m", Partial: true, Symbol: "XBTUSD", Count: 2, Reverse: true}).
		Return(candidates, err)
	ex.On("GetRecentTrades", mock.Anything, market.TradeQuery{Symbol: "XBTUSD", Columns: market.TradeColumns, Count: 200, Reverse: true}).
		Return(trades, nil).Maybe()
}

func TestTickPatchesAndAdvances(t *testing.T) {
	ex := new(MockExchange)
	liveQueries(ex,
		[]market.RawBar{{Timestamp: base + res5m, Open: 101, High: 104, Low: 100, Close: 103, Volume: 7}},
		[]market.Trade{
			{Timestamp: base + 290000, Price: 105},
			{Timestamp: base + 250000, Price: 102},
			{Timestamp: base - 50000, Price: 90},
		}, nil)

	c, clk, rec := newTestController(t, ex, base+1000)
	require.NoError(t, c.Start(context.Background(), Options{Resolution: "5m"}))
	clk.now = time.UnixMilli(base + res5m - 250)

	require.NoError(t, c.Tick(context.Background()))
	require.Len(t, rec.bars, 1)
	bar := rec.bars[0]
	assert.True(t, bar.Live)
	assert.Equal(t, base, bar.OpenEpoch)
	assert.Equal(t, 105.0, bar.High)
	assert.Equal(t, 100.0, bar.Low)
	assert.Equal(t, 105.0, bar.Close)
	assert.Equal(t, market.FormatISO(base+res5m-250), bar.RetrievedTimestamp)
	assert.Equal(t, base+res5m, c.State().Opentime)

	snap := c.Status().Snapshot()
	assert.EqualValues(t, 1, snap.Ticks)
	assert.Zero(t, snap.LagEvents)
	require.NotNil(t, snap.LastBar)
	assert.Equal(t, base, snap.LastBar.OpenEpoch)
}

func TestTickReportsLag(t *testing.T) {
	ex := new(MockExchange)
	liveQueries(ex, []market.RawBar{{Timestamp: base + res5m, High: 1, Low: 1, Close: 1}}, nil, nil)

	c, clk, rec := newTestController(t, ex, base+1000)
	require.NoError(t, c.Start(context.Background(), Options{Resolution: "5m"}))
	clk.now = time.UnixMilli(base + res5m + 1500)

	require.NoError(t, c.Tick(context.Background()))
	assert.Len(t, rec.bars, 1)
	snap := c.Status().Snapshot()
	assert.EqualValues(t, 1, snap.LagEvents)
	assert.EqualValues(t, 1500, snap.LastLagMs)
}

func TestTickSkipsOnFetchFailure(t *testing.T) {
	ex := new(MockExchange)
	liveQueries(ex, nil, nil, market.ErrFetchFailure)

	c, clk, rec := newTestController(t, ex, base+1000)
	require.NoError(t, c.Start(context.Background(), Options{Resolution: "5m"}))
	clk.now = time.UnixMilli(base + res5m - 250)

	require.NoError(t, c.Tick(context.Background()))
	assert.Empty(t, rec.bars)
	assert.Equal(t, base+res5m, c.State().Opentime)
	snap := c.Status().Snapshot()
	assert.EqualValues(t, 1, snap.SkippedBars)
	assert.EqualValues(t, 1, snap.FetchFailures)
	assert.Contains(t, snap.LastError, "exchange fetch failed")
}

func TestTickLatencyIsFatal(t *testing.T) {
	ex := new(MockExchange)
	liveQueries(ex, []market.RawBar{{Timestamp: base + res5m, High: 1, Low: 1, Close: 1}}, nil, nil)

	c, clk, rec := newTestController(t, ex, base+1000)
	rec.cost = 16 * time.Second
	require.NoError(t, c.Start(context.Background(), Options{Resolution: "5m"}))
	clk.now = time.UnixMilli(base + res5m - 250)

	err := c.Tick(context.Background())
	require.ErrorIs(t, err, ErrConsumerLatencyExceeded)
	var le *LatencyError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, 16*time.Second, le.Elapsed)
	assert.Equal(t, 15*time.Second, le.Limit)
	assert.Equal(t, base, c.State().Opentime, "no further tick is armed")
}

func TestWatchdogUnderLimit(t *testing.T) {
	clk := &fakeClock{now: time.UnixMilli(base)}
	bus := events.NewBus()
	bus.Subscribe("slow", func(context.Context, market.Bar) error {
		clk.Advance(14999 * time.Millisecond)
		return errors.New("ignored")
	})
	w := NewWatchdog(15 * time.Second)
	w.nowFn = clk.Now
	elapsed, err := w.Emit(context.Background(), bus, market.Bar{})
	assert.NoError(t, err)
	assert.Equal(t, 14999*time.Millisecond, elapsed)
}

func TestRunStopsOnCancel(t *testing.T) {
	c, _, _ := newTestController(t, new(MockExchange), base+1000)
	require.NoError(t, c.Start(context.Background(), Options{Resolution: "5m"}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, c.Run(ctx))
}

// tapeExchange answers relative to the fake clock: closed history ends at
// base, partial buckets cover the bar open now and the one before it.
type tapeExchange struct {
	clock *fakeClock
}

func (e *tapeExchange) GetBucketedBars(_ context.Context, q market.BucketQuery) ([]market.RawBar, error) {
	if q.Partial {
		now := e.clock.Now().UnixMilli()
		open := now - now%res5m
		return []market.RawBar{
			{Timestamp: open + res5m, Open: 2, High: 3, Low: 1, Close: 2},
			{Timestamp: open, Open: 1, High: 2, Low: 1, Close: 1},
		}, nil
	}
	out := make([]market.RawBar, 0, q.Count)
	for i := 0; i < q.Count; i++ {
		out = append(out, market.RawBar{Timestamp: base - int64(i)*res5m, Close: float64(q.Count - i)})
	}
	return out, nil
}

func (e *tapeExchange) GetRecentTrades(context.Context, market.TradeQuery) ([]market.Trade, error) {
	return nil, nil
}

// limitedWait advances the clock instead of sleeping and stops after n waits.
func limitedWait(clk *fakeClock, n int, waits *[]time.Duration) func(context.Context, time.Duration) bool {
	return func(_ context.Context, d time.Duration) bool {
		*waits = append(*waits, d)
		if len(*waits) > n {
			return false
		}
		clk.Advance(d)
		return true
	}
}

func liveOpens(bars []market.Bar) []int64 {
	var out []int64
	for _, b := range bars {
		if b.Live {
			out = append(out, b.OpenEpoch)
		}
	}
	return out
}

func TestRunServesEveryBoundary(t *testing.T) {
	var waits []time.Duration
	c, clk, rec := newTestController(t, nil, base+1000)
	c.exchange = &tapeExchange{clock: clk}
	c.waitFn = limitedWait(clk, 3, &waits)

	require.NoError(t, c.Start(context.Background(), Options{Resolution: "5m"}))
	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, []int64{base, base + res5m, base + 2*res5m}, liveOpens(rec.bars))
	assert.Equal(t, []time.Duration{298750 * time.Millisecond, 300000 * time.Millisecond, 300000 * time.Millisecond}, waits[:3])
	assert.Equal(t, base+3*res5m, c.State().Opentime)
	snap := c.Status().Snapshot()
	assert.EqualValues(t, 3, snap.Ticks)
	assert.Zero(t, snap.LagEvents)
	assert.Zero(t, snap.SkippedBars)
}

func TestRunCatchesUpWhenWarmupOverrunsBar(t *testing.T) {
	var waits []time.Duration
	c, clk, rec := newTestController(t, nil, base+270000)
	c.exchange = &tapeExchange{clock: clk}
	c.waitFn = limitedWait(clk, 3, &waits)
	// each warmup bar takes 14s downstream: start-up ends at base+312s
	rec.cost = 14 * time.Second

	require.NoError(t, c.Start(context.Background(), Options{Resolution: "5m", Warmup: 3}))
	require.Len(t, rec.bars, 3)
	assert.Equal(t, base+312000, clk.Now().UnixMilli())
	assert.Equal(t, base, c.State().Opentime)
	assert.Equal(t, time.Millisecond, c.firstDelay)

	rec.cost = 0
	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, []int64{base, base + res5m, base + 2*res5m}, liveOpens(rec.bars))
	assert.Equal(t, []time.Duration{time.Millisecond, 287749 * time.Millisecond, 300000 * time.Millisecond}, waits[:3])
	for _, b := range rec.bars[3:] {
		assert.Equal(t, market.FormatISO(b.OpenEpoch+res5m), b.CloseTimestamp)
		retrieved, err := market.ParseISO(b.RetrievedTimestamp)
		require.NoError(t, err)
		assert.Less(t, retrieved-b.OpenEpoch, 2*res5m, "bar %s served a bar late", b.OpenTimestamp)
	}
	snap := c.Status().Snapshot()
	assert.EqualValues(t, 1, snap.LagEvents, "only the overrun bar is late")
	assert.Equal(t, base+3*res5m, c.State().Opentime)
}
