package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"barfeed/internal/config"
	"barfeed/internal/events"
	"barfeed/internal/gateway/notifier"
	"barfeed/internal/logger"
	"barfeed/internal/market"
	"barfeed/internal/scheduler"

	"golang.org/x/sync/errgroup"
)

const notifyTimeout = 20 * time.Second

// Options are the per-start knobs; everything else comes from FeedConfig.
type Options struct {
	Resolution string
	Warmup     int
	Offline    bool
}

func OptionsFromConfig(cfg config.FeedConfig) Options {
	return Options{Resolution: cfg.Resolution, Warmup: cfg.Warmup, Offline: cfg.Offline}
}

// Controller owns the feed state and drives start-up, warmup and the live
// poll loop. All state changes happen on the goroutine calling Start and Run.
type Controller struct {
	cfg      config.FeedConfig
	exchange market.Exchange
	emitter  events.Emitter
	notifier notifier.TextNotifier
	status   *Status

	state      State
	offline    bool
	firstDelay time.Duration
	patcher    market.BarPatcher
	watchdog   *Watchdog
	sched      *scheduler.BoundaryScheduler

	nowFn        func() time.Time
	waitFn       func(ctx context.Context, d time.Duration) bool
	reconcilerFn func(res market.Resolution) *market.WarmupReconciler
}

func NewController(cfg config.FeedConfig, ex market.Exchange, em events.Emitter, n notifier.TextNotifier, st *Status) *Controller {
	if st == nil {
		st = NewStatus()
	}
	c := &Controller{
		cfg:      cfg,
		exchange: ex,
		emitter:  em,
		notifier: n,
		status:   st,
		watchdog: NewWatchdog(cfg.MaxConsumerLatency()),
		nowFn:    time.Now,
	}
	c.reconcilerFn = func(res market.Resolution) *market.WarmupReconciler {
		return market.NewWarmupReconciler(c.exchange, c.cfg.Symbol, res, c.cfg.WarmupAttempts, c.cfg.PollDelay(), c.cfg.BestEffortWarmup())
	}
	return c
}

func (c *Controller) Status() *Status { return c.status }

// State returns a copy of the feed state.
func (c *Controller) State() State { return c.state }

// Start aligns the feed to the current bar, emits warmup bars when asked and
// computes the first live wake-up. It fails with a *LeadTimeError when the
// current bar closes too soon, and with ErrWarmupUnavailable under the
// strict warmup policy.
func (c *Controller) Start(ctx context.Context, opts Options) error {
	bin := opts.Resolution
	if bin == "" {
		bin = market.DefaultBin
	}
	res, ok := market.LookupResolution(bin)
	if !ok {
		return fmt.Errorf("unsupported resolution %q", bin)
	}
	c.state = newState(res)
	c.offline = opts.Offline
	c.patcher = market.BarPatcher{Resolution: res.Millis}
	c.sched = scheduler.NewBoundaryScheduler(c.cfg.Symbol+"/"+res.Bin, res.Duration(), c.cfg.FrontRun())
	c.sched.UseClock(c.nowFn, c.waitFn)
	c.sched.Due = func() int64 { return c.state.Opentime }
	c.status.setFeed(c.cfg.Symbol, res.Bin)

	frontRun := c.cfg.FrontRunMs
	now := c.nowFn().UnixMilli()
	remaining := scheduler.Remaining(now, res.Millis, frontRun)
	threshold := c.cfg.SafetyMs
	if opts.Warmup > 0 {
		threshold = c.cfg.SafetyWarmupMs
	}
	if !scheduler.HasSufficientLeadTime(remaining, threshold) {
		err := &LeadTimeError{Remaining: msDuration(remaining), Threshold: msDuration(threshold)}
		logger.Warnf("[feed] %v", err)
		return err
	}

	c.state.Opentime = scheduler.Boundary(now, res.Millis)
	c.status.setOpentime(c.state.Opentime)
	logger.Infof("[feed] starting %s %s at %s (warmup=%d offline=%v)",
		c.cfg.Symbol, res.Bin, market.FormatISO(c.state.Opentime), opts.Warmup, opts.Offline)

	if opts.Warmup > 0 {
		bars, err := c.reconcilerFn(res).Reconcile(ctx, c.state.Opentime, opts.Warmup, opts.Offline)
		if err != nil {
			c.status.setError(err)
			if errors.Is(err, market.ErrWarmupUnavailable) {
				c.alert(ctx, fmt.Sprintf("warmup unavailable for %s %s: %v", c.cfg.Symbol, res.Bin, err))
			}
			return err
		}
		for _, bar := range bars {
			if err := c.emit(ctx, bar); err != nil {
				return err
			}
		}
	}

	// warmup may have run past the bar; the first tick then fires at once
	now = c.nowFn().UnixMilli()
	c.firstDelay = msDuration(scheduler.FirstDelay(now, c.state.Opentime, res.Millis, frontRun))
	if lag := c.state.LagAt(now); lag > 0 {
		logger.Warnf("[feed] start-up ran %dms past the close of %s, catching up", lag, market.FormatISO(c.state.Opentime))
	}
	c.state.Initialized = true
	c.status.SetReady(true)
	return nil
}

// Run polls the live bar once per boundary until ctx ends. It returns nil on
// cancellation or in offline mode, and a *LatencyError when a subscriber
// exceeded the latency budget.
func (c *Controller) Run(ctx context.Context) error {
	if !c.state.Initialized {
		return ErrNotStarted
	}
	if c.offline {
		logger.Infof("[feed] offline mode, live polling disabled")
		return nil
	}
	return c.sched.Run(ctx, c.firstDelay, c.Tick)
}

// Tick serves the bar at the current opentime, then advances it. A failed
// fetch skips the bar; only a latency breach is returned.
func (c *Controller) Tick(ctx context.Context) error {
	now := c.nowFn()
	if lag := c.state.LagAt(now.UnixMilli()); lag > 0 {
		logger.Warnf("[feed] poll is lagging by %dms", lag)
		c.status.recordLag(lag)
		c.notifyAsync(fmt.Sprintf("%s %s poll is lagging by %dms", c.cfg.Symbol, c.state.Bin, lag))
	}

	bar, err := c.fetchLive(ctx)
	switch {
	case err != nil && ctx.Err() != nil:
		return nil
	case err != nil:
		logger.Warnf("[feed] skipping bar %s: %v", market.FormatISO(c.state.Opentime), err)
		c.status.recordSkip(err)
		c.notifyAsync(fmt.Sprintf("%s %s skipped bar %s: %v", c.cfg.Symbol, c.state.Bin, market.FormatISO(c.state.Opentime), err))
	default:
		if err := c.emit(ctx, bar); err != nil {
			return err
		}
	}
	c.state.Advance()
	c.status.setOpentime(c.state.Opentime)
	return nil
}

// fetchLive pulls both partial-bar candidates and the recent trades under
// one deadline and patches them into the live bar.
func (c *Controller) fetchLive(ctx context.Context) (market.Bar, error) {
	fetchCtx := ctx
	if d := c.cfg.FetchTimeout(); d > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	var (
		candidates []market.RawBar
		trades     []market.Trade
	)
	g, gctx := errgroup.WithContext(fetchCtx)
	g.Go(func() error {
		var err error
		candidates, err = c.exchange.GetBucketedBars(gctx, market.BucketQuery{
			Bin:     c.state.Bin,
			Partial: true,
			Symbol:  c.cfg.Symbol,
			Count:   2,
			Reverse: true,
		})
		return err
	})
	g.Go(func() error {
		var err error
		trades, err = c.exchange.GetRecentTrades(gctx, market.TradeQuery{
			Symbol:  c.cfg.Symbol,
			Columns: market.TradeColumns,
			Count:   c.cfg.MaxTrades,
			Reverse: true,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return market.Bar{}, err
	}
	return c.patcher.Patch(c.state.Opentime, candidates, trades, c.nowFn())
}

func (c *Controller) emit(ctx context.Context, bar market.Bar) error {
	elapsed, err := c.watchdog.Emit(ctx, c.emitter, bar)
	c.status.recordEmit(bar, elapsed)
	if err != nil {
		logger.Errorf("[feed] %v", err)
		c.status.setError(err)
		c.alert(ctx, fmt.Sprintf("%s %s fatal: %v", c.cfg.Symbol, c.state.Bin, err))
		return err
	}
	return nil
}

// alert sends synchronously; used right before a failure is returned.
func (c *Controller) alert(ctx context.Context, text string) {
	if c.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := c.notifier.SendText(nctx, text); err != nil {
		logger.Warnf("[feed] notify failed: %v", err)
	}
}

func (c *Controller) notifyAsync(text string) {
	if c.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := c.notifier.SendText(ctx, text); err != nil {
			logger.Warnf("[feed] notify failed: %v", err)
		}
	}()
}

func msDuration(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }
