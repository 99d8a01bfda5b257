package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	brcfg "barfeed/internal/config"
	"barfeed/internal/feed"
	"barfeed/internal/logger"
	"barfeed/internal/store"
	livehttp "barfeed/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

// feedRunner is the part of *feed.Controller the app drives.
type feedRunner interface {
	Start(ctx context.Context, opts feed.Options) error
	Run(ctx context.Context) error
}

// App owns the wired feed process: controller, HTTP surface and subscribers.
type App struct {
	cfg        *brcfg.Config
	opts       feed.Options
	controller *feed.Controller
	runner     feedRunner
	liveHTTP   *livehttp.Server
	bars       *store.MemoryBarStore
	closers    []func() error

	sleep func(ctx context.Context, d time.Duration) error
}

// NewApp builds the application from cfg without starting it.
func NewApp(cfg *brcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	brcfg.ApplyLogSettings(cfg)
	return buildAppWithWire(context.Background(), cfg)
}

// Run starts the feed and the HTTP server. It returns when ctx ends, when an
// offline feed has emitted its warmup, or with the first fatal error.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil || a.controller == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.runner == nil {
		a.runner = a.controller
	}
	defer a.close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, gctx := errgroup.WithContext(runCtx)

	if a.liveHTTP != nil {
		group.Go(func() error {
			if err := a.liveHTTP.Start(gctx); err != nil {
				return fmt.Errorf("live http server error: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		defer cancel()
		if err := a.startFeed(gctx); err != nil {
			return fmt.Errorf("feed start: %w", err)
		}
		if err := a.runner.Run(gctx); err != nil {
			return fmt.Errorf("feed run: %w", err)
		}
		return nil
	})

	return group.Wait()
}

// startFeed starts the feed, retrying once after the current bar closes when
// there was not enough lead time.
func (a *App) startFeed(ctx context.Context) error {
	err := a.runner.Start(ctx, a.opts)
	var lead *feed.LeadTimeError
	if !errors.As(err, &lead) {
		return err
	}
	wait := lead.Remaining + a.cfg.Feed.FrontRun()
	logger.Infof("[app] retrying feed start in %s", wait)
	sleep := a.sleep
	if sleep == nil {
		sleep = sleepWithContext
	}
	if serr := sleep(ctx, wait); serr != nil {
		return err
	}
	return a.runner.Start(ctx, a.opts)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Controller exposes the feed controller (for tests and replay harnesses).
func (a *App) Controller() *feed.Controller {
	if a == nil {
		return nil
	}
	return a.controller
}

// Bars exposes the recent-bars store.
func (a *App) Bars() *store.MemoryBarStore {
	if a == nil {
		return nil
	}
	return a.bars
}

func (a *App) close() {
	for _, fn := range a.closers {
		if err := fn(); err != nil {
			logger.Warnf("[app] close: %v", err)
		}
	}
}
