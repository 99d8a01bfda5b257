package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	brcfg "barfeed/internal/config"
	"barfeed/internal/events"
	"barfeed/internal/feed"
	"barfeed/internal/gateway"
	"barfeed/internal/gateway/notifier"
	"barfeed/internal/gateway/redispub"
	"barfeed/internal/logger"
	"barfeed/internal/market"
	"barfeed/internal/store"
	livehttp "barfeed/internal/transport/http/live"
)

const redisPingTimeout = 5 * time.Second

type AppBuilder struct {
	cfg *brcfg.Config

	exchangeFn  func(*brcfg.Config) (market.Exchange, error)
	notifierFn  func(brcfg.NotifyConfig) notifier.TextNotifier
	publisherFn func(context.Context, *brcfg.Config, string) (*redispub.Publisher, error)
	liveHTTPFn  func(livehttp.ServerConfig) (*livehttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

// WithExchange replaces the configured exchange adapter.
func WithExchange(ex market.Exchange) AppBuilderOption {
	return func(b *AppBuilder) {
		b.exchangeFn = func(*brcfg.Config) (market.Exchange, error) { return ex, nil }
	}
}

func WithNotifier(n notifier.TextNotifier) AppBuilderOption {
	return func(b *AppBuilder) {
		b.notifierFn = func(brcfg.NotifyConfig) notifier.TextNotifier { return n }
	}
}

// WithoutHTTP disables the status server.
func WithoutHTTP() AppBuilderOption {
	return func(b *AppBuilder) {
		b.liveHTTPFn = func(livehttp.ServerConfig) (*livehttp.Server, error) { return nil, nil }
	}
}

func NewAppBuilder(cfg *brcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:         cfg,
		exchangeFn:  gateway.NewExchangeFromConfig,
		notifierFn:  newNotifier,
		publisherFn: buildRedisPublisher,
		liveHTTPFn:  livehttp.NewServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	symbol := cfg.Feed.Symbol
	bin := cfg.Feed.Resolution

	ex, err := b.exchangeFn(cfg)
	if err != nil {
		return nil, fmt.Errorf("init exchange: %w", err)
	}
	status := feed.NewStatus()
	bus := events.NewBus()

	bars := store.NewMemoryBarStore(cfg.Store.RecentBars)
	bus.Subscribe("store", bars.Handler(symbol, bin))
	bus.Subscribe("log", logBar)

	app := &App{cfg: cfg, opts: feed.OptionsFromConfig(cfg.Feed), bars: bars}

	if cfg.Publish.Redis.Enabled {
		pub, err := b.publisherFn(ctx, cfg, status.SessionID())
		if err != nil {
			return nil, err
		}

		bus.Subscribe("redis", pub.Handle)
		app.closers = append(app.closers, pub.Close)
	}

	n := b.notifierFn(cfg.Notify)
	if n == nil {
		n = notifier.Nop{}
	}
	app.controller = feed.NewController(cfg.Feed, ex, bus, n, status)

	app.liveHTTP, err = b.liveHTTPFn(livehttp.ServerConfig{
		Addr:   cfg.App.HTTPAddr,
		Status: status,
		Bars:   bars,
		Symbol: symbol,
		Bin:    bin,
	})
	if err != nil {
		app.close()
		return nil, fmt.Errorf("init live http: %w", err)
	}

	logger.Infof("✓ feed %s %s via %s (warmup=%d policy=%s offline=%v), %d subscribers, session %s",
		symbol, bin, cfg.Exchange.Name, cfg.Feed.Warmup, cfg.Feed.WarmupPolicy, cfg.Feed.Offline, bus.Len(), status.SessionID())
	return app, nil
}

func newNotifier(cfg brcfg.NotifyConfig) notifier.TextNotifier {
	tg := cfg.Telegram
	if !tg.Enabled || strings.TrimSpace(tg.BotToken) == "" {
		return notifier.Nop{}
	}
	return notifier.NewTelegram(tg.BotToken, tg.ChatID)
}

func buildRedisPublisher(ctx context.Context, cfg *brcfg.Config, sessionID string) (*redispub.Publisher, error) {
	pub := redispub.New(cfg.Publish.Redis, cfg.Feed, sessionID)
	pctx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := pub.Ping(pctx); err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("init redis publisher: %w", err)
	}
	logger.Infof("✓ publishing bars to redis %s channel %s", cfg.Publish.Redis.Addr, cfg.Publish.Redis.Channel)
	return pub, nil
}

func logBar(_ context.Context, bar market.Bar) error {
	logger.Debugf("[bar] %s o=%g h=%g l=%g c=%g v=%g live=%v",
		bar.OpenTimestamp, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, bar.Live)
	return nil
}
