package redispub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"barfeed/internal/config"
	"barfeed/internal/logger"
	"barfeed/internal/market"

	"github.com/redis/go-redis/v9"
)

const defaultPublishTimeout = 2 * time.Second

// Envelope is the JSON message put on the channel.
type Envelope struct {
	SessionID string     `json:"session_id"`
	Symbol    string     `json:"symbol"`
	Bin       string     `json:"bin"`
	Bar       market.Bar `json:"bar"`
}

// Cmdable is the subset of the redis client the publisher uses.
type Cmdable interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Publisher forwards every bar to a Redis pub/sub channel.
type Publisher struct {
	client    Cmdable
	closer    func() error
	channel   string
	sessionID string
	symbol    string
	bin       string
	timeout   time.Duration
}

func New(cfg config.RedisConfig, feed config.FeedConfig, sessionID string) *Publisher {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewWithClient(rdb, cfg.Channel, feed, sessionID)
}

// NewWithClient wraps an existing client; Close closes it when it has a
// Close method.
func NewWithClient(client Cmdable, channel string, feed config.FeedConfig, sessionID string) *Publisher {
	p := &Publisher{
		client:    client,
		channel:   channel,
		sessionID: sessionID,
		symbol:    feed.Symbol,
		bin:       feed.Resolution,
		timeout:   defaultPublishTimeout,
	}
	if c, ok := client.(io.Closer); ok {
		p.closer = c.Close
	}
	return p
}

// Ping checks connectivity once at start-up.
func (p *Publisher) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Handle is an events.Handler. It is bounded by its own timeout so a stuck
// Redis cannot eat the feed's latency budget.
func (p *Publisher) Handle(ctx context.Context, bar market.Bar) error {
	payload, err := json.Marshal(Envelope{SessionID: p.sessionID, Symbol: p.symbol, Bin: p.bin, Bar: bar})
	if err != nil {
		return err
	}
	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	n, err := p.client.Publish(pctx, p.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("redis publish %s: %w", p.channel, err)
	}
	if n == 0 {
		logger.Debugf("[redis] no subscribers on %s for bar %s", p.channel, bar.OpenTimestamp)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
