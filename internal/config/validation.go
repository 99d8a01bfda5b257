package config

import (
	"fmt"
	"strings"

	"barfeed/internal/market"
)

func validate(c *Config) error {
	if err := c.Feed.validate(); err != nil {
		return err
	}
	if err := c.Exchange.validate(); err != nil {
		return err
	}
	if err := c.Publish.Redis.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if c.Store.RecentBars < 0 {
		return fmt.Errorf("store.recent_bars must be >= 0")
	}
	return nil
}

func (f *FeedConfig) validate() error {
	if strings.TrimSpace(f.Symbol) == "" {
		return fmt.Errorf("feed.symbol cannot be empty")
	}
	res, ok := market.LookupResolution(f.Resolution)
	if !ok {
		return fmt.Errorf("feed.resolution %q is not supported (want one of %s)",
			f.Resolution, strings.Join(market.SupportedBins(), ", "))
	}
	if f.Warmup < 0 {
		return fmt.Errorf("feed.warmup must be >= 0")
	}
	if f.FrontRunMs < 0 {
		return fmt.Errorf("feed.front_run_ms must be >= 0")
	}
	if f.FrontRunMs >= res.Millis/4 {
		return fmt.Errorf("feed.front_run_ms=%d must stay below a quarter of the resolution (%dms)", f.FrontRunMs, res.Millis/4)
	}
	if f.MaxTrades <= 0 {
		return fmt.Errorf("feed.max_trades must be > 0")
	}
	if f.PollDelayMs <= 0 || f.WarmupAttempts <= 0 {
		return fmt.Errorf("feed.poll_delay_ms and feed.warmup_attempts must be > 0")
	}
	if f.SafetyMs < 0 || f.SafetyWarmupMs < 0 {
		return fmt.Errorf("feed.safety_ms and feed.safety_warmup_ms must be >= 0")
	}
	if f.MaxConsumerLatencyMs <= 0 {
		return fmt.Errorf("feed.max_consumer_latency_ms must be > 0")
	}
	if f.FetchTimeoutMs <= 0 {
		return fmt.Errorf("feed.fetch_timeout_ms must be > 0")
	}
	switch f.WarmupPolicy {
	case WarmupPolicyStrict, WarmupPolicyBestEffort:
	default:
		return fmt.Errorf("feed.warmup_policy must be %s or %s", WarmupPolicyStrict, WarmupPolicyBestEffort)
	}
	return nil
}

func (e *ExchangeConfig) validate() error {
	switch e.Name {
	case "bitmex", "binance", "binance-futures":
	default:
		return fmt.Errorf("exchange.name %q is not supported", e.Name)
	}
	if e.MaxRetries < 0 {
		return fmt.Errorf("exchange.max_retries must be >= 0")
	}
	if e.BreakerThreshold <= 0 {
		return fmt.Errorf("exchange.breaker_threshold must be > 0")
	}
	return nil
}

func (r *RedisConfig) validate() error {
	if !r.Enabled {
		return nil
	}
	if strings.TrimSpace(r.Addr) == "" {
		return fmt.Errorf("publish.redis.addr cannot be empty when redis is enabled")
	}
	if strings.TrimSpace(r.Channel) == "" {
		return fmt.Errorf("publish.redis.channel cannot be empty when redis is enabled")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	tg := n.Telegram
	if !tg.Enabled {
		return nil
	}
	if strings.TrimSpace(tg.BotToken) == "" || strings.TrimSpace(tg.ChatID) == "" {
		return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
	}
	return nil
}
