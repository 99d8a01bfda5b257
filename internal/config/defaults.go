package config

import (
	"strings"
)

const (
	defaultAppEnv              = "dev"
	defaultAppLogLevel         = "info"
	defaultAppLogFormat        = "text"
	defaultAppHTTPAddr         = ":9992"
	defaultFeedSymbol          = "XBTUSD"
	defaultFeedResolution      = "5m"
	defaultFeedFrontRunMs      = 250
	defaultFeedMaxTrades       = 200
	defaultFeedPollDelayMs     = 2500
	defaultFeedWarmupAttempts  = 20
	defaultFeedSafetyMs        = 5 * 1000
	defaultFeedSafetyWarmupMs  = 20 * 1000
	defaultFeedMaxLatencyMs    = 15 * 1000
	defaultFeedFetchTimeoutMs  = 10 * 1000
	defaultExchangeName        = "bitmex"
	defaultBitmexREST          = "https://www.bitmex.com/api/v1"
	defaultBinanceREST         = "https://fapi.binance.com"
	defaultExchangeRetries     = 3
	defaultExchangeBackoffMs   = 500
	defaultBreakerThreshold    = 5
	defaultBreakerCooldownMs   = 30 * 1000
	defaultRedisAddr           = "localhost:6379"
	defaultRedisChannel        = "barfeed:bars"
	defaultStoreRecentBars     = 500
)

// Default returns a config with every default applied, as if loaded from an
// empty file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(nil)
	return cfg
}

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Feed.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Publish.Redis.applyDefaults(keys)
	c.Store.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (f *FeedConfig) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("feed.symbol", &f.Symbol, defaultFeedSymbol),
		stringFieldDefault("feed.resolution", &f.Resolution, defaultFeedResolution),
		stringFieldDefault("feed.warmup_policy", &f.WarmupPolicy, WarmupPolicyStrict),
		int64FieldDefault("feed.front_run_ms", &f.FrontRunMs, defaultFeedFrontRunMs),
		intFieldDefault("feed.max_trades", &f.MaxTrades, defaultFeedMaxTrades),
		int64FieldDefault("feed.poll_delay_ms", &f.PollDelayMs, defaultFeedPollDelayMs),
		intFieldDefault("feed.warmup_attempts", &f.WarmupAttempts, defaultFeedWarmupAttempts),
		int64FieldDefault("feed.safety_ms", &f.SafetyMs, defaultFeedSafetyMs),
		int64FieldDefault("feed.safety_warmup_ms", &f.SafetyWarmupMs, defaultFeedSafetyWarmupMs),
		int64FieldDefault("feed.max_consumer_latency_ms", &f.MaxConsumerLatencyMs, defaultFeedMaxLatencyMs),
		int64FieldDefault("feed.fetch_timeout_ms", &f.FetchTimeoutMs, defaultFeedFetchTimeoutMs),
	)
	f.Resolution = strings.ToLower(strings.TrimSpace(f.Resolution))
	f.WarmupPolicy = strings.ToLower(strings.TrimSpace(f.WarmupPolicy))
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.name", &e.Name, defaultExchangeName),
		intFieldDefault("exchange.max_retries", &e.MaxRetries, defaultExchangeRetries),
		int64FieldDefault("exchange.retry_backoff_ms", &e.RetryBackoffMs, defaultExchangeBackoffMs),
		intFieldDefault("exchange.breaker_threshold", &e.BreakerThreshold, defaultBreakerThreshold),
		int64FieldDefault("exchange.breaker_cooldown_ms", &e.BreakerCooldownMs, defaultBreakerCooldownMs),
	)
	e.Name = strings.ToLower(strings.TrimSpace(e.Name))
	if strings.TrimSpace(e.RESTBaseURL) == "" {
		switch e.Name {
		case "binance", "binance-futures":
			e.RESTBaseURL = defaultBinanceREST
		default:
			e.RESTBaseURL = defaultBitmexREST
		}
	}
	e.RESTBaseURL = strings.TrimRight(strings.TrimSpace(e.RESTBaseURL), "/")
}

func (r *RedisConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("publish.redis.addr", &r.Addr, defaultRedisAddr),
		stringFieldDefault("publish.redis.channel", &r.Channel, defaultRedisChannel),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("store.recent_bars", &s.RecentBars, defaultStoreRecentBars),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func int64FieldDefault(key string, target *int64, def int64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
