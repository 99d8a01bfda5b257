package config

import (
	"strings"
	"time"
)

// Config is the root of barfeed.yaml.
type Config struct {
	App      AppConfig      `toml:"app"`
	Feed     FeedConfig     `toml:"feed"`
	Exchange ExchangeConfig `toml:"exchange"`
	Publish  PublishConfig  `toml:"publish"`
	Notify   NotifyConfig   `toml:"notify"`
	Store    StoreConfig    `toml:"store"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogPath   string `toml:"log_path"`
	HTTPAddr  string `toml:"http_addr"`
}

// FeedConfig drives the bar feed; all *_ms fields are milliseconds.
type FeedConfig struct {
	Symbol               string `toml:"symbol"`
	Resolution           string `toml:"resolution"`
	Warmup               int    `toml:"warmup"`
	Offline              bool   `toml:"offline"`
	FrontRunMs           int64  `toml:"front_run_ms"`
	MaxTrades            int    `toml:"max_trades"`
	PollDelayMs          int64  `toml:"poll_delay_ms"`
	WarmupAttempts       int    `toml:"warmup_attempts"`
	WarmupPolicy         string `toml:"warmup_policy"` // strict | best_effort
	SafetyMs             int64  `toml:"safety_ms"`
	SafetyWarmupMs       int64  `toml:"safety_warmup_ms"`
	MaxConsumerLatencyMs int64  `toml:"max_consumer_latency_ms"`
	FetchTimeoutMs       int64  `toml:"fetch_timeout_ms"`
}

func (f FeedConfig) FrontRun() time.Duration { return ms(f.FrontRunMs) }

func (f FeedConfig) PollDelay() time.Duration { return ms(f.PollDelayMs) }

func (f FeedConfig) MaxConsumerLatency() time.Duration { return ms(f.MaxConsumerLatencyMs) }

func (f FeedConfig) FetchTimeout() time.Duration { return ms(f.FetchTimeoutMs) }

// BestEffortWarmup reports whether warmup may proceed without convergence.
func (f FeedConfig) BestEffortWarmup() bool {
	return strings.EqualFold(strings.TrimSpace(f.WarmupPolicy), WarmupPolicyBestEffort)
}

const (
	WarmupPolicyStrict     = "strict"
	WarmupPolicyBestEffort = "best_effort"
)

type ExchangeConfig struct {
	Name              string `toml:"name"`
	RESTBaseURL       string `toml:"rest_base_url"`
	MaxRetries        int    `toml:"max_retries"`
	RetryBackoffMs    int64  `toml:"retry_backoff_ms"`
	BreakerThreshold  int    `toml:"breaker_threshold"`
	BreakerCooldownMs int64  `toml:"breaker_cooldown_ms"`
	Proxy             string `toml:"proxy"`
}

func (e ExchangeConfig) RetryBackoff() time.Duration { return ms(e.RetryBackoffMs) }

func (e ExchangeConfig) BreakerCooldown() time.Duration { return ms(e.BreakerCooldownMs) }

type PublishConfig struct {
	Redis RedisConfig `toml:"redis"`
}

type RedisConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Channel  string `toml:"channel"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type StoreConfig struct {
	RecentBars int `toml:"recent_bars"`
}

func ms(v int64) time.Duration { return time.Duration(v) * time.Millisecond }

// keySet tracks which dotted paths were set explicitly by the config sources.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
