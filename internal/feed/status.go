package feed

import (
	"sync"
	"sync/atomic"
	"time"

	"barfeed/internal/market"

	"github.com/google/uuid"
)

// Status is a concurrency-safe view of the feed for the HTTP layer.
type Status struct {
	sessionID string
	startedAt time.Time

	ready       atomic.Bool
	opentime    atomic.Int64
	ticks       atomic.Int64
	lagEvents   atomic.Int64
	lastLagMs   atomic.Int64
	fetchFails  atomic.Int64
	skippedBars atomic.Int64
	warmupBars  atomic.Int64
	lastLatency atomic.Int64 // ns

	mu      sync.RWMutex
	symbol  string
	bin     string
	lastBar *market.Bar
	lastErr string
}

func NewStatus() *Status {
	return &Status{sessionID: uuid.NewString(), startedAt: time.Now()}
}

// StatusSnapshot is the JSON shape of /api/feed/status.
type StatusSnapshot struct {
	SessionID     string      `json:"session_id"`
	Symbol        string      `json:"symbol"`
	Bin           string      `json:"bin"`
	Ready         bool        `json:"ready"`
	NextOpentime  string      `json:"next_opentime,omitempty"`
	Ticks         int64       `json:"ticks"`
	WarmupBars    int64       `json:"warmup_bars"`
	LagEvents     int64       `json:"lag_events"`
	LastLagMs     int64       `json:"last_lag_ms"`
	FetchFailures int64       `json:"fetch_failures"`
	SkippedBars   int64       `json:"skipped_bars"`
	LastLatencyMs float64     `json:"last_consumer_latency_ms"`
	LastError     string      `json:"last_error,omitempty"`
	LastBar       *market.Bar `json:"last_bar,omitempty"`
	UptimeSeconds int64       `json:"uptime_seconds"`
}

func (s *Status) SessionID() string { return s.sessionID }
func (s *Status) Ready() bool       { return s.ready.Load() }
func (s *Status) SetReady(v bool)   { s.ready.Store(v) }

func (s *Status) setFeed(symbol, bin string) {
	s.mu.Lock()
	s.symbol, s.bin = symbol, bin
	s.mu.Unlock()
}

func (s *Status) setOpentime(ms int64) { s.opentime.Store(ms) }

func (s *Status) recordEmit(bar market.Bar, latency time.Duration) {
	if bar.Live {
		s.ticks.Add(1)
	} else {
		s.warmupBars.Add(1)
	}
	s.lastLatency.Store(int64(latency))
	s.mu.Lock()
	b := bar
	s.lastBar = &b
	s.mu.Unlock()
}

func (s *Status) recordLag(ms int64) {
	s.lagEvents.Add(1)
	s.lastLagMs.Store(ms)
}

func (s *Status) recordSkip(err error) {
	s.fetchFails.Add(1)
	s.skippedBars.Add(1)
	s.setError(err)
}

func (s *Status) setError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}

func (s *Status) Snapshot() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := StatusSnapshot{
		SessionID:     s.sessionID,
		Symbol:        s.symbol,
		Bin:           s.bin,
		Ready:         s.ready.Load(),
		Ticks:         s.ticks.Load(),
		WarmupBars:    s.warmupBars.Load(),
		LagEvents:     s.lagEvents.Load(),
		LastLagMs:     s.lastLagMs.Load(),
		FetchFailures: s.fetchFails.Load(),
		SkippedBars:   s.skippedBars.Load(),
		LastLatencyMs: float64(s.lastLatency.Load()) / float64(time.Millisecond),
		LastError:     s.lastErr,
		UptimeSeconds: int64(time.Since(s.startedAt) / time.Second),
	}
	if ot := s.opentime.Load(); ot > 0 {
		snap.NextOpentime = market.FormatISO(ot)
	}
	if s.lastBar != nil {
		b := *s.lastBar
		snap.LastBar = &b
	}
	return snap
}
