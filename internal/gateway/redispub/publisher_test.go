package redispub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"barfeed/internal/config"
	"barfeed/internal/market"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	channel string
	payload []byte
	err     error
	closed  bool
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	return redis.NewIntResult(1, nil)
}

func (f *fakeRedis) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.err)
}

func TestHandlePublishesEnvelope(t *testing.T) {
	fr := &fakeRedis{}
	feed := config.Default().Feed
	p := NewWithClient(fr, "barfeed:bars", feed, "sess-1")

	bar := market.Bar{OpenEpoch: 1700000100000, OpenTimestamp: market.FormatISO(1700000100000), Close: 62000.5, Live: true}
	require.NoError(t, p.Handle(context.Background(), bar))
	assert.Equal(t, "barfeed:bars", fr.channel)

	var env Envelope
	require.NoError(t, json.Unmarshal(fr.payload, &env))
	assert.Equal(t, "sess-1", env.SessionID)
	assert.Equal(t, "XBTUSD", env.Symbol)
	assert.Equal(t, "5m", env.Bin)
	assert.Equal(t, bar, env.Bar)
	assert.NoError(t, p.Ping(context.Background()))
	assert.NoError(t, p.Close())
}

func TestHandleSurfacesErrors(t *testing.T) {
	fr := &fakeRedis{err: errors.New("connection refused")}
	p := NewWithClient(fr, "c", config.Default().Feed, "s")
	err := p.Handle(context.Background(), market.Bar{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Error(t, p.Ping(context.Background()))
}

func TestCloseClosesClient(t *testing.T) {
	fr := &fakeRedis{}
	p := NewWithClient(fr, "barfeed:bars", config.Default().Feed, "sess-1")
	require.NoError(t, p.Close())
	assert.True(t, fr.closed)
}
