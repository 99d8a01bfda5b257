package store

import (
	"context"
	"testing"

	"barfeed/internal/events"
	"barfeed/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBarStoreKeepsNewest(t *testing.T) {
	s := NewMemoryBarStore(3)
	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, s.Put(ctx, "XBTUSD", "5m", market.Bar{OpenEpoch: i * 300000}))
	}
	got, err := s.Export(ctx, "XBTUSD", "5m", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.EqualValues(t, 900000, got[0].OpenEpoch)
	assert.EqualValues(t, 1500000, got[2].OpenEpoch)

	got, _ = s.Export(ctx, "XBTUSD", "5m", 1)
	assert.EqualValues(t, 1500000, got[0].OpenEpoch)
	got, _ = s.Export(ctx, "XBTUSD", "1h", 5)
	assert.Empty(t, got)
}

func TestMemoryBarStoreReplacesSameBoundary(t *testing.T) {
	s := NewMemoryBarStore(0)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "XBTUSD", "1m", market.Bar{OpenEpoch: 60000, Close: 1}))
	require.NoError(t, s.Put(ctx, "XBTUSD", "1m", market.Bar{OpenEpoch: 60000, Close: 2}))
	got, _ := s.Export(ctx, "XBTUSD", "1m", 5)
	require.Len(t, got, 1)
	assert.Equal(t, 2.0, got[0].Close)
	assert.Error(t, s.Put(ctx, "", "1m", market.Bar{}))
}

func TestMemoryBarStoreAsSubscriber(t *testing.T) {
	s := NewMemoryBarStore(10)
	bus := events.NewBus()
	bus.Subscribe("store", s.Handler("XBTUSD", "5m"))
	require.NoError(t, bus.Publish(context.Background(), market.Bar{OpenEpoch: 300000, Live: true}))
	got, _ := s.Export(context.Background(), "XBTUSD", "5m", 10)
	require.Len(t, got, 1)
	assert.True(t, got[0].Live)
}
