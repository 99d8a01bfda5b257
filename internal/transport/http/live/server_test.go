package livehttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"barfeed/internal/feed"
	"barfeed/internal/market"
	"barfeed/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *feed.Status, *store.MemoryBarStore) {
	t.Helper()
	st := feed.NewStatus()
	bars := store.NewMemoryBarStore(10)
	srv, err := NewServer(ServerConfig{Addr: ":0", Status: st, Bars: bars, Symbol: "XBTUSD", Bin: "5m"})
	require.NoError(t, err)
	return srv, st, bars
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	srv, st, _ := newTestServer(t)
	assert.Equal(t, http.StatusOK, get(t, srv, "/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, srv, "/readyz").Code)
	st.SetReady(true)
	assert.Equal(t, http.StatusOK, get(t, srv, "/readyz").Code)
}

func TestFeedStatus(t *testing.T) {
	srv, st, _ := newTestServer(t)
	rec := get(t, srv, "/api/feed/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap feed.StatusSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, st.SessionID(), snap.SessionID)
	assert.False(t, snap.Ready)
}

func TestFeedBars(t *testing.T) {
	srv, _, bars := newTestServer(t)
	ctx := context.Background()
	for i := int64(1); i <= 4; i++ {
		require.NoError(t, bars.Put(ctx, "XBTUSD", "5m", market.Bar{OpenEpoch: i * 300000}))
	}

	rec := get(t, srv, "/api/feed/bars?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count int          `json:"count"`
		Bars  []market.Bar `json:"bars"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.EqualValues(t, 1200000, body.Bars[1].OpenEpoch)

	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/feed/bars?limit=abc").Code)
}

func TestNewServerRequiresStatus(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}
