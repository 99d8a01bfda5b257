package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegramSendTextRetries(t *testing.T) {
	var calls atomic.Int32
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", "42")
	tg.APIBase = srv.URL
	tg.backoff = time.Millisecond

	require.NoError(t, tg.SendText(context.Background(), "poll is lagging by 900ms"))
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "[barfeed] poll is lagging by 900ms", got["text"])
}

func TestTelegramGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", "42")
	tg.APIBase = srv.URL
	tg.backoff = time.Millisecond

	err := tg.SendText(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=500")
	assert.EqualValues(t, 3, calls.Load())
}

func TestTelegramRequiresConfig(t *testing.T) {
	assert.Error(t, NewTelegram("", "1").SendText(context.Background(), "x"))
	assert.NoError(t, Nop{}.SendText(context.Background(), "x"))
}
