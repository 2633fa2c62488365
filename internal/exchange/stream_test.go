package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func tickerMessage(symbol, last, bid, ask string) string {
	return `{"stream":"` + strings.ToLower(symbol) + `@ticker","data":{"e":"24hrTicker","s":"` + symbol + `","c":"` + last + `","b":"` + bid + `","a":"` + ask + `"}}`
}

func TestTickerStreamCachesAndReconnects(t *testing.T) {
	var connections atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "dogeusdt@ticker/ethusdt@ticker", r.URL.Query().Get("streams"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		n := connections.Add(1)
		if n == 1 {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(tickerMessage("DOGEUSDT", "0.1", "0.099", "0.101")))
			return // 断开, 触发重连
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(tickerMessage("DOGEUSDT", "0.2", "0.199", "0.201")))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	stream := NewTickerStream("ws"+strings.TrimPrefix(srv.URL, "http"), []string{"DOGEUSDT", "ETHUSDT"}, zap.NewNop())
	stream.newBackOff = func() *backoff.ExponentialBackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 5 * time.Millisecond
		b.MaxInterval = 10 * time.Millisecond
		return b
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx) }()

	require.Eventually(t, func() bool {
		tk, ok := stream.Ticker("DOGEUSDT")
		return ok && tk.Last == 0.2
	}, 2*time.Second, 5*time.Millisecond)

	tk, _ := stream.Ticker("DOGEUSDT")
	assert.Equal(t, 0.199, tk.Bid)
	assert.Equal(t, 0.201, tk.Ask)
	_, ok := stream.Ticker("ETHUSDT")
	assert.False(t, ok)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
}

func TestTickerStreamDropsStaleEntries(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	stream := NewTickerStream("ws://unused", []string{"DOGEUSDT"}, zap.NewNop())
	stream.now = func() time.Time { return now }

	stream.handleMessage([]byte(tickerMessage("DOGEUSDT", "0.1", "0.099", "0.101")))
	_, ok := stream.Ticker("DOGEUSDT")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok = stream.Ticker("DOGEUSDT")
	assert.False(t, ok)
}
