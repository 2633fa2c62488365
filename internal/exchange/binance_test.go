package exchange

import (
	"context"
	"crypto-bots-go/internal/models"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBinance(t *testing.T, handler http.HandlerFunc) *BinanceGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewBinanceGateway("key", "secret", srv.URL, nil, zap.NewNop())
}

func TestBinanceFetchTicker(t *testing.T) {
	gw := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DOGEUSDT", r.URL.Query().Get("symbol"))
		switch r.URL.Path {
		case "/api/v3/ticker/bookTicker":
			_, _ = w.Write([]byte(`{"symbol":"DOGEUSDT","bidPrice":"0.09990","bidQty":"100","askPrice":"0.10010","askQty":"200"}`))
		case "/api/v3/ticker/price":
			_, _ = w.Write([]byte(`{"symbol":"DOGEUSDT","price":"0.10000"}`))
		default:
			http.NotFound(w, r)
		}
	})

	ticker, err := gw.FetchTicker(context.Background(), "doge")
	require.NoError(t, err)
	assert.Equal(t, models.Ticker{Last: 0.1, Bid: 0.0999, Ask: 0.1001}, ticker)
}

func TestBinanceFetchTickerPrefersStream(t *testing.T) {
	stream := NewTickerStream("ws://unused", []string{"DOGEUSDT"}, zap.NewNop())
	stream.handleMessage([]byte(tickerMessage("DOGEUSDT", "0.3", "0.29", "0.31")))
	gw := NewBinanceGateway("key", "secret", "http://127.0.0.1:1", stream, zap.NewNop())

	ticker, err := gw.FetchTicker(context.Background(), "doge")
	require.NoError(t, err)
	assert.Equal(t, 0.3, ticker.Last)
}

func TestBinanceCreateLimitOrderFormatsQuantityAndPrice(t *testing.T) {
	gw := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/order", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "ETHUSDT", r.Form.Get("symbol"))
		assert.Equal(t, "BUY", r.Form.Get("side"))
		assert.Equal(t, "LIMIT", r.Form.Get("type"))
		assert.Equal(t, "GTC", r.Form.Get("timeInForce"))
		assert.Equal(t, "0.1234", r.Form.Get("quantity"))
		assert.Equal(t, "1999.99", r.Form.Get("price"))
		_, _ = w.Write([]byte(`{"symbol":"ETHUSDT","orderId":42,"clientOrderId":"abc","transactTime":1700000000000,
			"price":"1999.99","origQty":"0.1234","executedQty":"0","cummulativeQuoteQty":"0",
			"status":"NEW","timeInForce":"GTC","type":"LIMIT","side":"BUY"}`))
	})

	order, err := gw.CreateOrder(context.Background(), "eth", 1999.987, 0.123456, models.Buy, models.Limit)
	require.NoError(t, err)
	assert.Equal(t, "42", order.ID)
	assert.Equal(t, models.StatusOpen, order.Status)
	assert.InDelta(t, 0.1234, order.Remaining, 1e-12)
}

func TestBinanceFetchOrderMapsStatus(t *testing.T) {
	gw := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("orderId"))
		_, _ = w.Write([]byte(`{"symbol":"XRPUSDT","orderId":7,"price":"0.5","origQty":"20","executedQty":"20",
			"cummulativeQuoteQty":"10.2","status":"FILLED","timeInForce":"GTC","type":"LIMIT","side":"SELL","time":1700000000000}`))
	})

	order, err := gw.FetchOrder(context.Background(), "7", "xrp")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFilled, order.Status)
	assert.Equal(t, models.Sell, order.Side)
	assert.InDelta(t, 0.51, order.AvgPrice, 1e-12)
	assert.Zero(t, order.Remaining)
}

func TestBinanceCancelAllOrdersIgnoresUnknownOrder(t *testing.T) {
	gw := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-2011,"msg":"Unknown order sent."}`))
	})
	assert.NoError(t, gw.CancelAllOrders(context.Background(), "doge"))
}

func TestBinanceCancelAllOrdersPropagatesOtherErrors(t *testing.T) {
	gw := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	})
	assert.Error(t, gw.CancelAllOrders(context.Background(), "doge"))
}

func TestFormatQuantity(t *testing.T) {
	assert.Equal(t, "123", formatQuantity(123.9, 10))
	assert.Equal(t, "0.0001", formatQuantity(0.00019, 0.0001))
	assert.Equal(t, "1.5", formatQuantity(1.5, 0))
	assert.Equal(t, "0.12346", formatPrice(0.123456, 5))
}
