package exchange

import (
	"context"
	"crypto-bots-go/internal/models"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestResolvePair(t *testing.T) {
	coin, err := ResolvePair("doge")
	require.NoError(t, err)
	assert.Equal(t, "DOGEUSDT", coin.Symbol)
	assert.Equal(t, 10.0, coin.MinimumQuantity)

	coin, err = ResolvePair("ETH/BTC")
	require.NoError(t, err)
	assert.Equal(t, "ETHBTC", coin.Symbol)
	assert.Equal(t, "ETH", coin.Base)
	assert.Equal(t, "BTC", coin.Quote)

	coin, err = ResolvePair("XRPUSDT")
	require.NoError(t, err)
	assert.Equal(t, "xrp", coin.ID, "known market symbols map back to the coin table")

	_, err = ResolvePair("shib")
	assert.ErrorIs(t, err, ErrUnknownPair)
	_, err = ResolvePair("")
	assert.ErrorIs(t, err, ErrUnknownPair)
}

func TestPaperMarketOrderFillsAtTouch(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(1000, 0.001)
	require.NoError(t, p.SetTicker("doge", models.Ticker{Last: 0.1, Bid: 0.099, Ask: 0.101}))

	order, err := p.CreateOrder(ctx, "doge", 0, 100, models.Buy, models.Market)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFilled, order.Status)
	assert.InDelta(t, 0.101, order.AvgPrice, 1e-12)
	assert.InDelta(t, 100, p.Holding("DOGE"), 1e-9)
	assert.InDelta(t, 1000-10.1-0.0101, p.Holding("USDT"), 1e-9)

	order, err = p.CreateOrder(ctx, "doge", 0, 50, models.Sell, models.Market)
	require.NoError(t, err)
	assert.InDelta(t, 0.099, order.AvgPrice, 1e-12)
	assert.InDelta(t, 50, p.Holding("DOGE"), 1e-9)

	fills := p.Fills()
	require.Len(t, fills, 2)
	assert.Less(t, fills[1].Profit, 0.0, "selling below the entry price realises a loss")
}

func TestPaperLimitOrderFillsWhenCrossed(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(1000, 0)
	require.NoError(t, p.SetTicker("eth", models.Ticker{Last: 2000, Bid: 1999, Ask: 2001}))

	order, err := p.CreateOrder(ctx, "eth", 1990, 0.5, models.Buy, models.Limit)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, order.Status)
	assert.Len(t, p.OpenOrders(), 1)

	require.NoError(t, p.SetTicker("eth", models.Ticker{Last: 1995, Bid: 1994, Ask: 1996}))
	got, err := p.FetchOrder(ctx, order.ID, "eth")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, got.Status)

	require.NoError(t, p.SetTicker("eth", models.Ticker{Last: 1989, Bid: 1988, Ask: 1989}))
	got, err = p.FetchOrder(ctx, order.ID, "eth")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFilled, got.Status)
	assert.Equal(t, 1990.0, got.AvgPrice)
	assert.Zero(t, got.Remaining)
}

func TestPaperEditOrderKeepsID(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(1000, 0)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.SetClock(func() time.Time { return now })
	require.NoError(t, p.SetTicker("xrp", models.Ticker{Last: 0.5, Bid: 0.49, Ask: 0.51}))

	order, err := p.CreateOrder(ctx, "xrp", 0.6, 20, models.Sell, models.Limit)
	require.NoError(t, err)

	now = now.Add(time.Minute)
	edited, err := p.EditOrder(ctx, "xrp", order.ID, 0.55, 20, models.Sell, models.Limit)
	require.NoError(t, err)
	assert.Equal(t, order.ID, edited.ID)
	assert.Equal(t, 0.55, edited.Price)
	assert.Equal(t, now, edited.Timestamp)

	_, err = p.EditOrder(ctx, "xrp", "999", 0.55, 20, models.Sell, models.Limit)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestPaperEditOrderReplaceFailureLeavesOrderCanceled(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(1000, 0)
	require.NoError(t, p.SetTicker("xrp", models.Ticker{Last: 0.5, Bid: 0.49, Ask: 0.51}))
	order, err := p.CreateOrder(ctx, "xrp", 0.6, 20, models.Sell, models.Limit)
	require.NoError(t, err)

	boom := errors.New("new order rejected")
	p.FailNext("EditOrder.replace", boom)
	_, err = p.EditOrder(ctx, "xrp", order.ID, 0.55, 20, models.Sell, models.Limit)
	assert.ErrorIs(t, err, boom)

	got, err := p.FetchOrder(ctx, order.ID, "xrp")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanceled, got.Status)
	assert.Equal(t, 0.6, got.Price)
	assert.Empty(t, p.OpenOrders())
}

func TestPaperFailNextIsOneShot(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(1000, 0)
	require.NoError(t, p.SetTicker("ada", models.Ticker{Last: 1, Bid: 1, Ask: 1}))
	boom := errors.New("boom")
	p.FailNext("FetchTicker", boom)

	_, err := p.FetchTicker(ctx, "ada")
	assert.ErrorIs(t, err, boom)
	_, err = p.FetchTicker(ctx, "ada")
	assert.NoError(t, err)
}

func TestPaperRequireFunds(t *testing.T) {
	p := NewPaper(10, 0)
	p.RequireFunds = true
	require.NoError(t, p.SetTicker("eth", models.Ticker{Last: 2000, Bid: 2000, Ask: 2000}))

	_, err := p.CreateOrder(context.Background(), "eth", 0, 1, models.Buy, models.Market)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Empty(t, p.Fills())
}

func TestPaperCancelAllOrdersOnlyTouchesPair(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(1000, 0)
	require.NoError(t, p.SetTicker("doge", models.Ticker{Last: 0.1, Bid: 0.1, Ask: 0.1}))
	require.NoError(t, p.SetTicker("xrp", models.Ticker{Last: 0.5, Bid: 0.5, Ask: 0.5}))
	_, err := p.CreateOrder(ctx, "doge", 0.05, 100, models.Buy, models.Limit)
	require.NoError(t, err)
	xrp, err := p.CreateOrder(ctx, "xrp", 0.4, 100, models.Buy, models.Limit)
	require.NoError(t, err)

	require.NoError(t, p.CancelAllOrders(ctx, "doge"))
	open := p.OpenOrders()
	require.Len(t, open, 1)
	assert.Equal(t, xrp.ID, open[0].ID)
}

func TestPaperReplayCandleRecordsEquity(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(100, 0)
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, p.ReplayCandle("BTCUSDT", 100, 101, 99, 100, ts))

	order, err := p.CreateOrder(ctx, "BTCUSDT", 99.5, 0.5, models.Buy, models.Limit)
	require.NoError(t, err)
	require.NoError(t, p.ReplayCandle("BTCUSDT", 100, 100.5, 99, 99.2, ts.Add(time.Minute)))

	got, err := p.FetchOrder(ctx, order.ID, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFilled, got.Status)
	assert.Equal(t, ts.Add(time.Minute), p.Fills()[0].Time)

	curve := p.EquityCurve()
	require.Len(t, curve, 2)
	assert.InDelta(t, 100, curve[0], 1e-9)
	assert.InDelta(t, 100-99.5*0.5+0.5*99.2, curve[1], 1e-9)
}

func TestPaperFetchMyTradesWindow(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(1000, 0.001)
	now := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	p.SetClock(func() time.Time { return now })
	require.NoError(t, p.SetTicker("doge", models.Ticker{Last: 0.1, Bid: 0.1, Ask: 0.1}))

	_, err := p.CreateOrder(ctx, "doge", 0, 100, models.Buy, models.Market)
	require.NoError(t, err)
	now = now.Add(5 * time.Hour)
	_, err = p.CreateOrder(ctx, "doge", 0, 50, models.Sell, models.Market)
	require.NoError(t, err)

	trades, err := p.FetchMyTrades(ctx, "doge", 2, 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, models.Sell, trades[0].Side)
	assert.InDelta(t, 5.0, trades[0].Cost, 1e-9)

	trades, err = p.FetchMyTrades(ctx, "doge", 0, 0)
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}

func TestPaperMirrorFollowsFeed(t *testing.T) {
	ctx := context.Background()
	source := NewPaper(0, 0)
	require.NoError(t, source.SetTicker("eth", models.Ticker{Last: 2000, Bid: 1999, Ask: 2001}))
	require.NoError(t, source.AddTrades("eth", models.Trade{Price: 2000, Amount: 1}, models.Trade{Price: 2001, Amount: 2}))

	var created []string
	factory := NewPaperFactory(500, 0, func(acc models.AccountConfig, _ *Paper) { created = append(created, acc.UserEmail) })
	gw, err := factory(models.AccountConfig{UserEmail: "bob@example.com", Platform: "paper"})
	require.NoError(t, err)
	assert.Equal(t, []string{"bob@example.com"}, created)
	paper := gw.(*Paper)

	// 挂一个会被新行情穿过的限价买单
	require.NoError(t, paper.SetTicker("eth", models.Ticker{Last: 2100, Bid: 2099, Ask: 2101}))
	order, err := paper.CreateOrder(ctx, "eth", 2050, 0.1, models.Buy, models.Limit)
	require.NoError(t, err)

	require.NoError(t, paper.mirrorOnce(ctx, source, "eth"))

	ticker, err := paper.FetchTicker(ctx, "eth")
	require.NoError(t, err)
	assert.Equal(t, 2000.0, ticker.Last)
	trades, err := paper.FetchRecentTrades(ctx, "eth")
	require.NoError(t, err)
	assert.Len(t, trades, 2)

	got, err := paper.FetchOrder(ctx, order.ID, "eth")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFilled, got.Status)
}

func TestPaperMirrorStopsWithContext(t *testing.T) {
	source := NewPaper(0, 0)
	require.NoError(t, source.SetTicker("doge", models.Ticker{Last: 0.1, Bid: 0.1, Ask: 0.1}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewPaper(0, 0).Mirror(ctx, source, []string{"doge"}, time.Millisecond, zap.NewNop()) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Mirror did not return after cancel")
	}
}
