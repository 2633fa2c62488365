package exchange

import (
	"context"
	"crypto-bots-go/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPoolCachesPerAccount(t *testing.T) {
	pool := NewPool()
	created := 0
	pool.Register("paper", func(acc models.AccountConfig) (Gateway, error) {
		created++
		return NewPaper(100, 0), nil
	})

	a := models.AccountConfig{UserEmail: "a@b.c", Platform: "paper"}
	b := models.AccountConfig{UserEmail: "x@y.z", Platform: "paper"}

	g1, err := pool.Get(a)
	require.NoError(t, err)
	g2, err := pool.Get(a)
	require.NoError(t, err)
	g3, err := pool.Get(b)
	require.NoError(t, err)

	assert.Same(t, g1, g2)
	assert.NotSame(t, g1, g3)
	assert.Equal(t, 2, created)
	assert.Equal(t, 2, pool.Len())
}

func TestPoolUnsupportedPlatform(t *testing.T) {
	_, err := NewPool().Get(models.AccountConfig{UserEmail: "a@b.c", Platform: "kraken"})
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
}

func TestBinanceFactoryRequiresCredentials(t *testing.T) {
	factory := NewBinanceFactory(models.BinanceConfig{RequestsPerSecond: 5, Burst: 1}, nil, zap.NewNop())

	_, err := factory(models.AccountConfig{UserEmail: "a@b.c", Platform: "binance", APIKeyEnv: "TEST_MISSING_KEY", SecretKeyEnv: "TEST_MISSING_SECRET"})
	assert.ErrorIs(t, err, ErrMissingCredentials)

	t.Setenv("TEST_BINANCE_KEY", "key")
	t.Setenv("TEST_BINANCE_SECRET", "secret")
	gw, err := factory(models.AccountConfig{UserEmail: "a@b.c", Platform: "binance", APIKeyEnv: "TEST_BINANCE_KEY", SecretKeyEnv: "TEST_BINANCE_SECRET"})
	require.NoError(t, err)
	limited, ok := gw.(*RateLimited)
	require.True(t, ok)
	assert.IsType(t, &BinanceGateway{}, limited.Unwrap())
}

func TestRateLimitedDelegatesAndHonoursContext(t *testing.T) {
	p := NewPaper(100, 0)
	require.NoError(t, p.SetTicker("doge", models.Ticker{Last: 0.1, Bid: 0.1, Ask: 0.1}))
	gw := NewRateLimited(p, 0.001, 1)

	ticker, err := gw.FetchTicker(context.Background(), "doge")
	require.NoError(t, err)
	assert.Equal(t, 0.1, ticker.Last)

	// 令牌已用完, 下一次请求要等很久, 应该被 ctx 截止时间打断
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = gw.FetchTicker(ctx, "doge")
	assert.Error(t, err)

	qty, err := gw.MinimumQuantity("doge")
	require.NoError(t, err)
	assert.Equal(t, 10.0, qty)
}

func TestRateLimitedUnlimited(t *testing.T) {
	p := NewPaper(100, 0)
	require.NoError(t, p.SetTicker("doge", models.Ticker{Last: 0.1, Bid: 0.1, Ask: 0.1}))
	gw := NewRateLimited(p, 0, 0)
	for i := 0; i < 50; i++ {
		_, err := gw.FetchTicker(context.Background(), "doge")
		require.NoError(t, err)
	}
}
