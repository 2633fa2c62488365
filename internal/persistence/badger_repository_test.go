package persistence

import (
	"context"
	"crypto-bots-go/internal/activitylog"
	"crypto-bots-go/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSink(t *testing.T) *BadgerSink {
	t.Helper()
	s, err := NewBadgerSink("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBadgerSinkBotLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestSink(t)

	require.NoError(t, s.InsertBot(ctx, activitylog.BotCreated{
		UUID:           "u1",
		UserID:         9,
		BotType:        models.GridBot,
		PlatformName:   "binance",
		AdditionalInfo: map[string]any{"coinId": "eth"},
	}))
	rec, err := s.GetBot(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, rec.Active)
	assert.Equal(t, int64(9), rec.UserID)
	assert.Equal(t, "eth", rec.AdditionalInfo["coinId"])

	require.NoError(t, s.UpdateBot(ctx, activitylog.BotUpdated{UUID: "u1", AdditionalInfo: map[string]any{"lastExecutedGrid": 2}}))
	require.NoError(t, s.StopBot(ctx, activitylog.BotStopped{UUID: "u1"}))

	rec, err = s.GetBot(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, rec.Active)
	assert.Equal(t, 2.0, rec.AdditionalInfo["lastExecutedGrid"])
	assert.False(t, rec.StoppedAt.IsZero())
}

func TestBadgerSinkUnknownBot(t *testing.T) {
	ctx := context.Background()
	s := newTestSink(t)

	_, err := s.GetBot(ctx, "missing")
	assert.ErrorIs(t, err, ErrBotNotFound)
	assert.ErrorIs(t, s.UpdateBot(ctx, activitylog.BotUpdated{UUID: "missing"}), ErrBotNotFound)
	assert.ErrorIs(t, s.StopBot(ctx, activitylog.BotStopped{UUID: "missing"}), ErrBotNotFound)
}

func TestBadgerSinkTransactionsInTimeOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestSink(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	// 按时间倒序写入, 读取时应按时间升序
	for i := 3; i >= 1; i-- {
		require.NoError(t, s.InsertTransaction(ctx, activitylog.TransactionLogged{
			UUID:            "u1",
			TransactionType: models.Buy,
			Amount:          float64(i),
			Price:           100,
			Pair:            "eth",
			At:              base.Add(time.Duration(i) * time.Minute),
		}))
	}
	// 同一时刻的两笔成交都要保留
	require.NoError(t, s.InsertTransaction(ctx, activitylog.TransactionLogged{UUID: "u1", TransactionType: models.Sell, Amount: 4, Pair: "eth", At: base.Add(3 * time.Minute)}))
	require.NoError(t, s.InsertTransaction(ctx, activitylog.TransactionLogged{UUID: "u10", TransactionType: models.Sell, Amount: 9, Pair: "eth", At: base}))

	txs, err := s.ListTransactions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, txs, 4)
	assert.Equal(t, 1.0, txs[0].Amount)
	assert.Equal(t, 2.0, txs[1].Amount)
	assert.True(t, base.Add(time.Minute).Equal(txs[0].CreatedAt))

	other, err := s.ListTransactions(ctx, "u10")
	require.NoError(t, err)
	assert.Len(t, other, 1, "prefix scans do not bleed into other uuids")
}

func TestBadgerSinkBehindActivityLog(t *testing.T) {
	s := newTestSink(t)
	log := activitylog.New(s, nil, activitylog.Options{BufferSize: 8})
	log.Start()

	require.True(t, log.Publish(activitylog.BotCreated{UUID: "u1", BotType: models.ArbitrageBot, PlatformName: "paper"}))
	require.True(t, log.Publish(activitylog.TransactionLogged{UUID: "u1", TransactionType: models.Sell, Amount: 1, Pair: "ETHBTC"}))
	require.True(t, log.Publish(activitylog.BotStopped{UUID: "u1"}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, log.Stop(ctx))

	rec, err := s.GetBot(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, rec.Active)
	txs, err := s.ListTransactions(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}
