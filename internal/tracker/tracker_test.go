package tracker

import (
	"context"
	"crypto-bots-go/internal/activitylog"
	"crypto-bots-go/internal/bot"
	"crypto-bots-go/internal/exchange"
	"crypto-bots-go/internal/models"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu     sync.Mutex
	events []activitylog.Event
}

func (r *recorder) Publish(e activitylog.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return true
}

func (r *recorder) kinds() []activitylog.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]activitylog.Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind())
	}
	return out
}

func (r *recorder) all() []activitylog.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]activitylog.Event(nil), r.events...)
}

func gridRequest(gw exchange.Gateway, coin string) StartRequest {
	return StartRequest{
		UserEmail:    "alice@example.com",
		UserID:       42,
		BotType:      models.GridBot,
		PlatformName: "paper",
		Gateway:      gw,
		Params: models.BotParams{Grid: &models.GridParams{
			CoinID:            coin,
			MaximumInvestment: 100,
			StartingPrice:     100,
		}},
	}
}

func newTestTracker(t *testing.T) (*Tracker, *recorder) {
	t.Helper()
	rec := &recorder{}
	tr := New(rec, zaptest.NewLogger(t))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, tr.Shutdown(ctx, false))
	})
	return tr, rec
}

func waitDone(t *testing.T, b bot.Bot) {
	t.Helper()
	select {
	case <-b.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("bot %s did not exit", b.ID())
	}
}

func TestStartRegistersAndPublishesCreate(t *testing.T) {
	tr, rec := newTestTracker(t)
	p := exchange.NewPaper(0, 0)

	b, err := tr.StartBotForUser(context.Background(), gridRequest(p, "eth"))
	require.NoError(t, err)

	got, ok := tr.Lookup("GRID_paper_alice@example.com_eth")
	require.True(t, ok)
	assert.Same(t, b, got)

	events := rec.all()
	require.Len(t, events, 1)
	created, ok := events[0].(activitylog.BotCreated)
	require.True(t, ok)
	assert.Equal(t, b.UUID(), created.UUID)
	assert.Equal(t, int64(42), created.UserID)
	assert.Equal(t, models.GridBot, created.BotType)
	assert.Equal(t, "paper", created.PlatformName)
	assert.Equal(t, b.ID(), created.AdditionalInfo["id"])
}

func TestStartSupersedesSameIdentity(t *testing.T) {
	tr, rec := newTestTracker(t)
	p := exchange.NewPaper(0, 0)

	first, err := tr.StartBotForUser(context.Background(), gridRequest(p, "eth"))
	require.NoError(t, err)
	second, err := tr.StartBotForUser(context.Background(), gridRequest(p, "eth"))
	require.NoError(t, err)

	assert.NotEqual(t, first.UUID(), second.UUID())
	waitDone(t, first)

	// 旧实例退出后不会把新实例从注册表里删掉
	got, ok := tr.Lookup(second.ID())
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 1, tr.Len())
	assert.True(t, second.Running())

	assert.Equal(t, []activitylog.Kind{activitylog.KindCreated, activitylog.KindStopped, activitylog.KindCreated}, rec.kinds())
	stopped := rec.all()[1].(activitylog.BotStopped)
	assert.Equal(t, first.UUID(), stopped.UUID)
}

func TestStartRejectsInvalidParamsBeforeRegistering(t *testing.T) {
	tr, rec := newTestTracker(t)
	p := exchange.NewPaper(0, 0)

	req := gridRequest(p, "eth")
	req.Params.Grid.MaximumInvestment = 0
	_, err := tr.StartBotForUser(context.Background(), req)
	assert.ErrorIs(t, err, bot.ErrInvalidParams)

	req = gridRequest(p, "eth")
	req.BotType = "dca"
	_, err = tr.StartBotForUser(context.Background(), req)
	assert.ErrorIs(t, err, bot.ErrUnsupportedType)

	req = gridRequest(nil, "eth")
	_, err = tr.StartBotForUser(context.Background(), req)
	assert.ErrorIs(t, err, bot.ErrInvalidParams)

	assert.Zero(t, tr.Len())
	assert.Empty(t, rec.all())
}

func TestStopUnknownIsNotAnError(t *testing.T) {
	tr, rec := newTestTracker(t)
	stopped, err := tr.StopBotForUser(StopRequest{
		UserEmail:    "nobody@example.com",
		BotType:      models.GridBot,
		PlatformName: "paper",
		Params:       models.BotParams{Grid: &models.GridParams{CoinID: "eth"}},
	})
	require.NoError(t, err)
	assert.False(t, stopped)
	assert.Empty(t, rec.all())
}

func TestStopWithMalformedParams(t *testing.T) {
	tr, _ := newTestTracker(t)
	_, err := tr.StopBotForUser(StopRequest{UserEmail: "a", BotType: models.GridBot, PlatformName: "paper"})
	assert.ErrorIs(t, err, bot.ErrInvalidParams)
}

func TestStopRemovesBotAfterExit(t *testing.T) {
	tr, rec := newTestTracker(t)
	p := exchange.NewPaper(0, 0)
	req := gridRequest(p, "eth")
	b, err := tr.StartBotForUser(context.Background(), req)
	require.NoError(t, err)

	stop := StopRequest{UserEmail: req.UserEmail, BotType: req.BotType, PlatformName: req.PlatformName, Params: req.Params}
	stopped, err := tr.StopBotForUser(stop)
	require.NoError(t, err)
	assert.True(t, stopped)
	waitDone(t, b)

	assert.Eventually(t, func() bool { return tr.Len() == 0 }, time.Second, 5*time.Millisecond)
	_, ok := tr.Lookup(b.ID())
	assert.False(t, ok)
	assert.Equal(t, []activitylog.Kind{activitylog.KindCreated, activitylog.KindStopped}, rec.kinds())

	stopped, err = tr.StopBotForUser(stop)
	require.NoError(t, err)
	assert.False(t, stopped)
}

func TestConcurrentStartsOnDifferentIdentities(t *testing.T) {
	tr, _ := newTestTracker(t)
	p := exchange.NewPaper(0, 0)
	coins := []string{"eth", "btc", "doge", "xrp", "ada", "hard"}

	var wg sync.WaitGroup
	for _, coin := range coins {
		wg.Add(1)
		go func(coin string) {
			defer wg.Done()
			_, err := tr.StartBotForUser(context.Background(), gridRequest(p, coin))
			assert.NoError(t, err)
		}(coin)
	}
	wg.Wait()

	statuses := tr.List()
	require.Len(t, statuses, len(coins))
	for i := 1; i < len(statuses); i++ {
		assert.Less(t, statuses[i-1].ID, statuses[i].ID)
	}
	for _, s := range statuses {
		assert.Equal(t, bot.StateRunning, s.State)
		assert.Equal(t, "alice@example.com", s.UserEmail)
		assert.NotEmpty(t, s.Snapshot)
	}
}

func TestConcurrentRestartsKeepOneInstance(t *testing.T) {
	tr, _ := newTestTracker(t)
	p := exchange.NewPaper(0, 0)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.StartBotForUser(context.Background(), gridRequest(p, "eth"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Eventually(t, func() bool { return tr.Len() == 1 }, time.Second, 5*time.Millisecond)
	running := 0
	for _, s := range tr.List() {
		if s.State == bot.StateRunning {
			running++
		}
	}
	assert.Equal(t, 1, running)
}

func TestShutdownStopsEverything(t *testing.T) {
	rec := &recorder{}
	tr := New(rec, zaptest.NewLogger(t))
	p := exchange.NewPaper(0, 0)
	var started []bot.Bot
	for _, coin := range []string{"eth", "btc"} {
		b, err := tr.StartBotForUser(context.Background(), gridRequest(p, coin))
		require.NoError(t, err)
		started = append(started, b)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Shutdown(ctx, true))

	for _, b := range started {
		assert.Equal(t, bot.StateStopped, b.State())
	}
	assert.Zero(t, tr.Len())

	_, err := tr.StartBotForUser(context.Background(), gridRequest(p, "eth"))
	assert.ErrorIs(t, err, ErrShuttingDown)

	stops := 0
	for _, k := range rec.kinds() {
		if k == activitylog.KindStopped {
			stops++
		}
	}
	assert.Equal(t, 2, stops)
}

func TestCheckOpportunity(t *testing.T) {
	tr, rec := newTestTracker(t)
	p := exchange.NewPaper(0, 0)
	for pair, price := range map[string]float64{"ETHBTC": 0.05, "BTCUSDT": 40000, "ETHUSDT": 2050} {
		require.NoError(t, p.SetTicker(pair, models.Ticker{Last: price, Bid: price, Ask: price}))
	}

	opp, err := tr.CheckOpportunity(context.Background(), p,
		[]models.TradingPair{{ID: "ETHBTC"}, {ID: "BTCUSDT", Traversed: true}}, "ETHUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 1.025, opp.PositiveOpp, 1e-9)
	assert.Empty(t, p.Fills(), "checking never trades")
	assert.Empty(t, rec.all())
}

func ExampleTracker_StartBotForUser() {
	tr := New(nil, nil)
	defer tr.Shutdown(context.Background(), false)

	b, err := tr.StartBotForUser(context.Background(), gridRequest(exchange.NewPaper(0, 0), "doge"))
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(b.ID())
	// Output: GRID_paper_alice@example.com_doge
}
