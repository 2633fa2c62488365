package bot

import (
	"context"
	"crypto-bots-go/internal/activitylog"
	"crypto-bots-go/internal/exchange"
	"crypto-bots-go/internal/models"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// recorder 记录机器人发出的所有事件
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

func (r *recorder) transactions() []activitylog.TransactionLogged {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []activitylog.TransactionLogged
	for _, e := range r.events {
		if tx, ok := e.(activitylog.TransactionLogged); ok {
			out = append(out, tx)
		}
	}
	return out
}

func (r *recorder) updates() []activitylog.BotUpdated {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []activitylog.BotUpdated
	for _, e := range r.events {
		if u, ok := e.(activitylog.BotUpdated); ok {
			out = append(out, u)
		}
	}
	return out
}

func testDeps(t *testing.T, gw exchange.Gateway, rec *recorder) Deps {
	t.Helper()
	return Deps{
		UserEmail: "alice@example.com",
		UserID:    7,
		Platform:  "paper",
		Gateway:   gw,
		Publisher: rec,
		Logger:    zaptest.NewLogger(t),
	}
}

// flatTicker 设置 bid == ask == last 的行情
func flatTicker(t *testing.T, p *exchange.Paper, pair string, price float64) {
	t.Helper()
	require.NoError(t, p.SetTicker(pair, models.Ticker{Last: price, Bid: price, Ask: price}))
}

// fakeClock 是可以手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var bg = context.Background()
