package exchange

import (
	"context"
	"crypto-bots-go/internal/models"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// streamEnvelope 是币安组合流的外层消息
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// tickerEvent 是 <symbol>@ticker 流中我们关心的字段
type tickerEvent struct {
	Symbol string `json:"s"`
	Last   string `json:"c"`
	Bid    string `json:"b"`
	Ask    string `json:"a"`
}

type cachedTicker struct {
	ticker models.Ticker
	at     time.Time
}

// TickerStream 订阅币安 24h ticker 组合流, 在内存中缓存每个交易对的最新行情。
// 断线后按指数退避重连。行情是公共数据, 所有账户共享一个实例。
type TickerStream struct {
	url    string
	maxAge time.Duration
	dialer *websocket.Dialer
	logger *zap.Logger

	mu      sync.RWMutex
	tickers map[string]cachedTicker

	newBackOff func() *backoff.ExponentialBackOff
	now        func() time.Time
}

// NewTickerStream 创建行情流, symbols 为交易所市场代码 (e.g. DOGEUSDT)
func NewTickerStream(wsBaseURL string, symbols []string, logger *zap.Logger) *TickerStream {
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, strings.ToLower(s)+"@ticker")
	}
	return &TickerStream{
		url:     fmt.Sprintf("%s/stream?streams=%s", strings.TrimRight(wsBaseURL, "/"), strings.Join(streams, "/")),
		maxAge:  15 * time.Second,
		dialer:  websocket.DefaultDialer,
		logger:  logger,
		tickers: make(map[string]cachedTicker),
		newBackOff: func() *backoff.ExponentialBackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			return b
		},
		now: time.Now,
	}
}

// Ticker 返回缓存的行情, 超过 maxAge 的数据视为不可用
func (s *TickerStream) Ticker(symbol string) (models.Ticker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.tickers[symbol]
	if !ok || s.now().Sub(c.at) > s.maxAge {
		return models.Ticker{}, false
	}
	return c.ticker, true
}

// Run 保持连接直到 ctx 结束
func (s *TickerStream) Run(ctx context.Context) error {
	b := s.newBackOff()
	for {
		connected, err := s.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			b.Reset()
		}
		wait := b.NextBackOff()
		s.logger.Warn("行情流断开, 准备重连", zap.Error(err), zap.Duration("wait", wait))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// consume 建立一次连接并读取消息直到出错。connected 表示握手是否成功。
func (s *TickerStream) consume(ctx context.Context) (connected bool, err error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()
	s.logger.Info("行情流已连接", zap.String("url", s.url))

	// ctx 结束时关闭连接以解除 ReadMessage 的阻塞
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		s.handleMessage(msg)
	}
}

func (s *TickerStream) handleMessage(msg []byte) {
	var env streamEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		s.logger.Debug("无法解析行情消息", zap.Error(err))
		return
	}
	var ev tickerEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil || ev.Symbol == "" {
		return
	}

	s.mu.Lock()
	s.tickers[ev.Symbol] = cachedTicker{
		ticker: models.Ticker{Last: parseFloat(ev.Last), Bid: parseFloat(ev.Bid), Ask: parseFloat(ev.Ask)},
		at:     s.now(),
	}
	s.mu.Unlock()
}
