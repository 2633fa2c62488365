// Package tracker 维护 机器人ID -> 运行实例 的注册表, 负责启动/停止/替换机器人。
package tracker

import (
	"context"
	"crypto-bots-go/internal/activitylog"
	"crypto-bots-go/internal/bot"
	"crypto-bots-go/internal/exchange"
	"crypto-bots-go/internal/metrics"
	"crypto-bots-go/internal/models"
	"crypto-bots-go/internal/opportunity"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// ErrShuttingDown 表示注册表已经关闭, 不再接受新的机器人
var ErrShuttingDown = errors.New("tracker is shutting down")

// StartRequest 启动一个机器人所需的全部信息
type StartRequest struct {
	UserEmail    string
	UserID       int64
	BotType      models.BotType
	PlatformName string
	Gateway      exchange.Gateway
	Params       models.BotParams
}

// StopRequest 用于重新计算机器人ID并停止它
type StopRequest struct {
	UserEmail    string
	BotType      models.BotType
	PlatformName string
	Params       models.BotParams
	Soft         bool
}

// Status 是 List 返回的单个机器人状态
type Status struct {
	ID        string
	UUID      string
	Type      models.BotType
	State     bot.State
	UserEmail string
	Platform  string
	StartedAt time.Time
	Snapshot  map[string]any
}

type entry struct {
	bot       bot.Bot
	userEmail string
	platform  string
	startedAt time.Time
	stopped   bool
}

// Tracker 保证同一个ID最多只有一个活跃实例。
// 每个机器人运行在自己的 goroutine 中, 注册表本身不持有任何交易状态。
type Tracker struct {
	mu        sync.Mutex
	bots      map[string]*entry
	closed    bool
	publisher activitylog.Publisher
	logger    *zap.Logger
	clock     func() time.Time

	wg     conc.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func New(publisher activitylog.Publisher, logger *zap.Logger) *Tracker {
	if publisher == nil {
		publisher = activitylog.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		bots:      make(map[string]*entry),
		publisher: publisher,
		logger:    logger,
		clock:     time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// StartBotForUser 构造并启动机器人。参数错误在注册之前返回;
// 已存在相同ID的实例会先被停止再被替换。
func (t *Tracker) StartBotForUser(ctx context.Context, req StartRequest) (bot.Bot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := bot.New(bot.Deps{
		UserEmail: req.UserEmail,
		UserID:    req.UserID,
		Platform:  req.PlatformName,
		Gateway:   req.Gateway,
		Publisher: t.publisher,
		Logger:    t.logger,
		Clock:     t.clock,
	}, req.BotType, req.Params)
	if err != nil {
		metrics.BotStarts.WithLabelValues(string(req.BotType), "error").Inc()
		return nil, fmt.Errorf("start %s bot for %s: %w", req.BotType, req.UserEmail, err)
	}

	id := b.ID()
	e := &entry{bot: b, userEmail: req.UserEmail, platform: req.PlatformName, startedAt: t.clock()}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		metrics.BotStarts.WithLabelValues(string(req.BotType), "error").Inc()
		return nil, ErrShuttingDown
	}
	if old, ok := t.bots[id]; ok {
		t.logger.Info("已存在相同ID的机器人, 停止旧实例", zap.String("id", id), zap.String("oldUUID", old.bot.UUID()))
		t.stopLocked(old, false)
	}
	t.bots[id] = e

	info := b.Snapshot()
	info["id"] = id
	t.publisher.Publish(activitylog.BotCreated{
		UUID:           b.UUID(),
		UserID:         req.UserID,
		BotType:        req.BotType,
		PlatformName:   req.PlatformName,
		AdditionalInfo: info,
	})
	metrics.BotStarts.WithLabelValues(string(req.BotType), "ok").Inc()
	metrics.ActiveBots.WithLabelValues(string(req.BotType)).Inc()

	// 在锁内启动, 保证 Shutdown 的 Wait 能看到这个 goroutine
	t.wg.Go(func() {
		defer metrics.ActiveBots.WithLabelValues(string(req.BotType)).Dec()
		if err := b.Run(t.ctx); err != nil {
			t.logger.Error("机器人异常退出", zap.String("id", id), zap.Error(err))
		}
		t.mu.Lock()
		// 被替换的旧实例退出时不能删除新实例
		if cur, ok := t.bots[id]; ok && cur == e {
			delete(t.bots, id)
		}
		t.mu.Unlock()
		t.logger.Info("机器人已退出", zap.String("id", id), zap.String("uuid", b.UUID()))
	})
	t.mu.Unlock()

	t.logger.Info("机器人已启动", zap.String("id", id), zap.String("uuid", b.UUID()))
	return b, nil
}

// StopBotForUser 停止参数对应的机器人。ID不存在时返回 (false, nil)。
func (t *Tracker) StopBotForUser(req StopRequest) (bool, error) {
	id, err := bot.IdentityFor(req.BotType, req.PlatformName, req.UserEmail, req.Params)
	if err != nil {
		return false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.bots[id]
	if !ok {
		t.logger.Info("没有找到要停止的机器人", zap.String("id", id))
		return false, nil
	}
	t.stopLocked(e, req.Soft)
	t.logger.Info("机器人停止中", zap.String("id", id), zap.Bool("soft", req.Soft))
	return true, nil
}

// stopLocked 停止实例并发出一次 BotStopped。调用前必须持有 t.mu。
func (t *Tracker) stopLocked(e *entry, soft bool) {
	e.bot.Stop(soft)
	if e.stopped {
		return
	}
	e.stopped = true
	t.publisher.Publish(activitylog.BotStopped{UUID: e.bot.UUID()})
}

// Lookup 按ID查找正在运行 (或正在软停止) 的机器人
func (t *Tracker) Lookup(id string) (bot.Bot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.bots[id]
	if !ok {
		return nil, false
	}
	return e.bot, true
}

// Len 返回已注册的机器人数量
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.bots)
}

// List 返回所有已注册机器人的状态, 按ID排序
func (t *Tracker) List() []Status {
	t.mu.Lock()
	entries := make(map[string]*entry, len(t.bots))
	for id, e := range t.bots {
		entries[id] = e
	}
	t.mu.Unlock()

	out := make([]Status, 0, len(entries))
	for id, e := range entries {
		out = append(out, Status{
			ID:        id,
			UUID:      e.bot.UUID(),
			Type:      e.bot.Type(),
			State:     e.bot.State(),
			UserEmail: e.userEmail,
			Platform:  e.platform,
			StartedAt: e.startedAt,
			Snapshot:  e.bot.Snapshot(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CheckOpportunity 只读地计算一次套利机会, 不下任何订单
func (t *Tracker) CheckOpportunity(ctx context.Context, fetcher exchange.TickerFetcher, pairs []models.TradingPair, compare string) (opportunity.Opportunity, error) {
	return opportunity.Check(ctx, fetcher, pairs, compare)
}

// Shutdown 停止所有机器人并等待它们退出。
// ctx 到期后取消所有循环 (硬停止), 等它们退出后返回 ctx 的错误。
func (t *Tracker) Shutdown(ctx context.Context, soft bool) error {
	t.mu.Lock()
	t.closed = true
	for _, e := range t.bots {
		t.stopLocked(e, soft)
	}
	n := len(t.bots)
	t.mu.Unlock()
	t.logger.Info("正在停止所有机器人", zap.Int("count", n), zap.Bool("soft", soft))

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	defer t.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		t.logger.Warn("等待机器人退出超时, 强制取消")
		t.cancel()
		<-done
		return fmt.Errorf("tracker shutdown: %w", ctx.Err())
	}
}
