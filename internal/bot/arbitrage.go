package bot

import (
	"context"
	"crypto-bots-go/internal/activitylog"
	"crypto-bots-go/internal/exchange"
	"crypto-bots-go/internal/metrics"
	"crypto-bots-go/internal/models"
	"crypto-bots-go/internal/opportunity"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultCheckInterval = 30 * time.Second

// ArbitrageBot 定期评估一个交易对环路和对比交易对之间的价差, 超过阈值时按市价成交所有腿
type ArbitrageBot struct {
	*runner
	deps   Deps
	params models.ArbitrageParams
	logger *zap.Logger

	mu   sync.Mutex
	last opportunity.Opportunity
}

func NewArbitrageBot(deps Deps, p models.ArbitrageParams) (*ArbitrageBot, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	if len(p.TradingPairs) == 0 || p.ComparePair == "" {
		return nil, fmt.Errorf("%w: trading pairs and compare pair are required", ErrInvalidParams)
	}
	if p.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidParams)
	}
	for _, id := range append(pairIDs(p.TradingPairs), p.ComparePair) {
		if _, err := exchange.ResolvePair(id); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
	}
	if p.Threshold <= 0 {
		p.Threshold = opportunity.DefaultThreshold
	}

	b := &ArbitrageBot{
		runner: newRunner(secondsOr(p.CheckIntervalSec, defaultCheckInterval)),
		deps:   deps,
		params: p,
	}
	b.logger = deps.Logger.With(zap.String("bot", b.ID()), zap.String("uuid", b.UUID()))
	return b, nil
}

func (b *ArbitrageBot) ID() string {
	return ArbitrageID(b.deps.Platform, b.deps.UserEmail, b.params.TradingPairs, b.params.ComparePair)
}

func (b *ArbitrageBot) Type() models.BotType { return models.ArbitrageBot }

func (b *ArbitrageBot) Run(ctx context.Context) error {
	b.logger.Info("启动套利机器人",
		zap.Strings("pairs", pairIDs(b.params.TradingPairs)),
		zap.String("compare", b.params.ComparePair))
	return b.loop(ctx, b.Tick, nil, 0, b.logger)
}

// Tick 重新计算一次套利机会, 超过阈值时依次下单
func (b *ArbitrageBot) Tick(ctx context.Context) {
	opp, err := opportunity.Check(ctx, b.deps.Gateway, b.params.TradingPairs, b.params.ComparePair)
	if err != nil {
		metrics.TickErrors.WithLabelValues(string(models.ArbitrageBot), "ticker").Inc()
		b.logger.Warn("计算套利机会失败, 跳过本轮", zap.Error(err))
		return
	}

	b.mu.Lock()
	b.last = opp
	b.mu.Unlock()

	switch {
	case opp.Positive(b.params.Threshold):
		// 环路价格偏低: 卖出环路中的交易对, 买入对比交易对
		b.logger.Info("发现正向套利机会", zap.Float64("positiveOpp", opp.PositiveOpp))
		for _, pair := range b.params.TradingPairs {
			amount := b.params.Amount * (opp.ComparePair.Ask / opp.Tickers[pair.ID].Bid)
			b.placeLeg(ctx, pair.ID, amount, models.Sell, opp)
		}
		b.placeLeg(ctx, b.params.ComparePair, b.params.Amount, models.Buy, opp)
	case opp.Negative(b.params.Threshold):
		b.logger.Info("发现反向套利机会", zap.Float64("negativeOpp", opp.NegativeOpp))
		for _, pair := range b.params.TradingPairs {
			amount := b.params.Amount * (opp.ComparePair.Bid / opp.Tickers[pair.ID].Ask)
			b.placeLeg(ctx, pair.ID, amount, models.Buy, opp)
		}
		b.placeLeg(ctx, b.params.ComparePair, b.params.Amount, models.Sell, opp)
	default:
		b.logger.Debug("没有达到阈值的套利机会",
			zap.Float64("positiveOpp", opp.PositiveOpp),
			zap.Float64("negativeOpp", opp.NegativeOpp))
	}
}

// placeLeg 下一条腿的市价单, 失败只记录日志, 其余的腿照常执行
func (b *ArbitrageBot) placeLeg(ctx context.Context, pair string, amount float64, side models.Side, opp opportunity.Opportunity) {
	order, err := b.deps.Gateway.CreateOrder(ctx, pair, 0, amount, side, models.Market)
	if err != nil {
		metrics.Orders.WithLabelValues(string(models.ArbitrageBot), string(side), "error").Inc()
		b.logger.Error("套利下单失败", zap.String("pair", pair), zap.String("side", string(side)), zap.Float64("amount", amount), zap.Error(err))
		return
	}
	metrics.Orders.WithLabelValues(string(models.ArbitrageBot), string(side), "ok").Inc()

	b.deps.Publisher.Publish(activitylog.TransactionLogged{
		UUID:            b.UUID(),
		TransactionType: side,
		Amount:          amount,
		Price:           order.AvgPrice,
		Pair:            pair,
		At:              b.deps.Clock(),
		AdditionalInfo: map[string]any{
			"orderId":     order.ID,
			"positiveOpp": opp.PositiveOpp,
			"negativeOpp": opp.NegativeOpp,
		},
	})
}

func (b *ArbitrageBot) Snapshot() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]any{
		"tradingPairs": pairIDs(b.params.TradingPairs),
		"comparePair":  b.params.ComparePair,
		"amount":       b.params.Amount,
		"threshold":    b.params.Threshold,
		"positiveOpp":  b.last.PositiveOpp,
		"negativeOpp":  b.last.NegativeOpp,
	}
}

func pairIDs(pairs []models.TradingPair) []string {
	ids := make([]string, 0, len(pairs))
	for _, p := range pairs {
		ids = append(ids, p.ID)
	}
	return ids
}
