package bot

import (
	"context"
	"crypto-bots-go/internal/activitylog"
	"crypto-bots-go/internal/metrics"
	"crypto-bots-go/internal/models"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMinTradeNotional = 5.0
	defaultMargin           = 0.006
	defaultStaleAfter       = time.Minute
	defaultSoftStopTimeout  = 30 * time.Minute
	defaultSpreadInterval   = 10 * time.Second

	spreadEpsilon      = 0.001
	repriceSellMarkup  = 0.005
	repriceBuyDiscount = 0.007
	repriceBuyEpsilon  = 0.0001

	relevantTradeCount = 10
	trendWindow        = 5
)

// openOrder 是机器人当前唯一的挂单
type openOrder struct {
	CoinID     string
	Amount     float64
	OrderID    string
	Price      float64
	Side       models.Side
	PlacedAt   time.Time
	fillLogged bool
}

// MarketSpreadBot 根据近期成交挂限价买单, 买单成交后在成交价之上挂卖单赚取价差
type MarketSpreadBot struct {
	*runner
	deps            Deps
	params          models.MarketSpreadParams
	minQty          float64
	staleAfter      time.Duration
	softStopTimeout time.Duration
	logger          *zap.Logger

	mu   sync.Mutex
	open *openOrder
}

func NewMarketSpreadBot(deps Deps, p models.MarketSpreadParams) (*MarketSpreadBot, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	if p.CoinID == "" {
		return nil, fmt.Errorf("%w: coin id is required", ErrInvalidParams)
	}
	if p.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidParams)
	}
	if p.Margin < 0 || p.MinTradeNotional < 0 {
		return nil, fmt.Errorf("%w: margin and notional must not be negative", ErrInvalidParams)
	}
	minQty, err := deps.Gateway.MinimumQuantity(p.CoinID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if p.Amount < minQty {
		p.Amount = minQty
	}
	if p.MinTradeNotional == 0 {
		p.MinTradeNotional = defaultMinTradeNotional
	}
	if p.Margin == 0 {
		p.Margin = defaultMargin
	}

	b := &MarketSpreadBot{
		runner:          newRunner(secondsOr(p.IntervalSec, defaultSpreadInterval)),
		deps:            deps,
		params:          p,
		minQty:          minQty,
		staleAfter:      secondsOr(p.StaleAfterSec, defaultStaleAfter),
		softStopTimeout: secondsOr(p.SoftStopTimeoutSec, defaultSoftStopTimeout),
	}
	b.logger = deps.Logger.With(zap.String("bot", b.ID()), zap.String("uuid", b.UUID()))
	return b, nil
}

func (b *MarketSpreadBot) ID() string {
	return MarketSpreadID(b.deps.Platform, b.deps.UserEmail, b.params.CoinID)
}

func (b *MarketSpreadBot) Type() models.BotType { return models.MarketSpreadBot }

func (b *MarketSpreadBot) Run(ctx context.Context) error {
	b.logger.Info("启动做市价差机器人", zap.String("coin", b.params.CoinID), zap.Float64("amount", b.params.Amount))
	return b.loop(ctx, b.Tick, b.Drain, b.softStopTimeout, b.logger)
}

// Tick 没有挂单时评估是否买入, 有挂单时检查挂单状态
func (b *MarketSpreadBot) Tick(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.open == nil {
		if b.Running() {
			b.checkMarketForBuy(ctx)
		}
		return
	}
	b.checkOpenOrder(ctx)
}

// Drain 是软停止阶段的一步: 撤掉未成交的买单, 继续推动卖单成交。
// 返回 true 表示仍有卖单需要等待。
func (b *MarketSpreadBot) Drain(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.open == nil {
		return false
	}
	b.checkOpenOrder(ctx)
	if b.open == nil {
		return false
	}
	if b.open.Side == models.Sell {
		return true
	}

	if err := b.deps.Gateway.CancelAllOrders(ctx, b.params.CoinID); err != nil {
		b.logger.Warn("软停止时撤销买单失败, 下一轮重试", zap.String("orderId", b.open.OrderID), zap.Error(err))
		return true
	}
	b.logger.Info("软停止: 已撤销未成交的买单", zap.String("orderId", b.open.OrderID))
	b.open = nil
	b.publishUpdate("buy canceled")
	return false
}

func (b *MarketSpreadBot) checkMarketForBuy(ctx context.Context) {
	ticker, err := b.deps.Gateway.FetchTicker(ctx, b.params.CoinID)
	if err != nil {
		metrics.TickErrors.WithLabelValues(string(models.MarketSpreadBot), "ticker").Inc()
		b.logger.Warn("获取行情失败, 跳过本轮", zap.Error(err))
		return
	}
	trades, err := b.relevantTrades(ctx, ticker.Bid)
	if err != nil {
		metrics.TickErrors.WithLabelValues(string(models.MarketSpreadBot), "trades").Inc()
		b.logger.Warn("获取近期成交失败, 跳过本轮", zap.Error(err))
		return
	}
	if len(trades) < relevantTradeCount {
		b.logger.Debug("有效成交不足, 暂不买入", zap.Int("count", len(trades)))
		return
	}
	if b.params.TrendFilter && !assessTrend(trades, b.deps.Clock()) {
		b.logger.Info("市场趋势向下, 推迟买入直到行情稳定")
		return
	}

	avg := averagePrice(trades[len(trades)-relevantTradeCount:])
	price := buyPrice(ticker.Bid, avg, b.params.Margin)

	b.logger.Info("挂限价买单", zap.Float64("price", price), zap.Float64("amount", b.params.Amount), zap.Float64("avg", avg))
	order, err := b.deps.Gateway.CreateOrder(ctx, b.params.CoinID, price, b.params.Amount, models.Buy, models.Limit)
	if err != nil {
		metrics.Orders.WithLabelValues(string(models.MarketSpreadBot), string(models.Buy), "error").Inc()
		b.logger.Error("创建买单失败", zap.Error(err))
		return
	}
	metrics.Orders.WithLabelValues(string(models.MarketSpreadBot), string(models.Buy), "ok").Inc()

	b.open = &openOrder{
		CoinID:   b.params.CoinID,
		Amount:   b.params.Amount,
		OrderID:  order.ID,
		Price:    price,
		Side:     models.Buy,
		PlacedAt: b.deps.Clock(),
	}
	b.publishUpdate("buy placed")
}

func (b *MarketSpreadBot) checkOpenOrder(ctx context.Context) {
	remote, err := b.deps.Gateway.FetchOrder(ctx, b.open.OrderID, b.params.CoinID)
	if err != nil {
		metrics.TickErrors.WithLabelValues(string(models.MarketSpreadBot), "order").Inc()
		b.logger.Warn("查询订单失败, 跳过本轮", zap.String("orderId", b.open.OrderID), zap.Error(err))
		return
	}

	switch remote.Status {
	case models.StatusFilled:
		b.reactToExecutedOrder(ctx, remote)
	case models.StatusCanceled:
		b.reactToCanceledOrder(ctx, remote)
	default:
		b.adjustOpenOrder(ctx, remote)
	}
}

func (b *MarketSpreadBot) reactToExecutedOrder(ctx context.Context, remote models.Order) {
	fill := remote.AvgPrice
	if fill <= 0 {
		fill = b.open.Price
	}
	amount := remote.Filled
	if amount <= 0 {
		amount = b.open.Amount
	}

	if !b.open.fillLogged {
		b.publishTransaction(b.open.Side, amount, fill, remote.ID)
		b.open.fillLogged = true
	}

	if b.open.Side == models.Sell {
		b.logger.Info("卖单已成交", zap.String("orderId", remote.ID), zap.Float64("price", fill))
		b.open = nil
		b.publishUpdate("sell filled")
		return
	}

	b.logger.Info("买单已成交, 挂出对应的卖单", zap.String("orderId", remote.ID), zap.Float64("price", fill))
	b.placeSell(ctx, amount, fill*(1+b.params.Margin), "sell placed")
}

// reactToCanceledOrder 处理在交易所被撤销的挂单。手里的币不能丢下:
// 卖单 (包括改单时撤单成功、新单失败的情况) 按剩余数量重新挂出,
// 部分成交后被撤的买单按已成交数量挂卖单。
func (b *MarketSpreadBot) reactToCanceledOrder(ctx context.Context, remote models.Order) {
	b.logger.Warn("挂单已在交易所被撤销", zap.String("orderId", remote.ID), zap.String("side", string(b.open.Side)), zap.Float64("filled", remote.Filled))

	if b.open.Side == models.Buy {
		if remote.Filled > epsilon {
			b.reactToExecutedOrder(ctx, remote)
			return
		}
		b.open = nil
		b.publishUpdate("canceled remotely")
		return
	}

	remaining := b.open.Amount
	if remote.Amount > 0 {
		remaining = remote.Amount - remote.Filled
	}
	if remote.Filled > epsilon && !b.open.fillLogged {
		fill := remote.AvgPrice
		if fill <= 0 {
			fill = b.open.Price
		}
		b.publishTransaction(models.Sell, remote.Filled, fill, remote.ID)
		b.open.fillLogged = true
	}
	if remaining <= epsilon {
		b.open = nil
		b.publishUpdate("sell filled")
		return
	}
	b.placeSell(ctx, math.Max(remaining, b.minQty), b.open.Price, "sell replaced")
}

// placeSell 以不低于 floor 的价格挂出卖单并占用挂单槽位。
// 失败时保留原槽位, 下一轮重新评估。
func (b *MarketSpreadBot) placeSell(ctx context.Context, amount, floor float64, reason string) {
	ticker, err := b.deps.Gateway.FetchTicker(ctx, b.params.CoinID)
	if err != nil {
		metrics.TickErrors.WithLabelValues(string(models.MarketSpreadBot), "ticker").Inc()
		b.logger.Warn("获取行情失败, 下一轮再挂卖单", zap.Error(err))
		return
	}
	price := math.Max(floor, ticker.Ask-spreadEpsilon)
	order, err := b.deps.Gateway.CreateOrder(ctx, b.params.CoinID, price, amount, models.Sell, models.Limit)
	if err != nil {
		metrics.Orders.WithLabelValues(string(models.MarketSpreadBot), string(models.Sell), "error").Inc()
		b.logger.Error("创建卖单失败, 下一轮重试", zap.Error(err))
		return
	}
	metrics.Orders.WithLabelValues(string(models.MarketSpreadBot), string(models.Sell), "ok").Inc()

	b.open = &openOrder{
		CoinID:   b.params.CoinID,
		Amount:   amount,
		OrderID:  order.ID,
		Price:    price,
		Side:     models.Sell,
		PlacedAt: b.deps.Clock(),
	}
	b.publishUpdate(reason)
}

// adjustOpenOrder 对超时未成交的挂单原地改价
func (b *MarketSpreadBot) adjustOpenOrder(ctx context.Context, remote models.Order) {
	placed := remote.Timestamp
	if placed.IsZero() {
		placed = b.open.PlacedAt
	}
	if b.deps.Clock().Sub(placed) < b.staleAfter {
		return
	}
	if b.open.Side == models.Buy && !b.Running() {
		return
	}

	ticker, err := b.deps.Gateway.FetchTicker(ctx, b.params.CoinID)
	if err != nil {
		metrics.TickErrors.WithLabelValues(string(models.MarketSpreadBot), "ticker").Inc()
		b.logger.Warn("获取行情失败, 暂不改价", zap.Error(err))
		return
	}
	trades, err := b.relevantTrades(ctx, ticker.Bid)
	if err != nil || len(trades) == 0 {
		metrics.TickErrors.WithLabelValues(string(models.MarketSpreadBot), "trades").Inc()
		b.logger.Warn("没有可用的近期成交, 暂不改价", zap.Error(err))
		return
	}
	if len(trades) > relevantTradeCount {
		trades = trades[len(trades)-relevantTradeCount:]
	}
	avg := averagePrice(trades)

	var price float64
	if b.open.Side == models.Sell {
		price = math.Max(avg*(1+repriceSellMarkup), ticker.Ask-spreadEpsilon)
	} else {
		price = math.Min(ticker.Bid+repriceBuyEpsilon, avg*(1-repriceBuyDiscount))
	}
	amount := math.Max(remote.Remaining, b.minQty)

	b.logger.Info("挂单长时间未成交, 调整价格",
		zap.String("side", string(b.open.Side)),
		zap.String("orderId", b.open.OrderID),
		zap.Float64("oldPrice", b.open.Price),
		zap.Float64("newPrice", price))
	order, err := b.deps.Gateway.EditOrder(ctx, b.params.CoinID, b.open.OrderID, price, amount, b.open.Side, models.Limit)
	if err != nil {
		metrics.Orders.WithLabelValues(string(models.MarketSpreadBot), string(b.open.Side), "error").Inc()
		b.logger.Error("调整挂单失败", zap.Error(err))
		return
	}

	b.open.OrderID = order.ID
	b.open.Price = price
	b.open.Amount = amount
	b.open.PlacedAt = b.deps.Clock()
	b.publishUpdate("repriced")
}

// relevantTrades 返回名义价值不低于阈值的成交, 按时间升序
func (b *MarketSpreadBot) relevantTrades(ctx context.Context, bid float64) ([]models.Trade, error) {
	trades, err := b.deps.Gateway.FetchRecentTrades(ctx, b.params.CoinID)
	if err != nil {
		return nil, err
	}
	threshold := 0.0
	if bid > 0 {
		threshold = b.params.MinTradeNotional / bid
	}
	out := make([]models.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Amount >= threshold {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (b *MarketSpreadBot) publishTransaction(side models.Side, amount, price float64, orderID string) {
	b.deps.Publisher.Publish(activitylog.TransactionLogged{
		UUID:            b.UUID(),
		TransactionType: side,
		Amount:          amount,
		Price:           price,
		Pair:            b.params.CoinID,
		At:              b.deps.Clock(),
		AdditionalInfo:  map[string]any{"orderId": orderID},
	})
}

func (b *MarketSpreadBot) publishUpdate(reason string) {
	info := b.snapshotLocked()
	info["reason"] = reason
	b.deps.Publisher.Publish(activitylog.BotUpdated{UUID: b.UUID(), AdditionalInfo: info})
}

func (b *MarketSpreadBot) Snapshot() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *MarketSpreadBot) snapshotLocked() map[string]any {
	info := map[string]any{
		"coinId": b.params.CoinID,
		"amount": b.params.Amount,
		"margin": b.params.Margin,
	}
	if b.open != nil {
		info["openOrder"] = map[string]any{
			"orderId": b.open.OrderID,
			"side":    string(b.open.Side),
			"price":   b.open.Price,
			"amount":  b.open.Amount,
		}
	}
	return info
}

// currentOrder 返回当前挂单的副本, 没有挂单时 ok 为 false
func (b *MarketSpreadBot) currentOrder() (order openOrder, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open == nil {
		return openOrder{}, false
	}
	return *b.open, true
}

func buyPrice(bid, avg, margin float64) float64 {
	return math.Min(bid+spreadEpsilon, avg*(1-margin))
}

func averagePrice(trades []models.Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	var sum float64
	for _, t := range trades {
		sum += t.Price
	}
	return sum / float64(len(trades))
}

// assessTrend 把最近5分钟的成交按分钟分组。
// 有效分组少于4个, 或最近一段下跌且之前最多只有一次上涨时, 返回 false。
func assessTrend(trades []models.Trade, now time.Time) bool {
	var sums [trendWindow]float64
	var counts [trendWindow]int
	for _, t := range trades {
		age := now.Sub(t.Timestamp)
		if age < 0 || age >= trendWindow*time.Minute {
			continue
		}
		idx := int(age / time.Minute)
		sums[idx] += t.Price
		counts[idx]++
	}

	// 从最早的一分钟到最近的一分钟
	var averages []float64
	for i := trendWindow - 1; i >= 0; i-- {
		if counts[i] > 0 {
			averages = append(averages, sums[i]/float64(counts[i]))
		}
	}
	if len(averages) < trendWindow-1 {
		return false
	}

	n := len(averages)
	if averages[n-1] >= averages[n-2] {
		return true
	}
	ups := 0
	for i := 0; i < n-2; i++ {
		if averages[i] < averages[i+1] {
			ups++
		}
	}
	return ups > 1
}
