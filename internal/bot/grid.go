package bot

import (
	"context"
	"crypto-bots-go/internal/activitylog"
	"crypto-bots-go/internal/metrics"
	"crypto-bots-go/internal/models"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultNumberOfGrids     = 5
	defaultPercentagePerGrid = 0.4
	defaultGridInterval      = 10 * time.Second
	epsilon                  = 1e-9
)

// Level 是一条网格线
type Level struct {
	Value float64 `json:"value"`
	Hit   bool    `json:"hit"`
}

// GridBot 在价格每穿过一格时下一笔市价单: 向上穿过卖出, 向下穿过买入。
// 已投入数量始终保持在 [0, MaximumInvestment] 之内。
type GridBot struct {
	*runner
	deps   Deps
	params models.GridParams
	logger *zap.Logger

	mu               sync.Mutex
	startingPrice    float64
	sellGrid         []Level
	buyGrid          []Level
	lastExecutedGrid int
	lastSeenGrid     int // 最近一次处理的原始格数, 超出网格时与 lastExecutedGrid 不同
	investedFunds    float64
	lastOrderID      string
}

// NewGridBot 校验参数并创建网格机器人, 未设置的参数使用默认值
func NewGridBot(deps Deps, p models.GridParams) (*GridBot, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	if p.CoinID == "" {
		return nil, fmt.Errorf("%w: coin id is required", ErrInvalidParams)
	}
	if p.MaximumInvestment <= 0 {
		return nil, fmt.Errorf("%w: maximum investment must be positive", ErrInvalidParams)
	}
	if p.NumberOfGrids < 0 || p.PercentagePerGrid < 0 || p.StartingPrice < 0 {
		return nil, fmt.Errorf("%w: grid settings must not be negative", ErrInvalidParams)
	}
	if p.NumberOfGrids == 0 {
		p.NumberOfGrids = defaultNumberOfGrids
	}
	if p.PercentagePerGrid == 0 {
		p.PercentagePerGrid = defaultPercentagePerGrid
	}
	if p.Strategy == "" {
		p.Strategy = models.StrategyNeutral
	}

	var invested float64
	switch p.Strategy {
	case models.StrategyNeutral:
		invested = p.MaximumInvestment / 2
	case models.StrategyLong:
		invested = 0
	case models.StrategyShort:
		invested = p.MaximumInvestment
	default:
		return nil, fmt.Errorf("%w: unknown grid strategy %q", ErrInvalidParams, p.Strategy)
	}

	b := &GridBot{
		runner:        newRunner(secondsOr(p.IntervalSec, defaultGridInterval)),
		deps:          deps,
		params:        p,
		investedFunds: invested,
	}
	b.logger = deps.Logger.With(zap.String("bot", b.ID()), zap.String("uuid", b.UUID()))
	if p.StartingPrice > 0 {
		b.initGrids(p.StartingPrice)
	}
	return b, nil
}

func (b *GridBot) ID() string { return GridID(b.deps.Platform, b.deps.UserEmail, b.params.CoinID) }

func (b *GridBot) Type() models.BotType { return models.GridBot }

// Run 进入轮询循环。网格没有需要清空的库存, 软停止等同于立即停止。
func (b *GridBot) Run(ctx context.Context) error {
	b.logger.Info("启动网格机器人", zap.String("coin", b.params.CoinID), zap.Float64("maxInvestment", b.params.MaximumInvestment))
	return b.loop(ctx, b.Tick, nil, 0, b.logger)
}

// Tick 执行一次行情检查。回测时由调用方直接驱动。
func (b *GridBot) Tick(ctx context.Context) {
	ticker, err := b.deps.Gateway.FetchTicker(ctx, b.params.CoinID)
	if err != nil {
		metrics.TickErrors.WithLabelValues(string(models.GridBot), "ticker").Inc()
		b.logger.Warn("获取行情失败, 跳过本轮", zap.Error(err))
		return
	}
	price := ticker.Last
	if price <= 0 {
		b.logger.Warn("行情价格无效, 跳过本轮", zap.Float64("last", price))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.startingPrice == 0 {
		// 没有指定起始价时使用第一次取到的市场价
		b.initGrids(price)
		b.publishUpdate("initialized")
		return
	}

	current := gridLevel(price, b.startingPrice, b.params.PercentagePerGrid)
	if current != b.lastSeenGrid {
		b.executeGridOrder(ctx, current, price)
	}
}

// gridLevel 计算价格相对起始价偏离了多少格, 向零取整
func gridLevel(price, startingPrice, percentagePerGrid float64) int {
	diff := price/startingPrice - 1
	sign := 1
	if diff < 0 {
		sign = -1
	}
	return sign * int(math.Floor(math.Abs(diff)/(percentagePerGrid/100)))
}

// initGrids 以 start 为中心生成买卖两侧的网格, 所有网格线重置为未触发
func (b *GridBot) initGrids(start float64) {
	unit := start * (b.params.PercentagePerGrid / 100)
	n := b.params.NumberOfGrids
	b.startingPrice = start
	b.sellGrid = make([]Level, n)
	b.buyGrid = make([]Level, n)
	for i := 0; i < n; i++ {
		b.sellGrid[i] = Level{Value: start + unit*float64(i+1)}
		b.buyGrid[i] = Level{Value: start - unit*float64(i+1)}
	}
	b.lastExecutedGrid = 0
	b.lastSeenGrid = 0
	b.logger.Info("网格已生成",
		zap.Float64("startingPrice", start),
		zap.Any("sellGrid", levelValues(b.sellGrid)),
		zap.Any("buyGrid", levelValues(b.buyGrid)))
}

// executeGridOrder 对目标网格下单。调用前必须持有 b.mu。
func (b *GridBot) executeGridOrder(ctx context.Context, level int, price float64) {
	if level == 0 {
		b.lastExecutedGrid = 0
		b.lastSeenGrid = 0
		return
	}

	side := models.Sell
	grid, mirror := b.sellGrid, b.buyGrid
	if level < 0 {
		side = models.Buy
		grid, mirror = b.buyGrid, b.sellGrid
	}

	if allHit(grid) {
		// 这一侧已经全部触发, 以当前价重新生成网格, 本轮不下单
		b.logger.Info("网格已到达边界, 以当前价格重新生成", zap.String("side", string(side)), zap.Float64("price", price))
		b.initGrids(price)
		b.publishUpdate("regenerated")
		return
	}

	target := abs(level)
	if target > len(grid) {
		// 超出范围时取最远的未触发网格
		target = furthestUnhit(grid)
	}
	if grid[target-1].Hit {
		// 刚触发过, 等待对侧网格解锁
		return
	}

	// 沿同一方向跳过的未触发网格一并补齐
	var skipped []int
	if b.lastExecutedGrid != 0 && (b.lastExecutedGrid > 0) == (level > 0) {
		for i := abs(b.lastExecutedGrid) + 1; i < target; i++ {
			if !grid[i-1].Hit {
				skipped = append(skipped, i)
			}
		}
	}

	chunk := b.params.MaximumInvestment / float64(b.params.NumberOfGrids)
	amount := chunk * float64(1+len(skipped))

	if side == models.Buy {
		headroom := b.params.MaximumInvestment - b.investedFunds
		if amount > headroom+epsilon {
			chunks := math.Floor(headroom/chunk + epsilon)
			if chunks < 1 {
				b.logger.Info("已达到最大投入, 暂停买入直到有卖出", zap.Float64("invested", b.investedFunds))
				return
			}
			amount = chunks * chunk
			// 只有拿到资金的格子算触发, 优先保留靠近目标的格子
			funded := int(chunks) - 1
			skipped = skipped[len(skipped)-funded:]
		}
	} else if amount > b.investedFunds+epsilon {
		b.logger.Info("可卖数量不足, 暂停卖出直到有买入", zap.Float64("invested", b.investedFunds), zap.Float64("amount", amount))
		return
	}

	signed := target
	if side == models.Buy {
		signed = -target
	}
	b.logger.Info("网格下单", zap.Int("level", signed), zap.String("side", string(side)), zap.Float64("amount", amount), zap.Float64("price", price))

	order, err := b.deps.Gateway.CreateOrder(ctx, b.params.CoinID, 0, amount, side, models.Market)
	if err != nil {
		metrics.Orders.WithLabelValues(string(models.GridBot), string(side), "error").Inc()
		b.logger.Error("网格下单失败, 保持状态不变", zap.Int("level", signed), zap.Error(err))
		return
	}
	metrics.Orders.WithLabelValues(string(models.GridBot), string(side), "ok").Inc()

	if side == models.Buy {
		b.investedFunds = math.Min(b.investedFunds+amount, b.params.MaximumInvestment)
	} else {
		b.investedFunds = math.Max(b.investedFunds-amount, 0)
	}
	grid[target-1].Hit = true
	mirror[target-1].Hit = false
	for _, i := range skipped {
		grid[i-1].Hit = true
		mirror[i-1].Hit = false
	}
	b.lastExecutedGrid = signed
	b.lastSeenGrid = level
	b.lastOrderID = order.ID

	fill := price
	if order.AvgPrice > 0 {
		fill = order.AvgPrice
	}
	b.deps.Publisher.Publish(activitylog.TransactionLogged{
		UUID:            b.UUID(),
		TransactionType: side,
		Amount:          amount,
		Price:           fill,
		Pair:            b.params.CoinID,
		At:              b.deps.Clock(),
		AdditionalInfo: map[string]any{
			"level":         signed,
			"orderId":       order.ID,
			"skippedLevels": len(skipped),
			"investedFunds": b.investedFunds,
		},
	})
}

// publishUpdate 发送当前状态快照。调用前必须持有 b.mu。
func (b *GridBot) publishUpdate(reason string) {
	info := b.snapshotLocked()
	info["reason"] = reason
	b.deps.Publisher.Publish(activitylog.BotUpdated{UUID: b.UUID(), AdditionalInfo: info})
}

func (b *GridBot) Snapshot() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *GridBot) snapshotLocked() map[string]any {
	return map[string]any{
		"coinId":            b.params.CoinID,
		"strategy":          string(b.params.Strategy),
		"numberOfGrids":     b.params.NumberOfGrids,
		"percentagePerGrid": b.params.PercentagePerGrid,
		"maximumInvestment": b.params.MaximumInvestment,
		"startingPrice":     b.startingPrice,
		"lastExecutedGrid":  b.lastExecutedGrid,
		"investedFunds":     b.investedFunds,
		"lastOrderId":       b.lastOrderID,
		"sellGrid":          append([]Level(nil), b.sellGrid...),
		"buyGrid":           append([]Level(nil), b.buyGrid...),
	}
}

// InvestedFunds 返回当前已投入的数量
func (b *GridBot) InvestedFunds() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.investedFunds
}

// LastExecutedGrid 返回最近一次成交的网格 (0 表示中性)
func (b *GridBot) LastExecutedGrid() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastExecutedGrid
}

// StartingPrice 返回当前网格的中心价
func (b *GridBot) StartingPrice() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startingPrice
}

// Levels 返回两侧网格的副本
func (b *GridBot) Levels() (sell, buy []Level) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Level(nil), b.sellGrid...), append([]Level(nil), b.buyGrid...)
}

func allHit(grid []Level) bool {
	for _, l := range grid {
		if !l.Hit {
			return false
		}
	}
	return true
}

// furthestUnhit 返回最远的未触发网格 (从1开始), 没有时返回0
func furthestUnhit(grid []Level) int {
	for i := len(grid) - 1; i >= 0; i-- {
		if !grid[i].Hit {
			return i + 1
		}
	}
	return 0
}

func levelValues(grid []Level) []float64 {
	out := make([]float64, len(grid))
	for i, l := range grid {
		out[i] = l.Value
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
