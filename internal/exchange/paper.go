package exchange

import (
	"context"
	"crypto-bots-go/internal/models"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// defaultQuote 是原始市场代码没有给出计价货币时使用的资产
const defaultQuote = "USDT"

// PaperFill 记录模拟交易所的一笔成交
type PaperFill struct {
	OrderID string
	Symbol  string
	Side    models.Side
	Price   float64
	Amount  float64
	Fee     float64
	Profit  float64 // 卖出时按持仓均价计算的已实现盈亏 (已扣手续费)
	Time    time.Time
}

// Paper 是一个内存中的模拟交易所, 实现了完整的 Gateway 接口。
// 用于回测、纸面交易以及测试。行情和公开成交由调用方注入。
type Paper struct {
	FeeRate      float64 // 手续费率, 按成交额收取计价货币
	RequireFunds bool    // 为 true 时买入需要足够的计价货币

	mu          sync.Mutex
	balances    map[string]float64
	avgEntry    map[string]float64
	coins       map[string]Coin // symbol -> coin
	tickers     map[string]models.Ticker
	trades      map[string][]models.Trade
	orders      map[int64]*models.Order
	symbols     map[int64]string
	fills       []PaperFill
	equityCurve []float64
	failures    map[string][]error
	nextID      int64
	clock       time.Time
	now         func() time.Time
}

// NewPaper 创建模拟交易所, initialCash 记入 USDT 余额
func NewPaper(initialCash, feeRate float64) *Paper {
	return &Paper{
		FeeRate:  feeRate,
		balances: map[string]float64{defaultQuote: initialCash},
		avgEntry: make(map[string]float64),
		coins:    make(map[string]Coin),
		tickers:  make(map[string]models.Ticker),
		trades:   make(map[string][]models.Trade),
		orders:   make(map[int64]*models.Order),
		symbols:  make(map[int64]string),
		failures: make(map[string][]error),
		nextID:   1,
		now:      time.Now,
	}
}

// NewPaperFactory 返回为每个账户创建独立模拟交易所的工厂, onCreate 可为空
func NewPaperFactory(initialCash, feeRate float64, onCreate func(models.AccountConfig, *Paper)) Factory {
	return func(acc models.AccountConfig) (Gateway, error) {
		p := NewPaper(initialCash, feeRate)
		if onCreate != nil {
			onCreate(acc, p)
		}
		return p, nil
	}
}

// MarketFeed 是纸面账户跟随的真实行情源
type MarketFeed interface {
	TickerFetcher
	FetchRecentTrades(ctx context.Context, pair string) ([]models.Trade, error)
}

// Mirror 定期从 feed 拉取行情和公开成交, 直到 ctx 结束
func (p *Paper) Mirror(ctx context.Context, feed MarketFeed, pairs []string, every time.Duration, logger *zap.Logger) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		for _, pair := range pairs {
			if err := p.mirrorOnce(ctx, feed, pair); err != nil && ctx.Err() == nil {
				logger.Warn("同步纸面行情失败", zap.String("pair", pair), zap.Error(err))
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Paper) mirrorOnce(ctx context.Context, feed MarketFeed, pair string) error {
	t, err := feed.FetchTicker(ctx, pair)
	if err != nil {
		return err
	}
	trades, err := feed.FetchRecentTrades(ctx, pair)
	if err != nil {
		return err
	}
	if err := p.SetTicker(pair, t); err != nil {
		return err
	}
	coin, _ := ResolvePair(pair)
	p.mu.Lock()
	p.trades[coin.Symbol] = trades
	p.mu.Unlock()
	return nil
}

// SetClock 替换时间来源
func (p *Paper) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// Deposit 增加某个资产的余额
func (p *Paper) Deposit(asset string, amount float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[asset] += amount
}

// FailNext 让指定操作 (方法名, e.g. "CreateOrder") 的下一次调用返回 err。
// "EditOrder.replace" 表示改单时撤单成功、重新下单失败。
func (p *Paper) FailNext(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op] = append(p.failures[op], err)
}

// SetTicker 更新行情, 并撮合被新价格穿过的限价单
func (p *Paper) SetTicker(pair string, t models.Ticker) error {
	coin, err := ResolvePair(pair)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.coins[coin.Symbol] = coin
	p.tickers[coin.Symbol] = t
	p.matchOrders(coin.Symbol, t.Ask, t.Bid)
	return nil
}

// ReplayCandle 以 O->L->H->C 的路径回放一根K线并记录权益, 回测时使用
func (p *Paper) ReplayCandle(pair string, open, high, low, close float64, ts time.Time) error {
	coin, err := ResolvePair(pair)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.clock = ts
	p.coins[coin.Symbol] = coin
	for _, price := range []float64{open, low, high, close} {
		p.matchOrders(coin.Symbol, price, price)
	}
	p.tickers[coin.Symbol] = models.Ticker{Last: close, Bid: close, Ask: close}
	p.equityCurve = append(p.equityCurve, p.equityLocked())
	return nil
}

// AddTrades 追加公开成交记录
func (p *Paper) AddTrades(pair string, trades ...models.Trade) error {
	coin, err := ResolvePair(pair)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trades[coin.Symbol] = append(p.trades[coin.Symbol], trades...)
	return nil
}

// FillOrder 以指定价格手动成交一个挂单
func (p *Paper) FillOrder(orderID string, price float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, err := p.lookupLocked(orderID)
	if err != nil {
		return err
	}
	if order.Status != models.StatusOpen {
		return fmt.Errorf("order %s is %s", orderID, order.Status)
	}
	p.fillLocked(order, price)
	return nil
}

// CancelRemote 模拟交易所侧撤单
func (p *Paper) CancelRemote(orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, err := p.lookupLocked(orderID)
	if err != nil {
		return err
	}
	order.Status = models.StatusCanceled
	return nil
}

// OpenOrders 返回所有未成交挂单, 按ID排序
func (p *Paper) OpenOrders() []models.Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	var open []models.Order
	for _, id := range p.sortedIDs() {
		if o := p.orders[id]; o.Status == models.StatusOpen {
			open = append(open, *o)
		}
	}
	return open
}

// Fills 返回成交记录的副本
func (p *Paper) Fills() []PaperFill {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PaperFill(nil), p.fills...)
}

// EquityCurve 返回回放过程中记录的权益曲线
func (p *Paper) EquityCurve() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.equityCurve...)
}

// Holding 返回某个资产的余额
func (p *Paper) Holding(asset string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[asset]
}

// Equity 返回按最新价估值的总权益 (计价货币)
func (p *Paper) Equity() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.equityLocked()
}

func (p *Paper) equityLocked() float64 {
	equity := p.balances[defaultQuote]
	for symbol, coin := range p.coins {
		if coin.Base == "" {
			continue
		}
		equity += p.balances[coin.Base] * p.tickers[symbol].Last
	}
	return equity
}

// --- Gateway 接口实现 ---

func (p *Paper) FetchTicker(_ context.Context, pair string) (models.Ticker, error) {
	coin, err := ResolvePair(pair)
	if err != nil {
		return models.Ticker{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected("FetchTicker"); err != nil {
		return models.Ticker{}, err
	}
	t, ok := p.tickers[coin.Symbol]
	if !ok {
		return models.Ticker{}, fmt.Errorf("%w: no ticker for %s", ErrUnknownPair, coin.Symbol)
	}
	return t, nil
}

func (p *Paper) FetchRecentTrades(_ context.Context, pair string) ([]models.Trade, error) {
	coin, err := ResolvePair(pair)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected("FetchRecentTrades"); err != nil {
		return nil, err
	}
	return append([]models.Trade(nil), p.trades[coin.Symbol]...), nil
}

func (p *Paper) FetchMyTrades(_ context.Context, pair string, sinceHours int, limit int) ([]models.MyTrade, error) {
	coin, err := ResolvePair(pair)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected("FetchMyTrades"); err != nil {
		return nil, err
	}

	since := time.Time{}
	if sinceHours > 0 {
		since = p.nowLocked().Add(-time.Duration(sinceHours) * time.Hour)
	}
	var out []models.MyTrade
	for _, f := range p.fills {
		if f.Symbol != coin.Symbol || f.Time.Before(since) {
			continue
		}
		out = append(out, models.MyTrade{
			Side:        f.Side,
			Amount:      f.Amount,
			Price:       f.Price,
			Cost:        f.Price * f.Amount,
			Fee:         f.Fee,
			FeeCurrency: quoteOf(coin),
			Timestamp:   f.Time,
		})
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (p *Paper) CreateOrder(_ context.Context, pair string, price, amount float64, side models.Side, typ models.OrderType) (models.Order, error) {
	coin, err := ResolvePair(pair)
	if err != nil {
		return models.Order{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected("CreateOrder"); err != nil {
		return models.Order{}, err
	}
	if amount <= 0 {
		return models.Order{}, fmt.Errorf("invalid order amount %v", amount)
	}

	t, ok := p.tickers[coin.Symbol]
	if typ == models.Market {
		if !ok {
			return models.Order{}, fmt.Errorf("%w: no ticker for %s", ErrUnknownPair, coin.Symbol)
		}
		price = t.Ask
		if side == models.Sell {
			price = t.Bid
		}
		if price == 0 {
			price = t.Last
		}
	}
	if side == models.Buy && p.RequireFunds && price*amount*(1+p.FeeRate) > p.balances[quoteOf(coin)] {
		return models.Order{}, ErrInsufficientFunds
	}

	p.coins[coin.Symbol] = coin
	order := &models.Order{
		ID:        strconv.FormatInt(p.nextID, 10),
		Pair:      pair,
		Side:      side,
		Type:      typ,
		Status:    models.StatusOpen,
		Price:     price,
		Amount:    amount,
		Remaining: amount,
		Timestamp: p.nowLocked(),
	}
	p.orders[p.nextID] = order
	p.symbols[p.nextID] = coin.Symbol
	p.nextID++

	if typ == models.Market {
		p.fillLocked(order, price)
	} else if ok {
		p.matchOrders(coin.Symbol, t.Ask, t.Bid)
	}
	return *order, nil
}

// EditOrder 原地修改挂单, 订单ID保持不变
func (p *Paper) EditOrder(_ context.Context, pair, orderID string, price, amount float64, side models.Side, typ models.OrderType) (models.Order, error) {
	coin, err := ResolvePair(pair)
	if err != nil {
		return models.Order{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected("EditOrder"); err != nil {
		return models.Order{}, err
	}
	order, err := p.lookupLocked(orderID)
	if err != nil {
		return models.Order{}, err
	}
	if order.Status != models.StatusOpen {
		return models.Order{}, fmt.Errorf("order %s is %s", orderID, order.Status)
	}

	// 与币安一样先撤后挂: 撤单成功而新单失败时, 原订单保持已撤销
	if err := p.injected("EditOrder.replace"); err != nil {
		order.Status = models.StatusCanceled
		return models.Order{}, err
	}

	order.Price = price
	order.Amount = order.Filled + amount
	order.Remaining = amount
	order.Side = side
	order.Type = typ
	order.Timestamp = p.nowLocked()
	if t, ok := p.tickers[coin.Symbol]; ok {
		p.matchOrders(coin.Symbol, t.Ask, t.Bid)
	}
	return *order, nil
}

func (p *Paper) FetchOrder(_ context.Context, orderID, _ string) (models.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected("FetchOrder"); err != nil {
		return models.Order{}, err
	}
	order, err := p.lookupLocked(orderID)
	if err != nil {
		return models.Order{}, err
	}
	return *order, nil
}

func (p *Paper) CancelAllOrders(_ context.Context, pair string) error {
	coin, err := ResolvePair(pair)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected("CancelAllOrders"); err != nil {
		return err
	}
	for id, order := range p.orders {
		if p.symbols[id] == coin.Symbol && order.Status == models.StatusOpen {
			order.Status = models.StatusCanceled
		}
	}
	return nil
}

func (p *Paper) MinimumQuantity(pair string) (float64, error) {
	return minimumQuantity(pair)
}

func (p *Paper) Balance(_ context.Context) ([]models.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected("Balance"); err != nil {
		return nil, err
	}
	balances := make([]models.Balance, 0, len(p.balances))
	for asset, free := range p.balances {
		balances = append(balances, models.Balance{Asset: asset, Free: free})
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].Asset < balances[j].Asset })
	return balances, nil
}

// --- 内部方法, 调用前必须持有锁 ---

func (p *Paper) injected(op string) error {
	queue := p.failures[op]
	if len(queue) == 0 {
		return nil
	}
	p.failures[op] = queue[1:]
	return queue[0]
}

func (p *Paper) nowLocked() time.Time {
	if !p.clock.IsZero() {
		return p.clock
	}
	return p.now()
}

func (p *Paper) lookupLocked(orderID string) (*models.Order, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	order, ok := p.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (p *Paper) sortedIDs() []int64 {
	ids := make([]int64, 0, len(p.orders))
	for id := range p.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// matchOrders 撮合价格被穿过的限价单: 买单在 ask <= 限价时成交, 卖单在 bid >= 限价时成交
func (p *Paper) matchOrders(symbol string, ask, bid float64) {
	for _, id := range p.sortedIDs() {
		order := p.orders[id]
		if p.symbols[id] != symbol || order.Status != models.StatusOpen || order.Type != models.Limit {
			continue
		}
		if order.Side == models.Buy && ask > 0 && ask <= order.Price {
			p.fillLocked(order, order.Price)
		} else if order.Side == models.Sell && bid > 0 && bid >= order.Price {
			p.fillLocked(order, order.Price)
		}
	}
}

// fillLocked 以给定价格成交订单剩余部分并更新余额
func (p *Paper) fillLocked(order *models.Order, price float64) {
	id, _ := strconv.ParseInt(order.ID, 10, 64)
	symbol := p.symbols[id]
	coin := p.coins[symbol]
	quote := quoteOf(coin)
	base := coin.Base
	if base == "" {
		base = symbol
	}

	qty := order.Remaining
	cost := price * qty
	fee := cost * p.FeeRate
	fill := PaperFill{OrderID: order.ID, Symbol: symbol, Side: order.Side, Price: price, Amount: qty, Fee: fee, Time: p.nowLocked()}

	held := p.balances[base]
	if order.Side == models.Buy {
		if held > 0 {
			p.avgEntry[base] = (p.avgEntry[base]*held + cost) / (held + qty)
		} else {
			p.avgEntry[base] = price
		}
		p.balances[quote] -= cost + fee
		p.balances[base] = held + qty
	} else {
		// 没有持仓时卖出不计算盈亏, 只记手续费
		closed := qty
		if closed > held {
			closed = held
		}
		fill.Profit = -fee
		if closed > 1e-9 {
			fill.Profit += (price - p.avgEntry[base]) * closed
		}
		p.balances[quote] += cost - fee
		p.balances[base] = held - qty
	}

	order.Filled += qty
	order.Remaining = 0
	order.AvgPrice = price
	order.Status = models.StatusFilled
	p.fills = append(p.fills, fill)
}

func quoteOf(coin Coin) string {
	if coin.Quote == "" {
		return defaultQuote
	}
	return coin.Quote
}
