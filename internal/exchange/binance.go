package exchange

import (
	"context"
	"crypto-bots-go/internal/models"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// 币安 "Unknown order sent" 错误码, 撤销不存在的挂单时返回
const binanceErrUnknownOrder = -2011

// BinanceGateway 基于 go-binance 的现货网关实现
type BinanceGateway struct {
	client *binance.Client
	stream *TickerStream // 可选, 有缓存时优先使用
	logger *zap.Logger
}

// NewBinanceGateway 创建币安网关。baseURL 为空时使用 go-binance 默认地址。
func NewBinanceGateway(apiKey, secretKey, baseURL string, stream *TickerStream, logger *zap.Logger) *BinanceGateway {
	client := binance.NewClient(apiKey, secretKey)
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &BinanceGateway{client: client, stream: stream, logger: logger}
}

// NewBinanceFactory 返回一个按账户构造币安网关的工厂, 凭证从环境变量读取并套上限速
func NewBinanceFactory(cfg models.BinanceConfig, stream *TickerStream, logger *zap.Logger) Factory {
	return func(acc models.AccountConfig) (Gateway, error) {
		apiKey := os.Getenv(acc.APIKeyEnv)
		secretKey := os.Getenv(acc.SecretKeyEnv)
		if acc.APIKeyEnv == "" || acc.SecretKeyEnv == "" || apiKey == "" || secretKey == "" {
			return nil, fmt.Errorf("%w: account %s on %s", ErrMissingCredentials, acc.UserEmail, acc.Platform)
		}
		gw := NewBinanceGateway(apiKey, secretKey, cfg.BaseURL, stream, logger.With(zap.String("user", acc.UserEmail)))
		return NewRateLimited(gw, cfg.RequestsPerSecond, cfg.Burst), nil
	}
}

// FetchTicker 获取最新价与买一卖一价
func (g *BinanceGateway) FetchTicker(ctx context.Context, pair string) (models.Ticker, error) {
	coin, err := ResolvePair(pair)
	if err != nil {
		return models.Ticker{}, err
	}
	if g.stream != nil {
		if t, ok := g.stream.Ticker(coin.Symbol); ok {
			return t, nil
		}
	}

	books, err := g.client.NewListBookTickersService().Symbol(coin.Symbol).Do(ctx)
	if err != nil {
		return models.Ticker{}, fmt.Errorf("fetch book ticker %s: %w", coin.Symbol, err)
	}
	if len(books) == 0 {
		return models.Ticker{}, fmt.Errorf("%w: no book ticker for %s", ErrUnknownPair, coin.Symbol)
	}
	prices, err := g.client.NewListPricesService().Symbol(coin.Symbol).Do(ctx)
	if err != nil {
		return models.Ticker{}, fmt.Errorf("fetch price %s: %w", coin.Symbol, err)
	}

	t := models.Ticker{Bid: parseFloat(books[0].BidPrice), Ask: parseFloat(books[0].AskPrice)}
	if len(prices) > 0 {
		t.Last = parseFloat(prices[0].Price)
	}
	return t, nil
}

// FetchRecentTrades 获取最近的公开成交, 按时间升序
func (g *BinanceGateway) FetchRecentTrades(ctx context.Context, pair string) ([]models.Trade, error) {
	coin, err := ResolvePair(pair)
	if err != nil {
		return nil, err
	}
	raw, err := g.client.NewRecentTradesService().Symbol(coin.Symbol).Limit(500).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch recent trades %s: %w", coin.Symbol, err)
	}
	trades := make([]models.Trade, 0, len(raw))
	for _, t := range raw {
		trades = append(trades, models.Trade{
			Amount:    parseFloat(t.Quantity),
			Price:     parseFloat(t.Price),
			Timestamp: time.UnixMilli(t.Time),
		})
	}
	return trades, nil
}

// FetchMyTrades 获取过去 sinceHours 小时内用户自己的成交
func (g *BinanceGateway) FetchMyTrades(ctx context.Context, pair string, sinceHours int, limit int) ([]models.MyTrade, error) {
	coin, err := ResolvePair(pair)
	if err != nil {
		return nil, err
	}
	svc := g.client.NewListTradesService().Symbol(coin.Symbol)
	if sinceHours > 0 {
		svc = svc.StartTime(time.Now().Add(-time.Duration(sinceHours) * time.Hour).UnixMilli())
	}
	if limit > 0 {
		svc = svc.Limit(limit)
	}
	raw, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch my trades %s: %w", coin.Symbol, err)
	}

	trades := make([]models.MyTrade, 0, len(raw))
	for _, t := range raw {
		side := models.Sell
		if t.IsBuyer {
			side = models.Buy
		}
		trades = append(trades, models.MyTrade{
			Side:        side,
			Amount:      parseFloat(t.Quantity),
			Price:       parseFloat(t.Price),
			Cost:        parseFloat(t.QuoteQuantity),
			Fee:         parseFloat(t.Commission),
			FeeCurrency: t.CommissionAsset,
			Timestamp:   time.UnixMilli(t.Time),
		})
	}
	return trades, nil
}

// CreateOrder 下单。数量按最小下单量截断, 限价单价格按币种精度取整。
func (g *BinanceGateway) CreateOrder(ctx context.Context, pair string, price, amount float64, side models.Side, typ models.OrderType) (models.Order, error) {
	coin, err := ResolvePair(pair)
	if err != nil {
		return models.Order{}, err
	}

	svc := g.client.NewCreateOrderService().
		Symbol(coin.Symbol).
		Side(toBinanceSide(side)).
		Quantity(formatQuantity(amount, coin.MinimumQuantity))
	if typ == models.Market {
		svc = svc.Type(binance.OrderTypeMarket)
	} else {
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(formatPrice(price, coin.PriceDecimals))
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return models.Order{}, fmt.Errorf("create %s %s order on %s: %w", side, typ, coin.Symbol, err)
	}

	order := models.Order{
		ID:        strconv.FormatInt(res.OrderID, 10),
		Pair:      pair,
		Side:      side,
		Type:      typ,
		Status:    fromBinanceStatus(res.Status),
		Price:     parseFloat(res.Price),
		Amount:    parseFloat(res.OrigQuantity),
		Filled:    parseFloat(res.ExecutedQuantity),
		Timestamp: time.UnixMilli(res.TransactTime),
	}
	order.Remaining = order.Amount - order.Filled
	if order.Filled > 0 {
		order.AvgPrice = parseFloat(res.CummulativeQuoteQuantity) / order.Filled
	}
	return order, nil
}

// EditOrder 改单: 币安现货不支持原地修改, 这里撤销旧单后以新价格和数量重新挂单
func (g *BinanceGateway) EditOrder(ctx context.Context, pair, orderID string, price, amount float64, side models.Side, typ models.OrderType) (models.Order, error) {
	coin, err := ResolvePair(pair)
	if err != nil {
		return models.Order{}, err
	}
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return models.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if _, err := g.client.NewCancelOrderService().Symbol(coin.Symbol).OrderID(id).Do(ctx); err != nil {
		return models.Order{}, fmt.Errorf("cancel order %s for edit: %w", orderID, err)
	}
	return g.CreateOrder(ctx, pair, price, amount, side, typ)
}

// FetchOrder 查询订单状态
func (g *BinanceGateway) FetchOrder(ctx context.Context, orderID, pair string) (models.Order, error) {
	coin, err := ResolvePair(pair)
	if err != nil {
		return models.Order{}, err
	}
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return models.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	res, err := g.client.NewGetOrderService().Symbol(coin.Symbol).OrderID(id).Do(ctx)
	if err != nil {
		return models.Order{}, fmt.Errorf("fetch order %s: %w", orderID, err)
	}

	order := models.Order{
		ID:        orderID,
		Pair:      pair,
		Side:      models.Side(strings.ToLower(string(res.Side))),
		Type:      models.OrderType(strings.ToLower(string(res.Type))),
		Status:    fromBinanceStatus(res.Status),
		Price:     parseFloat(res.Price),
		Amount:    parseFloat(res.OrigQuantity),
		Filled:    parseFloat(res.ExecutedQuantity),
		Timestamp: time.UnixMilli(res.Time),
	}
	order.Remaining = order.Amount - order.Filled
	if order.Filled > 0 {
		order.AvgPrice = parseFloat(res.CummulativeQuoteQuantity) / order.Filled
	}
	return order, nil
}

// CancelAllOrders 撤销该交易对的所有挂单, 没有挂单不视为错误
func (g *BinanceGateway) CancelAllOrders(ctx context.Context, pair string) error {
	coin, err := ResolvePair(pair)
	if err != nil {
		return err
	}
	_, err = g.client.NewCancelOpenOrdersService().Symbol(coin.Symbol).Do(ctx)
	var apiErr *common.APIError
	if errors.As(err, &apiErr) && apiErr.Code == binanceErrUnknownOrder {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cancel open orders %s: %w", coin.Symbol, err)
	}
	return nil
}

// MinimumQuantity 返回币种的最小下单量
func (g *BinanceGateway) MinimumQuantity(pair string) (float64, error) {
	return minimumQuantity(pair)
}

// Balance 返回账户中非零余额
func (g *BinanceGateway) Balance(ctx context.Context) ([]models.Balance, error) {
	account, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}
	balances := make([]models.Balance, 0, len(account.Balances))
	for _, b := range account.Balances {
		free, locked := parseFloat(b.Free), parseFloat(b.Locked)
		if free == 0 && locked == 0 {
			continue
		}
		balances = append(balances, models.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return balances, nil
}

func minimumQuantity(pair string) (float64, error) {
	coin, err := ResolvePair(pair)
	if err != nil {
		return 0, err
	}
	if coin.MinimumQuantity == 0 {
		return 0, fmt.Errorf("%w: no minimum quantity for %s", ErrUnknownPair, pair)
	}
	return coin.MinimumQuantity, nil
}

func toBinanceSide(side models.Side) binance.SideType {
	if side == models.Buy {
		return binance.SideTypeBuy
	}
	return binance.SideTypeSell
}

func fromBinanceStatus(status binance.OrderStatusType) models.OrderStatus {
	switch status {
	case binance.OrderStatusTypeFilled:
		return models.StatusFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeRejected, binance.OrderStatusTypeExpired:
		return models.StatusCanceled
	default:
		return models.StatusOpen
	}
}

// formatQuantity 把数量截断到步长的精度
func formatQuantity(amount, step float64) string {
	d := decimal.NewFromFloat(amount)
	if step <= 0 {
		return d.String()
	}
	places := -decimal.NewFromFloat(step).Exponent()
	if places < 0 {
		places = 0
	}
	return d.Truncate(places).String()
}

func formatPrice(price float64, decimals int32) string {
	return decimal.NewFromFloat(price).Round(decimals).String()
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
