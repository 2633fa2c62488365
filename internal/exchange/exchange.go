package exchange

import (
	"context"
	"crypto-bots-go/internal/models"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownPair 表示交易对或币种不在支持列表中
	ErrUnknownPair = errors.New("unknown trading pair")
	// ErrOrderNotFound 表示订单不存在
	ErrOrderNotFound = errors.New("order not found")
	// ErrUnsupportedPlatform 表示没有为该平台注册网关
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	// ErrMissingCredentials 表示账户缺少API凭证
	ErrMissingCredentials = errors.New("missing api credentials")
	// ErrInsufficientFunds 表示余额不足以完成下单
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// TickerFetcher 只读行情接口, 机会计算只依赖它
type TickerFetcher interface {
	FetchTicker(ctx context.Context, pair string) (models.Ticker, error)
}

// Gateway 定义了机器人访问交易所所需的全部能力。
// 每个 (用户, 平台) 对应一个实例, 由多个机器人共享。
type Gateway interface {
	TickerFetcher
	FetchRecentTrades(ctx context.Context, pair string) ([]models.Trade, error)
	FetchMyTrades(ctx context.Context, pair string, sinceHours int, limit int) ([]models.MyTrade, error)
	CreateOrder(ctx context.Context, pair string, price, amount float64, side models.Side, typ models.OrderType) (models.Order, error)
	EditOrder(ctx context.Context, pair, orderID string, price, amount float64, side models.Side, typ models.OrderType) (models.Order, error)
	FetchOrder(ctx context.Context, orderID, pair string) (models.Order, error)
	CancelAllOrders(ctx context.Context, pair string) error
	MinimumQuantity(pair string) (float64, error)
	Balance(ctx context.Context) ([]models.Balance, error)
}

// Coin 描述一个支持的币种及其在交易所的市场
type Coin struct {
	ID              string
	Symbol          string // 交易所市场代码, e.g. DOGEUSDT
	Base            string
	Quote           string
	MinimumQuantity float64 // 最小下单数量, 同时作为数量步长
	PriceDecimals   int32
}

// Coins 支持的币种列表, 以小写币种ID为键
var Coins = map[string]Coin{
	"doge": {ID: "doge", Symbol: "DOGEUSDT", Base: "DOGE", Quote: "USDT", MinimumQuantity: 10, PriceDecimals: 5},
	"xrp":  {ID: "xrp", Symbol: "XRPUSDT", Base: "XRP", Quote: "USDT", MinimumQuantity: 10, PriceDecimals: 4},
	"eth":  {ID: "eth", Symbol: "ETHUSDT", Base: "ETH", Quote: "USDT", MinimumQuantity: 0.0001, PriceDecimals: 2},
	"ada":  {ID: "ada", Symbol: "ADAUSDT", Base: "ADA", Quote: "USDT", MinimumQuantity: 0.1, PriceDecimals: 4},
	"hard": {ID: "hard", Symbol: "HARDUSDT", Base: "HARD", Quote: "USDT", MinimumQuantity: 10, PriceDecimals: 4},
	"btc":  {ID: "btc", Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT", MinimumQuantity: 0.00001, PriceDecimals: 2},
}

// ResolvePair 把币种ID或交易所市场代码解析成 Coin。
// 小写ID必须在 Coins 中; 大写形式 (可带 "/") 视为原始市场代码。
func ResolvePair(pair string) (Coin, error) {
	if pair == "" {
		return Coin{}, fmt.Errorf("%w: empty pair", ErrUnknownPair)
	}
	if coin, ok := Coins[pair]; ok {
		return coin, nil
	}
	if strings.ToUpper(pair) != pair {
		return Coin{}, fmt.Errorf("%w: %s", ErrUnknownPair, pair)
	}

	symbol := strings.ReplaceAll(pair, "/", "")
	for _, coin := range Coins {
		if coin.Symbol == symbol {
			return coin, nil
		}
	}
	coin := Coin{ID: pair, Symbol: symbol, PriceDecimals: 8}
	if base, quote, ok := strings.Cut(pair, "/"); ok {
		coin.Base, coin.Quote = base, quote
	}
	return coin, nil
}
