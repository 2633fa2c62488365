package models

import "time"

// Side 定义了订单方向
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Opposite 返回相反的方向
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType 定义了订单类型
type OrderType string

const (
	Limit  OrderType = "limit"
	Market OrderType = "market"
)

// OrderStatus 是网关统一后的订单状态
type OrderStatus string

const (
	StatusOpen     OrderStatus = "OPEN"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
)

// Ticker 行情快照
type Ticker struct {
	Last float64 `json:"last"`
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
}

// Trade 市场上的一笔公开成交
type Trade struct {
	Amount    float64   `json:"amount"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// MyTrade 用户自己的一笔成交
type MyTrade struct {
	Side        Side      `json:"side"`
	Amount      float64   `json:"amount"`
	Price       float64   `json:"price"`
	Cost        float64   `json:"cost"`
	Fee         float64   `json:"fee"`
	FeeCurrency string    `json:"fee_currency"`
	Timestamp   time.Time `json:"timestamp"`
}

// Order 网关返回的订单信息
type Order struct {
	ID        string      `json:"id"`
	Pair      string      `json:"pair"`
	Side      Side        `json:"side"`
	Type      OrderType   `json:"type"`
	Status    OrderStatus `json:"status"`
	Price     float64     `json:"price"`
	Amount    float64     `json:"amount"`
	Filled    float64     `json:"filled"`
	Remaining float64     `json:"remaining"`
	AvgPrice  float64     `json:"avg_price"` // 成交均价, 未成交时为0
	Timestamp time.Time   `json:"timestamp"`
}

// Balance 单个资产的余额
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}
