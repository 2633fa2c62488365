package models

// BotType 机器人策略类型
type BotType string

const (
	GridBot         BotType = "grid"
	MarketSpreadBot BotType = "marketSpread"
	ArbitrageBot    BotType = "arbitrage"
)

// GridStrategy 决定网格机器人初始的已投入资金
type GridStrategy string

const (
	StrategyNeutral GridStrategy = "neutral" // 50%
	StrategyLong    GridStrategy = "long"    // 0%
	StrategyShort   GridStrategy = "short"   // 100%
)

// BotSpec 是配置文件中的一条机器人定义
type BotSpec struct {
	UserEmail string    `json:"user_email" yaml:"user_email"`
	Platform  string    `json:"platform" yaml:"platform"`
	Type      BotType   `json:"type" yaml:"type"`
	Params    BotParams `json:"params" yaml:"params"`
}

// BotParams 按策略类型存放参数, 只有与 Type 对应的字段会被使用
type BotParams struct {
	Grid         *GridParams         `json:"grid,omitempty" yaml:"grid,omitempty"`
	MarketSpread *MarketSpreadParams `json:"market_spread,omitempty" yaml:"market_spread,omitempty"`
	Arbitrage    *ArbitrageParams    `json:"arbitrage,omitempty" yaml:"arbitrage,omitempty"`
}

// GridParams 网格策略参数
type GridParams struct {
	CoinID            string       `json:"coin_id" yaml:"coin_id"`
	MaximumInvestment float64      `json:"maximum_investment" yaml:"maximum_investment"`   // 最大持仓 (基础货币数量), 按网格数平分为每格的下单量
	NumberOfGrids     int          `json:"number_of_grids" yaml:"number_of_grids"`         // 单侧网格数量, 默认5
	PercentagePerGrid float64      `json:"percentage_per_grid" yaml:"percentage_per_grid"` // 每格间距(百分比), 默认0.4
	StartingPrice     float64      `json:"starting_price,omitempty" yaml:"starting_price,omitempty"`
	Strategy          GridStrategy `json:"strategy" yaml:"strategy"`
	IntervalSec       int          `json:"interval_sec,omitempty" yaml:"interval_sec,omitempty"`
}

// MarketSpreadParams 做市价差策略参数
type MarketSpreadParams struct {
	CoinID             string  `json:"coin_id" yaml:"coin_id"`
	Amount             float64 `json:"amount" yaml:"amount"`                                                   // 每次买入的数量 (基础货币)
	MinTradeNotional   float64 `json:"min_trade_notional,omitempty" yaml:"min_trade_notional,omitempty"`       // 有效成交的最小名义价值
	Margin             float64 `json:"margin,omitempty" yaml:"margin,omitempty"`                               // 目标价差, 默认0.006
	TrendFilter        bool    `json:"trend_filter" yaml:"trend_filter"`                                       // 是否启用趋势过滤
	StaleAfterSec      int     `json:"stale_after_sec,omitempty" yaml:"stale_after_sec,omitempty"`             // 订单多久未成交后重新定价
	SoftStopTimeoutSec int     `json:"soft_stop_timeout_sec,omitempty" yaml:"soft_stop_timeout_sec,omitempty"` // 软停止最长等待时间
	IntervalSec        int     `json:"interval_sec,omitempty" yaml:"interval_sec,omitempty"`
}

// TradingPair 套利环路中的一个交易对
type TradingPair struct {
	ID        string `json:"id" yaml:"id"`
	Traversed bool   `json:"traversed" yaml:"traversed"` // 该腿是否反向计价
}

// ArbitrageParams 三角套利参数
type ArbitrageParams struct {
	TradingPairs     []TradingPair `json:"trading_pairs" yaml:"trading_pairs"`
	ComparePair      string        `json:"compare_pair" yaml:"compare_pair"`
	Amount           float64       `json:"amount" yaml:"amount"`                           // 对比交易对的下单数量
	Threshold        float64       `json:"threshold,omitempty" yaml:"threshold,omitempty"` // 触发阈值, 默认0.01
	CheckIntervalSec int           `json:"check_interval_sec,omitempty" yaml:"check_interval_sec,omitempty"`
}
