package bot

import (
	"context"
	"crypto-bots-go/internal/activitylog"
	"crypto-bots-go/internal/exchange"
	"crypto-bots-go/internal/models"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrInvalidParams 表示策略参数不合法, 在注册机器人之前返回
	ErrInvalidParams = errors.New("invalid bot parameters")
	// ErrUnsupportedType 表示未知的策略类型
	ErrUnsupportedType = errors.New("unsupported bot type")
	// ErrAlreadyStarted 表示同一个实例被 Run 了两次
	ErrAlreadyStarted = errors.New("bot already started")
)

// Bot 是所有策略共享的生命周期接口
type Bot interface {
	// ID 返回由 (策略, 平台, 用户, 区分参数) 推导出的确定性标识
	ID() string
	// UUID 返回实例的关联ID, 所有活动日志事件都带着它
	UUID() string
	Type() models.BotType
	// Run 进入轮询循环, 直到停止或 ctx 结束才返回
	Run(ctx context.Context) error
	// Stop 设置停止标志。soft 为 true 时持有库存的策略会先清空卖单再退出
	Stop(soft bool)
	Running() bool
	State() State
	Done() <-chan struct{}
	// Snapshot 返回当前状态, 用于 BotUpdated 事件和状态表
	Snapshot() map[string]any
}

// Deps 是构造机器人所需的外部依赖
type Deps struct {
	UserEmail string
	UserID    int64
	Platform  string
	Gateway   exchange.Gateway
	Publisher activitylog.Publisher
	Logger    *zap.Logger
	Clock     func() time.Time
}

func (d Deps) withDefaults() (Deps, error) {
	if d.Gateway == nil {
		return d, fmt.Errorf("%w: gateway is required", ErrInvalidParams)
	}
	if d.UserEmail == "" || d.Platform == "" {
		return d, fmt.Errorf("%w: user email and platform are required", ErrInvalidParams)
	}
	if d.Publisher == nil {
		d.Publisher = activitylog.Discard{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return d, nil
}

// New 根据策略类型构造机器人
func New(deps Deps, botType models.BotType, params models.BotParams) (Bot, error) {
	switch botType {
	case models.GridBot:
		if params.Grid == nil {
			return nil, fmt.Errorf("%w: grid params missing", ErrInvalidParams)
		}
		return NewGridBot(deps, *params.Grid)
	case models.MarketSpreadBot:
		if params.MarketSpread == nil {
			return nil, fmt.Errorf("%w: market spread params missing", ErrInvalidParams)
		}
		return NewMarketSpreadBot(deps, *params.MarketSpread)
	case models.ArbitrageBot:
		if params.Arbitrage == nil {
			return nil, fmt.Errorf("%w: arbitrage params missing", ErrInvalidParams)
		}
		return NewArbitrageBot(deps, *params.Arbitrage)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, botType)
	}
}

func secondsOr(sec int, def time.Duration) time.Duration {
	if sec <= 0 {
		return def
	}
	return time.Duration(sec) * time.Second
}
