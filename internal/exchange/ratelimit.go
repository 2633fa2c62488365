package exchange

import (
	"context"
	"crypto-bots-go/internal/models"

	"golang.org/x/time/rate"
)

// RateLimited 为网关的每个网络请求加上令牌桶限速。
// 同一账户下的所有机器人共享一个实例, 因此共享同一个请求额度。
type RateLimited struct {
	next    Gateway
	limiter *rate.Limiter
}

// NewRateLimited 包装网关, rps <= 0 表示不限速
func NewRateLimited(next Gateway, rps float64, burst int) *RateLimited {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Unwrap 返回被包装的网关
func (r *RateLimited) Unwrap() Gateway { return r.next }

func (r *RateLimited) FetchTicker(ctx context.Context, pair string) (models.Ticker, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return models.Ticker{}, err
	}
	return r.next.FetchTicker(ctx, pair)
}

func (r *RateLimited) FetchRecentTrades(ctx context.Context, pair string) ([]models.Trade, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.FetchRecentTrades(ctx, pair)
}

func (r *RateLimited) FetchMyTrades(ctx context.Context, pair string, sinceHours int, limit int) ([]models.MyTrade, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.FetchMyTrades(ctx, pair, sinceHours, limit)
}

func (r *RateLimited) CreateOrder(ctx context.Context, pair string, price, amount float64, side models.Side, typ models.OrderType) (models.Order, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return models.Order{}, err
	}
	return r.next.CreateOrder(ctx, pair, price, amount, side, typ)
}

func (r *RateLimited) EditOrder(ctx context.Context, pair, orderID string, price, amount float64, side models.Side, typ models.OrderType) (models.Order, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return models.Order{}, err
	}
	return r.next.EditOrder(ctx, pair, orderID, price, amount, side, typ)
}

func (r *RateLimited) FetchOrder(ctx context.Context, orderID, pair string) (models.Order, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return models.Order{}, err
	}
	return r.next.FetchOrder(ctx, orderID, pair)
}

func (r *RateLimited) CancelAllOrders(ctx context.Context, pair string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.next.CancelAllOrders(ctx, pair)
}

// MinimumQuantity 是本地查表, 不消耗额度
func (r *RateLimited) MinimumQuantity(pair string) (float64, error) {
	return r.next.MinimumQuantity(pair)
}

func (r *RateLimited) Balance(ctx context.Context) ([]models.Balance, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.Balance(ctx)
}
