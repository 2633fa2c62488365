package exchange

import (
	"crypto-bots-go/internal/models"
	"fmt"
	"sync"
)

// Factory 根据账户配置构造一个网关
type Factory func(acc models.AccountConfig) (Gateway, error)

// Pool 按 (用户, 平台) 缓存网关, 同一用户的所有机器人复用同一个连接和限速额度
type Pool struct {
	mu        sync.Mutex
	factories map[string]Factory
	gateways  map[string]Gateway
}

// NewPool 创建一个空的网关池
func NewPool() *Pool {
	return &Pool{
		factories: make(map[string]Factory),
		gateways:  make(map[string]Gateway),
	}
}

// Register 为平台注册网关工厂
func (p *Pool) Register(platform string, f Factory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.factories[platform] = f
}

// Get 返回账户对应的网关, 第一次调用时创建
func (p *Pool) Get(acc models.AccountConfig) (Gateway, error) {
	key := acc.Platform + "/" + acc.UserEmail

	p.mu.Lock()
	defer p.mu.Unlock()
	if gw, ok := p.gateways[key]; ok {
		return gw, nil
	}
	factory, ok := p.factories[acc.Platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, acc.Platform)
	}
	gw, err := factory(acc)
	if err != nil {
		return nil, err
	}
	p.gateways[key] = gw
	return gw, nil
}

// Len 返回已缓存的网关数量
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.gateways)
}
