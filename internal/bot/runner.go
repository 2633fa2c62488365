package bot

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// State 是机器人生命周期的阶段
type State string

const (
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateStopped  State = "stopped"
)

// runner 持有所有策略共用的运行/软停止标志和轮询循环
type runner struct {
	uuid     string
	interval time.Duration

	running atomic.Bool
	soft    atomic.Bool
	started atomic.Bool
	exited  atomic.Bool
	wake    chan struct{}
	done    chan struct{}
}

func newRunner(interval time.Duration) *runner {
	r := &runner{
		uuid:     NewCorrelationID(),
		interval: interval,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	r.running.Store(true)
	return r
}

func (r *runner) UUID() string { return r.uuid }

func (r *runner) Running() bool { return r.running.Load() }

func (r *runner) Done() <-chan struct{} { return r.done }

// Stop 设置停止标志并唤醒正在睡眠的循环, 不会打断正在执行的 tick
func (r *runner) Stop(soft bool) {
	r.soft.Store(soft)
	r.running.Store(false)
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *runner) State() State {
	switch {
	case r.exited.Load():
		return StateStopped
	case r.running.Load():
		return StateRunning
	case r.soft.Load():
		return StateDraining
	default:
		return StateStopped
	}
}

// loop 每隔 interval 调用一次 tick, 直到被停止或 ctx 结束。
// 软停止时若提供了 drain, 则按同样的节奏调用 drain, 直到它返回 false 或超过 softTimeout。
func (r *runner) loop(ctx context.Context, tick func(context.Context), drain func(context.Context) bool, softTimeout time.Duration, logger *zap.Logger) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer func() {
		r.exited.Store(true)
		close(r.done)
	}()

	for r.running.Load() {
		if !r.sleep(ctx) {
			return nil
		}
		if !r.running.Load() {
			break
		}
		tick(ctx)
	}

	if drain == nil || !r.soft.Load() {
		return nil
	}

	logger.Info("软停止: 等待未完成的卖单成交")
	deadline := time.Now().Add(softTimeout)
	for r.soft.Load() && ctx.Err() == nil {
		if !drain(ctx) {
			logger.Info("软停止完成")
			return nil
		}
		if softTimeout > 0 && time.Now().After(deadline) {
			logger.Warn("软停止超时, 留下未成交的订单退出", zap.Duration("timeout", softTimeout))
			return nil
		}
		if !r.sleep(ctx) {
			return nil
		}
	}
	return nil
}

// sleep 等待一个周期。被 Stop 唤醒时提前返回 true, ctx 结束时返回 false。
func (r *runner) sleep(ctx context.Context) bool {
	timer := time.NewTimer(r.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-r.wake:
		return true
	case <-timer.C:
		return true
	}
}
