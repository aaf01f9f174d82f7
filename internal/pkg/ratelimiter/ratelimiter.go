/*
ratelimiter 为审计事件生产端提供自适应限速。

速率控制器包装一个令牌桶, 周期性读取投递统计: 失败率越过上限时
乘性降速, 连续健康则缓慢回升, 速率始终被夹在[minRate, maxRate]内。
Stop只停止调整循环, 限速器按最后一次速率继续生效。
*/
package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

// 失败率高于 backoffThreshold 降速, 低于 recoverThreshold 回升,
// 两者之间维持现状, 避免在边界附近来回震荡。
const (
	backoffThreshold = 0.10
	recoverThreshold = 0.02
	backoffFactor    = 0.8
	recoverFactor    = 1.1
)

// StatsFunc 返回上一个观察窗口内的(总投递数, 失败数)。
// 只会在调整循环里被串行调用, 实现方不需要考虑并发。
type StatsFunc func() (total, failed int)

// Controller 按投递失败率动态调整速率的令牌桶限速器。
type Controller struct {
	mu      sync.RWMutex
	limiter *rate.Limiter

	stats    StatsFunc
	minRate  float64
	maxRate  float64
	period   time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewController 创建控制器并启动后台调整循环。
func NewController(initRate, minRate, maxRate float64, period time.Duration, stats StatsFunc) *Controller {
	c := &Controller{
		limiter: rate.NewLimiter(rate.Limit(initRate), burstFor(initRate)),
		stats:   stats,
		minRate: minRate,
		maxRate: maxRate,
		period:  period,
		stopCh:  make(chan struct{}),
	}
	go c.adjustLoop()
	return c
}

// Wait 阻塞到获得一个令牌或ctx结束, 生产端在每次投递前调用。
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.RLock()
	limiter := c.limiter
	c.mu.RUnlock()
	return limiter.Wait(ctx)
}

// SetRate 手工设定速率, 同样受[minRate, maxRate]约束。
func (c *Controller) SetRate(newRate float64) {
	if newRate < c.minRate {
		newRate = c.minRate
	}
	if newRate > c.maxRate {
		newRate = c.maxRate
	}

	c.mu.Lock()
	old := c.limiter.Limit()
	c.limiter.SetLimit(rate.Limit(newRate))
	c.limiter.SetBurst(burstFor(newRate))
	c.mu.Unlock()
	log.Warnf("审计限速手工调整: %.2f -> %.2f req/s", old, newRate)
}

// Rate 返回当前速率(req/s)。
func (c *Controller) Rate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return float64(c.limiter.Limit())
}

// Stop 结束调整循环, 可重复调用。
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Controller) adjustLoop() {
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.adjustOnce()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Controller) adjustOnce() {
	total, failed := c.stats()
	failRate := 0.0
	if total > 0 {
		failRate = float64(failed) / float64(total)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.limiter.Limit()
	next := nextLimit(current, failRate, rate.Limit(c.minRate), rate.Limit(c.maxRate))
	if next == current {
		return
	}
	c.limiter.SetLimit(next)
	c.limiter.SetBurst(burstFor(float64(next)))
	log.Warnf("审计限速动态调整: %.2f -> %.2f req/s (失败率=%.2f%%)", current, next, failRate*100)
}

// nextLimit 计算下一周期的速率: 失败率越限乘性降速, 健康则缓慢回升。
func nextLimit(current rate.Limit, failRate float64, lo, hi rate.Limit) rate.Limit {
	switch {
	case failRate > backoffThreshold && current > lo:
		next := current * backoffFactor
		if next < lo {
			next = lo
		}
		return next
	case failRate < recoverThreshold && current < hi:
		next := current * recoverFactor
		if next > hi {
			next = hi
		}
		return next
	default:
		return current
	}
}

// burstFor 保证桶容量至少为1, 速率低于1 req/s时Wait仍能取到令牌。
func burstFor(r float64) int {
	b := int(r)
	if b < 1 {
		b = 1
	}
	return b
}
