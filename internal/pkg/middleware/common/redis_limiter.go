package common

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/maxiaolu1981/cretem/nexuscore/component-base/core"
	"github.com/maxiaolu1981/cretem/nexuscore/errors"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/code"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/storage"
)

// fixedWindowScript 在Redis侧做固定窗口计数: INCR后首次写入才挂EXPIRE,
// 返回{是否超限, 剩余额度或重试秒数}。整段脚本原子执行, 多实例共享同一份计数。
const fixedWindowScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

local current = redis.call('INCR', key)

if current == 1 then
    redis.call('EXPIRE', key, window)
end

if current > limit then
    local ttl = redis.call('TTL', key)
    return {1, ttl}
else
    return {0, limit - current}
end
`

// ipCounters 是进程内的前置闸门: Redis前先挡一道, Redis故障时独立兜底。
// 计数按IP存内存, 由后台协程定期回收闲置条目。
type ipCounters struct {
	mu      sync.Mutex
	entries map[string]*ipCounter
}

type ipCounter struct {
	hits     int64
	lastSeen time.Time
}

var gateway = newIPCounters()

func newIPCounters() *ipCounters {
	g := &ipCounters{entries: make(map[string]*ipCounter)}
	go g.janitor(5*time.Minute, 10*time.Minute)
	return g
}

func (g *ipCounters) janitor(every, idle time.Duration) {
	tick := time.NewTicker(every)
	defer tick.Stop()
	for range tick.C {
		g.mu.Lock()
		now := time.Now()
		for key, e := range g.entries {
			if now.Sub(e.lastSeen) > idle {
				delete(g.entries, key)
			}
		}
		g.mu.Unlock()
	}
}

// hit 记一次访问并判断窗口内是否仍在limit以内。窗口滑动按lastSeen重置。
func (g *ipCounters) hit(id string, limit int64, window time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	e, ok := g.entries[id]
	if !ok || now.Sub(e.lastSeen) > window {
		g.entries[id] = &ipCounter{hits: 1, lastSeen: now}
		return true
	}
	e.hits++
	e.lastSeen = now
	return e.hits <= limit
}

// peek 只读当前计数是否超限, 不累加。Redis降级路径用它裁决已有计数。
func (g *ipCounters) peek(id string, limit int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[id]
	return !ok || e.hits <= limit
}

func (g *ipCounters) reset() {
	g.mu.Lock()
	g.entries = make(map[string]*ipCounter)
	g.mu.Unlock()
}

// LoginRateLimiter 按客户端IP限制令牌签发类接口的调用频率。
// 两层闸门: 本地内存(2倍额度, 防止单实例视角误伤)在前, Redis固定窗口在后;
// Redis超时降级为严格本地裁决, 其他Redis错误降级为宽松本地裁决。
func LoginRateLimiter(redisCluster *storage.RedisCluster, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}
		w := window
		if w <= 0 {
			w = time.Minute
		}

		id := "ip:" + c.ClientIP()
		if !gateway.hit(id, int64(limit)*2, w) {
			rejectRateLimited(c, "请求过于频繁，请稍后再试")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		redisKey := redisCluster.KeyPrefix + "ratelimit:ott:" + id
		result, err := redisCluster.GetClient().Eval(ctx, fixedWindowScript,
			[]string{redisKey},
			limit, int64(w.Seconds()),
		).Result()
		if err != nil {
			degradeToLocal(c, err, id, int64(limit))
			return
		}

		verdict, ok := result.([]interface{})
		if !ok || len(verdict) != 2 {
			log.Errorf("rate limit script returned unexpected shape: %v", result)
			c.Next() // 裁决不了就放行, 限流不能变成故障放大器
			return
		}
		limited, _ := verdict[0].(int64)
		retryAfter, _ := verdict[1].(int64)
		if limited == 1 {
			rejectRateLimited(c, "请求过于频繁，请在%d秒后重试", retryAfter)
			return
		}

		c.Next()
	}
}

// degradeToLocal 在Redis不可用时用本地计数兜底:
// 超时可能只是网络抖动, 按原始额度严判; 真错误按双倍额度宽判。
func degradeToLocal(c *gin.Context, err error, id string, limit int64) {
	if stderrors.Is(err, context.DeadlineExceeded) {
		log.Warnf("rate limit redis timeout, falling back to local gate: %v", err)
		if !gateway.peek(id, limit) {
			rejectRateLimited(c, "系统繁忙，请稍后再试")
			return
		}
		c.Next()
		return
	}

	log.Errorf("rate limit redis error: %v", err)
	if !gateway.peek(id, limit*2) {
		rejectRateLimited(c, "系统繁忙，请稍后再试")
		return
	}
	c.Next()
}

func rejectRateLimited(c *gin.Context, format string, args ...interface{}) {
	core.WriteResponse(c, errors.WithCode(code.ErrRateLimitExceeded, format, args...), nil)
	c.Abort()
}

// CleanupRateLimit 清空Redis里的限流键和本地计数, 供运维接口调用。
func CleanupRateLimit(redisCluster *storage.RedisCluster) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pattern := redisCluster.KeyPrefix + "ratelimit:ott:*"
	keys, err := redisCluster.GetClient().Keys(ctx, pattern).Result()
	if err != nil {
		log.Errorf("list rate limit keys failed: %v", err)
		return err
	}
	if len(keys) > 0 {
		if _, err = redisCluster.GetClient().Del(ctx, keys...).Result(); err != nil {
			log.Errorf("delete rate limit keys failed: %v", err)
			return err
		}
	}

	gateway.reset()
	return nil
}
