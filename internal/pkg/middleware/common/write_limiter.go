package common

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/metrics"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/storage"
)

// WriteRateLimiter 限制用户管理类写接口(创建/更新/删除)的调用频率。
// 粒度是 客户端IP+路由模板, 共享LoginRateLimiter的双层闸门与降级策略;
// 区别在于阈值可被运维在线收紧: ratelimit:write:global_limit 键存在时覆盖静态配置。
func WriteRateLimiter(redisCluster *storage.RedisCluster, limit int, window time.Duration) gin.HandlerFunc {
	windowSec := int64(window.Seconds())

	return func(c *gin.Context) {
		effective := dynamicWriteLimit(redisCluster, limit)

		id := "write:" + c.ClientIP() + ":" + c.FullPath()
		if !gateway.hit(id, int64(effective)*2, window) {
			metrics.WriteLimiterTotal.WithLabelValues(c.FullPath(), "local_rate").Inc()
			rejectRateLimited(c, "写操作过于频繁，请稍后再试")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		redisKey := redisCluster.KeyPrefix + "ratelimit:write:" + id
		result, err := redisCluster.GetClient().Eval(ctx, fixedWindowScript,
			[]string{redisKey},
			effective, windowSec,
		).Result()
		if err != nil {
			log.Warnf("write rate limit redis error, falling back to local gate: %v", err)
			if !gateway.peek(id, int64(effective)) {
				metrics.WriteLimiterTotal.WithLabelValues(c.FullPath(), "redis_timeout").Inc()
				rejectRateLimited(c, "系统繁忙，请稍后再试")
				return
			}
			c.Next()
			return
		}

		verdict, ok := result.([]interface{})
		if !ok || len(verdict) != 2 {
			log.Warnf("write rate limit script returned unexpected shape: %v", result)
			c.Next()
			return
		}
		limited, _ := verdict[0].(int64)
		retryAfter, _ := verdict[1].(int64)
		if limited == 1 {
			metrics.WriteLimiterTotal.WithLabelValues(c.FullPath(), "redis_limit").Inc()
			rejectRateLimited(c, "写操作过于频繁，请在%d秒后重试", retryAfter)
			return
		}

		c.Next()
	}
}

// dynamicWriteLimit 读运维下发的全局写阈值, 读不到或值非法就用静态配置。
func dynamicWriteLimit(redisCluster *storage.RedisCluster, fallback int) int {
	if redisCluster == nil || redisCluster.GetClient() == nil {
		return fallback
	}
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	val, err := redisCluster.GetClient().Get(ctx, redisCluster.KeyPrefix+"ratelimit:write:global_limit").Result()
	if err != nil {
		return fallback
	}
	if n, err := strconv.Atoi(val); err == nil && n > 0 {
		return n
	}
	return fallback
}
