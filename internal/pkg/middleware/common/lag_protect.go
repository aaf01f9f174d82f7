package common

import (
	"github.com/gin-gonic/gin"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/metrics"
)

// LagProtectionFunc 返回 true 表示系统处于背压保护状态。
type LagProtectionFunc func() bool

// LagProtectMiddleware 在背压探测函数报告饱和时拒绝写请求(429),
// 探测源通常是审计事件缓冲或消费端堆积。
func LagProtectMiddleware(isProtected LagProtectionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isProtected != nil && isProtected() {
			metrics.WriteLimiterTotal.WithLabelValues(c.FullPath(), "backpressure").Inc()
			rejectRateLimited(c, "系统背压保护中，请稍后重试")
			return
		}
		c.Next()
	}
}
