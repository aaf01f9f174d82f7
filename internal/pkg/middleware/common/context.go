package common

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

// contextKey 业务取值用的类型化上下文键, 与字符串键隔离。
type contextKey string

const (
	KeyRequestID contextKey = "request_id"
	KeyUsername  contextKey = "username"
)

const (
	// XRequestIDKey 与 requestid 中间件写入 gin 上下文的键保持一致。
	XRequestIDKey = "X-Request-ID"
	UsernameKey   = "username"
)

// Context 把 requestid 中间件写入 gin 上下文的追踪字段透传到标准
// context, 供Service层的 log.L(ctx) 与 GetUsername 读取。
// 同一个值写两个键: 类型化键给业务取值用, 字符串键给 log.L 用。
func Context() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetString(XRequestIDKey)
		username := c.GetString(UsernameKey)

		c.Set(log.KeyRequestID, requestID)
		c.Set(log.KeyUsername, username)

		ctx := c.Request.Context()
		if requestID != "" {
			ctx = context.WithValue(ctx, KeyRequestID, requestID)
			ctx = context.WithValue(ctx, log.KeyRequestID, requestID) //nolint:staticcheck // log.L按字符串键查值
		}
		if username != "" {
			ctx = context.WithValue(ctx, KeyUsername, username)
			ctx = context.WithValue(ctx, log.KeyUsername, username) //nolint:staticcheck // 同上
		}

		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// GetUsername 从标准context取出已认证用户名, 取不到返回unknown。
func GetUsername(ctx context.Context) string {
	if val, ok := ctx.Value(KeyUsername).(string); ok {
		return val
	}
	return "unknown"
}
