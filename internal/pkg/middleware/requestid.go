package middleware

import (
	"github.com/gin-gonic/gin"
	uuid "github.com/satori/go.uuid"
)

// XRequestIDKey 同时作为HTTP头名和gin上下文键使用。
const XRequestIDKey = "X-Request-ID"

// RequestID 为每个请求注入唯一ID。客户端带了X-Request-ID就沿用,
// 否则生成UUIDv4, 并同时写回请求头、响应头和gin上下文。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.Request.Header.Get(XRequestIDKey)
		if rid == "" {
			rid = uuid.Must(uuid.NewV4()).String()
			c.Request.Header.Set(XRequestIDKey, rid)
		}
		c.Set(XRequestIDKey, rid)
		c.Writer.Header().Set(XRequestIDKey, rid)
		c.Next()
	}
}

// GetRequestIDFromContext 取当前请求的ID, 中间件没跑到时返回空串。
func GetRequestIDFromContext(c *gin.Context) string {
	if v, ok := c.Get(XRequestIDKey); ok {
		if rid, ok := v.(string); ok {
			return rid
		}
	}
	return ""
}
