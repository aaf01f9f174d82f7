package middleware

import (
	"github.com/gin-gonic/gin"
)

// AuthStrategy 定义认证策略的统一接口, 具体实现见 middleware/auth 子包。
// 路由装配只依赖这个接口, 不关心底层是哪种凭证校验。
type AuthStrategy interface {
	AuthFunc() gin.HandlerFunc
}
