package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// 三套环境共用的方法集, 差异只在来源白名单和凭证开关。
var corsMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}

func corsWith(origins, headers []string, credentials bool) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     corsMethods,
		AllowHeaders:     headers,
		AllowCredentials: credentials,
		MaxAge:           12 * time.Hour,
	})
}

// DevCors 本地联调放开所有来源。凭证必须关: 带*来源时浏览器会拒绝凭证响应。
func DevCors() gin.HandlerFunc {
	return corsWith([]string{"*"}, []string{"*"}, false)
}

// TestCors 测试环境只认本地前端和测试域名。
func TestCors() gin.HandlerFunc {
	return corsWith(
		[]string{"http://localhost:3000", "http://127.0.0.1:3000", "http://test.example.com"},
		[]string{"Origin", "Content-Type", "Accept", "Authorization"},
		true,
	)
}

// ProductionCors 登录流程带会话Cookie, 生产环境必须收紧来源白名单。
func ProductionCors() gin.HandlerFunc {
	return corsWith(
		[]string{"https://ott.maxiaolu.tech", "https://www.ott.maxiaolu.tech"},
		[]string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		true,
	)
}
