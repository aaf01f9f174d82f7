/*
router.go 装配全部业务路由。

公开入口(表单, 无认证):
POST {generate-url}          签发一次性令牌, 302到签发回调目标
POST {login-processing-url}  兑换令牌建立会话, 302到成功/失败目标
GET  {login-processing-url}  内置令牌提交页(可关闭)

会话接口:
DELETE /logout      清除会话cookie
GET    /v1/session  会话自省, 返回当前凭证的身份与有效期

受保护面(Bearer/cookie会话 + 权限校验):
/v1/users  用户管理CRUD
/v1/admin  运维管理面(审计事件/活跃令牌/限流配置), 见admin.go

healthz、version、metrics、pprof等系统路由由通用服务器安装。
*/
package ottserver

import (
	ginjwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"

	"github.com/maxiaolu1981/cretem/nexuscore/component-base/core"
	"github.com/maxiaolu1981/cretem/nexuscore/errors"

	tokenctl "github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/control/v1/token"
	userctl "github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/control/v1/user"
	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/handler"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/code"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/middleware"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/middleware/common"
)

func (s *apiServer) installRoutes() error {
	sessionMW, err := newSessionAuth(s.opts)
	if err != nil {
		return err
	}
	s.sessionMW = sessionMW
	strategy := newSessionStrategy(sessionMW)

	engine := s.genericAPIServer.Engine

	s.installTokenRoutes(engine, &sessionIssuer{mw: sessionMW})
	s.installSessionRoutes(engine, sessionMW)
	s.installUserRoutes(engine, strategy)
	s.installAdminRoutes(engine, strategy)

	engine.NoRoute(func(c *gin.Context) {
		core.WriteResponse(c, errors.WithCode(code.ErrPageNotFound, "业务不存在"), nil)
	})

	return nil
}

// installTokenRoutes 安装令牌签发/兑换入口。这两个入口不经过会话
// 认证, 靠限流和审计滞后保护兜底。
func (s *apiServer) installTokenRoutes(engine *gin.Engine, session tokenctl.SessionIssuer) {
	serverOpts := s.opts.GenericServerRunOptions
	tokenOpts := s.opts.TokenOptions

	// debug/test模式下包一层令牌捕获, 联调时可从管理面取回最新令牌
	var generated handler.TokenGenerated
	if serverOpts.Mode != gin.ReleaseMode {
		capture := handler.NewCapturing(handler.NewRedirect(tokenOpts.GeneratedRedirectURL))
		s.tokenCapture = capture
		generated = capture
	}

	controller := tokenctl.NewTokenController(s.srv, s.opts, session, generated, nil, nil)

	limiter := common.EmptyMiddleware()
	if serverOpts.EnableRateLimiter && s.redis != nil {
		limiter = common.LoginRateLimiter(s.redis, serverOpts.GenerateRateLimit, serverOpts.GenerateWindow)
	}

	// 审计管道饱和时拒绝新的签发/兑换, 保证已接请求的事件不丢
	lagGuard := common.EmptyMiddleware()
	if s.auditMgr != nil && s.auditMgr.Enabled() {
		lagGuard = common.LagProtectMiddleware(s.auditMgr.Saturated)
	}

	engine.POST(tokenOpts.GenerateURL, limiter, lagGuard, controller.Generate)
	engine.POST(tokenOpts.LoginProcessingURL, limiter, lagGuard, controller.Login)
	if tokenOpts.ShowDefaultSubmitPage {
		engine.GET(tokenOpts.LoginProcessingURL, controller.SubmitPage)
	}
}

func (s *apiServer) installSessionRoutes(engine *gin.Engine, sessionMW *ginjwt.GinJWTMiddleware) {
	engine.DELETE("/logout", sessionMW.LogoutHandler)
	engine.GET("/v1/session", sessionInfoHandler(s.opts))
}

func (s *apiServer) installUserRoutes(engine *gin.Engine, strategy middleware.AuthStrategy) {
	serverOpts := s.opts.GenericServerRunOptions

	controller := userctl.NewUserController(s.srv, s.opts)

	writeGuard := common.EmptyMiddleware()
	if serverOpts.EnableRateLimiter && s.redis != nil {
		writeGuard = common.WriteRateLimiter(s.redis, serverOpts.WriteRateLimit, serverOpts.WriteWindow)
	}

	v1group := engine.Group("/v1")
	{
		userv1 := v1group.Group("/users")
		userv1.Use(strategy.AuthFunc(), middleware.Validation())
		{
			userv1.POST("", writeGuard, controller.Create)
			userv1.DELETE(":name", writeGuard, controller.Delete)
			userv1.PUT(":name", writeGuard, controller.Update)
			userv1.GET(":name", controller.Get)
			userv1.GET("", controller.List)
		}
	}
}
