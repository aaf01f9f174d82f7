/*
auth.go 装配会话层。本服务没有密码登录: 会话的唯一入口是一次性
令牌兑换成功, 由 sessionIssuer 签发JWT(写cookie + 返回Bearer),
gin-jwt 中间件只负责保护 /v1 管理接口和处理登出。
*/
package ottserver

import (
	"context"
	"time"

	ginjwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"

	v1 "github.com/maxiaolu1981/cretem/nexuscore/api/apiserver/v1"
	"github.com/maxiaolu1981/cretem/nexuscore/component-base/core"
	"github.com/maxiaolu1981/cretem/nexuscore/component-base/util/idutil"
	"github.com/maxiaolu1981/cretem/nexuscore/errors"

	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/control/v1/token"
	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/options"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/code"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/middleware"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/middleware/auth"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/middleware/common"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
	_ "github.com/maxiaolu1981/cretem/ottserver/pkg/validator" // 注册binding自定义校验规则
	"github.com/maxiaolu1981/cretem/ottserver/pkg/validator/jwtvalidator"
)

// 会话JWT的iss声明, 标识签发系统。
const sessionTokenIssuer = "https://github.com/maxiaolu1981/cretem/ottserver"

// newSessionAuth 构建会话层的gin-jwt中间件。它承担两件事:
// TokenGenerator 为兑换成功的用户签发会话JWT, MiddlewareFunc
// 保护需要登录态的管理接口。LoginHandler 不注册路由, 兜底的
// Authenticator 永远拒绝, 防止误配出密码登录入口。
func newSessionAuth(opts *options.Options) (*ginjwt.GinJWTMiddleware, error) {
	jwtOpts := opts.JwtOptions

	cookieDomain, cookieSecure := "", false
	if opts.GenericServerRunOptions != nil {
		cookieDomain = opts.GenericServerRunOptions.CookieDomain
		cookieSecure = opts.GenericServerRunOptions.CookieSecure
	}

	mw, err := ginjwt.New(&ginjwt.GinJWTMiddleware{
		Realm:            jwtOpts.Realm,
		SigningAlgorithm: "HS256",
		Key:              []byte(jwtOpts.Key),
		Timeout:          jwtOpts.Timeout,
		MaxRefresh:       jwtOpts.MaxRefresh,
		IdentityKey:      common.UsernameKey,
		// 会话凭证只从Authorization头和会话cookie取,
		// query里的token是一次性令牌, 语义不同不能混用。
		TokenLookup:    "header: Authorization, cookie: " + token.SessionCookieName,
		TokenHeadName:  "Bearer",
		SendCookie:     true,
		CookieName:     token.SessionCookieName,
		CookieMaxAge:   jwtOpts.Timeout,
		CookieDomain:   cookieDomain,
		SecureCookie:   cookieSecure,
		CookieHTTPOnly: true,
		TimeFunc:       time.Now,

		Authenticator: func(c *gin.Context) (interface{}, error) {
			return nil, errors.WithCode(code.ErrUnauthorized, "密码登录已停用, 请通过一次性令牌登录")
		},
		PayloadFunc:     sessionPayload,
		IdentityHandler: sessionIdentity,
		Authorizator:    sessionAuthorizator,
		Unauthorized:    handleUnauthorized,
		LogoutResponse: func(c *gin.Context, httpStatus int) {
			core.WriteResponse(c, nil, gin.H{"message": "登出成功"})
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "建立会话JWT中间件失败")
	}

	return mw, nil
}

// newSessionStrategy 把gin-jwt包装成统一认证策略, 供路由组挂载。
func newSessionStrategy(mw *ginjwt.GinJWTMiddleware) middleware.AuthStrategy {
	return auth.NewJWTStrategy(*mw)
}

// sessionIssuer 把gin-jwt的TokenGenerator适配成令牌控制器需要的
// SessionIssuer: 兑换成功后为用户签发会话JWT。
type sessionIssuer struct {
	mw *ginjwt.GinJWTMiddleware
}

var _ token.SessionIssuer = (*sessionIssuer)(nil)

func (s *sessionIssuer) Issue(user *v1.User) (string, time.Time, error) {
	return s.mw.TokenGenerator(user)
}

// sessionPayload 把用户身份写进JWT声明。data是兑换成功的 *v1.User。
// username与sub双写, 兼容只认标准声明的客户端。
func sessionPayload(data interface{}) ginjwt.MapClaims {
	claims := ginjwt.MapClaims{
		"iss": sessionTokenIssuer,
		"aud": auth.AuthzAudience,
		"jti": idutil.GetUUID36("sess_"),
	}
	if user, ok := data.(*v1.User); ok {
		claims[common.UsernameKey] = user.Name
		claims["sub"] = user.Name
	}

	return claims
}

// sessionIdentity 从已验签的声明取出用户名, 写进gin上下文和请求
// context, 权限校验与审计都从这里读。
func sessionIdentity(c *gin.Context) interface{} {
	claims := ginjwt.ExtractClaims(c)

	username, _ := claims[common.UsernameKey].(string)
	if username == "" {
		username, _ = claims["sub"].(string)
	}
	if username == "" {
		return nil
	}

	c.Set(common.UsernameKey, username)
	ctx := context.WithValue(c.Request.Context(), common.KeyUsername, username)
	ctx = context.WithValue(ctx, log.KeyUsername, username) //nolint:staticcheck // log.L按字符串键查值
	c.Request = c.Request.WithContext(ctx)

	return username
}

func sessionAuthorizator(data interface{}, c *gin.Context) bool {
	username, ok := data.(string)
	if !ok || username == "" {
		return false
	}

	log.L(c).Debugf("会话校验通过: username=%s", username)
	return true
}

// handleUnauthorized 把gin-jwt的401统一转成平台错误响应格式。
func handleUnauthorized(c *gin.Context, httpStatus int, message string) {
	core.WriteResponse(c, errors.WithCode(code.ErrUnauthorized, "%s", message), nil)
}

// sessionInfoHandler 会话自省: 解析请求携带的会话JWT, 返回身份与
// 有效期。走独立校验器而不是gin-jwt中间件, 客户端探测登录态时
// 拿到的是结构化错误码而非401兜底。
func sessionInfoHandler(opts *options.Options) gin.HandlerFunc {
	secret := []byte(opts.JwtOptions.Key)

	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		if raw == "" {
			if cookie, err := c.Cookie(token.SessionCookieName); err == nil {
				raw = cookie
			}
		}

		claims, err := jwtvalidator.ValidateToken(raw, secret)
		if err != nil {
			core.WriteResponse(c, err, nil)
			return
		}

		info := gin.H{"username": claims.Username}
		if claims.ExpiresAt != nil {
			info["expire_at"] = claims.ExpiresAt.Time
		}
		if claims.IssuedAt != nil {
			info["issued_at"] = claims.IssuedAt.Time
		}
		core.WriteResponse(c, nil, info)
	}
}
