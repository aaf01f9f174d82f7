package token

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/maxiaolu1981/cretem/nexuscore/errors"
	tokenv1 "github.com/maxiaolu1981/cretem/ottserver/api/v1"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/audit"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/code"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/middleware/common"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

// SessionCookieName 会话凭证写入的Cookie名，与认证中间件的
// TokenLookup(cookie: jwt)保持一致。
const SessionCookieName = "jwt"

// Login 处理令牌兑换请求：POST 表单字段token。
// 兑换成功先建立会话(写入jwt cookie)再触发成功回调，回调里可以读到
// 已认证的用户；任何失败走失败回调，不建立会话。
func (t *TokenController) Login(ctx *gin.Context) {
	var r tokenv1.LoginTokenRequest
	if err := ctx.ShouldBind(&r); err != nil || strings.TrimSpace(r.Token) == "" {
		failErr := errors.WithCode(code.ErrTokenNotFound, "未提交令牌")
		t.auditLogin(ctx, "", "fail", failErr.Error())
		t.failure.Handle(ctx, failErr)
		return
	}
	tokenValue := strings.TrimSpace(r.Token)

	c := ctx.Request.Context()
	if _, hasDeadline := c.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		c, cancel = context.WithTimeout(c, t.requestTimeout())
		defer cancel()
	}

	user, claimed, err := t.srv.Tokens().Consume(c, tokenValue)
	if err != nil {
		log.L(ctx).Warnf("令牌兑换失败: token=%s, reason=%v", maskToken(tokenValue), err)
		t.auditLogin(ctx, "", "fail", err.Error())
		t.failure.Handle(ctx, err)
		return
	}

	sessionToken, expire, err := t.session.Issue(user)
	if err != nil {
		log.L(ctx).Errorf("会话签发失败: username=%s, error=%v", user.Name, err)
		failErr := errors.WrapC(err, code.ErrInternal, "会话签发失败")
		t.auditLogin(ctx, user.Name, "fail", failErr.Error())
		t.failure.Handle(ctx, failErr)
		return
	}

	maxAge := int(time.Until(expire).Seconds())
	cookieDomain, cookieSecure := "", false
	if t.options != nil && t.options.GenericServerRunOptions != nil {
		cookieDomain = t.options.GenericServerRunOptions.CookieDomain
		cookieSecure = t.options.GenericServerRunOptions.CookieSecure
	}
	ctx.SetCookie(SessionCookieName, sessionToken, maxAge, "/", cookieDomain, cookieSecure, true)
	ctx.Set(common.UsernameKey, user.Name)

	log.L(ctx).Infow("令牌登录成功",
		"username", user.Name,
		"token", maskToken(claimed.TokenValue),
		"session_expire", expire.Format(time.RFC3339),
	)
	t.auditLogin(ctx, user.Name, "success", "")
	t.success.Handle(ctx, user)
}

func (t *TokenController) auditLogin(ctx *gin.Context, username, outcome, message string) {
	event := audit.BuildEventFromRequest(ctx.Request)
	event.Action = "token.consume"
	event.ResourceType = "token"
	event.Actor = username
	event.Outcome = outcome
	if message != "" {
		event.ErrorMessage = message
	}
	submitAudit(ctx, event)
}

// maskToken 只保留令牌值前8位用于日志定位，完整值是登录凭证不落日志。
func maskToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}
