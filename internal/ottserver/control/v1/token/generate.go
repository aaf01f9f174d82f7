package token

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/maxiaolu1981/cretem/nexuscore/component-base/core"
	"github.com/maxiaolu1981/cretem/nexuscore/component-base/validation"
	"github.com/maxiaolu1981/cretem/nexuscore/errors"
	tokenv1 "github.com/maxiaolu1981/cretem/ottserver/api/v1"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/audit"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/code"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/metrics"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

// Generate 处理令牌签发请求：POST 表单字段username。
// 签发对未知用户名同样成功，存在性校验推迟到兑换阶段，
// 避免这个端点变成用户名枚举接口。
func (t *TokenController) Generate(ctx *gin.Context) {
	var r tokenv1.GenerateTokenRequest
	if err := ctx.ShouldBind(&r); err != nil {
		errBind := errors.WithCode(code.ErrBind, "参数绑定失败: %v", err)
		core.WriteResponse(ctx, errBind, nil)
		t.auditGenerate(ctx, r.Username, "fail", errBind.Error())
		return
	}

	username := strings.TrimSpace(r.Username)
	if username == "" {
		err := errors.WithCode(code.ErrValidation, "用户名不能为空")
		core.WriteResponse(ctx, err, nil)
		t.auditGenerate(ctx, username, "fail", err.Error())
		return
	}
	if msgs := validation.IsQualifiedName(username); len(msgs) > 0 {
		err := errors.WithCode(code.ErrValidation, "用户名格式非法: %s", strings.Join(msgs, "; "))
		core.WriteResponse(ctx, err, nil)
		t.auditGenerate(ctx, username, "fail", err.Error())
		return
	}

	c := ctx.Request.Context()
	if _, hasDeadline := c.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		c, cancel = context.WithTimeout(c, t.requestTimeout())
		defer cancel()
	}

	var minted *tokenv1.OneTimeToken
	err := metrics.MonitorBusinessOperation("token", "generate", "http", func() error {
		var genErr error
		minted, genErr = t.srv.Tokens().Generate(c, username, ctx.ClientIP(), ctx.Request.UserAgent())
		return genErr
	})
	if err != nil {
		log.L(ctx).Errorf("令牌签发失败: username=%s, error=%v", username, err)
		core.WriteResponse(ctx, err, nil)
		t.auditGenerate(ctx, username, "fail", err.Error())
		return
	}

	t.auditGenerate(ctx, username, "success", "")
	t.generated.Handle(ctx, minted)
}

func (t *TokenController) auditGenerate(ctx *gin.Context, username, outcome, message string) {
	event := audit.BuildEventFromRequest(ctx.Request)
	event.Action = "token.generate"
	event.ResourceType = "token"
	event.Actor = username
	event.Outcome = outcome
	if message != "" {
		event.ErrorMessage = message
	}
	submitAudit(ctx, event)
}
