package user

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/maxiaolu1981/cretem/nexuscore/component-base/core"
	metav1 "github.com/maxiaolu1981/cretem/nexuscore/component-base/meta/v1"
	"github.com/maxiaolu1981/cretem/nexuscore/component-base/validation"
	"github.com/maxiaolu1981/cretem/nexuscore/errors"

	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/audit"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/code"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/metrics"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/middleware/common"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

// Delete 删除用户。幂等性由存储层保证：目标不存在返回用户不存在错误。
func (u *UserController) Delete(ctx *gin.Context) {
	operator := common.GetUsername(ctx.Request.Context())
	username := strings.TrimSpace(ctx.Param("name"))

	auditLog := func(outcome, message string) {
		event := audit.BuildEventFromRequest(ctx.Request)
		event.Action = "user.delete"
		event.ResourceType = "user"
		event.ResourceID = username
		event.Actor = operator
		event.Outcome = outcome
		if message != "" {
			event.ErrorMessage = message
		}
		submitAudit(ctx, event)
	}

	if msgs := validation.IsQualifiedName(username); len(msgs) > 0 {
		err := errors.WithCode(code.ErrValidation, "用户名格式非法: %s", strings.Join(msgs, "; "))
		core.WriteResponse(ctx, err, nil)
		auditLog("fail", err.Error())
		return
	}
	if username == operator {
		err := errors.WithCode(code.ErrInvalidParameter, "不能删除当前登录用户")
		core.WriteResponse(ctx, err, nil)
		auditLog("deny", err.Error())
		return
	}

	c, cancel := u.requestContext(ctx)
	defer cancel()

	err := metrics.MonitorBusinessOperation("user", "delete", "http", func() error {
		return u.srv.Users().Delete(c, username, metav1.DeleteOptions{})
	})
	if err != nil {
		if !errors.IsCode(err, code.ErrUserNotFound) {
			log.L(ctx).Errorf("用户删除失败: username=%s, error=%v", username, err)
		}
		core.WriteResponse(ctx, err, nil)
		auditLog("fail", err.Error())
		return
	}

	auditLog("success", "")
	core.WriteResponse(ctx, nil, gin.H{
		"username": username,
		"operator": operator,
		"message":  "用户删除成功",
	})
}
