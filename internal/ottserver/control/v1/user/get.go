package user

import (
	"strings"

	"github.com/gin-gonic/gin"
	v1 "github.com/maxiaolu1981/cretem/nexuscore/api/apiserver/v1"
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

// Get 按用户名查询用户，返回脱敏后的公开视图。
func (u *UserController) Get(ctx *gin.Context) {
	operator := common.GetUsername(ctx.Request.Context())
	username := strings.TrimSpace(ctx.Param("name"))

	auditLog := func(outcome, message string) {
		event := audit.BuildEventFromRequest(ctx.Request)
		event.Action = "user.get"
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

	c, cancel := u.requestContext(ctx)
	defer cancel()

	var found *v1.User
	err := metrics.MonitorBusinessOperation("user", "get", "http", func() error {
		var getErr error
		found, getErr = u.srv.Users().Get(c, username, metav1.GetOptions{})
		return getErr
	})
	if err != nil {
		if !errors.IsCode(err, code.ErrUserNotFound) {
			log.L(ctx).Errorf("用户查询失败: username=%s, error=%v", username, err)
		}
		core.WriteResponse(ctx, err, nil)
		auditLog("fail", err.Error())
		return
	}

	auditLog("success", "")
	core.WriteResponse(ctx, nil, v1.ConvertToPublicUser(found))
}
