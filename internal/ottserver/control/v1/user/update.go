package user

import (
	"strings"

	"github.com/gin-gonic/gin"
	v1 "github.com/maxiaolu1981/cretem/nexuscore/api/apiserver/v1"
	"github.com/maxiaolu1981/cretem/nexuscore/component-base/core"
	metav1 "github.com/maxiaolu1981/cretem/nexuscore/component-base/meta/v1"
	"github.com/maxiaolu1981/cretem/nexuscore/errors"

	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/audit"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/code"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/metrics"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/middleware/common"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

// Update 更新用户资料(昵称/邮箱/手机/状态)。路径参数定用户，
// 请求体里的用户名被忽略，密码走不到这里。
func (u *UserController) Update(ctx *gin.Context) {
	operator := common.GetUsername(ctx.Request.Context())
	username := strings.TrimSpace(ctx.Param("name"))

	auditLog := func(outcome, message string) {
		event := audit.BuildEventFromRequest(ctx.Request)
		event.Action = "user.update"
		event.ResourceType = "user"
		event.ResourceID = username
		event.Actor = operator
		event.Outcome = outcome
		if message != "" {
			event.ErrorMessage = message
		}
		submitAudit(ctx, event)
	}

	var r v1.User
	if err := ctx.ShouldBindJSON(&r); err != nil {
		errBind := errors.WithCode(code.ErrBind, "参数绑定失败: %v", err)
		core.WriteResponse(ctx, errBind, nil)
		auditLog("fail", errBind.Error())
		return
	}
	r.Name = username
	r.Password = ""

	if validationErrs := r.ValidateUpdate(); len(validationErrs) > 0 {
		details := make(map[string]string, len(validationErrs))
		for _, fieldErr := range validationErrs {
			details[fieldErr.Field] = fieldErr.ErrorBody()
		}
		err := errors.WithCode(code.ErrValidation, "参数校验失败: %+v", details)
		core.WriteResponse(ctx, err, nil)
		auditLog("fail", err.Error())
		return
	}

	c, cancel := u.requestContext(ctx)
	defer cancel()

	err := metrics.MonitorBusinessOperation("user", "update", "http", func() error {
		return u.srv.Users().Update(c, &r, metav1.UpdateOptions{})
	})
	if err != nil {
		log.L(ctx).Errorf("用户更新失败: username=%s, error=%v", username, err)
		core.WriteResponse(ctx, err, nil)
		auditLog("fail", err.Error())
		return
	}

	auditLog("success", "")
	core.WriteResponse(ctx, nil, gin.H{
		"username": username,
		"operator": operator,
		"message":  "用户更新成功",
	})
}
