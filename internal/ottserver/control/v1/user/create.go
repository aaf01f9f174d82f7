package user

import (
	"fmt"
	"io"
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

// Create 创建用户。密码在service层加密后入库。
func (u *UserController) Create(ctx *gin.Context) {
	operator := common.GetUsername(ctx.Request.Context())
	auditLog := func(outcome, target, message string) {
		event := audit.BuildEventFromRequest(ctx.Request)
		event.Action = "user.create"
		event.ResourceType = "user"
		event.Actor = operator
		event.Target = target
		event.Outcome = outcome
		if message != "" {
			event.ErrorMessage = message
		}
		submitAudit(ctx, event)
	}

	body, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		errBind := errors.WithCode(code.ErrBind, "读取请求体失败: %v", err)
		core.WriteResponse(ctx, errBind, nil)
		auditLog("fail", "", errBind.Error())
		return
	}

	var r v1.User
	if err := json.Unmarshal(body, &r); err != nil {
		errBind := errors.WithCode(code.ErrBind, "参数绑定失败: %v", err)
		core.WriteResponse(ctx, errBind, nil)
		auditLog("fail", "", errBind.Error())
		return
	}
	if r.Status == 0 {
		r.Status = 1
	}

	if strings.TrimSpace(r.Name) == "" {
		err := errors.WithCode(code.ErrValidation, "用户名不能为空")
		core.WriteResponse(ctx, err, nil)
		auditLog("fail", "", err.Error())
		return
	}
	if validationErrs := r.Validate(); len(validationErrs) > 0 {
		details := make(map[string]string, len(validationErrs))
		for _, fieldErr := range validationErrs {
			details[fieldErr.Field] = fieldErr.ErrorBody()
		}
		err := errors.WithCode(code.ErrValidation, "参数校验失败: %+v", details)
		log.L(ctx).Warnf("用户创建参数校验失败: username=%s, detail=%+v", r.Name, details)
		core.WriteResponse(ctx, err, nil)
		auditLog("fail", r.Name, err.Error())
		return
	}

	c, cancel := u.requestContext(ctx)
	defer cancel()

	err = metrics.MonitorBusinessOperation("user", "create", "http", func() error {
		return u.srv.Users().Create(c, &r, metav1.CreateOptions{})
	})
	if err != nil {
		log.L(ctx).Errorf("用户创建失败: username=%s, error=%v", r.Name, err)
		core.WriteResponse(ctx, err, nil)
		auditLog("fail", r.Name, err.Error())
		return
	}

	auditLog("success", r.Name, "")
	core.WriteResponse(ctx, nil, gin.H{
		"user":     v1.ConvertToPublicUser(&r),
		"operator": operator,
		"message":  fmt.Sprintf("用户%s创建成功", r.Name),
	})
}
