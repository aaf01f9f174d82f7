/*
user 包提供 /v1/users 管理接口。这组接口位于JWT会话保护面之内，
一次性令牌登录建立的会话在这里端到端生效。

控制器负责绑定、参数校验、审计与响应编写，业务语义在 service 层。
*/
package user

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"

	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/options"
	srvv1 "github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/service/v1"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/audit"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/middleware"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// UserController 处理用户资源的管理请求。
type UserController struct {
	srv     srvv1.ServiceManager
	options *options.Options
}

func NewUserController(srv srvv1.ServiceManager, opts *options.Options) *UserController {
	return &UserController{srv: srv, options: opts}
}

// requestContext 给没有截止时间的请求补上服务级超时。
func (u *UserController) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	c := ctx.Request.Context()
	if _, hasDeadline := c.Deadline(); hasDeadline {
		return c, func() {}
	}

	timeout := 30 * time.Second
	if u.options != nil && u.options.GenericServerRunOptions != nil &&
		u.options.GenericServerRunOptions.CtxTimeout > 0 {
		timeout = u.options.GenericServerRunOptions.CtxTimeout
	}
	return context.WithTimeout(c, timeout)
}

func submitAudit(c *gin.Context, event audit.Event) {
	if c == nil {
		return
	}
	mgr := audit.FromGinContext(c)
	if mgr == nil {
		return
	}
	if event.RequestID == "" {
		event.RequestID = middleware.GetRequestIDFromContext(c)
	}
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	if route := c.FullPath(); route != "" {
		event.Metadata["route"] = route
	}
	if event.Metadata["method"] == nil {
		event.Metadata["method"] = c.Request.Method
	}
	mgr.Submit(c.Request.Context(), event)
}
