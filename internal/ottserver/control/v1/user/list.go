package user

import (
	"github.com/gin-gonic/gin"
	v1 "github.com/maxiaolu1981/cretem/nexuscore/api/apiserver/v1"
	"github.com/maxiaolu1981/cretem/nexuscore/component-base/core"
	metav1 "github.com/maxiaolu1981/cretem/nexuscore/component-base/meta/v1"
	"github.com/maxiaolu1981/cretem/nexuscore/errors"

	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/code"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/metrics"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

// List 分页列出启用状态的用户，脱敏后返回。
func (u *UserController) List(ctx *gin.Context) {
	var opts metav1.ListOptions
	if err := ctx.ShouldBindQuery(&opts); err != nil {
		core.WriteResponse(ctx, errors.WithCode(code.ErrBind, "查询参数绑定失败: %v", err), nil)
		return
	}

	c, cancel := u.requestContext(ctx)
	defer cancel()

	var users *v1.UserList
	err := metrics.MonitorBusinessOperation("user", "list", "http", func() error {
		var listErr error
		users, listErr = u.srv.Users().List(c, opts)
		return listErr
	})
	if err != nil {
		log.L(ctx).Errorf("用户列表查询失败: %v", err)
		core.WriteResponse(ctx, err, nil)
		return
	}

	items := make([]*v1.PublicUser, 0, len(users.Items))
	for _, item := range users.Items {
		items = append(items, v1.ConvertToPublicUser(item))
	}

	core.WriteResponse(ctx, nil, gin.H{
		"totalCount": users.TotalCount,
		"items":      items,
	})
}
