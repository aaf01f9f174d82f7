// Copyright 2020 Lingfei Kong <colin404@foxmail.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/store/interfaces"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/code"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/middleware/common"

	"github.com/maxiaolu1981/cretem/nexuscore/component-base/core"
	metav1 "github.com/maxiaolu1981/cretem/nexuscore/component-base/meta/v1"
	"github.com/maxiaolu1981/cretem/nexuscore/errors"
)

// 用户资源路由, 权限判定按FullPath匹配
const (
	RouteUsersCollection = "/v1/users"       // 创建(POST)/列表(GET)
	RouteUsersDetail     = "/v1/users/:name" // 详情(GET)/更新(PUT)/删除(DELETE)
)

// Validation 用户资源权限校验：管理员放行(删除自己除外),
// 普通用户只允许查看和修改自己的资料。
func Validation() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := requireAdmin(c)
		if err == nil {
			// 管理员不允许通过本接口删除自己
			if c.Request.Method == http.MethodDelete && c.Param("name") == usernameFromCtx(c) {
				core.WriteResponse(c, errors.WithCode(code.ErrPermissionDenied, "管理员不允许删除自己的账号"), nil)
				c.Abort()
				return
			}
			c.Next()
			return
		}

		switch {
		case errors.IsCode(err, code.ErrPermissionDenied):
			if !allowNormalUser(c) {
				return // allowNormalUser 已写响应并Abort
			}
			c.Next()
		case errors.IsCode(err, code.ErrUnauthorized),
			errors.IsCode(err, code.ErrUserNotFound),
			errors.IsCode(err, code.ErrDatabase),
			errors.IsCode(err, code.ErrDatabaseTimeout):
			core.WriteResponse(c, err, nil)
			c.Abort()
		default:
			core.WriteResponse(c, errors.WithCode(code.ErrInternal, "权限校验异常"), nil)
			c.Abort()
		}
	}
}

// allowNormalUser 普通用户的路径权限：只能操作自己的详情, 且不能删除。
func allowNormalUser(c *gin.Context) bool {
	currentUser := usernameFromCtx(c)
	targetUser := c.Param("name")

	switch c.FullPath() {
	case RouteUsersDetail:
		if currentUser != targetUser {
			core.WriteResponse(c,
				errors.WithCode(code.ErrPermissionDenied, "非管理员仅允许操作自己的账号"), nil)
			c.Abort()
			return false
		}
		if c.Request.Method == http.MethodDelete {
			core.WriteResponse(c,
				errors.WithCode(code.ErrPermissionDenied, "非管理员不允许删除账号, 请联系管理员"), nil)
			c.Abort()
			return false
		}
	case RouteUsersCollection:
		core.WriteResponse(c,
			errors.WithCode(code.ErrPermissionDenied, "普通用户无权限管理用户列表"), nil)
		c.Abort()
		return false
	default:
		core.WriteResponse(c,
			errors.WithCode(code.ErrPermissionDenied, "非管理员无权限访问此接口"), nil)
		c.Abort()
		return false
	}

	return true
}

// requireAdmin 判断当前用户是否为管理员。非管理员返回ErrPermissionDenied,
// 其余错误原样透出由调用方分类处理。
func requireAdmin(c *gin.Context) error {
	username := usernameFromCtx(c)
	if username == "" {
		return errors.WithCode(code.ErrUnauthorized, "未获取到当前用户名")
	}

	user, err := interfaces.Client().Users().Get(c, username, metav1.GetOptions{})
	if err != nil {
		return err
	}

	if user.IsAdmin != 1 {
		return errors.WithCode(code.ErrPermissionDenied, "当前用户(%s)非管理员", username)
	}

	return nil
}

func usernameFromCtx(c *gin.Context) string {
	usernameVal, exists := c.Get(common.UsernameKey)
	if !exists {
		return ""
	}
	username, ok := usernameVal.(string)
	if !ok {
		return ""
	}
	return username
}
