/*
validator 包向gin默认的binding校验器注册本项目的自定义规则。
匿名导入本包后, 结构体字段就可以用 binding:"username" 和
binding:"password" 触发平台统一的合法性校验。
*/
package validator

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/maxiaolu1981/cretem/nexuscore/component-base/validation"
)

// validateUsername 校验用户名是否符合平台命名规范。
func validateUsername(fl validator.FieldLevel) bool {
	username := fl.Field().String()
	if errs := validation.IsQualifiedName(username); len(errs) > 0 {
		return false
	}

	return true
}

// validatePassword 校验密码强度。本服务不提供密码登录,
// 该规则服务于用户管理接口的密码字段(仅用于落库保存)。
func validatePassword(fl validator.FieldLevel) bool {
	password := fl.Field().String()
	if err := validation.IsValidPassword(password); err != nil {
		return false
	}

	return true
}

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("username", validateUsername)
		_ = v.RegisterValidation("password", validatePassword)
	}
}
