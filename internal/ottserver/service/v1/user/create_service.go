package user

import (
	"context"

	v1 "github.com/maxiaolu1981/cretem/nexuscore/api/apiserver/v1"
	"github.com/maxiaolu1981/cretem/nexuscore/component-base/auth"
	metav1 "github.com/maxiaolu1981/cretem/nexuscore/component-base/meta/v1"
	"github.com/maxiaolu1981/cretem/nexuscore/errors"

	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/code"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

func (u *UserService) Create(ctx context.Context, user *v1.User, opts metav1.CreateOptions) error {
	if user.Password == "" {
		return errors.WithCode(code.ErrInvalidParameter, "密码不能为空")
	}

	// 密码在服务层统一加密, 控制层和存储层都只接触密文
	hashed, err := auth.Encrypt(user.Password)
	if err != nil {
		log.L(ctx).Errorf("用户密码加密失败: username=%s, err=%v", user.Name, err)
		return errors.WithCode(code.ErrEncrypt, "用户密码加密失败")
	}
	user.Password = hashed

	if err := u.Store.Users().Create(ctx, user, opts); err != nil {
		return err
	}

	// 删除可能残留的空值哨兵, 新建用户立即可见
	u.invalidateCache(ctx, user.Name)

	log.L(ctx).Infow("用户创建成功", "username", user.Name)
	return nil
}
