package user

import (
	"context"

	v1 "github.com/maxiaolu1981/cretem/nexuscore/api/apiserver/v1"
	metav1 "github.com/maxiaolu1981/cretem/nexuscore/component-base/meta/v1"

	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

func (u *UserService) Update(ctx context.Context, user *v1.User, opts metav1.UpdateOptions) error {
	// 先确认用户存在, 避免 Updates 对不存在的行静默成功
	existing, err := u.Store.Users().Get(ctx, user.Name, metav1.GetOptions{})
	if err != nil {
		return err
	}

	user.ID = existing.ID
	user.InstanceID = existing.InstanceID
	user.CreatedAt = existing.CreatedAt
	// 资料更新不改密码, 空密码表示保留原哈希
	if user.Password == "" {
		user.Password = existing.Password
	}

	if err := u.Store.Users().Update(ctx, user, opts); err != nil {
		return err
	}

	u.invalidateCache(ctx, user.Name)

	log.L(ctx).Infow("用户更新成功", "username", user.Name)
	return nil
}
