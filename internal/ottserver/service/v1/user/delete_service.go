package user

import (
	"context"

	metav1 "github.com/maxiaolu1981/cretem/nexuscore/component-base/meta/v1"

	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

func (u *UserService) Delete(ctx context.Context, username string, opts metav1.DeleteOptions) error {
	if err := u.Store.Users().Delete(ctx, username, opts); err != nil {
		return err
	}

	u.invalidateCache(ctx, username)

	log.L(ctx).Infow("用户删除成功", "username", username)
	return nil
}
