package user

import (
	"context"

	v1 "github.com/maxiaolu1981/cretem/nexuscore/api/apiserver/v1"
	metav1 "github.com/maxiaolu1981/cretem/nexuscore/component-base/meta/v1"
)

// List 列表不走缓存: 管理接口低频, 实时性优先。
func (u *UserService) List(ctx context.Context, opts metav1.ListOptions) (*v1.UserList, error) {
	return u.Store.Users().List(ctx, opts)
}
