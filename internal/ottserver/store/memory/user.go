package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	v1 "github.com/maxiaolu1981/cretem/nexuscore/api/apiserver/v1"
	metav1 "github.com/maxiaolu1981/cretem/nexuscore/component-base/meta/v1"
	"github.com/maxiaolu1981/cretem/nexuscore/component-base/util/idutil"
	"github.com/maxiaolu1981/cretem/nexuscore/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/code"
)

type userStore struct {
	mu     sync.RWMutex
	users  map[string]*v1.User
	nextID uint64
}

func newUserStore() *userStore {
	return &userStore{
		users:  make(map[string]*v1.User),
		nextID: 1,
	}
}

// seedDefaults 预置开发账号。user/password 走免密登录流程,
// admin/Admin@2021 拥有管理接口权限。
func (u *userStore) seedDefaults() error {
	seeds := []struct {
		name     string
		password string
		nickname string
		email    string
		isAdmin  int
	}{
		{name: "user", password: "password", nickname: "开发用户", email: "user@example.com", isAdmin: 0},
		{name: "admin", password: "Admin@2021", nickname: "管理员", email: "admin@example.com", isAdmin: 1},
	}

	for _, seed := range seeds {
		hashed, err := bcrypt.GenerateFromPassword([]byte(seed.password), bcrypt.DefaultCost)
		if err != nil {
			return errors.Wrap(err, "预置账号密码加密失败")
		}

		user := &v1.User{
			ObjectMeta: metav1.ObjectMeta{Name: seed.name},
			Status:     1,
			Nickname:   seed.nickname,
			Password:   string(hashed),
			Email:      seed.email,
			IsAdmin:    seed.isAdmin,
		}
		if err := u.Create(context.Background(), user, metav1.CreateOptions{}); err != nil {
			return err
		}
	}
	return nil
}

func (u *userStore) Create(ctx context.Context, user *v1.User, opts metav1.CreateOptions) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if _, ok := u.users[user.Name]; ok {
		return errors.WithCode(code.ErrUserAlreadyExist, "用户[%s]已经存在", user.Name)
	}

	now := time.Now()
	cp := *user
	cp.ID = u.nextID
	u.nextID++
	cp.InstanceID = idutil.GetInstanceID(cp.ID, "user-")
	cp.CreatedAt = now
	cp.UpdatedAt = now

	u.users[cp.Name] = &cp

	// 回写生成的字段, 与数据库 AfterCreate 钩子行为保持一致
	user.ID = cp.ID
	user.InstanceID = cp.InstanceID
	user.CreatedAt = cp.CreatedAt
	user.UpdatedAt = cp.UpdatedAt
	return nil
}

func (u *userStore) Update(ctx context.Context, user *v1.User, opts metav1.UpdateOptions) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	existing, ok := u.users[user.Name]
	if !ok {
		return errors.WithCode(code.ErrUserNotFound, "用户[%s]不存在", user.Name)
	}

	cp := *user
	cp.ID = existing.ID
	cp.InstanceID = existing.InstanceID
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = time.Now()
	u.users[user.Name] = &cp
	return nil
}

func (u *userStore) Delete(ctx context.Context, username string, opts metav1.DeleteOptions) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if _, ok := u.users[username]; !ok {
		return errors.WithCode(code.ErrUserNotFound, "用户[%s]不存在", username)
	}
	delete(u.users, username)
	return nil
}

func (u *userStore) Get(ctx context.Context, username string, opts metav1.GetOptions) (*v1.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	user, ok := u.users[username]
	if !ok {
		return nil, errors.WithCode(code.ErrUserNotFound, "用户[%s]不存在", username)
	}

	// 返回副本, 调用方清理密码字段时不会污染存储
	cp := *user
	return &cp, nil
}

func (u *userStore) List(ctx context.Context, opts metav1.ListOptions) (*v1.UserList, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	active := make([]*v1.User, 0, len(u.users))
	for _, user := range u.users {
		if user.Status != 1 {
			continue
		}
		cp := *user
		active = append(active, &cp)
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID > active[j].ID })

	var limit, offset int
	if opts.Limit != nil {
		limit = int(*opts.Limit)
	}
	if limit <= 0 {
		limit = 50
	}
	if opts.Offset != nil {
		offset = int(*opts.Offset)
	}

	total := int64(len(active))
	if offset >= len(active) {
		active = nil
	} else {
		active = active[offset:]
	}
	if len(active) > limit {
		active = active[:limit]
	}

	return &v1.UserList{
		ListMeta: metav1.ListMeta{TotalCount: total},
		Items:    active,
	}, nil
}
