/*
user 包实现用户资源的业务逻辑。

读路径带两层防护: singleflight 合并并发的同名查询, Redis 缓存挡住重复
回源, 查不到的用户名写入短期空值缓存防穿透。写路径直达存储, 成功后删除
对应缓存键保证读到新值。Redis 不可用时(开发模式不起redis)自动降级为
直查存储, 功能不受影响。
*/
package user

import (
	"context"
	stderrors "errors"
	"math/rand"
	"time"

	jsoniter "github.com/json-iterator/go"
	v1 "github.com/maxiaolu1981/cretem/nexuscore/api/apiserver/v1"
	metav1 "github.com/maxiaolu1981/cretem/nexuscore/component-base/meta/v1"
	"github.com/maxiaolu1981/cretem/nexuscore/errors"
	"golang.org/x/sync/singleflight"

	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/options"
	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/store/interfaces"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/code"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/metrics"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// RATE_LIMIT_PREVENTION 空值缓存哨兵: 查库确认不存在的用户名短期内
	// 不再回源, 防止穿透打垮数据库。
	RATE_LIMIT_PREVENTION = "rate_limit_prevention"

	userCacheKeyPrefix = "ott:user:"
	userCacheTTL       = 10 * time.Minute
	nullCacheTTL       = 30 * time.Second
)

// UserSrv 用户资源的业务接口。
type UserSrv interface {
	Create(ctx context.Context, user *v1.User, opts metav1.CreateOptions) error
	Update(ctx context.Context, user *v1.User, opts metav1.UpdateOptions) error
	Delete(ctx context.Context, username string, opts metav1.DeleteOptions) error
	Get(ctx context.Context, username string, opts metav1.GetOptions) (*v1.User, error)
	List(ctx context.Context, opts metav1.ListOptions) (*v1.UserList, error)
}

type UserService struct {
	Store   interfaces.Factory
	Redis   *storage.RedisCluster
	Options *options.Options
	group   singleflight.Group
}

var _ UserSrv = (*UserService)(nil)

func (u *UserService) cacheKey(username string) string {
	return userCacheKeyPrefix + username
}

// cacheReady Redis 就绪才启用缓存, 否则全部直查存储。
func (u *UserService) cacheReady() bool {
	return u.Redis != nil && u.Redis.Up() == nil
}

// getFromCache 返回 (用户, 是否命中, 错误)。命中空值哨兵时返回用户不存在。
func (u *UserService) getFromCache(ctx context.Context, cacheKey string) (*v1.User, bool, error) {
	startTime := time.Now()
	var operationErr error
	defer func() {
		metrics.RecordRedisOperation("get", time.Since(startTime).Seconds(), operationErr)
	}()

	data, err := u.Redis.GetKey(ctx, cacheKey)
	if err != nil {
		if stderrors.Is(err, storage.ErrKeyNotFound) {
			return nil, false, nil
		}
		operationErr = err
		return nil, false, err
	}

	if data == RATE_LIMIT_PREVENTION {
		metrics.CacheHits.WithLabelValues("null_hit").Inc()
		return nil, true, errors.WithCode(code.ErrUserNotFound, "用户不存在")
	}

	user := &v1.User{}
	if err := json.Unmarshal([]byte(data), user); err != nil {
		operationErr = err
		log.Warnf("用户缓存数据损坏, 按未命中处理: key=%s err=%v", cacheKey, err)
		return nil, false, nil
	}
	metrics.CacheHits.WithLabelValues("hit").Inc()
	return user, true, nil
}

// setUserCache 写入用户缓存, 过期时间加随机抖动防雪崩。
func (u *UserService) setUserCache(ctx context.Context, cacheKey string, user *v1.User) {
	startTime := time.Now()
	var operationErr error
	defer func() {
		metrics.RecordRedisOperation("set", time.Since(startTime).Seconds(), operationErr)
	}()

	data, err := json.Marshal(user)
	if err != nil {
		log.Errorf("用户缓存序列化失败: %v", err)
		return
	}

	jitter := time.Duration(rand.Intn(60)) * time.Second
	operationErr = u.Redis.SetKey(ctx, cacheKey, string(data), userCacheTTL+jitter)
	if operationErr != nil {
		log.Warnf("用户缓存写入失败: key=%s err=%v", cacheKey, operationErr)
	}
}

func (u *UserService) cacheNullValue(ctx context.Context, cacheKey string) {
	if err := u.Redis.SetKey(ctx, cacheKey, RATE_LIMIT_PREVENTION, nullCacheTTL); err != nil {
		log.Warnf("空值缓存写入失败: key=%s err=%v", cacheKey, err)
	}
}

// invalidateCache 写操作成功后删除缓存键, 包括可能存在的空值哨兵。
func (u *UserService) invalidateCache(ctx context.Context, username string) {
	if !u.cacheReady() {
		return
	}
	if _, err := u.Redis.DeleteKey(ctx, u.cacheKey(username)); err != nil {
		log.Warnf("用户缓存删除失败: username=%s err=%v", username, err)
	}
}

func isUserNotFound(err error) bool {
	return errors.IsCode(err, code.ErrUserNotFound)
}
