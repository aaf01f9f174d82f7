package user

import (
	"context"
	"time"

	v1 "github.com/maxiaolu1981/cretem/nexuscore/api/apiserver/v1"
	metav1 "github.com/maxiaolu1981/cretem/nexuscore/component-base/meta/v1"

	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/metrics"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

func (u *UserService) Get(ctx context.Context, username string, opts metav1.GetOptions) (*v1.User, error) {
	cacheKey := u.cacheKey(username)

	// singleflight 合并并发的同名查询, 高并发下只打一次存储
	result, err, shared := u.group.Do(cacheKey, func() (interface{}, error) {
		return u.getWithCache(ctx, username, cacheKey, opts)
	})
	if shared {
		log.L(ctx).Debugf("并发查询被合并: %s", username)
	}
	if err != nil {
		return nil, err
	}
	return result.(*v1.User), nil
}

// redisQueryTimeout 返回缓存查询的超时。Timeout 选项按秒配置,
// 这里换算成 Duration, 未配置时兜底5秒。
func (u *UserService) redisQueryTimeout() time.Duration {
	if u.Options != nil && u.Options.RedisOptions != nil && u.Options.RedisOptions.Timeout > 0 {
		return time.Duration(u.Options.RedisOptions.Timeout) * time.Second
	}
	return 5 * time.Second
}

func (u *UserService) getWithCache(ctx context.Context, username, cacheKey string, opts metav1.GetOptions) (*v1.User, error) {
	if !u.cacheReady() {
		return u.Store.Users().Get(ctx, username, opts)
	}

	redisCtx, cancel := context.WithTimeout(ctx, u.redisQueryTimeout())
	defer cancel()

	cached, hit, err := u.getFromCache(redisCtx, cacheKey)
	if err != nil && !hit {
		// 缓存故障降级直查, 不让Redis问题放大成业务失败
		log.L(ctx).Warnw("缓存查询失败, 降级到数据库", "error", err.Error())
		metrics.CacheHits.WithLabelValues("degraded").Inc()
		return u.Store.Users().Get(ctx, username, opts)
	}
	if hit {
		// err 非空表示命中空值哨兵(用户不存在)
		return cached, err
	}

	metrics.CacheHits.WithLabelValues("no_record").Inc()
	return u.getFromDBAndSetCache(ctx, username, cacheKey, opts)
}

func (u *UserService) getFromDBAndSetCache(ctx context.Context, username, cacheKey string, opts metav1.GetOptions) (*v1.User, error) {
	user, err := u.Store.Users().Get(ctx, username, opts)
	if err != nil {
		if isUserNotFound(err) {
			u.cacheNullValue(ctx, cacheKey)
		}
		return nil, err
	}

	u.setUserCache(ctx, cacheKey, user)
	return user, nil
}
