// Package lock 提供基于Redis SETNX的分布式互斥, 用于多实例部署时
// 让同类后台任务(过期令牌清扫等)同一时刻只在一个实例上跑。
package lock

import (
	"context"
	"errors"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/storage"
)

// ErrLockNotHeld 表示释放时锁已不属于当前实例(已过期或被重新抢占)。
var ErrLockNotHeld = errors.New("lock not held by this client")

// releaseScript 只有持有者能删锁: 比对value再DEL, 整段原子执行,
// 防止任务超时后把别的实例新抢到的锁误删。
const releaseScript = `
    if redis.call("get", KEYS[1]) == tostring(ARGV[1]) then
        return redis.call("del", KEYS[1])
    else
        return 0
    end
`

// RedisLock 一次性使用: 每个实例每轮任务建一把新锁, value是随机UUID,
// 锁到期自动释放, 持有方正常结束时主动Release。
type RedisLock struct {
	redis   *storage.RedisCluster
	key     string
	value   string
	timeout time.Duration
}

func NewRedisLock(redis *storage.RedisCluster, key string, timeout time.Duration) *RedisLock {
	return &RedisLock{
		redis:   redis,
		key:     key,
		value:   uuid.Must(uuid.NewV4()).String(),
		timeout: timeout,
	}
}

// TryAcquire 抢锁, 抢不到隔interval再试, 最多maxRetries次。
// 重试耗尽仍被别的实例持有时返回(false, nil), 错误只代表Redis本身不可用。
func (l *RedisLock) TryAcquire(ctx context.Context, maxRetries int, retryInterval time.Duration) (bool, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		ok, err := l.redis.SetNX(ctx, l.key, l.value, l.timeout)
		if err != nil {
			log.Errorf("acquire lock %s failed: %v", l.key, err)
			return false, err
		}
		if ok {
			return true, nil
		}
		if attempt == maxRetries-1 {
			break
		}

		timer := time.NewTimer(retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
	return false, nil
}

// Release 释放自己持有的锁。锁已过期或被别人持有时返回ErrLockNotHeld。
func (l *RedisLock) Release(ctx context.Context) error {
	result, err := l.redis.Eval(ctx, releaseScript, []string{l.key}, []interface{}{l.value})
	if err != nil {
		log.Errorf("release lock %s failed: %v", l.key, err)
		return err
	}
	if deleted, ok := result.(int64); ok && deleted == 1 {
		return nil
	}
	return ErrLockNotHeld
}
