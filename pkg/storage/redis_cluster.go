/*
storage 包维护进程级的Redis连接池, 对上层暴露带键前缀的键值、扫描、Lua与SETNX原子操作。

连接由 ConnectToRedis 的后台协程建立并每秒探活, 健康状态落在包级原子量里;
业务方拿 RedisCluster{KeyPrefix: ...} 这样的轻量值对象直接用, Redis不可用时
所有操作立刻返回 ErrRedisIsDown, 不把请求挂在坏连接上。
*/
package storage

import (
	"context"
	"crypto/tls"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	redis "github.com/go-redis/redis/v8"

	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

// Config 是本包自己的连接配置。不直接复用上层的选项结构,
// 选项包经由server、middleware最终会引用回本包, 共用类型会成环。
type Config struct {
	Addrs                 []string
	MasterName            string
	Password              string
	Database              int
	MaxActive             int
	Timeout               int // 秒, 0表示用内置默认值
	EnableCluster         bool
	UseSSL                bool
	SSLInsecureSkipVerify bool
}

// ErrRedisIsDown 表示当前探活失败, 操作被直接拒绝。
var ErrRedisIsDown = errors.New("storage: Redis is either down or not configured")

// ErrKeyNotFound 统一包装 redis.Nil, 调用方不需要感知驱动细节。
var ErrKeyNotFound = errors.New("storage: key not found")

var (
	pool    atomic.Value // redis.UniversalClient
	redisUp atomic.Value // bool
)

// Connected 报告最近一次探活是否成功。
func Connected() bool {
	if v := redisUp.Load(); v != nil {
		return v.(bool)
	}
	return false
}

func client() redis.UniversalClient {
	if v := pool.Load(); v != nil {
		return v.(redis.UniversalClient)
	}
	return nil
}

// ConnectToRedis 建立连接池并常驻探活。ctx取消后退出, 健康标记保持最后一次结果。
func ConnectToRedis(ctx context.Context, config *Config) {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	redisUp.Store(checkPool(config))
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			redisUp.Store(checkPool(config))
		}
	}
}

// checkPool 确保连接池存在并能ping通。
func checkPool(config *Config) bool {
	c := client()
	if c == nil {
		c = newPool(config)
		if c == nil {
			return false
		}
		pool.Store(c)
	}
	return ping(c)
}

// ping 连续探测几次, 避免单次抖动把健康标记打下去。
func ping(c redis.UniversalClient) bool {
	const attempts = 3
	var lastErr error
	for i := 0; i < attempts; i++ {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		lastErr = c.Ping(pingCtx).Err()
		cancel()
		if lastErr == nil {
			return true
		}
		time.Sleep(200 * time.Millisecond)
	}
	log.Warnf("redis health check failed after %d attempts: %v", attempts, lastErr)
	return false
}

// newPool 按配置拓扑建池: 哨兵 > 集群 > 单机。建完先ping一次, 失败直接弃用。
func newPool(config *Config) redis.UniversalClient {
	timeout := 5 * time.Second
	if config.Timeout > 0 {
		timeout = time.Duration(config.Timeout) * time.Second
	}
	poolSize := 100
	if config.MaxActive > 0 {
		poolSize = config.MaxActive
	}

	var tlsConfig *tls.Config
	if config.UseSSL {
		tlsConfig = &tls.Config{InsecureSkipVerify: config.SSLInsecureSkipVerify} //nolint:gosec // 由配置显式开启
	}

	addrs := config.Addrs
	if len(addrs) == 0 {
		addrs = []string{"127.0.0.1:6379"}
	}

	uopts := &redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   config.MasterName,
		Password:     config.Password,
		DB:           config.Database,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		IdleTimeout:  5 * time.Minute,
		PoolSize:     poolSize,
		TLSConfig:    tlsConfig,
	}

	var c redis.UniversalClient
	switch {
	case uopts.MasterName != "":
		log.Debug("redis: creating sentinel failover client")
		c = redis.NewFailoverClient(uopts.Failover())
	case config.EnableCluster || len(addrs) > 1:
		log.Debug("redis: creating cluster client")
		c = redis.NewClusterClient(uopts.Cluster())
	default:
		log.Debug("redis: creating single-node client")
		c = redis.NewClient(uopts.Simple())
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		log.Errorf("redis: new pool failed first ping: %v", err)
		_ = c.Close()
		return nil
	}
	return c
}

// RedisCluster 是业务侧的访问句柄, 只携带键前缀, 连接池是进程级单例。
type RedisCluster struct {
	KeyPrefix string
}

// Up 在Redis不可用时返回ErrRedisIsDown, 每个操作入口都先过这一道。
func (r *RedisCluster) Up() error {
	if !Connected() {
		return ErrRedisIsDown
	}
	return nil
}

// GetClient 暴露底层客户端, 限流脚本等需要驱动原生API的场景用。
func (r *RedisCluster) GetClient() redis.UniversalClient {
	c := client()
	if c == nil {
		log.Warn("redis: client requested before pool is ready")
	}
	return c
}

func (r *RedisCluster) fixKey(key string) string {
	return r.KeyPrefix + key
}

func (r *RedisCluster) cleanKey(key string) string {
	return strings.Replace(key, r.KeyPrefix, "", 1)
}

// GetKey 读取一个键, 不存在返回ErrKeyNotFound。
func (r *RedisCluster) GetKey(ctx context.Context, key string) (string, error) {
	if err := r.Up(); err != nil {
		return "", err
	}
	value, err := client().Get(ctx, r.fixKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrKeyNotFound
		}
		return "", err
	}
	return value, nil
}

// GetDel 原子地取出并删除一个键(GETDEL, Redis 6.2+)。
// 一次性令牌的消费走这里: 并发提交同一令牌时只有一个调用能拿到值,
// 其余拿到ErrKeyNotFound, 单次使用语义由存储层保证。
func (r *RedisCluster) GetDel(ctx context.Context, key string) (string, error) {
	if err := r.Up(); err != nil {
		return "", err
	}
	value, err := client().GetDel(ctx, r.fixKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrKeyNotFound
		}
		return "", err
	}
	return value, nil
}

// SetKey 写入键值并设置过期时间, timeout为0表示不过期。
func (r *RedisCluster) SetKey(ctx context.Context, key, value string, timeout time.Duration) error {
	if err := r.Up(); err != nil {
		return err
	}
	if err := client().Set(ctx, r.fixKey(key), value, timeout).Err(); err != nil {
		log.Errorf("redis: SET %s failed: %v", key, err)
		return err
	}
	return nil
}

// DeleteKey 删除一个键, 返回是否真的删掉了东西。
func (r *RedisCluster) DeleteKey(ctx context.Context, key string) (bool, error) {
	if err := r.Up(); err != nil {
		return false, err
	}
	n, err := client().Del(ctx, r.fixKey(key)).Result()
	if err != nil {
		log.Errorf("redis: DEL %s failed: %v", key, err)
		return false, err
	}
	return n > 0, nil
}

// GetKeys 返回匹配前缀+filter的所有键(已去前缀)。用SCAN遍历, 不用KEYS阻塞服务。
func (r *RedisCluster) GetKeys(ctx context.Context, filter string) []string {
	if err := r.Up(); err != nil {
		return nil
	}
	pattern := r.KeyPrefix + filter + "*"
	keys := make([]string, 0)
	iter := client().Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, r.cleanKey(iter.Val()))
	}
	if err := iter.Err(); err != nil {
		log.Errorf("redis: SCAN %s failed: %v", pattern, err)
		return nil
	}
	return keys
}

// Eval 执行Lua脚本, keys自动加前缀。
func (r *RedisCluster) Eval(ctx context.Context, script string, keys []string, args []interface{}) (interface{}, error) {
	if err := r.Up(); err != nil {
		return nil, err
	}
	fixedKeys := make([]string, len(keys))
	for i, key := range keys {
		fixedKeys[i] = r.fixKey(key)
	}
	return client().Eval(ctx, script, fixedKeys, args...).Result()
}

// SetNX 仅在键不存在时写入, 分布式锁的抢占原语。
func (r *RedisCluster) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	if err := r.Up(); err != nil {
		return false, err
	}
	ok, err := client().SetNX(ctx, r.fixKey(key), value, expiration).Result()
	if err != nil {
		log.Errorf("redis: SETNX %s failed: %v", key, err)
		return false, err
	}
	return ok, nil
}
