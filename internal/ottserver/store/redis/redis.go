/*
redis 包提供基于 Redis 的一次性令牌存储。

令牌以 JSON 写入, 键带 "ott:token:" 前缀, 物理 TTL 比逻辑过期时间多一段
宽限期: 宽限期内消费过期令牌能拿到明确的"已过期"错误, 与 MySQL/内存后端
行为一致; 宽限期过后键被 Redis 回收, 退化为"不存在"。

消费使用 GETDEL(Redis 6.2+)原子取删, 并发提交同一令牌只有一个成功。
用户数据不进 Redis, Users() 透传给委托工厂(MySQL 或内存)。
*/
package redis

import (
	"context"
	stderrors "errors"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/maxiaolu1981/cretem/nexuscore/errors"

	tokenv1 "github.com/maxiaolu1981/cretem/ottserver/api/v1"
	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/store/interfaces"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/code"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// tokenKeyPrefix 令牌键前缀, 完整键形如 ott:token:<uuid>。
const tokenKeyPrefix = "ott:token:"

// expiryGrace 物理 TTL 在逻辑过期之后多保留的时长。
const expiryGrace = 10 * time.Minute

type datastore struct {
	tokens   *tokenStore
	delegate interfaces.Factory
}

func (ds *datastore) Users() interfaces.UserStore {
	return ds.delegate.Users()
}

func (ds *datastore) Tokens() interfaces.TokenStore {
	return ds.tokens
}

func (ds *datastore) Close() error {
	return ds.delegate.Close()
}

// NewFactory 构造 Redis 令牌存储, 用户操作透传给 delegate。
// 调用前必须完成 storage.ConnectToRedis, 连接池是进程级单例。
func NewFactory(delegate interfaces.Factory) interfaces.Factory {
	return &datastore{
		tokens: &tokenStore{
			cluster: &storage.RedisCluster{KeyPrefix: tokenKeyPrefix},
		},
		delegate: delegate,
	}
}

type tokenStore struct {
	cluster *storage.RedisCluster
}

func (t *tokenStore) Create(ctx context.Context, token *tokenv1.OneTimeToken) error {
	payload, err := json.Marshal(token)
	if err != nil {
		return errors.WithCode(code.ErrEncodingJSON, "令牌序列化失败: %v", err)
	}

	ttl := time.Until(token.ExpiresAt) + expiryGrace
	if ttl <= 0 {
		ttl = time.Second
	}

	if err := t.cluster.SetKey(ctx, token.TokenValue, string(payload), ttl); err != nil {
		return errors.WithCode(code.ErrTokenStoreUnavailable, "写入令牌失败: %v", err)
	}
	return nil
}

func (t *tokenStore) Consume(ctx context.Context, tokenValue string, now time.Time) (*tokenv1.OneTimeToken, error) {
	payload, err := t.cluster.GetDel(ctx, tokenValue)
	if err != nil {
		if stderrors.Is(err, storage.ErrKeyNotFound) {
			return nil, errors.WithCode(code.ErrTokenNotFound, "令牌不存在或已被使用")
		}
		return nil, errors.WithCode(code.ErrTokenStoreUnavailable, "读取令牌失败: %v", err)
	}

	tok := &tokenv1.OneTimeToken{}
	if err := json.Unmarshal([]byte(payload), tok); err != nil {
		return nil, errors.WithCode(code.ErrInternal, "令牌数据损坏: %v", err)
	}

	// GETDEL 已删除键, 过期令牌至此完成清理
	if tok.Expired(now) {
		return nil, errors.WithCode(code.ErrTokenExpiredOTT, "令牌已过期")
	}
	return tok, nil
}

func (t *tokenStore) ListActive(ctx context.Context, now time.Time) ([]*tokenv1.OneTimeToken, error) {
	keys := t.cluster.GetKeys(ctx, "")

	active := make([]*tokenv1.OneTimeToken, 0, len(keys))
	for _, key := range keys {
		payload, err := t.cluster.GetKey(ctx, key)
		if err != nil {
			if stderrors.Is(err, storage.ErrKeyNotFound) {
				continue // SCAN 和 GET 之间被消费或过期
			}
			return nil, errors.WithCode(code.ErrTokenStoreUnavailable, "读取令牌失败: %v", err)
		}

		tok := &tokenv1.OneTimeToken{}
		if err := json.Unmarshal([]byte(payload), tok); err != nil {
			log.Warnf("跳过损坏的令牌数据 key=%s: %v", key, err)
			continue
		}
		if tok.Expired(now) {
			continue
		}
		active = append(active, tok)
	}
	return active, nil
}

// DeleteExpired 清理处于宽限期内的逻辑过期令牌。物理过期的键由 Redis 自行回收。
func (t *tokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	keys := t.cluster.GetKeys(ctx, "")

	var removed int64
	for _, key := range keys {
		payload, err := t.cluster.GetKey(ctx, key)
		if err != nil {
			continue
		}

		tok := &tokenv1.OneTimeToken{}
		if err := json.Unmarshal([]byte(payload), tok); err != nil {
			// 损坏的数据一并清掉
			if ok, _ := t.cluster.DeleteKey(ctx, key); ok {
				removed++
			}
			continue
		}
		if !tok.Expired(now) {
			continue
		}
		if ok, err := t.cluster.DeleteKey(ctx, key); err == nil && ok {
			removed++
		}
	}
	return removed, nil
}

func (t *tokenStore) Count(ctx context.Context) (int64, error) {
	if err := t.cluster.Up(); err != nil {
		return 0, errors.WithCode(code.ErrTokenStoreUnavailable, "Redis不可用: %v", err)
	}
	return int64(len(t.cluster.GetKeys(ctx, ""))), nil
}
