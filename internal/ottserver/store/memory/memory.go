/*
memory 包提供纯内存的存储实现, 供开发和测试模式使用。

进程重启后数据全部丢失, 不做任何持久化。工厂在创建时预置两个开发账号,
令牌存储在签发时做容量检查, 超限先清一轮过期令牌再写入。
*/
package memory

import (
	"sync"

	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/store/interfaces"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

type datastore struct {
	users  *userStore
	tokens *tokenStore
}

func (ds *datastore) Users() interfaces.UserStore {
	return ds.users
}

func (ds *datastore) Tokens() interfaces.TokenStore {
	return ds.tokens
}

func (ds *datastore) Close() error {
	return nil
}

var (
	memFactory interfaces.Factory
	once       sync.Once
)

// GetMemoryFactoryOr 返回进程内单例的内存存储工厂。
// maxTokens 是令牌驻留上限, 签发时超限会触发过期清理。
func GetMemoryFactoryOr(maxTokens int) (interfaces.Factory, error) {
	var err error
	once.Do(func() {
		memFactory, err = NewFactory(maxTokens)
	})
	if err != nil {
		return nil, err
	}
	return memFactory, nil
}

// NewFactory 每次调用都构造一个全新的内存存储, 测试用。
func NewFactory(maxTokens int) (interfaces.Factory, error) {
	users := newUserStore()
	if err := users.seedDefaults(); err != nil {
		return nil, err
	}

	log.Infof("✅ 内存存储初始化完成, 预置开发账号: user / admin")
	return &datastore{
		users:  users,
		tokens: newTokenStore(maxTokens),
	}, nil
}
