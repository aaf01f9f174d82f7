// v1 包聚合各资源的业务服务, 装配层只依赖 ServiceManager 接口。
package v1

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/options"
	token "github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/service/v1/token"
	user "github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/service/v1/user"
	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/store/interfaces"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/storage"
)

type ServiceSrv struct {
	Store   interfaces.Factory
	Redis   *storage.RedisCluster
	Options *options.Options

	// TokenFilter 记录本实例签发过的令牌值, 兑换时做负缓存快速拒绝
	TokenFilter *bloom.BloomFilter
	FilterMu    *sync.RWMutex
}

type ServiceManager interface {
	Users() user.UserSrv
	Tokens() token.TokenSrv
}

func (s *ServiceSrv) Users() user.UserSrv {
	return &user.UserService{
		Store:   s.Store,
		Redis:   s.Redis,
		Options: s.Options,
	}
}

func (s *ServiceSrv) Tokens() token.TokenSrv {
	return &token.TokenService{
		Store:    s.Store,
		Options:  s.Options,
		Filter:   s.TokenFilter,
		FilterMu: s.FilterMu,
	}
}

// NewService 组装业务服务。filter/filterMu 由装配层创建并与生命周期绑定。
func NewService(store interfaces.Factory,
	redis *storage.RedisCluster,
	opts *options.Options,
	filter *bloom.BloomFilter,
	filterMu *sync.RWMutex) ServiceManager {

	return &ServiceSrv{
		Store:       store,
		Redis:       redis,
		Options:     opts,
		TokenFilter: filter,
		FilterMu:    filterMu,
	}
}
