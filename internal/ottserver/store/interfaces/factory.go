package interfaces

var client Factory

// Factory 定义仓储层的统一访问入口, memory/redis/mysql 三种后端各自实现。
// 业务层只面向这组接口, 换存储不动业务代码。
type Factory interface {
	Users() UserStore
	Tokens() TokenStore
	Close() error
}

func Client() Factory {
	return client
}

func SetClient(factory Factory) {
	client = factory
}
