package options

import (
	"sync"

	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/server"
)

var (
	serverDefaults     *server.Config
	serverDefaultsOnce sync.Once
)

// getServerDefaults 返回服务器的出厂配置, 各 Options 的 New* 构造函数
// 从这里取默认值, 保证命令行缺省值与 server.NewConfig 始终一致.
func getServerDefaults() *server.Config {
	serverDefaultsOnce.Do(func() {
		serverDefaults = server.NewConfig()
	})
	return serverDefaults
}
