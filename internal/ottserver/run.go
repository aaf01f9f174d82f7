package ottserver

import (
	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/config"
)

// Run 根据最终配置组装并启动服务, 阻塞到进程收到退出信号。
func Run(cfg *config.Config) error {
	server, err := createAPIServer(cfg)
	if err != nil {
		return err
	}

	prepared, err := server.PrepareRun()
	if err != nil {
		return err
	}

	return prepared.Run()
}
