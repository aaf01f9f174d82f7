package ottserver

import (
	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/config"
	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/options"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/app"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

const commandDesc = `OTT API服务器提供一次性令牌(One-Time Token)免密登录能力:
为用户名签发短时效的一次性令牌, 消费令牌换取登录会话, 并管理用户数据与审计轨迹。
令牌签发不回显用户是否存在, 消费是原子的单次操作。`

// NewApp 构建ott-apiserver命令行应用。
func NewApp(basename string) *app.App {
	opts := options.NewOptions()
	application := app.NewApp(basename, "OTT API Server",
		app.WithOptions(opts),
		app.WithDescription(commandDesc),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
	)

	return application
}

func run(opts *options.Options) app.RunFunc {
	return func(basename string) error {
		log.Init(opts.Log)
		defer log.Flush()

		cfg, err := config.CreateConfigFromOptions(opts)
		if err != nil {
			return err
		}

		return Run(cfg)
	}
}
