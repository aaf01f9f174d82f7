/*
InsecureServingOptions 描述不安全 HTTP 端口的监听配置。

BindAddress: 绑定 IP 地址（默认：127.0.0.1）
BindPort: 绑定端口号（默认：8080），0 表示禁用该端口

生命周期：原始配置 → Complete()（补全默认值） → Validate()（验证合法性）
→ ApplyTo(target)（应用到目标） → 目标生效。

适用于内部应用或开发环境；生产环境建议由前置代理（如 nginx）终结 TLS
后转发到该端口，并用防火墙保证端口不暴露在公网。
*/

package options

import (
	"net"
	"strconv"

	"github.com/maxiaolu1981/cretem/nexuscore/errors"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/code"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/server"
	"github.com/spf13/pflag"
)

type InsecureServingOptions struct {
	BindAddress string `json:"bind-address" mapstructure:"bind-address"`
	BindPort    int    `json:"bind-port"    mapstructure:"bind-port"`
}

func NewInsecureServingOptions() *InsecureServingOptions {
	return &InsecureServingOptions{
		BindAddress: "127.0.0.1",
		BindPort:    8080,
	}
}

// ApplyTo 把监听配置落到服务器配置上.
func (i *InsecureServingOptions) ApplyTo(c *server.Config) error {
	c.InsecureServingInfo = &server.InsecureServingInfo{
		BindAddress: i.BindAddress,
		BindPort:    i.BindPort,
	}
	return nil
}

func (i *InsecureServingOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&i.BindAddress, "insecure.bind-address", "b", i.BindAddress,
		"HTTP监听地址。监听所有IPv4接口设0.0.0.0, 所有IPv6接口设::")
	fs.IntVarP(&i.BindPort, "insecure.bind-port", "p", i.BindPort,
		"未加密HTTP端口, 设0禁用。该端口不做TLS, 公网流量应由前置代理终结TLS后转发进来。")
}

func (i *InsecureServingOptions) Validate() []error {
	var errs []error

	if net.ParseIP(i.BindAddress) == nil {
		errs = append(errs, errors.WithCode(code.ErrValidation,
			"insecure.bind-address %q 不是合法的IP地址", i.BindAddress))
	}
	switch {
	case i.BindPort < 0 || i.BindPort > 65535:
		errs = append(errs, errors.WithCode(code.ErrValidation,
			"insecure.bind-port %d 超出0-65535", i.BindPort))
	case i.BindPort > 0:
		address := net.JoinHostPort(i.BindAddress, strconv.Itoa(i.BindPort))
		if _, err := net.ResolveTCPAddr("tcp", address); err != nil {
			errs = append(errs, errors.WithCode(code.ErrValidation,
				"监听地址 %s 无法解析: %v", address, err))
		}
	}

	return errs
}
