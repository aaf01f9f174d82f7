// config 包把完成校验的运行选项包装成服务器配置。当前配置与选项
// 一一对应, 单独成包是为了给派生配置留出位置。
package config

import "github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/options"

type Config struct {
	*options.Options
}

// CreateConfigFromOptions 基于命令行/配置文件解析后的选项生成运行配置。
func CreateConfigFromOptions(opts *options.Options) (*Config, error) {
	return &Config{opts}, nil
}
