/*
server 包提供与业务无关的通用 HTTP 服务器封装。

Config 汇总通用服务器的全部配置, 由 options 包各配置项的 ApplyTo
逐项填入, 再经 Complete().New() 构建出 GenericAPIServer。
业务路由/存储/消息等装配不在这里, 由上层服务器(ottserver)负责。
*/
package server

import (
	"time"

	"github.com/gin-gonic/gin"
)

type InsecureServingInfo struct {
	BindAddress string
	BindPort    int
}

// JwtInfo 会话令牌的签发参数, 供业务层初始化 gin-jwt 中间件.
type JwtInfo struct {
	Realm      string
	Key        string
	Timeout    time.Duration
	MaxRefresh time.Duration
}

type Config struct {
	InsecureServingInfo *InsecureServingInfo
	Mode                string
	EnableProfiling     bool
	EnableMetrics       bool
	Middlewares         []string
	Healthz             bool
	Jwt                 *JwtInfo
}

// NewConfig 返回出厂配置, options 包的默认值也从这里取.
func NewConfig() *Config {
	return &Config{
		Mode:            gin.ReleaseMode,
		Healthz:         true,
		EnableProfiling: true,
		EnableMetrics:   true,
		Middlewares:     []string{},
		Jwt: &JwtInfo{
			Realm:      "ott-apiserver",
			Timeout:    24 * time.Hour,
			MaxRefresh: 7 * 24 * time.Hour,
		},
	}
}

type CompleteConfig struct {
	*Config
}

// Complete 填充必要但尚未设置的字段, 返回可安全构建服务器的配置.
func (c *Config) Complete() *CompleteConfig {
	if c.InsecureServingInfo == nil {
		c.InsecureServingInfo = &InsecureServingInfo{
			BindAddress: "127.0.0.1",
			BindPort:    8080,
		}
	}
	return &CompleteConfig{c}
}

// New 从完整配置构建 GenericAPIServer 实例.
func (c *CompleteConfig) New() (*GenericAPIServer, error) {
	gin.SetMode(c.Mode)

	s := &GenericAPIServer{
		mode:                c.Mode,
		middlewares:         c.Middlewares,
		healthz:             c.Healthz,
		enableMetrics:       c.EnableMetrics,
		enableProfiling:     c.EnableProfiling,
		insecureServingInfo: c.InsecureServingInfo,
		Engine:              gin.New(),
	}

	if err := initGenericAPIServer(s); err != nil {
		return nil, err
	}

	return s, nil
}
