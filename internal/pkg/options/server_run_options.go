/*
options 包集中定义 ott-apiserver 的全部可配置项。

每类配置一个 Options 结构体，统一遵循同一条生命周期：
NewXxxOptions()（默认值）→ 命令行/配置文件覆盖 → Complete()（补全缺省）
→ Validate()（合法性校验）→ ApplyTo()（应用到 server.Config）。

ServerRunOptions 管服务器自身的运行参数：gin 模式、中间件列表、
健康检查开关、会话 Cookie 属性，以及 /ott/generate 的限流参数。
*/
package options

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/maxiaolu1981/cretem/nexuscore/component-base/util/sets"
	"github.com/maxiaolu1981/cretem/nexuscore/component-base/validation"
	"github.com/maxiaolu1981/cretem/nexuscore/component-base/validation/field"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/server"
	"github.com/spf13/pflag"
)

type ServerRunOptions struct {
	Mode        string   `json:"mode"        mapstructure:"mode"`
	Healthz     bool     `json:"healthz"     mapstructure:"healthz"`
	Middlewares []string `json:"middlewares" mapstructure:"middlewares"`

	// 会话Cookie配置：一次性令牌兑换成功后种下的登录态Cookie
	CookieDomain string `json:"cookieDomain"    mapstructure:"cookieDomain"`
	CookieSecure bool   `json:"cookieSecure"    mapstructure:"cookieSecure"`

	CtxTimeout time.Duration `json:"ctxtimeout"    mapstructure:"ctxtimeout"`
	Env        string        `json:"env"    mapstructure:"env"`

	// /ott/generate 的限流：窗口内同一客户端允许的最大签发次数
	EnableRateLimiter bool          `json:"enableRateLimiter" mapstructure:"enableRateLimiter"`
	GenerateRateLimit int           `json:"generateRateLimit"   mapstructure:"generateRateLimit"`
	GenerateWindow    time.Duration `json:"generateWindow"   mapstructure:"generateWindow"`

	// 用户管理写接口的限流, 实际阈值可被redis里的全局动态配置覆盖
	WriteRateLimit int           `json:"writeRateLimit" mapstructure:"writeRateLimit"`
	WriteWindow    time.Duration `json:"writeWindow"    mapstructure:"writeWindow"`
}

func NewServerRunOptions() *ServerRunOptions {
	defaults := getServerDefaults()

	return &ServerRunOptions{
		Mode:              defaults.Mode,
		Healthz:           defaults.Healthz,
		Middlewares:       defaults.Middlewares,
		CookieDomain:      "",
		CookieSecure:      false,
		CtxTimeout:        30 * time.Second,
		Env:               "development",
		EnableRateLimiter: true,
		GenerateRateLimit: 20, // 同一客户端每窗口最多签发20条令牌
		GenerateWindow:    time.Minute,
		WriteRateLimit:    50,
		WriteWindow:       time.Minute,
	}
}

func (s *ServerRunOptions) Complete() {
	// 未知的mode一律收敛到release, 宁可少打日志也不能在生产误开debug
	switch s.Mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
	default:
		s.Mode = gin.ReleaseMode
	}

	if s.Middlewares == nil {
		s.Middlewares = []string{}
	}

	if s.CtxTimeout <= 0 {
		s.CtxTimeout = 30 * time.Second
	}
	if s.Env == "" {
		s.Env = "development"
	}

	if s.GenerateRateLimit <= 0 {
		s.GenerateRateLimit = 20
	}
	if s.GenerateWindow <= 0 {
		s.GenerateWindow = time.Minute
	}
	if s.WriteRateLimit <= 0 {
		s.WriteRateLimit = 50
	}
	if s.WriteWindow <= 0 {
		s.WriteWindow = time.Minute
	}
}

// ApplyTo 只同步通用服务器关心的字段, Cookie/限流等业务参数由
// 业务装配层直接读取 options, 不进入 server.Config.
func (s *ServerRunOptions) ApplyTo(c *server.Config) error {
	c.Mode = s.Mode
	c.Healthz = s.Healthz
	c.Middlewares = s.Middlewares
	return nil
}

func (s *ServerRunOptions) Validate() []error {
	var errs = field.ErrorList{}
	var path = field.NewPath("server")

	if s.Mode != "" && !sets.NewString(gin.DebugMode, gin.ReleaseMode, gin.TestMode).Has(s.Mode) {
		errs = append(errs, field.NotSupported(path.Child("mode"), s.Mode,
			[]string{gin.DebugMode, gin.ReleaseMode, gin.TestMode}))
	}
	if s.Env != "" && !sets.NewString("development", "release", "test").Has(s.Env) {
		errs = append(errs, field.NotSupported(path.Child("env"), s.Env,
			[]string{"development", "release", "test"}))
	}

	if s.CookieDomain != "" {
		// 前导点是Cookie规范里的通配写法, 去掉后再做域名校验
		domain := strings.TrimPrefix(s.CookieDomain, ".")
		if domain == "" {
			errs = append(errs, field.Invalid(path.Child("cookieDomain"),
				s.CookieDomain, "Cookie域名不能只有一个点号"))
		}
		for _, msg := range validation.IsDNS1123Subdomain(domain) {
			errs = append(errs, field.Invalid(path.Child("cookieDomain"),
				s.CookieDomain, "Cookie域名不合法: "+msg))
		}
	}

	// debug模式走HTTP, Secure Cookie会被浏览器直接丢弃
	if s.CookieSecure && s.Mode == gin.DebugMode {
		errs = append(errs, field.Invalid(path.Child("cookieSecure"),
			s.CookieSecure, "调试模式下Secure Cookie无法生效, 请改为false"))
	}

	if s.GenerateRateLimit < 0 {
		errs = append(errs, field.Invalid(
			path.Child("generateRateLimit"),
			s.GenerateRateLimit,
			"限流数不能小于0",
		))
	}

	if s.GenerateWindow < time.Second {
		errs = append(errs, field.Invalid(
			path.Child("generateWindow"),
			s.GenerateWindow,
			"限流窗口不能小于1秒",
		))
	}

	if s.WriteRateLimit < 0 {
		errs = append(errs, field.Invalid(
			path.Child("writeRateLimit"),
			s.WriteRateLimit,
			"限流数不能小于0",
		))
	}
	if s.WriteWindow < time.Second {
		errs = append(errs, field.Invalid(
			path.Child("writeWindow"),
			s.WriteWindow,
			"限流窗口不能小于1秒",
		))
	}

	agg := errs.ToAggregate()
	if agg == nil {
		return nil
	}
	return agg.Errors()
}

func (s *ServerRunOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&s.Mode, "server.mode", "M", s.Mode, ""+
		"gin运行模式, 可选debug/test/release, 非法值按release处理。")

	fs.BoolVarP(&s.Healthz, "server.healthz", "z", s.Healthz, ""+
		"注册/healthz路由并在启动后执行一次自检。")

	fs.StringSliceVarP(&s.Middlewares, "server.middlewares", "w", s.Middlewares, ""+
		"按名称启用的通用中间件, 逗号分隔, 留空表示默认全量栈。")

	fs.BoolVar(&s.CookieSecure, "server.cookie-secure", s.CookieSecure, ""+
		"会话Cookie是否仅通过HTTPS传输(建议在生产环境下开启)。")

	fs.StringVar(&s.CookieDomain, "server.cookie-domain", s.CookieDomain, ""+
		"指定会话Cookie对域的限制。空字符串表示任何域都可以绑定Cookie。")

	fs.StringVar(&s.Env, "server.env", s.Env, ""+
		"部署环境标识, 可选development/release/test, 决定CORS策略等环境差异行为。")

	fs.DurationVar(&s.CtxTimeout, "server.ctx-timeout", s.CtxTimeout, ""+
		"单个请求的处理超时时间。")

	fs.BoolVar(&s.EnableRateLimiter, "server.enable-rate-limiter", s.EnableRateLimiter,
		"是否对令牌签发接口启用限流（默认启用）")

	fs.IntVar(&s.GenerateRateLimit, "server.generate-rate-limit", s.GenerateRateLimit, ""+
		"同一客户端在窗口期内允许的最大令牌签发次数")

	fs.DurationVar(&s.GenerateWindow, "server.generate-window", s.GenerateWindow, ""+
		"令牌签发限流的计数窗口")

	fs.IntVar(&s.WriteRateLimit, "server.write-rate-limit", s.WriteRateLimit, ""+
		"用户管理写接口在窗口期内允许的最大请求次数, 可被redis全局配置动态覆盖")

	fs.DurationVar(&s.WriteWindow, "server.write-window", s.WriteWindow, ""+
		"用户管理写接口限流的计数窗口")
}
