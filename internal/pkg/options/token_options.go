/*
TokenOptions 管一次性登录令牌(one-time token)的签发与兑换行为：

DefaultTTL: 令牌从签发到过期的有效期
Store: 令牌存储后端(memory/redis/mysql)
GenerateURL: 接收签发请求的路径
LoginProcessingURL: 接收兑换请求的路径
GeneratedRedirectURL: 签发成功后302跳转的目标
SuccessRedirectURL: 兑换成功后302跳转的目标
FailureRedirectURL: 兑换失败后302跳转的目标
ShowDefaultSubmitPage: 是否在 GET 兑换路径上渲染内置提交页

生命周期：NewTokenOptions() → Complete() → Validate()。
令牌参数只被业务装配层消费，不进入 server.Config。
*/

package options

import (
	"strings"
	"time"

	"github.com/maxiaolu1981/cretem/nexuscore/component-base/util/sets"
	"github.com/maxiaolu1981/cretem/nexuscore/component-base/validation/field"
	"github.com/spf13/pflag"
)

const (
	// TokenStoreMemory 进程内存储, 适合单实例部署和测试.
	TokenStoreMemory = "memory"
	// TokenStoreRedis 令牌放进redis, 多实例共享, 依赖redis配置.
	TokenStoreRedis = "redis"
	// TokenStoreMySQL 令牌落库, 行级锁保证一次性语义.
	TokenStoreMySQL = "mysql"
)

type TokenOptions struct {
	DefaultTTL            time.Duration `json:"default-ttl"              mapstructure:"default-ttl"`
	Store                 string        `json:"store"                    mapstructure:"store"`
	GenerateURL           string        `json:"generate-url"             mapstructure:"generate-url"`
	LoginProcessingURL    string        `json:"login-processing-url"     mapstructure:"login-processing-url"`
	GeneratedRedirectURL  string        `json:"generated-redirect-url"   mapstructure:"generated-redirect-url"`
	SuccessRedirectURL    string        `json:"success-redirect-url"     mapstructure:"success-redirect-url"`
	FailureRedirectURL    string        `json:"failure-redirect-url"     mapstructure:"failure-redirect-url"`
	ShowDefaultSubmitPage bool          `json:"show-default-submit-page" mapstructure:"show-default-submit-page"`

	// memory 存储的容量上限与过期清扫周期
	MaxInMemoryTokens int           `json:"max-in-memory-tokens" mapstructure:"max-in-memory-tokens"`
	SweepInterval     time.Duration `json:"sweep-interval"       mapstructure:"sweep-interval"`
}

func NewTokenOptions() *TokenOptions {
	return &TokenOptions{
		DefaultTTL: 5 * time.Minute,
		// Store 留空, 由聚合Options.Complete()按运行模式选择后端
		Store:                 "",
		GenerateURL:           "/ott/generate",
		LoginProcessingURL:    "/login/ott",
		GeneratedRedirectURL:  "/login/ott",
		SuccessRedirectURL:    "/",
		FailureRedirectURL:    "/login?error",
		ShowDefaultSubmitPage: true,
		MaxInMemoryTokens:     100,
		SweepInterval:         30 * time.Second,
	}
}

func (t *TokenOptions) Complete() {
	if t.DefaultTTL <= 0 {
		t.DefaultTTL = 5 * time.Minute
	}
	if t.Store == "" {
		t.Store = TokenStoreMemory
	}
	if t.GenerateURL == "" {
		t.GenerateURL = "/ott/generate"
	}
	if t.LoginProcessingURL == "" {
		t.LoginProcessingURL = "/login/ott"
	}
	// 签发成功后默认把用户带到兑换页
	if t.GeneratedRedirectURL == "" {
		t.GeneratedRedirectURL = t.LoginProcessingURL
	}
	if t.SuccessRedirectURL == "" {
		t.SuccessRedirectURL = "/"
	}
	if t.FailureRedirectURL == "" {
		t.FailureRedirectURL = "/login?error"
	}
	if t.MaxInMemoryTokens <= 0 {
		t.MaxInMemoryTokens = 100
	}
	if t.SweepInterval <= 0 {
		t.SweepInterval = 30 * time.Second
	}
}

func (t *TokenOptions) Validate() []error {
	errs := field.ErrorList{}
	path := field.NewPath("token")

	if t.DefaultTTL < time.Second {
		errs = append(errs, field.Invalid(path.Child("default-ttl"), t.DefaultTTL,
			"令牌有效期不能小于1秒"))
	}

	stores := sets.NewString(TokenStoreMemory, TokenStoreRedis, TokenStoreMySQL)
	if !stores.Has(t.Store) {
		errs = append(errs, field.Invalid(path.Child("store"), t.Store,
			"存储后端必须是 memory/redis/mysql 之一"))
	}

	for child, u := range map[string]string{
		"generate-url":           t.GenerateURL,
		"login-processing-url":   t.LoginProcessingURL,
		"generated-redirect-url": t.GeneratedRedirectURL,
		"success-redirect-url":   t.SuccessRedirectURL,
		"failure-redirect-url":   t.FailureRedirectURL,
	} {
		if !strings.HasPrefix(u, "/") {
			errs = append(errs, field.Invalid(path.Child(child), u, "路径必须以/开头"))
		}
	}

	if t.GenerateURL == t.LoginProcessingURL {
		errs = append(errs, field.Invalid(path.Child("login-processing-url"), t.LoginProcessingURL,
			"兑换路径不能与签发路径相同"))
	}

	if t.MaxInMemoryTokens < 1 {
		errs = append(errs, field.Invalid(path.Child("max-in-memory-tokens"), t.MaxInMemoryTokens,
			"内存令牌容量至少为1"))
	}
	if t.SweepInterval < time.Second {
		errs = append(errs, field.Invalid(path.Child("sweep-interval"), t.SweepInterval,
			"清扫周期不能小于1秒"))
	}

	agg := errs.ToAggregate()
	if agg == nil {
		return nil
	}
	return agg.Errors()
}

func (t *TokenOptions) AddFlags(fs *pflag.FlagSet) {
	fs.DurationVar(&t.DefaultTTL, "token.default-ttl", t.DefaultTTL, ""+
		"一次性令牌的有效期，从签发时刻起算，过期后兑换一律失败。")

	fs.StringVar(&t.Store, "token.store", t.Store, ""+
		"令牌存储后端：memory(进程内)、redis(多实例共享)、mysql(持久化)。"+
		"留空时按运行模式选择：release用mysql，debug/test用memory。")

	fs.StringVar(&t.GenerateURL, "token.generate-url", t.GenerateURL, ""+
		"接收令牌签发请求(POST, 表单字段username)的路径。")

	fs.StringVar(&t.LoginProcessingURL, "token.login-processing-url", t.LoginProcessingURL, ""+
		"接收令牌兑换请求(POST, 表单字段token)的路径。")

	fs.StringVar(&t.GeneratedRedirectURL, "token.generated-redirect-url", t.GeneratedRedirectURL, ""+
		"签发请求处理完成后302跳转的目标路径。")

	fs.StringVar(&t.SuccessRedirectURL, "token.success-redirect-url", t.SuccessRedirectURL, ""+
		"兑换成功建立会话后302跳转的目标路径。")

	fs.StringVar(&t.FailureRedirectURL, "token.failure-redirect-url", t.FailureRedirectURL, ""+
		"兑换失败(令牌不存在/已用/过期)后302跳转的目标路径。")

	fs.BoolVar(&t.ShowDefaultSubmitPage, "token.show-default-submit-page", t.ShowDefaultSubmitPage, ""+
		"是否在 GET 兑换路径上渲染内置的令牌提交页面。")

	fs.IntVar(&t.MaxInMemoryTokens, "token.max-in-memory-tokens", t.MaxInMemoryTokens, ""+
		"memory存储的令牌容量上限，超过后触发一次过期清扫。")

	fs.DurationVar(&t.SweepInterval, "token.sweep-interval", t.SweepInterval, ""+
		"后台清扫过期令牌的周期。")
}
