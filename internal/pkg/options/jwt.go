/*
JwtOptions 管一次性令牌兑换成功后签发的会话 JWT。

Key 允许留空: Complete 时先看环境变量 JWT_SECRET_KEY, 再退化为进程内
随机密钥(重启后旧会话全部失效, 只适合单实例/开发场景)。
*/

package options

import (
	"os"
	"time"

	"github.com/maxiaolu1981/cretem/nexuscore/component-base/auth"
	"github.com/maxiaolu1981/cretem/nexuscore/component-base/util/idutil"
	"github.com/maxiaolu1981/cretem/nexuscore/component-base/validation/field"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/server"
	"github.com/spf13/pflag"
)

const (
	defaultJwtRealm      = "ott-apiserver"
	defaultJwtTimeout    = 24 * time.Hour
	defaultJwtMaxRefresh = 7 * 24 * time.Hour
)

type JwtOptions struct {
	Realm      string        `json:"realm"       mapstructure:"realm"`
	Key        string        `json:"key"         mapstructure:"key"`
	Timeout    time.Duration `json:"timeout"     mapstructure:"timeout"`
	MaxRefresh time.Duration `json:"max-refresh" mapstructure:"max-refresh"`
	KeyHash    string        `json:"-" mapstructure:"-"` // 不序列化到配置文件
}

func NewJwtOptions() *JwtOptions {
	return &JwtOptions{
		Realm:      defaultJwtRealm,
		Timeout:    defaultJwtTimeout,
		MaxRefresh: defaultJwtMaxRefresh,
	}
}

func (j *JwtOptions) Complete() {
	if j.Realm == "" {
		j.Realm = defaultJwtRealm
	}
	if j.Timeout == 0 {
		j.Timeout = defaultJwtTimeout
	}
	if j.MaxRefresh == 0 {
		j.MaxRefresh = defaultJwtMaxRefresh
	}
	if j.Key == "" {
		j.ensureKey()
	}
}

func (j *JwtOptions) Validate() []error {
	errs := field.ErrorList{}
	path := field.NewPath("jwt")

	switch {
	case j.Realm == "":
		errs = append(errs, field.Required(path.Child("realm"), "realm不能为空"))
	case len(j.Realm) > 255:
		errs = append(errs, field.TooLong(path.Child("realm"), j.Realm, 255))
	}

	if j.Timeout <= 0 {
		errs = append(errs, field.Invalid(path.Child("timeout"), j.Timeout,
			"会话有效期必须为正"))
	}
	if j.MaxRefresh < 0 {
		errs = append(errs, field.Invalid(path.Child("max-refresh"), j.MaxRefresh,
			"刷新窗口不能为负"))
	}
	if j.Timeout > 0 && j.MaxRefresh > 0 && j.Timeout >= j.MaxRefresh {
		errs = append(errs, field.Invalid(path.Child("timeout"), j.Timeout,
			"会话有效期必须小于刷新窗口"))
	}

	agg := errs.ToAggregate()
	if agg == nil {
		return nil
	}
	return agg.Errors()
}

func (j *JwtOptions) ApplyTo(c *server.Config) error {
	c.Jwt = &server.JwtInfo{
		Realm:      j.Realm,
		Key:        j.Key,
		Timeout:    j.Timeout,
		MaxRefresh: j.MaxRefresh,
	}
	return nil
}

// ensureKey 环境变量优先, 其次进程内随机。随机密钥另存一份哈希,
// 方便运维核对多实例是否配了同一把钥匙。
func (j *JwtOptions) ensureKey() {
	if envKey := os.Getenv("JWT_SECRET_KEY"); envKey != "" {
		j.Key = envKey
		return
	}

	j.Key = idutil.NewSecretKey()
	j.KeyHash, _ = auth.Encrypt(j.Key)
}

func (j *JwtOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&j.Realm, "jwt.realm", "r", j.Realm, "向用户显示的Realm名称。")

	fs.StringVarP(&j.Key, "jwt.key", "k", j.Key, "用于签名会话JWT的密钥, 空值时用环境变量JWT_SECRET_KEY或随机生成。")

	fs.DurationVarP(&j.Timeout, "jwt.timeout", "t", j.Timeout, "会话JWT有效期。")

	fs.DurationVarP(&j.MaxRefresh, "jwt.max-refresh", "m", j.MaxRefresh,
		"会话JWT可刷新的最长窗口, 必须大于timeout。")
}
