/*
options 包聚合 ott-apiserver 的全部运行参数。

每个关注点一个子Options(通用服务/监听/存储/会话/消息/审计/令牌/锁/日志),
聚合层负责三件事: 构造默认值、Complete补全跨选项的派生值、Validate汇总校验。
命令行标志按组注册进 NamedFlagSets, --help 时按组展示。
*/
package options

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
	flag "github.com/maxiaolu1981/cretem/nexuscore/component-base/cli/flag"

	genericoptions "github.com/maxiaolu1981/cretem/ottserver/internal/pkg/options"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

// Options 是 ott-apiserver 的完整运行配置。
type Options struct {
	GenericServerRunOptions *genericoptions.ServerRunOptions       `json:"server"   mapstructure:"server"`
	InsecureServing         *genericoptions.InsecureServingOptions `json:"insecure" mapstructure:"insecure"`
	MySQLOptions            *genericoptions.MySQLOptions           `json:"mysql"    mapstructure:"mysql"`
	RedisOptions            *genericoptions.RedisOptions           `json:"redis"    mapstructure:"redis"`
	JwtOptions              *genericoptions.JwtOptions             `json:"jwt"      mapstructure:"jwt"`
	KafkaOptions            *genericoptions.KafkaOptions           `json:"kafka"    mapstructure:"kafka"`
	AuditOptions            *genericoptions.AuditOptions           `json:"audit"    mapstructure:"audit"`
	FeatureOptions          *genericoptions.FeatureOptions         `json:"feature"  mapstructure:"feature"`
	TokenOptions            *genericoptions.TokenOptions           `json:"token"    mapstructure:"token"`
	LockOptions             *genericoptions.LockOptions            `json:"lock"     mapstructure:"lock"`
	Log                     *log.Options                           `json:"log"      mapstructure:"log"`
}

func NewOptions() *Options {
	return &Options{
		GenericServerRunOptions: genericoptions.NewServerRunOptions(),
		InsecureServing:         genericoptions.NewInsecureServingOptions(),
		MySQLOptions:            genericoptions.NewMySQLOptions(),
		RedisOptions:            genericoptions.NewRedisOptions(),
		JwtOptions:              genericoptions.NewJwtOptions(),
		KafkaOptions:            genericoptions.NewKafkaOptions(),
		AuditOptions:            genericoptions.NewAuditOptions(),
		FeatureOptions:          genericoptions.NewFeatureOptions(),
		TokenOptions:            genericoptions.NewTokenOptions(),
		LockOptions:             genericoptions.NewLockOptions(),
		Log:                     log.NewOptions(),
	}
}

// Complete 补全派生配置。跨选项的默认值只能在聚合层决定。
func (o *Options) Complete() error {
	o.GenericServerRunOptions.Complete()

	// 令牌存储未显式指定时按运行模式选: release落库, 其他用内存
	if o.TokenOptions.Store == "" {
		if o.GenericServerRunOptions.Mode == gin.ReleaseMode {
			o.TokenOptions.Store = genericoptions.TokenStoreMySQL
		} else {
			o.TokenOptions.Store = genericoptions.TokenStoreMemory
		}
	}
	o.TokenOptions.Complete()

	o.RedisOptions.Complete()
	o.JwtOptions.Complete()
	o.KafkaOptions.Complete()
	o.AuditOptions.Complete()
	o.LockOptions.Complete()
	return nil
}

func (o *Options) Validate() []error {
	var errs []error

	errs = append(errs, o.GenericServerRunOptions.Validate()...)
	errs = append(errs, o.InsecureServing.Validate()...)
	errs = append(errs, o.MySQLOptions.Validate()...)
	errs = append(errs, o.RedisOptions.Validate()...)
	errs = append(errs, o.JwtOptions.Validate()...)
	errs = append(errs, o.KafkaOptions.Validate()...)
	errs = append(errs, o.AuditOptions.Validate()...)
	errs = append(errs, o.FeatureOptions.Validate()...)
	errs = append(errs, o.TokenOptions.Validate()...)
	errs = append(errs, o.LockOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)

	return errs
}

// String 以JSON形式输出生效配置, 供启动日志打印。
func (o *Options) String() string {
	data, _ := json.Marshal(o)
	return string(data)
}

// Flags 按功能分组注册全部命令行标志。
func (o *Options) Flags() (fss flag.NamedFlagSets) {
	o.GenericServerRunOptions.AddFlags(fss.FlagSet("generic"))
	o.InsecureServing.AddFlags(fss.FlagSet("insecure serving"))
	o.MySQLOptions.AddFlags(fss.FlagSet("mysql"))
	o.RedisOptions.AddFlags(fss.FlagSet("redis"))
	o.JwtOptions.AddFlags(fss.FlagSet("jwt"))
	o.KafkaOptions.AddFlags(fss.FlagSet("kafka"))
	o.AuditOptions.AddFlags(fss.FlagSet("audit"))
	o.FeatureOptions.AddFlags(fss.FlagSet("features"))
	o.TokenOptions.AddFlags(fss.FlagSet("token"))
	o.LockOptions.AddFlags(fss.FlagSet("lock"))
	o.Log.AddFlags(fss.FlagSet("logs"))

	return fss
}
