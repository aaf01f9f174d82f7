package options

import (
	"time"

	"github.com/maxiaolu1981/cretem/nexuscore/component-base/validation/field"
	"github.com/spf13/pflag"
)

type MySQLOptions struct {
	Host                  string        `json:"host,omitempty"                     mapstructure:"host"`
	Username              string        `json:"username,omitempty"                 mapstructure:"username"`
	Password              string        `json:"-"                                  mapstructure:"password"`
	Database              string        `json:"database"                           mapstructure:"database"`
	MaxIdleConnections    int           `json:"max-idle-connections,omitempty"     mapstructure:"max-idle-connections"`
	MaxOpenConnections    int           `json:"max-open-connections,omitempty"     mapstructure:"max-open-connections"`
	MaxConnectionLifeTime time.Duration `json:"max-connection-life-time,omitempty" mapstructure:"max-connection-life-time"`
	LogLevel              int           `json:"log-level"                          mapstructure:"log-level"`
}

func NewMySQLOptions() *MySQLOptions {
	return &MySQLOptions{
		Host:                  "127.0.0.1:3306",
		Username:              "root",
		Password:              "ott59!z$", // 开发环境默认密码，生产通过配置文件/环境变量覆盖
		Database:              "ott",
		MaxIdleConnections:    100,
		MaxOpenConnections:    100,
		MaxConnectionLifeTime: time.Duration(10) * time.Second,
		LogLevel:              1, // Gorm内部日志级别，默认静默
	}
}

// Validate 校验参数是否正确
func (o *MySQLOptions) Validate() []error {
	errs := field.ErrorList{}
	path := field.NewPath("mysql")

	if o.MaxIdleConnections < 0 {
		errs = append(errs, field.Invalid(path.Child("max-idle-connections"), o.MaxIdleConnections, "不能小于0"))
	}
	if o.MaxOpenConnections < 0 {
		errs = append(errs, field.Invalid(path.Child("max-open-connections"), o.MaxOpenConnections, "不能小于0"))
	}
	if o.MaxIdleConnections > o.MaxOpenConnections && o.MaxOpenConnections > 0 {
		errs = append(errs, field.Invalid(path.Child("max-idle-connections"), o.MaxIdleConnections, "空闲连接数不能超过最大打开连接数"))
	}
	if o.LogLevel < 0 || o.LogLevel > 4 {
		errs = append(errs, field.Invalid(path.Child("log-level"), o.LogLevel, "gorm日志级别必须在0-4之间"))
	}

	agg := errs.ToAggregate()
	if agg == nil {
		return nil
	}
	return agg.Errors()
}

func (o *MySQLOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Host, "mysql.host", o.Host, ""+
		"MySQL地址, host:port格式。release模式下令牌和用户都落MySQL。")

	fs.StringVar(&o.Username, "mysql.username", o.Username, ""+
		"MySQL用户名。")

	fs.StringVar(&o.Password, "mysql.password", o.Password, ""+
		"MySQL密码, 生产环境请通过配置文件或环境变量传入。")

	fs.StringVar(&o.Database, "mysql.database", o.Database, ""+
		"使用的数据库名。")

	fs.IntVar(&o.MaxIdleConnections, "mysql.max-idle-connections", o.MaxIdleConnections, ""+
		"连接池保留的最大空闲连接数。")

	fs.IntVar(&o.MaxOpenConnections, "mysql.max-open-connections", o.MaxOpenConnections, ""+
		"连接池允许的最大打开连接数。")

	fs.DurationVar(&o.MaxConnectionLifeTime, "mysql.max-connection-life-time", o.MaxConnectionLifeTime, ""+
		"单个连接的最长复用时间, 到期后重建。")

	fs.IntVar(&o.LogLevel, "mysql.log-mode", o.LogLevel, ""+
		"gorm日志级别, 0-4对应静默到Info。")
}
