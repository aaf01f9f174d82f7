// Package db 负责建立带连接池与SQL级超时保护的gorm实例,
// 日志走项目统一的适配器(见gorm_logger.go)。
package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

type Options struct {
	Host                  string // 形如 127.0.0.1:3306
	Username              string
	Password              string
	Database              string
	MaxIdleConnections    int
	MaxOpenConnections    int
	MaxConnectionLifeTime time.Duration
	LogLevel              int              // gorm日志级别
	Logger                logger.Interface // 不传时用NewGormLogger
	TablePrefix           string
	Timeout               time.Duration // 单条SQL的执行上限
}

func (o *Options) fillDefaults() {
	if o.MaxOpenConnections <= 0 {
		o.MaxOpenConnections = 200
	}
	if o.MaxIdleConnections <= 0 {
		o.MaxIdleConnections = 50
	}
	if o.MaxConnectionLifeTime <= 0 {
		o.MaxConnectionLifeTime = time.Hour
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = NewGormLogger(o.LogLevel)
	}
}

func (o *Options) dsn() string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=true&loc=Local&timeout=10s&readTimeout=30s&writeTimeout=30s",
		o.Username, o.Password, o.Host, o.Database)
}

func New(opts *Options) (*gorm.DB, error) {
	opts.fillDefaults()

	db, err := gorm.Open(mysql.Open(opts.dsn()), &gorm.Config{
		Logger:                                   opts.Logger,
		PrepareStmt:                              true,
		SkipDefaultTransaction:                   true,
		DisableForeignKeyConstraintWhenMigrating: true,
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   opts.TablePrefix,
			SingularTable: true,
		},
	})
	if err != nil {
		log.Errorf("failed to open database: %v", err)
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Errorf("failed to get sql.DB: %v", err)
		return nil, fmt.Errorf("failed to get sql.DB: %v", err)
	}

	sqlDB.SetMaxOpenConns(opts.MaxOpenConnections)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConnections)
	sqlDB.SetConnMaxLifetime(opts.MaxConnectionLifeTime)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %v", err)
	}

	installDeadlineCallbacks(db, opts.Timeout)

	log.Infof("database pool ready: maxOpen=%d maxIdle=%d connLifetime=%v",
		opts.MaxOpenConnections, opts.MaxIdleConnections, opts.MaxConnectionLifeTime)
	return db, nil
}

// registrar 匹配gorm回调链上的Register方法, 四类processor共用一套注册逻辑。
type registrar interface {
	Register(name string, fn func(*gorm.DB)) error
}

// installDeadlineCallbacks 给增删改查统一挂SQL级超时,
// 单条语句卡死时由context掐断, 不让它占着连接池。
func installDeadlineCallbacks(db *gorm.DB, timeout time.Duration) {
	install := func(before, after registrar, kind string) {
		_ = before.Register("sql_deadline:"+kind, func(tx *gorm.DB) { armDeadline(tx, timeout) })
		_ = after.Register("sql_deadline:"+kind+"_done", disarmDeadline)
	}
	install(db.Callback().Create().Before("gorm:create"), db.Callback().Create().After("gorm:create"), "create")
	install(db.Callback().Query().Before("gorm:query"), db.Callback().Query().After("gorm:query"), "query")
	install(db.Callback().Update().Before("gorm:update"), db.Callback().Update().After("gorm:update"), "update")
	install(db.Callback().Delete().Before("gorm:delete"), db.Callback().Delete().After("gorm:delete"), "delete")
}

// armDeadline 只在语句还没有可取消context时补一个, 不覆盖调用方自己的超时。
func armDeadline(tx *gorm.DB, timeout time.Duration) {
	if tx.Statement.Context == nil || tx.Statement.Context.Done() == nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		tx.Statement.Context = ctx
		tx.InstanceSet("sql_deadline_cancel", cancel)
	}
}

func disarmDeadline(tx *gorm.DB) {
	if v, ok := tx.InstanceGet("sql_deadline_cancel"); ok {
		if cancel, ok := v.(context.CancelFunc); ok {
			cancel()
		}
		tx.InstanceSet("sql_deadline_cancel", nil)
	}
}
