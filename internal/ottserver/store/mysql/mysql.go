/*
mysql 包实现基于 MySQL 的仓储工厂：用户表与一次性令牌表都走 gorm。
工厂是进程级单例, 第一次调用 GetMySQLFactoryOr 时用配置建连,
之后的调用返回同一实例。
*/
package mysql

import (
	"fmt"
	"sync"

	v1 "github.com/maxiaolu1981/cretem/nexuscore/api/apiserver/v1"
	"github.com/maxiaolu1981/cretem/nexuscore/errors"
	"gorm.io/gorm"

	tokenv1 "github.com/maxiaolu1981/cretem/ottserver/api/v1"
	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/store/interfaces"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/options"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/db"
)

var (
	mysqlFactory interfaces.Factory
	once         sync.Once
)

// Datastore 持有 gorm 连接, 是 mysql 后端的仓储工厂实现。
type Datastore struct {
	DB *gorm.DB
}

func newUsers(ds *Datastore) interfaces.UserStore {
	return &Users{db: ds.DB}
}

func newTokens(ds *Datastore) interfaces.TokenStore {
	return &Tokens{db: ds.DB}
}

func (ds *Datastore) Users() interfaces.UserStore {
	return newUsers(ds)
}

func (ds *Datastore) Tokens() interfaces.TokenStore {
	return newTokens(ds)
}

// GetMySQLFactoryOr 返回 mysql 仓储工厂单例, 首次调用时按 opts 建立连接。
// 同时返回原始 *gorm.DB, 供审计消费者等需要直接落库的组件使用。
func GetMySQLFactoryOr(opts *options.MySQLOptions) (interfaces.Factory, *gorm.DB, error) {
	if opts == nil && mysqlFactory == nil {
		return nil, nil, fmt.Errorf("获取mysql store factory失败: 工厂未初始化且没有提供配置")
	}

	var err error
	var dbIns *gorm.DB

	once.Do(func() {
		o := &db.Options{
			Host:                  opts.Host,
			Username:              opts.Username,
			Password:              opts.Password,
			Database:              opts.Database,
			MaxIdleConnections:    opts.MaxIdleConnections,
			MaxOpenConnections:    opts.MaxOpenConnections,
			MaxConnectionLifeTime: opts.MaxConnectionLifeTime,
			LogLevel:              opts.LogLevel,
		}
		dbIns, err = db.New(o)
		if err != nil {
			return
		}

		mysqlFactory = &Datastore{DB: dbIns}
	})

	if err != nil {
		return nil, nil, fmt.Errorf("初始化mysql store factory失败: %w", err)
	}
	if mysqlFactory == nil {
		return nil, nil, fmt.Errorf("mysql store factory为空, 可能首次初始化已失败")
	}

	if dbIns == nil {
		if ds, ok := mysqlFactory.(*Datastore); ok {
			dbIns = ds.DB
		}
	}

	return mysqlFactory, dbIns, nil
}

// NewFactory 用外部准备好的 gorm 连接构建工厂, 测试用 sqlite 连接走这里。
func NewFactory(dbIns *gorm.DB) *Datastore {
	return &Datastore{DB: dbIns}
}

func (ds *Datastore) Close() error {
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return errors.Wrap(err, "get gorm db instance failed")
	}

	return sqlDB.Close()
}

// MigrateDatabase 创建/补齐用户表与令牌表, 只加缺失字段, 不动已有数据。
func MigrateDatabase(dbIns *gorm.DB) error {
	if err := dbIns.AutoMigrate(&v1.User{}); err != nil {
		return errors.Wrap(err, "migrate user model failed")
	}
	if err := dbIns.AutoMigrate(&tokenv1.OneTimeToken{}); err != nil {
		return errors.Wrap(err, "migrate one_time_token model failed")
	}

	return nil
}
