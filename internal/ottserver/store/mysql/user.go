package mysql

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/bytedance/gopkg/util/logger"
	"github.com/go-sql-driver/mysql"
	v1 "github.com/maxiaolu1981/cretem/nexuscore/api/apiserver/v1"
	"github.com/maxiaolu1981/cretem/nexuscore/component-base/db"
	metav1 "github.com/maxiaolu1981/cretem/nexuscore/component-base/meta/v1"
	"github.com/maxiaolu1981/cretem/nexuscore/errors"
	"gorm.io/gorm"

	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/code"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/metrics"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

// Users 封装用户表的数据库操作, 持有 *gorm.DB 直接执行SQL。
type Users struct {
	db *gorm.DB
}

const userTable = "user"

func recordUserOp(operation string, start time.Time, err error) {
	metrics.RecordOperation(operation, userTable, time.Since(start))
	if err != nil {
		metrics.RecordError(operation, userTable, dbErrorType(err))
	}
}

// isMySQLDuplicateError 检查是否是MySQL唯一键冲突错误
func isMySQLDuplicateError(err error) bool {
	var mysqlErr *mysql.MySQLError
	if stderrors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062 // MySQL重复键错误码
	}
	return false
}

// isMySQLDeadlockError 检查是否是MySQL死锁错误
func isMySQLDeadlockError(err error) bool {
	var mysqlErr *mysql.MySQLError
	if stderrors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1213 // MySQL死锁错误码
	}
	return false
}

// isMySQLConnectionError 检查是否是MySQL连接错误
func isMySQLConnectionError(err error) bool {
	var mysqlErr *mysql.MySQLError
	if stderrors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 2002, 2003, 2006, 2013:
			return true
		}
	}
	return false
}

// isRetryableError 死锁和连接类错误重试, 业务错误不重试
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	return isMySQLDeadlockError(err) || isMySQLConnectionError(err)
}

var queryRetryConfig = db.RetryConfig{
	MaxAttempts:   3,
	InitialDelay:  50 * time.Millisecond,
	MaxDelay:      500 * time.Millisecond,
	BackoffFactor: 2.0,
	Jitter:        true,
	IsRetryable:   isRetryableError,
}

func (u *Users) Create(ctx context.Context, user *v1.User, opts metav1.CreateOptions) error {
	start := time.Now()
	err := u.db.WithContext(ctx).Create(user).Error
	recordUserOp("create", start, err)
	if err == nil {
		return nil
	}

	switch {
	case isMySQLDuplicateError(err) || stderrors.Is(err, gorm.ErrDuplicatedKey):
		return errors.WithCode(code.ErrUserAlreadyExist, "用户[%s]已经存在: %v", user.Name, err)
	case isMySQLDeadlockError(err):
		return errors.WithCode(code.ErrDatabaseDeadlock, "创建用户[%s]遇到死锁: %v", user.Name, err)
	default:
		return errors.WithCode(code.ErrDatabase, "创建用户失败: %v", err)
	}
}

func (u *Users) Update(ctx context.Context, user *v1.User, opts metav1.UpdateOptions) error {
	start := time.Now()
	err := u.db.WithContext(ctx).Model(&v1.User{}).
		Where("name = ?", user.Name).
		Updates(user).Error
	recordUserOp("update", start, err)
	if err != nil {
		if isMySQLDeadlockError(err) {
			return errors.WithCode(code.ErrDatabaseDeadlock, "更新用户[%s]遇到死锁: %v", user.Name, err)
		}
		return errors.WithCode(code.ErrDatabase, "更新用户失败: %v", err)
	}
	return nil
}

func (u *Users) Delete(ctx context.Context, username string, opts metav1.DeleteOptions) error {
	start := time.Now()
	result := u.db.WithContext(ctx).
		Where("name = ?", username).
		Delete(&v1.User{})
	recordUserOp("delete", start, result.Error)
	if result.Error != nil {
		return errors.WithCode(code.ErrDatabase, "删除用户失败: %v", result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.WithCode(code.ErrUserNotFound, "用户[%s]不存在", username)
	}
	return nil
}

// Get 查询用户（按用户名）, 死锁/连接错误自动重试
func (u *Users) Get(ctx context.Context, username string, opts metav1.GetOptions) (*v1.User, error) {
	var resultUser *v1.User

	start := time.Now()
	err := db.Do(ctx, queryRetryConfig, func(attemptCtx context.Context) error {
		attemptStart := time.Now()

		// 不过滤 status: 禁用用户同样返回, 由业务层区分"禁用"和"不存在"
		user := &v1.User{}
		innerErr := u.db.WithContext(attemptCtx).
			Where("name = ?", username).
			First(user).Error
		if innerErr != nil {
			return innerErr
		}

		resultUser = user
		logger.Debugf("单次查询尝试成功 attempt_cost_ms=%v",
			time.Since(attemptStart).Milliseconds())
		return nil
	})
	recordUserOp("get", start, err)

	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.WithCode(code.ErrUserNotFound, "用户[%s]不存在", username)
		}
		if isMySQLDeadlockError(err) {
			return nil, errors.WithCode(code.ErrDatabaseDeadlock, "查询用户[%s]死锁重试耗尽: %v", username, err)
		}
		return nil, errors.WithCode(code.ErrDatabase, "查询用户失败: %v", err)
	}

	log.Debugf("查询用户%s成功", username)
	return resultUser, nil
}

func (u *Users) List(ctx context.Context, opts metav1.ListOptions) (*v1.UserList, error) {
	ret := &v1.UserList{}

	var limit, offset int
	if opts.Limit != nil {
		limit = int(*opts.Limit)
	}
	if limit <= 0 {
		limit = 50
	}
	if opts.Offset != nil {
		offset = int(*opts.Offset)
	}

	start := time.Now()
	d := u.db.WithContext(ctx).
		Model(&v1.User{}).
		Where("status = 1").
		Count(&ret.TotalCount).
		Offset(offset).
		Limit(limit).
		Order("id desc").
		Find(&ret.Items)
	recordUserOp("list", start, d.Error)
	if d.Error != nil {
		return nil, errors.WithCode(code.ErrDatabase, "查询用户列表失败: %v", d.Error)
	}

	return ret, nil
}
