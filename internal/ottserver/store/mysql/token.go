package mysql

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/maxiaolu1981/cretem/nexuscore/component-base/db"
	"github.com/maxiaolu1981/cretem/nexuscore/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	tokenv1 "github.com/maxiaolu1981/cretem/ottserver/api/v1"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/code"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/metrics"
)

const tokenTable = "one_time_token"

// recordTokenOp 上报令牌表操作的耗时与错误指标。
func recordTokenOp(operation string, start time.Time, err error) {
	metrics.RecordOperation(operation, tokenTable, time.Since(start))
	if err != nil {
		metrics.RecordError(operation, tokenTable, dbErrorType(err))
	}
}

func dbErrorType(err error) string {
	switch {
	case stderrors.Is(err, gorm.ErrRecordNotFound):
		return "not_found"
	case isMySQLDuplicateError(err), stderrors.Is(err, gorm.ErrDuplicatedKey):
		return "duplicate"
	case isMySQLDeadlockError(err):
		return "deadlock"
	default:
		return "other"
	}
}

// Tokens 封装一次性令牌表的数据库操作。
//
// 消费走"行锁+删除"事务: SELECT ... FOR UPDATE 把并发消费者在同一行上
// 串行化, 先拿到锁的删除成功, 后到的查不到行, 保证同一令牌只能登录一次。
type Tokens struct {
	db *gorm.DB
}

var consumeRetryConfig = db.RetryConfig{
	MaxAttempts:   3,
	InitialDelay:  50 * time.Millisecond,
	MaxDelay:      500 * time.Millisecond,
	BackoffFactor: 2.0,
	Jitter:        true,
	IsRetryable:   isMySQLDeadlockError,
}

func (t *Tokens) Create(ctx context.Context, token *tokenv1.OneTimeToken) error {
	start := time.Now()
	err := t.db.WithContext(ctx).Create(token).Error
	recordTokenOp("create", start, err)
	if err == nil {
		return nil
	}

	// token_value 是UUIDv4, 唯一键冲突只会来自重复提交同一条记录
	if isMySQLDuplicateError(err) || stderrors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.WithCode(code.ErrResourceConflict, "令牌值冲突: %v", err)
	}
	return errors.WithCode(code.ErrDatabase, "保存令牌失败: %v", err)
}

// Consume 原子地取出并删除令牌。行在事务内被锁定, 并发消费同一令牌时
// 只有一个调用者能拿到记录。过期令牌同样被删除, 但返回过期错误。
func (t *Tokens) Consume(ctx context.Context, tokenValue string, now time.Time) (*tokenv1.OneTimeToken, error) {
	var claimed tokenv1.OneTimeToken

	start := time.Now()
	err := db.Do(ctx, consumeRetryConfig, func(attemptCtx context.Context) error {
		return t.db.WithContext(attemptCtx).Transaction(func(tx *gorm.DB) error {
			tok := &tokenv1.OneTimeToken{}
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("token_value = ?", tokenValue).
				First(tok).Error; err != nil {
				return err
			}
			if err := tx.Delete(tok).Error; err != nil {
				return err
			}
			claimed = *tok
			return nil
		})
	})
	recordTokenOp("consume", start, err)

	if err != nil {
		switch {
		case stderrors.Is(err, gorm.ErrRecordNotFound):
			return nil, errors.WithCode(code.ErrTokenNotFound, "令牌不存在或已被使用")
		case isMySQLDeadlockError(err):
			return nil, errors.WithCode(code.ErrDatabaseDeadlock, "消费令牌死锁重试耗尽: %v", err)
		default:
			return nil, errors.WithCode(code.ErrDatabase, "消费令牌失败: %v", err)
		}
	}

	// 删除已提交, 过期令牌至此完成清理, 只差拒绝本次登录
	if claimed.Expired(now) {
		return nil, errors.WithCode(code.ErrTokenExpiredOTT, "令牌已过期")
	}
	return &claimed, nil
}

func (t *Tokens) ListActive(ctx context.Context, now time.Time) ([]*tokenv1.OneTimeToken, error) {
	var tokens []*tokenv1.OneTimeToken
	start := time.Now()
	err := t.db.WithContext(ctx).
		Where("expires_at >= ?", now).
		Find(&tokens).Error
	recordTokenOp("list_active", start, err)
	if err != nil {
		return nil, errors.WithCode(code.ErrDatabase, "查询有效令牌失败: %v", err)
	}
	return tokens, nil
}

func (t *Tokens) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	start := time.Now()
	result := t.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&tokenv1.OneTimeToken{})
	recordTokenOp("delete_expired", start, result.Error)
	if result.Error != nil {
		return 0, errors.WithCode(code.ErrDatabase, "清理过期令牌失败: %v", result.Error)
	}
	return result.RowsAffected, nil
}

func (t *Tokens) Count(ctx context.Context) (int64, error) {
	var count int64
	start := time.Now()
	err := t.db.WithContext(ctx).
		Model(&tokenv1.OneTimeToken{}).
		Count(&count).Error
	recordTokenOp("count", start, err)
	if err != nil {
		return 0, errors.WithCode(code.ErrDatabase, "统计令牌数量失败: %v", err)
	}
	return count, nil
}
