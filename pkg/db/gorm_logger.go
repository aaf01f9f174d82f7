package db

import (
	"context"
	"time"

	"gorm.io/gorm/logger"

	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

// gormLoggerAdapter 把 GORM 的日志接到统一日志门面上，
// 避免 GORM 默认 logger 直接写 stdout、绕开级别控制。
type gormLoggerAdapter struct {
	level         logger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger 创建 GORM 日志适配器。
// level 取值对齐 --mysql.log-level：0 静默 1 错误 2 警告 3 信息。
func NewGormLogger(level int) logger.Interface {
	return &gormLoggerAdapter{
		level:         toGormLogLevel(level),
		slowThreshold: 200 * time.Millisecond, // 超过该阈值的SQL按慢查询告警
	}
}

func (g *gormLoggerAdapter) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *g
	newLogger.level = level
	return &newLogger
}

func (g *gormLoggerAdapter) Info(ctx context.Context, msg string, data ...interface{}) {
	if g.level >= logger.Info {
		log.L(ctx).Infof(msg, data...)
	}
}

func (g *gormLoggerAdapter) Warn(ctx context.Context, msg string, data ...interface{}) {
	if g.level >= logger.Warn {
		log.L(ctx).Warnf(msg, data...)
	}
}

func (g *gormLoggerAdapter) Error(ctx context.Context, msg string, data ...interface{}) {
	if g.level >= logger.Error {
		log.L(ctx).Errorf(msg, data...)
	}
}

// Trace 记录SQL执行情况：错误优先，其次慢查询，最后普通明细。
func (g *gormLoggerAdapter) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && g.level >= logger.Error:
		log.L(ctx).Errorw("SQL执行失败",
			"error", err.Error(),
			"elapsed", elapsed.String(),
			"rows", rows,
			"sql", sql,
		)
	case elapsed > g.slowThreshold && g.level >= logger.Warn:
		log.L(ctx).Warnw("慢查询",
			"threshold", g.slowThreshold.String(),
			"elapsed", elapsed.String(),
			"rows", rows,
			"sql", sql,
		)
	case g.level >= logger.Info:
		log.L(ctx).Debugw("SQL执行",
			"elapsed", elapsed.String(),
			"rows", rows,
			"sql", sql,
		)
	}
}

func toGormLogLevel(level int) logger.LogLevel {
	switch level {
	case 0:
		return logger.Silent
	case 1:
		return logger.Error
	case 2:
		return logger.Warn
	case 3:
		return logger.Info
	default:
		return logger.Warn
	}
}
