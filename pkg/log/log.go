/*
pkg/log 是 ott-apiserver 的统一日志门面。

该包把 nexuscore/log（基于 zap 的结构化日志实现）重新导出为项目内部的
唯一日志入口，业务代码只依赖本包，不直接依赖 zap 或 nexuscore：
  - 统一接口：Logger/InfoLogger 两层接口与包级函数（Info/Warnf/Errorw...）
  - 上下文日志：L(ctx) 自动附加 requestID、username 两个追踪字段
  - klog 并流：k8s 生态组件通过 klog 打的日志统一汇入 zap（见 klog.go）

调用方在进程退出前应执行 Flush()，保证缓冲日志落盘。
*/
package log

import (
	"log"

	"go.uber.org/zap"

	nexuslog "github.com/maxiaolu1981/cretem/nexuscore/log"
)

// 类型别名：对业务层隐藏底层实现，未来替换日志库时只改本包。
type (
	Logger     = nexuslog.Logger
	InfoLogger = nexuslog.InfoLogger
	Options    = nexuslog.Options
	Field      = nexuslog.Field
	Level      = nexuslog.Level
)

// 常用字段构造函数，避免业务代码直接 import zap。
var (
	Any      = zap.Any
	Bool     = zap.Bool
	Duration = zap.Duration
	Err      = zap.Error
	Int      = zap.Int
	Int64    = zap.Int64
	String   = zap.String
	Time     = zap.Time
	Uint64   = zap.Uint64
)

// NewOptions 返回默认日志配置（级别、格式、输出路径等由命令行标志覆盖）。
func NewOptions() *Options {
	return nexuslog.NewOptions()
}

// Init 用给定配置初始化全局日志器，并把 klog 的输出并入同一条流。
// 必须在任何日志调用之前执行，通常在 run() 的第一行。
func Init(opts *Options) {
	nexuslog.Init(opts)
	redirectKlog()
}

// Flush 把缓冲区中的日志条目刷到输出目标，进程退出前调用。
func Flush() {
	nexuslog.Flush()
}

// StdErrLogger 返回写 error 级别的标准库 *log.Logger，
// 用于对接只认识标准库日志接口的第三方组件。
func StdErrLogger() *log.Logger {
	return nexuslog.StdErrLogger()
}

// StdInfoLogger 返回写 info 级别的标准库 *log.Logger。
func StdInfoLogger() *log.Logger {
	return nexuslog.StdInfoLogger()
}

// ZapLogger 暴露底层 *zap.Logger，只给确实需要 zap 原生接口的基础设施用
//（如 gin-dump、gorm 适配器），业务代码不要调用。
func ZapLogger() *zap.Logger {
	return nexuslog.ZapLogger()
}

// V 返回指定详细级别的 InfoLogger，级别越高日志越琐碎。
func V(level int) InfoLogger { return nexuslog.V(level) }

// WithValues 创建附加固定键值对的子日志器。
func WithValues(keysAndValues ...interface{}) Logger {
	return nexuslog.WithValues(keysAndValues...)
}

// WithName 创建带模块名前缀的子日志器。
func WithName(s string) Logger { return nexuslog.WithName(s) }

func Debug(msg string, fields ...Field)            { nexuslog.Debug(msg, fields...) }
func Debugf(format string, v ...interface{})       { nexuslog.Debugf(format, v...) }
func Debugw(msg string, kv ...interface{})         { nexuslog.Debugw(msg, kv...) }
func Info(msg string, fields ...Field)             { nexuslog.Info(msg, fields...) }
func Infof(format string, v ...interface{})        { nexuslog.Infof(format, v...) }
func Infow(msg string, kv ...interface{})          { nexuslog.Infow(msg, kv...) }
func Warn(msg string, fields ...Field)             { nexuslog.Warn(msg, fields...) }
func Warnf(format string, v ...interface{})        { nexuslog.Warnf(format, v...) }
func Warnw(msg string, kv ...interface{})          { nexuslog.Warnw(msg, kv...) }
func Error(msg string, fields ...Field)            { nexuslog.Error(msg, fields...) }
func Errorf(format string, v ...interface{})       { nexuslog.Errorf(format, v...) }
func Errorw(msg string, kv ...interface{})         { nexuslog.Errorw(msg, kv...) }
func Panic(msg string, fields ...Field)            { nexuslog.Panic(msg, fields...) }
func Panicf(format string, v ...interface{})       { nexuslog.Panicf(format, v...) }
func Fatal(msg string, fields ...Field)            { nexuslog.Fatal(msg, fields...) }
func Fatalf(format string, v ...interface{})       { nexuslog.Fatalf(format, v...) }
func Fatalw(msg string, keysAndValues ...interface{}) {
	nexuslog.Fatalw(msg, keysAndValues...)
}
