// pkg/log/context.go
// 上下文感知日志：请求级别的追踪字段（requestID/username）由中间件写入
// gin.Context，这里统一取出并附加到日志器上，业务代码不用手工透传。
package log

import (
	"context"

	"go.uber.org/zap"
)

const (
	// KeyRequestID 请求追踪ID在上下文中的键名，由 RequestID 中间件写入。
	KeyRequestID = "requestID"
	// KeyUsername 已认证用户名在上下文中的键名，由认证中间件写入。
	KeyUsername = "username"
)

// ContextLogger 是 L(ctx) 返回的请求级日志器，携带从上下文取出的追踪
// 字段。不复用 nexuscore 的 Logger 接口：那套接口没有 Warnf/Infow 这组
// 方法，业务代码需要的是和包级函数同名同形的完整方法族。
type ContextLogger struct {
	kv []interface{}
}

// L 返回绑定了请求上下文字段的日志器。
// ctx 为 *gin.Context 时，Value 会命中 c.Set 写入的键；
// 普通 context.Context 同样适用（键需为上面两个常量）。
func L(ctx context.Context) *ContextLogger {
	kv := make([]interface{}, 0, 4)
	if ctx != nil {
		if requestID := ctx.Value(KeyRequestID); requestID != nil {
			kv = append(kv, KeyRequestID, requestID)
		}
		if username := ctx.Value(KeyUsername); username != nil {
			kv = append(kv, KeyUsername, username)
		}
	}
	return &ContextLogger{kv: kv}
}

// KeyValues 返回日志器携带的追踪字段，测试用。
func (l *ContextLogger) KeyValues() []interface{} {
	return l.kv
}

// withKV 把追踪字段拼进键值对参数尾部，w 系列方法共用。
func (l *ContextLogger) withKV(kv []interface{}) []interface{} {
	if len(l.kv) == 0 {
		return kv
	}
	out := make([]interface{}, 0, len(kv)+len(l.kv))
	out = append(out, kv...)
	out = append(out, l.kv...)
	return out
}

// f 系列走底层 sugared logger 的 With，保证格式化日志同样带上追踪字段。
func (l *ContextLogger) sugared() *zap.SugaredLogger {
	return ZapLogger().Sugar().With(l.kv...)
}

func (l *ContextLogger) Debugf(format string, v ...interface{}) { l.sugared().Debugf(format, v...) }
func (l *ContextLogger) Infof(format string, v ...interface{})  { l.sugared().Infof(format, v...) }
func (l *ContextLogger) Warnf(format string, v ...interface{})  { l.sugared().Warnf(format, v...) }
func (l *ContextLogger) Errorf(format string, v ...interface{}) { l.sugared().Errorf(format, v...) }

func (l *ContextLogger) Debugw(msg string, kv ...interface{}) { Debugw(msg, l.withKV(kv)...) }
func (l *ContextLogger) Infow(msg string, kv ...interface{})  { Infow(msg, l.withKV(kv)...) }
func (l *ContextLogger) Warnw(msg string, kv ...interface{})  { Warnw(msg, l.withKV(kv)...) }
func (l *ContextLogger) Errorw(msg string, kv ...interface{}) { Errorw(msg, l.withKV(kv)...) }
