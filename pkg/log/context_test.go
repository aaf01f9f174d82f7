package log

import (
	"context"
	"testing"
)

func TestLExtractsTraceFields(t *testing.T) {
	ctx := context.WithValue(context.Background(), KeyRequestID, "req-001") //nolint:staticcheck // 中间件就是用字符串键写入的
	ctx = context.WithValue(ctx, KeyUsername, "admin")                      //nolint:staticcheck

	l := L(ctx)
	kv := l.KeyValues()
	if len(kv) != 4 {
		t.Fatalf("期望4个键值元素, 实际 %d: %v", len(kv), kv)
	}
	if kv[0] != KeyRequestID || kv[1] != "req-001" {
		t.Errorf("requestID字段未附加: %v", kv)
	}
	if kv[2] != KeyUsername || kv[3] != "admin" {
		t.Errorf("username字段未附加: %v", kv)
	}
}

func TestLEmptyContext(t *testing.T) {
	if kv := L(context.Background()).KeyValues(); len(kv) != 0 {
		t.Errorf("空上下文不应携带字段: %v", kv)
	}
	if kv := L(nil).KeyValues(); len(kv) != 0 { //nolint:staticcheck // nil ctx是历史调用方存在的形态
		t.Errorf("nil上下文不应携带字段: %v", kv)
	}
}

// 会话日志器必须提供完整的 f/w 方法族, 业务代码两种形态都在用。
func TestLMethodFamily(t *testing.T) {
	ctx := context.WithValue(context.Background(), KeyRequestID, "req-002") //nolint:staticcheck
	l := L(ctx)

	l.Debugf("debugf %s", "x")
	l.Infof("infof %s", "x")
	l.Warnf("warnf %s", "x")
	l.Errorf("errorf %s", "x")
	l.Debugw("debugw", "k", "v")
	l.Infow("infow", "k", "v")
	l.Warnw("warnw", "k", "v")
	l.Errorw("errorw", "k", "v")
}
