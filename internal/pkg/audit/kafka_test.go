package audit

import (
	"testing"
	"time"
)

func TestEnsureTopicsRequiresBrokers(t *testing.T) {
	if err := EnsureTopics(nil, "ott.token.v1", 1, time.Second); err == nil {
		t.Fatalf("EnsureTopics accepted empty broker list")
	}
}

// 集群不可达时必须在拨号超时内返回错误, 不能无限期阻塞启动流程。
func TestEnsureTopicsUnreachableBroker(t *testing.T) {
	start := time.Now()
	err := EnsureTopics([]string{"127.0.0.1:1"}, "ott.token.v1", 1, 500*time.Millisecond)
	if err == nil {
		t.Fatalf("EnsureTopics succeeded against unreachable broker")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("dial did not respect timeout, took %v", elapsed)
	}
}
