package user

import (
	"testing"
	"time"

	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/options"
)

// Timeout 选项的单位是秒(int), 必须换算成 Duration 再用于上下文超时。
func TestRedisQueryTimeoutConvertsSeconds(t *testing.T) {
	opts := options.NewOptions()
	opts.RedisOptions.Timeout = 3

	u := &UserService{Options: opts}
	if got := u.redisQueryTimeout(); got != 3*time.Second {
		t.Fatalf("redisQueryTimeout() = %v, 期望 3s", got)
	}
}

func TestRedisQueryTimeoutDefault(t *testing.T) {
	cases := []struct {
		name string
		u    *UserService
	}{
		{"无Options", &UserService{}},
		{"超时未配置", &UserService{Options: options.NewOptions()}},
	}
	for _, tc := range cases {
		if got := tc.u.redisQueryTimeout(); got != 5*time.Second {
			t.Errorf("%s: redisQueryTimeout() = %v, 期望兜底 5s", tc.name, got)
		}
	}
}
