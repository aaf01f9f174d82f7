package options

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// LockOptions 过期令牌清扫任务的分布式锁配置。
// 多实例部署时同一时刻只允许一个实例扫库删除过期令牌,
// 锁基于redis实现, redis不可用时按 FallbackAction 降级。
type LockOptions struct {
	// Enabled 总开关, 单实例部署可以关掉
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// KeyPrefix 锁键前缀, 避免与业务键冲突
	KeyPrefix string `json:"key-prefix" mapstructure:"key-prefix"`

	// Timeout 锁的自动过期时间, 防止进程崩溃后死锁
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// RetryCount 获取锁失败时的最大重试次数, 0表示不重试
	RetryCount int `json:"retry-count" mapstructure:"retry-count"`

	// RetryInterval 重试间隔
	RetryInterval time.Duration `json:"retry-interval" mapstructure:"retry-interval"`

	// FallbackAction redis不可用时的动作: skip=本轮跳过清扫, run=无锁继续执行
	FallbackAction string `json:"fallback-action" mapstructure:"fallback-action"`
}

func NewLockOptions() *LockOptions {
	return &LockOptions{
		Enabled:        true,
		KeyPrefix:      "ott:lock:",
		Timeout:        30 * time.Second,
		RetryCount:     2,
		RetryInterval:  200 * time.Millisecond,
		FallbackAction: "skip",
	}
}

func (l *LockOptions) Complete() {
	if l.KeyPrefix == "" {
		l.KeyPrefix = "ott:lock:"
	}
	if !strings.HasSuffix(l.KeyPrefix, ":") {
		l.KeyPrefix += ":"
	}
	if l.Timeout <= 0 {
		l.Timeout = 30 * time.Second
	}
	if l.RetryInterval <= 0 {
		l.RetryInterval = 200 * time.Millisecond
	}
	if l.FallbackAction == "" {
		l.FallbackAction = "skip"
	}
}

func (l *LockOptions) Validate() []error {
	var errs []error

	if l.Timeout < time.Second {
		errs = append(errs, fmt.Errorf("锁超时时间不能小于1秒: %v", l.Timeout))
	}
	if l.RetryCount < 0 {
		errs = append(errs, fmt.Errorf("重试次数不能为负数: %d", l.RetryCount))
	}
	if l.FallbackAction != "skip" && l.FallbackAction != "run" {
		errs = append(errs, fmt.Errorf("降级动作必须是 skip 或 run: %s", l.FallbackAction))
	}

	return errs
}

func (l *LockOptions) AddFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&l.Enabled, "lock.enabled", l.Enabled,
		"是否为过期令牌清扫任务启用分布式锁(多实例部署必须开启)。")

	fs.StringVar(&l.KeyPrefix, "lock.key-prefix", l.KeyPrefix,
		"分布式锁键的统一前缀。")

	fs.DurationVar(&l.Timeout, "lock.timeout", l.Timeout,
		"锁的自动过期时间, 持锁进程崩溃后其他实例最多等待这么久。")

	fs.IntVar(&l.RetryCount, "lock.retry-count", l.RetryCount,
		"获取锁失败时的最大重试次数。")

	fs.DurationVar(&l.RetryInterval, "lock.retry-interval", l.RetryInterval,
		"两次获取锁之间的等待时间。")

	fs.StringVar(&l.FallbackAction, "lock.fallback-action", l.FallbackAction,
		"redis不可用时的降级动作: skip=跳过本轮清扫, run=无锁执行。")
}
