package ratelimiter

import (
	"context"
	"math"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

// newIdleController 构造一个调整周期极长的控制器, 测试里手工调用
// adjustOnce, 避免后台循环引入时序抖动。
func newIdleController(t *testing.T, initRate, minRate, maxRate float64, stats StatsFunc) *Controller {
	t.Helper()
	c := NewController(initRate, minRate, maxRate, time.Hour, stats)
	t.Cleanup(c.Stop)
	return c
}

func TestNextLimitBacksOffOnFailures(t *testing.T) {
	// 失败率20%超过降速阈值, 速率乘性下降
	got := nextLimit(100, 0.20, 10, 100)
	if got != 80 {
		t.Fatalf("nextLimit(100, 0.20) = %v, want 80", got)
	}

	// 已经贴着下限时不再下降
	got = nextLimit(10, 0.50, 10, 100)
	if got != 10 {
		t.Fatalf("nextLimit at floor = %v, want 10", got)
	}

	// 下降后低于下限则夹回下限
	got = nextLimit(11, 0.50, 10, 100)
	if got != 10 {
		t.Fatalf("nextLimit(11, 0.50) = %v, want clamp to 10", got)
	}
}

func TestNextLimitRecoversWhenHealthy(t *testing.T) {
	// 失败率1%低于恢复阈值, 缓慢回升
	got := nextLimit(50, 0.01, 10, 100)
	if math.Abs(float64(got)-55) > 1e-9 {
		t.Fatalf("nextLimit(50, 0.01) = %v, want 55", got)
	}

	// 回升不越过上限
	got = nextLimit(99, 0.0, 10, 100)
	if got != 100 {
		t.Fatalf("nextLimit(99, 0.0) = %v, want clamp to 100", got)
	}

	// 已在上限则维持
	got = nextLimit(100, 0.0, 10, 100)
	if got != 100 {
		t.Fatalf("nextLimit at ceiling = %v, want 100", got)
	}
}

func TestNextLimitHoldsInDeadband(t *testing.T) {
	// 失败率落在(2%, 10%]区间内时不调整, 防止边界震荡
	for _, fr := range []float64{0.02, 0.05, 0.10} {
		if got := nextLimit(50, fr, 10, 100); got != 50 {
			t.Fatalf("nextLimit(50, %v) = %v, want hold at 50", fr, got)
		}
	}
}

func TestControllerAdjustsFromStats(t *testing.T) {
	failing := func() (int, int) { return 100, 50 } // 失败率50%
	c := newIdleController(t, 100, 10, 100, failing)

	c.adjustOnce()
	if got := c.Rate(); got != 80 {
		t.Fatalf("Rate after failing window = %v, want 80", got)
	}

	// 连续失败窗口一路降到下限为止
	for i := 0; i < 20; i++ {
		c.adjustOnce()
	}
	if got := c.Rate(); got != 10 {
		t.Fatalf("Rate after sustained failures = %v, want floor 10", got)
	}
}

func TestControllerRecoversAfterFailuresStop(t *testing.T) {
	failRate := 1.0
	stats := func() (int, int) { return 100, int(100 * failRate) }
	c := newIdleController(t, 100, 10, 100, stats)

	c.adjustOnce()
	if got := c.Rate(); got != 80 {
		t.Fatalf("Rate after failure window = %v, want 80", got)
	}

	// 故障消失后逐步回升
	failRate = 0
	c.adjustOnce()
	if got := c.Rate(); math.Abs(got-88) > 1e-9 {
		t.Fatalf("Rate after recovery window = %v, want 88", got)
	}
}

func TestControllerNoTrafficCountsAsHealthy(t *testing.T) {
	// 窗口内没有任何投递时按失败率0处理, 速率允许回升
	c := newIdleController(t, 50, 10, 100, func() (int, int) { return 0, 0 })

	c.adjustOnce()
	if got := c.Rate(); math.Abs(got-55) > 1e-9 {
		t.Fatalf("Rate after idle window = %v, want 55", got)
	}
}

func TestSetRateClampsToBounds(t *testing.T) {
	c := newIdleController(t, 50, 10, 100, func() (int, int) { return 0, 0 })

	c.SetRate(500)
	if got := c.Rate(); got != 100 {
		t.Fatalf("SetRate(500) -> Rate() = %v, want clamp to 100", got)
	}

	c.SetRate(1)
	if got := c.Rate(); got != 10 {
		t.Fatalf("SetRate(1) -> Rate() = %v, want clamp to 10", got)
	}
}

func TestWaitHonorsContextCancel(t *testing.T) {
	// 速率1 req/s、桶容量1: 第一次Wait立即通过, 第二次必须等待
	c := newIdleController(t, 1, 1, 1, func() (int, int) { return 0, 0 })

	if err := c.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait should pass immediately: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Wait(ctx); err == nil {
		t.Fatal("second Wait should fail when context expires before refill")
	}
}

func TestSubUnitRateStillAdmitsOne(t *testing.T) {
	// 速率低于1 req/s时桶容量被抬到1, 首个令牌仍然可取
	c := newIdleController(t, 0.5, 0.5, 1, func() (int, int) { return 0, 0 })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("Wait with sub-unit rate should admit the first token: %v", err)
	}

	if got := rate.Limit(c.Rate()); got != 0.5 {
		t.Fatalf("Rate() = %v, want 0.5", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	c := NewController(10, 1, 10, time.Hour, func() (int, int) { return 0, 0 })
	c.Stop()
	c.Stop() // 第二次不应panic
}
