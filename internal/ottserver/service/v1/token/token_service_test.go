package token

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	v1 "github.com/maxiaolu1981/cretem/nexuscore/api/apiserver/v1"
	metav1 "github.com/maxiaolu1981/cretem/nexuscore/component-base/meta/v1"
	"github.com/maxiaolu1981/cretem/nexuscore/errors"

	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/options"
	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/store/interfaces"
	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/store/memory"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/code"
	genericoptions "github.com/maxiaolu1981/cretem/ottserver/internal/pkg/options"
)

func newTestService(t *testing.T, mutate func(*options.Options)) (*TokenService, interfaces.Factory) {
	t.Helper()

	opts := options.NewOptions()
	opts.TokenOptions.Store = genericoptions.TokenStoreMemory
	if mutate != nil {
		mutate(opts)
	}

	factory, err := memory.NewFactory(opts.TokenOptions.MaxInMemoryTokens)
	if err != nil {
		t.Fatalf("memory.NewFactory returned error: %v", err)
	}

	svc := &TokenService{
		Store:    factory,
		Options:  opts,
		Filter:   bloom.NewWithEstimates(10000, 0.01),
		FilterMu: &sync.RWMutex{},
	}
	return svc, factory
}

func TestGenerateSkipsUserExistenceCheck(t *testing.T) {
	svc, factory := newTestService(t, nil)
	ctx := context.Background()

	// 为不存在的用户签发也必须成功, 否则签发接口就能探测用户名
	tok, err := svc.Generate(ctx, "ghost", "10.0.0.1", "test-agent")
	if err != nil {
		t.Fatalf("generate for unknown user failed: %v", err)
	}
	if tok.Username != "ghost" || tok.TokenValue == "" {
		t.Fatalf("unexpected token: %+v", tok)
	}
	if tok.ClientIP != "10.0.0.1" || tok.UserAgent != "test-agent" {
		t.Fatalf("request metadata not recorded: %+v", tok)
	}

	active, err := factory.Tokens().ListActive(ctx, time.Now())
	if err != nil {
		t.Fatalf("list active tokens: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("token should be persisted, active=%d", len(active))
	}
}

func TestGenerateRejectsEmptyUsername(t *testing.T) {
	svc, _ := newTestService(t, nil)

	if _, err := svc.Generate(context.Background(), "   ", "", ""); err == nil {
		t.Fatalf("blank username must be rejected")
	}
}

func TestConsumeReturnsUserAndDestroysToken(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	tok, err := svc.Generate(ctx, "user", "10.0.0.1", "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	user, claimed, err := svc.Consume(ctx, tok.TokenValue)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if user.Name != "user" {
		t.Fatalf("consume returned user %q, want user", user.Name)
	}
	if claimed.TokenValue != tok.TokenValue {
		t.Fatalf("claimed token mismatch: %q vs %q", claimed.TokenValue, tok.TokenValue)
	}

	// 第二次兑换: 本实例签发过但存储里已删除 → 已使用
	_, _, err = svc.Consume(ctx, tok.TokenValue)
	if !errors.IsCode(err, code.ErrTokenConsumed) {
		t.Fatalf("expected ErrTokenConsumed on replay, got %v", err)
	}
}

func TestConsumeNeverIssuedToken(t *testing.T) {
	svc, _ := newTestService(t, nil)

	// memory后端: 布隆过滤器没见过的值直接拒绝
	_, _, err := svc.Consume(context.Background(), "cafebabe-0000-4000-8000-000000000000")
	if !errors.IsCode(err, code.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestConsumeEmptyValue(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, _, err := svc.Consume(context.Background(), "   ")
	if !errors.IsCode(err, code.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound for blank value, got %v", err)
	}
}

func TestConsumeExpiredToken(t *testing.T) {
	svc, _ := newTestService(t, func(o *options.Options) {
		o.TokenOptions.DefaultTTL = -time.Minute
	})
	ctx := context.Background()

	tok, err := svc.Generate(ctx, "user", "", "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	_, _, err = svc.Consume(ctx, tok.TokenValue)
	if !errors.IsCode(err, code.ErrTokenExpiredOTT) {
		t.Fatalf("expected ErrTokenExpiredOTT, got %v", err)
	}
}

func TestConsumeUnknownUserFailsAtRedemption(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	tok, err := svc.Generate(ctx, "ghost", "", "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	// 存在性校验推迟到兑换: 这里才暴露用户不存在
	_, _, err = svc.Consume(ctx, tok.TokenValue)
	if !errors.IsCode(err, code.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestConsumeDisabledUser(t *testing.T) {
	svc, factory := newTestService(t, nil)
	ctx := context.Background()

	disabled := &v1.User{
		ObjectMeta: metav1.ObjectMeta{Name: "frozen"},
		Status:     0,
		Nickname:   "已禁用",
	}
	if err := factory.Users().Create(ctx, disabled, metav1.CreateOptions{}); err != nil {
		t.Fatalf("seed disabled user: %v", err)
	}

	tok, err := svc.Generate(ctx, "frozen", "", "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	_, _, err = svc.Consume(ctx, tok.TokenValue)
	if !errors.IsCode(err, code.ErrUserDisabled) {
		t.Fatalf("expected ErrUserDisabled, got %v", err)
	}
}

func TestConsumeChecksExpiryBeforeUser(t *testing.T) {
	svc, _ := newTestService(t, func(o *options.Options) {
		o.TokenOptions.DefaultTTL = -time.Minute
	})
	ctx := context.Background()

	// 令牌既过期、用户又不存在: 先报过期
	tok, err := svc.Generate(ctx, "ghost", "", "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	_, _, err = svc.Consume(ctx, tok.TokenValue)
	if !errors.IsCode(err, code.ErrTokenExpiredOTT) {
		t.Fatalf("expiry must win over user checks, got %v", err)
	}
}

func TestWarmFilterAdmitsTokensFromSharedStore(t *testing.T) {
	svc, factory := newTestService(t, nil)
	ctx := context.Background()

	tok, err := svc.Generate(ctx, "user", "", "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	// 模拟重启: 同一份存储, 全新的过滤器
	restarted := &TokenService{
		Store:    factory,
		Options:  svc.Options,
		Filter:   bloom.NewWithEstimates(10000, 0.01),
		FilterMu: &sync.RWMutex{},
	}

	_, _, err = restarted.Consume(ctx, tok.TokenValue)
	if !errors.IsCode(err, code.ErrTokenNotFound) {
		t.Fatalf("cold filter should reject before warmup, got %v", err)
	}

	if err := restarted.WarmFilter(ctx); err != nil {
		t.Fatalf("warm filter: %v", err)
	}

	user, _, err := restarted.Consume(ctx, tok.TokenValue)
	if err != nil {
		t.Fatalf("consume after warmup failed: %v", err)
	}
	if user.Name != "user" {
		t.Fatalf("consume returned %q, want user", user.Name)
	}
}

func TestSweepExpiredRemovesOnlyStaleTokens(t *testing.T) {
	svc, factory := newTestService(t, nil)
	ctx := context.Background()

	svc.Options.TokenOptions.DefaultTTL = -time.Minute
	for i := 0; i < 2; i++ {
		if _, err := svc.Generate(ctx, "user", "", ""); err != nil {
			t.Fatalf("generate expired token: %v", err)
		}
	}
	svc.Options.TokenOptions.DefaultTTL = 5 * time.Minute
	fresh, err := svc.Generate(ctx, "user", "", "")
	if err != nil {
		t.Fatalf("generate fresh token: %v", err)
	}

	removed, err := svc.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed=%d, want 2", removed)
	}

	active, err := factory.Tokens().ListActive(ctx, time.Now())
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].TokenValue != fresh.TokenValue {
		t.Fatalf("fresh token must survive the sweep, active=%+v", active)
	}
}
