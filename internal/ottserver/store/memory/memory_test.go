package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	v1 "github.com/maxiaolu1981/cretem/nexuscore/api/apiserver/v1"
	metav1 "github.com/maxiaolu1981/cretem/nexuscore/component-base/meta/v1"
	"github.com/maxiaolu1981/cretem/nexuscore/errors"

	tokenv1 "github.com/maxiaolu1981/cretem/ottserver/api/v1"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/code"
)

func TestMemoryUsers_SeededAccounts(t *testing.T) {
	factory, err := NewFactory(100)
	if err != nil {
		t.Fatalf("NewFactory returned error: %v", err)
	}
	ctx := context.Background()

	user, err := factory.Users().Get(ctx, "user", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("Get(user) returned error: %v", err)
	}
	if err := user.Compare("password"); err != nil {
		t.Fatalf("seeded password should verify: %v", err)
	}
	if user.Status != 1 {
		t.Fatalf("seeded user should be enabled, status=%d", user.Status)
	}

	admin, err := factory.Users().Get(ctx, "admin", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("Get(admin) returned error: %v", err)
	}
	if admin.IsAdmin != 1 {
		t.Fatalf("admin account should have isAdmin=1")
	}
}

func TestMemoryUsers_GetReturnsCopy(t *testing.T) {
	factory, err := NewFactory(100)
	if err != nil {
		t.Fatalf("NewFactory returned error: %v", err)
	}
	ctx := context.Background()

	first, err := factory.Users().Get(ctx, "user", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	first.Password = "" // 模拟调用方清理敏感字段

	second, err := factory.Users().Get(ctx, "user", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if second.Password == "" {
		t.Fatalf("mutating a returned user must not affect the store")
	}
}

func TestMemoryUsers_CreateDuplicate(t *testing.T) {
	factory, err := NewFactory(100)
	if err != nil {
		t.Fatalf("NewFactory returned error: %v", err)
	}
	ctx := context.Background()

	user := &v1.User{ObjectMeta: metav1.ObjectMeta{Name: "dave"}, Status: 1, Password: "x"}
	if err := factory.Users().Create(ctx, user, metav1.CreateOptions{}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if user.ID == 0 || user.InstanceID == "" {
		t.Fatalf("Create should assign ID and instanceID, got id=%d instanceID=%q", user.ID, user.InstanceID)
	}

	err = factory.Users().Create(ctx, &v1.User{ObjectMeta: metav1.ObjectMeta{Name: "dave"}}, metav1.CreateOptions{})
	if !errors.IsCode(err, code.ErrUserAlreadyExist) {
		t.Fatalf("expected user-already-exist, got: %v", err)
	}
}

func TestMemoryTokens_ConcurrentConsumeSingleUse(t *testing.T) {
	factory, err := NewFactory(100)
	if err != nil {
		t.Fatalf("NewFactory returned error: %v", err)
	}
	ctx := context.Background()

	token := tokenv1.NewOneTimeToken("user", 10*time.Minute)
	if err := factory.Tokens().Create(ctx, token); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	const racers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	var wins int

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := factory.Tokens().Consume(ctx, token.TokenValue, time.Now()); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly 1 successful consume, got %d", wins)
	}
}

func TestMemoryTokens_ExpiredConsumeRemoves(t *testing.T) {
	factory, err := NewFactory(100)
	if err != nil {
		t.Fatalf("NewFactory returned error: %v", err)
	}
	ctx := context.Background()

	issued := time.Now().Add(-30 * time.Minute)
	token := &tokenv1.OneTimeToken{
		TokenValue: "stale",
		Username:   "user",
		CreatedAt:  issued,
		ExpiresAt:  issued.Add(10 * time.Minute),
	}
	if err := factory.Tokens().Create(ctx, token); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	_, err = factory.Tokens().Consume(ctx, "stale", time.Now())
	if !errors.IsCode(err, code.ErrTokenExpiredOTT) {
		t.Fatalf("expected token-expired, got: %v", err)
	}

	count, err := factory.Tokens().Count(ctx)
	if err != nil {
		t.Fatalf("Count returned error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expired token should be removed on consume, %d left", count)
	}
}

func TestMemoryTokens_SweepAtCapacity(t *testing.T) {
	store := newTokenStore(5)
	ctx := context.Background()
	now := time.Now()

	// 填满容量, 全部已过期
	for i := 0; i < 5; i++ {
		tok := &tokenv1.OneTimeToken{
			TokenValue: tokenv1.NewOneTimeToken("user", time.Minute).TokenValue,
			Username:   "user",
			ExpiresAt:  now.Add(-time.Minute),
		}
		if err := store.Create(ctx, tok); err != nil {
			t.Fatalf("Create #%d returned error: %v", i, err)
		}
	}

	// 第6条触发过期清理, 驻留量回落
	fresh := tokenv1.NewOneTimeToken("user", 10*time.Minute)
	if err := store.Create(ctx, fresh); err != nil {
		t.Fatalf("Create fresh token returned error: %v", err)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count returned error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected sweep to leave only the fresh token, got %d", count)
	}

	if _, err := store.Consume(ctx, fresh.TokenValue, time.Now()); err != nil {
		t.Fatalf("fresh token should still be consumable: %v", err)
	}
}
