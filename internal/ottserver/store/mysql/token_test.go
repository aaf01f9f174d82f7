package mysql

import (
	"context"
	"testing"
	"time"

	"github.com/maxiaolu1981/cretem/nexuscore/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	tokenv1 "github.com/maxiaolu1981/cretem/ottserver/api/v1"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/code"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite database: %v", err)
	}
	for _, table := range []string{"one_time_token", "user"} {
		if err := db.Exec("DROP TABLE IF EXISTS " + table).Error; err != nil {
			t.Fatalf("failed to cleanup table %s: %v", table, err)
		}
	}
	if err := MigrateDatabase(db); err != nil {
		t.Fatalf("failed to migrate tables: %v", err)
	}
	return db
}

func TestTokens_ConsumeOnce(t *testing.T) {
	db := setupTestDB(t)
	store := &Tokens{db: db}
	ctx := context.Background()

	token := tokenv1.NewOneTimeToken("alice", 10*time.Minute)
	if err := store.Create(ctx, token); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	got, err := store.Consume(ctx, token.TokenValue, time.Now())
	if err != nil {
		t.Fatalf("first Consume returned error: %v", err)
	}
	if got.Username != "alice" {
		t.Fatalf("expected username alice, got %s", got.Username)
	}

	if _, err := store.Consume(ctx, token.TokenValue, time.Now()); err == nil {
		t.Fatalf("second Consume should fail, token must be single-use")
	} else if !errors.IsCode(err, code.ErrTokenNotFound) {
		t.Fatalf("second Consume expected token-not-found, got: %v", err)
	}
}

func TestTokens_ConsumeUnknown(t *testing.T) {
	db := setupTestDB(t)
	store := &Tokens{db: db}

	_, err := store.Consume(context.Background(), "never-issued", time.Now())
	if err == nil {
		t.Fatalf("Consume of unknown token should fail")
	}
	if !errors.IsCode(err, code.ErrTokenNotFound) {
		t.Fatalf("expected token-not-found, got: %v", err)
	}
}

func TestTokens_ConsumeExpiredDeletesRow(t *testing.T) {
	db := setupTestDB(t)
	store := &Tokens{db: db}
	ctx := context.Background()

	issued := time.Now().Add(-time.Hour)
	token := &tokenv1.OneTimeToken{
		TokenValue: "expired-token-value",
		Username:   "alice",
		CreatedAt:  issued,
		ExpiresAt:  issued.Add(10 * time.Minute),
	}
	if err := store.Create(ctx, token); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	_, err := store.Consume(ctx, token.TokenValue, time.Now())
	if err == nil {
		t.Fatalf("Consume of expired token should fail")
	}
	if !errors.IsCode(err, code.ErrTokenExpiredOTT) {
		t.Fatalf("expected token-expired, got: %v", err)
	}

	// 过期令牌消费后行应当已删除
	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count returned error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 rows after expired consume, got %d", count)
	}
}

func TestTokens_DeleteExpired(t *testing.T) {
	db := setupTestDB(t)
	store := &Tokens{db: db}
	ctx := context.Background()
	now := time.Now()

	rows := []*tokenv1.OneTimeToken{
		{TokenValue: "t-expired-1", Username: "alice", ExpiresAt: now.Add(-time.Minute)},
		{TokenValue: "t-expired-2", Username: "bob", ExpiresAt: now.Add(-time.Hour)},
		{TokenValue: "t-active", Username: "carol", ExpiresAt: now.Add(5 * time.Minute)},
	}
	for _, row := range rows {
		if err := store.Create(ctx, row); err != nil {
			t.Fatalf("Create(%s) returned error: %v", row.TokenValue, err)
		}
	}

	removed, err := store.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired returned error: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 expired rows removed, got %d", removed)
	}

	active, err := store.ListActive(ctx, now)
	if err != nil {
		t.Fatalf("ListActive returned error: %v", err)
	}
	if len(active) != 1 || active[0].TokenValue != "t-active" {
		t.Fatalf("expected only t-active to remain, got %v", active)
	}
}

func TestTokens_ListActiveSkipsExpired(t *testing.T) {
	db := setupTestDB(t)
	store := &Tokens{db: db}
	ctx := context.Background()
	now := time.Now()

	if err := store.Create(ctx, &tokenv1.OneTimeToken{
		TokenValue: "t-stale", Username: "alice", ExpiresAt: now.Add(-time.Second),
	}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := store.Create(ctx, &tokenv1.OneTimeToken{
		TokenValue: "t-fresh", Username: "alice", ExpiresAt: now.Add(time.Minute),
	}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	active, err := store.ListActive(ctx, now)
	if err != nil {
		t.Fatalf("ListActive returned error: %v", err)
	}
	if len(active) != 1 || active[0].TokenValue != "t-fresh" {
		t.Fatalf("expected only t-fresh, got %d entries", len(active))
	}
}
