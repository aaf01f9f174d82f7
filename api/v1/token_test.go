package v1

import (
	"testing"
	"time"
)

func TestOneTimeToken_ExpiredComparesFullTimestamp(t *testing.T) {
	tests := []struct {
		name      string
		issuedAt  time.Time
		ttl       time.Duration
		checkedAt time.Time
		expired   bool
	}{
		{
			name:      "within ttl same hour",
			issuedAt:  time.Date(2025, 6, 1, 10, 5, 0, 0, time.UTC),
			ttl:       10 * time.Minute,
			checkedAt: time.Date(2025, 6, 1, 10, 12, 0, 0, time.UTC),
			expired:   false,
		},
		{
			name:      "within ttl across hour boundary",
			issuedAt:  time.Date(2025, 6, 1, 10, 58, 0, 0, time.UTC),
			ttl:       10 * time.Minute,
			checkedAt: time.Date(2025, 6, 1, 11, 3, 0, 0, time.UTC),
			expired:   false,
		},
		{
			// 只比分钟数会误判为有效: 3 < 15, 实际已经过去近1小时
			name:      "expired across hour with smaller minute",
			issuedAt:  time.Date(2025, 6, 1, 10, 5, 0, 0, time.UTC),
			ttl:       10 * time.Minute,
			checkedAt: time.Date(2025, 6, 1, 11, 3, 0, 0, time.UTC),
			expired:   true,
		},
		{
			name:      "expired across day boundary",
			issuedAt:  time.Date(2025, 6, 1, 23, 55, 0, 0, time.UTC),
			ttl:       10 * time.Minute,
			checkedAt: time.Date(2025, 6, 2, 23, 56, 0, 0, time.UTC),
			expired:   true,
		},
		{
			name:      "exactly at expiry instant is still valid",
			issuedAt:  time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
			ttl:       10 * time.Minute,
			checkedAt: time.Date(2025, 6, 1, 10, 10, 0, 0, time.UTC),
			expired:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := &OneTimeToken{
				TokenValue: "v",
				Username:   "user",
				CreatedAt:  tt.issuedAt,
				ExpiresAt:  tt.issuedAt.Add(tt.ttl),
			}
			if got := token.Expired(tt.checkedAt); got != tt.expired {
				t.Fatalf("Expired(%v) = %v, want %v", tt.checkedAt, got, tt.expired)
			}
		})
	}
}

func TestNewOneTimeToken(t *testing.T) {
	before := time.Now()
	token := NewOneTimeToken("alice", 5*time.Minute)
	after := time.Now()

	if token.TokenValue == "" {
		t.Fatalf("token value should not be empty")
	}
	if token.Username != "alice" {
		t.Fatalf("expected username alice, got %s", token.Username)
	}

	earliest := before.Add(5 * time.Minute)
	latest := after.Add(5 * time.Minute)
	if token.ExpiresAt.Before(earliest) || token.ExpiresAt.After(latest) {
		t.Fatalf("expiresAt %v outside expected window [%v, %v]", token.ExpiresAt, earliest, latest)
	}

	other := NewOneTimeToken("alice", 5*time.Minute)
	if other.TokenValue == token.TokenValue {
		t.Fatalf("token values must be unique per issuance")
	}
}
