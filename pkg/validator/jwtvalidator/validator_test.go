package jwtvalidator

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/maxiaolu1981/cretem/nexuscore/errors"

	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/code"
)

var testSecret = []byte("validator-test-secret-0123456789")

func mintToken(t *testing.T, secret []byte, mutate func(*SessionClaims)) string {
	t.Helper()
	claims := &SessionClaims{
		Username: "user",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	if mutate != nil {
		mutate(claims)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}
	return signed
}

func TestValidateTokenSuccess(t *testing.T) {
	token := mintToken(t, testSecret, nil)

	claims, err := ValidateToken(token, testSecret)
	if err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if claims.Username != "user" {
		t.Fatalf("username=%q, want user", claims.Username)
	}
}

func TestValidateTokenAcceptsBearerPrefix(t *testing.T) {
	token := mintToken(t, testSecret, nil)

	// 大小写两种前缀都要能剥掉
	for _, prefix := range []string{"Bearer ", "bearer "} {
		claims, err := ValidateToken(prefix+token, testSecret)
		if err != nil {
			t.Fatalf("prefix %q rejected: %v", prefix, err)
		}
		if claims.Username != "user" {
			t.Fatalf("prefix %q: username=%q, want user", prefix, claims.Username)
		}
	}
}

func TestValidateTokenEmpty(t *testing.T) {
	_, err := ValidateToken("", testSecret)
	if !errors.IsCode(err, code.ErrMissingHeader) {
		t.Fatalf("expected ErrMissingHeader, got %v", err)
	}
}

func TestValidateTokenBearerWithoutValue(t *testing.T) {
	_, err := ValidateToken("Bearer ", testSecret)
	if !errors.IsCode(err, code.ErrInvalidAuthHeader) {
		t.Fatalf("expected ErrInvalidAuthHeader, got %v", err)
	}
}

func TestValidateTokenMalformed(t *testing.T) {
	for _, raw := range []string{"garbage", "not.a.jwt", "a.b"} {
		_, err := ValidateToken(raw, testSecret)
		if !errors.IsCode(err, code.ErrTokenInvalid) {
			t.Fatalf("input %q: expected ErrTokenInvalid, got %v", raw, err)
		}
	}
}

func TestValidateTokenExpired(t *testing.T) {
	token := mintToken(t, testSecret, func(c *SessionClaims) {
		c.IssuedAt = jwt.NewNumericDate(time.Now().Add(-2 * time.Hour))
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	})

	_, err := ValidateToken(token, testSecret)
	if !errors.IsCode(err, code.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	token := mintToken(t, []byte("another-secret-another-secret-xx"), nil)

	_, err := ValidateToken(token, testSecret)
	if !errors.IsCode(err, code.ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestValidateTokenExpiredBeatsBadSignature(t *testing.T) {
	// 又过期又验签失败的令牌按过期报, 客户端先看到可理解的原因
	token := mintToken(t, []byte("another-secret-another-secret-xx"), func(c *SessionClaims) {
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	})

	_, err := ValidateToken(token, testSecret)
	if !errors.IsCode(err, code.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestValidateTokenRejectsNonHMAC(t *testing.T) {
	claims := &SessionClaims{Username: "user"}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("mint unsigned token: %v", err)
	}

	if _, err := ValidateToken(unsigned, testSecret); err == nil {
		t.Fatalf("token with alg=none must be rejected")
	}
}

func TestValidateTokenUsernameFallsBackToSub(t *testing.T) {
	token := mintToken(t, testSecret, func(c *SessionClaims) {
		c.Username = ""
		c.Subject = "fallback"
	})

	claims, err := ValidateToken(token, testSecret)
	if err != nil {
		t.Fatalf("token with sub only rejected: %v", err)
	}
	if claims.Username != "fallback" {
		t.Fatalf("username=%q, want fallback from sub", claims.Username)
	}
}

func TestValidateTokenMissingIdentity(t *testing.T) {
	token := mintToken(t, testSecret, func(c *SessionClaims) {
		c.Username = ""
		c.Subject = ""
	})

	_, err := ValidateToken(token, testSecret)
	if !errors.IsCode(err, code.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestValidateTokenIssuedBeyondSessionWindow(t *testing.T) {
	token := mintToken(t, testSecret, func(c *SessionClaims) {
		c.IssuedAt = jwt.NewNumericDate(time.Now().Add(-8 * 24 * time.Hour))
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	})

	_, err := ValidateToken(token, testSecret)
	if !errors.IsCode(err, code.ErrExpired) {
		t.Fatalf("expected ErrExpired for stale iat, got %v", err)
	}
}
