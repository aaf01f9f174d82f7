package common

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/code"
)

func runThroughLagGuard(t *testing.T, probe LagProtectionFunc) (*httptest.ResponseRecorder, *bool) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reached := false
	engine := gin.New()
	engine.POST("/ott/generate", LagProtectMiddleware(probe), func(c *gin.Context) {
		reached = true
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ott/generate", nil))
	return w, &reached
}

func TestLagProtectRejectsWhenSaturated(t *testing.T) {
	w, reached := runThroughLagGuard(t, func() bool { return true })

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d, want 429", w.Code)
	}
	if *reached {
		t.Fatalf("saturated guard must abort before the handler")
	}

	var envelope struct {
		Code int `json:"code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Code != code.ErrRateLimitExceeded {
		t.Fatalf("business code=%d, want %d", envelope.Code, code.ErrRateLimitExceeded)
	}
}

func TestLagProtectPassesWhenHealthy(t *testing.T) {
	w, reached := runThroughLagGuard(t, func() bool { return false })

	if w.Code != http.StatusOK || !*reached {
		t.Fatalf("healthy guard must pass through, status=%d reached=%v", w.Code, *reached)
	}
}

func TestLagProtectNilProbePassesThrough(t *testing.T) {
	w, reached := runThroughLagGuard(t, nil)

	if w.Code != http.StatusOK || !*reached {
		t.Fatalf("nil probe must pass through, status=%d reached=%v", w.Code, *reached)
	}
}

func TestEmptyMiddlewarePassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.GET("/ping", EmptyMiddleware(), func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusOK || w.Body.String() != "pong" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
}
