package handler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	tokenv1 "github.com/maxiaolu1981/cretem/ottserver/api/v1"
)

func newTestContext(t *testing.T) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/ott/generate", nil)
	return c, w
}

// recordingGenerated 记录转交的令牌, 验证装饰器的代理行为。
type recordingGenerated struct {
	calls int
	last  *tokenv1.OneTimeToken
}

func (r *recordingGenerated) Handle(_ *gin.Context, token *tokenv1.OneTimeToken) {
	r.calls++
	r.last = token
}

func TestRedirectHandlersIssue302(t *testing.T) {
	cases := []struct {
		name string
		run  func(c *gin.Context)
		want string
	}{
		{"generated", func(c *gin.Context) {
			NewRedirect("/login/ott").Handle(c, tokenv1.NewOneTimeToken("user", time.Minute))
		}, "/login/ott"},
		{"success", func(c *gin.Context) {
			NewSuccessRedirect("/").Handle(c, nil)
		}, "/"},
		{"failure", func(c *gin.Context) {
			NewFailureRedirect("/login?error").Handle(c, fmt.Errorf("boom"))
		}, "/login?error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, w := newTestContext(t)
			tc.run(c)
			c.Writer.WriteHeaderNow()

			if w.Code != http.StatusFound {
				t.Fatalf("status=%d, want 302", w.Code)
			}
			if got := w.Header().Get("Location"); got != tc.want {
				t.Fatalf("Location=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestCapturingEmptySlot(t *testing.T) {
	capture := NewCapturing(nil)
	if capture.LastToken() != nil {
		t.Fatalf("fresh capture slot should be empty")
	}
}

func TestCapturingStoresAndDelegates(t *testing.T) {
	delegate := &recordingGenerated{}
	capture := NewCapturing(delegate)

	c, _ := newTestContext(t)
	first := tokenv1.NewOneTimeToken("user", time.Minute)
	second := tokenv1.NewOneTimeToken("admin", time.Minute)

	capture.Handle(c, first)
	capture.Handle(c, second)

	// 槽位只留最新一条
	if got := capture.LastToken(); got != second {
		t.Fatalf("LastToken=%v, want the second token", got)
	}
	if delegate.calls != 2 || delegate.last != second {
		t.Fatalf("delegate saw calls=%d last=%v, want 2 calls ending at second token",
			delegate.calls, delegate.last)
	}
}

func TestCapturingWithoutDelegate(t *testing.T) {
	capture := NewCapturing(nil)
	c, w := newTestContext(t)

	tok := tokenv1.NewOneTimeToken("user", time.Minute)
	capture.Handle(c, tok) // delegate为nil时不产生响应也不panic
	c.Writer.WriteHeaderNow()

	if capture.LastToken() != tok {
		t.Fatalf("slot should hold the handled token")
	}
	if w.Code != http.StatusOK {
		t.Fatalf("no delegate should leave the default status, got %d", w.Code)
	}
}

func TestCapturingConcurrentHandles(t *testing.T) {
	capture := NewCapturing(nil)
	c, _ := newTestContext(t)

	const racers = 50
	var wg sync.WaitGroup
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func() {
			defer wg.Done()
			capture.Handle(c, tokenv1.NewOneTimeToken("user", time.Minute))
		}()
	}
	wg.Wait()

	if capture.LastToken() == nil {
		t.Fatalf("slot should hold one of the raced tokens")
	}
}
