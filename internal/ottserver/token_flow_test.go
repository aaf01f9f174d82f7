package ottserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/gin-gonic/gin"

	tokenctl "github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/control/v1/token"
	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/options"
	srvv1 "github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/service/v1"
	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/store/interfaces"
	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/store/memory"
	genericoptions "github.com/maxiaolu1981/cretem/ottserver/internal/pkg/options"
)

// newFlowServer 组装一个跑在内存存储上的完整路由面: 令牌签发/兑换、
// 会话接口、用户CRUD和管理面, 与生产装配走同一批install函数。
// redis与审计都不挂, 对应的中间件退化为直通。
func newFlowServer(t *testing.T, mutate func(*options.Options)) (*apiServer, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	opts := options.NewOptions()
	opts.GenericServerRunOptions.Mode = gin.TestMode
	opts.JwtOptions.Key = "flow-test-session-secret-0123456789"
	opts.TokenOptions.Store = genericoptions.TokenStoreMemory
	if mutate != nil {
		mutate(opts)
	}

	factory, err := memory.NewFactory(opts.TokenOptions.MaxInMemoryTokens)
	if err != nil {
		t.Fatalf("memory.NewFactory returned error: %v", err)
	}
	interfaces.SetClient(factory)

	srv := srvv1.NewService(factory, nil, opts,
		bloom.NewWithEstimates(10000, 0.01), &sync.RWMutex{})

	s := &apiServer{opts: opts, storeIns: factory, srv: srv}

	sessionMW, err := newSessionAuth(opts)
	if err != nil {
		t.Fatalf("newSessionAuth returned error: %v", err)
	}
	s.sessionMW = sessionMW
	strategy := newSessionStrategy(sessionMW)

	engine := gin.New()
	s.installTokenRoutes(engine, &sessionIssuer{mw: sessionMW})
	s.installSessionRoutes(engine, sessionMW)
	s.installUserRoutes(engine, strategy)
	s.installAdminRoutes(engine, strategy)

	return s, engine
}

func postForm(engine *gin.Engine, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func doRequest(engine *gin.Engine, method, path string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func findSessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == tokenctl.SessionCookieName {
			return c
		}
	}
	t.Fatalf("response does not carry a %q cookie", tokenctl.SessionCookieName)
	return nil
}

// loginAs 走完整的 签发→捕获→兑换 流程并返回会话cookie。
func loginAs(t *testing.T, s *apiServer, engine *gin.Engine, username string) *http.Cookie {
	t.Helper()

	w := postForm(engine, s.opts.TokenOptions.GenerateURL, url.Values{"username": {username}})
	if w.Code != http.StatusFound {
		t.Fatalf("generate for %q: status=%d, want 302", username, w.Code)
	}
	last := s.tokenCapture.LastToken()
	if last == nil {
		t.Fatalf("no token captured after generate")
	}

	lw := postForm(engine, s.opts.TokenOptions.LoginProcessingURL, url.Values{"token": {last.TokenValue}})
	if lw.Code != http.StatusFound {
		t.Fatalf("login for %q: status=%d, want 302", username, lw.Code)
	}
	if got := lw.Header().Get("Location"); got != s.opts.TokenOptions.SuccessRedirectURL {
		t.Fatalf("login redirect = %q, want %q", got, s.opts.TokenOptions.SuccessRedirectURL)
	}
	return findSessionCookie(t, lw)
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	var envelope struct {
		Code int             `json:"code"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response envelope: %v (body=%s)", err, w.Body.String())
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		t.Fatalf("decode response data: %v (body=%s)", err, w.Body.String())
	}
}

func TestGenerateRedirectsToLoginPage(t *testing.T) {
	s, engine := newFlowServer(t, nil)

	w := postForm(engine, "/ott/generate", url.Values{"username": {"user"}})
	if w.Code != http.StatusFound {
		t.Fatalf("status=%d, want 302", w.Code)
	}
	if got := w.Header().Get("Location"); got != "/login/ott" {
		t.Fatalf("Location=%q, want /login/ott", got)
	}

	last := s.tokenCapture.LastToken()
	if last == nil || last.Username != "user" {
		t.Fatalf("expected captured token for user, got %+v", last)
	}
}

func TestGenerateDoesNotRevealUserExistence(t *testing.T) {
	_, engine := newFlowServer(t, nil)

	known := postForm(engine, "/ott/generate", url.Values{"username": {"user"}})
	ghost := postForm(engine, "/ott/generate", url.Values{"username": {"nobody"}})

	// 已注册和未注册的用户名必须得到不可区分的回应
	if known.Code != ghost.Code {
		t.Fatalf("status for known=%d ghost=%d, must match", known.Code, ghost.Code)
	}
	if known.Header().Get("Location") != ghost.Header().Get("Location") {
		t.Fatalf("redirect targets differ: %q vs %q",
			known.Header().Get("Location"), ghost.Header().Get("Location"))
	}
}

func TestTokenLoginEstablishesSession(t *testing.T) {
	s, engine := newFlowServer(t, nil)

	cookie := loginAs(t, s, engine, "user")

	w := doRequest(engine, http.MethodGet, "/v1/session", cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("session introspection status=%d, want 200 (body=%s)", w.Code, w.Body.String())
	}
	var payload struct {
		Username string `json:"username"`
	}
	decodeData(t, w, &payload)
	if payload.Username != "user" {
		t.Fatalf("session belongs to %q, want user", payload.Username)
	}
}

func TestTokenSecondUseRejected(t *testing.T) {
	s, engine := newFlowServer(t, nil)

	postForm(engine, "/ott/generate", url.Values{"username": {"user"}})
	tokenValue := s.tokenCapture.LastToken().TokenValue

	first := postForm(engine, "/login/ott", url.Values{"token": {tokenValue}})
	if first.Header().Get("Location") != "/" {
		t.Fatalf("first consume redirect=%q, want /", first.Header().Get("Location"))
	}

	second := postForm(engine, "/login/ott", url.Values{"token": {tokenValue}})
	if second.Code != http.StatusFound {
		t.Fatalf("second consume status=%d, want 302", second.Code)
	}
	if got := second.Header().Get("Location"); got != "/login?error" {
		t.Fatalf("second consume redirect=%q, want /login?error", got)
	}
	if len(second.Result().Cookies()) != 0 {
		t.Fatalf("replay must not establish a session, got cookies: %v", second.Result().Cookies())
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	s, engine := newFlowServer(t, func(o *options.Options) {
		o.TokenOptions.DefaultTTL = -time.Minute // 签发即过期
	})

	postForm(engine, "/ott/generate", url.Values{"username": {"user"}})
	tokenValue := s.tokenCapture.LastToken().TokenValue

	w := postForm(engine, "/login/ott", url.Values{"token": {tokenValue}})
	if got := w.Header().Get("Location"); got != "/login?error" {
		t.Fatalf("expired token redirect=%q, want /login?error", got)
	}
}

func TestUnknownUserFailsAtLoginNotGenerate(t *testing.T) {
	s, engine := newFlowServer(t, nil)

	w := postForm(engine, "/ott/generate", url.Values{"username": {"nobody"}})
	if w.Code != http.StatusFound {
		t.Fatalf("generate for unknown user status=%d, want 302", w.Code)
	}
	tokenValue := s.tokenCapture.LastToken().TokenValue

	lw := postForm(engine, "/login/ott", url.Values{"token": {tokenValue}})
	if got := lw.Header().Get("Location"); got != "/login?error" {
		t.Fatalf("unknown user login redirect=%q, want /login?error", got)
	}
}

func TestNeverIssuedTokenRejected(t *testing.T) {
	_, engine := newFlowServer(t, nil)

	w := postForm(engine, "/login/ott", url.Values{"token": {"cafebabe-0000-4000-8000-000000000000"}})
	if got := w.Header().Get("Location"); got != "/login?error" {
		t.Fatalf("bogus token redirect=%q, want /login?error", got)
	}
}

func TestLoginWithoutTokenFieldFails(t *testing.T) {
	_, engine := newFlowServer(t, nil)

	w := postForm(engine, "/login/ott", url.Values{})
	if got := w.Header().Get("Location"); got != "/login?error" {
		t.Fatalf("empty form redirect=%q, want /login?error", got)
	}
}

func TestCustomURLsFlow(t *testing.T) {
	s, engine := newFlowServer(t, func(o *options.Options) {
		o.TokenOptions.GenerateURL = "/generateurl"
		o.TokenOptions.GeneratedRedirectURL = "/redirected"
		o.TokenOptions.LoginProcessingURL = "/loginprocessingurl"
		o.TokenOptions.SuccessRedirectURL = "/authenticated"
	})

	w := postForm(engine, "/generateurl", url.Values{"username": {"user"}})
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/redirected" {
		t.Fatalf("generate: status=%d Location=%q, want 302 /redirected",
			w.Code, w.Header().Get("Location"))
	}

	tokenValue := s.tokenCapture.LastToken().TokenValue
	lw := postForm(engine, "/loginprocessingurl", url.Values{"token": {tokenValue}})
	if lw.Code != http.StatusFound || lw.Header().Get("Location") != "/authenticated" {
		t.Fatalf("login: status=%d Location=%q, want 302 /authenticated",
			lw.Code, lw.Header().Get("Location"))
	}

	// 默认路径不应再注册
	if w := postForm(engine, "/ott/generate", url.Values{"username": {"user"}}); w.Code != http.StatusNotFound {
		t.Fatalf("default generate path should be gone, status=%d", w.Code)
	}
}

func TestGenerateHonorsConfiguredTTL(t *testing.T) {
	s, engine := newFlowServer(t, func(o *options.Options) {
		o.TokenOptions.DefaultTTL = 10 * time.Minute
	})

	postForm(engine, "/ott/generate", url.Values{"username": {"user"}})
	last := s.tokenCapture.LastToken()

	if got := last.ExpiresAt.Sub(last.CreatedAt); got != 10*time.Minute {
		t.Fatalf("token lifetime=%v, want 10m", got)
	}

	w := postForm(engine, "/login/ott", url.Values{"token": {last.TokenValue}})
	if got := w.Header().Get("Location"); got != "/" {
		t.Fatalf("fresh token must be consumable, redirect=%q", got)
	}
}

func TestSubmitPagePrefillsAndEscapes(t *testing.T) {
	_, engine := newFlowServer(t, nil)

	w := doRequest(engine, http.MethodGet, "/login/ott?token=abc-123", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("submit page status=%d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `value="abc-123"`) {
		t.Fatalf("submit page should prefill token, body=%s", body)
	}
	if !strings.Contains(body, `action="/login/ott"`) {
		t.Fatalf("submit page should post to login processing url, body=%s", body)
	}

	// 查询参数注入的标签必须被转义
	xss := doRequest(engine, http.MethodGet, "/login/ott?token="+url.QueryEscape(`"><script>alert(1)</script>`), nil)
	if strings.Contains(xss.Body.String(), "<script>alert(1)</script>") {
		t.Fatalf("token query parameter must be HTML-escaped")
	}
}

func TestSubmitPageCanBeDisabled(t *testing.T) {
	_, engine := newFlowServer(t, func(o *options.Options) {
		o.TokenOptions.ShowDefaultSubmitPage = false
	})

	w := doRequest(engine, http.MethodGet, "/login/ott", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("disabled submit page status=%d, want 404", w.Code)
	}
}

func TestLogoutClearsSessionCookie(t *testing.T) {
	s, engine := newFlowServer(t, nil)
	cookie := loginAs(t, s, engine, "user")

	w := doRequest(engine, http.MethodDelete, "/logout", cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("logout status=%d, want 200 (body=%s)", w.Code, w.Body.String())
	}

	cleared := false
	for _, c := range w.Result().Cookies() {
		if c.Name == tokenctl.SessionCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("logout should expire the session cookie, cookies=%v", w.Result().Cookies())
	}
}

func TestSessionInfoRequiresCredential(t *testing.T) {
	_, engine := newFlowServer(t, nil)

	w := doRequest(engine, http.MethodGet, "/v1/session", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	req.Header.Set("Authorization", "Bearer this.is.garbage")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage bearer status=%d, want 401", rec.Code)
	}
}

func TestSessionCookieWorksAsBearer(t *testing.T) {
	s, engine := newFlowServer(t, nil)
	cookie := loginAs(t, s, engine, "user")

	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	req.Header.Set("Authorization", "Bearer "+cookie.Value)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("bearer introspection status=%d, want 200 (body=%s)", w.Code, w.Body.String())
	}
}

func TestUsersSurfaceRequiresSession(t *testing.T) {
	_, engine := newFlowServer(t, nil)

	w := doRequest(engine, http.MethodGet, "/v1/users/user", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", w.Code)
	}
}

func TestUserReadsOwnProfileOnly(t *testing.T) {
	s, engine := newFlowServer(t, nil)
	cookie := loginAs(t, s, engine, "user")

	own := doRequest(engine, http.MethodGet, "/v1/users/user", cookie)
	if own.Code != http.StatusOK {
		t.Fatalf("own profile status=%d, want 200 (body=%s)", own.Code, own.Body.String())
	}

	other := doRequest(engine, http.MethodGet, "/v1/users/admin", cookie)
	if other.Code != http.StatusForbidden {
		t.Fatalf("other profile status=%d, want 403", other.Code)
	}

	list := doRequest(engine, http.MethodGet, "/v1/users", cookie)
	if list.Code != http.StatusForbidden {
		t.Fatalf("list as normal user status=%d, want 403", list.Code)
	}
}

func TestAdminSurfaceDeniesNormalUsers(t *testing.T) {
	s, engine := newFlowServer(t, nil)
	cookie := loginAs(t, s, engine, "user")

	w := doRequest(engine, http.MethodGet, "/v1/admin/tokens", cookie)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status=%d, want 403", w.Code)
	}
}

func TestAdminListsActiveTokensMasked(t *testing.T) {
	s, engine := newFlowServer(t, nil)
	adminCookie := loginAs(t, s, engine, "admin")

	// 给user签一条未消费令牌
	postForm(engine, "/ott/generate", url.Values{"username": {"user"}})
	fullValue := s.tokenCapture.LastToken().TokenValue

	w := doRequest(engine, http.MethodGet, "/v1/admin/tokens", adminCookie)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200 (body=%s)", w.Code, w.Body.String())
	}

	body := w.Body.String()
	if strings.Contains(body, fullValue) {
		t.Fatalf("token listing must not leak full token values")
	}
	if !strings.Contains(body, fullValue[:8]+"...") {
		t.Fatalf("token listing should carry the masked prefix, body=%s", body)
	}

	var payload struct {
		Total  int `json:"total"`
		Tokens []struct {
			Username string `json:"username"`
		} `json:"tokens"`
	}
	decodeData(t, w, &payload)
	if payload.Total != 1 || payload.Tokens[0].Username != "user" {
		t.Fatalf("expected one active token for user, got %+v", payload)
	}
}

func TestAdminLastTokenDebugEndpoint(t *testing.T) {
	s, engine := newFlowServer(t, nil)
	adminCookie := loginAs(t, s, engine, "admin")

	postForm(engine, "/ott/generate", url.Values{"username": {"user"}})
	expected := s.tokenCapture.LastToken().TokenValue

	w := doRequest(engine, http.MethodGet, "/v1/admin/tokens/last", adminCookie)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200 (body=%s)", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), expected) {
		t.Fatalf("debug endpoint should return the captured token value")
	}
}

func TestAdminLastTokenAbsentInReleaseMode(t *testing.T) {
	s, engine := newFlowServer(t, func(o *options.Options) {
		o.GenericServerRunOptions.Mode = gin.ReleaseMode
	})

	if s.tokenCapture != nil {
		t.Fatalf("release mode must not install the token capture slot")
	}
	w := doRequest(engine, http.MethodGet, "/v1/admin/tokens/last", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("debug endpoint should be unreachable in release mode, status=%d", w.Code)
	}
}

func TestAdminSweepRemovesExpiredTokens(t *testing.T) {
	s, engine := newFlowServer(t, nil)

	// 先堆两条签发即过期的令牌
	s.opts.TokenOptions.DefaultTTL = -time.Minute
	postForm(engine, "/ott/generate", url.Values{"username": {"user"}})
	postForm(engine, "/ott/generate", url.Values{"username": {"user"}})
	s.opts.TokenOptions.DefaultTTL = 5 * time.Minute

	adminCookie := loginAs(t, s, engine, "admin")

	w := doRequest(engine, http.MethodPost, "/v1/admin/tokens/sweep", adminCookie)
	if w.Code != http.StatusOK {
		t.Fatalf("sweep status=%d, want 200 (body=%s)", w.Code, w.Body.String())
	}
	var payload struct {
		Removed int64 `json:"removed"`
	}
	decodeData(t, w, &payload)
	if payload.Removed != 2 {
		t.Fatalf("sweep removed=%d, want 2", payload.Removed)
	}
}

func TestAdminWriteRateLimitFallsBackWithoutRedis(t *testing.T) {
	s, engine := newFlowServer(t, nil)
	adminCookie := loginAs(t, s, engine, "admin")

	w := doRequest(engine, http.MethodGet, "/v1/admin/ratelimit/write", adminCookie)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200 (body=%s)", w.Code, w.Body.String())
	}
	var payload struct {
		Source string `json:"source"`
	}
	decodeData(t, w, &payload)
	if payload.Source != "no_redis" {
		t.Fatalf("source=%q, want no_redis", payload.Source)
	}
}

func TestAdminAuditEventsReportDisabled(t *testing.T) {
	s, engine := newFlowServer(t, nil)
	adminCookie := loginAs(t, s, engine, "admin")

	w := doRequest(engine, http.MethodGet, "/v1/admin/audit/events", adminCookie)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200 (body=%s)", w.Code, w.Body.String())
	}
	var payload struct {
		Enabled bool `json:"enabled"`
	}
	decodeData(t, w, &payload)
	if payload.Enabled {
		t.Fatalf("audit should report disabled when no manager is wired")
	}
}

func TestCaptureSlotKeepsLatestToken(t *testing.T) {
	s, engine := newFlowServer(t, nil)

	postForm(engine, "/ott/generate", url.Values{"username": {"user"}})
	postForm(engine, "/ott/generate", url.Values{"username": {"admin"}})

	last := s.tokenCapture.LastToken()
	if last == nil || last.Username != "admin" {
		t.Fatalf("capture slot should hold the latest token, got %+v", last)
	}
}
