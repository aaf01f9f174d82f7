/*
ottsmoke 对运行中的 ott-apiserver 做端到端冒烟: 签发令牌→取回令牌→
兑换登录→会话自检→重放校验(单次使用)→登出。

令牌来源三选一:
  -token   直接给定令牌值
  -manual  终端手工粘贴(不回显), 适合令牌走外部投递渠道的环境
  -session 给定管理员会话凭证, 从 /v1/admin/tokens/last 取回(仅调试模式服务端)

-count>1 进入压测模式: 按 -rate 的速率顺序跑 签发→取回→兑换 闭环并
汇总延迟分布。捕获槽只保留最近一条令牌, 所以闭环必须串行。
*/
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
	"golang.org/x/time/rate"
)

type options struct {
	addr        string
	username    string
	generateURL string
	loginURL    string
	successURL  string
	failureURL  string
	token       string
	session     string
	manual      bool
	replay      bool
	logout      bool
	count       int
	rateLimit   float64
	timeout     time.Duration
}

type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func main() {
	var opts options
	flag.StringVar(&opts.addr, "addr", "http://127.0.0.1:8080", "ott-apiserver 地址")
	flag.StringVar(&opts.username, "username", "admin", "签发令牌的用户名")
	flag.StringVar(&opts.generateURL, "generate-url", "/ott/generate", "令牌签发端点")
	flag.StringVar(&opts.loginURL, "login-url", "/login/ott", "令牌兑换端点")
	flag.StringVar(&opts.successURL, "success-url", "/", "兑换成功的期望跳转目标")
	flag.StringVar(&opts.failureURL, "failure-url", "/login?error", "兑换失败的期望跳转目标")
	flag.StringVar(&opts.token, "token", "", "直接指定令牌值(跳过取回)")
	flag.StringVar(&opts.session, "session", "", "管理员会话凭证, 用于从调试端点取回令牌")
	flag.BoolVar(&opts.manual, "manual", false, "手工粘贴令牌(输入不回显)")
	flag.BoolVar(&opts.replay, "replay", true, "登录成功后重放同一令牌, 校验单次使用")
	flag.BoolVar(&opts.logout, "logout", true, "冒烟结束后调用DELETE /logout")
	flag.IntVar(&opts.count, "count", 1, "闭环执行次数, 大于1进入压测模式")
	flag.Float64Var(&opts.rateLimit, "rate", 5, "压测模式下每秒闭环数")
	flag.DurationVar(&opts.timeout, "timeout", 10*time.Second, "单个HTTP请求超时")
	flag.Parse()

	printBanner(opts)

	client := newClient(opts.timeout)
	if opts.count <= 1 {
		if err := runSmoke(client, opts); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("❌ 冒烟失败:"), err)
			os.Exit(1)
		}
		fmt.Printf("%s\n", color.GreenString("✅ 冒烟通过"))
		return
	}

	if err := runLoad(client, opts); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("❌ 压测失败:"), err)
		os.Exit(1)
	}
}

// newClient 关闭自动重定向跟随: 302本身就是被测语义, 必须原样观察。
func newClient(timeout time.Duration) *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{
		Timeout: timeout,
		Jar:     jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func printBanner(opts options) {
	width := 72
	if fd := int(os.Stdout.Fd()); term.IsTerminal(fd) {
		if w, _, err := term.GetSize(fd); err == nil && w > 0 {
			width = w
		}
	}
	fmt.Println(strings.Repeat("═", width))
	fmt.Printf("🚀 ottsmoke: addr=%s username=%s generate=%s login=%s count=%d\n",
		opts.addr, opts.username, opts.generateURL, opts.loginURL, opts.count)
	fmt.Println(strings.Repeat("─", width))
}

func runSmoke(client *http.Client, opts options) error {
	step := 1
	say := func(format string, args ...interface{}) {
		fmt.Printf("  %s %s\n", color.CyanString("[%d]", step), fmt.Sprintf(format, args...))
		step++
	}

	location, err := generateToken(client, opts)
	if err != nil {
		return err
	}
	say("签发成功, 302 → %s", location)

	tokenValue, err := acquireToken(client, opts)
	if err != nil {
		return err
	}
	say("取回令牌 %s", maskToken(tokenValue))

	loginLocation, err := loginWithToken(client, opts, tokenValue)
	if err != nil {
		return err
	}
	if loginLocation != opts.successURL {
		return fmt.Errorf("兑换后的跳转目标是 %q, 期望 %q", loginLocation, opts.successURL)
	}
	say("兑换成功, 302 → %s", loginLocation)

	sessionUser, err := introspectSession(client, opts)
	if err != nil {
		return err
	}
	if sessionUser != opts.username {
		return fmt.Errorf("会话归属 %q, 期望 %q", sessionUser, opts.username)
	}
	say("会话自检通过, username=%s", sessionUser)

	if opts.replay {
		replayLocation, err := loginWithToken(client, opts, tokenValue)
		if err != nil {
			return err
		}
		if replayLocation != opts.failureURL {
			return fmt.Errorf("重放已消费令牌跳到了 %q, 期望 %q", replayLocation, opts.failureURL)
		}
		say("重放被拒, 302 → %s", replayLocation)
	}

	if opts.logout {
		if err := logoutSession(client, opts); err != nil {
			return err
		}
		say("登出成功")
	}
	return nil
}

func runLoad(client *http.Client, opts options) error {
	if opts.session == "" {
		return fmt.Errorf("压测模式需要 -session 从调试端点取回令牌")
	}

	limiter := rate.NewLimiter(rate.Limit(opts.rateLimit), 1)
	latencies := make([]time.Duration, 0, opts.count)
	failures := 0
	start := time.Now()

	for i := 0; i < opts.count; i++ {
		if err := limiter.Wait(context.Background()); err != nil {
			return err
		}

		iterStart := time.Now()
		err := func() error {
			if _, err := generateToken(client, opts); err != nil {
				return err
			}
			tokenValue, err := fetchCapturedToken(client, opts)
			if err != nil {
				return err
			}
			location, err := loginWithToken(client, opts, tokenValue)
			if err != nil {
				return err
			}
			if location != opts.successURL {
				return fmt.Errorf("跳转 %q != %q", location, opts.successURL)
			}
			return nil
		}()
		if err != nil {
			failures++
			fmt.Printf("  %s 第%d轮: %v\n", color.YellowString("⚠️"), i+1, err)
			continue
		}
		latencies = append(latencies, time.Since(iterStart))
	}

	printLoadReport(opts.count, failures, latencies, time.Since(start))
	if failures > 0 {
		return fmt.Errorf("%d/%d 轮失败", failures, opts.count)
	}
	return nil
}

func printLoadReport(total, failures int, latencies []time.Duration, elapsed time.Duration) {
	fmt.Printf("📊 压测报告: 总轮次=%d 成功=%d 失败=%d 耗时=%v\n",
		total, total-failures, failures, elapsed.Round(time.Millisecond))
	if len(latencies) == 0 {
		return
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	pct := func(p float64) time.Duration {
		idx := int(float64(len(latencies)-1) * p)
		return latencies[idx].Round(time.Millisecond)
	}
	fmt.Printf("   延迟: p50=%v p95=%v p99=%v max=%v\n",
		pct(0.50), pct(0.95), pct(0.99), latencies[len(latencies)-1].Round(time.Millisecond))
}

// generateToken POST签发端点, 成功的回应是302到签发回调目标。
func generateToken(client *http.Client, opts options) (string, error) {
	form := url.Values{"username": {opts.username}}
	resp, err := client.PostForm(opts.addr+opts.generateURL, form)
	if err != nil {
		return "", fmt.Errorf("签发请求失败: %w", err)
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusFound {
		return "", fmt.Errorf("签发回应 %d, 期望 302", resp.StatusCode)
	}
	return resp.Header.Get("Location"), nil
}

func acquireToken(client *http.Client, opts options) (string, error) {
	switch {
	case opts.token != "":
		return opts.token, nil
	case opts.manual:
		return promptToken()
	case opts.session != "":
		return fetchCapturedToken(client, opts)
	default:
		return "", fmt.Errorf("未指定令牌来源: -token / -manual / -session 三选一")
	}
}

// promptToken 手工粘贴令牌。令牌是登录凭证, 终端下用不回显读取;
// 非终端(管道)退化为按行读。
func promptToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Print("📋 请粘贴一次性令牌(输入不回显): ")
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("读取令牌失败: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("读取令牌失败: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// fetchCapturedToken 从调试端点取回最近签发的令牌, 需要管理员会话。
func fetchCapturedToken(client *http.Client, opts options) (string, error) {
	req, err := http.NewRequest(http.MethodGet, opts.addr+"/v1/admin/tokens/last", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+opts.session)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("取回令牌失败: %w", err)
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("取回令牌回应 %d(调试端点只在非release模式注册, 会话需要管理员)", resp.StatusCode)
	}

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", fmt.Errorf("解析取回回应失败: %w", err)
	}
	var payload struct {
		Token *struct {
			TokenValue string `json:"tokenValue"`
		} `json:"token"`
	}
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return "", fmt.Errorf("解析令牌字段失败: %w", err)
	}
	if payload.Token == nil || payload.Token.TokenValue == "" {
		return "", fmt.Errorf("捕获槽为空, 先执行一次签发")
	}
	return payload.Token.TokenValue, nil
}

func loginWithToken(client *http.Client, opts options, tokenValue string) (string, error) {
	form := url.Values{"token": {tokenValue}}
	resp, err := client.PostForm(opts.addr+opts.loginURL, form)
	if err != nil {
		return "", fmt.Errorf("兑换请求失败: %w", err)
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusFound {
		return "", fmt.Errorf("兑换回应 %d, 期望 302", resp.StatusCode)
	}
	return resp.Header.Get("Location"), nil
}

func introspectSession(client *http.Client, opts options) (string, error) {
	resp, err := client.Get(opts.addr + "/v1/session")
	if err != nil {
		return "", fmt.Errorf("会话自检失败: %w", err)
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("会话自检回应 %d, 期望 200", resp.StatusCode)
	}

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", fmt.Errorf("解析会话回应失败: %w", err)
	}
	var payload struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return "", fmt.Errorf("解析会话字段失败: %w", err)
	}
	return payload.Username, nil
}

func logoutSession(client *http.Client, opts options) error {
	req, err := http.NewRequest(http.MethodDelete, opts.addr+"/logout", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("登出请求失败: %w", err)
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("登出回应 %d, 期望 200", resp.StatusCode)
	}
	return nil
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:8] + "..."
}

func drainClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
