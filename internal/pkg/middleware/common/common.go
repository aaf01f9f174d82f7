// Package common 提供与业务无关的基础 gin 中间件:
// 安全响应头、缓存控制、按环境区分的访问日志、请求上下文注入、
// Prometheus 采集以及 redis 限流等构件。具体装配顺序由上层 middleware 包决定。
package common

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gin-gonic/gin"
)

// securityHeaders 所有响应统一携带的安全头。
var securityHeaders = map[string]string{
	"Access-Control-Allow-Origin": "*",
	"X-Frame-Options":             "DENY",
	"X-Content-Type-Options":      "nosniff",
	"X-XSS-Protection":            "1; mode=block",
	"Content-Security-Policy":     "script-src 'self'",
}

// Secure 给响应补充基础安全头, HTTPS 请求追加 HSTS。
func Secure(c *gin.Context) {
	for k, v := range securityHeaders {
		c.Header(k, v)
	}
	if c.Request.TLS != nil {
		c.Header("Strict-Transport-Security", "max-age=31536000")
	}
}

// NoCache 禁止客户端与中间代理缓存响应, 认证相关接口都应带上。
func NoCache(c *gin.Context) {
	c.Header("Cache-Control", "no-store, no-cache, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Next()
}

// EmptyMiddleware 返回直通中间件, 用作可选防护组件未启用时的占位。
func EmptyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
	}
}

// LoggerForMode 按 gin 运行模式挑访问日志预设:
// debug 彩色终端输出, test 简洁单行, release JSON 落盘(文件打不开退回标准输出)。
func LoggerForMode(mode string) gin.HandlerFunc {
	switch mode {
	case gin.ReleaseMode:
		return accessLogger(releaseLogWriter(), jsonLogLine,
			"/healthz", "/metrics", "/readyz")
	case gin.TestMode:
		return accessLogger(os.Stdout, testLogLine, "/healthz", "/metrics")
	default:
		color := writerIsTerminal(gin.DefaultWriter)
		return accessLogger(gin.DefaultWriter, consoleLogLine(color), "/healthz")
	}
}

// releaseLogWriter 生产访问日志写固定文件。进程往往没有 /var/log 写权限,
// 此时退回标准输出, 交给采集端收集。
func releaseLogWriter() io.Writer {
	f, err := os.OpenFile("/var/log/ott/access.log",
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return os.Stdout
	}
	return f
}

func testLogLine(l accessLogLine) string {
	return fmt.Sprintf("TEST %s %s %s - %d (%s)\n",
		l.Time.Format("15:04:05"), l.Method, l.Path, l.Status, l.Latency)
}

func consoleLogLine(color bool) func(accessLogLine) string {
	return func(l accessLogLine) string {
		latency := l.Latency
		if latency > time.Minute {
			latency = latency.Truncate(time.Second)
		}
		if !color {
			return fmt.Sprintf("%3d - [%s] \"%v %s %s\" %s\n",
				l.Status, l.IP, latency, l.Method, l.Path, l.Err)
		}
		return fmt.Sprintf("%s%3d%s - [%s] \"%v %s %s\" %s\n",
			statusColor(l.Status), l.Status, ansiReset,
			l.IP, latency, l.Method, l.Path, l.Err)
	}
}
