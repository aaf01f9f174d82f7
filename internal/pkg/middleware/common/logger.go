package common

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mattn/go-isatty"
)

// accessLogLine 单条访问日志的字段集合, 由 accessLogger 采集后交给格式化函数。
type accessLogLine struct {
	Time    time.Time
	Status  int
	Latency time.Duration
	IP      string
	Method  string
	Path    string
	Bytes   int
	Err     string
}

// accessLogger 构造访问日志中间件。skip 里的路径(健康检查等高频探测)不记录。
func accessLogger(out io.Writer, format func(accessLogLine) string, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		if _, ok := skipped[path]; ok {
			return
		}
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}

		fmt.Fprint(out, format(accessLogLine{
			Time:    time.Now(),
			Status:  c.Writer.Status(),
			Latency: time.Since(start),
			IP:      c.ClientIP(),
			Method:  c.Request.Method,
			Path:    path,
			Bytes:   c.Writer.Size(),
			Err:     c.Errors.ByType(gin.ErrorTypePrivate).String(),
		}))
	}
}

func jsonLogLine(l accessLogLine) string {
	entry := map[string]any{
		"time":       l.Time.Format(time.RFC3339),
		"status":     l.Status,
		"latency_ms": l.Latency.Milliseconds(),
		"ip":         l.IP,
		"method":     l.Method,
		"path":       l.Path,
		"bytes":      l.Bytes,
	}
	if l.Err != "" {
		entry["error"] = l.Err
	}
	b, _ := json.Marshal(entry)
	return string(b) + "\n"
}

// writerIsTerminal 判断输出目标是否为真实终端, 决定开发模式日志是否着色。
func writerIsTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok || os.Getenv("TERM") == "dumb" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

const (
	ansiGreen  = "\033[90;42m"
	ansiCyan   = "\033[90;46m"
	ansiYellow = "\033[90;43m"
	ansiRed    = "\033[97;41m"
	ansiReset  = "\033[0m"
)

func statusColor(code int) string {
	switch {
	case code < 300:
		return ansiGreen
	case code < 400:
		return ansiCyan
	case code < 500:
		return ansiYellow
	default:
		return ansiRed
	}
}
