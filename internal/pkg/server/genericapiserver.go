package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/maxiaolu1981/cretem/nexuscore/component-base/core"
	"github.com/maxiaolu1981/cretem/nexuscore/component-base/version"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/middleware"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

// GenericAPIServer 是与业务无关的HTTP服务外壳: gin引擎加通用中间件栈,
// 外加 healthz/version/metrics/pprof 这些系统路由。业务路由由上层服务器
// 通过内嵌的 Engine 注册, 本层只负责把服务器可靠地拉起和停掉。
type GenericAPIServer struct {
	*gin.Engine

	mode                string
	middlewares         []string
	healthz             bool
	enableMetrics       bool
	enableProfiling     bool
	insecureServingInfo *InsecureServingInfo

	insecureServer *http.Server
}

func initGenericAPIServer(s *GenericAPIServer) error {
	s.Setup()
	if err := s.InstallMiddlewares(); err != nil {
		return err
	}
	s.InstallAPIs()

	return nil
}

// Setup 调整gin的全局行为: debug模式下用统一格式打印路由表, 其余模式静默.
func (s *GenericAPIServer) Setup() {
	if s.mode != gin.DebugMode {
		gin.DebugPrintRouteFunc = func(string, string, string, int) {}
		return
	}
	gin.DebugPrintRouteFunc = func(method, path, handler string, count int) {
		log.Debugf("📍 %-6s %-50s → %s (%d middleware)",
			method, path, filepath.Base(handler), count)
	}
}

// InstallMiddlewares 装配通用中间件栈, 列表为空时装配默认全量栈.
func (s *GenericAPIServer) InstallMiddlewares() error {
	return middleware.InstallMiddlewares(s.Engine, s.mode, s.middlewares)
}

// InstallAPIs 注册系统路由。这些路由绕过业务认证, 供探活和运维使用.
func (s *GenericAPIServer) InstallAPIs() {
	if s.healthz {
		s.GET("/healthz", func(c *gin.Context) {
			core.WriteResponse(c, nil, map[string]string{"status": "ok"})
		})
	}

	if s.enableMetrics {
		ginprometheus.NewPrometheus("gin").Use(s.Engine)
	}

	// pprof只在debug模式暴露, 避免生产环境泄露运行时细节
	if s.enableProfiling && s.mode == gin.DebugMode {
		pprof.Register(s.Engine)
	}

	s.GET("/version", func(c *gin.Context) {
		core.WriteResponse(c, nil, version.Get().ToJSON())
	})
}

// Run 启动HTTP服务并阻塞到服务退出。先占住端口再对外宣告启动成功;
// healthz开启时追加一次真实的 /healthz 请求, 确认整条处理链可用,
// 自检不过按启动失败处理.
func (s *GenericAPIServer) Run() error {
	address := net.JoinHostPort(s.insecureServingInfo.BindAddress,
		strconv.Itoa(s.insecureServingInfo.BindPort))

	s.insecureServer = &http.Server{
		Addr:    address,
		Handler: s,
		// 连接级超时, 防止慢客户端长期占用连接
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	listening := make(chan struct{})

	var eg errgroup.Group
	eg.Go(func() error {
		log.Infof("HTTP服务启动, 监听地址 %s", address)

		// 显式先Listen再Serve, 端口到手才算启动成功
		ln, err := net.Listen("tcp", address)
		if err != nil {
			return fmt.Errorf("监听 %s 失败: %w", address, err)
		}
		close(listening)

		if err := s.insecureServer.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP服务异常退出: %w", err)
		}

		log.Infof("HTTP服务已停止: %s", address)
		return nil
	})

	select {
	case <-listening:
	case <-time.After(10 * time.Second):
		return fmt.Errorf("HTTP服务10秒内未完成监听: %s", address)
	}

	if s.healthz {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.selfCheck(ctx, address); err != nil {
			return fmt.Errorf("启动自检未通过: %w", err)
		}
	}

	return eg.Wait()
}

// Close 优雅关停HTTP服务, 给在途请求最多10秒完成时间.
func (s *GenericAPIServer) Close() {
	if s.insecureServer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.insecureServer.Shutdown(ctx); err != nil {
		log.Warnf("HTTP服务关停出错: %v", err)
		return
	}
	log.Info("HTTP服务已关停")
}

// selfCheck 对刚启动的服务发起真实 /healthz 请求, 确认路由和中间件栈
// 已经能处理流量。监听在通配地址上时改走回环地址访问.
func (s *GenericAPIServer) selfCheck(ctx context.Context, address string) error {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("解析监听地址 %s 失败: %w", address, err)
	}
	if host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	url := fmt.Sprintf("http://%s/healthz", net.JoinHostPort(host, port))

	start := time.Now()
	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}

		resp, err := http.DefaultClient.Do(req)
		switch {
		case err == nil && resp.StatusCode == http.StatusOK:
			resp.Body.Close()
			log.Infof("启动自检通过: %s (第%d次, 耗时%v)", url, attempt, time.Since(start))
			return nil
		case err == nil:
			resp.Body.Close()
			log.Warnf("启动自检: %s 返回状态码 %d", url, resp.StatusCode)
		case attempt%3 == 0:
			log.Infof("启动自检第%d次未成功: %v", attempt, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("自检超时: %w", ctx.Err())
		case <-time.After(time.Second):
		}
	}
}
