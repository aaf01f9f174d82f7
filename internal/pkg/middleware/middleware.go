/*
middleware 包提供 gin 引擎的通用中间件栈。

InstallMiddlewares 按运行模式装配默认栈(恢复、安全头、CORS、指标、
请求ID、上下文透传、日志、缓存控制), 也可以传入名称列表只安装子集。
业务级中间件(认证、权限、限流)由路由装配层按需挂到具体路由组上。
*/
package middleware

import (
	"github.com/gin-gonic/gin"
	gindump "github.com/tpkeeper/gin-dump"

	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/middleware/common"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

// Dump 打印请求与响应报文, 仅用于调试模式排障。
func Dump() gin.HandlerFunc {
	return gindump.Dump()
}

// 统一的执行顺序。恢复最外层, 日志在上下文之后, dump只在调试模式存在。
var executionOrder = []string{
	"recovery", "secure", "cors", "metrics", "requestid", "context", "logger", "nocache", "dump",
}

// defaultMiddlewares 按gin运行模式返回named中间件集合。
func defaultMiddlewares(mode string) map[string]gin.HandlerFunc {
	ms := map[string]gin.HandlerFunc{
		"recovery":  gin.Recovery(),
		"requestid": RequestID(),
		"context":   common.Context(),
		"secure":    common.Secure,
		"nocache":   common.NoCache,
		"logger":    common.LoggerForMode(mode),
	}

	switch mode {
	case gin.ReleaseMode:
		ms["cors"] = ProductionCors()
		ms["metrics"] = common.PrometheusMiddleware()
	case gin.TestMode:
		ms["cors"] = TestCors()
	default:
		ms["cors"] = DevCors()
		ms["dump"] = Dump()
		ms["metrics"] = common.PrometheusMiddleware()
	}

	return ms
}

// InstallMiddlewares 安装通用中间件。names为空时安装当前模式的全量默认栈,
// 否则只安装名字命中的那部分, 未知名字记录告警后跳过。
func InstallMiddlewares(engine *gin.Engine, mode string, names []string) error {
	available := defaultMiddlewares(mode)

	selected := names
	if len(selected) == 0 {
		selected = executionOrder
	}

	installed := 0
	for _, key := range executionOrder {
		if !contains(selected, key) {
			continue
		}
		mw, ok := available[key]
		if !ok {
			// 名字合法但当前模式不提供(比如release模式没有dump), 静默跳过
			continue
		}
		engine.Use(mw)
		installed++
		log.Debugf("安装中间件: %s", key)
	}

	for _, name := range names {
		if !contains(executionOrder, name) {
			log.Warnf("未知的中间件名称: %s, 已跳过", name)
		}
	}

	log.Infof("运行模式: %s, 共安装 %d 个中间件", mode, installed)
	return nil
}

func contains(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}
