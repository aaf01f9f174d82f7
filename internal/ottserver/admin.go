/*
admin.go 运维管理面, 挂在 /v1/admin 下, 全部路由要求管理员会话:

GET    /v1/admin/audit/events        最近的审计事件(内存环形缓冲)
GET    /v1/admin/tokens              活跃令牌概览(令牌值脱敏)
POST   /v1/admin/tokens/sweep        手动触发一次过期令牌清扫
GET    /v1/admin/tokens/last         最近签发的令牌(仅debug/test模式注册)
GET    /v1/admin/ratelimit/write     当前写接口限流配置
POST   /v1/admin/ratelimit/write     动态调整写接口限流(redis全局键)
DELETE /v1/admin/ratelimit/write     删除动态限流配置, 回落到启动参数
DELETE /v1/admin/ratelimit/counters  清空限流计数器(本地+redis)
*/
package ottserver

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/go-redis/redis/v8"

	"github.com/maxiaolu1981/cretem/nexuscore/component-base/core"
	"github.com/maxiaolu1981/cretem/nexuscore/errors"

	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/code"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/middleware"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/middleware/common"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

const (
	defaultAuditEventLimit = 50
	maxAuditEventLimit     = 500

	// 写限流的动态配置键, 与write_limiter读取的键保持一致
	writeLimitKey     = "ratelimit:write:global_limit"
	writeLimitMetaKey = "ratelimit:write:global_limit:meta"
)

func (s *apiServer) installAdminRoutes(engine *gin.Engine, strategy middleware.AuthStrategy) {
	adminv1 := engine.Group("/v1/admin")
	adminv1.Use(strategy.AuthFunc(), middleware.Validation())
	{
		adminv1.GET("/audit/events", s.listAuditEvents)
		adminv1.GET("/tokens", s.listActiveTokens)
		adminv1.POST("/tokens/sweep", s.sweepExpiredTokens)
		adminv1.GET("/ratelimit/write", s.getWriteRateLimit)
		adminv1.POST("/ratelimit/write", s.setWriteRateLimit)
		adminv1.DELETE("/ratelimit/write", s.deleteWriteRateLimit)
		adminv1.DELETE("/ratelimit/counters", s.cleanupRateLimitCounters)

		// 完整令牌值只在非release模式下可取, 联调专用
		if s.opts.GenericServerRunOptions.Mode != gin.ReleaseMode {
			adminv1.GET("/tokens/last", s.lastGeneratedToken)
		}
	}
}

func (s *apiServer) listAuditEvents(c *gin.Context) {
	var req struct {
		Limit int `form:"limit" binding:"omitempty,min=1,max=500"`
	}
	if err := c.ShouldBindQuery(&req); err != nil {
		core.WriteResponse(c, errors.WithCode(code.ErrValidation, "limit参数无效: %v", err), nil)
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultAuditEventLimit
	}
	if limit > maxAuditEventLimit {
		limit = maxAuditEventLimit
	}

	if s.auditMgr == nil || !s.auditMgr.Enabled() {
		core.WriteResponse(c, nil, gin.H{"events": []any{}, "enabled": false})
		return
	}

	events := s.auditMgr.Recent(limit)
	if events == nil {
		core.WriteResponse(c, nil, gin.H{"events": []any{}, "enabled": true})
		return
	}
	core.WriteResponse(c, nil, gin.H{"events": events, "enabled": true})
}

// listActiveTokens 返回未过期令牌的概览。令牌值是登录凭证, 即便
// 对管理员也只给前缀, 足够和审计日志对账。
func (s *apiServer) listActiveTokens(c *gin.Context) {
	var req struct {
		Username string `form:"username" binding:"omitempty,username"`
	}
	if err := c.ShouldBindQuery(&req); err != nil {
		core.WriteResponse(c, errors.WithCode(code.ErrValidation, "username参数无效: %v", err), nil)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	tokens, err := s.storeIns.Tokens().ListActive(ctx, time.Now())
	if err != nil {
		core.WriteResponse(c, err, nil)
		return
	}

	items := make([]gin.H, 0, len(tokens))
	for _, t := range tokens {
		if req.Username != "" && t.Username != req.Username {
			continue
		}
		items = append(items, gin.H{
			"tokenPrefix": maskTokenValue(t.TokenValue),
			"username":    t.Username,
			"expiresAt":   t.ExpiresAt,
			"createdAt":   t.CreatedAt,
			"clientIP":    t.ClientIP,
		})
	}

	core.WriteResponse(c, nil, gin.H{"total": len(items), "tokens": items})
}

func (s *apiServer) sweepExpiredTokens(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	removed, err := s.srv.Tokens().SweepExpired(ctx)
	if err != nil {
		core.WriteResponse(c, err, nil)
		return
	}

	log.L(c).Infof("手动清扫过期令牌完成: removed=%d", removed)
	core.WriteResponse(c, nil, gin.H{"removed": removed})
}

func (s *apiServer) lastGeneratedToken(c *gin.Context) {
	if s.tokenCapture == nil {
		core.WriteResponse(c, errors.WithCode(code.ErrPageNotFound, "令牌捕获未启用"), nil)
		return
	}

	last := s.tokenCapture.LastToken()
	if last == nil {
		core.WriteResponse(c, nil, gin.H{"token": nil})
		return
	}
	core.WriteResponse(c, nil, gin.H{"token": last})
}

func (s *apiServer) getWriteRateLimit(c *gin.Context) {
	fallback := gin.H{
		"value":       s.opts.GenericServerRunOptions.WriteRateLimit,
		"ttl_seconds": 0,
		"source":      "default",
	}
	if s.redis == nil || s.redis.Up() != nil {
		fallback["source"] = "no_redis"
		core.WriteResponse(c, nil, fallback)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	client := s.redis.GetClient()
	val, err := client.Get(ctx, s.redis.KeyPrefix+writeLimitKey).Result()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			core.WriteResponse(c, nil, fallback)
			return
		}
		core.WriteResponse(c, errors.WithCode(code.ErrDatabase, "读取限流配置失败: %v", err), nil)
		return
	}

	ttl, _ := client.TTL(ctx, s.redis.KeyPrefix+writeLimitKey).Result()
	source := "unknown"
	if metaVal, err := client.Get(ctx, s.redis.KeyPrefix+writeLimitMetaKey).Result(); err == nil {
		source = metaVal
	}
	core.WriteResponse(c, nil, gin.H{"value": val, "ttl_seconds": int(ttl.Seconds()), "source": source})
}

func (s *apiServer) setWriteRateLimit(c *gin.Context) {
	var req struct {
		Value int `json:"value" binding:"required,min=1"`
		TTL   int `json:"ttl_seconds" binding:"omitempty,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		core.WriteResponse(c, errors.WithCode(code.ErrValidation, "限流参数无效: %v", err), nil)
		return
	}

	if s.redis == nil || s.redis.Up() != nil {
		core.WriteResponse(c, errors.WithCode(code.ErrDatabase, "redis不可用, 动态限流配置未生效"), nil)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	ttl := time.Duration(req.TTL) * time.Second
	client := s.redis.GetClient()
	if err := client.Set(ctx, s.redis.KeyPrefix+writeLimitKey, req.Value, ttl).Err(); err != nil {
		core.WriteResponse(c, errors.WithCode(code.ErrDatabase, "写入限流配置失败: %v", err), nil)
		return
	}
	// meta记录操作者, 与主键同生命周期
	_ = client.Set(ctx, s.redis.KeyPrefix+writeLimitMetaKey, common.GetUsername(c.Request.Context()), ttl).Err()

	log.L(c).Infof("动态写限流已更新: value=%d ttl=%ds", req.Value, req.TTL)
	core.WriteResponse(c, nil, gin.H{"result": "ok", "value": req.Value})
}

func (s *apiServer) deleteWriteRateLimit(c *gin.Context) {
	if s.redis == nil || s.redis.Up() != nil {
		core.WriteResponse(c, nil, gin.H{"result": "no_redis"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	client := s.redis.GetClient()
	if err := client.Del(ctx, s.redis.KeyPrefix+writeLimitKey).Err(); err != nil {
		core.WriteResponse(c, errors.WithCode(code.ErrDatabase, "删除限流配置失败: %v", err), nil)
		return
	}
	_ = client.Del(ctx, s.redis.KeyPrefix+writeLimitMetaKey).Err()

	core.WriteResponse(c, nil, gin.H{"result": "deleted"})
}

func (s *apiServer) cleanupRateLimitCounters(c *gin.Context) {
	if err := common.CleanupRateLimit(s.redis); err != nil {
		core.WriteResponse(c, err, nil)
		return
	}
	core.WriteResponse(c, nil, gin.H{"result": "ok"})
}

// maskTokenValue 保留足够比对审计日志的前缀。
func maskTokenValue(value string) string {
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:8] + "..."
}
