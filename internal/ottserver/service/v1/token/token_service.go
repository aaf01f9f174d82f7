/*
token 包实现一次性登录令牌的业务逻辑。

签发(Generate): 为用户名生成UUIDv4令牌并写入存储。签发阶段故意不校验
用户是否存在——否则接口的成功/失败就成了探测有效用户名的工具, 存在性
校验统一推迟到兑换阶段。

兑换(Consume): 原子地取出并删除令牌(单次使用由存储层保证), 然后依次
校验过期、用户存在、用户未禁用。任何一步失败都不建立会话。

负缓存: 进程内布隆过滤器记录本实例签发过的令牌值。memory后端时, 过滤器
判定"从未签发"的令牌直接拒绝, 枚举攻击不会穿透到存储; redis/mysql后端
可能多实例部署, 其他实例签发的令牌不在本地过滤器里, 此时过滤器结果只
记指标不做拒绝。
*/
package token

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	v1 "github.com/maxiaolu1981/cretem/nexuscore/api/apiserver/v1"
	metav1 "github.com/maxiaolu1981/cretem/nexuscore/component-base/meta/v1"
	"github.com/maxiaolu1981/cretem/nexuscore/errors"

	tokenv1 "github.com/maxiaolu1981/cretem/ottserver/api/v1"
	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/options"
	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/store/interfaces"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/code"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/metrics"
	genericoptions "github.com/maxiaolu1981/cretem/ottserver/internal/pkg/options"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

// TokenSrv 一次性令牌的业务接口。
type TokenSrv interface {
	// Generate 为 username 签发一条令牌。不校验用户是否存在。
	Generate(ctx context.Context, username, clientIP, userAgent string) (*tokenv1.OneTimeToken, error)
	// Consume 兑换令牌并返回对应的用户。令牌无论兑换成败都会被销毁。
	Consume(ctx context.Context, tokenValue string) (*v1.User, *tokenv1.OneTimeToken, error)
	// WarmFilter 用存储中未过期的令牌预热布隆过滤器, 启动时调用。
	WarmFilter(ctx context.Context) error
	// SweepExpired 清理过期令牌, 返回清理条数。
	SweepExpired(ctx context.Context) (int64, error)
}

type TokenService struct {
	Store    interfaces.Factory
	Options  *options.Options
	Filter   *bloom.BloomFilter
	FilterMu *sync.RWMutex
}

var _ TokenSrv = (*TokenService)(nil)

func (t *TokenService) Generate(ctx context.Context, username, clientIP, userAgent string) (*tokenv1.OneTimeToken, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.WithCode(code.ErrInvalidParameter, "用户名不能为空")
	}

	tok := tokenv1.NewOneTimeToken(username, t.Options.TokenOptions.DefaultTTL)
	tok.ClientIP = clientIP
	tok.UserAgent = userAgent

	if err := t.Store.Tokens().Create(ctx, tok); err != nil {
		log.L(ctx).Errorw("令牌签发失败", "username", username, "error", err)
		metrics.TokensGenerated.WithLabelValues("error").Inc()
		return nil, errors.WrapC(err, code.ErrTokenGenerateFailed, "令牌签发失败")
	}

	t.rememberToken(tok.TokenValue)
	metrics.TokensGenerated.WithLabelValues("success").Inc()

	log.L(ctx).Infow("令牌签发成功",
		"username", username,
		"expires_at", tok.ExpiresAt.Format(time.RFC3339),
		"client_ip", clientIP)
	return tok, nil
}

func (t *TokenService) Consume(ctx context.Context, tokenValue string) (*v1.User, *tokenv1.OneTimeToken, error) {
	started := time.Now()
	tokenValue = strings.TrimSpace(tokenValue)
	if tokenValue == "" {
		metrics.TokensConsumed.WithLabelValues("not_found").Inc()
		return nil, nil, errors.WithCode(code.ErrTokenNotFound, "令牌不能为空")
	}

	seen := t.tokenSeen(tokenValue)
	if !seen {
		metrics.TokenFilterRejects.Inc()
		// 单实例内存后端: 过滤器即签发全集, 直接拒绝, 不打存储
		if t.Options.TokenOptions.Store == genericoptions.TokenStoreMemory {
			metrics.TokensConsumed.WithLabelValues("not_found").Inc()
			log.L(ctx).Debugw("令牌被负缓存拒绝", "cost_ms", time.Since(started).Milliseconds())
			return nil, nil, errors.WithCode(code.ErrTokenNotFound, "令牌不存在或已被使用")
		}
	}

	tok, err := t.Store.Tokens().Consume(ctx, tokenValue, time.Now())
	if err != nil {
		switch {
		case errors.IsCode(err, code.ErrTokenExpiredOTT):
			metrics.TokensConsumed.WithLabelValues("expired").Inc()
			log.L(ctx).Infow("令牌已过期", "cost_ms", time.Since(started).Milliseconds())
			return nil, nil, err
		case errors.IsCode(err, code.ErrTokenNotFound):
			if seen {
				// 本实例签发过但存储里没有: 多半已被消费
				metrics.TokensConsumed.WithLabelValues("used").Inc()
				return nil, nil, errors.WithCode(code.ErrTokenConsumed, "令牌已被使用")
			}
			metrics.TokensConsumed.WithLabelValues("not_found").Inc()
			return nil, nil, err
		default:
			metrics.TokensConsumed.WithLabelValues("error").Inc()
			log.L(ctx).Errorw("令牌兑换读取失败", "error", err)
			return nil, nil, err
		}
	}

	user, err := t.Store.Users().Get(ctx, tok.Username, metav1.GetOptions{})
	if err != nil {
		if errors.IsCode(err, code.ErrUserNotFound) {
			// 签发时不校验用户, 无效用户名在这里落地为兑换失败
			metrics.TokensConsumed.WithLabelValues("unknown_user").Inc()
			log.L(ctx).Infow("令牌对应的用户不存在", "username", tok.Username)
			return nil, nil, err
		}
		metrics.TokensConsumed.WithLabelValues("error").Inc()
		return nil, nil, err
	}

	if user.Status != 1 {
		metrics.TokensConsumed.WithLabelValues("disabled").Inc()
		log.L(ctx).Warnw("禁用用户尝试令牌登录", "username", user.Name)
		return nil, nil, errors.WithCode(code.ErrUserDisabled, "用户[%s]已被禁用", user.Name)
	}

	t.touchLoginTime(ctx, user)

	metrics.TokensConsumed.WithLabelValues("success").Inc()
	metrics.TokenConsumeLatency.Observe(time.Since(started).Seconds())
	log.L(ctx).Infow("令牌兑换成功",
		"username", user.Name,
		"cost_ms", time.Since(started).Milliseconds())
	return user, tok, nil
}

func (t *TokenService) WarmFilter(ctx context.Context) error {
	active, err := t.Store.Tokens().ListActive(ctx, time.Now())
	if err != nil {
		return errors.Wrap(err, "预热令牌负缓存失败")
	}

	t.FilterMu.Lock()
	for _, tok := range active {
		t.Filter.AddString(tok.TokenValue)
	}
	t.FilterMu.Unlock()

	log.Infof("✅ 令牌负缓存预热完成, 载入%d条未过期令牌", len(active))
	return nil
}

func (t *TokenService) SweepExpired(ctx context.Context) (int64, error) {
	removed, err := t.Store.Tokens().DeleteExpired(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		metrics.TokensSwept.Add(float64(removed))
		log.Debugf("过期令牌清理完成, 删除%d条", removed)
	}

	if count, err := t.Store.Tokens().Count(ctx); err == nil {
		metrics.ActiveTokens.Set(float64(count))
	}
	return removed, nil
}

func (t *TokenService) rememberToken(value string) {
	t.FilterMu.Lock()
	t.Filter.AddString(value)
	t.FilterMu.Unlock()
}

func (t *TokenService) tokenSeen(value string) bool {
	t.FilterMu.RLock()
	defer t.FilterMu.RUnlock()
	return t.Filter.TestString(value)
}

// touchLoginTime 尽力而为地记录最后登录时间, 失败只记日志。
func (t *TokenService) touchLoginTime(ctx context.Context, user *v1.User) {
	user.LoginedAt = time.Now()
	if err := t.Store.Users().Update(ctx, user, metav1.UpdateOptions{}); err != nil {
		log.L(ctx).Debugw("更新最后登录时间失败", "username", user.Name, "error", err)
	}
}
