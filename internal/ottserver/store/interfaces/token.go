package interfaces

import (
	"context"
	"time"

	v1 "github.com/maxiaolu1981/cretem/ottserver/api/v1"
)

// TokenStore 定义一次性令牌的存取接口。
//
// Consume 是"取出并删除"的原子操作：同一令牌值被并发兑换时,
// 必须恰好有一个调用拿到令牌, 其余调用得到 ErrTokenNotFound。
// 已过期的令牌在兑换时同样被删除, 并返回 ErrTokenExpiredOTT。
type TokenStore interface {
	Create(ctx context.Context, token *v1.OneTimeToken) error

	Consume(ctx context.Context, tokenValue string, now time.Time) (*v1.OneTimeToken, error)

	// ListActive 返回 now 时刻尚未过期的全部令牌, 供启动时预热负缓存。
	ListActive(ctx context.Context, now time.Time) ([]*v1.OneTimeToken, error)

	// DeleteExpired 批量删除已过期令牌, 返回删除条数。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	Count(ctx context.Context) (int64, error)
}
