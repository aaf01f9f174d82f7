/*
v1 包定义了一次性令牌（OneTimeToken）的数据模型。该模型既作为 RESTful API
的数据交换格式，也作为 GORM 的数据库映射模型。

一次性令牌是免密登录的核心凭证：/ott/generate 为指定用户名签发一条令牌，
用户通过 /login/ott 提交令牌值完成登录。令牌只能被消费一次，消费即删除；
过期令牌在尝试消费时同样被清除。

令牌值使用 UUIDv4，不包含用户信息，拿到令牌值本身推不出用户名。
*/
package v1

import (
	"time"

	"github.com/google/uuid"
)

// OneTimeToken 表示一条未消费的一次性登录令牌。
type OneTimeToken struct {
	ID uint64 `json:"id,omitempty" gorm:"primaryKey;autoIncrement;column:id"`

	// TokenValue 令牌值（UUIDv4），消费时的唯一查找键。
	TokenValue string `json:"tokenValue" gorm:"column:token_value;type:varchar(64);uniqueIndex:idx_token_value" validate:"required"`

	// Username 令牌签发给的用户名。签发时不校验用户是否存在，
	// 校验推迟到消费阶段，避免泄露哪些用户名是有效的。
	Username string `json:"username" gorm:"column:username;type:varchar(253);index:idx_username" validate:"required,min=1,max=253"`

	// ExpiresAt 过期时间点，按完整时间戳比较。
	ExpiresAt time.Time `json:"expiresAt" gorm:"column:expires_at;index:idx_expires_at"`

	CreatedAt time.Time `json:"createdAt,omitempty" gorm:"column:created_at"`

	// 审计字段：签发请求的来源，消费时不参与校验。
	ClientIP  string `json:"clientIP,omitempty" gorm:"column:client_ip;type:varchar(64)"`
	UserAgent string `json:"userAgent,omitempty" gorm:"column:user_agent;type:varchar(255)"`
}

// TableName 指定当前模型映射到 MySQL 数据库的表名。
func (t *OneTimeToken) TableName() string {
	return "one_time_token"
}

// Expired 判断令牌在 now 时刻是否已过期。
// 注意必须比较完整时间戳：只比分钟数的话，10:05 签发、11:03 消费
// 会被误判为未过期（63分钟 > TTL 却通过），跨小时立刻出错。
func (t *OneTimeToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// NewOneTimeToken 以当前时间为基准为 username 签发一条 ttl 后过期的令牌。
func NewOneTimeToken(username string, ttl time.Duration) *OneTimeToken {
	now := time.Now()

	return &OneTimeToken{
		TokenValue: uuid.NewString(),
		Username:   username,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
}

// GenerateTokenRequest 是 /ott/generate 的表单请求体。
type GenerateTokenRequest struct {
	Username string `form:"username" json:"username" validate:"required,min=1,max=253"`
}

// LoginTokenRequest 是 /login/ott 的表单请求体。
type LoginTokenRequest struct {
	Token string `form:"token" json:"token" validate:"required"`
}
