package memory

import (
	"context"
	"sync"
	"time"

	"github.com/maxiaolu1981/cretem/nexuscore/errors"

	tokenv1 "github.com/maxiaolu1981/cretem/ottserver/api/v1"
	"github.com/maxiaolu1981/cretem/ottserver/internal/pkg/code"
	"github.com/maxiaolu1981/cretem/ottserver/pkg/log"
)

type tokenStore struct {
	mu        sync.Mutex
	tokens    map[string]*tokenv1.OneTimeToken
	maxTokens int
}

func newTokenStore(maxTokens int) *tokenStore {
	if maxTokens <= 0 {
		maxTokens = 100
	}
	return &tokenStore{
		tokens:    make(map[string]*tokenv1.OneTimeToken),
		maxTokens: maxTokens,
	}
}

func (t *tokenStore) Create(ctx context.Context, token *tokenv1.OneTimeToken) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	// 驻留超限时先清一轮过期令牌, 防止未消费令牌无限堆积
	if len(t.tokens) >= t.maxTokens {
		removed := t.sweepLocked(time.Now())
		log.Debugf("令牌驻留超限(%d), 清理过期令牌%d条", t.maxTokens, removed)
	}

	if _, ok := t.tokens[token.TokenValue]; ok {
		return errors.WithCode(code.ErrResourceConflict, "令牌值冲突")
	}

	cp := *token
	t.tokens[cp.TokenValue] = &cp
	return nil
}

func (t *tokenStore) Consume(ctx context.Context, tokenValue string, now time.Time) (*tokenv1.OneTimeToken, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tok, ok := t.tokens[tokenValue]
	if !ok {
		return nil, errors.WithCode(code.ErrTokenNotFound, "令牌不存在或已被使用")
	}

	// 无论是否过期都先删除, 同一令牌不会被第二次消费
	delete(t.tokens, tokenValue)

	if tok.Expired(now) {
		return nil, errors.WithCode(code.ErrTokenExpiredOTT, "令牌已过期")
	}
	return tok, nil
}

func (t *tokenStore) ListActive(ctx context.Context, now time.Time) ([]*tokenv1.OneTimeToken, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	active := make([]*tokenv1.OneTimeToken, 0, len(t.tokens))
	for _, tok := range t.tokens {
		if tok.Expired(now) {
			continue
		}
		cp := *tok
		active = append(active, &cp)
	}
	return active, nil
}

func (t *tokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.sweepLocked(now), nil
}

func (t *tokenStore) Count(ctx context.Context) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return int64(len(t.tokens)), nil
}

// sweepLocked 删除所有已过期令牌, 调用方必须持有锁。
func (t *tokenStore) sweepLocked(now time.Time) int64 {
	var removed int64
	for value, tok := range t.tokens {
		if tok.Expired(now) {
			delete(t.tokens, value)
			removed++
		}
	}
	return removed
}
