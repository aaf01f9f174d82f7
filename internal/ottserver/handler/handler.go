/*
handler 包定义一次性令牌流程的三类回调扩展点：

TokenGenerated: 签发完成后拿到完整令牌。默认实现302跳转到兑换页；
邮件/短信等投递渠道在这里挂接。Capturing 是生产可用的装饰器，
把最近一次签发的令牌存进单槽信箱再转交代理，冒烟工具和测试靠它
拿到令牌值完成闭环。

LoginSuccess / LoginFailure: 兑换成功(会话已建立)或失败后的收尾，
默认各自302跳转。
*/
package handler

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	v1 "github.com/maxiaolu1981/cretem/nexuscore/api/apiserver/v1"
	tokenv1 "github.com/maxiaolu1981/cretem/ottserver/api/v1"
)

// TokenGenerated 在令牌签发成功后被调用一次，负责生成HTTP响应。
type TokenGenerated interface {
	Handle(c *gin.Context, token *tokenv1.OneTimeToken)
}

// LoginSuccess 在令牌兑换成功、会话建立之后被调用，负责生成HTTP响应。
// 调用时会话凭证已写入响应，实现方可以读取已认证的用户。
type LoginSuccess interface {
	Handle(c *gin.Context, user *v1.User)
}

// LoginFailure 在令牌兑换失败(不存在/已用/过期/用户不可用)后被调用。
type LoginFailure interface {
	Handle(c *gin.Context, err error)
}

// Redirect 签发完成后302到固定目标，默认目标是令牌提交页。
type Redirect struct {
	URL string
}

func NewRedirect(url string) *Redirect {
	return &Redirect{URL: url}
}

func (h *Redirect) Handle(c *gin.Context, _ *tokenv1.OneTimeToken) {
	c.Redirect(http.StatusFound, h.URL)
}

// SuccessRedirect 兑换成功后302到固定目标，默认是站点首页。
type SuccessRedirect struct {
	URL string
}

func NewSuccessRedirect(url string) *SuccessRedirect {
	return &SuccessRedirect{URL: url}
}

func (h *SuccessRedirect) Handle(c *gin.Context, _ *v1.User) {
	c.Redirect(http.StatusFound, h.URL)
}

// FailureRedirect 兑换失败后302到固定目标，默认是带错误标记的登录页。
type FailureRedirect struct {
	URL string
}

func NewFailureRedirect(url string) *FailureRedirect {
	return &FailureRedirect{URL: url}
}

func (h *FailureRedirect) Handle(c *gin.Context, _ error) {
	c.Redirect(http.StatusFound, h.URL)
}

// Capturing 把最近一次签发的令牌存进单槽信箱，再转交给代理处理器。
// 槽位每次签发都被覆盖，只保留最新一条。
type Capturing struct {
	mu       sync.Mutex
	last     *tokenv1.OneTimeToken
	delegate TokenGenerated
}

func NewCapturing(delegate TokenGenerated) *Capturing {
	return &Capturing{delegate: delegate}
}

func (h *Capturing) Handle(c *gin.Context, token *tokenv1.OneTimeToken) {
	h.mu.Lock()
	h.last = token
	h.mu.Unlock()

	if h.delegate != nil {
		h.delegate.Handle(c, token)
	}
}

// LastToken 返回最近一次签发的令牌，未签发过时返回nil。
func (h *Capturing) LastToken() *tokenv1.OneTimeToken {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}
