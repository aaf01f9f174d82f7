/*
token 包实现一次性令牌登录流程的HTTP入口：

POST GenerateURL         表单字段username, 签发令牌后302到签发回调目标
POST LoginProcessingURL  表单字段token, 兑换令牌建立会话后302到成功目标
GET  LoginProcessingURL  内置令牌提交页(可关闭)

控制器只做绑定、校验、审计和回调派发，签发/兑换语义在 service 层。
*/
package token

import (
	"time"

	v1 "github.com/maxiaolu1981/cretem/nexuscore/api/apiserver/v1"
	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/handler"
	"github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/options"
	srvv1 "github.com/maxiaolu1981/cretem/ottserver/internal/ottserver/service/v1"
)

// SessionIssuer 为兑换成功的用户签发会话凭证。由认证层实现并注入，
// 控制器不关心凭证格式。
type SessionIssuer interface {
	Issue(user *v1.User) (token string, expire time.Time, err error)
}

// TokenController 处理一次性令牌签发与兑换请求。
type TokenController struct {
	srv     srvv1.ServiceManager
	options *options.Options
	session SessionIssuer

	generated handler.TokenGenerated
	success   handler.LoginSuccess
	failure   handler.LoginFailure
}

// NewTokenController 创建令牌控制器。三个回调传nil时使用按配置
// 生成的302默认实现。
func NewTokenController(srv srvv1.ServiceManager, opts *options.Options, session SessionIssuer,
	generated handler.TokenGenerated, success handler.LoginSuccess, failure handler.LoginFailure,
) *TokenController {
	tokenOpts := opts.TokenOptions
	if generated == nil {
		generated = handler.NewRedirect(tokenOpts.GeneratedRedirectURL)
	}
	if success == nil {
		success = handler.NewSuccessRedirect(tokenOpts.SuccessRedirectURL)
	}
	if failure == nil {
		failure = handler.NewFailureRedirect(tokenOpts.FailureRedirectURL)
	}

	return &TokenController{
		srv:       srv,
		options:   opts,
		session:   session,
		generated: generated,
		success:   success,
		failure:   failure,
	}
}

// requestTimeout 给没有截止时间的请求补上服务级超时。
func (t *TokenController) requestTimeout() time.Duration {
	if t.options != nil && t.options.GenericServerRunOptions != nil &&
		t.options.GenericServerRunOptions.CtxTimeout > 0 {
		return t.options.GenericServerRunOptions.CtxTimeout
	}
	return 30 * time.Second
}
